package keyboard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ptssworkshopschedule/workshopbot/internal/conversation"
)

func TestChoices_Periods(t *testing.T) {
	kb := Choices(conversation.PeriodOptions())

	require.Len(t, kb.InlineKeyboard, 6)
	require.Len(t, kb.InlineKeyboard[0], 1)
	assert.Equal(t, "Period 0 (0730 - 0815)", kb.InlineKeyboard[0][0].Text)
	assert.Equal(t, "period:0", kb.InlineKeyboard[0][0].CallbackData)

	for _, row := range kb.InlineKeyboard[1:] {
		assert.Len(t, row, 2)
	}
	assert.Equal(t, "Period 10 (1630 - 1715)", kb.InlineKeyboard[5][1].Text)
}

func TestChoices_Locations(t *testing.T) {
	kb := Choices(conversation.LocationOptions())

	require.Len(t, kb.InlineKeyboard, 2)
	assert.Equal(t, "Location 1", kb.InlineKeyboard[0][0].Text)
	assert.Equal(t, "Location 2", kb.InlineKeyboard[0][1].Text)
	assert.Equal(t, "location:4", kb.InlineKeyboard[1][1].CallbackData)
}

func TestChoices_Confirm(t *testing.T) {
	kb := Choices(conversation.ConfirmOptions())

	require.Len(t, kb.InlineKeyboard, 2)
	assert.Equal(t, "YES", kb.InlineKeyboard[0][0].Text)
	assert.Equal(t, "NO", kb.InlineKeyboard[1][0].Text)
}
