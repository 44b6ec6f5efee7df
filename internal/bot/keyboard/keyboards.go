// Package keyboard renders conversation choices as Telegram inline keyboards.
package keyboard

import (
	"github.com/go-telegram/bot/models"

	"github.com/ptssworkshopschedule/workshopbot/internal/conversation"
)

// Choices lays options out two per row. With an odd count the first option
// gets a row of its own. One or two options are stacked one per row.
func Choices(options []conversation.Option) *models.InlineKeyboardMarkup {
	var rows [][]models.InlineKeyboardButton

	if len(options) <= 2 {
		for _, o := range options {
			rows = append(rows, []models.InlineKeyboardButton{button(o)})
		}
		return &models.InlineKeyboardMarkup{InlineKeyboard: rows}
	}

	rest := options
	if len(options)%2 == 1 {
		rows = append(rows, []models.InlineKeyboardButton{button(options[0])})
		rest = options[1:]
	}
	for i := 0; i < len(rest); i += 2 {
		rows = append(rows, []models.InlineKeyboardButton{button(rest[i]), button(rest[i+1])})
	}

	return &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func button(o conversation.Option) models.InlineKeyboardButton {
	return models.InlineKeyboardButton{
		Text:         o.Label,
		CallbackData: o.Value,
	}
}
