package handlers

import (
	"context"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	botservice "github.com/ptssworkshopschedule/workshopbot/internal/bot/service"
	"github.com/ptssworkshopschedule/workshopbot/internal/conversation"
	"github.com/ptssworkshopschedule/workshopbot/pkg/logger"
)

// CallbackHandler feeds button presses to the conversation engine.
type CallbackHandler struct {
	service       *botservice.Service
	conversations Conversations
	logger        *logger.Logger
}

// NewCallbackHandler creates the button handler.
func NewCallbackHandler(service *botservice.Service, conversations Conversations, l *logger.Logger) *CallbackHandler {
	return &CallbackHandler{service: service, conversations: conversations, logger: l}
}

// Handle processes a callback query.
func (h *CallbackHandler) Handle(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	cb := update.CallbackQuery
	if cb == nil {
		return
	}

	chatID, ok := CallbackChatID(cb)
	if !ok {
		h.answer(ctx, cb.ID, MsgStaleSelection)
		return
	}
	// Only the member whose session the keyboard belongs to can press it.
	key := conversation.Key{ChatID: chatID, UserID: cb.From.ID}

	active, err := h.conversations.Handle(ctx, key, conversation.Choice(cb.Data))
	if !active {
		h.answer(ctx, cb.ID, MsgStaleSelection)
		return
	}
	h.answer(ctx, cb.ID, "")

	if err != nil {
		h.logger.Debug("Selection not accepted",
			logger.Int64("chat_id", chatID),
			logger.Int64("user_id", key.UserID),
			logger.String("data", cb.Data),
			logger.Error(err))
	}
}

func (h *CallbackHandler) answer(ctx context.Context, id, text string) {
	if err := h.service.AnswerCallbackQuery(ctx, id, text); err != nil {
		h.logger.Warn("Failed to answer callback query", logger.Error(err))
	}
}

// CallbackChatID returns the chat of the message a button belongs to.
func CallbackChatID(cb *models.CallbackQuery) (int64, bool) {
	switch {
	case cb.Message.Message != nil:
		return cb.Message.Message.Chat.ID, true
	case cb.Message.InaccessibleMessage != nil:
		return cb.Message.InaccessibleMessage.Chat.ID, true
	default:
		return 0, false
	}
}
