package handlers

import (
	"context"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	botservice "github.com/ptssworkshopschedule/workshopbot/internal/bot/service"
	"github.com/ptssworkshopschedule/workshopbot/pkg/logger"
)

// StartHandler answers /start and /help.
type StartHandler struct {
	service *botservice.Service
	logger  *logger.Logger
}

// NewStartHandler creates the /start handler.
func NewStartHandler(service *botservice.Service, l *logger.Logger) *StartHandler {
	return &StartHandler{service: service, logger: l}
}

// Handle greets the user.
func (h *StartHandler) Handle(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	h.reply(ctx, update, MsgGreeting)
}

// HandleHelp lists the commands.
func (h *StartHandler) HandleHelp(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	h.reply(ctx, update, MsgHelp)
}

func (h *StartHandler) reply(ctx context.Context, update *models.Update, text string) {
	if update.Message == nil {
		return
	}
	chatID := update.Message.Chat.ID
	if err := h.service.SendSimpleMessage(ctx, chatID, text); err != nil {
		h.logger.Error("Failed to send reply",
			logger.Int64("chat_id", chatID),
			logger.Error(err))
	}
}
