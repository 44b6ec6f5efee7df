package handlers

import (
	"context"
	"strings"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	botservice "github.com/ptssworkshopschedule/workshopbot/internal/bot/service"
	"github.com/ptssworkshopschedule/workshopbot/internal/conversation"
	"github.com/ptssworkshopschedule/workshopbot/pkg/logger"
)

// DefaultHandler handles text that is not a known command.
type DefaultHandler struct {
	service       *botservice.Service
	conversations Conversations
	mention       string
	logger        *logger.Logger
}

// NewDefaultHandler creates the text handler. botUsername is used to spot
// mentions in group chats; it may be empty.
func NewDefaultHandler(service *botservice.Service, conversations Conversations, botUsername string, l *logger.Logger) *DefaultHandler {
	mention := ""
	if botUsername != "" {
		mention = "@" + strings.TrimPrefix(botUsername, "@")
	}
	return &DefaultHandler{
		service:       service,
		conversations: conversations,
		mention:       mention,
		logger:        l,
	}
}

// Handle passes text to the sender's conversation, or replies to it when
// there is none.
func (h *DefaultHandler) Handle(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	key := MessageKey(update.Message)

	active, err := h.conversations.Handle(ctx, key, conversation.Text(update.Message.Text))
	if active {
		if err != nil {
			h.logger.Debug("Input not accepted",
				logger.Int64("chat_id", key.ChatID),
				logger.Int64("user_id", key.UserID),
				logger.Error(err))
		}
		return
	}

	h.HandleChatter(ctx, b, update)
}

// HandleChatter replies to text outside a conversation. In groups only
// messages mentioning the bot get a reply.
func (h *DefaultHandler) HandleChatter(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	msg := update.Message
	text := msg.Text

	if isGroup(msg.Chat.Type) {
		if h.mention == "" || !strings.Contains(text, h.mention) {
			return
		}
		text = strings.TrimSpace(strings.ReplaceAll(text, h.mention, ""))
	}

	if err := h.service.SendSimpleMessage(ctx, msg.Chat.ID, Response(text)); err != nil {
		h.logger.Error("Failed to send reply",
			logger.Int64("chat_id", msg.Chat.ID),
			logger.Error(err))
	}
}

func isGroup(t models.ChatType) bool {
	return t == models.ChatTypeGroup || t == models.ChatTypeSupergroup
}
