package handlers

import (
	"context"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	botservice "github.com/ptssworkshopschedule/workshopbot/internal/bot/service"
	"github.com/ptssworkshopschedule/workshopbot/internal/conversation"
	"github.com/ptssworkshopschedule/workshopbot/pkg/logger"
)

// BookingHandler starts and cancels conversations.
type BookingHandler struct {
	service       *botservice.Service
	conversations Conversations
	logger        *logger.Logger
}

// NewBookingHandler creates the conversation command handler.
func NewBookingHandler(service *botservice.Service, conversations Conversations, l *logger.Logger) *BookingHandler {
	return &BookingHandler{service: service, conversations: conversations, logger: l}
}

// HandleBookSlot starts a booking for the sender.
func (h *BookingHandler) HandleBookSlot(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	key := MessageKey(update.Message)
	h.logger.Info("Booking started",
		logger.Int64("chat_id", key.ChatID),
		logger.Int64("user_id", key.UserID))

	if err := h.conversations.StartBooking(ctx, key); err != nil {
		h.logger.Error("Failed to start booking",
			logger.Int64("chat_id", key.ChatID),
			logger.Error(err))
	}
}

// HandleBookings starts a day listing for the sender.
func (h *BookingHandler) HandleBookings(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	key := MessageKey(update.Message)
	h.logger.Info("Listing started",
		logger.Int64("chat_id", key.ChatID),
		logger.Int64("user_id", key.UserID))

	if err := h.conversations.StartListing(ctx, key); err != nil {
		h.logger.Error("Failed to start listing",
			logger.Int64("chat_id", key.ChatID),
			logger.Error(err))
	}
}

// HandleCancel ends the sender's conversation. Other members' sessions in
// the same chat are untouched.
func (h *BookingHandler) HandleCancel(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	key := MessageKey(update.Message)

	active, err := h.conversations.Handle(ctx, key, conversation.Cancel())
	if err != nil {
		h.logger.Error("Failed to cancel conversation",
			logger.Int64("chat_id", key.ChatID),
			logger.Error(err))
		return
	}
	if !active {
		h.service.SendError(ctx, key.ChatID, MsgNothingToCancel)
	}
}
