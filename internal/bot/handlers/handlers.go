// Package handlers reacts to Telegram updates routed by the dispatcher.
package handlers

import (
	"context"
	"strings"

	"github.com/go-telegram/bot/models"

	"github.com/ptssworkshopschedule/workshopbot/internal/conversation"
)

// Conversations is the part of the conversation engine the handlers drive.
type Conversations interface {
	StartBooking(ctx context.Context, key conversation.Key) error
	StartListing(ctx context.Context, key conversation.Key) error
	Handle(ctx context.Context, key conversation.Key, in conversation.Input) (bool, error)
}

// Replies outside a conversation.
const (
	MsgGreeting        = "Hello! How can I assist you?"
	MsgHelp            = "Commands:\n/bookslot - book a workshop slot\n/bookings - view the bookings of a day\n/cancel - stop the current booking\n/help - show this message"
	MsgHelloReply      = "Hey there!"
	MsgUnknownMessage  = "Unknown message."
	MsgNothingToCancel = "There is nothing to cancel."
	MsgStaleSelection  = "This selection is no longer active."
)

// Response is the reply to free text sent outside a conversation.
func Response(text string) string {
	if strings.Contains(strings.ToLower(text), "hello") {
		return MsgHelloReply
	}
	return MsgUnknownMessage
}

// MessageKey returns the session of the message's sender. Messages without
// a sender, such as channel posts, fall back to the chat.
func MessageKey(msg *models.Message) conversation.Key {
	if msg.From == nil {
		return conversation.PrivateKey(msg.Chat.ID)
	}
	return conversation.Key{ChatID: msg.Chat.ID, UserID: msg.From.ID}
}
