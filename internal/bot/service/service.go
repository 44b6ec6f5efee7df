// Package service sends bot output to Telegram.
package service

import (
	"context"
	"sync"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/ptssworkshopschedule/workshopbot/internal/bot/keyboard"
	"github.com/ptssworkshopschedule/workshopbot/internal/conversation"
	"github.com/ptssworkshopschedule/workshopbot/pkg/errors"
	"github.com/ptssworkshopschedule/workshopbot/pkg/logger"
	"github.com/ptssworkshopschedule/workshopbot/pkg/metrics"
)

// MsgAuthURL prefixes the consent URL sent to the admin chat.
const MsgAuthURL = "Calendar authorization required. Open this link to grant access:\n"

// sessionMessages tracks the messages of a session that later output rewrites.
type sessionMessages struct {
	lastChoice int
	status     int
}

// Service wraps the Telegram client. It implements conversation.Prompter.
type Service struct {
	bot         *bot.Bot
	logger      *logger.Logger
	adminChatID int64

	mu       sync.Mutex
	sessions map[conversation.Key]*sessionMessages
}

// NewService creates the bot service. adminChatID may be zero.
func NewService(b *bot.Bot, adminChatID int64, l *logger.Logger) *Service {
	if l == nil {
		l = logger.NewNop()
	}
	return &Service{
		bot:         b,
		logger:      l,
		adminChatID: adminChatID,
		sessions:    make(map[conversation.Key]*sessionMessages),
	}
}

// Send sends text and forgets the session's tracked messages.
func (s *Service) Send(ctx context.Context, key conversation.Key, text string) error {
	if _, err := s.sendMessage(ctx, key.ChatID, text, nil); err != nil {
		return err
	}
	s.track(key, 0, 0)
	return nil
}

// SendChoice sends text with a keyboard of options.
func (s *Service) SendChoice(ctx context.Context, key conversation.Key, text string, options []conversation.Option) error {
	id, err := s.sendMessage(ctx, key.ChatID, text, keyboard.Choices(options))
	if err != nil {
		return err
	}
	s.track(key, id, 0)
	return nil
}

// Replace rewrites the session's last choice message, dropping its
// keyboard. The rewritten message becomes the session's status message.
func (s *Service) Replace(ctx context.Context, key conversation.Key, text string) error {
	lastChoice, _ := s.tracked(key)
	return s.rewrite(ctx, key, lastChoice, text)
}

// Status rewrites the session's status message, or the last choice message
// when there is none, or sends a new one.
func (s *Service) Status(ctx context.Context, key conversation.Key, text string) error {
	lastChoice, status := s.tracked(key)
	if status != 0 {
		return s.rewrite(ctx, key, status, text)
	}
	return s.rewrite(ctx, key, lastChoice, text)
}

// rewrite edits messageID, sending a new message when there is nothing to
// edit or the edit fails.
func (s *Service) rewrite(ctx context.Context, key conversation.Key, messageID int, text string) error {
	if messageID != 0 {
		err := s.EditMessage(ctx, key.ChatID, messageID, text)
		if err == nil {
			s.track(key, 0, messageID)
			return nil
		}
		s.logger.Warn("Failed to edit message, sending a new one",
			logger.Int64("chat_id", key.ChatID),
			logger.Int64("user_id", key.UserID),
			logger.Int("message_id", messageID),
			logger.Error(err))
	}

	id, err := s.sendMessage(ctx, key.ChatID, text, nil)
	if err != nil {
		return err
	}
	s.track(key, 0, id)
	return nil
}

func (s *Service) track(key conversation.Key, lastChoice, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lastChoice == 0 && status == 0 {
		delete(s.sessions, key)
		return
	}
	s.sessions[key] = &sessionMessages{lastChoice: lastChoice, status: status}
}

func (s *Service) tracked(key conversation.Key) (lastChoice, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.sessions[key]; ok {
		return m.lastChoice, m.status
	}
	return 0, 0
}

// SendMessage sends text with an optional reply markup.
func (s *Service) SendMessage(ctx context.Context, chatID int64, text string, replyMarkup tgmodels.ReplyMarkup) error {
	_, err := s.sendMessage(ctx, chatID, text, replyMarkup)
	return err
}

// SendSimpleMessage sends plain text without touching tracked messages.
func (s *Service) SendSimpleMessage(ctx context.Context, chatID int64, text string) error {
	return s.SendMessage(ctx, chatID, text, nil)
}

func (s *Service) sendMessage(ctx context.Context, chatID int64, text string, replyMarkup tgmodels.ReplyMarkup) (int, error) {
	params := &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	}
	if replyMarkup != nil {
		params.ReplyMarkup = replyMarkup
	}

	msg, err := s.bot.SendMessage(ctx, params)
	if err != nil {
		metrics.RecordError("telegram", "send_message")
		return 0, errors.ErrTelegramAPI.WithError(err).WithContext(map[string]interface{}{
			"chat_id": chatID,
			"method":  "sendMessage",
		})
	}
	return msg.ID, nil
}

// EditMessage replaces the text of a sent message and removes its keyboard.
func (s *Service) EditMessage(ctx context.Context, chatID int64, messageID int, text string) error {
	_, err := s.bot.EditMessageText(ctx, &bot.EditMessageTextParams{
		ChatID:    chatID,
		MessageID: messageID,
		Text:      text,
	})
	if err != nil {
		metrics.RecordError("telegram", "edit_message")
		return errors.ErrTelegramAPI.WithError(err).WithContext(map[string]interface{}{
			"chat_id":    chatID,
			"message_id": messageID,
			"method":     "editMessageText",
		})
	}
	return nil
}

// AnswerCallbackQuery acknowledges a button press, optionally with a toast.
func (s *Service) AnswerCallbackQuery(ctx context.Context, callbackQueryID, text string) error {
	params := &bot.AnswerCallbackQueryParams{
		CallbackQueryID: callbackQueryID,
		Text:            text,
	}

	if _, err := s.bot.AnswerCallbackQuery(ctx, params); err != nil {
		metrics.RecordError("telegram", "answer_callback")
		return errors.ErrTelegramAPI.WithError(err)
	}
	return nil
}

// SendError sends message and logs delivery failures.
func (s *Service) SendError(ctx context.Context, chatID int64, message string) {
	if err := s.SendSimpleMessage(ctx, chatID, message); err != nil {
		s.logger.Error("Failed to send error message",
			logger.Int64("chat_id", chatID),
			logger.Error(err))
	}
}

// NotifyAuthURL forwards a consent URL to the admin chat, if one is configured.
func (s *Service) NotifyAuthURL(ctx context.Context, url string) {
	if s.adminChatID == 0 {
		return
	}
	if err := s.SendSimpleMessage(ctx, s.adminChatID, MsgAuthURL+url); err != nil {
		s.logger.Error("Failed to send consent URL to admin chat",
			logger.Int64("chat_id", s.adminChatID),
			logger.Error(err))
	}
}
