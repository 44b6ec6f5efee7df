package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"unicode/utf8"

	tgmodels "github.com/go-telegram/bot/models"

	"github.com/ptssworkshopschedule/workshopbot/pkg/errors"
	"github.com/ptssworkshopschedule/workshopbot/pkg/logger"
)

// Telegram limits.
const (
	maxWebhookBody     = 4 << 20
	maxMessageText     = 4096
	maxCallbackDataLen = 64
)

// RequestValidator checks webhook requests before they reach the dispatcher.
type RequestValidator struct {
	logger *logger.Logger
}

// NewRequestValidator creates a validator.
func NewRequestValidator(l *logger.Logger) *RequestValidator {
	return &RequestValidator{logger: l}
}

// ValidateWebhookRequest decodes and checks a Telegram update.
func (v *RequestValidator) ValidateWebhookRequest(r *http.Request) (*tgmodels.Update, error) {
	if r.Method != http.MethodPost {
		return nil, errors.NewBotError("INVALID_METHOD", "webhook must use POST")
	}

	if ct := r.Header.Get("Content-Type"); !strings.Contains(ct, "application/json") {
		return nil, errors.NewBotError("INVALID_CONTENT_TYPE", "Content-Type must be application/json")
	}

	if r.ContentLength > maxWebhookBody {
		v.logger.Warn("Request too large", logger.Int64("content_length", r.ContentLength))
		return nil, errors.NewBotError("REQUEST_TOO_LARGE", "request body exceeds the limit")
	}

	var update tgmodels.Update
	body := http.MaxBytesReader(nil, r.Body, maxWebhookBody)
	if err := json.NewDecoder(body).Decode(&update); err != nil {
		v.logger.Warn("Failed to parse webhook JSON", logger.Error(err))
		return nil, errors.NewBotError("INVALID_JSON", "malformed JSON").WithError(err)
	}

	if err := v.validateUpdate(&update); err != nil {
		return nil, err
	}
	return &update, nil
}

func (v *RequestValidator) validateUpdate(update *tgmodels.Update) error {
	if update.ID <= 0 {
		return errors.NewBotError("INVALID_UPDATE_ID", "update_id must be positive")
	}

	// Other update kinds are accepted and ignored by the dispatcher.
	if update.Message != nil {
		if update.Message.Chat.ID == 0 {
			return errors.NewBotError("INVALID_CHAT", "message has no chat")
		}
		if utf8.RuneCountInString(update.Message.Text) > maxMessageText {
			return errors.NewBotError("TEXT_TOO_LONG", "message text exceeds the limit")
		}
	}

	if cb := update.CallbackQuery; cb != nil {
		if cb.ID == "" {
			return errors.NewBotError("INVALID_CALLBACK", "callback query has no id")
		}
		if len(cb.Data) > maxCallbackDataLen {
			return errors.NewBotError("INVALID_CALLBACK", "callback data exceeds the limit")
		}
	}

	return nil
}
