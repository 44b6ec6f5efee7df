package server

import (
	"net/http"
	"time"

	tgmodels "github.com/go-telegram/bot/models"

	"github.com/ptssworkshopschedule/workshopbot/pkg/logger"
)

// SecurityLogger logs security-relevant HTTP events.
type SecurityLogger struct {
	logger *logger.Logger
}

// NewSecurityLogger creates a security logger.
func NewSecurityLogger(l *logger.Logger) *SecurityLogger {
	return &SecurityLogger{logger: l}
}

// LogFailedAuth logs a rejected webhook call.
func (sl *SecurityLogger) LogFailedAuth(r *http.Request, reason string) {
	sl.logger.Warn("Authentication failed", sl.requestFields(r, logger.String("reason", reason))...)
}

// LogValidationError logs a malformed request.
func (sl *SecurityLogger) LogValidationError(r *http.Request, field, reason string) {
	sl.logger.Warn("Validation error", sl.requestFields(r,
		logger.String("field", field),
		logger.String("reason", reason))...)
}

// LogTelegramUpdate logs a processed update.
func (sl *SecurityLogger) LogTelegramUpdate(update *tgmodels.Update, processingTime time.Duration) {
	var chatID, userID int64
	updateType := "other"

	switch {
	case update.Message != nil:
		updateType = "message"
		chatID = update.Message.Chat.ID
		if update.Message.From != nil {
			userID = update.Message.From.ID
		}
	case update.CallbackQuery != nil:
		updateType = "callback_query"
		userID = update.CallbackQuery.From.ID
		if msg := update.CallbackQuery.Message.Message; msg != nil {
			chatID = msg.Chat.ID
		}
	}

	sl.logger.Info("Telegram update processed",
		logger.Int64("update_id", update.ID),
		logger.String("type", updateType),
		logger.Int64("chat_id", chatID),
		logger.Int64("user_id", userID),
		logger.Int64("processing_time_ms", processingTime.Milliseconds()))
}

// LogSystemEvent logs a lifecycle event of the server.
func (sl *SecurityLogger) LogSystemEvent(event string, details map[string]interface{}) {
	fields := []logger.Field{
		logger.String("event", event),
		logger.Int64("timestamp", time.Now().UTC().Unix()),
	}
	for key, value := range details {
		fields = append(fields, logger.Any(key, value))
	}
	sl.logger.Info("System event", fields...)
}

func (sl *SecurityLogger) requestFields(r *http.Request, extra ...logger.Field) []logger.Field {
	fields := []logger.Field{
		logger.String("ip", r.RemoteAddr),
		logger.String("user_agent", r.UserAgent()),
		logger.String("path", r.URL.Path),
		logger.String("method", r.Method),
	}
	return append(fields, extra...)
}
