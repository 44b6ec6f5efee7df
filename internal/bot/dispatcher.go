// Package bot routes Telegram updates to their handlers.
package bot

import (
	"context"
	"strings"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/ptssworkshopschedule/workshopbot/internal/bot/handlers"
	"github.com/ptssworkshopschedule/workshopbot/internal/bot/service"
	"github.com/ptssworkshopschedule/workshopbot/internal/middleware"
	"github.com/ptssworkshopschedule/workshopbot/pkg/logger"
	"github.com/ptssworkshopschedule/workshopbot/pkg/metrics"
)

// Commands understood by the bot.
const (
	CommandStart    = "start"
	CommandHelp     = "help"
	CommandBookSlot = "bookslot"
	CommandBookings = "bookings"
	CommandCancel   = "cancel"
)

// Dispatcher routes incoming updates.
type Dispatcher struct {
	startHandler    *handlers.StartHandler
	bookingHandler  *handlers.BookingHandler
	callbackHandler *handlers.CallbackHandler
	defaultHandler  *handlers.DefaultHandler

	limiter     *middleware.TelegramRateLimiter
	botUsername string
	logger      *logger.Logger
}

// NewDispatcher creates a dispatcher. limiter may be nil.
func NewDispatcher(svc *service.Service, conversations handlers.Conversations, limiter *middleware.TelegramRateLimiter, botUsername string, l *logger.Logger) *Dispatcher {
	if l == nil {
		l = logger.NewNop()
	}
	botUsername = strings.TrimPrefix(botUsername, "@")
	return &Dispatcher{
		startHandler:    handlers.NewStartHandler(svc, l),
		bookingHandler:  handlers.NewBookingHandler(svc, conversations, l),
		callbackHandler: handlers.NewCallbackHandler(svc, conversations, l),
		defaultHandler:  handlers.NewDefaultHandler(svc, conversations, botUsername, l),
		limiter:         limiter,
		botUsername:     botUsername,
		logger:          l,
	}
}

// HandleUpdate processes one update. It has the signature of a
// go-telegram default handler.
func (d *Dispatcher) HandleUpdate(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	start := time.Now()

	chatID, ok := updateChatID(update)
	if !ok {
		d.logger.Debug("Ignoring unsupported update", logger.Int64("update_id", update.ID))
		metrics.RecordUpdate("unsupported", "ignored")
		return
	}

	if d.limiter != nil && !d.limiter.AllowUser(chatID) {
		metrics.RecordUpdate("any", "rate_limited")
		return
	}

	name := d.route(ctx, b, update)

	metrics.RecordUpdate(name, "handled")
	metrics.UpdateDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	d.logger.Debug("Update handled",
		logger.Int64("update_id", update.ID),
		logger.Int64("chat_id", chatID),
		logger.String("handler", name),
		logger.Duration("duration", time.Since(start)))
}

func (d *Dispatcher) route(ctx context.Context, b *tgbot.Bot, update *models.Update) string {
	if update.CallbackQuery != nil {
		d.callbackHandler.Handle(ctx, b, update)
		return "callback"
	}

	msg := update.Message
	if msg.Text == "" {
		return "ignored"
	}

	command, isCommand, forUs := ParseCommand(msg.Text, d.botUsername)
	if !isCommand {
		d.defaultHandler.Handle(ctx, b, update)
		return "text"
	}
	if !forUs {
		return "foreign_command"
	}

	switch command {
	case CommandStart:
		d.startHandler.Handle(ctx, b, update)
	case CommandHelp:
		d.startHandler.HandleHelp(ctx, b, update)
	case CommandBookSlot:
		d.bookingHandler.HandleBookSlot(ctx, b, update)
	case CommandBookings:
		d.bookingHandler.HandleBookings(ctx, b, update)
	case CommandCancel:
		d.bookingHandler.HandleCancel(ctx, b, update)
	default:
		d.defaultHandler.HandleChatter(ctx, b, update)
		return "unknown_command"
	}
	return command
}

// ParseCommand extracts the command name from text like "/bookslot@botname args".
// forUs is false when the command is addressed to another bot.
func ParseCommand(text, botUsername string) (command string, isCommand, forUs bool) {
	if !strings.HasPrefix(text, "/") {
		return "", false, false
	}
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", false, false
	}

	name := strings.TrimPrefix(fields[0], "/")
	if name == "" {
		return "", false, false
	}

	if at := strings.IndexByte(name, '@'); at >= 0 {
		target := name[at+1:]
		name = name[:at]
		if botUsername != "" && !strings.EqualFold(target, botUsername) {
			return strings.ToLower(name), true, false
		}
	}
	return strings.ToLower(name), true, true
}

func updateChatID(update *models.Update) (int64, bool) {
	switch {
	case update.CallbackQuery != nil:
		return handlers.CallbackChatID(update.CallbackQuery)
	case update.Message != nil:
		return update.Message.Chat.ID, true
	default:
		return 0, false
	}
}
