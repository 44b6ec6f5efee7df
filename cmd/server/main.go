package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tgbot "github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"golang.org/x/oauth2"

	"github.com/ptssworkshopschedule/workshopbot/internal/booking"
	"github.com/ptssworkshopschedule/workshopbot/internal/bot"
	"github.com/ptssworkshopschedule/workshopbot/internal/bot/service"
	"github.com/ptssworkshopschedule/workshopbot/internal/calendar"
	"github.com/ptssworkshopschedule/workshopbot/internal/calendar/google"
	calmemory "github.com/ptssworkshopschedule/workshopbot/internal/calendar/memory"
	"github.com/ptssworkshopschedule/workshopbot/internal/config"
	"github.com/ptssworkshopschedule/workshopbot/internal/conversation"
	"github.com/ptssworkshopschedule/workshopbot/internal/credentials"
	"github.com/ptssworkshopschedule/workshopbot/internal/lock"
	lockmemory "github.com/ptssworkshopschedule/workshopbot/internal/lock/memory"
	lockredis "github.com/ptssworkshopschedule/workshopbot/internal/lock/redis"
	"github.com/ptssworkshopschedule/workshopbot/internal/middleware"
	"github.com/ptssworkshopschedule/workshopbot/internal/scheduler/memory"
	"github.com/ptssworkshopschedule/workshopbot/internal/server"
	"github.com/ptssworkshopschedule/workshopbot/internal/storage/sqlite"
	"github.com/ptssworkshopschedule/workshopbot/pkg/logger"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLogger := logger.NewWithFormat(logger.ParseLevel(cfg.Log.Level), cfg.Log.Format)
	defer appLogger.Sync()

	appLogger.Info("Starting workshop booking bot",
		logger.String("version", version),
		logger.String("mode", cfg.Telegram.Mode),
		logger.String("calendar_backend", cfg.Calendar.Backend),
		logger.String("booking_lock", cfg.Booking.Lock))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, appLogger); err != nil {
		appLogger.Error("Bot stopped with error", logger.Error(err))
		os.Exit(1)
	}
	appLogger.Info("Bot stopped gracefully")
}

func run(ctx context.Context, cfg *config.Config, l *logger.Logger) error {
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			l.Error("Error closing storage", logger.Error(err))
		}
	}()
	l.Info("Storage initialized", logger.String("path", cfg.Database.Path))

	health := server.NewHealthChecker(version)
	health.AddCheck("database", store.Ping)

	// The bot is created before the dispatcher exists; updates only
	// arrive once polling or the webhook starts.
	var dispatcher *bot.Dispatcher
	telegramBot, err := tgbot.New(cfg.Telegram.Token,
		tgbot.WithDefaultHandler(func(ctx context.Context, b *tgbot.Bot, update *tgmodels.Update) {
			dispatcher.HandleUpdate(ctx, b, update)
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	botService := service.NewService(telegramBot, cfg.Telegram.AdminChatID, l)

	creds, remote, err := calendarBackend(cfg, store, botService, l)
	if err != nil {
		return err
	}

	locker, closeLocker, err := bookingLocker(ctx, cfg, health, l)
	if err != nil {
		return err
	}
	defer closeLocker()

	policy, err := booking.ParseConflictPolicy(cfg.Booking.ConflictPolicy)
	if err != nil {
		return err
	}
	resolver := booking.NewConflictResolver(remote, cfg.Calendar.ID, policy, l)
	committer := booking.NewCommitter(creds, remote, resolver, locker, booking.CommitterConfig{
		CalendarID: cfg.Calendar.ID,
		Summary:    cfg.Calendar.Summary,
	}, l)
	lister := booking.NewLister(creds, remote, cfg.Calendar.ID, l)

	expiry := memory.NewMemoryScheduler(nil, l)
	engine := conversation.NewEngine(botService, committer, lister,
		conversation.WithLogger(l),
		conversation.WithIdleTimeout(expiry, cfg.Session.IdleTimeout),
	)
	expiry.SetHandler(engine)
	health.SetSessionCounter(engine.ActiveSessions)

	if err := expiry.Start(ctx); err != nil {
		return fmt.Errorf("failed to start session scheduler: %w", err)
	}
	defer expiry.Stop()

	limiter := middleware.NewTelegramRateLimiter(cfg.Telegram.UserRateLimit, cfg.Telegram.GlobalRateLimit, l)
	defer limiter.Close()

	dispatcher = bot.NewDispatcher(botService, engine, limiter, cfg.Telegram.BotUsername, l)

	switch cfg.Telegram.Mode {
	case config.ModeWebhook:
		return runWebhook(ctx, cfg, telegramBot, dispatcher, health, l)
	default:
		return runPolling(ctx, cfg, telegramBot, health, l)
	}
}

// calendarBackend returns the credential source and calendar the booking flow uses.
func calendarBackend(cfg *config.Config, store *sqlite.SQLiteStorage, svc *service.Service, l *logger.Logger) (booking.CredentialSource, calendar.Remote, error) {
	if cfg.Calendar.Backend == config.BackendMemory {
		l.Warn("Using in-memory calendar, bookings are lost on restart")
		return credentials.NewStatic(&oauth2.Token{AccessToken: "memory"}), calmemory.New(), nil
	}

	oauthConfig, err := credentials.LoadOAuthConfig(cfg.OAuth.CredentialsFile)
	if err != nil {
		return nil, nil, err
	}

	addr := fmt.Sprintf("localhost:%d", cfg.OAuth.CallbackPort)
	authorizer := credentials.NewLoopbackAuthorizer(oauthConfig, addr, cfg.OAuth.AuthTimeout, svc.NotifyAuthURL, l)
	provider := credentials.NewProvider(oauthConfig,
		credentials.NewStorageStore(store, cfg.OAuth.TokenName),
		authorizer,
		credentials.WithLogger(l),
	)

	opts := []google.Option{google.WithTimeout(cfg.Calendar.Timeout), google.WithLogger(l)}
	if cfg.Calendar.Endpoint != "" {
		opts = append(opts, google.WithEndpoint(cfg.Calendar.Endpoint))
	}
	return provider, google.New(opts...), nil
}

// bookingLocker returns the slot locker and a func that releases its resources.
func bookingLocker(ctx context.Context, cfg *config.Config, health *server.HealthChecker, l *logger.Logger) (lock.Locker, func(), error) {
	switch cfg.Booking.Lock {
	case config.LockNone:
		l.Warn("Booking lock disabled, concurrent bookings of one slot can both succeed")
		return lock.Noop{}, func() {}, nil
	case config.LockRedis:
		client, err := lockredis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		locker := lockredis.New(client, lockredis.Options{
			TTL:  cfg.Booking.LockTTL,
			Wait: cfg.Booking.LockWait,
		}, l)
		health.AddCheck("redis", locker.Ping)
		l.Info("Using redis booking lock", logger.String("addr", cfg.Redis.Addr))
		return locker, func() {
			if err := client.Close(); err != nil {
				l.Error("Error closing redis client", logger.Error(err))
			}
		}, nil
	default:
		return lockmemory.New(cfg.Booking.LockWait), func() {}, nil
	}
}

func runPolling(ctx context.Context, cfg *config.Config, b *tgbot.Bot, health *server.HealthChecker, l *logger.Logger) error {
	if _, err := b.DeleteWebhook(ctx, &tgbot.DeleteWebhookParams{}); err != nil {
		l.Warn("Failed to delete existing webhook", logger.Error(err))
	}

	srv := server.New(cfg, l, server.Options{Health: health})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.Info("Polling for updates")
		b.Start(ctx)
	}()

	err := srv.Start(ctx)
	wg.Wait()
	return err
}

func runWebhook(ctx context.Context, cfg *config.Config, b *tgbot.Bot, dispatcher *bot.Dispatcher, health *server.HealthChecker, l *logger.Logger) error {
	setCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if _, err := b.SetWebhook(setCtx, &tgbot.SetWebhookParams{
		URL:         cfg.Telegram.WebhookURL,
		SecretToken: cfg.Telegram.SecretToken,
	}); err != nil {
		return fmt.Errorf("failed to set webhook: %w", err)
	}
	l.Info("Webhook configured", logger.String("url", cfg.Telegram.WebhookURL))

	srv := server.New(cfg, l, server.Options{
		Bot:     b,
		Updates: dispatcher.HandleUpdate,
		Health:  health,
	})
	return srv.Start(ctx)
}
