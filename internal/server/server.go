// Package server exposes the webhook, health and metrics endpoints over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	tgbot "github.com/go-telegram/bot"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ptssworkshopschedule/workshopbot/internal/config"
	"github.com/ptssworkshopschedule/workshopbot/internal/middleware"
	"github.com/ptssworkshopschedule/workshopbot/pkg/logger"
)

const (
	httpRequestsPerMinute = 600
	webhookTimeout        = 30 * time.Second
	shutdownTimeout       = 30 * time.Second
)

// Options wires the server to the rest of the application.
type Options struct {
	// Bot is passed to Updates with every webhook update.
	Bot *tgbot.Bot
	// Updates handles webhook updates. Nil disables the /webhook route.
	Updates tgbot.HandlerFunc
	// Health backs /health. Nil serves a checker without dependencies.
	Health *HealthChecker
}

// Server is the HTTP server of the bot.
type Server struct {
	httpServer     *http.Server
	config         *config.Config
	logger         *logger.Logger
	rateLimiter    *middleware.RateLimiter
	securityLogger *SecurityLogger
	validator      *RequestValidator
	healthChecker  *HealthChecker
	telegramBot    *tgbot.Bot
	updates        tgbot.HandlerFunc
}

// New creates the server.
func New(cfg *config.Config, l *logger.Logger, opts Options) *Server {
	if l == nil {
		l = logger.NewNop()
	}
	health := opts.Health
	if health == nil {
		health = NewHealthChecker("")
	}

	s := &Server{
		config:         cfg,
		logger:         l,
		rateLimiter:    middleware.NewRateLimiter(httpRequestsPerMinute, time.Minute, l),
		securityLogger: NewSecurityLogger(l),
		validator:      NewRequestValidator(l),
		healthChecker:  health,
		telegramBot:    opts.Bot,
		updates:        opts.Updates,
	}

	s.httpServer = &http.Server{
		Addr:           ":" + cfg.Server.Port,
		Handler:        s.setupRoutes(),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) setupRoutes() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(
		gin.Recovery(),
		s.securityHeadersMiddleware(),
		s.loggingMiddleware(),
		middleware.Prometheus(),
		middleware.HTTPRateLimit(s.rateLimiter),
	)

	r.GET("/health", s.healthChecker.Handle)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if s.updates != nil {
		r.POST("/webhook", s.webhookSecretMiddleware(), s.handleWebhook)
	}

	return r
}

func (s *Server) handleWebhook(c *gin.Context) {
	start := time.Now()

	update, err := s.validator.ValidateWebhookRequest(c.Request)
	if err != nil {
		s.securityLogger.LogValidationError(c.Request, "update", err.Error())
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Bad request"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), webhookTimeout)
	defer cancel()

	s.updates(ctx, s.telegramBot, update)

	s.securityLogger.LogTelegramUpdate(update, time.Since(start))
	c.Status(http.StatusOK)
}

// Start serves until ctx is done, then shuts down.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server", logger.String("addr", s.httpServer.Addr))

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	s.securityLogger.LogSystemEvent("server_shutdown", nil)

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	s.rateLimiter.Close()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("Error during server shutdown", logger.Error(err))
		return err
	}

	s.logger.Info("HTTP server shut down successfully")
	return nil
}
