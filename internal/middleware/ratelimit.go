// Package middleware holds rate limiting and HTTP instrumentation.
package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/ptssworkshopschedule/workshopbot/pkg/logger"
	"github.com/ptssworkshopschedule/workshopbot/pkg/metrics"
)

const (
	defaultCleanupInterval = 5 * time.Minute
	defaultIdleLimiter     = 10 * time.Minute
)

type keyedLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter keeps one token bucket per key.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*keyedLimiter
	limit    rate.Limit
	burst    int
	now      func() time.Time
	logger   *logger.Logger

	cleanupInterval time.Duration
	idle            time.Duration
	done            chan struct{}
	closeOnce       sync.Once
}

// NewRateLimiter allows requests per duration for every key, with bursts of
// up to requests. Unused keys are forgotten after ten minutes.
func NewRateLimiter(requests int, duration time.Duration, l *logger.Logger) *RateLimiter {
	if requests <= 0 {
		requests = 1
	}
	if l == nil {
		l = logger.NewNop()
	}

	rl := &RateLimiter{
		limiters:        make(map[string]*keyedLimiter),
		limit:           rate.Every(duration / time.Duration(requests)),
		burst:           requests,
		now:             time.Now,
		logger:          l,
		cleanupInterval: defaultCleanupInterval,
		idle:            defaultIdleLimiter,
		done:            make(chan struct{}),
	}

	go rl.cleanupRoutine()

	return rl
}

// Allow reports whether a request for key may proceed now.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	entry, exists := rl.limiters[key]
	if !exists {
		entry = &keyedLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limiters[key] = entry
	}
	now := rl.now()
	entry.lastAccess = now
	rl.mu.Unlock()

	return entry.limiter.AllowN(now, 1)
}

// Len returns the number of tracked keys.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

func (rl *RateLimiter) cleanupRoutine() {
	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.done:
			return
		}
	}
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.idle)
	var cleaned int
	for key, entry := range rl.limiters {
		if entry.lastAccess.Before(cutoff) {
			delete(rl.limiters, key)
			cleaned++
		}
	}

	if cleaned > 0 {
		rl.logger.Debug("Cleaned up rate limiters",
			logger.Int("cleaned_count", cleaned),
			logger.Int("remaining_count", len(rl.limiters)))
	}
}

// Close stops the cleanup routine.
func (rl *RateLimiter) Close() {
	rl.closeOnce.Do(func() { close(rl.done) })
}

// HTTPRateLimit rejects clients that exceed limiter with 429.
func HTTPRateLimit(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !limiter.Allow(ip) {
			limiter.logger.Warn("Rate limit exceeded",
				logger.String("ip", ip),
				logger.String("user_agent", c.Request.UserAgent()))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too Many Requests"})
			return
		}
		c.Next()
	}
}

// TelegramRateLimiter limits updates per chat and in total.
type TelegramRateLimiter struct {
	userLimiter   *RateLimiter
	globalLimiter *rate.Limiter
	logger        *logger.Logger
}

// NewTelegramRateLimiter allows userRequestsPerMinute updates per chat and
// globalRequestsPerSecond updates overall.
func NewTelegramRateLimiter(userRequestsPerMinute, globalRequestsPerSecond int, l *logger.Logger) *TelegramRateLimiter {
	if l == nil {
		l = logger.NewNop()
	}
	if globalRequestsPerSecond <= 0 {
		globalRequestsPerSecond = 1
	}
	return &TelegramRateLimiter{
		userLimiter:   NewRateLimiter(userRequestsPerMinute, time.Minute, l),
		globalLimiter: rate.NewLimiter(rate.Limit(globalRequestsPerSecond), globalRequestsPerSecond),
		logger:        l,
	}
}

// AllowUser reports whether an update from chatID may be processed.
func (trl *TelegramRateLimiter) AllowUser(chatID int64) bool {
	if !trl.globalLimiter.Allow() {
		trl.logger.Warn("Global rate limit exceeded", logger.Int64("chat_id", chatID))
		metrics.RateLimitedUpdates.WithLabelValues("global").Inc()
		return false
	}

	if !trl.userLimiter.Allow("chat_" + strconv.FormatInt(chatID, 10)) {
		trl.logger.Warn("User rate limit exceeded", logger.Int64("chat_id", chatID))
		metrics.RateLimitedUpdates.WithLabelValues("chat").Inc()
		return false
	}

	return true
}

// Close releases the limiter's background routine.
func (trl *TelegramRateLimiter) Close() {
	trl.userLimiter.Close()
}
