// Package redis implements a lock shared between bot instances.
package redis

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/ptssworkshopschedule/workshopbot/internal/lock"
	"github.com/ptssworkshopschedule/workshopbot/pkg/errors"
	"github.com/ptssworkshopschedule/workshopbot/pkg/logger"
	"github.com/ptssworkshopschedule/workshopbot/pkg/metrics"
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = goredis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Locker is a SET NX lock with a TTL, so a crashed holder cannot block a slot forever.
type Locker struct {
	client *goredis.Client
	prefix string
	ttl    time.Duration
	wait   time.Duration
	retry  time.Duration
	logger *logger.Logger
}

// Options configures a Locker.
type Options struct {
	Prefix string
	TTL    time.Duration
	Wait   time.Duration
	Retry  time.Duration
}

// New creates a locker on client.
func New(client *goredis.Client, opts Options, l *logger.Logger) *Locker {
	if opts.Prefix == "" {
		opts.Prefix = "workshopbot:"
	}
	if opts.TTL <= 0 {
		opts.TTL = 30 * time.Second
	}
	if opts.Wait <= 0 {
		opts.Wait = 10 * time.Second
	}
	if opts.Retry <= 0 {
		opts.Retry = 50 * time.Millisecond
	}
	if l == nil {
		l = logger.NewNop()
	}
	return &Locker{
		client: client,
		prefix: opts.Prefix,
		ttl:    opts.TTL,
		wait:   opts.Wait,
		retry:  opts.Retry,
		logger: l,
	}
}

// NewClient connects to Redis and checks the connection.
func NewClient(ctx context.Context, addr, password string, db int) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// Acquire implements lock.Locker.
func (l *Locker) Acquire(ctx context.Context, key string) (lock.Release, error) {
	fullKey := l.prefix + key
	token := uuid.NewString()

	waitCtx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	started := time.Now()
	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(waitCtx, fullKey, token, l.ttl).Result()
		if err != nil {
			return nil, errors.ErrLockUnavailable.WithError(err).WithContext(map[string]interface{}{
				"key": fullKey,
			})
		}
		if ok {
			metrics.LockWaits.WithLabelValues("redis").Observe(time.Since(started).Seconds())
			return l.releaser(fullKey, token), nil
		}

		select {
		case <-ticker.C:
		case <-waitCtx.Done():
			return nil, errors.ErrLockUnavailable.WithError(waitCtx.Err()).WithContext(map[string]interface{}{
				"key": fullKey,
			})
		}
	}
}

func (l *Locker) releaser(key, token string) lock.Release {
	var once sync.Once
	return func() {
		once.Do(func() { l.release(key, token) })
	}
}

func (l *Locker) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
		l.logger.Warn("Failed to release booking lock",
			logger.String("key", key),
			logger.Error(err))
	}
}

// Ping checks the Redis connection.
func (l *Locker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
