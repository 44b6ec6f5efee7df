package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ptssworkshopschedule/workshopbot/internal/conversation"
	"github.com/ptssworkshopschedule/workshopbot/internal/scheduler"
	"github.com/ptssworkshopschedule/workshopbot/pkg/logger"
)

type pendingTimer struct {
	timer *time.Timer
	seq   uint64
}

// MemoryScheduler keeps session expiries as in-process timers
type MemoryScheduler struct {
	timers   map[conversation.Key]pendingTimer
	seq      uint64
	mu       sync.Mutex
	handler  scheduler.ExpiryHandler
	logger   *logger.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	stopped  bool
	stopOnce sync.Once
}

// NewMemoryScheduler creates a scheduler delivering expiries to handler.
// The handler may be attached later with SetHandler.
func NewMemoryScheduler(handler scheduler.ExpiryHandler, l *logger.Logger) *MemoryScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	if l == nil {
		l = logger.NewNop()
	}

	return &MemoryScheduler{
		timers:  make(map[conversation.Key]pendingTimer),
		handler: handler,
		logger:  l,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// SetHandler sets the expiry handler
func (s *MemoryScheduler) SetHandler(handler scheduler.ExpiryHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
}

// Start starts the scheduler
func (s *MemoryScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return fmt.Errorf("scheduler is stopped")
	}
	return nil
}

// Schedule arranges an expiry for key at at
func (s *MemoryScheduler) Schedule(ctx context.Context, key conversation.Key, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return fmt.Errorf("scheduler is stopped")
	}

	if pending, exists := s.timers[key]; exists {
		pending.timer.Stop()
		delete(s.timers, key)
	}

	s.seq++
	seq := s.seq

	delay := time.Until(at)
	if delay < 0 {
		delay = 0
	}

	s.timers[key] = pendingTimer{
		timer: time.AfterFunc(delay, func() { s.fire(key, seq) }),
		seq:   seq,
	}
	return nil
}

// Cancel drops the pending expiry of key
func (s *MemoryScheduler) Cancel(ctx context.Context, key conversation.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pending, exists := s.timers[key]; exists {
		pending.timer.Stop()
		delete(s.timers, key)
	}
	return nil
}

// Stop stops every timer
func (s *MemoryScheduler) Stop() error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		s.stopped = true
		for key, pending := range s.timers {
			pending.timer.Stop()
			delete(s.timers, key)
		}
		s.cancel()
	})
	return nil
}

func (s *MemoryScheduler) fire(key conversation.Key, seq uint64) {
	s.mu.Lock()
	pending, exists := s.timers[key]
	// a timer replaced after it started firing must not act
	if s.stopped || !exists || pending.seq != seq {
		s.mu.Unlock()
		return
	}
	delete(s.timers, key)
	handler := s.handler
	s.mu.Unlock()

	if handler == nil {
		return
	}
	if err := handler.ExpireSession(s.ctx, key); err != nil {
		s.logger.Warn("Failed to expire session",
			logger.Int64("chat_id", key.ChatID),
			logger.Int64("user_id", key.UserID),
			logger.Error(err))
	}
}

// GetActiveTimersCount returns the number of pending expiries
func (s *MemoryScheduler) GetActiveTimersCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
