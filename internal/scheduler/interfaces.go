package scheduler

import (
	"context"
	"time"

	"github.com/ptssworkshopschedule/workshopbot/internal/conversation"
)

// SessionScheduler fires a session expiry at a given time. Scheduling a
// session that already has a pending expiry replaces it.
type SessionScheduler interface {
	// Schedule arranges for the session to be expired at at
	Schedule(ctx context.Context, key conversation.Key, at time.Time) error

	// Cancel drops the pending expiry of the session
	Cancel(ctx context.Context, key conversation.Key) error

	// Start starts the scheduler
	Start(ctx context.Context) error

	// Stop stops the scheduler and drops every pending expiry
	Stop() error
}

// ExpiryHandler is told when a session's idle deadline passes.
type ExpiryHandler interface {
	ExpireSession(ctx context.Context, key conversation.Key) error
}
