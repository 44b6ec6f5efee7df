// Package lock serializes the check-then-insert step of a booking.
package lock

import (
	"context"
	"fmt"
	"time"
)

// Release gives a held lock back. Calling it more than once is a no-op.
type Release func()

// Locker grants exclusive access to a key.
// Acquire fails with errors.ErrLockUnavailable when the key cannot be
// obtained within the locker's wait budget.
type Locker interface {
	Acquire(ctx context.Context, key string) (Release, error)
}

// Noop grants every request immediately.
type Noop struct{}

// Acquire implements Locker.
func (Noop) Acquire(ctx context.Context, key string) (Release, error) {
	return func() {}, nil
}

// SlotKey is the key guarding bookings of one location on one day.
func SlotKey(location int, date time.Time) string {
	return fmt.Sprintf("booking:loc:%d:%s", location, date.Format("20060102"))
}
