// Package clock provides the cancellable delay that paces playback ticks.
package clock

import (
	"context"
	"time"
)

// Clock waits for a duration. Sleep returns ctx.Err() when the context is
// cancelled before the duration has elapsed.
type Clock interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// Real is a Clock backed by runtime timers.
type Real struct{}

// Sleep waits for d or until ctx is done.
func (Real) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Manual is a Clock whose sleeps only finish when Advance is called. It lets
// tests step a player one tick at a time.
type Manual struct {
	ticks chan struct{}
}

// NewManual creates a manual clock.
func NewManual() *Manual {
	return &Manual{ticks: make(chan struct{})}
}

// Sleep blocks until Advance releases it or ctx is done.
func (m *Manual) Sleep(ctx context.Context, _ time.Duration) error {
	select {
	case <-m.ticks:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Advance releases exactly one pending Sleep, blocking until a sleeper takes it.
func (m *Manual) Advance() {
	m.ticks <- struct{}{}
}

// TryAdvance releases one pending Sleep if a sleeper arrives within timeout.
func (m *Manual) TryAdvance(timeout time.Duration) bool {
	select {
	case m.ticks <- struct{}{}:
		return true
	case <-time.After(timeout):
		return false
	}
}
