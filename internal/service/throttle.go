package service

import (
	"context"
	"sync"
	"time"
)

// Throttle enforces a minimum spacing between mirror-side API calls so bursty
// source traffic does not trip the transport's rate limiter. Backoff pushes
// the next permitted call out further when the remote asks for it.
type Throttle struct {
	mu      sync.Mutex
	spacing time.Duration
	next    time.Time
}

func NewThrottle(spacing time.Duration) *Throttle {
	return &Throttle{spacing: spacing}
}

// Wait blocks until the next call slot opens or the context is done.
func (t *Throttle) Wait(ctx context.Context) error {
	t.mu.Lock()
	now := time.Now()
	wait := t.next.Sub(now)
	if wait < 0 {
		wait = 0
	}
	t.next = now.Add(wait + t.spacing)
	t.mu.Unlock()

	if wait == 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Backoff delays every subsequent call by at least the given hint.
func (t *Throttle) Backoff(hint time.Duration) {
	if hint <= 0 {
		return
	}
	t.mu.Lock()
	candidate := time.Now().Add(hint)
	if candidate.After(t.next) {
		t.next = candidate
	}
	t.mu.Unlock()
}
