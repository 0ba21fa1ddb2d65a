package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"swiftregistry/internal/swiftcode/models"
	"swiftregistry/internal/swiftcode/ports"
)

// ErrCircuitOpen is returned while the broker is considered unavailable.
var ErrCircuitOpen = errors.New("event publisher circuit open")

// BreakerPublisher stops calling the wrapped publisher after a run of
// consecutive failures. Once the cooldown ends a single trial is let
// through while other calls keep failing fast; the trial's outcome closes
// the circuit or reopens it for another cooldown.
type BreakerPublisher struct {
	next ports.EventPublisher

	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	failures  int
	open      bool
	openUntil time.Time
	trialing  bool
	now       func() time.Time
}

// BreakerOption configures a BreakerPublisher.
type BreakerOption func(*BreakerPublisher)

// WithThreshold sets how many consecutive failures open the circuit.
func WithThreshold(n int) BreakerOption {
	return func(b *BreakerPublisher) {
		if n > 0 {
			b.threshold = n
		}
	}
}

// WithCooldown sets how long the circuit stays open.
func WithCooldown(d time.Duration) BreakerOption {
	return func(b *BreakerPublisher) {
		if d > 0 {
			b.cooldown = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) BreakerOption {
	return func(b *BreakerPublisher) {
		if now != nil {
			b.now = now
		}
	}
}

// NewBreakerPublisher wraps next. Defaults: 5 failures, 30s cooldown.
func NewBreakerPublisher(next ports.EventPublisher, opts ...BreakerOption) *BreakerPublisher {
	b := &BreakerPublisher{
		next:      next,
		threshold: 5,
		cooldown:  30 * time.Second,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *BreakerPublisher) Publish(ctx context.Context, event models.ChangeEvent) error {
	ok, trial := b.allow()
	if !ok {
		return ErrCircuitOpen
	}
	err := b.next.Publish(ctx, event)
	b.record(trial, err)
	return err
}

// Open reports whether publishes are currently being short-circuited.
func (b *BreakerPublisher) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

// allow reports whether a call may reach the broker. After the cooldown the
// first caller becomes the trial.
func (b *BreakerPublisher) allow() (ok, trial bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return true, false
	}
	if b.trialing || b.now().Before(b.openUntil) {
		return false, false
	}
	b.trialing = true
	return true, true
}

func (b *BreakerPublisher) record(trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if trial {
		b.trialing = false
		if err != nil {
			b.openUntil = b.now().Add(b.cooldown)
			return
		}
		b.open = false
		b.failures = 0
		return
	}
	if b.open {
		// Admitted before the circuit opened; the trial decides.
		return
	}
	if err == nil {
		b.failures = 0
		return
	}
	b.failures++
	if b.failures >= b.threshold {
		b.open = true
		b.openUntil = b.now().Add(b.cooldown)
		b.failures = 0
	}
}
