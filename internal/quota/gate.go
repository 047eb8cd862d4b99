// Package quota enforces the per-day message allowance for a user.
package quota

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wrenchdesk/wrenchdesk/internal/domain"
)

// ErrQuotaExceeded is returned when the daily allowance is used up. It is a
// reported condition, not a silent no-op: callers surface it to the user.
var ErrQuotaExceeded = errors.New("daily message quota exceeded")

// CounterStore persists one usage counter per user.
type CounterStore interface {
	GetUsageCounter(ctx context.Context, userID string) (domain.UsageCounter, error)
	SetUsageCounter(ctx context.Context, userID string, counter domain.UsageCounter) error
}

// Today formats a point in time as the calendar day used for counter keys.
func Today(t time.Time) string {
	return t.Format("2006-01-02")
}

// Decide is the pure quota decision. A counter from a previous day counts
// as zero. On an allowed send the returned counter carries the charge; the
// caller must persist it before treating the send as consumed.
func Decide(counter domain.UsageCounter, today string, limit int) (bool, domain.UsageCounter) {
	count := counter.Count
	if counter.Day != today {
		count = 0
	}
	if count >= limit {
		return false, domain.UsageCounter{Count: count, Day: today}
	}
	return true, domain.UsageCounter{Count: count + 1, Day: today}
}

// Gate charges sends against a persisted per-user daily counter.
type Gate struct {
	store CounterStore
	limit int

	// mu serializes read-modify-write so two concurrent sends cannot both
	// observe "allowed" when only one slot remains.
	mu sync.Mutex
}

// NewGate creates a gate backed by store, allowing limit sends per day.
func NewGate(store CounterStore, limit int) *Gate {
	return &Gate{store: store, limit: limit}
}

// Limit returns the configured daily allowance.
func (g *Gate) Limit() int {
	return g.limit
}

// TryConsume charges one send for userID on the given day. The incremented
// counter is persisted before the send is reported as allowed, so a crash
// after the store write can under-charge (the stream never opened) but
// never double-charge a retry. Returns ErrQuotaExceeded on refusal.
func (g *Gate) TryConsume(ctx context.Context, userID, today string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	counter, err := g.store.GetUsageCounter(ctx, userID)
	if err != nil {
		return fmt.Errorf("read usage counter: %w", err)
	}

	allowed, next := Decide(counter, today, g.limit)
	if !allowed {
		return ErrQuotaExceeded
	}

	if err := g.store.SetUsageCounter(ctx, userID, next); err != nil {
		return fmt.Errorf("persist usage counter: %w", err)
	}
	return nil
}

// Remaining reports how many sends userID has left on the given day.
func (g *Gate) Remaining(ctx context.Context, userID, today string) (int, error) {
	counter, err := g.store.GetUsageCounter(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("read usage counter: %w", err)
	}
	count := counter.Count
	if counter.Day != today {
		count = 0
	}
	remaining := g.limit - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Used reports how many sends userID has consumed on the given day.
func (g *Gate) Used(ctx context.Context, userID, today string) (int, error) {
	counter, err := g.store.GetUsageCounter(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("read usage counter: %w", err)
	}
	if counter.Day != today {
		return 0, nil
	}
	return counter.Count, nil
}
