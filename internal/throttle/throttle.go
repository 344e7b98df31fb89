// Package throttle gates outbound collaborator calls with a token bucket
// and an optional daily request budget.
package throttle

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"context"
)

// BudgetError signals a spent daily budget. It is not retryable within the
// same budget window.
type BudgetError struct {
	Name  string
	Limit int
	Reset time.Time
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf("%s: daily budget of %d requests spent, resets %s", e.Name, e.Limit, e.Reset.Format(time.RFC3339))
}

// Throttle combines a token-bucket rate limit with a daily request budget.
// A zero budget disables budget tracking. Safe for concurrent use.
type Throttle struct {
	name    string
	limiter *rate.Limiter
	budget  int
	now     func() time.Time

	mu    sync.Mutex
	used  int
	reset time.Time
}

// New builds a throttle allowing perSec sustained requests with the given
// burst, and at most budget requests per UTC day (0 means unlimited).
func New(name string, perSec float64, burst, budget int) *Throttle {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Inf
	if perSec > 0 {
		limit = rate.Limit(perSec)
	}
	return &Throttle{
		name:    name,
		limiter: rate.NewLimiter(limit, burst),
		budget:  budget,
		now:     time.Now,
	}
}

// Wait blocks until a request may proceed. It returns a *BudgetError when
// the daily budget is spent, or the context error if ctx ends first.
func (t *Throttle) Wait(ctx context.Context) error {
	if err := t.spend(); err != nil {
		return err
	}
	return t.limiter.Wait(ctx)
}

// Allow is the non-blocking variant.
func (t *Throttle) Allow() bool {
	if err := t.spend(); err != nil {
		return false
	}
	return t.limiter.Allow()
}

// Remaining reports requests left in today's budget, or -1 when unlimited.
func (t *Throttle) Remaining() int {
	if t.budget <= 0 {
		return -1
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollLocked()
	return t.budget - t.used
}

func (t *Throttle) spend() error {
	if t.budget <= 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollLocked()
	if t.used >= t.budget {
		return &BudgetError{Name: t.name, Limit: t.budget, Reset: t.reset}
	}
	t.used++
	return nil
}

// rollLocked resets the counter when the UTC day changes.
func (t *Throttle) rollLocked() {
	now := t.now().UTC()
	if now.Before(t.reset) {
		return
	}
	t.used = 0
	t.reset = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}
