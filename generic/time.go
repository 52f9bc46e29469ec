package generic

import (
	"context"
	"sync"
	"time"
)

// =============================================================================
// CLOCK - Injectable time source (expiry and settlement depend on "now")
// =============================================================================

type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock is a manually advanced clock for tests and demo scenarios.
type FixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewFixedClock(now time.Time) *FixedClock {
	return &FixedClock{now: now.UTC()}
}

func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FixedClock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now.UTC()
}

func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// =============================================================================
// DATE UTILITIES
// =============================================================================

const DateLayout = "2006-01-02"

func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func StartOfDay(t time.Time) time.Time {
	t = t.UTC()
	return Date(t.Year(), t.Month(), t.Day())
}

func StartOfMonth(year int, month time.Month) time.Time { return Date(year, month, 1) }

func EndOfMonth(year int, month time.Month) time.Time {
	return Date(year, month+1, 1).AddDate(0, 0, -1)
}

// ParseDate accepts YYYY-MM-DD or RFC3339 and returns a UTC time.
func ParseDate(s string) (time.Time, error) {
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, Invalid("date", "expected YYYY-MM-DD or RFC3339, got %q", s)
	}
	return t.UTC(), nil
}

// =============================================================================
// OPERATION TIMEOUTS
// =============================================================================

// DefaultOpTimeout bounds every storage-touching operation.
const DefaultOpTimeout = 5 * time.Second

// WithTimeout derives a bounded context; d <= 0 uses DefaultOpTimeout.
func WithTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = DefaultOpTimeout
	}
	return context.WithTimeout(ctx, d)
}
