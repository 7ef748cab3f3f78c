package resource

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// DefaultMaxInFlight is the per-worker in-flight cap used when Config leaves it unset.
const DefaultMaxInFlight = 5

// Config holds resource limits.
type Config struct {
	// MaxInFlight is the maximum number of concurrently admitted units.
	// If 0, defaults to DefaultMaxInFlight.
	MaxInFlight int64

	// RequestsPerSecond paces store requests. If 0, unlimited.
	RequestsPerSecond float64

	// Burst is the token bucket size. If 0, defaults to
	// max(1, RequestsPerSecond).
	Burst int
}

// Controller manages in-flight admission and request pacing.
type Controller struct {
	cfg Config

	sem      *semaphore.Weighted
	inFlight atomic.Int64
	peak     atomic.Int64

	limiter *rate.Limiter
}

// NewController creates a new resource controller.
func NewController(cfg Config) *Controller {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = DefaultMaxInFlight
	}

	c := &Controller{
		cfg: cfg,
		sem: semaphore.NewWeighted(cfg.MaxInFlight),
	}

	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = max(1, int(cfg.RequestsPerSecond))
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return c
}

// Acquire blocks until an in-flight slot is free or ctx is done.
func (c *Controller) Acquire(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	c.track(c.inFlight.Add(1))
	return nil
}

// Release frees a slot taken by Acquire.
func (c *Controller) Release() {
	if c == nil {
		return
	}
	c.inFlight.Add(-1)
	c.sem.Release(1)
}

func (c *Controller) track(n int64) {
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			return
		}
	}
}

// InFlight returns the number of currently admitted units.
func (c *Controller) InFlight() int64 {
	if c == nil {
		return 0
	}
	return c.inFlight.Load()
}

// PeakInFlight returns the highest InFlight value observed.
func (c *Controller) PeakInFlight() int64 {
	if c == nil {
		return 0
	}
	return c.peak.Load()
}

// MaxInFlight returns the configured cap.
func (c *Controller) MaxInFlight() int64 {
	if c == nil {
		return 0
	}
	return c.cfg.MaxInFlight
}

// Wait blocks until the request limiter allows one call.
func (c *Controller) Wait(ctx context.Context) error {
	if c == nil || c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}
