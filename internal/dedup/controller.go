package dedup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/sunbk201/uricheck/internal/status"
)

var ErrCanceled = errors.New("run canceled")

// Controller bounds the number of distinct URIs checked at once and makes
// concurrent checks of the same key share a single execution.
type Controller struct {
	sem   *semaphore.Weighted
	group singleflight.Group
	limit int64

	wg       sync.WaitGroup
	mu       sync.Mutex
	canceled bool
	once     sync.Once
	done     chan struct{}

	inflight atomic.Int64
	shared   atomic.Int64
}

func New(maxConcurrency int) *Controller {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	return &Controller{
		sem:   semaphore.NewWeighted(int64(maxConcurrency)),
		limit: int64(maxConcurrency),
		done:  make(chan struct{}),
	}
}

// Admit registers one unit of work. It fails once the controller has been
// canceled. Every successful Admit must be paired with Done.
func (c *Controller) Admit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.canceled {
		return ErrCanceled
	}
	c.wg.Add(1)
	return nil
}

func (c *Controller) Done() {
	c.wg.Done()
}

// Cancel stops admitting new work. Admitted work runs to completion.
func (c *Controller) Cancel() {
	c.once.Do(func() {
		c.mu.Lock()
		c.canceled = true
		c.mu.Unlock()
		close(c.done)
		slog.Info("Cancel requested, finishing admitted checks")
	})
}

func (c *Controller) Canceled() <-chan struct{} {
	return c.done
}

func (c *Controller) IsCanceled() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Wait blocks until all admitted work is done.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Do runs fn for key unless an execution for the same key is already in
// flight, in which case it waits for and returns that execution's status.
// The execution holds one semaphore slot for its whole duration.
func (c *Controller) Do(ctx context.Context, key string, fn func(ctx context.Context) status.Status) (status.Status, bool, error) {
	v, err, shared := c.group.Do(key, func() (any, error) {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("semaphore.Acquire: %w", err)
		}
		defer c.sem.Release(1)

		c.inflight.Add(1)
		defer c.inflight.Add(-1)
		return fn(ctx), nil
	})
	if err != nil {
		return status.Status{}, false, err
	}
	if shared {
		c.shared.Add(1)
	}
	return v.(status.Status), shared, nil
}

// InFlight is the number of executions currently holding a slot.
func (c *Controller) InFlight() int64 {
	return c.inflight.Load()
}

// Shared is the number of Do calls whose result was delivered to more than
// one caller.
func (c *Controller) Shared() int64 {
	return c.shared.Load()
}

func (c *Controller) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("limit", c.limit),
		slog.Int64("inflight", c.InFlight()),
		slog.Int64("shared", c.Shared()),
		slog.Bool("canceled", c.IsCanceled()),
	)
}
