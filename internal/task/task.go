// Package task runs background work for sessions: fire-and-forget units
// with bounded concurrency and contained failures, plus a join-with-timeout
// call for provider requests.
package task

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

var (
	ErrGroupClosed = errors.New("task group is closed")
	ErrPanic       = errors.New("task panicked")
)

// Func is a unit of background work.
type Func func(ctx context.Context) error

// Group runs Funcs in their own goroutines. With a positive limit at most
// that many run at once; the rest wait for a slot.
type Group struct {
	name    string
	sem     *semaphore.Weighted
	wg      sync.WaitGroup
	closed  atomic.Bool
	running atomic.Int64
	failed  atomic.Int64
	logger  *zap.Logger
}

// NewGroup creates a group. limit <= 0 means unbounded.
func NewGroup(name string, limit int64, logger *zap.Logger) *Group {
	g := &Group{name: name, logger: logger}
	if limit > 0 {
		g.sem = semaphore.NewWeighted(limit)
	}
	return g
}

// Go starts fn. Errors and panics are logged and never reach the caller.
func (g *Group) Go(ctx context.Context, label string, fn Func) error {
	if g.closed.Load() {
		return ErrGroupClosed
	}
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		if g.sem != nil {
			if err := g.sem.Acquire(ctx, 1); err != nil {
				g.logger.Warn("Task dropped before start",
					zap.String("group", g.name),
					zap.String("task", label),
					zap.Error(err))
				return
			}
			defer g.sem.Release(1)
		}
		g.running.Add(1)
		defer g.running.Add(-1)

		if err := runSafely(ctx, fn); err != nil {
			g.failed.Add(1)
			g.logger.Error("Background task failed",
				zap.String("group", g.name),
				zap.String("task", label),
				zap.Error(err))
		}
	}()
	return nil
}

// Running returns the number of tasks currently executing.
func (g *Group) Running() int64 {
	return g.running.Load()
}

// Failed returns the number of tasks that returned an error or panicked.
func (g *Group) Failed() int64 {
	return g.failed.Load()
}

// Close stops accepting tasks and waits up to timeout for running ones.
// It reports whether every task finished in time.
func (g *Group) Close(timeout time.Duration) bool {
	g.closed.Store(true)
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		g.logger.Debug("Task group closed",
			zap.String("group", g.name),
			zap.Int64("failed", g.Failed()))
		return true
	case <-time.After(timeout):
		g.logger.Warn("Timed out waiting for background tasks",
			zap.String("group", g.name),
			zap.Int64("running", g.Running()),
			zap.Int64("failed", g.Failed()))
		return false
	}
}

// Call runs fn with a deadline and returns as soon as the deadline passes,
// even if fn ignores its context. A panic in fn becomes an error.
func Call[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		var r result
		r.err = runSafely(ctx, func(ctx context.Context) error {
			var err error
			r.v, err = fn(ctx)
			return err
		})
		ch <- r
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func runSafely(ctx context.Context, fn Func) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v\n%s", ErrPanic, r, debug.Stack())
		}
	}()
	return fn(ctx)
}
