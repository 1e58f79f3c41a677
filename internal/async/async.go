// Package async runs detached best-effort tasks: the caller never waits for
// them, they outlive the request context, and their failures are logged.
package async

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const defaultTimeout = 10 * time.Second

// Runner starts detached tasks with a bounded timeout.
type Runner struct {
	logger  *slog.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewRunner(log *slog.Logger, timeout time.Duration) *Runner {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Runner{
		logger:  log.With(slog.String("service", "async")),
		timeout: timeout,
	}
}

// Go runs fn in the background. The context passed to fn keeps the values of
// ctx but not its cancellation, and expires after the runner's timeout.
func (r *Runner) Go(ctx context.Context, name string, fn func(ctx context.Context) error) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("detached task panicked", slog.String("task", name), slog.Any("panic", rec))
			}
		}()
		taskCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		if err := fn(taskCtx); err != nil {
			r.logger.Warn("detached task failed", slog.String("task", name), slog.Any("error", err))
		}
	}()
}

// Wait blocks until every started task has returned or ctx is done.
func (r *Runner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
