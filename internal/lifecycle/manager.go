// Package lifecycle runs a set of long-lived jobs until one fails, all
// finish, or a stop signal arrives, and then runs shutdown jobs in order.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"

	"autoconsole/internal/logging"
)

type job struct {
	name string
	run  func(context.Context) error
}

type Manager struct {
	mu       sync.Mutex
	logger   *slog.Logger
	runs     []job
	shutdown []job
}

func NewManager(logger *slog.Logger) *Manager {
	return &Manager{logger: logging.OrDiscard(logger)}
}

func (m *Manager) AddRun(name string, fn func(context.Context) error) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.runs = append(m.runs, job{name: name, run: fn})
	m.mu.Unlock()
}

// AddShutdown registers fn to run, in registration order, after every run
// job has returned.
func (m *Manager) AddShutdown(name string, fn func(context.Context) error) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.shutdown = append(m.shutdown, job{name: name, run: fn})
	m.mu.Unlock()
}

// StartAndWait runs every run job concurrently. The first job error cancels
// the others. A cancelled parent or one of sig stops the run cleanly.
func (m *Manager) StartAndWait(parent context.Context, sig ...os.Signal) error {
	ctx := parent
	if len(sig) > 0 {
		var stop context.CancelFunc
		ctx, stop = signal.NotifyContext(parent, sig...)
		defer stop()
	}

	runCtx, cancelRuns := context.WithCancel(ctx)
	defer cancelRuns()

	runs, shutdown := m.snapshot()

	errCh := make(chan error, len(runs))
	var wg sync.WaitGroup
	for _, j := range runs {
		j := j
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := j.run(runCtx)
			if err != nil && !errors.Is(err, context.Canceled) {
				m.logger.Error("job failed", "job", j.name, "error", err)
				errCh <- fmt.Errorf("%s: %w", j.name, err)
				cancelRuns()
				return
			}
			m.logger.Debug("job finished", "job", j.name)
		}()
	}

	doneCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(doneCh)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		m.logger.Info("stop requested")
		cancelRuns()
	case runErr = <-errCh:
		cancelRuns()
	case <-doneCh:
	}
	<-doneCh

	var shutdownErr error
	for _, j := range shutdown {
		if err := j.run(context.Background()); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Warn("shutdown step failed", "job", j.name, "error", err)
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("%s: %w", j.name, err))
		}
	}
	return errors.Join(runErr, shutdownErr)
}

func (m *Manager) snapshot() ([]job, []job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]job(nil), m.runs...), append([]job(nil), m.shutdown...)
}
