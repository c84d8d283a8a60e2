// Package scheduler runs periodic background jobs such as the stale message
// sweep.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

type Job struct {
	name     string
	interval time.Duration
	tickFn   func(context.Context)
	log      *slog.Logger

	running atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(name string, interval time.Duration, tickFn func(context.Context)) (*Job, error) {
	if name == "" {
		return nil, errors.New("name must not be empty")
	}
	if interval <= 0 {
		return nil, errors.New("interval must be > 0")
	}
	if tickFn == nil {
		return nil, errors.New("tickFn must not be nil")
	}
	return &Job{
		name:     name,
		interval: interval,
		tickFn:   tickFn,
		log:      slog.Default(),
		done:     make(chan struct{}),
	}, nil
}

func (j *Job) WithLogger(l *slog.Logger) *Job {
	j.log = l
	return j
}

// Start runs the job once immediately and then every interval until Stop is
// called or parent is canceled. It reports false if the job already runs.
func (j *Job) Start(parent context.Context) bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running.Load() {
		return false
	}

	if j.cancel != nil {
		// Previous run ended through its parent context.
		j.cancel()
		<-j.done
	}

	ctx, cancel := context.WithCancel(parent)
	j.cancel = cancel
	j.done = make(chan struct{})
	j.running.Store(true)

	go func() {
		defer close(j.done)
		defer j.running.Store(false)

		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()

		j.log.Info("job started", "job", j.name, "interval", j.interval.String())

		j.safeTick(ctx)

		for {
			select {
			case <-ctx.Done():
				j.log.Info("job stopping", "job", j.name)
				return
			case <-ticker.C:
				j.safeTick(ctx)
			}
		}
	}()

	return true
}

// Stop cancels the job and waits for an in-flight tick to return.
func (j *Job) Stop() bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.cancel == nil {
		return false
	}

	j.cancel()
	j.cancel = nil
	<-j.done

	j.log.Info("job stopped", "job", j.name)
	return true
}

func (j *Job) IsRunning() bool {
	return j.running.Load()
}

func (j *Job) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			j.log.Error("job tick panic recovered", "job", j.name, "panic", r)
		}
	}()

	start := time.Now()
	j.tickFn(ctx)
	j.log.Debug("job tick completed", "job", j.name, "duration_ms", time.Since(start).Milliseconds())
}
