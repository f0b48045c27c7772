// Package poll repeatedly runs a check on an interval until it reports
// completion or a timeout passes.
package poll

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Config describes a polling run.
type Config struct {
	// Interval between polls after the first one. Required.
	Interval time.Duration

	// Timeout ends polling this long after the first poll returns.
	// Zero means poll until OnPoll reports completion.
	Timeout time.Duration

	// OnPoll runs one check and returns true to keep polling. An error is
	// logged and polling continues.
	OnPoll func(ctx context.Context) (bool, error)

	OnTimeout  func()
	OnComplete func()

	Logger *slog.Logger
}

// Poller runs Config.OnPoll until it returns false, the timeout passes,
// or the run is stopped. A Poller can be restarted with Reset.
type Poller struct {
	cfg Config

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	completed atomic.Bool
}

// New creates a Poller. Nothing runs until Start.
func New(cfg Config) *Poller {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	done := make(chan struct{})
	close(done)

	return &Poller{cfg: cfg, done: done}
}

// Start stops any previous run, waits for it to end, and polls once,
// synchronously. If that poll reports completion, OnComplete runs before
// Start returns. Otherwise polling continues every Interval in the
// background. Start and Reset must not be called from the Config
// callbacks, which run on the run being waited for.
func (p *Poller) Start(ctx context.Context) {
	p.Stop()
	<-p.Done()
	p.completed.Store(false)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	p.mu.Lock()
	p.cancel = cancel
	p.done = done
	p.mu.Unlock()

	if !p.poll(runCtx) || p.completed.Load() {
		stopped := runCtx.Err() != nil

		cancel()
		close(done)

		if !stopped {
			p.complete()
		}

		return
	}

	go p.loop(runCtx, cancel, done)
}

// Reset restarts polling from scratch.
func (p *Poller) Reset(ctx context.Context) {
	p.Start(ctx)
}

// Stop ends the current run without calling OnComplete or OnTimeout. It
// does not wait for an in-flight poll; use Done for that.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// MarkCompleted makes the current run stop at its next tick without
// polling again or calling OnComplete.
func (p *Poller) MarkCompleted() {
	p.completed.Store(true)
}

// Completed reports whether the current run finished or was marked
// completed.
func (p *Poller) Completed() bool {
	return p.completed.Load()
}

// Done returns a channel closed when the current run has ended.
func (p *Poller) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

func (p *Poller) loop(ctx context.Context, cancel context.CancelFunc, done chan struct{}) {
	defer close(done)
	defer cancel()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	var timeout <-chan time.Time

	if p.cfg.Timeout > 0 {
		timer := time.NewTimer(p.cfg.Timeout)
		defer timer.Stop()

		timeout = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-timeout:
			if ctx.Err() != nil {
				return
			}

			p.completed.Store(true)
			p.cfg.Logger.Debug("polling timed out", slog.Duration("timeout", p.cfg.Timeout))

			if p.cfg.OnTimeout != nil {
				p.cfg.OnTimeout()
			}

			return
		case <-ticker.C:
			if p.completed.Load() {
				return
			}

			if !p.poll(ctx) {
				if ctx.Err() != nil {
					return
				}

				p.complete()

				return
			}
		}
	}
}

// poll runs one check and reports whether to keep polling.
func (p *Poller) poll(ctx context.Context) bool {
	more, err := p.cfg.OnPoll(ctx)
	if err != nil {
		p.cfg.Logger.Warn("poll failed", slog.String("error", err.Error()))
		return ctx.Err() == nil
	}

	return more
}

func (p *Poller) complete() {
	p.completed.Store(true)

	if p.cfg.OnComplete != nil {
		p.cfg.OnComplete()
	}
}
