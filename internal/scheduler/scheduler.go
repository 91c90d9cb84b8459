// Package scheduler drives periodic and event-triggered session renewal,
// independent of any UI lifecycle. Overlapping triggers collapse into a
// single in-flight validation; the scheduler itself never changes session
// state, it only feeds outcomes back through the renew callback.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// RenewFunc performs one validation attempt and applies its outcome.
// Implementations must be safe for concurrent invocation even though the
// scheduler coalesces; the guarantee lives here, not in the callback.
type RenewFunc func(ctx context.Context, reason string) error

// Scheduler runs renewal on a fixed interval plus external triggers
// (connectivity regained, foreground focus).
type Scheduler struct {
	interval time.Duration
	renew    RenewFunc
	logger   *slog.Logger

	group    singleflight.Group
	triggers chan string

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// New creates a renewal scheduler
func New(interval time.Duration, renew RenewFunc, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		interval: interval,
		renew:    renew,
		logger:   logger.With(slog.String("component", "renewal_scheduler")),
		triggers: make(chan string, 1),
	}
}

// Start launches the scheduler loop. Calling Start on a running scheduler
// is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.loop(runCtx, s.done)
}

// Stop cancels the loop and waits for it to exit
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel, done := s.cancel, s.done
	s.running = false
	s.mu.Unlock()

	cancel()
	<-done
}

// Trigger requests an opportunistic renewal. If a renewal is already in
// flight the trigger joins it instead of queuing another request.
func (s *Scheduler) Trigger(reason string) {
	select {
	case s.triggers <- reason:
	default:
		// A trigger is already pending; the pending run covers this one
	}
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	var wg sync.WaitGroup
	defer wg.Wait()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.run(ctx, "interval")
		case reason := <-s.triggers:
			// Dispatched off the loop so a trigger that lands while a
			// renewal is in flight joins that renewal through singleflight
			// instead of queuing a follow-up run behind it.
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.run(ctx, reason)
			}()
		}
	}
}

// run executes one coalesced renewal. Every concurrent caller shares the
// same in-flight request via singleflight.
func (s *Scheduler) run(ctx context.Context, reason string) {
	start := time.Now()
	_, err, shared := s.group.Do("renew", func() (interface{}, error) {
		return nil, s.renew(ctx, reason)
	})

	if err != nil {
		s.logger.Warn("Renewal attempt failed",
			slog.String("reason", reason),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()),
		)
		return
	}

	s.logger.Debug("Renewal attempt completed",
		slog.String("reason", reason),
		slog.Bool("coalesced", shared),
		slog.Duration("duration", time.Since(start)),
	)
}
