// Package revocation maintains the push-channel subscription for the
// lifetime of an authorized session, resubscribing with capped exponential
// backoff and delivering each event at most once to the session state
// machine.
package revocation

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"keygate/pkg/contracts/domain"
)

// Subscriber opens a push-channel stream of revocation events.
// The channel closes when the underlying connection drops.
type Subscriber interface {
	Subscribe(ctx context.Context, sessionID string) (<-chan domain.RevocationEvent, error)
}

// Sink receives each revocation event exactly once per delivery
type Sink func(domain.RevocationEvent)

// Backoff configures the reconnect schedule for a single outage.
// The attempt counter resets whenever a connection is established.
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

// Listener owns one subscription per session. It is started when a session
// becomes authorized and stopped on logout or any terminal transition;
// teardown is cooperative and bounded by the subscription's own deadlines.
type Listener struct {
	subscriber Subscriber
	sink       Sink
	backoff    Backoff
	logger     *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// New creates a revocation listener
func New(subscriber Subscriber, sink Sink, backoff Backoff, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		subscriber: subscriber,
		sink:       sink,
		backoff:    backoff,
		logger:     logger.With(slog.String("component", "revocation_listener")),
	}
}

// Start begins listening for the given session. A running listener is
// stopped first so at most one subscription exists at a time.
func (l *Listener) Start(ctx context.Context, sessionID string) {
	l.Stop()

	l.mu.Lock()
	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	l.running = true
	l.mu.Unlock()

	go l.loop(runCtx, sessionID, l.done)
}

// Stop tears down the subscription and waits for the loop to exit
func (l *Listener) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	cancel, done := l.cancel, l.done
	l.running = false
	l.mu.Unlock()

	cancel()
	<-done
}

func (l *Listener) loop(ctx context.Context, sessionID string, done chan struct{}) {
	defer close(done)

	attempts := 0
	for {
		if ctx.Err() != nil {
			return
		}

		events, err := l.subscriber.Subscribe(ctx, sessionID)
		if err != nil {
			attempts++
			if l.backoff.MaxAttempts > 0 && attempts >= l.backoff.MaxAttempts {
				l.logger.Error("Push channel reconnect attempts exhausted",
					slog.Int("attempts", attempts),
				)
				return
			}

			delay := l.delay(attempts)
			l.logger.Warn("Push channel subscribe failed, backing off",
				slog.Int("attempt", attempts),
				slog.Duration("delay", delay),
				slog.String("error", err.Error()),
			)

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		attempts = 0
		l.logger.Info("Push channel subscribed")

		for ev := range events {
			l.sink(ev)
		}

		if ctx.Err() != nil {
			return
		}
		l.logger.Warn("Push channel disconnected, resubscribing")
	}
}

// delay computes exponential backoff with jitter for the given attempt
func (l *Listener) delay(attempt int) time.Duration {
	d := l.backoff.Base << uint(attempt-1)
	if d > l.backoff.Max || d <= 0 {
		d = l.backoff.Max
	}
	// Full jitter keeps reconnect storms from synchronizing
	jittered := time.Duration(rand.Int63n(int64(d))) + l.backoff.Base/2
	if jittered > l.backoff.Max {
		jittered = l.backoff.Max
	}
	return jittered
}
