package session

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"keygate/pkg/contracts/domain"
)

// ErrInvalidInput indicates a caller error that must not be retried
var ErrInvalidInput = errors.New("invalid input")

// ServerRejection is an authoritative refusal from the licensing authority
type ServerRejection struct {
	Reason domain.RejectionReason
}

func (e *ServerRejection) Error() string {
	return "server rejected validation: " + string(e.Reason)
}

// Policy holds the tunable session policy constants
type Policy struct {
	// GracePeriod bounds how long a previously validated session stays
	// authorized while the authority is unreachable.
	GracePeriod time.Duration
	// ClockSkewTolerance bounds how far the local clock may sit behind the
	// last recorded server time before the grace window is forfeited.
	ClockSkewTolerance time.Duration
}

// Machine is the single source of truth for authentication state.
// All mutations are serialized; reads never block writers longer than a
// map copy. Network calls are never made while holding the lock.
type Machine struct {
	mu     sync.RWMutex
	sess   *Session
	status Status
	policy Policy
	logger *slog.Logger
	events chan Transition
	now    func() time.Time
}

// Option configures a Machine
type Option func(*Machine)

// WithClock overrides the machine's time source
func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		m.now = now
	}
}

// NewMachine creates a session state machine in the Unauthenticated state
func NewMachine(policy Policy, logger *slog.Logger, opts ...Option) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Machine{
		status: StatusUnauthenticated,
		policy: policy,
		logger: logger.With(slog.String("component", "session_machine")),
		events: make(chan Transition, 16),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Events returns the transition notification channel. Events are dropped,
// not blocked on, when the consumer falls behind.
func (m *Machine) Events() <-chan Transition {
	return m.events
}

// IsAuthorized reports whether the current session grants access.
// Pure, side-effect-free, safe from any goroutine.
func (m *Machine) IsAuthorized() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status.Authorized()
}

// Current returns a copy of the current session, if any
func (m *Machine) Current() (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.sess == nil {
		return Session{Status: m.status}, false
	}
	sess := *m.sess
	sess.Status = m.status
	return sess, true
}

// Status returns the current state
func (m *Machine) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Restore installs a persisted session snapshot on startup. A snapshot past
// its expiry restores as Expired; terminal snapshots restore as-is so the
// consumer sees the explicit cause rather than a silent logout.
func (m *Machine) Restore(snapshot Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess := snapshot
	status := snapshot.Status
	if !status.Terminal() && m.now().After(sess.ExpiresAt) {
		status = StatusExpired
	}

	m.sess = &sess
	m.transitionLocked(status, "restored")
}

// BeginLogin validates input and moves to Authenticating. The caller is
// expected to issue the validation request and feed the answer back through
// CompleteLogin.
func (m *Machine) BeginLogin(licenseKey string) error {
	if licenseKey == "" {
		return ErrInvalidInput
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// A fresh login may replace any prior session, terminal included;
	// the replacement gets a brand-new session id on completion.
	m.sess = nil
	m.transitionLocked(StatusAuthenticating, "login")
	return nil
}

// CompleteLogin applies the validation answer for a login attempt.
// On acceptance a new session is created; on rejection the machine returns
// to Unauthenticated and the authority's stated reason is reported.
func (m *Machine) CompleteLogin(licenseKey string, res *domain.ValidationResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status != StatusAuthenticating {
		return errors.New("no login in progress")
	}

	if !res.Accepted {
		m.sess = nil
		m.transitionLocked(StatusUnauthenticated, "login_rejected:"+string(res.Reason))
		return &ServerRejection{Reason: res.Reason}
	}

	now := m.now()
	id := res.SessionID
	if id == "" {
		id = uuid.New().String()
	}
	m.sess = &Session{
		ID:                id,
		LicenseKey:        licenseKey,
		IssuedAt:          now,
		ExpiresAt:         res.NewExpiry,
		LastServerContact: now,
		LastServerTime:    res.ServerTime,
	}
	m.transitionLocked(StatusActive, "login_accepted")
	return nil
}

// FailLogin reports that the login validation request could not be completed
func (m *Machine) FailLogin() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status != StatusAuthenticating {
		return
	}
	m.sess = nil
	m.transitionLocked(StatusUnauthenticated, "login_failed")
}

// ApplyValidation applies a renewal outcome to the current session.
// offline=true means the request never reached the authority; a server-side
// rejection must never take this path. Results for terminal sessions are
// dropped so a late validate can never resurrect a revoked or banned session.
func (m *Machine) ApplyValidation(res *domain.ValidationResult, offline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess == nil || m.status.Terminal() {
		return
	}
	if !m.status.Authorized() && m.status != StatusExpired {
		return
	}

	now := m.now()

	if offline {
		m.applyOfflineLocked(now)
		return
	}

	if res.Accepted {
		// A validation answer for a different session id is stale
		if res.SessionID != "" && res.SessionID != m.sess.ID {
			m.logger.Debug("Dropping validation result for stale session",
				slog.String("current_status", string(m.status)),
			)
			return
		}
		m.sess.ExpiresAt = res.NewExpiry
		m.sess.LastServerContact = now
		m.sess.LastServerTime = res.ServerTime
		m.transitionLocked(StatusActive, "validated")
		return
	}

	switch res.Reason {
	case domain.ReasonBanned:
		m.transitionLocked(StatusBanned, "rejected:"+string(res.Reason))
	case domain.ReasonAlreadyBound:
		m.transitionLocked(StatusRevoked, "rejected:"+string(res.Reason))
	default:
		m.transitionLocked(StatusExpired, "rejected:"+string(res.Reason))
	}
}

// applyOfflineLocked decides between GraceOffline and Expired for a
// connectivity failure. Held under m.mu.
func (m *Machine) applyOfflineLocked(now time.Time) {
	// Clock-skew guard: a local clock sitting behind the last recorded
	// server time forfeits the grace window, so rolling the device clock
	// back cannot extend offline tolerance.
	if !m.sess.LastServerTime.IsZero() &&
		now.Before(m.sess.LastServerTime.Add(-m.policy.ClockSkewTolerance)) {
		m.transitionLocked(StatusExpired, "clock_rollback")
		return
	}

	if now.Sub(m.sess.LastServerContact) < m.policy.GracePeriod {
		m.transitionLocked(StatusGraceOffline, "offline")
		return
	}
	m.transitionLocked(StatusExpired, "grace_exhausted")
}

// ApplyRevocation applies a push-channel revocation to the current session.
// Events for another session id, or for an already-terminal session, are
// discarded without a state change.
func (m *Machine) ApplyRevocation(ev domain.RevocationEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess == nil || m.status.Terminal() || !m.status.Authorized() {
		return
	}
	if ev.SessionID != m.sess.ID {
		m.logger.Debug("Discarding stale revocation event",
			slog.String("cause", string(ev.Cause)),
		)
		return
	}

	switch ev.Cause {
	case domain.CauseBanned:
		m.transitionLocked(StatusBanned, "revocation:"+string(ev.Cause))
	case domain.CauseKeyExpired:
		m.transitionLocked(StatusExpired, "revocation:"+string(ev.Cause))
	default:
		m.transitionLocked(StatusRevoked, "revocation:"+string(ev.Cause))
	}
}

// Logout clears the session unconditionally
func (m *Machine) Logout() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sess = nil
	m.transitionLocked(StatusUnauthenticated, "logout")
}

// transitionLocked records a state change and notifies subscribers.
// Held under m.mu.
func (m *Machine) transitionLocked(to Status, cause string) {
	from := m.status
	if from == to {
		return
	}
	m.status = to
	if m.sess != nil {
		m.sess.Status = to
	}

	tr := Transition{
		From:  from,
		To:    to,
		Cause: cause,
		At:    m.now(),
	}
	if m.sess != nil {
		tr.Session = *m.sess
	}

	m.logger.Info("Session state transition",
		slog.String("from", string(from)),
		slog.String("to", string(to)),
		slog.String("cause", cause),
	)

	select {
	case m.events <- tr:
	default:
		m.logger.Warn("Transition event dropped, consumer not keeping up",
			slog.String("to", string(to)),
		)
	}
}
