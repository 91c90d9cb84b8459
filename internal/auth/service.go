package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"keygate/internal/revocation"
	"keygate/internal/scheduler"
	"keygate/internal/security"
	"keygate/internal/session"
	"keygate/internal/store"
	"keygate/internal/transport"
	"keygate/pkg/contracts/domain"
)

// Validator performs a single validation attempt against the authority
type Validator interface {
	Validate(ctx context.Context, licenseKey, fingerprint, sessionID string) (*domain.ValidationResult, error)
}

// Service is the single entry point the rest of the application uses.
// All state-mutating calls funnel through the session state machine's
// serialized apply path; persistence happens on one goroutine (the event
// pump) so store writes are never concurrent.
type Service struct {
	machine     *session.Machine
	store       *store.Store
	validator   Validator
	scheduler   *scheduler.Scheduler
	listener    *revocation.Listener
	fingerprint *security.FingerprintManager
	metrics     *Metrics
	logger      *slog.Logger

	events chan session.Transition

	mu      sync.Mutex
	runCtx  context.Context
	cancel  context.CancelFunc
	started bool
	armed   string
}

// Deps carries the collaborators the facade wires together
type Deps struct {
	Machine     *session.Machine
	Store       *store.Store
	Validator   Validator
	Subscriber  revocation.Subscriber
	Fingerprint *security.FingerprintManager
	Metrics     *Metrics
	Logger      *slog.Logger

	RenewalInterval time.Duration
	Backoff         revocation.Backoff
}

// NewService creates the auth facade
func NewService(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "auth_service"))

	s := &Service{
		machine:     deps.Machine,
		store:       deps.Store,
		validator:   deps.Validator,
		fingerprint: deps.Fingerprint,
		metrics:     deps.Metrics,
		logger:      logger,
		events:      make(chan session.Transition, 16),
	}
	s.scheduler = scheduler.New(deps.RenewalInterval, s.renew, logger)
	s.listener = revocation.New(deps.Subscriber, s.machine.ApplyRevocation, deps.Backoff, logger)

	return s
}

// Start restores any persisted session and begins the event pump. A
// restored authorized session gets an immediate renewal and a live push
// subscription.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("auth service already started")
	}

	s.runCtx, s.cancel = context.WithCancel(ctx)
	s.started = true

	go s.pump(s.runCtx)

	snapshot, _, ok, err := s.store.Load()
	if err != nil {
		// Unreadable storage fails closed: start unauthenticated
		s.logger.Error("Credential store unreadable, starting unauthenticated",
			slog.String("error", err.Error()),
		)
	} else if ok {
		s.machine.Restore(snapshot)
		s.logger.Info("Session restored from credential store",
			slog.String("status", string(s.machine.Status())),
			slog.String("license_key_masked", security.MaskLicenseKey(snapshot.LicenseKey)),
		)
		if s.machine.IsAuthorized() || s.machine.Status() == session.StatusExpired {
			// The restore transition arms the components on the pump; the
			// startup trigger waits in the channel until the scheduler runs.
			// An expired snapshot still renews so revalidation can
			// reinstate it.
			s.scheduler.Trigger("startup")
		}
	}

	return nil
}

// Close stops the pump, scheduler and listener
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.started = false
	s.armed = ""
	s.scheduler.Stop()
	s.listener.Stop()
	s.cancel()
}

// Login authenticates a license key and establishes a new session.
// The validation request runs without holding any state-machine lock.
func (s *Service) Login(ctx context.Context, licenseKey string) error {
	if err := s.machine.BeginLogin(licenseKey); err != nil {
		return err
	}

	fp, err := s.fingerprint.GenerateFingerprint()
	if err != nil {
		s.machine.FailLogin()
		return fmt.Errorf("failed to generate device fingerprint: %w", err)
	}

	result, err := s.validator.Validate(ctx, licenseKey, fp.Fingerprint, "")
	if err != nil {
		s.machine.FailLogin()
		s.metrics.RecordLogin(ctx, "error")
		s.logger.Warn("Login validation request failed",
			slog.String("license_key_masked", security.MaskLicenseKey(licenseKey)),
			slog.String("error", err.Error()),
		)
		return err
	}

	if err := s.machine.CompleteLogin(licenseKey, result); err != nil {
		s.metrics.RecordLogin(ctx, "rejected")
		return err
	}

	s.metrics.RecordLogin(ctx, "accepted")
	return nil
}

// Logout clears the session and wipes persisted credentials. Always
// succeeds from the caller's point of view.
func (s *Service) Logout(ctx context.Context) {
	s.stopSessionComponents()

	s.machine.Logout()

	if err := s.store.Clear(); err != nil {
		s.logger.Error("Failed to wipe credential store on logout",
			slog.String("error", err.Error()),
		)
	}
}

// IsAuthorized reports whether the current session grants access
func (s *Service) IsAuthorized() bool {
	return s.machine.IsAuthorized()
}

// CurrentSession returns a copy of the current session, if any
func (s *Service) CurrentSession() (session.Session, bool) {
	return s.machine.Current()
}

// Events returns the state-transition notification channel for consumers
func (s *Service) Events() <-chan session.Transition {
	return s.events
}

// NetworkRegained requests an opportunistic renewal after connectivity loss
func (s *Service) NetworkRegained() {
	s.scheduler.Trigger("network_regained")
}

// ForegroundFocus requests an opportunistic renewal on app focus
func (s *Service) ForegroundFocus() {
	s.scheduler.Trigger("foreground")
}

// renew performs one coalesced validation attempt for the current session
func (s *Service) renew(ctx context.Context, reason string) error {
	sess, ok := s.machine.Current()
	if !ok || sess.Status.Terminal() ||
		(!sess.Status.Authorized() && sess.Status != session.StatusExpired) {
		return nil
	}

	fp, err := s.fingerprint.GenerateFingerprint()
	if err != nil {
		return fmt.Errorf("failed to generate device fingerprint: %w", err)
	}

	result, err := s.validator.Validate(ctx, sess.LicenseKey, fp.Fingerprint, sess.ID)
	switch {
	case err == nil:
		s.metrics.RecordValidation(ctx, validationOutcome(result))
		s.machine.ApplyValidation(result, false)
		return nil
	case errors.Is(err, transport.ErrNetworkUnavailable):
		// Only genuine unreachability is eligible for the grace path
		s.metrics.RecordValidation(ctx, "offline")
		s.machine.ApplyValidation(nil, true)
		return nil
	default:
		// Server errors and malformed answers change nothing; the session
		// keeps its current state and the next run retries.
		s.metrics.RecordValidation(ctx, "error")
		return err
	}
}

func validationOutcome(result *domain.ValidationResult) string {
	if result.Accepted {
		return "accepted"
	}
	return "rejected"
}

// armSessionComponents starts the renewal scheduler and the push
// subscription for the given session. Re-arming for a session that is
// already armed only keeps the scheduler alive; the subscription is
// not churned.
func (s *Service) armSessionComponents(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runCtx == nil || sessionID == "" {
		return
	}
	s.scheduler.Start(s.runCtx)
	if s.armed != sessionID {
		s.armed = sessionID
		s.listener.Start(s.runCtx, sessionID)
	}
}

// armScheduler starts renewals without a push subscription. Used for an
// expired session, which has no authority to subscribe but must keep
// revalidating so it can be reinstated.
func (s *Service) armScheduler() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runCtx == nil {
		return
	}
	s.scheduler.Start(s.runCtx)
}

func (s *Service) stopSessionComponents() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armed = ""
	s.scheduler.Stop()
	s.listener.Stop()
}

// pump is the single goroutine that reacts to state transitions: it
// persists snapshots, owns the session component lifecycle, and forwards
// events to the consumer channel. Arming and teardown both happen here,
// in machine event order, so a teardown for a dead session can never
// outrun and kill the components of its replacement.
func (s *Service) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case tr := <-s.machine.Events():
			s.handleTransition(ctx, tr)
		}
	}
}

func (s *Service) handleTransition(ctx context.Context, tr session.Transition) {
	s.metrics.RecordTransition(ctx, string(tr.To))

	switch {
	case tr.To == session.StatusUnauthenticated, tr.To == session.StatusAuthenticating:
		// No session exists anymore; wipe the snapshot so a restart cannot
		// resurrect a session the running process already discarded.
		s.stopSessionComponents()
		if err := s.store.Clear(); err != nil {
			s.logger.Error("Failed to wipe credential store",
				slog.String("error", err.Error()),
			)
		}

	case tr.To.Terminal():
		// Terminal states keep their persisted snapshot so a restart shows
		// the explicit cause, but the live subscription must die now.
		s.persist(tr.Session)
		s.stopSessionComponents()

	case tr.To.Authorized():
		s.persist(tr.Session)
		s.armSessionComponents(tr.Session.ID)

	default:
		// Expired sessions keep renewing so revalidation can reinstate
		// them; the push subscription waits until they are authorized again.
		s.persist(tr.Session)
		s.armScheduler()
	}

	select {
	case s.events <- tr:
	default:
		s.logger.Warn("Consumer event dropped",
			slog.String("to", string(tr.To)),
		)
	}
}

func (s *Service) persist(sess session.Session) {
	if sess.ID == "" {
		return
	}
	fp, err := s.fingerprint.GenerateFingerprint()
	if err != nil {
		s.logger.Error("Failed to fingerprint device for persistence",
			slog.String("error", err.Error()),
		)
		return
	}
	if err := s.store.Save(sess, fp.Fingerprint); err != nil {
		s.logger.Error("Failed to persist session snapshot",
			slog.String("error", err.Error()),
		)
	}
}
