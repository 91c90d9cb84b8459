// Package api exposes the engine to its UI collaborators over a local
// HTTP control surface: login, logout, session status, a websocket feed
// of state transitions, and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"golang.org/x/time/rate"

	apierrors "keygate/internal/errors"
	"keygate/internal/infrastructure"
	"keygate/internal/security"
	"keygate/internal/session"
	"keygate/internal/transport"
)

// AuthService is the facade surface the control API consumes
type AuthService interface {
	Login(ctx context.Context, licenseKey string) error
	Logout(ctx context.Context)
	IsAuthorized() bool
	CurrentSession() (session.Session, bool)
	NetworkRegained()
	ForegroundFocus()
}

// Handler serves the local control API
type Handler struct {
	service    AuthService
	hub        *EventHub
	metricsFn  http.Handler
	loginLimit *rate.Limiter
	validate   *validator.Validate
	logger     *slog.Logger
}

// NewHandler creates the control API handler. metricsHandler may be nil
// when metrics are disabled.
func NewHandler(service AuthService, hub *EventHub, metricsHandler http.Handler, loginRPS float64, loginBurst int, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		service:    service,
		hub:        hub,
		metricsFn:  metricsHandler,
		loginLimit: rate.NewLimiter(rate.Limit(loginRPS), loginBurst),
		validate:   validator.New(),
		logger:     logger.With(slog.String("handler", "control_api")),
	}
}

// Routes returns the chi router for the control API
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Route("/api/license", func(r chi.Router) {
		r.Post("/activate", h.Activate)
		r.Post("/logout", h.Logout)
		r.Get("/status", h.Status)
		r.Post("/refresh", h.Refresh)
	})
	r.Get("/ws/events", h.Events)
	r.Get("/healthz", h.Health)
	if h.metricsFn != nil {
		r.Method(http.MethodGet, "/metrics", h.metricsFn)
	}

	return r
}

// ActivateRequest is the login request payload
type ActivateRequest struct {
	LicenseKey string `json:"license_key" validate:"required,min=8"`
}

// Bind implements the render.Binder interface
func (a *ActivateRequest) Bind(r *http.Request) error {
	return nil
}

// StatusResponse describes the current session for the UI
type StatusResponse struct {
	Authorized bool      `json:"authorized"`
	Status     string    `json:"status"`
	SessionID  string    `json:"session_id,omitempty"`
	ExpiresAt  time.Time `json:"expires_at,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Activate handles POST /api/license/activate
func (h *Handler) Activate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !h.loginLimit.Allow() {
		render.Render(w, r, apierrors.ErrRateLimited)
		return
	}

	req := &ActivateRequest{}
	if err := render.Bind(r, req); err != nil {
		render.Render(w, r, apierrors.InvalidRequestWithError(err))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		render.Render(w, r, apierrors.ErrValidation("license_key", "license key is required and must be at least 8 characters"))
		return
	}

	h.logger.InfoContext(ctx, "license activation requested",
		slog.String("request_id", middleware.GetReqID(ctx)),
		slog.String("license_key_masked", security.MaskLicenseKey(req.LicenseKey)),
	)

	if err := h.service.Login(ctx, req.LicenseKey); err != nil {
		h.renderLoginError(w, r, err)
		return
	}

	render.JSON(w, r, h.statusResponse())
}

// Logout handles POST /api/license/logout
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.service.Logout(r.Context())
	render.JSON(w, r, h.statusResponse())
}

// Status handles GET /api/license/status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.statusResponse())
}

// Refresh handles POST /api/license/refresh: the UI signals connectivity
// or focus changes so the engine can renew opportunistically.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Query().Get("reason") {
	case "foreground":
		h.service.ForegroundFocus()
	default:
		h.service.NetworkRegained()
	}
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, map[string]string{"status": "scheduled"})
}

// Health handles GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]interface{}{
		"status":     "ok",
		"authorized": h.service.IsAuthorized(),
	})
}

// Events upgrades to a websocket and streams state transitions to the UI
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		render.Render(w, r, apierrors.ErrInternalServer)
		return
	}
	h.hub.ServeWS(w, r)
}

func (h *Handler) statusResponse() *StatusResponse {
	resp := &StatusResponse{
		Authorized: h.service.IsAuthorized(),
		Status:     string(session.StatusUnauthenticated),
		Timestamp:  time.Now(),
	}
	if sess, ok := h.service.CurrentSession(); ok {
		resp.Status = string(sess.Status)
		resp.SessionID = sess.ID
		resp.ExpiresAt = sess.ExpiresAt
	} else if sess.Status != "" {
		resp.Status = string(sess.Status)
	}
	return resp
}

func (h *Handler) renderLoginError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	logger := infrastructure.LoggerWithContext(ctx)

	var rejection *session.ServerRejection
	switch {
	case errors.Is(err, session.ErrInvalidInput):
		render.Render(w, r, apierrors.ErrValidation("license_key", "license key must not be empty"))
	case errors.As(err, &rejection):
		render.Render(w, r, apierrors.ErrLoginRejected(string(rejection.Reason)))
	case errors.Is(err, transport.ErrNetworkUnavailable):
		render.Render(w, r, apierrors.ErrNetwork)
	default:
		logger.ErrorContext(ctx, "login failed",
			slog.String("error", err.Error()),
		)
		render.Render(w, r, apierrors.ErrInternalServer)
	}
}
