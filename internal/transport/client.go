package transport

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"keygate/pkg/contracts/domain"
)

// Error taxonomy for validation requests. Only ErrNetworkUnavailable is
// eligible for the offline-grace path; a server-side answer never is.
var (
	ErrNetworkUnavailable = errors.New("license server unreachable")
	ErrMalformedResponse  = errors.New("malformed license server response")
)

// ServerError indicates the authority answered with a failure status
type ServerError struct {
	Code int
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("license server error: status %d", e.Code)
}

// Config holds transport client configuration
type Config struct {
	PrimaryURL   string
	AlternateURL string
	PushURL      string
	AppName      string
	AppOwner     string
	AppVersion   string
	HTTPTimeout  time.Duration

	HandshakeTimeout time.Duration
	PongWait         time.Duration
}

// Client talks to the licensing authority: request/response validation over
// HTTP plus the long-lived push channel for revocation events.
type Client struct {
	cfg        Config
	httpClient *http.Client
	signingKey ed25519.PublicKey
	logger     *slog.Logger
}

// NewClient creates a transport client. signingKeyPEM is the authority's
// ed25519 public key used to verify grant tokens.
func NewClient(cfg Config, signingKeyPEM string, logger *slog.Logger) (*Client, error) {
	key, err := jwt.ParseEdPublicKeyFromPEM([]byte(signingKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("failed to parse signing key: %w", err)
	}
	edKey, ok := key.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("signing key is not an ed25519 public key")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		signingKey: edKey,
		logger:     logger.With(slog.String("component", "transport_client")),
	}, nil
}

// wireResponse is the authority's validation envelope
type wireResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	SessionID  string `json:"sessionid"`
	ServerTime int64  `json:"server_time"`
	Expiry     int64  `json:"expiry"`
	Token      string `json:"token"`
}

// grantClaims are the signed claims binding a grant to a session and device
type grantClaims struct {
	SessionID   string `json:"sid"`
	Fingerprint string `json:"hwid"`
	jwt.RegisteredClaims
}

// Validate performs a single validation attempt against the authority.
// One automatic failover to the alternate URL is made when the primary is
// unreachable or answers with a gateway-class status; beyond that, retry
// policy belongs to the caller.
func (c *Client) Validate(ctx context.Context, licenseKey, fingerprint, sessionID string) (*domain.ValidationResult, error) {
	res, err := c.validateAt(ctx, c.cfg.PrimaryURL, licenseKey, fingerprint, sessionID)
	if err == nil || c.cfg.AlternateURL == "" || !failoverEligible(err) {
		return res, err
	}

	c.logger.Warn("Primary license endpoint failed, trying alternate",
		slog.String("error", err.Error()),
	)
	return c.validateAt(ctx, c.cfg.AlternateURL, licenseKey, fingerprint, sessionID)
}

func (c *Client) validateAt(ctx context.Context, endpoint, licenseKey, fingerprint, sessionID string) (*domain.ValidationResult, error) {
	form := url.Values{
		"type": {"license"},
		"key":  {normalizeKey(licenseKey)},
		"hwid": {fingerprint},
		"name": {c.cfg.AppName},
		"ver":  {c.cfg.AppVersion},
	}
	if c.cfg.AppOwner != "" {
		form.Set("ownerid", c.cfg.AppOwner)
	}
	if sessionID != "" {
		form.Set("sessionid", sessionID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build validation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &ServerError{Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
	}

	var wire wireResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	if !wire.Success {
		return &domain.ValidationResult{
			Accepted:   false,
			Reason:     mapRejectionMessage(wire.Message),
			SessionID:  wire.SessionID,
			ServerTime: time.Unix(wire.ServerTime, 0),
		}, nil
	}

	result := &domain.ValidationResult{
		Accepted:   true,
		SessionID:  wire.SessionID,
		ServerTime: time.Unix(wire.ServerTime, 0),
		NewExpiry:  time.Unix(wire.Expiry, 0),
	}

	// An accepted grant is only trusted once its signature verifies and the
	// signed claims match the envelope and this device.
	if err := c.verifyGrant(wire.Token, result, fingerprint); err != nil {
		c.logger.Error("Grant token verification failed",
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	return result, nil
}

func (c *Client) verifyGrant(token string, result *domain.ValidationResult, fingerprint string) error {
	if token == "" {
		return errors.New("grant token missing")
	}

	claims := &grantClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return c.signingKey, nil
	})
	if err != nil {
		return fmt.Errorf("grant token invalid: %w", err)
	}
	if !parsed.Valid {
		return errors.New("grant token invalid")
	}

	if claims.SessionID == "" || claims.SessionID != result.SessionID {
		return errors.New("grant token session mismatch")
	}
	if claims.Fingerprint != "" && claims.Fingerprint != fingerprint {
		return errors.New("grant token device mismatch")
	}
	if claims.ExpiresAt == nil || !claims.ExpiresAt.Time.Equal(result.NewExpiry) {
		return errors.New("grant token expiry mismatch")
	}

	return nil
}

// failoverEligible reports whether the alternate endpoint is worth trying
func failoverEligible(err error) bool {
	if errors.Is(err, ErrNetworkUnavailable) {
		return true
	}
	var serverErr *ServerError
	if errors.As(err, &serverErr) {
		switch serverErr.Code {
		case http.StatusForbidden, http.StatusNotFound,
			http.StatusTooManyRequests, http.StatusBadGateway,
			http.StatusServiceUnavailable:
			return true
		}
	}
	return false
}

// mapRejectionMessage maps the authority's free-form rejection message to a
// stable reason code
func mapRejectionMessage(message string) domain.RejectionReason {
	msg := strings.ToLower(message)
	switch {
	case strings.Contains(msg, "banned"):
		return domain.ReasonBanned
	case strings.Contains(msg, "expired"):
		return domain.ReasonKeyExpired
	case strings.Contains(msg, "hwid"), strings.Contains(msg, "hardware"),
		strings.Contains(msg, "already"):
		return domain.ReasonAlreadyBound
	case strings.Contains(msg, "session"):
		return domain.ReasonSessionInvalid
	case strings.Contains(msg, "not found"), strings.Contains(msg, "invalid"):
		return domain.ReasonKeyNotFound
	default:
		return domain.ReasonUnknown
	}
}

// normalizeKey strips separators the user may have typed and uppercases
func normalizeKey(key string) string {
	key = strings.ReplaceAll(key, "-", "")
	key = strings.ReplaceAll(key, " ", "")
	return strings.ToUpper(key)
}
