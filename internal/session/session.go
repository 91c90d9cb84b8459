package session

import (
	"time"
)

// Status is the authentication state of a session
type Status string

const (
	StatusUnauthenticated Status = "unauthenticated"
	StatusAuthenticating  Status = "authenticating"
	StatusActive          Status = "active"
	StatusGraceOffline    Status = "grace_offline"
	StatusExpired         Status = "expired"
	StatusRevoked         Status = "revoked"
	StatusBanned          Status = "banned"
)

// Terminal reports whether the status permits no further transition.
// A terminal session can only be replaced by a brand-new login.
func (s Status) Terminal() bool {
	return s == StatusRevoked || s == StatusBanned
}

// Authorized reports whether the status grants access
func (s Status) Authorized() bool {
	return s == StatusActive || s == StatusGraceOffline
}

// Session is the authenticated, time-bounded grant produced by a successful
// validation. Owned exclusively by the Machine; everything else sees copies.
type Session struct {
	ID                string    `json:"id"`
	LicenseKey        string    `json:"license_key"`
	IssuedAt          time.Time `json:"issued_at"`
	ExpiresAt         time.Time `json:"expires_at"`
	Status            Status    `json:"status"`
	LastServerContact time.Time `json:"last_server_contact"`
	LastServerTime    time.Time `json:"last_server_time"`
}

// Transition is emitted on every state change so consumers can react,
// e.g. force a sign-out screen on a revoked or banned session.
type Transition struct {
	From    Status    `json:"from"`
	To      Status    `json:"to"`
	Cause   string    `json:"cause"`
	Session Session   `json:"session"`
	At      time.Time `json:"at"`
}
