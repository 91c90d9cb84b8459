package domain

import (
	"time"
)

// RejectionReason is the authority's stated reason for refusing a validation
type RejectionReason string

const (
	ReasonKeyNotFound    RejectionReason = "key_not_found"
	ReasonKeyExpired     RejectionReason = "key_expired"
	ReasonAlreadyBound   RejectionReason = "already_bound"
	ReasonBanned         RejectionReason = "banned"
	ReasonSessionInvalid RejectionReason = "session_invalid"
	ReasonUnknown        RejectionReason = "unknown"
)

// ValidationResult is the authority's answer to a validation request.
// It is never trusted blindly: the grant token must verify against the
// authority's signing key, and ServerTime feeds the clock-skew guard.
type ValidationResult struct {
	Accepted   bool            `json:"accepted"`
	Reason     RejectionReason `json:"reason,omitempty"`
	SessionID  string          `json:"session_id,omitempty"`
	ServerTime time.Time       `json:"server_time"`
	NewExpiry  time.Time       `json:"new_expiry,omitempty"`
}

// RevocationCause identifies why the authority terminated a session out-of-band
type RevocationCause string

const (
	CauseLoggedInElsewhere RevocationCause = "logged_in_elsewhere"
	CauseKeyExpired        RevocationCause = "key_expired"
	CauseBanned            RevocationCause = "banned"
	CauseServerForceLogout RevocationCause = "server_force_logout"
)

// RevocationEvent is a server-initiated push-channel message forcing a
// session state transition. Events for a non-current session id are stale
// and must be discarded.
type RevocationEvent struct {
	SessionID string          `json:"session_id"`
	Cause     RevocationCause `json:"cause"`
}
