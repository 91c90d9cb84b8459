// Package transport implements the client side of the licensing authority
// protocol: single-attempt HTTP validation with one alternate-endpoint
// failover, ed25519 verification of signed grant tokens, and the
// long-lived websocket push channel for revocation events.
//
// The error taxonomy matters to callers: ErrNetworkUnavailable is the only
// error eligible for the offline-grace path. A ServerError or a rejected
// ValidationResult is an authoritative answer and must never be treated as
// "offline".
package transport
