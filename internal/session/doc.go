// Package session implements the authoritative session state machine.
//
// States: Unauthenticated → Authenticating → Active ⇄ GraceOffline →
// {Expired, Revoked, Banned}. Revoked and Banned are terminal; only a
// brand-new login replaces them, with a new session id. Every mutation is
// serialized through a single lock, and validation or revocation input for
// a terminal session is dropped, so stale or late results can never
// re-grant access.
package session
