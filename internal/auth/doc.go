// Package auth is the facade the rest of the application talks to:
// login, logout, authorization checks, the current session, and a
// notification channel of state transitions.
//
// The facade owns the wiring between the session state machine, the
// credential store, the renewal scheduler and the revocation listener.
// A single event-pump goroutine reacts to every transition, so persisted
// writes are sequential and session components are torn down exactly once
// when a session ends.
package auth
