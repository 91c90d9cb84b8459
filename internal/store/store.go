package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"keygate/internal/security"
	"keygate/internal/session"
)

// recordVersion allows forward migration of the persisted record format
const recordVersion = 1

// record is the versioned snapshot persisted to disk. The whole record is
// sealed with AES-256-GCM; the seal carries its own integrity tag.
type record struct {
	Version     int             `json:"version"`
	Session     session.Session `json:"session"`
	Fingerprint string          `json:"fingerprint"`
	SavedAt     time.Time       `json:"saved_at"`
}

// Store persists the session snapshot encrypted at rest. Writes are atomic:
// the record lands in a temp file first and is renamed into place, so a
// crash mid-write can never leave a half-written record that a restart
// could misread as valid.
type Store struct {
	path    string
	appSalt []byte
	logger  *slog.Logger
}

// New creates a credential store backed by the given file path. appSalt
// binds sealed records to this installation.
func New(path string, appSalt []byte, logger *slog.Logger) (*Store, error) {
	if len(appSalt) < 16 {
		return nil, errors.New("application salt must be at least 16 bytes")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		path:    path,
		appSalt: appSalt,
		logger:  logger.With(slog.String("component", "credential_store")),
	}, nil
}

// Save persists a session snapshot together with the device fingerprint
func (s *Store) Save(sess session.Session, fingerprint string) error {
	rec := record{
		Version:     recordVersion,
		Session:     sess,
		Fingerprint: fingerprint,
		SavedAt:     time.Now(),
	}

	plaintext, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal session record: %w", err)
	}

	sealed, err := security.Seal(plaintext, s.appSalt)
	if err != nil {
		return fmt.Errorf("failed to seal session record: %w", err)
	}

	data, err := json.Marshal(sealed)
	if err != nil {
		return fmt.Errorf("failed to marshal sealed record: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write session record: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync session record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Chmod(tmpName, 0600); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to set record permissions: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace session record: %w", err)
	}

	s.logger.Debug("Session snapshot persisted",
		slog.String("status", string(sess.Status)),
	)
	return nil
}

// Load reads the persisted snapshot. ok is false when no record exists or
// the record fails any integrity check; a corrupted record is removed and
// the caller falls back to re-login (fail closed).
func (s *Store) Load() (session.Session, string, bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return session.Session{}, "", false, nil
		}
		return session.Session{}, "", false, fmt.Errorf("failed to read session record: %w", err)
	}

	var sealed security.SealedPayload
	if err := json.Unmarshal(data, &sealed); err != nil {
		s.discardCorrupt("unmarshal", err)
		return session.Session{}, "", false, nil
	}

	plaintext, err := security.Open(&sealed, s.appSalt)
	if err != nil {
		s.discardCorrupt("open", err)
		return session.Session{}, "", false, nil
	}

	var rec record
	if err := json.Unmarshal(plaintext, &rec); err != nil {
		s.discardCorrupt("decode", err)
		return session.Session{}, "", false, nil
	}

	if rec.Version != recordVersion {
		// Future versions fail closed rather than guessing at the layout
		s.discardCorrupt("version", fmt.Errorf("unsupported record version %d", rec.Version))
		return session.Session{}, "", false, nil
	}

	if rec.Session.ID == "" || !rec.Session.ExpiresAt.After(rec.Session.IssuedAt) {
		s.discardCorrupt("invariant", errors.New("session invariant violated"))
		return session.Session{}, "", false, nil
	}

	return rec.Session, rec.Fingerprint, true, nil
}

// Clear removes the persisted record
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear session record: %w", err)
	}
	return nil
}

func (s *Store) discardCorrupt(stage string, err error) {
	s.logger.Warn("Discarding unreadable session record",
		slog.String("stage", stage),
		slog.String("error", err.Error()),
	)
	os.Remove(s.path)
}
