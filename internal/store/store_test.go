package store

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keygate/internal/session"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.dat")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := New(path, []byte("keygate-test-application-salt-01"), logger)
	require.NoError(t, err)
	return st, path
}

func testSession() session.Session {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return session.Session{
		ID:                "sess-1",
		LicenseKey:        "ABCD-1234-EFGH-5678",
		IssuedAt:          now,
		ExpiresAt:         now.Add(30 * 24 * time.Hour),
		Status:            session.StatusActive,
		LastServerContact: now,
		LastServerTime:    now,
	}
}

func TestNew_SaltTooShort(t *testing.T) {
	_, err := New("session.dat", []byte("short"), nil)
	assert.Error(t, err)
}

func TestStore_RoundTrip(t *testing.T) {
	st, _ := newTestStore(t)
	want := testSession()

	require.NoError(t, st.Save(want, "device-fp"))

	got, fp, ok, err := st.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)
	assert.Equal(t, "device-fp", fp)
}

func TestStore_EncryptedAtRest(t *testing.T) {
	st, path := newTestStore(t)

	require.NoError(t, st.Save(testSession(), "device-fp"))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "ABCD-1234-EFGH-5678")
	assert.NotContains(t, string(raw), "sess-1")
}

func TestStore_FilePermissions(t *testing.T) {
	st, path := newTestStore(t)

	require.NoError(t, st.Save(testSession(), "device-fp"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestStore_MissingFile(t *testing.T) {
	st, _ := newTestStore(t)

	_, _, ok, err := st.Load()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_CorruptRecordFailsClosed(t *testing.T) {
	tests := []struct {
		name    string
		corrupt func(t *testing.T, path string)
	}{
		{
			name: "garbage bytes",
			corrupt: func(t *testing.T, path string) {
				require.NoError(t, os.WriteFile(path, []byte("not json"), 0600))
			},
		},
		{
			name: "truncated record",
			corrupt: func(t *testing.T, path string) {
				data, err := os.ReadFile(path)
				require.NoError(t, err)
				require.NoError(t, os.WriteFile(path, data[:len(data)/2], 0600))
			},
		},
		{
			name: "flipped byte",
			corrupt: func(t *testing.T, path string) {
				data, err := os.ReadFile(path)
				require.NoError(t, err)
				data[len(data)/2] ^= 0xff
				require.NoError(t, os.WriteFile(path, data, 0600))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, path := newTestStore(t)
			require.NoError(t, st.Save(testSession(), "device-fp"))

			tt.corrupt(t, path)

			_, _, ok, err := st.Load()
			require.NoError(t, err)
			assert.False(t, ok)

			// The corrupt record is removed so the next load starts clean
			_, statErr := os.Stat(path)
			assert.True(t, os.IsNotExist(statErr))
		})
	}
}

func TestStore_WrongSaltFailsClosed(t *testing.T) {
	st, path := newTestStore(t)
	require.NoError(t, st.Save(testSession(), "device-fp"))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	other, err := New(path, []byte("a-different-application-salt-002"), logger)
	require.NoError(t, err)

	_, _, ok, err := other.Load()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_InvariantViolationFailsClosed(t *testing.T) {
	st, _ := newTestStore(t)

	sess := testSession()
	sess.ExpiresAt = sess.IssuedAt.Add(-time.Hour)
	require.NoError(t, st.Save(sess, "device-fp"))

	_, _, ok, err := st.Load()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_Clear(t *testing.T) {
	st, path := newTestStore(t)
	require.NoError(t, st.Save(testSession(), "device-fp"))

	require.NoError(t, st.Clear())
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))

	// Clearing an already-empty store is not an error
	require.NoError(t, st.Clear())
}

func TestStore_SaveOverwrites(t *testing.T) {
	st, _ := newTestStore(t)

	first := testSession()
	require.NoError(t, st.Save(first, "device-fp"))

	second := first
	second.ID = "sess-2"
	second.Status = session.StatusGraceOffline
	require.NoError(t, st.Save(second, "device-fp"))

	got, _, ok, err := st.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "sess-2", got.ID)
	assert.Equal(t, session.StatusGraceOffline, got.Status)
}
