package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateFingerprint(t *testing.T) {
	fm := NewFingerprintManager()

	fp, err := fm.GenerateFingerprint()
	require.NoError(t, err)

	assert.Len(t, fp.Fingerprint, 64) // sha256 hex
	assert.NotEmpty(t, fp.Hostname)
	assert.NotEmpty(t, fp.OS)
	assert.NotEmpty(t, fp.Platform)
	assert.False(t, fp.GeneratedAt.IsZero())
}

func TestGenerateFingerprint_Stable(t *testing.T) {
	fm := NewFingerprintManager()

	a, err := fm.GenerateFingerprint()
	require.NoError(t, err)
	b, err := fm.GenerateFingerprint()
	require.NoError(t, err)

	assert.Equal(t, a.Fingerprint, b.Fingerprint)
}

func TestGenerateFingerprint_Cache(t *testing.T) {
	fm := NewFingerprintManager()

	first, err := fm.GenerateFingerprint()
	require.NoError(t, err)

	// The cached copy is served until expiry
	cached, err := fm.GenerateFingerprint()
	require.NoError(t, err)
	assert.Equal(t, first.GeneratedAt, cached.GeneratedAt)

	fm.ClearCache()
	time.Sleep(10 * time.Millisecond)

	fresh, err := fm.GenerateFingerprint()
	require.NoError(t, err)
	assert.Equal(t, first.Fingerprint, fresh.Fingerprint)
	assert.True(t, fresh.GeneratedAt.After(first.GeneratedAt))
}

func TestValidateFingerprint(t *testing.T) {
	fm := NewFingerprintManager()

	fp, err := fm.GenerateFingerprint()
	require.NoError(t, err)

	ok, err := fm.ValidateFingerprint(fp.Fingerprint)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = fm.ValidateFingerprint("not-this-device")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetCPUID(t *testing.T) {
	fm := NewFingerprintManager()

	cpuID, err := fm.GetCPUID()
	require.NoError(t, err)
	assert.Len(t, cpuID, 16) // shortHash hex
}

func TestMaskLicenseKey(t *testing.T) {
	tests := []struct {
		name string
		key  string
		want string
	}{
		{"normal key", "ABCD-1234-EFGH-5678", "ABCD****5678"},
		{"short key", "ABCD1234", "****"},
		{"mid-length key", "ABCD1234EFGH567", "****"},
		{"empty key", "", "****"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MaskLicenseKey(tt.key))
		})
	}
}

func TestHashLicenseKey(t *testing.T) {
	a := HashLicenseKey("ABCD-1234-EFGH-5678")
	b := HashLicenseKey("ABCD-1234-EFGH-5678")
	c := HashLicenseKey("ABCD-1234-EFGH-5679")

	assert.Len(t, a, 16)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Empty(t, HashLicenseKey(""))
}
