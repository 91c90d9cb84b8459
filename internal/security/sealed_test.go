package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSalt = []byte("keygate-test-application-salt-01")

func TestSealOpen_RoundTrip(t *testing.T) {
	plaintext := []byte(`{"session":"sess-1","key":"ABCD-1234"}`)

	sealed, err := Seal(plaintext, testSalt)
	require.NoError(t, err)
	require.Equal(t, uint8(1), sealed.Version)
	assert.NotEmpty(t, sealed.Salt)
	assert.NotEmpty(t, sealed.Nonce)
	assert.NotContains(t, string(sealed.Ciphertext), "sess-1")

	got, err := Open(sealed, testSalt)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestSeal_InputValidation(t *testing.T) {
	_, err := Seal(nil, testSalt)
	assert.Error(t, err)

	_, err = Seal([]byte("data"), []byte("short"))
	assert.Error(t, err)
}

func TestSeal_UniquePerCall(t *testing.T) {
	plaintext := []byte("same plaintext")

	a, err := Seal(plaintext, testSalt)
	require.NoError(t, err)
	b, err := Seal(plaintext, testSalt)
	require.NoError(t, err)

	assert.NotEqual(t, a.Salt, b.Salt)
	assert.NotEqual(t, a.Nonce, b.Nonce)
	assert.NotEqual(t, a.Ciphertext, b.Ciphertext)
}

func TestOpen_TamperDetection(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*SealedPayload)
	}{
		{"flipped ciphertext byte", func(p *SealedPayload) { p.Ciphertext[0] ^= 0xff }},
		{"flipped auth tag byte", func(p *SealedPayload) { p.AuthTag[0] ^= 0xff }},
		{"flipped nonce byte", func(p *SealedPayload) { p.Nonce[0] ^= 0xff }},
		{"flipped salt byte", func(p *SealedPayload) { p.Salt[0] ^= 0xff }},
		{"truncated integrity", func(p *SealedPayload) { p.Integrity = p.Integrity[:8] }},
		{"future version", func(p *SealedPayload) { p.Version = 99 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sealed, err := Seal([]byte("secret"), testSalt)
			require.NoError(t, err)

			tt.mutate(sealed)

			_, err = Open(sealed, testSalt)
			assert.ErrorIs(t, err, ErrIntegrity)
		})
	}
}

func TestOpen_WrongAppSalt(t *testing.T) {
	sealed, err := Seal([]byte("secret"), testSalt)
	require.NoError(t, err)

	other := []byte("a-different-application-salt-002")
	_, err = Open(sealed, other)
	assert.ErrorIs(t, err, ErrIntegrity)
}

func TestSecureCompare(t *testing.T) {
	assert.True(t, SecureCompare([]byte("abc"), []byte("abc")))
	assert.False(t, SecureCompare([]byte("abc"), []byte("abd")))
	assert.False(t, SecureCompare([]byte("abc"), []byte("abcd")))
}
