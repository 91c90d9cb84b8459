package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/scrypt"
)

// SealedPayload is the encrypted-at-rest record format for the credential
// store. The integrity hash is checked before decryption so a truncated or
// tampered record is rejected without touching the cipher.
type SealedPayload struct {
	Version    uint8  `json:"version"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
	AuthTag    []byte `json:"auth_tag"`
	Integrity  []byte `json:"integrity"`
}

// sealedPayloadVersion allows forward migration of the record format
const sealedPayloadVersion = 1

// SCRYPT parameters (OWASP recommended minimum) and AES-GCM sizes
const (
	scryptN      = 32768
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32
	nonceSize    = 12
	tagSize      = 16
)

// ErrIntegrity is returned when a sealed payload fails integrity or
// authentication checks. Callers must fail closed.
var ErrIntegrity = errors.New("sealed payload integrity check failed")

// Seal encrypts plaintext using AES-256-GCM with an scrypt-derived key.
// appSalt binds the record to this installation's key material.
func Seal(plaintext, appSalt []byte) (*SealedPayload, error) {
	if len(plaintext) == 0 {
		return nil, errors.New("plaintext cannot be empty")
	}
	if len(appSalt) < 16 {
		return nil, errors.New("application salt must be at least 16 bytes")
	}

	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	key, err := deriveKey(appSalt, salt)
	if err != nil {
		return nil, err
	}
	defer wipe(key)

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	ciphertext := sealed[:len(sealed)-tagSize]
	authTag := sealed[len(sealed)-tagSize:]

	return &SealedPayload{
		Version:    sealedPayloadVersion,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: ciphertext,
		AuthTag:    authTag,
		Integrity:  integrityHash(ciphertext, salt, nonce),
	}, nil
}

// Open verifies and decrypts a sealed payload. Any failure returns
// ErrIntegrity so callers cannot distinguish tampering modes.
func Open(payload *SealedPayload, appSalt []byte) ([]byte, error) {
	if payload == nil {
		return nil, errors.New("payload cannot be nil")
	}
	if len(appSalt) < 16 {
		return nil, errors.New("application salt must be at least 16 bytes")
	}
	if payload.Version != sealedPayloadVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrIntegrity, payload.Version)
	}

	expected := integrityHash(payload.Ciphertext, payload.Salt, payload.Nonce)
	if subtle.ConstantTimeCompare(payload.Integrity, expected) != 1 {
		return nil, ErrIntegrity
	}

	key, err := deriveKey(appSalt, payload.Salt)
	if err != nil {
		return nil, err
	}
	defer wipe(key)

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	sealed := append(append([]byte{}, payload.Ciphertext...), payload.AuthTag...)
	plaintext, err := gcm.Open(nil, payload.Nonce, sealed, nil)
	if err != nil {
		return nil, ErrIntegrity
	}

	return plaintext, nil
}

func deriveKey(appSalt, salt []byte) ([]byte, error) {
	combined := append(append([]byte{}, appSalt...), salt...)
	key, err := scrypt.Key(combined, salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	return key, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

func integrityHash(ciphertext, salt, nonce []byte) []byte {
	h := sha256.New()
	h.Write([]byte("KEYGATE-INTEGRITY-V1")) // domain separator
	h.Write(ciphertext)
	h.Write(salt)
	h.Write(nonce)
	return h.Sum(nil)
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// SecureCompare performs constant-time comparison to prevent timing attacks
func SecureCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
