package security

import (
	"crypto/sha256"
	"encoding/hex"
)

// MaskLicenseKey masks a license key for log output. Keys are never logged
// in cleartext; keys too short to hide most of their characters are masked
// entirely.
func MaskLicenseKey(key string) string {
	if len(key) < 16 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}

// HashLicenseKey returns a short stable hash of a license key for audit
// correlation without exposing the key itself.
func HashLicenseKey(key string) string {
	if key == "" {
		return ""
	}
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])[:16]
}
