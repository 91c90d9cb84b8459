package config

// defaultSigningKeyPEM is the licensing authority's grant-signing public key.
// Sessions are only trusted when the grant token verifies against this key
// (or an override supplied through configuration for staging environments).
const defaultSigningKeyPEM = `-----BEGIN PUBLIC KEY-----
MCowBQYDK2VwAyEAVyDIPwuj1ffgWOmnlPIgFEbaULR6o3X2dQ1bg+fIhpk=
-----END PUBLIC KEY-----`

// SigningKey returns the configured grant-signing public key PEM,
// falling back to the embedded production key.
func (c *Config) SigningKey() string {
	if c.Auth.SigningKeyPEM != "" {
		return c.Auth.SigningKeyPEM
	}
	return defaultSigningKeyPEM
}
