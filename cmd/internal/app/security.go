package app

import "errors"

const minJWTSecretBytes = 32

// ValidateSecurityConfig enforces the startup security policy.
//
// Fail-fast is intentional: accepting connections with a missing or weak
// signing secret would let anyone mint valid tokens. We measure bytes (not
// runes) because the secret is used as raw HMAC key material.
func ValidateSecurityConfig(cfg Config) error {
	if cfg.JWTSecret == "" {
		return errors.New("security policy: MICROHIRE_JWT_SECRET is required")
	}
	if len(cfg.JWTSecret) < minJWTSecretBytes {
		return errors.New("security policy: MICROHIRE_JWT_SECRET is too short (min 32 bytes)")
	}
	return nil
}
