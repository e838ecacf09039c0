package session

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const minSecretLength = 32

// DeriveKeys expands the configured session secret into the HMAC key and
// the AES key used by securecookie
func DeriveKeys(secret string) (hashKey, blockKey []byte, err error) {
	if len(secret) < minSecretLength {
		return nil, nil, fmt.Errorf("session secret must be at least %d characters", minSecretLength)
	}

	hashKey = make([]byte, 64)
	blockKey = make([]byte, 32)

	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte("oauthlink session hash")), hashKey); err != nil {
		return nil, nil, fmt.Errorf("failed to derive hash key: %w", err)
	}
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte("oauthlink session block")), blockKey); err != nil {
		return nil, nil, fmt.Errorf("failed to derive block key: %w", err)
	}
	return hashKey, blockKey, nil
}
