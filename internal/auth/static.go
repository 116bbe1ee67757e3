package auth

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// StaticKeys verifies "user_id:secret" credentials against bcrypt hashes.
// It serves service callers that cannot mint tokens.
type StaticKeys struct {
	hashes map[string][]byte
}

// ParseStaticKeys reads "user_id:bcrypt_hash" pairs
func ParseStaticKeys(pairs []string) (*StaticKeys, error) {
	keys := &StaticKeys{hashes: make(map[string][]byte, len(pairs))}
	for _, pair := range pairs {
		user, hash, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok || user == "" || hash == "" {
			return nil, fmt.Errorf("auth: static key %q must be user_id:bcrypt_hash", pair)
		}
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, fmt.Errorf("auth: static key for %s: %w", user, err)
		}
		keys.hashes[user] = []byte(hash)
	}
	return keys, nil
}

// HashSecret produces the bcrypt hash to configure for a static key
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash secret: %w", err)
	}
	return string(hash), nil
}

// Len returns the number of configured keys
func (k *StaticKeys) Len() int {
	return len(k.hashes)
}

// Verify checks a "user_id:secret" credential
func (k *StaticKeys) Verify(_ context.Context, credential string) (Principal, error) {
	if credential == "" {
		return Principal{}, ErrMissingCredential
	}

	user, secret, ok := strings.Cut(credential, ":")
	if !ok {
		return Principal{}, ErrInvalidToken
	}
	hash, known := k.hashes[user]
	if !known {
		return Principal{}, ErrInvalidToken
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(secret)); err != nil {
		return Principal{}, ErrInvalidToken
	}
	return Principal{UserID: user}, nil
}
