package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrMissingKey = errors.New("missing API key")
	ErrInvalidKey = errors.New("invalid API key")
)

// Verifier checks API keys presented by clients. Keys may be configured
// either in plain text or as bcrypt hashes.
type Verifier struct {
	mu     sync.RWMutex
	plain  []string
	hashes [][]byte
}

// NewVerifier builds a verifier from configured keys. Values starting
// with "$2" are treated as bcrypt hashes.
func NewVerifier(keys ...string) *Verifier {
	v := &Verifier{}
	for _, k := range keys {
		v.Add(k)
	}
	return v
}

// Add registers another key
func (v *Verifier) Add(key string) {
	key = strings.TrimSpace(key)
	if key == "" {
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if strings.HasPrefix(key, "$2") {
		v.hashes = append(v.hashes, []byte(key))
		return
	}
	v.plain = append(v.plain, key)
}

// Enabled reports whether any key is configured
func (v *Verifier) Enabled() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.plain)+len(v.hashes) > 0
}

// Verify checks a presented key
func (v *Verifier) Verify(key string) error {
	if key == "" {
		return ErrMissingKey
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	for _, k := range v.plain {
		if SecureCompare(k, key) {
			return nil
		}
	}
	for _, h := range v.hashes {
		if bcrypt.CompareHashAndPassword(h, []byte(key)) == nil {
			return nil
		}
	}
	return ErrInvalidKey
}

// KeyFromRequest extracts the key from "Authorization: Bearer <key>"
// or the X-API-Key header.
func KeyFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.Header.Get("X-API-Key")
}

// GenerateAPIKey returns a random key and its bcrypt hash
func GenerateAPIKey() (key string, hash string, err error) {
	keyBytes := make([]byte, 32)
	if _, err := rand.Read(keyBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate API key: %w", err)
	}

	key = base64.URLEncoding.EncodeToString(keyBytes)

	hashed, err := HashKey(key)
	if err != nil {
		return "", "", err
	}
	return key, hashed, nil
}

// HashKey hashes a key for storage in configuration
func HashKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash key: %w", err)
	}
	return string(hash), nil
}

// SecureCompare performs constant-time comparison
func SecureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
