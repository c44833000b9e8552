package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/go-faster/errors"
)

// ErrKeyNotFound indicates the presented API key does not match any active key.
var ErrKeyNotFound = errors.New("api key not found")

// APIKeyInfo holds the identity and permission data for a validated API key.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	Scopes  []string
}

// HasScope reports whether the key carries the given scope. The wildcard
// scope "*" grants everything.
func (k *APIKeyInfo) HasScope(scope string) bool {
	for _, s := range k.Scopes {
		if s == scope || s == "*" {
			return true
		}
	}
	return false
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}

// Verifier validates raw API keys against the repository. Keys are stored as
// HMAC-SHA256 hashes keyed by a server-side pepper, so a database leak does
// not expose usable keys.
type Verifier struct {
	repo   Repository
	pepper []byte
}

// NewVerifier returns a Verifier using the given repository and pepper.
func NewVerifier(repo Repository, pepper string) *Verifier {
	return &Verifier{repo: repo, pepper: []byte(pepper)}
}

// HashKey computes the storable hash of a raw API key.
func (v *Verifier) HashKey(raw string) string {
	mac := hmac.New(sha256.New, v.pepper)
	mac.Write([]byte(raw))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify resolves a raw API key to its stored info.
// Returns ErrKeyNotFound when the key is unknown or inactive.
func (v *Verifier) Verify(ctx context.Context, raw string) (*APIKeyInfo, error) {
	if raw == "" {
		return nil, ErrKeyNotFound
	}
	return v.repo.FindByHash(ctx, v.HashKey(raw))
}
