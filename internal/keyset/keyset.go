// Package keyset caches the JWT signing keys the core service announces, so
// access tokens can be verified locally without a network round-trip.
package keyset

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// ErrUnknownKey means the key id is not cached even after refreshing from the
// core. Verification must fall back to a core call.
var ErrUnknownKey = errors.New("unknown signing key")

// Handshake is the process-level session configuration of the core.
type Handshake struct {
	PublicKey            string // base64 DER, SubjectPublicKeyInfo
	PublicKeyExpiry      int64  // unix ms
	BlacklistingEnabled  bool
	AccessTokenValidity  int64 // ms
	RefreshTokenValidity int64 // ms
}

// HandshakeFunc fetches the current handshake state from the core.
type HandshakeFunc func(ctx context.Context) (Handshake, error)

// Store caches signing keys by key id until the expiry the core attached to
// them. It is safe for concurrent use.
type Store struct {
	fetch HandshakeFunc
	group singleflight.Group
	keys  *cache.Cache

	mu           sync.RWMutex
	blacklisting bool
}

func New(fetch HandshakeFunc) *Store {
	return &Store{
		fetch: fetch,
		keys:  cache.New(cache.NoExpiration, 10*time.Minute),
	}
}

// Add parses and caches a signing key delivered by a core response and
// returns its derived key id. Keys past their expiry are not cached.
func (s *Store) Add(publicKey string, expiryMs int64) (string, error) {
	pub, kid, err := parseKey(publicKey)
	if err != nil {
		return "", err
	}

	if ttl := time.Until(time.UnixMilli(expiryMs)); ttl > 0 {
		s.keys.Set(kid, pub, ttl)
	}

	return kid, nil
}

// Lookup returns the cached key for kid, if present and unexpired.
func (s *Store) Lookup(kid string) (*rsa.PublicKey, bool) {
	v, ok := s.keys.Get(kid)
	if !ok {
		return nil, false
	}

	return v.(*rsa.PublicKey), true
}

// Key returns the signing key for kid, refreshing from the core once on a
// cache miss. It returns ErrUnknownKey when the core's current key has a
// different id.
func (s *Store) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if pub, ok := s.Lookup(kid); ok {
		return pub, nil
	}

	if err := s.Refresh(ctx); err != nil {
		return nil, err
	}

	if pub, ok := s.Lookup(kid); ok {
		return pub, nil
	}

	return nil, ErrUnknownKey
}

// Refresh fetches the handshake state and caches the announced key.
// Concurrent refreshes collapse into a single core call.
func (s *Store) Refresh(ctx context.Context) error {
	_, err, _ := s.group.Do("handshake", func() (any, error) {
		hs, err := s.fetch(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetching handshake: %w", err)
		}

		if _, err := s.Add(hs.PublicKey, hs.PublicKeyExpiry); err != nil {
			return nil, fmt.Errorf("caching handshake key: %w", err)
		}

		s.mu.Lock()
		s.blacklisting = hs.BlacklistingEnabled
		s.mu.Unlock()

		return nil, nil
	})

	return err
}

// BlacklistingEnabled reports whether the core checks every access token
// against a blacklist, which forces verification through the core.
func (s *Store) BlacklistingEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.blacklisting
}

// KeyID derives the id for a core-delivered public key. The core puts the
// same id in the kid header of the access tokens it signs.
func KeyID(publicKey string) (string, error) {
	_, kid, err := parseKey(publicKey)

	return kid, err
}

func parseKey(publicKey string) (*rsa.PublicKey, string, error) {
	der, err := base64.StdEncoding.DecodeString(publicKey)
	if err != nil {
		return nil, "", fmt.Errorf("decoding public key: %w", err)
	}

	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, "", fmt.Errorf("parsing public key: %w", err)
	}

	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, "", errors.New("signing key is not an RSA key")
	}

	thumb, err := (&jose.JSONWebKey{Key: pub}).Thumbprint(crypto.SHA256)
	if err != nil {
		return nil, "", fmt.Errorf("computing key thumbprint: %w", err)
	}

	return pub, base64.RawURLEncoding.EncodeToString(thumb), nil
}
