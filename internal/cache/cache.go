// Package cache stores diagnostic results keyed by a fingerprint of
// everything that determines them.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ppiankov/feasia/internal/diagnose"
)

// keyPrefix is bumped whenever the stored result shape changes
const keyPrefix = "feasia:v1:"

// Cache defines the interface for caching
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// Key fingerprints the inputs of a diagnosis. Each part is JSON-encoded, so
// maps contribute in sorted key order and equal inputs give equal keys.
func Key(parts ...any) (string, error) {
	h := sha256.New()
	for i, p := range parts {
		data, err := json.Marshal(p)
		if err != nil {
			return "", fmt.Errorf("fingerprint part %d: %w", i, err)
		}
		h.Write(data)
		h.Write([]byte{0})
	}
	return keyPrefix + hex.EncodeToString(h.Sum(nil)), nil
}

// ResultStore is a typed view over a byte cache
type ResultStore struct {
	cache Cache
	ttl   time.Duration
}

// NewResultStore wraps a cache. ttl 0 uses the cache's default.
func NewResultStore(c Cache, ttl time.Duration) *ResultStore {
	return &ResultStore{cache: c, ttl: ttl}
}

// Load returns a cached result. Entries that no longer decode are dropped.
func (s *ResultStore) Load(key string) (*diagnose.DiagnosticResult, bool) {
	data, found := s.cache.Get(key)
	if !found {
		return nil, false
	}
	var res diagnose.DiagnosticResult
	if err := json.Unmarshal(data, &res); err != nil {
		_ = s.cache.Delete(key)
		return nil, false
	}
	return &res, true
}

// Store saves a result
func (s *ResultStore) Store(key string, res *diagnose.DiagnosticResult) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	return s.cache.Set(key, data, s.ttl)
}
