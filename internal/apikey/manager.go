// Package apikey issues and validates gateway API keys. Keys are stored as
// bcrypt hashes; the plaintext is returned exactly once at creation.
package apikey

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/mentora-ai/mentora/internal/store"
)

// hashForBcrypt pre-hashes a key with SHA-256 to stay within bcrypt's
// 72-byte limit.
func hashForBcrypt(key string) []byte {
	h := sha256.Sum256([]byte(key))
	return []byte(hex.EncodeToString(h[:]))
}

const (
	keyPrefix    = "mentora_"
	keyRandBytes = 32
	bcryptCost   = 10
	cacheTTL     = 5 * time.Minute

	// prefixLen is keyPrefix plus 8 hex chars, enough to narrow the
	// database lookup to a handful of candidates.
	prefixLen = len(keyPrefix) + 8
)

type cachedKey struct {
	record    *store.APIKeyRecord
	expiresAt time.Time
}

// Manager handles API key generation and validation.
type Manager struct {
	store store.Store

	mu    sync.RWMutex
	cache map[string]cachedKey // keyString -> cached record
}

// NewManager creates a new API key manager.
func NewManager(s store.Store) *Manager {
	return &Manager{
		store: s,
		cache: make(map[string]cachedKey),
	}
}

// Generate creates a new API key, stores its bcrypt hash, and returns the
// plaintext key exactly once.
func (m *Manager) Generate(ctx context.Context, name string) (string, *store.APIKeyRecord, error) {
	raw := make([]byte, keyRandBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, fmt.Errorf("generate random: %w", err)
	}
	plaintext := keyPrefix + hex.EncodeToString(raw)

	hash, err := bcrypt.GenerateFromPassword(hashForBcrypt(plaintext), bcryptCost)
	if err != nil {
		return "", nil, fmt.Errorf("bcrypt hash: %w", err)
	}

	id := hex.EncodeToString(raw[:8]) // 16-char hex ID
	rec := store.APIKeyRecord{
		ID:        id,
		KeyHash:   string(hash),
		KeyPrefix: plaintext[:prefixLen],
		Name:      name,
		CreatedAt: time.Now().UTC(),
		Enabled:   true,
	}

	if err := m.store.CreateAPIKey(ctx, rec); err != nil {
		return "", nil, fmt.Errorf("store api key: %w", err)
	}
	return plaintext, &rec, nil
}

// Validate checks a plaintext API key and returns the associated record.
// Uses a short TTL cache to avoid bcrypt on every request, and the stored
// key prefix to avoid comparing against every hash.
func (m *Manager) Validate(ctx context.Context, keyString string) (*store.APIKeyRecord, error) {
	if len(keyString) < prefixLen {
		return nil, errors.New("invalid api key")
	}

	// Check cache first.
	m.mu.RLock()
	if cached, ok := m.cache[keyString]; ok && time.Now().Before(cached.expiresAt) {
		m.mu.RUnlock()
		return cached.record, nil
	}
	m.mu.RUnlock()

	candidates, err := m.store.GetAPIKeysByPrefix(ctx, keyString[:prefixLen])
	if err != nil {
		return nil, fmt.Errorf("lookup keys: %w", err)
	}

	for i := range candidates {
		k := &candidates[i]
		if err := bcrypt.CompareHashAndPassword([]byte(k.KeyHash), hashForBcrypt(keyString)); err != nil {
			continue
		}
		// Update last_used_at best-effort.
		now := time.Now().UTC()
		k.LastUsedAt = &now
		_ = m.store.UpdateAPIKey(ctx, *k)

		m.mu.Lock()
		m.cache[keyString] = cachedKey{
			record:    k,
			expiresAt: time.Now().Add(cacheTTL),
		}
		m.mu.Unlock()

		return k, nil
	}

	return nil, errors.New("invalid api key")
}

// Revoke disables a key and drops any cached entries for it.
func (m *Manager) Revoke(ctx context.Context, id string) error {
	keys, err := m.store.ListAPIKeys(ctx)
	if err != nil {
		return fmt.Errorf("list keys: %w", err)
	}
	for i := range keys {
		if keys[i].ID != id {
			continue
		}
		keys[i].Enabled = false
		if err := m.store.UpdateAPIKey(ctx, keys[i]); err != nil {
			return fmt.Errorf("update key: %w", err)
		}
		m.mu.Lock()
		for k, v := range m.cache {
			if v.record.ID == id {
				delete(m.cache, k)
			}
		}
		m.mu.Unlock()
		return nil
	}
	return errors.New("api key not found")
}
