// Package keys issues and resolves agent API keys.
package keys

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/RaphaelLcs-financial/openclaw-hub/internal/crypto"
	"github.com/RaphaelLcs-financial/openclaw-hub/internal/models"
	"github.com/RaphaelLcs-financial/openclaw-hub/internal/store"
)

const (
	// Prefix starts every API key.
	Prefix = "oc-"
	// KeyLength is the total length of a well-formed key: prefix plus 32 hex chars.
	KeyLength = len(Prefix) + 32

	recordPrefix  = "apikey:"
	displayLength = 8
)

// ErrUnknownKey means the key was never issued or has been revoked.
var ErrUnknownKey = errors.New("unknown api key")

// Store issues API keys and resolves them back to agent identities.
type Store struct {
	kv  store.KV
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a key store on top of kv.
func NewStore(kv store.KV, opts ...Option) *Store {
	s := &Store{kv: kv, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ValidateFormat reports whether key has the shape oc-<32 lowercase hex chars>.
// It says nothing about whether the key was ever issued.
func ValidateFormat(key string) bool {
	if len(key) != KeyLength || key[:len(Prefix)] != Prefix {
		return false
	}
	for i := len(Prefix); i < len(key); i++ {
		c := key[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

// Mask shortens a key for logging.
func Mask(key string) string {
	if key == "" {
		return "none"
	}
	if len(key) <= displayLength {
		return key
	}
	return key[:displayLength] + "..."
}

// Issue generates a new key for agentID and records it.
func (s *Store) Issue(ctx context.Context, agentID, description string) (string, *models.APIKey, error) {
	random, err := crypto.RandomHex(16)
	if err != nil {
		return "", nil, fmt.Errorf("generate key: %w", err)
	}
	key := Prefix + random

	rec := &models.APIKey{
		AgentID:     agentID,
		Description: description,
		Prefix:      key[:displayLength],
		IssuedAt:    s.now().UTC(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", nil, err
	}
	if err := s.kv.Put(ctx, recordKey(key), data); err != nil {
		return "", nil, fmt.Errorf("store key: %w", err)
	}
	return key, rec, nil
}

// Lookup resolves key to the agent it was issued to.
func (s *Store) Lookup(ctx context.Context, key string) (*models.APIKey, error) {
	if !ValidateFormat(key) {
		return nil, ErrUnknownKey
	}
	data, err := s.kv.Get(ctx, recordKey(key))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUnknownKey
	}
	if err != nil {
		return nil, fmt.Errorf("load key: %w", err)
	}

	var rec models.APIKey
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode key record: %w", err)
	}
	return &rec, nil
}

// Revoke removes key. It reports whether the key existed.
func (s *Store) Revoke(ctx context.Context, key string) (bool, error) {
	if !ValidateFormat(key) {
		return false, nil
	}
	return s.kv.Delete(ctx, recordKey(key))
}

// Count returns the number of live keys.
func (s *Store) Count(ctx context.Context) (int, error) {
	n := 0
	err := s.kv.Scan(ctx, recordPrefix, func(string, []byte) bool {
		n++
		return true
	})
	return n, err
}

// Agents lists every agent holding at least one key, ordered by first registration.
func (s *Store) Agents(ctx context.Context) ([]models.AgentSummary, error) {
	byAgent := make(map[string]*models.AgentSummary)
	err := s.kv.Scan(ctx, recordPrefix, func(_ string, value []byte) bool {
		var rec models.APIKey
		if json.Unmarshal(value, &rec) != nil {
			return true
		}
		sum, ok := byAgent[rec.AgentID]
		if !ok {
			sum = &models.AgentSummary{AgentID: rec.AgentID, RegisteredAt: rec.IssuedAt}
			byAgent[rec.AgentID] = sum
		}
		sum.KeyCount++
		if !rec.IssuedAt.After(sum.RegisteredAt) {
			sum.RegisteredAt = rec.IssuedAt
			if rec.Description != "" {
				sum.Description = rec.Description
			}
		} else if sum.Description == "" {
			sum.Description = rec.Description
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	agents := make([]models.AgentSummary, 0, len(byAgent))
	for _, sum := range byAgent {
		agents = append(agents, *sum)
	}
	sort.Slice(agents, func(i, j int) bool {
		if agents[i].RegisteredAt.Equal(agents[j].RegisteredAt) {
			return agents[i].AgentID < agents[j].AgentID
		}
		return agents[i].RegisteredAt.Before(agents[j].RegisteredAt)
	})
	return agents, nil
}

func recordKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return recordPrefix + hex.EncodeToString(sum[:])
}
