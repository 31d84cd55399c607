// Package messages stores encrypted message envelopes and reclaims them once
// their retention period has passed.
package messages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/RaphaelLcs-financial/openclaw-hub/internal/crypto"
	"github.com/RaphaelLcs-financial/openclaw-hub/internal/metrics"
	"github.com/RaphaelLcs-financial/openclaw-hub/internal/models"
	"github.com/RaphaelLcs-financial/openclaw-hub/internal/store"
)

const (
	// DefaultRetention is how long an envelope stays retrievable.
	DefaultRetention = 7 * 24 * time.Hour
	// DefaultLimit is the inbox page size when none is requested.
	DefaultLimit = 50

	envelopePrefix = "msg:"
	inboxPrefix    = "inbox:"
	expiryPrefix   = "expiry:"
)

var (
	ErrNotFound  = errors.New("message not found")
	ErrForbidden = errors.New("message not owned by requester")
)

// Query filters an inbox read.
type Query struct {
	Since time.Time // inclusive lower bound on creation time; zero means no bound
	Limit int       // non-positive means DefaultLimit
}

// Store persists envelopes in a KV with two secondary indexes keyed by the
// envelope's ULID sequence:
//
//	msg:<id>             envelope JSON
//	inbox:<to>:<seq>     id, per-recipient in creation order
//	expiry:<seq>         id, global in creation order
type Store struct {
	kv        store.KV
	cipher    *crypto.Cipher
	retention time.Duration
	now       func() time.Time
	logger    zerolog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithRetention sets how long envelopes stay retrievable.
func WithRetention(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.retention = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// NewStore creates a message store.
func NewStore(kv store.KV, cipher *crypto.Cipher, opts ...Option) *Store {
	s := &Store{
		kv:        kv,
		cipher:    cipher,
		retention: DefaultRetention,
		now:       time.Now,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Retention returns the configured retention period.
func (s *Store) Retention() time.Duration { return s.retention }

// Put encrypts body and stores it for to. The message is visible to Get as
// soon as Put returns.
func (s *Store) Put(ctx context.Context, from, to string, body []byte) (*models.Envelope, error) {
	id, err := crypto.RandomHex(16)
	if err != nil {
		return nil, fmt.Errorf("generate message id: %w", err)
	}
	// The ULID carries only milliseconds; CreatedAt keeps full precision and
	// is what expiry is measured from.
	created := s.now().UTC()
	seq := ulid.MustNew(ulid.Timestamp(created), ulid.DefaultEntropy()).String()

	env := &models.Envelope{
		ID:        id,
		Seq:       seq,
		From:      from,
		To:        to,
		CreatedAt: created,
	}

	sealed, err := s.cipher.Encrypt(body, envelopeAAD(env))
	if err != nil {
		return nil, fmt.Errorf("encrypt message: %w", err)
	}
	env.CipherText = sealed.CipherText
	env.IV = sealed.IV

	data, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}

	// Expiry index first. If a later write fails, Sweep still reaches the
	// envelope, or drops the index entry once it finds the envelope missing.
	if err := s.kv.Put(ctx, expiryKey(seq), []byte(id)); err != nil {
		return nil, fmt.Errorf("index expiry: %w", err)
	}
	if err := s.kv.Put(ctx, envelopeKey(id), data); err != nil {
		return nil, fmt.Errorf("store envelope: %w", err)
	}
	if err := s.kv.Put(ctx, inboxKey(to, seq), []byte(id)); err != nil {
		return nil, fmt.Errorf("index inbox: %w", err)
	}

	return env, nil
}

// Get returns the unexpired messages addressed to to, newest first.
// Envelopes that fail to decrypt are left out of the result.
func (s *Store) Get(ctx context.Context, to string, q Query) ([]models.Message, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	var ids []string
	err := s.kv.Scan(ctx, inboxPrefix+to+":", func(_ string, value []byte) bool {
		ids = append(ids, string(value))
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("scan inbox: %w", err)
	}

	now := s.now()
	out := make([]models.Message, 0, min(limit, len(ids)))

	// Index is ascending by creation time; walk it backwards.
	for i := len(ids) - 1; i >= 0 && len(out) < limit; i-- {
		env, err := s.load(ctx, ids[i])
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if env.To != to || s.expired(env, now) {
			continue
		}
		if !q.Since.IsZero() && env.CreatedAt.Before(q.Since) {
			break
		}

		plaintext, err := s.cipher.Decrypt(crypto.Sealed{CipherText: env.CipherText, IV: env.IV}, envelopeAAD(env))
		if err != nil {
			metrics.DecryptFailures.Inc()
			s.logger.Warn().Str("message_id", env.ID).Msg("dropping undecryptable message")
			continue
		}
		if !json.Valid(plaintext) {
			metrics.DecryptFailures.Inc()
			continue
		}

		out = append(out, models.Message{
			ID:        env.ID,
			From:      env.From,
			To:        env.To,
			Timestamp: env.CreatedAt.UnixMilli(),
			Content:   json.RawMessage(plaintext),
		})
	}

	return out, nil
}

// Delete removes message id on behalf of requester, who must be its sender.
func (s *Store) Delete(ctx context.Context, id, requester string) error {
	env, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if env.From != requester {
		return ErrForbidden
	}

	existed, err := s.kv.Delete(ctx, envelopeKey(id))
	if err != nil {
		return fmt.Errorf("delete envelope: %w", err)
	}
	if !existed {
		// Lost a race with another delete or the reclaimer
		return ErrNotFound
	}
	s.dropIndexes(ctx, env)
	return nil
}

// Count returns the number of stored envelopes, including expired ones not
// yet reclaimed.
func (s *Store) Count(ctx context.Context) (int, error) {
	n := 0
	err := s.kv.Scan(ctx, envelopePrefix, func(string, []byte) bool {
		n++
		return true
	})
	return n, err
}

func (s *Store) load(ctx context.Context, id string) (*models.Envelope, error) {
	data, err := s.kv.Get(ctx, envelopeKey(id))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load envelope: %w", err)
	}

	var env models.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope %s: %w", id, err)
	}
	return &env, nil
}

func (s *Store) dropIndexes(ctx context.Context, env *models.Envelope) {
	if _, err := s.kv.Delete(ctx, inboxKey(env.To, env.Seq)); err != nil {
		s.logger.Warn().Err(err).Str("message_id", env.ID).Msg("failed to drop inbox index")
	}
	if _, err := s.kv.Delete(ctx, expiryKey(env.Seq)); err != nil {
		s.logger.Warn().Err(err).Str("message_id", env.ID).Msg("failed to drop expiry index")
	}
}

func (s *Store) expired(env *models.Envelope, now time.Time) bool {
	return now.Sub(env.CreatedAt) > s.retention
}

func envelopeKey(id string) string {
	return envelopePrefix + id
}

func inboxKey(to, seq string) string {
	return inboxPrefix + to + ":" + seq
}

func expiryKey(seq string) string {
	return expiryPrefix + seq
}

// envelopeAAD binds the ciphertext to its routing metadata so it cannot be
// replayed under another id, sender or recipient.
func envelopeAAD(env *models.Envelope) []byte {
	return []byte(env.ID + "\x00" + env.From + "\x00" + env.To)
}
