package messages

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/RaphaelLcs-financial/openclaw-hub/internal/metrics"
)

// Sweep removes every envelope older than the retention period and returns
// how many it removed. Running it again with nothing new to expire is a no-op.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	cutoff := now.Add(-s.retention)

	type entry struct {
		seq string
		id  string
	}
	var batch []entry

	// The expiry index is ordered by creation time, so the first live entry
	// ends the scan.
	err := s.kv.Scan(ctx, expiryPrefix, func(key string, value []byte) bool {
		seq := key[len(expiryPrefix):]
		if created, ok := seqTime(seq); ok && !created.Before(cutoff) {
			return false
		}
		batch = append(batch, entry{seq: seq, id: string(value)})
		return true
	})
	if err != nil {
		return 0, fmt.Errorf("scan expiry index: %w", err)
	}

	removed := 0
	for _, e := range batch {
		if err := ctx.Err(); err != nil {
			return removed, err
		}

		env, err := s.load(ctx, e.id)
		if errors.Is(err, ErrNotFound) {
			// Sender already deleted it; only the index entry is left.
			if _, err := s.kv.Delete(ctx, expiryKey(e.seq)); err != nil {
				return removed, fmt.Errorf("drop expiry index: %w", err)
			}
			continue
		}
		if err != nil {
			s.logger.Warn().Err(err).Str("message_id", e.id).Msg("skipping unreadable envelope")
			continue
		}
		if !s.expired(env, now) {
			continue
		}

		existed, err := s.kv.Delete(ctx, envelopeKey(env.ID))
		if err != nil {
			return removed, fmt.Errorf("delete envelope: %w", err)
		}
		s.dropIndexes(ctx, env)
		if existed {
			removed++
			metrics.MessagesExpired.Inc()
		}
	}

	return removed, nil
}

// RunReclaimer sweeps every interval until ctx is cancelled.
func (s *Store) RunReclaimer(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info().
		Dur("interval", interval).
		Dur("retention", s.retention).
		Msg("Message reclaimer started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Message reclaimer stopped")
			return
		case <-ticker.C:
			n, err := s.Sweep(ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					s.logger.Error().Err(err).Msg("message sweep failed")
				}
				continue
			}
			if n > 0 {
				s.logger.Info().Int("expired", n).Msg("Reclaimed expired messages")
			}
		}
	}
}

func seqTime(seq string) (time.Time, bool) {
	id, err := ulid.ParseStrict(seq)
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(id.Time()), true
}
