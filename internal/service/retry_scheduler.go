package service

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"settlement-engine/internal/core/domain"
	"settlement-engine/internal/core/ports"
	"settlement-engine/internal/metrics"

	"github.com/rs/zerolog"
)

const promoteBatch = 500

// Backoff returns base * 2^(attempts-1) * (0.5 + jitter), capped at ceiling.
// jitter is expected in [0, 1).
func Backoff(base, ceiling time.Duration, attempts int, jitter float64) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := float64(base) * math.Pow(2, float64(attempts-1)) * (0.5 + jitter)
	if d <= 0 || d > float64(ceiling) || math.IsInf(d, 0) || math.IsNaN(d) {
		return ceiling
	}
	return time.Duration(d)
}

// RetryScheduler parks failed queue items in the time-ordered retry sets and
// moves them back to their queues once due.
type RetryScheduler struct {
	store    ports.QueueStore
	base     time.Duration
	ceiling  time.Duration
	dedupTTL time.Duration
	log      zerolog.Logger
	now      func() time.Time
	jitter   func() float64
}

// NewRetryScheduler creates a new RetryScheduler.
func NewRetryScheduler(store ports.QueueStore, base, ceiling, dedupTTL time.Duration, log zerolog.Logger) *RetryScheduler {
	return &RetryScheduler{
		store:    store,
		base:     base,
		ceiling:  ceiling,
		dedupTTL: dedupTTL,
		log:      log.With().Str("component", "retry_scheduler").Logger(),
		now:      time.Now,
		jitter:   rand.Float64,
	}
}

// Schedule moves item from processing into its retry set. item.Attempts must
// already count the failed attempt.
func (s *RetryScheduler) Schedule(ctx context.Context, item *domain.QueuedTransaction) (time.Time, error) {
	return s.schedule(ctx, item, item.Attempts)
}

// Defer parks item for one base backoff without counting an attempt, for
// items that could not be tried at all.
func (s *RetryScheduler) Defer(ctx context.Context, item *domain.QueuedTransaction) (time.Time, error) {
	return s.schedule(ctx, item, 1)
}

func (s *RetryScheduler) schedule(ctx context.Context, item *domain.QueuedTransaction, attempts int) (time.Time, error) {
	delay := Backoff(s.base, s.ceiling, attempts, s.jitter())
	due := s.now().Add(delay)
	if err := s.store.ScheduleRetry(ctx, item, due, s.dedupTTL); err != nil {
		if errors.Is(err, domain.ErrNotProcessing) {
			s.log.Warn().
				Str("item_id", item.ID.String()).
				Str("escrow_id", item.EscrowID.String()).
				Msg("item left processing before its retry was scheduled")
		}
		return time.Time{}, err
	}

	metrics.RetriesScheduledTotal.WithLabelValues(string(item.Priority)).Inc()
	s.log.Info().
		Str("item_id", item.ID.String()).
		Str("escrow_id", item.EscrowID.String()).
		Str("priority", string(item.Priority)).
		Int("attempt", item.Attempts).
		Dur("delay", delay).
		Time("due", due).
		Msg("retry scheduled")
	return due, nil
}

// PromoteDue re-pushes every due item to the tail of its original queue.
func (s *RetryScheduler) PromoteDue(ctx context.Context) error {
	now := s.now()
	var errs []error
	for _, p := range domain.Priorities {
		n, err := s.store.PromoteDue(ctx, p, now, promoteBatch)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if n > 0 {
			s.log.Info().Str("priority", string(p)).Int("count", n).Msg("due retries promoted")
		}
	}
	return errors.Join(errs...)
}
