package service

import (
	"context"
	"fmt"
	"time"

	"settlement-engine/internal/core/ports"

	"github.com/rs/zerolog"
)

const confirmBatch = 100

// CollectionConfirmer polls the fiat rail for collections whose callback never
// arrived and feeds final answers through the reconciler.
type CollectionConfirmer struct {
	escrows    ports.EscrowRepository
	rail       ports.FiatRail
	reconciler ports.Reconciler
	after      time.Duration
	log        zerolog.Logger
	now        func() time.Time
}

// NewCollectionConfirmer creates a new CollectionConfirmer. Escrows younger
// than after are left to their callback.
func NewCollectionConfirmer(escrows ports.EscrowRepository, rail ports.FiatRail, reconciler ports.Reconciler, after time.Duration, log zerolog.Logger) *CollectionConfirmer {
	return &CollectionConfirmer{
		escrows:    escrows,
		rail:       rail,
		reconciler: reconciler,
		after:      after,
		log:        log.With().Str("component", "confirmer").Logger(),
		now:        time.Now,
	}
}

// Sweep queries every stale collection once. A failing query is logged and
// left for the next sweep.
func (c *CollectionConfirmer) Sweep(ctx context.Context) error {
	stale, err := c.escrows.ListAwaitingFiat(ctx, c.now().Add(-c.after), confirmBatch)
	if err != nil {
		return fmt.Errorf("list escrows awaiting fiat: %w", err)
	}

	var resolved int
	for i := range stale {
		e := &stale[i]
		if ctx.Err() != nil {
			return ctx.Err()
		}

		res, err := c.rail.QueryCollection(ctx, e.ProviderRef())
		if err != nil {
			c.log.Warn().Err(err).Str("escrow_id", e.ID.String()).Str("provider_ref", e.ProviderRef()).Msg("collection status query failed")
			continue
		}
		if res == nil || res.Pending {
			continue
		}
		if res.ProviderRef == "" {
			res.ProviderRef = e.ProviderRef()
		}
		if err := c.reconciler.HandleCollection(ctx, res); err != nil {
			c.log.Error().Err(err).Str("escrow_id", e.ID.String()).Msg("applying queried collection result")
			continue
		}
		resolved++
	}

	if resolved > 0 {
		c.log.Info().Int("resolved", resolved).Int("scanned", len(stale)).Msg("confirm sweep resolved collections")
	}
	return nil
}
