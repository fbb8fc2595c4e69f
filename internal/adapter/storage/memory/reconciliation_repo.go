package memory

import (
	"context"
	"sync"
	"time"

	"settlement-engine/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ReconciliationRepo implements ports.ReconciliationRepository in memory.
type ReconciliationRepo struct {
	mu     sync.RWMutex
	events []domain.ReconciliationEvent
}

func NewReconciliationRepo() *ReconciliationRepo {
	return &ReconciliationRepo{}
}

func (r *ReconciliationRepo) Append(ctx context.Context, tx pgx.Tx, ev *domain.ReconciliationEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *ev)
	return nil
}

func (r *ReconciliationRepo) ListManualReview(ctx context.Context, limit int) ([]domain.ReconciliationEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.ReconciliationEvent
	for _, ev := range r.events {
		if ev.ManualReview && ev.ResolvedAt == nil {
			out = append(out, ev)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (r *ReconciliationRepo) ListByEscrow(ctx context.Context, escrowID uuid.UUID) ([]domain.ReconciliationEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.ReconciliationEvent
	for _, ev := range r.events {
		if ev.EscrowID != nil && *ev.EscrowID == escrowID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (r *ReconciliationRepo) Resolve(ctx context.Context, tx pgx.Tx, escrowID uuid.UUID, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for i := range r.events {
		ev := &r.events[i]
		if ev.EscrowID != nil && *ev.EscrowID == escrowID && ev.ManualReview && ev.ResolvedAt == nil {
			t := at
			ev.ResolvedAt = &t
			n++
		}
	}
	return n, nil
}
