package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"settlement-engine/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ReconciliationRepo implements ports.ReconciliationRepository.
type ReconciliationRepo struct {
	pool Pool
}

// NewReconciliationRepo creates a new ReconciliationRepo.
func NewReconciliationRepo(pool Pool) *ReconciliationRepo {
	return &ReconciliationRepo{pool: pool}
}

// Append inserts an event, inside tx when given.
func (r *ReconciliationRepo) Append(ctx context.Context, tx pgx.Tx, ev *domain.ReconciliationEvent) error {
	detail, err := json.Marshal(ev.Detail)
	if err != nil {
		return fmt.Errorf("marshal event detail: %w", err)
	}

	query := `INSERT INTO reconciliation_events (id, escrow_id, transaction_id, provider_ref, kind, manual_review, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err = pick(r.pool, tx).Exec(ctx, query,
		ev.ID, ev.EscrowID, ev.TransactionID, ev.ProviderRef,
		string(ev.Kind), ev.ManualReview, detail, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert reconciliation event: %w", err)
	}
	return nil
}

// ListManualReview returns unresolved manual-review events, oldest first.
func (r *ReconciliationRepo) ListManualReview(ctx context.Context, limit int) ([]domain.ReconciliationEvent, error) {
	query := `SELECT id, escrow_id, transaction_id, provider_ref, kind, manual_review, detail, created_at, resolved_at
		FROM reconciliation_events WHERE manual_review AND resolved_at IS NULL
		ORDER BY created_at ASC LIMIT $1`

	return r.list(ctx, query, limit)
}

// ListByEscrow returns the full event history of an escrow.
func (r *ReconciliationRepo) ListByEscrow(ctx context.Context, escrowID uuid.UUID) ([]domain.ReconciliationEvent, error) {
	query := `SELECT id, escrow_id, transaction_id, provider_ref, kind, manual_review, detail, created_at, resolved_at
		FROM reconciliation_events WHERE escrow_id = $1
		ORDER BY created_at ASC`

	return r.list(ctx, query, escrowID)
}

// Resolve marks the open manual-review events of an escrow as handled.
func (r *ReconciliationRepo) Resolve(ctx context.Context, tx pgx.Tx, escrowID uuid.UUID, at time.Time) (int64, error) {
	query := `UPDATE reconciliation_events SET resolved_at = $1
		WHERE escrow_id = $2 AND manual_review AND resolved_at IS NULL`

	tag, err := pick(r.pool, tx).Exec(ctx, query, at, escrowID)
	if err != nil {
		return 0, fmt.Errorf("resolve reconciliation events: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *ReconciliationRepo) list(ctx context.Context, query string, args ...any) ([]domain.ReconciliationEvent, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reconciliation events: %w", err)
	}
	defer rows.Close()

	var out []domain.ReconciliationEvent
	for rows.Next() {
		var (
			ev     domain.ReconciliationEvent
			kind   string
			detail []byte
		)
		if err := rows.Scan(
			&ev.ID, &ev.EscrowID, &ev.TransactionID, &ev.ProviderRef,
			&kind, &ev.ManualReview, &detail, &ev.CreatedAt, &ev.ResolvedAt,
		); err != nil {
			return nil, fmt.Errorf("scan reconciliation event: %w", err)
		}
		ev.Kind = domain.ReconciliationKind(kind)
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &ev.Detail); err != nil {
				return nil, fmt.Errorf("unmarshal event detail: %w", err)
			}
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reconciliation rows: %w", err)
	}
	return out, nil
}
