package ports

import (
	"context"
	"time"

	"settlement-engine/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// EscrowRepository persists escrow records.
// Lookups return (nil, nil) when nothing matches.
// Methods accepting pgx.Tx run outside a transaction when tx is nil.
type EscrowRepository interface {
	Create(ctx context.Context, escrow *domain.Escrow) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Escrow, error)
	GetByTransactionID(ctx context.Context, transactionID uuid.UUID) (*domain.Escrow, error)
	GetByProviderRef(ctx context.Context, providerRef string) (*domain.Escrow, error)
	SetProviderRef(ctx context.Context, id uuid.UUID, providerRef string) error
	// Transition applies upd only if the stored status is one of from.
	// It reports whether a row changed, which makes every transition safe to repeat.
	Transition(ctx context.Context, tx pgx.Tx, id uuid.UUID, from []domain.EscrowStatus, upd domain.EscrowUpdate) (bool, error)
	// RecordAttempt stores the executor's attempt counter on a non-terminal escrow.
	RecordAttempt(ctx context.Context, id uuid.UUID, retryCount int, at time.Time) error
	// ListAwaitingFiat returns collections still waiting on a fiat callback that were created before olderThan.
	ListAwaitingFiat(ctx context.Context, olderThan time.Time, limit int) ([]domain.Escrow, error)
}

// ReconciliationRepository is the append-only reconciliation event sink.
type ReconciliationRepository interface {
	Append(ctx context.Context, tx pgx.Tx, event *domain.ReconciliationEvent) error
	ListManualReview(ctx context.Context, limit int) ([]domain.ReconciliationEvent, error)
	ListByEscrow(ctx context.Context, escrowID uuid.UUID) ([]domain.ReconciliationEvent, error)
	// Resolve closes every open manual-review event of an escrow.
	Resolve(ctx context.Context, tx pgx.Tx, escrowID uuid.UUID, at time.Time) (int64, error)
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// QueueStore holds the settlement queues: per-priority FIFO lists of item ids,
// processing sublists, time-ordered retry sets, the dedup index and the
// per-priority lease.
type QueueStore interface {
	// Enqueue stores item unless the escrow already has an active item, in which
	// case the existing id is returned with created=false.
	Enqueue(ctx context.Context, item *domain.QueuedTransaction, dedupTTL time.Duration) (id uuid.UUID, created bool, err error)
	Get(ctx context.Context, id uuid.UUID) (*domain.QueuedTransaction, error)
	ActiveFor(ctx context.Context, escrowID uuid.UUID) (uuid.UUID, bool, error)

	AcquireLease(ctx context.Context, p domain.Priority, ttl time.Duration) (token string, ok bool, err error)
	RenewLease(ctx context.Context, p domain.Priority, token string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, p domain.Priority, token string) error

	// PopBatch moves up to n items from the head of the queue into its processing
	// sublist and claims each one for owner until claimTTL elapses.
	PopBatch(ctx context.Context, p domain.Priority, n int, owner string, claimTTL time.Duration) ([]*domain.QueuedTransaction, error)
	// ExtendClaims renews the claims owner still holds on ids.
	ExtendClaims(ctx context.Context, p domain.Priority, owner string, ttl time.Duration, ids ...uuid.UUID) (int, error)
	// Finish drops a terminal item from processing, the item arena and the dedup index.
	Finish(ctx context.Context, item *domain.QueuedTransaction) error
	// ScheduleRetry saves item and moves it from processing to the retry set at due.
	ScheduleRetry(ctx context.Context, item *domain.QueuedTransaction, due time.Time, dedupTTL time.Duration) error
	// PromoteDue moves retry items due at or before now back to the tail of their queue.
	PromoteDue(ctx context.Context, p domain.Priority, now time.Time, limit int) (int, error)
	// RequeueStalled returns processing items whose claim expired to the queue tail.
	RequeueStalled(ctx context.Context, p domain.Priority) (int, error)

	Pending(ctx context.Context, p domain.Priority) (int64, error)
	Depth(ctx context.Context) ([]domain.QueueDepth, error)
}
