package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"settlement-engine/internal/core/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEscrow(status domain.EscrowStatus) *domain.Escrow {
	now := time.Now().UTC()
	return &domain.Escrow{
		ID:            uuid.New(),
		TransactionID: uuid.New(),
		UserID:        "user-1",
		Type:          domain.EscrowTypeFiatToCrypto,
		Status:        status,
		AmountFiat:    decimal.NewFromInt(1300),
		AmountCrypto:  decimal.NewFromInt(10),
		Chain:         "polygon",
		Token:         "usdt",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestEscrowRepo_CreateAndLookup(t *testing.T) {
	ctx := context.Background()
	repo := NewEscrowRepo()
	e := newEscrow(domain.EscrowStatusPending)
	require.NoError(t, repo.Create(ctx, e))

	assert.ErrorIs(t, repo.Create(ctx, e), domain.ErrDuplicateTransaction)

	got, err := repo.GetByTransactionID(ctx, e.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, e.ID, got.ID)

	missing, err := repo.GetByProviderRef(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, repo.SetProviderRef(ctx, e.ID, "ws_CO_1"))
	got, err = repo.GetByProviderRef(ctx, "ws_CO_1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, e.ID, got.ID)

	other := newEscrow(domain.EscrowStatusPending)
	require.NoError(t, repo.Create(ctx, other))
	assert.ErrorIs(t, repo.SetProviderRef(ctx, other.ID, "ws_CO_1"), domain.ErrDuplicateProviderRef)
}

func TestEscrowRepo_DebitFundsOneEscrow(t *testing.T) {
	ctx := context.Background()
	repo := NewEscrowRepo()

	first := newEscrow(domain.EscrowStatusReserved)
	first.Type = domain.EscrowTypeCryptoToFiat
	first.Details.DebitTxHash = "0xAbC1"
	require.NoError(t, repo.Create(ctx, first))

	second := newEscrow(domain.EscrowStatusReserved)
	second.Type = domain.EscrowTypeCryptoToFiat
	second.Details.DebitTxHash = "0xabc1"
	assert.ErrorIs(t, repo.Create(ctx, second), domain.ErrDuplicateDebit)

	second.Details.DebitTxHash = "0xabc2"
	assert.NoError(t, repo.Create(ctx, second))
}

func TestEscrowRepo_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewEscrowRepo()
	e := newEscrow(domain.EscrowStatusPending)
	require.NoError(t, repo.Create(ctx, e))

	got, _ := repo.GetByID(ctx, e.ID)
	got.Status = domain.EscrowStatusCompleted

	again, _ := repo.GetByID(ctx, e.ID)
	assert.Equal(t, domain.EscrowStatusPending, again.Status)
}

func TestEscrowRepo_TransitionIsConditional(t *testing.T) {
	ctx := context.Background()
	repo := NewEscrowRepo()
	e := newEscrow(domain.EscrowStatusReserved)
	require.NoError(t, repo.Create(ctx, e))

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.Transition(ctx, nil, e.ID,
				[]domain.EscrowStatus{domain.EscrowStatusReserved},
				domain.EscrowUpdate{Status: domain.EscrowStatusProcessing})
			assert.NoError(t, err)
			if ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)

	ok, err := repo.Transition(ctx, nil, uuid.New(), domain.SourcesFor(domain.EscrowStatusFailed),
		domain.EscrowUpdate{Status: domain.EscrowStatusFailed})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEscrowRepo_RecordAttemptSkipsTerminal(t *testing.T) {
	ctx := context.Background()
	repo := NewEscrowRepo()
	e := newEscrow(domain.EscrowStatusCompleted)
	require.NoError(t, repo.Create(ctx, e))

	require.NoError(t, repo.RecordAttempt(ctx, e.ID, 3, time.Now()))
	got, _ := repo.GetByID(ctx, e.ID)
	assert.Equal(t, 0, got.RetryCount)
	assert.Nil(t, got.LastRetryAt)
}

func TestEscrowRepo_ListAwaitingFiat(t *testing.T) {
	ctx := context.Background()
	repo := NewEscrowRepo()

	old := newEscrow(domain.EscrowStatusReserved)
	old.CreatedAt = time.Now().Add(-time.Hour)
	ref := "ws_CO_old"
	old.FiatProviderRef = &ref
	require.NoError(t, repo.Create(ctx, old))

	fresh := newEscrow(domain.EscrowStatusPending)
	ref2 := "ws_CO_new"
	fresh.FiatProviderRef = &ref2
	require.NoError(t, repo.Create(ctx, fresh))

	done := newEscrow(domain.EscrowStatusCompleted)
	done.CreatedAt = time.Now().Add(-time.Hour)
	ref3 := "ws_CO_done"
	done.FiatProviderRef = &ref3
	require.NoError(t, repo.Create(ctx, done))

	payout := newEscrow(domain.EscrowStatusReserved)
	payout.Type = domain.EscrowTypeCryptoToFiat
	payout.CreatedAt = time.Now().Add(-2 * time.Hour)
	ref4 := "AG_payout"
	payout.FiatProviderRef = &ref4
	require.NoError(t, repo.Create(ctx, payout))

	list, err := repo.ListAwaitingFiat(ctx, time.Now().Add(-5*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, old.ID, list[0].ID)
}

func TestReconciliationRepo_ManualReviewLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewReconciliationRepo()
	e := newEscrow(domain.EscrowStatusError)

	require.NoError(t, repo.Append(ctx, nil, domain.NewReconciliationEvent(e, domain.ReconRetriesExhausted, true, nil)))
	require.NoError(t, repo.Append(ctx, nil, domain.NewReconciliationEvent(e, domain.ReconRefundIssued, false, nil)))

	open, err := repo.ListManualReview(ctx, 10)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, domain.ReconRetriesExhausted, open[0].Kind)

	n, err := repo.Resolve(ctx, nil, e.ID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	open, _ = repo.ListManualReview(ctx, 10)
	assert.Empty(t, open)

	all, _ := repo.ListByEscrow(ctx, e.ID)
	assert.Len(t, all, 2)
}

func TestTransactor(t *testing.T) {
	tx, err := NewTransactor().Begin(context.Background())
	require.NoError(t, err)
	assert.NoError(t, tx.Commit(context.Background()))
	assert.NoError(t, tx.Rollback(context.Background()))
}
