package service

import (
	"context"
	"testing"

	"settlement-engine/internal/core/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// stuckEscrow drives a direct buy into error through the executor.
func stuckEscrow(t *testing.T, env *settlementEnv) *domain.Escrow {
	t.Helper()
	ctx := context.Background()
	e := env.seedEscrow(t, domain.EscrowStatusProcessing)
	env.admit(t, e, domain.PriorityNormal)
	env.transfers.EXPECT().Transfer(gomock.Any(), gomock.Any()).
		Return("", &domain.TransferError{Kind: domain.TransferSignerUnavailable, Op: "transfer"})
	_, err := env.executor.ProcessQueue(ctx, domain.PriorityNormal)
	require.NoError(t, err)
	require.Equal(t, domain.EscrowStatusError, env.reload(t, e.ID).Status)
	return e
}

func TestAdminService_GetEscrow(t *testing.T) {
	env := setupSettlement(t)
	env.mainBalance("1000")
	e := stuckEscrow(t, env)

	view, err := env.admin.GetEscrow(context.Background(), e.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, e.ID, view.Escrow.ID)
	assert.Equal(t, []domain.ReconciliationKind{domain.ReconRetriesExhausted}, kinds(view.Events))

	_, err = env.admin.GetEscrow(context.Background(), uuid.New())
	assertAppError(t, err, "ESC_001")
}

func TestAdminService_Override_ResolvesManualReview(t *testing.T) {
	env := setupSettlement(t)
	env.mainBalance("1000")
	ctx := context.Background()
	e := stuckEscrow(t, env)

	review, err := env.admin.ManualReview(ctx, 0)
	require.NoError(t, err)
	require.Len(t, review, 1)

	got, err := env.admin.Override(ctx, e.TransactionID, domain.EscrowStatusCompleted, "paid out manually from treasury", "ops@example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowStatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)

	review, err = env.admin.ManualReview(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, review)

	evs := env.events(t, e.ID)
	require.Len(t, evs, 2)
	assert.Equal(t, domain.ReconAdminOverride, evs[1].Kind)
	assert.Equal(t, "error", evs[1].Detail["from"])
	assert.Equal(t, "completed", evs[1].Detail["to"])
	assert.Equal(t, "ops@example.com", evs[1].Detail["actor"])
	assert.Equal(t, "1", evs[1].Detail["resolved_events"])
}

func TestAdminService_Override_Validation(t *testing.T) {
	env := setupSettlement(t)
	ctx := context.Background()
	e := env.seedEscrow(t, domain.EscrowStatusFailed)

	_, err := env.admin.Override(ctx, e.TransactionID, "refunded", "x", "ops")
	assertAppError(t, err, "VAL_000")
	_, err = env.admin.Override(ctx, e.TransactionID, domain.EscrowStatusCompleted, "  ", "ops")
	assertAppError(t, err, "VAL_000")
	_, err = env.admin.Override(ctx, uuid.New(), domain.EscrowStatusCompleted, "x", "ops")
	assertAppError(t, err, "ESC_001")

	got, err := env.admin.Override(ctx, e.TransactionID, domain.EscrowStatusError, "chargeback", "ops")
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowStatusError, got.Status)
	assert.Equal(t, "override: chargeback", got.Details.ErrorDetail)
}

func TestAdminService_Retry(t *testing.T) {
	env := setupSettlement(t)
	env.mainBalance("1000")
	ctx := context.Background()
	e := stuckEscrow(t, env)

	got, itemID, err := env.admin.Retry(ctx, e.TransactionID, "ops")
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowStatusProcessing, got.Status)
	assert.Zero(t, got.RetryCount)
	assert.Equal(t, itemID.String(), got.Details.QueuedTxID)

	item, err := env.store.Get(ctx, itemID)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, domain.PriorityHigh, item.Priority)

	review, err := env.admin.ManualReview(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, review)

	env.transfers.EXPECT().Transfer(gomock.Any(), gomock.Any()).Return("0xsecond", nil)
	require.NoError(t, env.executor.Drain(ctx))
	assert.Equal(t, domain.EscrowStatusCompleted, env.reload(t, e.ID).Status)
}

func TestAdminService_Retry_Rejections(t *testing.T) {
	env := setupSettlement(t)
	ctx := context.Background()

	processing := env.seedEscrow(t, domain.EscrowStatusProcessing)
	_, _, err := env.admin.Retry(ctx, processing.TransactionID, "ops")
	assertAppError(t, err, "ESC_002")

	deposit := env.seedEscrow(t, domain.EscrowStatusError, func(e *domain.Escrow) { e.Details.DirectBuy = false })
	_, _, err = env.admin.Retry(ctx, deposit.TransactionID, "ops")
	assertAppError(t, err, "VAL_000")
}

func TestAdminService_Retry_UnfundableStaysInError(t *testing.T) {
	env := setupSettlement(t)
	env.mainBalance("1")
	ctx := context.Background()
	e := env.seedEscrow(t, domain.EscrowStatusError)

	_, _, err := env.admin.Retry(ctx, e.TransactionID, "ops")
	assertAppError(t, err, "LIQ_001")
	assert.Equal(t, domain.EscrowStatusError, env.reload(t, e.ID).Status)
}

func TestAdminService_QueueDepth(t *testing.T) {
	env := setupSettlement(t)
	env.mainBalance("1000")
	e := env.seedEscrow(t, domain.EscrowStatusProcessing)
	env.admit(t, e, domain.PriorityLow)

	depths, err := env.admin.QueueDepth(context.Background())
	require.NoError(t, err)
	require.Len(t, depths, 3)
	for _, d := range depths {
		if d.Priority == domain.PriorityLow {
			assert.Equal(t, int64(1), d.Queued)
		} else {
			assert.Zero(t, d.Queued)
		}
	}
}
