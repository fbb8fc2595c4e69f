package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"settlement-engine/internal/adapter/storage/memory"
	"settlement-engine/internal/core/domain"
	"settlement-engine/internal/core/ports"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestExecutor_ProcessQueue_Success(t *testing.T) {
	env := setupSettlement(t)
	env.mainBalance("1000")
	ctx := context.Background()
	e := env.seedEscrow(t, domain.EscrowStatusProcessing)
	itemID := env.admit(t, e, domain.PriorityNormal)

	env.transfers.EXPECT().Transfer(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, order ports.TransferOrder) (string, error) {
			assert.Equal(t, userAddress, order.To)
			assert.Equal(t, domain.WalletMain, order.From)
			assert.Equal(t, "10000000", order.Amount.String())
			return "0xabc", nil
		})

	n, err := env.executor.ProcessQueue(ctx, domain.PriorityNormal)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got := env.reload(t, e.ID)
	assert.Equal(t, domain.EscrowStatusCompleted, got.Status)
	require.NotNil(t, got.CryptoTxHash)
	assert.Equal(t, "0xabc", *got.CryptoTxHash)
	assert.NotNil(t, got.CompletedAt)
	assert.Zero(t, got.RetryCount)

	item, err := env.store.Get(ctx, itemID)
	require.NoError(t, err)
	assert.Nil(t, item, "finished items leave the store")
	_, active, err := env.store.ActiveFor(ctx, e.ID)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestExecutor_RetriesThenExhausts(t *testing.T) {
	env := setupSettlement(t)
	env.mainBalance("1000")
	ctx := context.Background()
	e := env.seedEscrow(t, domain.EscrowStatusProcessing)
	env.admit(t, e, domain.PriorityNormal)

	timeout := &domain.TransferError{Kind: domain.TransferTimeout, Op: "transfer", Err: context.DeadlineExceeded}
	env.transfers.EXPECT().Transfer(gomock.Any(), gomock.Any()).Return("", timeout).Times(5)

	for attempt := 1; attempt <= 5; attempt++ {
		n, err := env.executor.ProcessQueue(ctx, domain.PriorityNormal)
		require.NoError(t, err)
		require.Equal(t, 1, n, "attempt %d", attempt)

		got := env.reload(t, e.ID)
		assert.Equal(t, attempt, got.RetryCount)
		if attempt < 5 {
			assert.Equal(t, domain.EscrowStatusProcessing, got.Status)
			env.clock = env.clock.Add(25 * time.Hour)
			require.NoError(t, env.retries.PromoteDue(ctx))
		}
	}

	got := env.reload(t, e.ID)
	assert.Equal(t, domain.EscrowStatusError, got.Status)
	assert.Equal(t, 5, got.RetryCount)
	assert.True(t, got.Details.ManualReview)
	assert.Contains(t, got.Details.ErrorDetail, "timeout")
	assert.Nil(t, got.CryptoTxHash)

	evs := env.events(t, e.ID)
	require.Len(t, evs, 1)
	assert.Equal(t, domain.ReconRetriesExhausted, evs[0].Kind)
	assert.True(t, evs[0].ManualReview)
	assert.Equal(t, "5", evs[0].Detail["attempts"])

	review, err := env.recon.ListManualReview(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, review, 1)

	_, active, err := env.store.ActiveFor(ctx, e.ID)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestExecutor_RetryIsScheduledWithBackoff(t *testing.T) {
	env := setupSettlement(t)
	env.mainBalance("1000")
	ctx := context.Background()
	e := env.seedEscrow(t, domain.EscrowStatusProcessing)
	env.admit(t, e, domain.PriorityHigh)

	env.transfers.EXPECT().Transfer(gomock.Any(), gomock.Any()).
		Return("", &domain.TransferError{Kind: domain.TransferRejected, Op: "send transaction", Err: errors.New("nonce too low")})

	_, err := env.executor.ProcessQueue(ctx, domain.PriorityHigh)
	require.NoError(t, err)

	depths, err := env.store.Depth(ctx)
	require.NoError(t, err)
	for _, d := range depths {
		if d.Priority == domain.PriorityHigh {
			assert.Zero(t, d.Queued)
			assert.Zero(t, d.Processing)
			assert.Equal(t, int64(1), d.Retrying)
		}
	}

	// 30s * 2^0 * (0.5 + 0.5) = 30s
	env.clock = env.clock.Add(29 * time.Second)
	require.NoError(t, env.retries.PromoteDue(ctx))
	n, err := env.store.Pending(ctx, domain.PriorityHigh)
	require.NoError(t, err)
	assert.Zero(t, n)

	env.clock = env.clock.Add(2 * time.Second)
	require.NoError(t, env.retries.PromoteDue(ctx))
	n, err = env.store.Pending(ctx, domain.PriorityHigh)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestExecutor_PermanentErrorSkipsRetries(t *testing.T) {
	env := setupSettlement(t)
	env.mainBalance("1000")
	ctx := context.Background()
	e := env.seedEscrow(t, domain.EscrowStatusProcessing)
	env.admit(t, e, domain.PriorityNormal)

	env.transfers.EXPECT().Transfer(gomock.Any(), gomock.Any()).
		Return("", &domain.TransferError{Kind: domain.TransferInsufficientBalance, Op: "transfer"})

	_, err := env.executor.ProcessQueue(ctx, domain.PriorityNormal)
	require.NoError(t, err)

	got := env.reload(t, e.ID)
	assert.Equal(t, domain.EscrowStatusError, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.True(t, got.Details.ManualReview)
	assert.Equal(t, []domain.ReconciliationKind{domain.ReconRetriesExhausted}, kinds(env.events(t, e.ID)))
}

func TestExecutor_TerminalEscrowIsSkipped(t *testing.T) {
	env := setupSettlement(t)
	env.mainBalance("1000")
	ctx := context.Background()
	e := env.seedEscrow(t, domain.EscrowStatusProcessing)
	itemID := env.admit(t, e, domain.PriorityNormal)

	// An operator closed the escrow while the item waited.
	_, err := env.escrows.Transition(ctx, nil, e.ID,
		[]domain.EscrowStatus{domain.EscrowStatusProcessing},
		domain.EscrowUpdate{Status: domain.EscrowStatusFailed})
	require.NoError(t, err)

	n, err := env.executor.ProcessQueue(ctx, domain.PriorityNormal)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	item, err := env.store.Get(ctx, itemID)
	require.NoError(t, err)
	assert.Nil(t, item)
	assert.Equal(t, domain.EscrowStatusFailed, env.reload(t, e.ID).Status)
}

func TestExecutor_Drain_HighPriorityStarvesLower(t *testing.T) {
	env := setupSettlement(t)
	env.mainBalance("1000")
	env.executor.cfg.BatchSize = 1
	ctx := context.Background()

	high1 := env.seedEscrow(t, domain.EscrowStatusProcessing)
	high2 := env.seedEscrow(t, domain.EscrowStatusProcessing)
	normal := env.seedEscrow(t, domain.EscrowStatusProcessing)
	env.admit(t, high1, domain.PriorityHigh)
	env.admit(t, high2, domain.PriorityHigh)
	env.admit(t, normal, domain.PriorityNormal)

	env.transfers.EXPECT().Transfer(gomock.Any(), gomock.Any()).Return("0x1", nil)

	require.NoError(t, env.executor.Drain(ctx))
	assert.Equal(t, domain.EscrowStatusCompleted, env.reload(t, high1.ID).Status, "FIFO within a priority")
	assert.Equal(t, domain.EscrowStatusProcessing, env.reload(t, high2.ID).Status)
	assert.Equal(t, domain.EscrowStatusProcessing, env.reload(t, normal.ID).Status, "normal waits while high is non-empty")

	// The second pass empties high and moves on to normal.
	env.transfers.EXPECT().Transfer(gomock.Any(), gomock.Any()).Return("0x2", nil).Times(2)
	require.NoError(t, env.executor.Drain(ctx))
	assert.Equal(t, domain.EscrowStatusCompleted, env.reload(t, high2.ID).Status)
	assert.Equal(t, domain.EscrowStatusCompleted, env.reload(t, normal.ID).Status)
}

func TestExecutor_ProcessQueue_LeaseHeldElsewhere(t *testing.T) {
	env := setupSettlement(t)
	env.mainBalance("1000")
	ctx := context.Background()
	e := env.seedEscrow(t, domain.EscrowStatusProcessing)
	env.admit(t, e, domain.PriorityNormal)

	_, ok, err := env.store.AcquireLease(ctx, domain.PriorityNormal, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	n, err := env.executor.ProcessQueue(ctx, domain.PriorityNormal)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, domain.EscrowStatusProcessing, env.reload(t, e.ID).Status)
}

func TestExecutor_RecoverStalled(t *testing.T) {
	env := setupSettlement(t)
	env.mainBalance("1000")
	ctx := context.Background()
	e := env.seedEscrow(t, domain.EscrowStatusProcessing)
	env.admit(t, e, domain.PriorityLow)

	// A crashed executor popped the item; its claim lapses a second later.
	_, err := env.store.PopBatch(ctx, domain.PriorityLow, 10, "crashed", time.Second)
	require.NoError(t, err)

	require.NoError(t, env.executor.RecoverStalled(ctx))
	n, err := env.store.Pending(ctx, domain.PriorityLow)
	require.NoError(t, err)
	assert.Zero(t, n, "claim still live")

	env.redis.FastForward(2 * time.Second)
	require.NoError(t, env.executor.RecoverStalled(ctx))
	n, err = env.store.Pending(ctx, domain.PriorityLow)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	env.transfers.EXPECT().Transfer(gomock.Any(), gomock.Any()).Return("0xfeed", nil)
	_, err = env.executor.ProcessQueue(ctx, domain.PriorityLow)
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowStatusCompleted, env.reload(t, e.ID).Status)
}

func TestExecutor_InFlightTransferIsNotRequeued(t *testing.T) {
	env := setupSettlement(t)
	env.mainBalance("1000")
	ctx := context.Background()
	e := env.seedEscrow(t, domain.EscrowStatusProcessing)
	env.admit(t, e, domain.PriorityNormal)

	started := make(chan struct{})
	release := make(chan struct{})
	env.transfers.EXPECT().Transfer(gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, ports.TransferOrder) (string, error) {
			close(started)
			<-release
			return "0xonce", nil
		}).Times(1)

	finished := make(chan error, 1)
	go func() {
		_, err := env.executor.ProcessQueue(ctx, domain.PriorityNormal)
		finished <- err
	}()
	<-started

	// The queue lease lapses while the transfer is still running.
	env.redis.FastForward(31 * time.Second)

	require.NoError(t, env.executor.RecoverStalled(ctx))
	n, err := env.store.Pending(ctx, domain.PriorityNormal)
	require.NoError(t, err)
	assert.Zero(t, n, "in-flight item stays claimed")

	popped, err := env.executor.ProcessQueue(ctx, domain.PriorityNormal)
	require.NoError(t, err)
	assert.Zero(t, popped)

	close(release)
	require.NoError(t, <-finished)
	assert.Equal(t, domain.EscrowStatusCompleted, env.reload(t, e.ID).Status)
}

func TestExecutor_EscrowLoadFailureDefersWithoutAttempt(t *testing.T) {
	env := setupSettlement(t)
	ctx := context.Background()
	e := env.seedEscrow(t, domain.EscrowStatusProcessing)
	itemID := env.admit(t, e, domain.PriorityNormal)

	broken := &unreadableEscrows{EscrowRepo: env.escrows, err: errors.New("connection reset")}
	x := NewExecutor(broken, env.recon, env.transactor, env.store, env.transfers, env.registry, env.retries, env.fees,
		ExecutorConfig{BatchSize: 10, LeaseTTL: 30 * time.Second, MaxAttempts: 5, TransferTimeout: 5 * time.Second}, zerolog.Nop())

	_, err := x.ProcessQueue(ctx, domain.PriorityNormal)
	require.NoError(t, err)

	item, err := env.store.Get(ctx, itemID)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Zero(t, item.Attempts)

	depth, err := env.store.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth[1].Retrying)
	assert.Zero(t, env.reload(t, e.ID).RetryCount)
}

// unreadableEscrows fails every lookup by id.
type unreadableEscrows struct {
	*memory.EscrowRepo
	err error
}

func (u *unreadableEscrows) GetByID(context.Context, uuid.UUID) (*domain.Escrow, error) {
	return nil, u.err
}

func TestExecutor_CollectsFeeAfterSuccess(t *testing.T) {
	env := setupSettlement(t)
	env.mainBalance("1000")
	ctx := context.Background()
	e := env.seedEscrow(t, domain.EscrowStatusProcessing, func(e *domain.Escrow) {
		e.Details.Fee = "0.5"
	})
	env.admit(t, e, domain.PriorityNormal)

	env.transfers.EXPECT().Transfer(gomock.Any(), toAddress(userAddress)).Return("0xpayout", nil)
	env.transfers.EXPECT().Transfer(gomock.Any(), toAddress(feesAddress)).
		DoAndReturn(func(_ context.Context, order ports.TransferOrder) (string, error) {
			assert.Equal(t, "500000", order.Amount.String())
			return "0xfee", nil
		})

	_, err := env.executor.ProcessQueue(ctx, domain.PriorityNormal)
	require.NoError(t, err)
	env.fees.Wait()

	got := env.reload(t, e.ID)
	assert.Equal(t, domain.EscrowStatusCompleted, got.Status)
	assert.Equal(t, "0xfee", env.feeTxHash(t, got.ID))
}

func TestGroupItems(t *testing.T) {
	a1 := queuedItem(domain.PriorityNormal)
	b := queuedItem(domain.PriorityNormal)
	b.ToAddress = "0x3333333333333333333333333333333333333333"
	a2 := queuedItem(domain.PriorityNormal)

	groups := groupItems([]*domain.QueuedTransaction{a1, b, a2})
	require.Len(t, groups, 2)
	assert.Equal(t, []*domain.QueuedTransaction{a1, a2}, groups[0])
	assert.Equal(t, []*domain.QueuedTransaction{b}, groups[1])
}
