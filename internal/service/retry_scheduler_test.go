package service

import (
	"context"
	"testing"
	"time"

	"settlement-engine/internal/core/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoff(t *testing.T) {
	base := 30 * time.Second
	ceiling := 24 * time.Hour

	tests := []struct {
		name     string
		attempts int
		jitter   float64
		want     time.Duration
	}{
		{"first attempt, mid jitter", 1, 0.5, 30 * time.Second},
		{"first attempt, no jitter", 1, 0, 15 * time.Second},
		{"third attempt doubles twice", 3, 0.5, 2 * time.Minute},
		{"zero attempts treated as one", 0, 0.5, 30 * time.Second},
		{"capped", 20, 0.5, 24 * time.Hour},
		{"overflow capped", 5000, 0.9, 24 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Backoff(base, ceiling, tt.attempts, tt.jitter))
		})
	}
}

func TestBackoff_JitterRange(t *testing.T) {
	for attempts := 1; attempts <= 5; attempts++ {
		low := Backoff(time.Second, time.Hour, attempts, 0)
		high := Backoff(time.Second, time.Hour, attempts, 0.999)
		nominal := time.Second << (attempts - 1)
		assert.Equal(t, nominal/2, low)
		assert.Less(t, high, nominal*3/2)
		assert.Greater(t, high, nominal)
	}
}

func queuedItem(p domain.Priority) *domain.QueuedTransaction {
	return &domain.QueuedTransaction{
		ID:        uuid.New(),
		EscrowID:  uuid.New(),
		ToAddress: userAddress,
		Amount:    decimal.NewFromInt(5),
		Chain:     testChain,
		Token:     testToken,
		Priority:  p,
		CreatedAt: time.Now().UTC(),
	}
}

func TestRetryScheduler_ScheduleAndPromote(t *testing.T) {
	env := setupSettlement(t)
	ctx := context.Background()

	item := queuedItem(domain.PriorityLow)
	_, _, err := env.store.Enqueue(ctx, item, time.Hour)
	require.NoError(t, err)
	popped, err := env.store.PopBatch(ctx, domain.PriorityLow, 1, "worker", time.Minute)
	require.NoError(t, err)
	require.Len(t, popped, 1)

	popped[0].Attempts = 2
	due, err := env.retries.Schedule(ctx, popped[0])
	require.NoError(t, err)
	assert.Equal(t, env.clock.Add(time.Minute), due)

	// Not due yet.
	require.NoError(t, env.retries.PromoteDue(ctx))
	n, err := env.store.Pending(ctx, domain.PriorityLow)
	require.NoError(t, err)
	assert.Zero(t, n)

	env.clock = env.clock.Add(61 * time.Second)
	require.NoError(t, env.retries.PromoteDue(ctx))
	n, err = env.store.Pending(ctx, domain.PriorityLow)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "item returns to its original queue")

	back, err := env.store.Get(ctx, item.ID)
	require.NoError(t, err)
	require.NotNil(t, back)
	assert.Equal(t, 2, back.Attempts)
}

func TestRetryScheduler_ScheduleRequiresProcessing(t *testing.T) {
	env := setupSettlement(t)
	ctx := context.Background()

	item := queuedItem(domain.PriorityNormal)
	_, _, err := env.store.Enqueue(ctx, item, time.Hour)
	require.NoError(t, err)

	item.Attempts = 1
	_, err = env.retries.Schedule(ctx, item)
	require.ErrorIs(t, err, domain.ErrNotProcessing)
}
