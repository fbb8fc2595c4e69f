package service

import (
	"context"
	"math/big"
	"testing"
	"time"

	"settlement-engine/internal/adapter/storage/memory"
	redisstore "settlement-engine/internal/adapter/storage/redis"
	"settlement-engine/internal/core/domain"
	"settlement-engine/internal/core/ports"
	"settlement-engine/internal/core/ports/mocks"
	"settlement-engine/pkg/apperror"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const (
	testChain    = "polygon"
	testToken    = "usdt"
	mainAddress  = "0x1111111111111111111111111111111111111111"
	feesAddress  = "0x2222222222222222222222222222222222222222"
	userAddress  = "0x52908400098527886E0F7030069857D2E4169EE7"
	testDecimals = 6
)

// settlementEnv wires the real services over the in-memory ledger, a
// miniredis-backed queue store and gomock chain/rail capabilities.
type settlementEnv struct {
	ctrl       *gomock.Controller
	escrows    *memory.EscrowRepo
	recon      *memory.ReconciliationRepo
	transactor *memory.Transactor
	store      *redisstore.QueueStore
	redis      *miniredis.Miniredis
	balances   *mocks.MockBalanceReader
	transfers  *mocks.MockTokenTransferer
	rail       *mocks.MockFiatRail
	debits     *mocks.MockDebitVerifier
	registry   *domain.AssetRegistry

	validator  *BalanceValidator
	fees       *FeeCollector
	queue      *QueueManager
	retries    *RetryScheduler
	executor   *Executor
	reconciler *Reconciler
	initiation *InitiationService
	admin      *AdminService
	clock      time.Time
}

func setupSettlement(t *testing.T) *settlementEnv {
	return setupSettlementWithFees(t, nil)
}

func setupSettlementWithFees(t *testing.T, schedule *domain.FeeSchedule) *settlementEnv {
	t.Helper()
	ctrl := gomock.NewController(t)
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	log := zerolog.Nop()
	env := &settlementEnv{
		ctrl:       ctrl,
		escrows:    memory.NewEscrowRepo(),
		recon:      memory.NewReconciliationRepo(),
		transactor: memory.NewTransactor(),
		store:      redisstore.NewQueueStore(client, "test"),
		redis:      mr,
		balances:   mocks.NewMockBalanceReader(ctrl),
		transfers:  mocks.NewMockTokenTransferer(ctrl),
		rail:       mocks.NewMockFiatRail(ctrl),
		debits:     mocks.NewMockDebitVerifier(ctrl),
		registry: domain.NewAssetRegistry(
			[]domain.Asset{{Chain: testChain, Token: testToken, Contract: "0xc2132D05D31c914a87C6611C10748AEb04B58e8F", Decimals: testDecimals}},
			[]domain.PlatformWallet{
				{Chain: testChain, Role: domain.WalletMain, Address: mainAddress, CanSign: true},
				{Chain: testChain, Role: domain.WalletFees, Address: feesAddress, CanSign: true},
			},
		),
		clock: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	env.validator = NewBalanceValidator(env.registry, env.balances, log)
	env.fees = NewFeeCollector(schedule, decimal.NewFromInt(100), env.registry, env.transfers, env.balances, env.recon, log)
	env.queue = NewQueueManager(env.escrows, env.recon, env.transactor, env.store, env.validator, time.Hour, log)
	env.retries = NewRetryScheduler(env.store, 30*time.Second, 24*time.Hour, time.Hour, log)
	env.retries.now = func() time.Time { return env.clock }
	env.retries.jitter = func() float64 { return 0.5 }
	env.executor = NewExecutor(env.escrows, env.recon, env.transactor, env.store, env.transfers, env.registry, env.retries, env.fees,
		ExecutorConfig{BatchSize: 10, LeaseTTL: 30 * time.Second, MaxAttempts: 5, TransferTimeout: 5 * time.Second}, log)
	env.reconciler = NewReconciler(env.escrows, env.recon, env.transactor, env.queue, env.validator, env.transfers, env.fees, log)
	env.initiation = NewInitiationService(env.escrows, env.rail, env.validator, env.debits, env.registry, env.fees, env.reconciler, 5*time.Second, log)
	env.admin = NewAdminService(env.escrows, env.recon, env.transactor, env.queue, env.validator, env.store, log)
	return env
}

// mainBalance makes the main wallet report amount (token units) for every read.
func (env *settlementEnv) mainBalance(amount string) {
	raw := decimal.RequireFromString(amount).Shift(testDecimals).BigInt()
	env.balances.EXPECT().BalanceOf(gomock.Any(), testChain, testToken, mainAddress).
		DoAndReturn(func(context.Context, string, string, string) (*big.Int, error) {
			return new(big.Int).Set(raw), nil
		}).AnyTimes()
}

// debitsVerified accepts every withdrawal debit.
func (env *settlementEnv) debitsVerified() {
	env.debits.EXPECT().VerifyDebit(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
}

// seedEscrow stores a direct buy in status with a provider ref.
func (env *settlementEnv) seedEscrow(t *testing.T, status domain.EscrowStatus, mutate ...func(e *domain.Escrow)) *domain.Escrow {
	t.Helper()
	ref := "ws_CO_" + uuid.NewString()[:8]
	now := time.Now().UTC()
	e := &domain.Escrow{
		ID:              uuid.New(),
		TransactionID:   uuid.New(),
		UserID:          "user-1",
		Type:            domain.EscrowTypeFiatToCrypto,
		Status:          status,
		AmountFiat:      decimal.NewFromInt(1300),
		FiatCurrency:    "KES",
		AmountCrypto:    decimal.NewFromInt(10),
		Chain:           testChain,
		Token:           testToken,
		WalletAddress:   userAddress,
		FiatProviderRef: &ref,
		Details:         domain.EscrowDetails{DirectBuy: true, Phone: "254712345678"},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for _, m := range mutate {
		m(e)
	}
	require.NoError(t, env.escrows.Create(context.Background(), e))
	return e
}

func (env *settlementEnv) reload(t *testing.T, id uuid.UUID) *domain.Escrow {
	t.Helper()
	e, err := env.escrows.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, e)
	return e
}

func (env *settlementEnv) events(t *testing.T, id uuid.UUID) []domain.ReconciliationEvent {
	t.Helper()
	evs, err := env.recon.ListByEscrow(context.Background(), id)
	require.NoError(t, err)
	return evs
}

// admit queues the crypto leg of an escrow already in processing.
func (env *settlementEnv) admit(t *testing.T, e *domain.Escrow, p domain.Priority) uuid.UUID {
	t.Helper()
	id, err := env.queue.Enqueue(context.Background(), domain.TransferRequest{
		EscrowID:  e.ID,
		ToAddress: e.WalletAddress,
		Amount:    e.AmountCrypto,
		Chain:     e.Chain,
		Token:     e.Token,
		Priority:  p,
	})
	require.NoError(t, err)
	return id
}

// toAddress matches a ports.TransferOrder by recipient.
type toAddress string

func (m toAddress) Matches(x any) bool {
	order, ok := x.(ports.TransferOrder)
	return ok && order.To == string(m)
}

func (m toAddress) String() string { return "transfer to " + string(m) }

// feeTxHash returns the tx hash of the escrow's fee_collected event.
func (env *settlementEnv) feeTxHash(t *testing.T, id uuid.UUID) string {
	t.Helper()
	for _, ev := range env.events(t, id) {
		if ev.Kind == domain.ReconFeeCollected {
			return ev.Detail["tx_hash"]
		}
	}
	return ""
}

func kinds(evs []domain.ReconciliationEvent) []domain.ReconciliationKind {
	out := make([]domain.ReconciliationKind, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Kind)
	}
	return out
}

func assertAppError(t *testing.T, err error, expectedCode string) {
	t.Helper()
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, expectedCode, appErr.Code)
}
