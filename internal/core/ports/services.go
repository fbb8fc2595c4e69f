package ports

import (
	"context"
	"math/big"
	"time"

	"settlement-engine/internal/core/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// --- External capabilities ---

// TransferOrder is a token transfer in base units signed by a platform wallet.
type TransferOrder struct {
	Chain  string
	Token  string
	To     string
	Amount *big.Int
	From   domain.WalletRole
}

// TokenTransferer executes on-chain token transfers. Failures are *domain.TransferError.
type TokenTransferer interface {
	Transfer(ctx context.Context, order TransferOrder) (txHash string, err error)
}

// BalanceReader reads on-chain token balances in base units.
type BalanceReader interface {
	BalanceOf(ctx context.Context, chain, token, address string) (*big.Int, error)
}

// DebitProof is the on-chain transfer a user made to fund a withdrawal.
type DebitProof struct {
	Chain  string
	Token  string
	TxHash string
	From   string
	To     string
	Amount *big.Int // minimum, in base units
}

// DebitVerifier confirms a funding transfer landed on chain. A transfer that
// is missing, reverted or too small returns domain.ErrDebitUnverified.
type DebitVerifier interface {
	VerifyDebit(ctx context.Context, proof DebitProof) error
}

// PayoutKind selects the payout product.
type PayoutKind string

const (
	PayoutToPhone   PayoutKind = "phone"
	PayoutToPaybill PayoutKind = "paybill"
	PayoutToTill    PayoutKind = "till"
)

// CollectionRequest asks the fiat rail to collect from a phone.
type CollectionRequest struct {
	Phone       string
	Amount      decimal.Decimal
	Reference   string
	Description string
}

// PayoutRequest asks the fiat rail to disburse.
type PayoutRequest struct {
	Amount      decimal.Decimal
	Destination string
	Account     string // paybill account number
	Kind        PayoutKind
	Reference   string
}

// FiatRail submits and confirms mobile-money operations.
// Submission and confirmation are separate calls with their own timeouts.
type FiatRail interface {
	InitiateCollection(ctx context.Context, req CollectionRequest) (providerRef string, err error)
	InitiatePayout(ctx context.Context, req PayoutRequest) (providerRef string, err error)
	QueryCollection(ctx context.Context, providerRef string) (*domain.CollectionResult, error)
}

// --- Service ports ---

// SettlementQueue admits crypto legs for execution.
type SettlementQueue interface {
	Enqueue(ctx context.Context, req domain.TransferRequest) (uuid.UUID, error)
}

// LiquidityCheck is the result of a successful balance validation.
type LiquidityCheck struct {
	Asset     domain.Asset
	Wallet    domain.PlatformWallet
	Requested *big.Int
	Balance   *big.Int
	CheckedAt time.Time
}

// BalanceValidator verifies platform liquidity before a crypto leg is admitted.
type BalanceValidator interface {
	CheckLiquidity(ctx context.Context, chain, token string, amount decimal.Decimal) (*LiquidityCheck, error)
}

// Reconciler applies fiat-rail outcomes to escrows.
type Reconciler interface {
	HandleCollection(ctx context.Context, res *domain.CollectionResult) error
	HandlePayout(ctx context.Context, res *domain.PayoutResult) error
}

// TokenService handles admin JWT operations.
type TokenService interface {
	Generate(subject string, role string) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	Subject string
	Role    string
}
