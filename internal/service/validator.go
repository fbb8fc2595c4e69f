package service

import (
	"context"
	"time"

	"settlement-engine/internal/core/domain"
	"settlement-engine/internal/core/ports"
	"settlement-engine/pkg/apperror"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// BalanceValidator implements ports.BalanceValidator against the main wallet's
// on-chain balance. Both sides are compared in integer base units.
type BalanceValidator struct {
	registry *domain.AssetRegistry
	balances ports.BalanceReader
	log      zerolog.Logger
	now      func() time.Time
}

var _ ports.BalanceValidator = (*BalanceValidator)(nil)

// NewBalanceValidator creates a new BalanceValidator.
func NewBalanceValidator(registry *domain.AssetRegistry, balances ports.BalanceReader, log zerolog.Logger) *BalanceValidator {
	return &BalanceValidator{
		registry: registry,
		balances: balances,
		log:      log.With().Str("component", "balance_validator").Logger(),
		now:      time.Now,
	}
}

// CheckLiquidity requires balance_raw >= requested_raw on the main wallet.
func (v *BalanceValidator) CheckLiquidity(ctx context.Context, chain, token string, amount decimal.Decimal) (*ports.LiquidityCheck, error) {
	asset, ok := v.registry.Asset(chain, token)
	if !ok {
		return nil, apperror.ErrUnsupportedAsset(chain, token).With(domain.ErrUnsupportedAsset)
	}
	requested, err := domain.ToBaseUnits(amount, asset.Decimals)
	if err != nil {
		return nil, apperror.ErrInvalidAmount().With(err)
	}
	wallet, ok := v.registry.Wallet(asset.Chain, domain.WalletMain)
	if !ok {
		return nil, apperror.ErrUnsupportedAsset(chain, token).With(domain.ErrUnsupportedAsset)
	}

	balance, err := v.balances.BalanceOf(ctx, asset.Chain, asset.Token, wallet.Address)
	if err != nil {
		return nil, apperror.ErrChainUnavailable(err)
	}

	check := &ports.LiquidityCheck{
		Asset:     asset,
		Wallet:    wallet,
		Requested: requested,
		Balance:   balance,
		CheckedAt: v.now().UTC(),
	}
	if balance.Cmp(requested) < 0 {
		v.log.Warn().
			Str("chain", asset.Chain).
			Str("token", asset.Token).
			Str("requested_raw", requested.String()).
			Str("balance_raw", balance.String()).
			Msg("platform wallet cannot fund transfer")
		return check, apperror.ErrInsufficientPlatformBalance().With(domain.ErrInsufficientPlatformBalance)
	}
	return check, nil
}
