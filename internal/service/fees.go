package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"settlement-engine/internal/core/domain"
	"settlement-engine/internal/core/ports"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const feeTransferTimeout = 60 * time.Second

// FeeCollector computes tiered fees, moves collected fees main -> fees, and
// sweeps the fees wallet back to main above a threshold. Fee transfers never
// change an escrow's status.
type FeeCollector struct {
	schedule  *domain.FeeSchedule
	threshold decimal.Decimal
	registry  *domain.AssetRegistry
	transfers ports.TokenTransferer
	balances  ports.BalanceReader
	recon     ports.ReconciliationRepository
	log       zerolog.Logger

	wg sync.WaitGroup
}

// NewFeeCollector creates a new FeeCollector.
func NewFeeCollector(
	schedule *domain.FeeSchedule,
	sweepThreshold decimal.Decimal,
	registry *domain.AssetRegistry,
	transfers ports.TokenTransferer,
	balances ports.BalanceReader,
	recon ports.ReconciliationRepository,
	log zerolog.Logger,
) *FeeCollector {
	return &FeeCollector{
		schedule:  schedule,
		threshold: sweepThreshold,
		registry:  registry,
		transfers: transfers,
		balances:  balances,
		recon:     recon,
		log:       log.With().Str("component", "fees").Logger(),
	}
}

// Compute returns the fee for a token amount.
func (f *FeeCollector) Compute(amount decimal.Decimal) decimal.Decimal {
	if f.schedule == nil {
		return decimal.Zero
	}
	return f.schedule.Compute(amount)
}

// CollectAsync runs Collect in the background with its own deadline.
func (f *FeeCollector) CollectAsync(e *domain.Escrow) {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), feeTransferTimeout)
		defer cancel()
		f.Collect(ctx, e)
	}()
}

// Wait blocks until background collections finish.
func (f *FeeCollector) Wait() {
	f.wg.Wait()
}

// Collect transfers the escrow's recorded fee from main to fees. The outcome
// goes to the reconciliation log as fee_collected or fee_collection_failed;
// the completed escrow itself is not touched.
func (f *FeeCollector) Collect(ctx context.Context, e *domain.Escrow) {
	if e.Details.Fee == "" {
		return
	}
	log := f.log.With().
		Str("escrow_id", e.ID.String()).
		Str("transaction_id", e.TransactionID.String()).
		Str("fee", e.Details.Fee).
		Logger()

	done, err := f.collected(ctx, e.ID)
	if err != nil {
		log.Warn().Err(err).Msg("checking fee collection")
		return
	}
	if done {
		return
	}

	hash, err := f.collect(ctx, e)
	if err != nil {
		log.Warn().Err(err).Msg("fee collection failed")
		ev := domain.NewReconciliationEvent(e, domain.ReconFeeCollectionFailed, false, map[string]string{
			"fee":   e.Details.Fee,
			"error": err.Error(),
		})
		if err := appendEvent(ctx, f.recon, nil, ev); err != nil {
			log.Error().Err(err).Msg("recording fee collection failure")
		}
		return
	}
	if hash == "" {
		return
	}

	ev := domain.NewReconciliationEvent(e, domain.ReconFeeCollected, false, map[string]string{
		"fee":     e.Details.Fee,
		"tx_hash": hash,
	})
	if err := appendEvent(ctx, f.recon, nil, ev); err != nil {
		log.Error().Err(err).Str("tx_hash", hash).Msg("recording fee collection")
	}
	log.Info().Str("tx_hash", hash).Msg("fee collected")
}

func (f *FeeCollector) collected(ctx context.Context, escrowID uuid.UUID) (bool, error) {
	evs, err := f.recon.ListByEscrow(ctx, escrowID)
	if err != nil {
		return false, fmt.Errorf("list escrow events: %w", err)
	}
	for _, ev := range evs {
		if ev.Kind == domain.ReconFeeCollected {
			return true, nil
		}
	}
	return false, nil
}

func (f *FeeCollector) collect(ctx context.Context, e *domain.Escrow) (string, error) {
	fee, err := decimal.NewFromString(e.Details.Fee)
	if err != nil {
		return "", fmt.Errorf("parse fee: %w", err)
	}
	if fee.Sign() <= 0 {
		return "", nil
	}
	asset, ok := f.registry.Asset(e.Chain, e.Token)
	if !ok {
		return "", domain.ErrUnsupportedAsset
	}
	wallet, ok := f.registry.Wallet(asset.Chain, domain.WalletFees)
	if !ok {
		return "", errors.New("no fees wallet configured")
	}
	raw, err := domain.ToBaseUnits(fee, asset.Decimals)
	if err != nil {
		return "", err
	}
	return f.transfers.Transfer(ctx, ports.TransferOrder{
		Chain:  asset.Chain,
		Token:  asset.Token,
		To:     wallet.Address,
		Amount: raw,
		From:   domain.WalletMain,
	})
}

// Sweep moves each fees wallet balance above the threshold back to main.
func (f *FeeCollector) Sweep(ctx context.Context) error {
	var errs []error
	for _, asset := range f.registry.Assets() {
		if err := f.sweep(ctx, asset); err != nil {
			f.log.Warn().Err(err).Str("chain", asset.Chain).Str("token", asset.Token).Msg("fee sweep failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *FeeCollector) sweep(ctx context.Context, asset domain.Asset) error {
	fees, ok := f.registry.Wallet(asset.Chain, domain.WalletFees)
	if !ok || !fees.CanSign {
		return nil
	}
	mainWallet, ok := f.registry.Wallet(asset.Chain, domain.WalletMain)
	if !ok {
		return nil
	}

	balance, err := f.balances.BalanceOf(ctx, asset.Chain, asset.Token, fees.Address)
	if err != nil {
		return err
	}
	threshold := f.threshold.Shift(asset.Decimals).Floor().BigInt()
	if balance.Sign() <= 0 || balance.Cmp(threshold) <= 0 {
		return nil
	}

	tctx, cancel := context.WithTimeout(ctx, feeTransferTimeout)
	defer cancel()
	hash, err := f.transfers.Transfer(tctx, ports.TransferOrder{
		Chain:  asset.Chain,
		Token:  asset.Token,
		To:     mainWallet.Address,
		Amount: balance,
		From:   domain.WalletFees,
	})
	if err != nil {
		return err
	}
	f.log.Info().
		Str("chain", asset.Chain).
		Str("token", asset.Token).
		Str("amount", domain.FromBaseUnits(balance, asset.Decimals).String()).
		Str("tx_hash", hash).
		Msg("fees swept to main wallet")
	return nil
}
