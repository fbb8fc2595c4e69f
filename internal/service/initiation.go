package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"settlement-engine/internal/core/domain"
	"settlement-engine/internal/core/ports"
	"settlement-engine/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// BuyRequest starts a direct buy: fiat collected from Phone, crypto paid to WalletAddress.
type BuyRequest struct {
	TransactionID uuid.UUID
	UserID        string
	Phone         string
	AmountFiat    decimal.Decimal
	FiatCurrency  string
	AmountCrypto  decimal.Decimal
	Chain         string
	Token         string
	WalletAddress string
	Metadata      map[string]string
}

// DepositRequest starts a plain deposit credited off-chain once the collection settles.
type DepositRequest struct {
	TransactionID uuid.UUID
	UserID        string
	Phone         string
	AmountFiat    decimal.Decimal
	FiatCurrency  string
	AmountCrypto  decimal.Decimal
	Chain         string
	Token         string
	WalletAddress string
	Metadata      map[string]string
}

// WithdrawalRequest starts a crypto -> fiat payout. The user's crypto has
// already been debited to the main wallet in DebitTxHash; WalletAddress is
// where a refund goes if the payout fails.
type WithdrawalRequest struct {
	TransactionID uuid.UUID
	UserID        string
	Type          domain.EscrowType
	AmountCrypto  decimal.Decimal
	Chain         string
	Token         string
	WalletAddress string
	DebitTxHash   string
	AmountFiat    decimal.Decimal
	FiatCurrency  string
	Destination   string // phone, paybill or till number
	Account       string // paybill account
	Metadata      map[string]string
}

type refunder interface {
	RefundWithdrawal(ctx context.Context, e *domain.Escrow) error
}

// InitiationService creates escrows and submits the fiat leg.
type InitiationService struct {
	escrows     ports.EscrowRepository
	rail        ports.FiatRail
	validator   ports.BalanceValidator
	debits      ports.DebitVerifier
	registry    *domain.AssetRegistry
	fees        *FeeCollector
	refunds     refunder
	railTimeout time.Duration
	log         zerolog.Logger
	now         func() time.Time
}

// NewInitiationService creates a new InitiationService.
func NewInitiationService(
	escrows ports.EscrowRepository,
	rail ports.FiatRail,
	validator ports.BalanceValidator,
	debits ports.DebitVerifier,
	registry *domain.AssetRegistry,
	fees *FeeCollector,
	refunds refunder,
	railTimeout time.Duration,
	log zerolog.Logger,
) *InitiationService {
	return &InitiationService{
		escrows:     escrows,
		rail:        rail,
		validator:   validator,
		debits:      debits,
		registry:    registry,
		fees:        fees,
		refunds:     refunds,
		railTimeout: railTimeout,
		log:         log.With().Str("component", "initiation").Logger(),
		now:         time.Now,
	}
}

// InitiateBuy checks platform liquidity before the user is charged, then
// reserves the escrow and sends the collection prompt. An unfundable buy is
// recorded as failed and returns LIQ_001.
func (s *InitiationService) InitiateBuy(ctx context.Context, req BuyRequest) (*domain.Escrow, error) {
	if strings.TrimSpace(req.Phone) == "" {
		return nil, apperror.Validation("phone is required")
	}
	if !domain.ValidAddress(req.WalletAddress) {
		return nil, apperror.ErrInvalidAddress()
	}
	if err := s.validateAmounts(req.AmountFiat, req.AmountCrypto, req.Chain, req.Token); err != nil {
		return nil, err
	}

	e := s.newEscrow(req.TransactionID, req.UserID, domain.EscrowTypeFiatToCrypto, req.Chain, req.Token, req.WalletAddress, req.Metadata)
	e.AmountFiat, e.FiatCurrency, e.AmountCrypto = req.AmountFiat, req.FiatCurrency, req.AmountCrypto
	e.Details = domain.EscrowDetails{DirectBuy: true, Phone: req.Phone, Fee: s.fee(req.AmountCrypto)}

	check, err := s.validator.CheckLiquidity(ctx, req.Chain, req.Token, req.AmountCrypto)
	if err != nil {
		if !errors.Is(err, domain.ErrInsufficientPlatformBalance) {
			return nil, err
		}
		e.Status = domain.EscrowStatusFailed
		e.Details.FailureReason = apperror.ReasonInsufficientPlatformBalance
		if check != nil {
			e.Details.PlatformBalanceAtAdmission = check.Balance.String()
		}
		if cerr := s.escrows.Create(ctx, e); cerr != nil {
			return nil, toAppError(cerr)
		}
		s.log.Warn().Str("escrow_id", e.ID.String()).Str("transaction_id", e.TransactionID.String()).
			Msg("buy rejected: insufficient platform balance")
		return e, err
	}
	e.Details.PlatformBalanceAtAdmission = check.Balance.String()

	if err := s.escrows.Create(ctx, e); err != nil {
		return nil, toAppError(err)
	}
	if _, err := transition(ctx, s.escrows, nil, e.ID,
		[]domain.EscrowStatus{domain.EscrowStatusPending},
		domain.EscrowUpdate{Status: domain.EscrowStatusReserved},
	); err != nil {
		return nil, toAppError(err)
	}

	return s.collect(ctx, e, req.Phone, req.AmountFiat)
}

// InitiateDeposit records a plain deposit and sends the collection prompt.
func (s *InitiationService) InitiateDeposit(ctx context.Context, req DepositRequest) (*domain.Escrow, error) {
	if strings.TrimSpace(req.Phone) == "" {
		return nil, apperror.Validation("phone is required")
	}
	if req.WalletAddress != "" && !domain.ValidAddress(req.WalletAddress) {
		return nil, apperror.ErrInvalidAddress()
	}
	if err := s.validateAmounts(req.AmountFiat, req.AmountCrypto, req.Chain, req.Token); err != nil {
		return nil, err
	}

	e := s.newEscrow(req.TransactionID, req.UserID, domain.EscrowTypeFiatToCrypto, req.Chain, req.Token, req.WalletAddress, req.Metadata)
	e.AmountFiat, e.FiatCurrency, e.AmountCrypto = req.AmountFiat, req.FiatCurrency, req.AmountCrypto
	e.Details = domain.EscrowDetails{Phone: req.Phone}

	if err := s.escrows.Create(ctx, e); err != nil {
		return nil, toAppError(err)
	}
	return s.collect(ctx, e, req.Phone, req.AmountFiat)
}

// InitiateWithdrawal verifies the user's debit on chain, records a reserved
// withdrawal and submits the payout. A payout the rail refuses outright fails
// the escrow and refunds the user.
func (s *InitiationService) InitiateWithdrawal(ctx context.Context, req WithdrawalRequest) (*domain.Escrow, error) {
	if !req.Type.IsWithdrawal() {
		return nil, apperror.Validation("type must be a withdrawal type")
	}
	if !domain.ValidAddress(req.WalletAddress) {
		return nil, apperror.ErrInvalidAddress()
	}
	if strings.TrimSpace(req.DebitTxHash) == "" {
		return nil, apperror.Validation("debit_tx_hash is required")
	}
	if strings.TrimSpace(req.Destination) == "" {
		return nil, apperror.Validation("destination is required")
	}
	if req.Type == domain.EscrowTypeCryptoToPaybill && strings.TrimSpace(req.Account) == "" {
		return nil, apperror.Validation("account is required for paybill payouts")
	}
	if err := s.validateAmounts(req.AmountFiat, req.AmountCrypto, req.Chain, req.Token); err != nil {
		return nil, err
	}
	if err := s.verifyDebit(ctx, req); err != nil {
		return nil, err
	}

	e := s.newEscrow(req.TransactionID, req.UserID, req.Type, req.Chain, req.Token, req.WalletAddress, req.Metadata)
	e.Status = domain.EscrowStatusReserved
	e.AmountFiat, e.FiatCurrency, e.AmountCrypto = req.AmountFiat, req.FiatCurrency, req.AmountCrypto
	e.Details = domain.EscrowDetails{
		Destination: req.Destination,
		DebitTxHash: req.DebitTxHash,
		Fee:         s.fee(req.AmountCrypto),
	}
	if err := s.escrows.Create(ctx, e); err != nil {
		return nil, toAppError(err)
	}

	rctx, cancel := s.railContext(ctx)
	ref, err := s.rail.InitiatePayout(rctx, ports.PayoutRequest{
		Amount:      req.AmountFiat,
		Destination: req.Destination,
		Account:     req.Account,
		Kind:        payoutKind(req.Type),
		Reference:   e.TransactionID.String(),
	})
	cancel()
	if err != nil {
		s.log.Warn().Err(err).Str("escrow_id", e.ID.String()).Msg("payout submission failed")
		ok, terr := transition(ctx, s.escrows, nil, e.ID,
			[]domain.EscrowStatus{domain.EscrowStatusReserved},
			domain.EscrowUpdate{
				Status:  domain.EscrowStatusFailed,
				Details: domain.EscrowDetails{FailureReason: "payout submission failed: " + err.Error()},
			},
		)
		if terr != nil {
			return nil, toAppError(terr)
		}
		if ok && s.refunds != nil {
			if rerr := s.refunds.RefundWithdrawal(ctx, e); rerr != nil {
				s.log.Error().Err(rerr).Str("escrow_id", e.ID.String()).Msg("refund after rejected payout")
			}
		}
		return s.reload(ctx, e), apperror.ErrFiatRail(err)
	}

	return s.attachRef(ctx, e, ref)
}

// Get returns an escrow by its transaction id.
func (s *InitiationService) Get(ctx context.Context, transactionID uuid.UUID) (*domain.Escrow, error) {
	e, err := s.escrows.GetByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if e == nil {
		return nil, apperror.ErrEscrowNotFound()
	}
	return e, nil
}

func (s *InitiationService) collect(ctx context.Context, e *domain.Escrow, phone string, amount decimal.Decimal) (*domain.Escrow, error) {
	rctx, cancel := s.railContext(ctx)
	ref, err := s.rail.InitiateCollection(rctx, ports.CollectionRequest{
		Phone:       phone,
		Amount:      amount,
		Reference:   e.TransactionID.String(),
		Description: "Settlement " + e.TransactionID.String()[:8],
	})
	cancel()
	if err != nil {
		s.log.Warn().Err(err).Str("escrow_id", e.ID.String()).Msg("collection submission failed")
		if _, terr := transition(ctx, s.escrows, nil, e.ID,
			[]domain.EscrowStatus{domain.EscrowStatusPending, domain.EscrowStatusReserved},
			domain.EscrowUpdate{
				Status:  domain.EscrowStatusFailed,
				Details: domain.EscrowDetails{FailureReason: "collection submission failed: " + err.Error()},
			},
		); terr != nil {
			return nil, toAppError(terr)
		}
		return s.reload(ctx, e), apperror.ErrFiatRail(err)
	}
	return s.attachRef(ctx, e, ref)
}

func (s *InitiationService) attachRef(ctx context.Context, e *domain.Escrow, ref string) (*domain.Escrow, error) {
	if err := s.escrows.SetProviderRef(ctx, e.ID, ref); err != nil {
		// The rail accepted the request; the confirm sweep cannot find it without the ref.
		s.log.Error().Err(err).Str("escrow_id", e.ID.String()).Str("provider_ref", ref).Msg("storing provider ref")
		return nil, toAppError(err)
	}
	out := s.reload(ctx, e)
	s.log.Info().
		Str("escrow_id", out.ID.String()).
		Str("transaction_id", out.TransactionID.String()).
		Str("type", string(out.Type)).
		Str("status", string(out.Status)).
		Str("provider_ref", ref).
		Msg("fiat leg submitted")
	return out, nil
}

func (s *InitiationService) reload(ctx context.Context, e *domain.Escrow) *domain.Escrow {
	fresh, err := s.escrows.GetByID(ctx, e.ID)
	if err != nil || fresh == nil {
		return e
	}
	return fresh
}

func (s *InitiationService) validateAmounts(fiat, crypto decimal.Decimal, chain, token string) error {
	if fiat.Sign() <= 0 || crypto.Sign() <= 0 {
		return apperror.ErrInvalidAmount()
	}
	asset, ok := s.registry.Asset(chain, token)
	if !ok {
		return apperror.ErrUnsupportedAsset(chain, token)
	}
	if _, err := domain.ToBaseUnits(crypto, asset.Decimals); err != nil {
		return apperror.ErrInvalidAmount()
	}
	return nil
}

// verifyDebit checks that req.DebitTxHash moved at least AmountCrypto from the
// user's wallet to the platform main wallet.
func (s *InitiationService) verifyDebit(ctx context.Context, req WithdrawalRequest) error {
	asset, _ := s.registry.Asset(req.Chain, req.Token)
	amount, err := domain.ToBaseUnits(req.AmountCrypto, asset.Decimals)
	if err != nil {
		return apperror.ErrInvalidAmount()
	}
	main, ok := s.registry.Wallet(req.Chain, domain.WalletMain)
	if !ok {
		return apperror.ErrUnsupportedAsset(req.Chain, req.Token)
	}

	vctx, cancel := s.railContext(ctx)
	defer cancel()
	err = s.debits.VerifyDebit(vctx, ports.DebitProof{
		Chain:  strings.ToLower(req.Chain),
		Token:  strings.ToLower(req.Token),
		TxHash: strings.TrimSpace(req.DebitTxHash),
		From:   req.WalletAddress,
		To:     main.Address,
		Amount: amount,
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrDebitUnverified):
		s.log.Warn().Err(err).Str("transaction_id", req.TransactionID.String()).Msg("withdrawal debit rejected")
		return apperror.ErrDebitUnverified().With(err)
	case errors.Is(err, domain.ErrInvalidAddress):
		return apperror.ErrInvalidAddress().With(err)
	}
	return apperror.ErrChainUnavailable(err)
}

func (s *InitiationService) newEscrow(txID uuid.UUID, userID string, typ domain.EscrowType, chain, token, wallet string, metadata map[string]string) *domain.Escrow {
	if txID == uuid.Nil {
		txID = uuid.New()
	}
	now := s.now().UTC()
	return &domain.Escrow{
		ID:            uuid.New(),
		TransactionID: txID,
		UserID:        userID,
		Type:          typ,
		Status:        domain.EscrowStatusPending,
		Chain:         strings.ToLower(chain),
		Token:         strings.ToLower(token),
		WalletAddress: wallet,
		Metadata:      metadata,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func (s *InitiationService) fee(amount decimal.Decimal) string {
	if s.fees == nil {
		return ""
	}
	fee := s.fees.Compute(amount)
	if fee.Sign() <= 0 {
		return ""
	}
	return fee.String()
}

func (s *InitiationService) railContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.railTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.railTimeout)
}

func payoutKind(t domain.EscrowType) ports.PayoutKind {
	switch t {
	case domain.EscrowTypeCryptoToPaybill:
		return ports.PayoutToPaybill
	case domain.EscrowTypeCryptoToTill:
		return ports.PayoutToTill
	}
	return ports.PayoutToPhone
}
