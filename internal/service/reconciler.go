package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"settlement-engine/internal/core/domain"
	"settlement-engine/internal/core/ports"
	"settlement-engine/internal/metrics"
	"settlement-engine/internal/traces"

	"github.com/rs/zerolog"
)

const refundTimeout = 60 * time.Second

// Reconciler implements ports.Reconciler: it correlates fiat rail outcomes to
// escrows by provider reference and drives the next transition. Every path is
// safe to run twice for the same callback.
type Reconciler struct {
	escrows    ports.EscrowRepository
	recon      ports.ReconciliationRepository
	transactor ports.DBTransactor
	queue      ports.SettlementQueue
	validator  ports.BalanceValidator
	transfers  ports.TokenTransferer
	fees       feeCollector
	log        zerolog.Logger
	now        func() time.Time
}

var _ ports.Reconciler = (*Reconciler)(nil)

// NewReconciler creates a new Reconciler. fees may be nil.
func NewReconciler(
	escrows ports.EscrowRepository,
	recon ports.ReconciliationRepository,
	transactor ports.DBTransactor,
	queue ports.SettlementQueue,
	validator ports.BalanceValidator,
	transfers ports.TokenTransferer,
	fees feeCollector,
	log zerolog.Logger,
) *Reconciler {
	return &Reconciler{
		escrows:    escrows,
		recon:      recon,
		transactor: transactor,
		queue:      queue,
		validator:  validator,
		transfers:  transfers,
		fees:       fees,
		log:        log.With().Str("component", "reconciler").Logger(),
		now:        time.Now,
	}
}

// HandleCollection applies a push-payment outcome. Unknown references are
// recorded and dropped without an error.
func (r *Reconciler) HandleCollection(ctx context.Context, res *domain.CollectionResult) (err error) {
	ctx, span := traces.StartSpan(ctx, "reconcile.collection", traces.ProviderRef(res.ProviderRef))
	defer func() { traces.End(span, err) }()

	e, err := r.lookup(ctx, "collection", res.ProviderRef)
	if err != nil || e == nil {
		return err
	}
	if e.Type != domain.EscrowTypeFiatToCrypto {
		r.mismatched(ctx, "collection", e)
		return nil
	}
	log := r.escrowLogger(e)

	if res.Pending {
		log.Debug().Msg("collection still pending at provider")
		return nil
	}
	if e.Status.IsTerminal() {
		metrics.WebhookCallbacksTotal.WithLabelValues("collection", "duplicate").Inc()
		log.Info().Str("status", string(e.Status)).Msg("collection callback for terminal escrow ignored")
		return nil
	}

	awaiting := []domain.EscrowStatus{domain.EscrowStatusPending, domain.EscrowStatusReserved}

	if !res.Succeeded() {
		metrics.WebhookCallbacksTotal.WithLabelValues("collection", "failed").Inc()
		ok, err := transition(ctx, r.escrows, nil, e.ID, awaiting, domain.EscrowUpdate{
			Status:  domain.EscrowStatusFailed,
			Details: domain.EscrowDetails{FailureReason: providerReason(res.ResultCode, res.ResultDesc)},
		})
		if err != nil {
			return fmt.Errorf("fail escrow %s: %w", e.ID, err)
		}
		if ok {
			log.Info().Int("result_code", res.ResultCode).Str("reason", res.ResultDesc).Msg("collection failed, escrow failed")
		}
		return nil
	}

	metrics.WebhookCallbacksTotal.WithLabelValues("collection", "success").Inc()
	settled := domain.EscrowDetails{ReceiptRef: res.ReceiptRef}
	if !res.Amount.IsZero() {
		settled.SettledFiatAmount = res.Amount.String()
	}

	if !e.RequiresCryptoPayout() {
		now := r.now().UTC()
		ok, err := transition(ctx, r.escrows, nil, e.ID, awaiting, domain.EscrowUpdate{
			Status:      domain.EscrowStatusCompleted,
			CompletedAt: &now,
			Details:     settled,
		})
		if err != nil {
			return fmt.Errorf("complete deposit %s: %w", e.ID, err)
		}
		if ok {
			log.Info().Str("receipt", res.ReceiptRef).Msg("deposit completed")
		}
		return nil
	}

	// Claiming reserved -> processing first makes concurrent deliveries of the
	// same callback admit the crypto leg once.
	ok, err := transition(ctx, r.escrows, nil, e.ID,
		[]domain.EscrowStatus{domain.EscrowStatusReserved},
		domain.EscrowUpdate{Status: domain.EscrowStatusProcessing, Details: settled},
	)
	if err != nil {
		return fmt.Errorf("claim escrow %s: %w", e.ID, err)
	}
	if !ok {
		log.Info().Msg("collection already being settled")
		return nil
	}

	itemID, err := r.queue.Enqueue(ctx, domain.TransferRequest{
		EscrowID:  e.ID,
		ToAddress: e.WalletAddress,
		Amount:    e.AmountCrypto,
		Chain:     e.Chain,
		Token:     e.Token,
		Priority:  domain.PriorityNormal,
	})
	switch {
	case err == nil:
		log.Info().Str("item_id", itemID.String()).Str("receipt", res.ReceiptRef).Msg("collection settled, crypto leg queued")
		return nil
	case errors.Is(err, domain.ErrInsufficientPlatformBalance):
		// The queue manager already failed the escrow and raised the event.
		return nil
	case isValidationError(err):
		return r.markUnpayable(ctx, e, err)
	default:
		// Hand the escrow back so a redelivery or the confirm sweep can retry.
		if _, rerr := r.escrows.Transition(ctx, nil, e.ID,
			[]domain.EscrowStatus{domain.EscrowStatusProcessing},
			domain.EscrowUpdate{Status: domain.EscrowStatusReserved},
		); rerr != nil {
			log.Error().Err(rerr).Msg("releasing escrow after failed admission")
		}
		return fmt.Errorf("admit crypto leg for %s: %w", e.ID, err)
	}
}

// markUnpayable moves a settled direct buy whose crypto leg can never be
// executed to error for manual review.
func (r *Reconciler) markUnpayable(ctx context.Context, e *domain.Escrow, cause error) error {
	_, err := transitionWithEvent(ctx, r.transactor, r.escrows, r.recon, e.ID,
		[]domain.EscrowStatus{domain.EscrowStatusProcessing},
		domain.EscrowUpdate{
			Status:  domain.EscrowStatusError,
			Details: domain.EscrowDetails{ErrorDetail: cause.Error(), ManualReview: true},
		},
		domain.NewReconciliationEvent(e, domain.ReconAdmissionRejected, true, map[string]string{
			"reason": cause.Error(),
		}),
	)
	if err != nil {
		return fmt.Errorf("mark escrow %s unpayable: %w", e.ID, err)
	}
	log := r.escrowLogger(e)
	log.Error().Err(cause).Msg("fiat settled but crypto leg rejected, escrow needs manual review")
	return nil
}

// HandlePayout applies a disbursement outcome. A failed payout refunds the
// crypto debited from the user.
func (r *Reconciler) HandlePayout(ctx context.Context, res *domain.PayoutResult) (err error) {
	ctx, span := traces.StartSpan(ctx, "reconcile.payout", traces.ProviderRef(res.ProviderRef))
	defer func() { traces.End(span, err) }()

	e, err := r.lookup(ctx, "payout", res.ProviderRef)
	if err != nil || e == nil {
		return err
	}
	if !e.Type.IsWithdrawal() {
		r.mismatched(ctx, "payout", e)
		return nil
	}
	log := r.escrowLogger(e)

	if e.Status.IsTerminal() {
		metrics.WebhookCallbacksTotal.WithLabelValues("payout", "duplicate").Inc()
		log.Info().Str("status", string(e.Status)).Msg("payout callback for terminal escrow ignored")
		return nil
	}

	awaiting := []domain.EscrowStatus{domain.EscrowStatusPending, domain.EscrowStatusReserved}

	if res.Succeeded() {
		metrics.WebhookCallbacksTotal.WithLabelValues("payout", "success").Inc()
		now := r.now().UTC()
		ok, err := transition(ctx, r.escrows, nil, e.ID, awaiting, domain.EscrowUpdate{
			Status:      domain.EscrowStatusCompleted,
			CompletedAt: &now,
			Details:     domain.EscrowDetails{ReceiptRef: res.TransactionRef},
		})
		if err != nil {
			return fmt.Errorf("complete payout %s: %w", e.ID, err)
		}
		if ok {
			log.Info().Str("receipt", res.TransactionRef).Msg("payout completed")
			if r.fees != nil && e.Details.Fee != "" {
				r.fees.CollectAsync(e)
			}
		}
		return nil
	}

	metrics.WebhookCallbacksTotal.WithLabelValues("payout", "failed").Inc()
	ok, err := transition(ctx, r.escrows, nil, e.ID, awaiting, domain.EscrowUpdate{
		Status:  domain.EscrowStatusFailed,
		Details: domain.EscrowDetails{FailureReason: providerReason(res.ResultCode, res.ResultDesc)},
	})
	if err != nil {
		return fmt.Errorf("fail payout %s: %w", e.ID, err)
	}
	if !ok {
		log.Info().Msg("payout failure already applied")
		return nil
	}
	log.Warn().Int("result_code", res.ResultCode).Str("reason", res.ResultDesc).Msg("payout failed, refunding user")
	return r.RefundWithdrawal(ctx, e)
}

// RefundWithdrawal returns the debited crypto from main to the user's wallet.
// It must only run after this caller moved the escrow to failed. If the
// platform cannot fund the refund a manual-review event is raised instead.
func (r *Reconciler) RefundWithdrawal(ctx context.Context, e *domain.Escrow) error {
	log := r.escrowLogger(e)

	check, err := r.validator.CheckLiquidity(ctx, e.Chain, e.Token, e.AmountCrypto)
	if err != nil {
		return r.refundFailed(ctx, e, err)
	}

	tctx, cancel := context.WithTimeout(ctx, refundTimeout)
	defer cancel()
	hash, err := r.transfers.Transfer(tctx, ports.TransferOrder{
		Chain:  check.Asset.Chain,
		Token:  check.Asset.Token,
		To:     e.WalletAddress,
		Amount: check.Requested,
		From:   domain.WalletMain,
	})
	if err != nil {
		return r.refundFailed(ctx, e, err)
	}

	ok, err := transitionWithEvent(ctx, r.transactor, r.escrows, r.recon, e.ID,
		[]domain.EscrowStatus{domain.EscrowStatusFailed},
		domain.EscrowUpdate{
			Status:  domain.EscrowStatusFailed,
			Details: domain.EscrowDetails{RefundTxHash: hash},
		},
		domain.NewReconciliationEvent(e, domain.ReconRefundIssued, false, map[string]string{
			"tx_hash": hash,
			"amount":  e.AmountCrypto.String(),
			"to":      e.WalletAddress,
		}),
	)
	if err != nil || !ok {
		log.Error().Err(err).Str("tx_hash", hash).Msg("refund sent but not recorded on escrow")
		return err
	}
	log.Info().Str("tx_hash", hash).Str("amount", e.AmountCrypto.String()).Msg("withdrawal refunded")
	return nil
}

func (r *Reconciler) refundFailed(ctx context.Context, e *domain.Escrow, cause error) error {
	_, err := transitionWithEvent(ctx, r.transactor, r.escrows, r.recon, e.ID,
		[]domain.EscrowStatus{domain.EscrowStatusFailed},
		domain.EscrowUpdate{
			Status:  domain.EscrowStatusFailed,
			Details: domain.EscrowDetails{ErrorDetail: "refund failed: " + cause.Error(), ManualReview: true},
		},
		domain.NewReconciliationEvent(e, domain.ReconRefundFailed, true, map[string]string{
			"error":  cause.Error(),
			"amount": e.AmountCrypto.String(),
			"to":     e.WalletAddress,
		}),
	)
	if err != nil {
		return fmt.Errorf("record refund failure for %s: %w", e.ID, err)
	}
	log := r.escrowLogger(e)
	log.Error().Err(cause).Msg("refund failed, escrow needs manual review")
	return nil
}

// lookup finds the escrow for a callback; unknown references produce an
// unknown_callback event and (nil, nil).
func (r *Reconciler) lookup(ctx context.Context, kind, providerRef string) (*domain.Escrow, error) {
	e, err := r.escrows.GetByProviderRef(ctx, providerRef)
	if err != nil {
		return nil, fmt.Errorf("lookup escrow by provider ref: %w", err)
	}
	if e != nil {
		return e, nil
	}

	metrics.WebhookCallbacksTotal.WithLabelValues(kind, "unknown").Inc()
	r.log.Warn().Str("provider_ref", providerRef).Str("kind", kind).Msg("callback for unknown provider ref dropped")
	ev := domain.NewReconciliationEvent(nil, domain.ReconUnknownCallback, false, map[string]string{"kind": kind})
	ev.ProviderRef = providerRef
	if err := appendEvent(ctx, r.recon, nil, ev); err != nil {
		r.log.Error().Err(err).Str("provider_ref", providerRef).Msg("recording unknown callback")
	}
	return nil, nil
}

// mismatched drops a callback whose kind does not match the escrow type, so a
// collection reference can never drive a payout outcome or the reverse.
func (r *Reconciler) mismatched(ctx context.Context, kind string, e *domain.Escrow) {
	metrics.WebhookCallbacksTotal.WithLabelValues(kind, "mismatched").Inc()
	log := r.escrowLogger(e)
	log.Warn().Str("kind", kind).Str("type", string(e.Type)).Msg("callback kind does not match escrow type, dropped")

	ev := domain.NewReconciliationEvent(e, domain.ReconUnknownCallback, false, map[string]string{
		"kind":        kind,
		"escrow_type": string(e.Type),
	})
	if err := appendEvent(ctx, r.recon, nil, ev); err != nil {
		log.Error().Err(err).Msg("recording mismatched callback")
	}
}

func (r *Reconciler) escrowLogger(e *domain.Escrow) zerolog.Logger {
	return r.log.With().
		Str("escrow_id", e.ID.String()).
		Str("transaction_id", e.TransactionID.String()).
		Str("provider_ref", e.ProviderRef()).
		Logger()
}

func providerReason(code int, desc string) string {
	if desc == "" {
		return fmt.Sprintf("provider result code %d", code)
	}
	return fmt.Sprintf("%s (code %d)", desc, code)
}
