package service

import (
	"context"
	"errors"
	"time"

	"settlement-engine/internal/core/domain"
	"settlement-engine/internal/core/ports"
	"settlement-engine/internal/metrics"
	"settlement-engine/internal/traces"
	"settlement-engine/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// QueueManager implements ports.SettlementQueue. Admission is idempotent per
// escrow and never stores a transfer the main wallet cannot fund right now.
type QueueManager struct {
	escrows    ports.EscrowRepository
	recon      ports.ReconciliationRepository
	transactor ports.DBTransactor
	store      ports.QueueStore
	validator  ports.BalanceValidator
	dedupTTL   time.Duration
	log        zerolog.Logger
	now        func() time.Time
}

var _ ports.SettlementQueue = (*QueueManager)(nil)

// NewQueueManager creates a new QueueManager.
func NewQueueManager(
	escrows ports.EscrowRepository,
	recon ports.ReconciliationRepository,
	transactor ports.DBTransactor,
	store ports.QueueStore,
	validator ports.BalanceValidator,
	dedupTTL time.Duration,
	log zerolog.Logger,
) *QueueManager {
	return &QueueManager{
		escrows:    escrows,
		recon:      recon,
		transactor: transactor,
		store:      store,
		validator:  validator,
		dedupTTL:   dedupTTL,
		log:        log.With().Str("component", "queue_manager").Logger(),
		now:        time.Now,
	}
}

// Enqueue admits a crypto leg. A second admission for the same escrow returns
// the id of the item already queued. An unfundable request marks the escrow
// failed and returns LIQ_001.
func (m *QueueManager) Enqueue(ctx context.Context, req domain.TransferRequest) (id uuid.UUID, err error) {
	if req.Priority == "" {
		req.Priority = domain.PriorityNormal
	}
	ctx, span := traces.StartSpan(ctx, "settlement.enqueue",
		traces.EscrowID(req.EscrowID.String()),
		traces.Priority(string(req.Priority)),
		traces.Asset(req.Chain, req.Token),
	)
	defer func() { traces.End(span, err) }()

	if _, err := domain.ParsePriority(string(req.Priority)); err != nil {
		return uuid.Nil, apperror.Validation(err.Error())
	}
	if !domain.ValidAddress(req.ToAddress) {
		return uuid.Nil, apperror.ErrInvalidAddress().With(domain.ErrInvalidAddress)
	}
	if req.Amount.Sign() <= 0 {
		return uuid.Nil, apperror.ErrInvalidAmount().With(domain.ErrInvalidAmount)
	}

	existing, active, err := m.store.ActiveFor(ctx, req.EscrowID)
	if err != nil {
		return uuid.Nil, apperror.ErrQueueUnavailable(err)
	}
	if active {
		metrics.QueueAdmissionsTotal.WithLabelValues(string(req.Priority), "duplicate").Inc()
		m.log.Info().
			Str("escrow_id", req.EscrowID.String()).
			Str("item_id", existing.String()).
			Msg("escrow already queued")
		return existing, nil
	}

	check, err := m.validator.CheckLiquidity(ctx, req.Chain, req.Token, req.Amount)
	if err != nil {
		metrics.QueueAdmissionsTotal.WithLabelValues(string(req.Priority), "rejected").Inc()
		if errors.Is(err, domain.ErrInsufficientPlatformBalance) {
			m.rejectAdmission(ctx, req, check)
		}
		return uuid.Nil, err
	}

	item := &domain.QueuedTransaction{
		ID:        uuid.New(),
		EscrowID:  req.EscrowID,
		ToAddress: req.ToAddress,
		Amount:    req.Amount,
		Chain:     check.Asset.Chain,
		Token:     check.Asset.Token,
		Priority:  req.Priority,
		CreatedAt: m.now().UTC(),
	}
	id, created, err := m.store.Enqueue(ctx, item, m.dedupTTL)
	if err != nil {
		return uuid.Nil, apperror.ErrQueueUnavailable(err)
	}
	if !created {
		metrics.QueueAdmissionsTotal.WithLabelValues(string(req.Priority), "duplicate").Inc()
		return id, nil
	}
	metrics.QueueAdmissionsTotal.WithLabelValues(string(req.Priority), "admitted").Inc()

	// Best effort: the executor matches items by escrow id, the queued id is for operators.
	if _, err := m.escrows.Transition(ctx, nil, req.EscrowID,
		[]domain.EscrowStatus{domain.EscrowStatusProcessing},
		domain.EscrowUpdate{
			Status: domain.EscrowStatusProcessing,
			Details: domain.EscrowDetails{
				QueuedTxID:                 id.String(),
				PlatformBalanceAtAdmission: check.Balance.String(),
			},
		},
	); err != nil {
		m.log.Warn().Err(err).Str("escrow_id", req.EscrowID.String()).Msg("recording queued item on escrow")
	}

	m.log.Info().
		Str("escrow_id", req.EscrowID.String()).
		Str("item_id", id.String()).
		Str("priority", string(req.Priority)).
		Str("amount", req.Amount.String()).
		Str("balance_raw", check.Balance.String()).
		Msg("crypto leg admitted")
	return id, nil
}

// rejectAdmission fails the escrow with INSUFFICIENT_PLATFORM_BALANCE. When the
// fiat leg already settled the event is flagged for manual review.
func (m *QueueManager) rejectAdmission(ctx context.Context, req domain.TransferRequest, check *ports.LiquidityCheck) {
	log := m.log.With().Str("escrow_id", req.EscrowID.String()).Logger()

	e, err := m.escrows.GetByID(ctx, req.EscrowID)
	if err != nil || e == nil {
		log.Error().Err(err).Msg("loading escrow for rejected admission")
		return
	}

	detail := map[string]string{
		"reason":   apperror.ReasonInsufficientPlatformBalance,
		"amount":   req.Amount.String(),
		"chain":    req.Chain,
		"token":    req.Token,
		"priority": string(req.Priority),
	}
	patch := domain.EscrowDetails{FailureReason: apperror.ReasonInsufficientPlatformBalance}
	if check != nil {
		detail["balance_raw"] = check.Balance.String()
		detail["requested_raw"] = check.Requested.String()
		patch.PlatformBalanceAtAdmission = check.Balance.String()
	}
	fiatSettled := e.Status == domain.EscrowStatusProcessing
	patch.ManualReview = fiatSettled

	ok, err := transitionWithEvent(ctx, m.transactor, m.escrows, m.recon, e.ID,
		domain.SourcesFor(domain.EscrowStatusFailed),
		domain.EscrowUpdate{Status: domain.EscrowStatusFailed, Details: patch},
		domain.NewReconciliationEvent(e, domain.ReconAdmissionRejected, fiatSettled, detail),
	)
	if err != nil {
		log.Error().Err(err).Msg("failing escrow after rejected admission")
		return
	}
	if ok {
		log.Warn().
			Str("transaction_id", e.TransactionID.String()).
			Bool("manual_review", fiatSettled).
			Msg("escrow failed: insufficient platform balance")
	}
}
