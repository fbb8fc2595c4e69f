package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"settlement-engine/internal/core/domain"
	"settlement-engine/internal/core/ports"
	"settlement-engine/internal/metrics"
	"settlement-engine/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EscrowView is an escrow with its reconciliation history.
type EscrowView struct {
	Escrow *domain.Escrow               `json:"escrow"`
	Events []domain.ReconciliationEvent `json:"events"`
}

// AdminService backs the operator API: inspection, forced status changes and
// re-admission of stuck crypto legs.
type AdminService struct {
	escrows    ports.EscrowRepository
	recon      ports.ReconciliationRepository
	transactor ports.DBTransactor
	queue      ports.SettlementQueue
	validator  ports.BalanceValidator
	store      ports.QueueStore
	log        zerolog.Logger
	now        func() time.Time
}

// NewAdminService creates a new AdminService.
func NewAdminService(
	escrows ports.EscrowRepository,
	recon ports.ReconciliationRepository,
	transactor ports.DBTransactor,
	queue ports.SettlementQueue,
	validator ports.BalanceValidator,
	store ports.QueueStore,
	log zerolog.Logger,
) *AdminService {
	return &AdminService{
		escrows:    escrows,
		recon:      recon,
		transactor: transactor,
		queue:      queue,
		validator:  validator,
		store:      store,
		log:        log.With().Str("component", "admin").Logger(),
		now:        time.Now,
	}
}

// GetEscrow returns an escrow and its reconciliation events.
func (s *AdminService) GetEscrow(ctx context.Context, transactionID uuid.UUID) (*EscrowView, error) {
	e, err := s.find(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	events, err := s.recon.ListByEscrow(ctx, e.ID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	return &EscrowView{Escrow: e, Events: events}, nil
}

// ManualReview lists unresolved manual-review events, oldest first.
func (s *AdminService) ManualReview(ctx context.Context, limit int) ([]domain.ReconciliationEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	events, err := s.recon.ListManualReview(ctx, limit)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	return events, nil
}

// Override forces an escrow into status. It is the only path that moves a
// terminal escrow; open manual-review events are resolved with it.
func (s *AdminService) Override(ctx context.Context, transactionID uuid.UUID, status domain.EscrowStatus, reason, actor string) (*domain.Escrow, error) {
	if !status.Valid() {
		return nil, apperror.Validation(fmt.Sprintf("unknown status %q", status))
	}
	if strings.TrimSpace(reason) == "" {
		return nil, apperror.Validation("reason is required")
	}
	e, err := s.find(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	upd := domain.EscrowUpdate{Status: status}
	if status == domain.EscrowStatusCompleted && e.CompletedAt == nil {
		now := s.now().UTC()
		upd.CompletedAt = &now
	}
	if status == domain.EscrowStatusFailed || status == domain.EscrowStatusError {
		upd.Details.ErrorDetail = "override: " + reason
	}

	ev := domain.NewReconciliationEvent(e, domain.ReconAdminOverride, false, map[string]string{
		"action": "override",
		"from":   string(e.Status),
		"to":     string(status),
		"reason": reason,
		"actor":  actor,
	})
	if err := s.resolveWith(ctx, e, []domain.EscrowStatus{e.Status}, upd, ev); err != nil {
		return nil, err
	}

	s.log.Warn().
		Str("escrow_id", e.ID.String()).
		Str("transaction_id", e.TransactionID.String()).
		Str("from", string(e.Status)).
		Str("to", string(status)).
		Str("actor", actor).
		Str("reason", reason).
		Msg("escrow status overridden")
	return s.reload(ctx, e), nil
}

// Retry re-admits the crypto leg of a direct buy left in error, at high
// priority. The escrow goes back to processing with its attempt count reset.
func (s *AdminService) Retry(ctx context.Context, transactionID uuid.UUID, actor string) (*domain.Escrow, uuid.UUID, error) {
	e, err := s.find(ctx, transactionID)
	if err != nil {
		return nil, uuid.Nil, err
	}
	if e.Status != domain.EscrowStatusError {
		return nil, uuid.Nil, apperror.ErrIllegalTransition(string(e.Status), string(domain.EscrowStatusProcessing))
	}
	if !e.RequiresCryptoPayout() {
		return nil, uuid.Nil, apperror.Validation("only direct buys have a crypto leg to retry")
	}

	// Checked up front so an unfundable retry leaves the escrow in error
	// instead of letting admission fail it.
	if _, err := s.validator.CheckLiquidity(ctx, e.Chain, e.Token, e.AmountCrypto); err != nil {
		return nil, uuid.Nil, err
	}

	zero := 0
	ev := domain.NewReconciliationEvent(e, domain.ReconAdminOverride, false, map[string]string{
		"action": "retry",
		"from":   string(domain.EscrowStatusError),
		"to":     string(domain.EscrowStatusProcessing),
		"actor":  actor,
	})
	if err := s.resolveWith(ctx, e,
		[]domain.EscrowStatus{domain.EscrowStatusError},
		domain.EscrowUpdate{Status: domain.EscrowStatusProcessing, RetryCount: &zero},
		ev,
	); err != nil {
		return nil, uuid.Nil, err
	}

	itemID, err := s.queue.Enqueue(ctx, domain.TransferRequest{
		EscrowID:  e.ID,
		ToAddress: e.WalletAddress,
		Amount:    e.AmountCrypto,
		Chain:     e.Chain,
		Token:     e.Token,
		Priority:  domain.PriorityHigh,
	})
	if err != nil {
		if !errors.Is(err, domain.ErrInsufficientPlatformBalance) {
			if _, rerr := s.escrows.Transition(ctx, nil, e.ID,
				[]domain.EscrowStatus{domain.EscrowStatusProcessing},
				domain.EscrowUpdate{Status: domain.EscrowStatusError, Details: domain.EscrowDetails{ManualReview: true}},
			); rerr != nil {
				s.log.Error().Err(rerr).Str("escrow_id", e.ID.String()).Msg("returning escrow to error after failed retry")
			}
		}
		return nil, uuid.Nil, err
	}

	s.log.Info().
		Str("escrow_id", e.ID.String()).
		Str("transaction_id", e.TransactionID.String()).
		Str("item_id", itemID.String()).
		Str("actor", actor).
		Msg("crypto leg re-admitted")
	return s.reload(ctx, e), itemID, nil
}

// QueueDepth snapshots every priority and refreshes the depth gauges.
func (s *AdminService) QueueDepth(ctx context.Context) ([]domain.QueueDepth, error) {
	depths, err := s.store.Depth(ctx)
	if err != nil {
		return nil, apperror.ErrQueueUnavailable(err)
	}
	metrics.RecordQueueDepth(depths)
	return depths, nil
}

// resolveWith transitions the escrow, closes its manual-review events and
// records ev in one database transaction.
func (s *AdminService) resolveWith(ctx context.Context, e *domain.Escrow, from []domain.EscrowStatus, upd domain.EscrowUpdate, ev *domain.ReconciliationEvent) error {
	tx, err := s.transactor.Begin(ctx)
	if err != nil {
		return apperror.ErrDatabaseError(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	ok, err := s.escrows.Transition(ctx, tx, e.ID, from, upd)
	if err != nil {
		return apperror.ErrDatabaseError(err)
	}
	if !ok {
		// Someone else moved it between read and write.
		return apperror.ErrIllegalTransition(string(e.Status), string(upd.Status))
	}
	resolved, err := s.recon.Resolve(ctx, tx, e.ID, s.now().UTC())
	if err != nil {
		return apperror.ErrDatabaseError(err)
	}
	if resolved > 0 {
		ev.Detail["resolved_events"] = fmt.Sprint(resolved)
	}
	if err := s.recon.Append(ctx, tx, ev); err != nil {
		return apperror.ErrDatabaseError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return apperror.ErrDatabaseError(err)
	}

	metrics.EscrowTransitionsTotal.WithLabelValues(string(upd.Status)).Inc()
	metrics.RecordReconciliation(ev)
	return nil
}

func (s *AdminService) find(ctx context.Context, transactionID uuid.UUID) (*domain.Escrow, error) {
	e, err := s.escrows.GetByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if e == nil {
		return nil, apperror.ErrEscrowNotFound()
	}
	return e, nil
}

func (s *AdminService) reload(ctx context.Context, e *domain.Escrow) *domain.Escrow {
	fresh, err := s.escrows.GetByID(ctx, e.ID)
	if err != nil || fresh == nil {
		return e
	}
	return fresh
}
