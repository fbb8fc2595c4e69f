package service

import (
	"context"
	"errors"

	"settlement-engine/internal/core/domain"
	"settlement-engine/internal/core/ports"
	"settlement-engine/internal/metrics"
	"settlement-engine/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// transition applies upd and counts it when a row changed.
func transition(ctx context.Context, repo ports.EscrowRepository, tx pgx.Tx, id uuid.UUID, from []domain.EscrowStatus, upd domain.EscrowUpdate) (bool, error) {
	ok, err := repo.Transition(ctx, tx, id, from, upd)
	if err != nil {
		return false, err
	}
	if ok {
		metrics.EscrowTransitionsTotal.WithLabelValues(string(upd.Status)).Inc()
	}
	return ok, nil
}

// appendEvent writes a reconciliation event and counts it.
func appendEvent(ctx context.Context, repo ports.ReconciliationRepository, tx pgx.Tx, ev *domain.ReconciliationEvent) error {
	if err := repo.Append(ctx, tx, ev); err != nil {
		return err
	}
	metrics.RecordReconciliation(ev)
	return nil
}

// transitionWithEvent applies upd and, only if it changed the row, appends ev in
// the same database transaction.
func transitionWithEvent(
	ctx context.Context,
	transactor ports.DBTransactor,
	escrows ports.EscrowRepository,
	recon ports.ReconciliationRepository,
	id uuid.UUID,
	from []domain.EscrowStatus,
	upd domain.EscrowUpdate,
	ev *domain.ReconciliationEvent,
) (bool, error) {
	tx, err := transactor.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	ok, err := escrows.Transition(ctx, tx, id, from, upd)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if err := recon.Append(ctx, tx, ev); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	metrics.EscrowTransitionsTotal.WithLabelValues(string(upd.Status)).Inc()
	metrics.RecordReconciliation(ev)
	return true, nil
}

// isValidationError reports request-shape failures that retrying cannot fix.
func isValidationError(err error) bool {
	return errors.Is(err, domain.ErrInvalidAddress) ||
		errors.Is(err, domain.ErrInvalidAmount) ||
		errors.Is(err, domain.ErrUnsupportedAsset)
}

// toAppError maps domain sentinels that escaped a service to API errors.
func toAppError(err error) error {
	var appErr *apperror.AppError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &appErr):
		return err
	case errors.Is(err, domain.ErrInvalidAddress):
		return apperror.ErrInvalidAddress().With(err)
	case errors.Is(err, domain.ErrInvalidAmount):
		return apperror.ErrInvalidAmount().With(err)
	case errors.Is(err, domain.ErrInsufficientPlatformBalance):
		return apperror.ErrInsufficientPlatformBalance().With(err)
	case errors.Is(err, domain.ErrDuplicateTransaction):
		return apperror.ErrDuplicateTransaction().With(err)
	case errors.Is(err, domain.ErrDuplicateDebit):
		return apperror.ErrDuplicateDebit().With(err)
	case errors.Is(err, domain.ErrDebitUnverified):
		return apperror.ErrDebitUnverified().With(err)
	case errors.Is(err, domain.ErrTerminalEscrow):
		return apperror.ErrEscrowTerminal().With(err)
	}
	return apperror.ErrDatabaseError(err)
}
