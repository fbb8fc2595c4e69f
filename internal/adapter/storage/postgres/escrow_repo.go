package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"settlement-engine/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

const escrowColumns = `id, transaction_id, user_id, type, status, amount_fiat::text, fiat_currency,
		amount_crypto::text, chain, token, wallet_address, fiat_provider_ref, crypto_tx_hash,
		retry_count, last_retry_at, completed_at, details, metadata, created_at, updated_at`

// EscrowRepo implements ports.EscrowRepository.
type EscrowRepo struct {
	pool Pool
}

// NewEscrowRepo creates a new EscrowRepo.
func NewEscrowRepo(pool Pool) *EscrowRepo {
	return &EscrowRepo{pool: pool}
}

// Create inserts a new escrow.
func (r *EscrowRepo) Create(ctx context.Context, e *domain.Escrow) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("marshal escrow details: %w", err)
	}
	metadata, err := marshalMetadata(e.Metadata)
	if err != nil {
		return err
	}

	query := `INSERT INTO escrows (id, transaction_id, user_id, type, status, amount_fiat, fiat_currency,
		amount_crypto, chain, token, wallet_address, fiat_provider_ref, crypto_tx_hash,
		retry_count, last_retry_at, completed_at, details, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`

	_, err = r.pool.Exec(ctx, query,
		e.ID, e.TransactionID, e.UserID, string(e.Type), string(e.Status),
		e.AmountFiat.String(), e.FiatCurrency, e.AmountCrypto.String(),
		e.Chain, e.Token, e.WalletAddress, e.FiatProviderRef, e.CryptoTxHash,
		e.RetryCount, e.LastRetryAt, e.CompletedAt, details, metadata,
		e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert escrow: %w", mapUniqueViolation(err))
	}
	return nil
}

// GetByID fetches an escrow by its UUID.
func (r *EscrowRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Escrow, error) {
	query := `SELECT ` + escrowColumns + ` FROM escrows WHERE id = $1`
	return scanEscrow(r.pool.QueryRow(ctx, query, id))
}

// GetByTransactionID fetches an escrow by its caller-facing transaction id.
func (r *EscrowRepo) GetByTransactionID(ctx context.Context, transactionID uuid.UUID) (*domain.Escrow, error) {
	query := `SELECT ` + escrowColumns + ` FROM escrows WHERE transaction_id = $1`
	return scanEscrow(r.pool.QueryRow(ctx, query, transactionID))
}

// GetByProviderRef fetches the escrow a fiat callback refers to.
func (r *EscrowRepo) GetByProviderRef(ctx context.Context, providerRef string) (*domain.Escrow, error) {
	query := `SELECT ` + escrowColumns + ` FROM escrows WHERE fiat_provider_ref = $1`
	return scanEscrow(r.pool.QueryRow(ctx, query, providerRef))
}

// SetProviderRef stores the fiat correlation id returned at submission.
func (r *EscrowRepo) SetProviderRef(ctx context.Context, id uuid.UUID, providerRef string) error {
	query := `UPDATE escrows SET fiat_provider_ref = $1, updated_at = NOW() WHERE id = $2`

	tag, err := r.pool.Exec(ctx, query, providerRef, id)
	if err != nil {
		return fmt.Errorf("set provider ref: %w", mapUniqueViolation(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("escrow not found: %s", id)
	}
	return nil
}

// Transition updates the escrow only while its status is one of from.
func (r *EscrowRepo) Transition(ctx context.Context, tx pgx.Tx, id uuid.UUID, from []domain.EscrowStatus, upd domain.EscrowUpdate) (bool, error) {
	patch, err := json.Marshal(upd.Details)
	if err != nil {
		return false, fmt.Errorf("marshal escrow details: %w", err)
	}

	var txHash *string
	if upd.CryptoTxHash != "" {
		txHash = &upd.CryptoTxHash
	}

	query := `UPDATE escrows SET status = $1,
		crypto_tx_hash = COALESCE($2, crypto_tx_hash),
		completed_at = COALESCE($3, completed_at),
		retry_count = COALESCE($4, retry_count),
		last_retry_at = COALESCE($5, last_retry_at),
		details = details || $6::jsonb,
		updated_at = NOW()
		WHERE id = $7 AND status = ANY($8)`

	tag, err := pick(r.pool, tx).Exec(ctx, query,
		string(upd.Status), txHash, upd.CompletedAt, upd.RetryCount, upd.LastRetryAt,
		patch, id, statusStrings(from),
	)
	if err != nil {
		return false, fmt.Errorf("transition escrow: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RecordAttempt stores the attempt counter unless the escrow is terminal.
func (r *EscrowRepo) RecordAttempt(ctx context.Context, id uuid.UUID, retryCount int, at time.Time) error {
	query := `UPDATE escrows SET retry_count = $1, last_retry_at = $2, updated_at = NOW()
		WHERE id = $3 AND status NOT IN ('completed', 'failed', 'error')`

	if _, err := r.pool.Exec(ctx, query, retryCount, at, id); err != nil {
		return fmt.Errorf("record escrow attempt: %w", err)
	}
	return nil
}

// ListAwaitingFiat returns pending/reserved collections with a provider ref
// created before olderThan. Withdrawals are excluded.
func (r *EscrowRepo) ListAwaitingFiat(ctx context.Context, olderThan time.Time, limit int) ([]domain.Escrow, error) {
	query := `SELECT ` + escrowColumns + ` FROM escrows
		WHERE type = 'fiat_to_crypto' AND status IN ('pending', 'reserved')
		AND fiat_provider_ref IS NOT NULL AND created_at < $1
		ORDER BY created_at ASC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("list awaiting escrows: %w", err)
	}
	defer rows.Close()

	var out []domain.Escrow
	for rows.Next() {
		e, err := scanEscrow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate escrow rows: %w", err)
	}
	return out, nil
}

// scanEscrow scans one row. It returns (nil, nil) on pgx.ErrNoRows.
func scanEscrow(row pgx.Row) (*domain.Escrow, error) {
	var (
		e                        domain.Escrow
		typ, status              string
		amountFiat, amountCrypto string
		details, metadata        []byte
	)
	err := row.Scan(
		&e.ID, &e.TransactionID, &e.UserID, &typ, &status,
		&amountFiat, &e.FiatCurrency, &amountCrypto,
		&e.Chain, &e.Token, &e.WalletAddress, &e.FiatProviderRef, &e.CryptoTxHash,
		&e.RetryCount, &e.LastRetryAt, &e.CompletedAt, &details, &metadata,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan escrow: %w", err)
	}

	e.Type = domain.EscrowType(typ)
	e.Status = domain.EscrowStatus(status)
	if e.AmountFiat, err = decimal.NewFromString(amountFiat); err != nil {
		return nil, fmt.Errorf("parse amount_fiat: %w", err)
	}
	if e.AmountCrypto, err = decimal.NewFromString(amountCrypto); err != nil {
		return nil, fmt.Errorf("parse amount_crypto: %w", err)
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &e.Details); err != nil {
			return nil, fmt.Errorf("unmarshal escrow details: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal escrow metadata: %w", err)
		}
	}
	return &e, nil
}

func marshalMetadata(m map[string]string) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal escrow metadata: %w", err)
	}
	return b, nil
}

func statusStrings(in []domain.EscrowStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

// mapUniqueViolation converts unique-key violations to domain errors.
func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return err
	}
	switch pgErr.ConstraintName {
	case "escrows_fiat_provider_ref_key":
		return domain.ErrDuplicateProviderRef
	case "escrows_debit_tx_hash_key":
		return domain.ErrDuplicateDebit
	default:
		return domain.ErrDuplicateTransaction
	}
}
