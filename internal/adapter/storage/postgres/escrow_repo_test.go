package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"settlement-engine/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func newTestEscrow() *domain.Escrow {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.Escrow{
		ID:            uuid.New(),
		TransactionID: uuid.New(),
		UserID:        "user-42",
		Type:          domain.EscrowTypeFiatToCrypto,
		Status:        domain.EscrowStatusReserved,
		AmountFiat:    decimal.RequireFromString("1300"),
		FiatCurrency:  "KES",
		AmountCrypto:  decimal.RequireFromString("10.5"),
		Chain:         "polygon",
		Token:         "usdt",
		WalletAddress: "0x52908400098527886E0F7030069857D2E4169EE7",
		Details:       domain.EscrowDetails{DirectBuy: true, Phone: "254708374149"},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func escrowCols() []string {
	return []string{"id", "transaction_id", "user_id", "type", "status", "amount_fiat", "fiat_currency",
		"amount_crypto", "chain", "token", "wallet_address", "fiat_provider_ref", "crypto_tx_hash",
		"retry_count", "last_retry_at", "completed_at", "details", "metadata", "created_at", "updated_at"}
}

func escrowRow(t *testing.T, e *domain.Escrow) *pgxmock.Rows {
	details, err := json.Marshal(e.Details)
	require.NoError(t, err)
	return pgxmock.NewRows(escrowCols()).AddRow(
		e.ID, e.TransactionID, e.UserID, string(e.Type), string(e.Status),
		e.AmountFiat.String(), e.FiatCurrency, e.AmountCrypto.String(),
		e.Chain, e.Token, e.WalletAddress, e.FiatProviderRef, e.CryptoTxHash,
		e.RetryCount, e.LastRetryAt, e.CompletedAt, details, []byte(`{"channel":"app"}`),
		e.CreatedAt, e.UpdatedAt,
	)
}

func TestEscrowRepo_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewEscrowRepo(mock)
	e := newTestEscrow()
	details, _ := json.Marshal(e.Details)

	mock.ExpectExec("INSERT INTO escrows").
		WithArgs(
			e.ID, e.TransactionID, e.UserID, "fiat_to_crypto", "reserved",
			"1300", "KES", "10.5",
			e.Chain, e.Token, e.WalletAddress, e.FiatProviderRef, e.CryptoTxHash,
			0, e.LastRetryAt, e.CompletedAt, details, []byte("{}"),
			e.CreatedAt, e.UpdatedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	assert.NoError(t, repo.Create(context.Background(), e))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEscrowRepo_Create_Duplicate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewEscrowRepo(mock)

	mock.ExpectExec("INSERT INTO escrows").
		WithArgs(anyArgs(20)...).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "escrows_transaction_id_key"})

	err = repo.Create(context.Background(), newTestEscrow())
	assert.ErrorIs(t, err, domain.ErrDuplicateTransaction)

	mock.ExpectExec("INSERT INTO escrows").
		WithArgs(anyArgs(20)...).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "escrows_fiat_provider_ref_key"})

	err = repo.Create(context.Background(), newTestEscrow())
	assert.ErrorIs(t, err, domain.ErrDuplicateProviderRef)

	mock.ExpectExec("INSERT INTO escrows").
		WithArgs(anyArgs(20)...).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "escrows_debit_tx_hash_key"})

	err = repo.Create(context.Background(), newTestEscrow())
	assert.ErrorIs(t, err, domain.ErrDuplicateDebit)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEscrowRepo_GetByProviderRef(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewEscrowRepo(mock)
	e := newTestEscrow()
	e.FiatProviderRef = strPtr("ws_CO_191220191020363925")

	mock.ExpectQuery("SELECT .+ FROM escrows WHERE fiat_provider_ref").
		WithArgs("ws_CO_191220191020363925").
		WillReturnRows(escrowRow(t, e))

	got, err := repo.GetByProviderRef(context.Background(), "ws_CO_191220191020363925")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, domain.EscrowStatusReserved, got.Status)
	assert.True(t, got.AmountCrypto.Equal(decimal.RequireFromString("10.5")))
	assert.True(t, got.Details.DirectBuy)
	assert.Equal(t, "app", got.Metadata["channel"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEscrowRepo_GetByID_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewEscrowRepo(mock)
	id := uuid.New()

	mock.ExpectQuery("SELECT .+ FROM escrows WHERE id").
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)

	got, err := repo.GetByID(context.Background(), id)
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestEscrowRepo_GetByTransactionID_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewEscrowRepo(mock)

	mock.ExpectQuery("SELECT .+ FROM escrows WHERE transaction_id").
		WithArgs(pgxmock.AnyArg()).
		WillReturnError(errors.New("connection refused"))

	got, err := repo.GetByTransactionID(context.Background(), uuid.New())
	assert.Error(t, err)
	assert.Nil(t, got)
}

func TestEscrowRepo_Transition(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewEscrowRepo(mock)
	id := uuid.New()
	now := time.Now().UTC()
	upd := domain.EscrowUpdate{
		Status:       domain.EscrowStatusCompleted,
		CryptoTxHash: "0xfeed",
		CompletedAt:  &now,
	}

	mock.ExpectExec("UPDATE escrows SET status").
		WithArgs("completed", strPtr("0xfeed"), &now, (*int)(nil), (*time.Time)(nil),
			[]byte("{}"), id, []string{"processing"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	ok, err := repo.Transition(context.Background(), nil, id,
		[]domain.EscrowStatus{domain.EscrowStatusProcessing}, upd)
	require.NoError(t, err)
	assert.True(t, ok)

	// Second delivery finds the escrow already terminal.
	mock.ExpectExec("UPDATE escrows SET status").
		WithArgs(anyArgs(8)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err = repo.Transition(context.Background(), nil, id,
		[]domain.EscrowStatus{domain.EscrowStatusProcessing}, upd)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEscrowRepo_TransitionInsideTx(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewEscrowRepo(mock)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE escrows SET status").
		WithArgs("error", (*string)(nil), (*time.Time)(nil), pgxmock.AnyArg(), pgxmock.AnyArg(),
			[]byte(`{"error_detail":"timeout","manual_review":true}`), id, []string{"processing"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	five := 5
	ok, err := repo.Transition(context.Background(), tx, id,
		[]domain.EscrowStatus{domain.EscrowStatusProcessing},
		domain.EscrowUpdate{
			Status:     domain.EscrowStatusError,
			RetryCount: &five,
			Details:    domain.EscrowDetails{ErrorDetail: "timeout", ManualReview: true},
		})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEscrowRepo_SetProviderRef(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewEscrowRepo(mock)
	id := uuid.New()

	mock.ExpectExec("UPDATE escrows SET fiat_provider_ref").
		WithArgs("AG_20191219_00005797af5d7d75f652", id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, repo.SetProviderRef(context.Background(), id, "AG_20191219_00005797af5d7d75f652"))

	mock.ExpectExec("UPDATE escrows SET fiat_provider_ref").
		WithArgs("x", id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	assert.Error(t, repo.SetProviderRef(context.Background(), id, "x"))
}

func TestEscrowRepo_RecordAttempt(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewEscrowRepo(mock)
	id := uuid.New()
	at := time.Now().UTC()

	mock.ExpectExec("UPDATE escrows SET retry_count").
		WithArgs(2, at, id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	assert.NoError(t, repo.RecordAttempt(context.Background(), id, 2, at))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEscrowRepo_ListAwaitingFiat(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewEscrowRepo(mock)
	a, b := newTestEscrow(), newTestEscrow()
	a.FiatProviderRef = strPtr("ws_CO_a")
	b.FiatProviderRef = strPtr("ws_CO_b")
	cutoff := time.Now().UTC()

	detailsA, _ := json.Marshal(a.Details)
	rows := pgxmock.NewRows(escrowCols())
	for _, e := range []*domain.Escrow{a, b} {
		rows.AddRow(
			e.ID, e.TransactionID, e.UserID, string(e.Type), string(e.Status),
			e.AmountFiat.String(), e.FiatCurrency, e.AmountCrypto.String(),
			e.Chain, e.Token, e.WalletAddress, e.FiatProviderRef, e.CryptoTxHash,
			e.RetryCount, e.LastRetryAt, e.CompletedAt, detailsA, []byte(nil),
			e.CreatedAt, e.UpdatedAt,
		)
	}

	mock.ExpectQuery(`SELECT .+ FROM escrows\s+WHERE type = 'fiat_to_crypto' AND status IN`).
		WithArgs(cutoff, 50).
		WillReturnRows(rows)

	list, err := repo.ListAwaitingFiat(context.Background(), cutoff, 50)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "ws_CO_b", list[1].ProviderRef())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}
