package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"settlement-engine/config"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactor_Begin(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	tx, err := NewTransactor(mock).Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHealthCheck(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	h := NewHealthCheck(mock)
	assert.Equal(t, "postgresql", h.Name())

	mock.ExpectExec("SELECT 1").WillReturnResult(pgxmock.NewResult("SELECT", 1))
	assert.NoError(t, h.Ping(context.Background()))

	mock.ExpectExec("SELECT 1").WillReturnError(errors.New("connection refused"))
	assert.Error(t, h.Ping(context.Background()))
}

func TestPoolConfig(t *testing.T) {
	cfg := config.DatabaseConfig{
		Host: "db.local", Port: 5432, User: "settle", Password: "pw", DBName: "settlement", SSLMode: "disable",
		MaxConns: 12, MinConns: 3, ConnMaxLifetime: 10 * time.Minute, StatementTimeout: 15 * time.Second,
	}

	pc, err := poolConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, int32(12), pc.MaxConns)
	assert.Equal(t, int32(3), pc.MinConns)
	assert.Equal(t, 10*time.Minute, pc.MaxConnLifetime)
	assert.Equal(t, "db.local", pc.ConnConfig.Host)
	assert.Equal(t, "settlement-engine", pc.ConnConfig.RuntimeParams["application_name"])
	assert.Equal(t, "15000", pc.ConnConfig.RuntimeParams["statement_timeout"])
}

func TestPoolConfig_IgnoresMinAboveMax(t *testing.T) {
	pc, err := poolConfig(config.DatabaseConfig{
		Host: "db.local", Port: 5432, User: "u", DBName: "d", SSLMode: "disable", MaxConns: 2, MinConns: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, int32(2), pc.MaxConns)
	assert.Equal(t, int32(0), pc.MinConns)
	_, set := pc.ConnConfig.RuntimeParams["statement_timeout"]
	assert.False(t, set)
}

// NewPool needs a live server and is exercised by the migration command.
