package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appErr   *AppError
		expected string
	}{
		{
			name:     "without wrapped error",
			appErr:   ErrInsufficientPlatformBalance(),
			expected: "[LIQ_001] INSUFFICIENT_PLATFORM_BALANCE",
		},
		{
			name:     "with wrapped error",
			appErr:   Wrap("SYS_001", "DB error", http.StatusInternalServerError, fmt.Errorf("connection refused")),
			expected: "[SYS_001] DB error: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.appErr.Error())
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	inner := fmt.Errorf("inner error")
	appErr := ErrFiatRail(inner)

	assert.True(t, errors.Is(appErr, inner))
	assert.Nil(t, ErrInvalidAmount().Unwrap())
}

func TestAppError_With(t *testing.T) {
	cause := errors.New("balance too low")
	appErr := ErrInsufficientPlatformBalance().With(cause)

	assert.ErrorIs(t, appErr, cause)
	assert.Equal(t, "LIQ_001", appErr.Code)
	assert.Nil(t, ErrInsufficientPlatformBalance().Err, "constructors return fresh values")
}

func TestAppError_As(t *testing.T) {
	wrapped := fmt.Errorf("enqueue: %w", ErrInsufficientPlatformBalance())

	var appErr *AppError
	assert.True(t, errors.As(wrapped, &appErr))
	assert.Equal(t, "LIQ_001", appErr.Code)
}

func TestErrorCatalog(t *testing.T) {
	tests := []struct {
		name       string
		err        *AppError
		code       string
		httpStatus int
	}{
		{"InvalidAmount", ErrInvalidAmount(), "VAL_001", 400},
		{"InvalidAddress", ErrInvalidAddress(), "VAL_002", 400},
		{"UnsupportedAsset", ErrUnsupportedAsset("polygon", "USDT"), "VAL_003", 400},
		{"Validation", Validation("bad"), "VAL_000", 400},
		{"DebitUnverified", ErrDebitUnverified(), "VAL_004", 422},
		{"InsufficientPlatformBalance", ErrInsufficientPlatformBalance(), "LIQ_001", 422},
		{"EscrowNotFound", ErrEscrowNotFound(), "ESC_001", 404},
		{"IllegalTransition", ErrIllegalTransition("completed", "failed"), "ESC_002", 409},
		{"EscrowTerminal", ErrEscrowTerminal(), "ESC_003", 409},
		{"DuplicateTransaction", ErrDuplicateTransaction(), "ESC_004", 409},
		{"DuplicateDebit", ErrDuplicateDebit(), "ESC_005", 409},
		{"FiatRail", ErrFiatRail(errors.New("x")), "RAIL_001", 502},
		{"ChainUnavailable", ErrChainUnavailable(errors.New("x")), "RAIL_002", 503},
		{"InvalidToken", ErrInvalidToken(), "AUTH_001", 401},
		{"Forbidden", ErrForbidden(), "AUTH_002", 403},
		{"Database", ErrDatabaseError(errors.New("x")), "SYS_001", 500},
		{"Queue", ErrQueueUnavailable(errors.New("x")), "SYS_002", 503},
		{"Internal", InternalError(errors.New("x")), "SYS_001", 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.httpStatus, tt.err.HTTPStatus)
		})
	}
}
