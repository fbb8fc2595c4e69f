package apperror

import (
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// With attaches the underlying cause so callers can still match it with errors.Is.
func (e *AppError) With(err error) *AppError {
	e.Err = err
	return e
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// ---- Validation (VAL) ----

func ErrInvalidAmount() *AppError {
	return New("VAL_001", "Invalid amount", http.StatusBadRequest)
}

func ErrInvalidAddress() *AppError {
	return New("VAL_002", "Invalid wallet address", http.StatusBadRequest)
}

func ErrUnsupportedAsset(chain, token string) *AppError {
	return New("VAL_003", fmt.Sprintf("Unsupported asset %s on %s", token, chain), http.StatusBadRequest)
}

// Validation returns a VAL_000 error with a custom message.
func Validation(message string) *AppError {
	return New("VAL_000", message, http.StatusBadRequest)
}

func ErrDebitUnverified() *AppError {
	return New("VAL_004", "Debit transaction could not be verified", http.StatusUnprocessableEntity)
}

// ---- Liquidity (LIQ) ----

// ReasonInsufficientPlatformBalance is recorded on escrows rejected at admission.
const ReasonInsufficientPlatformBalance = "INSUFFICIENT_PLATFORM_BALANCE"

func ErrInsufficientPlatformBalance() *AppError {
	return New("LIQ_001", ReasonInsufficientPlatformBalance, http.StatusUnprocessableEntity)
}

// ---- Escrow (ESC) ----

func ErrEscrowNotFound() *AppError {
	return New("ESC_001", "Escrow not found", http.StatusNotFound)
}

func ErrIllegalTransition(from, to string) *AppError {
	return New("ESC_002", fmt.Sprintf("Illegal escrow transition %s -> %s", from, to), http.StatusConflict)
}

func ErrEscrowTerminal() *AppError {
	return New("ESC_003", "Escrow already in a terminal state", http.StatusConflict)
}

func ErrDuplicateTransaction() *AppError {
	return New("ESC_004", "Duplicate transaction id", http.StatusConflict)
}

func ErrDuplicateDebit() *AppError {
	return New("ESC_005", "Debit transaction already used", http.StatusConflict)
}

// ---- Rails (RAIL) ----

func ErrFiatRail(err error) *AppError {
	return Wrap("RAIL_001", "Fiat rail rejected the request", http.StatusBadGateway, err)
}

func ErrChainUnavailable(err error) *AppError {
	return Wrap("RAIL_002", "Chain unavailable", http.StatusServiceUnavailable, err)
}

// ---- Authentication (AUTH) ----

func ErrInvalidToken() *AppError {
	return New("AUTH_001", "Invalid or expired token", http.StatusUnauthorized)
}

func ErrForbidden() *AppError {
	return New("AUTH_002", "Insufficient permissions", http.StatusForbidden)
}

// ---- System & Infrastructure (SYS) ----

func ErrDatabaseError(err error) *AppError {
	return Wrap("SYS_001", "Internal database error", http.StatusInternalServerError, err)
}

func ErrQueueUnavailable(err error) *AppError {
	return Wrap("SYS_002", "Settlement queue unavailable", http.StatusServiceUnavailable, err)
}

func ErrRateLimitExceeded() *AppError {
	return New("SYS_003", "Too many requests", http.StatusTooManyRequests)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}
