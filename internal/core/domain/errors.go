package domain

import (
	"errors"
	"fmt"
)

var (
	ErrTerminalEscrow              = errors.New("escrow is in a terminal state")
	ErrIllegalTransition           = errors.New("illegal escrow transition")
	ErrInvalidAddress              = errors.New("invalid recipient address")
	ErrInvalidAmount               = errors.New("amount must be positive")
	ErrUnsupportedAsset            = errors.New("unsupported chain or token")
	ErrInsufficientPlatformBalance = errors.New("insufficient platform balance")
	ErrDuplicateTransaction        = errors.New("duplicate transaction id")
	ErrDuplicateProviderRef        = errors.New("duplicate fiat provider reference")
	ErrDuplicateDebit              = errors.New("debit transaction already funds another escrow")
	ErrDebitUnverified             = errors.New("debit transaction not verified on chain")

	// ErrNotProcessing is returned when a queue item left its processing
	// sublist, which happens if stalled cleanup already requeued it.
	ErrNotProcessing = errors.New("queue item is not in processing")
)

// TransferErrorKind classifies a failed token transfer.
type TransferErrorKind int

const (
	// TransferTimeout: no definitive answer before the deadline and nothing was broadcast.
	TransferTimeout TransferErrorKind = iota + 1
	// TransferRejected: the node refused the submission.
	TransferRejected
	// TransferInsufficientBalance: the signing wallet cannot cover amount or gas.
	TransferInsufficientBalance
	// TransferSignerUnavailable: no key is configured for the requested wallet.
	TransferSignerUnavailable
	// TransferAmbiguous: the transaction may have been broadcast; retrying could double-spend.
	TransferAmbiguous
)

func (k TransferErrorKind) String() string {
	switch k {
	case TransferTimeout:
		return "timeout"
	case TransferRejected:
		return "rejected"
	case TransferInsufficientBalance:
		return "insufficient_balance"
	case TransferSignerUnavailable:
		return "signer_unavailable"
	case TransferAmbiguous:
		return "ambiguous"
	}
	return "unknown"
}

// TransferError is returned by token transfer capabilities.
type TransferError struct {
	Kind   TransferErrorKind
	Op     string
	TxHash string
	Err    error
}

func (e *TransferError) Error() string {
	msg := fmt.Sprintf("%s failed (%s)", e.Op, e.Kind)
	if e.TxHash != "" {
		msg += " tx=" + e.TxHash
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransferError) Unwrap() error { return e.Err }

// Permanent reports whether retrying cannot help or is unsafe.
func (e *TransferError) Permanent() bool {
	switch e.Kind {
	case TransferTimeout, TransferRejected:
		return false
	}
	return true
}

// IsPermanentTransferError is true for permanent *TransferError values and for
// local validation failures. Unclassified errors are treated as transient.
func IsPermanentTransferError(err error) bool {
	if errors.Is(err, ErrInvalidAddress) || errors.Is(err, ErrInvalidAmount) || errors.Is(err, ErrUnsupportedAsset) {
		return true
	}
	var te *TransferError
	if errors.As(err, &te) {
		return te.Permanent()
	}
	return false
}
