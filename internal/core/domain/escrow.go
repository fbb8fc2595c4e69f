package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EscrowType identifies which way value moves across the two rails.
type EscrowType string

const (
	EscrowTypeFiatToCrypto    EscrowType = "fiat_to_crypto"
	EscrowTypeCryptoToFiat    EscrowType = "crypto_to_fiat"
	EscrowTypeCryptoToPaybill EscrowType = "crypto_to_paybill"
	EscrowTypeCryptoToTill    EscrowType = "crypto_to_till"
)

// Valid reports whether t is a known escrow type.
func (t EscrowType) Valid() bool {
	switch t {
	case EscrowTypeFiatToCrypto, EscrowTypeCryptoToFiat, EscrowTypeCryptoToPaybill, EscrowTypeCryptoToTill:
		return true
	}
	return false
}

// IsWithdrawal is true for flows where the user's crypto is debited before the fiat payout.
func (t EscrowType) IsWithdrawal() bool {
	return t == EscrowTypeCryptoToFiat || t == EscrowTypeCryptoToPaybill || t == EscrowTypeCryptoToTill
}

// EscrowStatus is the lifecycle state of an escrow.
type EscrowStatus string

const (
	EscrowStatusPending    EscrowStatus = "pending"
	EscrowStatusReserved   EscrowStatus = "reserved"
	EscrowStatusProcessing EscrowStatus = "processing"
	EscrowStatusCompleted  EscrowStatus = "completed"
	EscrowStatusFailed     EscrowStatus = "failed"
	EscrowStatusError      EscrowStatus = "error"
)

// IsTerminal reports whether automated paths may no longer move the escrow.
// Only administrative actions mutate a terminal escrow.
func (s EscrowStatus) IsTerminal() bool {
	return s == EscrowStatusCompleted || s == EscrowStatusFailed || s == EscrowStatusError
}

// Valid reports whether s is a known status.
func (s EscrowStatus) Valid() bool {
	switch s {
	case EscrowStatusPending, EscrowStatusReserved, EscrowStatusProcessing,
		EscrowStatusCompleted, EscrowStatusFailed, EscrowStatusError:
		return true
	}
	return false
}

var escrowTransitions = map[EscrowStatus][]EscrowStatus{
	EscrowStatusPending:    {EscrowStatusReserved, EscrowStatusCompleted, EscrowStatusFailed},
	EscrowStatusReserved:   {EscrowStatusProcessing, EscrowStatusCompleted, EscrowStatusFailed},
	EscrowStatusProcessing: {EscrowStatusCompleted, EscrowStatusFailed, EscrowStatusError},
}

// CanTransition reports whether the automated state machine allows from -> to.
func CanTransition(from, to EscrowStatus) bool {
	for _, s := range escrowTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// SourcesFor returns every status that may legally move to the given status.
// Repositories use it as the guard of a conditional update.
func SourcesFor(to EscrowStatus) []EscrowStatus {
	var out []EscrowStatus
	for _, from := range []EscrowStatus{EscrowStatusPending, EscrowStatusReserved, EscrowStatusProcessing} {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// Escrow is the durable coordination record of one fiat/crypto settlement attempt.
// It is never deleted.
type Escrow struct {
	ID              uuid.UUID         `json:"id"`
	TransactionID   uuid.UUID         `json:"transaction_id"`
	UserID          string            `json:"user_id"`
	Type            EscrowType        `json:"type"`
	Status          EscrowStatus      `json:"status"`
	AmountFiat      decimal.Decimal   `json:"amount_fiat"`
	FiatCurrency    string            `json:"fiat_currency"`
	AmountCrypto    decimal.Decimal   `json:"amount_crypto"`
	Chain           string            `json:"chain"`
	Token           string            `json:"token"`
	WalletAddress   string            `json:"wallet_address"` // payout target for buys, refund target for withdrawals
	FiatProviderRef *string           `json:"fiat_provider_ref,omitempty"`
	CryptoTxHash    *string           `json:"crypto_tx_hash,omitempty"`
	RetryCount      int               `json:"retry_count"`
	LastRetryAt     *time.Time        `json:"last_retry_at,omitempty"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
	Details         EscrowDetails     `json:"details"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// EscrowDetails holds the structured fields the engine reads and writes.
// Stored as a JSON document; updates are merged field by field, so zero
// values in a patch leave the stored value untouched.
type EscrowDetails struct {
	DirectBuy   bool   `json:"direct_buy,omitempty"`
	QueuedTxID  string `json:"queued_tx_id,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Destination string `json:"destination,omitempty"`

	// collection / payout outcome
	ReceiptRef        string `json:"receipt_ref,omitempty"`
	SettledFiatAmount string `json:"settled_fiat_amount,omitempty"`
	FailureReason     string `json:"failure_reason,omitempty"`

	// crypto leg
	DebitTxHash                string `json:"debit_tx_hash,omitempty"`
	RefundTxHash               string `json:"refund_tx_hash,omitempty"`
	Fee                        string `json:"fee,omitempty"`
	PlatformBalanceAtAdmission string `json:"platform_balance_at_admission,omitempty"`

	ErrorDetail  string `json:"error_detail,omitempty"`
	ManualReview bool   `json:"manual_review,omitempty"`
}

// Merge overlays the non-zero fields of patch onto d.
func (d EscrowDetails) Merge(patch EscrowDetails) EscrowDetails {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	if patch.DirectBuy {
		d.DirectBuy = true
	}
	if patch.ManualReview {
		d.ManualReview = true
	}
	set(&d.QueuedTxID, patch.QueuedTxID)
	set(&d.Phone, patch.Phone)
	set(&d.Destination, patch.Destination)
	set(&d.ReceiptRef, patch.ReceiptRef)
	set(&d.SettledFiatAmount, patch.SettledFiatAmount)
	set(&d.FailureReason, patch.FailureReason)
	set(&d.DebitTxHash, patch.DebitTxHash)
	set(&d.RefundTxHash, patch.RefundTxHash)
	set(&d.Fee, patch.Fee)
	set(&d.PlatformBalanceAtAdmission, patch.PlatformBalanceAtAdmission)
	set(&d.ErrorDetail, patch.ErrorDetail)
	return d
}

// RequiresCryptoPayout is true when a successful collection must be followed by
// an outbound transfer to the user.
func (e *Escrow) RequiresCryptoPayout() bool {
	return e.Type == EscrowTypeFiatToCrypto && e.Details.DirectBuy
}

// ProviderRef returns the fiat correlation id or "".
func (e *Escrow) ProviderRef() string {
	if e.FiatProviderRef == nil {
		return ""
	}
	return *e.FiatProviderRef
}

// EscrowUpdate is applied by a conditional transition. Empty fields are left unchanged.
type EscrowUpdate struct {
	Status       EscrowStatus
	CryptoTxHash string
	CompletedAt  *time.Time
	RetryCount   *int
	LastRetryAt  *time.Time
	Details      EscrowDetails
}

// Apply mutates e with the update. Callers are responsible for the status guard.
func (u EscrowUpdate) Apply(e *Escrow, now time.Time) {
	e.Status = u.Status
	if u.CryptoTxHash != "" {
		h := u.CryptoTxHash
		e.CryptoTxHash = &h
	}
	if u.CompletedAt != nil {
		t := *u.CompletedAt
		e.CompletedAt = &t
	}
	if u.RetryCount != nil {
		e.RetryCount = *u.RetryCount
	}
	if u.LastRetryAt != nil {
		t := *u.LastRetryAt
		e.LastRetryAt = &t
	}
	e.Details = e.Details.Merge(u.Details)
	e.UpdatedAt = now
}
