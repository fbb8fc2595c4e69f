package dto

import (
	"time"

	"settlement-engine/internal/core/domain"

	"github.com/shopspring/decimal"
)

// BuyRequest is the request body for a direct buy (fiat in, crypto out).
type BuyRequest struct {
	TransactionID string            `json:"transaction_id" binding:"required,uuid"`
	UserID        string            `json:"user_id" binding:"required,max=64,safe_id"`
	Phone         string            `json:"phone" binding:"required,msisdn"`
	AmountFiat    decimal.Decimal   `json:"amount_fiat"`
	FiatCurrency  string            `json:"fiat_currency" binding:"required,len=3"`
	AmountCrypto  decimal.Decimal   `json:"amount_crypto"`
	Chain         string            `json:"chain" binding:"required,max=32"`
	Token         string            `json:"token" binding:"required,max=32"`
	WalletAddress string            `json:"wallet_address" binding:"required"`
	Metadata      map[string]string `json:"metadata,omitempty" binding:"max=20"`
}

// DepositRequest is the request body for a plain fiat deposit.
type DepositRequest struct {
	TransactionID string            `json:"transaction_id" binding:"required,uuid"`
	UserID        string            `json:"user_id" binding:"required,max=64,safe_id"`
	Phone         string            `json:"phone" binding:"required,msisdn"`
	AmountFiat    decimal.Decimal   `json:"amount_fiat"`
	FiatCurrency  string            `json:"fiat_currency" binding:"required,len=3"`
	AmountCrypto  decimal.Decimal   `json:"amount_crypto"`
	Chain         string            `json:"chain" binding:"required,max=32"`
	Token         string            `json:"token" binding:"required,max=32"`
	WalletAddress string            `json:"wallet_address" binding:"required"`
	Metadata      map[string]string `json:"metadata,omitempty" binding:"max=20"`
}

// WithdrawRequest is the request body for a crypto -> mobile money / paybill / till payout.
type WithdrawRequest struct {
	TransactionID string            `json:"transaction_id" binding:"required,uuid"`
	UserID        string            `json:"user_id" binding:"required,max=64,safe_id"`
	Type          string            `json:"type" binding:"required,oneof=crypto_to_fiat crypto_to_paybill crypto_to_till"`
	AmountCrypto  decimal.Decimal   `json:"amount_crypto"`
	Chain         string            `json:"chain" binding:"required,max=32"`
	Token         string            `json:"token" binding:"required,max=32"`
	WalletAddress string            `json:"wallet_address" binding:"required"`
	DebitTxHash   string            `json:"debit_tx_hash" binding:"required,max=100"`
	AmountFiat    decimal.Decimal   `json:"amount_fiat"`
	FiatCurrency  string            `json:"fiat_currency" binding:"required,len=3"`
	Destination   string            `json:"destination" binding:"required,max=20"`
	Account       string            `json:"account,omitempty" binding:"max=20"`
	Metadata      map[string]string `json:"metadata,omitempty" binding:"max=20"`
}

// OverrideRequest forces an escrow into a status.
type OverrideRequest struct {
	Status string `json:"status" binding:"required,oneof=pending reserved processing completed failed error"`
	Reason string `json:"reason" binding:"required,min=3,max=500"`
}

// EscrowResponse is the public view of an escrow.
type EscrowResponse struct {
	TransactionID   string            `json:"transaction_id"`
	UserID          string            `json:"user_id"`
	Type            string            `json:"type"`
	Status          string            `json:"status"`
	AmountFiat      string            `json:"amount_fiat"`
	FiatCurrency    string            `json:"fiat_currency"`
	AmountCrypto    string            `json:"amount_crypto"`
	Chain           string            `json:"chain"`
	Token           string            `json:"token"`
	WalletAddress   string            `json:"wallet_address"`
	FiatProviderRef *string           `json:"fiat_provider_ref,omitempty"`
	CryptoTxHash    *string           `json:"crypto_tx_hash,omitempty"`
	RefundTxHash    string            `json:"refund_tx_hash,omitempty"`
	Fee             string            `json:"fee,omitempty"`
	FailureReason   string            `json:"failure_reason,omitempty"`
	RetryCount      int               `json:"retry_count"`
	CompletedAt     *string           `json:"completed_at,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	CreatedAt       string            `json:"created_at"`
	UpdatedAt       string            `json:"updated_at"`
}

// AdminEscrowResponse adds the internal escrow state and its event log.
type AdminEscrowResponse struct {
	EscrowResponse
	ID      string                        `json:"id"`
	Details domain.EscrowDetails          `json:"details"`
	Events  []ReconciliationEventResponse `json:"events"`
}

// ReconciliationEventResponse is one reconciliation log entry.
type ReconciliationEventResponse struct {
	ID            string            `json:"id"`
	TransactionID *string           `json:"transaction_id,omitempty"`
	ProviderRef   string            `json:"provider_ref,omitempty"`
	Kind          string            `json:"kind"`
	ManualReview  bool              `json:"manual_review"`
	Detail        map[string]string `json:"detail,omitempty"`
	CreatedAt     string            `json:"created_at"`
	ResolvedAt    *string           `json:"resolved_at,omitempty"`
}

// RetryResponse is returned when an escrow's crypto leg is re-admitted.
type RetryResponse struct {
	Escrow     EscrowResponse `json:"escrow"`
	QueuedTxID string         `json:"queued_tx_id"`
}

// QueueDepthResponse is a queue snapshot for one priority.
type QueueDepthResponse struct {
	Priority   string `json:"priority"`
	Queued     int64  `json:"queued"`
	Processing int64  `json:"processing"`
	Retrying   int64  `json:"retrying"`
}

// ToEscrowResponse converts domain.Escrow to its public view.
func ToEscrowResponse(e *domain.Escrow) EscrowResponse {
	resp := EscrowResponse{
		TransactionID:   e.TransactionID.String(),
		UserID:          e.UserID,
		Type:            string(e.Type),
		Status:          string(e.Status),
		AmountFiat:      e.AmountFiat.String(),
		FiatCurrency:    e.FiatCurrency,
		AmountCrypto:    e.AmountCrypto.String(),
		Chain:           e.Chain,
		Token:           e.Token,
		WalletAddress:   e.WalletAddress,
		FiatProviderRef: e.FiatProviderRef,
		CryptoTxHash:    e.CryptoTxHash,
		RefundTxHash:    e.Details.RefundTxHash,
		Fee:             e.Details.Fee,
		FailureReason:   e.Details.FailureReason,
		RetryCount:      e.RetryCount,
		CompletedAt:     formatTimePtr(e.CompletedAt),
		Metadata:        e.Metadata,
		CreatedAt:       formatTime(e.CreatedAt),
		UpdatedAt:       formatTime(e.UpdatedAt),
	}
	return resp
}

// ToAdminEscrowResponse converts an escrow and its events to the admin view.
func ToAdminEscrowResponse(e *domain.Escrow, events []domain.ReconciliationEvent) AdminEscrowResponse {
	return AdminEscrowResponse{
		EscrowResponse: ToEscrowResponse(e),
		ID:             e.ID.String(),
		Details:        e.Details,
		Events:         ToEventResponses(events),
	}
}

// ToEventResponses converts reconciliation events, never returning nil.
func ToEventResponses(events []domain.ReconciliationEvent) []ReconciliationEventResponse {
	out := make([]ReconciliationEventResponse, 0, len(events))
	for _, ev := range events {
		r := ReconciliationEventResponse{
			ID:           ev.ID.String(),
			ProviderRef:  ev.ProviderRef,
			Kind:         string(ev.Kind),
			ManualReview: ev.ManualReview,
			Detail:       ev.Detail,
			CreatedAt:    formatTime(ev.CreatedAt),
			ResolvedAt:   formatTimePtr(ev.ResolvedAt),
		}
		if ev.TransactionID != nil {
			s := ev.TransactionID.String()
			r.TransactionID = &s
		}
		out = append(out, r)
	}
	return out
}

// ToQueueDepthResponses converts a queue snapshot.
func ToQueueDepthResponses(depths []domain.QueueDepth) []QueueDepthResponse {
	out := make([]QueueDepthResponse, 0, len(depths))
	for _, d := range depths {
		out = append(out, QueueDepthResponse{
			Priority:   string(d.Priority),
			Queued:     d.Queued,
			Processing: d.Processing,
			Retrying:   d.Retrying,
		})
	}
	return out
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}
