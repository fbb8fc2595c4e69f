package domain

import (
	"time"

	"github.com/google/uuid"
)

// ReconciliationKind names an entry in the reconciliation event log.
type ReconciliationKind string

const (
	ReconRetriesExhausted    ReconciliationKind = "retries_exhausted"
	ReconAdmissionRejected   ReconciliationKind = "admission_rejected"
	ReconRefundIssued        ReconciliationKind = "refund_issued"
	ReconRefundFailed        ReconciliationKind = "refund_failed"
	ReconAdminOverride       ReconciliationKind = "admin_override"
	ReconUnknownCallback     ReconciliationKind = "unknown_callback"
	ReconFeeCollectionFailed ReconciliationKind = "fee_collection_failed"
	ReconFeeCollected        ReconciliationKind = "fee_collected"
)

// ReconciliationEvent is an append-only record of a cross-rail outcome.
// Events with ManualReview set stay open until an operator resolves the escrow.
type ReconciliationEvent struct {
	ID            uuid.UUID          `json:"id"`
	EscrowID      *uuid.UUID         `json:"escrow_id,omitempty"`
	TransactionID *uuid.UUID         `json:"transaction_id,omitempty"`
	ProviderRef   string             `json:"provider_ref,omitempty"`
	Kind          ReconciliationKind `json:"kind"`
	ManualReview  bool               `json:"manual_review"`
	Detail        map[string]string  `json:"detail,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	ResolvedAt    *time.Time         `json:"resolved_at,omitempty"`
}

// NewReconciliationEvent builds an event bound to an escrow.
func NewReconciliationEvent(e *Escrow, kind ReconciliationKind, manualReview bool, detail map[string]string) *ReconciliationEvent {
	ev := &ReconciliationEvent{
		ID:           uuid.New(),
		Kind:         kind,
		ManualReview: manualReview,
		Detail:       detail,
		CreatedAt:    time.Now().UTC(),
	}
	if e != nil {
		id, txID := e.ID, e.TransactionID
		ev.EscrowID = &id
		ev.TransactionID = &txID
		ev.ProviderRef = e.ProviderRef()
	}
	return ev
}
