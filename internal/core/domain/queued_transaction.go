package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Priority selects one of the three settlement queues.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Priorities lists the queues in drain order.
var Priorities = []Priority{PriorityHigh, PriorityNormal, PriorityLow}

// ParsePriority maps a string to a Priority. Empty means normal.
func ParsePriority(s string) (Priority, error) {
	switch Priority(s) {
	case "":
		return PriorityNormal, nil
	case PriorityHigh, PriorityNormal, PriorityLow:
		return Priority(s), nil
	}
	return "", fmt.Errorf("unknown priority %q", s)
}

// QueuedTransaction is one pending execution of an escrow's crypto leg.
// At most one is active per escrow.
type QueuedTransaction struct {
	ID          uuid.UUID       `json:"id"`
	EscrowID    uuid.UUID       `json:"escrow_id"`
	ToAddress   string          `json:"to_address"`
	Amount      decimal.Decimal `json:"amount"` // token units
	Chain       string          `json:"chain"`
	Token       string          `json:"token"`
	Priority    Priority        `json:"priority"`
	Attempts    int             `json:"attempts"`
	LastAttempt *time.Time      `json:"last_attempt,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// GroupKey identifies transfers that could share one multi-send.
func (q *QueuedTransaction) GroupKey() string {
	return q.Chain + "|" + q.Token + "|" + q.ToAddress
}

// TransferRequest is the input to queue admission.
type TransferRequest struct {
	EscrowID  uuid.UUID
	ToAddress string
	Amount    decimal.Decimal
	Chain     string
	Token     string
	Priority  Priority
}

// QueueDepth is a snapshot of one priority's structures.
type QueueDepth struct {
	Priority   Priority `json:"priority"`
	Queued     int64    `json:"queued"`
	Processing int64    `json:"processing"`
	Retrying   int64    `json:"retrying"`
}
