// Package memory provides in-process ledger storage for local runs and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"settlement-engine/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// EscrowRepo implements ports.EscrowRepository in memory.
type EscrowRepo struct {
	mu      sync.RWMutex
	escrows map[uuid.UUID]*domain.Escrow
	byTxID  map[uuid.UUID]uuid.UUID
	byRef   map[string]uuid.UUID
	byDebit map[string]uuid.UUID
}

// NewEscrowRepo creates an empty EscrowRepo.
func NewEscrowRepo() *EscrowRepo {
	return &EscrowRepo{
		escrows: make(map[uuid.UUID]*domain.Escrow),
		byTxID:  make(map[uuid.UUID]uuid.UUID),
		byRef:   make(map[string]uuid.UUID),
		byDebit: make(map[string]uuid.UUID),
	}
}

func (r *EscrowRepo) Create(ctx context.Context, e *domain.Escrow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byTxID[e.TransactionID]; ok {
		return domain.ErrDuplicateTransaction
	}
	ref := e.ProviderRef()
	if _, ok := r.byRef[ref]; ok && ref != "" {
		return domain.ErrDuplicateProviderRef
	}
	debit := strings.ToLower(e.Details.DebitTxHash)
	if _, ok := r.byDebit[debit]; ok && debit != "" {
		return domain.ErrDuplicateDebit
	}
	if ref != "" {
		r.byRef[ref] = e.ID
	}
	if debit != "" {
		r.byDebit[debit] = e.ID
	}
	r.escrows[e.ID] = cloneEscrow(e)
	r.byTxID[e.TransactionID] = e.ID
	return nil
}

func (r *EscrowRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Escrow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.escrows[id]
	if !ok {
		return nil, nil
	}
	return cloneEscrow(e), nil
}

func (r *EscrowRepo) GetByTransactionID(ctx context.Context, transactionID uuid.UUID) (*domain.Escrow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byTxID[transactionID]
	if !ok {
		return nil, nil
	}
	return cloneEscrow(r.escrows[id]), nil
}

func (r *EscrowRepo) GetByProviderRef(ctx context.Context, providerRef string) (*domain.Escrow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byRef[providerRef]
	if !ok {
		return nil, nil
	}
	return cloneEscrow(r.escrows[id]), nil
}

func (r *EscrowRepo) SetProviderRef(ctx context.Context, id uuid.UUID, providerRef string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.escrows[id]
	if !ok {
		return fmt.Errorf("escrow not found: %s", id)
	}
	if owner, ok := r.byRef[providerRef]; ok && owner != id {
		return domain.ErrDuplicateProviderRef
	}
	if old := e.ProviderRef(); old != "" {
		delete(r.byRef, old)
	}
	ref := providerRef
	e.FiatProviderRef = &ref
	e.UpdatedAt = time.Now().UTC()
	r.byRef[providerRef] = id
	return nil
}

// Transition applies upd under the repository lock, so concurrent callers
// racing on the same escrow see exactly one winner.
func (r *EscrowRepo) Transition(ctx context.Context, tx pgx.Tx, id uuid.UUID, from []domain.EscrowStatus, upd domain.EscrowUpdate) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.escrows[id]
	if !ok {
		return false, nil
	}
	if !statusIn(e.Status, from) {
		return false, nil
	}
	upd.Apply(e, time.Now().UTC())
	return true, nil
}

func (r *EscrowRepo) RecordAttempt(ctx context.Context, id uuid.UUID, retryCount int, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.escrows[id]
	if !ok || e.Status.IsTerminal() {
		return nil
	}
	e.RetryCount = retryCount
	t := at
	e.LastRetryAt = &t
	e.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *EscrowRepo) ListAwaitingFiat(ctx context.Context, olderThan time.Time, limit int) ([]domain.Escrow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Escrow
	for _, e := range r.escrows {
		if e.Type != domain.EscrowTypeFiatToCrypto || e.FiatProviderRef == nil || !e.CreatedAt.Before(olderThan) {
			continue
		}
		if e.Status != domain.EscrowStatusPending && e.Status != domain.EscrowStatusReserved {
			continue
		}
		out = append(out, *cloneEscrow(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func statusIn(s domain.EscrowStatus, set []domain.EscrowStatus) bool {
	for _, c := range set {
		if c == s {
			return true
		}
	}
	return false
}

func cloneEscrow(e *domain.Escrow) *domain.Escrow {
	c := *e
	if e.FiatProviderRef != nil {
		v := *e.FiatProviderRef
		c.FiatProviderRef = &v
	}
	if e.CryptoTxHash != nil {
		v := *e.CryptoTxHash
		c.CryptoTxHash = &v
	}
	if e.LastRetryAt != nil {
		v := *e.LastRetryAt
		c.LastRetryAt = &v
	}
	if e.CompletedAt != nil {
		v := *e.CompletedAt
		c.CompletedAt = &v
	}
	if e.Metadata != nil {
		c.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}
