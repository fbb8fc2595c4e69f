package handler

import (
	"context"
	"strconv"

	"settlement-engine/internal/adapter/http/dto"
	"settlement-engine/internal/adapter/http/middleware"
	"settlement-engine/internal/core/domain"
	"settlement-engine/internal/service"
	"settlement-engine/pkg/apperror"
	"settlement-engine/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AdminService is the operator surface over the ledger and queues.
type AdminService interface {
	GetEscrow(ctx context.Context, transactionID uuid.UUID) (*service.EscrowView, error)
	ManualReview(ctx context.Context, limit int) ([]domain.ReconciliationEvent, error)
	Override(ctx context.Context, transactionID uuid.UUID, status domain.EscrowStatus, reason, actor string) (*domain.Escrow, error)
	Retry(ctx context.Context, transactionID uuid.UUID, actor string) (*domain.Escrow, uuid.UUID, error)
	QueueDepth(ctx context.Context) ([]domain.QueueDepth, error)
}

// AdminHandler handles the JWT-protected operator endpoints.
type AdminHandler struct {
	admin AdminService
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(admin AdminService) *AdminHandler {
	return &AdminHandler{admin: admin}
}

// GetEscrow handles GET /api/v1/admin/escrows/:transactionId.
func (h *AdminHandler) GetEscrow(c *gin.Context) {
	txID, ok := transactionIDParam(c)
	if !ok {
		return
	}

	view, err := h.admin.GetEscrow(c.Request.Context(), txID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.ToAdminEscrowResponse(view.Escrow, view.Events))
}

// ManualReview handles GET /api/v1/admin/manual-review?limit=N.
func (h *AdminHandler) ManualReview(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			response.Error(c, apperror.Validation("limit must be a positive integer"))
			return
		}
		limit = n
	}

	events, err := h.admin.ManualReview(c.Request.Context(), limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.ToEventResponses(events))
}

// Override handles POST /api/v1/admin/escrows/:transactionId/override.
func (h *AdminHandler) Override(c *gin.Context) {
	txID, ok := transactionIDParam(c)
	if !ok {
		return
	}

	var req dto.OverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	e, err := h.admin.Override(c.Request.Context(), txID, domain.EscrowStatus(req.Status), req.Reason, middleware.Subject(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.ToEscrowResponse(e))
}

// Retry handles POST /api/v1/admin/escrows/:transactionId/retry.
func (h *AdminHandler) Retry(c *gin.Context) {
	txID, ok := transactionIDParam(c)
	if !ok {
		return
	}

	e, itemID, err := h.admin.Retry(c.Request.Context(), txID, middleware.Subject(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Accepted(c, dto.RetryResponse{
		Escrow:     dto.ToEscrowResponse(e),
		QueuedTxID: itemID.String(),
	})
}

// Queues handles GET /api/v1/admin/queues.
func (h *AdminHandler) Queues(c *gin.Context) {
	depths, err := h.admin.QueueDepth(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.ToQueueDepthResponses(depths))
}
