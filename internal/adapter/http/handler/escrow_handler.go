package handler

import (
	"context"

	"settlement-engine/internal/adapter/http/dto"
	"settlement-engine/internal/core/domain"
	"settlement-engine/internal/service"
	"settlement-engine/pkg/apperror"
	"settlement-engine/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// EscrowService starts settlements and reads their state.
type EscrowService interface {
	InitiateBuy(ctx context.Context, req service.BuyRequest) (*domain.Escrow, error)
	InitiateDeposit(ctx context.Context, req service.DepositRequest) (*domain.Escrow, error)
	InitiateWithdrawal(ctx context.Context, req service.WithdrawalRequest) (*domain.Escrow, error)
	Get(ctx context.Context, transactionID uuid.UUID) (*domain.Escrow, error)
}

// EscrowHandler handles the public escrow endpoints.
type EscrowHandler struct {
	escrows EscrowService
}

// NewEscrowHandler creates a new EscrowHandler.
func NewEscrowHandler(escrows EscrowService) *EscrowHandler {
	return &EscrowHandler{escrows: escrows}
}

// Buy handles POST /api/v1/escrows/buy.
func (h *EscrowHandler) Buy(c *gin.Context) {
	var req dto.BuyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)
	txID, err := uuid.Parse(req.TransactionID)
	if err != nil {
		response.Error(c, apperror.Validation("transaction_id must be a UUID"))
		return
	}

	e, err := h.escrows.InitiateBuy(c.Request.Context(), service.BuyRequest{
		TransactionID: txID,
		UserID:        req.UserID,
		Phone:         req.Phone,
		AmountFiat:    req.AmountFiat,
		FiatCurrency:  req.FiatCurrency,
		AmountCrypto:  req.AmountCrypto,
		Chain:         req.Chain,
		Token:         req.Token,
		WalletAddress: req.WalletAddress,
		Metadata:      req.Metadata,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.ToEscrowResponse(e))
}

// Deposit handles POST /api/v1/escrows/deposit.
func (h *EscrowHandler) Deposit(c *gin.Context) {
	var req dto.DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)
	txID, err := uuid.Parse(req.TransactionID)
	if err != nil {
		response.Error(c, apperror.Validation("transaction_id must be a UUID"))
		return
	}

	e, err := h.escrows.InitiateDeposit(c.Request.Context(), service.DepositRequest{
		TransactionID: txID,
		UserID:        req.UserID,
		Phone:         req.Phone,
		AmountFiat:    req.AmountFiat,
		FiatCurrency:  req.FiatCurrency,
		AmountCrypto:  req.AmountCrypto,
		Chain:         req.Chain,
		Token:         req.Token,
		WalletAddress: req.WalletAddress,
		Metadata:      req.Metadata,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.ToEscrowResponse(e))
}

// Withdraw handles POST /api/v1/escrows/withdraw.
func (h *EscrowHandler) Withdraw(c *gin.Context) {
	var req dto.WithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)
	txID, err := uuid.Parse(req.TransactionID)
	if err != nil {
		response.Error(c, apperror.Validation("transaction_id must be a UUID"))
		return
	}

	e, err := h.escrows.InitiateWithdrawal(c.Request.Context(), service.WithdrawalRequest{
		TransactionID: txID,
		UserID:        req.UserID,
		Type:          domain.EscrowType(req.Type),
		AmountCrypto:  req.AmountCrypto,
		Chain:         req.Chain,
		Token:         req.Token,
		WalletAddress: req.WalletAddress,
		DebitTxHash:   req.DebitTxHash,
		AmountFiat:    req.AmountFiat,
		FiatCurrency:  req.FiatCurrency,
		Destination:   req.Destination,
		Account:       req.Account,
		Metadata:      req.Metadata,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.ToEscrowResponse(e))
}

// Get handles GET /api/v1/escrows/:transactionId.
func (h *EscrowHandler) Get(c *gin.Context) {
	txID, ok := transactionIDParam(c)
	if !ok {
		return
	}

	e, err := h.escrows.Get(c.Request.Context(), txID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.ToEscrowResponse(e))
}

// transactionIDParam parses :transactionId, writing a 400 when malformed.
func transactionIDParam(c *gin.Context) (uuid.UUID, bool) {
	txID, err := uuid.Parse(c.Param("transactionId"))
	if err != nil {
		response.Error(c, apperror.Validation("transactionId must be a UUID"))
		return uuid.Nil, false
	}
	return txID, true
}
