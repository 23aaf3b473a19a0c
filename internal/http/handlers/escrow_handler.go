package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/marketplace-settlement/internal/dto"
	"github.com/ignatzorin/marketplace-settlement/internal/http/handlers/common"
	"github.com/ignatzorin/marketplace-settlement/internal/models"
	"github.com/ignatzorin/marketplace-settlement/internal/service"
)

// EscrowOperations операции саг escrow, доступные через API.
type EscrowOperations interface {
	CreateEscrow(ctx context.Context, actor models.Actor, in service.CreateEscrowInput) (*models.EscrowTransaction, error)
	ReleaseEscrow(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.EscrowTransaction, error)
	DisputeEscrow(ctx context.Context, actor models.Actor, id uuid.UUID, reason string) (*models.EscrowTransaction, error)
	RefundEscrow(ctx context.Context, actor models.Actor, id uuid.UUID, notes string) (*models.EscrowTransaction, error)
	ResolveDispute(ctx context.Context, actor models.Actor, id uuid.UUID, in service.ResolveDisputeInput) (*models.EscrowTransaction, error)
	GetEscrow(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.EscrowTransaction, error)
	GetEscrowByOrder(ctx context.Context, actor models.Actor, orderID uuid.UUID) (*models.EscrowTransaction, error)
}

type EscrowHandler struct {
	escrows         EscrowOperations
	defaultCurrency string
}

func NewEscrowHandler(escrows EscrowOperations, defaultCurrency string) *EscrowHandler {
	return &EscrowHandler{escrows: escrows, defaultCurrency: defaultCurrency}
}

// CreateEscrow POST /escrows
func (h *EscrowHandler) CreateEscrow(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	var req dto.CreateEscrowRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	// Администратор без buyer_id создаёт escrow от имени покупателя заказа.
	buyerID := actor.ID
	if actor.IsAdmin() {
		buyerID = uuid.Nil
	}
	if req.BuyerID != "" {
		buyerID = uuid.MustParse(req.BuyerID)
	}
	currency := req.Currency
	if currency == "" {
		currency = h.defaultCurrency
	}

	escrow, err := h.escrows.CreateEscrow(c.Request.Context(), actor, service.CreateEscrowInput{
		OrderID:               uuid.MustParse(req.OrderID),
		BuyerID:               buyerID,
		VendorID:              uuid.MustParse(req.VendorID),
		Amount:                req.Amount,
		Currency:              currency,
		PaymentMethodID:       req.PaymentMethodID,
		PartialReleaseEnabled: req.PartialReleaseEnabled,
		AutoReleaseDays:       req.AutoReleaseDays,
	})
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusCreated, escrow)
}

// GetEscrow GET /escrows/:id
func (h *EscrowHandler) GetEscrow(c *gin.Context) {
	h.withEscrow(c, func(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.EscrowTransaction, error) {
		return h.escrows.GetEscrow(ctx, actor, id)
	})
}

// GetOrderEscrow GET /orders/:id/escrow
func (h *EscrowHandler) GetOrderEscrow(c *gin.Context) {
	h.withEscrow(c, func(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.EscrowTransaction, error) {
		return h.escrows.GetEscrowByOrder(ctx, actor, id)
	})
}

// ReleaseEscrow POST /escrows/:id/release
func (h *EscrowHandler) ReleaseEscrow(c *gin.Context) {
	h.withEscrow(c, func(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.EscrowTransaction, error) {
		return h.escrows.ReleaseEscrow(ctx, actor, id)
	})
}

// DisputeEscrow POST /escrows/:id/dispute
func (h *EscrowHandler) DisputeEscrow(c *gin.Context) {
	var req dto.DisputeEscrowRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, "причина спора обязательна")
		return
	}

	h.withEscrow(c, func(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.EscrowTransaction, error) {
		return h.escrows.DisputeEscrow(ctx, actor, id, req.Reason)
	})
}

// RefundEscrow POST /escrows/:id/refund
func (h *EscrowHandler) RefundEscrow(c *gin.Context) {
	var req dto.RefundEscrowRequest
	if c.Request.ContentLength > 0 {
		if err := common.BindAndValidate(c, &req); err != nil {
			common.RespondBadRequest(c, err.Error())
			return
		}
	}

	h.withEscrow(c, func(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.EscrowTransaction, error) {
		return h.escrows.RefundEscrow(ctx, actor, id, req.Notes)
	})
}

// ResolveDispute POST /escrows/:id/resolve
func (h *EscrowHandler) ResolveDispute(c *gin.Context) {
	var req dto.ResolveDisputeRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	h.withEscrow(c, func(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.EscrowTransaction, error) {
		return h.escrows.ResolveDispute(ctx, actor, id, service.ResolveDisputeInput{
			Outcome:       req.Outcome,
			Notes:         req.Notes,
			PartialAmount: req.PartialAmount,
		})
	})
}

// withEscrow общий разбор вызывающего и :id для операций над одной сделкой.
func (h *EscrowHandler) withEscrow(c *gin.Context, op func(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.EscrowTransaction, error)) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	id, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	escrow, err := op(c.Request.Context(), actor, id)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, escrow)
}
