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

// CommissionOperations расчёт и чтение комиссий.
type CommissionOperations interface {
	CalculateOrderCommissions(ctx context.Context, orderID uuid.UUID) (*service.CalculationResult, error)
	ListOrderCommissions(ctx context.Context, orderID uuid.UUID) ([]models.Commission, error)
	ListVendorCommissions(ctx context.Context, actor models.Actor, vendorID uuid.UUID, status string, limit, offset int) ([]models.Commission, error)
	GetCommission(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.Commission, error)
}

type CommissionHandler struct {
	commissions CommissionOperations
}

func NewCommissionHandler(commissions CommissionOperations) *CommissionHandler {
	return &CommissionHandler{commissions: commissions}
}

// CalculateOrderCommissions POST /orders/:id/commissions
func (h *CommissionHandler) CalculateOrderCommissions(c *gin.Context) {
	orderID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	result, err := h.commissions.CalculateOrderCommissions(c.Request.Context(), orderID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	status := http.StatusOK
	if len(result.FailedVendors) > 0 {
		status = http.StatusMultiStatus
	}
	c.JSON(status, result)
}

// ListOrderCommissions GET /orders/:id/commissions
func (h *CommissionHandler) ListOrderCommissions(c *gin.Context) {
	orderID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	items, err := h.commissions.ListOrderCommissions(c.Request.Context(), orderID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewListResponse(items, len(items), 0))
}

// ListVendorCommissions GET /vendors/:id/commissions?status=pending
func (h *CommissionHandler) ListVendorCommissions(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	vendorID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	limit, offset := common.GetPagination(c)
	items, err := h.commissions.ListVendorCommissions(c.Request.Context(), actor, vendorID, c.Query("status"), limit, offset)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewListResponse(items, limit, offset))
}

// GetCommission GET /commissions/:id
func (h *CommissionHandler) GetCommission(c *gin.Context) {
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

	commission, err := h.commissions.GetCommission(c.Request.Context(), actor, id)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, commission)
}
