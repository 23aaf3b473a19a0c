package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/marketplace-settlement/internal/dto"
	"github.com/ignatzorin/marketplace-settlement/internal/http/handlers/common"
	"github.com/ignatzorin/marketplace-settlement/internal/models"
)

// PayoutOperations выплаты продавцам.
type PayoutOperations interface {
	ProcessVendorPayout(ctx context.Context, vendorID uuid.UUID, commissionIDs []uuid.UUID) (*models.PayoutBatch, error)
}

type PayoutHandler struct {
	payouts PayoutOperations
}

func NewPayoutHandler(payouts PayoutOperations) *PayoutHandler {
	return &PayoutHandler{payouts: payouts}
}

// ProcessVendorPayout POST /vendors/:id/payouts
func (h *PayoutHandler) ProcessVendorPayout(c *gin.Context) {
	vendorID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req dto.ProcessPayoutRequest
	if c.Request.ContentLength > 0 {
		if err := common.BindAndValidate(c, &req); err != nil {
			common.RespondBadRequest(c, err.Error())
			return
		}
	}

	ids := make([]uuid.UUID, 0, len(req.CommissionIDs))
	for _, raw := range req.CommissionIDs {
		ids = append(ids, uuid.MustParse(raw))
	}

	batch, err := h.payouts.ProcessVendorPayout(c.Request.Context(), vendorID, ids)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewPayoutResponse(batch))
}
