package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/marketplace-settlement/internal/models"
	"github.com/ignatzorin/marketplace-settlement/internal/pkg/apperror"
)

type mockPayouts struct {
	mock.Mock
}

func (m *mockPayouts) ProcessVendorPayout(ctx context.Context, vendorID uuid.UUID, commissionIDs []uuid.UUID) (*models.PayoutBatch, error) {
	args := m.Called(ctx, vendorID, commissionIDs)
	batch, _ := args.Get(0).(*models.PayoutBatch)
	return batch, args.Error(1)
}

func payoutRouter(payouts PayoutOperations) *gin.Engine {
	r := gin.New()
	r.Use(withActor(newActor(models.RoleAdmin)))
	r.POST("/vendors/:id/payouts", NewPayoutHandler(payouts).ProcessVendorPayout)
	return r
}

func TestPayoutHandler_AllPending(t *testing.T) {
	vendorID := uuid.New()
	payouts := &mockPayouts{}
	payouts.On("ProcessVendorPayout", mock.Anything, vendorID, []uuid.UUID{}).Return(&models.PayoutBatch{
		PayoutID:      "tr_sandbox_000001",
		VendorID:      vendorID,
		TotalAmount:   decimal.RequireFromString("60"),
		CurrencyCode:  "usd",
		CommissionIDs: []uuid.UUID{uuid.New(), uuid.New(), uuid.New()},
	}, nil).Once()

	w := performRequest(payoutRouter(payouts), http.MethodPost, "/vendors/"+vendorID.String()+"/payouts", nil)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.Equal(t, true, body["paid"])
	assert.Equal(t, "tr_sandbox_000001", body["payout_id"])
	assert.Equal(t, "60", body["total_amount"])
	payouts.AssertExpectations(t)
}

func TestPayoutHandler_SelectedCommissions(t *testing.T) {
	vendorID := uuid.New()
	first, second := uuid.New(), uuid.New()
	payouts := &mockPayouts{}
	payouts.On("ProcessVendorPayout", mock.Anything, vendorID, []uuid.UUID{first, second}).
		Return(&models.PayoutBatch{VendorID: vendorID}, nil).Once()

	w := performRequest(payoutRouter(payouts), http.MethodPost, "/vendors/"+vendorID.String()+"/payouts", map[string]any{
		"commission_ids": []string{first.String(), second.String()},
	})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decodeBody(t, w)["paid"])
	payouts.AssertExpectations(t)
}

func TestPayoutHandler_InvalidCommissionID(t *testing.T) {
	payouts := &mockPayouts{}

	w := performRequest(payoutRouter(payouts), http.MethodPost, "/vendors/"+uuid.NewString()+"/payouts", map[string]any{
		"commission_ids": []string{"bad"},
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	payouts.AssertNotCalled(t, "ProcessVendorPayout")
}

func TestPayoutHandler_NoPayoutAccount(t *testing.T) {
	vendorID := uuid.New()
	payouts := &mockPayouts{}
	payouts.On("ProcessVendorPayout", mock.Anything, vendorID, mock.Anything).
		Return(nil, apperror.New(apperror.ErrCodePrecondition, "у продавца нет подключённого счёта")).Once()

	w := performRequest(payoutRouter(payouts), http.MethodPost, "/vendors/"+vendorID.String()+"/payouts", nil)

	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "PRECONDITION_FAILED", decodeBody(t, w)["code"])
}
