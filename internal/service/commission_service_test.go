package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/marketplace-settlement/internal/domain/valueobject"
	"github.com/ignatzorin/marketplace-settlement/internal/models"
	"github.com/ignatzorin/marketplace-settlement/internal/pkg/apperror"
	"github.com/ignatzorin/marketplace-settlement/internal/repository"
)

type commissionFixture struct {
	svc      *CommissionService
	ledger   *memCommissionLedger
	orders   *mockOrderReader
	vendors  *mockVendorReader
	notifier *recordingNotifier
	order    *models.Order
}

func newCommissionFixture(t *testing.T, cfg CommissionConfig) *commissionFixture {
	t.Helper()

	f := &commissionFixture{
		ledger:   newMemCommissionLedger(),
		orders:   new(mockOrderReader),
		vendors:  new(mockVendorReader),
		notifier: &recordingNotifier{},
		order:    &models.Order{ID: uuid.New(), BuyerID: uuid.New(), CurrencyCode: "USD"},
	}
	f.orders.On("GetByID", mock.Anything, f.order.ID).Return(f.order, nil).Maybe()

	svc, err := NewCommissionService(f.ledger, f.orders, f.vendors, f.notifier, cfg)
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	f.svc = svc
	return f
}

func (f *commissionFixture) vendor(rate string, active bool) uuid.UUID {
	id := uuid.New()
	f.vendors.On("GetByID", mock.Anything, id).
		Return(&models.Vendor{ID: id, IsActive: active, CommissionRate: dec(rate)}, nil).Maybe()
	return id
}

func (f *commissionFixture) items(lines ...models.OrderLineItem) {
	for i := range lines {
		lines[i].ID = uuid.New()
		lines[i].OrderID = f.order.ID
		lines[i].ProductID = uuid.New()
		lines[i].Quantity = 1
		lines[i].UnitPrice = lines[i].Subtotal
	}
	f.orders.On("ListLineItems", mock.Anything, f.order.ID).Return(lines, nil)
}

func line(vendorID uuid.UUID, subtotal string) models.OrderLineItem {
	return models.OrderLineItem{VendorID: vendorID, Subtotal: dec(subtotal)}
}

func byVendor(result *CalculationResult) map[uuid.UUID]models.Commission {
	out := make(map[uuid.UUID]models.Commission, len(result.Commissions))
	for _, c := range result.Commissions {
		out[c.VendorID] = c
	}
	return out
}

func TestCommissionService_SingleVendor(t *testing.T) {
	f := newCommissionFixture(t, CommissionConfig{Workers: 2})
	v := f.vendor("5", true)
	f.items(line(v, "600.00"), line(v, "400.00"))

	result, err := f.svc.CalculateOrderCommissions(context.Background(), f.order.ID)
	require.NoError(t, err)

	require.Len(t, result.Commissions, 1)
	c := result.Commissions[0]
	assert.True(t, c.OrderTotal.Equal(dec("1000.00")))
	assert.True(t, c.CommissionAmount.Equal(dec("50.00")))
	assert.True(t, c.NetAmount.Equal(dec("50.00")))
	assert.Equal(t, "usd", c.CurrencyCode)
	assert.Equal(t, valueobject.CommissionStatusPending, c.Status)
	assert.Nil(t, c.LineItemID)
	assert.True(t, f.notifier.has(v, models.NotifyCommissionCreate))
}

func TestCommissionService_MultiVendorUsesEachRate(t *testing.T) {
	f := newCommissionFixture(t, CommissionConfig{Workers: 4})
	a := f.vendor("10", true)
	b := f.vendor("5", true)
	f.items(line(a, "200.00"), line(b, "300.00"))

	result, err := f.svc.CalculateOrderCommissions(context.Background(), f.order.ID)
	require.NoError(t, err)

	got := byVendor(result)
	require.Len(t, got, 2)
	assert.True(t, got[a].CommissionAmount.Equal(dec("20.00")))
	assert.True(t, got[b].CommissionAmount.Equal(dec("15.00")))
	assert.Empty(t, result.SkippedVendors)
	assert.Empty(t, result.FailedVendors)
}

func TestCommissionService_PlatformFeeReducesNet(t *testing.T) {
	f := newCommissionFixture(t, CommissionConfig{PlatformFeePct: dec("10")})
	v := f.vendor("5", true)
	f.items(line(v, "1000.00"))

	result, err := f.svc.CalculateOrderCommissions(context.Background(), f.order.ID)
	require.NoError(t, err)

	c := result.Commissions[0]
	assert.True(t, c.CommissionAmount.Equal(dec("50.00")))
	assert.True(t, c.PlatformFee.Equal(dec("5.00")))
	assert.True(t, c.NetAmount.Equal(dec("45.00")))
}

func TestCommissionService_RoundsHalfAwayFromZero(t *testing.T) {
	f := newCommissionFixture(t, CommissionConfig{})
	v := f.vendor("2.5", true)
	f.items(line(v, "0.30"))

	result, err := f.svc.CalculateOrderCommissions(context.Background(), f.order.ID)
	require.NoError(t, err)

	// 0.30 * 2.5% = 0.0075 -> 0.01
	assert.True(t, result.Commissions[0].CommissionAmount.Equal(dec("0.01")))
}

func TestCommissionService_SkipsUnknownAndInactiveVendors(t *testing.T) {
	f := newCommissionFixture(t, CommissionConfig{})
	active := f.vendor("5", true)
	inactive := f.vendor("5", false)
	unknown := uuid.New()
	f.vendors.On("GetByID", mock.Anything, unknown).Return(nil, repository.ErrVendorNotFound)
	f.items(line(active, "100.00"), line(inactive, "100.00"), line(unknown, "100.00"))

	result, err := f.svc.CalculateOrderCommissions(context.Background(), f.order.ID)
	require.NoError(t, err)

	require.Len(t, result.Commissions, 1)
	assert.Equal(t, active, result.Commissions[0].VendorID)
	assert.ElementsMatch(t, []uuid.UUID{inactive, unknown}, result.SkippedVendors)
	assert.Empty(t, result.FailedVendors)
}

func TestCommissionService_OneVendorFailureDoesNotAffectOthers(t *testing.T) {
	f := newCommissionFixture(t, CommissionConfig{Workers: 3})
	good1 := f.vendor("5", true)
	bad := f.vendor("5", true)
	good2 := f.vendor("7", true)
	f.ledger.insertErr[bad] = errors.New("deadlock detected")
	f.items(line(good1, "100.00"), line(bad, "100.00"), line(good2, "100.00"))

	result, err := f.svc.CalculateOrderCommissions(context.Background(), f.order.ID)
	require.NoError(t, err)

	got := byVendor(result)
	assert.Len(t, got, 2)
	assert.Contains(t, got, good1)
	assert.Contains(t, got, good2)
	assert.Equal(t, []uuid.UUID{bad}, result.FailedVendors)

	rows, err := f.svc.ListOrderCommissions(context.Background(), f.order.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestCommissionService_RecalculationIsIdempotent(t *testing.T) {
	f := newCommissionFixture(t, CommissionConfig{})
	v := f.vendor("5", true)
	f.items(line(v, "100.00"))
	ctx := context.Background()

	first, err := f.svc.CalculateOrderCommissions(ctx, f.order.ID)
	require.NoError(t, err)
	second, err := f.svc.CalculateOrderCommissions(ctx, f.order.ID)
	require.NoError(t, err)

	require.Len(t, second.Commissions, 1)
	assert.Equal(t, first.Commissions[0].ID, second.Commissions[0].ID)

	rows, err := f.svc.ListOrderCommissions(ctx, f.order.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestCommissionService_RateSnapshotSurvivesRateChange(t *testing.T) {
	f := newCommissionFixture(t, CommissionConfig{})
	v := uuid.New()
	vendor := &models.Vendor{ID: v, IsActive: true, CommissionRate: dec("5")}
	f.vendors.On("GetByID", mock.Anything, v).Return(vendor, nil)
	f.items(line(v, "100.00"))

	result, err := f.svc.CalculateOrderCommissions(context.Background(), f.order.ID)
	require.NoError(t, err)

	vendor.CommissionRate = dec("20")

	stored := f.ledger.get(result.Commissions[0].ID)
	assert.True(t, stored.CommissionRate.Equal(dec("5")))
	assert.True(t, stored.CommissionAmount.Equal(dec("5.00")))
}

func TestCommissionService_OrderWithoutVendorsCreatesNothing(t *testing.T) {
	f := newCommissionFixture(t, CommissionConfig{})
	f.items()

	result, err := f.svc.CalculateOrderCommissions(context.Background(), f.order.ID)
	require.NoError(t, err)

	assert.Empty(t, result.Commissions)
	assert.Empty(t, result.SkippedVendors)
	assert.Empty(t, result.FailedVendors)
}

func TestCommissionService_PerLineItemMode(t *testing.T) {
	f := newCommissionFixture(t, CommissionConfig{PerLineItem: true})
	v := f.vendor("10", true)
	f.items(line(v, "100.00"), line(v, "50.00"))

	result, err := f.svc.CalculateOrderCommissions(context.Background(), f.order.ID)
	require.NoError(t, err)

	require.Len(t, result.Commissions, 2)
	total := decimal.Zero
	for _, c := range result.Commissions {
		require.NotNil(t, c.LineItemID)
		total = total.Add(c.CommissionAmount)
	}
	assert.True(t, total.Equal(dec("15.00")))
}

func TestCommissionService_UnknownOrder(t *testing.T) {
	f := newCommissionFixture(t, CommissionConfig{})
	missing := uuid.New()
	f.orders.On("GetByID", mock.Anything, missing).Return(nil, repository.ErrOrderNotFound)

	_, err := f.svc.CalculateOrderCommissions(context.Background(), missing)

	assert.True(t, apperror.IsNotFound(err))
}

func TestCommissionService_ListVendorCommissions_Access(t *testing.T) {
	f := newCommissionFixture(t, CommissionConfig{})
	v := f.vendor("5", true)
	f.items(line(v, "100.00"))
	ctx := context.Background()

	_, err := f.svc.CalculateOrderCommissions(ctx, f.order.ID)
	require.NoError(t, err)

	own, err := f.svc.ListVendorCommissions(ctx, models.Actor{ID: v, Role: models.RoleVendor}, v, "pending", 0, 0)
	require.NoError(t, err)
	assert.Len(t, own, 1)

	admin, err := f.svc.ListVendorCommissions(ctx, models.Actor{ID: uuid.New(), Role: models.RoleAdmin}, v, "", 10, 0)
	require.NoError(t, err)
	assert.Len(t, admin, 1)

	_, err = f.svc.ListVendorCommissions(ctx, models.Actor{ID: uuid.New(), Role: models.RoleVendor}, v, "", 10, 0)
	assert.True(t, apperror.IsForbidden(err))

	_, err = f.svc.ListVendorCommissions(ctx, models.Actor{ID: v, Role: models.RoleVendor}, v, "bogus", 10, 0)
	assert.True(t, apperror.IsValidation(err))
}

func TestCommissionService_GetCommission_Access(t *testing.T) {
	f := newCommissionFixture(t, CommissionConfig{})
	v := f.vendor("5", true)
	f.items(line(v, "100.00"))
	ctx := context.Background()

	result, err := f.svc.CalculateOrderCommissions(ctx, f.order.ID)
	require.NoError(t, err)
	id := result.Commissions[0].ID

	got, err := f.svc.GetCommission(ctx, models.Actor{ID: v, Role: models.RoleVendor}, id)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)

	_, err = f.svc.GetCommission(ctx, models.Actor{ID: uuid.New(), Role: models.RoleVendor}, id)
	assert.True(t, apperror.IsForbidden(err))

	_, err = f.svc.GetCommission(ctx, models.Actor{ID: v, Role: models.RoleVendor}, uuid.New())
	assert.True(t, apperror.IsNotFound(err))
}

func TestNewCommissionService_RejectsInvalidPlatformFee(t *testing.T) {
	_, err := NewCommissionService(newMemCommissionLedger(), new(mockOrderReader), new(mockVendorReader), &recordingNotifier{},
		CommissionConfig{PlatformFeePct: dec("150")})

	assert.True(t, apperror.IsValidation(err))
}
