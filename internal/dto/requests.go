package dto

import (
	"github.com/shopspring/decimal"
)

// CreateEscrowRequest тело POST /escrows. buyer_id можно не передавать, тогда берётся вызывающий,
// а для администратора покупатель заказа.
type CreateEscrowRequest struct {
	OrderID               string          `json:"order_id" binding:"required,uuid"`
	BuyerID               string          `json:"buyer_id" binding:"omitempty,uuid"`
	VendorID              string          `json:"vendor_id" binding:"required,uuid"`
	Amount                decimal.Decimal `json:"amount"`
	Currency              string          `json:"currency"`
	PaymentMethodID       string          `json:"payment_method_id" binding:"required,max=255"`
	PartialReleaseEnabled bool            `json:"partial_release_enabled"`
	AutoReleaseDays       int             `json:"auto_release_days" binding:"omitempty,min=1,max=90"`
}

// DisputeEscrowRequest тело POST /escrows/:id/dispute.
type DisputeEscrowRequest struct {
	Reason string `json:"reason" binding:"required,max=2000"`
}

// RefundEscrowRequest тело POST /escrows/:id/refund.
type RefundEscrowRequest struct {
	Notes string `json:"notes" binding:"max=2000"`
}

// ResolveDisputeRequest тело POST /escrows/:id/resolve.
type ResolveDisputeRequest struct {
	Outcome       string           `json:"outcome" binding:"required,oneof=release partial_release refund"`
	Notes         string           `json:"notes" binding:"max=2000"`
	PartialAmount *decimal.Decimal `json:"partial_amount"`
}

// ProcessPayoutRequest тело POST /vendors/:id/payouts. Пустой список означает все pending-комиссии.
type ProcessPayoutRequest struct {
	CommissionIDs []string `json:"commission_ids" binding:"omitempty,dive,uuid"`
}
