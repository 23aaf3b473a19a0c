package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/marketplace-settlement/internal/domain/valueobject"
)

// Commission доля маркетплейса с части заказа одного продавца.
type Commission struct {
	ID               uuid.UUID                    `db:"id" json:"id"`
	VendorID         uuid.UUID                    `db:"vendor_id" json:"vendor_id"`
	OrderID          uuid.UUID                    `db:"order_id" json:"order_id"`
	LineItemID       *uuid.UUID                   `db:"line_item_id" json:"line_item_id,omitempty"`
	OrderTotal       decimal.Decimal              `db:"order_total" json:"order_total"`
	CommissionRate   decimal.Decimal              `db:"commission_rate" json:"commission_rate"`
	CommissionAmount decimal.Decimal              `db:"commission_amount" json:"commission_amount"`
	PlatformFee      decimal.Decimal              `db:"platform_fee" json:"platform_fee"`
	NetAmount        decimal.Decimal              `db:"net_amount" json:"net_amount"`
	CurrencyCode     string                       `db:"currency_code" json:"currency_code"`
	Status           valueobject.CommissionStatus `db:"status" json:"status"`
	PayoutID         *string                      `db:"payout_id" json:"payout_id,omitempty"`
	PaidAt           *time.Time                   `db:"paid_at" json:"paid_at,omitempty"`
	Notes            *string                      `db:"notes" json:"notes,omitempty"`
	Metadata         json.RawMessage              `db:"metadata" json:"metadata,omitempty"`
	CreatedAt        time.Time                    `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time                    `db:"updated_at" json:"updated_at"`
	DeletedAt        *time.Time                   `db:"deleted_at" json:"-"`
}

// NewCommission считает комиссию по сумме продавца и его текущей ставке.
// Ставка копируется в запись, поэтому последующие изменения ставки её не затрагивают.
func NewCommission(vendorID, orderID uuid.UUID, lineItemID *uuid.UUID, subtotal valueobject.Money, rate, platformFeePct decimal.Decimal) (*Commission, error) {
	if err := valueobject.ValidateRate(rate); err != nil {
		return nil, err
	}
	if err := valueobject.ValidateRate(platformFeePct); err != nil {
		return nil, err
	}

	commission := subtotal.Percent(rate)
	fee := commission.Percent(platformFeePct)
	net, err := commission.Sub(fee)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return &Commission{
		ID:               uuid.New(),
		VendorID:         vendorID,
		OrderID:          orderID,
		LineItemID:       lineItemID,
		OrderTotal:       subtotal.Amount,
		CommissionRate:   rate,
		CommissionAmount: commission.Amount,
		PlatformFee:      fee.Amount,
		NetAmount:        net.Amount,
		CurrencyCode:     subtotal.Currency,
		Status:           valueobject.CommissionStatusPending,
		Metadata:         json.RawMessage(`{}`),
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// PayoutBatch результат одной выплаты продавцу.
type PayoutBatch struct {
	PayoutID       string          `json:"payout_id"`
	VendorID       uuid.UUID       `json:"vendor_id"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	CurrencyCode   string          `json:"currency_code,omitempty"`
	CommissionIDs  []uuid.UUID     `json:"commission_ids"`
	IdempotencyKey string          `json:"-"`
}

// IsEmpty сообщает, что выбирать было нечего.
func (b *PayoutBatch) IsEmpty() bool {
	return len(b.CommissionIDs) == 0
}
