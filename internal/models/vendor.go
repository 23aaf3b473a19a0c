package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Vendor продавец маркетплейса. Жизненным циклом продавца этот сервис не управляет,
// только читает ставку комиссии и реквизиты выплат.
type Vendor struct {
	ID                    uuid.UUID       `db:"id" json:"id"`
	Name                  string          `db:"name" json:"name"`
	CommissionRate        decimal.Decimal `db:"commission_rate" json:"commission_rate"`
	IsActive              bool            `db:"is_active" json:"is_active"`
	ConnectAccountID      *string         `db:"connect_account_id" json:"connect_account_id,omitempty"`
	ConnectPayoutsEnabled bool            `db:"connect_payouts_enabled" json:"connect_payouts_enabled"`
	CreatedAt             time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time       `db:"updated_at" json:"updated_at"`
}

// CanReceivePayouts сообщает, подключён ли у продавца счёт для выплат.
func (v *Vendor) CanReceivePayouts() bool {
	return v.ConnectAccountID != nil && *v.ConnectAccountID != "" && v.ConnectPayoutsEnabled
}

// Статусы заказа, которые ведёт каталог.
const (
	OrderStatusPlaced    = "placed"
	OrderStatusAccepted  = "accepted"
	OrderStatusRejected  = "rejected"
	OrderStatusCancelled = "cancelled"
	OrderStatusCompleted = "completed"
)

// Order заказ покупателя (только чтение).
type Order struct {
	ID           uuid.UUID `db:"id" json:"id"`
	BuyerID      uuid.UUID `db:"buyer_id" json:"buyer_id"`
	CurrencyCode string    `db:"currency_code" json:"currency_code"`
	Status       string    `db:"status" json:"status"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// IsAccepted сообщает, что продавец принял заказ и под него можно удерживать средства.
func (o *Order) IsAccepted() bool {
	return o.Status == OrderStatusAccepted
}

// OrderLineItem позиция заказа; товар принадлежит ровно одному продавцу.
type OrderLineItem struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	OrderID   uuid.UUID       `db:"order_id" json:"order_id"`
	ProductID uuid.UUID       `db:"product_id" json:"product_id"`
	VendorID  uuid.UUID       `db:"vendor_id" json:"vendor_id"`
	Quantity  int             `db:"quantity" json:"quantity"`
	UnitPrice decimal.Decimal `db:"unit_price" json:"unit_price"`
	Subtotal  decimal.Decimal `db:"subtotal" json:"subtotal"`
}
