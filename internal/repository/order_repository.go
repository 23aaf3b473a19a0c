package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/marketplace-settlement/internal/models"
	"github.com/ignatzorin/marketplace-settlement/internal/repository/common"
)

// Ошибки уровня репозитория.
var (
	ErrOrderNotFound  = errors.New("order not found")
	ErrVendorNotFound = errors.New("vendor not found")
)

// OrderRepository читает заказы и их позиции. Заказами владеет каталог, здесь только чтение.
type OrderRepository struct {
	db *sqlx.DB
}

// NewOrderRepository создаёт новый экземпляр.
func NewOrderRepository(db *sqlx.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// GetByID возвращает заказ по идентификатору.
func (r *OrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	order, err := common.GetOne[models.Order](ctx, r.db, ErrOrderNotFound,
		`SELECT id, buyer_id, currency_code, status, created_at FROM orders WHERE id = $1`, id)
	if err != nil && !errors.Is(err, ErrOrderNotFound) {
		return nil, fmt.Errorf("order repository: get by id %w", err)
	}
	return order, err
}

// ListLineItems возвращает позиции заказа вместе с продавцом товара.
// Позиции, чей товар не привязан к продавцу, в выборку не попадают.
func (r *OrderRepository) ListLineItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderLineItem, error) {
	query := `
		SELECT li.id, li.order_id, li.product_id, p.vendor_id, li.quantity, li.unit_price, li.subtotal
		FROM order_line_items li
		JOIN products p ON p.id = li.product_id
		WHERE li.order_id = $1
		ORDER BY li.id
	`
	var items []models.OrderLineItem
	if err := r.db.SelectContext(ctx, &items, query, orderID); err != nil {
		return nil, fmt.Errorf("order repository: list line items %w", err)
	}
	return items, nil
}

// VendorRepository читает ставки и платёжные реквизиты продавцов.
type VendorRepository struct {
	db *sqlx.DB
}

func NewVendorRepository(db *sqlx.DB) *VendorRepository {
	return &VendorRepository{db: db}
}

// GetByID возвращает продавца по идентификатору.
func (r *VendorRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Vendor, error) {
	vendor, err := common.GetByID[models.Vendor](ctx, r.db, "vendors", id, ErrVendorNotFound)
	if err != nil && !errors.Is(err, ErrVendorNotFound) {
		return nil, fmt.Errorf("vendor repository: %w", err)
	}
	return vendor, err
}
