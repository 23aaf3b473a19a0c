package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ignatzorin/marketplace-settlement/internal/domain/valueobject"
	"github.com/ignatzorin/marketplace-settlement/internal/models"
	"github.com/ignatzorin/marketplace-settlement/internal/repository/common"
)

var (
	ErrCommissionNotFound    = errors.New("commission not found")
	ErrCommissionClaimFailed = fmt.Errorf("commission claim: %w", common.ErrStatusConflict)
)

const commissionColumns = `
	id, vendor_id, order_id, line_item_id, order_total, commission_rate,
	commission_amount, platform_fee, net_amount, currency_code, status,
	payout_id, paid_at, notes, metadata, created_at, updated_at, deleted_at`

// CommissionRepository журнал комиссий продавцов.
type CommissionRepository struct {
	db *sqlx.DB
}

func NewCommissionRepository(db *sqlx.DB) *CommissionRepository {
	return &CommissionRepository{db: db}
}

// Insert создаёт запись комиссии. Повторный вызов для той же тройки
// (vendor, order, line item) возвращает уже существующую запись.
func (r *CommissionRepository) Insert(ctx context.Context, c *models.Commission) (*models.Commission, bool, error) {
	query := `
		INSERT INTO commissions (
			id, vendor_id, order_id, line_item_id, order_total, commission_rate,
			commission_amount, platform_fee, net_amount, currency_code, status,
			notes, metadata, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT DO NOTHING
		RETURNING ` + commissionColumns

	created, err := common.GetOne[models.Commission](ctx, r.db, ErrCommissionNotFound, query,
		c.ID, c.VendorID, c.OrderID, c.LineItemID, c.OrderTotal, c.CommissionRate,
		c.CommissionAmount, c.PlatformFee, c.NetAmount, c.CurrencyCode, c.Status,
		c.Notes, c.Metadata, c.CreatedAt, c.UpdatedAt,
	)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, ErrCommissionNotFound) {
		return nil, false, fmt.Errorf("commission repository: insert %w", err)
	}

	existing, err := common.GetOne[models.Commission](ctx, r.db, ErrCommissionNotFound, `
		SELECT `+commissionColumns+` FROM commissions
		WHERE vendor_id = $1 AND order_id = $2 AND line_item_id IS NOT DISTINCT FROM $3 AND deleted_at IS NULL
	`, c.VendorID, c.OrderID, c.LineItemID)
	if err != nil {
		if errors.Is(err, ErrCommissionNotFound) {
			return nil, false, err
		}
		return nil, false, fmt.Errorf("commission repository: load existing %w", err)
	}
	return existing, false, nil
}

// GetByID возвращает комиссию по идентификатору.
func (r *CommissionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Commission, error) {
	c, err := common.GetOne[models.Commission](ctx, r.db, ErrCommissionNotFound,
		`SELECT `+commissionColumns+` FROM commissions WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil && !errors.Is(err, ErrCommissionNotFound) {
		return nil, fmt.Errorf("commission repository: get by id %w", err)
	}
	return c, err
}

// ListByOrder возвращает все комиссии заказа.
func (r *CommissionRepository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Commission, error) {
	var items []models.Commission
	if err := r.db.SelectContext(ctx, &items, `
		SELECT `+commissionColumns+` FROM commissions
		WHERE order_id = $1 AND deleted_at IS NULL
		ORDER BY created_at, id
	`, orderID); err != nil {
		return nil, fmt.Errorf("commission repository: list by order %w", err)
	}
	return items, nil
}

// ListByVendor возвращает комиссии продавца; пустой status означает любой статус.
func (r *CommissionRepository) ListByVendor(ctx context.Context, vendorID uuid.UUID, status valueobject.CommissionStatus, limit, offset int) ([]models.Commission, error) {
	query := `SELECT ` + commissionColumns + ` FROM commissions WHERE vendor_id = $1 AND deleted_at IS NULL`
	args := []interface{}{vendorID}
	argIndex := 2

	if status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIndex)
		args = append(args, status)
		argIndex++
	}

	query += " ORDER BY created_at, id"

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, limit)
		argIndex++
	}
	if offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIndex)
		args = append(args, offset)
	}

	var items []models.Commission
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, fmt.Errorf("commission repository: list by vendor %w", err)
	}
	return items, nil
}

// payableCondition ограничивает выборку комиссиями заказов, чьи деньги уже ушли продавцу.
// Алиас c обязателен, статусы escrow передаются параметром $%d.
const payableCondition = `EXISTS (
	SELECT 1 FROM escrow_transactions e
	WHERE e.order_id = c.order_id AND e.deleted_at IS NULL AND e.status = ANY($%d::text[])
)`

func payableEscrowStatuses() pq.StringArray {
	out := make(pq.StringArray, len(valueobject.PayoutEligibleEscrowStatuses))
	for i, status := range valueobject.PayoutEligibleEscrowStatuses {
		out[i] = string(status)
	}
	return out
}

// ListPayable возвращает pending-комиссии продавца, по заказам которых escrow уже освобождён.
// Пустой ids означает все такие комиссии, иначе выборка ограничивается переданным набором.
func (r *CommissionRepository) ListPayable(ctx context.Context, vendorID uuid.UUID, ids []uuid.UUID) ([]models.Commission, error) {
	query := `SELECT ` + prefixed("c", commissionColumns) + ` FROM commissions c
		WHERE c.vendor_id = $1 AND c.status = $2 AND c.deleted_at IS NULL AND ` + fmt.Sprintf(payableCondition, 3)
	args := []interface{}{vendorID, valueobject.CommissionStatusPending, payableEscrowStatuses()}
	if len(ids) > 0 {
		query += ` AND c.id = ANY($4::uuid[])`
		args = append(args, common.UUIDArray(ids))
	}
	query += ` ORDER BY c.created_at, c.id`

	var items []models.Commission
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, fmt.Errorf("commission repository: list payable %w", err)
	}
	return items, nil
}

// ClaimForPayout одной записью переводит выбранные строки pending -> processing и метит их
// ключом пакета. Если хотя бы одна строка уже не pending или её escrow снова в споре,
// не меняется ничего.
func (r *CommissionRepository) ClaimForPayout(ctx context.Context, vendorID uuid.UUID, ids []uuid.UUID, batchKey string) error {
	return common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE commissions c
			SET status = $1, payout_id = $2, updated_at = NOW()
			WHERE c.vendor_id = $3 AND c.id = ANY($4::uuid[]) AND c.status = $5 AND c.deleted_at IS NULL
			  AND `+fmt.Sprintf(payableCondition, 6)+`
		`, valueobject.CommissionStatusProcessing, batchKey, vendorID, common.UUIDArray(ids), valueobject.CommissionStatusPending,
			payableEscrowStatuses())
		if err != nil {
			return fmt.Errorf("commission repository: claim for payout %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("commission repository: claim rows affected %w", err)
		}
		if int(rows) != len(ids) {
			return ErrCommissionClaimFailed
		}
		return nil
	})
}

// MarkPaid переводит строки пакета processing -> paid с общим идентификатором выплаты.
func (r *CommissionRepository) MarkPaid(ctx context.Context, batchKey, payoutID string, paidAt time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE commissions
		SET status = $1, payout_id = $2, paid_at = $3, updated_at = NOW()
		WHERE payout_id = $4 AND status = $5 AND deleted_at IS NULL
	`, valueobject.CommissionStatusPaid, payoutID, paidAt, batchKey, valueobject.CommissionStatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("commission repository: mark paid %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("commission repository: mark paid rows affected %w", err)
	}
	return rows, nil
}

// ReleaseClaim возвращает строки пакета в pending после неудачного перевода.
func (r *CommissionRepository) ReleaseClaim(ctx context.Context, batchKey string) error {
	if _, err := r.db.ExecContext(ctx, `
		UPDATE commissions
		SET status = $1, payout_id = NULL, updated_at = NOW()
		WHERE payout_id = $2 AND status = $3 AND deleted_at IS NULL
	`, valueobject.CommissionStatusPending, batchKey, valueobject.CommissionStatusProcessing); err != nil {
		return fmt.Errorf("commission repository: release claim %w", err)
	}
	return nil
}

// MarkRefundedByOrder закрывает невыплаченные комиссии заказа после возврата средств покупателю.
func (r *CommissionRepository) MarkRefundedByOrder(ctx context.Context, orderID uuid.UUID, notes string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE commissions
		SET status = $1, notes = $2, updated_at = NOW()
		WHERE order_id = $3 AND status = $4 AND deleted_at IS NULL
	`, valueobject.CommissionStatusRefunded, notes, orderID, valueobject.CommissionStatusPending)
	if err != nil {
		return 0, fmt.Errorf("commission repository: mark refunded by order %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("commission repository: mark refunded rows affected %w", err)
	}
	return rows, nil
}

// ListStuckProcessing возвращает строки, застрявшие в processing дольше olderThan.
func (r *CommissionRepository) ListStuckProcessing(ctx context.Context, olderThan time.Time) ([]models.Commission, error) {
	var items []models.Commission
	if err := r.db.SelectContext(ctx, &items, `
		SELECT `+commissionColumns+` FROM commissions
		WHERE status = $1 AND updated_at < $2 AND deleted_at IS NULL
		ORDER BY payout_id, created_at, id
	`, valueobject.CommissionStatusProcessing, olderThan); err != nil {
		return nil, fmt.Errorf("commission repository: list stuck processing %w", err)
	}
	return items, nil
}

// ListVendorsWithPayable возвращает продавцов, у которых есть комиссии, готовые к выплате.
func (r *CommissionRepository) ListVendorsWithPayable(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := r.db.SelectContext(ctx, &ids, `
		SELECT DISTINCT c.vendor_id FROM commissions c
		WHERE c.status = $1 AND c.deleted_at IS NULL AND `+fmt.Sprintf(payableCondition, 2)+`
	`, valueobject.CommissionStatusPending, payableEscrowStatuses()); err != nil {
		return nil, fmt.Errorf("commission repository: list vendors with payable %w", err)
	}
	return ids, nil
}

// prefixed добавляет алиас таблицы к каждой колонке списка.
func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, part := range parts {
		parts[i] = alias + "." + strings.TrimSpace(part)
	}
	return strings.Join(parts, ", ")
}
