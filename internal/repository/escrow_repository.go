package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/marketplace-settlement/internal/domain/valueobject"
	"github.com/ignatzorin/marketplace-settlement/internal/models"
	"github.com/ignatzorin/marketplace-settlement/internal/repository/common"
)

var (
	ErrEscrowNotFound       = errors.New("escrow not found")
	ErrEscrowStatusConflict = fmt.Errorf("escrow: %w", common.ErrStatusConflict)
	ErrEscrowOrderExists    = fmt.Errorf("escrow for order: %w", common.ErrAlreadyExists)
)

const escrowColumns = `
	id, order_id, buyer_id, vendor_id, amount, currency_code, status,
	payment_intent_id, held_at, released_at, refunded_at,
	dispute_reason, disputed_at, resolved_at, resolution_notes,
	auto_release_at, auto_release_days, partial_release_enabled, partial_release_amount,
	created_at, updated_at, deleted_at`

// EscrowRepository журнал escrow-транзакций.
// Любое изменение статуса проходит через CompareAndSet.
type EscrowRepository struct {
	db *sqlx.DB
}

func NewEscrowRepository(db *sqlx.DB) *EscrowRepository {
	return &EscrowRepository{db: db}
}

// Insert сохраняет новую транзакцию. Вторая активная запись на тот же заказ отклоняется
// уникальным индексом.
func (r *EscrowRepository) Insert(ctx context.Context, e *models.EscrowTransaction) error {
	query := `
		INSERT INTO escrow_transactions (
			id, order_id, buyer_id, vendor_id, amount, currency_code, status,
			payment_intent_id, held_at, auto_release_at, auto_release_days,
			partial_release_enabled, partial_release_amount, created_at, updated_at
		) VALUES (
			:id, :order_id, :buyer_id, :vendor_id, :amount, :currency_code, :status,
			:payment_intent_id, :held_at, :auto_release_at, :auto_release_days,
			:partial_release_enabled, :partial_release_amount, :created_at, :updated_at
		)
	`
	if _, err := r.db.NamedExecContext(ctx, query, e); err != nil {
		if common.IsUniqueViolation(err) {
			return ErrEscrowOrderExists
		}
		return fmt.Errorf("escrow repository: insert %w", err)
	}
	return nil
}

// GetByID возвращает активную транзакцию по идентификатору.
func (r *EscrowRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.EscrowTransaction, error) {
	e, err := common.GetOne[models.EscrowTransaction](ctx, r.db, ErrEscrowNotFound,
		`SELECT `+escrowColumns+` FROM escrow_transactions WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil && !errors.Is(err, ErrEscrowNotFound) {
		return nil, fmt.Errorf("escrow repository: get by id %w", err)
	}
	return e, err
}

// GetByOrderID возвращает активную транзакцию заказа.
func (r *EscrowRepository) GetByOrderID(ctx context.Context, orderID uuid.UUID) (*models.EscrowTransaction, error) {
	e, err := common.GetOne[models.EscrowTransaction](ctx, r.db, ErrEscrowNotFound,
		`SELECT `+escrowColumns+` FROM escrow_transactions WHERE order_id = $1 AND deleted_at IS NULL`, orderID)
	if err != nil && !errors.Is(err, ErrEscrowNotFound) {
		return nil, fmt.Errorf("escrow repository: get by order id %w", err)
	}
	return e, err
}

// CompareAndSet записывает состояние next, только если текущий статус строки равен expected.
// Проигравший в гонке получает ErrEscrowStatusConflict, строка при этом не меняется.
func (r *EscrowRepository) CompareAndSet(ctx context.Context, expected valueobject.EscrowStatus, next *models.EscrowTransaction) (*models.EscrowTransaction, error) {
	query := `
		UPDATE escrow_transactions SET
			status = $3,
			payment_intent_id = $4,
			held_at = $5,
			released_at = $6,
			refunded_at = $7,
			dispute_reason = $8,
			disputed_at = $9,
			resolved_at = $10,
			resolution_notes = $11,
			auto_release_at = $12,
			partial_release_amount = $13,
			updated_at = NOW()
		WHERE id = $1 AND status = $2 AND deleted_at IS NULL
		RETURNING ` + escrowColumns

	updated, err := common.GetOne[models.EscrowTransaction](ctx, r.db, ErrEscrowStatusConflict, query,
		next.ID, expected, next.Status,
		next.PaymentIntentID, next.HeldAt, next.ReleasedAt, next.RefundedAt,
		next.DisputeReason, next.DisputedAt, next.ResolvedAt, next.ResolutionNotes,
		next.AutoReleaseAt, next.PartialReleaseAmount,
	)
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, ErrEscrowStatusConflict) {
		return nil, fmt.Errorf("escrow repository: compare and set %w", err)
	}

	// Ни одна строка не обновилась: либо записи нет, либо статус уже другой.
	if _, getErr := r.GetByID(ctx, next.ID); getErr != nil {
		return nil, getErr
	}
	return nil, ErrEscrowStatusConflict
}

// SoftDelete помечает запись удалённой. Используется только как компенсация создания.
func (r *EscrowRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE escrow_transactions SET deleted_at = NOW(), updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("escrow repository: soft delete %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("escrow repository: soft delete rows affected %w", err)
	}
	if rows == 0 {
		return ErrEscrowNotFound
	}
	return nil
}

// ListDueForAutoRelease возвращает удержанные транзакции с истёкшим сроком авто-освобождения.
func (r *EscrowRepository) ListDueForAutoRelease(ctx context.Context, now time.Time, limit int) ([]models.EscrowTransaction, error) {
	var items []models.EscrowTransaction
	err := r.db.SelectContext(ctx, &items, `
		SELECT `+escrowColumns+` FROM escrow_transactions
		WHERE status = $1 AND auto_release_at <= $2 AND deleted_at IS NULL
		ORDER BY auto_release_at
		LIMIT $3
	`, valueobject.EscrowStatusHeld, now, limit)
	if err != nil {
		return nil, fmt.Errorf("escrow repository: list due for auto release %w", err)
	}
	return items, nil
}
