package repository

import (
	"context"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/marketplace-settlement/internal/domain/valueobject"
	"github.com/ignatzorin/marketplace-settlement/internal/models"
)

const casQuery = `UPDATE escrow_transactions SET .* WHERE id = \$1 AND status = \$2 AND deleted_at IS NULL\s+RETURNING`

func escrowRow(e *models.EscrowTransaction) *sqlmock.Rows {
	values := map[string]driver.Value{
		"id":                      e.ID.String(),
		"order_id":                e.OrderID.String(),
		"buyer_id":                e.BuyerID.String(),
		"vendor_id":               e.VendorID.String(),
		"amount":                  e.Amount.String(),
		"currency_code":           e.CurrencyCode,
		"status":                  string(e.Status),
		"payment_intent_id":       "pi_1",
		"held_at":                 e.CreatedAt,
		"released_at":             nil,
		"refunded_at":             nil,
		"dispute_reason":          nil,
		"disputed_at":             nil,
		"resolved_at":             nil,
		"resolution_notes":        nil,
		"auto_release_at":         nil,
		"auto_release_days":       int64(14),
		"partial_release_enabled": false,
		"partial_release_amount":  nil,
		"created_at":              e.CreatedAt,
		"updated_at":              e.CreatedAt,
		"deleted_at":              nil,
	}
	cols := columnNames(escrowColumns)
	row := make([]driver.Value, len(cols))
	for i, c := range cols {
		row[i] = values[c]
	}
	return sqlmock.NewRows(cols).AddRow(row...)
}

func testEscrow(status valueobject.EscrowStatus) *models.EscrowTransaction {
	return &models.EscrowTransaction{
		ID:           uuid.New(),
		OrderID:      uuid.New(),
		BuyerID:      uuid.New(),
		VendorID:     uuid.New(),
		Amount:       decimal.RequireFromString("100.00"),
		CurrencyCode: "usd",
		Status:       status,
		CreatedAt:    time.Now().UTC().Truncate(time.Second),
	}
}

func TestEscrowRepository_CompareAndSet_UpdatesWhenStatusMatches(t *testing.T) {
	db, sqlMock := newMockDB(t)
	repo := NewEscrowRepository(db)
	next := testEscrow(valueobject.EscrowStatusReleased)

	sqlMock.ExpectQuery(casQuery).
		WithArgs(next.ID, valueobject.EscrowStatusHeld, valueobject.EscrowStatusReleased,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(escrowRow(next))

	updated, err := repo.CompareAndSet(context.Background(), valueobject.EscrowStatusHeld, next)

	require.NoError(t, err)
	assert.Equal(t, next.ID, updated.ID)
	assert.Equal(t, valueobject.EscrowStatusReleased, updated.Status)
	assert.True(t, updated.Amount.Equal(next.Amount))
}

func TestEscrowRepository_CompareAndSet_StaleStatusConflicts(t *testing.T) {
	db, sqlMock := newMockDB(t)
	repo := NewEscrowRepository(db)
	next := testEscrow(valueobject.EscrowStatusReleased)

	// Параллельный вызов уже перевёл строку в released: UPDATE не находит held.
	sqlMock.ExpectQuery(casQuery).WillReturnRows(sqlmock.NewRows(columnNames(escrowColumns)))
	sqlMock.ExpectQuery(`SELECT .* FROM escrow_transactions WHERE id = \$1 AND deleted_at IS NULL`).
		WithArgs(next.ID).
		WillReturnRows(escrowRow(next))

	_, err := repo.CompareAndSet(context.Background(), valueobject.EscrowStatusHeld, next)

	assert.ErrorIs(t, err, ErrEscrowStatusConflict)
}

func TestEscrowRepository_CompareAndSet_MissingRow(t *testing.T) {
	db, sqlMock := newMockDB(t)
	repo := NewEscrowRepository(db)
	next := testEscrow(valueobject.EscrowStatusReleased)

	sqlMock.ExpectQuery(casQuery).WillReturnRows(sqlmock.NewRows(columnNames(escrowColumns)))
	sqlMock.ExpectQuery(`SELECT .* FROM escrow_transactions WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows(columnNames(escrowColumns)))

	_, err := repo.CompareAndSet(context.Background(), valueobject.EscrowStatusHeld, next)

	assert.ErrorIs(t, err, ErrEscrowNotFound)
}

func TestEscrowRepository_Insert_SecondEscrowForOrder(t *testing.T) {
	db, sqlMock := newMockDB(t)
	repo := NewEscrowRepository(db)

	sqlMock.ExpectExec(`INSERT INTO escrow_transactions`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "idx_escrow_transactions_order_active"})

	err := repo.Insert(context.Background(), testEscrow(valueobject.EscrowStatusHeld))

	assert.ErrorIs(t, err, ErrEscrowOrderExists)
}

func TestEscrowRepository_SoftDelete_OnlyActiveRows(t *testing.T) {
	db, sqlMock := newMockDB(t)
	repo := NewEscrowRepository(db)
	id := uuid.New()

	sqlMock.ExpectExec(`UPDATE escrow_transactions SET deleted_at = NOW\(\), updated_at = NOW\(\) WHERE id = \$1 AND deleted_at IS NULL`).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.SoftDelete(context.Background(), id)

	assert.ErrorIs(t, err, ErrEscrowNotFound)
}
