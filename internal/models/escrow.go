package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/marketplace-settlement/internal/domain/valueobject"
	"github.com/ignatzorin/marketplace-settlement/internal/pkg/apperror"
)

// DefaultAutoReleaseDays срок, после которого удержанные средства освобождаются без спора.
const DefaultAutoReleaseDays = 14

// EscrowTransaction средства покупателя, удерживаемые по одному заказу.
type EscrowTransaction struct {
	ID                    uuid.UUID                `db:"id" json:"id"`
	OrderID               uuid.UUID                `db:"order_id" json:"order_id"`
	BuyerID               uuid.UUID                `db:"buyer_id" json:"buyer_id"`
	VendorID              uuid.UUID                `db:"vendor_id" json:"vendor_id"`
	Amount                decimal.Decimal          `db:"amount" json:"amount"`
	CurrencyCode          string                   `db:"currency_code" json:"currency_code"`
	Status                valueobject.EscrowStatus `db:"status" json:"status"`
	PaymentIntentID       *string                  `db:"payment_intent_id" json:"payment_intent_id,omitempty"`
	HeldAt                *time.Time               `db:"held_at" json:"held_at,omitempty"`
	ReleasedAt            *time.Time               `db:"released_at" json:"released_at,omitempty"`
	RefundedAt            *time.Time               `db:"refunded_at" json:"refunded_at,omitempty"`
	DisputeReason         *string                  `db:"dispute_reason" json:"dispute_reason,omitempty"`
	DisputedAt            *time.Time               `db:"disputed_at" json:"disputed_at,omitempty"`
	ResolvedAt            *time.Time               `db:"resolved_at" json:"resolved_at,omitempty"`
	ResolutionNotes       *string                  `db:"resolution_notes" json:"resolution_notes,omitempty"`
	AutoReleaseAt         *time.Time               `db:"auto_release_at" json:"auto_release_at,omitempty"`
	AutoReleaseDays       int                      `db:"auto_release_days" json:"auto_release_days"`
	PartialReleaseEnabled bool                     `db:"partial_release_enabled" json:"partial_release_enabled"`
	PartialReleaseAmount  decimal.NullDecimal      `db:"partial_release_amount" json:"partial_release_amount"`
	CreatedAt             time.Time                `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time                `db:"updated_at" json:"updated_at"`
	DeletedAt             *time.Time               `db:"deleted_at" json:"-"`
}

// NewEscrowTransaction готовит запись в статусе pending; в БД она попадает только после удержания.
func NewEscrowTransaction(orderID, buyerID, vendorID uuid.UUID, amount valueobject.Money, autoReleaseDays int) *EscrowTransaction {
	if autoReleaseDays <= 0 {
		autoReleaseDays = DefaultAutoReleaseDays
	}
	now := time.Now().UTC()
	return &EscrowTransaction{
		ID:              uuid.New(),
		OrderID:         orderID,
		BuyerID:         buyerID,
		VendorID:        vendorID,
		Amount:          amount.Amount,
		CurrencyCode:    amount.Currency,
		Status:          valueobject.EscrowStatusPending,
		AutoReleaseDays: autoReleaseDays,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Money возвращает удерживаемую сумму.
func (e *EscrowTransaction) Money() valueobject.Money {
	return valueobject.Money{Amount: e.Amount, Currency: e.CurrencyCode}
}

// IsParty сообщает, является ли пользователь покупателем или продавцом по сделке.
func (e *EscrowTransaction) IsParty(userID uuid.UUID) bool {
	return e.BuyerID == userID || e.VendorID == userID
}

// IsCaptured сообщает, были ли средства уже списаны с удержания в шлюзе.
func (e *EscrowTransaction) IsCaptured() bool {
	return e.ReleasedAt != nil
}

// Clone возвращает независимую копию для компенсации.
func (e *EscrowTransaction) Clone() *EscrowTransaction {
	c := *e
	return &c
}

// TransitionError описывает отклонённый переход с контекстом для клиента.
func (e *EscrowTransaction) TransitionError(to valueobject.EscrowStatus) *apperror.AppError {
	return apperror.New(apperror.ErrCodeConflict,
		fmt.Sprintf("переход escrow из статуса %s в %s недопустим", e.Status, to)).
		WithDetails(map[string]any{
			"escrow_id":        e.ID,
			"current_status":   e.Status,
			"requested_status": to,
		})
}

func (e *EscrowTransaction) transition(to valueobject.EscrowStatus, now time.Time) error {
	if !e.Status.CanTransitionTo(to) {
		return e.TransitionError(to)
	}
	e.Status = to
	e.UpdatedAt = now
	return nil
}

// Hold фиксирует успешное удержание средств в шлюзе.
func (e *EscrowTransaction) Hold(paymentIntentID string, now time.Time) error {
	if paymentIntentID == "" {
		return apperror.New(apperror.ErrCodeValidation, "payment_intent_id обязателен")
	}
	if err := e.transition(valueobject.EscrowStatusHeld, now); err != nil {
		return err
	}
	e.PaymentIntentID = &paymentIntentID
	e.HeldAt = &now
	deadline := now.AddDate(0, 0, e.AutoReleaseDays)
	e.AutoReleaseAt = &deadline
	return nil
}

// Cancel переводит несостоявшееся удержание в cancelled.
func (e *EscrowTransaction) Cancel(now time.Time) error {
	return e.transition(valueobject.EscrowStatusCancelled, now)
}

// Release освобождает средства продавцу (подтверждение покупателя, авто-освобождение
// или решение спора в пользу продавца).
func (e *EscrowTransaction) Release(notes string, now time.Time) error {
	from := e.Status
	if err := e.transition(valueobject.EscrowStatusReleased, now); err != nil {
		return err
	}
	if e.ReleasedAt == nil {
		e.ReleasedAt = &now
	}
	if from == valueobject.EscrowStatusDisputed {
		e.ResolvedAt = &now
		if notes != "" {
			e.ResolutionNotes = &notes
		}
	}
	return nil
}

// Dispute открывает спор; причина обязательна.
func (e *EscrowTransaction) Dispute(reason string, now time.Time) error {
	if reason == "" {
		return apperror.New(apperror.ErrCodeValidation, "причина спора обязательна")
	}
	if err := e.transition(valueobject.EscrowStatusDisputed, now); err != nil {
		return err
	}
	e.DisputeReason = &reason
	e.DisputedAt = &now
	return nil
}

// Refund возвращает средства покупателю по решению администратора.
func (e *EscrowTransaction) Refund(notes string, now time.Time) error {
	if err := e.transition(valueobject.EscrowStatusRefunded, now); err != nil {
		return err
	}
	e.RefundedAt = &now
	e.ResolvedAt = &now
	if notes != "" {
		e.ResolutionNotes = &notes
	}
	return nil
}

// PartialRelease освобождает продавцу только часть удержанной суммы.
func (e *EscrowTransaction) PartialRelease(amount decimal.Decimal, notes string, now time.Time) error {
	if !e.PartialReleaseEnabled {
		return apperror.New(apperror.ErrCodePrecondition, "частичное освобождение не разрешено для этой сделки").
			WithDetails(map[string]any{"escrow_id": e.ID})
	}
	if !amount.IsPositive() || !amount.LessThan(e.Amount) {
		return apperror.New(apperror.ErrCodeValidation, "сумма частичного освобождения должна быть больше нуля и меньше удержанной")
	}
	if e.IsCaptured() {
		return e.TransitionError(valueobject.EscrowStatusPartiallyReleased)
	}
	if err := e.transition(valueobject.EscrowStatusPartiallyReleased, now); err != nil {
		return err
	}
	e.PartialReleaseAmount = decimal.NewNullDecimal(amount)
	e.ReleasedAt = &now
	e.ResolvedAt = &now
	if notes != "" {
		e.ResolutionNotes = &notes
	}
	return nil
}

// IsDueForAutoRelease сообщает, истёк ли срок авто-освобождения.
func (e *EscrowTransaction) IsDueForAutoRelease(now time.Time) bool {
	return e.Status == valueobject.EscrowStatusHeld && e.AutoReleaseAt != nil && !now.Before(*e.AutoReleaseAt)
}
