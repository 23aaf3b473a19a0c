package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Шаблоны уведомлений, отправляемых на этапах саги.
const (
	NotifyEscrowHeld       = "escrow.held"
	NotifyEscrowReleased   = "escrow.released"
	NotifyEscrowDisputed   = "escrow.disputed"
	NotifyEscrowRefunded   = "escrow.refunded"
	NotifyEscrowResolved   = "escrow.resolved"
	NotifyPayoutCompleted  = "payout.completed"
	NotifyCommissionCreate = "commission.created"
)

// Notification уведомление пользователю.
type Notification struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	UserID    uuid.UUID       `db:"user_id" json:"user_id"`
	Payload   json.RawMessage `db:"payload" json:"payload"`
	IsRead    bool            `db:"is_read" json:"is_read"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}
