package dto

import (
	"github.com/google/uuid"

	"github.com/ignatzorin/marketplace-settlement/internal/models"
)

// ErrorResponse единый формат ошибки API.
type ErrorResponse struct {
	Error     string         `json:"error"`
	Code      string         `json:"code,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Retryable bool           `json:"retryable,omitempty"`
}

// SuccessResponse ответ без сущности.
type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ListResponse список с параметрами страницы.
type ListResponse[T any] struct {
	Items  []T `json:"items"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// NewListResponse гарантирует, что items сериализуется как [] а не null.
func NewListResponse[T any](items []T, limit, offset int) ListResponse[T] {
	if items == nil {
		items = []T{}
	}
	return ListResponse[T]{Items: items, Limit: limit, Offset: offset}
}

// PayoutResponse результат выплаты продавцу.
type PayoutResponse struct {
	*models.PayoutBatch
	Paid bool `json:"paid"`
}

// NewPayoutResponse оборачивает пакет выплаты.
func NewPayoutResponse(batch *models.PayoutBatch) PayoutResponse {
	return PayoutResponse{PayoutBatch: batch, Paid: !batch.IsEmpty()}
}

// UnreadCountResponse количество непрочитанных уведомлений.
type UnreadCountResponse struct {
	UserID uuid.UUID `json:"user_id"`
	Count  int       `json:"count"`
}
