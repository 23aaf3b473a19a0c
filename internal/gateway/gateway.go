// Package gateway описывает платёжный шлюз, через который удерживаются, списываются,
// возвращаются средства покупателей и переводятся выплаты продавцам.
package gateway

import (
	"context"
	"fmt"

	"github.com/ignatzorin/marketplace-settlement/internal/config"
	"github.com/ignatzorin/marketplace-settlement/internal/domain/valueobject"
	"github.com/ignatzorin/marketplace-settlement/internal/pkg/apperror"
)

// HoldRequest запрос на удержание средств покупателя.
type HoldRequest struct {
	Amount          valueobject.Money
	PaymentMethodID string
	Metadata        map[string]string
	IdempotencyKey  string
}

// TransferRequest перевод на подключённый счёт продавца.
type TransferRequest struct {
	Destination    string
	Amount         valueobject.Money
	IdempotencyKey string
	Metadata       map[string]string
}

// Receipt подтверждение денежной операции.
type Receipt struct {
	ID     string
	Amount valueobject.Money
}

// Gateway адаптер платёжного шлюза. Все вызовы должны быть безопасны для повтора
// с тем же ключом идемпотентности.
type Gateway interface {
	// Hold создаёт удержание и возвращает идентификатор payment intent.
	Hold(ctx context.Context, req HoldRequest) (string, error)
	// Capture списывает удержание; amount == nil означает полную сумму.
	Capture(ctx context.Context, intentID string, amount *valueobject.Money, idempotencyKey string) (Receipt, error)
	// Cancel снимает удержание, которое ещё не списано.
	Cancel(ctx context.Context, intentID string) error
	// Refund возвращает покупателю уже списанные средства.
	Refund(ctx context.Context, intentID string, idempotencyKey string) (Receipt, error)
	// Transfer переводит выплату на счёт продавца.
	Transfer(ctx context.Context, req TransferRequest) (string, error)
}

// Ошибки шлюза. Повторять имеет смысл только ErrUnavailable.
var (
	ErrDeclined     = apperror.New(apperror.ErrCodePrecondition, "платёжный шлюз отклонил операцию")
	ErrUnavailable  = apperror.New(apperror.ErrCodeUnavailable, "платёжный шлюз временно недоступен")
	ErrInvalidState = apperror.New(apperror.ErrCodeConflict, "операция недопустима для текущего состояния платежа")

	// ErrPaymentMethodRequired удержание без способа оплаты не авторизует средства.
	ErrPaymentMethodRequired = apperror.New(apperror.ErrCodeValidation, "для удержания нужен способ оплаты")
)

// New собирает шлюз по конфигурации и оборачивает его политикой повторов.
func New(cfg config.GatewayConfig) (Gateway, error) {
	var base Gateway
	switch cfg.Provider {
	case config.GatewayStripe:
		base = NewStripeGateway(cfg.StripeSecretKey)
	case config.GatewaySandbox:
		base = NewSandboxGateway()
	default:
		return nil, fmt.Errorf("gateway: unknown provider %q", cfg.Provider)
	}
	return NewRetryingGateway(base, RetryPolicy{
		MaxRetries:      cfg.MaxRetries,
		InitialInterval: cfg.RetryInitial,
		MaxElapsedTime:  cfg.RetryMaxElapsed,
	}), nil
}
