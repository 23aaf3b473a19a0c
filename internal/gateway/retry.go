package gateway

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/marketplace-settlement/internal/domain/valueobject"
	"github.com/ignatzorin/marketplace-settlement/internal/logger"
	"github.com/ignatzorin/marketplace-settlement/internal/pkg/apperror"
)

// RetryPolicy параметры экспоненциального повтора.
type RetryPolicy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxElapsedTime  time.Duration
}

// RetryingGateway повторяет вызовы шлюза, завершившиеся временной ошибкой.
// Отказы и ошибки валидации возвращаются сразу.
type RetryingGateway struct {
	next   Gateway
	policy RetryPolicy
}

func NewRetryingGateway(next Gateway, policy RetryPolicy) *RetryingGateway {
	return &RetryingGateway{next: next, policy: policy}
}

func (g *RetryingGateway) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	if g.policy.InitialInterval > 0 {
		exp.InitialInterval = g.policy.InitialInterval
	}
	if g.policy.MaxElapsedTime > 0 {
		exp.MaxElapsedTime = g.policy.MaxElapsedTime
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, g.policy.MaxRetries), ctx)
}

func (g *RetryingGateway) do(ctx context.Context, op string, fn func() error) error {
	attempt := 0
	operation := func() error {
		attempt++
		err := fn()
		if err != nil && !apperror.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		logger.L().WithFields(logrus.Fields{
			"operation": op,
			"attempt":   attempt,
			"retry_in":  wait.String(),
		}).WithError(err).Warn("платёжный шлюз недоступен, повторяем запрос")
	}
	return backoff.RetryNotify(operation, g.backOff(ctx), notify)
}

func (g *RetryingGateway) Hold(ctx context.Context, req HoldRequest) (string, error) {
	var id string
	err := g.do(ctx, "hold", func() error {
		var err error
		id, err = g.next.Hold(ctx, req)
		return err
	})
	return id, err
}

func (g *RetryingGateway) Capture(ctx context.Context, intentID string, amount *valueobject.Money, idempotencyKey string) (Receipt, error) {
	var receipt Receipt
	err := g.do(ctx, "capture", func() error {
		var err error
		receipt, err = g.next.Capture(ctx, intentID, amount, idempotencyKey)
		return err
	})
	return receipt, err
}

func (g *RetryingGateway) Cancel(ctx context.Context, intentID string) error {
	return g.do(ctx, "cancel", func() error {
		return g.next.Cancel(ctx, intentID)
	})
}

func (g *RetryingGateway) Refund(ctx context.Context, intentID string, idempotencyKey string) (Receipt, error) {
	var receipt Receipt
	err := g.do(ctx, "refund", func() error {
		var err error
		receipt, err = g.next.Refund(ctx, intentID, idempotencyKey)
		return err
	})
	return receipt, err
}

func (g *RetryingGateway) Transfer(ctx context.Context, req TransferRequest) (string, error) {
	var id string
	err := g.do(ctx, "transfer", func() error {
		var err error
		id, err = g.next.Transfer(ctx, req)
		return err
	})
	return id, err
}
