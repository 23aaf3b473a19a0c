package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"github.com/ignatzorin/marketplace-settlement/internal/domain/valueobject"
	"github.com/ignatzorin/marketplace-settlement/internal/pkg/apperror"
)

// StripeGateway удерживает средства через PaymentIntent с ручным списанием
// и выплачивает продавцам через Connect Transfers.
type StripeGateway struct {
	api *client.API
}

func NewStripeGateway(secretKey string) *StripeGateway {
	return &StripeGateway{api: client.New(secretKey, nil)}
}

func (g *StripeGateway) Hold(ctx context.Context, req HoldRequest) (string, error) {
	if req.PaymentMethodID == "" {
		return "", ErrPaymentMethodRequired
	}
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.Amount.MinorUnits()),
		Currency:      stripe.String(req.Amount.Currency),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
		PaymentMethod: stripe.String(req.PaymentMethodID),
		Confirm:       stripe.Bool(true),
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return "", classify(err, "hold")
	}
	if err := holdAuthorized(pi); err != nil {
		// Неподтверждённый intent не должен висеть у покупателя.
		if cancelErr := g.Cancel(ctx, pi.ID); cancelErr != nil {
			return "", cancelErr
		}
		return "", err
	}
	return pi.ID, nil
}

// holdAuthorized проверяет, что средства действительно авторизованы и ждут списания.
// Любой другой статус (например requires_action для 3-D Secure) означает, что удержания нет.
func holdAuthorized(pi *stripe.PaymentIntent) error {
	if pi.Status == stripe.PaymentIntentStatusRequiresCapture {
		return nil
	}
	return ErrDeclined.WithDetails(map[string]any{
		"operation":     "hold",
		"intent_id":     pi.ID,
		"intent_status": string(pi.Status),
	})
}

func (g *StripeGateway) Capture(ctx context.Context, intentID string, amount *valueobject.Money, idempotencyKey string) (Receipt, error) {
	params := &stripe.PaymentIntentCaptureParams{}
	if amount != nil {
		params.AmountToCapture = stripe.Int64(amount.MinorUnits())
	}
	params.Context = ctx
	if idempotencyKey != "" {
		params.SetIdempotencyKey(idempotencyKey)
	}

	pi, err := g.api.PaymentIntents.Capture(intentID, params)
	if err != nil {
		return Receipt{}, classify(err, "capture")
	}
	return Receipt{
		ID:     pi.ID,
		Amount: valueobject.FromMinorUnits(pi.AmountReceived, string(pi.Currency)),
	}, nil
}

func (g *StripeGateway) Cancel(ctx context.Context, intentID string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	if _, err := g.api.PaymentIntents.Cancel(intentID, params); err != nil {
		return classify(err, "cancel")
	}
	return nil
}

func (g *StripeGateway) Refund(ctx context.Context, intentID string, idempotencyKey string) (Receipt, error) {
	params := &stripe.RefundParams{PaymentIntent: stripe.String(intentID)}
	params.Context = ctx
	if idempotencyKey != "" {
		params.SetIdempotencyKey(idempotencyKey)
	}

	refund, err := g.api.Refunds.New(params)
	if err != nil {
		return Receipt{}, classify(err, "refund")
	}
	return Receipt{
		ID:     refund.ID,
		Amount: valueobject.FromMinorUnits(refund.Amount, string(refund.Currency)),
	}, nil
}

func (g *StripeGateway) Transfer(ctx context.Context, req TransferRequest) (string, error) {
	params := &stripe.TransferParams{
		Amount:      stripe.Int64(req.Amount.MinorUnits()),
		Currency:    stripe.String(req.Amount.Currency),
		Destination: stripe.String(req.Destination),
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	transfer, err := g.api.Transfers.New(params)
	if err != nil {
		return "", classify(err, "transfer")
	}
	return transfer.ID, nil
}

// classify приводит ошибку Stripe к ошибкам шлюза: отказ карты и неверный запрос
// не повторяются, сетевые ошибки, 429 и 5xx повторяются.
func classify(err error, op string) error {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return apperror.Wrap(err, apperror.ErrCodeUnavailable, ErrUnavailable.Message).
			WithDetails(map[string]any{"operation": op})
	}

	details := map[string]any{
		"operation":    op,
		"gateway_code": string(stripeErr.Code),
		"request_id":   stripeErr.RequestID,
	}

	switch {
	case stripeErr.HTTPStatusCode == http.StatusTooManyRequests,
		stripeErr.HTTPStatusCode >= http.StatusInternalServerError,
		stripeErr.Type == stripe.ErrorTypeAPI:
		return apperror.Wrap(err, apperror.ErrCodeUnavailable, ErrUnavailable.Message).WithDetails(details)
	case stripeErr.Code == stripe.ErrorCodePaymentIntentUnexpectedState:
		return apperror.Wrap(err, apperror.ErrCodeConflict, ErrInvalidState.Message).WithDetails(details)
	case stripeErr.Type == stripe.ErrorTypeCard:
		return apperror.Wrap(err, apperror.ErrCodePrecondition, ErrDeclined.Message).WithDetails(details)
	default:
		return apperror.Wrap(err, apperror.ErrCodeBadRequest, stripeErr.Msg).WithDetails(details)
	}
}
