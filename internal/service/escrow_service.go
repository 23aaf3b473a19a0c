package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/marketplace-settlement/internal/domain/valueobject"
	"github.com/ignatzorin/marketplace-settlement/internal/gateway"
	"github.com/ignatzorin/marketplace-settlement/internal/logger"
	"github.com/ignatzorin/marketplace-settlement/internal/models"
	"github.com/ignatzorin/marketplace-settlement/internal/pkg/apperror"
	"github.com/ignatzorin/marketplace-settlement/internal/repository"
	"github.com/ignatzorin/marketplace-settlement/internal/saga"
	"github.com/ignatzorin/marketplace-settlement/internal/validation"
)

// EscrowLedger хранилище escrow-транзакций.
type EscrowLedger interface {
	Insert(ctx context.Context, e *models.EscrowTransaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.EscrowTransaction, error)
	GetByOrderID(ctx context.Context, orderID uuid.UUID) (*models.EscrowTransaction, error)
	CompareAndSet(ctx context.Context, expected valueobject.EscrowStatus, next *models.EscrowTransaction) (*models.EscrowTransaction, error)
	SoftDelete(ctx context.Context, id uuid.UUID) error
	ListDueForAutoRelease(ctx context.Context, now time.Time, limit int) ([]models.EscrowTransaction, error)
}

// OrderLookup читает заказ, под который создаётся escrow.
type OrderLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
}

// VendorReader читает продавцов.
type VendorReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Vendor, error)
}

// OrderCommissionRefunder закрывает невыплаченные комиссии заказа после возврата.
type OrderCommissionRefunder interface {
	MarkRefundedByOrder(ctx context.Context, orderID uuid.UUID, notes string) (int64, error)
}

// Имена саг для логов.
const (
	sagaCreate      = "escrow.create"
	sagaRelease     = "escrow.release"
	sagaDispute     = "escrow.dispute"
	sagaRefund      = "escrow.refund"
	sagaResolve     = "escrow.resolve"
	sagaAutoRelease = "escrow.auto_release"
)

// Исходы разрешения спора.
const (
	OutcomeRelease        = "release"
	OutcomePartialRelease = "partial_release"
	OutcomeRefund         = "refund"
)

// EscrowConfig параметры оркестратора.
type EscrowConfig struct {
	AutoReleaseDays  int
	AutoReleaseBatch int
	AdminUserIDs     []uuid.UUID
}

// CreateEscrowInput параметры создания escrow по принятому заказу.
// Администратор может не указывать BuyerID, тогда берётся покупатель заказа.
type CreateEscrowInput struct {
	OrderID               uuid.UUID
	BuyerID               uuid.UUID
	VendorID              uuid.UUID
	Amount                decimal.Decimal
	Currency              string
	PaymentMethodID       string
	PartialReleaseEnabled bool
	AutoReleaseDays       int
}

// ResolveDisputeInput решение администратора по спору.
type ResolveDisputeInput struct {
	Outcome       string
	Notes         string
	PartialAmount *decimal.Decimal
}

// EscrowService оркестратор саг escrow: создание, освобождение, спор, возврат.
// Каждая операция перечитывает текущий статус и меняет его только через CompareAndSet.
type EscrowService struct {
	ledger      EscrowLedger
	orders      OrderLookup
	vendors     VendorReader
	commissions OrderCommissionRefunder
	gateway     gateway.Gateway
	notifier    Notifier
	cfg         EscrowConfig
	now         func() time.Time
}

func NewEscrowService(
	ledger EscrowLedger,
	orders OrderLookup,
	vendors VendorReader,
	commissions OrderCommissionRefunder,
	gw gateway.Gateway,
	notifier Notifier,
	cfg EscrowConfig,
) *EscrowService {
	if cfg.AutoReleaseDays <= 0 {
		cfg.AutoReleaseDays = models.DefaultAutoReleaseDays
	}
	if cfg.AutoReleaseBatch <= 0 {
		cfg.AutoReleaseBatch = 100
	}
	return &EscrowService{
		ledger:      ledger,
		orders:      orders,
		vendors:     vendors,
		commissions: commissions,
		gateway:     gw,
		notifier:    notifier,
		cfg:         cfg,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// CreateEscrow удерживает средства покупателя и записывает escrow в статусе held.
// Заказ должен существовать, быть принят и принадлежать покупателю; валюта совпадает с валютой заказа.
// Если запись не удалась, удержание в шлюзе снимается до возврата ошибки.
func (s *EscrowService) CreateEscrow(ctx context.Context, actor models.Actor, in CreateEscrowInput) (*models.EscrowTransaction, error) {
	if !actor.IsAdmin() && actor.ID != in.BuyerID {
		return nil, apperror.ErrForbidden
	}
	if in.OrderID == uuid.Nil || in.VendorID == uuid.Nil {
		return nil, apperror.New(apperror.ErrCodeValidation, "order_id и vendor_id обязательны")
	}
	if strings.TrimSpace(in.PaymentMethodID) == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "payment_method_id обязателен")
	}

	amount, err := valueobject.NewPositiveMoney(in.Amount, in.Currency)
	if err != nil {
		return nil, err
	}

	order, err := s.orders.GetByID(ctx, in.OrderID)
	if err != nil {
		return nil, orderError(err)
	}
	if in.BuyerID == uuid.Nil {
		in.BuyerID = order.BuyerID
	}
	if order.BuyerID != in.BuyerID {
		return nil, apperror.New(apperror.ErrCodeForbidden, "заказ принадлежит другому покупателю").
			WithDetails(map[string]any{"order_id": order.ID})
	}
	if !strings.EqualFold(order.CurrencyCode, amount.Currency) {
		return nil, apperror.New(apperror.ErrCodeValidation, "валюта escrow не совпадает с валютой заказа").
			WithDetails(map[string]any{"order_currency": strings.ToLower(order.CurrencyCode), "currency": amount.Currency})
	}
	if !order.IsAccepted() {
		return nil, apperror.New(apperror.ErrCodePrecondition, "escrow создаётся только по принятому заказу").
			WithDetails(map[string]any{"order_id": order.ID, "order_status": order.Status})
	}

	vendor, err := s.vendors.GetByID(ctx, in.VendorID)
	if err != nil {
		return nil, vendorError(err)
	}
	if !vendor.IsActive {
		return nil, apperror.New(apperror.ErrCodePrecondition, "продавец неактивен").
			WithDetails(map[string]any{"vendor_id": vendor.ID})
	}

	existing, err := s.ledger.GetByOrderID(ctx, in.OrderID)
	switch {
	case err == nil:
		return nil, apperror.New(apperror.ErrCodeConflict, "escrow для заказа уже существует").
			WithDetails(map[string]any{"escrow_id": existing.ID, "order_id": in.OrderID, "current_status": existing.Status})
	case !errors.Is(err, repository.ErrEscrowNotFound):
		return nil, escrowError(err)
	}

	days := in.AutoReleaseDays
	if days <= 0 {
		days = s.cfg.AutoReleaseDays
	}
	escrow := models.NewEscrowTransaction(in.OrderID, in.BuyerID, in.VendorID, amount, days)
	escrow.PartialReleaseEnabled = in.PartialReleaseEnabled

	var intentID string
	sg := saga.New(sagaCreate, logrus.Fields{"escrow_id": escrow.ID, "order_id": escrow.OrderID}).
		Step("hold_funds",
			func(ctx context.Context) error {
				id, err := s.gateway.Hold(ctx, gateway.HoldRequest{
					Amount:          amount,
					PaymentMethodID: in.PaymentMethodID,
					IdempotencyKey:  "escrow-hold:" + escrow.ID.String(),
					Metadata: map[string]string{
						"escrow_id": escrow.ID.String(),
						"order_id":  escrow.OrderID.String(),
						"vendor_id": escrow.VendorID.String(),
					},
				})
				if err != nil {
					return gatewayError(err, "hold")
				}
				intentID = id
				return nil
			},
			func(ctx context.Context) error {
				return s.gateway.Cancel(ctx, intentID)
			}).
		Step("record_escrow",
			func(ctx context.Context) error {
				if err := escrow.Hold(intentID, s.now()); err != nil {
					return err
				}
				return escrowError(s.ledger.Insert(ctx, escrow))
			},
			func(ctx context.Context) error {
				return s.ledger.SoftDelete(ctx, escrow.ID)
			}).
		Step("notify_buyer", func(ctx context.Context) error {
			s.notifier.Notify(ctx, escrow.BuyerID, models.NotifyEscrowHeld, escrowPayload(escrow))
			return nil
		}, nil)

	if _, err := sg.Run(ctx); err != nil {
		if intentID == "" {
			_ = escrow.Cancel(s.now())
			logger.Saga(sagaCreate, "hold_funds").WithFields(logrus.Fields{
				"escrow_id": escrow.ID,
				"status":    escrow.Status,
			}).Info("удержание не состоялось, escrow не создан")
		}
		return nil, err
	}

	return escrow, nil
}

// ReleaseEscrow освобождает средства продавцу по подтверждению покупателя.
// Повторный вызов получает конфликт и не приводит ко второму списанию.
func (s *EscrowService) ReleaseEscrow(ctx context.Context, actor models.Actor, escrowID uuid.UUID) (*models.EscrowTransaction, error) {
	current, err := s.ledger.GetByID(ctx, escrowID)
	if err != nil {
		return nil, escrowError(err)
	}

	switch {
	case actor.IsSystem():
		if !current.IsDueForAutoRelease(s.now()) {
			if current.Status != valueobject.EscrowStatusHeld {
				return nil, current.TransitionError(valueobject.EscrowStatusReleased)
			}
			return nil, apperror.New(apperror.ErrCodePrecondition, "срок авто-освобождения ещё не наступил").
				WithDetails(map[string]any{"escrow_id": current.ID, "auto_release_at": current.AutoReleaseAt})
		}
	case actor.ID != current.BuyerID:
		return nil, apperror.New(apperror.ErrCodeForbidden, "освободить средства может только покупатель")
	}

	if current.Status != valueobject.EscrowStatusHeld {
		return nil, current.TransitionError(valueobject.EscrowStatusReleased)
	}

	name := sagaRelease
	if actor.IsSystem() {
		name = sagaAutoRelease
	}
	return s.runRelease(ctx, name, current, "")
}

// runRelease переводит escrow в released и списывает удержание, если оно ещё не списано.
// Ledger меняется первым, чтобы читатель не увидел списанные средства в статусе held.
func (s *EscrowService) runRelease(ctx context.Context, name string, current *models.EscrowTransaction, notes string) (*models.EscrowTransaction, error) {
	snapshot := current.Clone()
	next := current.Clone()
	if err := next.Release(notes, s.now()); err != nil {
		return nil, err
	}
	if snapshot.PaymentIntentID == nil {
		return nil, apperror.New(apperror.ErrCodeInternal, "у escrow нет payment intent")
	}

	var updated *models.EscrowTransaction
	sg := saga.New(name, logrus.Fields{"escrow_id": current.ID}).
		Step("mark_released",
			func(ctx context.Context) error {
				var err error
				updated, err = s.ledger.CompareAndSet(ctx, snapshot.Status, next)
				return casError(err, snapshot, next.Status)
			},
			s.revert(snapshot, valueobject.EscrowStatusReleased)).
		Step("capture_payment", func(ctx context.Context) error {
			if snapshot.IsCaptured() {
				return nil
			}
			_, err := s.gateway.Capture(ctx, *snapshot.PaymentIntentID, nil, "escrow-capture:"+snapshot.ID.String())
			return gatewayError(err, "capture")
		}, nil).
		Step("notify_vendor", func(ctx context.Context) error {
			s.notifier.Notify(ctx, updated.VendorID, models.NotifyEscrowReleased, escrowPayload(updated))
			if name == sagaResolve {
				s.notifier.Notify(ctx, updated.BuyerID, models.NotifyEscrowResolved, escrowPayload(updated))
			}
			return nil
		}, nil)

	if _, err := sg.Run(ctx); err != nil {
		return nil, err
	}
	return updated, nil
}

// DisputeEscrow открывает спор по сделке от имени покупателя или продавца.
func (s *EscrowService) DisputeEscrow(ctx context.Context, actor models.Actor, escrowID uuid.UUID, reason string) (*models.EscrowTransaction, error) {
	current, err := s.ledger.GetByID(ctx, escrowID)
	if err != nil {
		return nil, escrowError(err)
	}
	if !current.IsParty(actor.ID) {
		return nil, apperror.New(apperror.ErrCodeForbidden, "открыть спор может только участник сделки")
	}

	reason, err = validation.DisputeReason(reason)
	if err != nil {
		return nil, err
	}

	snapshot := current.Clone()
	next := current.Clone()
	if err := next.Dispute(reason, s.now()); err != nil {
		return nil, err
	}

	var updated *models.EscrowTransaction
	sg := saga.New(sagaDispute, logrus.Fields{"escrow_id": current.ID}).
		Step("mark_disputed",
			func(ctx context.Context) error {
				var err error
				updated, err = s.ledger.CompareAndSet(ctx, snapshot.Status, next)
				return casError(err, snapshot, next.Status)
			},
			s.revert(snapshot, valueobject.EscrowStatusDisputed)).
		Step("notify_admin", func(ctx context.Context) error {
			payload := escrowPayload(updated)
			payload["opened_by"] = actor.ID
			for _, adminID := range s.cfg.AdminUserIDs {
				s.notifier.Notify(ctx, adminID, models.NotifyEscrowDisputed, payload)
			}
			counterparty := updated.VendorID
			if actor.ID == updated.VendorID {
				counterparty = updated.BuyerID
			}
			s.notifier.Notify(ctx, counterparty, models.NotifyEscrowDisputed, payload)
			return nil
		}, nil)

	if _, err := sg.Run(ctx); err != nil {
		return nil, err
	}
	return updated, nil
}

// RefundEscrow возвращает средства покупателю по решению администратора.
func (s *EscrowService) RefundEscrow(ctx context.Context, actor models.Actor, escrowID uuid.UUID, notes string) (*models.EscrowTransaction, error) {
	if !actor.IsAdmin() {
		return nil, apperror.New(apperror.ErrCodeForbidden, "вернуть средства может только администратор")
	}

	current, err := s.ledger.GetByID(ctx, escrowID)
	if err != nil {
		return nil, escrowError(err)
	}

	notes, err = validation.Notes(notes)
	if err != nil {
		return nil, err
	}

	snapshot := current.Clone()
	next := current.Clone()
	if err := next.Refund(notes, s.now()); err != nil {
		return nil, err
	}
	if snapshot.PaymentIntentID == nil {
		return nil, apperror.New(apperror.ErrCodeInternal, "у escrow нет payment intent")
	}

	var updated *models.EscrowTransaction
	sg := saga.New(sagaRefund, logrus.Fields{"escrow_id": current.ID}).
		Step("mark_refunded",
			func(ctx context.Context) error {
				var err error
				updated, err = s.ledger.CompareAndSet(ctx, snapshot.Status, next)
				return casError(err, snapshot, next.Status)
			},
			s.revert(snapshot, valueobject.EscrowStatusRefunded)).
		Step("refund_payment", func(ctx context.Context) error {
			intentID := *snapshot.PaymentIntentID
			if snapshot.IsCaptured() {
				_, err := s.gateway.Refund(ctx, intentID, "escrow-refund:"+snapshot.ID.String())
				return gatewayError(err, "refund")
			}
			return gatewayError(s.gateway.Cancel(ctx, intentID), "cancel")
		}, nil).
		Step("refund_commissions", func(ctx context.Context) error {
			n, err := s.commissions.MarkRefundedByOrder(ctx, updated.OrderID, "escrow refunded")
			entry := logger.Saga(sagaRefund, "refund_commissions").WithField("order_id", updated.OrderID)
			if err != nil {
				entry.WithError(err).Error("не удалось закрыть комиссии заказа после возврата")
				return nil
			}
			entry.WithField("rows", n).Info("комиссии заказа закрыты")
			return nil
		}, nil).
		Step("notify_buyer", func(ctx context.Context) error {
			s.notifier.Notify(ctx, updated.BuyerID, models.NotifyEscrowRefunded, escrowPayload(updated))
			s.notifier.Notify(ctx, updated.VendorID, models.NotifyEscrowRefunded, escrowPayload(updated))
			return nil
		}, nil)

	if _, err := sg.Run(ctx); err != nil {
		return nil, err
	}
	return updated, nil
}

// ResolveDispute закрывает спор решением администратора.
func (s *EscrowService) ResolveDispute(ctx context.Context, actor models.Actor, escrowID uuid.UUID, in ResolveDisputeInput) (*models.EscrowTransaction, error) {
	if !actor.IsAdmin() {
		return nil, apperror.New(apperror.ErrCodeForbidden, "разрешить спор может только администратор")
	}

	switch in.Outcome {
	case OutcomeRefund:
		return s.RefundEscrow(ctx, actor, escrowID, in.Notes)
	case OutcomeRelease, OutcomePartialRelease:
	default:
		return nil, apperror.New(apperror.ErrCodeValidation, "outcome должен быть release, partial_release или refund")
	}

	current, err := s.ledger.GetByID(ctx, escrowID)
	if err != nil {
		return nil, escrowError(err)
	}
	if current.Status != valueobject.EscrowStatusDisputed {
		target := valueobject.EscrowStatusReleased
		if in.Outcome == OutcomePartialRelease {
			target = valueobject.EscrowStatusPartiallyReleased
		}
		return nil, current.TransitionError(target)
	}

	notes, err := validation.Notes(in.Notes)
	if err != nil {
		return nil, err
	}
	if in.Outcome == OutcomeRelease {
		return s.runRelease(ctx, sagaResolve, current, notes)
	}

	if in.PartialAmount == nil {
		return nil, apperror.New(apperror.ErrCodeValidation, "для partial_release нужна сумма")
	}
	return s.runPartialRelease(ctx, current, *in.PartialAmount, notes)
}

func (s *EscrowService) runPartialRelease(ctx context.Context, current *models.EscrowTransaction, amount decimal.Decimal, notes string) (*models.EscrowTransaction, error) {
	part, err := valueobject.NewPositiveMoney(amount, current.CurrencyCode)
	if err != nil {
		return nil, err
	}

	snapshot := current.Clone()
	next := current.Clone()
	if err := next.PartialRelease(part.Amount, notes, s.now()); err != nil {
		return nil, err
	}
	if snapshot.PaymentIntentID == nil {
		return nil, apperror.New(apperror.ErrCodeInternal, "у escrow нет payment intent")
	}

	var updated *models.EscrowTransaction
	sg := saga.New(sagaResolve, logrus.Fields{"escrow_id": current.ID, "outcome": OutcomePartialRelease}).
		Step("mark_partially_released",
			func(ctx context.Context) error {
				var err error
				updated, err = s.ledger.CompareAndSet(ctx, snapshot.Status, next)
				return casError(err, snapshot, next.Status)
			},
			s.revert(snapshot, valueobject.EscrowStatusPartiallyReleased)).
		Step("capture_partial", func(ctx context.Context) error {
			_, err := s.gateway.Capture(ctx, *snapshot.PaymentIntentID, &part, "escrow-capture:"+snapshot.ID.String())
			return gatewayError(err, "capture")
		}, nil).
		Step("notify_parties", func(ctx context.Context) error {
			payload := escrowPayload(updated)
			payload["released_amount"] = part.Amount.String()
			s.notifier.Notify(ctx, updated.VendorID, models.NotifyEscrowResolved, payload)
			s.notifier.Notify(ctx, updated.BuyerID, models.NotifyEscrowResolved, payload)
			return nil
		}, nil)

	if _, err := sg.Run(ctx); err != nil {
		return nil, err
	}
	return updated, nil
}

// AutoReleaseDue освобождает удержанные сделки с истёкшим сроком. Ошибка одной сделки
// не останавливает обработку остальных.
func (s *EscrowService) AutoReleaseDue(ctx context.Context) (int, error) {
	due, err := s.ledger.ListDueForAutoRelease(ctx, s.now(), s.cfg.AutoReleaseBatch)
	if err != nil {
		return 0, escrowError(err)
	}

	released := 0
	for i := range due {
		if ctx.Err() != nil {
			return released, ctx.Err()
		}
		if _, err := s.ReleaseEscrow(ctx, models.SystemActor, due[i].ID); err != nil {
			entry := logger.Saga(sagaAutoRelease, "sweep").WithField("escrow_id", due[i].ID).WithError(err)
			if apperror.IsConflict(err) {
				entry.Info("сделка изменилась до авто-освобождения, пропускаем")
			} else {
				entry.Warn("не удалось авто-освободить сделку")
			}
			continue
		}
		released++
	}
	return released, nil
}

// GetEscrow возвращает сделку участнику или администратору.
func (s *EscrowService) GetEscrow(ctx context.Context, actor models.Actor, escrowID uuid.UUID) (*models.EscrowTransaction, error) {
	e, err := s.ledger.GetByID(ctx, escrowID)
	if err != nil {
		return nil, escrowError(err)
	}
	if !actor.IsAdmin() && !e.IsParty(actor.ID) {
		return nil, apperror.ErrForbidden
	}
	return e, nil
}

// GetEscrowByOrder возвращает сделку заказа участнику или администратору.
func (s *EscrowService) GetEscrowByOrder(ctx context.Context, actor models.Actor, orderID uuid.UUID) (*models.EscrowTransaction, error) {
	e, err := s.ledger.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, escrowError(err)
	}
	if !actor.IsAdmin() && !e.IsParty(actor.ID) {
		return nil, apperror.ErrForbidden
	}
	return e, nil
}

// revert возвращает строку к снимку, если она всё ещё в статусе from.
func (s *EscrowService) revert(snapshot *models.EscrowTransaction, from valueobject.EscrowStatus) saga.Action {
	return func(ctx context.Context) error {
		_, err := s.ledger.CompareAndSet(ctx, from, snapshot)
		return err
	}
}

func escrowPayload(e *models.EscrowTransaction) map[string]any {
	return map[string]any{
		"escrow_id": e.ID,
		"order_id":  e.OrderID,
		"status":    e.Status,
		"amount":    e.Money().String(),
	}
}

// casError переводит результат CompareAndSet в ошибку приложения.
func casError(err error, snapshot *models.EscrowTransaction, to valueobject.EscrowStatus) error {
	if errors.Is(err, repository.ErrEscrowStatusConflict) {
		return apperror.New(apperror.ErrCodeConflict, "статус escrow изменился, операция отклонена").
			WithDetails(map[string]any{
				"escrow_id":        snapshot.ID,
				"expected_status":  snapshot.Status,
				"requested_status": to,
			})
	}
	return escrowError(err)
}

func escrowError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperror.As(err); ok {
		return err
	}
	switch {
	case errors.Is(err, repository.ErrEscrowNotFound):
		return apperror.ErrEscrowNotFound
	case errors.Is(err, repository.ErrEscrowOrderExists):
		return apperror.New(apperror.ErrCodeConflict, "escrow для заказа уже существует")
	case errors.Is(err, repository.ErrEscrowStatusConflict):
		return apperror.New(apperror.ErrCodeConflict, "статус escrow изменился, операция отклонена")
	default:
		return apperror.Wrap(err, apperror.ErrCodeDatabaseError, "ошибка хранилища escrow")
	}
}

func orderError(err error) error {
	if errors.Is(err, repository.ErrOrderNotFound) {
		return apperror.ErrOrderNotFound
	}
	if _, ok := apperror.As(err); ok {
		return err
	}
	return apperror.Wrap(err, apperror.ErrCodeDatabaseError, "ошибка чтения заказа")
}

func vendorError(err error) error {
	if errors.Is(err, repository.ErrVendorNotFound) {
		return apperror.ErrVendorNotFound
	}
	if _, ok := apperror.As(err); ok {
		return err
	}
	return apperror.Wrap(err, apperror.ErrCodeDatabaseError, "ошибка чтения продавца")
}

// gatewayError гарантирует, что ошибка шлюза несёт код приложения.
func gatewayError(err error, op string) error {
	if err == nil {
		return nil
	}
	if _, ok := apperror.As(err); ok {
		return err
	}
	return apperror.Wrap(err, apperror.ErrCodeUnavailable, "платёжный шлюз недоступен").
		WithDetails(map[string]any{"operation": op})
}
