package service

import (
	"context"
	"encoding/hex"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"

	"github.com/ignatzorin/marketplace-settlement/internal/domain/valueobject"
	"github.com/ignatzorin/marketplace-settlement/internal/gateway"
	"github.com/ignatzorin/marketplace-settlement/internal/logger"
	"github.com/ignatzorin/marketplace-settlement/internal/models"
	"github.com/ignatzorin/marketplace-settlement/internal/pkg/apperror"
	"github.com/ignatzorin/marketplace-settlement/internal/repository"
)

// PayoutService выплачивает продавцам накопленные комиссии.
//
// Строки пакета сначала одной записью переводятся в processing с ключом пакета,
// затем выполняется перевод с тем же ключом идемпотентности, затем строки
// одной записью помечаются paid. Строки, застрявшие в processing, дозакрывает
// ReconcileStuckPayouts.
type PayoutService struct {
	ledger   CommissionLedger
	vendors  VendorReader
	gateway  gateway.Gateway
	notifier Notifier
	now      func() time.Time
}

func NewPayoutService(ledger CommissionLedger, vendors VendorReader, gw gateway.Gateway, notifier Notifier) *PayoutService {
	return &PayoutService{
		ledger:   ledger,
		vendors:  vendors,
		gateway:  gw,
		notifier: notifier,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ProcessVendorPayout выплачивает продавцу pending-комиссии: все или только переданные ids.
// В пакет попадают только комиссии заказов, чей escrow уже released или partially_released.
// Пустая выборка не ошибка, возвращается пустой пакет.
func (s *PayoutService) ProcessVendorPayout(ctx context.Context, vendorID uuid.UUID, commissionIDs []uuid.UUID) (*models.PayoutBatch, error) {
	vendor, err := s.vendors.GetByID(ctx, vendorID)
	if err != nil {
		return nil, vendorError(err)
	}
	if !vendor.IsActive || !vendor.CanReceivePayouts() {
		return nil, apperror.New(apperror.ErrCodePrecondition, "у продавца не подключён счёт для выплат").
			WithDetails(map[string]any{"vendor_id": vendor.ID})
	}

	rows, err := s.selectRows(ctx, vendor.ID, commissionIDs)
	if err != nil {
		return nil, err
	}

	batch := &models.PayoutBatch{VendorID: vendor.ID, TotalAmount: decimal.Zero, CommissionIDs: []uuid.UUID{}}
	if len(rows) == 0 {
		return batch, nil
	}

	total, err := sumNet(rows)
	if err != nil {
		return nil, err
	}
	ids := commissionIDsOf(rows)
	key := payoutIdempotencyKey(vendor.ID, ids)

	batch.TotalAmount = total.Amount
	batch.CurrencyCode = total.Currency
	batch.CommissionIDs = ids
	batch.IdempotencyKey = key

	entry := logger.L().WithFields(logrus.Fields{
		"vendor_id": vendor.ID,
		"batch_key": key,
		"rows":      len(ids),
		"total":     total.String(),
	})

	if err := s.ledger.ClaimForPayout(ctx, vendor.ID, ids, key); err != nil {
		if errors.Is(err, repository.ErrCommissionClaimFailed) {
			return nil, apperror.New(apperror.ErrCodeConflict, "часть комиссий уже выплачивается").
				WithDetails(map[string]any{"vendor_id": vendor.ID})
		}
		return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось зарезервировать комиссии")
	}

	payoutID, err := s.transfer(ctx, vendor, total, key)
	if err != nil {
		if relErr := s.ledger.ReleaseClaim(context.WithoutCancel(ctx), key); relErr != nil {
			entry.WithError(relErr).WithField("manual_intervention", true).
				Error("перевод не выполнен, но комиссии не вернулись в pending")
		}
		entry.WithError(err).Warn("перевод продавцу не выполнен")
		return nil, err
	}

	if err := s.markPaid(ctx, key, payoutID, len(ids)); err != nil {
		entry.WithError(err).WithField("manual_intervention", true).
			Error("перевод выполнен, но комиссии не отмечены как выплаченные")
		return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "выплата выполнена, статус комиссий будет обновлён сверкой")
	}

	batch.PayoutID = payoutID
	entry.WithField("payout_id", payoutID).Info("выплата продавцу выполнена")

	s.notifier.Notify(ctx, vendor.ID, models.NotifyPayoutCompleted, map[string]any{
		"payout_id":      payoutID,
		"total_amount":   total.String(),
		"commission_ids": ids,
	})
	return batch, nil
}

func (s *PayoutService) selectRows(ctx context.Context, vendorID uuid.UUID, ids []uuid.UUID) ([]models.Commission, error) {
	if len(ids) > 0 {
		ids = dedupe(ids)
	}
	rows, err := s.ledger.ListPayable(ctx, vendorID, ids)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "ошибка чтения комиссий")
	}

	// Выборка уже отфильтрована хранилищем; повторная проверка защищает от чужих строк.
	out := rows[:0]
	for _, r := range rows {
		if r.VendorID == vendorID && r.Status == valueobject.CommissionStatusPending {
			out = append(out, r)
		}
	}
	return out, nil
}

// transfer переводит сумму пакета. Нулевой пакет закрывается без обращения к шлюзу.
func (s *PayoutService) transfer(ctx context.Context, vendor *models.Vendor, total valueobject.Money, key string) (string, error) {
	if total.Amount.IsZero() {
		return key, nil
	}
	id, err := s.gateway.Transfer(ctx, gateway.TransferRequest{
		Destination:    *vendor.ConnectAccountID,
		Amount:         total,
		IdempotencyKey: key,
		Metadata: map[string]string{
			"vendor_id": vendor.ID.String(),
			"batch_key": key,
		},
	})
	return id, gatewayError(err, "transfer")
}

func (s *PayoutService) markPaid(ctx context.Context, key, payoutID string, expected int) error {
	n, err := s.ledger.MarkPaid(context.WithoutCancel(ctx), key, payoutID, s.now())
	if err != nil {
		return err
	}
	if int(n) != expected {
		logger.L().WithFields(logrus.Fields{
			"batch_key": key,
			"expected":  expected,
			"updated":   n,
		}).Warn("число выплаченных комиссий не совпало с пакетом")
	}
	return nil
}

// ReconcileStuckPayouts дозакрывает пакеты, застрявшие в processing дольше olderThan.
// Перевод повторяется с исходным ключом, поэтому уже выполненный перевод не дублируется.
func (s *PayoutService) ReconcileStuckPayouts(ctx context.Context, olderThan time.Duration) (int, error) {
	rows, err := s.ledger.ListStuckProcessing(ctx, s.now().Add(-olderThan))
	if err != nil {
		return 0, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "ошибка чтения зависших выплат")
	}

	batches := make(map[string][]models.Commission)
	var keys []string
	for _, r := range rows {
		if r.PayoutID == nil || *r.PayoutID == "" {
			continue
		}
		key := *r.PayoutID
		if _, ok := batches[key]; !ok {
			keys = append(keys, key)
		}
		batches[key] = append(batches[key], r)
	}

	reconciled := 0
	for _, key := range keys {
		if ctx.Err() != nil {
			return reconciled, ctx.Err()
		}
		if err := s.reconcileBatch(ctx, key, batches[key]); err != nil {
			logger.L().WithField("batch_key", key).WithError(err).Warn("сверка пакета выплат не удалась")
			continue
		}
		reconciled++
	}
	return reconciled, nil
}

func (s *PayoutService) reconcileBatch(ctx context.Context, key string, rows []models.Commission) error {
	vendorID := rows[0].VendorID
	entry := logger.L().WithFields(logrus.Fields{"batch_key": key, "vendor_id": vendorID})

	total, err := sumNet(rows)
	if err != nil {
		return err
	}
	vendor, err := s.vendors.GetByID(ctx, vendorID)
	if err != nil {
		return vendorError(err)
	}
	if !vendor.CanReceivePayouts() {
		entry.Warn("счёт продавца отключён, возвращаем комиссии в pending")
		return s.ledger.ReleaseClaim(ctx, key)
	}

	payoutID, err := s.transfer(ctx, vendor, total, key)
	if err != nil {
		if !apperror.IsRetryable(err) {
			entry.WithError(err).Warn("перевод отклонён, возвращаем комиссии в pending")
			return s.ledger.ReleaseClaim(ctx, key)
		}
		return err
	}

	if err := s.markPaid(ctx, key, payoutID, len(rows)); err != nil {
		return err
	}
	entry.WithField("payout_id", payoutID).Info("зависший пакет выплат закрыт")
	return nil
}

// PayAllPending выплачивает всех продавцов с комиссиями, готовыми к выплате. Используется
// плановой задачей. Комиссии продавца в разных валютах уходят отдельными пакетами.
// Возвращает число выполненных пакетов.
func (s *PayoutService) PayAllPending(ctx context.Context) (int, error) {
	vendorIDs, err := s.ledger.ListVendorsWithPayable(ctx)
	if err != nil {
		return 0, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "ошибка чтения продавцов с комиссиями")
	}

	paid := 0
	for _, id := range vendorIDs {
		if ctx.Err() != nil {
			return paid, ctx.Err()
		}
		groups, err := s.currencyGroups(ctx, id)
		if err != nil {
			logger.L().WithField("vendor_id", id).WithError(err).Warn("не удалось прочитать комиссии продавца")
			continue
		}
		for _, ids := range groups {
			batch, err := s.ProcessVendorPayout(ctx, id, ids)
			if err != nil {
				entry := logger.L().WithField("vendor_id", id).WithError(err)
				if apperror.IsPrecondition(err) {
					entry.Debug("продавец не готов к выплатам, пропускаем")
					break
				}
				entry.Warn("выплата продавцу не выполнена")
				continue
			}
			if !batch.IsEmpty() {
				paid++
			}
		}
	}
	return paid, nil
}

// currencyGroups раскладывает готовые к выплате комиссии продавца по валютам.
// Группы упорядочены по коду валюты.
func (s *PayoutService) currencyGroups(ctx context.Context, vendorID uuid.UUID) ([][]uuid.UUID, error) {
	rows, err := s.selectRows(ctx, vendorID, nil)
	if err != nil {
		return nil, err
	}
	byCurrency := make(map[string][]uuid.UUID)
	var currencies []string
	for _, r := range rows {
		c := strings.ToLower(r.CurrencyCode)
		if _, ok := byCurrency[c]; !ok {
			currencies = append(currencies, c)
		}
		byCurrency[c] = append(byCurrency[c], r.ID)
	}
	sort.Strings(currencies)

	groups := make([][]uuid.UUID, 0, len(currencies))
	for _, c := range currencies {
		groups = append(groups, byCurrency[c])
	}
	return groups, nil
}

// sumNet суммирует net_amount пакета; валюта должна быть одна.
func sumNet(rows []models.Commission) (valueobject.Money, error) {
	currency := strings.ToLower(rows[0].CurrencyCode)
	total := decimal.Zero
	for _, r := range rows {
		if strings.ToLower(r.CurrencyCode) != currency {
			return valueobject.Money{}, apperror.New(apperror.ErrCodePrecondition, "комиссии в пакете выплаты в разных валютах").
				WithDetails(map[string]any{"currencies": []string{currency, strings.ToLower(r.CurrencyCode)}})
		}
		total = total.Add(r.NetAmount)
	}
	return valueobject.NewMoney(total, currency)
}

func commissionIDsOf(rows []models.Commission) []uuid.UUID {
	ids := make([]uuid.UUID, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	return ids
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// payoutIdempotencyKey детерминированный ключ пакета: один и тот же набор комиссий
// всегда даёт один и тот же ключ независимо от порядка.
func payoutIdempotencyKey(vendorID uuid.UUID, ids []uuid.UUID) string {
	sorted := make([]string, len(ids))
	for i, id := range ids {
		sorted[i] = id.String()
	}
	sort.Strings(sorted)

	sum := blake2b.Sum256([]byte(vendorID.String() + ":" + strings.Join(sorted, ",")))
	return "payout-" + hex.EncodeToString(sum[:16])
}
