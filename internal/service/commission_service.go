package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/marketplace-settlement/internal/domain/valueobject"
	"github.com/ignatzorin/marketplace-settlement/internal/logger"
	"github.com/ignatzorin/marketplace-settlement/internal/models"
	"github.com/ignatzorin/marketplace-settlement/internal/pkg/apperror"
	"github.com/ignatzorin/marketplace-settlement/internal/repository"
)

// CommissionLedger хранилище комиссий.
type CommissionLedger interface {
	Insert(ctx context.Context, c *models.Commission) (*models.Commission, bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Commission, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Commission, error)
	ListByVendor(ctx context.Context, vendorID uuid.UUID, status valueobject.CommissionStatus, limit, offset int) ([]models.Commission, error)
	// ListPayable возвращает pending-комиссии продавца, чей escrow уже released или partially_released.
	// Пустой ids означает все такие комиссии.
	ListPayable(ctx context.Context, vendorID uuid.UUID, ids []uuid.UUID) ([]models.Commission, error)
	ClaimForPayout(ctx context.Context, vendorID uuid.UUID, ids []uuid.UUID, batchKey string) error
	MarkPaid(ctx context.Context, batchKey, payoutID string, paidAt time.Time) (int64, error)
	ReleaseClaim(ctx context.Context, batchKey string) error
	ListStuckProcessing(ctx context.Context, olderThan time.Time) ([]models.Commission, error)
	ListVendorsWithPayable(ctx context.Context) ([]uuid.UUID, error)
}

// OrderReader читает заказ и его позиции.
type OrderReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	ListLineItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderLineItem, error)
}

// CommissionConfig параметры расчёта комиссий.
type CommissionConfig struct {
	Workers int
	// PerLineItem создаёт отдельную комиссию на каждую позицию вместо одной на продавца.
	PerLineItem    bool
	PlatformFeePct decimal.Decimal
}

// CalculationResult итог расчёта комиссий по заказу.
type CalculationResult struct {
	OrderID        uuid.UUID           `json:"order_id"`
	Commissions    []models.Commission `json:"commissions"`
	SkippedVendors []uuid.UUID         `json:"skipped_vendors,omitempty"`
	FailedVendors  []uuid.UUID         `json:"failed_vendors,omitempty"`
}

// vendorGroup часть заказа одного продавца (или одна позиция в режиме PerLineItem).
type vendorGroup struct {
	vendorID   uuid.UUID
	lineItemID *uuid.UUID
	subtotal   decimal.Decimal
}

type groupOutcome struct {
	commission *models.Commission
	skipped    bool
	err        error
}

// CommissionService считает комиссии маркетплейса по заказам.
type CommissionService struct {
	ledger   CommissionLedger
	orders   OrderReader
	vendors  VendorReader
	notifier Notifier
	pool     *ants.Pool
	cfg      CommissionConfig
}

func NewCommissionService(ledger CommissionLedger, orders OrderReader, vendors VendorReader, notifier Notifier, cfg CommissionConfig) (*CommissionService, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if err := valueobject.ValidateRate(cfg.PlatformFeePct); err != nil {
		return nil, err
	}

	pool, err := ants.NewPool(cfg.Workers, ants.WithPanicHandler(func(p interface{}) {
		logger.L().WithField("panic", p).Error("commission worker: panic")
	}))
	if err != nil {
		return nil, fmt.Errorf("commission service: create pool %w", err)
	}

	return &CommissionService{
		ledger:   ledger,
		orders:   orders,
		vendors:  vendors,
		notifier: notifier,
		pool:     pool,
		cfg:      cfg,
	}, nil
}

// Close останавливает пул воркеров.
func (s *CommissionService) Close() {
	s.pool.Release()
}

// CalculateOrderCommissions создаёт по одной pending-комиссии на каждого продавца заказа.
// Продавцы обрабатываются независимо: ошибка одного не откатывает остальных.
// Повторный вызов возвращает уже созданные строки.
func (s *CommissionService) CalculateOrderCommissions(ctx context.Context, orderID uuid.UUID) (*CalculationResult, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return nil, apperror.ErrOrderNotFound
		}
		return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "ошибка чтения заказа")
	}
	currency, err := valueobject.NormalizeCurrency(order.CurrencyCode)
	if err != nil {
		return nil, err
	}

	items, err := s.orders.ListLineItems(ctx, orderID)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "ошибка чтения позиций заказа")
	}

	groups := s.partition(items)
	outcomes := make([]groupOutcome, len(groups))

	var wg sync.WaitGroup
	for i := range groups {
		i := i
		wg.Add(1)
		task := func() {
			defer wg.Done()
			outcomes[i] = s.createForGroup(ctx, order, currency, groups[i])
		}
		if err := s.pool.Submit(task); err != nil {
			wg.Done()
			outcomes[i] = groupOutcome{err: fmt.Errorf("submit: %w", err)}
		}
	}
	wg.Wait()

	result := &CalculationResult{OrderID: orderID, Commissions: make([]models.Commission, 0, len(groups))}
	for i, out := range outcomes {
		switch {
		case out.err != nil:
			result.FailedVendors = append(result.FailedVendors, groups[i].vendorID)
			logger.L().WithFields(logrus.Fields{
				"order_id":  orderID,
				"vendor_id": groups[i].vendorID,
			}).WithError(out.err).Error("не удалось создать комиссию продавца")
		case out.skipped:
			result.SkippedVendors = append(result.SkippedVendors, groups[i].vendorID)
		default:
			result.Commissions = append(result.Commissions, *out.commission)
		}
	}

	logger.L().WithFields(logrus.Fields{
		"order_id": orderID,
		"created":  len(result.Commissions),
		"skipped":  len(result.SkippedVendors),
		"failed":   len(result.FailedVendors),
	}).Info("комиссии по заказу рассчитаны")

	return result, nil
}

// partition группирует позиции по продавцу в порядке первого появления.
func (s *CommissionService) partition(items []models.OrderLineItem) []vendorGroup {
	if s.cfg.PerLineItem {
		groups := make([]vendorGroup, 0, len(items))
		for _, item := range items {
			id := item.ID
			groups = append(groups, vendorGroup{vendorID: item.VendorID, lineItemID: &id, subtotal: item.Subtotal})
		}
		return groups
	}

	index := make(map[uuid.UUID]int)
	var groups []vendorGroup
	for _, item := range items {
		if i, ok := index[item.VendorID]; ok {
			groups[i].subtotal = groups[i].subtotal.Add(item.Subtotal)
			continue
		}
		index[item.VendorID] = len(groups)
		groups = append(groups, vendorGroup{vendorID: item.VendorID, subtotal: item.Subtotal})
	}
	return groups
}

func (s *CommissionService) createForGroup(ctx context.Context, order *models.Order, currency string, g vendorGroup) groupOutcome {
	entry := logger.L().WithFields(logrus.Fields{"order_id": order.ID, "vendor_id": g.vendorID})

	vendor, err := s.vendors.GetByID(ctx, g.vendorID)
	if err != nil {
		if errors.Is(err, repository.ErrVendorNotFound) {
			entry.Warn("продавец не найден, комиссия не создаётся")
			return groupOutcome{skipped: true}
		}
		return groupOutcome{err: err}
	}
	if !vendor.IsActive {
		entry.Warn("продавец неактивен, комиссия не создаётся")
		return groupOutcome{skipped: true}
	}

	subtotal, err := valueobject.NewMoney(g.subtotal, currency)
	if err != nil {
		return groupOutcome{err: err}
	}
	commission, err := models.NewCommission(vendor.ID, order.ID, g.lineItemID, subtotal, vendor.CommissionRate, s.cfg.PlatformFeePct)
	if err != nil {
		return groupOutcome{err: err}
	}

	stored, created, err := s.ledger.Insert(ctx, commission)
	if err != nil {
		return groupOutcome{err: err}
	}
	if created {
		s.notifier.Notify(ctx, vendor.ID, models.NotifyCommissionCreate, map[string]any{
			"commission_id": stored.ID,
			"order_id":      stored.OrderID,
			"net_amount":    stored.NetAmount.String(),
			"currency":      stored.CurrencyCode,
		})
	}
	return groupOutcome{commission: stored}
}

// ListOrderCommissions возвращает комиссии заказа.
func (s *CommissionService) ListOrderCommissions(ctx context.Context, orderID uuid.UUID) ([]models.Commission, error) {
	items, err := s.ledger.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "ошибка чтения комиссий")
	}
	return items, nil
}

// ListVendorCommissions возвращает комиссии продавца самому продавцу или администратору.
func (s *CommissionService) ListVendorCommissions(ctx context.Context, actor models.Actor, vendorID uuid.UUID, status string, limit, offset int) ([]models.Commission, error) {
	if !actor.IsAdmin() && actor.ID != vendorID {
		return nil, apperror.ErrForbidden
	}

	var st valueobject.CommissionStatus
	if status != "" {
		parsed, err := valueobject.NewCommissionStatus(status)
		if err != nil {
			return nil, err
		}
		st = parsed
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	items, err := s.ledger.ListByVendor(ctx, vendorID, st, limit, offset)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "ошибка чтения комиссий")
	}
	return items, nil
}

// GetCommission возвращает комиссию продавцу-владельцу или администратору.
func (s *CommissionService) GetCommission(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.Commission, error) {
	c, err := s.ledger.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrCommissionNotFound) {
			return nil, apperror.ErrCommissionNotFound
		}
		return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "ошибка чтения комиссии")
	}
	if !actor.IsAdmin() && actor.ID != c.VendorID {
		return nil, apperror.ErrForbidden
	}
	return c, nil
}
