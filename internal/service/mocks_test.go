package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/ignatzorin/marketplace-settlement/internal/domain/valueobject"
	"github.com/ignatzorin/marketplace-settlement/internal/models"
	"github.com/ignatzorin/marketplace-settlement/internal/repository"
)

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

// memEscrowLedger хранилище в памяти с той же семантикой CompareAndSet, что и у Postgres.
type memEscrowLedger struct {
	mu        sync.Mutex
	rows      map[uuid.UUID]*models.EscrowTransaction
	insertErr error
}

func newMemEscrowLedger() *memEscrowLedger {
	return &memEscrowLedger{rows: make(map[uuid.UUID]*models.EscrowTransaction)}
}

func (l *memEscrowLedger) Insert(_ context.Context, e *models.EscrowTransaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.insertErr != nil {
		return l.insertErr
	}
	for _, row := range l.rows {
		if row.OrderID == e.OrderID && row.DeletedAt == nil {
			return repository.ErrEscrowOrderExists
		}
	}
	l.rows[e.ID] = e.Clone()
	return nil
}

func (l *memEscrowLedger) GetByID(_ context.Context, id uuid.UUID) (*models.EscrowTransaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	row, ok := l.rows[id]
	if !ok || row.DeletedAt != nil {
		return nil, repository.ErrEscrowNotFound
	}
	return row.Clone(), nil
}

func (l *memEscrowLedger) GetByOrderID(_ context.Context, orderID uuid.UUID) (*models.EscrowTransaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, row := range l.rows {
		if row.OrderID == orderID && row.DeletedAt == nil {
			return row.Clone(), nil
		}
	}
	return nil, repository.ErrEscrowNotFound
}

func (l *memEscrowLedger) CompareAndSet(_ context.Context, expected valueobject.EscrowStatus, next *models.EscrowTransaction) (*models.EscrowTransaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	row, ok := l.rows[next.ID]
	if !ok || row.DeletedAt != nil {
		return nil, repository.ErrEscrowNotFound
	}
	if row.Status != expected {
		return nil, repository.ErrEscrowStatusConflict
	}
	stored := next.Clone()
	stored.CreatedAt = row.CreatedAt
	l.rows[next.ID] = stored
	return stored.Clone(), nil
}

func (l *memEscrowLedger) SoftDelete(_ context.Context, id uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	row, ok := l.rows[id]
	if !ok || row.DeletedAt != nil {
		return repository.ErrEscrowNotFound
	}
	now := time.Now()
	row.DeletedAt = &now
	return nil
}

func (l *memEscrowLedger) ListDueForAutoRelease(_ context.Context, now time.Time, limit int) ([]models.EscrowTransaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.EscrowTransaction
	for _, row := range l.rows {
		if row.DeletedAt == nil && row.IsDueForAutoRelease(now) {
			out = append(out, *row.Clone())
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *memEscrowLedger) active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, row := range l.rows {
		if row.DeletedAt == nil {
			n++
		}
	}
	return n
}

// allowsPayout сообщает, что активный escrow заказа уже отпустил средства продавцу.
func (l *memEscrowLedger) allowsPayout(orderID uuid.UUID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, row := range l.rows {
		if row.OrderID == orderID && row.DeletedAt == nil {
			return row.Status.AllowsVendorPayout()
		}
	}
	return false
}

func (l *memEscrowLedger) mustGet(id uuid.UUID) *models.EscrowTransaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rows[id].Clone()
}

// memCommissionLedger хранилище комиссий в памяти.
type memCommissionLedger struct {
	mu        sync.Mutex
	rows      map[uuid.UUID]*models.Commission
	insertErr map[uuid.UUID]error
	markErr   error
	// escrows источник статусов escrow для условия выплаты; nil означает, что выплачивать нечего.
	escrows   *memEscrowLedger
}

func newMemCommissionLedger() *memCommissionLedger {
	return &memCommissionLedger{
		rows:      make(map[uuid.UUID]*models.Commission),
		insertErr: make(map[uuid.UUID]error),
	}
}

func (l *memCommissionLedger) put(c models.Commission) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rows[c.ID] = &c
}

func (l *memCommissionLedger) get(id uuid.UUID) models.Commission {
	l.mu.Lock()
	defer l.mu.Unlock()
	return *l.rows[id]
}

func (l *memCommissionLedger) Insert(_ context.Context, c *models.Commission) (*models.Commission, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.insertErr[c.VendorID]; err != nil {
		return nil, false, err
	}
	for _, row := range l.rows {
		sameLine := (row.LineItemID == nil && c.LineItemID == nil) ||
			(row.LineItemID != nil && c.LineItemID != nil && *row.LineItemID == *c.LineItemID)
		if row.VendorID == c.VendorID && row.OrderID == c.OrderID && sameLine {
			cp := *row
			return &cp, false, nil
		}
	}
	cp := *c
	l.rows[c.ID] = &cp
	out := cp
	return &out, true, nil
}

func (l *memCommissionLedger) GetByID(_ context.Context, id uuid.UUID) (*models.Commission, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	row, ok := l.rows[id]
	if !ok {
		return nil, repository.ErrCommissionNotFound
	}
	cp := *row
	return &cp, nil
}

func (l *memCommissionLedger) filter(pred func(*models.Commission) bool) []models.Commission {
	var out []models.Commission
	for _, row := range l.rows {
		if pred(row) {
			out = append(out, *row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

func (l *memCommissionLedger) ListByOrder(_ context.Context, orderID uuid.UUID) ([]models.Commission, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.filter(func(c *models.Commission) bool { return c.OrderID == orderID }), nil
}

func (l *memCommissionLedger) ListByVendor(_ context.Context, vendorID uuid.UUID, status valueobject.CommissionStatus, _, _ int) ([]models.Commission, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.filter(func(c *models.Commission) bool {
		return c.VendorID == vendorID && (status == "" || c.Status == status)
	}), nil
}

func (l *memCommissionLedger) ListPayable(_ context.Context, vendorID uuid.UUID, ids []uuid.UUID) ([]models.Commission, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	want := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	return l.filter(func(c *models.Commission) bool {
		if _, ok := want[c.ID]; len(ids) > 0 && !ok {
			return false
		}
		return c.VendorID == vendorID && l.payable(c)
	}), nil
}

// payable повторяет условие SQL: pending и escrow заказа released или partially_released.
func (l *memCommissionLedger) payable(c *models.Commission) bool {
	if c.Status != valueobject.CommissionStatusPending || l.escrows == nil {
		return false
	}
	return l.escrows.allowsPayout(c.OrderID)
}

func (l *memCommissionLedger) ClaimForPayout(_ context.Context, vendorID uuid.UUID, ids []uuid.UUID, batchKey string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range ids {
		row, ok := l.rows[id]
		if !ok || row.VendorID != vendorID || !l.payable(row) {
			return repository.ErrCommissionClaimFailed
		}
	}
	for _, id := range ids {
		key := batchKey
		l.rows[id].Status = valueobject.CommissionStatusProcessing
		l.rows[id].PayoutID = &key
		l.rows[id].UpdatedAt = time.Now()
	}
	return nil
}

func (l *memCommissionLedger) MarkPaid(_ context.Context, batchKey, payoutID string, paidAt time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.markErr != nil {
		return 0, l.markErr
	}
	var n int64
	for _, row := range l.rows {
		if row.PayoutID != nil && *row.PayoutID == batchKey && row.Status == valueobject.CommissionStatusProcessing {
			id := payoutID
			at := paidAt
			row.Status = valueobject.CommissionStatusPaid
			row.PayoutID = &id
			row.PaidAt = &at
			n++
		}
	}
	return n, nil
}

func (l *memCommissionLedger) ReleaseClaim(_ context.Context, batchKey string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, row := range l.rows {
		if row.PayoutID != nil && *row.PayoutID == batchKey && row.Status == valueobject.CommissionStatusProcessing {
			row.Status = valueobject.CommissionStatusPending
			row.PayoutID = nil
		}
	}
	return nil
}

func (l *memCommissionLedger) ListStuckProcessing(_ context.Context, olderThan time.Time) ([]models.Commission, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.filter(func(c *models.Commission) bool {
		return c.Status == valueobject.CommissionStatusProcessing && c.UpdatedAt.Before(olderThan)
	}), nil
}

func (l *memCommissionLedger) ListVendorsWithPayable(_ context.Context) ([]uuid.UUID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	seen := map[uuid.UUID]struct{}{}
	var out []uuid.UUID
	for _, row := range l.rows {
		if !l.payable(row) {
			continue
		}
		if _, ok := seen[row.VendorID]; !ok {
			seen[row.VendorID] = struct{}{}
			out = append(out, row.VendorID)
		}
	}
	return out, nil
}

type mockVendorReader struct {
	mock.Mock
}

func (m *mockVendorReader) GetByID(ctx context.Context, id uuid.UUID) (*models.Vendor, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Vendor), args.Error(1)
}

type mockOrderReader struct {
	mock.Mock
}

func (m *mockOrderReader) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func (m *mockOrderReader) ListLineItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderLineItem, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.OrderLineItem), args.Error(1)
}

type mockRefunder struct {
	mock.Mock
}

func (m *mockRefunder) MarkRefundedByOrder(ctx context.Context, orderID uuid.UUID, notes string) (int64, error) {
	args := m.Called(ctx, orderID, notes)
	return args.Get(0).(int64), args.Error(1)
}

type sentNotification struct {
	recipient uuid.UUID
	template  string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (n *recordingNotifier) Notify(_ context.Context, recipient uuid.UUID, template string, _ map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{recipient: recipient, template: template})
}

func (n *recordingNotifier) has(recipient uuid.UUID, template string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, s := range n.sent {
		if s.recipient == recipient && s.template == template {
			return true
		}
	}
	return false
}

type mockNotificationRepo struct {
	mock.Mock
}

func (m *mockNotificationRepo) Create(ctx context.Context, notification *models.Notification) error {
	args := m.Called(ctx, notification)
	return args.Error(0)
}

func (m *mockNotificationRepo) List(ctx context.Context, userID uuid.UUID, limit, offset int, unreadOnly bool) ([]models.Notification, error) {
	args := m.Called(ctx, userID, limit, offset, unreadOnly)
	return args.Get(0).([]models.Notification), args.Error(1)
}

func (m *mockNotificationRepo) MarkAsRead(ctx context.Context, userID, id uuid.UUID) error {
	args := m.Called(ctx, userID, id)
	return args.Error(0)
}

func (m *mockNotificationRepo) MarkAllAsRead(ctx context.Context, userID uuid.UUID) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *mockNotificationRepo) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}
