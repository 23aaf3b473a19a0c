package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/marketplace-settlement/internal/models"
)

type fakePusher struct {
	mu     sync.Mutex
	events []string
	err    error
}

func (p *fakePusher) Push(_ uuid.UUID, event string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *fakePusher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func TestNotificationService_NotifyPersistsAndPushes(t *testing.T) {
	repo := new(mockNotificationRepo)
	pusher := &fakePusher{}
	user := uuid.New()

	var saved *models.Notification
	repo.On("Create", mock.Anything, mock.AnythingOfType("*models.Notification")).
		Run(func(args mock.Arguments) { saved = args.Get(1).(*models.Notification) }).
		Return(nil).Once()

	svc := NewNotificationService(repo, pusher).Synchronous()
	svc.Notify(context.Background(), user, models.NotifyEscrowHeld, map[string]any{"escrow_id": "e1"})

	repo.AssertExpectations(t)
	require.NotNil(t, saved)
	assert.Equal(t, user, saved.UserID)
	assert.False(t, saved.IsRead)

	var payload struct {
		Event string         `json:"event"`
		Data  map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(saved.Payload, &payload))
	assert.Equal(t, models.NotifyEscrowHeld, payload.Event)
	assert.Equal(t, "e1", payload.Data["escrow_id"])
	assert.Equal(t, 1, pusher.count())
}

func TestNotificationService_NotifyFailuresAreSwallowed(t *testing.T) {
	repo := new(mockNotificationRepo)
	pusher := &fakePusher{err: errors.New("offline")}
	repo.On("Create", mock.Anything, mock.Anything).Return(errors.New("db down"))

	svc := NewNotificationService(repo, pusher).Synchronous()

	assert.NotPanics(t, func() {
		svc.Notify(context.Background(), uuid.New(), models.NotifyPayoutCompleted, nil)
	})
	assert.Equal(t, 1, pusher.count(), "push still attempted after persistence failure")
}

func TestNotificationService_NotifySkipsNilRecipient(t *testing.T) {
	repo := new(mockNotificationRepo)
	svc := NewNotificationService(repo, nil).Synchronous()

	svc.Notify(context.Background(), uuid.Nil, models.NotifyEscrowHeld, nil)

	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestNotificationService_NotifyAsyncSurvivesCancelledContext(t *testing.T) {
	repo := new(mockNotificationRepo)
	done := make(chan struct{})
	repo.On("Create", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			assert.NoError(t, args.Get(0).(context.Context).Err())
			close(done)
		}).
		Return(nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	NewNotificationService(repo, nil).Notify(ctx, uuid.New(), models.NotifyEscrowReleased, nil)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("notification was not delivered")
	}
}

func TestNotificationService_ListNotificationsClampsPaging(t *testing.T) {
	repo := new(mockNotificationRepo)
	user := uuid.New()
	repo.On("List", mock.Anything, user, 20, 0, true).Return([]models.Notification{{ID: uuid.New()}}, nil)

	svc := NewNotificationService(repo, nil)
	items, err := svc.ListNotifications(context.Background(), user, 500, -3, true)

	require.NoError(t, err)
	assert.Len(t, items, 1)
	repo.AssertExpectations(t)
}

func TestNotificationService_MarkAsReadIsScopedToUser(t *testing.T) {
	repo := new(mockNotificationRepo)
	user, id := uuid.New(), uuid.New()
	repo.On("MarkAsRead", mock.Anything, user, id).Return(nil).Once()

	err := NewNotificationService(repo, nil).MarkAsRead(context.Background(), id, user)

	require.NoError(t, err)
	repo.AssertExpectations(t)
}
