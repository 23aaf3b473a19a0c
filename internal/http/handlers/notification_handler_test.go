package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/marketplace-settlement/internal/http/middleware"
	"github.com/ignatzorin/marketplace-settlement/internal/models"
	"github.com/ignatzorin/marketplace-settlement/internal/repository"
)

type mockNotifications struct {
	mock.Mock
}

func (m *mockNotifications) ListNotifications(ctx context.Context, userID uuid.UUID, limit, offset int, unreadOnly bool) ([]models.Notification, error) {
	args := m.Called(ctx, userID, limit, offset, unreadOnly)
	items, _ := args.Get(0).([]models.Notification)
	return items, args.Error(1)
}

func (m *mockNotifications) MarkAsRead(ctx context.Context, id uuid.UUID, userID uuid.UUID) error {
	return m.Called(ctx, id, userID).Error(0)
}

func (m *mockNotifications) MarkAllAsRead(ctx context.Context, userID uuid.UUID) error {
	return m.Called(ctx, userID).Error(0)
}

func (m *mockNotifications) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

func notificationRouter(notifications NotificationReader, actor models.Actor) *gin.Engine {
	r := gin.New()
	r.Use(middleware.ErrorHandler())
	r.Use(withActor(actor))
	h := NewNotificationHandler(notifications)
	r.GET("/notifications", h.ListNotifications)
	r.GET("/notifications/unread/count", h.CountUnread)
	r.PUT("/notifications/:id/read", h.MarkAsRead)
	r.PUT("/notifications/read-all", h.MarkAllAsRead)
	return r
}

func TestNotificationHandler_List(t *testing.T) {
	user := newActor(models.RoleVendor)
	notifications := &mockNotifications{}
	notifications.On("ListNotifications", mock.Anything, user.ID, 20, 0, true).
		Return([]models.Notification{{ID: uuid.New(), UserID: user.ID}}, nil).Once()

	w := performRequest(notificationRouter(notifications, user), http.MethodGet, "/notifications?unread_only=true", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody(t, w)["items"], 1)
	notifications.AssertExpectations(t)
}

func TestNotificationHandler_MarkAsRead(t *testing.T) {
	user := newActor(models.RoleBuyer)
	id := uuid.New()

	t.Run("ok", func(t *testing.T) {
		notifications := &mockNotifications{}
		notifications.On("MarkAsRead", mock.Anything, id, user.ID).Return(nil).Once()

		w := performRequest(notificationRouter(notifications, user), http.MethodPut, "/notifications/"+id.String()+"/read", nil)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("foreign or missing", func(t *testing.T) {
		notifications := &mockNotifications{}
		notifications.On("MarkAsRead", mock.Anything, id, user.ID).Return(repository.ErrNotificationNotFound).Once()

		w := performRequest(notificationRouter(notifications, user), http.MethodPut, "/notifications/"+id.String()+"/read", nil)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("bad id", func(t *testing.T) {
		w := performRequest(notificationRouter(&mockNotifications{}, user), http.MethodPut, "/notifications/xyz/read", nil)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestNotificationHandler_StoreErrorGoesThroughErrorHandler(t *testing.T) {
	user := newActor(models.RoleBuyer)
	notifications := &mockNotifications{}
	notifications.On("MarkAllAsRead", mock.Anything, user.ID).Return(assert.AnError).Once()

	w := performRequest(notificationRouter(notifications, user), http.MethodPut, "/notifications/read-all", nil)

	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), assert.AnError.Error())
}

func TestNotificationHandler_CountUnread(t *testing.T) {
	user := newActor(models.RoleBuyer)
	notifications := &mockNotifications{}
	notifications.On("CountUnread", mock.Anything, user.ID).Return(3, nil).Once()

	w := performRequest(notificationRouter(notifications, user), http.MethodGet, "/notifications/unread/count", nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.EqualValues(t, 3, body["count"])
	assert.Equal(t, user.ID.String(), body["user_id"])
}
