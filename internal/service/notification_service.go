package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/marketplace-settlement/internal/goroutine"
	"github.com/ignatzorin/marketplace-settlement/internal/logger"
	"github.com/ignatzorin/marketplace-settlement/internal/models"
)

// NotificationRepository описывает взаимодействие сервиса с хранилищем уведомлений.
type NotificationRepository interface {
	Create(ctx context.Context, notification *models.Notification) error
	List(ctx context.Context, userID uuid.UUID, limit, offset int, unreadOnly bool) ([]models.Notification, error)
	MarkAsRead(ctx context.Context, userID, id uuid.UUID) error
	MarkAllAsRead(ctx context.Context, userID uuid.UUID) error
	CountUnread(ctx context.Context, userID uuid.UUID) (int, error)
}

// NotificationPusher доставляет событие подключённому пользователю (WebSocket hub).
type NotificationPusher interface {
	Push(userID uuid.UUID, event string, data any) error
}

// Notifier диспетчер уведомлений, которым пользуются саги и выплаты.
type Notifier interface {
	Notify(ctx context.Context, recipient uuid.UUID, template string, data map[string]any)
}

const notifyTimeout = 5 * time.Second

// NotificationService содержит бизнес-логику работы с уведомлениями.
type NotificationService struct {
	repo   NotificationRepository
	pusher NotificationPusher
	// async=false используется в тестах и CLI, где процесс завершается сразу после операции.
	async bool
}

// NewNotificationService создаёт новый сервис уведомлений. pusher может быть nil.
func NewNotificationService(repo NotificationRepository, pusher NotificationPusher) *NotificationService {
	return &NotificationService{repo: repo, pusher: pusher, async: true}
}

// Synchronous переключает доставку в текущую горутину.
func (s *NotificationService) Synchronous() *NotificationService {
	s.async = false
	return s
}

// Notify сохраняет уведомление и отправляет его в WebSocket. Ошибки только логируются:
// уведомление не должно влиять на исход денежной операции.
func (s *NotificationService) Notify(ctx context.Context, recipient uuid.UUID, template string, data map[string]any) {
	if recipient == uuid.Nil {
		return
	}

	deliver := func() {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()

		entry := logger.L().WithFields(logrus.Fields{"recipient": recipient, "template": template})
		if _, err := s.CreateNotification(dctx, recipient, template, data); err != nil {
			entry.WithError(err).Warn("не удалось сохранить уведомление")
		}
		if s.pusher != nil {
			if err := s.pusher.Push(recipient, template, data); err != nil {
				entry.WithError(err).Debug("не удалось отправить уведомление в websocket")
			}
		}
	}

	if s.async {
		goroutine.Go("notification.deliver", deliver)
		return
	}
	deliver()
}

// CreateNotification создаёт новое уведомление.
func (s *NotificationService) CreateNotification(ctx context.Context, userID uuid.UUID, event string, data interface{}) (*models.Notification, error) {
	payload := map[string]interface{}{
		"event": event,
		"data":  data,
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("notification service: marshal payload %w", err)
	}

	notification := &models.Notification{
		UserID:  userID,
		Payload: payloadBytes,
		IsRead:  false,
	}

	if err := s.repo.Create(ctx, notification); err != nil {
		return nil, err
	}

	return notification, nil
}

// ListNotifications возвращает список уведомлений пользователя.
func (s *NotificationService) ListNotifications(ctx context.Context, userID uuid.UUID, limit, offset int, unreadOnly bool) ([]models.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	return s.repo.List(ctx, userID, limit, offset, unreadOnly)
}

// MarkAsRead отмечает уведомление как прочитанное.
func (s *NotificationService) MarkAsRead(ctx context.Context, id uuid.UUID, userID uuid.UUID) error {
	return s.repo.MarkAsRead(ctx, userID, id)
}

// MarkAllAsRead отмечает все уведомления пользователя как прочитанные.
func (s *NotificationService) MarkAllAsRead(ctx context.Context, userID uuid.UUID) error {
	return s.repo.MarkAllAsRead(ctx, userID)
}

// CountUnread возвращает количество непрочитанных уведомлений.
func (s *NotificationService) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.repo.CountUnread(ctx, userID)
}
