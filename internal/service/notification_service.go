package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/scanmark/scanmark-api/internal/models"
	appErrors "github.com/scanmark/scanmark-api/pkg/errors"
)

type notificationRepository interface {
	List(ctx context.Context, filter models.NotificationFilter) ([]models.NotificationLog, int, error)
	UnreadCount(ctx context.Context, userType models.NotificationUserType, userID string) (int, error)
	MarkRead(ctx context.Context, id string, userType models.NotificationUserType, userID string, readAt time.Time) (bool, error)
	MarkAllRead(ctx context.Context, userType models.NotificationUserType, userID string, readAt time.Time) (int64, error)
}

// NotificationService serves the per-user notification log.
type NotificationService struct {
	repo   notificationRepository
	logger *zap.Logger
	clock  Clock
}

// NewNotificationService constructs the service.
func NewNotificationService(repo notificationRepository, logger *zap.Logger, clock Clock) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{repo: repo, logger: logger, clock: defaultClock(clock)}
}

// UserTypeForRole maps an authenticated role onto the notification audience.
func UserTypeForRole(role models.UserRole) models.NotificationUserType {
	if role == models.RoleStudent {
		return models.NotificationUserStudent
	}
	return models.NotificationUserTeacher
}

// List returns a page of the user's notifications plus the unread count and
// the total for pagination.
func (s *NotificationService) List(ctx context.Context, filter models.NotificationFilter) (*models.NotificationList, int, error) {
	logs, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list notifications")
	}
	unread, err := s.repo.UnreadCount(ctx, filter.UserType, filter.UserID)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count unread notifications")
	}
	if logs == nil {
		logs = []models.NotificationLog{}
	}
	return &models.NotificationList{Notifications: logs, UnreadCount: unread}, total, nil
}

// MarkRead stamps a single notification as read. Marking a notification that
// is already read or belongs to someone else reports not found.
func (s *NotificationService) MarkRead(ctx context.Context, id string, userType models.NotificationUserType, userID string) error {
	marked, err := s.repo.MarkRead(ctx, id, userType, userID, s.clock().UTC())
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark notification read")
	}
	if !marked {
		return appErrors.Clone(appErrors.ErrNotFound, "notification not found or already read")
	}
	return nil
}

// MarkAllRead stamps every unread notification of the user and returns how
// many were updated.
func (s *NotificationService) MarkAllRead(ctx context.Context, userType models.NotificationUserType, userID string) (int64, error) {
	count, err := s.repo.MarkAllRead(ctx, userType, userID, s.clock().UTC())
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark notifications read")
	}
	return count, nil
}
