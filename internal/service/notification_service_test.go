package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scanmark/scanmark-api/internal/models"
	appErrors "github.com/scanmark/scanmark-api/pkg/errors"
)

type mockNotificationRepo struct {
	logs []models.NotificationLog
}

func (m *mockNotificationRepo) List(ctx context.Context, filter models.NotificationFilter) ([]models.NotificationLog, int, error) {
	var out []models.NotificationLog
	for _, log := range m.logs {
		if log.UserType != filter.UserType || log.UserID != filter.UserID {
			continue
		}
		if filter.UnreadOnly && log.ReadAt != nil {
			continue
		}
		out = append(out, log)
	}
	return out, len(out), nil
}

func (m *mockNotificationRepo) UnreadCount(ctx context.Context, userType models.NotificationUserType, userID string) (int, error) {
	count := 0
	for _, log := range m.logs {
		if log.UserType == userType && log.UserID == userID && log.ReadAt == nil {
			count++
		}
	}
	return count, nil
}

func (m *mockNotificationRepo) MarkRead(ctx context.Context, id string, userType models.NotificationUserType, userID string, readAt time.Time) (bool, error) {
	for i := range m.logs {
		log := &m.logs[i]
		if log.ID == id && log.UserType == userType && log.UserID == userID && log.ReadAt == nil {
			log.ReadAt = &readAt
			return true, nil
		}
	}
	return false, nil
}

func (m *mockNotificationRepo) MarkAllRead(ctx context.Context, userType models.NotificationUserType, userID string, readAt time.Time) (int64, error) {
	var count int64
	for i := range m.logs {
		log := &m.logs[i]
		if log.UserType == userType && log.UserID == userID && log.ReadAt == nil {
			log.ReadAt = &readAt
			count++
		}
	}
	return count, nil
}

func seededNotificationRepo() *mockNotificationRepo {
	read := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	return &mockNotificationRepo{logs: []models.NotificationLog{
		{ID: "n1", UserType: models.NotificationUserStudent, UserID: "s1", Type: "email_sent"},
		{ID: "n2", UserType: models.NotificationUserStudent, UserID: "s1", Type: "email_sent", ReadAt: &read},
		{ID: "n3", UserType: models.NotificationUserTeacher, UserID: "t1", Type: "email_sent"},
	}}
}

func TestNotificationServiceListWithUnreadCount(t *testing.T) {
	svc := NewNotificationService(seededNotificationRepo(), zap.NewNop(), nil)

	list, total, err := svc.List(context.Background(), models.NotificationFilter{
		UserType: models.NotificationUserStudent,
		UserID:   "s1",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, 1, list.UnreadCount)
}

func TestNotificationServiceMarkReadOnce(t *testing.T) {
	repo := seededNotificationRepo()
	svc := NewNotificationService(repo, zap.NewNop(), nil)

	err := svc.MarkRead(context.Background(), "n1", models.NotificationUserStudent, "s1")
	require.NoError(t, err)

	err = svc.MarkRead(context.Background(), "n1", models.NotificationUserStudent, "s1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestNotificationServiceMarkReadScopedToOwner(t *testing.T) {
	svc := NewNotificationService(seededNotificationRepo(), zap.NewNop(), nil)

	err := svc.MarkRead(context.Background(), "n3", models.NotificationUserStudent, "s1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestNotificationServiceMarkAllRead(t *testing.T) {
	repo := seededNotificationRepo()
	svc := NewNotificationService(repo, zap.NewNop(), nil)

	count, err := svc.MarkAllRead(context.Background(), models.NotificationUserStudent, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	unread, err := repo.UnreadCount(context.Background(), models.NotificationUserStudent, "s1")
	require.NoError(t, err)
	assert.Zero(t, unread)
}

func TestUserTypeForRole(t *testing.T) {
	assert.Equal(t, models.NotificationUserStudent, UserTypeForRole(models.RoleStudent))
	assert.Equal(t, models.NotificationUserTeacher, UserTypeForRole(models.RoleTeacher))
}
