package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/scanmark/scanmark-api/internal/models"
)

// NotificationRepository persists notification log entries.
type NotificationRepository struct {
	db *sqlx.DB
}

// NewNotificationRepository constructs the repository.
func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create appends a notification log entry. Entries are never updated apart
// from read_at.
func (r *NotificationRepository) Create(ctx context.Context, log *models.NotificationLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO notification_logs (id, user_type, user_id, type, title, message, metadata, status, read_at, created_at)
VALUES (:id, :user_type, :user_id, :type, :title, :message, :metadata, :status, :read_at, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, log); err != nil {
		return fmt.Errorf("create notification log: %w", err)
	}
	return nil
}

// List returns notifications for a user, newest first, with total count.
func (r *NotificationRepository) List(ctx context.Context, filter models.NotificationFilter) ([]models.NotificationLog, int, error) {
	base := `FROM notification_logs WHERE user_type = $1 AND user_id = $2`
	args := []interface{}{filter.UserType, filter.UserID}
	var conditions []string
	if filter.UnreadOnly {
		conditions = append(conditions, "read_at IS NULL")
	}
	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	query := fmt.Sprintf(`SELECT id, user_type, user_id, type, title, message, metadata, status, read_at, created_at
%s ORDER BY created_at DESC LIMIT %d OFFSET %d`, base, pageSize, offset)

	var logs []models.NotificationLog
	if err := r.db.SelectContext(ctx, &logs, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}
	return logs, total, nil
}

// UnreadCount returns the number of unread notifications for a user.
func (r *NotificationRepository) UnreadCount(ctx context.Context, userType models.NotificationUserType, userID string) (int, error) {
	const query = `SELECT COUNT(*) FROM notification_logs WHERE user_type = $1 AND user_id = $2 AND read_at IS NULL`
	var count int
	if err := r.db.GetContext(ctx, &count, query, userType, userID); err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

// MarkRead stamps read_at on a single notification owned by the user.
func (r *NotificationRepository) MarkRead(ctx context.Context, id string, userType models.NotificationUserType, userID string, readAt time.Time) (bool, error) {
	const query = `UPDATE notification_logs SET read_at = $4 WHERE id = $1 AND user_type = $2 AND user_id = $3 AND read_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, id, userType, userID, readAt)
	if err != nil {
		return false, fmt.Errorf("mark notification read: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark notification read rows affected: %w", err)
	}
	return affected > 0, nil
}

// MarkAllRead stamps read_at on every unread notification of the user.
func (r *NotificationRepository) MarkAllRead(ctx context.Context, userType models.NotificationUserType, userID string, readAt time.Time) (int64, error) {
	const query = `UPDATE notification_logs SET read_at = $3 WHERE user_type = $1 AND user_id = $2 AND read_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, userType, userID, readAt)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read rows affected: %w", err)
	}
	return affected, nil
}
