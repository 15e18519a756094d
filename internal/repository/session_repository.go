package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/scanmark/scanmark-api/internal/models"
)

// SessionRepository provides database access for attendance sessions.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository constructs the repository.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `id, class_id, duration_minutes, started_at, ends_at, ended_at, status, created_at, updated_at`

// Create inserts a new attendance session.
func (r *SessionRepository) Create(ctx context.Context, session *models.AttendanceSession) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now

	const query = `INSERT INTO attendance_sessions (id, class_id, duration_minutes, started_at, ends_at, ended_at, status, created_at, updated_at)
VALUES (:id, :class_id, :duration_minutes, :started_at, :ends_at, :ended_at, :status, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, session); err != nil {
		return fmt.Errorf("create attendance session: %w", err)
	}
	return nil
}

// FindByID returns a session by identifier.
func (r *SessionRepository) FindByID(ctx context.Context, id string) (*models.AttendanceSession, error) {
	query := fmt.Sprintf(`SELECT %s FROM attendance_sessions WHERE id = $1 LIMIT 1`, sessionColumns)
	var session models.AttendanceSession
	if err := r.db.GetContext(ctx, &session, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find attendance session: %w", err)
	}
	return &session, nil
}

// FindActiveByClass returns the newest session still marked active for a class.
func (r *SessionRepository) FindActiveByClass(ctx context.Context, classID string) (*models.AttendanceSession, error) {
	query := fmt.Sprintf(`SELECT %s FROM attendance_sessions WHERE class_id = $1 AND status = 'active' ORDER BY started_at DESC LIMIT 1`, sessionColumns)
	var session models.AttendanceSession
	if err := r.db.GetContext(ctx, &session, query, classID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find active session: %w", err)
	}
	return &session, nil
}

// EndActiveByClass closes every active session of a class in one statement
// and returns how many rows were affected. Called before a new session starts
// so at most one session per class is ever active.
func (r *SessionRepository) EndActiveByClass(ctx context.Context, classID string, endedAt time.Time) (int64, error) {
	const query = `UPDATE attendance_sessions SET status = 'ended', ended_at = $2, updated_at = $2 WHERE class_id = $1 AND status = 'active'`
	res, err := r.db.ExecContext(ctx, query, classID, endedAt)
	if err != nil {
		return 0, fmt.Errorf("end active sessions: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("end active sessions rows affected: %w", err)
	}
	return affected, nil
}

// End marks a single session ended if it is still active. Returns true when
// this call performed the transition, false when the session was already ended.
func (r *SessionRepository) End(ctx context.Context, id string, endedAt time.Time) (bool, error) {
	const query = `UPDATE attendance_sessions SET status = 'ended', ended_at = $2, updated_at = $2 WHERE id = $1 AND status = 'active'`
	res, err := r.db.ExecContext(ctx, query, id, endedAt)
	if err != nil {
		return false, fmt.Errorf("end attendance session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("end attendance session rows affected: %w", err)
	}
	return affected > 0, nil
}

// ListByClass returns sessions of a class, newest first.
func (r *SessionRepository) ListByClass(ctx context.Context, classID string, limit int) ([]models.AttendanceSession, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query := fmt.Sprintf(`SELECT %s FROM attendance_sessions WHERE class_id = $1 ORDER BY started_at DESC LIMIT $2`, sessionColumns)
	var sessions []models.AttendanceSession
	if err := r.db.SelectContext(ctx, &sessions, query, classID, limit); err != nil {
		return nil, fmt.Errorf("list sessions by class: %w", err)
	}
	return sessions, nil
}
