package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/scanmark/scanmark-api/internal/models"
)

// RecordRepository provides database access for attendance records.
type RecordRepository struct {
	db *sqlx.DB
}

// NewRecordRepository constructs the repository.
func NewRecordRepository(db *sqlx.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

const recordColumns = `id, session_id, student_id, checked_in_at, status, created_at, updated_at`

// Insert writes a new record for (session, student). Returns true when the
// row landed, false when a record already existed; the first write wins and
// the stored row is never touched on conflict.
func (r *RecordRepository) Insert(ctx context.Context, record *models.AttendanceRecord) (bool, error) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	const query = `INSERT INTO attendance_records (id, session_id, student_id, checked_in_at, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (session_id, student_id) DO NOTHING RETURNING id`
	var insertedID string
	err := r.db.QueryRowxContext(ctx, query, record.ID, record.SessionID, record.StudentID, record.CheckedInAt, record.Status, record.CreatedAt, record.UpdatedAt).Scan(&insertedID)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("insert attendance record: %w", err)
	}
	return true, nil
}

// FindBySessionAndStudent returns the record for a student in a session.
func (r *RecordRepository) FindBySessionAndStudent(ctx context.Context, sessionID, studentID string) (*models.AttendanceRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM attendance_records WHERE session_id = $1 AND student_id = $2 LIMIT 1`, recordColumns)
	var record models.AttendanceRecord
	if err := r.db.GetContext(ctx, &record, query, sessionID, studentID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find attendance record: %w", err)
	}
	return &record, nil
}

// LiveRows joins the class roster with session records. Students without a
// record show as absent with has_checked_in false.
func (r *RecordRepository) LiveRows(ctx context.Context, sessionID string) ([]models.LiveAttendanceRow, error) {
	const query = `SELECT s.id AS student_id, s.student_code,
s.first_name || ' ' || s.last_name AS student_name,
ar.id IS NOT NULL AND ar.checked_in_at IS NOT NULL AS has_checked_in,
ar.checked_in_at,
COALESCE(ar.status, 'absent') AS status
FROM attendance_sessions sess
JOIN class_students cs ON cs.class_id = sess.class_id
JOIN students s ON s.id = cs.student_id
LEFT JOIN attendance_records ar ON ar.session_id = sess.id AND ar.student_id = s.id
WHERE sess.id = $1
ORDER BY s.last_name ASC, s.first_name ASC`
	var rows []models.LiveAttendanceRow
	if err := r.db.SelectContext(ctx, &rows, query, sessionID); err != nil {
		return nil, fmt.Errorf("live attendance rows: %w", err)
	}
	return rows, nil
}

// MissingStudentIDs returns enrolled students with no record for the session.
func (r *RecordRepository) MissingStudentIDs(ctx context.Context, sessionID string) ([]string, error) {
	const query = `SELECT cs.student_id
FROM attendance_sessions sess
JOIN class_students cs ON cs.class_id = sess.class_id
LEFT JOIN attendance_records ar ON ar.session_id = sess.id AND ar.student_id = cs.student_id
WHERE sess.id = $1 AND ar.id IS NULL`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, sessionID); err != nil {
		return nil, fmt.Errorf("missing students for session: %w", err)
	}
	return ids, nil
}

// BackfillAbsent inserts absent records for the given students and returns
// the ids whose insert actually landed. Students that scanned between the
// roster read and this write conflict away silently, so the count stays
// honest under concurrent check-ins.
func (r *RecordRepository) BackfillAbsent(ctx context.Context, sessionID string, studentIDs []string) ([]string, error) {
	if len(studentIDs) == 0 {
		return nil, nil
	}
	const query = `INSERT INTO attendance_records (id, session_id, student_id, checked_in_at, status, created_at, updated_at)
VALUES ($1, $2, $3, NULL, 'absent', $4, $4)
ON CONFLICT (session_id, student_id) DO NOTHING RETURNING student_id`
	now := time.Now().UTC()
	inserted := make([]string, 0, len(studentIDs))
	for _, studentID := range studentIDs {
		var landed string
		err := r.db.QueryRowxContext(ctx, query, uuid.NewString(), sessionID, studentID, now).Scan(&landed)
		if err != nil {
			if err == sql.ErrNoRows {
				continue
			}
			return nil, fmt.Errorf("backfill absent record: %w", err)
		}
		inserted = append(inserted, landed)
	}
	return inserted, nil
}

// ReportRows returns teacher-facing report rows. The date column falls back
// to the session start when the record has no check-in time.
func (r *RecordRepository) ReportRows(ctx context.Context, filter models.AttendanceReportFilter) ([]models.AttendanceReportRow, int, error) {
	base := `FROM attendance_records ar
JOIN attendance_sessions sess ON sess.id = ar.session_id
JOIN classes c ON c.id = sess.class_id
JOIN students s ON s.id = ar.student_id`
	where := []string{"c.teacher_id = $1"}
	args := []interface{}{filter.TeacherID}
	if filter.ClassID != "" {
		where = append(where, fmt.Sprintf("c.id = $%d", len(args)+1))
		args = append(args, filter.ClassID)
	}
	if filter.DateFrom != nil {
		where = append(where, fmt.Sprintf("COALESCE(ar.checked_in_at, sess.started_at) >= $%d", len(args)+1))
		args = append(args, *filter.DateFrom)
	}
	if filter.DateTo != nil {
		// date_to names a day; the bound is the following midnight so the
		// whole day is included.
		where = append(where, fmt.Sprintf("COALESCE(ar.checked_in_at, sess.started_at) < $%d", len(args)+1))
		args = append(args, filter.DateTo.Add(24*time.Hour))
	}
	whereClause := strings.Join(where, " AND ")

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 500 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	query := fmt.Sprintf(`SELECT s.first_name || ' ' || s.last_name AS student_name, s.student_code,
COALESCE(NULLIF(c.class_name, ''), c.class_code || ' - ' || c.subject_name) AS class_name,
COALESCE(ar.checked_in_at, sess.started_at) AS date, ar.status
%s WHERE %s
ORDER BY COALESCE(ar.checked_in_at, sess.started_at) DESC
LIMIT %d OFFSET %d`, base, whereClause, pageSize, offset)

	var rows []models.AttendanceReportRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("attendance report rows: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s WHERE %s", base, whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count attendance report rows: %w", err)
	}
	return rows, total, nil
}

// ClassSummaries aggregates record counts per class for a teacher.
func (r *RecordRepository) ClassSummaries(ctx context.Context, teacherID string) ([]models.ClassAttendanceSummaryRow, error) {
	const query = `SELECT c.id AS class_id,
COALESCE(NULLIF(c.class_name, ''), c.class_code || ' - ' || c.subject_name) AS class_name,
COUNT(DISTINCT sess.id) AS sessions,
COUNT(*) FILTER (WHERE ar.status = 'present') AS present,
COUNT(*) FILTER (WHERE ar.status = 'late') AS late,
COUNT(*) FILTER (WHERE ar.status = 'absent') AS absent,
COUNT(ar.id) AS total_scans
FROM classes c
JOIN attendance_sessions sess ON sess.class_id = c.id
LEFT JOIN attendance_records ar ON ar.session_id = sess.id
WHERE c.teacher_id = $1
GROUP BY c.id, c.class_name, c.class_code, c.subject_name
ORDER BY class_name ASC`
	var rows []models.ClassAttendanceSummaryRow
	if err := r.db.SelectContext(ctx, &rows, query, teacherID); err != nil {
		return nil, fmt.Errorf("class attendance summaries: %w", err)
	}
	return rows, nil
}
