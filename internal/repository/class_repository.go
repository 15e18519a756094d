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

// ClassRepository provides database access for classes and enrollments.
type ClassRepository struct {
	db *sqlx.DB
}

// NewClassRepository constructs the repository.
func NewClassRepository(db *sqlx.DB) *ClassRepository {
	return &ClassRepository{db: db}
}

const classColumns = `id, teacher_id, class_code, class_name, subject_name, schedule, room, created_at, updated_at`

// Create inserts a new class.
func (r *ClassRepository) Create(ctx context.Context, class *models.Class) error {
	if class.ID == "" {
		class.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if class.CreatedAt.IsZero() {
		class.CreatedAt = now
	}
	class.UpdatedAt = now

	const query = `INSERT INTO classes (id, teacher_id, class_code, class_name, subject_name, schedule, room, created_at, updated_at)
VALUES (:id, :teacher_id, :class_code, :class_name, :subject_name, :schedule, :room, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, class); err != nil {
		return fmt.Errorf("create class: %w", err)
	}
	return nil
}

// FindByID returns a class by identifier.
func (r *ClassRepository) FindByID(ctx context.Context, id string) (*models.Class, error) {
	query := fmt.Sprintf(`SELECT %s FROM classes WHERE id = $1 LIMIT 1`, classColumns)
	var class models.Class
	if err := r.db.GetContext(ctx, &class, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find class by id: %w", err)
	}
	return &class, nil
}

// List returns classes matching the filter with total count.
func (r *ClassRepository) List(ctx context.Context, filter models.ClassFilter) ([]models.Class, int, error) {
	baseQuery := `FROM classes WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.TeacherID != "" {
		conditions = append(conditions, fmt.Sprintf("teacher_id = $%d", len(args)+1))
		args = append(args, filter.TeacherID)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(class_code) LIKE $%d OR LOWER(subject_name) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]bool{
		"class_code":   true,
		"subject_name": true,
		"created_at":   true,
	}
	if !allowedSorts[sortBy] {
		sortBy = "created_at"
	}
	sortOrder := strings.ToUpper(filter.SortOrder)
	if sortOrder != "ASC" && sortOrder != "DESC" {
		sortOrder = "DESC"
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

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", classColumns, baseQuery, sortBy, sortOrder, pageSize, offset)

	var classes []models.Class
	if err := r.db.SelectContext(ctx, &classes, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list classes: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count classes: %w", err)
	}

	return classes, total, nil
}

// Update persists mutable fields of a class.
func (r *ClassRepository) Update(ctx context.Context, class *models.Class) error {
	class.UpdatedAt = time.Now().UTC()
	const query = `UPDATE classes SET class_code = :class_code, class_name = :class_name, subject_name = :subject_name, schedule = :schedule, room = :room, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, class); err != nil {
		return fmt.Errorf("update class: %w", err)
	}
	return nil
}

// Delete removes a class. Sessions and records cascade at the database level.
func (r *ClassRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM classes WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete class: %w", err)
	}
	return nil
}

// Enroll adds a student to a class. Returns true when a new enrollment row
// was created, false when the student was already enrolled.
func (r *ClassRepository) Enroll(ctx context.Context, classID, studentID string) (bool, error) {
	const query = `INSERT INTO class_students (class_id, student_id, created_at)
VALUES ($1, $2, $3)
ON CONFLICT (class_id, student_id) DO NOTHING RETURNING class_id`
	var inserted string
	err := r.db.QueryRowxContext(ctx, query, classID, studentID, time.Now().UTC()).Scan(&inserted)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("enroll student: %w", err)
	}
	return true, nil
}

// IsEnrolled reports whether a student belongs to a class.
func (r *ClassRepository) IsEnrolled(ctx context.Context, classID, studentID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM class_students WHERE class_id = $1 AND student_id = $2)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, classID, studentID); err != nil {
		return false, fmt.Errorf("check enrollment: %w", err)
	}
	return exists, nil
}

// Roster lists students enrolled in a class.
func (r *ClassRepository) Roster(ctx context.Context, classID string) ([]models.ClassRosterRow, error) {
	const query = `SELECT s.id AS student_id, s.student_code, s.first_name, s.last_name, s.course, s.year_level, s.section, cs.created_at AS enrolled_at
FROM class_students cs
JOIN students s ON s.id = cs.student_id
WHERE cs.class_id = $1
ORDER BY s.last_name ASC, s.first_name ASC`
	var rows []models.ClassRosterRow
	if err := r.db.SelectContext(ctx, &rows, query, classID); err != nil {
		return nil, fmt.Errorf("class roster: %w", err)
	}
	return rows, nil
}

// ListForStudent returns the classes a student is enrolled in.
func (r *ClassRepository) ListForStudent(ctx context.Context, studentID string) ([]models.Class, error) {
	const query = `SELECT c.id, c.teacher_id, c.class_code, c.class_name, c.subject_name, c.schedule, c.room, c.created_at, c.updated_at
FROM classes c
JOIN class_students cs ON cs.class_id = c.id
WHERE cs.student_id = $1
ORDER BY c.class_code ASC`
	var classes []models.Class
	if err := r.db.SelectContext(ctx, &classes, query, studentID); err != nil {
		return nil, fmt.Errorf("list classes for student: %w", err)
	}
	return classes, nil
}

// EnrolledCount returns the number of students enrolled in a class.
func (r *ClassRepository) EnrolledCount(ctx context.Context, classID string) (int, error) {
	const query = `SELECT COUNT(*) FROM class_students WHERE class_id = $1`
	var count int
	if err := r.db.GetContext(ctx, &count, query, classID); err != nil {
		return 0, fmt.Errorf("count enrollment: %w", err)
	}
	return count, nil
}
