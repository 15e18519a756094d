package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/scanmark/scanmark-api/internal/models"
	appErrors "github.com/scanmark/scanmark-api/pkg/errors"
)

type studentRepository interface {
	FindByUserID(ctx context.Context, userID string) (*models.Student, error)
	History(ctx context.Context, studentID string, from, to *time.Time) ([]models.AttendanceHistoryRow, error)
}

type studentClassRepository interface {
	ListForStudent(ctx context.Context, studentID string) ([]models.Class, error)
}

// StudentService serves a student's own profile, classes and history.
type StudentService struct {
	students studentRepository
	classes  studentClassRepository
	logger   *zap.Logger
}

// NewStudentService constructs the service.
func NewStudentService(students studentRepository, classes studentClassRepository, logger *zap.Logger) *StudentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentService{students: students, classes: classes, logger: logger}
}

// Profile returns the student profile for the authenticated user.
func (s *StudentService) Profile(ctx context.Context, userID string) (*models.Student, error) {
	return s.loadByUser(ctx, userID)
}

// Classes lists the classes the student is enrolled in.
func (s *StudentService) Classes(ctx context.Context, userID string) ([]models.Class, error) {
	student, err := s.loadByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	classes, err := s.classes.ListForStudent(ctx, student.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list classes")
	}
	return classes, nil
}

// History returns the student's attendance rows, newest first, optionally
// bounded by a date range.
func (s *StudentService) History(ctx context.Context, userID string, from, to *time.Time) ([]models.AttendanceHistoryRow, error) {
	student, err := s.loadByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	rows, err := s.students.History(ctx, student.ID, from, to)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attendance history")
	}
	return rows, nil
}

func (s *StudentService) loadByUser(ctx context.Context, userID string) (*models.Student, error) {
	student, err := s.students.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student profile not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return student, nil
}
