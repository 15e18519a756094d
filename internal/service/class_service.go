package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/scanmark/scanmark-api/internal/models"
	appErrors "github.com/scanmark/scanmark-api/pkg/errors"
)

type classRepository interface {
	Create(ctx context.Context, class *models.Class) error
	FindByID(ctx context.Context, id string) (*models.Class, error)
	List(ctx context.Context, filter models.ClassFilter) ([]models.Class, int, error)
	Update(ctx context.Context, class *models.Class) error
	Delete(ctx context.Context, id string) error
	Enroll(ctx context.Context, classID, studentID string) (bool, error)
	Roster(ctx context.Context, classID string) ([]models.ClassRosterRow, error)
}

type classStudentRepository interface {
	FindByUserID(ctx context.Context, userID string) (*models.Student, error)
}

// ClassService manages a teacher's classes and student enrollment.
type ClassService struct {
	classes   classRepository
	students  classStudentRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewClassService constructs the service.
func NewClassService(classes classRepository, students classStudentRepository, validate *validator.Validate, logger *zap.Logger) *ClassService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &ClassService{classes: classes, students: students, validator: validate, logger: logger}
}

// Create adds a class owned by the teacher.
func (s *ClassService) Create(ctx context.Context, teacherID string, req models.CreateClassRequest) (*models.Class, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid class payload")
	}

	class := &models.Class{
		TeacherID:   teacherID,
		ClassCode:   req.ClassCode,
		ClassName:   req.ClassName,
		SubjectName: req.SubjectName,
		Schedule:    req.Schedule,
		Room:        req.Room,
	}
	if err := s.classes.Create(ctx, class); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create class")
	}

	s.logger.Info("class created",
		zap.String("class_id", class.ID),
		zap.String("class_code", class.ClassCode))
	return class, nil
}

// Get returns a class owned by the teacher.
func (s *ClassService) Get(ctx context.Context, classID, teacherID string) (*models.Class, error) {
	return s.loadOwned(ctx, classID, teacherID)
}

// List returns the teacher's classes.
func (s *ClassService) List(ctx context.Context, teacherID string, filter models.ClassFilter) ([]models.Class, int, error) {
	filter.TeacherID = teacherID
	classes, total, err := s.classes.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list classes")
	}
	return classes, total, nil
}

// Update applies partial changes to an owned class.
func (s *ClassService) Update(ctx context.Context, classID, teacherID string, req models.UpdateClassRequest) (*models.Class, error) {
	class, err := s.loadOwned(ctx, classID, teacherID)
	if err != nil {
		return nil, err
	}

	if req.ClassCode != nil {
		class.ClassCode = *req.ClassCode
	}
	if req.ClassName != nil {
		class.ClassName = req.ClassName
	}
	if req.SubjectName != nil {
		class.SubjectName = *req.SubjectName
	}
	if req.Schedule != nil {
		class.Schedule = *req.Schedule
	}
	if req.Room != nil {
		class.Room = req.Room
	}

	if err := s.classes.Update(ctx, class); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update class")
	}
	return class, nil
}

// Delete removes an owned class. Sessions and records cascade with it.
func (s *ClassService) Delete(ctx context.Context, classID, teacherID string) error {
	if _, err := s.loadOwned(ctx, classID, teacherID); err != nil {
		return err
	}
	if err := s.classes.Delete(ctx, classID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete class")
	}
	s.logger.Info("class deleted", zap.String("class_id", classID))
	return nil
}

// Roster lists students enrolled in an owned class.
func (s *ClassService) Roster(ctx context.Context, classID, teacherID string) ([]models.ClassRosterRow, error) {
	if _, err := s.loadOwned(ctx, classID, teacherID); err != nil {
		return nil, err
	}
	rows, err := s.classes.Roster(ctx, classID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roster")
	}
	return rows, nil
}

// RegisterStudent enrolls the authenticated student into a class. Enrolling
// twice is a no-op.
func (s *ClassService) RegisterStudent(ctx context.Context, classID, userID string) (*models.Class, error) {
	class, err := s.classes.FindByID(ctx, classID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}

	student, err := s.students.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student profile not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	enrolled, err := s.classes.Enroll(ctx, class.ID, student.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enroll student")
	}
	if enrolled {
		s.logger.Info("student enrolled",
			zap.String("class_id", class.ID),
			zap.String("student_id", student.ID))
	}
	return class, nil
}

func (s *ClassService) loadOwned(ctx context.Context, classID, teacherID string) (*models.Class, error) {
	class, err := s.classes.FindByID(ctx, classID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	if class.TeacherID != teacherID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "class does not belong to teacher")
	}
	return class, nil
}
