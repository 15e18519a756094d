package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/scanmark/scanmark-api/internal/models"
	appErrors "github.com/scanmark/scanmark-api/pkg/errors"
)

const checkInTimeFormat = "3:04 PM"

type sessionRepository interface {
	Create(ctx context.Context, session *models.AttendanceSession) error
	FindByID(ctx context.Context, id string) (*models.AttendanceSession, error)
	FindActiveByClass(ctx context.Context, classID string) (*models.AttendanceSession, error)
	EndActiveByClass(ctx context.Context, classID string, endedAt time.Time) (int64, error)
	End(ctx context.Context, id string, endedAt time.Time) (bool, error)
}

type sessionClassRepository interface {
	FindByID(ctx context.Context, id string) (*models.Class, error)
}

type sessionRecordRepository interface {
	LiveRows(ctx context.Context, sessionID string) ([]models.LiveAttendanceRow, error)
	MissingStudentIDs(ctx context.Context, sessionID string) ([]string, error)
	BackfillAbsent(ctx context.Context, sessionID string, studentIDs []string) ([]string, error)
}

type sessionStudentRepository interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

// SessionService drives the attendance session lifecycle.
type SessionService struct {
	sessions  sessionRepository
	classes   sessionClassRepository
	records   sessionRecordRepository
	students  sessionStudentRepository
	notifier  *NotifierService
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	clock     Clock
	location  *time.Location
}

// NewSessionService constructs the service. A nil clock falls back to
// time.Now and a nil location to UTC.
func NewSessionService(
	sessions sessionRepository,
	classes sessionClassRepository,
	records sessionRecordRepository,
	students sessionStudentRepository,
	notifier *NotifierService,
	cache *CacheService,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
	clock Clock,
	location *time.Location,
) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if location == nil {
		location = time.UTC
	}
	return &SessionService{
		sessions:  sessions,
		classes:   classes,
		records:   records,
		students:  students,
		notifier:  notifier,
		cache:     cache,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		clock:     defaultClock(clock),
		location:  location,
	}
}

// Start opens a new attendance session for a class. Any session still active
// for the class is ended first, so at most one is ever accepting scans. The
// session stops accepting scans at started_at plus the hard three hour
// ceiling regardless of the configured grace window.
func (s *SessionService) Start(ctx context.Context, classID, teacherID string, req models.StartSessionRequest) (*models.AttendanceSession, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "duration_minutes must be between 1 and 180")
	}

	class, err := s.loadOwnedClass(ctx, classID, teacherID)
	if err != nil {
		return nil, err
	}

	now := s.clock().UTC()
	if _, err := s.sessions.EndActiveByClass(ctx, class.ID, now); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to close previous sessions")
	}

	session := &models.AttendanceSession{
		ClassID:         class.ID,
		DurationMinutes: req.DurationMinutes,
		StartedAt:       now,
		EndsAt:          now.Add(models.SessionMaxLifetime),
		Status:          models.SessionStatusActive,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create session")
	}

	s.metrics.RecordSessionEvent("started")
	s.invalidateLive(ctx, session.ID)
	s.logger.Info("attendance session started",
		zap.String("session_id", session.ID),
		zap.String("class_id", class.ID),
		zap.Int("duration_minutes", req.DurationMinutes))
	return session, nil
}

// End closes a session and backfills absences for enrolled students without
// a record. Ending an already-ended session is a no-op that reports zero
// absences; the status guard on the UPDATE makes the backfill run at most
// once no matter how many end requests race.
func (s *SessionService) End(ctx context.Context, sessionID, teacherID string) (*models.EndSessionResponse, error) {
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}

	class, err := s.loadOwnedClass(ctx, session.ClassID, teacherID)
	if err != nil {
		return nil, err
	}

	now := s.clock().UTC()
	ended, err := s.sessions.End(ctx, session.ID, now)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to end session")
	}
	if !ended {
		return &models.EndSessionResponse{Session: session, AbsentCount: 0}, nil
	}

	session.Status = models.SessionStatusEnded
	session.EndedAt = &now

	missing, err := s.records.MissingStudentIDs(ctx, session.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve absent students")
	}
	backfilled, err := s.records.BackfillAbsent(ctx, session.ID, missing)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to backfill absences")
	}

	s.metrics.RecordSessionEvent("ended")
	s.invalidateLive(ctx, session.ID)
	s.notifyAbsent(ctx, class, backfilled)

	s.logger.Info("attendance session ended",
		zap.String("session_id", session.ID),
		zap.String("class_id", class.ID),
		zap.Int("absent_count", len(backfilled)))
	return &models.EndSessionResponse{Session: session, AbsentCount: len(backfilled)}, nil
}

// Live returns the roster of a session joined with its records plus counts.
// The snapshot is cached briefly so a teacher dashboard polling every few
// seconds does not hammer the database.
func (s *SessionService) Live(ctx context.Context, sessionID, teacherID string) (*models.LiveAttendance, error) {
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}

	if _, err := s.loadOwnedClass(ctx, session.ClassID, teacherID); err != nil {
		return nil, err
	}

	cacheKey := liveCacheKey(session.ID)
	if s.cache.Enabled() {
		var cached models.LiveAttendance
		if hit, _ := s.cache.Get(ctx, cacheKey, &cached); hit {
			return &cached, nil
		}
	}

	rows, err := s.records.LiveRows(ctx, session.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load live attendance")
	}

	stats := models.LiveAttendanceStats{Total: len(rows)}
	for i := range rows {
		if rows[i].CheckedInAt != nil {
			rows[i].CheckedIn = rows[i].CheckedInAt.In(s.location).Format(checkInTimeFormat)
		}
		switch rows[i].Status {
		case models.RecordStatusPresent:
			stats.Present++
		case models.RecordStatusLate:
			stats.Late++
		default:
			stats.Absent++
		}
	}

	live := &models.LiveAttendance{Session: session, Records: rows, Stats: stats}
	if s.cache.Enabled() {
		_ = s.cache.Set(ctx, cacheKey, live, 0)
	}
	return live, nil
}

// ActiveForClass returns the class's session that is still accepting scans,
// or a not-found error when there is none.
func (s *SessionService) ActiveForClass(ctx context.Context, classID string) (*models.AttendanceSession, error) {
	session, err := s.sessions.FindActiveByClass(ctx, classID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no active session for class")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load active session")
	}
	if !session.IsActive(s.clock().UTC()) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no active session for class")
	}
	return session, nil
}

// InvalidateLive drops the cached snapshot for a session.
func (s *SessionService) InvalidateLive(ctx context.Context, sessionID string) {
	s.invalidateLive(ctx, sessionID)
}

func (s *SessionService) invalidateLive(ctx context.Context, sessionID string) {
	if s.cache.Enabled() {
		_ = s.cache.Invalidate(ctx, liveCacheKey(sessionID))
	}
}

func (s *SessionService) loadOwnedClass(ctx context.Context, classID, teacherID string) (*models.Class, error) {
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

func (s *SessionService) notifyAbsent(ctx context.Context, class *models.Class, studentIDs []string) {
	if s.notifier == nil {
		return
	}
	for _, studentID := range studentIDs {
		student, err := s.students.FindByID(ctx, studentID)
		if err != nil {
			s.logger.Warn("failed to load student for absence notification",
				zap.String("student_id", studentID), zap.Error(err))
			continue
		}
		parentEmail := ""
		if student.ParentEmail != nil {
			parentEmail = *student.ParentEmail
		}
		s.notifier.NotifyParent(ctx, ParentNotification{
			ParentEmail:   parentEmail,
			StudentID:     student.ID,
			StudentName:   student.FullName(),
			TeacherUserID: class.TeacherID,
			ClassName:     class.DisplayName(),
			Status:        models.RecordStatusAbsent,
		})
	}
}

func liveCacheKey(sessionID string) string {
	return fmt.Sprintf("attendance:live:%s", sessionID)
}
