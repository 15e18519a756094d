package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/scanmark/scanmark-api/internal/models"
	appErrors "github.com/scanmark/scanmark-api/pkg/errors"
)

// clientTimeFormat is the wall-clock layout devices send in X-Client-Time.
const clientTimeFormat = "2006-01-02T15:04:05"

// maxClientTimeSkew is how far ahead of the server a client-reported time may
// be before it is discarded in favor of server time.
const maxClientTimeSkew = time.Hour

type checkinRecordRepository interface {
	Insert(ctx context.Context, record *models.AttendanceRecord) (bool, error)
	FindBySessionAndStudent(ctx context.Context, sessionID, studentID string) (*models.AttendanceRecord, error)
}

type checkinClassRepository interface {
	FindByID(ctx context.Context, id string) (*models.Class, error)
	Enroll(ctx context.Context, classID, studentID string) (bool, error)
}

type checkinStudentRepository interface {
	FindByUserID(ctx context.Context, userID string) (*models.Student, error)
}

type checkinSessionRepository interface {
	FindByID(ctx context.Context, id string) (*models.AttendanceSession, error)
}

// CheckinService classifies and records QR check-ins.
type CheckinService struct {
	sessions checkinSessionRepository
	classes  checkinClassRepository
	students checkinStudentRepository
	records  checkinRecordRepository
	notifier *NotifierService
	cache    *CacheService
	metrics  *MetricsService
	logger   *zap.Logger
	clock    Clock
	location *time.Location
}

// NewCheckinService constructs the service.
func NewCheckinService(
	sessions checkinSessionRepository,
	classes checkinClassRepository,
	students checkinStudentRepository,
	records checkinRecordRepository,
	notifier *NotifierService,
	cache *CacheService,
	metrics *MetricsService,
	logger *zap.Logger,
	clock Clock,
	location *time.Location,
) *CheckinService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if location == nil {
		location = time.UTC
	}
	return &CheckinService{
		sessions: sessions,
		classes:  classes,
		students: students,
		records:  records,
		notifier: notifier,
		cache:    cache,
		metrics:  metrics,
		logger:   logger,
		clock:    defaultClock(clock),
		location: location,
	}
}

// Scan records a student's check-in against a session. The student is
// auto-enrolled into the class on first contact. A second scan for the same
// session returns the original record untouched. Classification always uses
// server time against the session's grace deadline; the client-reported time
// only decides which timestamp gets stored.
func (s *CheckinService) Scan(ctx context.Context, sessionID, userID, clientTimeHeader string) (*models.ScanResult, error) {
	now := s.clock().UTC()

	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	if !session.IsActive(now) {
		s.metrics.RecordScan("rejected")
		return nil, appErrors.Clone(appErrors.ErrSessionEnded, "this attendance session has ended")
	}

	class, err := s.classes.FindByID(ctx, session.ClassID)
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

	if _, err := s.classes.Enroll(ctx, class.ID, student.ID); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enroll student")
	}

	if existing, err := s.records.FindBySessionAndStudent(ctx, session.ID, student.ID); err == nil {
		s.metrics.RecordScan("duplicate")
		return s.alreadyCheckedIn(existing, class, student), nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up record")
	}

	checkedInAt := s.resolveCheckinTime(now, clientTimeHeader)

	status := models.RecordStatusPresent
	if now.After(session.GraceDeadline()) {
		status = models.RecordStatusLate
	}

	record := &models.AttendanceRecord{
		SessionID:   session.ID,
		StudentID:   student.ID,
		CheckedInAt: &checkedInAt,
		Status:      status,
	}
	inserted, err := s.records.Insert(ctx, record)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save record")
	}
	if !inserted {
		// Lost the race against a concurrent scan. The stored row wins.
		winner, err := s.records.FindBySessionAndStudent(ctx, session.ID, student.ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load winning record")
		}
		s.metrics.RecordScan("duplicate")
		return s.alreadyCheckedIn(winner, class, student), nil
	}

	s.metrics.RecordScan(string(status))
	if s.cache.Enabled() {
		_ = s.cache.Invalidate(ctx, liveCacheKey(session.ID))
	}

	formatted := checkedInAt.In(s.location).Format(checkInTimeFormat)
	if s.notifier != nil {
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
			Status:        status,
			CheckedInAt:   formatted,
		})
	}

	s.logger.Info("check-in recorded",
		zap.String("session_id", session.ID),
		zap.String("student_id", student.ID),
		zap.String("status", string(status)))

	message := fmt.Sprintf("Checked in at %s", formatted)
	if status == models.RecordStatusLate {
		message = fmt.Sprintf("Checked in late at %s", formatted)
	}

	classSummary := class.Summary()
	studentSummary := student.Summary()
	return &models.ScanResult{
		Success:     true,
		Status:      status,
		Message:     message,
		CheckedInAt: formatted,
		Class:       &classSummary,
		Record:      record,
		Student:     &studentSummary,
	}, nil
}

// resolveCheckinTime prefers the device wall clock when it is plausible. A
// client time more than maxClientTimeSkew in the future is discarded; past
// skew goes through unchecked.
func (s *CheckinService) resolveCheckinTime(now time.Time, header string) time.Time {
	if header == "" {
		return now
	}
	parsed, err := time.ParseInLocation(clientTimeFormat, header, s.location)
	if err != nil {
		s.logger.Debug("unparseable client time header", zap.String("value", header))
		return now
	}
	clientTime := parsed.UTC()
	if clientTime.After(now) && clientTime.Sub(now) > maxClientTimeSkew {
		s.logger.Warn("client time too far in the future, using server time",
			zap.Time("client_time", clientTime),
			zap.Time("server_time", now))
		return now
	}
	return clientTime
}

func (s *CheckinService) alreadyCheckedIn(record *models.AttendanceRecord, class *models.Class, student *models.Student) *models.ScanResult {
	formatted := ""
	if record.CheckedInAt != nil {
		formatted = record.CheckedInAt.In(s.location).Format(checkInTimeFormat)
	}
	classSummary := class.Summary()
	studentSummary := student.Summary()
	return &models.ScanResult{
		Success:        true,
		AlreadyScanned: true,
		Status:         record.Status,
		Message:        appErrors.ErrAlreadyCheckedIn.Message,
		CheckedInAt:    formatted,
		Class:          &classSummary,
		Record:         record,
		Student:        &studentSummary,
	}
}
