package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/scanmark/scanmark-api/internal/models"
	"github.com/scanmark/scanmark-api/pkg/mailer"
)

type notifierLogRepository interface {
	Create(ctx context.Context, log *models.NotificationLog) error
}

// NotifyResult reports the outcome of a parent notification attempt. It is a
// plain value, never an error: notification failures must not abort the
// check-in or session transition that triggered them.
type NotifyResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ParentNotification carries everything needed to email a parent and to log
// the attempt for both the student and the owning teacher.
type ParentNotification struct {
	ParentEmail   string
	StudentID     string
	StudentName   string
	TeacherUserID string
	ClassName     string
	Status        models.RecordStatus
	CheckedInAt   string
}

// NotifierService records attendance events in the notification log and
// dispatches best-effort parent emails for them.
type NotifierService struct {
	mailer  mailer.Mailer
	logs    notifierLogRepository
	metrics *MetricsService
	logger  *zap.Logger
	enabled bool
}

// NewNotifierService constructs the dispatcher. With enabled false or a nil
// mailer the email dispatch is skipped; event log writes still happen.
func NewNotifierService(m mailer.Mailer, logs notifierLogRepository, metrics *MetricsService, logger *zap.Logger, enabled bool) *NotifierService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotifierService{mailer: m, logs: logs, metrics: metrics, logger: logger, enabled: enabled}
}

// NotifyParent records the attendance event in the student's and the owning
// teacher's notification feed, then emails the parent when a contact is on
// file and mail is enabled. The event log write is unconditional; only the
// email attempt depends on the parent contact. All failures are captured in
// the result and the logs; none propagate.
func (s *NotifierService) NotifyParent(ctx context.Context, n ParentNotification) NotifyResult {
	s.recordEvent(ctx, n)

	if !s.enabled || s.mailer == nil || n.ParentEmail == "" {
		s.metrics.RecordMailResult("skipped")
		return NotifyResult{Success: false, Error: "notification skipped"}
	}

	subject, body := s.compose(n)
	result := NotifyResult{Success: true}
	if err := s.mailer.Send(mailer.Message{To: n.ParentEmail, Subject: subject, Body: body}); err != nil {
		result = NotifyResult{Success: false, Error: err.Error()}
		s.logger.Warn("parent notification failed",
			zap.String("student_id", n.StudentID),
			zap.String("recipient", n.ParentEmail),
			zap.Error(err))
		s.metrics.RecordMailResult("failed")
	} else {
		s.metrics.RecordMailResult("sent")
	}

	s.record(ctx, n, result)
	return result
}

func (s *NotifierService) compose(n ParentNotification) (string, string) {
	switch n.Status {
	case models.RecordStatusAbsent:
		subject := fmt.Sprintf("Attendance notice: %s marked absent", n.StudentName)
		body := fmt.Sprintf("Good day,\n\n%s was marked absent in %s.\n\nIf this is unexpected, please reach out to the class teacher.", n.StudentName, n.ClassName)
		return subject, body
	case models.RecordStatusLate:
		subject := fmt.Sprintf("Attendance notice: %s checked in late", n.StudentName)
		body := fmt.Sprintf("Good day,\n\n%s checked in late to %s at %s.", n.StudentName, n.ClassName, n.CheckedInAt)
		return subject, body
	default:
		subject := fmt.Sprintf("Attendance notice: %s checked in", n.StudentName)
		body := fmt.Sprintf("Good day,\n\n%s checked in to %s at %s.", n.StudentName, n.ClassName, n.CheckedInAt)
		return subject, body
	}
}

// recordEvent appends the attendance event itself to the student's and the
// owning teacher's feed. This runs on every scan and every absence backfill,
// whether or not a parent email goes out.
func (s *NotifierService) recordEvent(ctx context.Context, n ParentNotification) {
	var title, message string
	switch n.Status {
	case models.RecordStatusAbsent:
		title = fmt.Sprintf("%s marked absent", n.StudentName)
		message = fmt.Sprintf("%s was marked absent in %s", n.StudentName, n.ClassName)
	case models.RecordStatusLate:
		title = fmt.Sprintf("%s checked in late", n.StudentName)
		message = fmt.Sprintf("%s checked in late to %s at %s", n.StudentName, n.ClassName, n.CheckedInAt)
	default:
		title = fmt.Sprintf("%s checked in", n.StudentName)
		message = fmt.Sprintf("%s checked in to %s at %s", n.StudentName, n.ClassName, n.CheckedInAt)
	}

	meta := models.NotificationMeta{
		"student_name": n.StudentName,
		"class_name":   n.ClassName,
		"status":       string(n.Status),
	}
	if n.CheckedInAt != "" {
		meta["checked_in_at"] = n.CheckedInAt
	}

	s.append(ctx, n, "attendance", title, message, meta, models.NotificationStatusSuccess)
}

func (s *NotifierService) record(ctx context.Context, n ParentNotification, result NotifyResult) {
	logType := "email_sent"
	status := models.NotificationStatusSuccess
	if !result.Success {
		logType = "email_failed"
		status = models.NotificationStatusFailed
	}

	meta := models.NotificationMeta{
		"recipient":    n.ParentEmail,
		"student_name": n.StudentName,
		"class_name":   n.ClassName,
		"status":       string(n.Status),
	}
	if n.CheckedInAt != "" {
		meta["checked_in_at"] = n.CheckedInAt
	}
	if result.Error != "" {
		meta["error"] = result.Error
	}

	title := fmt.Sprintf("Parent notification for %s", n.StudentName)
	message := fmt.Sprintf("Parent email to %s (%s in %s)", n.ParentEmail, n.Status, n.ClassName)

	s.append(ctx, n, logType, title, message, meta, status)
}

func (s *NotifierService) append(ctx context.Context, n ParentNotification, logType, title, message string, meta models.NotificationMeta, status models.NotificationStatus) {
	if s.logs == nil {
		return
	}

	entries := []*models.NotificationLog{
		{
			UserType: models.NotificationUserStudent,
			UserID:   n.StudentID,
			Type:     logType,
			Title:    title,
			Message:  message,
			Metadata: meta,
			Status:   status,
		},
		{
			UserType: models.NotificationUserTeacher,
			UserID:   n.TeacherUserID,
			Type:     logType,
			Title:    title,
			Message:  message,
			Metadata: meta,
			Status:   status,
		},
	}
	for _, entry := range entries {
		if err := s.logs.Create(ctx, entry); err != nil {
			s.logger.Warn("failed to write notification log",
				zap.String("user_type", string(entry.UserType)),
				zap.String("user_id", entry.UserID),
				zap.Error(err))
		}
	}
}
