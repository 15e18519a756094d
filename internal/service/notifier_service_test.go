package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scanmark/scanmark-api/internal/models"
	"github.com/scanmark/scanmark-api/pkg/mailer"
)

type mockMailer struct {
	sent []mailer.Message
	err  error
}

func (m *mockMailer) Send(msg mailer.Message) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

type mockNotificationLogRepo struct {
	created []*models.NotificationLog
}

func (m *mockNotificationLogRepo) Create(ctx context.Context, log *models.NotificationLog) error {
	m.created = append(m.created, log)
	return nil
}

func TestNotifierSendsAndLogsBothParties(t *testing.T) {
	mail := &mockMailer{}
	logs := &mockNotificationLogRepo{}
	svc := NewNotifierService(mail, logs, nil, zap.NewNop(), true)

	result := svc.NotifyParent(context.Background(), ParentNotification{
		ParentEmail:   "parent@example.com",
		StudentID:     "s1",
		StudentName:   "Alice Reyes",
		TeacherUserID: "t1",
		ClassName:     "CS101 - Intro to CS",
		Status:        models.RecordStatusLate,
		CheckedInAt:   "9:25 AM",
	})

	assert.True(t, result.Success)
	require.Len(t, mail.sent, 1)
	assert.Equal(t, "parent@example.com", mail.sent[0].To)
	assert.Contains(t, mail.sent[0].Subject, "late")

	require.Len(t, logs.created, 4)
	for _, entry := range logs.created[:2] {
		assert.Equal(t, "attendance", entry.Type)
		assert.Equal(t, models.NotificationStatusSuccess, entry.Status)
		assert.Equal(t, "9:25 AM", entry.Metadata["checked_in_at"])
	}
	assert.Equal(t, models.NotificationUserStudent, logs.created[0].UserType)
	assert.Equal(t, models.NotificationUserTeacher, logs.created[1].UserType)
	for _, entry := range logs.created[2:] {
		assert.Equal(t, "email_sent", entry.Type)
		assert.Equal(t, models.NotificationStatusSuccess, entry.Status)
		assert.Equal(t, "parent@example.com", entry.Metadata["recipient"])
		assert.Equal(t, "9:25 AM", entry.Metadata["checked_in_at"])
	}
}

func TestNotifierFailureIsResultNotError(t *testing.T) {
	mail := &mockMailer{err: errors.New("smtp unreachable")}
	logs := &mockNotificationLogRepo{}
	svc := NewNotifierService(mail, logs, nil, zap.NewNop(), true)

	result := svc.NotifyParent(context.Background(), ParentNotification{
		ParentEmail:   "parent@example.com",
		StudentID:     "s1",
		StudentName:   "Alice Reyes",
		TeacherUserID: "t1",
		ClassName:     "CS101",
		Status:        models.RecordStatusAbsent,
	})

	assert.False(t, result.Success)
	assert.Equal(t, "smtp unreachable", result.Error)

	require.Len(t, logs.created, 4)
	for _, entry := range logs.created[:2] {
		assert.Equal(t, "attendance", entry.Type)
		assert.Equal(t, models.NotificationStatusSuccess, entry.Status)
	}
	for _, entry := range logs.created[2:] {
		assert.Equal(t, "email_failed", entry.Type)
		assert.Equal(t, models.NotificationStatusFailed, entry.Status)
		assert.Equal(t, "smtp unreachable", entry.Metadata["error"])
	}
}

func TestNotifierDisabledStillLogsEvent(t *testing.T) {
	mail := &mockMailer{}
	logs := &mockNotificationLogRepo{}
	svc := NewNotifierService(mail, logs, nil, zap.NewNop(), false)

	result := svc.NotifyParent(context.Background(), ParentNotification{
		ParentEmail:   "parent@example.com",
		StudentID:     "s1",
		TeacherUserID: "t1",
		StudentName:   "Alice Reyes",
		ClassName:     "CS101",
		Status:        models.RecordStatusPresent,
	})

	assert.False(t, result.Success)
	assert.Empty(t, mail.sent)
	require.Len(t, logs.created, 2)
	for _, entry := range logs.created {
		assert.Equal(t, "attendance", entry.Type)
	}
}

func TestNotifierNoParentEmailStillLogsEvent(t *testing.T) {
	mail := &mockMailer{}
	logs := &mockNotificationLogRepo{}
	svc := NewNotifierService(mail, logs, nil, zap.NewNop(), true)

	svc.NotifyParent(context.Background(), ParentNotification{
		StudentID:     "s1",
		TeacherUserID: "t1",
		StudentName:   "Alice Reyes",
		ClassName:     "CS101",
		Status:        models.RecordStatusLate,
		CheckedInAt:   "9:25 AM",
	})

	assert.Empty(t, mail.sent)
	require.Len(t, logs.created, 2)
	assert.Equal(t, models.NotificationUserStudent, logs.created[0].UserType)
	assert.Equal(t, models.NotificationUserTeacher, logs.created[1].UserType)
	for _, entry := range logs.created {
		assert.Equal(t, "attendance", entry.Type)
		assert.Equal(t, models.NotificationStatusSuccess, entry.Status)
	}
}
