package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scanmark/scanmark-api/internal/models"
	appErrors "github.com/scanmark/scanmark-api/pkg/errors"
)

type mockSessionRepo struct {
	sessions map[string]*models.AttendanceSession
	nextID   int
}

func (m *mockSessionRepo) Create(ctx context.Context, session *models.AttendanceSession) error {
	if m.sessions == nil {
		m.sessions = make(map[string]*models.AttendanceSession)
	}
	if session.ID == "" {
		m.nextID++
		session.ID = fmt.Sprintf("sess-%d", m.nextID)
	}
	copied := *session
	m.sessions[session.ID] = &copied
	return nil
}

func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (*models.AttendanceSession, error) {
	if s, ok := m.sessions[id]; ok {
		copied := *s
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockSessionRepo) FindActiveByClass(ctx context.Context, classID string) (*models.AttendanceSession, error) {
	for _, s := range m.sessions {
		if s.ClassID == classID && s.Status == models.SessionStatusActive {
			copied := *s
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockSessionRepo) EndActiveByClass(ctx context.Context, classID string, endedAt time.Time) (int64, error) {
	var count int64
	for _, s := range m.sessions {
		if s.ClassID == classID && s.Status == models.SessionStatusActive {
			s.Status = models.SessionStatusEnded
			at := endedAt
			s.EndedAt = &at
			count++
		}
	}
	return count, nil
}

func (m *mockSessionRepo) End(ctx context.Context, id string, endedAt time.Time) (bool, error) {
	s, ok := m.sessions[id]
	if !ok || s.Status != models.SessionStatusActive {
		return false, nil
	}
	s.Status = models.SessionStatusEnded
	at := endedAt
	s.EndedAt = &at
	return true, nil
}

type mockClassRepo struct {
	classes     map[string]*models.Class
	enrollments map[string][]string
}

func (m *mockClassRepo) FindByID(ctx context.Context, id string) (*models.Class, error) {
	if c, ok := m.classes[id]; ok {
		copied := *c
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockClassRepo) Enroll(ctx context.Context, classID, studentID string) (bool, error) {
	for _, existing := range m.enrollments[classID] {
		if existing == studentID {
			return false, nil
		}
	}
	if m.enrollments == nil {
		m.enrollments = make(map[string][]string)
	}
	m.enrollments[classID] = append(m.enrollments[classID], studentID)
	return true, nil
}

type mockRecordRepo struct {
	records map[string]*models.AttendanceRecord
	roster  *mockClassRepo
	classOf map[string]string
	nextID  int
}

func recordKey(sessionID, studentID string) string {
	return sessionID + "/" + studentID
}

func (m *mockRecordRepo) Insert(ctx context.Context, record *models.AttendanceRecord) (bool, error) {
	if m.records == nil {
		m.records = make(map[string]*models.AttendanceRecord)
	}
	key := recordKey(record.SessionID, record.StudentID)
	if _, ok := m.records[key]; ok {
		return false, nil
	}
	m.nextID++
	record.ID = fmt.Sprintf("rec-%d", m.nextID)
	copied := *record
	m.records[key] = &copied
	return true, nil
}

func (m *mockRecordRepo) FindBySessionAndStudent(ctx context.Context, sessionID, studentID string) (*models.AttendanceRecord, error) {
	if r, ok := m.records[recordKey(sessionID, studentID)]; ok {
		copied := *r
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockRecordRepo) LiveRows(ctx context.Context, sessionID string) ([]models.LiveAttendanceRow, error) {
	classID := m.classOf[sessionID]
	var rows []models.LiveAttendanceRow
	for _, studentID := range m.roster.enrollments[classID] {
		row := models.LiveAttendanceRow{StudentID: studentID, Status: models.RecordStatusAbsent}
		if r, ok := m.records[recordKey(sessionID, studentID)]; ok {
			row.Status = r.Status
			row.CheckedInAt = r.CheckedInAt
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (m *mockRecordRepo) MissingStudentIDs(ctx context.Context, sessionID string) ([]string, error) {
	classID := m.classOf[sessionID]
	var missing []string
	for _, studentID := range m.roster.enrollments[classID] {
		if _, ok := m.records[recordKey(sessionID, studentID)]; !ok {
			missing = append(missing, studentID)
		}
	}
	return missing, nil
}

func (m *mockRecordRepo) BackfillAbsent(ctx context.Context, sessionID string, studentIDs []string) ([]string, error) {
	var inserted []string
	for _, studentID := range studentIDs {
		record := &models.AttendanceRecord{SessionID: sessionID, StudentID: studentID, Status: models.RecordStatusAbsent}
		ok, err := m.Insert(ctx, record)
		if err != nil {
			return nil, err
		}
		if ok {
			inserted = append(inserted, studentID)
		}
	}
	return inserted, nil
}

type mockStudentRepo struct {
	students map[string]*models.Student
}

func (m *mockStudentRepo) FindByID(ctx context.Context, id string) (*models.Student, error) {
	if s, ok := m.students[id]; ok {
		copied := *s
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockStudentRepo) FindByUserID(ctx context.Context, userID string) (*models.Student, error) {
	for _, s := range m.students {
		if s.UserID == userID {
			copied := *s
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

type attendanceFixture struct {
	sessions *mockSessionRepo
	classes  *mockClassRepo
	records  *mockRecordRepo
	students *mockStudentRepo
	now      time.Time
}

func newAttendanceFixture() *attendanceFixture {
	classes := &mockClassRepo{
		classes: map[string]*models.Class{
			"c1": {ID: "c1", TeacherID: "t1", ClassCode: "CS101", SubjectName: "Intro to CS", Schedule: "MWF 9:00"},
		},
		enrollments: map[string][]string{},
	}
	records := &mockRecordRepo{roster: classes, classOf: map[string]string{}}
	return &attendanceFixture{
		sessions: &mockSessionRepo{},
		classes:  classes,
		records:  records,
		students: &mockStudentRepo{students: map[string]*models.Student{}},
		now:      time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
}

func (f *attendanceFixture) clock() Clock {
	return func() time.Time { return f.now }
}

func (f *attendanceFixture) sessionService() *SessionService {
	cache := NewCacheService(nil, nil, 0, nil, false)
	return NewSessionService(f.sessions, f.classes, f.records, f.students, nil, cache, nil, validator.New(), zap.NewNop(), f.clock(), time.UTC)
}

func (f *attendanceFixture) startSession(t *testing.T, duration int) *models.AttendanceSession {
	t.Helper()
	session, err := f.sessionService().Start(context.Background(), "c1", "t1", models.StartSessionRequest{DurationMinutes: duration})
	require.NoError(t, err)
	f.records.classOf[session.ID] = session.ClassID
	return session
}

func (f *attendanceFixture) addStudent(id string) {
	f.students.students[id] = &models.Student{
		ID: id, UserID: "u-" + id, StudentCode: "SC-" + id,
		FirstName: "Student", LastName: id,
	}
}

func TestSessionServiceStartEndsPreviousSession(t *testing.T) {
	f := newAttendanceFixture()
	svc := f.sessionService()

	first, err := svc.Start(context.Background(), "c1", "t1", models.StartSessionRequest{DurationMinutes: 15})
	require.NoError(t, err)

	f.now = f.now.Add(10 * time.Minute)
	second, err := svc.Start(context.Background(), "c1", "t1", models.StartSessionRequest{DurationMinutes: 15})
	require.NoError(t, err)

	assert.Equal(t, models.SessionStatusEnded, f.sessions.sessions[first.ID].Status)
	assert.Equal(t, models.SessionStatusActive, f.sessions.sessions[second.ID].Status)

	active, err := svc.ActiveForClass(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, active.ID)
}

func TestSessionServiceStartRejectsBadDuration(t *testing.T) {
	f := newAttendanceFixture()
	svc := f.sessionService()

	_, err := svc.Start(context.Background(), "c1", "t1", models.StartSessionRequest{DurationMinutes: 0})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = svc.Start(context.Background(), "c1", "t1", models.StartSessionRequest{DurationMinutes: 181})
	require.Error(t, err)
}

func TestSessionServiceStartForeignClass(t *testing.T) {
	f := newAttendanceFixture()
	svc := f.sessionService()

	_, err := svc.Start(context.Background(), "c1", "other-teacher", models.StartSessionRequest{DurationMinutes: 15})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestSessionServiceEndBackfillsAbsences(t *testing.T) {
	f := newAttendanceFixture()
	for _, id := range []string{"s1", "s2", "s3"} {
		f.addStudent(id)
		f.classes.enrollments["c1"] = append(f.classes.enrollments["c1"], id)
	}
	session := f.startSession(t, 15)

	checkedIn := f.now.Add(5 * time.Minute)
	_, err := f.records.Insert(context.Background(), &models.AttendanceRecord{
		SessionID: session.ID, StudentID: "s1", Status: models.RecordStatusPresent, CheckedInAt: &checkedIn,
	})
	require.NoError(t, err)

	f.now = f.now.Add(30 * time.Minute)
	resp, err := f.sessionService().End(context.Background(), session.ID, "t1")
	require.NoError(t, err)
	assert.Equal(t, 2, resp.AbsentCount)
	assert.Equal(t, models.SessionStatusEnded, resp.Session.Status)

	absent, err := f.records.FindBySessionAndStudent(context.Background(), session.ID, "s2")
	require.NoError(t, err)
	assert.Equal(t, models.RecordStatusAbsent, absent.Status)
	assert.Nil(t, absent.CheckedInAt)
}

func TestSessionServiceEndIsIdempotent(t *testing.T) {
	f := newAttendanceFixture()
	f.addStudent("s1")
	f.classes.enrollments["c1"] = []string{"s1"}
	session := f.startSession(t, 15)
	svc := f.sessionService()

	first, err := svc.End(context.Background(), session.ID, "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, first.AbsentCount)

	again, err := svc.End(context.Background(), session.ID, "t1")
	require.NoError(t, err)
	assert.Equal(t, 0, again.AbsentCount)
	assert.Len(t, f.records.records, 1)
}

func TestSessionServiceLiveStats(t *testing.T) {
	f := newAttendanceFixture()
	for _, id := range []string{"s1", "s2", "s3"} {
		f.addStudent(id)
		f.classes.enrollments["c1"] = append(f.classes.enrollments["c1"], id)
	}
	session := f.startSession(t, 15)

	onTime := f.now.Add(10 * time.Minute)
	late := f.now.Add(20 * time.Minute)
	_, err := f.records.Insert(context.Background(), &models.AttendanceRecord{SessionID: session.ID, StudentID: "s1", Status: models.RecordStatusPresent, CheckedInAt: &onTime})
	require.NoError(t, err)
	_, err = f.records.Insert(context.Background(), &models.AttendanceRecord{SessionID: session.ID, StudentID: "s2", Status: models.RecordStatusLate, CheckedInAt: &late})
	require.NoError(t, err)

	live, err := f.sessionService().Live(context.Background(), session.ID, "t1")
	require.NoError(t, err)
	assert.Equal(t, models.LiveAttendanceStats{Total: 3, Present: 1, Late: 1, Absent: 1}, live.Stats)
}

func TestSessionIsActiveRespectsHardCeiling(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	session := models.AttendanceSession{
		StartedAt:       start,
		EndsAt:          start.Add(models.SessionMaxLifetime),
		DurationMinutes: 15,
		Status:          models.SessionStatusActive,
	}

	assert.True(t, session.IsActive(start.Add(2*time.Hour)))
	assert.False(t, session.IsActive(start.Add(models.SessionMaxLifetime)))
	assert.False(t, session.IsActive(start.Add(models.SessionMaxLifetime+time.Minute)))

	session.Status = models.SessionStatusEnded
	assert.False(t, session.IsActive(start.Add(time.Minute)))
}

func TestSessionEndLogsAbsenceWithoutParentEmail(t *testing.T) {
	f := newAttendanceFixture()
	f.addStudent("s1")
	f.classes.enrollments["c1"] = []string{"s1"}

	mail := &mockMailer{}
	logs := &mockNotificationLogRepo{}
	notifier := NewNotifierService(mail, logs, nil, zap.NewNop(), true)
	cache := NewCacheService(nil, nil, 0, nil, false)
	svc := NewSessionService(f.sessions, f.classes, f.records, f.students, notifier, cache, nil, validator.New(), zap.NewNop(), f.clock(), time.UTC)

	session, err := svc.Start(context.Background(), "c1", "t1", models.StartSessionRequest{DurationMinutes: 15})
	require.NoError(t, err)
	f.records.classOf[session.ID] = session.ClassID

	f.now = f.now.Add(30 * time.Minute)
	resp, err := svc.End(context.Background(), session.ID, "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, resp.AbsentCount)

	assert.Empty(t, mail.sent)
	require.Len(t, logs.created, 2)
	assert.Equal(t, models.NotificationUserStudent, logs.created[0].UserType)
	assert.Equal(t, "s1", logs.created[0].UserID)
	assert.Equal(t, models.NotificationUserTeacher, logs.created[1].UserType)
	assert.Equal(t, "t1", logs.created[1].UserID)
	for _, entry := range logs.created {
		assert.Equal(t, "attendance", entry.Type)
		assert.Equal(t, "absent", entry.Metadata["status"])
	}
}
