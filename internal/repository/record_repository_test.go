package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/scanmark/scanmark-api/internal/models"
)

func newRecordRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestRecordRepositoryInsert(t *testing.T) {
	db, mock, cleanup := newRecordRepoMock(t)
	defer cleanup()
	repo := NewRecordRepository(db)

	checkedIn := time.Now()
	rows := sqlmock.NewRows([]string{"id"}).AddRow("rec-1")
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO attendance_records")).
		WithArgs(sqlmock.AnyArg(), "sess-1", "stu-1", checkedIn, "present", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(rows)

	inserted, err := repo.Insert(context.Background(), &models.AttendanceRecord{
		SessionID:   "sess-1",
		StudentID:   "stu-1",
		CheckedInAt: &checkedIn,
		Status:      models.RecordStatusPresent,
	})
	require.NoError(t, err)
	require.True(t, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRepositoryInsertConflictKeepsFirstWrite(t *testing.T) {
	db, mock, cleanup := newRecordRepoMock(t)
	defer cleanup()
	repo := NewRecordRepository(db)

	checkedIn := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO attendance_records")).
		WithArgs(sqlmock.AnyArg(), "sess-1", "stu-1", checkedIn, "late", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	inserted, err := repo.Insert(context.Background(), &models.AttendanceRecord{
		SessionID:   "sess-1",
		StudentID:   "stu-1",
		CheckedInAt: &checkedIn,
		Status:      models.RecordStatusLate,
	})
	require.NoError(t, err)
	require.False(t, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRepositoryBackfillAbsentSkipsConflicts(t *testing.T) {
	db, mock, cleanup := newRecordRepoMock(t)
	defer cleanup()
	repo := NewRecordRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO attendance_records")).
		WithArgs(sqlmock.AnyArg(), "sess-1", "stu-1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"student_id"}).AddRow("stu-1"))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO attendance_records")).
		WithArgs(sqlmock.AnyArg(), "sess-1", "stu-2", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"student_id"}))

	inserted, err := repo.BackfillAbsent(context.Background(), "sess-1", []string{"stu-1", "stu-2"})
	require.NoError(t, err)
	require.Equal(t, []string{"stu-1"}, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRepositoryLiveRows(t *testing.T) {
	db, mock, cleanup := newRecordRepoMock(t)
	defer cleanup()
	repo := NewRecordRepository(db)

	checkedIn := time.Now()
	rows := sqlmock.NewRows([]string{"student_id", "student_code", "student_name", "has_checked_in", "checked_in_at", "status"}).
		AddRow("stu-1", "S-001", "Ana Cruz", true, checkedIn, "present").
		AddRow("stu-2", "S-002", "Ben Reyes", false, nil, "absent")
	mock.ExpectQuery("SELECT s.id AS student_id").
		WithArgs("sess-1").
		WillReturnRows(rows)

	live, err := repo.LiveRows(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Len(t, live, 2)
	require.True(t, live[0].HasCheckedIn)
	require.Equal(t, models.RecordStatusAbsent, live[1].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRepositoryReportRowsDateFallback(t *testing.T) {
	db, mock, cleanup := newRecordRepoMock(t)
	defer cleanup()
	repo := NewRecordRepository(db)

	sessionStart := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"student_name", "student_code", "class_name", "date", "status"}).
		AddRow("Ana Cruz", "S-001", "CS101 - Programming", sessionStart, "absent")
	mock.ExpectQuery("SELECT s.first_name").
		WithArgs("teacher-1", "class-1").
		WillReturnRows(rows)
	mock.ExpectQuery("SELECT COUNT").
		WithArgs("teacher-1", "class-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	reportRows, total, err := repo.ReportRows(context.Background(), models.AttendanceReportFilter{
		TeacherID: "teacher-1",
		ClassID:   "class-1",
	})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, sessionStart, reportRows[0].Date)
	require.Equal(t, models.RecordStatusAbsent, reportRows[0].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRepositoryReportRowsSameDayRangeIsInclusive(t *testing.T) {
	db, mock, cleanup := newRecordRepoMock(t)
	defer cleanup()
	repo := NewRecordRepository(db)

	day := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
	nextMidnight := day.Add(24 * time.Hour)
	checkedIn := day.Add(9*time.Hour + 30*time.Minute)

	rows := sqlmock.NewRows([]string{"student_name", "student_code", "class_name", "date", "status"}).
		AddRow("Ana Cruz", "S-001", "CS101 - Programming", checkedIn, "present")
	mock.ExpectQuery("SELECT s.first_name").
		WithArgs("teacher-1", day, nextMidnight).
		WillReturnRows(rows)
	mock.ExpectQuery("SELECT COUNT").
		WithArgs("teacher-1", day, nextMidnight).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	reportRows, total, err := repo.ReportRows(context.Background(), models.AttendanceReportFilter{
		TeacherID: "teacher-1",
		DateFrom:  &day,
		DateTo:    &day,
	})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, checkedIn, reportRows[0].Date)
	require.NoError(t, mock.ExpectationsWereMet())
}
