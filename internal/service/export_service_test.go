package service

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scanmark/scanmark-api/internal/models"
	"github.com/scanmark/scanmark-api/pkg/storage"
)

type mockExportRecords struct {
	rows      []models.AttendanceReportRow
	summaries []models.ClassAttendanceSummaryRow
	filters   []models.AttendanceReportFilter
}

func (m *mockExportRecords) ReportRows(ctx context.Context, filter models.AttendanceReportFilter) ([]models.AttendanceReportRow, int, error) {
	m.filters = append(m.filters, filter)
	if filter.Page > 1 {
		return nil, len(m.rows), nil
	}
	return m.rows, len(m.rows), nil
}

func (m *mockExportRecords) ClassSummaries(ctx context.Context, teacherID string) ([]models.ClassAttendanceSummaryRow, error) {
	return m.summaries, nil
}

type memStorage struct {
	files map[string][]byte
}

func newMemStorage() *memStorage {
	return &memStorage{files: make(map[string][]byte)}
}

func (m *memStorage) Save(filename string, data []byte) (string, error) {
	m.files[filename] = data
	return filename, nil
}

func (m *memStorage) Open(filename string) (*os.File, error) {
	if _, ok := m.files[filename]; !ok {
		return nil, os.ErrNotExist
	}
	file, err := os.CreateTemp("", "export-test")
	if err != nil {
		return nil, err
	}
	if _, err := file.Write(m.files[filename]); err != nil {
		return nil, err
	}
	_, err = file.Seek(0, 0)
	return file, err
}

func (m *memStorage) Delete(filename string) error {
	delete(m.files, filename)
	return nil
}

func (m *memStorage) CleanupOlderThan(ttl time.Duration) ([]string, error) {
	return nil, nil
}

func newExportFixture(records *mockExportRecords) (*ExportService, *memStorage) {
	store := newMemStorage()
	signer := storage.NewSignedURLSigner("export-test-secret", time.Hour)
	svc := NewExportService(records, store, signer, ExportConfig{APIPrefix: "/api/v1"}, zap.NewNop(), nil, nil, time.UTC)
	return svc, store
}

func TestExportServiceGenerateCSVKeepsRawStatus(t *testing.T) {
	records := &mockExportRecords{rows: []models.AttendanceReportRow{
		{StudentName: "Ana Reyes", StudentCode: "2026-0001", ClassName: "CS101", Date: time.Date(2026, 3, 2, 9, 5, 0, 0, time.UTC), Status: models.RecordStatusPresent},
		{StudentName: "Ben Cruz", StudentCode: "2026-0002", ClassName: "CS101", Date: time.Date(2026, 3, 2, 9, 25, 0, 0, time.UTC), Status: models.RecordStatusLate},
	}}
	svc, store := newExportFixture(records)

	job := &models.ReportJob{
		ID:        "job-1",
		Type:      models.ReportTypeAttendance,
		Status:    models.ReportStatusProcessing,
		CreatedBy: "t1",
		Params:    models.ReportJobParams{Format: models.ReportFormatCSV},
	}
	result, err := svc.Generate(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, models.ReportFormatCSV, result.Format)
	assert.True(t, strings.HasPrefix(result.URL, "/api/v1/reports/export/"))

	payload := string(store.files[result.RelativePath])
	assert.Contains(t, payload, "Student Name")
	assert.Contains(t, payload, "Ana Reyes")
	// exports carry the raw status, no display normalization
	assert.Contains(t, payload, "late")
}

func TestExportServiceGenerateSummaryPDF(t *testing.T) {
	records := &mockExportRecords{summaries: []models.ClassAttendanceSummaryRow{
		{ClassID: "c1", ClassName: "CS101", Sessions: 4, Present: 10, Late: 2, Absent: 3},
	}}
	svc, store := newExportFixture(records)

	job := &models.ReportJob{
		ID:        "job-2",
		Type:      models.ReportTypeSummary,
		Status:    models.ReportStatusProcessing,
		CreatedBy: "t1",
		Params:    models.ReportJobParams{Format: models.ReportFormatPDF},
	}
	result, err := svc.Generate(context.Background(), job)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(result.RelativePath, ".pdf"))
	assert.NotEmpty(t, store.files[result.RelativePath])
}

func TestExportServiceGenerateScopesToCreator(t *testing.T) {
	records := &mockExportRecords{}
	svc, _ := newExportFixture(records)

	classID := "c1"
	from := "2026-03-01"
	job := &models.ReportJob{
		ID:        "job-3",
		Type:      models.ReportTypeAttendance,
		CreatedBy: "t1",
		Params:    models.ReportJobParams{ClassID: &classID, DateFrom: &from, Format: models.ReportFormatCSV},
	}
	_, err := svc.Generate(context.Background(), job)
	require.NoError(t, err)

	require.NotEmpty(t, records.filters)
	filter := records.filters[0]
	assert.Equal(t, "t1", filter.TeacherID)
	assert.Equal(t, "c1", filter.ClassID)
	require.NotNil(t, filter.DateFrom)
	assert.Equal(t, "2026-03-01", filter.DateFrom.Format("2006-01-02"))
}

func TestExportServiceRejectsUnknownFormat(t *testing.T) {
	svc, _ := newExportFixture(&mockExportRecords{})

	job := &models.ReportJob{
		ID:        "job-4",
		Type:      models.ReportTypeAttendance,
		CreatedBy: "t1",
		Params:    models.ReportJobParams{Format: models.ReportFormat("xlsx")},
	}
	_, err := svc.Generate(context.Background(), job)
	require.Error(t, err)
}
