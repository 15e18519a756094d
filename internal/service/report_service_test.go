package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scanmark/scanmark-api/internal/models"
	"github.com/scanmark/scanmark-api/internal/repository"
	appErrors "github.com/scanmark/scanmark-api/pkg/errors"
	"github.com/scanmark/scanmark-api/pkg/jobs"
)

type mockReportStore struct {
	jobs   map[string]*models.ReportJob
	nextID int
}

func newMockReportStore() *mockReportStore {
	return &mockReportStore{jobs: make(map[string]*models.ReportJob)}
}

func (m *mockReportStore) Create(ctx context.Context, job *models.ReportJob) error {
	m.nextID++
	job.ID = fmt.Sprintf("job-%d", m.nextID)
	job.CreatedAt = time.Now().UTC()
	stored := *job
	m.jobs[job.ID] = &stored
	return nil
}

func (m *mockReportStore) GetByID(ctx context.Context, id string) (*models.ReportJob, error) {
	job, ok := m.jobs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *job
	return &copied, nil
}

func (m *mockReportStore) Update(ctx context.Context, id string, params repository.UpdateReportJobParams) error {
	job, ok := m.jobs[id]
	if !ok {
		return sql.ErrNoRows
	}
	if params.Status != nil {
		job.Status = *params.Status
	}
	if params.Progress != nil {
		job.Progress = *params.Progress
	}
	if params.ResultURL != nil {
		job.ResultURL = params.ResultURL
	}
	if params.ErrorMessage != nil {
		job.ErrorMessage = params.ErrorMessage
	}
	if params.FinishedAt != nil {
		job.FinishedAt = params.FinishedAt
	}
	return nil
}

func (m *mockReportStore) ListQueued(ctx context.Context, limit int) ([]models.ReportJob, error) {
	var out []models.ReportJob
	for _, job := range m.jobs {
		if job.Status == models.ReportStatusQueued {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (m *mockReportStore) ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ReportJob, error) {
	var out []models.ReportJob
	for _, job := range m.jobs {
		if job.Status == models.ReportStatusFinished && job.FinishedAt != nil && job.FinishedAt.Before(cutoff) {
			out = append(out, *job)
		}
	}
	return out, nil
}

type mockDispatcher struct {
	enqueued []jobs.Job
	err      error
}

func (m *mockDispatcher) Enqueue(job jobs.Job) error {
	if m.err != nil {
		return m.err
	}
	m.enqueued = append(m.enqueued, job)
	return nil
}

type mockExporter struct {
	result     *ExportResult
	err        error
	generated  []string
	tokenJobID string
	tokenPath  string
	tokenErr   error
	file       *os.File
}

func (m *mockExporter) Generate(ctx context.Context, job *models.ReportJob) (*ExportResult, error) {
	m.generated = append(m.generated, job.ID)
	return m.result, m.err
}

func (m *mockExporter) ParseToken(token string, allowExpired bool) (string, string, time.Time, error) {
	if m.tokenErr != nil {
		return "", "", time.Time{}, m.tokenErr
	}
	return m.tokenJobID, m.tokenPath, time.Now().Add(time.Hour), nil
}

func (m *mockExporter) Open(relPath string) (*os.File, error) {
	if m.file == nil {
		return nil, os.ErrNotExist
	}
	return m.file, nil
}

func (m *mockExporter) Delete(relPath string) error { return nil }

func (m *mockExporter) Cleanup(ttl time.Duration) ([]string, error) { return nil, nil }

func reportServiceFixture() (*ReportService, *mockReportStore, *mockDispatcher, *mockExporter, *mockFullClassRepo) {
	store := newMockReportStore()
	classes := newMockFullClassRepo()
	classes.classes["c1"] = &models.Class{ID: "c1", TeacherID: "t1", ClassCode: "CS101", SubjectName: "Computing", Schedule: "MWF"}
	queue := &mockDispatcher{}
	exporter := &mockExporter{}
	svc := NewReportService(store, classes, nil, queue, exporter, nil, zap.NewNop(), ReportServiceConfig{})
	return svc, store, queue, exporter, classes
}

func TestReportServiceCreateJobQueues(t *testing.T) {
	svc, store, queue, _, _ := reportServiceFixture()

	classID := "c1"
	job, err := svc.CreateJob(context.Background(), "t1", models.ExportReportRequest{
		Type:    models.ReportTypeAttendance,
		Format:  models.ReportFormatCSV,
		ClassID: &classID,
	})
	require.NoError(t, err)
	assert.Equal(t, models.ReportStatusQueued, job.Status)
	assert.Equal(t, "t1", job.CreatedBy)
	require.Len(t, queue.enqueued, 1)
	assert.Equal(t, job.ID, queue.enqueued[0].Payload)

	stored, err := store.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReportFormatCSV, stored.Params.Format)
}

func TestReportServiceCreateJobForeignClass(t *testing.T) {
	svc, _, queue, _, _ := reportServiceFixture()

	classID := "c1"
	_, err := svc.CreateJob(context.Background(), "t2", models.ExportReportRequest{
		Type:    models.ReportTypeAttendance,
		Format:  models.ReportFormatCSV,
		ClassID: &classID,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
	assert.Empty(t, queue.enqueued)
}

func TestReportServiceCreateJobRejectsBadFormat(t *testing.T) {
	svc, _, _, _, _ := reportServiceFixture()

	_, err := svc.CreateJob(context.Background(), "t1", models.ExportReportRequest{
		Type:   models.ReportTypeAttendance,
		Format: models.ReportFormat("xlsx"),
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestReportServiceGetStatusCreatorOnly(t *testing.T) {
	svc, _, _, _, _ := reportServiceFixture()

	job, err := svc.CreateJob(context.Background(), "t1", models.ExportReportRequest{
		Type:   models.ReportTypeSummary,
		Format: models.ReportFormatPDF,
	})
	require.NoError(t, err)

	_, err = svc.GetStatus(context.Background(), job.ID, "t2")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	got, err := svc.GetStatus(context.Background(), job.ID, "t1")
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
}

func TestReportWorkerFinishesJob(t *testing.T) {
	svc, store, queue, exporter, _ := reportServiceFixture()
	exporter.result = &ExportResult{
		RelativePath: "attendance_20260302_090000.csv",
		URL:          "/api/v1/reports/export/tok",
		Format:       models.ReportFormatCSV,
	}

	job, err := svc.CreateJob(context.Background(), "t1", models.ExportReportRequest{
		Type:   models.ReportTypeAttendance,
		Format: models.ReportFormatCSV,
	})
	require.NoError(t, err)

	worker := NewReportWorker(store, exporter, zap.NewNop(), 3)
	require.NoError(t, worker.Handle(context.Background(), queue.enqueued[0]))

	stored, err := store.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReportStatusFinished, stored.Status)
	assert.Equal(t, 100, stored.Progress)
	require.NotNil(t, stored.ResultURL)
	assert.Equal(t, "/api/v1/reports/export/tok", *stored.ResultURL)
	require.NotNil(t, stored.FinishedAt)
}

func TestReportWorkerRetriesThenFails(t *testing.T) {
	svc, store, queue, exporter, _ := reportServiceFixture()
	exporter.err = errors.New("render exploded")

	job, err := svc.CreateJob(context.Background(), "t1", models.ExportReportRequest{
		Type:   models.ReportTypeAttendance,
		Format: models.ReportFormatCSV,
	})
	require.NoError(t, err)

	worker := NewReportWorker(store, exporter, zap.NewNop(), 2)

	queued := queue.enqueued[0]
	require.Error(t, worker.Handle(context.Background(), queued))

	queued.Attempt = 1
	require.NoError(t, worker.Handle(context.Background(), queued))

	stored, err := store.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReportStatusFailed, stored.Status)
	require.NotNil(t, stored.ErrorMessage)
	assert.Contains(t, *stored.ErrorMessage, "render exploded")
}

func TestReportServiceResolveDownload(t *testing.T) {
	svc, store, _, exporter, _ := reportServiceFixture()

	job, err := svc.CreateJob(context.Background(), "t1", models.ExportReportRequest{
		Type:   models.ReportTypeAttendance,
		Format: models.ReportFormatCSV,
	})
	require.NoError(t, err)

	exporter.tokenJobID = job.ID
	exporter.tokenPath = "attendance.csv"

	// not finished yet
	_, err = svc.ResolveDownload(context.Background(), "tok")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	finished := models.ReportStatusFinished
	require.NoError(t, store.Update(context.Background(), job.ID, repository.UpdateReportJobParams{Status: &finished}))

	file, err := os.CreateTemp("", "export*.csv")
	require.NoError(t, err)
	defer os.Remove(file.Name())
	exporter.file = file

	download, err := svc.ResolveDownload(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "attendance.csv", download.Filename)
	assert.Equal(t, job.ID, download.Job.ID)
}

func TestReportServiceResolveDownloadBadToken(t *testing.T) {
	svc, _, _, exporter, _ := reportServiceFixture()
	exporter.tokenErr = errors.New("signature mismatch")

	_, err := svc.ResolveDownload(context.Background(), "forged")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestReportServiceRecoverPendingJobs(t *testing.T) {
	svc, _, queue, _, _ := reportServiceFixture()

	_, err := svc.CreateJob(context.Background(), "t1", models.ExportReportRequest{
		Type:   models.ReportTypeAttendance,
		Format: models.ReportFormatCSV,
	})
	require.NoError(t, err)

	queue.enqueued = nil
	require.NoError(t, svc.RecoverPendingJobs(context.Background()))
	assert.Len(t, queue.enqueued, 1)
}
