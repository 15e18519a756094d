package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/scanmark/scanmark-api/internal/middleware"
	"github.com/scanmark/scanmark-api/internal/models"
	"github.com/scanmark/scanmark-api/internal/service"
)

type reportServiceMock struct {
	rows        []models.AttendanceReportRow
	rowsTotal   int
	rowsErr     error
	createResp  *models.ReportJob
	createErr   error
	statusResp  *models.ReportJob
	statusErr   error
	download    *service.ReportDownload
	downloadErr error
}

func (m *reportServiceMock) Rows(ctx context.Context, filter models.AttendanceReportFilter) ([]models.AttendanceReportRow, int, error) {
	return m.rows, m.rowsTotal, m.rowsErr
}

func (m *reportServiceMock) CreateJob(ctx context.Context, teacherID string, req models.ExportReportRequest) (*models.ReportJob, error) {
	return m.createResp, m.createErr
}

func (m *reportServiceMock) GetStatus(ctx context.Context, jobID, teacherID string) (*models.ReportJob, error) {
	return m.statusResp, m.statusErr
}

func (m *reportServiceMock) ResolveDownload(ctx context.Context, token string) (*service.ReportDownload, error) {
	return m.download, m.downloadErr
}

func newGinContext(method, path string, body []byte) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	return c, w
}

func TestReportHandlerExport(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &reportServiceMock{
		createResp: &models.ReportJob{ID: "job-1", Status: models.ReportStatusQueued, Progress: 0},
	}
	handler := NewReportHandler(mockSvc)

	payload, _ := json.Marshal(models.ExportReportRequest{Type: models.ReportTypeAttendance, Format: models.ReportFormatCSV})
	c, w := newGinContext(http.MethodPost, "/reports/export", payload)
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "t1", Role: models.RoleTeacher})

	handler.Export(c)
	require.Equal(t, http.StatusAccepted, w.Code)
}

func TestReportHandlerJobStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &reportServiceMock{
		statusResp: &models.ReportJob{ID: "job-1", Status: models.ReportStatusFinished, Progress: 100},
	}
	handler := NewReportHandler(mockSvc)

	c, w := newGinContext(http.MethodGet, "/reports/jobs/job-1", nil)
	c.Params = gin.Params{{Key: "id", Value: "job-1"}}
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "t1", Role: models.RoleTeacher})

	handler.JobStatus(c)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestReportHandlerRows(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &reportServiceMock{
		rows:      []models.AttendanceReportRow{{StudentName: "Ana Reyes", Status: models.RecordStatusPresent}},
		rowsTotal: 1,
	}
	handler := NewReportHandler(mockSvc)

	c, w := newGinContext(http.MethodGet, "/reports?page=1&page_size=20", nil)
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "t1", Role: models.RoleTeacher})

	handler.Rows(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "Ana Reyes")
}

func TestReportHandlerRowsRejectsBadDate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewReportHandler(&reportServiceMock{})

	c, w := newGinContext(http.MethodGet, "/reports?date_from=03-01-2026", nil)
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "t1", Role: models.RoleTeacher})

	handler.Rows(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReportHandlerDownload(t *testing.T) {
	gin.SetMode(gin.TestMode)
	file, err := os.CreateTemp("", "report*.csv")
	require.NoError(t, err)
	defer os.Remove(file.Name())
	_, _ = file.WriteString("data")
	_, _ = file.Seek(0, 0)

	mockSvc := &reportServiceMock{
		download: &service.ReportDownload{
			Job:      &models.ReportJob{ID: "job-1", Status: models.ReportStatusFinished, Params: models.ReportJobParams{Format: models.ReportFormatCSV}},
			File:     file,
			Filename: "attendance_20260301_090000.csv",
		},
	}
	handler := NewReportHandler(mockSvc)

	c, w := newGinContext(http.MethodGet, "/reports/export/token", nil)
	c.Params = gin.Params{{Key: "token", Value: "token"}}

	handler.Download(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Header().Get("Content-Disposition"), "attachment")
}
