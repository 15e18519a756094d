package service

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/scanmark/scanmark-api/internal/models"
	"github.com/scanmark/scanmark-api/pkg/export"
	"github.com/scanmark/scanmark-api/pkg/storage"
)

type exportRecordRepository interface {
	ReportRows(ctx context.Context, filter models.AttendanceReportFilter) ([]models.AttendanceReportRow, int, error)
	ClassSummaries(ctx context.Context, teacherID string) ([]models.ClassAttendanceSummaryRow, error)
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// ExportResult captures successful generation metadata.
type ExportResult struct {
	RelativePath string
	Token        string
	URL          string
	Format       models.ReportFormat
	ExpiresAt    time.Time
}

// ExportService builds report datasets and persists rendered files. Exports
// carry the raw record status; the late-to-present display normalization only
// applies to the JSON listing.
type ExportService struct {
	records  exportRecordRepository
	storage  fileStorage
	csv      csvRenderer
	pdf      pdfRenderer
	signer   *storage.SignedURLSigner
	logger   *zap.Logger
	cfg      ExportConfig
	location *time.Location
}

// NewExportService constructs an ExportService.
func NewExportService(records exportRecordRepository, store fileStorage, signer *storage.SignedURLSigner, cfg ExportConfig, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer, location *time.Location) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	if location == nil {
		location = time.UTC
	}
	return &ExportService{
		records:  records,
		storage:  store,
		csv:      csv,
		pdf:      pdf,
		signer:   signer,
		logger:   logger,
		cfg:      cfg,
		location: location,
	}
}

// Generate builds the dataset for a job and stores the rendered export.
func (s *ExportService) Generate(ctx context.Context, job *models.ReportJob) (*ExportResult, error) {
	if job == nil {
		return nil, fmt.Errorf("job nil")
	}
	dataset, title, err := s.buildDataset(ctx, job)
	if err != nil {
		return nil, err
	}

	var payload []byte
	switch job.Params.Format {
	case models.ReportFormatCSV:
		payload, err = s.csv.Render(dataset)
	case models.ReportFormatPDF:
		payload, err = s.pdf.Render(dataset, title)
	default:
		err = fmt.Errorf("unsupported format %s", job.Params.Format)
	}
	if err != nil {
		return nil, err
	}

	filename := s.buildFilename(job)
	relPath, err := s.storage.Save(filename, payload)
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := s.signer.Generate(job.ID, relPath)
	if err != nil {
		return nil, err
	}
	signedURL := strings.TrimRight(s.cfg.APIPrefix, "/")
	if signedURL == "" {
		signedURL = "/api/v1"
	}
	signedURL = fmt.Sprintf("%s/reports/export/%s", signedURL, token)

	return &ExportResult{
		RelativePath: relPath,
		Token:        token,
		URL:          signedURL,
		Format:       job.Params.Format,
		ExpiresAt:    expiresAt,
	}, nil
}

// ParseToken validates download token metadata.
func (s *ExportService) ParseToken(token string, allowExpired bool) (jobID, relPath string, expiresAt time.Time, err error) {
	return s.signer.Parse(token, allowExpired)
}

// Open returns a handle to the stored file.
func (s *ExportService) Open(relPath string) (*os.File, error) {
	return s.storage.Open(relPath)
}

// Delete removes a stored export file.
func (s *ExportService) Delete(relPath string) error {
	return s.storage.Delete(relPath)
}

// Cleanup removes files older than ttl (defaults to configured ResultTTL when ttl <= 0).
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.storage.CleanupOlderThan(ttl)
}

func (s *ExportService) buildFilename(job *models.ReportJob) string {
	timestamp := time.Now().UTC().Format("20060102_150405")
	return fmt.Sprintf("%s_%s.%s", strings.ToLower(string(job.Type)), timestamp, job.Params.Format)
}

func (s *ExportService) buildDataset(ctx context.Context, job *models.ReportJob) (export.Dataset, string, error) {
	switch job.Type {
	case models.ReportTypeAttendance:
		return s.buildAttendanceDataset(ctx, job)
	case models.ReportTypeSummary:
		return s.buildSummaryDataset(ctx, job)
	default:
		return export.Dataset{}, "", fmt.Errorf("unsupported report type %s", job.Type)
	}
}

func (s *ExportService) buildAttendanceDataset(ctx context.Context, job *models.ReportJob) (export.Dataset, string, error) {
	filter := models.AttendanceReportFilter{
		TeacherID: job.CreatedBy,
		ClassID:   deref(job.Params.ClassID),
		PageSize:  500,
	}
	if from := parseReportDate(job.Params.DateFrom, s.location); from != nil {
		filter.DateFrom = from
	}
	if to := parseReportDate(job.Params.DateTo, s.location); to != nil {
		filter.DateTo = to
	}

	headers := []string{"Student Name", "Student Code", "Class", "Date", "Status"}
	dataRows := make([]map[string]string, 0)
	for page := 1; ; page++ {
		filter.Page = page
		rows, total, err := s.records.ReportRows(ctx, filter)
		if err != nil {
			return export.Dataset{}, "", err
		}
		for _, row := range rows {
			dataRows = append(dataRows, map[string]string{
				"Student Name": row.StudentName,
				"Student Code": row.StudentCode,
				"Class":        row.ClassName,
				"Date":         row.Date.In(s.location).Format("2006-01-02"),
				"Status":       string(row.Status),
			})
		}
		if len(dataRows) >= total || len(rows) == 0 {
			break
		}
	}

	dataset := export.Dataset{Headers: headers, Rows: dataRows}
	return dataset, "Attendance Report", nil
}

func (s *ExportService) buildSummaryDataset(ctx context.Context, job *models.ReportJob) (export.Dataset, string, error) {
	summaries, err := s.records.ClassSummaries(ctx, job.CreatedBy)
	if err != nil {
		return export.Dataset{}, "", err
	}
	dataRows := make([]map[string]string, 0, len(summaries))
	for _, row := range summaries {
		dataRows = append(dataRows, map[string]string{
			"Class":    row.ClassName,
			"Sessions": fmt.Sprintf("%d", row.Sessions),
			"Present":  fmt.Sprintf("%d", row.Present),
			"Late":     fmt.Sprintf("%d", row.Late),
			"Absent":   fmt.Sprintf("%d", row.Absent),
		})
	}
	dataset := export.Dataset{
		Headers: []string{"Class", "Sessions", "Present", "Late", "Absent"},
		Rows:    dataRows,
	}
	return dataset, "Attendance Summary", nil
}

func deref(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}

func parseReportDate(raw *string, loc *time.Location) *time.Time {
	if raw == nil || *raw == "" {
		return nil
	}
	t, err := time.ParseInLocation("2006-01-02", *raw, loc)
	if err != nil {
		return nil
	}
	return &t
}
