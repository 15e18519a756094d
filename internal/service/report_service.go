package service

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/scanmark/scanmark-api/internal/models"
	"github.com/scanmark/scanmark-api/internal/repository"
	appErrors "github.com/scanmark/scanmark-api/pkg/errors"
	"github.com/scanmark/scanmark-api/pkg/jobs"
)

type reportJobStore interface {
	Create(ctx context.Context, job *models.ReportJob) error
	GetByID(ctx context.Context, id string) (*models.ReportJob, error)
	Update(ctx context.Context, id string, params repository.UpdateReportJobParams) error
	ListQueued(ctx context.Context, limit int) ([]models.ReportJob, error)
	ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ReportJob, error)
}

type reportClassRepository interface {
	FindByID(ctx context.Context, id string) (*models.Class, error)
}

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

type exportGenerator interface {
	Generate(ctx context.Context, job *models.ReportJob) (*ExportResult, error)
	ParseToken(token string, allowExpired bool) (jobID, relPath string, expiresAt time.Time, err error)
	Open(relPath string) (*os.File, error)
	Delete(relPath string) error
	Cleanup(ttl time.Duration) ([]string, error)
}

// ReportServiceConfig controls job lifecycle behaviour.
type ReportServiceConfig struct {
	ResultTTL       time.Duration
	CleanupInterval time.Duration
	MaxRetries      int
}

// ReportDownload bundles everything a handler needs to stream a finished
// export back to the caller.
type ReportDownload struct {
	Job      *models.ReportJob
	File     *os.File
	Filename string
}

// ReportService queues export jobs and tracks their lifecycle. It also serves
// the synchronous report row listing.
type ReportService struct {
	store     reportJobStore
	classes   reportClassRepository
	records   exportRecordRepository
	queue     jobDispatcher
	exporter  exportGenerator
	validator *validator.Validate
	logger    *zap.Logger
	cfg       ReportServiceConfig
}

// NewReportService constructs a ReportService.
func NewReportService(store reportJobStore, classes reportClassRepository, records exportRecordRepository, queue jobDispatcher, exporter exportGenerator, validate *validator.Validate, logger *zap.Logger, cfg ReportServiceConfig) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Hour
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &ReportService{
		store:     store,
		classes:   classes,
		records:   records,
		queue:     queue,
		exporter:  exporter,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
	}
}

// Rows returns the teacher's attendance report rows for the JSON listing.
// Late records surface as present here; exports keep the raw status.
func (s *ReportService) Rows(ctx context.Context, filter models.AttendanceReportFilter) ([]models.AttendanceReportRow, int, error) {
	if filter.ClassID != "" {
		class, err := s.classes.FindByID(ctx, filter.ClassID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, 0, appErrors.Clone(appErrors.ErrNotFound, "class not found")
			}
			return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
		}
		if class.TeacherID != filter.TeacherID {
			return nil, 0, appErrors.Clone(appErrors.ErrForbidden, "class does not belong to teacher")
		}
	}

	rows, total, err := s.records.ReportRows(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load report rows")
	}
	for i := range rows {
		if rows[i].Status == models.RecordStatusLate {
			rows[i].Status = models.RecordStatusPresent
		}
	}
	return rows, total, nil
}

// CreateJob validates the request, persists a queued job scoped to the
// requesting teacher and pushes it onto the worker queue.
func (s *ReportService) CreateJob(ctx context.Context, teacherID string, req models.ExportReportRequest) (*models.ReportJob, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid export request")
	}
	if !req.Type.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported report type")
	}
	if !req.Format.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported report format")
	}

	if req.ClassID != nil && *req.ClassID != "" {
		class, err := s.classes.FindByID(ctx, *req.ClassID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
		}
		if class.TeacherID != teacherID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "class does not belong to teacher")
		}
	}

	job := &models.ReportJob{
		Type: req.Type,
		Params: models.ReportJobParams{
			ClassID:  req.ClassID,
			DateFrom: req.DateFrom,
			DateTo:   req.DateTo,
			Format:   req.Format,
		},
		Status:    models.ReportStatusQueued,
		CreatedBy: teacherID,
	}
	if err := s.store.Create(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create report job")
	}

	if err := s.enqueue(job); err != nil {
		s.logger.Error("failed to enqueue report job", zap.String("job_id", job.ID), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue report job")
	}

	s.logger.Info("report job queued",
		zap.String("job_id", job.ID),
		zap.String("type", string(job.Type)),
		zap.String("format", string(req.Format)))
	return job, nil
}

// GetStatus returns a job visible to its creator only.
func (s *ReportService) GetStatus(ctx context.Context, jobID, teacherID string) (*models.ReportJob, error) {
	job, err := s.store.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "report job not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load report job")
	}
	if job.CreatedBy != teacherID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "report job belongs to another user")
	}
	return job, nil
}

// ResolveDownload validates a signed download token and opens the finished
// export for streaming.
func (s *ReportService) ResolveDownload(ctx context.Context, token string) (*ReportDownload, error) {
	jobID, relPath, _, err := s.exporter.ParseToken(token, false)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired download link")
	}

	job, err := s.store.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "report job not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load report job")
	}
	if job.Status != models.ReportStatusFinished {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "report is not ready")
	}

	file, err := s.exporter.Open(relPath)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "report file no longer available")
	}
	return &ReportDownload{Job: job, File: file, Filename: filepath.Base(relPath)}, nil
}

// RecoverPendingJobs requeues jobs left QUEUED by an earlier shutdown.
func (s *ReportService) RecoverPendingJobs(ctx context.Context) error {
	queued, err := s.store.ListQueued(ctx, 100)
	if err != nil {
		return err
	}
	for i := range queued {
		job := queued[i]
		if err := s.enqueue(&job); err != nil {
			s.logger.Warn("failed to requeue recovered job", zap.String("job_id", job.ID), zap.Error(err))
			continue
		}
		s.logger.Info("recovered queued report job", zap.String("job_id", job.ID))
	}
	return nil
}

// StartCleanup periodically removes expired export files and their job rows'
// download URLs. Runs until ctx is cancelled.
func (s *ReportService) StartCleanup(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.cleanupExpired(ctx)
			}
		}
	}()
}

func (s *ReportService) cleanupExpired(ctx context.Context) {
	removed, err := s.exporter.Cleanup(s.cfg.ResultTTL)
	if err != nil {
		s.logger.Warn("export cleanup failed", zap.Error(err))
	} else if len(removed) > 0 {
		s.logger.Info("removed expired export files", zap.Int("count", len(removed)))
	}

	cutoff := time.Now().UTC().Add(-s.cfg.ResultTTL)
	expired, err := s.store.ListFinishedBefore(ctx, cutoff, 100)
	if err != nil {
		s.logger.Warn("failed to list expired report jobs", zap.Error(err))
		return
	}
	for _, job := range expired {
		if job.ResultURL == nil {
			continue
		}
		empty := ""
		if err := s.store.Update(ctx, job.ID, repository.UpdateReportJobParams{ResultURL: &empty}); err != nil {
			s.logger.Warn("failed to clear expired result url", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
}

func (s *ReportService) enqueue(job *models.ReportJob) error {
	return s.queue.Enqueue(jobs.Job{
		ID:      job.ID,
		Type:    string(job.Type),
		Payload: job.ID,
	})
}

// ReportWorker executes queued report jobs.
type ReportWorker struct {
	store      reportJobStore
	exporter   exportGenerator
	logger     *zap.Logger
	maxRetries int
}

// NewReportWorker constructs a worker bound to the job store and exporter.
func NewReportWorker(store reportJobStore, exporter exportGenerator, logger *zap.Logger, maxRetries int) *ReportWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &ReportWorker{store: store, exporter: exporter, logger: logger, maxRetries: maxRetries}
}

// Handle processes a single queued job. Returning an error lets the queue's
// retry policy requeue it; jobs that exhaust their retries are marked FAILED.
func (w *ReportWorker) Handle(ctx context.Context, job jobs.Job) error {
	jobID, ok := job.Payload.(string)
	if !ok || jobID == "" {
		jobID = job.ID
	}

	record, err := w.store.GetByID(ctx, jobID)
	if err != nil {
		w.logger.Error("report job vanished", zap.String("job_id", jobID), zap.Error(err))
		return nil
	}
	if record.Status == models.ReportStatusFinished {
		return nil
	}

	processing := models.ReportStatusProcessing
	progress := 10
	if err := w.store.Update(ctx, record.ID, repository.UpdateReportJobParams{Status: &processing, Progress: &progress}); err != nil {
		w.logger.Warn("failed to mark job processing", zap.String("job_id", record.ID), zap.Error(err))
	}

	result, genErr := w.exporter.Generate(ctx, record)
	if genErr != nil {
		if job.Attempt+1 >= w.maxRetries {
			failed := models.ReportStatusFailed
			msg := genErr.Error()
			now := time.Now().UTC()
			if err := w.store.Update(ctx, record.ID, repository.UpdateReportJobParams{Status: &failed, ErrorMessage: &msg, FinishedAt: &now}); err != nil {
				w.logger.Error("failed to mark job failed", zap.String("job_id", record.ID), zap.Error(err))
			}
			w.logger.Error("report job failed permanently", zap.String("job_id", record.ID), zap.Error(genErr))
			return nil
		}
		w.logger.Warn("report generation failed, will retry",
			zap.String("job_id", record.ID),
			zap.Int("attempt", job.Attempt+1),
			zap.Error(genErr))
		return genErr
	}

	finished := models.ReportStatusFinished
	done := 100
	now := time.Now().UTC()
	update := repository.UpdateReportJobParams{
		Status:     &finished,
		Progress:   &done,
		ResultURL:  &result.URL,
		FinishedAt: &now,
	}
	if err := w.store.Update(ctx, record.ID, update); err != nil {
		w.logger.Error("failed to mark job finished", zap.String("job_id", record.ID), zap.Error(err))
		return err
	}

	w.logger.Info("report job finished",
		zap.String("job_id", record.ID),
		zap.String("path", result.RelativePath))
	return nil
}
