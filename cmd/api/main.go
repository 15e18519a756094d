package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/scanmark/scanmark-api/api/swagger"
	"github.com/scanmark/scanmark-api/internal/handler"
	"github.com/scanmark/scanmark-api/internal/middleware"
	"github.com/scanmark/scanmark-api/internal/models"
	"github.com/scanmark/scanmark-api/internal/repository"
	"github.com/scanmark/scanmark-api/internal/service"
	"github.com/scanmark/scanmark-api/pkg/cache"
	"github.com/scanmark/scanmark-api/pkg/config"
	"github.com/scanmark/scanmark-api/pkg/database"
	"github.com/scanmark/scanmark-api/pkg/jobs"
	"github.com/scanmark/scanmark-api/pkg/logger"
	"github.com/scanmark/scanmark-api/pkg/mailer"
	corsmiddleware "github.com/scanmark/scanmark-api/pkg/middleware/cors"
	reqidmiddleware "github.com/scanmark/scanmark-api/pkg/middleware/requestid"
	"github.com/scanmark/scanmark-api/pkg/storage"
)

// @title Scanmark API
// @version 1.0.0
// @description QR-based attendance tracking for classes
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to database", "error", err)
	}
	defer db.Close()

	location, err := time.LoadLocation(cfg.Attendance.Timezone)
	if err != nil {
		logr.Sugar().Warnw("invalid attendance timezone, falling back to UTC", "timezone", cfg.Attendance.Timezone)
		location = time.UTC
	}

	userRepo := repository.NewUserRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	classRepo := repository.NewClassRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	recordRepo := repository.NewRecordRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	reportRepo := repository.NewReportRepository(db)

	metricsSvc := service.NewMetricsService()

	cacheSvc := service.NewCacheService(nil, metricsSvc, cfg.Dashboard.CacheTTL, logr, false)
	if cfg.Dashboard.CacheEnabled {
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Sugar().Warnw("redis unavailable, live cache disabled", "error", err)
		} else {
			cacheRepo := repository.NewCacheRepository(redisClient, logr)
			cacheSvc = service.NewCacheService(cacheRepo, metricsSvc, cfg.Dashboard.CacheTTL, logr, true)
			defer cacheRepo.Close()
		}
	}

	var mail mailer.Mailer = mailer.NoopMailer{}
	if cfg.Mail.Enabled {
		mail = mailer.NewSMTPMailer(cfg.Mail)
	}
	notifierSvc := service.NewNotifierService(mail, notificationRepo, metricsSvc, logr, cfg.Mail.Enabled)

	validate := validator.New()

	authSvc := service.NewAuthService(userRepo, studentRepo, classRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
	})
	sessionSvc := service.NewSessionService(sessionRepo, classRepo, recordRepo, studentRepo, notifierSvc, cacheSvc, metricsSvc, validate, logr, nil, location)
	checkinSvc := service.NewCheckinService(sessionRepo, classRepo, studentRepo, recordRepo, notifierSvc, cacheSvc, metricsSvc, logr, nil, location)
	classSvc := service.NewClassService(classRepo, studentRepo, validate, logr)
	studentSvc := service.NewStudentService(studentRepo, classRepo, logr)
	notificationSvc := service.NewNotificationService(notificationRepo, logr, nil)

	store, err := storage.NewLocalStorage(cfg.Reports.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to prepare export storage", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Reports.SignedURLSecret, cfg.Reports.SignedURLTTL)
	exportSvc := service.NewExportService(recordRepo, store, signer, service.ExportConfig{
		APIPrefix: cfg.APIPrefix,
		ResultTTL: cfg.Reports.SignedURLTTL,
	}, logr, nil, nil, location)

	reportWorker := service.NewReportWorker(reportRepo, exportSvc, logr, cfg.Reports.WorkerRetries)
	reportQueue := jobs.NewQueue("reports", reportWorker.Handle, jobs.QueueConfig{
		Workers:    cfg.Reports.WorkerConcurrency,
		MaxRetries: cfg.Reports.WorkerRetries,
		Logger:     logr,
	})
	reportSvc := service.NewReportService(reportRepo, classRepo, recordRepo, reportQueue, exportSvc, validate, logr, service.ReportServiceConfig{
		ResultTTL:       cfg.Reports.SignedURLTTL,
		CleanupInterval: cfg.Reports.CleanupInterval,
		MaxRetries:      cfg.Reports.WorkerRetries,
	})

	if cfg.Reports.Enabled {
		reportQueue.Start(ctx)
		defer reportQueue.Stop()
		if err := reportSvc.RecoverPendingJobs(ctx); err != nil {
			logr.Sugar().Warnw("failed to recover queued report jobs", "error", err)
		}
		reportSvc.StartCleanup(ctx)
	}

	authHandler := handler.NewAuthHandler(authSvc)
	classHandler := handler.NewClassHandler(classSvc, sessionSvc)
	attendanceHandler := handler.NewAttendanceHandler(sessionSvc, checkinSvc)
	studentHandler := handler.NewStudentHandler(studentSvc)
	notificationHandler := handler.NewNotificationHandler(notificationSvc)
	reportHandler := handler.NewReportHandler(reportSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	requireAuth := middleware.JWT(authSvc)
	teacherOnly := middleware.RequireRoles(models.RoleTeacher)
	studentOnly := middleware.RequireRoles(models.RoleStudent)

	api := r.Group(cfg.APIPrefix)
	{
		auth := api.Group("/auth")
		{
			auth.POST("/login", authHandler.Login)
			auth.POST("/refresh", authHandler.Refresh)
			auth.POST("/register/teacher", authHandler.RegisterTeacher)
			auth.POST("/register/student", authHandler.RegisterStudent)
			auth.POST("/logout", requireAuth, authHandler.Logout)
			auth.POST("/change-password", requireAuth, authHandler.ChangePassword)
			auth.GET("/me", requireAuth, authHandler.Me)
		}

		classes := api.Group("/classes", requireAuth)
		{
			classes.GET("", teacherOnly, classHandler.List)
			classes.POST("", teacherOnly, classHandler.Create)
			classes.GET("/:id", teacherOnly, classHandler.Get)
			classes.PUT("/:id", teacherOnly, classHandler.Update)
			classes.DELETE("/:id", teacherOnly, classHandler.Delete)
			classes.GET("/:id/students", teacherOnly, classHandler.Roster)
			classes.GET("/:id/active-session", classHandler.ActiveSession)
			classes.POST("/:id/register", studentOnly, classHandler.Register)
			classes.POST("/:id/attendance/start", teacherOnly, attendanceHandler.StartSession)
		}

		attendance := api.Group("/attendance", requireAuth)
		{
			attendance.POST("/sessions/:id/end", teacherOnly, attendanceHandler.EndSession)
			attendance.GET("/sessions/:id/live", teacherOnly, attendanceHandler.Live)
			attendance.GET("/scan/:sessionId", studentOnly, attendanceHandler.Scan)
		}

		students := api.Group("/students", requireAuth, studentOnly)
		{
			students.GET("/me", studentHandler.Me)
			students.GET("/me/classes", studentHandler.Classes)
			students.GET("/me/attendance", studentHandler.History)
		}

		notifications := api.Group("/notifications", requireAuth)
		{
			notifications.GET("", notificationHandler.List)
			notifications.POST("/:id/read", notificationHandler.MarkRead)
			notifications.POST("/read-all", notificationHandler.MarkAllRead)
		}

		reports := api.Group("/reports")
		{
			// Download link carries its own HMAC token; no session required.
			reports.GET("/export/:token", reportHandler.Download)
			reports.GET("", requireAuth, teacherOnly, reportHandler.Rows)
			reports.POST("/export", requireAuth, teacherOnly, reportHandler.Export)
			reports.GET("/jobs/:id", requireAuth, teacherOnly, reportHandler.JobStatus)
		}
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
