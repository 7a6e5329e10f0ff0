package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	_ "github.com/noah-isme/ireporter/api/swagger"
	"github.com/noah-isme/ireporter/internal/handler"
	"github.com/noah-isme/ireporter/internal/repository"
	"github.com/noah-isme/ireporter/internal/service"
	"github.com/noah-isme/ireporter/pkg/cache"
	"github.com/noah-isme/ireporter/pkg/config"
	"github.com/noah-isme/ireporter/pkg/database"
	"github.com/noah-isme/ireporter/pkg/jobs"
	"github.com/noah-isme/ireporter/pkg/logger"
	"github.com/noah-isme/ireporter/pkg/mailer"
	"github.com/noah-isme/ireporter/pkg/storage"
)

// @title iReporter API
// @version 1.0.0
// @description Red-flag and intervention reporting service
// @BasePath /
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

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

	if err := run(cfg, logr); err != nil {
		logr.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logr *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close() //nolint:errcheck
	if cfg.Database.AutoMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
	}

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, continuing without cache and token revocation", zap.Error(err))
		redisClient = nil
	}

	files, err := storage.NewLocalStorage(cfg.Media.StorageDir)
	if err != nil {
		return fmt.Errorf("prepare media storage: %w", err)
	}

	validate := validator.New()
	metrics := service.NewMetricsService()

	users := repository.NewUserRepository(db)
	reports := repository.NewReportRepository(db)
	media := repository.NewMediaRepository(db)
	audit := repository.NewAuditRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, cfg.Redis.KeyPrefix, logr)
	defer cacheRepo.Close() //nolint:errcheck

	var provider mailer.Provider = mailer.NewLogProvider(logr)
	if cfg.Mail.ResendAPIKey != "" {
		provider = mailer.NewResendProvider(cfg.Mail.ResendAPIKey)
	}
	mail := mailer.New(provider, cfg.Mail.FromAddress)
	logr.Info("mail provider selected", zap.String("provider", mail.ProviderName()))

	retries := jobs.NewQueue("notifications", jobs.QueueConfig{
		Workers:    cfg.Mail.RetryWorkers,
		MaxRetries: cfg.Mail.MaxRetries,
		RetryDelay: cfg.Mail.RetryDelay,
		Logger:     logr,
		OnDrop: func(job jobs.Job, err error) {
			metrics.RecordNotification("dropped")
			logr.Error("notification abandoned", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
		},
	})

	authSvc := service.NewAuthService(users, audit, cacheRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})
	if err := authSvc.EnsureAdmin(ctx, cfg.Seed.AdminEmail, cfg.Seed.AdminPassword); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	mediaSvc := service.NewMediaService(media, files, storage.NewMediaLinkSigner(cfg.Media.SignedURLSecret, cfg.Media.SignedURLTTL), service.MediaConfig{
		APIPrefix:    cfg.APIPrefix,
		MaxFileSize:  cfg.Media.MaxFileSizeBytes,
		AllowedMIMEs: cfg.Media.AllowedMIMEs,
	}, logr)
	notifySvc := service.NewNotificationService(mail, retries, metrics, logr)
	listCache := service.NewReportListCache(cacheRepo, metrics, cfg.Reports.ListCacheTTL, logr, cacheRepo.Enabled())
	reportSvc := service.NewReportService(reports, media, users, mediaSvc, notifySvc, listCache, metrics, validate, logr, service.ReportConfig{
		DefaultPageSize: cfg.Reports.DefaultPageSize,
	})
	exportSvc := service.NewExportService(reportSvc, users, cfg.Reports.ExportMaxRows, logr, nil, nil)

	checks := map[string]handler.ReadinessCheck{"database": db.PingContext}
	if cacheRepo.Enabled() {
		checks["redis"] = cacheRepo.Ping
	}

	router := handler.NewRouter(handler.RouterConfig{
		APIPrefix:      cfg.APIPrefix,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		EnableDocs:     cfg.Env != config.EnvProduction,
		Logger:         logr,
		Tokens:         authSvc,
		Audit:          audit,
		Metrics:        metrics,
		Auth:           handler.NewAuthHandler(authSvc),
		Reports:        handler.NewReportHandler(reportSvc, mediaSvc.MaxFileSize()),
		Media:          handler.NewMediaHandler(mediaSvc),
		Export:         handler.NewExportHandler(exportSvc),
		Ops:            handler.NewMetricsHandler(metrics, checks),
	})

	retries.Start(ctx)
	defer retries.Stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
