package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/cloudmon/platform/pkg/cloudservice"
	"github.com/cloudmon/platform/pkg/common/config"
	"github.com/cloudmon/platform/pkg/common/database"
	"github.com/cloudmon/platform/pkg/common/kafka"
	"github.com/cloudmon/platform/pkg/common/logger"
	"github.com/cloudmon/platform/pkg/executor"
	"github.com/cloudmon/platform/pkg/fileupload"
	"github.com/cloudmon/platform/pkg/notification"
	"github.com/cloudmon/platform/pkg/observability/metrics"
	"github.com/cloudmon/platform/pkg/processing"
	"github.com/cloudmon/platform/pkg/scheduler"
)

func main() {
	logger.Init()
	cfg := config.Load()

	db, err := database.GetPostgres()
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}

	uploadRepo := fileupload.NewRepository(db)
	if err := uploadRepo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate upload tables")
	}
	serviceRepo := cloudservice.NewRepository(db)
	if err := serviceRepo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate service tables")
	}
	auditRepo := notification.NewRepository(db)
	if err := auditRepo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate notification tables")
	}

	files, err := newFileStore(cfg)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to initialize file storage")
	}

	dispatcher := kafka.NewDispatcher(cfg.KafkaBrokers, cfg.ProducerRetry)
	defer dispatcher.Close()

	filePool := executor.NewPool("file-processing",
		cfg.FilePool.CoreSize, cfg.FilePool.MaxSize, cfg.FilePool.QueueCapacity, cfg.FilePool.KeepAlive)
	notificationPool := executor.NewPool("notification",
		cfg.NotificationPool.CoreSize, cfg.NotificationPool.MaxSize, cfg.NotificationPool.QueueCapacity, cfg.NotificationPool.KeepAlive)

	rules := loadRules(cfg)
	publisher := notification.NewTopicPublisher(dispatcher, cfg.NotificationTopic)
	serviceSvc := cloudservice.NewService(serviceRepo)
	manager := notification.NewManager(notificationPool,
		notification.NewActiveServiceOlderThanRule(serviceSvc, publisher, rules),
		notification.NewExpiredServicesRule(serviceSvc, publisher, rules, cfg.AlertCustomerExpiredTopic),
	)

	persister := processing.NewPersister(db)
	processor := processing.NewProcessor(uploadRepo, files, persister, cfg.BatchSize)
	processor.AddListener(manager)

	poolScheduler := processing.NewPoolScheduler(filePool, processor, 0)

	validator := fileupload.NewValidator(cfg.AllowedExtensions)
	uploadSvc := fileupload.NewService(uploadRepo, files, validator, poolScheduler)
	handler := fileupload.NewHandler(uploadSvc)

	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)
	router.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		st := filePool.Stats()
		metrics.ObservePool(st.Active, st.QueueDepth)
		metrics.WritePrometheus(w)
	}).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	fileupload.RegisterRoutes(api, handler)
	cloudservice.NewHandler(serviceSvc).Register(api)
	notification.NewAuditHandler(auditRepo).Register(api)

	sweeps := scheduler.New()
	sweeps.RegisterFailedJobRetry(uploadRepo, poolScheduler,
		cfg.FailedJobRetryInterval, time.Minute, 100)
	sweeps.RegisterRuleSweep(manager, cfg.RuleSweepInterval)
	sweeps.RegisterPoolMonitor(cfg.PoolMonitorInterval, filePool, notificationPool)
	sweeps.Start()

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host": cfg.ServerHost,
			"port": cfg.ServerPort,
		}).Info("Monitor Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Monitor Service...")
	sweeps.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.WithError(err).Error("server forced to shutdown")
	}
	filePool.Shutdown(30 * time.Second)
	notificationPool.Shutdown(10 * time.Second)
	database.ClosePostgres()

	logger.Log.Info("Monitor Service stopped")
}

func newFileStore(cfg *config.Config) (fileupload.FileStore, error) {
	if cfg.StorageBackend == "s3" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return fileupload.NewS3Store(ctx, cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket, cfg.S3UseSSL)
	}
	return fileupload.NewLocalStore(cfg.UploadDir)
}

func loadRules(cfg *config.Config) notification.RulesConfig {
	rules, err := notification.LoadRules(cfg.RuleConfigPath)
	if err != nil {
		logger.Log.WithError(err).Warn("falling back to default notification rules")
	}
	if cfg.RuleConfigPath == "" {
		rules.ActiveServiceOlderThan.Years = cfg.ActiveServiceYears
		rules.ExpiredServices.MaxExpiredServicesCount = cfg.MaxExpiredServicesCount
	}
	return rules
}
