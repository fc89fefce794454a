package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloudmon/platform/pkg/common/config"
	"github.com/cloudmon/platform/pkg/common/database"
	"github.com/cloudmon/platform/pkg/common/kafka"
	"github.com/cloudmon/platform/pkg/common/logger"
	"github.com/cloudmon/platform/pkg/notification"
)

func main() {
	logger.Init()
	cfg := config.Load()

	db, err := database.GetPostgres()
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}

	auditRepo := notification.NewRepository(db)
	if err := auditRepo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate notification tables")
	}

	dedup := newDeduplicator(cfg)

	dispatcher := kafka.NewDispatcher(cfg.KafkaBrokers, cfg.ProducerRetry)
	defer dispatcher.Close()

	manager := notification.NewManager(nil)
	manager.RegisterHandler(notification.NewEmailHandler(
		cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, "noreply@cloudmon.io"))
	manager.RegisterHandler(notification.NewKafkaHandler(dispatcher))

	notifConsumer := notification.NewConsumer(manager, dedup, auditRepo)

	reader := kafka.NewConsumer(cfg.KafkaBrokers, cfg.NotificationTopic, cfg.KafkaGroupID)
	defer reader.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"topic":    cfg.NotificationTopic,
			"group_id": cfg.KafkaGroupID,
		}).Info("Notifier Service started")
		done <- reader.Consume(ctx, notifConsumer.HandleMessage)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Log.Info("Shutting down Notifier Service...")
		cancel()
		<-done
	case err := <-done:
		if err != nil && err != context.Canceled {
			logger.Log.WithError(err).Error("consumer loop exited")
		}
	}

	database.CloseRedis()
	database.ClosePostgres()
	logger.Log.Info("Notifier Service stopped")
}

func newDeduplicator(cfg *config.Config) notification.Deduplicator {
	if cfg.DedupBackend == "redis" {
		return notification.NewRedisDeduplicator(database.GetRedis(), cfg.DedupTTL)
	}
	return notification.NewMemoryDeduplicator(cfg.DedupTTL, cfg.DedupMaxEntries)
}
