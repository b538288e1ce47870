// Package main runs the background pipeline worker (compression, email delivery, sweeping).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/vidblink/backend/config"
	"github.com/vidblink/backend/internal/budget"
	"github.com/vidblink/backend/internal/compress"
	"github.com/vidblink/backend/internal/delivery"
	"github.com/vidblink/backend/internal/directory"
	"github.com/vidblink/backend/internal/lifecycle"
	"github.com/vidblink/backend/internal/mailer"
	"github.com/vidblink/backend/internal/realtime"
	"github.com/vidblink/backend/internal/worker"
	"github.com/vidblink/backend/pkg/database"
	"github.com/vidblink/backend/pkg/queue"
	"github.com/vidblink/backend/pkg/redis"
	"github.com/vidblink/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	s3Client, err := storage.NewS3(ctx, storage.S3Config{
		Region:          cfg.AWS.Region,
		AccessKeyID:     cfg.AWS.AccessKeyID,
		SecretAccessKey: cfg.AWS.SecretAccessKey,
		Bucket:          cfg.AWS.MediaBucket,
	}, logger)
	if err != nil {
		logger.Fatal("s3", zap.Error(err))
	}

	calc, err := budget.New(cfg.Budget)
	if err != nil {
		logger.Fatal("budget config", zap.Error(err))
	}

	// Inbox events still reach connected clients via Redis pub/sub even though
	// this process serves no WebSocket connections itself.
	notifier := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, notifier, nil)

	store := lifecycle.NewPGStore(pool)
	manager := lifecycle.NewManager(store, s3Client, hub, cfg.Lifecycle.CascadeDeleteOnDownload, logger)
	sweeper := lifecycle.NewSweeper(store, s3Client,
		time.Duration(cfg.Lifecycle.CompressingTimeoutMin)*time.Minute,
		time.Duration(cfg.Lifecycle.SweepIntervalMin)*time.Minute,
		logger)

	jobQueue := queue.NewQueue(rdb.Client, logger)
	encoder := compress.NewFFmpeg(cfg.Compress.FFmpegPath, logger)
	orchestrator := compress.NewOrchestrator(encoder, nil, cfg.Compress.TmpDir, logger)
	deliveryRouter := delivery.NewRouter(manager, jobQueue, calc, logger)

	var mail mailer.Mailer
	if cfg.Email.SMTPHost != "" {
		smtp, err := mailer.NewSMTP(cfg.Email, logger)
		if err != nil {
			logger.Fatal("mailer", zap.Error(err))
		}
		mail = smtp
	} else {
		logger.Warn("SMTP not configured, external email delivery disabled")
	}

	resolver := directory.NewRepository(pool)
	processor := worker.NewProcessor(jobQueue, s3Client, orchestrator, deliveryRouter, manager, mail, resolver, cfg.Compress.TmpDir, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go processor.Run(workerCtx)
	go sweeper.Run(workerCtx)
	logger.Info("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	time.Sleep(2 * time.Second)
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
