// Package main runs the video message delivery HTTP server with WebSocket and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/vidblink/backend/config"
	"github.com/vidblink/backend/internal/auth"
	"github.com/vidblink/backend/internal/budget"
	"github.com/vidblink/backend/internal/compress"
	"github.com/vidblink/backend/internal/contacts"
	"github.com/vidblink/backend/internal/delivery"
	"github.com/vidblink/backend/internal/directory"
	"github.com/vidblink/backend/internal/lifecycle"
	"github.com/vidblink/backend/internal/mailer"
	"github.com/vidblink/backend/internal/messages"
	"github.com/vidblink/backend/internal/middleware"
	"github.com/vidblink/backend/internal/realtime"
	"github.com/vidblink/backend/internal/worker"
	"github.com/vidblink/backend/pkg/database"
	"github.com/vidblink/backend/pkg/queue"
	"github.com/vidblink/backend/pkg/redis"
	"github.com/vidblink/backend/pkg/response"
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

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

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

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub)

	// Lifecycle
	store := lifecycle.NewPGStore(pool)
	manager := lifecycle.NewManager(store, s3Client, hub, cfg.Lifecycle.CascadeDeleteOnDownload, logger)
	sweeper := lifecycle.NewSweeper(store, s3Client,
		time.Duration(cfg.Lifecycle.CompressingTimeoutMin)*time.Minute,
		time.Duration(cfg.Lifecycle.SweepIntervalMin)*time.Minute,
		logger)

	// Pipeline
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
	// Auth
	authRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(authRepo, jwtService, logger)

	// Directory (recipient search, contact-book lookups)
	resolver := directory.NewRepository(pool)
	directoryHandler := directory.NewHandler(resolver, logger)

	processor := worker.NewProcessor(jobQueue, s3Client, orchestrator, deliveryRouter, manager, mail, resolver, cfg.Compress.TmpDir, logger)

	// Contacts
	contactRepo := contacts.NewRepository(pool)
	contactHandler := contacts.NewHandler(contactRepo, logger)

	// Messages
	messageService := messages.NewService(calc, resolver, manager, s3Client, jobQueue, logger)
	messageHandler := messages.NewHandler(messageService, logger)

	jwtValidate := func(token string) (uuid.UUID, error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return uuid.Nil, err
		}
		return claims.UserID, nil
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Auth (public)
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
	}

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		// Recipient search
		api.GET("/users/search", directoryHandler.Search)

		// Contacts
		api.GET("/contacts", contactHandler.List)
		api.POST("/contacts", contactHandler.Create)
		api.DELETE("/contacts/:id", contactHandler.Delete)

		// Messages
		api.POST("/messages", messageHandler.Submit)
		api.GET("/messages", messageHandler.Inbox)
		api.GET("/messages/:id/view", messageHandler.View)
		api.GET("/messages/:id/download", messageHandler.Download)
		api.DELETE("/messages/:id", messageHandler.Delete)
	}

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", realtime.ServeWs(hub, logger, jwtValidate))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Background pipeline (compression, email delivery, stuck-job sweeping)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	go processor.Run(workerCtx)
	go sweeper.Run(workerCtx)
	logger.Info("pipeline worker started")

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	workerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
