package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/vantive/pulse/internal/config"
	"github.com/vantive/pulse/internal/notification"
	"github.com/vantive/pulse/internal/realtime"
	"github.com/vantive/pulse/internal/security"
	"github.com/vantive/pulse/internal/server"
	"github.com/vantive/pulse/internal/stream"
	"github.com/vantive/pulse/pkg/lifecycle"
	"github.com/vantive/pulse/pkg/logger"
	"github.com/vantive/pulse/pkg/redis"
)

const sessionMaxIdle = time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("loading configuration failed", zap.Error(err))
	}

	log := logger.New(logger.Config{
		Environment: cfg.AppEnv,
		LogLevel:    cfg.LogLevel,
		ServiceName: cfg.AppName,
	})
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		log.Fatal("opening database failed", zap.Error(err))
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		log.Fatal("database unreachable", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := redis.NewClient(redis.Config{
		Host:         cfg.RedisHost,
		Port:         cfg.RedisPort,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		PoolSize:     cfg.RedisPoolSize,
		MinIdleConns: cfg.RedisMinIdleConns,
		MaxRetries:   cfg.RedisMaxRetries,
	}, log)
	if err != nil {
		log.Fatal("connecting to redis failed", zap.Error(err))
	}
	defer redisClient.Close()

	// realtime layer
	registry := realtime.NewRegistry(log)
	broadcaster := realtime.NewBroadcaster(registry, log)

	// stream layer
	buffer := stream.NewBuffer(log)
	processors := stream.NewProcessors(buffer, broadcaster, nil, log)

	wsHandler := realtime.NewHandler(registry, broadcaster, buffer, log)

	// notification layer
	templates := notification.NewTemplateStore(notification.BuiltinTemplates())
	notifRepo := notification.NewPostgresRepository(db)
	engine := notification.NewEngine(notifRepo, templates, 256, log)

	providers := []notification.Provider{
		notification.NewBreakerProvider(&notification.EmailProvider{
			Host:     cfg.SMTPHost,
			Port:     atoiOr(cfg.SMTPPort, 587),
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		}, log),
		notification.NewBreakerProvider(&notification.SMSProvider{
			Endpoint: cfg.SMSEndpoint,
			APIKey:   cfg.SMSAccessKey,
			Sender:   cfg.SMSFrom,
		}, log),
		notification.NewBreakerProvider(&notification.PushProvider{
			Endpoint: cfg.PushEndpoint,
			APIKey:   cfg.PushAccessKey,
		}, log),
	}
	deliveryWorker := notification.NewDeliveryWorker(engine, notifRepo, providers, log)

	// security layer
	secCfg := security.DefaultConfig()
	secCfg.MaxLoginAttempts = cfg.MaxLoginAttempts
	secCfg.LockoutDuration = cfg.LockoutDuration
	secCfg.BlockThreshold = cfg.SuspiciousThreshold
	secCfg.FraudEnabled = cfg.FraudDetectionEnabled
	secService := security.NewService(
		secCfg,
		security.NewRedisLockoutStore(redis.NewCache(redisClient, cfg.AppName, "security")),
		security.NewRedisVelocityStore(redis.NewCache(redisClient, cfg.AppName, "security")),
		security.NewRedisProfileStore(redis.NewCache(redisClient, cfg.AppName, "security")),
		security.NewPostgresRepository(db),
		nil,
		log,
	)

	manager := lifecycle.NewManager(log)

	httpServer := server.New(":"+cfg.AppPort, server.Deps{
		Buffer:        buffer,
		Notifications: engine,
		Security:      secService,
		Lifecycle:     manager,
		WSHandler:     wsHandler,
		Log:           log,
	})

	for _, p := range processors {
		manager.Register(p)
	}
	manager.Register(deliveryWorker)
	manager.Register(lifecycle.NewBackgroundWorker("session_sweeper", func(ctx context.Context) error {
		registry.SweepInactive(sessionMaxIdle)
		return nil
	}, 5*time.Minute, log))
	manager.Register(httpServer)

	if err := manager.Start(ctx); err != nil {
		log.Fatal("startup failed", zap.Error(err))
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc("@every 1m", func() {
		if _, err := engine.ReleaseScheduled(context.Background()); err != nil {
			log.Error("releasing scheduled notifications failed", zap.Error(err))
		}
	}); err != nil {
		log.Fatal("registering scheduler job failed", zap.Error(err))
	}
	scheduler.Start()

	log.Info("pulse is running", zap.String("port", cfg.AppPort))
	<-ctx.Done()
	log.Info("shutdown signal received")

	cronCtx := scheduler.Stop()
	<-cronCtx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	manager.Stop(shutdownCtx)
	log.Info("shutdown complete")
	os.Exit(0)
}

func atoiOr(raw string, fallback int) int {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
