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

	"github.com/SherClockHolmes/webpush-go"

	"inkediin-backend/config"
	"inkediin-backend/internal/api"
	"inkediin-backend/internal/clock"
	"inkediin-backend/internal/db"
	"inkediin-backend/internal/notification"
	"inkediin-backend/internal/parse"
	"inkediin-backend/internal/realtime"
	"inkediin-backend/internal/reminder"
	"inkediin-backend/internal/store"
	"inkediin-backend/internal/workflow"
)

func main() {
	logger := log.New(os.Stdout, "inkediin ", log.LstdFlags)

	// CONFIG_PATH points at the YAML file; environment variables override it.
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}
	logger.Printf("configuration loaded successfully from %s", configPath)

	if cfg.Auth.JWTSecret == "" {
		logger.Fatalf("auth.jwt_secret must be configured (or set INKEDIIN_JWT_SECRET).")
	}

	loc, err := parse.Location(cfg.Appointments.Timezone)
	if err != nil {
		logger.Fatalf("invalid appointments.timezone: %v", err)
	}

	var webpushOptions *webpush.Options
	if cfg.Push.Enabled() {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
	} else {
		logger.Println("VAPID keys not configured, browser push disabled")
	}

	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logger.Fatalf("failed to initialize database: %v", err)
	}
	logger.Println("database initialized successfully")

	// Background workers stop with ctx.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appStore := store.NewGormStore(gormDB)
	logger.Println("data store initialized")

	// Real-time fan-out: Redis when reachable, otherwise in-process only.
	var broker realtime.Broker = realtime.NewMemoryBroker()
	if cfg.Redis.Addr != "" {
		if rdb := realtime.NewRedisClient(cfg.Redis); rdb != nil {
			defer rdb.Close()
			broker = realtime.NewRedisBroker(rdb, cfg.Redis.Prefix)
			logger.Printf("real-time fan-out through redis at %s", cfg.Redis.Addr)
		} else {
			logger.Printf("redis at %s unreachable, real-time fan-out stays in-process", cfg.Redis.Addr)
		}
	}

	opts := []notification.Option{notification.WithLocation(loc)}
	if webpushOptions != nil {
		opts = append(opts, notification.WithWebPush(webpushOptions))
	}
	if cfg.Broker.URL != "" {
		publisher, err := notification.NewAMQPPublisher(cfg.Broker.URL, cfg.Broker.Exchange)
		if err != nil {
			logger.Printf("event publishing disabled: %v", err)
		} else {
			defer publisher.Close()
			opts = append(opts, notification.WithPublisher(publisher))
			logger.Printf("publishing reservation events to exchange %q", cfg.Broker.Exchange)
		}
	}

	dispatcher := notification.NewDispatcher(cfg.WorkerPool.Size, cfg.WorkerPool.QueueSize, appStore, broker, opts...)
	dispatcher.Start(ctx)

	engine := workflow.NewEngine(appStore, dispatcher, clock.NewSystem(), loc)

	reminderSvc := reminder.NewService(cfg.Reminder, appStore, engine, clock.NewSystem())
	go reminderSvc.Run(ctx)

	handler := api.NewHandler(engine, appStore, broker, webpushOptions,
		time.Duration(cfg.Server.EventKeepAliveSeconds)*time.Second)
	router := api.NewRouter(handler, api.RouterConfig{
		JWTSecret:       cfg.Auth.JWTSecret,
		RateLimitPerSec: cfg.Server.RateLimitPerSec,
		RateLimitBurst:  cfg.Server.RateLimitBurst,
		IdempotencyTTL:  time.Duration(cfg.Server.IdempotencyTTLSeconds) * time.Second,
	})
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}
	server.RegisterOnShutdown(handler.Shutdown)

	go func() {
		logger.Printf("HTTP server starting on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Println("Shutdown signal received, stopping services...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("HTTP server Shutdown: %v", err)
	}

	// Let the queued notifications of committed writes go out.
	dispatcher.Close()
	cancel()

	logger.Println("Server gracefully stopped")
}
