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
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"planter-backend/config"
	"planter-backend/internal/api"
	"planter-backend/internal/auth"
	"planter-backend/internal/db"
	"planter-backend/internal/devicebus"
	"planter-backend/internal/irrigation"
	"planter-backend/internal/logger"
	"planter-backend/internal/metrics"
	"planter-backend/internal/notification"
	"planter-backend/internal/plotlock"
	"planter-backend/internal/store"
	"planter-backend/internal/telemetry"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		log.Fatalf("failed to load .env: %v", err)
	}

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}

	zl, err := logger.New(cfg.Log.Level, cfg.Log.Format, "planterd")
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer zl.Sync()
	zl.Info("Configuration loaded", zap.String("path", configPath))

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Create a context that can be cancelled
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appStore, err := openStore(cfg, zl)
	if err != nil {
		zl.Fatal("Failed to initialize store", zap.Error(err))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var webpushOptions *webpush.Options
	var notifier telemetry.ArmNotifier
	if cfg.Push.PublicKey != "" && cfg.Push.PrivateKey != "" {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
		pool := notification.NewWorkerPool(cfg.WorkerPool.Size, 64, appStore, webpushOptions, zl.Named("notification"))
		pool.Start(ctx)
		notifier = pool
	} else {
		zl.Warn("VAPID keys are not configured, arming alerts are disabled")
	}

	locks := plotlock.New()
	telemetrySvc := telemetry.NewService(appStore, locks, telemetry.Options{
		MergeWindow: cfg.Irrigation.MergeWindow,
		Policy: irrigation.Policy{
			Gate:            cfg.Irrigation.Gate,
			ResetOnFireOnly: cfg.Irrigation.ResetGateOnFireOnly,
		},
		MaxAggregateCount: cfg.Server.MaxAggregateCount,
	}, zl.Named("telemetry"), m, notifier)
	settingsSvc := irrigation.NewService(appStore, locks, zl.Named("settings"), m)
	accounts := auth.NewAuthenticator(appStore, nil)

	handler := api.NewHandler(api.Deps{
		Store:     appStore,
		Telemetry: telemetrySvc,
		Settings:  settingsSvc,
		Accounts:  accounts,
		WebPush:   webpushOptions,
		Cache:     api.NewResponseCache(cfg.Server),
		Logger:    zl.Named("http"),
	})

	if cfg.MQTT.Enabled {
		client, err := devicebus.Connect(ctx, cfg.MQTT, zl.Named("mqtt"))
		if err != nil {
			zl.Fatal("Failed to connect to MQTT broker", zap.Error(err))
		}
		bus := devicebus.New(client, cfg.MQTT.TopicPrefix, handler, settingsSvc, zl.Named("devicebus"))
		go func() {
			if err := bus.Run(ctx); err != nil {
				zl.Error("Device bus stopped", zap.Error(err))
			}
		}()
	}

	router := api.NewRouter(handler, api.RouterOptions{
		Server:   cfg.Server,
		Metrics:  m,
		Gatherer: reg,
	})
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start the server in a goroutine
	go func() {
		zl.Info("HTTP server starting", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("HTTP server ListenAndServe", zap.Error(err))
		}
	}()

	// Setup signal handling for graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	// Block until a signal is received.
	<-stop
	zl.Info("Shutdown signal received, stopping services")
	cancel()

	// Create a deadline to wait for.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zl.Error("HTTP server Shutdown", zap.Error(err))
	}

	zl.Info("Server gracefully stopped")
}

func openStore(cfg *config.Config, zl *zap.Logger) (store.Store, error) {
	if cfg.Database.Driver == "memory" {
		zl.Warn("Using the in-memory store; data is lost on exit")
		return store.NewMemoryStore(), nil
	}
	gormDB, err := db.Init(&cfg.Database, zl.Named("db"))
	if err != nil {
		return nil, err
	}
	return store.NewGormStore(gormDB), nil
}
