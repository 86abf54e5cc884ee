package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"

	"device-registry-backend/config"
	"device-registry-backend/internal/api"
	"device-registry-backend/internal/checker"
	"device-registry-backend/internal/db"
	"device-registry-backend/internal/logging"
	"device-registry-backend/internal/model"
	"device-registry-backend/internal/notification"
	"device-registry-backend/internal/otp"
	"device-registry-backend/internal/registry"
	"device-registry-backend/internal/store"
	"device-registry-backend/internal/transfer"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logging.SetupLogger("info", "main").Fatalf("failed to load configuration from %s: %v", configPath, err)
	}

	lMain := logging.SetupLogger(cfg.Log.Level, "main")
	lRegistry := logging.SetupLogger(cfg.Log.Level, "registry")
	lOTP := logging.SetupLogger(cfg.Log.Level, "otp")
	lTransfer := logging.SetupLogger(cfg.Log.Level, "transfer")
	lSweep := logging.SetupLogger(cfg.Log.Level, "sweep")
	lDelivery := logging.SetupLogger(cfg.Log.Level, "delivery")
	lHTTP := logging.SetupLogger(cfg.Log.Level, "http")
	lDB := logging.SetupLogger(cfg.Log.Level, "db")
	lMain.Infof("configuration loaded successfully from %s", configPath)

	// Initialize database
	gormDB, err := db.Init(&cfg.Database, lDB)
	if err != nil {
		lMain.Fatalf("failed to initialize database: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appStore := store.NewGormStore(gormDB)

	// Delivery channels. The log channel is always available for development contacts.
	senders := notification.NewRouter().
		Register(model.ChannelLog, notification.NewLogSender(lDelivery))

	if cfg.Delivery.Mail.Enabled {
		senders.Register(model.ChannelEmail, notification.NewMailSender(cfg.Delivery.Mail))
		lMain.Infof("email delivery enabled via %s:%d", cfg.Delivery.Mail.Host, cfg.Delivery.Mail.Port)
	} else {
		lMain.Warn("email delivery disabled; email codes are written to the log")
		senders.Register(model.ChannelEmail, notification.NewLogSender(lDelivery))
	}

	var webpushOptions *webpush.Options
	if cfg.Delivery.Push.PublicKey != "" && cfg.Delivery.Push.PrivateKey != "" {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Delivery.Push.PublicKey,
			VAPIDPrivateKey: cfg.Delivery.Push.PrivateKey,
			Subscriber:      cfg.Delivery.Push.Subject,
			TTL:             cfg.Delivery.Push.TTL,
		}
		senders.Register(model.ChannelPush, notification.NewWebPushSender(webpushOptions, appStore, lDelivery))
	} else {
		lMain.Warn("VAPID keys are not configured; push delivery disabled")
	}

	lMain.Infof("delivery worker pool: %d workers, queue %d", cfg.Delivery.WorkerPoolSize, cfg.Delivery.QueueSize)
	pool := notification.NewWorkerPool(cfg.Delivery.WorkerPoolSize, cfg.Delivery.QueueSize, senders, cfg.Delivery.Timeout, lDelivery)
	pool.Start(ctx)

	// Core services
	reg := registry.New(appStore, lRegistry)
	challenges := otp.New(appStore, pool, otp.Config{
		TTL:         cfg.OTP.TTL,
		MaxAttempts: cfg.OTP.MaxAttempts,
		HashCost:    cfg.OTP.HashCost,
	}, lOTP)
	workflow := transfer.New(appStore, reg, challenges, appStore, transfer.Config{
		AttemptTTL: cfg.Transfer.AttemptTTL,
		MaxResends: cfg.Transfer.MaxResends,
	}, lTransfer)

	var scheduler *transfer.JobScheduler
	if cfg.Sweep.Enabled {
		sweeper := transfer.NewSweeper(workflow, cfg.Sweep.Timeout, lSweep)
		scheduler, err = transfer.NewJobScheduler(lSweep, cfg.Sweep.Schedule, sweeper)
		if err != nil {
			lMain.Fatalf("invalid sweep schedule %q: %v", cfg.Sweep.Schedule, err)
		}
		scheduler.Start()
		lMain.Infof("expiry sweep scheduled (%s)", cfg.Sweep.Schedule)
	}

	// Initialize router
	if cfg.Log.Level != "debug" && cfg.Log.Level != "trace" {
		gin.SetMode(gin.ReleaseMode)
	}
	handler := api.NewHandler(api.Services{
		Registry: reg,
		Workflow: workflow,
		Checker:  checker.New(reg, lRegistry),
		Contacts: appStore,
		WebPush:  webpushOptions,
	}, lHTTP)
	router := api.NewRouter(cfg.Server, handler, lHTTP)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start the server in a goroutine
	go func() {
		lMain.Infof("HTTP server starting on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lMain.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()

	// Setup signal handling for graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	// Block until a signal is received.
	<-stop
	lMain.Info("shutdown signal received, stopping services...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		lMain.Errorf("HTTP server Shutdown: %v", err)
	}
	if scheduler != nil {
		scheduler.Stop()
	}
	cancel()

	lMain.Info("server gracefully stopped")
}
