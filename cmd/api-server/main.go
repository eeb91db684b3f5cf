package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/careloop/clinic-scheduling/internal/api"
	"github.com/careloop/clinic-scheduling/internal/config"
	"github.com/careloop/clinic-scheduling/internal/db"
	"github.com/careloop/clinic-scheduling/internal/insurance"
	"github.com/careloop/clinic-scheduling/internal/logger"
	"github.com/careloop/clinic-scheduling/internal/notify"
	"github.com/careloop/clinic-scheduling/internal/patient"
	"github.com/careloop/clinic-scheduling/internal/reminder"
	redisclient "github.com/careloop/clinic-scheduling/internal/redis"
	"github.com/careloop/clinic-scheduling/internal/slot"
	"github.com/careloop/clinic-scheduling/internal/workflow"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	zl, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	zl.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		zl.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	zl.Info("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		zl.Fatal("redis connection error", zap.Error(err))
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			zl.Warn("error closing redis", zap.Error(err))
		}
	}()
	zl.Info("connected to Redis")

	locker := redisclient.NewRedisDoctorLocker(rdb, cfg.LockTTL)
	slots := slot.NewStore(slot.NewPgRepository(pgPool), locker, cfg.HoldTTL, zl)
	ledger := patient.NewPgLedger(pgPool)

	var emailSender notify.EmailSender
	if s := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.EmailFrom,
		FromName:  cfg.EmailFromName,
	}, zl); s != nil {
		emailSender = s
	} else {
		zl.Warn("email channel disabled, no SendGrid API key")
	}

	var smsSender notify.SMSSender
	if s := notify.NewHTTPSMSSender(notify.SMSConfig{
		BaseURL: cfg.SMSBaseURL,
		APIKey:  cfg.SMSAPIKey,
		From:    cfg.SMSFrom,
	}, zl); s != nil {
		smsSender = s
	} else {
		zl.Warn("sms channel disabled, no gateway API key")
	}

	notifier := notify.NewService(emailSender, smsSender, zl)

	scheduler := reminder.NewScheduler(reminder.NewPgStore(pgPool), zl)

	engine := workflow.NewEngine(
		workflow.NewPgRepository(pgPool),
		slots,
		scheduler,
		insurance.NewVerifier(),
		ledger,
		notifier,
		zl,
	)

	router := api.NewRouter(api.RouterConfig{
		Engine:  engine,
		Doctors: slots,
		PgPool:  pgPool,
		Redis:   rdb,
		Logger:  zl,
		Env:     cfg.Env,
		Version: version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("http server error", zap.Error(err))
		}
	case <-rootCtx.Done():
	}

	zl.Info("shutting down api-server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Error("graceful shutdown failed", zap.Error(err))
	}
}
