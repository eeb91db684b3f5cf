package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/careloop/clinic-scheduling/internal/config"
	"github.com/careloop/clinic-scheduling/internal/db"
	"github.com/careloop/clinic-scheduling/internal/logger"
	"github.com/careloop/clinic-scheduling/internal/notify"
	"github.com/careloop/clinic-scheduling/internal/reminder"
	redisclient "github.com/careloop/clinic-scheduling/internal/redis"
	"github.com/careloop/clinic-scheduling/internal/slot"
)

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

	zl.Info("reminder-worker starting up",
		zap.String("env", cfg.Env),
		zap.Duration("reminder_tick", cfg.ReminderTick),
		zap.Duration("sweep_interval", cfg.SweepInterval))

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

	var emailSender notify.EmailSender
	if s := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.EmailFrom,
		FromName:  cfg.EmailFromName,
	}, zl); s != nil {
		emailSender = s
	}
	var smsSender notify.SMSSender
	if s := notify.NewHTTPSMSSender(notify.SMSConfig{
		BaseURL: cfg.SMSBaseURL,
		APIKey:  cfg.SMSAPIKey,
		From:    cfg.SMSFrom,
	}, zl); s != nil {
		smsSender = s
	}
	notifier := notify.NewService(emailSender, smsSender, zl)

	store := reminder.NewPgStore(pgPool)
	dispatcher := reminder.NewDispatcher(store, notifier, zl)

	locker := redisclient.NewRedisDoctorLocker(rdb, cfg.LockTTL)
	slots := slot.NewStore(slot.NewPgRepository(pgPool), locker, cfg.HoldTTL, zl)

	// Recovery pass: reminders that went stale while the worker was down are
	// recorded as failed instead of fired late.
	recoverCtx, cancelRecover := context.WithTimeout(rootCtx, 30*time.Second)
	if n, err := dispatcher.RecoverPastDue(recoverCtx, cfg.PastDueGrace); err != nil {
		zl.Error("startup recovery failed", zap.Error(err))
	} else if n > 0 {
		zl.Warn("recovered stale reminders", zap.Int64("failed", n))
	}
	cancelRecover()

	c := cron.New()

	c.Schedule(cron.Every(cfg.ReminderTick), cron.FuncJob(func() {
		runCtx, cancel := context.WithTimeout(rootCtx, 60*time.Second)
		defer cancel()

		fired, err := dispatcher.DispatchDue(runCtx)
		if err != nil {
			zl.Error("dispatch run error", zap.Error(err))
			return
		}
		if fired > 0 {
			zl.Info("dispatch run complete", zap.Int("fired", fired))
		}
	}))

	c.Schedule(cron.Every(cfg.SweepInterval), cron.FuncJob(func() {
		runCtx, cancel := context.WithTimeout(rootCtx, 20*time.Second)
		defer cancel()

		if _, err := slots.SweepExpiredHolds(runCtx); err != nil {
			zl.Error("hold sweep error", zap.Error(err))
		}
	}))

	c.Start()
	<-rootCtx.Done()

	zl.Info("shutting down reminder-worker")
	<-c.Stop().Done()
}
