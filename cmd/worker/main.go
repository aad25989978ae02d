package main

import (
	"context"
	"encoding/json"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/you/slotq/internal/admission"
	"github.com/you/slotq/internal/archive"
	"github.com/you/slotq/internal/config"
	"github.com/you/slotq/internal/domain"
	"github.com/you/slotq/internal/pool"
	"github.com/you/slotq/internal/progress"
	"github.com/you/slotq/internal/storage"
)

func main() {
	cfg := config.Load()
	log := newLogger(cfg.AppEnv)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.StorageBackend, cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		log.Fatal("open storage", zap.Error(err))
	}
	defer store.Close()

	jobs := admission.New(store, cfg.MaxConcurrentJobsPerTenant, cfg.JobRetentionTTL, log)
	p := pool.New(store, jobs)
	b := progress.New(store, log)

	var ar *archive.Store
	if cfg.PostgresDSN != "" {
		if err := archive.Migrate(cfg.PostgresDSN, cfg.MigrationsDir); err != nil {
			log.Fatal("migrate archive", zap.Error(err))
		}
		db, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatal("connect archive db", zap.Error(err))
		}
		defer db.Close()
		ar = archive.New(db)
	}

	tenants := cfg.Tenants
	if len(tenants) == 0 {
		// Dev convenience so a fresh checkout has something to consume.
		tenants = []string{"demo"}
	}

	runner := pool.NewRunner(p, jobs, b, ar, stubBody, log)
	log.Info("worker started", zap.Strings("tenants", tenants))
	if err := runner.Run(ctx, tenants); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("runner stopped", zap.Error(err))
	}
	log.Info("worker stopped")
}

// stubBody is the stand-in job body used until a real executor is wired in.
// It walks total_count items, reporting progress, and honours two payload
// knobs: step_ms per item and fail_with to force a failure.
func stubBody(ctx context.Context, job *domain.JobRecord, report pool.ReportFunc) error {
	var p struct {
		StepMs   int    `json:"step_ms"`
		FailWith string `json:"fail_with"`
	}
	if len(job.Payload) > 0 {
		_ = json.Unmarshal(job.Payload, &p)
	}
	step := time.Duration(p.StepMs) * time.Millisecond

	for i := 1; i <= job.TotalCount; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if step > 0 {
			time.Sleep(step)
		}
		report(i, i)
	}
	if p.FailWith != "" {
		return errors.New(p.FailWith)
	}
	return nil
}

func newLogger(appEnv string) *zap.Logger {
	if appEnv == "dev" {
		log, _ := zap.NewDevelopment()
		return log
	}
	log, _ := zap.NewProduction()
	return log
}
