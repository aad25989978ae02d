package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/you/slotq/internal/admission"
	"github.com/you/slotq/internal/config"
	"github.com/you/slotq/internal/domain"
	"github.com/you/slotq/internal/lock"
	"github.com/you/slotq/internal/reconcile"
	"github.com/you/slotq/internal/storage"
)

const sweepLockKey = "reconcile-sweep"

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
	recon := reconcile.New(jobs, store, cfg.StaleJobTimeout, log)

	lockStore := store
	if cfg.DisableLocking {
		lockStore = nil
	}
	lk := lock.New(lockStore, lock.Options{
		DefaultTTL: cfg.LockTTL,
		RetryBase:  cfg.LockRetryBase,
		RetryMax:   cfg.LockRetryMax,
	}, log)

	c := cron.New()
	if _, err := c.AddFunc(cfg.SweepSchedule, func() { sweep(ctx, lk, recon, cfg.Tenants, cfg.LockTTL, log) }); err != nil {
		log.Fatal("bad sweep schedule", zap.String("schedule", cfg.SweepSchedule), zap.Error(err))
	}

	log.Info("sweeper started", zap.String("schedule", cfg.SweepSchedule))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	log.Info("sweeper stopped")
}

// sweep runs one full reconciliation pass under the sweep lock so only one
// sweeper instance works at a time. Losing the lock race is the normal case
// in multi-instance deployments and just means someone else is sweeping.
func sweep(ctx context.Context, lk *lock.Lock, recon *reconcile.Service, configured []string, ttl time.Duration, log *zap.Logger) {
	token, err := lk.Acquire(ctx, sweepLockKey, ttl, 2*time.Second)
	if err == domain.ErrLockTimeout {
		log.Debug("sweep lock held elsewhere, skipping pass")
		return
	}
	if err != nil {
		log.Error("sweep lock acquire failed", zap.Error(err))
		return
	}
	defer func() {
		if err := lk.Release(ctx, sweepLockKey, token); err != nil {
			log.Warn("sweep lock release failed", zap.Error(err))
		}
	}()

	discovered, err := recon.Tenants(ctx)
	if err != nil {
		log.Error("tenant discovery failed", zap.Error(err))
	}
	tenants := union(configured, discovered)
	if len(tenants) == 0 {
		return
	}

	if err := recon.ReconcileAll(ctx, tenants); err != nil {
		log.Error("sweep finished with errors", zap.Int("tenants", len(tenants)), zap.Error(err))
		return
	}
	log.Info("sweep finished", zap.Int("tenants", len(tenants)))
}

func union(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	var out []string
	for _, s := range append(append([]string(nil), a...), b...) {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func newLogger(appEnv string) *zap.Logger {
	if appEnv == "dev" {
		log, _ := zap.NewDevelopment()
		return log
	}
	log, _ := zap.NewProduction()
	return log
}
