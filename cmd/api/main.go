package main

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/you/slotq/internal/admission"
	"github.com/you/slotq/internal/api"
	"github.com/you/slotq/internal/config"
	"github.com/you/slotq/internal/dispatch"
	"github.com/you/slotq/internal/pool"
	"github.com/you/slotq/internal/progress"
	"github.com/you/slotq/internal/reconcile"
	"github.com/you/slotq/internal/storage"
)

func main() {
	cfg := config.Load()
	log := newLogger(cfg.AppEnv)
	defer log.Sync()

	store, err := storage.Open(cfg.StorageBackend, cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		log.Fatal("open storage", zap.Error(err))
	}
	defer store.Close()

	jobs := admission.New(store, cfg.MaxConcurrentJobsPerTenant, cfg.JobRetentionTTL, log)
	p := pool.New(store, jobs)
	d := dispatch.New(jobs, p, log)
	recon := reconcile.New(jobs, store, cfg.StaleJobTimeout, log)
	b := progress.New(store, log)

	h := api.NewHandler(d, recon, p, b, store, log)

	log.Info("api listening",
		zap.String("addr", cfg.APIAddr),
		zap.String("backend", cfg.StorageBackend),
		zap.Int("tenant_limit", cfg.MaxConcurrentJobsPerTenant))
	if err := http.ListenAndServe(cfg.APIAddr, h.Routes()); err != nil {
		log.Fatal("serve", zap.Error(err))
	}
}

func newLogger(appEnv string) *zap.Logger {
	if appEnv == "dev" {
		log, _ := zap.NewDevelopment()
		return log
	}
	log, _ := zap.NewProduction()
	return log
}
