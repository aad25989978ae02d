// Package reconcile is the self-healing sweep. A worker that crashes after
// reserving a slot leaves the semaphore higher than the true active count
// and its job stuck in running; this service recounts semaphores from the
// job records and force-fails stale jobs through the normal failure path.
package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/you/slotq/internal/admission"
	"github.com/you/slotq/internal/domain"
	"github.com/you/slotq/internal/metrics"
	"github.com/you/slotq/internal/storage"
)

const DefaultStaleTimeout = 30 * time.Minute

// fanOutWorkers bounds concurrent per-tenant reconciliations in ReconcileAll.
const fanOutWorkers = 4

type Service struct {
	jobs         *admission.Store
	store        storage.Storage
	staleTimeout time.Duration
	log          *zap.Logger
}

func New(jobs *admission.Store, store storage.Storage, staleTimeout time.Duration, log *zap.Logger) *Service {
	if staleTimeout <= 0 {
		staleTimeout = DefaultStaleTimeout
	}
	return &Service{jobs: jobs, store: store, staleTimeout: staleTimeout, log: log}
}

// ReconcileSemaphore recounts the tenant's pending and running records and
// overwrites the semaphore if it drifted. Returns the true active count and
// whether a repair was made.
func (s *Service) ReconcileSemaphore(ctx context.Context, tenant string) (int64, bool, error) {
	records, err := s.jobs.GetAllJobsForTenant(ctx, tenant)
	if err != nil {
		return 0, false, err
	}
	var active int64
	for _, job := range records {
		if job.Active() {
			active++
		}
	}

	current, err := s.jobs.ActiveCount(ctx, tenant)
	if err != nil {
		return 0, false, err
	}
	if current == active {
		return active, false, nil
	}

	if err := s.jobs.SetActiveCount(ctx, tenant, active); err != nil {
		return 0, false, err
	}
	metrics.DriftRepaired.WithLabelValues(tenant).Inc()
	s.log.Warn("repaired semaphore drift",
		zap.String("tenant", tenant),
		zap.Int64("stored", current),
		zap.Int64("counted", active))
	return active, true, nil
}

// DetectStaleJobs returns running jobs whose started_at is older than the
// stale timeout, presumed abandoned by a crashed worker.
func (s *Service) DetectStaleJobs(ctx context.Context, tenant string) ([]*domain.JobRecord, error) {
	records, err := s.jobs.GetAllJobsForTenant(ctx, tenant)
	if err != nil {
		return nil, err
	}
	cutoff := time.Now().Add(-s.staleTimeout)
	var stale []*domain.JobRecord
	for _, job := range records {
		if job.Status == domain.Running && job.StartedAt != nil && job.StartedAt.Before(cutoff) {
			stale = append(stale, job)
		}
	}
	return stale, nil
}

// CleanupStaleJobs force-fails every stale job through SetError, the one
// audited terminal-transition path, so slot release happens there and
// nowhere else. Returns how many jobs were failed.
func (s *Service) CleanupStaleJobs(ctx context.Context, tenant string) (int, error) {
	stale, err := s.DetectStaleJobs(ctx, tenant)
	if err != nil {
		return 0, err
	}

	var errs error
	failed := 0
	msg := fmt.Sprintf("job timed out after %s in running state", s.staleTimeout)
	for _, job := range stale {
		if _, err := s.jobs.SetError(ctx, tenant, job.JobID, msg); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("fail stale job %s: %w", job.JobID, err))
			continue
		}
		failed++
		metrics.StaleJobsFailed.WithLabelValues(tenant).Inc()
		s.log.Info("force-failed stale job",
			zap.String("tenant", tenant),
			zap.String("job_id", job.JobID),
			zap.Timep("started_at", job.StartedAt))
	}
	return failed, errs
}

// FullReconciliation fails stale jobs first, then recounts the semaphore, so
// the recount sees the post-cleanup ground truth.
func (s *Service) FullReconciliation(ctx context.Context, tenant string) error {
	_, err := s.CleanupStaleJobs(ctx, tenant)
	if err != nil {
		return err
	}
	_, _, err = s.ReconcileSemaphore(ctx, tenant)
	return err
}

// ReconcileAll fans FullReconciliation out over tenants. One tenant's
// failure never stops the others; errors are collected and returned
// combined.
func (s *Service) ReconcileAll(ctx context.Context, tenants []string) error {
	var (
		mu   sync.Mutex
		errs error
	)
	var g errgroup.Group
	g.SetLimit(fanOutWorkers)
	for _, tenant := range tenants {
		tenant := tenant
		g.Go(func() error {
			if err := s.FullReconciliation(ctx, tenant); err != nil {
				s.log.Error("reconciliation failed",
					zap.String("tenant", tenant), zap.Error(err))
				mu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("tenant %s: %w", tenant, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

// Tenants discovers every tenant with a semaphore key in the store. A tenant
// that ever reserved a slot keeps its counter key, so this is the sweep's
// worklist.
func (s *Service) Tenants(ctx context.Context) ([]string, error) {
	keys, err := s.store.ScanKeys(ctx, storage.SemaphoreKey(""))
	if err != nil {
		return nil, err
	}
	tenants := make([]string, 0, len(keys))
	for _, key := range keys {
		if tenant, ok := storage.TenantFromSemaphoreKey(key); ok {
			tenants = append(tenants, tenant)
		}
	}
	return tenants, nil
}
