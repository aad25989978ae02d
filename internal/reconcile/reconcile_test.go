package reconcile

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/you/slotq/internal/admission"
	"github.com/you/slotq/internal/domain"
	"github.com/you/slotq/internal/storage"
)

func newTestService(staleTimeout time.Duration) (*Service, *admission.Store, *storage.MemoryStore) {
	mem := storage.NewMemory()
	jobs := admission.New(mem, 5, 24*time.Hour, zap.NewNop())
	return New(jobs, mem, staleTimeout, zap.NewNop()), jobs, mem
}

func saveJob(t *testing.T, jobs *admission.Store, tenant, id string, status domain.Status, startedAgo time.Duration) {
	t.Helper()
	job := &domain.JobRecord{
		JobID:     id,
		TenantID:  tenant,
		Status:    status,
		CreatedAt: time.Now().UTC(),
	}
	if startedAgo > 0 {
		started := time.Now().UTC().Add(-startedAgo)
		job.StartedAt = &started
	}
	if err := jobs.SaveJob(context.Background(), job); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}
}

func TestReconcileSemaphoreRepairsDrift(t *testing.T) {
	s, jobs, _ := newTestService(30 * time.Minute)
	ctx := context.Background()

	// Three truly active jobs, but a corrupted semaphore claiming eight.
	saveJob(t, jobs, "acme", "j1", domain.Pending, 0)
	saveJob(t, jobs, "acme", "j2", domain.Running, time.Minute)
	saveJob(t, jobs, "acme", "j3", domain.Running, time.Minute)
	saveJob(t, jobs, "acme", "j4", domain.Completed, 0)
	jobs.SetActiveCount(ctx, "acme", 8)

	active, changed, err := s.ReconcileSemaphore(ctx, "acme")
	if err != nil {
		t.Fatalf("ReconcileSemaphore: %v", err)
	}
	if !changed || active != 3 {
		t.Errorf("got (active=%d, changed=%v), want (3, true)", active, changed)
	}
	if n, _ := jobs.ActiveCount(ctx, "acme"); n != 3 {
		t.Errorf("semaphore = %d after repair, want 3", n)
	}
}

func TestReconcileSemaphoreNoDrift(t *testing.T) {
	s, jobs, _ := newTestService(30 * time.Minute)
	ctx := context.Background()

	saveJob(t, jobs, "acme", "j1", domain.Running, time.Minute)
	jobs.SetActiveCount(ctx, "acme", 1)

	_, changed, err := s.ReconcileSemaphore(ctx, "acme")
	if err != nil {
		t.Fatalf("ReconcileSemaphore: %v", err)
	}
	if changed {
		t.Error("reported a repair with no drift")
	}
}

func TestDetectStaleJobs(t *testing.T) {
	s, jobs, _ := newTestService(30 * time.Minute)
	ctx := context.Background()

	saveJob(t, jobs, "acme", "stale", domain.Running, 31*time.Minute)
	saveJob(t, jobs, "acme", "fresh", domain.Running, 10*time.Minute)
	saveJob(t, jobs, "acme", "done", domain.Completed, 45*time.Minute)
	saveJob(t, jobs, "acme", "queued", domain.Pending, 0)

	stale, err := s.DetectStaleJobs(ctx, "acme")
	if err != nil {
		t.Fatalf("DetectStaleJobs: %v", err)
	}
	if len(stale) != 1 || stale[0].JobID != "stale" {
		ids := make([]string, len(stale))
		for i, j := range stale {
			ids[i] = j.JobID
		}
		t.Errorf("stale jobs = %v, want [stale]", ids)
	}
}

func TestCleanupStaleJobsReleasesSlots(t *testing.T) {
	s, jobs, _ := newTestService(30 * time.Minute)
	ctx := context.Background()

	jobs.SetActiveCount(ctx, "acme", 1)
	saveJob(t, jobs, "acme", "stale", domain.Running, time.Hour)

	n, err := s.CleanupStaleJobs(ctx, "acme")
	if err != nil {
		t.Fatalf("CleanupStaleJobs: %v", err)
	}
	if n != 1 {
		t.Errorf("cleaned %d jobs, want 1", n)
	}

	job, err := jobs.GetJob(ctx, "acme", "stale")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != domain.Failed {
		t.Errorf("status = %q, want failed", job.Status)
	}
	if job.ErrorMessage == "" {
		t.Error("timeout reason not recorded in error_message")
	}
	if count, _ := jobs.ActiveCount(ctx, "acme"); count != 0 {
		t.Errorf("ActiveCount = %d after cleanup, want 0", count)
	}
}

func TestFullReconciliationHealsCrashedWorker(t *testing.T) {
	s, jobs, _ := newTestService(30 * time.Minute)
	ctx := context.Background()

	// Simulated crash: two reservations, one job finished normally but the
	// other is stuck running past the timeout, and the semaphore drifted.
	jobs.SetActiveCount(ctx, "acme", 2)
	saveJob(t, jobs, "acme", "stuck", domain.Running, time.Hour)

	if err := s.FullReconciliation(ctx, "acme"); err != nil {
		t.Fatalf("FullReconciliation: %v", err)
	}

	job, _ := jobs.GetJob(ctx, "acme", "stuck")
	if job.Status != domain.Failed {
		t.Errorf("stuck job status = %q, want failed", job.Status)
	}
	if n, _ := jobs.ActiveCount(ctx, "acme"); n != 0 {
		t.Errorf("ActiveCount = %d after full reconciliation, want 0", n)
	}
}

func TestReconcileAllContinuesPastFailures(t *testing.T) {
	s, jobs, _ := newTestService(30 * time.Minute)
	ctx := context.Background()

	jobs.SetActiveCount(ctx, "a", 3)
	jobs.SetActiveCount(ctx, "b", 4)

	if err := s.ReconcileAll(ctx, []string{"a", "b"}); err != nil {
		t.Fatalf("ReconcileAll: %v", err)
	}

	for _, tenant := range []string{"a", "b"} {
		if n, _ := jobs.ActiveCount(ctx, tenant); n != 0 {
			t.Errorf("tenant %s semaphore = %d, want 0", tenant, n)
		}
	}
}

func TestTenantsDiscovery(t *testing.T) {
	s, jobs, _ := newTestService(30 * time.Minute)
	ctx := context.Background()

	jobs.ReserveSlot(ctx, "a")
	jobs.ReserveSlot(ctx, "b")

	tenants, err := s.Tenants(ctx)
	if err != nil {
		t.Fatalf("Tenants: %v", err)
	}
	found := make(map[string]bool)
	for _, tn := range tenants {
		found[tn] = true
	}
	if !found["a"] || !found["b"] {
		t.Errorf("Tenants = %v, want both a and b", tenants)
	}
}
