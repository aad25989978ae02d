package pool

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/you/slotq/internal/admission"
	"github.com/you/slotq/internal/archive"
	"github.com/you/slotq/internal/domain"
	"github.com/you/slotq/internal/progress"
	"github.com/you/slotq/internal/storage"
)

// Handler is the caller-supplied job body. report persists and broadcasts
// progress counts; the handler's return value decides the terminal status.
type Handler func(ctx context.Context, job *domain.JobRecord, report ReportFunc) error

// ReportFunc records processed/successful counts for the running job.
type ReportFunc func(processed, successful int)

// Runner pops each tenant's queue in its own goroutine and drives popped
// jobs through running to a terminal status. Slots were reserved at
// enqueue time; the runner only consumes and settles them.
type Runner struct {
	pool     *Pool
	jobs     *admission.Store
	progress *progress.Broadcaster
	archive  *archive.Store // nil disables archival
	handler  Handler
	log      *zap.Logger

	popBlock time.Duration
}

func NewRunner(p *Pool, jobs *admission.Store, pb *progress.Broadcaster, ar *archive.Store, handler Handler, log *zap.Logger) *Runner {
	return &Runner{
		pool:     p,
		jobs:     jobs,
		progress: pb,
		archive:  ar,
		handler:  handler,
		log:      log,
		popBlock: 2 * time.Second,
	}
}

// Run consumes the given tenants' queues until ctx is cancelled.
func (r *Runner) Run(ctx context.Context, tenants []string) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, tenant := range tenants {
		tenant := tenant
		g.Go(func() error { return r.consume(ctx, tenant) })
	}
	return g.Wait()
}

func (r *Runner) consume(ctx context.Context, tenant string) error {
	q := r.pool.Queue(tenant)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		jobID, err := q.Pop(ctx, r.popBlock)
		if err == storage.ErrNotFound {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.log.Error("queue pop failed", zap.String("tenant", tenant), zap.Error(err))
			continue
		}
		r.process(ctx, tenant, jobID)
	}
}

func (r *Runner) process(ctx context.Context, tenant, jobID string) {
	job, err := r.jobs.UpdateStatus(ctx, tenant, jobID, domain.Running)
	if err != nil {
		r.log.Error("start transition failed",
			zap.String("tenant", tenant), zap.String("job_id", jobID), zap.Error(err))
		return
	}
	r.log.Info("job started", zap.String("tenant", tenant), zap.String("job_id", jobID))

	report := func(processed, successful int) {
		if err := r.jobs.UpdateProgress(ctx, tenant, jobID, processed, successful); err != nil {
			r.log.Warn("progress persist failed",
				zap.String("job_id", jobID), zap.Error(err))
		}
		r.progress.Publish(ctx, tenant, jobID, processed, job.TotalCount, domain.Running, job.StartedAt, nil)
	}

	err = r.invoke(ctx, job, report)
	if err != nil {
		r.settle(ctx, tenant, jobID, domain.Failed, err.Error())
		return
	}
	r.settle(ctx, tenant, jobID, domain.Completed, "")
}

// invoke runs the handler, converting a panic in the job body into an error
// so the terminal transition still happens and the slot is released.
func (r *Runner) invoke(ctx context.Context, job *domain.JobRecord, report ReportFunc) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job body panicked: %v", p)
		}
	}()
	return r.handler(ctx, job, report)
}

func (r *Runner) settle(ctx context.Context, tenant, jobID string, status domain.Status, errMsg string) {
	var (
		job *domain.JobRecord
		err error
	)
	if status == domain.Failed {
		job, err = r.jobs.SetError(ctx, tenant, jobID, errMsg)
	} else {
		job, err = r.jobs.UpdateStatus(ctx, tenant, jobID, status)
	}
	if err != nil {
		r.log.Error("terminal transition failed",
			zap.String("tenant", tenant), zap.String("job_id", jobID),
			zap.String("status", string(status)), zap.Error(err))
		return
	}

	r.progress.Publish(ctx, tenant, jobID, job.ProcessedCount, job.TotalCount, status, job.StartedAt, nil)
	r.log.Info("job settled",
		zap.String("tenant", tenant),
		zap.String("job_id", jobID),
		zap.String("status", string(status)))

	if r.archive != nil {
		if err := r.archive.InsertTerminal(ctx, job); err != nil {
			r.log.Warn("archive insert failed", zap.String("job_id", jobID), zap.Error(err))
		}
	}
}
