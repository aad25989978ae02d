// Package pool gives every tenant its own dispatch queue over the store's
// list primitive. Isolation is the fairness mechanism: tenant A's backlog
// lives in A's list and cannot delay a pop on B's.
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/you/slotq/internal/admission"
	"github.com/you/slotq/internal/domain"
	"github.com/you/slotq/internal/storage"
)

type Pool struct {
	store storage.Storage
	jobs  *admission.Store

	mu     sync.Mutex
	queues map[string]*Queue
}

func New(store storage.Storage, jobs *admission.Store) *Pool {
	return &Pool{store: store, jobs: jobs, queues: make(map[string]*Queue)}
}

// Queue returns the tenant's dispatch queue, creating it on first use.
func (p *Pool) Queue(tenant string) *Queue {
	p.mu.Lock()
	defer p.mu.Unlock()
	q, ok := p.queues[tenant]
	if !ok {
		q = &Queue{tenant: tenant, store: p.store}
		p.queues[tenant] = q
	}
	return q
}

// Stats reports the tenant's queue depth and job-status counts.
func (p *Pool) Stats(ctx context.Context, tenant string) (*Stats, error) {
	queued, err := p.store.QueueLen(ctx, storage.QueueKey(tenant))
	if err != nil {
		return nil, err
	}
	records, err := p.jobs.GetAllJobsForTenant(ctx, tenant)
	if err != nil {
		return nil, err
	}
	st := &Stats{TenantID: tenant, Queued: queued}
	for _, job := range records {
		switch job.Status {
		case domain.Running:
			st.Running++
		case domain.Completed:
			st.Finished++
		case domain.Failed:
			st.Failed++
		}
	}
	return st, nil
}

// Clear purges the tenant's backlog. Administrative offboarding only; jobs
// already popped are unaffected and records stay until their transitions.
func (p *Pool) Clear(ctx context.Context, tenant string) error {
	return p.store.DeleteQueue(ctx, storage.QueueKey(tenant))
}

type Stats struct {
	TenantID string `json:"tenant_id"`
	Queued   int64  `json:"queued"`
	Running  int    `json:"running"`
	Finished int    `json:"finished"`
	Failed   int    `json:"failed"`
}

// Queue is one tenant's FIFO dispatch list.
type Queue struct {
	tenant string
	store  storage.Storage
}

func (q *Queue) Push(ctx context.Context, jobID string) error {
	return q.store.PushQueue(ctx, storage.QueueKey(q.tenant), jobID)
}

// Pop blocks up to block for the oldest queued job id, returning
// storage.ErrNotFound on an empty wait.
func (q *Queue) Pop(ctx context.Context, block time.Duration) (string, error) {
	return q.store.PopQueue(ctx, storage.QueueKey(q.tenant), block)
}

func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.store.QueueLen(ctx, storage.QueueKey(q.tenant))
}
