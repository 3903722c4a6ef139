// internal/jobs/manager.go

// Package jobs makes every browser operation asynchronous and pollable.
// Submission returns a job id immediately; the operation runs on its own
// goroutine, serialized per project in submission order, bounded globally by
// a semaphore.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/halcyondata/browser-operator/api/schemas"
	"github.com/halcyondata/browser-operator/internal/browser"
	"github.com/halcyondata/browser-operator/internal/config"
)

// DefaultListLimit applies when a list request does not name one.
const DefaultListLimit = 10

// Runner executes the four operation kinds against real sessions. The
// operator package provides the production implementation.
type Runner interface {
	CreateSession(ctx context.Context, projectID string) (*schemas.OperationResult, error)
	Navigate(ctx context.Context, projectID, url string) (*schemas.OperationResult, error)
	Operate(ctx context.Context, projectID, instruction string) (*schemas.OperationResult, error)
	CloseSession(ctx context.Context, projectID string) (*schemas.OperationResult, error)
}

type jobRecord struct {
	job    schemas.Job
	cancel context.CancelFunc
}

// Manager owns the job table and the execution goroutines.
type Manager struct {
	runner    Runner
	lock      *browser.KeyedLock
	cfg       config.JobsConfig
	opTimeout time.Duration
	logger    *zap.Logger

	sem *semaphore.Weighted

	mu    sync.Mutex
	jobs  map[string]*jobRecord
	order []string

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup
}

// NewManager creates a job manager. opTimeout is the wall-clock bound applied
// to operate jobs.
func NewManager(runner Runner, cfg config.JobsConfig, opTimeout time.Duration, logger *zap.Logger) *Manager {
	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &Manager{
		runner:     runner,
		lock:       browser.NewKeyedLock(),
		cfg:        cfg,
		opTimeout:  opTimeout,
		logger:     logger.Named("job_manager"),
		sem:        semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		jobs:       make(map[string]*jobRecord),
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
	}
}

// newJobID mints ids in the "job-" + 32 hex form.
func newJobID() string {
	return "job-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func timeNow() *time.Time {
	t := time.Now()
	return &t
}

// Submit registers a job and starts it asynchronously. The project's FIFO
// ticket is taken here, synchronously, so two submissions for one project
// always execute in submission order no matter how the scheduler interleaves
// their goroutines.
func (m *Manager) Submit(kind schemas.JobKind, projectID, input string) (string, error) {
	switch kind {
	case schemas.JobCreate, schemas.JobNavigate, schemas.JobOperate, schemas.JobClose:
	default:
		return "", fmt.Errorf("unknown job kind %q", kind)
	}
	if projectID == "" {
		return "", errors.New("project_id is required")
	}
	if m.baseCtx.Err() != nil {
		return "", errors.New("job manager is closed")
	}

	runCtx, cancel := context.WithCancel(m.baseCtx)
	rec := &jobRecord{
		job: schemas.Job{
			ID:        newJobID(),
			Kind:      kind,
			ProjectID: projectID,
			Status:    schemas.JobPending,
			Input:     input,
			CreatedAt: time.Now(),
		},
		cancel: cancel,
	}

	ticket := m.lock.Enqueue(projectID)

	m.mu.Lock()
	m.jobs[rec.job.ID] = rec
	m.order = append(m.order, rec.job.ID)
	m.evictLocked()
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(runCtx, rec, ticket)

	m.logger.Info("Job submitted.",
		zap.String("job_id", rec.job.ID),
		zap.String("kind", string(kind)),
		zap.String("project_id", projectID))
	return rec.job.ID, nil
}

func (m *Manager) run(ctx context.Context, rec *jobRecord, ticket *browser.Ticket) {
	defer m.wg.Done()
	defer rec.cancel()
	defer ticket.Release()

	// Take the project turn before a concurrency slot: a job holding a slot
	// while queued behind its project could starve the job it is waiting for.
	if err := ticket.Wait(ctx); err != nil {
		m.finish(rec, nil, schemas.NewOperationError(schemas.CodeCancelled,
			"cancelled while queued", err))
		return
	}
	if err := m.sem.Acquire(ctx, 1); err != nil {
		m.finish(rec, nil, schemas.NewOperationError(schemas.CodeCancelled,
			"cancelled before execution", err))
		return
	}
	defer m.sem.Release(1)

	m.mu.Lock()
	if rec.job.Status != schemas.JobPending {
		m.mu.Unlock()
		return
	}
	rec.job.Status = schemas.JobRunning
	rec.job.StartedAt = timeNow()
	job := rec.job
	m.mu.Unlock()

	opCtx := ctx
	var opCancel context.CancelFunc
	if job.Kind == schemas.JobOperate && m.opTimeout > 0 {
		opCtx, opCancel = context.WithTimeout(ctx, m.opTimeout)
		defer opCancel()
	}

	var result *schemas.OperationResult
	var err error
	switch job.Kind {
	case schemas.JobCreate:
		result, err = m.runner.CreateSession(opCtx, job.ProjectID)
	case schemas.JobNavigate:
		result, err = m.runner.Navigate(opCtx, job.ProjectID, job.Input)
	case schemas.JobOperate:
		result, err = m.runner.Operate(opCtx, job.ProjectID, job.Input)
	case schemas.JobClose:
		result, err = m.runner.CloseSession(opCtx, job.ProjectID)
	}

	if err != nil {
		err = m.classify(opCtx, err)
	}
	m.finish(rec, result, err)
}

// classify maps context expiry onto the caller-facing codes: the operate
// wall clock produces OPERATION_TIMEOUT, everything else cancelled is
// CANCELLED.
func (m *Manager) classify(opCtx context.Context, err error) error {
	if errors.Is(opCtx.Err(), context.DeadlineExceeded) {
		oe := schemas.NewOperationError(schemas.CodeOperationTimeout,
			fmt.Sprintf("operation exceeded its %s wall clock", m.opTimeout), err)
		var inner *schemas.OperationError
		if errors.As(err, &inner) {
			oe.History = inner.History
		}
		return oe
	}
	var oe *schemas.OperationError
	if errors.As(err, &oe) {
		return oe
	}
	return schemas.NewOperationError(schemas.ErrorCode("INTERNAL"), err.Error(), err)
}

// finish records the terminal state. Terminal jobs are immutable; a job that
// was cancelled while this result raced in stays cancelled.
func (m *Manager) finish(rec *jobRecord, result *schemas.OperationResult, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.job.Status.Terminal() {
		return
	}
	rec.job.FinishedAt = timeNow()
	if err == nil {
		rec.job.Status = schemas.JobCompleted
		rec.job.Result = result
	} else {
		var oe *schemas.OperationError
		if !errors.As(err, &oe) {
			oe = schemas.NewOperationError(schemas.ErrorCode("INTERNAL"), err.Error(), err)
		}
		if oe.Code == schemas.CodeCancelled {
			rec.job.Status = schemas.JobCancelled
		} else {
			rec.job.Status = schemas.JobFailed
		}
		rec.job.Error = oe
	}
	m.logger.Info("Job finished.",
		zap.String("job_id", rec.job.ID),
		zap.String("status", string(rec.job.Status)))
}

// Status returns a copy of the job. Reading status never mutates anything.
func (m *Manager) Status(jobID string) (schemas.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.jobs[jobID]
	if !ok {
		return schemas.Job{}, schemas.NewOperationError(schemas.CodeJobNotFound,
			fmt.Sprintf("no job %q", jobID), nil)
	}
	return rec.job, nil
}

// List returns summaries newest first, truncated to limit (DefaultListLimit
// when limit is not positive).
func (m *Manager) List(limit int) []schemas.JobSummary {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]schemas.JobSummary, 0, limit)
	for i := len(m.order) - 1; i >= 0 && len(out) < limit; i-- {
		rec, ok := m.jobs[m.order[i]]
		if !ok {
			continue
		}
		out = append(out, schemas.JobSummary{
			ID:        rec.job.ID,
			Kind:      rec.job.Kind,
			ProjectID: rec.job.ProjectID,
			Status:    rec.job.Status,
			Input:     rec.job.Input,
			CreatedAt: rec.job.CreatedAt,
		})
	}
	return out
}

// Cancel requests cancellation. Pending jobs cancel immediately; running jobs
// observe it at their next step boundary; terminal jobs are left untouched.
func (m *Manager) Cancel(jobID string) error {
	m.mu.Lock()
	rec, ok := m.jobs[jobID]
	if !ok {
		m.mu.Unlock()
		return schemas.NewOperationError(schemas.CodeJobNotFound,
			fmt.Sprintf("no job %q", jobID), nil)
	}
	if rec.job.Status.Terminal() {
		m.mu.Unlock()
		return nil
	}
	if rec.job.Status == schemas.JobPending {
		rec.job.Status = schemas.JobCancelled
		rec.job.FinishedAt = timeNow()
		rec.job.Error = schemas.NewOperationError(schemas.CodeCancelled,
			"cancelled before execution", nil)
	}
	cancel := rec.cancel
	m.mu.Unlock()

	cancel()
	m.logger.Info("Job cancellation requested.", zap.String("job_id", jobID))
	return nil
}

// evictLocked enforces the retention caps, oldest terminal jobs first.
// Callers hold m.mu.
func (m *Manager) evictLocked() {
	cutoff := time.Time{}
	if m.cfg.MaxAge > 0 {
		cutoff = time.Now().Add(-m.cfg.MaxAge)
	}

	keep := m.order[:0]
	excess := len(m.order) - m.cfg.MaxJobs
	for _, id := range m.order {
		rec := m.jobs[id]
		evictable := rec.job.Status.Terminal() &&
			(excess > 0 || (!cutoff.IsZero() && rec.job.FinishedAt != nil && rec.job.FinishedAt.Before(cutoff)))
		if evictable {
			delete(m.jobs, id)
			if excess > 0 {
				excess--
			}
			continue
		}
		keep = append(keep, id)
	}
	m.order = keep
}

// Close stops accepting work, cancels what is queued, and waits for in-flight
// jobs up to the drain timeout.
func (m *Manager) Close(ctx context.Context) error {
	m.baseCancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	drain := m.cfg.DrainTimeout
	if drain <= 0 {
		drain = 30 * time.Second
	}
	select {
	case <-done:
		return nil
	case <-time.After(drain):
		return errors.New("timed out draining jobs")
	case <-ctx.Done():
		return ctx.Err()
	}
}
