// Package service is the embedding surface of the migration engine: submit
// a job, watch its status, cancel it, resume the last incomplete one. The
// CLI is one caller; the package works just as well linked into another
// process.
package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/oradrift/oradrift/internal/audit"
	"github.com/oradrift/oradrift/internal/checkpoint"
	"github.com/oradrift/oradrift/internal/config"
	"github.com/oradrift/oradrift/internal/driver"
	"github.com/oradrift/oradrift/internal/logging"
	"github.com/oradrift/oradrift/internal/orchestrator"
)

// Engine owns the durable state store and the set of running jobs.
type Engine struct {
	cfg      *config.Config
	state    *checkpoint.State
	auditLog *audit.Log
	reporter orchestrator.ProgressReporter

	mu      sync.Mutex
	running map[string]*runningJob
}

type runningJob struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// New opens the state store and prepares the engine. reporter may be nil.
func New(cfg *config.Config, reporter orchestrator.ProgressReporter) (*Engine, error) {
	state, err := checkpoint.Open(cfg.State.Path)
	if err != nil {
		return nil, err
	}
	auditLog, err := audit.New(state.DB())
	if err != nil {
		state.Close()
		return nil, err
	}
	return &Engine{
		cfg:      cfg,
		state:    state,
		auditLog: auditLog,
		reporter: reporter,
		running:  make(map[string]*runningJob),
	}, nil
}

// Close releases the state store. Running jobs should be cancelled and
// waited on first.
func (e *Engine) Close() error { return e.state.Close() }

// State exposes the checkpoint store for read-only status and history
// commands.
func (e *Engine) State() *checkpoint.State { return e.state }

// Audit exposes the audit log for query commands.
func (e *Engine) Audit() *audit.Log { return e.auditLog }

// SubmitJob creates a new job and starts it in the background. The
// returned id is the handle for Wait, GetStatus and CancelJob.
func (e *Engine) SubmitJob(ctx context.Context) (string, error) {
	jobID := uuid.NewString()
	if err := e.state.CreateJob(jobID, e.cfg.Source.Type, e.cfg.Source.Schema, e.cfg.Target.Schema); err != nil {
		return "", err
	}
	e.start(ctx, jobID)
	return jobID, nil
}

// Resume restarts the most recent non-completed job from its persisted
// offsets. Failed and cancelled jobs are reopened first; already-committed
// chunks are never re-transferred. Returns checkpoint.ErrNotFound when
// there is nothing to resume.
func (e *Engine) Resume(ctx context.Context) (string, error) {
	job, err := e.state.GetLastResumableJob()
	if err != nil {
		return "", err
	}
	if job.Status.Terminal() {
		if err := e.state.ReopenJob(job.ID); err != nil {
			return "", err
		}
	}
	logging.Info("Resuming job %s (status %s)", job.ID, job.Status)
	e.start(ctx, job.ID)
	return job.ID, nil
}

func (e *Engine) start(ctx context.Context, jobID string) {
	runCtx, cancel := context.WithCancel(ctx)
	rj := &runningJob{cancel: cancel, done: make(chan struct{})}

	e.mu.Lock()
	e.running[jobID] = rj
	e.mu.Unlock()

	go func() {
		defer close(rj.done)
		defer cancel()
		rj.err = e.execute(runCtx, jobID)

		e.mu.Lock()
		delete(e.running, jobID)
		e.mu.Unlock()
	}()
}

// execute opens the database connections and drives the orchestrator.
func (e *Engine) execute(ctx context.Context, jobID string) error {
	src, err := driver.OpenSource(&e.cfg.Source, e.cfg.Migration.Workers)
	if err != nil {
		e.state.UpdateJobStatus(jobID, checkpoint.JobFailed, err.Error())
		return fmt.Errorf("opening source: %w", err)
	}
	defer src.Close()

	tgt, err := driver.OpenTarget(&e.cfg.Target, e.cfg.Migration.Workers)
	if err != nil {
		e.state.UpdateJobStatus(jobID, checkpoint.JobFailed, err.Error())
		return fmt.Errorf("opening target: %w", err)
	}
	defer tgt.Close()

	o := orchestrator.New(e.cfg, e.state, e.auditLog, src, tgt, e.reporter)
	return o.Run(ctx, jobID)
}

// Validate re-checks a finished job's tables against the live databases.
// An empty jobID means the most recent job.
func (e *Engine) Validate(ctx context.Context, jobID string) error {
	if jobID == "" {
		jobs, err := e.state.ListJobs()
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			return checkpoint.ErrNotFound
		}
		jobID = jobs[0].ID
	}

	src, err := driver.OpenSource(&e.cfg.Source, e.cfg.Migration.Workers)
	if err != nil {
		return fmt.Errorf("opening source: %w", err)
	}
	defer src.Close()

	tgt, err := driver.OpenTarget(&e.cfg.Target, e.cfg.Migration.Workers)
	if err != nil {
		return fmt.Errorf("opening target: %w", err)
	}
	defer tgt.Close()

	o := orchestrator.New(e.cfg, e.state, e.auditLog, src, tgt, nil)
	return o.ValidateOnly(ctx, jobID)
}

// Wait blocks until the job finishes and returns its error.
func (e *Engine) Wait(jobID string) error {
	e.mu.Lock()
	rj, ok := e.running[jobID]
	e.mu.Unlock()
	if !ok {
		// Already finished (or never started); report from durable state.
		job, err := e.state.GetJob(jobID)
		if err != nil {
			return err
		}
		if job.Status == checkpoint.JobFailed {
			return fmt.Errorf("job %s failed: %s", jobID, job.Error)
		}
		return nil
	}
	<-rj.done
	return rj.err
}

// CancelJob stops a running job between chunks. A job known only from
// durable state (e.g. after a crash) is marked cancelled directly.
func (e *Engine) CancelJob(jobID string) error {
	e.mu.Lock()
	rj, ok := e.running[jobID]
	e.mu.Unlock()

	if ok {
		rj.cancel()
		return nil
	}

	job, err := e.state.GetJob(jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return fmt.Errorf("job %s is already %s", jobID, job.Status)
	}
	return e.state.UpdateJobStatus(jobID, checkpoint.JobCancelled, "cancelled")
}

// Status is a point-in-time view of one job.
type Status struct {
	Job    *checkpoint.Job
	Tables []checkpoint.TableState
	Stats  *checkpoint.JobStats
}

// GetStatus reads the durable state for one job.
func (e *Engine) GetStatus(jobID string) (*Status, error) {
	job, err := e.state.GetJob(jobID)
	if err != nil {
		return nil, err
	}
	tables, err := e.state.GetTableStates(jobID)
	if err != nil {
		return nil, err
	}
	stats, err := e.state.GetJobStats(jobID)
	if err != nil {
		return nil, err
	}
	return &Status{Job: job, Tables: tables, Stats: stats}, nil
}

// History lists all jobs, most recent first.
func (e *Engine) History() ([]checkpoint.Job, error) {
	return e.state.ListJobs()
}
