// Package engine implements the Execution Engine (C5): the
// single-threaded control-plane entry point that accepts a job, logs
// it to the Status Store, dispatches it into the Worker Pool, and, for
// SYNC mode, blocks the caller on the outcome bounded by the job's
// timeout. It also runs the periodic cleanup loop that reclaims
// dangling and expired status records. Grounded on the original qywps
// Execute()/wait_for/_clean_processes design (spec.md §4, §6), wired
// here over pkg/workerpool and pkg/statusstore rather than an asyncio
// event loop.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/jobsubstrate/pkg/jobmetrics"
	"github.com/cuemby/jobsubstrate/pkg/jobtypes"
	"github.com/cuemby/jobsubstrate/pkg/joblog"
	"github.com/cuemby/jobsubstrate/pkg/statusstore"
	"github.com/cuemby/jobsubstrate/pkg/workerpool"
)

// Dispatcher is the subset of workerpool.Pool the engine depends on,
// so tests can substitute a fake pool without spawning real processes.
type Dispatcher interface {
	Dispatch(ctx context.Context, job jobtypes.Job) (DispatchResult, error)
}

// DispatchResult is the outcome of running a job on a worker.
type DispatchResult struct {
	OK      bool
	Result  []byte
	ErrMsg  string
	ErrCode int
}

// PoolAdapter wraps a *workerpool.Pool so it satisfies Dispatcher.
type PoolAdapter struct {
	Pool *workerpool.Pool
}

func (a PoolAdapter) Dispatch(ctx context.Context, job jobtypes.Job) (DispatchResult, error) {
	resp, err := a.Pool.Dispatch(ctx, job)
	if err != nil {
		return DispatchResult{}, err
	}
	return DispatchResult{OK: resp.OK, Result: resp.Result, ErrMsg: resp.ErrMsg, ErrCode: resp.ErrCode}, nil
}

// TimeoutError is returned by Execute when a SYNC job's wait exceeds
// its timeout. TimeoutError and ProcessError are the two SYNC failures
// that correspond to the domain code jobtypes.ErrCodeNotApplicable
// (424); neither type carries that code as a field or method.
type TimeoutError struct {
	UUID string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("job %s: timeout error", e.UUID)
}

// ProcessError wraps a handler-raised domain error surfaced to a SYNC
// caller.
type ProcessError struct {
	UUID    string
	Message string
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("job %s: %s", e.UUID, e.Message)
}

// Config configures an Engine.
type Config struct {
	WorkDir            string
	CleanupInterval    time.Duration
	ResponseExpiration time.Duration
}

// Engine ties the Status Store, Worker Pool, and cleanup loop
// together behind the Execute/GetStatus/GetResults/DeleteResults
// surface.
type Engine struct {
	cfg     Config
	store   statusstore.Store
	pool    Dispatcher
	stopCh  chan struct{}
	stopped chan struct{}
}

// New returns an Engine that dispatches through pool and persists
// through store. Call Run in a goroutine to start the cleanup loop.
func New(cfg Config, store statusstore.Store, pool Dispatcher) *Engine {
	return &Engine{
		cfg:     cfg,
		store:   store,
		pool:    pool,
		stopCh:  make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Execute accepts req, records it, and dispatches it into the pool.
// In SYNC mode it blocks for the outcome, bounded by req.Timeout; in
// FIRE_AND_FORGET mode it returns immediately with ACCEPTED and the
// final outcome is only observable through GetStatus/GetResults.
func (e *Engine) Execute(ctx context.Context, req jobtypes.ExecuteRequest) (jobtypes.Response, error) {
	id := uuid.New().String()
	workDir := filepath.Join(e.cfg.WorkDir, id)
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return jobtypes.Response{}, fmt.Errorf("engine: create workdir for job %s: %w", id, err)
	}

	timeoutSeconds := int(req.Timeout / time.Second)
	if err := e.store.LogRequest(id, timeoutSeconds); err != nil {
		return jobtypes.Response{}, fmt.Errorf("engine: log request %s: %w", id, err)
	}

	job := jobtypes.Job{
		UUID:      id,
		HandlerID: req.HandlerID,
		Request:   req.Request,
		Timeout:   req.Timeout,
		Mode:      req.Mode,
		WorkDir:   workDir,
	}

	log := joblog.WithJob(id)

	if req.Mode == jobtypes.ModeFireAndForget {
		go e.runInBackground(job)
		return jobtypes.Response{UUID: id, Status: jobtypes.Accepted}, nil
	}

	timer := jobmetrics.NewTimer()
	resultCh := make(chan dispatchOutcome, 1)
	go func() {
		res, err := e.pool.Dispatch(context.Background(), job)
		resultCh <- dispatchOutcome{res: res, err: err}
	}()

	waitCtx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	select {
	case outcome := <-resultCh:
		timer.ObserveDuration(jobmetrics.JobExecutionDuration)
		return e.resolveSync(id, outcome)
	case <-waitCtx.Done():
		// wait_for(timeout) only cancels the waiter: the worker-side
		// timer (and, failing that, the supervisor controller) is
		// responsible for actually killing the stalled worker.
		log.Error().Msg("SYNC execute exceeded timeout waiting for worker")
		_ = e.store.UpdateStatus(id, "Timeout Error", 0, jobtypes.ErrorStatus)
		jobmetrics.JobsTotal.WithLabelValues("error").Inc()
		return jobtypes.Response{}, &TimeoutError{UUID: id}
	}
}

type dispatchOutcome struct {
	res DispatchResult
	err error
}

func (e *Engine) resolveSync(id string, outcome dispatchOutcome) (jobtypes.Response, error) {
	if outcome.err != nil {
		_ = e.store.UpdateStatus(id, outcome.err.Error(), 0, jobtypes.ErrorStatus)
		jobmetrics.JobsTotal.WithLabelValues("error").Inc()
		return jobtypes.Response{}, &ProcessError{UUID: id, Message: outcome.err.Error()}
	}
	if !outcome.res.OK {
		_ = e.store.UpdateStatus(id, outcome.res.ErrMsg, 0, jobtypes.ErrorStatus)
		jobmetrics.JobsTotal.WithLabelValues("error").Inc()
		if outcome.res.ErrMsg == "Timeout Error" {
			return jobtypes.Response{}, &TimeoutError{UUID: id}
		}
		return jobtypes.Response{}, &ProcessError{UUID: id, Message: outcome.res.ErrMsg}
	}

	_ = e.store.SetResult(id, outcome.res.Result)
	_ = e.store.UpdateStatus(id, "Task finished", 100, jobtypes.DoneStatus)
	jobmetrics.JobsTotal.WithLabelValues("done").Inc()
	return jobtypes.Response{UUID: id, Status: jobtypes.DoneStatus, Body: outcome.res.Result}, nil
}

func (e *Engine) runInBackground(job jobtypes.Job) {
	timer := jobmetrics.NewTimer()
	res, err := e.pool.Dispatch(context.Background(), job)
	timer.ObserveDuration(jobmetrics.JobExecutionDuration)

	log := joblog.WithJob(job.UUID)
	if err != nil {
		log.Error().Err(err).Msg("background job dispatch failed")
		_ = e.store.UpdateStatus(job.UUID, err.Error(), 0, jobtypes.ErrorStatus)
		jobmetrics.JobsTotal.WithLabelValues("error").Inc()
		return
	}
	if !res.OK {
		log.Error().Str("message", res.ErrMsg).Msg("background job handler failed")
		_ = e.store.UpdateStatus(job.UUID, res.ErrMsg, 0, jobtypes.ErrorStatus)
		jobmetrics.JobsTotal.WithLabelValues("error").Inc()
		return
	}
	_ = e.store.SetResult(job.UUID, res.Result)
	_ = e.store.UpdateStatus(job.UUID, "Task finished", 100, jobtypes.DoneStatus)
	jobmetrics.JobsTotal.WithLabelValues("done").Inc()
}

// GetStatus returns the current status record for uuid.
func (e *Engine) GetStatus(uuid string) (jobtypes.StatusRecord, error) {
	return e.store.GetStatus(uuid)
}

// GetResults returns the stored result payload for uuid.
func (e *Engine) GetResults(uuid string) ([]byte, error) {
	return e.store.GetResults(uuid)
}

// DeleteResults removes the status record and working directory for a
// terminal job. It refuses to delete a non-terminal (still in-flight)
// job: the returned bool is false and nothing is changed, mirroring
// the original's delete_results(), which only ever deletes a response
// once its status has reached DONE/ERROR. The cleanup loop's passive
// reclaim is the only thing allowed to remove a non-terminal record
// (and only once it is also dangling or expired).
func (e *Engine) DeleteResults(uuid string) (bool, error) {
	rec, err := e.store.GetStatus(uuid)
	if err != nil {
		var notFound *statusstore.ErrNotFound
		if errors.As(err, &notFound) {
			return false, fmt.Errorf("engine: delete results: %w: %w", os.ErrNotExist, err)
		}
		return false, err
	}
	if !rec.Status.Terminal() {
		return false, nil
	}

	if err := e.store.DeleteResponse(uuid); err != nil {
		return false, err
	}
	if err := os.RemoveAll(filepath.Join(e.cfg.WorkDir, uuid)); err != nil && !os.IsNotExist(err) {
		return false, err
	}
	return true, nil
}

// Run starts the periodic cleanup loop and blocks until Stop is
// called.
func (e *Engine) Run() {
	defer close(e.stopped)

	ticker := time.NewTicker(e.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.cleanupOnce()
		case <-e.stopCh:
			return
		}
	}
}

// Stop halts the cleanup loop.
func (e *Engine) Stop() {
	close(e.stopCh)
	<-e.stopped
}

func (e *Engine) cleanupOnce() {
	timer := jobmetrics.NewTimer()
	defer timer.ObserveDuration(jobmetrics.CleanupCycleDuration)

	records, err := e.store.Records()
	if err != nil {
		joblog.WithComponent("engine").Err(err).Msg("cleanup: failed to list records")
		return
	}

	now := time.Now().Unix()

	for _, rec := range records {
		if rec.Record.Pinned {
			continue
		}

		dangling := rec.Record.Timestamp == 0 ||
			(!rec.Record.Status.Terminal() && (rec.Record.Timeout == 0 || now-rec.Record.Timestamp >= int64(rec.Record.Timeout)))

		expiration := rec.Record.Expiration
		if expiration == 0 {
			expiration = int(e.cfg.ResponseExpiration / time.Second)
		}
		expired := now-rec.Record.Timestamp >= int64(expiration)

		if !dangling && !expired {
			continue
		}

		reason := "expired"
		if dangling {
			reason = "dangling"
		}

		joblog.WithJob(rec.UUID).Info().Str("reason", reason).Msg("cleaning up status record")

		workDir := filepath.Join(e.cfg.WorkDir, rec.UUID)
		if err := os.RemoveAll(workDir); err != nil {
			joblog.WithJob(rec.UUID).Warn().Err(err).Msg("failed to remove workdir during cleanup")
		}
		if err := e.store.DeleteResponse(rec.UUID); err != nil {
			joblog.WithJob(rec.UUID).Warn().Err(err).Msg("failed to delete status record during cleanup")
			continue
		}

		jobmetrics.CleanupRecordsReclaimed.WithLabelValues(reason).Inc()
	}
}
