package workerpool

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cuemby/jobsubstrate/pkg/jobmetrics"
	"github.com/cuemby/jobsubstrate/pkg/jobtypes"
	"github.com/cuemby/jobsubstrate/pkg/joblog"
	"github.com/cuemby/jobsubstrate/pkg/wireframe"
)

// Config configures a Pool.
type Config struct {
	// WorkerBinary is the path to the cmd/jobworker executable.
	WorkerBinary string

	// Size is the number of worker processes kept running.
	Size int

	// ProcessLifecycle is the number of jobs a worker runs before it is
	// retired and replaced by a fresh process (0 disables recycling).
	ProcessLifecycle int

	// SocketDir is the directory worker control sockets are created in.
	SocketDir string

	// SupervisorAddress is the Unix datagram address workers dial to
	// send BUSY/DONE heartbeats.
	SupervisorAddress string

	// DataDir is passed to workers so they can open the status store.
	DataDir string

	// StatusBackend is the name of the registered status store backend.
	StatusBackend string

	// ExtraEnv is appended to every worker's environment verbatim, on
	// top of os.Environ() and the JOBSUBSTRATE_* variables the pool
	// sets itself. Tests use it to make a worker binary self-identify
	// as a test helper.
	ExtraEnv []string
}

// Pool manages a fixed set of worker processes and dispatches jobs to
// whichever is free. Grounded on roadrunner's StaticPool: a pool of OS
// processes, all started up front by New, fed through a free-worker
// channel, with destroy-and-replace on crash or recycle.
type Pool struct {
	cfg Config

	free    chan *procWorker
	workers map[int]*procWorker
	mu      sync.Mutex

	shutdown chan struct{}
	wg       sync.WaitGroup
}

// New starts cfg.Size worker processes and returns a ready Pool.
func New(cfg Config) (*Pool, error) {
	if cfg.Size < 1 {
		cfg.Size = 1
	}

	p := &Pool{
		cfg:      cfg,
		free:     make(chan *procWorker, cfg.Size),
		workers:  make(map[int]*procWorker),
		shutdown: make(chan struct{}),
	}

	for i := 0; i < cfg.Size; i++ {
		w, err := p.spawn()
		if err != nil {
			p.Shutdown()
			return nil, fmt.Errorf("workerpool: initial spawn %d/%d: %w", i+1, cfg.Size, err)
		}
		p.free <- w
	}

	jobmetrics.WorkersTotal.WithLabelValues("idle").Set(float64(cfg.Size))
	jobmetrics.WorkersTotal.WithLabelValues("running").Set(0)

	return p, nil
}

func (p *Pool) env() []string {
	env := append(os.Environ(),
		"JOBSUBSTRATE_SUPERVISOR_ADDR="+p.cfg.SupervisorAddress,
		"JOBSUBSTRATE_DATA_DIR="+p.cfg.DataDir,
		"JOBSUBSTRATE_STATUS_BACKEND="+p.cfg.StatusBackend,
	)
	return append(env, p.cfg.ExtraEnv...)
}

func (p *Pool) spawn() (*procWorker, error) {
	w, err := newProcWorker(p.cfg.WorkerBinary, p.cfg.DataDir, p.cfg.SocketDir, p.env())
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.workers[w.pid] = w
	p.mu.Unlock()

	p.wg.Add(1)
	go p.reap(w)

	joblog.WithWorker(w.pid).Info().Msg("worker started")
	return w, nil
}

// reap waits for w's process to exit so the kernel releases its pid,
// then, unless the exit was already being handled by replaceDead or
// Shutdown, removes w and spawns a replacement. This is what notices a
// worker that dies while sitting idle in the free channel: nothing
// reads its control socket in that state, so Dispatch's own failure
// path never sees it.
func (p *Pool) reap(w *procWorker) {
	defer p.wg.Done()

	_ = w.wait()
	close(w.done)

	select {
	case <-p.shutdown:
		return
	default:
	}

	if !w.retiring.CompareAndSwap(false, true) {
		return
	}

	p.mu.Lock()
	delete(p.workers, w.pid)
	p.mu.Unlock()

	w.close()
	jobmetrics.WorkersCrashedTotal.Inc()
	jobmetrics.WorkersTotal.WithLabelValues("idle").Dec()
	joblog.WithWorker(w.pid).Warn().Msg("worker exited unexpectedly, respawning")

	replacement, err := p.spawn()
	if err != nil {
		joblog.WithComponent("workerpool").Err(err).Msg("failed to respawn worker after unexpected exit")
		return
	}
	jobmetrics.WorkersTotal.WithLabelValues("idle").Inc()

	select {
	case p.free <- replacement:
	case <-p.shutdown:
		replacement.kill()
	}
}

// KillPID forcibly kills the worker with the given pid. Intended to be
// passed to supervisor.NewController as a KillFunc; the reaper
// goroutine started by spawn will observe the exit and respawn.
func (p *Pool) KillPID(pid int) {
	p.mu.Lock()
	w, ok := p.workers[pid]
	p.mu.Unlock()
	if ok {
		w.kill()
	}
}

// Dispatch runs job on the next free worker, blocking until one is
// available or ctx is done. It returns the worker's response frame.
func (p *Pool) Dispatch(ctx context.Context, job jobtypes.Job) (wireframe.JobResponse, error) {
	jobmetrics.QueueDepth.Inc()

	var w *procWorker
	select {
	case w = <-p.free:
		jobmetrics.QueueDepth.Dec()
	case <-p.shutdown:
		jobmetrics.QueueDepth.Dec()
		return wireframe.JobResponse{}, fmt.Errorf("workerpool: shutting down")
	case <-ctx.Done():
		jobmetrics.QueueDepth.Dec()
		return wireframe.JobResponse{}, ctx.Err()
	}

	jobmetrics.WorkersTotal.WithLabelValues("idle").Dec()
	jobmetrics.WorkersTotal.WithLabelValues("running").Inc()

	resp, err := p.runOnWorker(w, job)

	jobmetrics.WorkersTotal.WithLabelValues("running").Dec()

	if err != nil {
		p.replaceDead(w, false)
		return wireframe.JobResponse{}, err
	}

	if p.cfg.ProcessLifecycle > 0 && w.recordTask() >= int64(p.cfg.ProcessLifecycle) {
		jobmetrics.WorkersRecycledTotal.Inc()
		joblog.WithWorker(w.pid).Info().Msg("worker reached process lifecycle limit, recycling")
		p.replaceDead(w, true)
	} else {
		jobmetrics.WorkersTotal.WithLabelValues("idle").Inc()
		select {
		case p.free <- w:
		case <-p.shutdown:
			w.kill()
		}
	}

	return resp, nil
}

// runOnWorker writes the job frame and blocks for the response. The
// conn deadline is set generously past job.Timeout: the worker's own
// in-process timer (tier 2) and the supervisor controller's kill-timer
// (tier 1) are what actually bound a wedged handler, so this deadline
// only protects against a worker that has gone completely silent
// without even the supervisor socket reaching it.
func (p *Pool) runOnWorker(w *procWorker, job jobtypes.Job) (wireframe.JobResponse, error) {
	if job.Timeout > 0 {
		_ = w.conn.SetDeadline(time.Now().Add(job.Timeout + 30*time.Second))
	} else {
		_ = w.conn.SetDeadline(time.Time{})
	}

	if err := wireframe.WriteFrame(w.conn, wireframe.ToJobRequest(job)); err != nil {
		return wireframe.JobResponse{}, fmt.Errorf("workerpool: dispatch job %s: %w", job.UUID, err)
	}

	var resp wireframe.JobResponse
	if err := wireframe.ReadFrame(w.conn, &resp); err != nil {
		return wireframe.JobResponse{}, fmt.Errorf("workerpool: read response for job %s: %w", job.UUID, err)
	}
	return resp, nil
}

// replaceDead removes a worker that crashed or finished its recycling
// and starts a fresh one in its place, keeping the pool at a constant
// size. w.kill() only requests termination; the pid is actually
// reaped by the reap() goroutine started for w in spawn(), which also
// races to retire w if it notices the exit first - the retiring flag
// makes sure only one of them does the bookkeeping below. recycled
// marks a worker retired for reaching ProcessLifecycle, which is not
// counted as a crash. w is not counted as idle here: Dispatch already
// moved it out of the idle gauge when it took w from the free channel.
func (p *Pool) replaceDead(w *procWorker, recycled bool) {
	w.kill()

	if !w.retiring.CompareAndSwap(false, true) {
		return
	}

	p.mu.Lock()
	delete(p.workers, w.pid)
	p.mu.Unlock()

	w.close()
	if !recycled {
		jobmetrics.WorkersCrashedTotal.Inc()
	}

	replacement, err := p.spawn()
	if err != nil {
		joblog.WithComponent("workerpool").Err(err).Msg("failed to respawn worker, pool is short one slot")
		return
	}
	jobmetrics.WorkersTotal.WithLabelValues("idle").Inc()

	select {
	case p.free <- replacement:
	case <-p.shutdown:
		replacement.kill()
	}
}

// Shutdown kills every worker, waits for each to actually exit so none
// are left as zombies, and stops accepting new dispatches.
func (p *Pool) Shutdown() {
	select {
	case <-p.shutdown:
		return
	default:
		close(p.shutdown)
	}

	p.mu.Lock()
	for pid, w := range p.workers {
		w.retiring.Store(true)
		w.kill()
		w.close()
		delete(p.workers, pid)
	}
	p.mu.Unlock()

	p.wg.Wait()
}
