// Package workerproc implements the worker-side job envelope that runs
// inside each cmd/jobworker process: it connects to the control socket
// opened by pkg/workerpool, loops reading job frames, and for each job
// changes into the job's work directory, arms an in-process deadline
// timer, notifies the Supervisor Channel it is busy, invokes the
// handler from pkg/registry, logs RSS memory delta, and writes back a
// response frame. Grounded on the original qywps
// Execute._run_process/_timeout_kill/memory_logger: a per-job Timer
// that SIGABRTs the process if the handler overruns, and a
// before/after RSS read logged around the handler call.
package workerproc

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/cuemby/jobsubstrate/pkg/jobtypes"
	"github.com/cuemby/jobsubstrate/pkg/joblog"
	"github.com/cuemby/jobsubstrate/pkg/registry"
	"github.com/cuemby/jobsubstrate/pkg/statusstore"
	"github.com/cuemby/jobsubstrate/pkg/supervisor"
	"github.com/cuemby/jobsubstrate/pkg/wireframe"
)

// Worker holds everything one worker process needs to serve jobs off
// its control socket until the parent closes the connection.
type Worker struct {
	conn     net.Conn
	registry *registry.Registry
	store    statusstore.Store
	notifier *supervisor.Notifier
}

// Options configures New.
type Options struct {
	ControlSocket  string
	Registry       *registry.Registry
	Store          statusstore.Store
	SupervisorAddr string
}

// New dials the control socket and, if configured, the supervisor
// channel, returning a Worker ready to Serve.
func New(opts Options) (*Worker, error) {
	conn, err := net.Dial("unix", opts.ControlSocket)
	if err != nil {
		return nil, fmt.Errorf("workerproc: dial control socket: %w", err)
	}

	var notifier *supervisor.Notifier
	if opts.SupervisorAddr != "" {
		notifier, err = supervisor.Dial(opts.SupervisorAddr)
		if err != nil {
			joblog.WithComponent("workerproc").Err(err).Msg("failed to dial supervisor channel, running unsupervised")
		}
	}

	return &Worker{
		conn:     conn,
		registry: opts.Registry,
		store:    opts.Store,
		notifier: notifier,
	}, nil
}

// Serve reads job frames off the control socket until it is closed by
// the parent (normal pool shutdown or recycling), running each job to
// completion in turn. A worker only ever runs one job at a time.
func (w *Worker) Serve() {
	for {
		var req wireframe.JobRequest
		if err := wireframe.ReadFrame(w.conn, &req); err != nil {
			joblog.WithComponent("workerproc").Info().Msg("control connection closed, exiting")
			return
		}

		resp := w.runJob(req)

		if err := wireframe.WriteFrame(w.conn, resp); err != nil {
			joblog.WithComponent("workerproc").Err(err).Msg("failed to write job response")
			return
		}
	}
}

func (w *Worker) runJob(req wireframe.JobRequest) wireframe.JobResponse {
	log := joblog.WithJob(req.UUID)

	if req.WorkDir != "" {
		if err := os.Chdir(req.WorkDir); err != nil {
			log.Error().Err(err).Msg("failed to chdir into job workdir")
		}
	}

	_ = w.store.UpdateStatus(req.UUID, "Task started", 0, jobtypes.Started)

	if w.notifier != nil {
		w.notifier.NotifyBusy()
		defer w.notifier.NotifyDone()
	}

	timeout := time.Duration(req.Timeout)
	var timer *time.Timer
	if timeout > 0 {
		timer = time.AfterFunc(timeout, func() {
			log.Error().Msg("handler exceeded its timeout, aborting worker process")
			_ = w.store.UpdateStatus(req.UUID, "Timeout Error", 0, jobtypes.ErrorStatus)
			// Drastic, matching the original: the worker process has
			// no safe way to interrupt an arbitrary running handler,
			// so it aborts itself and lets the pool replace it.
			_ = syscall.Kill(os.Getpid(), syscall.SIGABRT)
		})
	}

	startMem := readRSSBytes()

	handler, err := w.registry.Get(req.HandlerID)
	if err != nil {
		if timer != nil {
			timer.Stop()
		}
		log.Error().Err(err).Msg("unknown handler")
		_ = w.store.UpdateStatus(req.UUID, err.Error(), 0, jobtypes.ErrorStatus)
		return wireframe.JobResponse{UUID: req.UUID, OK: false, ErrMsg: err.Error(), ErrCode: 424}
	}

	var out registry.Response
	handlerErr := w.runWithLogCapture(req, handler, &out)

	if timer != nil {
		timer.Stop()
	}

	endMem := readRSSBytes()
	log.Info().
		Float64("start_mb", bytesToMB(startMem)).
		Float64("end_mb", bytesToMB(endMem)).
		Float64("delta_mb", bytesToMB(endMem-startMem)).
		Msg("job memory usage")

	if handlerErr != nil {
		log.Error().Err(handlerErr).Msg("handler returned an error")
		_ = w.store.UpdateStatus(req.UUID, handlerErr.Error(), 0, jobtypes.ErrorStatus)
		return wireframe.JobResponse{UUID: req.UUID, OK: false, ErrMsg: handlerErr.Error(), ErrCode: 424}
	}

	_ = w.store.SetResult(req.UUID, out.Body)
	_ = w.store.UpdateStatus(req.UUID, "Task finished", 100, jobtypes.DoneStatus)

	return wireframe.JobResponse{UUID: req.UUID, OK: true, Result: out.Body}
}

// runWithLogCapture runs handler inside a "processing" logfile context
// for the job's workdir, mirroring the original's
// logfile_context(workdir, 'processing') contextmanager: output the
// handler writes through os.Stdout/os.Stderr is captured to
// workdir/processing.log instead of leaking onto the worker's own
// stdout. Only those Go variables are swapped; writes made directly to
// file descriptors 1 and 2 are not captured. A handler panic is
// recovered and returned as an "Internal error" error.
func (w *Worker) runWithLogCapture(req wireframe.JobRequest, handler registry.Handler, out *registry.Response) (err error) {
	defer func() {
		if r := recover(); r != nil {
			joblog.WithJob(req.UUID).Error().Interface("panic", r).Msg("handler panicked")
			err = fmt.Errorf("Internal error")
		}
	}()

	logPath := filepath.Join(req.WorkDir, "processing.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		joblog.WithJob(req.UUID).Warn().Err(err).Msg("failed to open processing log, continuing without capture")
		return handler(context.Background(), req.Request, out)
	}
	defer logFile.Close()

	origStdout, origStderr := os.Stdout, os.Stderr
	os.Stdout, os.Stderr = logFile, logFile
	defer func() { os.Stdout, os.Stderr = origStdout, origStderr }()

	return handler(context.Background(), req.Request, out)
}

func readRSSBytes() int64 {
	data, err := os.ReadFile("/proc/self/status")
	if err != nil {
		return 0
	}

	lines := bytes.Split(data, []byte("\n"))
	for _, line := range lines {
		if bytes.HasPrefix(line, []byte("VmRSS:")) {
			fields := bytes.Fields(line)
			if len(fields) >= 2 {
				kb, err := strconv.ParseInt(string(fields[1]), 10, 64)
				if err == nil {
					return kb * 1024
				}
			}
		}
	}
	return 0
}

func bytesToMB(b int64) float64 {
	return float64(b) / (1024 * 1024)
}
