package workerpool

import (
	"context"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/jobsubstrate/pkg/jobtypes"
	"github.com/cuemby/jobsubstrate/pkg/wireframe"
)

// TestMain lets this test binary impersonate the jobworker binary: a
// subprocess invocation with JOBSUBSTRATE_TEST_HELPER set re-execs into
// helperWorkerMain instead of running the normal test suite. This is
// the same self-exec trick the standard library's os/exec tests use to
// avoid depending on an externally built helper binary.
func TestMain(m *testing.M) {
	if os.Getenv("JOBSUBSTRATE_TEST_HELPER") == "1" {
		helperWorkerMain()
		return
	}
	os.Exit(m.Run())
}

// helperWorkerMain is a minimal stand-in for cmd/jobworker. It is
// spawned with the same "-control-socket <path>" argument newProcWorker
// gives the real jobworker binary, dials that socket, answers exactly
// one job request by echoing the request bytes back as the result (or
// hanging forever for handler-id "hang"), and exits.
func helperWorkerMain() {
	var sockPath string
	for i, arg := range os.Args {
		if arg == "-control-socket" && i+1 < len(os.Args) {
			sockPath = os.Args[i+1]
		}
	}
	if sockPath == "" {
		os.Exit(1)
	}

	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		os.Exit(1)
	}
	defer conn.Close()

	var req wireframe.JobRequest
	if err := wireframe.ReadFrame(conn, &req); err != nil {
		os.Exit(1)
	}

	if req.HandlerID == "hang" {
		select {}
	}

	resp := wireframe.JobResponse{UUID: req.UUID, OK: true, Result: req.Request}
	_ = wireframe.WriteFrame(conn, resp)

	if req.HandlerID == "idle-crash" {
		// Answer successfully (the worker goes back to the free
		// channel), then die on its own a little later, simulating a
		// crash while idle rather than mid-dispatch.
		time.Sleep(50 * time.Millisecond)
		os.Exit(1)
	}
	os.Exit(0)
}

func testBinary(t *testing.T) string {
	t.Helper()
	self, err := os.Executable()
	assert.NoError(t, err)
	return self
}

func TestPoolDispatchEchoesRequest(t *testing.T) {
	dataDir := t.TempDir()

	p, err := New(Config{
		WorkerBinary: testBinary(t),
		Size:         1,
		SocketDir:    dataDir,
		DataDir:      dataDir,
		ExtraEnv:     []string{"JOBSUBSTRATE_TEST_HELPER=1"},
	})
	assert.NoError(t, err)
	defer p.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := p.Dispatch(ctx, jobtypes.Job{UUID: "job-1", HandlerID: "echo", Request: []byte("payload")})
	assert.NoError(t, err)
	assert.True(t, resp.OK)
	assert.Equal(t, []byte("payload"), resp.Result)
}

func TestPoolReplacesWorkerAfterExit(t *testing.T) {
	dataDir := t.TempDir()

	p, err := New(Config{
		WorkerBinary: testBinary(t),
		Size:         1,
		SocketDir:    dataDir,
		DataDir:      dataDir,
		ExtraEnv:     []string{"JOBSUBSTRATE_TEST_HELPER=1"},
	})
	assert.NoError(t, err)
	defer p.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// The helper process answers this first job, then exits. The
	// worker is still returned to the free pool as healthy since
	// writing its response succeeded.
	_, err = p.Dispatch(ctx, jobtypes.Job{UUID: "job-1", HandlerID: "echo", Request: []byte("one")})
	assert.NoError(t, err)

	// The second dispatch picks up the now-dead worker: its exit
	// closed the control connection, so this job fails and the pool
	// detects the dead worker and spawns a replacement.
	_, err = p.Dispatch(ctx, jobtypes.Job{UUID: "job-2", HandlerID: "echo", Request: []byte("two")})
	assert.Error(t, err)

	// A third dispatch lands on the freshly spawned replacement.
	resp, err := p.Dispatch(ctx, jobtypes.Job{UUID: "job-3", HandlerID: "echo", Request: []byte("three")})
	assert.NoError(t, err)
	assert.Equal(t, []byte("three"), resp.Result)
}

// A worker that crashes while sitting idle in the free channel (no
// dispatch in flight to notice the broken connection) must still be
// reaped and replaced, driven by Pool.reap rather than Dispatch.
func TestPoolReapsWorkerThatCrashesWhileIdle(t *testing.T) {
	dataDir := t.TempDir()

	p, err := New(Config{
		WorkerBinary: testBinary(t),
		Size:         1,
		SocketDir:    dataDir,
		DataDir:      dataDir,
		ExtraEnv:     []string{"JOBSUBSTRATE_TEST_HELPER=1"},
	})
	assert.NoError(t, err)
	defer p.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p.mu.Lock()
	var originalPID int
	for pid := range p.workers {
		originalPID = pid
	}
	p.mu.Unlock()

	resp, err := p.Dispatch(ctx, jobtypes.Job{UUID: "job-1", HandlerID: "idle-crash", Request: []byte("x")})
	assert.NoError(t, err)
	assert.True(t, resp.OK)

	assert.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		if len(p.workers) != 1 {
			return false
		}
		for pid := range p.workers {
			return pid != originalPID
		}
		return false
	}, 2*time.Second, 10*time.Millisecond, "reap() should have replaced the crashed idle worker with a new pid")

	resp, err = p.Dispatch(ctx, jobtypes.Job{UUID: "job-2", HandlerID: "echo", Request: []byte("two")})
	assert.NoError(t, err)
	assert.Equal(t, []byte("two"), resp.Result)
}
