package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/jobsubstrate/pkg/jobtypes"
	"github.com/cuemby/jobsubstrate/pkg/statusstore"
)

// fakeDispatcher lets tests control a job's outcome without spawning a
// real worker process.
type fakeDispatcher struct {
	delay  time.Duration
	result DispatchResult
	err    error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, job jobtypes.Job) (DispatchResult, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
		}
	}
	return f.result, f.err
}

func newTestEngine(t *testing.T, dispatcher Dispatcher) (*Engine, statusstore.Store) {
	store := statusstore.NewMemoryStore()
	eng := New(Config{
		WorkDir:            t.TempDir(),
		CleanupInterval:    time.Hour, // tests call cleanupOnce directly
		ResponseExpiration: time.Hour,
	}, store, dispatcher)
	return eng, store
}

// S1: SYNC happy path.
func TestExecuteSyncHappyPath(t *testing.T) {
	eng, _ := newTestEngine(t, &fakeDispatcher{result: DispatchResult{OK: true, Result: []byte(`{"x":1}`)}})

	resp, err := eng.Execute(context.Background(), jobtypes.ExecuteRequest{
		HandlerID: "echo",
		Mode:      jobtypes.ModeSync,
		Timeout:   10 * time.Second,
	})

	assert.NoError(t, err)
	assert.Equal(t, jobtypes.DoneStatus, resp.Status)
	assert.Equal(t, []byte(`{"x":1}`), resp.Body)

	rec, err := eng.GetStatus(resp.UUID)
	assert.NoError(t, err)
	assert.Equal(t, jobtypes.DoneStatus, rec.Status)
}

// S2: SYNC timeout.
func TestExecuteSyncTimeout(t *testing.T) {
	eng, _ := newTestEngine(t, &fakeDispatcher{delay: 500 * time.Millisecond, result: DispatchResult{OK: true}})

	start := time.Now()
	resp, err := eng.Execute(context.Background(), jobtypes.ExecuteRequest{
		HandlerID: "slow",
		Mode:      jobtypes.ModeSync,
		Timeout:   50 * time.Millisecond,
	})
	elapsed := time.Since(start)

	assert.Error(t, err)
	var timeoutErr *TimeoutError
	assert.ErrorAs(t, err, &timeoutErr)
	assert.Less(t, elapsed, 2*time.Second)
	assert.Equal(t, jobtypes.Response{}, resp)
}

// S4: FIRE_AND_FORGET.
func TestExecuteFireAndForget(t *testing.T) {
	eng, store := newTestEngine(t, &fakeDispatcher{result: DispatchResult{OK: true, Result: []byte(`{"ok":true}`)}})

	resp, err := eng.Execute(context.Background(), jobtypes.ExecuteRequest{
		HandlerID: "echo",
		Mode:      jobtypes.ModeFireAndForget,
		Timeout:   10 * time.Second,
	})
	assert.NoError(t, err)
	assert.Equal(t, jobtypes.Accepted, resp.Status)

	assert.Eventually(t, func() bool {
		rec, err := store.GetStatus(resp.UUID)
		return err == nil && rec.Status == jobtypes.DoneStatus
	}, time.Second, 10*time.Millisecond)

	result, err := eng.GetResults(resp.UUID)
	assert.NoError(t, err)
	assert.Equal(t, []byte(`{"ok":true}`), result)
}

// S5: cleanup reclaims a dangling record.
func TestCleanupDangling(t *testing.T) {
	eng, store := newTestEngine(t, &fakeDispatcher{})

	record := jobtypes.StatusRecord{
		UUID:      "dangling-job",
		Status:    jobtypes.Started,
		Timestamp: time.Now().Add(-time.Hour).Unix(),
		Timeout:   60,
	}
	seedRecord(t, store, record)

	eng.cleanupOnce()

	_, err := store.GetStatus("dangling-job")
	assert.Error(t, err)
}

// S6: cleanup skips a pinned record.
func TestCleanupSkipsPinned(t *testing.T) {
	eng, store := newTestEngine(t, &fakeDispatcher{})

	record := jobtypes.StatusRecord{
		UUID:      "pinned-job",
		Status:    jobtypes.Started,
		Timestamp: time.Now().Add(-time.Hour).Unix(),
		Timeout:   60,
		Pinned:    true,
	}
	seedRecord(t, store, record)

	eng.cleanupOnce()

	rec, err := store.GetStatus("pinned-job")
	assert.NoError(t, err)
	assert.Equal(t, jobtypes.Started, rec.Status)
}

// Invariant 8: DeleteResults refuses to delete a non-terminal record and
// leaves it untouched.
func TestDeleteResultsRefusesNonTerminal(t *testing.T) {
	eng, store := newTestEngine(t, &fakeDispatcher{})

	record := jobtypes.StatusRecord{UUID: "running-job", Status: jobtypes.Started}
	seedRecord(t, store, record)

	ok, err := eng.DeleteResults("running-job")
	assert.NoError(t, err)
	assert.False(t, ok)

	rec, err := store.GetStatus("running-job")
	assert.NoError(t, err)
	assert.Equal(t, jobtypes.Started, rec.Status)
}

// Invariant 8 (terminal case): DeleteResults removes a terminal record
// and its workdir.
func TestDeleteResultsRemovesTerminal(t *testing.T) {
	eng, store := newTestEngine(t, &fakeDispatcher{})

	record := jobtypes.StatusRecord{UUID: "done-job", Status: jobtypes.DoneStatus}
	seedRecord(t, store, record)

	workDir := filepath.Join(eng.cfg.WorkDir, "done-job")
	assert.NoError(t, os.MkdirAll(workDir, 0755))

	ok, err := eng.DeleteResults("done-job")
	assert.NoError(t, err)
	assert.True(t, ok)

	_, err = store.GetStatus("done-job")
	assert.Error(t, err)
	_, statErr := os.Stat(workDir)
	assert.True(t, os.IsNotExist(statErr))
}

// DeleteResults surfaces a not-found error for an unknown uuid instead
// of silently succeeding.
func TestDeleteResultsUnknownUUID(t *testing.T) {
	eng, _ := newTestEngine(t, &fakeDispatcher{})

	ok, err := eng.DeleteResults("no-such-job")
	assert.Error(t, err)
	assert.False(t, ok)
}

func seedRecord(t *testing.T, store statusstore.Store, record jobtypes.StatusRecord) {
	t.Helper()
	ms, ok := store.(*statusstore.MemoryStore)
	if !ok {
		t.Fatalf("seedRecord: expected *statusstore.MemoryStore, got %T", store)
	}
	ms.PutRecord(record)
}
