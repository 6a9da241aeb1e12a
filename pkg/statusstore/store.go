// Package statusstore defines the Status Store (C1): the pluggable
// backend that persists job status, request metadata, and results, and
// enumerates records for the cleanup loop. Two backends are registered by
// this repo -- "bolt" (go.etcd.io/bbolt) and "memory" -- following the
// same named-backend resolution the original qywps LOGStore.create() uses
// via setuptools entry points, realized here with a plain constructor
// registry (grounded on the teacher's storage.NewBoltStore pattern).
package statusstore

import (
	"fmt"
	"sync"

	"github.com/cuemby/jobsubstrate/pkg/jobtypes"
)

// Record is a copy of a StatusRecord paired with its uuid, returned by
// Records(); the pairing exists because some backends key by a value that
// is not itself embedded in the stored bytes.
type Record struct {
	UUID   string
	Record jobtypes.StatusRecord
}

// Store is the capability set every Status Store backend must implement.
type Store interface {
	// LogRequest creates a record in ACCEPTED state with the current
	// timestamp.
	LogRequest(uuid string, timeout int) error

	// UpdateStatus mutates an existing record. Unknown uuids are a
	// silent no-op: late updates can arrive after a record has been
	// deleted by cleanup or DeleteResults.
	UpdateStatus(uuid string, message string, progress int, status jobtypes.JobStatus) error

	// SetResult attaches a result payload to an existing record,
	// independent of UpdateStatus so handlers can stream a result
	// before the final status transition if they choose to.
	SetResult(uuid string, result []byte) error

	// GetStatus returns a single record, or ErrNotFound.
	GetStatus(uuid string) (jobtypes.StatusRecord, error)

	// GetAllStatus returns every record (the Go equivalent of calling
	// the original's get_status(uuid=None)).
	GetAllStatus() ([]Record, error)

	// GetResults returns the terminal result payload for uuid, or nil
	// if the job hasn't produced one yet.
	GetResults(uuid string) ([]byte, error)

	// DeleteResponse removes a record. Idempotent.
	DeleteResponse(uuid string) error

	// Records returns a snapshot of every (uuid, record) pair, safe to
	// range over while other writers continue to update the backing
	// store (spec.md: "implementations must take a copy").
	Records() ([]Record, error)

	// InitSession is called once per process (including inside each
	// worker) to (re)attach to the backing store.
	InitSession() error

	// Close releases any resources held by the backend.
	Close() error
}

// ErrNotFound is returned by GetStatus for an unknown uuid.
type ErrNotFound struct {
	UUID string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("status record not found: %s", e.UUID)
}

// ErrStorageNotFound is returned by Open when name isn't registered.
type ErrStorageNotFound struct {
	Name string
}

func (e *ErrStorageNotFound) Error() string {
	return fmt.Sprintf("status store backend not found: %s", e.Name)
}

// Constructor builds a Store backend rooted at dataDir.
type Constructor func(dataDir string) (Store, error)

var (
	registryMu sync.Mutex
	registry   = map[string]Constructor{}
)

// RegisterBackend registers a named Store constructor. Called from each
// backend's init() (bolt.go, memory.go), mirroring the original's
// entry-point based plugin discovery with a compile-time registry instead
// of a runtime plugin loader, since this repo does not implement external
// handler discovery (spec.md "Out of scope").
func RegisterBackend(name string, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = ctor
}

// Open resolves a backend by name and constructs it rooted at dataDir.
func Open(name string, dataDir string) (Store, error) {
	registryMu.Lock()
	ctor, ok := registry[name]
	registryMu.Unlock()
	if !ok {
		return nil, &ErrStorageNotFound{Name: name}
	}
	return ctor(dataDir)
}
