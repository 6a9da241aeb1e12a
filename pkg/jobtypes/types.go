// Package jobtypes defines the core data structures shared across the job
// execution substrate: the wire-level Job and StatusRecord model, the
// execution mode and status enums, process-level errors, and the
// substrate's configuration.
package jobtypes

import (
	"time"
)

// JobMode selects whether Execute blocks for the result or returns
// immediately and updates status in the background.
type JobMode string

const (
	// ModeSync blocks the caller until the handler finishes or the
	// timeout elapses.
	ModeSync JobMode = "sync"

	// ModeFireAndForget returns immediately with an ACCEPTED status;
	// the caller polls GetStatus/GetResults for completion.
	ModeFireAndForget JobMode = "fire-and-forget"
)

// JobStatus is the ordered lifecycle of a job's status record. Ordering
// matters: MustStore reports Status >= StoreStatus ("must be
// persisted"), and Terminal, which the cleanup loop and DeleteResults
// use, reports Status >= DoneStatus.
type JobStatus int

const (
	Accepted JobStatus = iota
	Started
	StoreStatus
	StoreAndUpdateStatus
	DoneStatus
	ErrorStatus
)

// Done is an alias of DoneStatus kept for readability at call sites
// (spec names it DONE; Go doesn't allow two consts with display name
// "Done" as distinct identifiers, so this is defined as an alias constant).
const Done = DoneStatus

// String renders the status the way it is logged and persisted.
func (s JobStatus) String() string {
	switch s {
	case Accepted:
		return "ACCEPTED"
	case Started:
		return "STARTED"
	case StoreStatus:
		return "STORE_STATUS"
	case StoreAndUpdateStatus:
		return "STORE_AND_UPDATE_STATUS"
	case DoneStatus:
		return "DONE"
	case ErrorStatus:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s >= DoneStatus
}

// MustStore reports whether a response at this status must be persisted
// by the Status Store (spec.md: "status >= STORE_STATUS implies the
// response must be persisted").
func (s JobStatus) MustStore() bool {
	return s >= StoreStatus
}

// Job is one invocation of a handler for a specific request.
type Job struct {
	UUID      string
	HandlerID string
	Request   []byte
	Timeout   time.Duration
	Mode      JobMode
	WorkDir   string
}

// StatusRecord is the persisted record of a job's progress, owned by the
// Status Store. Status progresses monotonically toward a terminal state.
// The cleanup loop deletes an unpinned record once it is expired, or once
// it is dangling (no timestamp, or non-terminal past its timeout).
type StatusRecord struct {
	UUID       string
	Status     JobStatus
	Message    string
	Progress   int
	Timestamp  int64 // unix seconds of last update
	Timeout    int   // seconds; 0 means unset
	Expiration int   // seconds; 0 means "use the store's default"
	Pinned     bool
	Result     []byte
}

// ErrCodeNotApplicable is the domain error code surfaced for both a
// handler-raised error and a SYNC timeout (spec.md §6/§7: "424").
const ErrCodeNotApplicable = 424

// ProcessError is a domain error carrying ErrCodeNotApplicable. The
// Engine does not return it: SYNC failures surface as engine.TimeoutError
// and engine.ProcessError. Code is always ErrCodeNotApplicable
// today; it is carried as a field (not a sentinel) so the engine and the
// worker envelope can attach a message without allocating new error types.
type ProcessError struct {
	Message string
	Code    int
}

func (e *ProcessError) Error() string {
	return e.Message
}

// NewProcessError builds a ProcessError with the standard domain code.
func NewProcessError(message string) *ProcessError {
	return &ProcessError{Message: message, Code: ErrCodeNotApplicable}
}

// Config holds the substrate's startup configuration. All fields are read
// once at process start; nothing here is meant to be hot-reloaded.
type Config struct {
	// LogStorage names the Status Store backend ("bolt" or "memory").
	LogStorage string `yaml:"logstorage"`

	// ParallelProcesses is the worker pool size (>= 1).
	ParallelProcesses int `yaml:"parallelprocesses"`

	// ProcessLifecycle is the max number of tasks a worker runs before the
	// pool kills and replaces it; 0 means unlimited ("eternal").
	ProcessLifecycle int `yaml:"processlifecycle"`

	// WorkDir is the root directory under which per-job workdirs are
	// created.
	WorkDir string `yaml:"workdir"`

	// CleanupInterval is the period of the Status Store reclamation loop.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	// ResponseExpiration is the default retention window for terminal
	// records that don't set their own Expiration.
	ResponseExpiration time.Duration `yaml:"response_expiration"`

	// ServiceName names the service. It does not affect the supervisor
	// IPC socket path, which supervisor.Address derives from DataDir and
	// the host process id.
	ServiceName string `yaml:"service_name"`

	// SupervisorTimeout is the kill-timer duration the controller arms
	// on every BUSY heartbeat. Heartbeats do not carry a job's own
	// timeout, so it applies to every job.
	SupervisorTimeout time.Duration `yaml:"supervisor_timeout"`

	// DataDir backs the Status Store's BoltDB file and the worker
	// control-socket directory.
	DataDir string `yaml:"data_dir"`

	// LogLevel/LogJSON are parsed from the config file but not read:
	// cmd/jobsubstrate configures pkg/joblog from its --log-level and
	// --log-json flags.
	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`

	// MetricsAddr, if non-empty, is the listen address for the
	// Prometheus /metrics handler.
	MetricsAddr string `yaml:"metrics_addr"`

	// WorkerBinary is the path to the cmd/jobworker executable the pool
	// spawns. It is not read from the config file; cmd/jobsubstrate sets
	// it from its --worker-binary flag (default "jobworker"). There is no
	// fallback when it is empty.
	WorkerBinary string `yaml:"-"`
}

// DefaultConfig returns a Config with the same defaults the original
// implementation falls back to when a key is absent from its ini file.
func DefaultConfig() Config {
	return Config{
		LogStorage:         "memory",
		ParallelProcesses:  4,
		ProcessLifecycle:   0,
		WorkDir:            "./workdir",
		CleanupInterval:    60 * time.Second,
		ResponseExpiration: 24 * time.Hour,
		ServiceName:        "jobsubstrate",
		SupervisorTimeout:  30 * time.Second,
		DataDir:            "./data",
		LogLevel:           "info",
	}
}

// Normalize clamps/repairs configuration the way the original's
// PoolExecutor.initialize() does ("maxparallel = max(1, maxparallel)",
// "0 mean eternal life").
func (c *Config) Normalize() {
	if c.ParallelProcesses < 1 {
		c.ParallelProcesses = 1
	}
	if c.ProcessLifecycle < 0 {
		c.ProcessLifecycle = 0
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = DefaultConfig().CleanupInterval
	}
	if c.ResponseExpiration <= 0 {
		c.ResponseExpiration = DefaultConfig().ResponseExpiration
	}
	if c.ServiceName == "" {
		c.ServiceName = DefaultConfig().ServiceName
	}
	if c.SupervisorTimeout <= 0 {
		c.SupervisorTimeout = DefaultConfig().SupervisorTimeout
	}
}

// ExecuteRequest is the Engine's input: what to run, with what payload,
// under which mode and timeout.
type ExecuteRequest struct {
	HandlerID string
	Request   []byte
	Mode      JobMode
	Timeout   time.Duration
}

// Response is the Engine's output for a completed or accepted job.
type Response struct {
	UUID   string
	Status JobStatus
	Body   []byte
}
