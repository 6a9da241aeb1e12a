package jobtypes

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobStatusTerminal(t *testing.T) {
	assert.False(t, Accepted.Terminal())
	assert.False(t, Started.Terminal())
	assert.False(t, StoreStatus.Terminal())
	assert.True(t, DoneStatus.Terminal())
	assert.True(t, ErrorStatus.Terminal())
}

func TestJobStatusMustStore(t *testing.T) {
	assert.False(t, Accepted.MustStore())
	assert.False(t, Started.MustStore())
	assert.True(t, StoreStatus.MustStore())
	assert.True(t, StoreAndUpdateStatus.MustStore())
	assert.True(t, DoneStatus.MustStore())
}

func TestJobStatusString(t *testing.T) {
	assert.Equal(t, "ACCEPTED", Accepted.String())
	assert.Equal(t, "DONE", DoneStatus.String())
	assert.Equal(t, "ERROR", ErrorStatus.String())
	assert.Equal(t, "UNKNOWN", JobStatus(99).String())
}

func TestConfigNormalize(t *testing.T) {
	cfg := Config{ParallelProcesses: 0, ProcessLifecycle: -5}
	cfg.Normalize()

	assert.Equal(t, 1, cfg.ParallelProcesses)
	assert.Equal(t, 0, cfg.ProcessLifecycle)
	assert.Equal(t, DefaultConfig().CleanupInterval, cfg.CleanupInterval)
	assert.Equal(t, DefaultConfig().ResponseExpiration, cfg.ResponseExpiration)
	assert.Equal(t, DefaultConfig().ServiceName, cfg.ServiceName)
}

func TestNewProcessError(t *testing.T) {
	err := NewProcessError("boom")
	assert.Equal(t, "boom", err.Error())
	assert.Equal(t, ErrCodeNotApplicable, err.Code)
}
