package wireframe

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/jobsubstrate/pkg/jobtypes"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	req := JobRequest{UUID: "job-1", HandlerID: "echo", Request: []byte("hello"), WorkDir: "/tmp/job-1", Timeout: int64(10 * time.Second)}
	assert.NoError(t, WriteFrame(&buf, req))

	var decoded JobRequest
	assert.NoError(t, ReadFrame(&buf, &decoded))
	assert.Equal(t, req, decoded)
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})

	var decoded JobResponse
	err := ReadFrame(&buf, &decoded)
	assert.Error(t, err)
}

func TestToJobRequest(t *testing.T) {
	job := jobtypes.Job{UUID: "job-2", HandlerID: "echo", Request: []byte("x"), Timeout: 5 * time.Second, WorkDir: "/tmp/job-2"}
	req := ToJobRequest(job)

	assert.Equal(t, job.UUID, req.UUID)
	assert.Equal(t, job.HandlerID, req.HandlerID)
	assert.Equal(t, job.Request, req.Request)
	assert.Equal(t, job.WorkDir, req.WorkDir)
	assert.Equal(t, int64(job.Timeout), req.Timeout)
}

func TestMultipleFramesOnSameStream(t *testing.T) {
	var buf bytes.Buffer

	assert.NoError(t, WriteFrame(&buf, JobResponse{UUID: "a", OK: true}))
	assert.NoError(t, WriteFrame(&buf, JobResponse{UUID: "b", OK: false, ErrMsg: "boom", ErrCode: 424}))

	var first, second JobResponse
	assert.NoError(t, ReadFrame(&buf, &first))
	assert.NoError(t, ReadFrame(&buf, &second))

	assert.Equal(t, "a", first.UUID)
	assert.True(t, first.OK)
	assert.Equal(t, "b", second.UUID)
	assert.Equal(t, 424, second.ErrCode)
}
