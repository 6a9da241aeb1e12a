// Package wireframe implements the length-prefixed frame codec used to
// dispatch jobs from a Worker Pool (parent) to a worker process (child)
// over a Unix stream socket, and to return the response. This is the Go
// realization of the original qywps design, where the parent writes a
// pickled request to the child's stdin pipe and reads a pickled response
// back; here the transport is a dedicated control socket (see
// pkg/supervisor for the separate, datagram-based heartbeat channel) and
// the payload codec is encoding/gob rather than a language-specific
// pickler, since both ends of this link are always Go binaries built
// from this same repository.
//
// Wire format: a 4-byte big-endian length prefix followed by that many
// bytes of gob-encoded payload. No generated stubs, no external framing
// library: this is a closed, two-binary protocol (cmd/jobsubstrate and
// cmd/jobworker), so a hand-rolled frame is the proportionate choice
// over pulling in gRPC/protobuf for a single request/response exchange.
package wireframe

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"

	"github.com/cuemby/jobsubstrate/pkg/jobtypes"
)

// maxFrameSize guards against a corrupt length prefix forcing an
// unbounded allocation.
const maxFrameSize = 256 * 1024 * 1024

// JobRequest is sent from the pool to a worker to start a job.
type JobRequest struct {
	UUID      string
	HandlerID string
	Request   []byte
	WorkDir   string
	Timeout   int64 // nanoseconds
}

// JobResponse is sent from a worker back to the pool once the handler
// returns (or fails).
type JobResponse struct {
	UUID    string
	OK      bool
	Result  []byte
	ErrMsg  string
	ErrCode int
}

// ToJobRequest converts a domain Job into its wire representation.
func ToJobRequest(job jobtypes.Job) JobRequest {
	return JobRequest{
		UUID:      job.UUID,
		HandlerID: job.HandlerID,
		Request:   job.Request,
		WorkDir:   job.WorkDir,
		Timeout:   int64(job.Timeout),
	}
}

// WriteFrame gob-encodes v and writes it to w as one length-prefixed
// frame.
func WriteFrame(w io.Writer, v interface{}) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return fmt.Errorf("wireframe: encode: %w", err)
	}

	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(buf.Len()))
	if _, err := w.Write(lenPrefix[:]); err != nil {
		return fmt.Errorf("wireframe: write length prefix: %w", err)
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("wireframe: write payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame from r and gob-decodes it
// into v.
func ReadFrame(r io.Reader, v interface{}) error {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(lenPrefix[:])
	if n > maxFrameSize {
		return fmt.Errorf("wireframe: frame of %d bytes exceeds limit", n)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return fmt.Errorf("wireframe: read payload: %w", err)
	}
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(v); err != nil {
		return fmt.Errorf("wireframe: decode: %w", err)
	}
	return nil
}
