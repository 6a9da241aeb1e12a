// Package handlers wires the concrete job handlers this binary exposes
// into a pkg/registry.Registry. It is kept out of cmd/ so that more
// than one binary can share the same registry. cmd/jobworker installs
// it in every worker process; cmd/jobsubstrate does not import it, so
// handler-ids are only resolved inside the worker.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cuemby/jobsubstrate/pkg/registry"
)

// Default returns the registry of handlers this build of jobsubstrate
// serves. Production embedders are expected to replace this function
// with one that installs their own handlers; it exists here so the
// substrate is runnable and testable out of the box.
func Default() *registry.Registry {
	r := registry.New()
	r.Install(registry.Info{
		ID:          "echo",
		Title:       "Echo",
		Description: "Returns the JSON request payload, decoded and re-encoded",
	}, echoHandler)
	return r
}

func echoHandler(_ context.Context, request []byte, response *registry.Response) error {
	var payload interface{}
	if len(request) > 0 {
		if err := json.Unmarshal(request, &payload); err != nil {
			return fmt.Errorf("echo: invalid request payload: %w", err)
		}
	}
	out, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("echo: marshal response: %w", err)
	}
	response.Body = out
	return nil
}
