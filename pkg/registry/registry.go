// Package registry implements the in-process handler registry: the
// handler-id -> Handler lookup used by the worker envelope to resolve the
// callable named on an incoming Job. The external discovery mechanism
// that populates it (spec.md "Out of scope") is not part of this package;
// callers Install handlers explicitly, e.g. from a cmd/ main or from a
// plugin-loading layer supplied by the embedding application.
package registry

import (
	"context"
	"fmt"
)

// Response is the mutable object a Handler fills in. It mirrors the
// original's WPSResponse: handlers mutate it in place rather than
// returning a value, so that partial progress can be observed by status
// updates issued from inside the handler.
type Response struct {
	Body []byte
}

// Handler is a user-supplied function run inside a worker process. It
// takes a request payload and a response object to mutate; a non-nil
// error is treated as a domain ProcessException (spec.md §7).
type Handler func(ctx context.Context, request []byte, response *Response) error

// ErrUnknownHandler is returned by Get for a handler-id with no
// registration; spec.md's "Unknown-process" error. In this repository
// the only lookup runs inside the worker process (pkg/workerproc), which
// reports it back to the pool as a failed job; nothing checks the
// handler-id before dispatch.
type ErrUnknownHandler struct {
	HandlerID string
}

func (e *ErrUnknownHandler) Error() string {
	return fmt.Sprintf("unknown process handler: %s", e.HandlerID)
}

// Info describes an installed handler for enumeration purposes (the
// original's list_processes()).
type Info struct {
	ID          string
	Title       string
	Description string
}

// Registry maps handler identifiers to their Handler and descriptive
// Info. It has no internal locking: handlers are installed once at
// startup before the pool begins dispatching, mirroring the original's
// install_processes() being called from initialize() before the pool is
// opened for traffic.
type Registry struct {
	handlers map[string]Handler
	infos    map[string]Info
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		infos:    make(map[string]Info),
	}
}

// Install registers a handler under the given info's ID. A later Install
// with the same ID replaces the earlier one.
func (r *Registry) Install(info Info, handler Handler) {
	r.handlers[info.ID] = handler
	r.infos[info.ID] = info
}

// Get resolves a handler-id to its Handler, or ErrUnknownHandler.
func (r *Registry) Get(handlerID string) (Handler, error) {
	h, ok := r.handlers[handlerID]
	if !ok {
		return nil, &ErrUnknownHandler{HandlerID: handlerID}
	}
	return h, nil
}

// List returns the Info of every installed handler.
func (r *Registry) List() []Info {
	out := make([]Info, 0, len(r.infos))
	for _, info := range r.infos {
		out = append(out, info)
	}
	return out
}

// GetInfo returns the Info for a single handler-id.
func (r *Registry) GetInfo(handlerID string) (Info, error) {
	info, ok := r.infos[handlerID]
	if !ok {
		return Info{}, &ErrUnknownHandler{HandlerID: handlerID}
	}
	return info, nil
}
