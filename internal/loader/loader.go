// Package loader defines the contracts between the control plane and the
// runtime that executes compiled worker modules. The runtime is opaque: the
// control plane hands it a descriptor and receives a dispatchable handle.
package loader

import (
	"context"

	"github.com/substrate-host/substrate/internal/model"
)

// Request is the HTTP-shaped input dispatched to a worker.
type Request struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    []byte            `json:"body,omitempty"`
}

// Response is the worker's reply. WorkerError is set when the runtime caught
// an exception thrown by tenant code; the response body still carries the
// runtime's sentinel payload.
type Response struct {
	Status      int               `json:"status"`
	Headers     map[string]string `json:"headers,omitempty"`
	Body        []byte            `json:"body,omitempty"`
	WorkerError string            `json:"worker_error,omitempty"`
}

// Descriptor is everything the runtime needs to instantiate a worker.
type Descriptor struct {
	MainModule         string
	Modules            map[string]string
	Env                map[string]string
	CompatibilityDate  string
	CompatibilityFlags []string
	Limits             *model.Limits
	GlobalOutbound     string
	Tails              []string
}

// ColdStart produces a descriptor on demand. The runtime may invoke Prepare
// at any time after Get returns, so implementations must be idempotent and
// side-effect-light.
type ColdStart interface {
	Prepare(ctx context.Context) (*Descriptor, error)
}

// ColdStartFunc adapts a function to the ColdStart interface.
type ColdStartFunc func(ctx context.Context) (*Descriptor, error)

// Prepare implements ColdStart.
func (f ColdStartFunc) Prepare(ctx context.Context) (*Descriptor, error) {
	return f(ctx)
}

// Fetcher dispatches requests to a single worker entrypoint.
type Fetcher interface {
	Dispatch(ctx context.Context, req *Request) (*Response, error)
}

// Stub is a runnable worker handle. Entrypoint name "" selects the default
// export.
type Stub interface {
	GetEntrypoint(name string) (Fetcher, error)
}

// Loader instantiates workers. Get returns a stub for the named isolate,
// invoking coldStart when the runtime has no live instance under that name.
type Loader interface {
	Get(ctx context.Context, name string, coldStart ColdStart) (Stub, error)
}
