package loader

import (
	"context"
	"encoding/json"
	"sync"
)

// Echo is a development loader: it performs no execution, but honours the
// full loader contract, including per-name instance reuse. Dispatch answers
// with a JSON summary of the loaded worker and the request, which makes the
// control plane fully exercisable before a real runtime is attached.
type Echo struct {
	mu        sync.Mutex
	instances map[string]*echoStub
}

// NewEcho creates an empty echo runtime.
func NewEcho() *Echo {
	return &Echo{instances: make(map[string]*echoStub)}
}

// Get implements Loader.
func (e *Echo) Get(ctx context.Context, name string, coldStart ColdStart) (Stub, error) {
	e.mu.Lock()
	if stub, ok := e.instances[name]; ok {
		e.mu.Unlock()
		return stub, nil
	}
	e.mu.Unlock()

	desc, err := coldStart.Prepare(ctx)
	if err != nil {
		return nil, err
	}

	stub := &echoStub{name: name, desc: desc}
	e.mu.Lock()
	e.instances[name] = stub
	e.mu.Unlock()
	return stub, nil
}

// Evict drops a live instance.
func (e *Echo) Evict(name string) {
	e.mu.Lock()
	delete(e.instances, name)
	e.mu.Unlock()
}

type echoStub struct {
	name string
	desc *Descriptor
}

func (s *echoStub) GetEntrypoint(name string) (Fetcher, error) {
	return &echoFetcher{stub: s, entrypoint: name}, nil
}

type echoFetcher struct {
	stub       *echoStub
	entrypoint string
}

func (f *echoFetcher) Dispatch(_ context.Context, req *Request) (*Response, error) {
	modules := make([]string, 0, len(f.stub.desc.Modules))
	for path := range f.stub.desc.Modules {
		modules = append(modules, path)
	}
	body, err := json.Marshal(map[string]any{
		"worker":            f.stub.name,
		"entrypoint":        f.entrypoint,
		"mainModule":        f.stub.desc.MainModule,
		"modules":           modules,
		"compatibilityDate": f.stub.desc.CompatibilityDate,
		"request": map[string]string{
			"method": req.Method,
			"url":    req.URL,
		},
	})
	if err != nil {
		return nil, err
	}
	return &Response{
		Status:  200,
		Headers: map[string]string{"content-type": "application/json"},
		Body:    body,
	}, nil
}
