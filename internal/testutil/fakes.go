// Package testutil provides in-process fakes for the bundler and the
// runtime loader so platform behaviour can be tested without esbuild or a
// real isolate runtime.
package testutil

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/substrate-host/substrate/internal/bundle"
	"github.com/substrate-host/substrate/internal/loader"
)

// FakeBundler "compiles" by passing the source files through unchanged. It
// is deterministic, counts invocations, and can be made slow or failing for
// concurrency and error-path tests.
type FakeBundler struct {
	builds atomic.Int64

	// Delay is applied inside each build; used by single-flight tests.
	Delay time.Duration
	// Err fails every build when set.
	Err error
}

// Build implements bundle.Bundler.
func (f *FakeBundler) Build(ctx context.Context, files map[string]string, opts bundle.Options) (*bundle.Result, error) {
	f.builds.Add(1)
	if f.Delay > 0 {
		select {
		case <-time.After(f.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.Err != nil {
		return nil, f.Err
	}

	entry, err := bundle.EntryPoint(files, opts)
	if err != nil {
		return nil, err
	}
	modules := make(map[string]string, len(files))
	for p, c := range files {
		modules[p] = c
	}
	return &bundle.Result{MainModule: entry, Modules: modules}, nil
}

// Builds reports how many times Build ran.
func (f *FakeBundler) Builds() int {
	return int(f.builds.Load())
}

// FakeLoader mimics a runtime with its own instance cache: Get reuses a
// live stub per name and only runs the cold start for unseen names.
type FakeLoader struct {
	mu        sync.Mutex
	instances map[string]*FakeStub

	coldStarts atomic.Int64

	// GetErr fails every Get when set.
	GetErr error
}

// NewFakeLoader creates an empty fake runtime.
func NewFakeLoader() *FakeLoader {
	return &FakeLoader{instances: make(map[string]*FakeStub)}
}

// Get implements loader.Loader.
func (l *FakeLoader) Get(ctx context.Context, name string, coldStart loader.ColdStart) (loader.Stub, error) {
	if l.GetErr != nil {
		return nil, l.GetErr
	}

	l.mu.Lock()
	if stub, ok := l.instances[name]; ok {
		l.mu.Unlock()
		return stub, nil
	}
	l.mu.Unlock()

	l.coldStarts.Add(1)
	desc, err := coldStart.Prepare(ctx)
	if err != nil {
		return nil, err
	}

	stub := &FakeStub{Name: name, Descriptor: desc}
	l.mu.Lock()
	l.instances[name] = stub
	l.mu.Unlock()
	return stub, nil
}

// ColdStarts reports how many cold starts ran.
func (l *FakeLoader) ColdStarts() int {
	return int(l.coldStarts.Load())
}

// Evict drops a live instance, forcing the next Get to cold-start.
func (l *FakeLoader) Evict(name string) {
	l.mu.Lock()
	delete(l.instances, name)
	l.mu.Unlock()
}

// FakeStub is a loaded fake worker. Dispatch echoes the main module's
// source as the response body, so tests can assert on worker content
// without executing any code.
type FakeStub struct {
	Name       string
	Descriptor *loader.Descriptor
}

// GetEntrypoint implements loader.Stub.
func (s *FakeStub) GetEntrypoint(name string) (loader.Fetcher, error) {
	return &fakeFetcher{stub: s, entrypoint: name}, nil
}

type fakeFetcher struct {
	stub       *FakeStub
	entrypoint string
}

// Dispatch implements loader.Fetcher.
func (f *fakeFetcher) Dispatch(_ context.Context, req *loader.Request) (*loader.Response, error) {
	if req == nil {
		return nil, errors.New("nil request")
	}
	body := f.stub.Descriptor.Modules[f.stub.Descriptor.MainModule]
	return &loader.Response{
		Status: 200,
		Headers: map[string]string{
			"x-fake-worker":     f.stub.Name,
			"x-fake-entrypoint": f.entrypoint,
		},
		Body: []byte(body),
	}, nil
}
