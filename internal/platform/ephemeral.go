package platform

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/substrate-host/substrate/internal/bundle"
	"github.com/substrate-host/substrate/internal/errs"
	"github.com/substrate-host/substrate/internal/loader"
	"github.com/substrate-host/substrate/internal/model"
	"github.com/substrate-host/substrate/internal/observability"
	"github.com/substrate-host/substrate/internal/resolve"
)

// RunOptions tune an ephemeral run. All fields are optional.
type RunOptions struct {
	Build      *bundle.Options     `json:"build,omitempty"`
	Overrides  *model.ConfigBundle `json:"overrides,omitempty"`
	Entrypoint string              `json:"entrypoint,omitempty"`
}

// RunTiming reports per-stage wall-clock milliseconds for an ephemeral run.
type RunTiming struct {
	BuildTime int64 `json:"buildTime"`
	LoadTime  int64 `json:"loadTime"`
	RunTime   int64 `json:"runTime"`
	Total     int64 `json:"total"`
	Cached    bool  `json:"cached"`
}

// RunResult is the outcome of an ephemeral run.
type RunResult struct {
	BuildInfo   bundle.BuildInfo `json:"buildInfo"`
	Response    *loader.Response `json:"response"`
	WorkerError string           `json:"workerError,omitempty"`
	Timing      RunTiming        `json:"timing"`
}

// RunEphemeral builds the given source tree, loads it under a fingerprint-
// derived name and dispatches one request. No worker or hostname records are
// written; the bundle is cached by fingerprint only. tenantID may be empty
// for runs outside any tenant; a non-empty tenantID contributes the tenant's
// config to resolution and must exist.
func (p *Platform) RunEphemeral(ctx context.Context, tenantID string, files map[string]string, req *loader.Request, opts *RunOptions) (*RunResult, error) {
	ctx, span := p.tracer.Start(ctx, "platform.run_ephemeral")
	span.SetAttributes(attribute.String("tenant", tenantID))
	defer span.End()

	if opts == nil {
		opts = &RunOptions{}
	}
	if err := validateFiles(files); err != nil {
		return nil, err
	}

	tenantCfg := model.ConfigBundle{}
	if tenantID != "" {
		t, err := p.GetTenant(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		tenantCfg = t.Config
	}
	defaults, err := p.loadDefaults(ctx)
	if err != nil {
		return nil, err
	}

	buildOpts := bundle.DefaultOptions()
	if opts.Build != nil {
		buildOpts = *opts.Build
	}

	start := time.Now()
	_, info, err := p.bundles.GetOrBuild(ctx, files, buildOpts)
	buildTime := time.Since(start)
	if err != nil {
		return nil, err
	}

	cfg := resolve.Resolve(defaults, tenantCfg, opts.Overrides)

	name := "ephemeral:" + info.Fingerprint
	if tenantID != "" {
		name = tenantID + ":" + name
	}

	// The cold start re-reads the fingerprint-keyed bundle; it never
	// rebuilds. A TTL expiry between build and cold start fails the load.
	fingerprint := info.Fingerprint
	coldStart := loader.ColdStartFunc(func(ctx context.Context) (*loader.Descriptor, error) {
		b, err := p.bundles.Lookup(ctx, fingerprint)
		if err != nil {
			return nil, errs.Storage(err, "failed to read ephemeral bundle %s", fingerprint)
		}
		if b == nil {
			return nil, errs.New(errs.KindLoader, "ephemeral bundle %s expired", fingerprint)
		}
		return &loader.Descriptor{
			MainModule:         b.MainModule,
			Modules:            b.Modules,
			Env:                cfg.Env,
			CompatibilityDate:  cfg.CompatibilityDate,
			CompatibilityFlags: cfg.CompatibilityFlags,
			Limits:             cfg.Limits,
			GlobalOutbound:     cfg.GlobalOutbound,
			Tails:              cfg.Tails,
		}, nil
	})

	loadStart := time.Now()
	stub, err := p.runtime.Get(ctx, name, coldStart)
	loadTime := time.Since(loadStart)
	if err != nil {
		return nil, errs.Loader(err, "failed to load %s", name)
	}

	fetcher, err := stub.GetEntrypoint(opts.Entrypoint)
	if err != nil {
		return nil, errs.Loader(err, "failed to resolve entrypoint %q", opts.Entrypoint)
	}

	observability.DispatchesTotal.WithLabelValues("ephemeral").Inc()
	runStart := time.Now()
	resp, err := fetcher.Dispatch(ctx, req)
	runTime := time.Since(runStart)
	if err != nil {
		return nil, errs.Loader(err, "ephemeral dispatch failed")
	}

	result := &RunResult{
		BuildInfo:   info,
		Response:    resp,
		WorkerError: resp.WorkerError,
		Timing: RunTiming{
			BuildTime: buildTime.Milliseconds(),
			LoadTime:  loadTime.Milliseconds(),
			RunTime:   runTime.Milliseconds(),
			Total:     time.Since(start).Milliseconds(),
			Cached:    info.Cached,
		},
	}
	log.Debug().
		Str("tenant", tenantID).
		Str("fingerprint", info.Fingerprint).
		Bool("cached", info.Cached).
		Int64("total_ms", result.Timing.Total).
		Msg("Ephemeral run finished")
	return result, nil
}
