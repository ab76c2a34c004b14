package platform

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/substrate-host/substrate/internal/bundle"
	"github.com/substrate-host/substrate/internal/errs"
	"github.com/substrate-host/substrate/internal/loader"
	"github.com/substrate-host/substrate/internal/model"
	"github.com/substrate-host/substrate/internal/observability"
	"github.com/substrate-host/substrate/internal/resolve"
	"github.com/substrate-host/substrate/internal/store"
)

// WorkerInput is the payload for creating a worker.
type WorkerInput struct {
	ID        string             `json:"id"`
	Config    model.ConfigBundle `json:"config"`
	Files     map[string]string  `json:"files"`
	Hostnames []string           `json:"hostnames,omitempty"`
}

// WorkerPatch is the payload for updating a worker. Nil/zero fields leave
// the current value in place; hostname bindings are managed through the
// explicit hostname operations.
type WorkerPatch struct {
	Config model.ConfigBundle `json:"config"`
	Files  map[string]string  `json:"files,omitempty"`
}

// BuildOpts carries optional build settings for create/update/ephemeral
// operations. Nil means defaults.
type BuildOpts struct {
	Build *bundle.Options `json:"build,omitempty"`
}

func (o *BuildOpts) options() bundle.Options {
	if o == nil || o.Build == nil {
		return bundle.DefaultOptions()
	}
	return *o.Build
}

// CreateWorker compiles and registers a new worker at version 1. The bundle
// is written before the worker record so no reader can observe a worker
// without its bundle.
func (p *Platform) CreateWorker(ctx context.Context, tenantID string, in WorkerInput, opts *BuildOpts) (*model.Worker, error) {
	if err := validateID("worker", in.ID); err != nil {
		return nil, err
	}
	if err := validateFiles(in.Files); err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t, err := p.stores.Tenants.GetTenant(gctx, tenantID)
		if err != nil {
			return errs.Storage(err, "failed to read tenant %q", tenantID)
		}
		if t == nil {
			return errs.NotFound("tenant", tenantID)
		}
		return nil
	})
	g.Go(func() error {
		w, err := p.stores.Workers.GetWorker(gctx, tenantID, in.ID)
		if err != nil {
			return errs.Storage(err, "failed to read worker %s/%s", tenantID, in.ID)
		}
		if w != nil {
			return errs.Conflict("worker %q already exists in tenant %q", in.ID, tenantID)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Build through the cache: validates compilation and keys the artifact
	// by fingerprint for reuse.
	built, info, err := p.bundles.GetOrBuild(ctx, in.Files, opts.options())
	if err != nil {
		return nil, err
	}

	versioned := &model.Bundle{
		MainModule: built.MainModule,
		Modules:    built.Modules,
		Version:    1,
		BuiltAt:    built.BuiltAt,
	}
	if err := p.stores.Bundles.PutBundle(ctx, tenantID, in.ID, 1, versioned); err != nil {
		return nil, errs.Storage(err, "failed to write bundle for %s/%s", tenantID, in.ID)
	}

	now := time.Now().UTC()
	w := &model.Worker{
		TenantID:  tenantID,
		ID:        in.ID,
		Config:    in.Config.Clone(),
		Files:     in.Files,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := p.stores.Workers.PutWorker(ctx, w); err != nil {
		return nil, errs.Storage(err, "failed to write worker %s/%s", tenantID, in.ID)
	}

	if len(in.Hostnames) > 0 {
		if err := p.hostnames.Add(ctx, tenantID, in.ID, in.Hostnames); err != nil {
			return nil, err
		}
		// Re-read: the hostname index updated the record's hostname set.
		w, err = p.stores.Workers.GetWorker(ctx, tenantID, in.ID)
		if err != nil {
			return nil, errs.Storage(err, "failed to re-read worker %s/%s", tenantID, in.ID)
		}
	}

	log.Info().
		Str("tenant", tenantID).
		Str("worker", in.ID).
		Str("fingerprint", info.Fingerprint).
		Bool("cached", info.Cached).
		Msg("Worker created")
	return w, nil
}

// GetWorker returns a worker record.
func (p *Platform) GetWorker(ctx context.Context, tenantID, workerID string) (*model.Worker, error) {
	w, err := p.stores.Workers.GetWorker(ctx, tenantID, workerID)
	if err != nil {
		return nil, errs.Storage(err, "failed to read worker %s/%s", tenantID, workerID)
	}
	if w == nil {
		return nil, errs.NotFound("worker", tenantID+"/"+workerID)
	}
	return w, nil
}

// ListWorkers returns one page of a tenant's workers.
func (p *Platform) ListWorkers(ctx context.Context, tenantID string, opts store.ListOptions) (*store.WorkerPage, error) {
	if _, err := p.GetTenant(ctx, tenantID); err != nil {
		return nil, err
	}
	page, err := p.stores.Workers.ListWorkers(ctx, tenantID, opts)
	if err != nil {
		return nil, errs.Storage(err, "failed to list workers of tenant %q", tenantID)
	}
	return page, nil
}

// UpdateWorker merges the patch over the current record, rebuilds, writes
// the bundle at the bumped version, then the record, then invalidates the
// stub cache entry. Version bumps by exactly one per successful update.
func (p *Platform) UpdateWorker(ctx context.Context, tenantID, workerID string, patch WorkerPatch, opts *BuildOpts) (*model.Worker, error) {
	current, err := p.GetWorker(ctx, tenantID, workerID)
	if err != nil {
		return nil, err
	}

	files := current.Files
	if patch.Files != nil {
		if err := validateFiles(patch.Files); err != nil {
			return nil, err
		}
		files = patch.Files
	}
	cfg := current.Config.Merge(patch.Config)

	built, info, err := p.bundles.GetOrBuild(ctx, files, opts.options())
	if err != nil {
		return nil, err
	}

	newVersion := current.Version + 1
	versioned := &model.Bundle{
		MainModule: built.MainModule,
		Modules:    built.Modules,
		Version:    newVersion,
		BuiltAt:    built.BuiltAt,
	}
	if err := p.stores.Bundles.PutBundle(ctx, tenantID, workerID, newVersion, versioned); err != nil {
		return nil, errs.Storage(err, "failed to write bundle for %s/%s v%d", tenantID, workerID, newVersion)
	}

	current.Files = files
	current.Config = cfg
	current.Version = newVersion
	current.UpdatedAt = time.Now().UTC()
	if err := p.stores.Workers.PutWorker(ctx, current); err != nil {
		return nil, errs.Storage(err, "failed to write worker %s/%s", tenantID, workerID)
	}

	p.stubs.InvalidateWorker(tenantID, workerID)
	log.Info().
		Str("tenant", tenantID).
		Str("worker", workerID).
		Int("version", newVersion).
		Str("fingerprint", info.Fingerprint).
		Msg("Worker updated")
	return current, nil
}

// DeleteWorker removes the worker's hostname routes and bundles in
// parallel, then the record, then drops the stub cache entry.
func (p *Platform) DeleteWorker(ctx context.Context, tenantID, workerID string) error {
	if _, err := p.GetWorker(ctx, tenantID, workerID); err != nil {
		return err
	}

	if err := p.dropWorkerArtifacts(ctx, tenantID, workerID); err != nil {
		return err
	}
	if err := p.stores.Workers.DeleteWorker(ctx, tenantID, workerID); err != nil {
		return errs.Storage(err, "failed to delete worker %s/%s", tenantID, workerID)
	}

	log.Info().Str("tenant", tenantID).Str("worker", workerID).Msg("Worker deleted")
	return nil
}

// AddHostnames binds hostnames to a worker.
func (p *Platform) AddHostnames(ctx context.Context, tenantID, workerID string, hosts []string) error {
	if _, err := p.GetWorker(ctx, tenantID, workerID); err != nil {
		return err
	}
	return p.hostnames.Add(ctx, tenantID, workerID, hosts)
}

// RemoveHostnames unbinds hostnames from a worker.
func (p *Platform) RemoveHostnames(ctx context.Context, tenantID, workerID string, hosts []string) error {
	if _, err := p.GetWorker(ctx, tenantID, workerID); err != nil {
		return err
	}
	return p.hostnames.Remove(ctx, tenantID, workerID, hosts)
}

// ListHostnames returns the hostnames bound to a worker.
func (p *Platform) ListHostnames(ctx context.Context, tenantID, workerID string) ([]string, error) {
	if _, err := p.GetWorker(ctx, tenantID, workerID); err != nil {
		return nil, err
	}
	return p.hostnames.ListByWorker(ctx, tenantID, workerID)
}

// workerColdStart fetches a versioned bundle on demand. It carries no
// mutable state and never rebuilds: a missing bundle fails the cold start.
type workerColdStart struct {
	bundles  store.BundleStore
	tenantID string
	workerID string
	version  int
	config   model.EffectiveConfig
}

// Prepare implements loader.ColdStart.
func (c *workerColdStart) Prepare(ctx context.Context) (*loader.Descriptor, error) {
	observability.StubColdStartsTotal.Inc()
	b, err := c.bundles.GetBundle(ctx, c.tenantID, c.workerID, c.version)
	if err != nil {
		return nil, errs.Storage(err, "failed to read bundle %s/%s v%d", c.tenantID, c.workerID, c.version)
	}
	if b == nil {
		return nil, errs.New(errs.KindLoader, "bundle missing for %s/%s v%d", c.tenantID, c.workerID, c.version)
	}
	return &loader.Descriptor{
		MainModule:         b.MainModule,
		Modules:            b.Modules,
		Env:                c.config.Env,
		CompatibilityDate:  c.config.CompatibilityDate,
		CompatibilityFlags: c.config.CompatibilityFlags,
		Limits:             c.config.Limits,
		GlobalOutbound:     c.config.GlobalOutbound,
		Tails:              c.config.Tails,
	}, nil
}

// fetchStub returns a dispatchable stub for a worker, serving from the stub
// cache when the cached entry matches the worker's current version.
func (p *Platform) fetchStub(ctx context.Context, tenantID, workerID string) (loader.Stub, *model.Worker, error) {
	var tenant *model.Tenant
	var worker *model.Worker

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t, err := p.stores.Tenants.GetTenant(gctx, tenantID)
		if err != nil {
			return errs.Storage(err, "failed to read tenant %q", tenantID)
		}
		tenant = t
		return nil
	})
	g.Go(func() error {
		w, err := p.stores.Workers.GetWorker(gctx, tenantID, workerID)
		if err != nil {
			return errs.Storage(err, "failed to read worker %s/%s", tenantID, workerID)
		}
		worker = w
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if tenant == nil {
		return nil, nil, errs.NotFound("tenant", tenantID)
	}
	if worker == nil {
		return nil, nil, errs.NotFound("worker", tenantID+"/"+workerID)
	}

	if entry, ok := p.stubs.Get(tenantID, workerID); ok && entry.Version == worker.Version {
		return entry.Stub, worker, nil
	}

	defaults, err := p.loadDefaults(ctx)
	if err != nil {
		return nil, nil, err
	}
	cfg := resolve.Resolve(defaults, tenant.Config, &worker.Config)

	name := fmt.Sprintf("%s:%s:v%d", tenantID, workerID, worker.Version)
	coldStart := &workerColdStart{
		bundles:  p.stores.Bundles,
		tenantID: tenantID,
		workerID: workerID,
		version:  worker.Version,
		config:   cfg,
	}
	stub, err := p.runtime.Get(ctx, name, coldStart)
	if err != nil {
		return nil, nil, errs.Loader(err, "failed to load %s", name)
	}

	p.stubs.Put(tenantID, workerID, worker.Version, stub)
	return stub, worker, nil
}

// Fetch dispatches a request to a worker's entrypoint. The response is
// returned unchanged; worker runtime exceptions travel inside it.
func (p *Platform) Fetch(ctx context.Context, tenantID, workerID string, req *loader.Request, entrypoint string) (*loader.Response, error) {
	ctx, span := p.tracer.Start(ctx, "platform.fetch")
	span.SetAttributes(attribute.String("tenant", tenantID), attribute.String("worker", workerID))
	defer span.End()

	stub, _, err := p.fetchStub(ctx, tenantID, workerID)
	if err != nil {
		return nil, err
	}

	fetcher, err := stub.GetEntrypoint(entrypoint)
	if err != nil {
		return nil, errs.Loader(err, "failed to resolve entrypoint %q", entrypoint)
	}

	observability.DispatchesTotal.WithLabelValues("fetch").Inc()
	resp, err := fetcher.Dispatch(ctx, req)
	if err != nil {
		return nil, errs.Loader(err, "dispatch to %s/%s failed", tenantID, workerID)
	}
	return resp, nil
}
