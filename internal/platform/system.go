package platform

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/substrate-host/substrate/internal/errs"
	"github.com/substrate-host/substrate/internal/model"
	"github.com/substrate-host/substrate/internal/store"
)

// Auxiliary worker registries: outbound interceptors and tail observers are
// worker-shaped records living under reserved tenants. They compile like any
// worker but never take hostnames, and user-facing tenant listings never see
// the reserved owners. Effective configs reference them by id only; the
// records here are what an operator deploys behind those names.

// RegisterOutboundWorker stores a new outbound interceptor.
func (p *Platform) RegisterOutboundWorker(ctx context.Context, in WorkerInput, opts *BuildOpts) (*model.Worker, error) {
	return p.registerAux(ctx, OutboundTenantID, in, opts)
}

// RegisterTailWorker stores a new tail observer.
func (p *Platform) RegisterTailWorker(ctx context.Context, in WorkerInput, opts *BuildOpts) (*model.Worker, error) {
	return p.registerAux(ctx, TailTenantID, in, opts)
}

// GetOutboundWorker returns an outbound interceptor record.
func (p *Platform) GetOutboundWorker(ctx context.Context, id string) (*model.Worker, error) {
	return p.getAux(ctx, OutboundTenantID, id)
}

// GetTailWorker returns a tail observer record.
func (p *Platform) GetTailWorker(ctx context.Context, id string) (*model.Worker, error) {
	return p.getAux(ctx, TailTenantID, id)
}

// UpdateOutboundWorker updates an outbound interceptor, bumping its version.
func (p *Platform) UpdateOutboundWorker(ctx context.Context, id string, patch WorkerPatch, opts *BuildOpts) (*model.Worker, error) {
	return p.updateAux(ctx, OutboundTenantID, id, patch, opts)
}

// UpdateTailWorker updates a tail observer, bumping its version.
func (p *Platform) UpdateTailWorker(ctx context.Context, id string, patch WorkerPatch, opts *BuildOpts) (*model.Worker, error) {
	return p.updateAux(ctx, TailTenantID, id, patch, opts)
}

// DeleteOutboundWorker removes an outbound interceptor and its bundles.
func (p *Platform) DeleteOutboundWorker(ctx context.Context, id string) error {
	return p.deleteAux(ctx, OutboundTenantID, id)
}

// DeleteTailWorker removes a tail observer and its bundles.
func (p *Platform) DeleteTailWorker(ctx context.Context, id string) error {
	return p.deleteAux(ctx, TailTenantID, id)
}

// ListOutboundWorkers returns one page of outbound interceptors.
func (p *Platform) ListOutboundWorkers(ctx context.Context, opts store.ListOptions) (*store.WorkerPage, error) {
	return p.listAux(ctx, OutboundTenantID, opts)
}

// ListTailWorkers returns one page of tail observers.
func (p *Platform) ListTailWorkers(ctx context.Context, opts store.ListOptions) (*store.WorkerPage, error) {
	return p.listAux(ctx, TailTenantID, opts)
}

func (p *Platform) registerAux(ctx context.Context, owner string, in WorkerInput, opts *BuildOpts) (*model.Worker, error) {
	if err := validateID("worker", in.ID); err != nil {
		return nil, err
	}
	if err := validateFiles(in.Files); err != nil {
		return nil, err
	}

	existing, err := p.stores.Workers.GetWorker(ctx, owner, in.ID)
	if err != nil {
		return nil, errs.Storage(err, "failed to read %s/%s", owner, in.ID)
	}
	if existing != nil {
		return nil, errs.Conflict("worker %q already exists", in.ID)
	}

	built, _, err := p.bundles.GetOrBuild(ctx, in.Files, opts.options())
	if err != nil {
		return nil, err
	}
	versioned := &model.Bundle{
		MainModule: built.MainModule,
		Modules:    built.Modules,
		Version:    1,
		BuiltAt:    built.BuiltAt,
	}
	if err := p.stores.Bundles.PutBundle(ctx, owner, in.ID, 1, versioned); err != nil {
		return nil, errs.Storage(err, "failed to write bundle for %s/%s", owner, in.ID)
	}

	now := time.Now().UTC()
	w := &model.Worker{
		TenantID:  owner,
		ID:        in.ID,
		Config:    in.Config.Clone(),
		Files:     in.Files,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := p.stores.Workers.PutWorker(ctx, w); err != nil {
		return nil, errs.Storage(err, "failed to write %s/%s", owner, in.ID)
	}

	log.Info().Str("registry", owner).Str("worker", in.ID).Msg("Auxiliary worker registered")
	return w, nil
}

func (p *Platform) getAux(ctx context.Context, owner, id string) (*model.Worker, error) {
	w, err := p.stores.Workers.GetWorker(ctx, owner, id)
	if err != nil {
		return nil, errs.Storage(err, "failed to read %s/%s", owner, id)
	}
	if w == nil {
		return nil, errs.NotFound("worker", id)
	}
	return w, nil
}

func (p *Platform) updateAux(ctx context.Context, owner, id string, patch WorkerPatch, opts *BuildOpts) (*model.Worker, error) {
	current, err := p.getAux(ctx, owner, id)
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

	built, _, err := p.bundles.GetOrBuild(ctx, files, opts.options())
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
	if err := p.stores.Bundles.PutBundle(ctx, owner, id, newVersion, versioned); err != nil {
		return nil, errs.Storage(err, "failed to write bundle for %s/%s v%d", owner, id, newVersion)
	}

	current.Files = files
	current.Config = current.Config.Merge(patch.Config)
	current.Version = newVersion
	current.UpdatedAt = time.Now().UTC()
	if err := p.stores.Workers.PutWorker(ctx, current); err != nil {
		return nil, errs.Storage(err, "failed to write %s/%s", owner, id)
	}

	p.stubs.InvalidateWorker(owner, id)
	log.Info().Str("registry", owner).Str("worker", id).Int("version", newVersion).Msg("Auxiliary worker updated")
	return current, nil
}

func (p *Platform) deleteAux(ctx context.Context, owner, id string) error {
	if _, err := p.getAux(ctx, owner, id); err != nil {
		return err
	}
	if _, err := p.stores.Bundles.DeleteAllBundles(ctx, owner, id); err != nil {
		return errs.Storage(err, "failed to delete bundles of %s/%s", owner, id)
	}
	if err := p.stores.Workers.DeleteWorker(ctx, owner, id); err != nil {
		return errs.Storage(err, "failed to delete %s/%s", owner, id)
	}
	p.stubs.InvalidateWorker(owner, id)
	log.Info().Str("registry", owner).Str("worker", id).Msg("Auxiliary worker deleted")
	return nil
}

func (p *Platform) listAux(ctx context.Context, owner string, opts store.ListOptions) (*store.WorkerPage, error) {
	page, err := p.stores.Workers.ListWorkers(ctx, owner, opts)
	if err != nil {
		return nil, errs.Storage(err, "failed to list %s workers", owner)
	}
	return page, nil
}
