package platform

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/substrate-host/substrate/internal/errs"
	"github.com/substrate-host/substrate/internal/model"
	"github.com/substrate-host/substrate/internal/store"
)

// deleteConcurrency bounds parallel worker deletions during a cascade.
const deleteConcurrency = 8

// CreateTenant registers a new tenant. Fails with a conflict if the id is
// already taken.
func (p *Platform) CreateTenant(ctx context.Context, id string, cfg model.ConfigBundle) (*model.Tenant, error) {
	if err := validateTenantID(id); err != nil {
		return nil, err
	}

	existing, err := p.stores.Tenants.GetTenant(ctx, id)
	if err != nil {
		return nil, errs.Storage(err, "failed to read tenant %q", id)
	}
	if existing != nil {
		return nil, errs.Conflict("tenant %q already exists", id)
	}

	now := time.Now().UTC()
	t := &model.Tenant{ID: id, Config: cfg.Clone(), CreatedAt: now, UpdatedAt: now}
	if err := p.stores.Tenants.PutTenant(ctx, t); err != nil {
		return nil, errs.Storage(err, "failed to write tenant %q", id)
	}

	log.Info().Str("tenant", id).Msg("Tenant created")
	return t, nil
}

// GetTenant returns a tenant record.
func (p *Platform) GetTenant(ctx context.Context, id string) (*model.Tenant, error) {
	t, err := p.stores.Tenants.GetTenant(ctx, id)
	if err != nil {
		return nil, errs.Storage(err, "failed to read tenant %q", id)
	}
	if t == nil {
		return nil, errs.NotFound("tenant", id)
	}
	return t, nil
}

// UpdateTenant lays the patch over the tenant's config and bumps updatedAt.
// Stub cache entries for the whole tenant are invalidated after the write.
func (p *Platform) UpdateTenant(ctx context.Context, id string, patch model.ConfigBundle) (*model.Tenant, error) {
	t, err := p.GetTenant(ctx, id)
	if err != nil {
		return nil, err
	}

	t.Config = t.Config.Merge(patch)
	t.UpdatedAt = time.Now().UTC()
	if err := p.stores.Tenants.PutTenant(ctx, t); err != nil {
		return nil, errs.Storage(err, "failed to write tenant %q", id)
	}

	p.stubs.InvalidateTenant(id)
	log.Info().Str("tenant", id).Msg("Tenant updated, stubs invalidated")
	return t, nil
}

// ListTenants returns one page of tenants.
func (p *Platform) ListTenants(ctx context.Context, opts store.ListOptions) (*store.TenantPage, error) {
	page, err := p.stores.Tenants.ListTenants(ctx, opts)
	if err != nil {
		return nil, errs.Storage(err, "failed to list tenants")
	}
	return page, nil
}

// DeleteTenant removes a tenant and cascades: every worker is deleted (each
// dropping its bundles and hostname routes), then the tenant record itself.
// The cascade is best-effort; a partial failure aborts with the first error
// and the caller may re-invoke to retry.
func (p *Platform) DeleteTenant(ctx context.Context, id string) error {
	if _, err := p.GetTenant(ctx, id); err != nil {
		return err
	}

	// Walk all workers; pagination keeps each page bounded.
	cursor := ""
	for {
		page, err := p.stores.Workers.ListWorkers(ctx, id, store.ListOptions{Cursor: cursor})
		if err != nil {
			return errs.Storage(err, "failed to list workers of tenant %q", id)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(deleteConcurrency)
		for _, w := range page.Items {
			g.Go(func() error {
				return p.dropWorkerArtifacts(gctx, id, w.ID)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		if page.Cursor == "" {
			break
		}
		cursor = page.Cursor
	}

	if _, err := p.stores.Workers.DeleteAllWorkers(ctx, id); err != nil {
		return errs.Storage(err, "failed to delete workers of tenant %q", id)
	}
	if err := p.stores.Tenants.DeleteTenant(ctx, id); err != nil {
		return errs.Storage(err, "failed to delete tenant %q", id)
	}

	p.stubs.InvalidateTenant(id)
	log.Info().Str("tenant", id).Msg("Tenant deleted")
	return nil
}

// dropWorkerArtifacts removes a worker's hostname routes and bundles in
// parallel. The worker record itself is left to the caller.
func (p *Platform) dropWorkerArtifacts(ctx context.Context, tenantID, workerID string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if _, err := p.hostnames.DeleteByWorker(gctx, tenantID, workerID); err != nil {
			return errs.Storage(err, "failed to delete hostnames of %s/%s", tenantID, workerID)
		}
		return nil
	})
	g.Go(func() error {
		if _, err := p.stores.Bundles.DeleteAllBundles(gctx, tenantID, workerID); err != nil {
			return errs.Storage(err, "failed to delete bundles of %s/%s", tenantID, workerID)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	p.stubs.InvalidateWorker(tenantID, workerID)
	return nil
}
