package platform

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/substrate-host/substrate/internal/errs"
	"github.com/substrate-host/substrate/internal/model"
)

// GetDefaults returns the platform-wide fallback configuration.
func (p *Platform) GetDefaults(ctx context.Context) (model.ConfigBundle, error) {
	return p.loadDefaults(ctx)
}

// UpdateDefaults merges the patch into the persisted defaults. The write
// lands before any cache invalidation; every stub is invalidated because a
// defaults change can alter any worker's effective config.
func (p *Platform) UpdateDefaults(ctx context.Context, patch model.ConfigBundle) (model.ConfigBundle, error) {
	current, err := p.loadDefaults(ctx)
	if err != nil {
		return model.ConfigBundle{}, err
	}

	merged := current.Merge(patch)
	if err := p.stores.Defaults.PutDefaults(ctx, &merged); err != nil {
		return model.ConfigBundle{}, errs.Storage(err, "failed to persist platform defaults")
	}

	p.defaultsMu.Lock()
	p.defaults = merged.Clone()
	p.defaultsLoaded = true
	p.defaultsMu.Unlock()

	p.stubs.InvalidateAll()
	log.Info().Msg("Platform defaults updated, all stubs invalidated")
	return merged, nil
}

// loadDefaults returns the in-memory copy, reading through to the store on
// first use.
func (p *Platform) loadDefaults(ctx context.Context) (model.ConfigBundle, error) {
	p.defaultsMu.RLock()
	if p.defaultsLoaded {
		d := p.defaults.Clone()
		p.defaultsMu.RUnlock()
		return d, nil
	}
	p.defaultsMu.RUnlock()

	stored, err := p.stores.Defaults.GetDefaults(ctx)
	if err != nil {
		return model.ConfigBundle{}, errs.Storage(err, "failed to read platform defaults")
	}

	p.defaultsMu.Lock()
	defer p.defaultsMu.Unlock()
	if !p.defaultsLoaded {
		if stored != nil {
			p.defaults = stored.Clone()
		}
		p.defaultsLoaded = true
	}
	return p.defaults.Clone(), nil
}
