package bundle

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/substrate-host/substrate/internal/model"
	"github.com/substrate-host/substrate/internal/observability"
	"github.com/substrate-host/substrate/internal/store"
)

// DefaultEphemeralTTL is how long fingerprint-keyed bundles from ephemeral
// runs stay in the store. Versioned bundle writes never expire.
const DefaultEphemeralTTL = time.Hour

// BuildInfo describes how a bundle was obtained.
type BuildInfo struct {
	Fingerprint string   `json:"fingerprint"`
	Cached      bool     `json:"cached"`
	Warnings    []string `json:"warnings,omitempty"`
}

// Cache is the content-addressed bundle cache: the only path through which
// the control plane builds. Lookups read through the store by fingerprint;
// misses invoke the bundler once per fingerprint (single-flight) and write
// back before returning. Write failures are logged, not returned: the caller
// still gets the bundle it asked for.
type Cache struct {
	bundler Bundler
	bundles store.BundleStore
	ttl     time.Duration
	group   singleflight.Group
}

type cacheOutcome struct {
	bundle *model.Bundle
	info   BuildInfo
}

// NewCache creates a bundle cache over the given bundler and store. A zero
// ttl selects DefaultEphemeralTTL.
func NewCache(bundler Bundler, bundles store.BundleStore, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultEphemeralTTL
	}
	return &Cache{bundler: bundler, bundles: bundles, ttl: ttl}
}

// GetOrBuild returns the bundle for the given source tree and options,
// building it if no fingerprint-keyed copy exists. Concurrent callers with
// the same fingerprint share a single build and observe the same outcome.
// Build errors are never cached; the next call retries.
func (c *Cache) GetOrBuild(ctx context.Context, files map[string]string, opts Options) (*model.Bundle, BuildInfo, error) {
	fp := Fingerprint(files, opts)

	v, err, _ := c.group.Do(fp, func() (any, error) {
		cached, err := c.bundles.GetBundleByFingerprint(ctx, fp)
		if err != nil {
			log.Warn().Err(err).Str("fingerprint", fp).Msg("Bundle cache read failed, rebuilding")
		}
		if cached != nil {
			observability.BundleCacheTotal.WithLabelValues("hit").Inc()
			return cacheOutcome{bundle: cached, info: BuildInfo{Fingerprint: fp, Cached: true}}, nil
		}
		observability.BundleCacheTotal.WithLabelValues("miss").Inc()

		result, err := c.bundler.Build(ctx, files, opts)
		if err != nil {
			return nil, err
		}

		b := &model.Bundle{
			MainModule: result.MainModule,
			Modules:    result.Modules,
			BuiltAt:    time.Now().UTC(),
		}
		if err := c.bundles.PutBundleByFingerprint(ctx, fp, b, c.ttl); err != nil {
			log.Warn().Err(err).Str("fingerprint", fp).Msg("Bundle cache write failed")
		}
		return cacheOutcome{bundle: b, info: BuildInfo{Fingerprint: fp, Cached: false, Warnings: result.Warnings}}, nil
	})
	if err != nil {
		return nil, BuildInfo{Fingerprint: fp}, err
	}

	outcome := v.(cacheOutcome)
	return outcome.bundle, outcome.info, nil
}

// Lookup fetches a fingerprint-keyed bundle without building. Used by
// ephemeral cold-start callbacks, which must never trigger a rebuild.
func (c *Cache) Lookup(ctx context.Context, fingerprint string) (*model.Bundle, error) {
	return c.bundles.GetBundleByFingerprint(ctx, fingerprint)
}
