// Package platform is the control-plane façade: tenant, worker, template
// and hostname lifecycle, effective-config resolution, bundle builds and
// dispatch. It orchestrates the stores, the bundle cache, the hostname index
// and the stub cache; callers (the HTTP layer, embedders) only talk to this
// package.
package platform

import (
	"regexp"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"github.com/substrate-host/substrate/internal/bundle"
	"github.com/substrate-host/substrate/internal/errs"
	"github.com/substrate-host/substrate/internal/hostname"
	"github.com/substrate-host/substrate/internal/loader"
	"github.com/substrate-host/substrate/internal/model"
	"github.com/substrate-host/substrate/internal/observability"
	"github.com/substrate-host/substrate/internal/store"
	"github.com/substrate-host/substrate/internal/stubcache"
)

// Reserved tenant ids owning the auxiliary worker registries. User tenants
// may not start with "__".
const (
	OutboundTenantID = "__outbound"
	TailTenantID     = "__tail"
)

// idPattern constrains tenant, worker and template ids to URL-safe ASCII.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._~-]{0,63}$`)

// Platform is the control plane façade. Safe for concurrent use.
type Platform struct {
	stores    *store.Stores
	bundles   *bundle.Cache
	runtime   loader.Loader
	stubs     *stubcache.Cache
	hostnames *hostname.Index
	tracer    trace.Tracer

	// In-memory copy of the persisted platform defaults, loaded lazily and
	// reloaded on UpdateDefaults.
	defaultsMu     sync.RWMutex
	defaults       model.ConfigBundle
	defaultsLoaded bool
}

// Option configures a Platform.
type Option func(*Platform)

// WithStubCacheSize bounds the stub cache.
func WithStubCacheSize(size int) Option {
	return func(p *Platform) { p.stubs = stubcache.New(size) }
}

// New creates a platform over the given stores, bundle cache and runtime
// loader.
func New(stores *store.Stores, bundles *bundle.Cache, runtime loader.Loader, opts ...Option) *Platform {
	p := &Platform{
		stores:    stores,
		bundles:   bundles,
		runtime:   runtime,
		stubs:     stubcache.New(0),
		hostnames: hostname.NewIndex(stores.Hostnames, stores.Workers),
		tracer:    observability.Tracer(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Hostnames exposes the hostname index for direct hostname operations.
func (p *Platform) Hostnames() *hostname.Index {
	return p.hostnames
}

func validateID(kind, id string) error {
	if !idPattern.MatchString(id) {
		return errs.Validation("invalid %s id %q: must be URL-safe ASCII, at most 64 characters", kind, id)
	}
	return nil
}

func validateTenantID(id string) error {
	if err := validateID("tenant", id); err != nil {
		return err
	}
	return nil
}

func validateFiles(files map[string]string) error {
	if len(files) == 0 {
		return errs.Validation("worker files must not be empty")
	}
	for path := range files {
		if path == "" {
			return errs.Validation("worker file path must not be empty")
		}
	}
	return nil
}
