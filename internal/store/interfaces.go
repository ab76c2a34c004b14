// Package store defines the persistence contracts consumed by the control
// plane, plus reference implementations: an in-memory store for tests and
// embedding, a Redis store, and a Postgres store.
//
// All operations are context-aware and may fail with transport errors.
// Absence is not an error: Get returns (nil, nil) for missing records.
package store

import (
	"context"
	"time"

	"github.com/substrate-host/substrate/internal/model"
)

// ListOptions controls paginated listings. Cursor is an opaque continuation
// token from a previous page; Limit <= 0 selects the implementation default.
type ListOptions struct {
	Prefix string
	Limit  int
	Cursor string
}

// TenantPage is one page of tenants.
type TenantPage struct {
	Items  []*model.Tenant `json:"items"`
	Cursor string          `json:"cursor,omitempty"`
}

// WorkerPage is one page of workers.
type WorkerPage struct {
	Items  []*model.Worker `json:"items"`
	Cursor string          `json:"cursor,omitempty"`
}

// TemplatePage is one page of template metadata.
type TemplatePage struct {
	Items  []model.TemplateMetadata `json:"items"`
	Cursor string                   `json:"cursor,omitempty"`
}

// TenantStore persists tenant records keyed by id.
type TenantStore interface {
	GetTenant(ctx context.Context, id string) (*model.Tenant, error)
	PutTenant(ctx context.Context, t *model.Tenant) error
	DeleteTenant(ctx context.Context, id string) error
	ListTenants(ctx context.Context, opts ListOptions) (*TenantPage, error)
}

// WorkerStore persists worker records keyed by (tenantID, workerID).
type WorkerStore interface {
	GetWorker(ctx context.Context, tenantID, workerID string) (*model.Worker, error)
	PutWorker(ctx context.Context, w *model.Worker) error
	DeleteWorker(ctx context.Context, tenantID, workerID string) error
	ListWorkers(ctx context.Context, tenantID string, opts ListOptions) (*WorkerPage, error)
	DeleteAllWorkers(ctx context.Context, tenantID string) (int, error)
}

// BundleStore persists compiled bundles, both versioned (keyed by tenant,
// worker, version) and fingerprint-keyed (the ephemeral build cache, which
// may carry a TTL where the medium supports one).
type BundleStore interface {
	GetBundle(ctx context.Context, tenantID, workerID string, version int) (*model.Bundle, error)
	PutBundle(ctx context.Context, tenantID, workerID string, version int, b *model.Bundle) error
	DeleteBundle(ctx context.Context, tenantID, workerID string, version int) error
	DeleteAllBundles(ctx context.Context, tenantID, workerID string) (int, error)
	ListBundleVersions(ctx context.Context, tenantID, workerID string) ([]int, error)

	GetBundleByFingerprint(ctx context.Context, fingerprint string) (*model.Bundle, error)
	PutBundleByFingerprint(ctx context.Context, fingerprint string, b *model.Bundle, ttl time.Duration) error
}

// HostnameStore persists the hostname routing table. Implementations must
// keep the reverse index (worker -> hostnames) in step with the forward
// mapping, either atomically or by a documented two-phase write.
type HostnameStore interface {
	GetRoute(ctx context.Context, hostname string) (*model.HostnameRoute, error)
	PutRoute(ctx context.Context, route *model.HostnameRoute) error
	DeleteRoute(ctx context.Context, hostname string) error
	ListByWorker(ctx context.Context, tenantID, workerID string) ([]string, error)
	DeleteByWorker(ctx context.Context, tenantID, workerID string) (int, error)
}

// TemplateStore persists worker templates keyed by id.
type TemplateStore interface {
	GetTemplate(ctx context.Context, id string) (*model.Template, error)
	PutTemplate(ctx context.Context, t *model.Template) error
	DeleteTemplate(ctx context.Context, id string) error
	ListTemplates(ctx context.Context, opts ListOptions) (*TemplatePage, error)
}

// DefaultsStore persists the platform-wide fallback configuration.
type DefaultsStore interface {
	GetDefaults(ctx context.Context) (*model.ConfigBundle, error)
	PutDefaults(ctx context.Context, d *model.ConfigBundle) error
}

// Stores bundles the individual contracts the platform consumes. The fields
// may point at one shared backend or at independent ones.
type Stores struct {
	Tenants   TenantStore
	Workers   WorkerStore
	Bundles   BundleStore
	Hostnames HostnameStore
	Templates TemplateStore
	Defaults  DefaultsStore
}

// DefaultListLimit bounds a single page when the caller does not set one.
const DefaultListLimit = 100
