package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/substrate-host/substrate/internal/model"
)

// Postgres implements every storage contract over a pgx pool. Records keep
// their flexible parts (configs, file maps) as jsonb; the hostname reverse
// lookup is an indexed column in the same row, so forward and reverse stay
// atomic.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a store over an existing pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// NewPostgresStores returns a Stores view backed by one Postgres instance.
func NewPostgresStores(pool *pgxpool.Pool) *Stores {
	p := NewPostgres(pool)
	return &Stores{
		Tenants:   p,
		Workers:   p,
		Bundles:   p,
		Hostnames: p,
		Templates: p,
		Defaults:  p,
	}
}

// EnsureSchema creates the substrate schema and tables when missing. Safe to
// run on every start.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE SCHEMA IF NOT EXISTS substrate`,
		`CREATE TABLE IF NOT EXISTS substrate.tenants (
			id         TEXT PRIMARY KEY,
			config     JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS substrate.workers (
			tenant_id  TEXT NOT NULL,
			id         TEXT NOT NULL,
			config     JSONB NOT NULL,
			files      JSONB NOT NULL,
			hostnames  TEXT[] NOT NULL DEFAULT '{}',
			version    INTEGER NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (tenant_id, id)
		)`,
		`CREATE TABLE IF NOT EXISTS substrate.bundles (
			tenant_id   TEXT NOT NULL,
			worker_id   TEXT NOT NULL,
			version     INTEGER NOT NULL,
			main_module TEXT NOT NULL,
			modules     JSONB NOT NULL,
			built_at    TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (tenant_id, worker_id, version)
		)`,
		`CREATE TABLE IF NOT EXISTS substrate.bundle_fingerprints (
			fingerprint TEXT PRIMARY KEY,
			main_module TEXT NOT NULL,
			modules     JSONB NOT NULL,
			built_at    TIMESTAMPTZ NOT NULL,
			expires_at  TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS substrate.hostnames (
			hostname  TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			worker_id TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS hostnames_by_worker
			ON substrate.hostnames (tenant_id, worker_id)`,
		`CREATE TABLE IF NOT EXISTS substrate.templates (
			id     TEXT PRIMARY KEY,
			record JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS substrate.platform_defaults (
			singleton BOOLEAN PRIMARY KEY DEFAULT TRUE,
			config    JSONB NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}

// --- TenantStore ---

func (p *Postgres) GetTenant(ctx context.Context, id string) (*model.Tenant, error) {
	query := `SELECT id, config, created_at, updated_at FROM substrate.tenants WHERE id = $1`

	t := &model.Tenant{}
	var config []byte
	err := p.pool.QueryRow(ctx, query, id).Scan(&t.ID, &config, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	if err := json.Unmarshal(config, &t.Config); err != nil {
		return nil, fmt.Errorf("failed to decode tenant config: %w", err)
	}
	return t, nil
}

func (p *Postgres) PutTenant(ctx context.Context, t *model.Tenant) error {
	config, err := json.Marshal(t.Config)
	if err != nil {
		return fmt.Errorf("failed to encode tenant config: %w", err)
	}
	query := `
		INSERT INTO substrate.tenants (id, config, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET config = $2, updated_at = $4
	`
	if _, err := p.pool.Exec(ctx, query, t.ID, config, t.CreatedAt, t.UpdatedAt); err != nil {
		return fmt.Errorf("failed to put tenant: %w", err)
	}
	return nil
}

func (p *Postgres) DeleteTenant(ctx context.Context, id string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM substrate.tenants WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete tenant: %w", err)
	}
	return nil
}

func (p *Postgres) ListTenants(ctx context.Context, opts ListOptions) (*TenantPage, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	query := `
		SELECT id, config, created_at, updated_at
		FROM substrate.tenants
		WHERE id LIKE $1 || '%' AND id > $2
		ORDER BY id
		LIMIT $3
	`
	rows, err := p.pool.Query(ctx, query, opts.Prefix, opts.Cursor, limit+1)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	out := &TenantPage{}
	for rows.Next() {
		t := &model.Tenant{}
		var config []byte
		if err := rows.Scan(&t.ID, &config, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		if err := json.Unmarshal(config, &t.Config); err != nil {
			return nil, fmt.Errorf("failed to decode tenant config: %w", err)
		}
		out.Items = append(out.Items, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	if len(out.Items) > limit {
		out.Items = out.Items[:limit]
		out.Cursor = out.Items[limit-1].ID
	}
	return out, nil
}

// --- WorkerStore ---

func (p *Postgres) GetWorker(ctx context.Context, tenantID, workerID string) (*model.Worker, error) {
	query := `
		SELECT tenant_id, id, config, files, hostnames, version, created_at, updated_at
		FROM substrate.workers
		WHERE tenant_id = $1 AND id = $2
	`
	w := &model.Worker{}
	var config, files []byte
	err := p.pool.QueryRow(ctx, query, tenantID, workerID).Scan(
		&w.TenantID, &w.ID, &config, &files, &w.Hostnames, &w.Version, &w.CreatedAt, &w.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get worker: %w", err)
	}
	if err := decodeWorker(w, config, files); err != nil {
		return nil, err
	}
	return w, nil
}

func decodeWorker(w *model.Worker, config, files []byte) error {
	if err := json.Unmarshal(config, &w.Config); err != nil {
		return fmt.Errorf("failed to decode worker config: %w", err)
	}
	if err := json.Unmarshal(files, &w.Files); err != nil {
		return fmt.Errorf("failed to decode worker files: %w", err)
	}
	return nil
}

func (p *Postgres) PutWorker(ctx context.Context, w *model.Worker) error {
	config, err := json.Marshal(w.Config)
	if err != nil {
		return fmt.Errorf("failed to encode worker config: %w", err)
	}
	files, err := json.Marshal(w.Files)
	if err != nil {
		return fmt.Errorf("failed to encode worker files: %w", err)
	}
	hostnames := w.Hostnames
	if hostnames == nil {
		hostnames = []string{}
	}
	query := `
		INSERT INTO substrate.workers (tenant_id, id, config, files, hostnames, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tenant_id, id) DO UPDATE
		SET config = $3, files = $4, hostnames = $5, version = $6, updated_at = $8
	`
	if _, err := p.pool.Exec(ctx, query, w.TenantID, w.ID, config, files, hostnames, w.Version, w.CreatedAt, w.UpdatedAt); err != nil {
		return fmt.Errorf("failed to put worker: %w", err)
	}
	return nil
}

func (p *Postgres) DeleteWorker(ctx context.Context, tenantID, workerID string) error {
	query := `DELETE FROM substrate.workers WHERE tenant_id = $1 AND id = $2`
	if _, err := p.pool.Exec(ctx, query, tenantID, workerID); err != nil {
		return fmt.Errorf("failed to delete worker: %w", err)
	}
	return nil
}

func (p *Postgres) ListWorkers(ctx context.Context, tenantID string, opts ListOptions) (*WorkerPage, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	query := `
		SELECT tenant_id, id, config, files, hostnames, version, created_at, updated_at
		FROM substrate.workers
		WHERE tenant_id = $1 AND id LIKE $2 || '%' AND id > $3
		ORDER BY id
		LIMIT $4
	`
	rows, err := p.pool.Query(ctx, query, tenantID, opts.Prefix, opts.Cursor, limit+1)
	if err != nil {
		return nil, fmt.Errorf("failed to list workers: %w", err)
	}
	defer rows.Close()

	out := &WorkerPage{}
	for rows.Next() {
		w := &model.Worker{}
		var config, files []byte
		if err := rows.Scan(&w.TenantID, &w.ID, &config, &files, &w.Hostnames, &w.Version, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan worker: %w", err)
		}
		if err := decodeWorker(w, config, files); err != nil {
			return nil, err
		}
		out.Items = append(out.Items, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list workers: %w", err)
	}
	if len(out.Items) > limit {
		out.Items = out.Items[:limit]
		out.Cursor = out.Items[limit-1].ID
	}
	return out, nil
}

func (p *Postgres) DeleteAllWorkers(ctx context.Context, tenantID string) (int, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM substrate.workers WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete workers: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// --- BundleStore ---

func (p *Postgres) GetBundle(ctx context.Context, tenantID, workerID string, version int) (*model.Bundle, error) {
	query := `
		SELECT main_module, modules, version, built_at
		FROM substrate.bundles
		WHERE tenant_id = $1 AND worker_id = $2 AND version = $3
	`
	b := &model.Bundle{}
	var modules []byte
	err := p.pool.QueryRow(ctx, query, tenantID, workerID, version).Scan(&b.MainModule, &modules, &b.Version, &b.BuiltAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bundle: %w", err)
	}
	if err := json.Unmarshal(modules, &b.Modules); err != nil {
		return nil, fmt.Errorf("failed to decode bundle modules: %w", err)
	}
	return b, nil
}

func (p *Postgres) PutBundle(ctx context.Context, tenantID, workerID string, version int, b *model.Bundle) error {
	modules, err := json.Marshal(b.Modules)
	if err != nil {
		return fmt.Errorf("failed to encode bundle modules: %w", err)
	}
	query := `
		INSERT INTO substrate.bundles (tenant_id, worker_id, version, main_module, modules, built_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id, worker_id, version) DO UPDATE
		SET main_module = $4, modules = $5, built_at = $6
	`
	if _, err := p.pool.Exec(ctx, query, tenantID, workerID, version, b.MainModule, modules, b.BuiltAt); err != nil {
		return fmt.Errorf("failed to put bundle: %w", err)
	}
	return nil
}

func (p *Postgres) DeleteBundle(ctx context.Context, tenantID, workerID string, version int) error {
	query := `DELETE FROM substrate.bundles WHERE tenant_id = $1 AND worker_id = $2 AND version = $3`
	if _, err := p.pool.Exec(ctx, query, tenantID, workerID, version); err != nil {
		return fmt.Errorf("failed to delete bundle: %w", err)
	}
	return nil
}

func (p *Postgres) DeleteAllBundles(ctx context.Context, tenantID, workerID string) (int, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM substrate.bundles WHERE tenant_id = $1 AND worker_id = $2`, tenantID, workerID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete bundles: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (p *Postgres) ListBundleVersions(ctx context.Context, tenantID, workerID string) ([]int, error) {
	query := `
		SELECT version FROM substrate.bundles
		WHERE tenant_id = $1 AND worker_id = $2
		ORDER BY version
	`
	rows, err := p.pool.Query(ctx, query, tenantID, workerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bundle versions: %w", err)
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan bundle version: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list bundle versions: %w", err)
	}
	return versions, nil
}

func (p *Postgres) GetBundleByFingerprint(ctx context.Context, fingerprint string) (*model.Bundle, error) {
	query := `
		SELECT main_module, modules, built_at
		FROM substrate.bundle_fingerprints
		WHERE fingerprint = $1 AND (expires_at IS NULL OR expires_at > NOW())
	`
	b := &model.Bundle{}
	var modules []byte
	err := p.pool.QueryRow(ctx, query, fingerprint).Scan(&b.MainModule, &modules, &b.BuiltAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get fingerprint bundle: %w", err)
	}
	if err := json.Unmarshal(modules, &b.Modules); err != nil {
		return nil, fmt.Errorf("failed to decode bundle modules: %w", err)
	}
	return b, nil
}

func (p *Postgres) PutBundleByFingerprint(ctx context.Context, fingerprint string, b *model.Bundle, ttl time.Duration) error {
	modules, err := json.Marshal(b.Modules)
	if err != nil {
		return fmt.Errorf("failed to encode bundle modules: %w", err)
	}
	var expires *time.Time
	if ttl > 0 {
		t := time.Now().Add(ttl)
		expires = &t
	}
	query := `
		INSERT INTO substrate.bundle_fingerprints (fingerprint, main_module, modules, built_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (fingerprint) DO UPDATE
		SET main_module = $2, modules = $3, built_at = $4, expires_at = $5
	`
	if _, err := p.pool.Exec(ctx, query, fingerprint, b.MainModule, modules, b.BuiltAt, expires); err != nil {
		return fmt.Errorf("failed to put fingerprint bundle: %w", err)
	}
	return nil
}

// --- HostnameStore ---

func (p *Postgres) GetRoute(ctx context.Context, hostname string) (*model.HostnameRoute, error) {
	query := `SELECT hostname, tenant_id, worker_id FROM substrate.hostnames WHERE hostname = $1`
	route := &model.HostnameRoute{}
	err := p.pool.QueryRow(ctx, query, hostname).Scan(&route.Hostname, &route.TenantID, &route.WorkerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get route: %w", err)
	}
	return route, nil
}

func (p *Postgres) PutRoute(ctx context.Context, route *model.HostnameRoute) error {
	query := `
		INSERT INTO substrate.hostnames (hostname, tenant_id, worker_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (hostname) DO UPDATE SET tenant_id = $2, worker_id = $3
	`
	if _, err := p.pool.Exec(ctx, query, route.Hostname, route.TenantID, route.WorkerID); err != nil {
		return fmt.Errorf("failed to put route: %w", err)
	}
	return nil
}

func (p *Postgres) DeleteRoute(ctx context.Context, hostname string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM substrate.hostnames WHERE hostname = $1`, hostname); err != nil {
		return fmt.Errorf("failed to delete route: %w", err)
	}
	return nil
}

func (p *Postgres) ListByWorker(ctx context.Context, tenantID, workerID string) ([]string, error) {
	query := `
		SELECT hostname FROM substrate.hostnames
		WHERE tenant_id = $1 AND worker_id = $2
		ORDER BY hostname
	`
	rows, err := p.pool.Query(ctx, query, tenantID, workerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list hostnames: %w", err)
	}
	defer rows.Close()

	var hosts []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("failed to scan hostname: %w", err)
		}
		hosts = append(hosts, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list hostnames: %w", err)
	}
	return hosts, nil
}

func (p *Postgres) DeleteByWorker(ctx context.Context, tenantID, workerID string) (int, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM substrate.hostnames WHERE tenant_id = $1 AND worker_id = $2`, tenantID, workerID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete hostnames: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// --- TemplateStore ---

func (p *Postgres) GetTemplate(ctx context.Context, id string) (*model.Template, error) {
	var record []byte
	err := p.pool.QueryRow(ctx, `SELECT record FROM substrate.templates WHERE id = $1`, id).Scan(&record)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	t := &model.Template{}
	if err := json.Unmarshal(record, t); err != nil {
		return nil, fmt.Errorf("failed to decode template: %w", err)
	}
	return t, nil
}

func (p *Postgres) PutTemplate(ctx context.Context, t *model.Template) error {
	record, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to encode template: %w", err)
	}
	query := `
		INSERT INTO substrate.templates (id, record)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET record = $2
	`
	if _, err := p.pool.Exec(ctx, query, t.ID, record); err != nil {
		return fmt.Errorf("failed to put template: %w", err)
	}
	return nil
}

func (p *Postgres) DeleteTemplate(ctx context.Context, id string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM substrate.templates WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}
	return nil
}

func (p *Postgres) ListTemplates(ctx context.Context, opts ListOptions) (*TemplatePage, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	query := `
		SELECT record FROM substrate.templates
		WHERE id LIKE $1 || '%' AND id > $2
		ORDER BY id
		LIMIT $3
	`
	rows, err := p.pool.Query(ctx, query, opts.Prefix, opts.Cursor, limit+1)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	var items []model.TemplateMetadata
	for rows.Next() {
		var record []byte
		if err := rows.Scan(&record); err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		t := &model.Template{}
		if err := json.Unmarshal(record, t); err != nil {
			return nil, fmt.Errorf("failed to decode template: %w", err)
		}
		items = append(items, t.Metadata())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}

	out := &TemplatePage{Items: items}
	if len(items) > limit {
		out.Items = items[:limit]
		out.Cursor = items[limit-1].ID
	}
	return out, nil
}

// --- DefaultsStore ---

func (p *Postgres) GetDefaults(ctx context.Context) (*model.ConfigBundle, error) {
	var config []byte
	err := p.pool.QueryRow(ctx, `SELECT config FROM substrate.platform_defaults WHERE singleton`).Scan(&config)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get defaults: %w", err)
	}
	d := &model.ConfigBundle{}
	if err := json.Unmarshal(config, d); err != nil {
		return nil, fmt.Errorf("failed to decode defaults: %w", err)
	}
	return d, nil
}

func (p *Postgres) PutDefaults(ctx context.Context, d *model.ConfigBundle) error {
	config, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to encode defaults: %w", err)
	}
	query := `
		INSERT INTO substrate.platform_defaults (singleton, config)
		VALUES (TRUE, $1)
		ON CONFLICT (singleton) DO UPDATE SET config = $1
	`
	if _, err := p.pool.Exec(ctx, query, config); err != nil {
		return fmt.Errorf("failed to put defaults: %w", err)
	}
	return nil
}
