package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/substrate-host/substrate/internal/model"
)

// Redis implements every storage contract over a flat Redis keyspace using
// the layout in keys.go. Records are stored as JSON. Fingerprint-keyed
// bundles use native expiry; everything else is persistent.
//
// The hostname reverse index is a two-phase write: the forward key lands
// first, then the marker key. A crash between the two leaves a forward
// entry whose marker is missing. The GC sweep restores such a marker for
// hostnames listed on a live worker's record. DeleteByWorker reads only the
// markers, so it does not remove a forward entry whose marker is missing.
type Redis struct {
	client redis.UniversalClient
}

// NewRedis creates a store over an existing client.
func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

// NewRedisStores returns a Stores view backed by one Redis instance.
func NewRedisStores(client redis.UniversalClient) *Stores {
	r := NewRedis(client)
	return &Stores{
		Tenants:   r,
		Workers:   r,
		Bundles:   r,
		Hostnames: r,
		Templates: r,
		Defaults:  r,
	}
}

func (r *Redis) getJSON(ctx context.Context, key string, out any) (bool, error) {
	raw, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

func (r *Redis) putJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if err := r.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// scanKeys walks all keys matching the pattern. Used for prefix deletes and
// reverse-index listings, which are small per worker.
func (r *Redis) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, pattern, 256).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", pattern, err)
	}
	return keys, nil
}

// pageKeys sorts the matching keys and applies cursor/limit, mirroring the
// in-memory store's pagination semantics.
func pageKeys(keys []string, opts ListOptions) ([]string, string) {
	sort.Strings(keys)
	filtered := keys[:0]
	for _, k := range keys {
		if opts.Cursor != "" && k <= opts.Cursor {
			continue
		}
		filtered = append(filtered, k)
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if len(filtered) <= limit {
		return filtered, ""
	}
	p := filtered[:limit]
	return p, p[len(p)-1]
}

// --- TenantStore ---

func (r *Redis) GetTenant(ctx context.Context, id string) (*model.Tenant, error) {
	var t model.Tenant
	ok, err := r.getJSON(ctx, keyTenant(id), &t)
	if err != nil || !ok {
		return nil, err
	}
	return &t, nil
}

func (r *Redis) PutTenant(ctx context.Context, t *model.Tenant) error {
	return r.putJSON(ctx, keyTenant(t.ID), t, 0)
}

func (r *Redis) DeleteTenant(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, keyTenant(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete tenant %s: %w", id, err)
	}
	return nil
}

func (r *Redis) ListTenants(ctx context.Context, opts ListOptions) (*TenantPage, error) {
	keys, err := r.scanKeys(ctx, keyTenant(opts.Prefix)+"*")
	if err != nil {
		return nil, err
	}
	pagedKeys, cursor := pageKeys(keys, ListOptions{Limit: opts.Limit, Cursor: prefixedCursor(opts.Cursor, "tenant:")})
	out := &TenantPage{Cursor: strippedCursor(cursor, "tenant:")}
	for _, k := range pagedKeys {
		var t model.Tenant
		if ok, err := r.getJSON(ctx, k, &t); err != nil {
			return nil, err
		} else if ok {
			out.Items = append(out.Items, &t)
		}
	}
	return out, nil
}

// Cursors travel without the key prefix so they stay meaningful to callers
// that only see record ids.
func prefixedCursor(cursor, prefix string) string {
	if cursor == "" {
		return ""
	}
	return prefix + cursor
}

func strippedCursor(cursor, prefix string) string {
	return strings.TrimPrefix(cursor, prefix)
}

// --- WorkerStore ---

func (r *Redis) GetWorker(ctx context.Context, tenantID, workerID string) (*model.Worker, error) {
	var w model.Worker
	ok, err := r.getJSON(ctx, keyWorker(tenantID, workerID), &w)
	if err != nil || !ok {
		return nil, err
	}
	return &w, nil
}

func (r *Redis) PutWorker(ctx context.Context, w *model.Worker) error {
	return r.putJSON(ctx, keyWorker(w.TenantID, w.ID), w, 0)
}

func (r *Redis) DeleteWorker(ctx context.Context, tenantID, workerID string) error {
	if err := r.client.Del(ctx, keyWorker(tenantID, workerID)).Err(); err != nil {
		return fmt.Errorf("failed to delete worker %s/%s: %w", tenantID, workerID, err)
	}
	return nil
}

func (r *Redis) ListWorkers(ctx context.Context, tenantID string, opts ListOptions) (*WorkerPage, error) {
	prefix := "worker:" + tenantID + ":"
	keys, err := r.scanKeys(ctx, prefix+opts.Prefix+"*")
	if err != nil {
		return nil, err
	}
	pagedKeys, cursor := pageKeys(keys, ListOptions{Limit: opts.Limit, Cursor: prefixedCursor(opts.Cursor, prefix)})
	out := &WorkerPage{Cursor: strippedCursor(cursor, prefix)}
	for _, k := range pagedKeys {
		var w model.Worker
		if ok, err := r.getJSON(ctx, k, &w); err != nil {
			return nil, err
		} else if ok {
			out.Items = append(out.Items, &w)
		}
	}
	return out, nil
}

func (r *Redis) DeleteAllWorkers(ctx context.Context, tenantID string) (int, error) {
	keys, err := r.scanKeys(ctx, "worker:"+tenantID+":*")
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return 0, fmt.Errorf("failed to delete workers of %s: %w", tenantID, err)
	}
	return len(keys), nil
}

// --- BundleStore ---

func (r *Redis) GetBundle(ctx context.Context, tenantID, workerID string, version int) (*model.Bundle, error) {
	var b model.Bundle
	ok, err := r.getJSON(ctx, keyBundle(tenantID, workerID, version), &b)
	if err != nil || !ok {
		return nil, err
	}
	return &b, nil
}

func (r *Redis) PutBundle(ctx context.Context, tenantID, workerID string, version int, b *model.Bundle) error {
	return r.putJSON(ctx, keyBundle(tenantID, workerID, version), b, 0)
}

func (r *Redis) DeleteBundle(ctx context.Context, tenantID, workerID string, version int) error {
	if err := r.client.Del(ctx, keyBundle(tenantID, workerID, version)).Err(); err != nil {
		return fmt.Errorf("failed to delete bundle %s/%s v%d: %w", tenantID, workerID, version, err)
	}
	return nil
}

func (r *Redis) DeleteAllBundles(ctx context.Context, tenantID, workerID string) (int, error) {
	keys, err := r.scanKeys(ctx, "bundle:"+tenantID+":"+workerID+":v*")
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return 0, fmt.Errorf("failed to delete bundles of %s/%s: %w", tenantID, workerID, err)
	}
	return len(keys), nil
}

func (r *Redis) ListBundleVersions(ctx context.Context, tenantID, workerID string) ([]int, error) {
	prefix := "bundle:" + tenantID + ":" + workerID + ":v"
	keys, err := r.scanKeys(ctx, prefix+"*")
	if err != nil {
		return nil, err
	}
	var versions []int
	for _, k := range keys {
		v, err := strconv.Atoi(strings.TrimPrefix(k, prefix))
		if err != nil {
			continue
		}
		versions = append(versions, v)
	}
	sort.Ints(versions)
	return versions, nil
}

func (r *Redis) GetBundleByFingerprint(ctx context.Context, fingerprint string) (*model.Bundle, error) {
	var b model.Bundle
	ok, err := r.getJSON(ctx, keyBundleFingerprint(fingerprint), &b)
	if err != nil || !ok {
		return nil, err
	}
	return &b, nil
}

func (r *Redis) PutBundleByFingerprint(ctx context.Context, fingerprint string, b *model.Bundle, ttl time.Duration) error {
	return r.putJSON(ctx, keyBundleFingerprint(fingerprint), b, ttl)
}

// --- HostnameStore ---

func (r *Redis) GetRoute(ctx context.Context, hostname string) (*model.HostnameRoute, error) {
	var route model.HostnameRoute
	ok, err := r.getJSON(ctx, keyHostname(hostname), &route)
	if err != nil || !ok {
		return nil, err
	}
	return &route, nil
}

func (r *Redis) PutRoute(ctx context.Context, route *model.HostnameRoute) error {
	if err := r.putJSON(ctx, keyHostname(route.Hostname), route, 0); err != nil {
		return err
	}
	key := keyHostnameIdx(route.TenantID, route.WorkerID, route.Hostname)
	if err := r.client.Set(ctx, key, "1", 0).Err(); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func (r *Redis) DeleteRoute(ctx context.Context, hostname string) error {
	route, err := r.GetRoute(ctx, hostname)
	if err != nil {
		return err
	}
	if route != nil {
		idx := keyHostnameIdx(route.TenantID, route.WorkerID, hostname)
		if err := r.client.Del(ctx, idx).Err(); err != nil {
			return fmt.Errorf("failed to delete %s: %w", idx, err)
		}
	}
	if err := r.client.Del(ctx, keyHostname(hostname)).Err(); err != nil {
		return fmt.Errorf("failed to delete hostname %s: %w", hostname, err)
	}
	return nil
}

func (r *Redis) ListByWorker(ctx context.Context, tenantID, workerID string) ([]string, error) {
	prefix := keyHostnameIdxPrefix(tenantID, workerID)
	keys, err := r.scanKeys(ctx, prefix+"*")
	if err != nil {
		return nil, err
	}
	hosts := make([]string, 0, len(keys))
	for _, k := range keys {
		hosts = append(hosts, strings.TrimPrefix(k, prefix))
	}
	sort.Strings(hosts)
	return hosts, nil
}

func (r *Redis) DeleteByWorker(ctx context.Context, tenantID, workerID string) (int, error) {
	hosts, err := r.ListByWorker(ctx, tenantID, workerID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, h := range hosts {
		// Only drop forward entries this worker still owns; a concurrent
		// re-bind of the hostname must survive.
		route, err := r.GetRoute(ctx, h)
		if err != nil {
			return n, err
		}
		if route != nil && route.TenantID == tenantID && route.WorkerID == workerID {
			if err := r.client.Del(ctx, keyHostname(h)).Err(); err != nil {
				return n, fmt.Errorf("failed to delete hostname %s: %w", h, err)
			}
		}
		if err := r.client.Del(ctx, keyHostnameIdx(tenantID, workerID, h)).Err(); err != nil {
			return n, fmt.Errorf("failed to delete hostname index for %s: %w", h, err)
		}
		n++
	}
	return n, nil
}

// --- TemplateStore ---

func (r *Redis) GetTemplate(ctx context.Context, id string) (*model.Template, error) {
	var t model.Template
	ok, err := r.getJSON(ctx, keyTemplate(id), &t)
	if err != nil || !ok {
		return nil, err
	}
	return &t, nil
}

func (r *Redis) PutTemplate(ctx context.Context, t *model.Template) error {
	return r.putJSON(ctx, keyTemplate(t.ID), t, 0)
}

func (r *Redis) DeleteTemplate(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, keyTemplate(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete template %s: %w", id, err)
	}
	return nil
}

func (r *Redis) ListTemplates(ctx context.Context, opts ListOptions) (*TemplatePage, error) {
	keys, err := r.scanKeys(ctx, keyTemplate(opts.Prefix)+"*")
	if err != nil {
		return nil, err
	}
	pagedKeys, cursor := pageKeys(keys, ListOptions{Limit: opts.Limit, Cursor: prefixedCursor(opts.Cursor, "template:")})
	out := &TemplatePage{Cursor: strippedCursor(cursor, "template:")}
	for _, k := range pagedKeys {
		var t model.Template
		if ok, err := r.getJSON(ctx, k, &t); err != nil {
			return nil, err
		} else if ok {
			out.Items = append(out.Items, t.Metadata())
		}
	}
	return out, nil
}

// --- DefaultsStore ---

func (r *Redis) GetDefaults(ctx context.Context) (*model.ConfigBundle, error) {
	var d model.ConfigBundle
	ok, err := r.getJSON(ctx, keyDefaults, &d)
	if err != nil || !ok {
		return nil, err
	}
	return &d, nil
}

func (r *Redis) PutDefaults(ctx context.Context, d *model.ConfigBundle) error {
	return r.putJSON(ctx, keyDefaults, d, 0)
}
