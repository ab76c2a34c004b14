package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/substrate-host/substrate/internal/model"
)

// Memory is the reference in-memory implementation of every storage
// contract. It is safe for concurrent use and copies records on the way in
// and out so callers never share state with the store.
type Memory struct {
	mu           sync.RWMutex
	tenants      map[string]*model.Tenant
	workers      map[string]map[string]*model.Worker // tenantID -> workerID -> worker
	bundles      map[string]*model.Bundle            // bundle:{t}:{w}:v{n}
	fingerprints map[string]fingerprintEntry
	routes       map[string]*model.HostnameRoute
	templates    map[string]*model.Template
	defaults     *model.ConfigBundle
}

type fingerprintEntry struct {
	bundle    *model.Bundle
	expiresAt time.Time // zero means no expiry
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		tenants:      make(map[string]*model.Tenant),
		workers:      make(map[string]map[string]*model.Worker),
		bundles:      make(map[string]*model.Bundle),
		fingerprints: make(map[string]fingerprintEntry),
		routes:       make(map[string]*model.HostnameRoute),
		templates:    make(map[string]*model.Template),
	}
}

// NewMemoryStores returns a Stores view backed by a single Memory instance.
func NewMemoryStores() *Stores {
	m := NewMemory()
	return &Stores{
		Tenants:   m,
		Workers:   m,
		Bundles:   m,
		Hostnames: m,
		Templates: m,
		Defaults:  m,
	}
}

func copyTenant(t *model.Tenant) *model.Tenant {
	if t == nil {
		return nil
	}
	out := *t
	out.Config = t.Config.Clone()
	return &out
}

func copyWorker(w *model.Worker) *model.Worker {
	if w == nil {
		return nil
	}
	out := *w
	out.Config = w.Config.Clone()
	out.Files = copyStringMap(w.Files)
	out.Hostnames = append([]string(nil), w.Hostnames...)
	return &out
}

func copyBundle(b *model.Bundle) *model.Bundle {
	if b == nil {
		return nil
	}
	out := *b
	out.Modules = copyStringMap(b.Modules)
	return &out
}

func copyTemplate(t *model.Template) *model.Template {
	if t == nil {
		return nil
	}
	out := *t
	out.Files = copyStringMap(t.Files)
	out.Slots = append([]model.Slot(nil), t.Slots...)
	if t.Defaults != nil {
		d := t.Defaults.Clone()
		out.Defaults = &d
	}
	return &out
}

func copyStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// page applies prefix/cursor/limit over sorted keys and reports the slice to
// return plus the next cursor.
func page(keys []string, opts ListOptions) ([]string, string) {
	sort.Strings(keys)
	filtered := keys[:0]
	for _, k := range keys {
		if opts.Prefix != "" && !strings.HasPrefix(k, opts.Prefix) {
			continue
		}
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
	pageKeys := filtered[:limit]
	return pageKeys, pageKeys[len(pageKeys)-1]
}

// --- TenantStore ---

func (m *Memory) GetTenant(_ context.Context, id string) (*model.Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyTenant(m.tenants[id]), nil
}

func (m *Memory) PutTenant(_ context.Context, t *model.Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenants[t.ID] = copyTenant(t)
	return nil
}

func (m *Memory) DeleteTenant(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tenants, id)
	return nil
}

func (m *Memory) ListTenants(_ context.Context, opts ListOptions) (*TenantPage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.tenants))
	for id := range m.tenants {
		keys = append(keys, id)
	}
	pageKeys, cursor := page(keys, opts)
	out := &TenantPage{Cursor: cursor}
	for _, id := range pageKeys {
		out.Items = append(out.Items, copyTenant(m.tenants[id]))
	}
	return out, nil
}

// --- WorkerStore ---

func (m *Memory) GetWorker(_ context.Context, tenantID, workerID string) (*model.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyWorker(m.workers[tenantID][workerID]), nil
}

func (m *Memory) PutWorker(_ context.Context, w *model.Worker) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byID := m.workers[w.TenantID]
	if byID == nil {
		byID = make(map[string]*model.Worker)
		m.workers[w.TenantID] = byID
	}
	byID[w.ID] = copyWorker(w)
	return nil
}

func (m *Memory) DeleteWorker(_ context.Context, tenantID, workerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.workers[tenantID], workerID)
	return nil
}

func (m *Memory) ListWorkers(_ context.Context, tenantID string, opts ListOptions) (*WorkerPage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byID := m.workers[tenantID]
	keys := make([]string, 0, len(byID))
	for id := range byID {
		keys = append(keys, id)
	}
	pageKeys, cursor := page(keys, opts)
	out := &WorkerPage{Cursor: cursor}
	for _, id := range pageKeys {
		out.Items = append(out.Items, copyWorker(byID[id]))
	}
	return out, nil
}

func (m *Memory) DeleteAllWorkers(_ context.Context, tenantID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.workers[tenantID])
	delete(m.workers, tenantID)
	return n, nil
}

// --- BundleStore ---

func (m *Memory) GetBundle(_ context.Context, tenantID, workerID string, version int) (*model.Bundle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyBundle(m.bundles[keyBundle(tenantID, workerID, version)]), nil
}

func (m *Memory) PutBundle(_ context.Context, tenantID, workerID string, version int, b *model.Bundle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bundles[keyBundle(tenantID, workerID, version)] = copyBundle(b)
	return nil
}

func (m *Memory) DeleteBundle(_ context.Context, tenantID, workerID string, version int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.bundles, keyBundle(tenantID, workerID, version))
	return nil
}

func (m *Memory) DeleteAllBundles(_ context.Context, tenantID, workerID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := "bundle:" + tenantID + ":" + workerID + ":v"
	n := 0
	for k := range m.bundles {
		if strings.HasPrefix(k, prefix) {
			delete(m.bundles, k)
			n++
		}
	}
	return n, nil
}

func (m *Memory) ListBundleVersions(_ context.Context, tenantID, workerID string) ([]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	prefix := "bundle:" + tenantID + ":" + workerID + ":v"
	var versions []int
	for k, b := range m.bundles {
		if strings.HasPrefix(k, prefix) {
			versions = append(versions, b.Version)
		}
	}
	sort.Ints(versions)
	return versions, nil
}

func (m *Memory) GetBundleByFingerprint(_ context.Context, fingerprint string) (*model.Bundle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.fingerprints[fingerprint]
	if !ok {
		return nil, nil
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		delete(m.fingerprints, fingerprint)
		return nil, nil
	}
	return copyBundle(entry.bundle), nil
}

func (m *Memory) PutBundleByFingerprint(_ context.Context, fingerprint string, b *model.Bundle, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := fingerprintEntry{bundle: copyBundle(b)}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	m.fingerprints[fingerprint] = entry
	return nil
}

// --- HostnameStore ---

func (m *Memory) GetRoute(_ context.Context, hostname string) (*model.HostnameRoute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.routes[hostname]
	if !ok {
		return nil, nil
	}
	out := *r
	return &out, nil
}

func (m *Memory) PutRoute(_ context.Context, route *model.HostnameRoute) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := *route
	m.routes[route.Hostname] = &r
	return nil
}

func (m *Memory) DeleteRoute(_ context.Context, hostname string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.routes, hostname)
	return nil
}

func (m *Memory) ListByWorker(_ context.Context, tenantID, workerID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var hosts []string
	for h, r := range m.routes {
		if r.TenantID == tenantID && r.WorkerID == workerID {
			hosts = append(hosts, h)
		}
	}
	sort.Strings(hosts)
	return hosts, nil
}

func (m *Memory) DeleteByWorker(_ context.Context, tenantID, workerID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for h, r := range m.routes {
		if r.TenantID == tenantID && r.WorkerID == workerID {
			delete(m.routes, h)
			n++
		}
	}
	return n, nil
}

// --- TemplateStore ---

func (m *Memory) GetTemplate(_ context.Context, id string) (*model.Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyTemplate(m.templates[id]), nil
}

func (m *Memory) PutTemplate(_ context.Context, t *model.Template) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates[t.ID] = copyTemplate(t)
	return nil
}

func (m *Memory) DeleteTemplate(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.templates, id)
	return nil
}

func (m *Memory) ListTemplates(_ context.Context, opts ListOptions) (*TemplatePage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.templates))
	for id := range m.templates {
		keys = append(keys, id)
	}
	pageKeys, cursor := page(keys, opts)
	out := &TemplatePage{Cursor: cursor}
	for _, id := range pageKeys {
		out.Items = append(out.Items, m.templates[id].Metadata())
	}
	return out, nil
}

// --- DefaultsStore ---

func (m *Memory) GetDefaults(_ context.Context) (*model.ConfigBundle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.defaults == nil {
		return nil, nil
	}
	d := m.defaults.Clone()
	return &d, nil
}

func (m *Memory) PutDefaults(_ context.Context, d *model.ConfigBundle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := d.Clone()
	m.defaults = &c
	return nil
}
