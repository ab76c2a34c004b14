// Package hostname maintains the bidirectional hostname <-> worker index.
// A hostname belongs to at most one worker across the whole platform.
package hostname

import (
	"context"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/substrate-host/substrate/internal/errs"
	"github.com/substrate-host/substrate/internal/model"
	"github.com/substrate-host/substrate/internal/store"
)

// Index provides exclusive hostname bindings over a HostnameStore, keeping
// the owning worker's hostname set in step.
type Index struct {
	hostnames store.HostnameStore
	workers   store.WorkerStore
}

// NewIndex creates a hostname index over the given stores.
func NewIndex(hostnames store.HostnameStore, workers store.WorkerStore) *Index {
	return &Index{hostnames: hostnames, workers: workers}
}

// Normalize lowercases and trims a hostname. Strings with separators or
// whitespace are rejected; no DNS-label normalisation is attempted.
func Normalize(host string) (string, error) {
	h := strings.ToLower(strings.TrimSpace(host))
	if h == "" {
		return "", errs.Validation("hostname is empty")
	}
	if strings.ContainsAny(h, "/:\\ \t\n\r\v\f") {
		return "", errs.Validation("invalid hostname %q", host)
	}
	return h, nil
}

// Resolve returns the route for a hostname, or nil when unbound.
func (i *Index) Resolve(ctx context.Context, host string) (*model.HostnameRoute, error) {
	h, err := Normalize(host)
	if err != nil {
		return nil, err
	}
	return i.hostnames.GetRoute(ctx, h)
}

// Add binds hostnames to a worker. A hostname already bound to a different
// worker fails the whole call with a conflict, rolling back the bindings
// written earlier in the same call. The store offers no conditional write,
// so exclusivity under a concurrent add of the same hostname is enforced by
// compare-after-write: write, re-read, and treat a disagreeing read as a
// lost race.
func (i *Index) Add(ctx context.Context, tenantID, workerID string, hosts []string) error {
	var written []string
	rollback := func() {
		for _, h := range written {
			if err := i.hostnames.DeleteRoute(ctx, h); err != nil {
				log.Warn().Err(err).Str("hostname", h).Msg("Hostname rollback failed")
			}
		}
	}

	for _, raw := range hosts {
		h, err := Normalize(raw)
		if err != nil {
			rollback()
			return err
		}

		existing, err := i.hostnames.GetRoute(ctx, h)
		if err != nil {
			rollback()
			return errs.Storage(err, "failed to read hostname %q", h)
		}
		if existing != nil {
			if existing.TenantID == tenantID && existing.WorkerID == workerID {
				continue
			}
			rollback()
			return errs.Conflict("hostname %q is already bound to %s/%s", h, existing.TenantID, existing.WorkerID)
		}

		route := &model.HostnameRoute{Hostname: h, TenantID: tenantID, WorkerID: workerID}
		if err := i.hostnames.PutRoute(ctx, route); err != nil {
			rollback()
			return errs.Storage(err, "failed to write hostname %q", h)
		}

		// Compare after write: a concurrent writer may have clobbered us.
		check, err := i.hostnames.GetRoute(ctx, h)
		if err != nil {
			rollback()
			return errs.Storage(err, "failed to verify hostname %q", h)
		}
		if check == nil || check.TenantID != tenantID || check.WorkerID != workerID {
			rollback()
			return errs.Conflict("hostname %q was bound concurrently by another worker", h)
		}
		written = append(written, h)
	}

	if len(written) > 0 {
		if err := i.growWorkerSet(ctx, tenantID, workerID, written); err != nil {
			rollback()
			return err
		}
	}
	return nil
}

// Remove unbinds hostnames from a worker and shrinks the worker's hostname
// set. Hostnames bound to a different worker are left untouched.
func (i *Index) Remove(ctx context.Context, tenantID, workerID string, hosts []string) error {
	var removed []string
	for _, raw := range hosts {
		h, err := Normalize(raw)
		if err != nil {
			return err
		}
		existing, err := i.hostnames.GetRoute(ctx, h)
		if err != nil {
			return errs.Storage(err, "failed to read hostname %q", h)
		}
		if existing == nil || existing.TenantID != tenantID || existing.WorkerID != workerID {
			continue
		}
		if err := i.hostnames.DeleteRoute(ctx, h); err != nil {
			return errs.Storage(err, "failed to delete hostname %q", h)
		}
		removed = append(removed, h)
	}

	if len(removed) > 0 {
		if err := i.shrinkWorkerSet(ctx, tenantID, workerID, removed); err != nil {
			return err
		}
	}
	return nil
}

// ListByWorker returns all hostnames bound to a worker.
func (i *Index) ListByWorker(ctx context.Context, tenantID, workerID string) ([]string, error) {
	return i.hostnames.ListByWorker(ctx, tenantID, workerID)
}

// DeleteByWorker unbinds every hostname of a worker, returning the count.
// Used by worker deletion; the worker record is on its way out, so its
// hostname set is not rewritten.
func (i *Index) DeleteByWorker(ctx context.Context, tenantID, workerID string) (int, error) {
	return i.hostnames.DeleteByWorker(ctx, tenantID, workerID)
}

func (i *Index) growWorkerSet(ctx context.Context, tenantID, workerID string, hosts []string) error {
	w, err := i.workers.GetWorker(ctx, tenantID, workerID)
	if err != nil {
		return errs.Storage(err, "failed to read worker %s/%s", tenantID, workerID)
	}
	if w == nil {
		return errs.NotFound("worker", tenantID+"/"+workerID)
	}

	set := make(map[string]struct{}, len(w.Hostnames)+len(hosts))
	for _, h := range w.Hostnames {
		set[h] = struct{}{}
	}
	changed := false
	for _, h := range hosts {
		if _, ok := set[h]; !ok {
			set[h] = struct{}{}
			changed = true
		}
	}
	if !changed {
		return nil
	}
	w.Hostnames = sortedSet(set)
	if err := i.workers.PutWorker(ctx, w); err != nil {
		return errs.Storage(err, "failed to update worker hostname set")
	}
	return nil
}

func (i *Index) shrinkWorkerSet(ctx context.Context, tenantID, workerID string, hosts []string) error {
	w, err := i.workers.GetWorker(ctx, tenantID, workerID)
	if err != nil {
		return errs.Storage(err, "failed to read worker %s/%s", tenantID, workerID)
	}
	if w == nil {
		return nil
	}

	drop := make(map[string]struct{}, len(hosts))
	for _, h := range hosts {
		drop[h] = struct{}{}
	}
	set := make(map[string]struct{}, len(w.Hostnames))
	for _, h := range w.Hostnames {
		if _, gone := drop[h]; !gone {
			set[h] = struct{}{}
		}
	}
	if len(set) == len(w.Hostnames) {
		return nil
	}
	w.Hostnames = sortedSet(set)
	if err := i.workers.PutWorker(ctx, w); err != nil {
		return errs.Storage(err, "failed to update worker hostname set")
	}
	return nil
}

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for h := range set {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}
