// Package gc implements the optional orphan sweep: a scheduled scan over
// live workers that prunes bundle versions superseded by a worker update and
// restores hostname reverse-index markers left missing by an interrupted
// write. Bundles and routes of deleted workers are not visited. The sweep is an operational tool, not part of the
// control-plane contract; deletes stay best-effort and a failed sweep is
// retried on the next tick.
package gc

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/substrate-host/substrate/internal/observability"
	"github.com/substrate-host/substrate/internal/store"
)

// KeepVersions is how many bundle versions survive a sweep, counting down
// from the worker's current version. The current version is always kept.
const KeepVersions = 2

// Sweeper scans the stores for garbage on a cron schedule.
type Sweeper struct {
	stores *store.Stores
	cron   *cron.Cron
	keep   int
}

// New creates a sweeper. keep <= 0 selects KeepVersions.
func New(stores *store.Stores, keep int) *Sweeper {
	if keep <= 0 {
		keep = KeepVersions
	}
	return &Sweeper{stores: stores, keep: keep}
}

// Start schedules sweeps with the given cron expression and runs them until
// Stop is called.
func (s *Sweeper) Start(spec string) error {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if err := s.Sweep(ctx); err != nil {
			observability.GCSweepsTotal.WithLabelValues("error").Inc()
			log.Error().Err(err).Msg("GC sweep failed")
			return
		}
		observability.GCSweepsTotal.WithLabelValues("ok").Inc()
	})
	if err != nil {
		return err
	}
	c.Start()
	s.cron = c
	log.Info().Str("schedule", spec).Msg("GC sweeper started")
	return nil
}

// Stop halts the schedule, waiting for an in-flight sweep.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Sweep walks every tenant's workers once, pruning superseded bundle
// versions and restoring missing hostname reverse-index markers.
func (s *Sweeper) Sweep(ctx context.Context) error {
	cursor := ""
	for {
		page, err := s.stores.Tenants.ListTenants(ctx, store.ListOptions{Cursor: cursor})
		if err != nil {
			return err
		}
		for _, t := range page.Items {
			if err := s.sweepTenant(ctx, t.ID); err != nil {
				return err
			}
		}
		if page.Cursor == "" {
			return nil
		}
		cursor = page.Cursor
	}
}

func (s *Sweeper) sweepTenant(ctx context.Context, tenantID string) error {
	cursor := ""
	for {
		page, err := s.stores.Workers.ListWorkers(ctx, tenantID, store.ListOptions{Cursor: cursor})
		if err != nil {
			return err
		}
		for _, w := range page.Items {
			if err := s.pruneBundles(ctx, tenantID, w.ID, w.Version); err != nil {
				return err
			}
			if err := s.repairHostnames(ctx, tenantID, w.ID, w.Hostnames); err != nil {
				return err
			}
		}
		if page.Cursor == "" {
			return nil
		}
		cursor = page.Cursor
	}
}

// pruneBundles drops versions older than (current - keep + 1). Versions
// newer than the record's current version are left alone: they belong to an
// update that has written its bundle but not yet its record.
func (s *Sweeper) pruneBundles(ctx context.Context, tenantID, workerID string, current int) error {
	versions, err := s.stores.Bundles.ListBundleVersions(ctx, tenantID, workerID)
	if err != nil {
		return err
	}
	floor := current - s.keep + 1
	for _, v := range versions {
		if v >= floor {
			continue
		}
		if err := s.stores.Bundles.DeleteBundle(ctx, tenantID, workerID, v); err != nil {
			return err
		}
		observability.GCRemovedTotal.WithLabelValues("bundle").Inc()
		log.Debug().
			Str("tenant", tenantID).
			Str("worker", workerID).
			Int("version", v).
			Msg("Pruned superseded bundle")
	}
	return nil
}

// repairHostnames restores the reverse-index marker for each hostname in the
// worker's record whose forward route still points at this worker but which
// the reverse index does not list, the leftover of an interrupted two-phase
// hostname write. It deletes nothing.
func (s *Sweeper) repairHostnames(ctx context.Context, tenantID, workerID string, recorded []string) error {
	indexed, err := s.stores.Hostnames.ListByWorker(ctx, tenantID, workerID)
	if err != nil {
		return err
	}
	have := make(map[string]struct{}, len(indexed))
	for _, h := range indexed {
		have[h] = struct{}{}
	}
	for _, h := range recorded {
		if _, ok := have[h]; ok {
			continue
		}
		route, err := s.stores.Hostnames.GetRoute(ctx, h)
		if err != nil {
			return err
		}
		if route != nil && route.TenantID == tenantID && route.WorkerID == workerID {
			// Forward entry exists but the reverse marker is gone; restore
			// the marker by rewriting the route.
			if err := s.stores.Hostnames.PutRoute(ctx, route); err != nil {
				return err
			}
			observability.GCRemovedTotal.WithLabelValues("hostname_repair").Inc()
		}
	}
	return nil
}
