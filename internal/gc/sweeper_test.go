package gc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/substrate-host/substrate/internal/model"
	"github.com/substrate-host/substrate/internal/store"
)

func seed(t *testing.T) *store.Stores {
	t.Helper()
	stores := store.NewMemoryStores()
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, stores.Tenants.PutTenant(ctx, &model.Tenant{ID: "acme", CreatedAt: now, UpdatedAt: now}))
	require.NoError(t, stores.Workers.PutWorker(ctx, &model.Worker{
		TenantID:  "acme",
		ID:        "api",
		Files:     map[string]string{"index.js": ""},
		Version:   5,
		CreatedAt: now,
		UpdatedAt: now,
	}))
	for v := 1; v <= 5; v++ {
		require.NoError(t, stores.Bundles.PutBundle(ctx, "acme", "api", v, &model.Bundle{
			MainModule: "index.js",
			Modules:    map[string]string{"index.js": ""},
			Version:    v,
			BuiltAt:    now,
		}))
	}
	return stores
}

func TestSweepPrunesSupersededVersions(t *testing.T) {
	stores := seed(t)
	s := New(stores, 2)

	require.NoError(t, s.Sweep(context.Background()))

	versions, err := stores.Bundles.ListBundleVersions(context.Background(), "acme", "api")
	require.NoError(t, err)
	assert.Equal(t, []int{4, 5}, versions, "sweep must keep the newest two versions")
}

func TestSweepKeepsBundlesAheadOfRecord(t *testing.T) {
	stores := seed(t)
	ctx := context.Background()

	// An in-flight update has written v6's bundle but not the record yet.
	require.NoError(t, stores.Bundles.PutBundle(ctx, "acme", "api", 6, &model.Bundle{
		MainModule: "index.js",
		Modules:    map[string]string{"index.js": ""},
		Version:    6,
		BuiltAt:    time.Now().UTC(),
	}))

	require.NoError(t, New(stores, 1).Sweep(ctx))

	versions, err := stores.Bundles.ListBundleVersions(ctx, "acme", "api")
	require.NoError(t, err)
	assert.Equal(t, []int{5, 6}, versions)
}

func TestSweepIsIdempotent(t *testing.T) {
	stores := seed(t)
	s := New(stores, 2)
	ctx := context.Background()

	require.NoError(t, s.Sweep(ctx))
	require.NoError(t, s.Sweep(ctx))

	versions, err := stores.Bundles.ListBundleVersions(ctx, "acme", "api")
	require.NoError(t, err)
	assert.Equal(t, []int{4, 5}, versions)
}

func TestSweepEmptyStore(t *testing.T) {
	s := New(store.NewMemoryStores(), 0)
	assert.NoError(t, s.Sweep(context.Background()))
}
