package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/substrate-host/substrate/internal/model"
)

func newRedisStore(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client), mr
}

func TestRedisTenantRoundTrip(t *testing.T) {
	r, _ := newRedisStore(t)
	ctx := context.Background()

	got, err := r.GetTenant(ctx, "acme")
	require.NoError(t, err)
	assert.Nil(t, got)

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, r.PutTenant(ctx, &model.Tenant{
		ID:        "acme",
		Config:    model.ConfigBundle{Env: map[string]string{"A": "1"}, CompatibilityFlags: []string{"f"}},
		CreatedAt: now,
		UpdatedAt: now,
	}))

	got, err = r.GetTenant(ctx, "acme")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "1", got.Config.Env["A"])
	assert.Equal(t, []string{"f"}, got.Config.CompatibilityFlags)
	assert.True(t, got.CreatedAt.Equal(now))

	require.NoError(t, r.DeleteTenant(ctx, "acme"))
	got, err = r.GetTenant(ctx, "acme")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisWorkerListAndDeleteAll(t *testing.T) {
	r, _ := newRedisStore(t)
	ctx := context.Background()

	for _, id := range []string{"api", "web", "jobs"} {
		require.NoError(t, r.PutWorker(ctx, &model.Worker{
			TenantID: "acme",
			ID:       id,
			Files:    map[string]string{"index.js": ""},
			Version:  1,
		}))
	}
	require.NoError(t, r.PutWorker(ctx, &model.Worker{TenantID: "globex", ID: "api", Version: 1}))

	page, err := r.ListWorkers(ctx, "acme", ListOptions{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	require.NotEmpty(t, page.Cursor)

	rest, err := r.ListWorkers(ctx, "acme", ListOptions{Limit: 2, Cursor: page.Cursor})
	require.NoError(t, err)
	assert.Len(t, rest.Items, 1)
	assert.Empty(t, rest.Cursor)

	n, err := r.DeleteAllWorkers(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	w, err := r.GetWorker(ctx, "globex", "api")
	require.NoError(t, err)
	assert.NotNil(t, w)
}

func TestRedisBundles(t *testing.T) {
	r, _ := newRedisStore(t)
	ctx := context.Background()

	for v := 1; v <= 3; v++ {
		require.NoError(t, r.PutBundle(ctx, "acme", "api", v, &model.Bundle{
			MainModule: "index.js",
			Modules:    map[string]string{"index.js": "export default {}"},
			Version:    v,
			BuiltAt:    time.Now().UTC(),
		}))
	}

	b, err := r.GetBundle(ctx, "acme", "api", 2)
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, 2, b.Version)

	versions, err := r.ListBundleVersions(ctx, "acme", "api")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, versions)

	require.NoError(t, r.DeleteBundle(ctx, "acme", "api", 1))
	n, err := r.DeleteAllBundles(ctx, "acme", "api")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRedisFingerprintTTL(t *testing.T) {
	r, mr := newRedisStore(t)
	ctx := context.Background()

	b := &model.Bundle{MainModule: "index.js", Modules: map[string]string{"index.js": ""}}
	require.NoError(t, r.PutBundleByFingerprint(ctx, "cafe", b, time.Hour))

	got, err := r.GetBundleByFingerprint(ctx, "cafe")
	require.NoError(t, err)
	require.NotNil(t, got)

	mr.FastForward(2 * time.Hour)

	got, err = r.GetBundleByFingerprint(ctx, "cafe")
	require.NoError(t, err)
	assert.Nil(t, got, "entry survived its TTL")
}

func TestRedisHostnamesForwardAndReverse(t *testing.T) {
	r, _ := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, r.PutRoute(ctx, &model.HostnameRoute{Hostname: "a.example", TenantID: "acme", WorkerID: "api"}))
	require.NoError(t, r.PutRoute(ctx, &model.HostnameRoute{Hostname: "b.example", TenantID: "acme", WorkerID: "api"}))

	route, err := r.GetRoute(ctx, "a.example")
	require.NoError(t, err)
	require.NotNil(t, route)
	assert.Equal(t, "api", route.WorkerID)

	hosts, err := r.ListByWorker(ctx, "acme", "api")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.example", "b.example"}, hosts)

	// Deleting the forward route must also clear the reverse marker.
	require.NoError(t, r.DeleteRoute(ctx, "a.example"))
	hosts, err = r.ListByWorker(ctx, "acme", "api")
	require.NoError(t, err)
	assert.Equal(t, []string{"b.example"}, hosts)

	n, err := r.DeleteByWorker(ctx, "acme", "api")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	route, err = r.GetRoute(ctx, "b.example")
	require.NoError(t, err)
	assert.Nil(t, route)
}

func TestRedisTemplatesAndDefaults(t *testing.T) {
	r, _ := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, r.PutTemplate(ctx, &model.Template{
		ID:    "hello",
		Name:  "Hello",
		Files: map[string]string{"index.js": "{{greeting}}"},
		Slots: []model.Slot{{Name: "greeting", Default: "hi"}},
	}))

	tmpl, err := r.GetTemplate(ctx, "hello")
	require.NoError(t, err)
	require.NotNil(t, tmpl)
	assert.Equal(t, "Hello", tmpl.Name)

	page, err := r.ListTemplates(ctx, ListOptions{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, []string{"greeting"}, page.Items[0].SlotNames)

	require.NoError(t, r.PutDefaults(ctx, &model.ConfigBundle{CompatibilityDate: "2026-02-02"}))
	d, err := r.GetDefaults(ctx)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "2026-02-02", d.CompatibilityDate)
}
