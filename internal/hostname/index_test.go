package hostname_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/substrate-host/substrate/internal/errs"
	"github.com/substrate-host/substrate/internal/hostname"
	"github.com/substrate-host/substrate/internal/model"
	"github.com/substrate-host/substrate/internal/store"
)

func newIndex(t *testing.T) (*hostname.Index, *store.Memory) {
	t.Helper()
	m := store.NewMemory()
	idx := hostname.NewIndex(m, m)

	now := time.Now().UTC()
	for _, id := range []string{"api", "api2"} {
		require.NoError(t, m.PutWorker(context.Background(), &model.Worker{
			TenantID:  "acme",
			ID:        id,
			Files:     map[string]string{"index.js": ""},
			Version:   1,
			CreatedAt: now,
			UpdatedAt: now,
		}))
	}
	return idx, m
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"App.Acme.COM", "app.acme.com", false},
		{"  app.acme.com ", "app.acme.com", false},
		{"", "", true},
		{"http://app.acme.com", "", true},
		{"app.acme.com/path", "", true},
		{"app.acme.com:8080", "", true},
		{"has space.com", "", true},
	}
	for _, tt := range tests {
		got, err := hostname.Normalize(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestAddAndResolve(t *testing.T) {
	idx, m := newIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx, "acme", "api", []string{"App.Acme.com"}))

	route, err := idx.Resolve(ctx, "app.acme.com")
	require.NoError(t, err)
	require.NotNil(t, route)
	assert.Equal(t, "acme", route.TenantID)
	assert.Equal(t, "api", route.WorkerID)

	// The owning worker's hostname set grew.
	w, err := m.GetWorker(ctx, "acme", "api")
	require.NoError(t, err)
	assert.Equal(t, []string{"app.acme.com"}, w.Hostnames)
}

func TestResolveUnbound(t *testing.T) {
	idx, _ := newIndex(t)
	route, err := idx.Resolve(context.Background(), "nothing.example")
	require.NoError(t, err)
	assert.Nil(t, route)
}

func TestAddConflict(t *testing.T) {
	idx, _ := newIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx, "acme", "api", []string{"app.acme.com"}))

	err := idx.Add(ctx, "acme", "api2", []string{"app.acme.com"})
	require.Error(t, err)
	assert.True(t, errs.IsConflict(err))

	// First binding survives.
	route, err := idx.Resolve(ctx, "app.acme.com")
	require.NoError(t, err)
	require.NotNil(t, route)
	assert.Equal(t, "api", route.WorkerID)
}

func TestAddIsIdempotentForSameWorker(t *testing.T) {
	idx, _ := newIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx, "acme", "api", []string{"app.acme.com"}))
	require.NoError(t, idx.Add(ctx, "acme", "api", []string{"app.acme.com"}))

	hosts, err := idx.ListByWorker(ctx, "acme", "api")
	require.NoError(t, err)
	assert.Equal(t, []string{"app.acme.com"}, hosts)
}

func TestAddConflictRollsBackEarlierWrites(t *testing.T) {
	idx, _ := newIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx, "acme", "api", []string{"taken.acme.com"}))

	// Second call binds one fresh hostname, then hits the conflict; the
	// fresh one must be rolled back.
	err := idx.Add(ctx, "acme", "api2", []string{"fresh.acme.com", "taken.acme.com"})
	require.Error(t, err)
	assert.True(t, errs.IsConflict(err))

	route, err := idx.Resolve(ctx, "fresh.acme.com")
	require.NoError(t, err)
	assert.Nil(t, route, "rolled-back hostname still resolves")
}

func TestRemove(t *testing.T) {
	idx, m := newIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx, "acme", "api", []string{"a.acme.com", "b.acme.com"}))
	require.NoError(t, idx.Remove(ctx, "acme", "api", []string{"a.acme.com"}))

	route, err := idx.Resolve(ctx, "a.acme.com")
	require.NoError(t, err)
	assert.Nil(t, route)

	w, err := m.GetWorker(ctx, "acme", "api")
	require.NoError(t, err)
	assert.Equal(t, []string{"b.acme.com"}, w.Hostnames)
}

func TestRemoveLeavesForeignBindingsAlone(t *testing.T) {
	idx, _ := newIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx, "acme", "api", []string{"app.acme.com"}))
	require.NoError(t, idx.Remove(ctx, "acme", "api2", []string{"app.acme.com"}))

	route, err := idx.Resolve(ctx, "app.acme.com")
	require.NoError(t, err)
	require.NotNil(t, route)
	assert.Equal(t, "api", route.WorkerID)
}

func TestDeleteByWorker(t *testing.T) {
	idx, _ := newIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx, "acme", "api", []string{"a.acme.com", "b.acme.com"}))

	n, err := idx.DeleteByWorker(ctx, "acme", "api")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	hosts, err := idx.ListByWorker(ctx, "acme", "api")
	require.NoError(t, err)
	assert.Empty(t, hosts)
}
