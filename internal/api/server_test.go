package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/substrate-host/substrate/internal/bundle"
	"github.com/substrate-host/substrate/internal/config"
	"github.com/substrate-host/substrate/internal/platform"
	"github.com/substrate-host/substrate/internal/store"
	"github.com/substrate-host/substrate/internal/testutil"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.Config{}
	cfg.Server.Address = ":0"
	cfg.Server.BodyLimit = 4 * 1024 * 1024

	stores := store.NewMemoryStores()
	p := platform.New(stores, bundle.NewCache(&testutil.FakeBundler{}, stores.Bundles, 0), testutil.NewFakeLoader())
	return NewServer(cfg, p)
}

func doJSON(t *testing.T, s *Server, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.App().Test(req, -1)
	require.NoError(t, err)

	var decoded map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &decoded)
	}
	return resp, decoded
}

var workerBody = map[string]any{
	"id": "api",
	"files": map[string]string{
		"src/index.ts": "export default{fetch(){return new Response('hi')}}",
		"package.json": `{"main":"src/index.ts"}`,
	},
}

func TestTenantLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)

	resp, body := doJSON(t, s, "POST", "/api/tenants", map[string]any{"id": "acme"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "acme", body["id"])

	// Duplicate id maps to 409.
	resp, body = doJSON(t, s, "POST", "/api/tenants", map[string]any{"id": "acme"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "conflict", body["kind"])

	resp, _ = doJSON(t, s, "GET", "/api/tenants/acme", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, s, "GET", "/api/tenants/ghost", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = doJSON(t, s, "GET", "/api/tenants", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["items"], 1)

	resp, _ = doJSON(t, s, "DELETE", "/api/tenants/acme", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestWorkerLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)

	doJSON(t, s, "POST", "/api/tenants", map[string]any{"id": "acme"})

	resp, body := doJSON(t, s, "POST", "/api/tenants/acme/workers", workerBody)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, float64(1), body["version"])

	resp, body = doJSON(t, s, "PUT", "/api/tenants/acme/workers/api", map[string]any{
		"files": map[string]string{
			"src/index.ts": "export default{fetch(){return new Response('ho')}}",
			"package.json": `{"main":"src/index.ts"}`,
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), body["version"])

	resp, body = doJSON(t, s, "POST", "/api/tenants/acme/workers/api/fetch", map[string]any{
		"method": "GET",
		"path":   "/",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(200), body["status"])

	resp, _ = doJSON(t, s, "DELETE", "/api/tenants/acme/workers/api", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestRunOverHTTP(t *testing.T) {
	s := newTestServer(t)

	runBody := map[string]any{
		"files": map[string]string{
			"index.js": "export default{fetch(){return new Response('eph')}}",
		},
	}

	resp, body := doJSON(t, s, "POST", "/api/run", runBody)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	timing := body["timing"].(map[string]any)
	assert.Equal(t, false, timing["cached"])
	require.NotNil(t, body["buildInfo"])

	resp, body = doJSON(t, s, "POST", "/api/run", runBody)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	timing = body["timing"].(map[string]any)
	assert.Equal(t, true, timing["cached"], "second identical run must be served from the build cache")
}

func TestHostnamesAndRouteOverHTTP(t *testing.T) {
	s := newTestServer(t)

	doJSON(t, s, "POST", "/api/tenants", map[string]any{"id": "acme"})
	doJSON(t, s, "POST", "/api/tenants/acme/workers", workerBody)

	resp, body := doJSON(t, s, "POST", "/api/tenants/acme/workers/api/hostnames", map[string]any{
		"hostnames": []string{"app.acme.com"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["hostnames"], 1)

	resp, _ = doJSON(t, s, "POST", "/api/route", map[string]any{
		"method": "GET",
		"url":    "https://app.acme.com/",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, s, "POST", "/api/route", map[string]any{
		"method": "GET",
		"url":    "https://unbound.example/",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTemplatesOverHTTP(t *testing.T) {
	s := newTestServer(t)

	resp, _ := doJSON(t, s, "POST", "/api/templates", map[string]any{
		"id":    "counter",
		"name":  "Counter",
		"files": map[string]string{"src/index.ts": "const x={{v}};", "package.json": `{"main":"src/index.ts"}`},
		"slots": []map[string]string{{"name": "v", "default": "1"}},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := doJSON(t, s, "POST", "/api/templates/counter/generate", map[string]any{
		"slots": map[string]string{"v": "42"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	files := body["files"].(map[string]any)
	assert.Equal(t, "const x=42;", files["src/index.ts"])

	// Undeclared slots in template files map to 400.
	resp, _ = doJSON(t, s, "POST", "/api/templates", map[string]any{
		"id":    "bad",
		"files": map[string]string{"a.ts": "{{nope}}"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDefaultsOverHTTP(t *testing.T) {
	s := newTestServer(t)

	resp, body := doJSON(t, s, "PUT", "/api/defaults", map[string]any{
		"env": map[string]string{"REGION": "eu"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	env := body["env"].(map[string]any)
	assert.Equal(t, "eu", env["REGION"])

	resp, body = doJSON(t, s, "GET", "/api/defaults", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	env = body["env"].(map[string]any)
	assert.Equal(t, "eu", env["REGION"])
}

func TestAuxWorkersOverHTTP(t *testing.T) {
	s := newTestServer(t)

	for _, base := range []string{"/api/outbound-workers", "/api/tail-workers"} {
		resp, body := doJSON(t, s, "POST", base+"/", map[string]any{
			"id":    "helper",
			"files": map[string]string{"index.js": "export default {}"},
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode, base)
		assert.Equal(t, float64(1), body["version"])

		resp, _ = doJSON(t, s, "GET", base+"/helper", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		resp, _ = doJSON(t, s, "DELETE", base+"/helper", nil)
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	resp, body := doJSON(t, s, "GET", "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}
