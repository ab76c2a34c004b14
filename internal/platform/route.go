package platform

import (
	"context"
	"net/url"
	"strings"

	"github.com/substrate-host/substrate/internal/errs"
	"github.com/substrate-host/substrate/internal/loader"
	"github.com/substrate-host/substrate/internal/observability"
)

// Route resolves the request's hostname to a worker and dispatches to it.
// Returns (nil, nil) when no route is bound to the hostname.
func (p *Platform) Route(ctx context.Context, req *loader.Request) (*loader.Response, error) {
	host, err := hostOf(req.URL)
	if err != nil {
		return nil, err
	}

	route, err := p.hostnames.Resolve(ctx, host)
	if err != nil {
		return nil, err
	}
	if route == nil {
		return nil, nil
	}

	observability.DispatchesTotal.WithLabelValues("route").Inc()
	return p.Fetch(ctx, route.TenantID, route.WorkerID, req, "")
}

func hostOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", errs.Validation("invalid request URL %q: %v", rawURL, err)
	}
	host := u.Hostname()
	if host == "" {
		// Relative URLs carry the host in neither field; fall back to the
		// raw string before any path separator.
		host = strings.SplitN(rawURL, "/", 2)[0]
	}
	if host == "" {
		return "", errs.Validation("request URL %q has no host", rawURL)
	}
	return host, nil
}
