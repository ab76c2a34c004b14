package api

import (
	"encoding/base64"

	"github.com/gofiber/fiber/v2"

	"github.com/substrate-host/substrate/internal/errs"
	"github.com/substrate-host/substrate/internal/loader"
	"github.com/substrate-host/substrate/internal/platform"
)

// dispatchRequest is the wire shape for fetch/run/route bodies.
type dispatchRequest struct {
	Method  string            `json:"method"`
	Path    string            `json:"path,omitempty"`
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

func (r *dispatchRequest) toLoaderRequest(fallbackHost string) *loader.Request {
	method := r.Method
	if method == "" {
		method = fiber.MethodGet
	}
	url := r.URL
	if url == "" {
		path := r.Path
		if path == "" {
			path = "/"
		}
		url = "https://" + fallbackHost + path
	}
	return &loader.Request{
		Method:  method,
		URL:     url,
		Headers: r.Headers,
		Body:    []byte(r.Body),
	}
}

// dispatchResponse is the wire shape of a worker response. The body travels
// base64-encoded so binary responses survive JSON.
type dispatchResponse struct {
	Status      int               `json:"status"`
	Headers     map[string]string `json:"headers,omitempty"`
	Body        string            `json:"body"`
	WorkerError string            `json:"workerError,omitempty"`
}

func toDispatchResponse(resp *loader.Response) dispatchResponse {
	return dispatchResponse{
		Status:      resp.Status,
		Headers:     resp.Headers,
		Body:        base64.StdEncoding.EncodeToString(resp.Body),
		WorkerError: resp.WorkerError,
	}
}

// ListWorkers returns one page of a tenant's workers.
func (s *Server) ListWorkers(c *fiber.Ctx) error {
	page, err := s.platform.ListWorkers(c.Context(), c.Params("id"), listOptions(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(page)
}

// CreateWorker compiles and registers a worker.
func (s *Server) CreateWorker(c *fiber.Ctx) error {
	var req struct {
		platform.WorkerInput
		platform.BuildOpts
	}
	if err := c.BodyParser(&req); err != nil {
		return fail(c, errs.Validation("invalid request body: %v", err))
	}
	w, err := s.platform.CreateWorker(c.Context(), c.Params("id"), req.WorkerInput, &req.BuildOpts)
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(w)
}

// GetWorker returns a worker record.
func (s *Server) GetWorker(c *fiber.Ctx) error {
	w, err := s.platform.GetWorker(c.Context(), c.Params("id"), c.Params("wid"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(w)
}

// UpdateWorker merges the body over the worker, rebuilding and bumping the
// version.
func (s *Server) UpdateWorker(c *fiber.Ctx) error {
	var req struct {
		platform.WorkerPatch
		platform.BuildOpts
	}
	if err := c.BodyParser(&req); err != nil {
		return fail(c, errs.Validation("invalid request body: %v", err))
	}
	w, err := s.platform.UpdateWorker(c.Context(), c.Params("id"), c.Params("wid"), req.WorkerPatch, &req.BuildOpts)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(w)
}

// DeleteWorker removes a worker, its bundles and hostname routes.
func (s *Server) DeleteWorker(c *fiber.Ctx) error {
	if err := s.platform.DeleteWorker(c.Context(), c.Params("id"), c.Params("wid")); err != nil {
		return fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// FetchWorker builds a request from the body and dispatches it to the
// worker.
func (s *Server) FetchWorker(c *fiber.Ctx) error {
	var req struct {
		dispatchRequest
		Entrypoint string `json:"entrypoint,omitempty"`
	}
	if err := c.BodyParser(&req); err != nil {
		return fail(c, errs.Validation("invalid request body: %v", err))
	}

	tenantID, workerID := c.Params("id"), c.Params("wid")
	resp, err := s.platform.Fetch(c.Context(), tenantID, workerID, req.toLoaderRequest(workerID+"."+tenantID+".internal"), req.Entrypoint)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(toDispatchResponse(resp))
}

// ListWorkerHostnames returns the hostnames bound to a worker.
func (s *Server) ListWorkerHostnames(c *fiber.Ctx) error {
	hosts, err := s.platform.ListHostnames(c.Context(), c.Params("id"), c.Params("wid"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"hostnames": hosts})
}

// AddWorkerHostnames binds hostnames to a worker; 409 when any hostname is
// owned elsewhere.
func (s *Server) AddWorkerHostnames(c *fiber.Ctx) error {
	var req struct {
		Hostnames []string `json:"hostnames"`
	}
	if err := c.BodyParser(&req); err != nil {
		return fail(c, errs.Validation("invalid request body: %v", err))
	}
	if err := s.platform.AddHostnames(c.Context(), c.Params("id"), c.Params("wid"), req.Hostnames); err != nil {
		return fail(c, err)
	}
	return s.ListWorkerHostnames(c)
}

// RemoveWorkerHostnames unbinds hostnames from a worker.
func (s *Server) RemoveWorkerHostnames(c *fiber.Ctx) error {
	var req struct {
		Hostnames []string `json:"hostnames"`
	}
	if err := c.BodyParser(&req); err != nil {
		return fail(c, errs.Validation("invalid request body: %v", err))
	}
	if err := s.platform.RemoveHostnames(c.Context(), c.Params("id"), c.Params("wid"), req.Hostnames); err != nil {
		return fail(c, err)
	}
	return s.ListWorkerHostnames(c)
}
