package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/substrate-host/substrate/internal/bundle"
	"github.com/substrate-host/substrate/internal/errs"
	"github.com/substrate-host/substrate/internal/model"
	"github.com/substrate-host/substrate/internal/platform"
)

// Run performs an ephemeral build-and-dispatch. No worker records are
// written; the compiled bundle is cached by fingerprint only.
func (s *Server) Run(c *fiber.Ctx) error {
	var req struct {
		Files      map[string]string   `json:"files"`
		Options    *bundle.Options     `json:"options,omitempty"`
		TenantID   string              `json:"tenantId,omitempty"`
		Overrides  *model.ConfigBundle `json:"overrides,omitempty"`
		Entrypoint string              `json:"entrypoint,omitempty"`
		Request    *dispatchRequest    `json:"request,omitempty"`
	}
	if err := c.BodyParser(&req); err != nil {
		return fail(c, errs.Validation("invalid request body: %v", err))
	}

	runID := uuid.NewString()
	dispatch := req.Request
	if dispatch == nil {
		dispatch = &dispatchRequest{}
	}

	result, err := s.platform.RunEphemeral(c.Context(), req.TenantID, req.Files, dispatch.toLoaderRequest("run.internal"), &platform.RunOptions{
		Build:      req.Options,
		Overrides:  req.Overrides,
		Entrypoint: req.Entrypoint,
	})
	if err != nil {
		return fail(c, err)
	}

	log.Debug().
		Str("run_id", runID).
		Str("fingerprint", result.BuildInfo.Fingerprint).
		Bool("cached", result.Timing.Cached).
		Msg("Ephemeral run served")

	return c.JSON(fiber.Map{
		"runId":       runID,
		"buildInfo":   result.BuildInfo,
		"response":    toDispatchResponse(result.Response),
		"workerError": result.WorkerError,
		"timing":      result.Timing,
	})
}

// Route dispatches a request to whichever worker owns the URL's hostname.
// 404 when no route is bound.
func (s *Server) Route(c *fiber.Ctx) error {
	var req dispatchRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, errs.Validation("invalid request body: %v", err))
	}
	if req.URL == "" {
		return fail(c, errs.Validation("route requests need a url"))
	}

	resp, err := s.platform.Route(c.Context(), req.toLoaderRequest(""))
	if err != nil {
		return fail(c, err)
	}
	if resp == nil {
		return fail(c, errs.NotFound("route", req.URL))
	}
	return c.JSON(toDispatchResponse(resp))
}
