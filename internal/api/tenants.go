package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/substrate-host/substrate/internal/errs"
	"github.com/substrate-host/substrate/internal/model"
)

// GetDefaults returns the current platform defaults.
func (s *Server) GetDefaults(c *fiber.Ctx) error {
	d, err := s.platform.GetDefaults(c.Context())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(d)
}

// UpdateDefaults merges the body into the persisted defaults.
func (s *Server) UpdateDefaults(c *fiber.Ctx) error {
	var patch model.ConfigBundle
	if err := c.BodyParser(&patch); err != nil {
		return fail(c, errs.Validation("invalid request body: %v", err))
	}
	d, err := s.platform.UpdateDefaults(c.Context(), patch)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(d)
}

// ListTenants returns one page of tenants.
func (s *Server) ListTenants(c *fiber.Ctx) error {
	page, err := s.platform.ListTenants(c.Context(), listOptions(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(page)
}

// CreateTenant registers a tenant; 409 on a duplicate id.
func (s *Server) CreateTenant(c *fiber.Ctx) error {
	var req struct {
		ID     string             `json:"id"`
		Config model.ConfigBundle `json:"config"`
	}
	if err := c.BodyParser(&req); err != nil {
		return fail(c, errs.Validation("invalid request body: %v", err))
	}
	t, err := s.platform.CreateTenant(c.Context(), req.ID, req.Config)
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(t)
}

// GetTenant returns a tenant record.
func (s *Server) GetTenant(c *fiber.Ctx) error {
	t, err := s.platform.GetTenant(c.Context(), c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(t)
}

// UpdateTenant lays the body over the tenant's config.
func (s *Server) UpdateTenant(c *fiber.Ctx) error {
	var patch model.ConfigBundle
	if err := c.BodyParser(&patch); err != nil {
		return fail(c, errs.Validation("invalid request body: %v", err))
	}
	t, err := s.platform.UpdateTenant(c.Context(), c.Params("id"), patch)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(t)
}

// DeleteTenant removes a tenant and everything it owns.
func (s *Server) DeleteTenant(c *fiber.Ctx) error {
	if err := s.platform.DeleteTenant(c.Context(), c.Params("id")); err != nil {
		return fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
