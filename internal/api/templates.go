package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/substrate-host/substrate/internal/errs"
	"github.com/substrate-host/substrate/internal/platform"
)

// ListTemplates returns one page of template metadata.
func (s *Server) ListTemplates(c *fiber.Ctx) error {
	page, err := s.platform.ListTemplates(c.Context(), listOptions(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(page)
}

// RegisterTemplate validates and stores a template.
func (s *Server) RegisterTemplate(c *fiber.Ctx) error {
	var in platform.TemplateInput
	if err := c.BodyParser(&in); err != nil {
		return fail(c, errs.Validation("invalid request body: %v", err))
	}
	t, err := s.platform.RegisterTemplate(c.Context(), in)
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(t)
}

// GetTemplate returns a template record.
func (s *Server) GetTemplate(c *fiber.Ctx) error {
	t, err := s.platform.GetTemplate(c.Context(), c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(t)
}

// UpdateTemplate replaces template fields; the slot closure is re-checked.
func (s *Server) UpdateTemplate(c *fiber.Ctx) error {
	var in platform.TemplateInput
	if err := c.BodyParser(&in); err != nil {
		return fail(c, errs.Validation("invalid request body: %v", err))
	}
	t, err := s.platform.UpdateTemplate(c.Context(), c.Params("id"), in)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(t)
}

// DeleteTemplate removes a template.
func (s *Server) DeleteTemplate(c *fiber.Ctx) error {
	if err := s.platform.DeleteTemplate(c.Context(), c.Params("id")); err != nil {
		return fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// GenerateFromTemplate interpolates the template with the given slot values
// and returns the resulting files without creating anything.
func (s *Server) GenerateFromTemplate(c *fiber.Ctx) error {
	var req struct {
		Slots map[string]string `json:"slots,omitempty"`
	}
	if err := c.BodyParser(&req); err != nil {
		return fail(c, errs.Validation("invalid request body: %v", err))
	}
	files, err := s.platform.PreviewTemplateFiles(c.Context(), c.Params("id"), req.Slots)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"files": files})
}

// CreateWorkerFromTemplate instantiates a worker from the template.
func (s *Server) CreateWorkerFromTemplate(c *fiber.Ctx) error {
	var req struct {
		TenantID string `json:"tenant_id"`
		platform.FromTemplateInput
		platform.BuildOpts
	}
	if err := c.BodyParser(&req); err != nil {
		return fail(c, errs.Validation("invalid request body: %v", err))
	}
	w, err := s.platform.CreateWorkerFromTemplate(c.Context(), req.TenantID, c.Params("id"), req.FromTemplateInput, &req.BuildOpts)
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(w)
}
