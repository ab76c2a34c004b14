package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/substrate-host/substrate/internal/errs"
	"github.com/substrate-host/substrate/internal/platform"
)

// auxKind selects which auxiliary registry a route group serves.
type auxKind int

const (
	auxOutbound auxKind = iota
	auxTail
)

// registerAuxRoutes wires the parallel CRUD surface for outbound and tail
// worker registries.
func registerAuxRoutes(g fiber.Router, s *Server, kind auxKind) {
	g.Get("/", func(c *fiber.Ctx) error { return s.listAux(c, kind) })
	g.Post("/", func(c *fiber.Ctx) error { return s.createAux(c, kind) })
	g.Get("/:id", func(c *fiber.Ctx) error { return s.getAux(c, kind) })
	g.Put("/:id", func(c *fiber.Ctx) error { return s.updateAux(c, kind) })
	g.Delete("/:id", func(c *fiber.Ctx) error { return s.deleteAux(c, kind) })
}

func (s *Server) listAux(c *fiber.Ctx, kind auxKind) error {
	opts := listOptions(c)
	page, err := func() (any, error) {
		if kind == auxOutbound {
			return s.platform.ListOutboundWorkers(c.Context(), opts)
		}
		return s.platform.ListTailWorkers(c.Context(), opts)
	}()
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(page)
}

func (s *Server) createAux(c *fiber.Ctx, kind auxKind) error {
	var req struct {
		platform.WorkerInput
		platform.BuildOpts
	}
	if err := c.BodyParser(&req); err != nil {
		return fail(c, errs.Validation("invalid request body: %v", err))
	}

	var w any
	var err error
	if kind == auxOutbound {
		w, err = s.platform.RegisterOutboundWorker(c.Context(), req.WorkerInput, &req.BuildOpts)
	} else {
		w, err = s.platform.RegisterTailWorker(c.Context(), req.WorkerInput, &req.BuildOpts)
	}
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(w)
}

func (s *Server) getAux(c *fiber.Ctx, kind auxKind) error {
	var w any
	var err error
	if kind == auxOutbound {
		w, err = s.platform.GetOutboundWorker(c.Context(), c.Params("id"))
	} else {
		w, err = s.platform.GetTailWorker(c.Context(), c.Params("id"))
	}
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(w)
}

func (s *Server) updateAux(c *fiber.Ctx, kind auxKind) error {
	var req struct {
		platform.WorkerPatch
		platform.BuildOpts
	}
	if err := c.BodyParser(&req); err != nil {
		return fail(c, errs.Validation("invalid request body: %v", err))
	}

	var w any
	var err error
	if kind == auxOutbound {
		w, err = s.platform.UpdateOutboundWorker(c.Context(), c.Params("id"), req.WorkerPatch, &req.BuildOpts)
	} else {
		w, err = s.platform.UpdateTailWorker(c.Context(), c.Params("id"), req.WorkerPatch, &req.BuildOpts)
	}
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(w)
}

func (s *Server) deleteAux(c *fiber.Ctx, kind auxKind) error {
	var err error
	if kind == auxOutbound {
		err = s.platform.DeleteOutboundWorker(c.Context(), c.Params("id"))
	} else {
		err = s.platform.DeleteTailWorker(c.Context(), c.Params("id"))
	}
	if err != nil {
		return fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
