// Package api exposes the control plane over HTTP. It is a thin layer: it
// parses requests, calls the platform façade, and maps error kinds to
// status codes. All behaviour lives in the platform package.
package api

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/substrate-host/substrate/internal/config"
	"github.com/substrate-host/substrate/internal/errs"
	"github.com/substrate-host/substrate/internal/observability"
	"github.com/substrate-host/substrate/internal/platform"
	"github.com/substrate-host/substrate/internal/store"
)

// Server is the HTTP front-end over a platform.
type Server struct {
	app      *fiber.App
	config   *config.Config
	platform *platform.Platform
}

// NewServer creates the HTTP server and registers all routes.
func NewServer(cfg *config.Config, p *platform.Platform) *Server {
	app := fiber.New(fiber.Config{
		ServerHeader:          "Substrate",
		AppName:               "Substrate",
		BodyLimit:             cfg.Server.BodyLimit,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		DisableStartupMessage: !cfg.Debug,
	})

	s := &Server{app: app, config: cfg, platform: p}

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(s.metricsMiddleware)

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api")

	api.Get("/defaults", s.GetDefaults)
	api.Put("/defaults", s.UpdateDefaults)

	api.Get("/tenants", s.ListTenants)
	api.Post("/tenants", s.CreateTenant)
	api.Get("/tenants/:id", s.GetTenant)
	api.Put("/tenants/:id", s.UpdateTenant)
	api.Delete("/tenants/:id", s.DeleteTenant)

	api.Get("/tenants/:id/workers", s.ListWorkers)
	api.Post("/tenants/:id/workers", s.CreateWorker)
	api.Get("/tenants/:id/workers/:wid", s.GetWorker)
	api.Put("/tenants/:id/workers/:wid", s.UpdateWorker)
	api.Delete("/tenants/:id/workers/:wid", s.DeleteWorker)
	api.Post("/tenants/:id/workers/:wid/fetch", s.FetchWorker)

	api.Get("/tenants/:id/workers/:wid/hostnames", s.ListWorkerHostnames)
	api.Post("/tenants/:id/workers/:wid/hostnames", s.AddWorkerHostnames)
	api.Delete("/tenants/:id/workers/:wid/hostnames", s.RemoveWorkerHostnames)

	api.Post("/run", s.Run)
	api.Post("/route", s.Route)

	api.Get("/templates", s.ListTemplates)
	api.Post("/templates", s.RegisterTemplate)
	api.Get("/templates/:id", s.GetTemplate)
	api.Put("/templates/:id", s.UpdateTemplate)
	api.Delete("/templates/:id", s.DeleteTemplate)
	api.Post("/templates/:id/generate", s.GenerateFromTemplate)
	api.Post("/templates/:id/workers", s.CreateWorkerFromTemplate)

	registerAuxRoutes(api.Group("/outbound-workers"), s, auxOutbound)
	registerAuxRoutes(api.Group("/tail-workers"), s, auxTail)

	return s
}

// Start begins serving. Blocks until Shutdown or a listener error.
func (s *Server) Start() error {
	log.Info().Str("address", s.config.Server.Address).Msg("HTTP server starting")
	return s.app.Listen(s.config.Server.Address)
}

// Shutdown drains connections and stops the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) metricsMiddleware(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()

	path := c.Route().Path
	observability.HTTPRequestDuration.WithLabelValues(c.Method(), path).Observe(time.Since(start).Seconds())
	observability.HTTPRequestsTotal.WithLabelValues(c.Method(), path, strconv.Itoa(c.Response().StatusCode())).Inc()
	return err
}

// fail maps an error kind to a status code and renders the standard error
// body.
func fail(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch errs.KindOf(err) {
	case errs.KindValidation:
		status = fiber.StatusBadRequest
	case errs.KindNotFound:
		status = fiber.StatusNotFound
	case errs.KindConflict:
		status = fiber.StatusConflict
	case errs.KindBuild:
		status = fiber.StatusUnprocessableEntity
	case errs.KindCancel:
		status = 499
	}

	body := fiber.Map{
		"error": err.Error(),
		"kind":  errs.KindOf(err).String(),
	}
	var e *errs.Error
	if errors.As(err, &e) && e.Kind == errs.KindBuild && e.Stack != "" {
		body["stack"] = e.Stack
	}
	if status >= 500 {
		log.Error().Err(err).Int("status", status).Msg("Request failed")
	}
	return c.Status(status).JSON(body)
}

func listOptions(c *fiber.Ctx) store.ListOptions {
	limit, _ := strconv.Atoi(c.Query("limit"))
	return store.ListOptions{
		Prefix: c.Query("prefix"),
		Limit:  limit,
		Cursor: c.Query("cursor"),
	}
}
