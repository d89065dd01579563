// Package http exposes the listener over Fiber.
package http

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/melih/goal-listener/internal/adapters/sounds"
	"github.com/melih/goal-listener/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handlers groups everything the router mounts.
type Handlers struct {
	Sounds   *SoundHandler
	Webhooks *WebhookHandler
	Tracker  *TrackerHandler
}

// NewApp builds the Fiber app with all listener routes.
func NewApp(h Handlers, bodyLimit int64, logger *slog.Logger) *fiber.App {
	cfg := fiber.Config{
		AppName:               "goal-listener",
		DisableStartupMessage: true,
	}
	// The webhook handler enforces its own limit, so fiber must accept at least that much.
	if bodyLimit > fiber.DefaultBodyLimit {
		cfg.BodyLimit = int(bodyLimit)
	}
	app := fiber.New(cfg)

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(observe(logger))

	app.Get("/health", Health)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	if h.Sounds != nil {
		app.Get("/files/:filename", h.Sounds.Serve(sounds.Files))
		app.Get("/roster/:filename", h.Sounds.Serve(sounds.Roster))
		app.Get("/league/:filename", h.Sounds.Serve(sounds.League))
	}

	webhook := app.Group("/webhook")
	webhook.Post("/lightandsound", h.Webhooks.LightAndSound)
	webhook.Post("/gitcommit", h.Webhooks.GitCommit)

	v1 := app.Group("/api/v1")
	v1.Get("/tracker", h.Tracker.GetTracker)
	v1.Get("/tracker/logs", h.Tracker.GetTrackerLogs)
	v1.Get("/restarts/:id", h.Tracker.GetRestart)

	return app
}

// Health reports liveness.
func Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// observe records request metrics and logs every request at debug level.
func observe(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status = fiber.StatusInternalServerError
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			}
		}
		route := c.Route().Path
		elapsed := time.Since(start)

		metrics.HTTPRequestsTotal.WithLabelValues(c.Method(), route, strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Method(), route).Observe(elapsed.Seconds())

		logger.Debug("request",
			"method", c.Method(),
			"path", c.Path(),
			"status", status,
			"duration", elapsed,
			"request_id", c.Locals(requestid.ConfigDefault.ContextKey))
		return err
	}
}
