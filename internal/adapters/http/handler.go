package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/melih/goal-listener/internal/core/ports"
)

// TrackerHandler reports on the tracker application and its restarts.
type TrackerHandler struct {
	name     string
	restarts ports.RestartService
}

func NewTrackerHandler(name string, restarts ports.RestartService) *TrackerHandler {
	return &TrackerHandler{name: name, restarts: restarts}
}

func (h *TrackerHandler) GetTracker(c *fiber.Ctx) error {
	status, err := h.restarts.Runtime().Status(c.UserContext())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	resp := fiber.Map{
		"name":   h.name,
		"status": status,
	}
	if last, ok := h.restarts.Last(); ok {
		resp["last_restart"] = last
	}
	return c.JSON(resp)
}

func (h *TrackerHandler) GetTrackerLogs(c *fiber.Ctx) error {
	logs, err := h.restarts.Runtime().Logs(c.UserContext())
	switch {
	case errors.Is(err, ports.ErrLogsUnsupported):
		return c.Status(fiber.StatusNotImplemented).JSON(fiber.Map{
			"error": err.Error(),
		})
	case errors.Is(err, ports.ErrNotRunning):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": err.Error(),
		})
	case err != nil:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	// SendStream closes logs once the body is written.
	c.Set("Content-Type", "text/plain")
	return c.SendStream(logs)
}

func (h *TrackerHandler) GetRestart(c *fiber.Ctx) error {
	id := c.Params("id")
	report, err := h.restarts.Report(id)
	if errors.Is(err, ports.ErrReportNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Restart not found",
		})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(report)
}
