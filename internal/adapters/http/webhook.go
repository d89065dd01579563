package http

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/melih/goal-listener/internal/core/ports"
)

// WebhookConfig secures the commit webhook.
type WebhookConfig struct {
	Secret          string
	SignatureHeader string
	MaxBodySize     int64
	GoalLight       string
}

// WebhookHandler handles the inbound webhooks.
type WebhookHandler struct {
	tracker  string
	alerts   ports.AlertService
	restarts ports.RestartService
	cfg      WebhookConfig
	logger   *slog.Logger
}

func NewWebhookHandler(tracker string, alerts ports.AlertService, restarts ports.RestartService, cfg WebhookConfig, logger *slog.Logger) *WebhookHandler {
	if cfg.GoalLight == "" {
		cfg.GoalLight = "1"
	}
	return &WebhookHandler{tracker: tracker, alerts: alerts, restarts: restarts, cfg: cfg, logger: logger}
}

// LightAndSound fires the goal light and horn by hand.
func (h *WebhookHandler) LightAndSound(c *fiber.Ctx) error {
	h.logger.Info("manually playing the light and sound")
	h.alerts.LightAndSound(c.UserContext(), h.cfg.GoalLight)
	return c.SendString("Success")
}

// pushEvent holds the push payload fields used to label a restart.
type pushEvent struct {
	Ref   string `json:"ref"`
	After string `json:"after"`
}

// GitCommit restarts the tracker after a push to its repository.
func (h *WebhookHandler) GitCommit(c *fiber.Ctx) error {
	body := c.Body()
	if h.cfg.MaxBodySize > 0 && int64(len(body)) > h.cfg.MaxBodySize {
		h.logger.Warn("webhook body too large", "size", len(body), "limit", h.cfg.MaxBodySize)
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
			"error": "Request body too large",
		})
	}

	if h.cfg.Secret != "" {
		if err := verifySignature(body, c.Get(h.cfg.SignatureHeader), h.cfg.Secret); err != nil {
			h.logger.Warn("webhook signature rejected", "ip", c.IP())
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "Forbidden",
			})
		}
	}

	reason := "commit webhook"
	if len(body) > 0 {
		if !json.Valid(body) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}
		h.logger.Debug("received webhook data",
			"event", c.Get("X-GitHub-Event"),
			"data", json.RawMessage(body))

		var push pushEvent
		if err := json.Unmarshal(body, &push); err == nil && push.After != "" {
			reason = "push " + short(push.After)
			if push.Ref != "" {
				reason = "push " + strings.TrimPrefix(push.Ref, "refs/heads/") + "@" + short(push.After)
			}
		}
	}

	id := h.restarts.Schedule(reason)
	h.logger.Info("tracker restart scheduled", "restart_id", id, "reason", reason)

	return c.JSON(fiber.Map{
		"status":     "success",
		"message":    h.tracker + " restarted",
		"restart_id": id,
	})
}

func short(hash string) string {
	if len(hash) > 7 {
		return hash[:7]
	}
	return hash
}
