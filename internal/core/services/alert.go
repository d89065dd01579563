package services

import (
	"context"
	"log/slog"

	"github.com/melih/goal-listener/internal/core/ports"
	"github.com/melih/goal-listener/internal/metrics"
)

// AlertService drives the goal light and the speaker together.
type AlertService struct {
	light    ports.Light
	speaker  ports.Speaker
	goalHorn string
	logger   *slog.Logger
}

var _ ports.AlertService = (*AlertService)(nil)

// NewAlertService creates the service. light and speaker may be nil when not configured.
func NewAlertService(light ports.Light, speaker ports.Speaker, goalHorn string, logger *slog.Logger) *AlertService {
	return &AlertService{light: light, speaker: speaker, goalHorn: goalHorn, logger: logger}
}

// LightAndSound turns on the goal light and plays the goal horn. Failures are logged
// and counted; the caller always sees success.
func (s *AlertService) LightAndSound(ctx context.Context, message string) {
	if s.light != nil {
		err := s.light.Activate(ctx, message)
		metrics.AlertsTotal.WithLabelValues("light", metrics.Outcome(err)).Inc()
		if err != nil {
			s.logger.Error("failed to activate goal light", "error", err)
		}
	} else {
		s.logger.Warn("goal light not configured")
	}

	if s.speaker != nil {
		err := s.speaker.Play(ctx, s.goalHorn)
		metrics.AlertsTotal.WithLabelValues("speaker", metrics.Outcome(err)).Inc()
		if err != nil {
			s.logger.Error("failed to play goal horn", "file", s.goalHorn, "error", err)
		}
	} else {
		s.logger.Warn("speaker not configured")
	}
}
