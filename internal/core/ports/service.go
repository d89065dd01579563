package ports

import (
	"context"
	"errors"

	"github.com/melih/goal-listener/internal/core/domain"
)

var (
	// ErrNotRunning is returned when the tracker has nothing to report on.
	ErrNotRunning = errors.New("tracker is not running")
	// ErrReportNotFound is returned for unknown restart IDs.
	ErrReportNotFound = errors.New("restart not found")
)

// RestartService restarts the tracker and keeps a short history of the outcome.
type RestartService interface {
	Restart(ctx context.Context, reason string) (domain.RestartReport, error)
	Schedule(reason string) string
	Report(id string) (domain.RestartReport, error)
	Last() (domain.RestartReport, bool)
	Runtime() AppRuntime
}

// AlertService drives the goal light and the speaker.
type AlertService interface {
	LightAndSound(ctx context.Context, message string)
}
