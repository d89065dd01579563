package ports

import (
	"context"
	"errors"
	"io"

	"github.com/melih/goal-listener/internal/core/domain"
)

// ErrLogsUnsupported is returned by runtimes that do not capture application output.
var ErrLogsUnsupported = errors.New("logs are not available for this runtime")

// AppRuntime starts and stops the tracker application.
type AppRuntime interface {
	Name() string
	Stop(ctx context.Context) error
	Start(ctx context.Context) error
	Status(ctx context.Context) (domain.AppStatus, error)
	Logs(ctx context.Context) (io.ReadCloser, error)
}

// SourceSyncer brings the tracker's working tree up to date with its remote.
type SourceSyncer interface {
	// Sync pulls the configured branch and returns the resulting HEAD commit.
	Sync(ctx context.Context) (string, error)
}
