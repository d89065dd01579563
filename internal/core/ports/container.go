package ports

import (
	"context"
	"io"

	"github.com/melih/goal-listener/internal/core/domain"
)

// ContainerService manages named containers on a container engine.
// Lookups return a nil container, not an error, when nothing matches.
type ContainerService interface {
	FindContainer(ctx context.Context, name string) (*domain.Container, error)
	RunContainer(ctx context.Context, name, image string, port, hostPort int) (string, error)
	StopContainer(ctx context.Context, id string) error
	RemoveContainer(ctx context.Context, id string) error
	GetContainerLogs(ctx context.Context, id string) (io.ReadCloser, error)
}
