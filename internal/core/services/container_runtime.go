package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/melih/goal-listener/internal/core/domain"
	"github.com/melih/goal-listener/internal/core/ports"
)

// ContainerRuntime runs the tracker as a container built from its working tree.
type ContainerRuntime struct {
	containers ports.ContainerService
	builder    ports.BuilderService
	name       string
	image      string
	contextDir string
	recipe     domain.Recipe
	hostPort   int
	logger     *slog.Logger
}

var _ ports.AppRuntime = (*ContainerRuntime)(nil)

// NewContainerRuntime creates a runtime that builds contextDir into image and runs it as name,
// publishing the recipe port on hostPort (zero for none).
func NewContainerRuntime(containers ports.ContainerService, builder ports.BuilderService, name, image, contextDir string, recipe domain.Recipe, hostPort int, logger *slog.Logger) *ContainerRuntime {
	return &ContainerRuntime{
		containers: containers,
		builder:    builder,
		name:       name,
		image:      image,
		contextDir: contextDir,
		recipe:     recipe,
		hostPort:   hostPort,
		logger:     logger,
	}
}

func (r *ContainerRuntime) Name() string { return "container" }

// Stop stops and removes the tracker container if it exists.
func (r *ContainerRuntime) Stop(ctx context.Context) error {
	c, err := r.containers.FindContainer(ctx, r.name)
	if err != nil {
		return err
	}
	if c == nil {
		r.logger.Info("container not running", "name", r.name)
		return nil
	}
	if c.State == "running" {
		if err := r.containers.StopContainer(ctx, c.ID); err != nil {
			return err
		}
	}
	if err := r.containers.RemoveContainer(ctx, c.ID); err != nil {
		return err
	}
	r.logger.Info("removed container", "name", r.name, "id", c.ID)
	return nil
}

// Start rebuilds the image from the working tree, checks it against the recipe and runs it.
func (r *ContainerRuntime) Start(ctx context.Context) error {
	res, err := r.builder.BuildImage(ctx, ports.BuildRequest{
		ContextDir: r.contextDir,
		Tag:        r.image,
		Recipe:     r.recipe,
	})
	if err != nil {
		return fmt.Errorf("failed to build %s: %w", r.image, err)
	}
	r.logger.Info("built image", "tag", res.Tag, "id", res.ImageID,
		"dependency_layer", res.Layers.Dependencies, "duration", res.Duration)

	if _, err := r.builder.VerifyImage(ctx, r.image, r.recipe); err != nil {
		return err
	}

	id, err := r.containers.RunContainer(ctx, r.name, r.image, r.recipe.Port, r.hostPort)
	if err != nil {
		return err
	}
	r.logger.Info("started container", "name", r.name, "id", id)
	return nil
}

// Status reports the container state.
func (r *ContainerRuntime) Status(ctx context.Context) (domain.AppStatus, error) {
	c, err := r.containers.FindContainer(ctx, r.name)
	if err != nil {
		return domain.AppStatus{}, err
	}
	status := domain.AppStatus{Runtime: r.Name()}
	if c != nil {
		status.Running = c.State == "running"
		status.Detail = fmt.Sprintf("%s %s (%s)", c.ID, c.Status, c.Image)
	}
	return status, nil
}

// Logs returns recent container output.
func (r *ContainerRuntime) Logs(ctx context.Context) (io.ReadCloser, error) {
	c, err := r.containers.FindContainer(ctx, r.name)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ports.ErrNotRunning
	}
	return r.containers.GetContainerLogs(ctx, c.ID)
}
