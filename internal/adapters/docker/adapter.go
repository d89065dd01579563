package docker

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/melih/goal-listener/internal/core/domain"
	"github.com/melih/goal-listener/internal/core/ports"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// stopTimeout bounds how long a stop request may take.
const stopTimeout = 10 * time.Second

// containerAPI is the part of the Docker client the adapter needs.
type containerAPI interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
}

// Adapter implements ports.ContainerService using Docker SDK
type Adapter struct {
	cli containerAPI
}

var _ ports.ContainerService = (*Adapter)(nil)

// NewAdapter creates a new Docker adapter instance
func NewAdapter() (*Adapter, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Adapter{cli: cli}, nil
}

// FindContainer returns the container with exactly this name, or nil when none exists.
func (a *Adapter) FindContainer(ctx context.Context, name string) (*domain.Container, error) {
	containers, err := a.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", "^/"+name+"$")),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	for _, c := range containers {
		// Use the first name if available, remove slash
		cname := ""
		if len(c.Names) > 0 {
			cname = c.Names[0][1:]
		}
		if cname != name {
			continue
		}

		var published []string
		for _, p := range c.Ports {
			if p.PublicPort != 0 {
				published = append(published, fmt.Sprintf("%d->%d/%s", p.PublicPort, p.PrivatePort, p.Type))
			}
		}
		return &domain.Container{
			ID:     shortID(c.ID),
			Name:   cname,
			Image:  c.Image,
			Status: c.Status,
			State:  c.State,
			Ports:  published,
		}, nil
	}
	return nil, nil
}

// RunContainer creates and starts a named container from a locally built image.
// The container port is published on hostPort; zero leaves it unpublished.
func (a *Adapter) RunContainer(ctx context.Context, name, image string, port, hostPort int) (string, error) {
	exposed := nat.Port(strconv.Itoa(port) + "/tcp")

	hostConfig := &container.HostConfig{}
	if hostPort > 0 {
		hostConfig.PortBindings = nat.PortMap{
			exposed: []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: strconv.Itoa(hostPort)}},
		}
	}

	resp, err := a.cli.ContainerCreate(ctx, &container.Config{
		Image:        image,
		ExposedPorts: nat.PortSet{exposed: struct{}{}},
	}, hostConfig, nil, nil, name)
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}

	if err := a.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("failed to start container: %w", err)
	}

	return resp.ID, nil
}

// StopContainer stops a running container
func (a *Adapter) StopContainer(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, stopTimeout)
	defer cancel()
	if err := a.cli.ContainerStop(ctx, id, container.StopOptions{}); err != nil {
		return fmt.Errorf("failed to stop container: %w", err)
	}
	return nil
}

// RemoveContainer deletes a stopped container.
func (a *Adapter) RemoveContainer(ctx context.Context, id string) error {
	if err := a.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("failed to remove container: %w", err)
	}
	return nil
}

// GetContainerLogs returns the recent stdout and stderr of a container as plain text.
func (a *Adapter) GetContainerLogs(ctx context.Context, id string) (io.ReadCloser, error) {
	options := container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     false,
		Timestamps: true,
		Tail:       "500",
	}
	rc, err := a.cli.ContainerLogs(ctx, id, options)
	if err != nil {
		return nil, fmt.Errorf("failed to read container logs: %w", err)
	}

	// Containers without a TTY multiplex both streams; strip the frame headers.
	pr, pw := io.Pipe()
	go func() {
		defer rc.Close()
		_, err := stdcopy.StdCopy(pw, pw, rc)
		pw.CloseWithError(err)
	}()
	return pr, nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
