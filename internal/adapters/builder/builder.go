package builder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/melih/goal-listener/internal/adapters/gitsync"
	"github.com/melih/goal-listener/internal/adapters/recipe"
	"github.com/melih/goal-listener/internal/core/domain"
	"github.com/melih/goal-listener/internal/core/ports"
	"github.com/melih/goal-listener/internal/metrics"
)

// renderedDockerfile is written into the context for the duration of a build.
const renderedDockerfile = ".listener.Dockerfile"

// Labels stamped on built images.
const (
	LabelDependencyLayer = "io.goal-listener.layer.dependencies"
	LabelSourceLayer     = "io.goal-listener.layer.source"
)

var (
	// ErrBuildFailed is returned when the engine reports an error for any build step.
	ErrBuildFailed = errors.New("image build failed")
	// ErrImageContract is returned when a built image does not match its recipe.
	ErrImageContract = errors.New("image does not match recipe")
)

// imageAPI is the part of the Docker client the builder needs.
type imageAPI interface {
	ImageBuild(ctx context.Context, buildContext io.Reader, options types.ImageBuildOptions) (types.ImageBuildResponse, error)
	ImageInspectWithRaw(ctx context.Context, imageID string) (types.ImageInspect, []byte, error)
}

// Adapter implements ports.BuilderService using the Docker Engine API.
type Adapter struct {
	cli imageAPI
	out io.Writer
}

var _ ports.BuilderService = (*Adapter)(nil)

// NewBuilderAdapter connects to the Docker daemon from the environment.
// Build output is streamed to out; nil discards it.
func NewBuilderAdapter(out io.Writer) (*Adapter, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return newAdapter(cli, out), nil
}

func newAdapter(cli imageAPI, out io.Writer) *Adapter {
	if out == nil {
		out = io.Discard
	}
	return &Adapter{cli: cli, out: out}
}

// BuildImage builds req.Tag from a local context or a freshly cloned repository.
func (a *Adapter) BuildImage(ctx context.Context, req ports.BuildRequest) (result domain.BuildResult, err error) {
	defer func() { metrics.BuildsTotal.WithLabelValues(metrics.Outcome(err)).Inc() }()

	if req.Tag == "" {
		return domain.BuildResult{}, fmt.Errorf("%w: image tag is required", domain.ErrInvalidRecipe)
	}
	if err := req.Recipe.Validate(); err != nil {
		return domain.BuildResult{}, err
	}

	contextDir := req.ContextDir
	if req.RepoURL != "" {
		tmpDir, err := os.MkdirTemp("", "goal-listener-build-*")
		if err != nil {
			return domain.BuildResult{}, fmt.Errorf("failed to create temp dir: %w", err)
		}
		defer os.RemoveAll(tmpDir) // Clean up after build

		fmt.Fprintf(a.out, "Cloning %s into %s...\n", req.RepoURL, tmpDir)
		if err := gitsync.Clone(ctx, req.RepoURL, req.Branch, tmpDir, a.out); err != nil {
			return domain.BuildResult{}, err
		}
		contextDir = tmpDir
	}
	if contextDir == "" {
		return domain.BuildResult{}, fmt.Errorf("%w: a context directory or repository URL is required", recipe.ErrMissingSource)
	}

	layers, err := recipe.Fingerprint(req.Recipe, contextDir)
	if err != nil {
		return domain.BuildResult{}, err
	}

	dockerfile, cleanup, err := a.prepareDockerfile(req, contextDir)
	if err != nil {
		return domain.BuildResult{}, err
	}
	defer cleanup()

	excludes, err := recipe.ExcludePatterns(contextDir)
	if err != nil {
		return domain.BuildResult{}, err
	}
	// The engine needs the Dockerfile and .dockerignore even when a pattern excludes them.
	excludes = append(excludes, "!"+dockerfile, "!.dockerignore")

	tar, err := archive.TarWithOptions(contextDir, &archive.TarOptions{ExcludePatterns: excludes})
	if err != nil {
		return domain.BuildResult{}, fmt.Errorf("failed to create build context: %w", err)
	}
	defer tar.Close()

	fmt.Fprintf(a.out, "Building Docker image: %s...\n", req.Tag)
	start := time.Now()
	resp, err := a.cli.ImageBuild(ctx, tar, types.ImageBuildOptions{
		Tags:        []string{req.Tag},
		Dockerfile:  dockerfile,
		Remove:      true, // Remove intermediate containers
		ForceRemove: true,
		Labels: map[string]string{
			LabelDependencyLayer: layers.Dependencies,
			LabelSourceLayer:     layers.Source,
		},
	})
	if err != nil {
		return domain.BuildResult{}, fmt.Errorf("%w: %w", ErrBuildFailed, err)
	}
	defer resp.Body.Close()

	imageID, err := a.drain(resp.Body)
	if err != nil {
		return domain.BuildResult{}, err
	}
	if imageID == "" {
		inspect, _, err := a.cli.ImageInspectWithRaw(ctx, req.Tag)
		if err != nil {
			return domain.BuildResult{}, fmt.Errorf("%w: built image not found: %w", ErrBuildFailed, err)
		}
		imageID = inspect.ID
	}

	return domain.BuildResult{
		ImageID:  imageID,
		Tag:      req.Tag,
		Layers:   layers,
		Duration: time.Since(start),
	}, nil
}

// prepareDockerfile returns the Dockerfile name to build with, relative to the context.
func (a *Adapter) prepareDockerfile(req ports.BuildRequest, contextDir string) (string, func(), error) {
	existing := filepath.Join(contextDir, recipe.DockerfileName)
	if req.UseExisting {
		if _, err := os.Stat(existing); err == nil {
			return recipe.DockerfileName, func() {}, nil
		}
	}

	content, err := recipe.Render(req.Recipe)
	if err != nil {
		return "", nil, err
	}
	path := filepath.Join(contextDir, renderedDockerfile)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", nil, fmt.Errorf("failed to write dockerfile: %w", err)
	}
	return renderedDockerfile, func() { os.Remove(path) }, nil
}

// drain reads the build stream to the end. An error message anywhere in the
// stream fails the build; the aux message carries the image ID.
func (a *Adapter) drain(body io.Reader) (string, error) {
	var imageID string
	aux := func(msg jsonmessage.JSONMessage) {
		var result struct {
			ID string `json:"ID"`
		}
		if msg.Aux != nil && json.Unmarshal(*msg.Aux, &result) == nil && result.ID != "" {
			imageID = result.ID
		}
	}
	if err := jsonmessage.DisplayJSONMessagesStream(body, a.out, 0, false, aux); err != nil {
		return "", fmt.Errorf("%w: %w", ErrBuildFailed, err)
	}
	return imageID, nil
}

// VerifyImage checks the exposed ports and default command of tag against r.
func (a *Adapter) VerifyImage(ctx context.Context, tag string, r domain.Recipe) (domain.ImageReport, error) {
	inspect, _, err := a.cli.ImageInspectWithRaw(ctx, tag)
	if err != nil {
		return domain.ImageReport{}, fmt.Errorf("failed to inspect image %s: %w", tag, err)
	}

	report := domain.ImageReport{ImageID: inspect.ID}
	var entrypoint []string
	if cfg := inspect.Config; cfg != nil {
		for p := range cfg.ExposedPorts {
			report.ExposedPorts = append(report.ExposedPorts, string(p))
		}
		sort.Strings(report.ExposedPorts)
		report.Cmd = append(report.Cmd, cfg.Cmd...)
		entrypoint = cfg.Entrypoint
	}

	var problems []error
	wantPort := fmt.Sprintf("%d/tcp", r.Port)
	if len(report.ExposedPorts) != 1 || report.ExposedPorts[0] != wantPort {
		problems = append(problems, fmt.Errorf("exposed ports %v, want [%s]", report.ExposedPorts, wantPort))
	}
	if !slices.Equal(report.Cmd, r.Command()) {
		problems = append(problems, fmt.Errorf("cmd %q, want %q", report.Cmd, r.Command()))
	}
	if len(entrypoint) > 0 {
		problems = append(problems, fmt.Errorf("unexpected entrypoint %q", entrypoint))
	}
	if len(problems) > 0 {
		return report, fmt.Errorf("%w: %w", ErrImageContract, errors.Join(problems...))
	}
	return report, nil
}
