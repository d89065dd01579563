package ports

import (
	"context"

	"github.com/melih/goal-listener/internal/core/domain"
)

// BuildRequest describes one image build. Exactly one of ContextDir and RepoURL is set.
type BuildRequest struct {
	ContextDir string
	RepoURL    string
	Branch     string
	Tag        string
	Recipe     domain.Recipe
	// UseExisting keeps a Dockerfile already present in the context instead of rendering the recipe.
	UseExisting bool
}

// BuilderService defines operations for building container images from source code.
type BuilderService interface {
	// BuildImage assembles the build context and builds an image from it.
	// It returns the ID of the built image or an error.
	BuildImage(ctx context.Context, req BuildRequest) (domain.BuildResult, error)
	// VerifyImage checks that a built image declares what the recipe promises.
	VerifyImage(ctx context.Context, tag string, recipe domain.Recipe) (domain.ImageReport, error)
}
