package domain

import "time"

// Layers holds the cache keys of the two layers that matter for rebuilds.
// Dependencies changes only when the base, packages, workdir or manifest content change.
type Layers struct {
	Dependencies string `json:"dependencies"`
	Source       string `json:"source"`
}

// BuildResult is the outcome of a successful image build.
type BuildResult struct {
	ImageID  string        `json:"image_id"`
	Tag      string        `json:"tag"`
	Layers   Layers        `json:"layers"`
	Duration time.Duration `json:"duration"`
}

// ImageReport describes what a built image declares.
type ImageReport struct {
	ImageID      string   `json:"image_id"`
	ExposedPorts []string `json:"exposed_ports"`
	Cmd          []string `json:"cmd"`
}

// Violation is one failed recipe rule found in a Dockerfile.
type Violation struct {
	Rule    string `json:"rule"`
	Line    int    `json:"line"`
	Message string `json:"message"`
}
