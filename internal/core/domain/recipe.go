package domain

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// Recipe describes how an application image is assembled and started.
type Recipe struct {
	BaseImage     string   `yaml:"base_image" json:"base_image"`
	OSPackages    []string `yaml:"os_packages" json:"os_packages"`
	WorkDir       string   `yaml:"workdir" json:"workdir"`
	Manifest      string   `yaml:"manifest" json:"manifest"`
	Interpreter   string   `yaml:"interpreter" json:"interpreter"`
	EntryPoint    string   `yaml:"entrypoint" json:"entrypoint"`
	Port          int      `yaml:"port" json:"port"`
	SafeDirectory bool     `yaml:"safe_directory" json:"safe_directory"`
}

// ErrInvalidRecipe is returned for recipes that cannot produce a reproducible image.
var ErrInvalidRecipe = errors.New("invalid recipe")

// DefaultRecipe returns the recipe for the webhook listener image.
func DefaultRecipe() Recipe {
	return Recipe{
		BaseImage:     "python:3.11-slim",
		OSPackages:    []string{"git", "procps"},
		WorkDir:       "/app",
		Manifest:      "requirements.txt",
		Interpreter:   "python",
		EntryPoint:    "webhook_listener.py",
		Port:          5000,
		SafeDirectory: true,
	}
}

// Command is the default container command: the interpreter run against the entry point.
func (r Recipe) Command() []string {
	return []string{r.Interpreter, r.EntryPoint}
}

// Validate reports every problem with the recipe at once.
func (r Recipe) Validate() error {
	var errs []error
	if !IsPinnedImage(r.BaseImage) {
		errs = append(errs, fmt.Errorf("base image %q must carry a tag or digest other than latest", r.BaseImage))
	}
	for _, p := range r.OSPackages {
		if !isPlainWord(p) {
			errs = append(errs, fmt.Errorf("os package %q is not a plain package name", p))
		}
	}
	if !strings.HasPrefix(r.WorkDir, "/") {
		errs = append(errs, fmt.Errorf("workdir %q must be absolute", r.WorkDir))
	}
	for _, f := range []struct{ name, value string }{
		{"workdir", r.WorkDir},
		{"manifest", r.Manifest},
		{"interpreter", r.Interpreter},
		{"entrypoint", r.EntryPoint},
	} {
		switch {
		case f.value == "":
			errs = append(errs, fmt.Errorf("%s is required", f.name))
		case !isPlainWord(f.value):
			errs = append(errs, fmt.Errorf("%s %q must be a single word without shell metacharacters", f.name, f.value))
		}
	}
	if r.Port < 1 || r.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", r.Port))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidRecipe, errors.Join(errs...))
}

// IsPinnedImage reports whether ref names a fixed version: a digest, or a tag that is not "latest".
func IsPinnedImage(ref string) bool {
	if ref == "" || !isPlainWord(ref) {
		return false
	}
	if strings.Contains(ref, "@sha256:") {
		return true
	}
	// The tag follows the last colon, unless that colon belongs to a registry port.
	i := strings.LastIndex(ref, ":")
	if i < 0 || strings.Contains(ref[i+1:], "/") {
		return false
	}
	tag := ref[i+1:]
	return tag != "" && tag != "latest"
}

// unsafeChars may not appear in any recipe value that is written into the Dockerfile.
const unsafeChars = ";&|$`\\'\"<>(){}*?#!"

func isPlainWord(s string) bool {
	if s == "" || strings.ContainsAny(s, unsafeChars) {
		return false
	}
	for _, r := range s {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return false
		}
	}
	return true
}
