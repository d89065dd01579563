package recipe

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/melih/goal-listener/internal/core/domain"
	"github.com/moby/patternmatcher"
	"github.com/moby/patternmatcher/ignorefile"
	"github.com/zeebo/blake3"
)

// ErrMissingSource is returned when the build context lacks the manifest or the entry point.
var ErrMissingSource = errors.New("missing source file")

// CheckContext verifies that the files the recipe depends on exist in contextDir.
func CheckContext(r domain.Recipe, contextDir string) error {
	for _, name := range []string{r.Manifest, r.EntryPoint} {
		info, err := os.Stat(filepath.Join(contextDir, name))
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrMissingSource, name, err)
		}
		if !info.Mode().IsRegular() {
			return fmt.Errorf("%w: %s is not a regular file", ErrMissingSource, name)
		}
	}
	return nil
}

// ExcludePatterns reads .dockerignore from contextDir. A missing file means no exclusions.
func ExcludePatterns(contextDir string) ([]string, error) {
	f, err := os.Open(filepath.Join(contextDir, ".dockerignore"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open .dockerignore: %w", err)
	}
	defer f.Close()

	patterns, err := ignorefile.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read .dockerignore: %w", err)
	}
	return patterns, nil
}

// Fingerprint computes the cache keys of the dependency and source layers.
// The dependency key ignores every file except the manifest.
func Fingerprint(r domain.Recipe, contextDir string) (domain.Layers, error) {
	if err := r.Validate(); err != nil {
		return domain.Layers{}, err
	}
	if err := CheckContext(r, contextDir); err != nil {
		return domain.Layers{}, err
	}

	manifest, err := os.ReadFile(filepath.Join(contextDir, r.Manifest))
	if err != nil {
		return domain.Layers{}, fmt.Errorf("failed to read manifest: %w", err)
	}

	deps := blake3.New()
	writeField(deps, "base", r.BaseImage)
	writeField(deps, "packages", strings.Join(r.OSPackages, " "))
	writeField(deps, "workdir", r.WorkDir)
	writeField(deps, "manifest", r.Manifest)
	sum := blake3.Sum256(manifest)
	writeField(deps, "manifest-content", hex.EncodeToString(sum[:]))
	depsKey := hex.EncodeToString(deps.Sum(nil))

	patterns, err := ExcludePatterns(contextDir)
	if err != nil {
		return domain.Layers{}, err
	}
	pm, err := patternmatcher.New(patterns)
	if err != nil {
		return domain.Layers{}, fmt.Errorf("invalid .dockerignore: %w", err)
	}

	src := blake3.New()
	writeField(src, "dependencies", depsKey)
	err = filepath.WalkDir(contextDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(contextDir, path)
		if err != nil || rel == "." {
			return err
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() && d.Name() == ".git" {
			return filepath.SkipDir
		}
		excluded, err := pm.MatchesOrParentMatches(rel)
		if err != nil {
			return err
		}
		if excluded || !d.Type().IsRegular() {
			return nil
		}
		return hashFile(src, path, rel)
	})
	if err != nil {
		return domain.Layers{}, fmt.Errorf("failed to walk build context: %w", err)
	}

	return domain.Layers{
		Dependencies: depsKey,
		Source:       hex.EncodeToString(src.Sum(nil)),
	}, nil
}

func writeField(h io.Writer, key, value string) {
	fmt.Fprintf(h, "%s\x00%s\x00", key, value)
}

func hashFile(h io.Writer, path, rel string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	content := blake3.New()
	if _, err := io.Copy(content, f); err != nil {
		return err
	}
	writeField(h, "file", rel)
	writeField(h, "content", hex.EncodeToString(content.Sum(nil)))
	return nil
}
