package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/melih/goal-listener/internal/adapters/builder"
	"github.com/melih/goal-listener/internal/adapters/recipe"
	"github.com/melih/goal-listener/internal/core/domain"
	"github.com/melih/goal-listener/internal/core/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := runCLI(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

type stubBuilder struct {
	req       ports.BuildRequest
	verifyErr error
}

func (s *stubBuilder) BuildImage(ctx context.Context, req ports.BuildRequest) (domain.BuildResult, error) {
	s.req = req
	return domain.BuildResult{ImageID: "sha256:abc", Tag: req.Tag}, nil
}

func (s *stubBuilder) VerifyImage(ctx context.Context, tag string, r domain.Recipe) (domain.ImageReport, error) {
	if s.verifyErr != nil {
		return domain.ImageReport{}, s.verifyErr
	}
	return domain.ImageReport{ImageID: "sha256:abc", ExposedPorts: []string{"5000/tcp"}, Cmd: r.Command()}, nil
}

func withBuilder(t *testing.T, b ports.BuilderService) {
	t.Helper()
	prev := newBuilder
	newBuilder = func(io.Writer) (ports.BuilderService, error) { return b, nil }
	t.Cleanup(func() { newBuilder = prev })
}

func TestUsage(t *testing.T) {
	code, _, stderr := run()
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "Usage: imagectl")

	code, _, _ = run("bogus")
	assert.Equal(t, exitUsage, code)

	code, stdout, _ := run("help")
	assert.Equal(t, exitOK, code)
	assert.Contains(t, stdout, "fingerprint")

	code, stdout, _ = run("version")
	assert.Equal(t, exitOK, code)
	assert.Contains(t, stdout, version)
}

func TestRender(t *testing.T) {
	want, err := recipe.Render(domain.DefaultRecipe())
	require.NoError(t, err)

	code, stdout, _ := run("render")
	assert.Equal(t, exitOK, code)
	assert.Equal(t, string(want), stdout)

	out := filepath.Join(t.TempDir(), "Dockerfile")
	code, _, _ = run("render", "-o", out)
	require.Equal(t, exitOK, code)
	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRender_InvalidRecipe(t *testing.T) {
	cfg := writeFile(t, t.TempDir(), "recipe.yaml", "base_image: python:latest\n")

	code, _, stderr := run("render", "-config", cfg)
	assert.Equal(t, exitFail, code)
	assert.Contains(t, stderr, "latest")
}

func TestLint(t *testing.T) {
	dir := t.TempDir()
	want, err := recipe.Render(domain.DefaultRecipe())
	require.NoError(t, err)
	good := writeFile(t, dir, "Dockerfile", string(want))

	code, stdout, _ := run("lint", good)
	assert.Equal(t, exitOK, code)
	assert.Contains(t, stdout, "OK")

	bad := writeFile(t, dir, "Dockerfile.bad", "FROM python:latest\nWORKDIR /app\nCOPY . .\nRUN pip install -r requirements.txt\nEXPOSE 5000\nCMD python webhook_listener.py\n")
	code, stdout, _ = run("lint", bad)
	assert.Equal(t, exitFail, code)
	assert.Contains(t, stdout, "[pinned-base]")
	assert.Contains(t, stdout, "[exec-form-cmd]")

	code, _, _ = run("lint")
	assert.Equal(t, exitUsage, code)
}

func TestFingerprint(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "requirements.txt", "flask\n")

	code, _, stderr := run("fingerprint", "-context", dir)
	assert.Equal(t, exitFail, code)
	assert.Contains(t, stderr, "webhook_listener.py")

	writeFile(t, dir, "webhook_listener.py", "print('hi')\n")
	code, stdout, _ := run("fingerprint", "-context", dir)
	assert.Equal(t, exitOK, code)
	assert.Contains(t, stdout, "dependencies ")
	assert.Contains(t, stdout, "source ")
}

func TestBuild(t *testing.T) {
	b := &stubBuilder{}
	withBuilder(t, b)

	code, stdout, _ := run("build", "-repo", "https://example.com/goal.git", "-branch", "main", "-tag", "goal:1")
	assert.Equal(t, exitOK, code)
	assert.Contains(t, stdout, "Built goal:1")
	assert.Contains(t, stdout, "goal:1: OK")
	assert.Equal(t, "https://example.com/goal.git", b.req.RepoURL)
	assert.Equal(t, "main", b.req.Branch)
	assert.Equal(t, domain.DefaultRecipe(), b.req.Recipe)
}

func TestBuild_Usage(t *testing.T) {
	withBuilder(t, &stubBuilder{})

	code, _, _ := run("build", "-tag", "goal:1")
	assert.Equal(t, exitUsage, code)

	code, _, _ = run("build", "-context", ".", "-repo", "https://example.com/goal.git", "-tag", "goal:1")
	assert.Equal(t, exitUsage, code)

	code, _, _ = run("build", "-context", ".")
	assert.Equal(t, exitUsage, code)
}

func TestVerify_ContractMismatch(t *testing.T) {
	withBuilder(t, &stubBuilder{verifyErr: fmt.Errorf("%w: exposes [8080/tcp]", builder.ErrImageContract)})

	code, stdout, _ := run("verify", "-tag", "goal:1")
	assert.Equal(t, exitFail, code)
	assert.Contains(t, stdout, "8080/tcp")
}
