package builder

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/strslice"
	"github.com/docker/go-connections/nat"
	"github.com/melih/goal-listener/internal/adapters/recipe"
	"github.com/melih/goal-listener/internal/core/domain"
	"github.com/melih/goal-listener/internal/core/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDocker struct {
	stream   string
	buildErr error
	inspect  types.ImageInspect
	files    map[string]string
	options  types.ImageBuildOptions
	builds   int
}

func (f *fakeDocker) ImageBuild(_ context.Context, buildContext io.Reader, options types.ImageBuildOptions) (types.ImageBuildResponse, error) {
	f.builds++
	f.options = options
	f.files = map[string]string{}
	tr := tar.NewReader(buildContext)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return types.ImageBuildResponse{}, err
		}
		body, _ := io.ReadAll(tr)
		f.files[hdr.Name] = string(body)
	}
	if f.buildErr != nil {
		return types.ImageBuildResponse{}, f.buildErr
	}
	return types.ImageBuildResponse{Body: io.NopCloser(strings.NewReader(f.stream))}, nil
}

func (f *fakeDocker) ImageInspectWithRaw(_ context.Context, _ string) (types.ImageInspect, []byte, error) {
	if f.inspect.ID == "" {
		return types.ImageInspect{}, nil, errors.New("No such image")
	}
	return f.inspect, nil, nil
}

const okStream = `{"stream":"Step 1/10 : FROM python:3.11-slim\n"}
{"stream":" ---> 1a2b3c\n"}
{"aux":{"ID":"sha256:feedface"}}
{"stream":"Successfully built feedface\n"}
`

func contextDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range map[string]string{
		"requirements.txt":    "flask==3.0.3\n",
		"webhook_listener.py": "print('hi')\n",
		"notes.log":           "ignored\n",
		".dockerignore":       "*.log\n",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

func TestBuildImage_RendersRecipeIntoContext(t *testing.T) {
	fake := &fakeDocker{stream: okStream}
	a := newAdapter(fake, nil)
	dir := contextDir(t)

	res, err := a.BuildImage(context.Background(), ports.BuildRequest{
		ContextDir: dir,
		Tag:        "listener:test",
		Recipe:     domain.DefaultRecipe(),
	})
	require.NoError(t, err)

	assert.Equal(t, "sha256:feedface", res.ImageID)
	assert.Equal(t, "listener:test", res.Tag)
	assert.NotEmpty(t, res.Layers.Dependencies)

	assert.Equal(t, []string{"listener:test"}, fake.options.Tags)
	assert.Equal(t, renderedDockerfile, fake.options.Dockerfile)
	assert.True(t, fake.options.Remove)
	assert.Equal(t, res.Layers.Dependencies, fake.options.Labels[LabelDependencyLayer])

	rendered, err := recipe.Render(domain.DefaultRecipe())
	require.NoError(t, err)
	assert.Equal(t, string(rendered), fake.files[renderedDockerfile])
	assert.Contains(t, fake.files, "requirements.txt")
	assert.NotContains(t, fake.files, "notes.log", ".dockerignore is honoured")

	assert.NoFileExists(t, filepath.Join(dir, renderedDockerfile), "rendered Dockerfile is removed after the build")
}

func TestBuildImage_KeepsDockerfileExcludedByIgnore(t *testing.T) {
	fake := &fakeDocker{stream: okStream}
	a := newAdapter(fake, nil)
	dir := contextDir(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".dockerignore"), []byte(".*\n*.log\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("SECRET=1\n"), 0o644))

	_, err := a.BuildImage(context.Background(), ports.BuildRequest{
		ContextDir: dir,
		Tag:        "listener:test",
		Recipe:     domain.DefaultRecipe(),
	})
	require.NoError(t, err)

	assert.Contains(t, fake.files, renderedDockerfile)
	assert.Contains(t, fake.files, ".dockerignore")
	assert.NotContains(t, fake.files, ".env")
	assert.NotContains(t, fake.files, "notes.log")
}

func TestBuildImage_UsesExistingDockerfile(t *testing.T) {
	fake := &fakeDocker{stream: okStream}
	a := newAdapter(fake, nil)
	dir := contextDir(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Dockerfile"), []byte("FROM scratch\n"), 0o644))

	_, err := a.BuildImage(context.Background(), ports.BuildRequest{
		ContextDir:  dir,
		Tag:         "listener:test",
		Recipe:      domain.DefaultRecipe(),
		UseExisting: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "Dockerfile", fake.options.Dockerfile)
	assert.NotContains(t, fake.files, renderedDockerfile)
}

func TestBuildImage_StreamErrorIsFatal(t *testing.T) {
	stream := `{"stream":"Step 5/10 : RUN pip install --no-cache-dir -r requirements.txt\n"}
{"errorDetail":{"code":1,"message":"The command '/bin/sh -c pip install' returned a non-zero code: 1"},"error":"The command '/bin/sh -c pip install' returned a non-zero code: 1"}
`
	fake := &fakeDocker{stream: stream, inspect: types.ImageInspect{ID: "sha256:stale"}}
	a := newAdapter(fake, nil)

	_, err := a.BuildImage(context.Background(), ports.BuildRequest{
		ContextDir: contextDir(t),
		Tag:        "listener:test",
		Recipe:     domain.DefaultRecipe(),
	})
	require.ErrorIs(t, err, ErrBuildFailed)
	assert.Contains(t, err.Error(), "non-zero code")
}

func TestBuildImage_EngineErrorIsFatal(t *testing.T) {
	fake := &fakeDocker{buildErr: errors.New("daemon unreachable")}
	a := newAdapter(fake, nil)

	_, err := a.BuildImage(context.Background(), ports.BuildRequest{
		ContextDir: contextDir(t),
		Tag:        "listener:test",
		Recipe:     domain.DefaultRecipe(),
	})
	require.ErrorIs(t, err, ErrBuildFailed)
}

func TestBuildImage_MissingEntryPointNeverReachesEngine(t *testing.T) {
	fake := &fakeDocker{stream: okStream}
	a := newAdapter(fake, nil)
	dir := contextDir(t)
	require.NoError(t, os.Remove(filepath.Join(dir, "webhook_listener.py")))

	_, err := a.BuildImage(context.Background(), ports.BuildRequest{
		ContextDir: dir,
		Tag:        "listener:test",
		Recipe:     domain.DefaultRecipe(),
	})
	require.ErrorIs(t, err, recipe.ErrMissingSource)
	assert.Zero(t, fake.builds)
}

func TestBuildImage_RequiresTagAndValidRecipe(t *testing.T) {
	a := newAdapter(&fakeDocker{stream: okStream}, nil)

	_, err := a.BuildImage(context.Background(), ports.BuildRequest{ContextDir: contextDir(t), Recipe: domain.DefaultRecipe()})
	require.ErrorIs(t, err, domain.ErrInvalidRecipe)

	r := domain.DefaultRecipe()
	r.BaseImage = "python"
	_, err = a.BuildImage(context.Background(), ports.BuildRequest{ContextDir: contextDir(t), Tag: "x:1", Recipe: r})
	require.ErrorIs(t, err, domain.ErrInvalidRecipe)
}

func TestBuildImage_FallsBackToInspectForID(t *testing.T) {
	fake := &fakeDocker{
		stream:  `{"stream":"Successfully built 1234\n"}` + "\n",
		inspect: types.ImageInspect{ID: "sha256:1234"},
	}
	a := newAdapter(fake, nil)

	res, err := a.BuildImage(context.Background(), ports.BuildRequest{
		ContextDir: contextDir(t),
		Tag:        "listener:test",
		Recipe:     domain.DefaultRecipe(),
	})
	require.NoError(t, err)
	assert.Equal(t, "sha256:1234", res.ImageID)
}

func TestBuildImage_StreamsOutput(t *testing.T) {
	var out bytes.Buffer
	a := newAdapter(&fakeDocker{stream: okStream}, &out)

	_, err := a.BuildImage(context.Background(), ports.BuildRequest{
		ContextDir: contextDir(t),
		Tag:        "listener:test",
		Recipe:     domain.DefaultRecipe(),
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Building Docker image: listener:test")
	assert.Contains(t, out.String(), "Successfully built feedface")
}

func imageWith(exposed []string, cmd, entrypoint []string) types.ImageInspect {
	set := nat.PortSet{}
	for _, p := range exposed {
		set[nat.Port(p)] = struct{}{}
	}
	return types.ImageInspect{
		ID: "sha256:abc",
		Config: &container.Config{
			ExposedPorts: set,
			Cmd:          strslice.StrSlice(cmd),
			Entrypoint:   strslice.StrSlice(entrypoint),
		},
	}
}

func TestVerifyImage(t *testing.T) {
	r := domain.DefaultRecipe()
	tests := []struct {
		name    string
		image   types.ImageInspect
		wantErr bool
	}{
		{"matches", imageWith([]string{"5000/tcp"}, []string{"python", "webhook_listener.py"}, nil), false},
		{"extra port", imageWith([]string{"5000/tcp", "8080/tcp"}, []string{"python", "webhook_listener.py"}, nil), true},
		{"no port", imageWith(nil, []string{"python", "webhook_listener.py"}, nil), true},
		{"extra args", imageWith([]string{"5000/tcp"}, []string{"python", "webhook_listener.py", "--debug"}, nil), true},
		{"entrypoint", imageWith([]string{"5000/tcp"}, []string{"python", "webhook_listener.py"}, []string{"tini"}), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newAdapter(&fakeDocker{inspect: tt.image}, nil)
			report, err := a.VerifyImage(context.Background(), "listener:test", r)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrImageContract)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []string{"5000/tcp"}, report.ExposedPorts)
			assert.Equal(t, []string{"python", "webhook_listener.py"}, report.Cmd)
		})
	}
}

func TestVerifyImage_MissingImage(t *testing.T) {
	a := newAdapter(&fakeDocker{}, nil)
	_, err := a.VerifyImage(context.Background(), "nope:1", domain.DefaultRecipe())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrImageContract)
}
