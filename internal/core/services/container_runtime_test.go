package services

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/melih/goal-listener/internal/core/domain"
	"github.com/melih/goal-listener/internal/core/ports"
	"github.com/melih/goal-listener/internal/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockContainers struct{ mock.Mock }

func (m *mockContainers) FindContainer(ctx context.Context, name string) (*domain.Container, error) {
	args := m.Called(ctx, name)
	c, _ := args.Get(0).(*domain.Container)
	return c, args.Error(1)
}

func (m *mockContainers) RunContainer(ctx context.Context, name, image string, port, hostPort int) (string, error) {
	args := m.Called(ctx, name, image, port, hostPort)
	return args.String(0), args.Error(1)
}

func (m *mockContainers) StopContainer(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockContainers) RemoveContainer(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockContainers) GetContainerLogs(ctx context.Context, id string) (io.ReadCloser, error) {
	args := m.Called(ctx, id)
	rc, _ := args.Get(0).(io.ReadCloser)
	return rc, args.Error(1)
}

type mockBuilder struct{ mock.Mock }

func (m *mockBuilder) BuildImage(ctx context.Context, req ports.BuildRequest) (domain.BuildResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(domain.BuildResult), args.Error(1)
}

func (m *mockBuilder) VerifyImage(ctx context.Context, tag string, recipe domain.Recipe) (domain.ImageReport, error) {
	args := m.Called(ctx, tag, recipe)
	return args.Get(0).(domain.ImageReport), args.Error(1)
}

func newContainerRuntime(c *mockContainers, b *mockBuilder) *ContainerRuntime {
	return NewContainerRuntime(c, b, "goal_tracker", "goal-tracker:local", "/srv/tracker", domain.DefaultRecipe(), 5001, log.Discard())
}

func TestContainerRuntime_StopRunning(t *testing.T) {
	c := &mockContainers{}
	c.On("FindContainer", mock.Anything, "goal_tracker").Return(&domain.Container{ID: "abc", State: "running"}, nil)
	c.On("StopContainer", mock.Anything, "abc").Return(nil)
	c.On("RemoveContainer", mock.Anything, "abc").Return(nil)

	require.NoError(t, newContainerRuntime(c, &mockBuilder{}).Stop(context.Background()))
	c.AssertExpectations(t)
}

func TestContainerRuntime_StopExitedOnlyRemoves(t *testing.T) {
	c := &mockContainers{}
	c.On("FindContainer", mock.Anything, "goal_tracker").Return(&domain.Container{ID: "abc", State: "exited"}, nil)
	c.On("RemoveContainer", mock.Anything, "abc").Return(nil)

	require.NoError(t, newContainerRuntime(c, &mockBuilder{}).Stop(context.Background()))
	c.AssertNotCalled(t, "StopContainer", mock.Anything, mock.Anything)
}

func TestContainerRuntime_StopMissing(t *testing.T) {
	c := &mockContainers{}
	c.On("FindContainer", mock.Anything, "goal_tracker").Return(nil, nil)

	require.NoError(t, newContainerRuntime(c, &mockBuilder{}).Stop(context.Background()))
}

func TestContainerRuntime_StartBuildsVerifiesRuns(t *testing.T) {
	c := &mockContainers{}
	b := &mockBuilder{}
	recipe := domain.DefaultRecipe()

	b.On("BuildImage", mock.Anything, ports.BuildRequest{
		ContextDir: "/srv/tracker",
		Tag:        "goal-tracker:local",
		Recipe:     recipe,
	}).Return(domain.BuildResult{ImageID: "sha256:1", Tag: "goal-tracker:local"}, nil)
	b.On("VerifyImage", mock.Anything, "goal-tracker:local", recipe).Return(domain.ImageReport{}, nil)
	c.On("RunContainer", mock.Anything, "goal_tracker", "goal-tracker:local", 5000, 5001).Return("cid", nil)

	require.NoError(t, newContainerRuntime(c, b).Start(context.Background()))
	b.AssertExpectations(t)
	c.AssertExpectations(t)
}

func TestContainerRuntime_BuildFailureDoesNotRun(t *testing.T) {
	c := &mockContainers{}
	b := &mockBuilder{}
	b.On("BuildImage", mock.Anything, mock.Anything).Return(domain.BuildResult{}, errors.New("pip failed"))

	err := newContainerRuntime(c, b).Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pip failed")
	c.AssertNotCalled(t, "RunContainer", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestContainerRuntime_StatusAndLogs(t *testing.T) {
	c := &mockContainers{}
	c.On("FindContainer", mock.Anything, "goal_tracker").Return(&domain.Container{ID: "abc", State: "running", Status: "Up 1 minute", Image: "goal-tracker:local"}, nil)
	c.On("GetContainerLogs", mock.Anything, "abc").Return(io.NopCloser(strings.NewReader("hello\n")), nil)
	rt := newContainerRuntime(c, &mockBuilder{})

	status, err := rt.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Running)
	assert.Equal(t, "container", status.Runtime)

	rc, err := rt.Logs(context.Background())
	require.NoError(t, err)
	body, _ := io.ReadAll(rc)
	assert.Equal(t, "hello\n", string(body))
}

func TestContainerRuntime_LogsWhenMissing(t *testing.T) {
	c := &mockContainers{}
	c.On("FindContainer", mock.Anything, "goal_tracker").Return(nil, nil)

	_, err := newContainerRuntime(c, &mockBuilder{}).Logs(context.Background())
	assert.ErrorIs(t, err, ports.ErrNotRunning)
}
