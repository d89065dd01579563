package services

import (
	"context"
	"errors"
	"testing"

	"github.com/melih/goal-listener/internal/log"
	"github.com/stretchr/testify/assert"
)

type fakeLight struct {
	messages []string
	err      error
}

func (f *fakeLight) Activate(_ context.Context, message string) error {
	f.messages = append(f.messages, message)
	return f.err
}

type fakeSpeaker struct {
	played []string
	err    error
}

func (f *fakeSpeaker) Play(_ context.Context, paths ...string) error {
	f.played = append(f.played, paths...)
	return f.err
}

func TestLightAndSound(t *testing.T) {
	light := &fakeLight{}
	speaker := &fakeSpeaker{}
	svc := NewAlertService(light, speaker, "/files/leafs_goal_horn.mp3", log.Discard())

	svc.LightAndSound(context.Background(), "1")

	assert.Equal(t, []string{"1"}, light.messages)
	assert.Equal(t, []string{"/files/leafs_goal_horn.mp3"}, speaker.played)
}

func TestLightAndSound_LightFailureStillPlays(t *testing.T) {
	light := &fakeLight{err: errors.New("home assistant unreachable")}
	speaker := &fakeSpeaker{}
	svc := NewAlertService(light, speaker, "/files/leafs_goal_horn.mp3", log.Discard())

	svc.LightAndSound(context.Background(), "1")
	assert.Len(t, speaker.played, 1)
}

func TestLightAndSound_Unconfigured(t *testing.T) {
	svc := NewAlertService(nil, nil, "/files/leafs_goal_horn.mp3", log.Discard())
	assert.NotPanics(t, func() { svc.LightAndSound(context.Background(), "1") })
}
