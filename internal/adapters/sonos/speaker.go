// Package sonos plays sound files on a Sonos speaker over its UPnP control API.
package sonos

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/melih/goal-listener/internal/core/ports"
)

// DefaultPort is the port Sonos players serve UPnP control on.
const DefaultPort = "1400"

// Transport states reported by GetTransportInfo.
const (
	StatePlaying       = "PLAYING"
	StateTransitioning = "TRANSITIONING"
)

// Speaker plays files served by the listener on one Sonos player.
type Speaker struct {
	base       string
	publicAddr string
	volume     int
	poll       time.Duration
	client     *http.Client
	logger     *slog.Logger
}

var _ ports.Speaker = (*Speaker)(nil)

// NewSpeaker creates a speaker client. address is the player host (port 1400 is assumed
// when omitted) or a full base URL. publicAddr is the host:port the player uses to
// fetch files from the listener.
func NewSpeaker(address, publicAddr string, volume int, poll time.Duration, logger *slog.Logger) *Speaker {
	return &Speaker{
		base:       baseURL(address),
		publicAddr: publicAddr,
		volume:     volume,
		poll:       poll,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

func baseURL(address string) string {
	if strings.Contains(address, "://") {
		return strings.TrimSuffix(address, "/")
	}
	if _, _, err := net.SplitHostPort(address); err != nil {
		address = net.JoinHostPort(address, DefaultPort)
	}
	return "http://" + address
}

// FileURL returns the URL the player fetches path from. Spaces become underscores,
// matching how sound files are named on disk.
func (s *Speaker) FileURL(path string) string {
	path = strings.ReplaceAll(path, " ", "_")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return "http://" + s.publicAddr + path
}

// Play plays every path in order at the configured volume, then restores the previous
// volume. A file that fails to play is logged and skipped.
func (s *Speaker) Play(ctx context.Context, paths ...string) error {
	original, err := s.Volume(ctx)
	if err != nil {
		return fmt.Errorf("failed to read speaker volume: %w", err)
	}
	if err := s.SetVolume(ctx, s.volume); err != nil {
		return fmt.Errorf("failed to set speaker volume: %w", err)
	}
	s.logger.Debug("speaker volume set", "original", original, "volume", s.volume)

	var errs []error
	for _, p := range paths {
		if err := s.playOne(ctx, s.FileURL(p)); err != nil {
			s.logger.Error("failed to play sound", "path", p, "error", err)
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
		}
	}

	// Restore even when ctx is done.
	restoreCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.SetVolume(restoreCtx, original); err != nil {
		errs = append(errs, fmt.Errorf("failed to restore speaker volume: %w", err))
	}
	return errors.Join(errs...)
}

func (s *Speaker) playOne(ctx context.Context, uri string) error {
	s.logger.Info("playing sound", "url", uri)
	if _, err := s.call(ctx, avTransport, "SetAVTransportURI",
		arg{"InstanceID", "0"},
		arg{"CurrentURI", uri},
		arg{"CurrentURIMetaData", ""},
	); err != nil {
		return err
	}
	if _, err := s.call(ctx, avTransport, "Play",
		arg{"InstanceID", "0"},
		arg{"Speed", "1"},
	); err != nil {
		return err
	}

	for {
		state, err := s.TransportState(ctx)
		if err != nil {
			return err
		}
		if state != StatePlaying && state != StateTransitioning {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.poll):
		}
	}
}

// Volume returns the master volume.
func (s *Speaker) Volume(ctx context.Context) (int, error) {
	data, err := s.call(ctx, renderingControl, "GetVolume",
		arg{"InstanceID", "0"},
		arg{"Channel", "Master"},
	)
	if err != nil {
		return 0, err
	}
	var resp struct {
		Volume string `xml:"Body>GetVolumeResponse>CurrentVolume"`
	}
	if err := xml.Unmarshal(data, &resp); err != nil {
		return 0, fmt.Errorf("failed to decode GetVolume response: %w", err)
	}
	return strconv.Atoi(strings.TrimSpace(resp.Volume))
}

// SetVolume sets the master volume.
func (s *Speaker) SetVolume(ctx context.Context, volume int) error {
	_, err := s.call(ctx, renderingControl, "SetVolume",
		arg{"InstanceID", "0"},
		arg{"Channel", "Master"},
		arg{"DesiredVolume", strconv.Itoa(volume)},
	)
	return err
}

// TransportState returns the current transport state, e.g. PLAYING or STOPPED.
func (s *Speaker) TransportState(ctx context.Context) (string, error) {
	data, err := s.call(ctx, avTransport, "GetTransportInfo", arg{"InstanceID", "0"})
	if err != nil {
		return "", err
	}
	var resp struct {
		State string `xml:"Body>GetTransportInfoResponse>CurrentTransportState"`
	}
	if err := xml.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("failed to decode GetTransportInfo response: %w", err)
	}
	return resp.State, nil
}
