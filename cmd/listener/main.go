package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/melih/goal-listener/internal/adapters/builder"
	"github.com/melih/goal-listener/internal/adapters/docker"
	"github.com/melih/goal-listener/internal/adapters/gitsync"
	"github.com/melih/goal-listener/internal/adapters/homeassistant"
	"github.com/melih/goal-listener/internal/adapters/http"
	"github.com/melih/goal-listener/internal/adapters/process"
	"github.com/melih/goal-listener/internal/adapters/sonos"
	"github.com/melih/goal-listener/internal/adapters/sounds"
	"github.com/melih/goal-listener/internal/config"
	"github.com/melih/goal-listener/internal/core/ports"
	"github.com/melih/goal-listener/internal/core/services"
	"github.com/melih/goal-listener/internal/log"
	"github.com/melih/goal-listener/internal/metrics"
)

var version = "0.1.0-dev"

func main() {
	configPath := flag.String("config", "listener.yaml", "path to the listener config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "goal-listener: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log.Setup(cfg.LogLevel)
	logger := log.WithComponent("listener")
	metrics.BuildInfo.WithLabelValues(version).Set(1)

	// 1. Initialize Adapters (Infrastructure)
	runtime, err := newRuntime(cfg)
	if err != nil {
		return err
	}

	syncer := gitsync.NewSyncer(cfg.Tracker.Dir, cfg.Tracker.Remote, cfg.Tracker.Branch, nil)

	var light ports.Light
	if cfg.Light.WebhookURL != "" {
		light = homeassistant.NewLight(cfg.Light.WebhookURL, cfg.Light.Timeout)
	}
	var speaker ports.Speaker
	if cfg.Speaker.Address != "" {
		speaker = sonos.NewSpeaker(cfg.Speaker.Address, cfg.PublicAddr, cfg.Speaker.Volume,
			cfg.Speaker.PollInterval, log.WithComponent("sonos"))
	}

	// 2. Initialize Services
	restarts := services.NewRestartService(runtime, syncer, cfg.Tracker.Settle, log.WithComponent("restart"))
	defer restarts.Close()
	alerts := services.NewAlertService(light, speaker, cfg.Sounds.GoalHorn, log.WithComponent("alert"))

	// 3. Initialize HTTP Handlers
	bodyLimit, err := cfg.Webhook.BodyLimit()
	if err != nil {
		return err
	}
	library := sounds.NewOsLibrary(cfg.Sounds.Files, cfg.Sounds.Roster, cfg.Sounds.League)
	app := http.NewApp(http.Handlers{
		Sounds: http.NewSoundHandler(library, log.WithComponent("sounds")),
		Webhooks: http.NewWebhookHandler(cfg.Tracker.Name, alerts, restarts, http.WebhookConfig{
			Secret:          cfg.Webhook.Secret,
			SignatureHeader: cfg.Webhook.SignatureHeader,
			MaxBodySize:     bodyLimit,
		}, log.WithComponent("webhook")),
		Tracker: http.NewTrackerHandler(cfg.Tracker.Name, restarts),
	}, bodyLimit, log.WithComponent("http"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Bring the tracker up before serving.
	if cfg.Tracker.RestartOnStartup {
		if _, err := restarts.Restart(ctx, "startup"); err != nil {
			logger.Error("startup restart failed", "error", err)
		}
	}

	// 5. Start Server
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", cfg.Listen, "version", version, "runtime", runtime.Name())
		errCh <- app.Listen(cfg.Listen)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

func newRuntime(cfg *config.Config) (ports.AppRuntime, error) {
	t := cfg.Tracker
	switch t.Runtime {
	case config.RuntimeContainer:
		containers, err := docker.NewAdapter()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Docker adapter: %w", err)
		}
		images, err := builder.NewBuilderAdapter(os.Stdout)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize builder: %w", err)
		}
		return services.NewContainerRuntime(containers, images, t.Name, t.Image, t.Dir, t.Recipe, t.HostPort,
			log.WithComponent("container")), nil
	default:
		return process.NewRuntime(t.Match, t.Command, t.Dir, log.WithComponent("process")), nil
	}
}
