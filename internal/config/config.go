package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/melih/goal-listener/internal/core/domain"
	"gopkg.in/yaml.v3"
)

// Runtime names accepted in tracker.runtime.
const (
	RuntimeProcess   = "process"
	RuntimeContainer = "container"
)

// Default values
const (
	DefaultListen          = "0.0.0.0:5000"
	DefaultMaxBodySize     = 1048576 // 1 MB
	DefaultSignatureHeader = "X-Hub-Signature-256"
	DefaultGoalHorn        = "/files/leafs_goal_horn.mp3"
)

// Config is the listener configuration file.
type Config struct {
	LogLevel   string        `yaml:"log_level"`
	Listen     string        `yaml:"listen"`
	PublicAddr string        `yaml:"public_addr"`
	Sounds     SoundsConfig  `yaml:"sounds"`
	Light      LightConfig   `yaml:"light"`
	Speaker    SpeakerConfig `yaml:"speaker"`
	Webhook    WebhookConfig `yaml:"webhook"`
	Tracker    TrackerConfig `yaml:"tracker"`
}

// SoundsConfig points at the three MP3 directories served over HTTP.
type SoundsConfig struct {
	Files    string `yaml:"files"`
	Roster   string `yaml:"roster"`
	League   string `yaml:"league"`
	GoalHorn string `yaml:"goal_horn"`
}

// LightConfig configures the Home Assistant goal light webhook.
type LightConfig struct {
	WebhookURL string        `yaml:"webhook_url"`
	Timeout    time.Duration `yaml:"timeout"`
}

// SpeakerConfig configures the Sonos speaker used for playback.
type SpeakerConfig struct {
	Address      string        `yaml:"address"`
	Volume       int           `yaml:"volume"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// WebhookConfig secures the git commit webhook.
type WebhookConfig struct {
	// Secret enables HMAC-SHA256 verification when set.
	Secret          string `yaml:"secret,omitempty"`
	SignatureHeader string `yaml:"signature_header"`
	// MaxBodySize accepts plain bytes or a KB/MB/GB suffix.
	MaxBodySize string `yaml:"max_body_size,omitempty"`
}

// TrackerConfig describes the application restarted on every commit.
type TrackerConfig struct {
	Name             string        `yaml:"name"`
	Runtime          string        `yaml:"runtime"`
	Dir              string        `yaml:"dir"`
	Match            string        `yaml:"match"`
	Command          []string      `yaml:"command"`
	Remote           string        `yaml:"remote"`
	Branch           string        `yaml:"branch"`
	Settle           time.Duration `yaml:"settle"`
	RestartOnStartup bool          `yaml:"restart_on_startup"`
	Image            string        `yaml:"image"`
	// HostPort publishes the recipe port of the tracker container; 0 leaves it unpublished.
	HostPort int           `yaml:"host_port"`
	Recipe   domain.Recipe `yaml:"recipe"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	recipe := domain.DefaultRecipe()
	recipe.EntryPoint = "goal_tracker.py"
	return &Config{
		LogLevel:   "INFO",
		Listen:     DefaultListen,
		PublicAddr: "127.0.0.1:5000",
		Sounds: SoundsConfig{
			Files:    "sounds",
			Roster:   "sounds/roster_sounds",
			League:   "sounds/league_sounds",
			GoalHorn: DefaultGoalHorn,
		},
		Light: LightConfig{
			Timeout: 5 * time.Second,
		},
		Speaker: SpeakerConfig{
			Volume:       50,
			PollInterval: 200 * time.Millisecond,
		},
		Webhook: WebhookConfig{
			SignatureHeader: DefaultSignatureHeader,
		},
		Tracker: TrackerConfig{
			Name:             "goal_tracker",
			Runtime:          RuntimeProcess,
			Dir:              ".",
			Match:            "goal_tracker.py",
			Command:          []string{"python3", "goal_tracker.py"},
			Branch:           "main",
			Settle:           5 * time.Second,
			RestartOnStartup: true,
			Image:            "goal-tracker:local",
			HostPort:         5001,
			Recipe:           recipe,
		},
	}
}

// Load reads path on top of the defaults. A missing file yields the defaults.
// Environment overrides are applied before validation.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("LISTENER_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("LISTENER_WEBHOOK_SECRET"); v != "" {
		c.Webhook.Secret = v
	}
}

// Validate checks the configuration and joins every problem found.
func (c *Config) Validate() error {
	var errs []error

	if c.Listen == "" {
		errs = append(errs, errors.New("listen is required"))
	}
	if c.Sounds.Files == "" {
		errs = append(errs, errors.New("sounds.files is required"))
	}
	if c.Light.WebhookURL != "" {
		if u, err := url.Parse(c.Light.WebhookURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("light.webhook_url %q is not an absolute URL", c.Light.WebhookURL))
		}
	}
	if c.Speaker.Volume < 0 || c.Speaker.Volume > 100 {
		errs = append(errs, fmt.Errorf("speaker.volume %d must be between 0 and 100", c.Speaker.Volume))
	}
	if c.Speaker.PollInterval <= 0 {
		errs = append(errs, errors.New("speaker.poll_interval must be positive"))
	}
	if _, err := c.Webhook.BodyLimit(); err != nil {
		errs = append(errs, fmt.Errorf("webhook.max_body_size %q: %w", c.Webhook.MaxBodySize, err))
	}

	switch c.Tracker.Runtime {
	case RuntimeProcess:
		if len(c.Tracker.Command) == 0 {
			errs = append(errs, errors.New("tracker.command is required for the process runtime"))
		}
		if c.Tracker.Match == "" {
			errs = append(errs, errors.New("tracker.match is required for the process runtime"))
		}
	case RuntimeContainer:
		if c.Tracker.Image == "" {
			errs = append(errs, errors.New("tracker.image is required for the container runtime"))
		}
		if err := c.Tracker.Recipe.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("tracker.recipe: %w", err))
		}
		if err := c.checkHostPort(); err != nil {
			errs = append(errs, err)
		}
	default:
		errs = append(errs, fmt.Errorf("tracker.runtime %q must be %q or %q", c.Tracker.Runtime, RuntimeProcess, RuntimeContainer))
	}
	if c.Tracker.Name == "" {
		errs = append(errs, errors.New("tracker.name is required"))
	}
	if c.Tracker.Settle < 0 {
		errs = append(errs, errors.New("tracker.settle must not be negative"))
	}

	return errors.Join(errs...)
}

// checkHostPort rejects a tracker host port that collides with the listener's own port.
func (c *Config) checkHostPort() error {
	hp := c.Tracker.HostPort
	if hp < 0 || hp > 65535 {
		return fmt.Errorf("tracker.host_port %d out of range", hp)
	}
	if hp == 0 {
		return nil
	}
	_, port, err := net.SplitHostPort(c.Listen)
	if err != nil {
		return nil
	}
	if port == strconv.Itoa(hp) {
		return fmt.Errorf("tracker.host_port %d is the listener's own port (%s)", hp, c.Listen)
	}
	return nil
}

// BodyLimit returns the webhook body limit in bytes.
func (w WebhookConfig) BodyLimit() (int64, error) {
	return parseMaxBodySize(w.MaxBodySize)
}

// parseMaxBodySize parses size strings like "1MB", "2048576", "1048576" to bytes.
// Returns DefaultMaxBodySize if empty.
func parseMaxBodySize(size string) (int64, error) {
	if size == "" {
		return DefaultMaxBodySize, nil
	}

	upper := strings.ToUpper(strings.TrimSpace(size))
	multiplier := int64(1)

	switch {
	case strings.HasSuffix(upper, "KB"):
		multiplier = 1024
		upper = strings.TrimSuffix(upper, "KB")
	case strings.HasSuffix(upper, "MB"):
		multiplier = 1024 * 1024
		upper = strings.TrimSuffix(upper, "MB")
	case strings.HasSuffix(upper, "GB"):
		multiplier = 1024 * 1024 * 1024
		upper = strings.TrimSuffix(upper, "GB")
	}

	value, err := strconv.ParseInt(strings.TrimSpace(upper), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size value: %w", err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("size must be positive")
	}

	result := value * multiplier
	if result/multiplier != value {
		return 0, fmt.Errorf("size too large")
	}
	return result, nil
}

// LoadRecipe reads an image recipe from path on top of domain.DefaultRecipe.
// An empty path or a missing file yields the default recipe.
func LoadRecipe(path string) (domain.Recipe, error) {
	r := domain.DefaultRecipe()
	if path == "" {
		return r, nil
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return domain.Recipe{}, fmt.Errorf("failed to read recipe: %w", err)
	default:
		if err := yaml.Unmarshal(data, &r); err != nil {
			return domain.Recipe{}, fmt.Errorf("failed to parse recipe %s: %w", path, err)
		}
	}

	if err := r.Validate(); err != nil {
		return domain.Recipe{}, err
	}
	return r, nil
}
