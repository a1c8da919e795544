package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/zsprackett/claude-usage/internal/jsonfile"
)

const envPrefix = "CLAUDE_USAGE_"

type NotificationsConfig struct {
	Enabled bool   `json:"enabled"`
	Webhook string `json:"webhook"`
	NtfyURL string `json:"ntfy"`
}

type Config struct {
	DataDir              string              `json:"dataDir"`
	BaseURL              string              `json:"baseUrl"`
	DisplayOrg           string              `json:"displayOrg"` // "auto" or an organization uuid
	Browsers             []string            `json:"browsers"`   // cookie sources, in priority order
	RequestTimeout       string              `json:"requestTimeout"`
	RunTimeout           string              `json:"runTimeout"`
	LogDir               string              `json:"logDir"`
	LogLevel             string              `json:"logLevel"`
	HistoryRetentionDays int                 `json:"historyRetentionDays"`
	Notifications        NotificationsConfig `json:"notifications"`
}

func Defaults() Config {
	dir := DefaultDir()
	return Config{
		DataDir:              dir,
		BaseURL:              "https://claude.ai",
		DisplayOrg:           "auto",
		Browsers:             []string{"chrome", "brave", "firefox", "safari", "edge"},
		RequestTimeout:       "20s",
		RunTimeout:           "60s",
		LogDir:               filepath.Join(dir, "logs"),
		LogLevel:             "info",
		HistoryRetentionDays: 30,
		Notifications:        NotificationsConfig{Enabled: true},
	}
}

func DefaultDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "claude-usage")
}

func DefaultPath() string {
	return filepath.Join(DefaultDir(), "config.json")
}

func (c Config) CredentialPath() string { return filepath.Join(c.DataDir, "credential.json") }
func (c Config) CachePath() string      { return filepath.Join(c.DataDir, "last_usage.json") }
func (c Config) StatePath() string      { return filepath.Join(c.DataDir, "notification_state.json") }
func (c Config) HistoryPath() string    { return filepath.Join(c.DataDir, "history.db") }

// Load reads the config file at path over Defaults. A missing file yields the
// defaults. A .env file next to the config is loaded into the process
// environment first (existing variables win), then CLAUDE_USAGE_* variables
// override file values.
func Load(path string) (Config, error) {
	cfg := Defaults()
	loadEnvFile(filepath.Join(filepath.Dir(path), ".env"))

	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, err
	}
	if err == nil {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Defaults(), fmt.Errorf("parse %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if cfg.LogDir == "" {
		cfg.LogDir = filepath.Join(cfg.DataDir, "logs")
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadEnvFile(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	// godotenv.Load never overrides variables already set in the environment.
	_ = godotenv.Load(path)
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(envPrefix + "DIR"); v != "" {
		cfg.DataDir = v
		cfg.LogDir = filepath.Join(v, "logs")
	}
	if v := os.Getenv(envPrefix + "BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv(envPrefix + "DISPLAY_ORG"); v != "" {
		cfg.DisplayOrg = v
	}
	if v := os.Getenv(envPrefix + "LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv(envPrefix + "BROWSERS"); v != "" {
		cfg.Browsers = splitList(v)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, strings.ToLower(p))
		}
	}
	return out
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("dataDir cannot be empty")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("baseUrl %q must be an absolute http(s) URL", c.BaseURL)
	}
	if c.DisplayOrg == "" {
		return errors.New(`displayOrg cannot be empty (use "auto")`)
	}
	if _, err := time.ParseDuration(c.RequestTimeout); err != nil {
		return fmt.Errorf("requestTimeout: %w", err)
	}
	if _, err := time.ParseDuration(c.RunTimeout); err != nil {
		return fmt.Errorf("runTimeout: %w", err)
	}
	if c.HistoryRetentionDays < 0 {
		return errors.New("historyRetentionDays must be >= 0")
	}
	return nil
}

func (c Config) RequestTimeoutDuration() time.Duration {
	return parseDuration(c.RequestTimeout, 20*time.Second)
}

func (c Config) RunTimeoutDuration() time.Duration {
	return parseDuration(c.RunTimeout, 60*time.Second)
}

// parseDuration parses a duration string with a fallback
func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// SetDisplayOrg persists displayOrg into the config file at path, keeping
// every other key already present in the file.
func SetDisplayOrg(path, org string) error {
	if strings.TrimSpace(org) == "" {
		return errors.New("organization cannot be empty")
	}
	raw := map[string]any{}
	if _, err := jsonfile.Read(path, &raw); err != nil {
		return err
	}
	raw["displayOrg"] = org
	return jsonfile.Write(path, raw, 0644)
}
