// Package config provides YAML-based configuration loading for the
// interview runner.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration, loaded from config.yaml.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Draft     DraftConfig     `yaml:"draft"`
	Queue     QueueConfig     `yaml:"queue"`
	Tabs      TabsConfig      `yaml:"tabs"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Dashboard DashboardConfig `yaml:"dashboard"`
}

// ServerConfig points at the remote interview service.
type ServerConfig struct {
	APIURL string `yaml:"api_url"`
	WSURL  string `yaml:"ws_url"`
	Token  string `yaml:"token"`
}

// StorageConfig selects the local durable store.
type StorageConfig struct {
	Driver           string `yaml:"driver"` // sqlite or mysql
	Path             string `yaml:"path"`
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	Database         string `yaml:"database"`
	User             string `yaml:"user"`
	MemoryQuotaBytes int    `yaml:"memory_quota_bytes"`
}

// ReconnectConfig is the shared exponential backoff policy.
type ReconnectConfig struct {
	BaseMs      int `yaml:"base_ms"`
	CapMs       int `yaml:"cap_ms"`
	MaxAttempts int `yaml:"max_attempts"`
}

// MonitorConfig controls the reachability probe.
type MonitorConfig struct {
	ProbeIntervalSec int `yaml:"probe_interval_sec"`
	ProbeTimeoutSec  int `yaml:"probe_timeout_sec"`
}

// DraftConfig controls draft retention and autosave cadence.
type DraftConfig struct {
	TTLHours    int `yaml:"ttl_hours"`
	DebounceMs  int `yaml:"debounce_ms"`
	AutosaveSec int `yaml:"autosave_sec"`
}

// QueueConfig controls submission retries and offline queue replay.
type QueueConfig struct {
	DrainIntervalSec int `yaml:"drain_interval_sec"`
	RetryAttempts    int `yaml:"retry_attempts"`
	RetryBaseMs      int `yaml:"retry_base_ms"`
}

// TabsConfig selects the tab broadcast bus and the optional lease lock.
type TabsConfig struct {
	Bus             string `yaml:"bus"` // memory or sql
	PollIntervalMs  int    `yaml:"poll_interval_ms"`
	Lease           bool   `yaml:"lease"`
	LeaseTimeoutSec int    `yaml:"lease_timeout_sec"`
}

// AlertsConfig holds optional recruiter notification targets.
type AlertsConfig struct {
	Slack   ChannelConfig `yaml:"slack"`
	Discord ChannelConfig `yaml:"discord"`
}

// ChannelConfig is a chat bot token plus the channel it posts into.
type ChannelConfig struct {
	BotToken string `yaml:"bot_token"`
	Channel  string `yaml:"channel"`
}

// Enabled reports whether both token and channel are set.
func (c ChannelConfig) Enabled() bool {
	return c.BotToken != "" && c.Channel != ""
}

// DashboardConfig controls the local status server.
type DashboardConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	c.Server.APIURL = strings.TrimRight(c.Server.APIURL, "/")
	if c.Server.WSURL == "" && c.Server.APIURL != "" {
		c.Server.WSURL = deriveWSURL(c.Server.APIURL)
	}
	c.Server.WSURL = strings.TrimRight(c.Server.WSURL, "/")

	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.Driver == "sqlite" && c.Storage.Path == "" {
		c.Storage.Path = "interview.db"
	}
	if c.Storage.Driver == "mysql" {
		if c.Storage.Host == "" {
			c.Storage.Host = "127.0.0.1"
		}
		if c.Storage.Port == 0 {
			c.Storage.Port = 3306
		}
		if c.Storage.User == "" {
			c.Storage.User = "root"
		}
	}

	if c.Reconnect.BaseMs == 0 {
		c.Reconnect.BaseMs = 1000
	}
	if c.Reconnect.CapMs == 0 {
		c.Reconnect.CapMs = 30000
	}
	if c.Reconnect.MaxAttempts == 0 {
		c.Reconnect.MaxAttempts = 5
	}

	if c.Monitor.ProbeIntervalSec == 0 {
		c.Monitor.ProbeIntervalSec = 10
	}
	if c.Monitor.ProbeTimeoutSec == 0 {
		c.Monitor.ProbeTimeoutSec = 5
	}

	if c.Draft.TTLHours == 0 {
		c.Draft.TTLHours = 24
	}
	if c.Draft.DebounceMs == 0 {
		c.Draft.DebounceMs = 2000
	}
	if c.Draft.AutosaveSec == 0 {
		c.Draft.AutosaveSec = 30
	}

	if c.Queue.DrainIntervalSec == 0 {
		c.Queue.DrainIntervalSec = 30
	}
	if c.Queue.RetryAttempts == 0 {
		c.Queue.RetryAttempts = 3
	}
	if c.Queue.RetryBaseMs == 0 {
		c.Queue.RetryBaseMs = 1000
	}

	if c.Tabs.Bus == "" {
		c.Tabs.Bus = "sql"
	}
	if c.Tabs.PollIntervalMs == 0 {
		c.Tabs.PollIntervalMs = 500
	}
	if c.Tabs.LeaseTimeoutSec == 0 {
		c.Tabs.LeaseTimeoutSec = 90
	}

	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = 8099
	}
}

// deriveWSURL maps http(s)://host/api to ws(s)://host.
func deriveWSURL(apiURL string) string {
	u := strings.TrimSuffix(apiURL, "/api")
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Server.APIURL == "" {
		errs = append(errs, "server.api_url is required")
	}
	switch c.Storage.Driver {
	case "sqlite":
	case "mysql":
		if c.Storage.Database == "" {
			errs = append(errs, "storage.database is required for mysql")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage.driver %q must be sqlite or mysql", c.Storage.Driver))
	}
	if c.Storage.MemoryQuotaBytes < 0 {
		errs = append(errs, "storage.memory_quota_bytes must not be negative")
	}
	if c.Reconnect.BaseMs < 0 || c.Reconnect.CapMs < 0 {
		errs = append(errs, "reconnect delays must not be negative")
	}
	if c.Reconnect.MaxAttempts < 0 {
		errs = append(errs, "reconnect.max_attempts must not be negative")
	}
	if c.Queue.RetryAttempts < 0 {
		errs = append(errs, "queue.retry_attempts must not be negative")
	}
	switch c.Tabs.Bus {
	case "memory", "sql":
	default:
		errs = append(errs, fmt.Sprintf("tabs.bus %q must be memory or sql", c.Tabs.Bus))
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		errs = append(errs, fmt.Sprintf("dashboard.port %d out of range", c.Dashboard.Port))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ReconnectBase returns the backoff base delay.
func (c *Config) ReconnectBase() time.Duration {
	return time.Duration(c.Reconnect.BaseMs) * time.Millisecond
}

// ReconnectCap returns the backoff delay cap.
func (c *Config) ReconnectCap() time.Duration {
	return time.Duration(c.Reconnect.CapMs) * time.Millisecond
}

// ProbeInterval returns how often reachability is probed.
func (c *Config) ProbeInterval() time.Duration {
	return time.Duration(c.Monitor.ProbeIntervalSec) * time.Second
}

// ProbeTimeout returns the per-probe deadline.
func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Monitor.ProbeTimeoutSec) * time.Second
}

// DraftTTL returns how long a saved draft stays recoverable.
func (c *Config) DraftTTL() time.Duration {
	return time.Duration(c.Draft.TTLHours) * time.Hour
}

// DraftDebounce returns the quiet period before a keystroke-triggered save.
func (c *Config) DraftDebounce() time.Duration {
	return time.Duration(c.Draft.DebounceMs) * time.Millisecond
}

// AutosaveInterval returns the periodic draft save interval.
func (c *Config) AutosaveInterval() time.Duration {
	return time.Duration(c.Draft.AutosaveSec) * time.Second
}

// DrainInterval returns how often the offline queue is replayed.
func (c *Config) DrainInterval() time.Duration {
	return time.Duration(c.Queue.DrainIntervalSec) * time.Second
}

// RetryBase returns the per-attempt submission retry delay unit.
func (c *Config) RetryBase() time.Duration {
	return time.Duration(c.Queue.RetryBaseMs) * time.Millisecond
}

// PollInterval returns the SQL tab bus polling interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Tabs.PollIntervalMs) * time.Millisecond
}

// LeaseTimeout returns the stale-heartbeat threshold for session leases.
func (c *Config) LeaseTimeout() time.Duration {
	return time.Duration(c.Tabs.LeaseTimeoutSec) * time.Second
}
