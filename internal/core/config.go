// Package core contains the decision logic of duealert: capability
// negotiation, connectivity tracking, the delivery channel chain, the
// due-item scanner, the offline action queue and the interaction event bus,
// plus the Engine that owns their lifecycle.
package core

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/valter-silva-au/duealert/pkg/models"
)

// ConfigFileName is the base name (without extension) of the config file.
const ConfigFileName = ".duealert"

// ConfigurationManager loads and validates engine configuration.
type ConfigurationManager interface {
	LoadConfig() (*models.Config, error)
	ValidateConfig(cfg *models.Config) error
}

// viperConfigManager implements ConfigurationManager using Viper for reading
// .duealert.yaml and DUEALERT_* environment overrides.
type viperConfigManager struct {
	basePath string
}

// NewConfigurationManager creates a ConfigurationManager that reads
// configuration relative to basePath.
func NewConfigurationManager(basePath string) ConfigurationManager {
	return &viperConfigManager{basePath: basePath}
}

// DefaultConfig returns a Config populated with the engine defaults. File
// locations are rooted at basePath.
func DefaultConfig(basePath string) *models.Config {
	return &models.Config{
		Scanner: models.ScannerConfig{
			Interval:     15 * time.Minute,
			InitialDelay: 5 * time.Second,
			Window:       24 * time.Hour,
		},
		Delivery: models.DeliveryConfig{
			AgentTimeout:       3 * time.Second,
			BannerExpiryLow:    5 * time.Second,
			BannerExpiryMedium: 10 * time.Second,
		},
		Capability: models.CapabilityConfig{
			Mode: "prompt",
			File: filepath.Join(basePath, ".duealert_capability.yaml"),
		},
		Queue: models.QueueConfig{
			DSN:             "file://" + filepath.ToSlash(filepath.Join(basePath, ".duealert_queue.json")),
			MaxAttemptsWarn: 10,
		},
		Backend: models.BackendConfig{
			Timeout:  10 * time.Second,
			TokenKey: "backend-token",
		},
		Agent: models.AgentConfig{
			Listen: "127.0.0.1:8791",
		},
		API: models.APIConfig{
			Listen: "127.0.0.1:8790",
		},
		Bus: models.BusConfig{
			RedisChannel: "duealert:interactions",
		},
		Due: models.DueConfig{
			File: filepath.Join(basePath, "due.yaml"),
		},
		Log: models.LogConfig{
			Level:  "info",
			Format: "text",
		},
		Network: models.NetworkConfig{
			ProbeInterval: 30 * time.Second,
		},
	}
}

// LoadConfig reads .duealert.yaml from the base path. A missing file yields
// the defaults; environment variables such as DUEALERT_QUEUE_DSN override
// both.
func (cm *viperConfigManager) LoadConfig() (*models.Config, error) {
	cfg := DefaultConfig(cm.basePath)

	v := viper.New()
	v.SetConfigName(ConfigFileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(cm.basePath)
	v.SetEnvPrefix("DUEALERT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("scanner.interval", cfg.Scanner.Interval)
	v.SetDefault("scanner.initial_delay", cfg.Scanner.InitialDelay)
	v.SetDefault("scanner.window", cfg.Scanner.Window)
	v.SetDefault("delivery.agent_timeout", cfg.Delivery.AgentTimeout)
	v.SetDefault("delivery.banner_expiry_low", cfg.Delivery.BannerExpiryLow)
	v.SetDefault("delivery.banner_expiry_medium", cfg.Delivery.BannerExpiryMedium)
	v.SetDefault("capability.mode", cfg.Capability.Mode)
	v.SetDefault("capability.file", cfg.Capability.File)
	v.SetDefault("queue.dsn", cfg.Queue.DSN)
	v.SetDefault("queue.max_attempts_warn", cfg.Queue.MaxAttemptsWarn)
	v.SetDefault("backend.url", cfg.Backend.URL)
	v.SetDefault("backend.timeout", cfg.Backend.Timeout)
	v.SetDefault("backend.token_key", cfg.Backend.TokenKey)
	v.SetDefault("agent.url", cfg.Agent.URL)
	v.SetDefault("agent.listen", cfg.Agent.Listen)
	v.SetDefault("api.listen", cfg.API.Listen)
	v.SetDefault("bus.redis_addr", cfg.Bus.RedisAddr)
	v.SetDefault("bus.redis_channel", cfg.Bus.RedisChannel)
	v.SetDefault("due.file", cfg.Due.File)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("network.probe_addr", cfg.Network.ProbeAddr)
	v.SetDefault("network.probe_interval", cfg.Network.ProbeInterval)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading %s.yaml: %w", ConfigFileName, err)
		}
	}

	cfg.Scanner.Interval = v.GetDuration("scanner.interval")
	cfg.Scanner.InitialDelay = v.GetDuration("scanner.initial_delay")
	cfg.Scanner.Window = v.GetDuration("scanner.window")
	cfg.Delivery.AgentTimeout = v.GetDuration("delivery.agent_timeout")
	cfg.Delivery.BannerExpiryLow = v.GetDuration("delivery.banner_expiry_low")
	cfg.Delivery.BannerExpiryMedium = v.GetDuration("delivery.banner_expiry_medium")
	cfg.Capability.Mode = strings.ToLower(v.GetString("capability.mode"))
	cfg.Capability.File = cm.resolvePath(v.GetString("capability.file"))
	cfg.Queue.DSN = v.GetString("queue.dsn")
	cfg.Queue.MaxAttemptsWarn = v.GetInt("queue.max_attempts_warn")
	cfg.Backend.URL = v.GetString("backend.url")
	cfg.Backend.Timeout = v.GetDuration("backend.timeout")
	cfg.Backend.TokenKey = v.GetString("backend.token_key")
	cfg.Agent.URL = v.GetString("agent.url")
	cfg.Agent.Listen = v.GetString("agent.listen")
	cfg.API.Listen = v.GetString("api.listen")
	cfg.Bus.RedisAddr = v.GetString("bus.redis_addr")
	cfg.Bus.RedisChannel = v.GetString("bus.redis_channel")
	cfg.Due.File = cm.resolvePath(v.GetString("due.file"))
	cfg.Log.Level = strings.ToLower(v.GetString("log.level"))
	cfg.Log.Format = strings.ToLower(v.GetString("log.format"))
	cfg.Network.ProbeAddr = v.GetString("network.probe_addr")
	cfg.Network.ProbeInterval = v.GetDuration("network.probe_interval")

	return cfg, nil
}

// resolvePath anchors relative paths at the base path.
func (cm *viperConfigManager) resolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(cm.basePath, p)
}

var validCapabilityModes = map[string]bool{
	"prompt":  true,
	"granted": true,
	"denied":  true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validQueueSchemes = map[string]bool{
	"file":       true,
	"memory":     true,
	"sqlite":     true,
	"postgres":   true,
	"postgresql": true,
}

// ValidateConfig checks every field and reports all problems at once.
func (cm *viperConfigManager) ValidateConfig(cfg *models.Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	var errs []string

	if cfg.Scanner.Interval <= 0 {
		errs = append(errs, fmt.Sprintf("scanner.interval must be positive, got %s", cfg.Scanner.Interval))
	}
	if cfg.Scanner.InitialDelay < 0 {
		errs = append(errs, fmt.Sprintf("scanner.initial_delay must be non-negative, got %s", cfg.Scanner.InitialDelay))
	}
	if cfg.Scanner.Window <= 0 {
		errs = append(errs, fmt.Sprintf("scanner.window must be positive, got %s", cfg.Scanner.Window))
	}
	if cfg.Delivery.AgentTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("delivery.agent_timeout must be positive, got %s", cfg.Delivery.AgentTimeout))
	}
	if cfg.Delivery.BannerExpiryLow <= 0 || cfg.Delivery.BannerExpiryMedium <= 0 {
		errs = append(errs, "delivery banner expiry durations must be positive")
	}
	if !validCapabilityModes[cfg.Capability.Mode] {
		errs = append(errs, fmt.Sprintf(
			"capability.mode %q is invalid, must be one of: prompt, granted, denied",
			cfg.Capability.Mode,
		))
	}
	if cfg.Queue.DSN == "" {
		errs = append(errs, "queue.dsn must not be empty")
	} else if u, err := url.Parse(cfg.Queue.DSN); err != nil {
		errs = append(errs, fmt.Sprintf("queue.dsn %q is not a valid URL: %v", cfg.Queue.DSN, err))
	} else if u.Scheme != "" && !validQueueSchemes[strings.ToLower(u.Scheme)] {
		errs = append(errs, fmt.Sprintf(
			"queue.dsn scheme %q is invalid, must be one of: file, memory, sqlite, postgres",
			u.Scheme,
		))
	}
	if cfg.Queue.MaxAttemptsWarn < 0 {
		errs = append(errs, fmt.Sprintf("queue.max_attempts_warn must be non-negative, got %d", cfg.Queue.MaxAttemptsWarn))
	}
	if cfg.Backend.URL != "" {
		if u, err := url.Parse(cfg.Backend.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			errs = append(errs, fmt.Sprintf("backend.url %q must be an http(s) URL", cfg.Backend.URL))
		}
	}
	if cfg.Backend.Timeout <= 0 {
		errs = append(errs, fmt.Sprintf("backend.timeout must be positive, got %s", cfg.Backend.Timeout))
	}
	if cfg.Agent.URL != "" {
		if u, err := url.Parse(cfg.Agent.URL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			errs = append(errs, fmt.Sprintf("agent.url %q must be a ws(s) URL", cfg.Agent.URL))
		}
	}
	if !validLogLevels[cfg.Log.Level] {
		errs = append(errs, fmt.Sprintf(
			"log.level %q is invalid, must be one of: debug, info, warn, error",
			cfg.Log.Level,
		))
	}
	if cfg.Log.Format != "text" && cfg.Log.Format != "json" {
		errs = append(errs, fmt.Sprintf("log.format %q is invalid, must be text or json", cfg.Log.Format))
	}
	if cfg.Network.ProbeAddr != "" && cfg.Network.ProbeInterval <= 0 {
		errs = append(errs, "network.probe_interval must be positive when network.probe_addr is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}
