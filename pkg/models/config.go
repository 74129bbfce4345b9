package models

import "time"

// ScannerConfig controls the due-item scan cadence.
type ScannerConfig struct {
	Interval     time.Duration `yaml:"interval" mapstructure:"interval"`
	InitialDelay time.Duration `yaml:"initial_delay" mapstructure:"initial_delay"`
	Window       time.Duration `yaml:"window" mapstructure:"window"`
}

// DeliveryConfig controls channel timeouts and banner expiry.
type DeliveryConfig struct {
	AgentTimeout       time.Duration `yaml:"agent_timeout" mapstructure:"agent_timeout"`
	BannerExpiryLow    time.Duration `yaml:"banner_expiry_low" mapstructure:"banner_expiry_low"`
	BannerExpiryMedium time.Duration `yaml:"banner_expiry_medium" mapstructure:"banner_expiry_medium"`
}

// CapabilityConfig controls how the notification permission is obtained.
// Mode is one of prompt, granted or denied.
type CapabilityConfig struct {
	Mode string `yaml:"mode" mapstructure:"mode"`
	File string `yaml:"file" mapstructure:"file"`
}

// QueueConfig selects the offline action store.
type QueueConfig struct {
	DSN             string `yaml:"dsn" mapstructure:"dsn"`
	MaxAttemptsWarn int    `yaml:"max_attempts_warn" mapstructure:"max_attempts_warn"`
}

// BackendConfig points at the action-replay endpoint.
type BackendConfig struct {
	URL      string        `yaml:"url" mapstructure:"url"`
	Timeout  time.Duration `yaml:"timeout" mapstructure:"timeout"`
	TokenKey string        `yaml:"token_key" mapstructure:"token_key"`
}

// AgentConfig configures the background delivery agent. URL is dialed by the
// engine; Listen is used by the agent process itself.
type AgentConfig struct {
	URL    string `yaml:"url" mapstructure:"url"`
	Listen string `yaml:"listen" mapstructure:"listen"`
}

// APIConfig configures the host-facing HTTP API.
type APIConfig struct {
	Listen string `yaml:"listen" mapstructure:"listen"`
}

// BusConfig configures the optional cross-process event bus bridge.
type BusConfig struct {
	RedisAddr    string `yaml:"redis_addr" mapstructure:"redis_addr"`
	RedisChannel string `yaml:"redis_channel" mapstructure:"redis_channel"`
}

// DueConfig points at the due-item file written by the host application.
type DueConfig struct {
	File string `yaml:"file" mapstructure:"file"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// NetworkConfig configures the optional connectivity probe.
type NetworkConfig struct {
	ProbeAddr     string        `yaml:"probe_addr" mapstructure:"probe_addr"`
	ProbeInterval time.Duration `yaml:"probe_interval" mapstructure:"probe_interval"`
}

// Config holds every setting read from .duealert.yaml via Viper.
type Config struct {
	Scanner    ScannerConfig    `yaml:"scanner" mapstructure:"scanner"`
	Delivery   DeliveryConfig   `yaml:"delivery" mapstructure:"delivery"`
	Capability CapabilityConfig `yaml:"capability" mapstructure:"capability"`
	Queue      QueueConfig      `yaml:"queue" mapstructure:"queue"`
	Backend    BackendConfig    `yaml:"backend" mapstructure:"backend"`
	Agent      AgentConfig      `yaml:"agent" mapstructure:"agent"`
	API        APIConfig        `yaml:"api" mapstructure:"api"`
	Bus        BusConfig        `yaml:"bus" mapstructure:"bus"`
	Due        DueConfig        `yaml:"due" mapstructure:"due"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Network    NetworkConfig    `yaml:"network" mapstructure:"network"`
}
