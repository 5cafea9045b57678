// Package config is the layered YAML configuration for the fan-out
// service, loaded once at startup into an immutable *Config.
package config

import "fmt"

// Config is the root of the YAML document.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Tokens         TokensConfig         `yaml:"tokens"`
	DataGeneration DataGenerationConfig `yaml:"data_generation"`
	Performance    PerformanceConfig    `yaml:"performance"`
	Mirror         MirrorConfig         `yaml:"mirror"`
	Monitoring     MonitoringConfig     `yaml:"monitoring"`
	Logging        LoggingConfig        `yaml:"logging"`

	// Database and Cache are accepted but never read: reserved settings
	// for future durable storage, out of scope for this service today.
	Database map[string]interface{} `yaml:"database"`
	Cache    map[string]interface{} `yaml:"cache"`
}

type ServerConfig struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	Workers int    `yaml:"workers"`
}

type TokensConfig struct {
	SupportedTokens []TokenConfig `yaml:"supported_tokens"`
}

type TokenConfig struct {
	Symbol     string  `yaml:"symbol"`
	BasePrice  float64 `yaml:"base_price"`
	Volatility float64 `yaml:"volatility"`
}

// Symbols returns just the symbol names, in configured order.
func (t TokensConfig) Symbols() []string {
	out := make([]string, len(t.SupportedTokens))
	for i, tok := range t.SupportedTokens {
		out[i] = tok.Symbol
	}
	return out
}

type DataGenerationConfig struct {
	Enabled     bool              `yaml:"enabled"`
	IntervalMs  int               `yaml:"interval_ms"`
	Volatility  float64           `yaml:"volatility"`
	VolumeRange VolumeRangeConfig `yaml:"volume_range"`
}

type VolumeRangeConfig struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

type PerformanceConfig struct {
	WorkerThreads              int     `yaml:"worker_threads"`
	WebSocketHeartbeatInterval int     `yaml:"websocket_heartbeat_interval"`
	ClientTimeout               int    `yaml:"client_timeout"`
	KlineRetentionHours         float64 `yaml:"kline_retention_hours"`
	MaxWebSocketConnections     int     `yaml:"max_websocket_connections"`
}

type MirrorConfig struct {
	Enabled       bool   `yaml:"enabled"`
	RedisURL      string `yaml:"redis_url"`
	ChannelPrefix string `yaml:"channel_prefix"`
}

type MonitoringConfig struct {
	MetricsEnabled bool `yaml:"metrics_enabled"`
	PrometheusPort int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	FileOutput bool   `yaml:"file_output"`
	FilePath   string `yaml:"file_path"`
}

// Validate checks the invariants every downstream component assumes hold:
// at least one token configured, a positive server port, and a retention
// window large enough to hold at least one candle.
func (c *Config) Validate() error {
	if len(c.Tokens.SupportedTokens) == 0 {
		return fmt.Errorf("config: tokens.supported_tokens must not be empty")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("config: server.port must be positive")
	}
	if c.Performance.KlineRetentionHours <= 0 {
		return fmt.Errorf("config: performance.kline_retention_hours must be positive")
	}
	for _, t := range c.Tokens.SupportedTokens {
		if t.Symbol == "" {
			return fmt.Errorf("config: tokens.supported_tokens entries must have a symbol")
		}
	}
	return nil
}

// Addr returns the host:port the main HTTP server should bind.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// MetricsAddr returns the bind address for the standalone metrics server.
func (c *Config) MetricsAddr() string {
	return fmt.Sprintf(":%d", c.Monitoring.PrometheusPort)
}
