package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Loader reads and validates YAML configuration files, with a layered
// base+environment overlay (APP_ENV selects "config.<env>.yaml" over
// "config.yaml").
type Loader struct{}

// NewLoader constructs a Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load reads filename, applies defaults, validates, and returns the
// resulting Config.
func (l *Loader) Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", filename, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal %s: %w", filename, err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid %s: %w", filename, err)
	}
	return &cfg, nil
}

func applyDefaults(c *Config) {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Performance.KlineRetentionHours == 0 {
		c.Performance.KlineRetentionHours = 24
	}
	if c.Performance.WebSocketHeartbeatInterval == 0 {
		c.Performance.WebSocketHeartbeatInterval = 5
	}
	if c.Performance.ClientTimeout == 0 {
		c.Performance.ClientTimeout = 10
	}
	if c.Mirror.ChannelPrefix == "" {
		c.Mirror.ChannelPrefix = "candles"
	}
	if c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// LoadLayered loads the base config file, then overlays config.<env>.yaml
// on top of it if env is non-empty and the overlay file exists. Overlay
// fields present in the YAML replace the corresponding base fields;
// omitted fields keep the base value.
func (l *Loader) LoadLayered(filename, env string) (*Config, error) {
	cfg, err := l.Load(filename)
	if err != nil {
		return nil, err
	}

	overlay := EnvOverlayPath(filename, env)
	if overlay == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(overlay)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read overlay %s: %w", overlay, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal overlay %s: %w", overlay, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid after overlay %s: %w", overlay, err)
	}
	return cfg, nil
}

// EnvOverlayPath returns the environment-specific overlay filename for the
// given base config path and APP_ENV value, e.g.
// ("config.yaml", "production") -> "config.production.yaml".
func EnvOverlayPath(base, env string) string {
	if env == "" {
		return ""
	}
	ext := ".yaml"
	name := base
	if len(base) > len(ext) && base[len(base)-len(ext):] == ext {
		name = base[:len(base)-len(ext)]
	}
	return name + "." + env + ext
}
