package config

import "testing"

func TestValidateRejectsEmptyTokens(t *testing.T) {
	c := &Config{Server: ServerConfig{Port: 8080}, Performance: PerformanceConfig{KlineRetentionHours: 1}}
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for empty tokens")
	}
}

func TestValidateAcceptsMinimalConfig(t *testing.T) {
	c := &Config{
		Server:      ServerConfig{Port: 8080},
		Tokens:      TokensConfig{SupportedTokens: []TokenConfig{{Symbol: "DOGE"}}},
		Performance: PerformanceConfig{KlineRetentionHours: 1},
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEnvOverlayPath(t *testing.T) {
	got := EnvOverlayPath("config.yaml", "production")
	want := "config.production.yaml"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if EnvOverlayPath("config.yaml", "") != "" {
		t.Fatal("expected empty overlay path for empty env")
	}
}
