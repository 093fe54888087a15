package config

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Worker.LangPath != "https://tessdata.projectnaptha.com/4.0.0" {
		t.Errorf("Unexpected lang path %q", cfg.Worker.LangPath)
	}
	if cfg.Worker.OEM != 1 || cfg.Worker.Languages != "eng" {
		t.Errorf("Unexpected engine defaults %d %q", cfg.Worker.OEM, cfg.Worker.Languages)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should be valid: %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("LISTEN_PORT", "9090")
	t.Setenv("WORKER_TRANSPORT", "nats")
	t.Setenv("WORKER_ARGS", "worker.js, --quiet ,")
	t.Setenv("WORKER_PARAMETERS", "tessedit_pageseg_mode=6,preserve_interword_spaces=1,broken")
	t.Setenv("WORKER_TIMEOUT", "30s")
	t.Setenv("WORKER_OEM", "0")
	t.Setenv("NATS_ENABLED", "true")
	t.Setenv("NATS_PORT", "not-a-number")
	t.Setenv("POOL_SIZE", "4")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("IMAGE_URL_HOSTS", "scans.example.com, *.cdn.example.com")

	cfg := DefaultConfig()
	cfg.LoadFromEnv()

	if cfg.Listen.Addr() != "127.0.0.1:9090" {
		t.Errorf("Unexpected listen addr %s", cfg.Listen.Addr())
	}
	if !reflect.DeepEqual(cfg.Worker.Args, []string{"worker.js", "--quiet"}) {
		t.Errorf("Unexpected args %v", cfg.Worker.Args)
	}
	wantParams := map[string]any{"tessedit_pageseg_mode": "6", "preserve_interword_spaces": "1"}
	if !reflect.DeepEqual(cfg.Worker.Params(), wantParams) {
		t.Errorf("Unexpected params %v", cfg.Worker.Params())
	}
	if cfg.Worker.Timeout != 30*time.Second {
		t.Errorf("Unexpected timeout %s", cfg.Worker.Timeout)
	}
	if cfg.Worker.OEM != 0 {
		t.Errorf("Expected OEM 0, got %d", cfg.Worker.OEM)
	}
	if cfg.Nats.URL() != "nats://localhost:4222" {
		t.Errorf("Invalid port should keep the default, got %s", cfg.Nats.URL())
	}
	if cfg.Pool.Size != 4 || cfg.Redis.DB != 2 {
		t.Errorf("Unexpected pool size %d or redis db %d", cfg.Pool.Size, cfg.Redis.DB)
	}
	if !reflect.DeepEqual(cfg.Security.ImageHosts, []string{"scans.example.com", "*.cdn.example.com"}) {
		t.Errorf("Unexpected image hosts %v", cfg.Security.ImageHosts)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown transport", func(c *Config) { c.Worker.Transport = "webworker" }},
		{"nats transport without nats", func(c *Config) { c.Worker.Transport = TransportNats }},
		{"process without command", func(c *Config) { c.Worker.Command = "" }},
		{"empty pool", func(c *Config) { c.Pool.Size = 0 }},
		{"negative queue", func(c *Config) { c.Pool.QueueSize = -1 }},
		{"gcs without bucket", func(c *Config) { c.GCS.Enabled = true }},
		{"any image host without api key", func(c *Config) { c.Security.ImageHosts = []string{"*"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}
