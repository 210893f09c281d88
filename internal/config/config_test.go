package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "development")
	t.Setenv("BASE_URL", "")
	t.Setenv("PRESENCE_MODE", "")
	t.Setenv("HEARTBEAT_TIMEOUT", "")

	cfg := Load()
	if cfg.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Port)
	}
	if cfg.BaseURL != "http://localhost:9090" {
		t.Errorf("unexpected base url %q", cfg.BaseURL)
	}
	if cfg.HeartbeatTimeout != 60*time.Second {
		t.Errorf("expected 60s heartbeat, got %v", cfg.HeartbeatTimeout)
	}
	if !cfg.RefCountPresence() {
		t.Error("expected refcount presence by default")
	}
	if cfg.MaxUploadFiles != 5 || cfg.MaxUploadBytes != 50*1024*1024 {
		t.Errorf("unexpected upload limits: %d files, %d bytes", cfg.MaxUploadFiles, cfg.MaxUploadBytes)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HEARTBEAT_TIMEOUT", "30000")
	t.Setenv("PRESENCE_MODE", "legacy")
	t.Setenv("STRICT_CHANNEL_JOIN", "false")
	t.Setenv("BASE_URL", "https://chat.example.com/")
	t.Setenv("RATE_LIMIT_WHITELIST", "10.0.0.1, 192.168.0.0/16,")

	cfg := Load()
	if cfg.HeartbeatTimeout != 30*time.Second {
		t.Errorf("expected 30s heartbeat, got %v", cfg.HeartbeatTimeout)
	}
	if cfg.RefCountPresence() {
		t.Error("expected legacy presence")
	}
	if cfg.StrictChannelJoin {
		t.Error("expected strict channel join disabled")
	}
	if cfg.BaseURL != "https://chat.example.com" {
		t.Errorf("expected trailing slash trimmed, got %q", cfg.BaseURL)
	}
	if len(cfg.RateLimitWhitelist) != 2 {
		t.Errorf("expected 2 whitelist entries, got %v", cfg.RateLimitWhitelist)
	}
}
