package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.APIBaseURL == "" {
		t.Fatalf("expected default api base url")
	}
	if cfg.DBPath == "" {
		t.Fatalf("expected default db path")
	}
	if cfg.StatusAddr == "" {
		t.Fatalf("expected default status addr")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("API_BASE_URL", "http://example.test")
	t.Setenv("WS_URL", "ws://example.test/ws")
	t.Setenv("DB_PATH", "/tmp/agent.db")
	t.Setenv("DEVICE_ID", "device-1")

	cfg := Load()
	if cfg.APIBaseURL != "http://example.test" {
		t.Fatalf("expected override api base url")
	}
	if cfg.WSURL != "ws://example.test/ws" {
		t.Fatalf("expected override ws url")
	}
	if cfg.DBPath != "/tmp/agent.db" {
		t.Fatalf("expected override db path")
	}
	if cfg.DeviceID != "device-1" {
		t.Fatalf("expected override device id")
	}
}
