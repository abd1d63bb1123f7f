package config

import (
	"os"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	tmpfile, err := os.CreateTemp("", "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Remove(tmpfile.Name()) })

	if _, err := tmpfile.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := tmpfile.Close(); err != nil {
		t.Fatal(err)
	}
	return tmpfile.Name()
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  host: "127.0.0.1"

session:
  secret: "test-secret"
  ttl: 2h

bunny:
  apiBaseURL: "http://localhost:1234"

database:
  host: "testdb"
  port: 5432
  user: "testuser"
  password: "testpass"
  dbname: "testdb"

webhook:
  endpoints:
    - url: "https://hooks.example.com/bunny"
      secret: "whsec"
      events: ["export.completed"]
`)

	// Load config
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	// Verify loaded values
	if cfg.Server.Port != 9090 {
		t.Errorf("Expected port 9090, got %d", cfg.Server.Port)
	}

	if cfg.Server.Addr() != "127.0.0.1:9090" {
		t.Errorf("Expected addr 127.0.0.1:9090, got %s", cfg.Server.Addr())
	}

	if cfg.Database.Host != "testdb" {
		t.Errorf("Expected database host testdb, got %s", cfg.Database.Host)
	}

	if cfg.Session.TTL != 2*time.Hour {
		t.Errorf("Expected session ttl 2h, got %v", cfg.Session.TTL)
	}

	if cfg.Bunny.APIBaseURL != "http://localhost:1234" {
		t.Errorf("Expected bunny base URL override, got %s", cfg.Bunny.APIBaseURL)
	}

	if len(cfg.Webhook.Endpoints) != 1 || cfg.Webhook.Endpoints[0].Secret != "whsec" {
		t.Errorf("Expected one webhook endpoint, got %+v", cfg.Webhook.Endpoints)
	}
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
session:
  secret: "s"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Bunny.Timeout != 10*time.Second {
		t.Errorf("Expected default bunny timeout 10s, got %v", cfg.Bunny.Timeout)
	}
	if cfg.Bunny.APIBaseURL != "https://video.bunnycdn.com" {
		t.Errorf("Expected default bunny base URL, got %s", cfg.Bunny.APIBaseURL)
	}
	if cfg.Session.TTL != 24*time.Hour {
		t.Errorf("Expected default session ttl 24h, got %v", cfg.Session.TTL)
	}
	if !cfg.Cache.Enabled || cfg.Cache.TTL != time.Minute {
		t.Errorf("Expected cache enabled with 1m ttl, got %+v", cfg.Cache)
	}
}

func TestLoadEnvironmentOverride(t *testing.T) {
	path := writeConfig(t, `
session:
  secret: "from-file"
`)
	t.Setenv("BUNNYSTREAM_SESSION_SECRET", "from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Session.Secret != "from-env" {
		t.Errorf("Expected env override, got %s", cfg.Session.Secret)
	}
}

func TestLoadRequiresSessionSecret(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 8080
`)

	if _, err := Load(path); err == nil {
		t.Error("Expected error when session secret is missing")
	}
}

func TestLoadNonExistentFile(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	if err == nil {
		t.Error("Expected error when loading nonexistent file")
	}
}
