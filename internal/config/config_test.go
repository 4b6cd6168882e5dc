package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_defaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.URL != "https://textsecure-service.whispersystems.org" {
		t.Errorf("server.url: got %q", cfg.Server.URL)
	}
	if cfg.Server.Timeout != 30*time.Second {
		t.Errorf("server.timeout: got %s", cfg.Server.Timeout)
	}
	if cfg.Credentials.Source != SourceStatic || cfg.Credentials.DeviceID != 1 {
		t.Errorf("credentials: got %+v", cfg.Credentials)
	}
	if cfg.Fake.Port != 8080 || cfg.Fake.StoragePort != 8081 || cfg.Fake.StorageHost != "localhost" {
		t.Errorf("fake: got %+v", cfg.Fake)
	}
	if !strings.HasSuffix(cfg.Fake.CertDir, filepath.Join(".textsecure", "fake-ca")) {
		t.Errorf("fake.cert_dir: got %q", cfg.Fake.CertDir)
	}
	if cfg.Server.CAFile != "" {
		t.Errorf("server.ca_file: got %q", cfg.Server.CAFile)
	}
}

func TestLoad_file(t *testing.T) {
	path := writeConfig(t, `
server:
  url: https://staging.example.org
  attachment_host: attachments.example.org
  timeout: 5s
  rate_limit_rps: 2.5
credentials:
  number: "+15551234567"
  device_id: 2
  password: pw
fake:
  cors_origins: ["*"]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.URL != "https://staging.example.org" || cfg.Server.AttachmentHost != "attachments.example.org" {
		t.Errorf("server: got %+v", cfg.Server)
	}
	if cfg.Server.Timeout != 5*time.Second || cfg.Server.RateLimitRPS != 2.5 {
		t.Errorf("server limits: got %+v", cfg.Server)
	}
	if cfg.Credentials.Number != "+15551234567" || cfg.Credentials.DeviceID != 2 || cfg.Credentials.Password != "pw" {
		t.Errorf("credentials: got %+v", cfg.Credentials)
	}
	if len(cfg.Fake.CORSOrigins) != 1 || cfg.Fake.CORSOrigins[0] != "*" {
		t.Errorf("cors: got %v", cfg.Fake.CORSOrigins)
	}
}

func TestLoad_envOverridesFile(t *testing.T) {
	path := writeConfig(t, "server:\n  url: https://file.example.org\n")
	t.Setenv("TEXTSECURE_SERVER_URL", "https://env.example.org")
	t.Setenv("TEXTSECURE_CREDENTIALS_PASSWORD", "from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.URL != "https://env.example.org" {
		t.Errorf("server.url: got %q", cfg.Server.URL)
	}
	if cfg.Credentials.Password != "from-env" {
		t.Errorf("credentials.password: got %q", cfg.Credentials.Password)
	}
}

func TestLoad_missingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestLoad_invalid(t *testing.T) {
	cases := map[string]string{
		"source":  "credentials:\n  source: vault\n",
		"timeout": "server:\n  timeout: -1s\n",
		"rate":    "server:\n  rate_limit_rps: -3\n",
	}
	for name, body := range cases {
		name, body := name, body
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), name) {
				t.Errorf("error %q does not mention %q", err, name)
			}
		})
	}
}
