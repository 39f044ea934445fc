package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func withHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("LINKD_HOME", home)
	return home
}

func TestLoadDefaults(t *testing.T) {
	home := withHome(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BindAddr != "127.0.0.1:8480" {
		t.Errorf("BindAddr = %q", cfg.BindAddr)
	}
	if cfg.DBPath != filepath.Join(home, "linkd.db") {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
	if cfg.Cache.VerifierTTL != 600 {
		t.Errorf("VerifierTTL = %d", cfg.Cache.VerifierTTL)
	}
	if cfg.Reconciler.Enabled {
		t.Error("reconciler enabled by default")
	}
	if cfg.Reconciler.CronExpr != "*/15 * * * *" || cfg.Reconciler.MaxBatch != 20 {
		t.Errorf("reconciler defaults = %+v", cfg.Reconciler)
	}
	if cfg.Otel.Exporter != "otlp-http" {
		t.Errorf("Exporter = %q", cfg.Otel.Exporter)
	}
}

func TestLoadFromYAML(t *testing.T) {
	home := withHome(t)

	yaml := strings.Join([]string{
		"bind_addr: 0.0.0.0:9000",
		"log_level: debug",
		"signing_key: 0x" + strings.Repeat("ab", 32),
		"oauth:",
		"  discord:",
		"    client_id: cid-1",
		"    client_secret: cs-1",
		"    redirect_uri: https://linkd.example/cb",
		"reconciler:",
		"  enabled: true",
		"  cron_expr: '*/5 * * * *'",
	}, "\n")
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BindAddr != "0.0.0.0:9000" || cfg.LogLevel != "debug" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.OAuth.Discord.ClientID != "cid-1" {
		t.Errorf("Discord.ClientID = %q", cfg.OAuth.Discord.ClientID)
	}
	if !cfg.Reconciler.Enabled || cfg.Reconciler.CronExpr != "*/5 * * * *" {
		t.Errorf("Reconciler = %+v", cfg.Reconciler)
	}
}

func TestEnvOverridesWinOverYAML(t *testing.T) {
	home := withHome(t)
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte("bind_addr: 0.0.0.0:9000\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("LINKD_BIND_ADDR", "127.0.0.1:9999")
	t.Setenv("LINKD_SIGNING_KEY", strings.Repeat("cd", 32))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BindAddr != "127.0.0.1:9999" {
		t.Errorf("BindAddr = %q", cfg.BindAddr)
	}
	if cfg.SigningKeyHex != strings.Repeat("cd", 32) {
		t.Errorf("SigningKeyHex = %q", cfg.SigningKeyHex)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Config{SigningKeyHex: "0xabcd", Otel: OtelConfig{Exporter: "otlp-http"}}
	if err := cfg.Validate(); err == nil {
		t.Error("short signing key accepted")
	}

	cfg = Config{Otel: OtelConfig{Exporter: "statsd"}}
	if err := cfg.Validate(); err == nil {
		t.Error("unknown exporter accepted")
	}

	cfg = Config{Otel: OtelConfig{Exporter: "none", SampleRate: 1.5}}
	if err := cfg.Validate(); err == nil {
		t.Error("out-of-range sample rate accepted")
	}
}
