// Package config loads the linkd YAML configuration with environment
// overrides. Config is read once at startup and never mutated afterwards;
// in particular the attestation signing key has no reload path.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// OAuthApp holds one platform's OAuth application credentials.
type OAuthApp struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURI  string `yaml:"redirect_uri"`
}

// OAuthConfig holds per-platform OAuth applications.
type OAuthConfig struct {
	Discord  OAuthApp `yaml:"discord"`
	GitHub   OAuthApp `yaml:"github"`
	Google   OAuthApp `yaml:"google"`
	Facebook OAuthApp `yaml:"facebook"`
	X        OAuthApp `yaml:"x"`
}

// ContentStoreConfig points at the IPFS pinning API and public gateway.
type ContentStoreConfig struct {
	APIURL     string `yaml:"api_url"`
	GatewayURL string `yaml:"gateway_url"`
	Token      string `yaml:"token"`
}

// ChainConfig holds RPC endpoints and the badge contract address.
type ChainConfig struct {
	EthereumRPC     string `yaml:"ethereum_rpc"`
	BSCRPC          string `yaml:"bsc_rpc"`
	BaseRPC         string `yaml:"base_rpc"`
	ContractAddress string `yaml:"contract_address"`
}

// CacheConfig configures the Redis verifier cache.
type CacheConfig struct {
	Addr        string `yaml:"addr"`
	Password    string `yaml:"password"`
	DB          int    `yaml:"db"`
	VerifierTTL int    `yaml:"verifier_ttl_seconds"`
}

// OtelConfig configures tracing and metrics export.
type OtelConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"` // otlp-http, stdout, none
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// ReconcilerConfig controls the optional chain-submit retry job.
type ReconcilerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CronExpr string `yaml:"cron_expr"`
	MaxBatch int    `yaml:"max_batch"`
}

// Config is the complete linkd configuration.
type Config struct {
	HomeDir  string `yaml:"-"`
	DBPath   string `yaml:"db_path"`
	BindAddr string `yaml:"bind_addr"`
	LogLevel string `yaml:"log_level"`

	// AuthToken guards the gateway's mutating routes. Empty disables auth
	// (local development only).
	AuthToken string `yaml:"auth_token"`

	// SigningKeyHex is the validator's secp256k1 private key, hex encoded
	// with or without a 0x prefix. Injected into the attestation producer
	// at construction.
	SigningKeyHex string `yaml:"signing_key"`

	OAuth        OAuthConfig        `yaml:"oauth"`
	ContentStore ContentStoreConfig `yaml:"content_store"`
	Chain        ChainConfig        `yaml:"chain"`
	Cache        CacheConfig        `yaml:"cache"`
	Otel         OtelConfig         `yaml:"otel"`
	Reconciler   ReconcilerConfig   `yaml:"reconciler"`

	HTTPTimeout time.Duration `yaml:"-"`
}

// HomeDir resolves the linkd home directory, honoring LINKD_HOME.
func HomeDir() string {
	if override := os.Getenv("LINKD_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".linkd")
}

// Load reads config.yaml from the linkd home dir, applies env overrides
// and normalizes defaults.
func Load() (Config, error) {
	cfg := Config{HomeDir: HomeDir()}

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create linkd home: %w", err)
	}

	configPath := filepath.Join(cfg.HomeDir, "config.yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	stringOverrides := []struct {
		env string
		dst *string
	}{
		{"LINKD_DB_PATH", &cfg.DBPath},
		{"LINKD_BIND_ADDR", &cfg.BindAddr},
		{"LINKD_LOG_LEVEL", &cfg.LogLevel},
		{"LINKD_AUTH_TOKEN", &cfg.AuthToken},
		{"LINKD_SIGNING_KEY", &cfg.SigningKeyHex},
		{"LINKD_REDIS_ADDR", &cfg.Cache.Addr},
		{"LINKD_IPFS_API_URL", &cfg.ContentStore.APIURL},
		{"LINKD_IPFS_TOKEN", &cfg.ContentStore.Token},
		{"LINKD_CONTRACT_ADDRESS", &cfg.Chain.ContractAddress},
		{"LINKD_ETHEREUM_RPC", &cfg.Chain.EthereumRPC},
		{"LINKD_BSC_RPC", &cfg.Chain.BSCRPC},
		{"LINKD_BASE_RPC", &cfg.Chain.BaseRPC},
	}
	for _, o := range stringOverrides {
		if v := os.Getenv(o.env); v != "" {
			*o.dst = v
		}
	}
	if raw := os.Getenv("LINKD_OTEL_ENABLED"); raw != "" {
		cfg.Otel.Enabled, _ = strconv.ParseBool(raw)
	}
	if raw := os.Getenv("LINKD_RECONCILER_ENABLED"); raw != "" {
		cfg.Reconciler.Enabled, _ = strconv.ParseBool(raw)
	}
}

func normalize(cfg *Config) {
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.HomeDir, "linkd.db")
	}
	if cfg.BindAddr == "" {
		cfg.BindAddr = "127.0.0.1:8480"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Cache.Addr == "" {
		cfg.Cache.Addr = "127.0.0.1:6379"
	}
	if cfg.Cache.VerifierTTL <= 0 {
		cfg.Cache.VerifierTTL = 600
	}
	if cfg.ContentStore.GatewayURL == "" {
		cfg.ContentStore.GatewayURL = "https://ipfs.io/ipfs/"
	}
	if cfg.Otel.ServiceName == "" {
		cfg.Otel.ServiceName = "linkd"
	}
	if cfg.Otel.Exporter == "" {
		cfg.Otel.Exporter = "otlp-http"
	}
	if cfg.Reconciler.CronExpr == "" {
		cfg.Reconciler.CronExpr = "*/15 * * * *"
	}
	if cfg.Reconciler.MaxBatch <= 0 {
		cfg.Reconciler.MaxBatch = 20
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
}

// Validate rejects configurations that cannot start safely.
func (c *Config) Validate() error {
	if c.SigningKeyHex != "" {
		key := strings.TrimPrefix(c.SigningKeyHex, "0x")
		if len(key) != 64 {
			return fmt.Errorf("signing_key must be 32 hex bytes, got %d chars", len(key))
		}
	}
	if c.Otel.SampleRate < 0 || c.Otel.SampleRate > 1 {
		return fmt.Errorf("otel.sample_rate must be in [0,1], got %v", c.Otel.SampleRate)
	}
	switch c.Otel.Exporter {
	case "otlp-http", "stdout", "none":
	default:
		return fmt.Errorf("unknown otel exporter %q (supported: otlp-http, stdout, none)", c.Otel.Exporter)
	}
	return nil
}
