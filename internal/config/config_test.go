package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  public_url: https://meta.example.com
auth:
  enabled: true
  api_key: secret
logging:
  development: false
  level: warn
fetch:
  timeout_seconds: 45
  request_delay_seconds: 0.5
  max_retries: 3
  backoff_multiplier: 2.0
  backoff_min_seconds: 1
  backoff_max_seconds: 4
  page_size: 50
platforms:
  github:
    tokens: "alpha, 'beta', \"gamma\""
  bitbucket:
    client_id: id
    client_secret: secret
workers:
  count: 2
  queue_depth: 16
storage:
  backend: gcs
  gcs_bucket: bucket
db:
  dsn: postgres://localhost/meta
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Fetch.TimeoutSeconds != 45 || cfg.Fetch.MaxRetries != 3 {
		t.Fatalf("expected fetch overrides to apply: %+v", cfg.Fetch)
	}
	if got := cfg.Fetch.Timeout(); got != 45*time.Second {
		t.Fatalf("expected timeout 45s, got %v", got)
	}
	if got := cfg.Fetch.Delay(); got != 500*time.Millisecond {
		t.Fatalf("expected delay 500ms, got %v", got)
	}
	if got := cfg.Platforms.GitHub.BaseURL; got != "https://api.github.com/graphql" {
		t.Fatalf("expected default github base url, got %q", got)
	}
	tokens := cfg.Platforms.GitHub.TokenList()
	if len(tokens) != 3 || tokens[0] != "alpha" || tokens[1] != "beta" || tokens[2] != "gamma" {
		t.Fatalf("expected quote-stripped token list, got %v", tokens)
	}
	if cfg.Storage.Backend != "gcs" || cfg.Storage.GCSBucket != "bucket" {
		t.Fatalf("expected gcs storage config, got %+v", cfg.Storage)
	}
	if cfg.DB.DSN != "postgres://localhost/meta" {
		t.Fatalf("expected db dsn override, got %q", cfg.DB.DSN)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 5000 {
		t.Fatalf("expected default port 5000, got %d", cfg.Server.Port)
	}
	if cfg.Fetch.MaxRetries != 5 || cfg.Fetch.PageSize != 100 {
		t.Fatalf("expected fetch defaults, got %+v", cfg.Fetch)
	}
	if cfg.Fetch.ResultsKey != "values" {
		t.Fatalf("expected results key default, got %q", cfg.Fetch.ResultsKey)
	}
	if got := cfg.Fetch.BanCooldown(); got != 10*time.Minute {
		t.Fatalf("expected ban cooldown 10m, got %v", got)
	}
	if cfg.Platforms.Bitbucket.TokenURL == "" {
		t.Fatalf("expected bitbucket token url default")
	}
	if cfg.Storage.Backend != "local" || cfg.Storage.LocalDir != "exports" {
		t.Fatalf("expected local storage defaults, got %+v", cfg.Storage)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server: ServerConfig{Port: 5000},
		Fetch: FetchConfig{
			TimeoutSeconds:    10,
			MaxRetries:        1,
			BackoffMinSeconds: 1,
			BackoffMaxSeconds: 2,
			PageSize:          10,
			ResultsKey:        "values",
		},
		Workers: WorkersConfig{Count: 1},
		Storage: StorageConfig{Backend: "memory"},
	}

	tests := []struct {
		name string
		cfg  func() Config
		want string
	}{
		{
			name: "invalid port",
			cfg: func() Config {
				c := base
				c.Server.Port = 0
				return c
			},
			want: "server.port",
		},
		{
			name: "invalid timeout",
			cfg: func() Config {
				c := base
				c.Fetch.TimeoutSeconds = 0
				return c
			},
			want: "fetch.timeout_seconds",
		},
		{
			name: "invalid retries",
			cfg: func() Config {
				c := base
				c.Fetch.MaxRetries = 0
				return c
			},
			want: "fetch.max_retries",
		},
		{
			name: "inverted backoff clamps",
			cfg: func() Config {
				c := base
				c.Fetch.BackoffMinSeconds = 9
				return c
			},
			want: "backoff_min_seconds",
		},
		{
			name: "invalid workers",
			cfg: func() Config {
				c := base
				c.Workers.Count = 0
				return c
			},
			want: "workers.count",
		},
		{
			name: "unknown storage backend",
			cfg: func() Config {
				c := base
				c.Storage.Backend = "tape"
				return c
			},
			want: "storage.backend",
		},
		{
			name: "gcs missing bucket",
			cfg: func() Config {
				c := base
				c.Storage.Backend = "gcs"
				return c
			},
			want: "storage.gcs_bucket",
		},
		{
			name: "auth missing api key",
			cfg: func() Config {
				c := base
				c.Auth.Enabled = true
				return c
			},
			want: "auth.api_key",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg().Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestSplitTokens(t *testing.T) {
	t.Parallel()

	got := splitTokens(` "one" , , 'two',three `)
	if len(got) != 3 || got[0] != "one" || got[1] != "two" || got[2] != "three" {
		t.Fatalf("unexpected token split: %v", got)
	}
	if got := splitTokens(""); len(got) != 0 {
		t.Fatalf("expected no tokens from empty string, got %v", got)
	}
}
