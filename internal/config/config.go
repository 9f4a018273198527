// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Platforms PlatformsConfig `mapstructure:"platforms"`
	Workers   WorkersConfig   `mapstructure:"workers"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
	// PublicURL is the externally reachable base used in artifact links,
	// e.g. "http://localhost:5000". No trailing slash.
	PublicURL string `mapstructure:"public_url"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// FetchConfig governs outbound request behavior shared by all platforms.
type FetchConfig struct {
	TimeoutSeconds     int     `mapstructure:"timeout_seconds"`
	RequestDelay       float64 `mapstructure:"request_delay_seconds"`
	MaxRetries         int     `mapstructure:"max_retries"`
	BackoffMultiplier  float64 `mapstructure:"backoff_multiplier"`
	BackoffMinSeconds  float64 `mapstructure:"backoff_min_seconds"`
	BackoffMaxSeconds  float64 `mapstructure:"backoff_max_seconds"`
	MaxConcurrent      int     `mapstructure:"max_concurrent"`
	PageSize           int     `mapstructure:"page_size"`
	ResultsKey         string  `mapstructure:"results_key"`
	UserAgent          string  `mapstructure:"user_agent"`
	BanCooldownSeconds int     `mapstructure:"ban_cooldown_seconds"`
}

// Timeout returns the per-request timeout.
func (f FetchConfig) Timeout() time.Duration {
	return time.Duration(f.TimeoutSeconds) * time.Second
}

// Delay returns the pause between paginated requests.
func (f FetchConfig) Delay() time.Duration {
	return time.Duration(f.RequestDelay * float64(time.Second))
}

// BackoffMin returns the lower clamp for retry waits.
func (f FetchConfig) BackoffMin() time.Duration {
	return time.Duration(f.BackoffMinSeconds * float64(time.Second))
}

// BackoffMax returns the upper clamp for retry waits.
func (f FetchConfig) BackoffMax() time.Duration {
	return time.Duration(f.BackoffMaxSeconds * float64(time.Second))
}

// BanCooldown returns how long a banned credential stays out of rotation.
func (f FetchConfig) BanCooldown() time.Duration {
	return time.Duration(f.BanCooldownSeconds) * time.Second
}

// PlatformsConfig holds per-provider endpoints and credentials.
type PlatformsConfig struct {
	GitHub    GraphQLPlatformConfig `mapstructure:"github"`
	GitLab    GraphQLPlatformConfig `mapstructure:"gitlab"`
	Bitbucket BitbucketConfig       `mapstructure:"bitbucket"`
}

// GraphQLPlatformConfig configures a GraphQL-speaking provider.
type GraphQLPlatformConfig struct {
	BaseURL string `mapstructure:"base_url"`
	// Tokens is a comma-separated list; see TokenList.
	Tokens string `mapstructure:"tokens"`
}

// TokenList splits the comma-separated token string, trimming whitespace
// and surrounding quotes. Empty entries are dropped.
func (g GraphQLPlatformConfig) TokenList() []string {
	return splitTokens(g.Tokens)
}

// BitbucketConfig configures the Bitbucket REST provider. Bitbucket uses
// OAuth2 client credentials instead of personal access tokens.
type BitbucketConfig struct {
	BaseURL      string `mapstructure:"base_url"`
	TokenURL     string `mapstructure:"token_url"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
}

// WorkersConfig governs the job dispatcher.
type WorkersConfig struct {
	Count      int `mapstructure:"count"`
	QueueDepth int `mapstructure:"queue_depth"`
}

// StorageConfig selects where export artifacts are written.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// DBConfig controls access to the relational job store. An empty DSN keeps
// jobs in memory.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Load builds a Config from disk/environment. A .env file in the working
// directory is folded into the environment first so local setups can keep
// tokens out of shell profiles.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("METACRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.public_url", "http://localhost:5000")
	v.SetDefault("logging.development", true)
	v.SetDefault("fetch.timeout_seconds", 180)
	v.SetDefault("fetch.request_delay_seconds", 1.0)
	v.SetDefault("fetch.max_retries", 5)
	v.SetDefault("fetch.backoff_multiplier", 1.0)
	v.SetDefault("fetch.backoff_min_seconds", 2)
	v.SetDefault("fetch.backoff_max_seconds", 8)
	v.SetDefault("fetch.max_concurrent", 10)
	v.SetDefault("fetch.page_size", 100)
	v.SetDefault("fetch.results_key", "values")
	v.SetDefault("fetch.user_agent", "GitMetadataCrawler/1.0 (+https://github.com/Timothy-Git/GitMetadataCrawler)")
	v.SetDefault("fetch.ban_cooldown_seconds", 600)
	v.SetDefault("platforms.github.base_url", "https://api.github.com/graphql")
	v.SetDefault("platforms.gitlab.base_url", "https://gitlab.com/api/graphql")
	v.SetDefault("platforms.bitbucket.base_url", "https://api.bitbucket.org/2.0")
	v.SetDefault("platforms.bitbucket.token_url", "https://bitbucket.org/site/oauth2/access_token")
	v.SetDefault("workers.count", 4)
	v.SetDefault("workers.queue_depth", 64)
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.local_dir", "exports")
	v.SetDefault("db.max_conns", 4)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Fetch.MaxRetries < 1 {
		return fmt.Errorf("fetch.max_retries must be >= 1")
	}
	if c.Fetch.BackoffMinSeconds > c.Fetch.BackoffMaxSeconds {
		return fmt.Errorf("fetch.backoff_min_seconds must be <= fetch.backoff_max_seconds")
	}
	if c.Fetch.PageSize <= 0 {
		return fmt.Errorf("fetch.page_size must be > 0")
	}
	if c.Fetch.ResultsKey == "" {
		return fmt.Errorf("fetch.results_key must not be empty")
	}
	if c.Workers.Count <= 0 {
		return fmt.Errorf("workers.count must be > 0")
	}
	switch c.Storage.Backend {
	case "memory":
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set for the local backend")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend must be one of memory, local, gcs")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

func splitTokens(raw string) []string {
	parts := strings.Split(raw, ",")
	tokens := make([]string, 0, len(parts))
	for _, part := range parts {
		token := strings.TrimSpace(part)
		token = strings.Trim(token, `"'`)
		if token != "" {
			tokens = append(tokens, token)
		}
	}
	return tokens
}
