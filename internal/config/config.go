// Package config loads and validates the devflowfix configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the DFX_ prefix (e.g., DFX_DATABASE_HOST
// overrides database.host in the YAML). This layering allows the same binary to
// run with a config.yaml in local development and with pure environment variables
// in containerized deployments — no recompilation or different binaries needed.
//
// The TOKEN_ENCRYPTION_KEY variable has no DFX_ prefix because it may be injected
// by infrastructure tooling (e.g., Kubernetes secrets, Vault agent) that does not
// know the application-specific prefix and treats it as a generic secret name.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Auth        AuthConfig        `mapstructure:"auth"`
	OAuth       OAuthConfig       `mapstructure:"oauth"`
	Ingest      IngestConfig      `mapstructure:"ingest"`
	Remediation RemediationConfig `mapstructure:"remediation"`
	Provider    ProviderConfig    `mapstructure:"provider"`
	LLM         LLMConfig         `mapstructure:"llm"`
	Artifacts   ArtifactsConfig   `mapstructure:"artifacts"`
	Security    SecurityConfig    `mapstructure:"security"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	BaseURL      string        `mapstructure:"base_url"`
	PublicURL    string        `mapstructure:"public_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// TrustedProxies lists the proxy CIDRs whose X-Forwarded-For headers are
	// believed for client IP resolution. Empty means no proxy is trusted and
	// the peer address is used directly.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

// GetPublicURL returns the public-facing URL used for OAuth callbacks and webhook
// delivery targets. When server.public_url is set it is returned as-is; otherwise
// it falls back to server.base_url. The distinction matters in reverse-proxied
// deployments where the internal listen address (base_url) differs from the URL
// registered with the OAuth provider (public_url).
func (s *ServerConfig) GetPublicURL() string {
	if s.PublicURL != "" {
		return s.PublicURL
	}
	return s.BaseURL
}

// GetAddress returns the server address in host:port format
func (s *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// RedisConfig holds the optional Redis connection. An empty Addr disables
// Redis-backed OAuth state and rate limiting; in-memory fallbacks are used.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Enabled reports whether a Redis address is configured.
func (r *RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// AuthConfig holds bearer-token validation settings. Identity issuance lives
// outside this service; the API only validates tokens and extracts a principal.
type AuthConfig struct {
	// JWTSecret enables HS256 validation of first-party tokens when non-empty.
	JWTSecret string `mapstructure:"jwt_secret"`
	// OIDC validates RS256 ID tokens issued by an external identity provider.
	OIDC OIDCConfig `mapstructure:"oidc"`
}

// OIDCConfig holds external identity provider verification settings
type OIDCConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	IssuerURL string `mapstructure:"issuer_url"`
	Audience  string `mapstructure:"audience"`
}

// OAuthConfig holds the code-host OAuth application credentials, one block per
// supported provider.
type OAuthConfig struct {
	GitHub OAuthProviderConfig `mapstructure:"github"`
	GitLab OAuthProviderConfig `mapstructure:"gitlab"`
}

// ForProvider returns the OAuth application settings for the named provider.
func (o *OAuthConfig) ForProvider(provider string) (OAuthProviderConfig, bool) {
	switch provider {
	case "github":
		return o.GitHub, o.GitHub.ClientID != ""
	case "gitlab":
		return o.GitLab, o.GitLab.ClientID != ""
	}
	return OAuthProviderConfig{}, false
}

// OAuthProviderConfig holds a single OAuth application registration
type OAuthProviderConfig struct {
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	RedirectURI  string   `mapstructure:"redirect_uri"`
	Scopes       []string `mapstructure:"scopes"`
	// BaseURL overrides the provider host for self-managed instances
	// (e.g. GitLab CE). Empty means the public cloud endpoint.
	BaseURL string `mapstructure:"base_url"`
}

// IngestConfig holds webhook ingestion settings
type IngestConfig struct {
	// BaseURL is the public URL webhooks are delivered to; hooks are registered
	// as <base_url>/webhooks/<provider>.
	BaseURL string `mapstructure:"base_url"`
	// LegacyUserPaths keeps the old per-user ingest aliases
	// (/api/v1/webhook/:provider/:user_id) routed to the universal handlers.
	LegacyUserPaths bool `mapstructure:"legacy_user_paths"`
}

// RemediationConfig holds the auto-remediation budgets and worker pool sizing
type RemediationConfig struct {
	MaxFilesPerPR       int `mapstructure:"max_files_per_pr"`
	MaxErrorsPerFile    int `mapstructure:"max_errors_per_file"`
	DeadlineS           int `mapstructure:"deadline_s"`
	LogContextMaxChars  int `mapstructure:"log_context_max_chars"`
	Workers             int `mapstructure:"workers"`
	QueueSize           int `mapstructure:"queue_size"`
	SweepIntervalS      int `mapstructure:"sweep_interval_s"`
	BranchPrefix        string `mapstructure:"branch_prefix"`
}

// Deadline returns the per-incident remediation wall-time budget.
func (r *RemediationConfig) Deadline() time.Duration {
	return time.Duration(r.DeadlineS) * time.Second
}

// SweepInterval returns how often the sweeper looks for stuck attempts.
func (r *RemediationConfig) SweepInterval() time.Duration {
	return time.Duration(r.SweepIntervalS) * time.Second
}

// ProviderConfig holds code-host HTTP client behavior
type ProviderConfig struct {
	RetryMaxAttempts int `mapstructure:"retry_max_attempts"`
	RetryBaseDelayMS int `mapstructure:"retry_base_delay_ms"`
	RetryMaxDelayMS  int `mapstructure:"retry_max_delay_ms"`
	HTTPTimeoutS     int `mapstructure:"http_timeout_s"`
	// LogsTimeoutS is a separate, longer budget for run-log downloads, which
	// follow redirects to short-lived archive URLs.
	LogsTimeoutS int `mapstructure:"logs_timeout_s"`
}

// HTTPTimeout returns the general provider-call timeout.
func (p *ProviderConfig) HTTPTimeout() time.Duration {
	return time.Duration(p.HTTPTimeoutS) * time.Second
}

// LogsTimeout returns the run-log download timeout.
func (p *ProviderConfig) LogsTimeout() time.Duration {
	return time.Duration(p.LogsTimeoutS) * time.Second
}

// LLMConfig holds the fix-generation model settings. The endpoint speaks the
// OpenAI chat-completions protocol.
type LLMConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	TimeoutS    int     `mapstructure:"timeout_s"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

// Timeout returns the per-request LLM call budget.
func (l *LLMConfig) Timeout() time.Duration {
	return time.Duration(l.TimeoutS) * time.Second
}

// ArtifactsConfig holds the run-log archive backend configuration
type ArtifactsConfig struct {
	Backend string                `mapstructure:"backend"`
	Local   LocalArtifactsConfig  `mapstructure:"local"`
	S3      S3ArtifactsConfig     `mapstructure:"s3"`
	Azure   AzureArtifactsConfig  `mapstructure:"azure"`
	GCS     GCSArtifactsConfig    `mapstructure:"gcs"`
}

// LocalArtifactsConfig holds local filesystem archive configuration
type LocalArtifactsConfig struct {
	BasePath string `mapstructure:"base_path"`
}

// S3ArtifactsConfig holds S3-compatible archive configuration
type S3ArtifactsConfig struct {
	// Endpoint is the S3-compatible endpoint URL (optional, for MinIO etc.)
	Endpoint string `mapstructure:"endpoint"`
	Region   string `mapstructure:"region"`
	Bucket   string `mapstructure:"bucket"`
	// AuthMethod selects how AWS credentials are obtained: "default" (AWS
	// credential chain), "static", or "assume_role". Empty picks static when
	// keys are set, default otherwise.
	AuthMethod      string `mapstructure:"auth_method"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	// RoleARN is the IAM role to assume when auth_method is assume_role;
	// ExternalID is passed through for cross-account trust policies.
	RoleARN         string `mapstructure:"role_arn"`
	RoleSessionName string `mapstructure:"role_session_name"`
	ExternalID      string `mapstructure:"external_id"`
}

// AzureArtifactsConfig holds Azure Blob archive configuration
type AzureArtifactsConfig struct {
	AccountName   string `mapstructure:"account_name"`
	AccountKey    string `mapstructure:"account_key"`
	ContainerName string `mapstructure:"container_name"`
}

// GCSArtifactsConfig holds Google Cloud Storage archive configuration
type GCSArtifactsConfig struct {
	Bucket string `mapstructure:"bucket"`
	// ProjectID is only needed when the bucket is created at startup.
	ProjectID string `mapstructure:"project_id"`
	// CredentialsFile is the path to a service account JSON key file; empty
	// means Application Default Credentials.
	CredentialsFile string `mapstructure:"credentials_file"`
	// CredentialsJSON is the key as a string (useful for environment variables).
	CredentialsJSON string `mapstructure:"credentials_json"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	CORS         CORSConfig         `mapstructure:"cors"`
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
}

// RateLimitingConfig holds rate limiting configuration
type RateLimitingConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	Enabled     bool            `mapstructure:"enabled"`
	ServiceName string          `mapstructure:"service_name"`
	Metrics     MetricsConfig   `mapstructure:"metrics"`
	Profiling   ProfilingConfig `mapstructure:"profiling"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// ProfilingConfig holds profiling configuration
type ProfilingConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// bindEnvVars explicitly binds environment variables to config keys.
// This is necessary because AutomaticEnv() doesn't work well with nested structs during Unmarshal.
// viper.BindEnv only errors when called with zero keys; since every key here is a non-empty
// hardcoded string, any error indicates a programming bug and is surfaced to the caller.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		// Server
		"server.host",
		"server.port",
		"server.base_url",
		"server.public_url",
		"server.read_timeout",
		"server.write_timeout",
		"server.trusted_proxies",

		// Database
		"database.host",
		"database.port",
		"database.name",
		"database.user",
		"database.password",
		"database.ssl_mode",
		"database.max_connections",
		"database.min_idle_connections",

		// Redis
		"redis.addr",
		"redis.password",
		"redis.db",

		// Auth
		"auth.jwt_secret",
		"auth.oidc.enabled",
		"auth.oidc.issuer_url",
		"auth.oidc.audience",

		// OAuth applications
		"oauth.github.client_id",
		"oauth.github.client_secret",
		"oauth.github.redirect_uri",
		"oauth.github.scopes",
		"oauth.github.base_url",
		"oauth.gitlab.client_id",
		"oauth.gitlab.client_secret",
		"oauth.gitlab.redirect_uri",
		"oauth.gitlab.scopes",
		"oauth.gitlab.base_url",

		// Ingest
		"ingest.base_url",
		"ingest.legacy_user_paths",

		// Remediation
		"remediation.max_files_per_pr",
		"remediation.max_errors_per_file",
		"remediation.deadline_s",
		"remediation.log_context_max_chars",
		"remediation.workers",
		"remediation.queue_size",
		"remediation.sweep_interval_s",
		"remediation.branch_prefix",

		// Provider client
		"provider.retry_max_attempts",
		"provider.retry_base_delay_ms",
		"provider.retry_max_delay_ms",
		"provider.http_timeout_s",
		"provider.logs_timeout_s",

		// LLM
		"llm.endpoint",
		"llm.api_key",
		"llm.model",
		"llm.timeout_s",
		"llm.max_tokens",
		"llm.temperature",

		// Artifacts
		"artifacts.backend",
		"artifacts.local.base_path",
		"artifacts.s3.endpoint",
		"artifacts.s3.region",
		"artifacts.s3.bucket",
		"artifacts.s3.auth_method",
		"artifacts.s3.access_key_id",
		"artifacts.s3.secret_access_key",
		"artifacts.s3.role_arn",
		"artifacts.s3.role_session_name",
		"artifacts.s3.external_id",
		"artifacts.azure.account_name",
		"artifacts.azure.account_key",
		"artifacts.azure.container_name",
		"artifacts.gcs.bucket",
		"artifacts.gcs.project_id",
		"artifacts.gcs.credentials_file",
		"artifacts.gcs.credentials_json",

		// Security
		"security.cors.allowed_origins",
		"security.cors.allowed_methods",
		"security.rate_limiting.enabled",
		"security.rate_limiting.requests_per_minute",
		"security.rate_limiting.burst",

		// Logging
		"logging.level",
		"logging.format",
		"logging.output",

		// Telemetry
		"telemetry.enabled",
		"telemetry.service_name",
		"telemetry.metrics.enabled",
		"telemetry.metrics.prometheus_port",
		"telemetry.profiling.enabled",
		"telemetry.profiling.port",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	return nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set default values
	setDefaults(v)

	// Set config file path if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config.yaml in common locations
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/devflowfix")
	}

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment variables
	}

	// Enable environment variable support
	v.SetEnvPrefix("DFX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicitly bind environment variables for nested structures
	// This is necessary because AutomaticEnv() doesn't work well with Unmarshal()
	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	// Unmarshal configuration
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand environment variables in sensitive fields
	cfg.Database.Password = expandEnv(cfg.Database.Password)
	cfg.Redis.Password = expandEnv(cfg.Redis.Password)
	cfg.Auth.JWTSecret = expandEnv(cfg.Auth.JWTSecret)
	cfg.OAuth.GitHub.ClientSecret = expandEnv(cfg.OAuth.GitHub.ClientSecret)
	cfg.OAuth.GitLab.ClientSecret = expandEnv(cfg.OAuth.GitLab.ClientSecret)
	cfg.LLM.APIKey = expandEnv(cfg.LLM.APIKey)
	cfg.Artifacts.S3.AccessKeyID = expandEnv(cfg.Artifacts.S3.AccessKeyID)
	cfg.Artifacts.S3.SecretAccessKey = expandEnv(cfg.Artifacts.S3.SecretAccessKey)
	cfg.Artifacts.Azure.AccountKey = expandEnv(cfg.Artifacts.Azure.AccountKey)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.public_url", "")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "devflowfix")
	v.SetDefault("database.user", "devflowfix")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	// Redis defaults (disabled unless addr is set)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)

	// Auth defaults
	v.SetDefault("auth.oidc.enabled", false)

	// OAuth defaults
	v.SetDefault("oauth.github.scopes", []string{"repo", "workflow", "read:user"})
	v.SetDefault("oauth.gitlab.scopes", []string{"read_api", "read_repository", "write_repository"})

	// Ingest defaults
	v.SetDefault("ingest.base_url", "")
	v.SetDefault("ingest.legacy_user_paths", true)

	// Remediation defaults
	v.SetDefault("remediation.max_files_per_pr", 3)
	v.SetDefault("remediation.max_errors_per_file", 5)
	v.SetDefault("remediation.deadline_s", 300)
	v.SetDefault("remediation.log_context_max_chars", 1500)
	v.SetDefault("remediation.workers", 4)
	v.SetDefault("remediation.queue_size", 64)
	v.SetDefault("remediation.sweep_interval_s", 120)
	v.SetDefault("remediation.branch_prefix", "remediation")

	// Provider client defaults
	v.SetDefault("provider.retry_max_attempts", 3)
	v.SetDefault("provider.retry_base_delay_ms", 250)
	v.SetDefault("provider.retry_max_delay_ms", 2000)
	v.SetDefault("provider.http_timeout_s", 30)
	v.SetDefault("provider.logs_timeout_s", 300)

	// LLM defaults
	v.SetDefault("llm.endpoint", "https://integrate.api.nvidia.com/v1")
	v.SetDefault("llm.model", "meta/llama-3.1-70b-instruct")
	v.SetDefault("llm.timeout_s", 120)
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.temperature", 0.2)

	// Artifacts defaults
	v.SetDefault("artifacts.backend", "local")
	v.SetDefault("artifacts.local.base_path", "./artifacts")

	// Security defaults
	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"})
	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.requests_per_minute", 120)
	v.SetDefault("security.rate_limiting.burst", 30)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.service_name", "devflowfix")
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)
	v.SetDefault("telemetry.profiling.enabled", false)
	v.SetDefault("telemetry.profiling.port", 6060)
}

// expandEnv expands environment variables in the format ${VAR_NAME}
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}

	// Validate database
	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}

	// Validate OIDC if enabled
	if c.Auth.OIDC.Enabled {
		if c.Auth.OIDC.IssuerURL == "" {
			return fmt.Errorf("auth.oidc.issuer_url is required when OIDC is enabled")
		}
		if c.Auth.OIDC.Audience == "" {
			return fmt.Errorf("auth.oidc.audience is required when OIDC is enabled")
		}
	}

	// Validate OAuth applications: a partially configured provider is a
	// deployment mistake, not a disabled provider.
	for _, p := range []struct {
		name string
		cfg  OAuthProviderConfig
	}{
		{"github", c.OAuth.GitHub},
		{"gitlab", c.OAuth.GitLab},
	} {
		if p.cfg.ClientID == "" {
			continue
		}
		if p.cfg.ClientSecret == "" {
			return fmt.Errorf("oauth.%s.client_secret is required when oauth.%s.client_id is set", p.name, p.name)
		}
		if p.cfg.RedirectURI == "" {
			return fmt.Errorf("oauth.%s.redirect_uri is required when oauth.%s.client_id is set", p.name, p.name)
		}
	}

	// Validate remediation budgets
	if c.Remediation.MaxFilesPerPR < 1 {
		return fmt.Errorf("remediation.max_files_per_pr must be at least 1")
	}
	if c.Remediation.MaxErrorsPerFile < 1 {
		return fmt.Errorf("remediation.max_errors_per_file must be at least 1")
	}
	if c.Remediation.DeadlineS < 1 {
		return fmt.Errorf("remediation.deadline_s must be at least 1")
	}
	if c.Remediation.Workers < 1 {
		return fmt.Errorf("remediation.workers must be at least 1")
	}

	// Validate provider retry budget
	if c.Provider.RetryMaxAttempts < 1 {
		return fmt.Errorf("provider.retry_max_attempts must be at least 1")
	}

	// Validate LLM
	if c.LLM.Endpoint == "" {
		return fmt.Errorf("llm.endpoint is required")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}

	// Validate artifacts backend
	validBackends := map[string]bool{"local": true, "s3": true, "azure": true, "gcs": true}
	if !validBackends[c.Artifacts.Backend] {
		return fmt.Errorf("invalid artifacts backend: %s (must be local, s3, azure, or gcs)", c.Artifacts.Backend)
	}
	switch c.Artifacts.Backend {
	case "local":
		if c.Artifacts.Local.BasePath == "" {
			return fmt.Errorf("artifacts.local.base_path is required when using local backend")
		}
	case "s3":
		if c.Artifacts.S3.Bucket == "" {
			return fmt.Errorf("artifacts.s3.bucket is required when using s3 backend")
		}
		if c.Artifacts.S3.Region == "" {
			return fmt.Errorf("artifacts.s3.region is required when using s3 backend")
		}
	case "azure":
		if c.Artifacts.Azure.AccountName == "" {
			return fmt.Errorf("artifacts.azure.account_name is required when using azure backend")
		}
		if c.Artifacts.Azure.AccountKey == "" {
			return fmt.Errorf("artifacts.azure.account_key is required when using azure backend")
		}
		if c.Artifacts.Azure.ContainerName == "" {
			return fmt.Errorf("artifacts.azure.container_name is required when using azure backend")
		}
	case "gcs":
		if c.Artifacts.GCS.Bucket == "" {
			return fmt.Errorf("artifacts.gcs.bucket is required when using gcs backend")
		}
	}

	// Validate logging level
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}

// IngestURL returns the webhook delivery URL for the named provider, derived
// from ingest.base_url with the server public URL as fallback.
func (c *Config) IngestURL(provider string) string {
	base := c.Ingest.BaseURL
	if base == "" {
		base = c.Server.GetPublicURL()
	}
	return strings.TrimRight(base, "/") + "/webhooks/" + provider
}
