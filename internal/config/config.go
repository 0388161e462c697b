// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (./config.yaml)
//  3. Default values (sensible defaults for quick start)
//
// Main configuration categories:
//   - Provider: OpenAI-compatible API key, base URL, model selection, retry policy
//   - Storage: PostgreSQL connection for the vector index (see storage.go)
//   - Feedback: SQLite database location for reader feedback
//   - Corpus: directory the ingest command and docs endpoints read from
//
// Security: the API key and PostgreSQL password are never logged; both are
// masked in MarshalJSON.
//
// Error Handling:
//   - Uses sentinel errors for Go-idiomatic error checking with errors.Is()
//   - Wrap with context using fmt.Errorf("%w: details", ErrXxx)
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates the provider API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates a model name is empty or malformed.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidMaxRetries indicates the retry attempt count is out of range.
	ErrInvalidMaxRetries = errors.New("invalid max retries")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidDocsDir indicates the documentation directory is not set.
	ErrInvalidDocsDir = errors.New("invalid docs directory")

	// ErrInvalidFeedbackDB indicates the feedback database path is not set.
	ErrInvalidFeedbackDB = errors.New("invalid feedback database path")
)

const (
	// DefaultEmbeddingModel is the embedding model used when none is configured.
	DefaultEmbeddingModel = "text-embedding-3-small"

	// DefaultCompletionModel is the chat model used when none is configured.
	DefaultCompletionModel = "gpt-4o-mini"

	// DefaultMaxRetries is the total attempt budget for transient provider
	// failures (first try included).
	DefaultMaxRetries = 3

	// DefaultRetryBaseDelay seeds the exponential backoff between provider
	// retry attempts.
	DefaultRetryBaseDelay = time.Second

	// MaxAllowedRetries caps the attempt budget so a misconfigured deployment
	// cannot stall requests for minutes.
	MaxAllowedRetries = 10
)

// Config stores application configuration.
// SECURITY: Sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields (passwords, API keys, tokens), update MarshalJSON.
type Config struct {
	// Provider configuration (any OpenAI-compatible endpoint)
	OpenAIAPIKey    string `mapstructure:"openai_api_key" json:"openai_api_key"` // SENSITIVE: masked in MarshalJSON
	OpenAIBaseURL   string `mapstructure:"openai_base_url" json:"openai_base_url"`
	EmbeddingModel  string `mapstructure:"embedding_model" json:"embedding_model"`
	CompletionModel string `mapstructure:"completion_model" json:"completion_model"`

	// Retry policy for transient provider failures
	MaxRetries        int     `mapstructure:"max_retries" json:"max_retries"`
	RetryBaseDelaySec float64 `mapstructure:"retry_base_delay" json:"retry_base_delay"` // seconds

	// Corpus and feedback storage
	DocsDir    string `mapstructure:"docs_dir" json:"docs_dir"`
	FeedbackDB string `mapstructure:"feedback_db" json:"feedback_db"`

	// Storage configuration (see storage.go for documentation)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// HTTP surface
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy" json:"trust_proxy"` // Trust X-Real-IP/X-Forwarded-For headers (set true behind reverse proxy)
}

// Load loads configuration.
// Priority: Environment variables > Configuration file > Default values
func Load(logger *slog.Logger) (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// Parse DATABASE_URL if set (highest priority for PostgreSQL config)
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	cfg.normalizeRetryDelay(logger)

	// CRITICAL: Validate immediately (fail-fast)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// normalizeRetryDelay coerces a non-positive retry base delay to the default.
// A zero or negative base would collapse the backoff schedule into a tight
// hammer loop against the provider, so the value is repaired rather than
// rejected.
func (c *Config) normalizeRetryDelay(logger *slog.Logger) {
	if c.RetryBaseDelaySec > 0 {
		return
	}
	if logger != nil {
		logger.Warn("invalid retry base delay, using default",
			"configured", c.RetryBaseDelaySec,
			"default_seconds", DefaultRetryBaseDelay.Seconds())
	}
	c.RetryBaseDelaySec = DefaultRetryBaseDelay.Seconds()
}

// RetryBaseDelay returns the backoff base as a duration.
func (c *Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelaySec * float64(time.Second))
}

// setDefaults sets all default configuration values.
func setDefaults() {
	// Provider defaults
	viper.SetDefault("openai_base_url", "https://api.openai.com/v1")
	viper.SetDefault("embedding_model", DefaultEmbeddingModel)
	viper.SetDefault("completion_model", DefaultCompletionModel)
	viper.SetDefault("max_retries", DefaultMaxRetries)
	viper.SetDefault("retry_base_delay", DefaultRetryBaseDelay.Seconds())

	// Corpus and feedback defaults
	viper.SetDefault("docs_dir", "docs")
	viper.SetDefault("feedback_db", "feedback.db")

	// PostgreSQL defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "docsrag")
	viper.SetDefault("postgres_password", "docsrag_dev_password")
	viper.SetDefault("postgres_db_name", "docsrag")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// CORS defaults (Vite dev server)
	viper.SetDefault("cors_origins", []string{"http://localhost:5173"})

	// Proxy trust (default: false — safe for direct exposure; set true behind reverse proxy)
	viper.SetDefault("trust_proxy", false)
}

// bindEnvVariables binds environment variables explicitly.
// Explicit binds keep the env surface auditable; AutomaticEnv would silently
// accept any variable that happens to share a key name.
func bindEnvVariables() {
	// Helper to panic on unexpected bind errors (hardcoded strings can't fail)
	// If this panics, it's a BUG in our code, not a runtime error
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("openai_api_key", "OPENAI_API_KEY")
	mustBind("openai_base_url", "OPENAI_BASE_URL")
	mustBind("embedding_model", "EMBEDDING_MODEL")
	mustBind("completion_model", "COMPLETION_MODEL")
	mustBind("max_retries", "OPENAI_MAX_RETRIES")
	mustBind("retry_base_delay", "OPENAI_RETRY_BASE_DELAY")
	mustBind("docs_dir", "DOCS_DIR")
	mustBind("feedback_db", "FEEDBACK_DB")
	mustBind("cors_origins", "CORS_ORIGINS")
	mustBind("trust_proxy", "TRUST_PROXY")
}

// maskedValue is the placeholder for masked sensitive data.
// Full-width blocks (U+2588) avoid substring matching against real secrets.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Secrets of 8 chars or fewer are fully masked; longer ones keep the first
// and last two characters for debug utility.
//
// THREAT MODEL: This defends against accidental logging of real secrets.
// It is NOT cryptographically secure - if logs are compromised, rotate secrets.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
//
// Sensitive fields masked:
//   - OpenAIAPIKey
//   - PostgresPassword
//
// When adding new sensitive fields, update this method.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.OpenAIAPIKey = maskSecret(a.OpenAIAPIKey)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
