package config

import (
	"fmt"
	"slices"
)

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// 1. API key validation (required for all provider operations).
	// The service refuses to start without it rather than failing on the
	// first query.
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("%w: OPENAI_API_KEY environment variable is required", ErrMissingAPIKey)
	}

	// 2. Model configuration validation
	if c.EmbeddingModel == "" {
		return fmt.Errorf("%w: embedding_model cannot be empty", ErrInvalidModelName)
	}
	if c.CompletionModel == "" {
		return fmt.Errorf("%w: completion_model cannot be empty", ErrInvalidModelName)
	}

	// 3. Retry policy validation
	if c.MaxRetries < 1 || c.MaxRetries > MaxAllowedRetries {
		return fmt.Errorf("%w: must be between 1 and %d, got %d",
			ErrInvalidMaxRetries, MaxAllowedRetries, c.MaxRetries)
	}

	// 4. Corpus and feedback storage validation
	if c.DocsDir == "" {
		return fmt.Errorf("%w: docs_dir cannot be empty", ErrInvalidDocsDir)
	}
	if c.FeedbackDB == "" {
		return fmt.Errorf("%w: feedback_db cannot be empty", ErrInvalidFeedbackDB)
	}

	// 5. PostgreSQL configuration validation
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}

	// Modern SSL modes only - exclude deprecated allow/prefer (MITM vulnerable)
	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("postgres_ssl_mode %q is not valid, must be one of: %v",
			c.PostgresSSLMode, validSSLModes)
	}

	return nil
}
