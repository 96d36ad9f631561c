package api

import (
	"fmt"
	"net/http"

	"github.com/gustaflugnegard/FOND-GPT/pkg/tokens"
)

// DefaultMaxBodyBytes bounds request bodies read by the handlers.
const DefaultMaxBodyBytes = 1 << 20

// Config holds configuration for the token API handler
type Config struct {
	// Store is the balance store (required)
	Store *tokens.Store

	// Answerer streams answers for POST /ask
	// If nil, /ask responds 503
	Answerer tokens.Answerer

	// GetUserID extracts user ID from HTTP request (required)
	// Usually middleware/http.FromContext behind Authenticate
	GetUserID func(*http.Request) string

	// Estimator prices questions forwarded to the answer backend
	// If nil, the shared BPE estimator is used
	Estimator *tokens.Estimator

	// Logger receives handler diagnostics (default: NoopLogger)
	Logger tokens.Logger

	// Metrics records stream results (default: NoopMetrics)
	Metrics tokens.Metrics

	// MaxBodyBytes bounds JSON request bodies (default: 1 MiB)
	MaxBodyBytes int64
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Store == nil {
		return fmt.Errorf("store is required")
	}
	if c.GetUserID == nil {
		return fmt.Errorf("getUserID is required")
	}
	return nil
}

// NewHandler creates a new token API handler with the given configuration
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.Logger == nil {
		config.Logger = &tokens.NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &tokens.NoopMetrics{}
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = DefaultMaxBodyBytes
	}
	estimate := tokens.EstimateTokens
	if config.Estimator != nil {
		estimate = config.Estimator.Estimate
	}
	return &Handler{
		config:   config,
		estimate: estimate,
	}, nil
}
