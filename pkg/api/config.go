package api

import (
	"fmt"
	"net/http"

	"github.com/mihaimyh/stripefire/pkg/stripefire"
)

// Config holds configuration for the session API handler
type Config struct {
	// Service is the billing sync service (required)
	Service *stripefire.Service

	// GetUserID extracts the authenticated user ID from an HTTP request
	// (required). Similar to middleware/http pattern.
	GetUserID func(*http.Request) string

	// GetUserEmail optionally extracts the user's email, used when a Stripe
	// customer has to be created lazily. If nil, customers are created
	// without an email.
	GetUserEmail func(*http.Request) string

	// OnError handles errors (auth, internal, etc.)
	// If nil, uses default error handling
	OnError func(http.ResponseWriter, *http.Request, error)
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Service == nil {
		return fmt.Errorf("service is required")
	}
	if c.GetUserID == nil {
		return fmt.Errorf("getUserID is required")
	}
	return nil
}

// NewHandler creates a new session API handler with the given configuration
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Handler{
		config: config,
	}, nil
}

// Helper functions for common UserID extraction patterns

// FromHeader returns a GetUserID function that extracts user ID from a header
func FromHeader(headerName string) func(*http.Request) string {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// FromContext returns a GetUserID function that extracts user ID from request context
// Uses the same context key pattern as middleware/http
func FromContext(key interface{}) func(*http.Request) string {
	return func(r *http.Request) string {
		if userID, ok := r.Context().Value(key).(string); ok {
			return userID
		}
		return ""
	}
}
