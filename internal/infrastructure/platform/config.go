// Package platform implements the commerce-platform collaborators over the
// platform's merchant REST API.
package platform

import "errors"

// Errors for client configuration
var (
	ErrConfigMissingBaseURL = errors.New("platform: API base URL is required")
	ErrConfigMissingAPIKey  = errors.New("platform: API key is required")
)

// ClientConfig holds configuration for the commerce platform client
type ClientConfig struct {
	// APIBaseURL is the base URL of the platform's merchant API
	APIBaseURL string
	// APIKey authenticates the merchant API calls
	APIKey string
	// TimeoutSeconds is the HTTP request timeout
	TimeoutSeconds int
}

// NewClientConfig creates a configuration with defaults
func NewClientConfig(baseURL, apiKey string) *ClientConfig {
	return &ClientConfig{
		APIBaseURL:     baseURL,
		APIKey:         apiKey,
		TimeoutSeconds: 15,
	}
}

// Validate checks that required fields are set
func (c *ClientConfig) Validate() error {
	if c.APIBaseURL == "" {
		return ErrConfigMissingBaseURL
	}
	if c.APIKey == "" {
		return ErrConfigMissingAPIKey
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 15
	}
	return nil
}
