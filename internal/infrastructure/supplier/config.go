// Package supplier implements the wholesale supplier gateway over its HTTP
// API, with OAuth2 client-credentials authentication and webhook signature
// verification.
package supplier

import "errors"

const (
	// ProductionAPIURL is the live supplier API endpoint
	ProductionAPIURL = "https://api.wholesale-codes.example.com/v2"
	// SandboxAPIURL is the sandbox API endpoint
	SandboxAPIURL = "https://sandbox.wholesale-codes.example.com/v2"
)

// Errors for client configuration
var (
	ErrConfigMissingClientID     = errors.New("supplier: client ID is required")
	ErrConfigMissingClientSecret = errors.New("supplier: client secret is required")
	ErrConfigMissingBaseURL      = errors.New("supplier: API base URL is required")
)

// ClientConfig holds configuration for the supplier API client
type ClientConfig struct {
	// ClientID is the OAuth2 client identifier issued by the supplier
	ClientID string
	// ClientSecret is the OAuth2 client secret
	ClientSecret string
	// APIBaseURL is the base URL for the supplier API (production or sandbox)
	APIBaseURL string
	// IsSandbox indicates if this is a sandbox environment
	IsSandbox bool
	// TimeoutSeconds is the HTTP request timeout; every purchase attempt
	// fails fast rather than hangs
	TimeoutSeconds int
}

// NewClientConfig creates a production configuration with defaults
func NewClientConfig(clientID, clientSecret string) *ClientConfig {
	return &ClientConfig{
		ClientID:       clientID,
		ClientSecret:   clientSecret,
		APIBaseURL:     ProductionAPIURL,
		IsSandbox:      false,
		TimeoutSeconds: 30,
	}
}

// NewSandboxClientConfig creates a sandbox configuration with defaults
func NewSandboxClientConfig(clientID, clientSecret string) *ClientConfig {
	return &ClientConfig{
		ClientID:       clientID,
		ClientSecret:   clientSecret,
		APIBaseURL:     SandboxAPIURL,
		IsSandbox:      true,
		TimeoutSeconds: 30,
	}
}

// Validate checks that required fields are set
func (c *ClientConfig) Validate() error {
	if c.ClientID == "" {
		return ErrConfigMissingClientID
	}
	if c.ClientSecret == "" {
		return ErrConfigMissingClientSecret
	}
	if c.APIBaseURL == "" {
		return ErrConfigMissingBaseURL
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 30
	}
	return nil
}
