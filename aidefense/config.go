// Package aidefense provides the shared configuration, HTTP plumbing, and
// error taxonomy for the Cisco AI Defense Go SDK.
package aidefense

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
)

// Region endpoint maps. A custom base URL always takes precedence.
var (
	runtimeRegionEndpoints = map[string]string{
		"us":  "https://us.api.inspect.aidefense.security.cisco.com",
		"eu":  "https://eu.api.inspect.aidefense.security.cisco.com",
		"apj": "https://apj.api.inspect.aidefense.security.cisco.com",
	}

	managementRegionEndpoints = map[string]string{
		"us":  "https://api.us.security.cisco.com",
		"eu":  "https://api.eu.security.cisco.com",
		"apj": "https://api.apj.security.cisco.com",
	}
)

// RetryConfig controls retry behavior of the RequestHandler.
// Retries apply only to network failures and to HTTP statuses in
// StatusForcelist; validation and authentication errors never retry.
type RetryConfig struct {
	// Total is the maximum number of retries after the initial attempt.
	Total int `validate:"gte=0"`
	// BackoffFactor scales the exponential backoff between attempts.
	BackoffFactor time.Duration
	// StatusForcelist lists the HTTP statuses that trigger a retry.
	StatusForcelist []int
	// RespectRetryAfter honors a Retry-After response header when present.
	RespectRetryAfter bool
}

// PoolConfig sizes the shared HTTP connection pool.
type PoolConfig struct {
	MaxIdleConns        int `validate:"gte=0"`
	MaxIdleConnsPerHost int `validate:"gte=0"`
}

// Config centralizes runtime options for all SDK clients: endpoint selection,
// timeouts, logging, retries, and connection pooling. The zero value is not
// usable; construct with NewConfig.
type Config struct {
	// Region selects the API endpoint set. One of "us", "eu", "apj".
	Region string `validate:"required,oneof=us eu apj"`
	// RuntimeBaseURL overrides the region-derived inspection endpoint.
	RuntimeBaseURL string `validate:"omitempty,url"`
	// ManagementBaseURL overrides the region-derived management endpoint.
	ManagementBaseURL string `validate:"omitempty,url"`
	// Timeout bounds every HTTP request.
	Timeout time.Duration `validate:"gt=0"`
	// Logger receives structured SDK logs. Nil means slog.Default().
	Logger *slog.Logger
	// Retry configures the retry policy.
	Retry RetryConfig
	// Pool sizes the shared connection pool.
	Pool PoolConfig
	// HTTPClient, when set, replaces the SDK-managed pooled client.
	// The SDK never closes a caller-owned client.
	HTTPClient *http.Client
}

// ConfigOption mutates a Config during construction.
type ConfigOption func(*Config)

// WithRegion selects the API region. One of "us", "eu", "apj".
func WithRegion(region string) ConfigOption {
	return func(c *Config) { c.Region = region }
}

// WithRuntimeBaseURL overrides the inspection API base URL.
func WithRuntimeBaseURL(url string) ConfigOption {
	return func(c *Config) { c.RuntimeBaseURL = url }
}

// WithManagementBaseURL overrides the management API base URL.
func WithManagementBaseURL(url string) ConfigOption {
	return func(c *Config) { c.ManagementBaseURL = url }
}

// WithTimeout sets the HTTP request timeout.
// If not set, defaults to 30 seconds.
func WithTimeout(d time.Duration) ConfigOption {
	return func(c *Config) { c.Timeout = d }
}

// WithLogger sets a custom slog logger for SDK output.
func WithLogger(l *slog.Logger) ConfigOption {
	return func(c *Config) { c.Logger = l }
}

// WithRetry replaces the retry policy.
func WithRetry(r RetryConfig) ConfigOption {
	return func(c *Config) { c.Retry = r }
}

// WithPool sizes the shared connection pool.
func WithPool(p PoolConfig) ConfigOption {
	return func(c *Config) { c.Pool = p }
}

// WithHTTPClient sets a custom http.Client for making requests.
// This is useful for testing, proxying, or custom transport configurations.
func WithHTTPClient(hc *http.Client) ConfigOption {
	return func(c *Config) { c.HTTPClient = hc }
}

var validate = validator.New()

// NewConfig builds a Config with defaults applied and options overlaid,
// then validates it. Default region is "us", timeout 30s, retry policy
// {total 3, backoff 500ms, forcelist [429 500 502 503 504]}.
func NewConfig(opts ...ConfigOption) (*Config, error) {
	c := &Config{
		Region:  "us",
		Timeout: 30 * time.Second,
		Retry: RetryConfig{
			Total:             3,
			BackoffFactor:     500 * time.Millisecond,
			StatusForcelist:   []int{429, 500, 502, 503, 504},
			RespectRetryAfter: true,
		},
		Pool: PoolConfig{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 5,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := validate.Struct(c); err != nil {
		return nil, NewValidationError("invalid config: %v", err)
	}
	if c.RuntimeBaseURL == "" {
		c.RuntimeBaseURL = runtimeRegionEndpoints[c.Region]
	}
	if c.ManagementBaseURL == "" {
		c.ManagementBaseURL = managementRegionEndpoints[c.Region]
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c, nil
}

// RuntimeEndpointURL returns the inspection base URL for a region.
func RuntimeEndpointURL(region string) (string, error) {
	url, ok := runtimeRegionEndpoints[region]
	if !ok {
		return "", NewValidationError("invalid region: %s", region)
	}
	return url, nil
}

// String implements fmt.Stringer without leaking client internals.
func (c *Config) String() string {
	return fmt.Sprintf("aidefense.Config{region=%s timeout=%s}", c.Region, c.Timeout)
}
