// Package management provides clients for the AI Defense Management API:
// applications, connections, policies, security events, model scans, and AI
// validation jobs. All resource clients share one RequestHandler and
// therefore one connection pool.
package management

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/cisco-ai-defense/ai-defense-go-sdk/aidefense"
)

const apiBasePath = "/api/ai-defense/v1"

var validate = validator.New()

// core is the shared request layer under every resource client.
type core struct {
	apiKey  string
	cfg     *aidefense.Config
	handler *aidefense.RequestHandler
}

// do performs one management API request. path is relative to the versioned
// API root; query is appended when non-empty.
func (c *core) do(ctx context.Context, method, path string, query url.Values, body any) (map[string]any, error) {
	return c.doBase(ctx, c.cfg.ManagementBaseURL, method, path, query, body)
}

// doBase is do against an explicit base URL. The model scan API lives on the
// runtime endpoint rather than the management one.
func (c *core) doBase(ctx context.Context, base, method, path string, query url.Values, body any) (map[string]any, error) {
	u := strings.TrimRight(base, "/") + apiBasePath + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return c.handler.Do(ctx, method, u, aidefense.RequestOptions{
		Headers: map[string]string{aidefense.APIKeyHeader: c.apiKey},
		Body:    body,
	})
}

// fragment returns the named fragment of a decoded payload, or an empty
// object when absent.
func fragment(data map[string]any, key string) any {
	if v, ok := data[key]; ok && v != nil {
		return v
	}
	return map[string]any{}
}

// decodeInto re-encodes a decoded payload fragment into dst and validates
// it. Undecodable or invalid payloads surface as a ResponseParseError
// carrying the raw fragment.
func decodeInto(dst any, data any, what string) error {
	if data == nil {
		return &aidefense.ResponseParseError{
			Message: fmt.Sprintf("missing required data for %s", what),
			Raw:     data,
		}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return &aidefense.ResponseParseError{
			Message: fmt.Sprintf("failed to parse %s: %v", what, err),
			Raw:     data,
		}
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return &aidefense.ResponseParseError{
			Message: fmt.Sprintf("failed to parse %s: %v", what, err),
			Raw:     data,
		}
	}
	if err := validate.Struct(dst); err != nil {
		return &aidefense.ResponseParseError{
			Message: fmt.Sprintf("failed to parse %s: %v", what, err),
			Raw:     data,
		}
	}
	return nil
}

// ManagementClient is the entry point to the AI Defense Management API. The
// resource clients share the parent's connection pool.
type ManagementClient struct {
	core

	Applications *ApplicationClient
	Connections  *ConnectionClient
	Policies     *PolicyClient
	Events       *EventClient
	Scans        *ScanClient
	Validation   *ValidationClient
}

// NewManagementClient builds a management client. A nil cfg uses the default
// configuration (region "us").
func NewManagementClient(apiKey string, cfg *aidefense.Config) (*ManagementClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, aidefense.NewValidationError("api key must not be empty")
	}
	if cfg == nil {
		var err error
		cfg, err = aidefense.NewConfig()
		if err != nil {
			return nil, err
		}
	}
	c := &ManagementClient{core: core{
		apiKey:  apiKey,
		cfg:     cfg,
		handler: aidefense.NewRequestHandler(cfg),
	}}
	c.Applications = &ApplicationClient{core: c.core}
	c.Connections = &ConnectionClient{core: c.core}
	c.Policies = &PolicyClient{core: c.core}
	c.Events = &EventClient{core: c.core}
	c.Scans = newScanClient(c.core)
	c.Validation = &ValidationClient{core: c.core}
	return c, nil
}

// Close releases the client's idle connections.
func (c *ManagementClient) Close() { c.handler.Close() }
