package inspectors

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cisco-ai-defense/ai-defense-go-sdk/runtime/agentsec"
)

// LLMGatewayInspector routes a provider-native LLM request through the AI
// Defense gateway, which enforces policy and proxies to the upstream
// provider. The response body is the provider-native structure.
type LLMGatewayInspector struct {
	provider string
	url      string
	apiKey   string
	failOpen bool
	logger   *slog.Logger
	client   *http.Client
	metrics  *agentsec.Metrics
}

// GatewayOption configures a gateway inspector.
type GatewayOption func(*LLMGatewayInspector)

// WithGatewayHTTPClient overrides the gateway-owned HTTP client, for tests.
func WithGatewayHTTPClient(hc *http.Client) GatewayOption {
	return func(g *LLMGatewayInspector) { g.client = hc }
}

// WithGatewayLogger sets the gateway inspector's logger.
func WithGatewayLogger(l *slog.Logger) GatewayOption {
	return func(g *LLMGatewayInspector) { g.logger = l }
}

// NewLLMGatewayInspector builds the gateway path for one provider, reading
// its routing entry and the fail-open flag from the frozen settings.
func NewLLMGatewayInspector(provider string, opts ...GatewayOption) *LLMGatewayInspector {
	s := agentsec.Current()
	gw, _ := s.Provider(provider)
	g := &LLMGatewayInspector{
		provider: provider,
		url:      gw.URL,
		apiKey:   gw.APIKey,
		failOpen: s.GatewayFailOpenLLM,
		logger:   slog.Default(),
		metrics:  agentsec.DefaultMetrics(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.client == nil {
		g.client = &http.Client{Timeout: time.Duration(s.TimeoutMS) * time.Millisecond}
	}
	return g
}

// IsConfigured reports whether the provider has a gateway URL.
func (g *LLMGatewayInspector) IsConfigured() bool { return g.url != "" }

// Post forwards a provider-native request body to the gateway and returns
// the provider-native response body. Extra headers identify the operation
// (e.g. X-Bedrock-Operation: Converse).
//
// On a gateway failure with fail-open enabled, an allow decision tagged
// "Gateway error" is recorded on the CallContext and the transport error is
// still returned: the caller observes the I/O failure. With fail-open
// disabled the error is a SecurityPolicyError carrying a block decision.
func (g *LLMGatewayInspector) Post(ctx context.Context, body []byte, extraHeaders map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return nil, g.handleError(ctx, err)
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range extraHeaders {
		req.Header.Set(k, v)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, g.handleError(ctx, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, g.handleError(ctx, err)
	}
	g.metrics.ObserveGatewayRequest(g.provider, resp.StatusCode)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, g.handleError(ctx, &StatusError{StatusCode: resp.StatusCode, Body: string(raw)})
	}
	return raw, nil
}

// handleError applies the gateway fail-open policy.
func (g *LLMGatewayInspector) handleError(ctx context.Context, err error) error {
	errType := errorType(err)
	g.logger.Warn("gateway request failed",
		"provider", g.provider, "error_type", errType, "error", err)

	if g.failOpen {
		if cc := agentsec.FromContext(ctx); cc != nil {
			d := agentsec.Allow([]string{"Gateway error, fail_open=True"}, nil)
			cc.Set(&d, false)
		}
		return err
	}
	g.logger.Error("gateway fail_open=false, blocking call", "provider", g.provider)
	decision := agentsec.Block([]string{fmt.Sprintf("Gateway error: %s: %v", errType, err)}, nil)
	return agentsec.NewSecurityPolicyError(decision)
}

// MCPGatewayInspector supplies the redirect target for gateway-mode MCP:
// the MCP transport URL is rewritten to the gateway at connection setup and
// the gateway relays to the real MCP server after inspection.
type MCPGatewayInspector struct {
	url    string
	apiKey string
}

// NewMCPGatewayInspector reads the MCP gateway routing from the frozen
// settings.
func NewMCPGatewayInspector() *MCPGatewayInspector {
	s := agentsec.Current()
	return &MCPGatewayInspector{url: s.MCPGatewayURL, apiKey: s.MCPGatewayAPIKey}
}

// IsConfigured reports whether a gateway URL is set and the gateway mode
// is on.
func (g *MCPGatewayInspector) IsConfigured() bool {
	return g.url != "" && agentsec.Current().MCPGatewayMode == "on"
}

// RedirectURL returns the gateway URL the MCP transport must connect to.
func (g *MCPGatewayInspector) RedirectURL() string { return g.url }

// Headers returns the auth headers the MCP transport must send.
func (g *MCPGatewayInspector) Headers() map[string]string {
	if g.apiKey == "" {
		return map[string]string{}
	}
	return map[string]string{"Authorization": "Bearer " + g.apiKey}
}
