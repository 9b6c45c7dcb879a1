package patchers

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/cisco-ai-defense/ai-defense-go-sdk/runtime/agentsec"
	"github.com/cisco-ai-defense/ai-defense-go-sdk/runtime/agentsec/inspectors"
)

// ToolCaller is the MCP session surface the wrapper decorates. It is
// satisfied by the mark3labs *client.Client.
type ToolCaller interface {
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// MCPSession is an inspection-aware decorator around an MCP tool session.
// Tool calls are inspected before delegation and their text content after.
type MCPSession struct {
	inner   ToolCaller
	logger  *slog.Logger
	metrics *agentsec.Metrics

	inspOnce sync.Once
	insp     *inspectors.MCPInspector
}

// MCPSessionOption configures an MCPSession.
type MCPSessionOption func(*MCPSession)

// WithMCPInspector overrides the lazily built MCP inspector.
func WithMCPInspector(i *inspectors.MCPInspector) MCPSessionOption {
	return func(s *MCPSession) { s.insp = i }
}

// WithMCPSessionLogger sets the wrapper's logger.
func WithMCPSessionLogger(l *slog.Logger) MCPSessionOption {
	return func(s *MCPSession) { s.logger = l }
}

// WrapMCP decorates an MCP tool session with the inspection flow.
func WrapMCP(session ToolCaller, opts ...MCPSessionOption) *MCPSession {
	s := &MCPSession{
		inner:   session,
		logger:  slog.Default(),
		metrics: agentsec.DefaultMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MCPSession) inspector() *inspectors.MCPInspector {
	s.inspOnce.Do(func() {
		if s.insp == nil {
			s.insp = inspectors.NewMCPInspector(inspectors.MCPOptions{Logger: s.logger})
		}
	})
	return s.insp
}

// CallTool runs the inspection flow around the wrapped session's tool call.
func (s *MCPSession) CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st := agentsec.Current()
	if st.MCPMode == agentsec.ModeOff || agentsec.SkipMCP(ctx) {
		return s.inner.CallTool(ctx, request)
	}
	ctx, cc := agentsec.EnsureContext(ctx)
	if cc.Done() {
		return s.inner.CallTool(ctx, request)
	}
	s.metrics.ObservePatchedCall("mcp", "tools/call")

	name := request.Params.Name
	args := argumentsMap(request.Params.Arguments)

	d, err := s.inspector().InspectRequest(ctx, name, args, cc.Metadata())
	if err != nil {
		cc.Set(nil, true)
		return nil, err
	}
	if err := applyMCPDecision(cc, d, true); err != nil {
		return nil, err
	}

	result, err := s.inner.CallTool(ctx, request)
	if err != nil {
		return result, err
	}

	if text := resultTextContent(result); text != "" {
		d, err := s.inspector().InspectResponse(ctx, name, args, text, cc.Metadata())
		if err != nil {
			cc.Set(nil, true)
			return nil, err
		}
		if err := applyMCPDecision(cc, d, true); err != nil {
			return nil, err
		}
	}
	cc.Set(nil, true)
	return result, nil
}

// argumentsMap coerces the untyped arguments field into a map for the
// inspection envelope.
func argumentsMap(args any) map[string]any {
	if m, ok := args.(map[string]any); ok {
		return m
	}
	return nil
}

// resultTextContent concatenates the text content blocks of a tool result.
func resultTextContent(result *mcp.CallToolResult) string {
	if result == nil {
		return ""
	}
	var parts []string
	for _, content := range result.Content {
		switch c := content.(type) {
		case mcp.TextContent:
			parts = append(parts, c.Text)
		case *mcp.TextContent:
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}

var redirectLogOnce sync.Once

// NewGatewayTransportURL rewrites an MCP server URL to the AI Defense MCP
// gateway when the frozen settings route MCP through it, returning the URL
// to dial and the auth headers to attach. With the gateway off the input
// URL comes back unchanged. The redirect is logged once per process.
func NewGatewayTransportURL(serverURL string) (string, map[string]string) {
	gw := inspectors.NewMCPGatewayInspector()
	if !gw.IsConfigured() {
		return serverURL, nil
	}
	redirectLogOnce.Do(func() {
		slog.Default().Info("redirecting MCP transport through AI Defense gateway",
			"gateway_url", gw.RedirectURL())
	})
	return gw.RedirectURL(), gw.Headers()
}

// GatewayHTTPClient builds a streamable HTTP MCP client for serverURL,
// routed through the AI Defense gateway when configured.
func GatewayHTTPClient(serverURL string) (*mcpclient.Client, error) {
	url, headers := NewGatewayTransportURL(serverURL)
	if len(headers) > 0 {
		return mcpclient.NewStreamableHttpClient(url, transport.WithHTTPHeaders(headers))
	}
	return mcpclient.NewStreamableHttpClient(url)
}
