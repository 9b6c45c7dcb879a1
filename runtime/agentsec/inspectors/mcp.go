package inspectors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cisco-ai-defense/ai-defense-go-sdk/aidefense"
	"github.com/cisco-ai-defense/ai-defense-go-sdk/runtime/agentsec"
)

const mcpInspectPath = "/api/v1/inspect/mcp"

// MCPOptions configures an MCPInspector. Zero fields fall back to the
// frozen agentsec settings, whose MCP credentials already fall back to the
// LLM values.
type MCPOptions struct {
	// APIKey authenticates against the AI Defense MCP inspection API.
	APIKey string
	// Endpoint is the inspection base URL. A trailing /api or
	// /api/v1/inspect/mcp suffix is stripped.
	Endpoint string
	// TimeoutMS bounds each inspection request, in milliseconds.
	TimeoutMS int
	// RetryAttempts is the number of attempts (minimum 1 = no retry).
	RetryAttempts int
	// FailOpen allows the tool call when the API is unreachable. Nil
	// defers to the frozen settings.
	FailOpen *bool
	// Logger receives inspector logs. Nil means slog.Default().
	Logger *slog.Logger
	// HTTPClient overrides the inspector-owned client, for tests.
	HTTPClient *http.Client
	// Metrics overrides the process-default metric set.
	Metrics *agentsec.Metrics
}

// MCPInspector scores MCP tool calls against the AI Defense MCP inspection
// API. Requests and responses travel as JSON-RPC 2.0 envelopes; each
// inspector instance numbers them with a strictly monotonic id. Safe for
// concurrent use.
type MCPInspector struct {
	apiKey        string
	endpoint      string
	retryAttempts int
	failOpen      bool
	logger        *slog.Logger
	client        *http.Client
	metrics       *agentsec.Metrics

	idCounter atomic.Int64
}

// NewMCPInspector builds an inspector, filling unset options from the
// frozen agentsec settings.
func NewMCPInspector(opts MCPOptions) *MCPInspector {
	s := agentsec.Current()
	if opts.APIKey == "" {
		opts.APIKey = s.APIMCPAPIKey
	}
	if opts.Endpoint == "" {
		opts.Endpoint = s.APIMCPEndpoint
	}
	if opts.TimeoutMS <= 0 {
		opts.TimeoutMS = s.TimeoutMS
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = s.RetryAttempts
	}
	failOpen := s.APIFailOpenMCP
	if opts.FailOpen != nil {
		failOpen = *opts.FailOpen
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: time.Duration(opts.TimeoutMS) * time.Millisecond}
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = agentsec.DefaultMetrics()
	}
	if opts.RetryAttempts < 1 {
		opts.RetryAttempts = 1
	}
	return &MCPInspector{
		apiKey:        opts.APIKey,
		endpoint:      NormalizeMCPEndpoint(opts.Endpoint),
		retryAttempts: opts.RetryAttempts,
		failOpen:      failOpen,
		logger:        logger,
		client:        client,
		metrics:       metrics,
	}
}

// NormalizeMCPEndpoint derives the base endpoint from a user-supplied URL,
// stripping a trailing /api/v1/inspect/mcp or /api suffix. The inspect path
// is appended back at request time.
func NormalizeMCPEndpoint(endpoint string) string {
	if endpoint == "" {
		return ""
	}
	e := strings.TrimRight(endpoint, "/")
	e = strings.TrimSuffix(e, "/api/v1/inspect/mcp")
	e = strings.TrimSuffix(e, "/api")
	return e
}

// Configured reports whether both endpoint and API key are set.
func (i *MCPInspector) Configured() bool {
	return i.endpoint != "" && i.apiKey != ""
}

// nextID returns the next JSON-RPC message id. Ids are strictly monotonic
// per inspector instance.
func (i *MCPInspector) nextID() int64 {
	return i.idCounter.Add(1)
}

// InspectRequest scores a tool call before execution.
func (i *MCPInspector) InspectRequest(ctx context.Context, toolName string, arguments map[string]any, metadata map[string]any) (agentsec.Decision, error) {
	if !i.Configured() {
		i.logger.Debug("MCP request intercepted, allowing by default (no API configured)", "tool", toolName)
		return agentsec.Allow(nil, nil), nil
	}
	envelope := map[string]any{
		"jsonrpc": "2.0",
		"method":  "tools/call",
		"params": map[string]any{
			"name":      toolName,
			"arguments": arguments,
		},
		"id": i.nextID(),
	}
	i.logger.Debug("MCP inspection request", "tool", toolName, "method", "tools/call")
	return i.inspect(ctx, envelope, toolName, "inspect_request")
}

// InspectResponse scores a tool result after execution. A string result is
// used as-is; maps and slices are JSON-encoded; anything else is
// stringified.
func (i *MCPInspector) InspectResponse(ctx context.Context, toolName string, arguments map[string]any, result any, metadata map[string]any) (agentsec.Decision, error) {
	if !i.Configured() {
		i.logger.Debug("MCP response intercepted, allowing by default (no API configured)", "tool", toolName)
		return agentsec.Allow(nil, nil), nil
	}
	envelope := map[string]any{
		"jsonrpc": "2.0",
		"result": map[string]any{
			"content": []map[string]any{
				{"type": "text", "text": stringifyResult(result)},
			},
		},
		"id": i.nextID(),
	}
	i.logger.Debug("MCP inspection response", "tool", toolName)
	return i.inspect(ctx, envelope, toolName, "inspect_response")
}

func (i *MCPInspector) inspect(ctx context.Context, envelope map[string]any, toolName, operation string) (agentsec.Decision, error) {
	body, err := json.Marshal(envelope)
	if err != nil {
		return i.handleError(err, toolName, operation)
	}

	start := time.Now()
	var lastErr error
	for attempt := 0; attempt < i.retryAttempts; attempt++ {
		data, err := i.post(ctx, body)
		if err != nil {
			lastErr = err
			i.logger.Debug("MCP inspection attempt failed",
				"attempt", attempt+1, "attempts", i.retryAttempts, "error", err)
			continue
		}
		decision := parseMCPResponse(data)
		i.metrics.ObserveInspection("mcp", decision.Action, time.Since(start))
		return decision, nil
	}
	return i.handleError(lastErr, toolName, operation)
}

func (i *MCPInspector) post(ctx context.Context, body []byte) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.endpoint+mcpInspectPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set(aidefense.APIKeyHeader, i.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", aidefense.UserAgent)

	resp, err := i.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return data, nil
}

func (i *MCPInspector) handleError(err error, toolName, operation string) (agentsec.Decision, error) {
	errType := errorType(err)
	i.logger.Warn("MCP inspection error",
		"tool", toolName, "operation", operation, "error_type", errType, "error", err)

	if i.failOpen {
		i.metrics.ObserveInspectionError("mcp", true)
		i.logger.Warn("mcp_fail_open=true, allowing tool call despite error", "tool", toolName)
		return agentsec.Allow([]string{fmt.Sprintf("MCP inspection error (%s), fail_open=True", errType)}, nil), nil
	}
	i.metrics.ObserveInspectionError("mcp", false)
	i.logger.Error("mcp_fail_open=false, blocking tool call due to error", "tool", toolName)
	decision := agentsec.Block([]string{fmt.Sprintf("MCP inspection error: %s: %v", errType, err)}, nil)
	return agentsec.Decision{}, agentsec.NewSecurityPolicyError(decision)
}

// parseMCPResponse turns an MCP inspection API payload into a Decision.
// Either action == "Block" or is_safe == false produces a block. Reasons
// come from triggered rules, falling back to the explanation, then the
// attack technique, then a severity summary.
func parseMCPResponse(data map[string]any) agentsec.Decision {
	result, ok := data["result"].(map[string]any)
	if !ok {
		result = data
	}

	action := "Allow"
	if v, ok := result["action"].(string); ok && v != "" {
		action = v
	}
	isSafe := true
	if v, ok := result["is_safe"].(bool); ok {
		isSafe = v
	}

	reasons := reasonsFromRules(result["rules"], "NONE_VIOLATION")
	if len(reasons) == 0 && !isSafe {
		explanation, _ := result["explanation"].(string)
		attackTechnique, _ := result["attack_technique"].(string)
		switch {
		case explanation != "":
			reasons = append(reasons, explanation)
		case attackTechnique != "" && attackTechnique != "NONE_ATTACK_TECHNIQUE":
			reasons = append(reasons, fmt.Sprintf("Attack technique: %s", attackTechnique))
		default:
			// "UNKNOWN" stands in only when the field is absent; a
			// present value is reported as-is, whatever its type.
			severity, ok := result["severity"]
			if !ok {
				severity = "UNKNOWN"
			}
			reasons = append(reasons, fmt.Sprintf("Unsafe content detected (severity: %v)", severity))
		}
	}

	if action == "Block" || !isSafe {
		return agentsec.Block(reasons, data)
	}
	return agentsec.Allow(reasons, data)
}

// stringifyResult renders a tool result as the text content of the
// inspection envelope.
func stringifyResult(result any) string {
	switch r := result.(type) {
	case string:
		return r
	case nil:
		return "<nil>"
	}
	if encoded, err := json.Marshal(result); err == nil {
		return string(encoded)
	}
	return fmt.Sprintf("%v", result)
}
