// Package inspectors implements the AI Defense inspection paths of the
// interception runtime: out-of-band API-mode inspectors for LLM
// conversations and MCP tool calls, and gateway-mode routing helpers.
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
	"time"

	"github.com/cisco-ai-defense/ai-defense-go-sdk/aidefense"
	"github.com/cisco-ai-defense/ai-defense-go-sdk/runtime"
	"github.com/cisco-ai-defense/ai-defense-go-sdk/runtime/agentsec"
)

const llmInspectPath = "/v1/inspect/chat"

// LLMOptions configures an LLMInspector. Zero fields fall back to the
// frozen agentsec settings (which in turn fold in the environment).
type LLMOptions struct {
	// APIKey authenticates against the AI Defense chat inspection API.
	APIKey string
	// Endpoint is the inspection API base URL.
	Endpoint string
	// DefaultRules are included in every payload when non-empty.
	DefaultRules []runtime.Rule
	// TimeoutMS bounds each inspection request, in milliseconds.
	TimeoutMS int
	// RetryAttempts is the number of attempts (minimum 1 = no retry).
	RetryAttempts int
	// FailOpen allows the call when the API is unreachable. Nil defers to
	// the frozen settings.
	FailOpen *bool
	// Logger receives inspector logs. Nil means slog.Default().
	Logger *slog.Logger
	// HTTPClient overrides the inspector-owned client, for tests.
	HTTPClient *http.Client
	// Cache enables TTL caching of decisions for identical payloads.
	Cache *DecisionCache
	// Metrics overrides the process-default metric set.
	Metrics *agentsec.Metrics
}

// LLMInspector scores LLM conversations against the AI Defense chat
// inspection API and turns the verdict into a Decision. Safe for
// concurrent use.
type LLMInspector struct {
	apiKey        string
	endpoint      string
	defaultRules  []runtime.Rule
	retryAttempts int
	failOpen      bool
	logger        *slog.Logger
	client        *http.Client
	cache         *DecisionCache
	metrics       *agentsec.Metrics
}

// NewLLMInspector builds an inspector, filling unset options from the
// frozen agentsec settings.
func NewLLMInspector(opts LLMOptions) *LLMInspector {
	s := agentsec.Current()
	if opts.APIKey == "" {
		opts.APIKey = s.APILLMAPIKey
	}
	if opts.Endpoint == "" {
		opts.Endpoint = s.APILLMEndpoint
	}
	if opts.DefaultRules == nil {
		opts.DefaultRules = s.LLMRules
	}
	if opts.TimeoutMS <= 0 {
		opts.TimeoutMS = s.TimeoutMS
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = s.RetryAttempts
	}
	failOpen := s.APIFailOpenLLM
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
	return &LLMInspector{
		apiKey:        opts.APIKey,
		endpoint:      opts.Endpoint,
		defaultRules:  opts.DefaultRules,
		retryAttempts: opts.RetryAttempts,
		failOpen:      failOpen,
		logger:        logger,
		client:        client,
		cache:         opts.Cache,
		metrics:       metrics,
	}
}

// Configured reports whether both endpoint and API key are set.
func (i *LLMInspector) Configured() bool {
	return i.endpoint != "" && i.apiKey != ""
}

// InspectConversation scores a conversation and returns a Decision. With no
// endpoint or key configured it allows by default. On an API failure after
// all attempts: fail-open yields an allow decision with the error tagged in
// its reasons; otherwise a SecurityPolicyError carrying a block decision.
func (i *LLMInspector) InspectConversation(ctx context.Context, messages []runtime.Message, metadata map[string]any) (agentsec.Decision, error) {
	if !i.Configured() {
		i.logger.Debug("no inspection endpoint/key configured, allowing by default")
		return agentsec.Allow(nil, nil), nil
	}

	payload := map[string]any{
		"messages": messages,
		"metadata": metadata,
	}
	if len(i.defaultRules) > 0 {
		payload["rules"] = i.defaultRules
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return i.handleError(err, len(messages))
	}

	if i.cache != nil {
		if d, ok := i.cache.Get(body); ok {
			return d, nil
		}
	}

	start := time.Now()
	var lastErr error
	for attempt := 0; attempt < i.retryAttempts; attempt++ {
		data, err := i.post(ctx, body)
		if err != nil {
			lastErr = err
			i.logger.Debug("inspection attempt failed",
				"attempt", attempt+1, "attempts", i.retryAttempts, "error", err)
			continue
		}
		decision := parseLLMResponse(data)
		i.metrics.ObserveInspection("llm", decision.Action, time.Since(start))
		if i.cache != nil {
			i.cache.Put(body, decision)
		}
		return decision, nil
	}
	return i.handleError(lastErr, len(messages))
}

func (i *LLMInspector) post(ctx context.Context, body []byte) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.endpoint+llmInspectPath, bytes.NewReader(body))
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

// handleError applies the fail-open policy after exhausted attempts.
func (i *LLMInspector) handleError(err error, messageCount int) (agentsec.Decision, error) {
	errType := errorType(err)
	i.logger.Warn("AI Defense API error",
		"operation", "inspect_conversation", "messages", messageCount,
		"error_type", errType, "error", err)

	if i.failOpen {
		i.metrics.ObserveInspectionError("llm", true)
		i.logger.Warn("fail_open=true, allowing request despite API error")
		return agentsec.Allow([]string{fmt.Sprintf("API error (%s), fail_open=True", errType)}, nil), nil
	}
	i.metrics.ObserveInspectionError("llm", false)
	i.logger.Error("fail_open=false, blocking request due to API error")
	decision := agentsec.Block([]string{fmt.Sprintf("API error: %s: %v", errType, err)}, nil)
	return agentsec.Decision{}, agentsec.NewSecurityPolicyError(decision)
}

// parseLLMResponse turns a chat inspection API payload into a Decision.
// The API capitalizes the action; it is normalized to lowercase. Reasons
// come from the top-level reasons list, then from rules with a non-NONE
// classification, then from processed_rules.
func parseLLMResponse(data map[string]any) agentsec.Decision {
	action := "allow"
	if v, ok := data["action"].(string); ok && v != "" {
		action = strings.ToLower(v)
	}
	var reasons []string
	if list, ok := data["reasons"].([]any); ok {
		for _, r := range list {
			if s, ok := r.(string); ok {
				reasons = append(reasons, s)
			}
		}
	}
	if len(reasons) == 0 {
		reasons = reasonsFromRules(data["rules"], "NONE_VIOLATION", "NONE_SEVERITY")
	}
	if len(reasons) == 0 {
		reasons = reasonsFromRules(data["processed_rules"], "NONE_VIOLATION")
	}

	switch action {
	case "block":
		return agentsec.Block(reasons, data)
	case "sanitize":
		sanitized, _ := data["sanitized_content"].(string)
		return agentsec.Sanitize(reasons, sanitized, data)
	case "monitor_only":
		return agentsec.MonitorOnly(reasons, data)
	default:
		return agentsec.Allow(reasons, data)
	}
}

// reasonsFromRules formats "<rule_name>: <classification>" entries for every
// rule whose classification is set and not among the excluded values.
func reasonsFromRules(raw any, excluded ...string) []string {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	skip := map[string]bool{}
	for _, e := range excluded {
		skip[e] = true
	}
	var reasons []string
	for _, entry := range list {
		rule, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		classification, _ := rule["classification"].(string)
		if classification == "" || skip[classification] {
			continue
		}
		name, _ := rule["rule_name"].(string)
		reasons = append(reasons, fmt.Sprintf("%s: %s", name, classification))
	}
	return reasons
}
