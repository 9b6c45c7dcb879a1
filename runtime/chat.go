package runtime

import (
	"context"
	"net/http"
	"strings"

	"github.com/cisco-ai-defense/ai-defense-go-sdk/aidefense"
)

const chatInspectPath = "/api/v1/inspect/chat"

// ChatInspectionClient inspects chat conversations against AI Defense.
// It is safe for concurrent use; all calls share one connection pool.
type ChatInspectionClient struct {
	apiKey  string
	cfg     *aidefense.Config
	handler *aidefense.RequestHandler

	// DefaultRules is the precomputed default enabled-rule set, exposed so
	// callers can start from it when building an InspectionConfig.
	DefaultRules []Rule
}

// NewChatInspectionClient builds a chat inspection client. A nil cfg uses
// the default configuration (region "us").
func NewChatInspectionClient(apiKey string, cfg *aidefense.Config) (*ChatInspectionClient, error) {
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
	return &ChatInspectionClient{
		apiKey:       apiKey,
		cfg:          cfg,
		handler:      aidefense.NewRequestHandler(cfg),
		DefaultRules: DefaultEnabledRules(),
	}, nil
}

// Close releases the client's idle connections.
func (c *ChatInspectionClient) Close() { c.handler.Close() }

// InspectPrompt inspects a single user prompt.
func (c *ChatInspectionClient) InspectPrompt(ctx context.Context, prompt string, opts ...InspectOption) (*InspectResponse, error) {
	return c.InspectConversation(ctx, []Message{{Role: RoleUser, Content: prompt}}, opts...)
}

// InspectResponse inspects a single model response.
func (c *ChatInspectionClient) InspectResponse(ctx context.Context, response string, opts ...InspectOption) (*InspectResponse, error) {
	return c.InspectConversation(ctx, []Message{{Role: RoleAssistant, Content: response}}, opts...)
}

// InspectConversation inspects a full conversation. The conversation must be
// non-empty, every message must carry a valid role and non-empty content,
// and at least one user or assistant message must have non-blank content.
func (c *ChatInspectionClient) InspectConversation(ctx context.Context, messages []Message, opts ...InspectOption) (*InspectResponse, error) {
	if err := validateMessages(messages); err != nil {
		return nil, err
	}
	req := inspectRequest{}
	for _, opt := range opts {
		opt(&req)
	}

	payload := map[string]any{"messages": messages}
	if req.metadata != nil {
		payload["metadata"] = req.metadata
	}
	if req.config != nil {
		payload["config"] = req.config
	}

	data, err := c.handler.Do(ctx, http.MethodPost, c.cfg.RuntimeBaseURL+chatInspectPath, aidefense.RequestOptions{
		Headers:   map[string]string{aidefense.APIKeyHeader: c.apiKey},
		Body:      payload,
		RequestID: req.requestID,
		Timeout:   req.timeout,
	})
	if err != nil {
		return nil, err
	}
	return parseInspectResponse(data), nil
}

func validateMessages(messages []Message) error {
	if len(messages) == 0 {
		return aidefense.NewValidationError("messages must not be empty")
	}
	hasContent := false
	for i, m := range messages {
		if !m.Role.Valid() {
			return aidefense.NewValidationError("message %d: invalid role %q", i, m.Role)
		}
		if m.Content == "" {
			return aidefense.NewValidationError("message %d: content must be a non-empty string", i)
		}
		if (m.Role == RoleUser || m.Role == RoleAssistant) && strings.TrimSpace(m.Content) != "" {
			hasContent = true
		}
	}
	if !hasContent {
		return aidefense.NewValidationError("at least one user or assistant message with non-blank content is required")
	}
	return nil
}
