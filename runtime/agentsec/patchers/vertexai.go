package patchers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cisco-ai-defense/ai-defense-go-sdk/runtime"
	"github.com/cisco-ai-defense/ai-defense-go-sdk/runtime/agentsec"
	"github.com/cisco-ai-defense/ai-defense-go-sdk/runtime/agentsec/inspectors"
)

// VertexPart is one part of a Vertex AI content entry.
type VertexPart struct {
	Text string `json:"text,omitempty"`
}

// VertexContent is one turn of a Vertex AI generateContent conversation.
type VertexContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []VertexPart `json:"parts"`
}

// VertexGenerateRequest is the generateContent request wire shape.
type VertexGenerateRequest struct {
	Contents          []VertexContent `json:"contents"`
	SystemInstruction *VertexContent  `json:"systemInstruction,omitempty"`
}

// VertexCandidate is one generated candidate.
type VertexCandidate struct {
	Content VertexContent `json:"content"`
}

// VertexGenerateResponse is the generateContent response wire shape.
type VertexGenerateResponse struct {
	Candidates []VertexCandidate `json:"candidates"`
}

// ContentGenerator is the Vertex AI surface the wrapper decorates.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, request *VertexGenerateRequest) (*VertexGenerateResponse, error)
}

// VertexAIClient is an inspection-aware decorator around a Vertex AI content
// generator. The flow matches the OpenAI wrapper; only the normalization is
// provider specific.
type VertexAIClient struct {
	inner   ContentGenerator
	logger  *slog.Logger
	metrics *agentsec.Metrics

	inspOnce sync.Once
	insp     *inspectors.LLMInspector
	gwOnce   sync.Once
	gw       *inspectors.LLMGatewayInspector
}

// VertexAIOption configures a VertexAIClient.
type VertexAIOption func(*VertexAIClient)

// WithVertexAIInspector overrides the lazily built LLM inspector.
func WithVertexAIInspector(i *inspectors.LLMInspector) VertexAIOption {
	return func(c *VertexAIClient) { c.insp = i }
}

// WithVertexAIGateway overrides the lazily built gateway inspector.
func WithVertexAIGateway(g *inspectors.LLMGatewayInspector) VertexAIOption {
	return func(c *VertexAIClient) { c.gw = g }
}

// WithVertexAILogger sets the wrapper's logger.
func WithVertexAILogger(l *slog.Logger) VertexAIOption {
	return func(c *VertexAIClient) { c.logger = l }
}

// WrapVertexAI decorates a Vertex AI content generator with the inspection
// flow.
func WrapVertexAI(client ContentGenerator, opts ...VertexAIOption) *VertexAIClient {
	c := &VertexAIClient{
		inner:   client,
		logger:  slog.Default(),
		metrics: agentsec.DefaultMetrics(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *VertexAIClient) inspector() *inspectors.LLMInspector {
	c.inspOnce.Do(func() {
		if c.insp == nil {
			c.insp = inspectors.NewLLMInspector(inspectors.LLMOptions{Logger: c.logger})
		}
	})
	return c.insp
}

func (c *VertexAIClient) gateway() *inspectors.LLMGatewayInspector {
	c.gwOnce.Do(func() {
		if c.gw == nil {
			c.gw = inspectors.NewLLMGatewayInspector(agentsec.ProviderVertexAI,
				inspectors.WithGatewayLogger(c.logger))
		}
	})
	return c.gw
}

// GenerateContent runs the inspection flow around the wrapped generator.
func (c *VertexAIClient) GenerateContent(ctx context.Context, model string, request *VertexGenerateRequest) (*VertexGenerateResponse, error) {
	s := agentsec.Current()
	if s.LLMMode == agentsec.ModeOff || agentsec.SkipLLM(ctx) {
		return c.inner.GenerateContent(ctx, model, request)
	}
	ctx, cc := agentsec.EnsureContext(ctx)
	if cc.Done() {
		return c.inner.GenerateContent(ctx, model, request)
	}
	c.metrics.ObservePatchedCall(agentsec.ProviderVertexAI, "generateContent")

	messages := vertexMessages(request)

	if s.LLMIntegrationMode == agentsec.IntegrationGateway && c.gateway().IsConfigured() {
		return c.viaGateway(ctx, cc, request)
	}

	if len(messages) > 0 {
		d, err := c.inspector().InspectConversation(ctx, messages, cc.Metadata())
		if err != nil {
			cc.Set(nil, true)
			return nil, err
		}
		if err := applyLLMDecision(cc, d, true); err != nil {
			return nil, err
		}
	}

	resp, err := c.inner.GenerateContent(ctx, model, request)
	if err != nil {
		return resp, err
	}

	if content := firstCandidateText(resp); content != "" {
		d, err := c.inspector().InspectConversation(ctx, appendAssistant(messages, content), cc.Metadata())
		if err != nil {
			cc.Set(nil, true)
			return nil, err
		}
		if err := applyLLMDecision(cc, d, true); err != nil {
			return nil, err
		}
	}
	cc.Set(nil, true)
	return resp, nil
}

func (c *VertexAIClient) viaGateway(ctx context.Context, cc *agentsec.CallContext, request *VertexGenerateRequest) (*VertexGenerateResponse, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("encoding generateContent request: %w", err)
	}
	raw, err := c.gateway().Post(ctx, body, nil)
	if err != nil {
		return nil, err
	}
	var resp VertexGenerateResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decoding gateway response: %w", err)
	}
	cc.Set(nil, true)
	return &resp, nil
}

// vertexMessages flattens the parts of every content entry into canonical
// messages. The "model" role maps to assistant; a system instruction is
// prepended as a system message.
func vertexMessages(request *VertexGenerateRequest) []runtime.Message {
	var out []runtime.Message
	if si := request.SystemInstruction; si != nil {
		if text := flattenVertexParts(si.Parts); text != "" {
			out = append(out, runtime.Message{Role: runtime.RoleSystem, Content: text})
		}
	}
	for _, content := range request.Contents {
		text := flattenVertexParts(content.Parts)
		if text == "" {
			continue
		}
		role := runtime.RoleUser
		if content.Role == "model" || content.Role == "assistant" {
			role = runtime.RoleAssistant
		}
		out = append(out, runtime.Message{Role: role, Content: text})
	}
	return out
}

func flattenVertexParts(parts []VertexPart) string {
	texts := make([]string, 0, len(parts))
	for _, p := range parts {
		texts = append(texts, p.Text)
	}
	return joinNonEmpty(texts)
}

func firstCandidateText(resp *VertexGenerateResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	return flattenVertexParts(resp.Candidates[0].Content.Parts)
}
