package patchers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	"github.com/cisco-ai-defense/ai-defense-go-sdk/runtime"
	"github.com/cisco-ai-defense/ai-defense-go-sdk/runtime/agentsec"
	"github.com/cisco-ai-defense/ai-defense-go-sdk/runtime/agentsec/inspectors"
)

// ChatCompleter is the OpenAI surface the wrapper decorates. It is satisfied
// by *openai.Client.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIChatClient is an inspection-aware decorator around an OpenAI chat
// client. Prompts are inspected before delegation and the first choice's
// content after; in gateway integration mode the native request is routed
// through the AI Defense gateway instead.
type OpenAIChatClient struct {
	inner   ChatCompleter
	logger  *slog.Logger
	metrics *agentsec.Metrics

	inspOnce sync.Once
	insp     *inspectors.LLMInspector
	gwOnce   sync.Once
	gw       *inspectors.LLMGatewayInspector
}

// OpenAIOption configures an OpenAIChatClient.
type OpenAIOption func(*OpenAIChatClient)

// WithOpenAIInspector overrides the lazily built LLM inspector.
func WithOpenAIInspector(i *inspectors.LLMInspector) OpenAIOption {
	return func(c *OpenAIChatClient) { c.insp = i }
}

// WithOpenAIGateway overrides the lazily built gateway inspector.
func WithOpenAIGateway(g *inspectors.LLMGatewayInspector) OpenAIOption {
	return func(c *OpenAIChatClient) { c.gw = g }
}

// WithOpenAILogger sets the wrapper's logger.
func WithOpenAILogger(l *slog.Logger) OpenAIOption {
	return func(c *OpenAIChatClient) { c.logger = l }
}

// WrapOpenAI decorates an OpenAI client with the inspection flow. The
// returned client satisfies ChatCompleter and is safe for concurrent use.
func WrapOpenAI(client ChatCompleter, opts ...OpenAIOption) *OpenAIChatClient {
	c := &OpenAIChatClient{
		inner:   client,
		logger:  slog.Default(),
		metrics: agentsec.DefaultMetrics(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// inspector returns the LLM inspector, building it from the frozen settings
// on first use.
func (c *OpenAIChatClient) inspector() *inspectors.LLMInspector {
	c.inspOnce.Do(func() {
		if c.insp == nil {
			c.insp = inspectors.NewLLMInspector(inspectors.LLMOptions{Logger: c.logger})
		}
	})
	return c.insp
}

func (c *OpenAIChatClient) gateway() *inspectors.LLMGatewayInspector {
	c.gwOnce.Do(func() {
		if c.gw == nil {
			c.gw = inspectors.NewLLMGatewayInspector(agentsec.ProviderOpenAI,
				inspectors.WithGatewayLogger(c.logger))
		}
	})
	return c.gw
}

// CreateChatCompletion runs the inspection flow around the wrapped client's
// chat completion call.
func (c *OpenAIChatClient) CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	s := agentsec.Current()
	if s.LLMMode == agentsec.ModeOff || agentsec.SkipLLM(ctx) {
		return c.inner.CreateChatCompletion(ctx, request)
	}
	ctx, cc := agentsec.EnsureContext(ctx)
	if cc.Done() {
		return c.inner.CreateChatCompletion(ctx, request)
	}
	c.metrics.ObservePatchedCall(agentsec.ProviderOpenAI, "chat.completions")

	messages := openaiMessages(request.Messages)

	if s.LLMIntegrationMode == agentsec.IntegrationGateway && c.gateway().IsConfigured() {
		return c.viaGateway(ctx, cc, request)
	}

	if len(messages) > 0 {
		d, err := c.inspector().InspectConversation(ctx, messages, cc.Metadata())
		if err != nil {
			cc.Set(nil, true)
			return openai.ChatCompletionResponse{}, err
		}
		if err := applyLLMDecision(cc, d, true); err != nil {
			return openai.ChatCompletionResponse{}, err
		}
	}

	resp, err := c.inner.CreateChatCompletion(ctx, request)
	if err != nil {
		return resp, err
	}

	if content := firstChoiceContent(resp); content != "" {
		d, err := c.inspector().InspectConversation(ctx, appendAssistant(messages, content), cc.Metadata())
		if err != nil {
			cc.Set(nil, true)
			return openai.ChatCompletionResponse{}, err
		}
		if err := applyLLMDecision(cc, d, true); err != nil {
			return openai.ChatCompletionResponse{}, err
		}
	}
	cc.Set(nil, true)
	return resp, nil
}

// viaGateway posts the native request to the provider gateway, which
// enforces policy and proxies to OpenAI.
func (c *OpenAIChatClient) viaGateway(ctx context.Context, cc *agentsec.CallContext, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return openai.ChatCompletionResponse{}, fmt.Errorf("encoding chat completion request: %w", err)
	}
	raw, err := c.gateway().Post(ctx, body, nil)
	if err != nil {
		return openai.ChatCompletionResponse{}, err
	}
	var resp openai.ChatCompletionResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return openai.ChatCompletionResponse{}, fmt.Errorf("decoding gateway response: %w", err)
	}
	cc.Set(nil, true)
	return resp, nil
}

// openaiMessages converts the request messages into canonical form. The
// OpenAI shape already matches; only empty contents are dropped.
func openaiMessages(in []openai.ChatCompletionMessage) []runtime.Message {
	out := make([]runtime.Message, 0, len(in))
	for _, m := range in {
		if m.Content == "" {
			continue
		}
		out = append(out, runtime.Message{Role: runtime.Role(m.Role), Content: m.Content})
	}
	return out
}

func firstChoiceContent(resp openai.ChatCompletionResponse) string {
	if len(resp.Choices) == 0 {
		return ""
	}
	return resp.Choices[0].Message.Content
}
