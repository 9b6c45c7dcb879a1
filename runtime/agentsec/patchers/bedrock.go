package patchers

import (
	"context"
	"log/slog"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/cisco-ai-defense/ai-defense-go-sdk/runtime/agentsec"
	"github.com/cisco-ai-defense/ai-defense-go-sdk/runtime/agentsec/inspectors"
)

// BedrockAPI is the Bedrock runtime surface the wrapper decorates. It is
// satisfied by *bedrockruntime.Client.
type BedrockAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
	InvokeModelWithResponseStream(ctx context.Context, params *bedrockruntime.InvokeModelWithResponseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelWithResponseStreamOutput, error)
}

// BedrockClient is an inspection-aware decorator around a Bedrock runtime
// client covering Converse, ConverseStream, InvokeModel and
// InvokeModelWithResponseStream. Streaming responses are pre-inspected only;
// post-inspection of stream content is deferred.
type BedrockClient struct {
	inner   BedrockAPI
	logger  *slog.Logger
	metrics *agentsec.Metrics

	inspOnce sync.Once
	insp     *inspectors.LLMInspector
	gwOnce   sync.Once
	gw       *inspectors.LLMGatewayInspector
}

// BedrockOption configures a BedrockClient.
type BedrockOption func(*BedrockClient)

// WithBedrockInspector overrides the lazily built LLM inspector.
func WithBedrockInspector(i *inspectors.LLMInspector) BedrockOption {
	return func(c *BedrockClient) { c.insp = i }
}

// WithBedrockGateway overrides the lazily built gateway inspector.
func WithBedrockGateway(g *inspectors.LLMGatewayInspector) BedrockOption {
	return func(c *BedrockClient) { c.gw = g }
}

// WithBedrockLogger sets the wrapper's logger.
func WithBedrockLogger(l *slog.Logger) BedrockOption {
	return func(c *BedrockClient) { c.logger = l }
}

// WrapBedrock decorates a Bedrock runtime client with the inspection flow.
func WrapBedrock(client BedrockAPI, opts ...BedrockOption) *BedrockClient {
	c := &BedrockClient{
		inner:   client,
		logger:  slog.Default(),
		metrics: agentsec.DefaultMetrics(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *BedrockClient) inspector() *inspectors.LLMInspector {
	c.inspOnce.Do(func() {
		if c.insp == nil {
			c.insp = inspectors.NewLLMInspector(inspectors.LLMOptions{Logger: c.logger})
		}
	})
	return c.insp
}

func (c *BedrockClient) gateway() *inspectors.LLMGatewayInspector {
	c.gwOnce.Do(func() {
		if c.gw == nil {
			c.gw = inspectors.NewLLMGatewayInspector(agentsec.ProviderBedrock,
				inspectors.WithGatewayLogger(c.logger))
		}
	})
	return c.gw
}

func bedrockHeaders(operation string, modelID *string) map[string]string {
	h := map[string]string{"X-Bedrock-Operation": operation}
	if id := aws.ToString(modelID); id != "" {
		h["X-Bedrock-Model-Id"] = id
	}
	return h
}

// Converse runs the inspection flow around a Converse call.
func (c *BedrockClient) Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	s := agentsec.Current()
	if s.LLMMode == agentsec.ModeOff || agentsec.SkipLLM(ctx) {
		return c.inner.Converse(ctx, params, optFns...)
	}
	ctx, cc := agentsec.EnsureContext(ctx)
	if cc.Done() {
		return c.inner.Converse(ctx, params, optFns...)
	}
	c.metrics.ObservePatchedCall(agentsec.ProviderBedrock, "Converse")

	messages := converseMessages(params.System, params.Messages)

	if s.LLMIntegrationMode == agentsec.IntegrationGateway && c.gateway().IsConfigured() {
		body, err := encodeConverseInput(params.ModelId, params.System, params.Messages, params.InferenceConfig)
		if err != nil {
			return nil, err
		}
		raw, err := c.gateway().Post(ctx, body, bedrockHeaders("Converse", params.ModelId))
		if err != nil {
			return nil, err
		}
		out, err := decodeConverseOutput(raw)
		if err != nil {
			return nil, err
		}
		cc.Set(nil, true)
		return out, nil
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

	out, err := c.inner.Converse(ctx, params, optFns...)
	if err != nil {
		return out, err
	}

	if text := converseOutputText(out); text != "" {
		d, err := c.inspector().InspectConversation(ctx, appendAssistant(messages, text), cc.Metadata())
		if err != nil {
			cc.Set(nil, true)
			return nil, err
		}
		if err := applyLLMDecision(cc, d, true); err != nil {
			return nil, err
		}
	}
	cc.Set(nil, true)
	return out, nil
}

// ConverseStream runs pre-inspection (or gateway routing) around a streaming
// Converse call. In gateway mode the gateway answers with a non-streaming
// response, which is replayed as a synthesized event stream.
func (c *BedrockClient) ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (ConverseStream, error) {
	s := agentsec.Current()
	if s.LLMMode == agentsec.ModeOff || agentsec.SkipLLM(ctx) {
		return c.delegateStream(ctx, params, optFns...)
	}
	ctx, cc := agentsec.EnsureContext(ctx)
	if cc.Done() {
		return c.delegateStream(ctx, params, optFns...)
	}
	c.metrics.ObservePatchedCall(agentsec.ProviderBedrock, "ConverseStream")

	messages := converseMessages(params.System, params.Messages)

	if s.LLMIntegrationMode == agentsec.IntegrationGateway && c.gateway().IsConfigured() {
		body, err := encodeConverseInput(params.ModelId, params.System, params.Messages, params.InferenceConfig)
		if err != nil {
			return nil, err
		}
		raw, err := c.gateway().Post(ctx, body, bedrockHeaders("ConverseStream", params.ModelId))
		if err != nil {
			return nil, err
		}
		out, err := decodeConverseOutput(raw)
		if err != nil {
			return nil, err
		}
		cc.Set(nil, true)
		return newFakeConverseStream(out), nil
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

	// Post-inspection of streamed content is deferred.
	cc.Set(nil, true)
	return c.delegateStream(ctx, params, optFns...)
}

func (c *BedrockClient) delegateStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (ConverseStream, error) {
	out, err := c.inner.ConverseStream(ctx, params, optFns...)
	if err != nil {
		return nil, err
	}
	return &sdkConverseStream{es: out.GetStream()}, nil
}

// InvokeModel runs the inspection flow around an InvokeModel call.
func (c *BedrockClient) InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	s := agentsec.Current()
	if s.LLMMode == agentsec.ModeOff || agentsec.SkipLLM(ctx) {
		return c.inner.InvokeModel(ctx, params, optFns...)
	}
	ctx, cc := agentsec.EnsureContext(ctx)
	if cc.Done() {
		return c.inner.InvokeModel(ctx, params, optFns...)
	}
	c.metrics.ObservePatchedCall(agentsec.ProviderBedrock, "InvokeModel")

	messages := invokeModelMessages(params.Body)

	if s.LLMIntegrationMode == agentsec.IntegrationGateway && c.gateway().IsConfigured() {
		raw, err := c.gateway().Post(ctx, params.Body, bedrockHeaders("InvokeModel", params.ModelId))
		if err != nil {
			return nil, err
		}
		cc.Set(nil, true)
		return &bedrockruntime.InvokeModelOutput{
			Body:        raw,
			ContentType: aws.String("application/json"),
		}, nil
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

	out, err := c.inner.InvokeModel(ctx, params, optFns...)
	if err != nil {
		return out, err
	}

	if text := invokeModelResponseText(out.Body); text != "" {
		d, err := c.inspector().InspectConversation(ctx, appendAssistant(messages, text), cc.Metadata())
		if err != nil {
			cc.Set(nil, true)
			return nil, err
		}
		if err := applyLLMDecision(cc, d, true); err != nil {
			return nil, err
		}
	}
	cc.Set(nil, true)
	return out, nil
}

// InvokeModelWithResponseStream pre-inspects the request and delegates. The
// gateway cannot answer a raw invoke stream, so gateway integration falls
// back to direct delegation for this operation.
func (c *BedrockClient) InvokeModelWithResponseStream(ctx context.Context, params *bedrockruntime.InvokeModelWithResponseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelWithResponseStreamOutput, error) {
	s := agentsec.Current()
	if s.LLMMode == agentsec.ModeOff || agentsec.SkipLLM(ctx) {
		return c.inner.InvokeModelWithResponseStream(ctx, params, optFns...)
	}
	ctx, cc := agentsec.EnsureContext(ctx)
	if cc.Done() {
		return c.inner.InvokeModelWithResponseStream(ctx, params, optFns...)
	}
	c.metrics.ObservePatchedCall(agentsec.ProviderBedrock, "InvokeModelWithResponseStream")

	if s.LLMIntegrationMode == agentsec.IntegrationGateway {
		c.logger.Warn("gateway integration does not support InvokeModelWithResponseStream, delegating directly")
		return c.inner.InvokeModelWithResponseStream(ctx, params, optFns...)
	}

	if messages := invokeModelMessages(params.Body); len(messages) > 0 {
		d, err := c.inspector().InspectConversation(ctx, messages, cc.Metadata())
		if err != nil {
			cc.Set(nil, true)
			return nil, err
		}
		if err := applyLLMDecision(cc, d, true); err != nil {
			return nil, err
		}
	}

	// Post-inspection of streamed content is deferred.
	cc.Set(nil, true)
	return c.inner.InvokeModelWithResponseStream(ctx, params, optFns...)
}
