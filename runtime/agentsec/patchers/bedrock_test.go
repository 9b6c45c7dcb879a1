package patchers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"go.uber.org/goleak"

	"github.com/cisco-ai-defense/ai-defense-go-sdk/runtime"
	"github.com/cisco-ai-defense/ai-defense-go-sdk/runtime/agentsec"
)

type fakeBedrock struct {
	converseCalls atomic.Int32
	invokeCalls   atomic.Int32
	converseOut   *bedrockruntime.ConverseOutput
	invokeOut     *bedrockruntime.InvokeModelOutput
}

func (f *fakeBedrock) Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	f.converseCalls.Add(1)
	return f.converseOut, nil
}

func (f *fakeBedrock) ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error) {
	f.converseCalls.Add(1)
	return &bedrockruntime.ConverseStreamOutput{}, nil
}

func (f *fakeBedrock) InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.invokeCalls.Add(1)
	return f.invokeOut, nil
}

func (f *fakeBedrock) InvokeModelWithResponseStream(ctx context.Context, params *bedrockruntime.InvokeModelWithResponseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelWithResponseStreamOutput, error) {
	f.invokeCalls.Add(1)
	return &bedrockruntime.InvokeModelWithResponseStreamOutput{}, nil
}

func assistantOutput(blocks ...types.ContentBlock) *bedrockruntime.ConverseOutput {
	return &bedrockruntime.ConverseOutput{
		Output: &types.ConverseOutputMemberMessage{
			Value: types.Message{Role: types.ConversationRoleAssistant, Content: blocks},
		},
		StopReason: types.StopReasonEndTurn,
	}
}

func TestConverseMessagesNormalization(t *testing.T) {
	system := []types.SystemContentBlock{
		&types.SystemContentBlockMemberText{Value: "You are terse."},
	}
	long := strings.Repeat("x", 150)
	messages := []types.Message{
		{
			Role: types.ConversationRoleUser,
			Content: []types.ContentBlock{
				&types.ContentBlockMemberText{Value: "What is the weather?"},
			},
		},
		{
			Role: types.ConversationRoleAssistant,
			Content: []types.ContentBlock{
				&types.ContentBlockMemberToolUse{Value: types.ToolUseBlock{
					Name: aws.String("get_weather"),
				}},
			},
		},
		{
			Role: types.ConversationRoleUser,
			Content: []types.ContentBlock{
				&types.ContentBlockMemberToolResult{Value: types.ToolResultBlock{
					Content: []types.ToolResultContentBlock{
						&types.ToolResultContentBlockMemberText{Value: long},
					},
				}},
			},
		},
	}

	got := converseMessages(system, messages)
	if len(got) != 4 {
		t.Fatalf("messages = %d, want 4: %+v", len(got), got)
	}
	if got[0].Role != runtime.RoleSystem || got[0].Content != "You are terse." {
		t.Errorf("system message = %+v", got[0])
	}
	if got[2].Content != "[Tool call: get_weather]" {
		t.Errorf("tool call marker = %q", got[2].Content)
	}
	want := "[Tool result: " + long[:100] + "...]"
	if got[3].Content != want {
		t.Errorf("tool result marker = %q, want %q", got[3].Content, want)
	}
}

func TestConverseMessagesToolResultOnlyNotEmpty(t *testing.T) {
	messages := []types.Message{
		{
			Role: types.ConversationRoleUser,
			Content: []types.ContentBlock{
				&types.ContentBlockMemberToolResult{Value: types.ToolResultBlock{
					Content: []types.ToolResultContentBlock{
						&types.ToolResultContentBlockMemberText{Value: "42"},
					},
				}},
			},
		},
	}
	got := converseMessages(nil, messages)
	if len(got) != 1 || !strings.Contains(got[0].Content, "[Tool result: 42]") {
		t.Errorf("messages = %+v", got)
	}
}

func TestInvokeModelMessagesFamilies(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []runtime.Message
	}{
		{
			"claude with system",
			`{"system":"be brief","messages":[{"role":"user","content":"hello"}]}`,
			[]runtime.Message{
				{Role: runtime.RoleSystem, Content: "be brief"},
				{Role: runtime.RoleUser, Content: "hello"},
			},
		},
		{
			"claude content blocks",
			`{"messages":[{"role":"assistant","content":[{"type":"text","text":"a"},{"type":"tool_use","name":"calc"}]}]}`,
			[]runtime.Message{
				{Role: runtime.RoleAssistant, Content: "a\n[Tool call: calc]"},
			},
		},
		{
			"titan",
			`{"inputText":"summarize this"}`,
			[]runtime.Message{{Role: runtime.RoleUser, Content: "summarize this"}},
		},
		{
			"generic prompt",
			`{"prompt":"write a poem"}`,
			[]runtime.Message{{Role: runtime.RoleUser, Content: "write a poem"}},
		},
		{
			"unknown shape",
			`{"something":"else"}`,
			nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := invokeModelMessages([]byte(tt.body))
			if len(got) != len(tt.want) {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
			for j := range got {
				if got[j] != tt.want[j] {
					t.Errorf("message %d = %+v, want %+v", j, got[j], tt.want[j])
				}
			}
		})
	}
}

func TestInvokeModelResponseTextFamilies(t *testing.T) {
	tests := []struct {
		name, body, want string
	}{
		{"claude", `{"content":[{"type":"text","text":"Hi"},{"type":"text","text":"there"}]}`, "Hi\nthere"},
		{"titan", `{"results":[{"outputText":"answer"}]}`, "answer"},
		{"completion", `{"completion":"done"}`, "done"},
		{"generation", `{"generation":"made"}`, "made"},
		{"unknown", `{"foo":1}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := invokeModelResponseText([]byte(tt.body)); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFakeStreamEventCountProperty(t *testing.T) {
	defer goleak.VerifyNone(t)

	var input any = map[string]any{"city": "SF"}
	out := assistantOutput(
		&types.ContentBlockMemberText{Value: "first"},
		&types.ContentBlockMemberToolUse{Value: types.ToolUseBlock{
			ToolUseId: aws.String("tu-1"),
			Name:      aws.String("get_weather"),
			Input:     document.NewLazyDocument(&input),
		}},
		&types.ContentBlockMemberText{Value: "second"},
	)
	out.Usage = &types.TokenUsage{InputTokens: aws.Int32(3), OutputTokens: aws.Int32(5), TotalTokens: aws.Int32(8)}

	stream := newFakeConverseStream(out)
	var events []types.ConverseStreamOutput
	for ev := range stream.Events() {
		events = append(events, ev)
	}
	// 1 + 3*(T+U) + 1 + 1 with T=2, U=1
	if len(events) != 11 {
		t.Fatalf("events = %d, want 11", len(events))
	}
	if _, ok := events[0].(*types.ConverseStreamOutputMemberMessageStart); !ok {
		t.Errorf("event 0 = %T", events[0])
	}
	if _, ok := events[len(events)-2].(*types.ConverseStreamOutputMemberMessageStop); !ok {
		t.Errorf("event %d = %T", len(events)-2, events[len(events)-2])
	}
	if _, ok := events[len(events)-1].(*types.ConverseStreamOutputMemberMetadata); !ok {
		t.Errorf("last event = %T", events[len(events)-1])
	}

	// Dense block indices from 0.
	var stops []int32
	for _, ev := range events {
		if stop, ok := ev.(*types.ConverseStreamOutputMemberContentBlockStop); ok {
			stops = append(stops, aws.ToInt32(stop.Value.ContentBlockIndex))
		}
	}
	for j, idx := range stops {
		if idx != int32(j) {
			t.Errorf("stop indices = %v, want dense from 0", stops)
			break
		}
	}

	// Tool-use start carries id and name; its delta carries the JSON input.
	start := events[4].(*types.ConverseStreamOutputMemberContentBlockStart)
	tu, ok := start.Value.Start.(*types.ContentBlockStartMemberToolUse)
	if !ok {
		t.Fatalf("tool-use start = %T", start.Value.Start)
	}
	if aws.ToString(tu.Value.Name) != "get_weather" {
		t.Errorf("tool name = %q", aws.ToString(tu.Value.Name))
	}
	delta := events[5].(*types.ConverseStreamOutputMemberContentBlockDelta)
	du, ok := delta.Value.Delta.(*types.ContentBlockDeltaMemberToolUse)
	if !ok {
		t.Fatalf("tool-use delta = %T", delta.Value.Delta)
	}
	if !strings.Contains(aws.ToString(du.Value.Input), "SF") {
		t.Errorf("tool input = %q", aws.ToString(du.Value.Input))
	}
}

func TestFakeStreamCloseEarly(t *testing.T) {
	defer goleak.VerifyNone(t)

	out := assistantOutput(
		&types.ContentBlockMemberText{Value: "a"},
		&types.ContentBlockMemberText{Value: "b"},
		&types.ContentBlockMemberText{Value: "c"},
	)
	stream := newFakeConverseStream(out)
	<-stream.Events()
	if err := stream.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	// The emitter exits; the channel drains and closes.
	for range stream.Events() {
	}
	if stream.Err() != nil {
		t.Errorf("Err = %v", stream.Err())
	}
}

func TestBedrockConverseBlockBeforeProvider(t *testing.T) {
	setupState(t, agentsec.WithLLMMode(agentsec.ModeOnEnforce))
	srv, _ := inspectionServer(t, map[string]any{
		"action": "Block",
		"rules": []any{
			map[string]any{"rule_name": "Prompt Injection", "classification": "SECURITY_VIOLATION"},
		},
	})
	provider := &fakeBedrock{converseOut: assistantOutput(&types.ContentBlockMemberText{Value: "never"})}
	wrapped := WrapBedrock(provider, WithBedrockInspector(testLLMInspector(t, srv.URL, true)))

	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String("anthropic.claude-3"),
		Messages: []types.Message{{
			Role:    types.ConversationRoleUser,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: "bad prompt"}},
		}},
	}
	_, err := wrapped.Converse(context.Background(), input)
	if !errors.Is(err, agentsec.ErrSecurityPolicy) {
		t.Fatalf("err = %v, want ErrSecurityPolicy", err)
	}
	if provider.converseCalls.Load() != 0 {
		t.Errorf("provider invoked despite block")
	}
}

func TestBedrockConverseAllowFlow(t *testing.T) {
	setupState(t, agentsec.WithLLMMode(agentsec.ModeOnEnforce))
	srv, inspections := inspectionServer(t, map[string]any{"action": "Allow"})
	provider := &fakeBedrock{converseOut: assistantOutput(&types.ContentBlockMemberText{Value: "Hello"})}
	wrapped := WrapBedrock(provider, WithBedrockInspector(testLLMInspector(t, srv.URL, true)))

	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String("anthropic.claude-3"),
		Messages: []types.Message{{
			Role:    types.ConversationRoleUser,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: "Hi"}},
		}},
	}
	out, err := wrapped.Converse(context.Background(), input)
	if err != nil {
		t.Fatalf("Converse: %v", err)
	}
	if converseOutputText(out) != "Hello" {
		t.Errorf("output text = %q", converseOutputText(out))
	}
	if inspections.Load() != 2 {
		t.Errorf("inspections = %d, want 2", inspections.Load())
	}
}

func TestBedrockGatewayStreaming(t *testing.T) {
	defer goleak.VerifyNone(t)

	var gotOp, gotModel string
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotOp = r.Header.Get("X-Bedrock-Operation")
		gotModel = r.Header.Get("X-Bedrock-Model-Id")
		json.NewEncoder(w).Encode(map[string]any{
			"output": map[string]any{
				"message": map[string]any{
					"role":    "assistant",
					"content": []any{map[string]any{"text": "Hello"}},
				},
			},
			"stopReason": "end_turn",
			"usage":      map[string]any{"inputTokens": 1, "outputTokens": 2, "totalTokens": 3},
			"metrics":    map[string]any{"latencyMs": 42},
		})
	}))
	defer gw.Close()

	setupState(t,
		agentsec.WithLLMMode(agentsec.ModeOnEnforce),
		agentsec.WithLLMIntegrationMode(agentsec.IntegrationGateway),
		agentsec.WithProviderGateway(agentsec.ProviderBedrock, gw.URL, "gw-key"),
	)

	provider := &fakeBedrock{}
	wrapped := WrapBedrock(provider)

	input := &bedrockruntime.ConverseStreamInput{
		ModelId: aws.String("anthropic.claude-3"),
		Messages: []types.Message{{
			Role:    types.ConversationRoleUser,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: "Hi"}},
		}},
	}
	stream, err := wrapped.ConverseStream(context.Background(), input)
	if err != nil {
		t.Fatalf("ConverseStream: %v", err)
	}
	defer stream.Close()

	var events []types.ConverseStreamOutput
	for ev := range stream.Events() {
		events = append(events, ev)
	}
	if provider.converseCalls.Load() != 0 {
		t.Errorf("provider invoked in gateway mode")
	}
	if gotOp != "ConverseStream" || gotModel != "anthropic.claude-3" {
		t.Errorf("headers = %q %q", gotOp, gotModel)
	}
	if len(events) != 6 {
		t.Fatalf("events = %d, want 6", len(events))
	}

	start := events[0].(*types.ConverseStreamOutputMemberMessageStart)
	if start.Value.Role != types.ConversationRoleAssistant {
		t.Errorf("messageStart role = %q", start.Value.Role)
	}
	blockStart := events[1].(*types.ConverseStreamOutputMemberContentBlockStart)
	if aws.ToInt32(blockStart.Value.ContentBlockIndex) != 0 {
		t.Errorf("start index = %d", aws.ToInt32(blockStart.Value.ContentBlockIndex))
	}
	delta := events[2].(*types.ConverseStreamOutputMemberContentBlockDelta)
	text, ok := delta.Value.Delta.(*types.ContentBlockDeltaMemberText)
	if !ok || text.Value != "Hello" {
		t.Errorf("delta = %#v", delta.Value.Delta)
	}
	if _, ok := events[3].(*types.ConverseStreamOutputMemberContentBlockStop); !ok {
		t.Errorf("event 3 = %T", events[3])
	}
	stop := events[4].(*types.ConverseStreamOutputMemberMessageStop)
	if stop.Value.StopReason != types.StopReason("end_turn") {
		t.Errorf("stopReason = %q", stop.Value.StopReason)
	}
	meta := events[5].(*types.ConverseStreamOutputMemberMetadata)
	if aws.ToInt32(meta.Value.Usage.TotalTokens) != 3 {
		t.Errorf("usage = %+v", meta.Value.Usage)
	}
	if aws.ToInt64(meta.Value.Metrics.LatencyMs) != 42 {
		t.Errorf("metrics = %+v", meta.Value.Metrics)
	}
}

func TestBedrockInvokeModelGateway(t *testing.T) {
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"content":[{"type":"text","text":"gateway says hi"}]}`))
	}))
	defer gw.Close()

	setupState(t,
		agentsec.WithLLMMode(agentsec.ModeOnEnforce),
		agentsec.WithLLMIntegrationMode(agentsec.IntegrationGateway),
		agentsec.WithProviderGateway(agentsec.ProviderBedrock, gw.URL, "gw-key"),
	)

	provider := &fakeBedrock{}
	wrapped := WrapBedrock(provider)

	out, err := wrapped.InvokeModel(context.Background(), &bedrockruntime.InvokeModelInput{
		ModelId: aws.String("anthropic.claude-3"),
		Body:    []byte(`{"messages":[{"role":"user","content":"Hi"}]}`),
	})
	if err != nil {
		t.Fatalf("InvokeModel: %v", err)
	}
	if provider.invokeCalls.Load() != 0 {
		t.Errorf("provider invoked in gateway mode")
	}
	if invokeModelResponseText(out.Body) != "gateway says hi" {
		t.Errorf("body = %s", out.Body)
	}
}

func TestBedrockInvokeModelAllowFlow(t *testing.T) {
	setupState(t, agentsec.WithLLMMode(agentsec.ModeOnEnforce))
	srv, inspections := inspectionServer(t, map[string]any{"action": "Allow"})
	provider := &fakeBedrock{invokeOut: &bedrockruntime.InvokeModelOutput{
		Body: []byte(`{"results":[{"outputText":"titan answer"}]}`),
	}}
	wrapped := WrapBedrock(provider, WithBedrockInspector(testLLMInspector(t, srv.URL, true)))

	out, err := wrapped.InvokeModel(context.Background(), &bedrockruntime.InvokeModelInput{
		ModelId: aws.String("amazon.titan-text"),
		Body:    []byte(`{"inputText":"summarize"}`),
	})
	if err != nil {
		t.Fatalf("InvokeModel: %v", err)
	}
	if invokeModelResponseText(out.Body) != "titan answer" {
		t.Errorf("body = %s", out.Body)
	}
	if inspections.Load() != 2 {
		t.Errorf("inspections = %d, want 2", inspections.Load())
	}
}
