package patchers

import (
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/cisco-ai-defense/ai-defense-go-sdk/runtime"
)

// toolResultTruncateLen caps the tool-result text carried in a marker; the
// inspection service has no native tool-result content type yet.
const toolResultTruncateLen = 100

// converseMessages normalizes Converse-shaped system blocks and messages
// into canonical form. Tool-use and tool-result blocks become text markers;
// messages whose flattened text is empty are dropped.
func converseMessages(system []types.SystemContentBlock, messages []types.Message) []runtime.Message {
	var out []runtime.Message
	var sys []string
	for _, s := range system {
		if t, ok := s.(*types.SystemContentBlockMemberText); ok {
			sys = append(sys, t.Value)
		}
	}
	if text := joinNonEmpty(sys); text != "" {
		out = append(out, runtime.Message{Role: runtime.RoleSystem, Content: text})
	}
	for _, m := range messages {
		text := flattenContentBlocks(m.Content)
		if text == "" {
			continue
		}
		role := runtime.RoleUser
		if m.Role == types.ConversationRoleAssistant {
			role = runtime.RoleAssistant
		}
		out = append(out, runtime.Message{Role: role, Content: text})
	}
	return out
}

func flattenContentBlocks(blocks []types.ContentBlock) string {
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		switch v := b.(type) {
		case *types.ContentBlockMemberText:
			parts = append(parts, v.Value)
		case *types.ContentBlockMemberToolUse:
			parts = append(parts, fmt.Sprintf("[Tool call: %s]", aws.ToString(v.Value.Name)))
		case *types.ContentBlockMemberToolResult:
			parts = append(parts, toolResultMarker(v.Value))
		}
	}
	return joinNonEmpty(parts)
}

func toolResultMarker(tr types.ToolResultBlock) string {
	var texts []string
	for _, c := range tr.Content {
		if t, ok := c.(*types.ToolResultContentBlockMemberText); ok {
			texts = append(texts, t.Value)
		}
	}
	return toolResultMarkerText(joinNonEmpty(texts))
}

func toolResultMarkerText(text string) string {
	if len(text) > toolResultTruncateLen {
		return fmt.Sprintf("[Tool result: %s...]", text[:toolResultTruncateLen])
	}
	return fmt.Sprintf("[Tool result: %s]", text)
}

// invokeModelMessages normalizes an InvokeModel request body. Three body
// families are recognized: Anthropic Claude (messages plus optional system),
// Amazon Titan (inputText), and the generic prompt field. Anything else
// yields no messages and is forwarded uninspected.
func invokeModelMessages(body []byte) []runtime.Message {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil
	}
	if msgs, ok := doc["messages"].([]any); ok {
		return claudeMessages(doc, msgs)
	}
	if t, ok := doc["inputText"].(string); ok && t != "" {
		return []runtime.Message{{Role: runtime.RoleUser, Content: t}}
	}
	if p, ok := doc["prompt"].(string); ok && p != "" {
		return []runtime.Message{{Role: runtime.RoleUser, Content: p}}
	}
	return nil
}

func claudeMessages(doc map[string]any, msgs []any) []runtime.Message {
	var out []runtime.Message
	if system, ok := doc["system"].(string); ok && system != "" {
		out = append(out, runtime.Message{Role: runtime.RoleSystem, Content: system})
	}
	for _, m := range msgs {
		entry, ok := m.(map[string]any)
		if !ok {
			continue
		}
		text := claudeContentText(entry["content"])
		if text == "" {
			continue
		}
		role := runtime.RoleUser
		if r, _ := entry["role"].(string); r == "assistant" {
			role = runtime.RoleAssistant
		}
		out = append(out, runtime.Message{Role: role, Content: text})
	}
	return out
}

// claudeContentText flattens a Claude content value, which is either a plain
// string or a list of typed blocks.
func claudeContentText(content any) string {
	switch c := content.(type) {
	case string:
		return c
	case []any:
		var parts []string
		for _, b := range c {
			block, ok := b.(map[string]any)
			if !ok {
				continue
			}
			switch block["type"] {
			case "text":
				if t, ok := block["text"].(string); ok {
					parts = append(parts, t)
				}
			case "tool_use":
				name, _ := block["name"].(string)
				parts = append(parts, fmt.Sprintf("[Tool call: %s]", name))
			case "tool_result":
				parts = append(parts, toolResultMarkerText(claudeContentText(block["content"])))
			}
		}
		return joinNonEmpty(parts)
	}
	return ""
}

// converseOutputText concatenates the text blocks of a Converse response
// message for post-inspection.
func converseOutputText(out *bedrockruntime.ConverseOutput) string {
	if out == nil {
		return ""
	}
	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return ""
	}
	var parts []string
	for _, b := range msg.Value.Content {
		if t, ok := b.(*types.ContentBlockMemberText); ok {
			parts = append(parts, t.Value)
		}
	}
	return joinNonEmpty(parts)
}

// invokeModelResponseText extracts the generated text from an InvokeModel
// response body per family: Claude content blocks, Titan results, or the
// generic completion/generation string.
func invokeModelResponseText(body []byte) string {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return ""
	}
	if content, ok := doc["content"].([]any); ok {
		var parts []string
		for _, b := range content {
			if block, ok := b.(map[string]any); ok {
				if t, ok := block["text"].(string); ok {
					parts = append(parts, t)
				}
			}
		}
		return joinNonEmpty(parts)
	}
	if results, ok := doc["results"].([]any); ok {
		var parts []string
		for _, r := range results {
			if entry, ok := r.(map[string]any); ok {
				if t, ok := entry["outputText"].(string); ok {
					parts = append(parts, t)
				}
			}
		}
		return joinNonEmpty(parts)
	}
	if t, ok := doc["completion"].(string); ok {
		return t
	}
	if t, ok := doc["generation"].(string); ok {
		return t
	}
	return ""
}

// encodeConverseInput renders Converse-shaped parameters as the Bedrock REST
// wire JSON the gateway proxies upstream. The SDK's union types carry no
// JSON tags, so the wire shape is built explicitly.
func encodeConverseInput(modelID *string, system []types.SystemContentBlock, messages []types.Message, inference *types.InferenceConfiguration) ([]byte, error) {
	wire := map[string]any{"modelId": aws.ToString(modelID)}

	var sys []map[string]any
	for _, s := range system {
		if t, ok := s.(*types.SystemContentBlockMemberText); ok {
			sys = append(sys, map[string]any{"text": t.Value})
		}
	}
	if len(sys) > 0 {
		wire["system"] = sys
	}

	wireMsgs := make([]map[string]any, 0, len(messages))
	for _, m := range messages {
		blocks := make([]map[string]any, 0, len(m.Content))
		for _, b := range m.Content {
			switch v := b.(type) {
			case *types.ContentBlockMemberText:
				blocks = append(blocks, map[string]any{"text": v.Value})
			case *types.ContentBlockMemberToolUse:
				tu := map[string]any{
					"toolUseId": aws.ToString(v.Value.ToolUseId),
					"name":      aws.ToString(v.Value.Name),
				}
				if raw := documentJSON(v.Value.Input); raw != nil {
					tu["input"] = raw
				}
				blocks = append(blocks, map[string]any{"toolUse": tu})
			case *types.ContentBlockMemberToolResult:
				var contents []map[string]any
				for _, c := range v.Value.Content {
					if t, ok := c.(*types.ToolResultContentBlockMemberText); ok {
						contents = append(contents, map[string]any{"text": t.Value})
					}
				}
				blocks = append(blocks, map[string]any{"toolResult": map[string]any{
					"toolUseId": aws.ToString(v.Value.ToolUseId),
					"content":   contents,
				}})
			}
		}
		wireMsgs = append(wireMsgs, map[string]any{"role": string(m.Role), "content": blocks})
	}
	wire["messages"] = wireMsgs

	if inference != nil {
		inf := map[string]any{}
		if inference.MaxTokens != nil {
			inf["maxTokens"] = *inference.MaxTokens
		}
		if inference.Temperature != nil {
			inf["temperature"] = *inference.Temperature
		}
		if inference.TopP != nil {
			inf["topP"] = *inference.TopP
		}
		if len(inf) > 0 {
			wire["inferenceConfig"] = inf
		}
	}
	return json.Marshal(wire)
}

type converseWireOutput struct {
	Output struct {
		Message struct {
			Role    string `json:"role"`
			Content []struct {
				Text    string `json:"text"`
				ToolUse *struct {
					ToolUseID string          `json:"toolUseId"`
					Name      string          `json:"name"`
					Input     json.RawMessage `json:"input"`
				} `json:"toolUse"`
			} `json:"content"`
		} `json:"message"`
	} `json:"output"`
	StopReason string `json:"stopReason"`
	Usage      *struct {
		InputTokens  int32 `json:"inputTokens"`
		OutputTokens int32 `json:"outputTokens"`
		TotalTokens  int32 `json:"totalTokens"`
	} `json:"usage"`
	Metrics *struct {
		LatencyMs int64 `json:"latencyMs"`
	} `json:"metrics"`
}

// decodeConverseOutput parses a gateway response back into the SDK's
// ConverseOutput union shape.
func decodeConverseOutput(raw []byte) (*bedrockruntime.ConverseOutput, error) {
	var wire converseWireOutput
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("decoding gateway converse response: %w", err)
	}
	msg := types.Message{Role: types.ConversationRoleAssistant}
	if wire.Output.Message.Role == "user" {
		msg.Role = types.ConversationRoleUser
	}
	for _, block := range wire.Output.Message.Content {
		if block.ToolUse != nil {
			tu := types.ToolUseBlock{
				ToolUseId: aws.String(block.ToolUse.ToolUseID),
				Name:      aws.String(block.ToolUse.Name),
			}
			if len(block.ToolUse.Input) > 0 {
				var v any
				if err := json.Unmarshal(block.ToolUse.Input, &v); err == nil {
					tu.Input = document.NewLazyDocument(v)
				}
			}
			msg.Content = append(msg.Content, &types.ContentBlockMemberToolUse{Value: tu})
			continue
		}
		msg.Content = append(msg.Content, &types.ContentBlockMemberText{Value: block.Text})
	}
	out := &bedrockruntime.ConverseOutput{
		Output:     &types.ConverseOutputMemberMessage{Value: msg},
		StopReason: types.StopReason(wire.StopReason),
	}
	if wire.Usage != nil {
		out.Usage = &types.TokenUsage{
			InputTokens:  aws.Int32(wire.Usage.InputTokens),
			OutputTokens: aws.Int32(wire.Usage.OutputTokens),
			TotalTokens:  aws.Int32(wire.Usage.TotalTokens),
		}
	}
	if wire.Metrics != nil {
		out.Metrics = &types.ConverseMetrics{LatencyMs: aws.Int64(wire.Metrics.LatencyMs)}
	}
	return out, nil
}

func documentJSON(doc document.Interface) json.RawMessage {
	if doc == nil {
		return nil
	}
	data, err := doc.MarshalSmithyDocument()
	if err != nil || len(data) == 0 {
		return nil
	}
	return json.RawMessage(data)
}
