package patchers

import (
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// ConverseStream is the streaming surface returned by the Bedrock wrapper:
// the SDK's event stream in API mode, a synthesized replay of the gateway's
// non-streaming response in gateway mode. Close releases the underlying
// resources and is safe to call more than once.
type ConverseStream interface {
	Events() <-chan types.ConverseStreamOutput
	Close() error
	Err() error
}

// sdkConverseStream adapts the SDK event stream to the ConverseStream
// interface.
type sdkConverseStream struct {
	es *bedrockruntime.ConverseStreamEventStream
}

func (s *sdkConverseStream) Events() <-chan types.ConverseStreamOutput { return s.es.Events() }
func (s *sdkConverseStream) Close() error                              { return s.es.Close() }
func (s *sdkConverseStream) Err() error                                { return s.es.Err() }

// fakeConverseStream replays a non-streaming Converse response as the event
// sequence a real ConverseStream emits: messageStart, then start/delta/stop
// per content block with dense indices from 0, then messageStop, then
// metadata. Consumers range over Events() exactly as with the SDK stream.
type fakeConverseStream struct {
	events    chan types.ConverseStreamOutput
	done      chan struct{}
	closeOnce sync.Once
}

func newFakeConverseStream(out *bedrockruntime.ConverseOutput) *fakeConverseStream {
	f := &fakeConverseStream{
		events: make(chan types.ConverseStreamOutput),
		done:   make(chan struct{}),
	}
	go f.emit(out)
	return f
}

func (f *fakeConverseStream) Events() <-chan types.ConverseStreamOutput { return f.events }

func (f *fakeConverseStream) Close() error {
	f.closeOnce.Do(func() { close(f.done) })
	return nil
}

func (f *fakeConverseStream) Err() error { return nil }

// send delivers one event unless the stream was closed first.
func (f *fakeConverseStream) send(ev types.ConverseStreamOutput) bool {
	select {
	case f.events <- ev:
		return true
	case <-f.done:
		return false
	}
}

func (f *fakeConverseStream) emit(out *bedrockruntime.ConverseOutput) {
	defer close(f.events)

	var msg types.Message
	if m, ok := out.Output.(*types.ConverseOutputMemberMessage); ok {
		msg = m.Value
	}
	role := msg.Role
	if role == "" {
		role = types.ConversationRoleAssistant
	}
	if !f.send(&types.ConverseStreamOutputMemberMessageStart{
		Value: types.MessageStartEvent{Role: role},
	}) {
		return
	}

	var index int32
	for _, block := range msg.Content {
		idx := aws.Int32(index)
		switch v := block.(type) {
		case *types.ContentBlockMemberText:
			// The SDK's start union has no text member; a synthesized text
			// block opens with a bare start event.
			if !f.send(&types.ConverseStreamOutputMemberContentBlockStart{
				Value: types.ContentBlockStartEvent{ContentBlockIndex: idx},
			}) {
				return
			}
			if !f.send(&types.ConverseStreamOutputMemberContentBlockDelta{
				Value: types.ContentBlockDeltaEvent{
					ContentBlockIndex: idx,
					Delta:             &types.ContentBlockDeltaMemberText{Value: v.Value},
				},
			}) {
				return
			}
		case *types.ContentBlockMemberToolUse:
			if !f.send(&types.ConverseStreamOutputMemberContentBlockStart{
				Value: types.ContentBlockStartEvent{
					ContentBlockIndex: idx,
					Start: &types.ContentBlockStartMemberToolUse{
						Value: types.ToolUseBlockStart{
							ToolUseId: v.Value.ToolUseId,
							Name:      v.Value.Name,
						},
					},
				},
			}) {
				return
			}
			input := string(documentJSON(v.Value.Input))
			if !f.send(&types.ConverseStreamOutputMemberContentBlockDelta{
				Value: types.ContentBlockDeltaEvent{
					ContentBlockIndex: idx,
					Delta:             &types.ContentBlockDeltaMemberToolUse{Value: types.ToolUseBlockDelta{Input: aws.String(input)}},
				},
			}) {
				return
			}
		default:
			continue
		}
		if !f.send(&types.ConverseStreamOutputMemberContentBlockStop{
			Value: types.ContentBlockStopEvent{ContentBlockIndex: idx},
		}) {
			return
		}
		index++
	}

	if !f.send(&types.ConverseStreamOutputMemberMessageStop{
		Value: types.MessageStopEvent{StopReason: out.StopReason},
	}) {
		return
	}

	meta := types.ConverseStreamMetadataEvent{Usage: out.Usage}
	if out.Metrics != nil {
		meta.Metrics = &types.ConverseStreamMetrics{LatencyMs: out.Metrics.LatencyMs}
	}
	f.send(&types.ConverseStreamOutputMemberMetadata{Value: meta})
}
