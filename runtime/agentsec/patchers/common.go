// Package patchers provides inspection-aware wrappers for provider client
// libraries: OpenAI and Vertex AI chat completions, Amazon Bedrock runtime
// calls, and MCP tool sessions. Each wrapper runs the same five-step flow
// around the delegated call: early-out on skip/done, normalize the native
// request into canonical messages, pre-inspect (API mode) or route through
// the AI Defense gateway, delegate, post-inspect the response.
package patchers

import (
	"fmt"
	"strings"

	"github.com/cisco-ai-defense/ai-defense-go-sdk/runtime"
	"github.com/cisco-ai-defense/ai-defense-go-sdk/runtime/agentsec"
)

// applyLLMDecision records a decision on the call context and, under
// on_enforce, turns a block into a SecurityPolicyError. done marks the
// logical call finished so nested wrapped calls forward unchanged.
func applyLLMDecision(cc *agentsec.CallContext, d agentsec.Decision, done bool) error {
	if d.Blocked() && agentsec.Current().LLMMode == agentsec.ModeOnEnforce {
		cc.Set(&d, true)
		return agentsec.NewSecurityPolicyError(d)
	}
	cc.Set(&d, done)
	return nil
}

// applyMCPDecision is applyLLMDecision for the MCP mode flag.
func applyMCPDecision(cc *agentsec.CallContext, d agentsec.Decision, done bool) error {
	if d.Blocked() && agentsec.Current().MCPMode == agentsec.ModeOnEnforce {
		cc.Set(&d, true)
		return agentsec.NewSecurityPolicyError(d)
	}
	cc.Set(&d, done)
	return nil
}

// appendAssistant returns the conversation extended with the assistant
// response text, for post-inspection.
func appendAssistant(messages []runtime.Message, content string) []runtime.Message {
	out := make([]runtime.Message, 0, len(messages)+1)
	out = append(out, messages...)
	out = append(out, runtime.Message{Role: runtime.RoleAssistant, Content: content})
	return out
}

// joinNonEmpty joins the non-empty parts with newlines.
func joinNonEmpty(parts []string) string {
	kept := parts[:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n")
}

func init() {
	// Wrap-based decoration has no import-time hook to arm; registration
	// makes the providers visible to Protect, which validates the gateway
	// routing for any provider the frozen settings route through it.
	for _, provider := range []string{
		agentsec.ProviderOpenAI,
		agentsec.ProviderBedrock,
		agentsec.ProviderVertexAI,
	} {
		name := provider
		agentsec.RegisterProvider(name, func(s *agentsec.Settings) error {
			if s.LLMIntegrationMode != agentsec.IntegrationGateway {
				return nil
			}
			if gw, ok := s.Provider(name); ok && gw.URL != "" {
				return nil
			}
			return fmt.Errorf("gateway integration selected but no gateway URL configured for %s", name)
		})
	}
	agentsec.RegisterProvider("mcp", func(s *agentsec.Settings) error {
		if s.MCPIntegrationMode == agentsec.IntegrationGateway && s.MCPGatewayMode == "on" && s.MCPGatewayURL == "" {
			return fmt.Errorf("gateway integration selected but no gateway URL configured for mcp")
		}
		return nil
	})
}
