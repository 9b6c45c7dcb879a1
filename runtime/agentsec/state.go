package agentsec

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/cisco-ai-defense/ai-defense-go-sdk/runtime"
)

// Mode selects how inspection verdicts are applied for a call family.
type Mode string

// Inspection modes.
const (
	ModeOff       Mode = "off"
	ModeMonitor   Mode = "monitor"
	ModeOnEnforce Mode = "on_enforce"
)

// IntegrationMode selects where inspection happens: out-of-band API calls
// or routing the provider call itself through the AI Defense gateway.
type IntegrationMode string

// Integration modes.
const (
	IntegrationAPI     IntegrationMode = "api"
	IntegrationGateway IntegrationMode = "gateway"
)

// Provider names recognized by the gateway routing table.
const (
	ProviderOpenAI   = "openai"
	ProviderBedrock  = "bedrock"
	ProviderVertexAI = "vertexai"
	ProviderAzure    = "azure"
)

// knownProviders enumerates the providers whose gateway env vars are read.
var knownProviders = []string{ProviderOpenAI, ProviderBedrock, ProviderVertexAI, ProviderAzure}

// ProviderGateway is one entry of the per-provider gateway routing table.
type ProviderGateway struct {
	URL    string `validate:"omitempty,url"`
	APIKey string
}

// Settings is the process-wide runtime state resolved at Protect time.
// After Protect freezes it, getters are safe for unbounded concurrent
// readers and no field changes for the process lifetime.
type Settings struct {
	LLMMode Mode `validate:"oneof=off monitor on_enforce"`
	MCPMode Mode `validate:"oneof=off monitor on_enforce"`

	LLMIntegrationMode IntegrationMode `validate:"oneof=api gateway"`
	MCPIntegrationMode IntegrationMode `validate:"oneof=api gateway"`

	APILLMEndpoint string `validate:"omitempty,url"`
	APILLMAPIKey   string
	APIMCPEndpoint string `validate:"omitempty,url"`
	APIMCPAPIKey   string

	APIFailOpenLLM     bool
	APIFailOpenMCP     bool
	GatewayFailOpenLLM bool
	GatewayFailOpenMCP bool

	MCPGatewayURL    string `validate:"omitempty,url"`
	MCPGatewayAPIKey string
	MCPGatewayMode   string `validate:"oneof=off on"`

	// Providers maps a provider name to its LLM gateway routing entry.
	Providers map[string]ProviderGateway

	// LLMRules is the default inspection rule set sent with every LLM
	// inspection when non-empty.
	LLMRules []runtime.Rule

	// TimeoutMS bounds each outbound inspection request, in milliseconds.
	TimeoutMS int `validate:"gt=0"`
	// RetryAttempts is the number of inspection attempts (minimum 1).
	RetryAttempts int `validate:"gte=1"`

	initialized bool
}

// Initialized reports whether Protect has frozen this configuration.
func (s *Settings) Initialized() bool { return s.initialized }

// Provider returns the gateway routing entry for a provider name.
func (s *Settings) Provider(name string) (ProviderGateway, bool) {
	gw, ok := s.Providers[strings.ToLower(name)]
	return gw, ok
}

var (
	stateMu sync.RWMutex
	state   = defaultSettings()

	settingsValidate = validator.New()
)

// defaultSettings returns the documented defaults: monitor both families,
// API integration, fail-open everywhere, 1s inspection timeout, one attempt.
func defaultSettings() *Settings {
	return &Settings{
		LLMMode:            ModeMonitor,
		MCPMode:            ModeMonitor,
		LLMIntegrationMode: IntegrationAPI,
		MCPIntegrationMode: IntegrationAPI,
		APIFailOpenLLM:     true,
		APIFailOpenMCP:     true,
		GatewayFailOpenLLM: true,
		GatewayFailOpenMCP: true,
		MCPGatewayMode:     "off",
		Providers:          map[string]ProviderGateway{},
		TimeoutMS:          1000,
		RetryAttempts:      1,
	}
}

// Current returns the live settings snapshot. Safe for unbounded readers.
func Current() *Settings {
	stateMu.RLock()
	defer stateMu.RUnlock()
	return state
}

// setState installs a new settings snapshot. Called only from the bootstrap
// pathway and from tests.
func setState(s *Settings) {
	stateMu.Lock()
	defer stateMu.Unlock()
	state = s
}

// ResetStateForTest restores default, unfrozen settings. Test use only.
func ResetStateForTest() {
	setState(defaultSettings())
}

// envSettings reads the environment layer of the resolution priority.
// Every binding lists its env var names in lookup order, so the MCP
// credentials fall back to the LLM values when unset.
func envSettings() (*viper.Viper, error) {
	v := viper.New()
	bindings := map[string][]string{
		"llm.mode":              {"AGENTSEC_API_MODE_LLM"},
		"mcp.mode":              {"AGENTSEC_API_MODE_MCP"},
		"llm.integration_mode":  {"AGENTSEC_LLM_INTEGRATION_MODE"},
		"mcp.integration_mode":  {"AGENTSEC_MCP_INTEGRATION_MODE"},
		"llm.endpoint":          {"AI_DEFENSE_API_MODE_LLM_ENDPOINT"},
		"llm.api_key":           {"AI_DEFENSE_API_MODE_LLM_API_KEY"},
		"mcp.endpoint":          {"AI_DEFENSE_API_MODE_MCP_ENDPOINT", "AI_DEFENSE_API_MODE_LLM_ENDPOINT"},
		"mcp.api_key":           {"AI_DEFENSE_API_MODE_MCP_API_KEY", "AI_DEFENSE_API_MODE_LLM_API_KEY"},
		"llm.fail_open":         {"AGENTSEC_FAIL_OPEN_LLM"},
		"mcp.fail_open":         {"AGENTSEC_FAIL_OPEN_MCP"},
		"llm.gateway_fail_open": {"AGENTSEC_GATEWAY_FAIL_OPEN_LLM"},
		"mcp.gateway_fail_open": {"AGENTSEC_GATEWAY_FAIL_OPEN_MCP"},
		"mcp.gateway_url":       {"AGENTSEC_MCP_GATEWAY_URL"},
		"mcp.gateway_api_key":   {"AGENTSEC_MCP_GATEWAY_API_KEY"},
		"mcp.gateway_mode":      {"AGENTSEC_MCP_GATEWAY_MODE"},
		"llm.rules_file":        {"AGENTSEC_LLM_RULES_FILE"},
		"timeout_ms":            {"AGENTSEC_TIMEOUT_MS"},
		"retry_attempts":        {"AGENTSEC_RETRY_ATTEMPTS"},
	}
	for _, provider := range knownProviders {
		upper := strings.ToUpper(provider)
		bindings["providers."+provider+".url"] = []string{fmt.Sprintf("AGENTSEC_%s_GATEWAY_URL", upper)}
		bindings["providers."+provider+".api_key"] = []string{fmt.Sprintf("AGENTSEC_%s_GATEWAY_API_KEY", upper)}
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("binding %s: %w", key, err)
		}
	}
	return v, nil
}

// resolveSettings builds a Settings snapshot from the environment layer and
// the explicit overrides, honoring the priority explicit > env > default.
func resolveSettings(o *overrides) (*Settings, error) {
	s := defaultSettings()
	env, err := envSettings()
	if err != nil {
		return nil, err
	}

	applyMode := func(dst *Mode, key string, override *Mode) {
		if v := env.GetString(key); v != "" {
			*dst = Mode(strings.ToLower(v))
		}
		if override != nil {
			*dst = *override
		}
	}
	applyIntegration := func(dst *IntegrationMode, key string, override *IntegrationMode) {
		if v := env.GetString(key); v != "" {
			*dst = IntegrationMode(strings.ToLower(v))
		}
		if override != nil {
			*dst = *override
		}
	}
	applyString := func(dst *string, key string, override *string) {
		if v := env.GetString(key); v != "" {
			*dst = v
		}
		if override != nil {
			*dst = *override
		}
	}
	applyBool := func(dst *bool, key string, override *bool) {
		if env.IsSet(key) && env.GetString(key) != "" {
			*dst = env.GetBool(key)
		}
		if override != nil {
			*dst = *override
		}
	}
	applyInt := func(dst *int, key string, override *int) {
		if v := env.GetInt(key); v != 0 {
			*dst = v
		}
		if override != nil {
			*dst = *override
		}
	}

	applyMode(&s.LLMMode, "llm.mode", o.llmMode)
	applyMode(&s.MCPMode, "mcp.mode", o.mcpMode)
	applyIntegration(&s.LLMIntegrationMode, "llm.integration_mode", o.llmIntegrationMode)
	applyIntegration(&s.MCPIntegrationMode, "mcp.integration_mode", o.mcpIntegrationMode)
	applyString(&s.APILLMEndpoint, "llm.endpoint", o.apiLLMEndpoint)
	applyString(&s.APILLMAPIKey, "llm.api_key", o.apiLLMAPIKey)
	applyString(&s.APIMCPEndpoint, "mcp.endpoint", o.apiMCPEndpoint)
	applyString(&s.APIMCPAPIKey, "mcp.api_key", o.apiMCPAPIKey)
	applyBool(&s.APIFailOpenLLM, "llm.fail_open", o.apiFailOpenLLM)
	applyBool(&s.APIFailOpenMCP, "mcp.fail_open", o.apiFailOpenMCP)
	applyBool(&s.GatewayFailOpenLLM, "llm.gateway_fail_open", o.gatewayFailOpenLLM)
	applyBool(&s.GatewayFailOpenMCP, "mcp.gateway_fail_open", o.gatewayFailOpenMCP)
	applyString(&s.MCPGatewayURL, "mcp.gateway_url", o.mcpGatewayURL)
	applyString(&s.MCPGatewayAPIKey, "mcp.gateway_api_key", o.mcpGatewayAPIKey)
	applyString(&s.MCPGatewayMode, "mcp.gateway_mode", o.mcpGatewayMode)
	applyInt(&s.TimeoutMS, "timeout_ms", o.timeoutMS)
	applyInt(&s.RetryAttempts, "retry_attempts", o.retryAttempts)

	for _, provider := range knownProviders {
		gw := ProviderGateway{
			URL:    env.GetString("providers." + provider + ".url"),
			APIKey: env.GetString("providers." + provider + ".api_key"),
		}
		if gw.URL != "" || gw.APIKey != "" {
			s.Providers[provider] = gw
		}
	}
	for name, gw := range o.providers {
		s.Providers[strings.ToLower(name)] = gw
	}

	if o.llmRules != nil {
		s.LLMRules = o.llmRules
	} else if rulesFile := env.GetString("llm.rules_file"); rulesFile != "" {
		rules, err := loadRulesFile(rulesFile)
		if err != nil {
			return nil, err
		}
		s.LLMRules = rules
	}

	if s.RetryAttempts < 1 {
		s.RetryAttempts = 1
	}
	if err := settingsValidate.Struct(s); err != nil {
		return nil, fmt.Errorf("invalid agentsec settings: %w", err)
	}
	for name, gw := range s.Providers {
		if err := settingsValidate.Struct(gw); err != nil {
			return nil, fmt.Errorf("invalid gateway entry for provider %s: %w", name, err)
		}
	}
	return s, nil
}

// rulesFileDoc is the YAML shape of the optional default-rules file.
type rulesFileDoc struct {
	Rules []struct {
		RuleName    string   `yaml:"rule_name"`
		EntityTypes []string `yaml:"entity_types"`
	} `yaml:"rules"`
}

// loadRulesFile parses the AGENTSEC_LLM_RULES_FILE YAML document.
func loadRulesFile(path string) ([]runtime.Rule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rules file %s: %w", path, err)
	}
	var doc rulesFileDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing rules file %s: %w", path, err)
	}
	rules := make([]runtime.Rule, 0, len(doc.Rules))
	for _, r := range doc.Rules {
		rules = append(rules, runtime.Rule{
			RuleName:    runtime.RuleName(r.RuleName),
			EntityTypes: r.EntityTypes,
		})
	}
	return rules, nil
}
