package agentsec

import (
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/joho/godotenv"

	"github.com/cisco-ai-defense/ai-defense-go-sdk/runtime"
)

// overrides is the explicit-argument layer of the resolution priority.
// A nil field means "not overridden".
type overrides struct {
	llmMode            *Mode
	mcpMode            *Mode
	llmIntegrationMode *IntegrationMode
	mcpIntegrationMode *IntegrationMode
	apiLLMEndpoint     *string
	apiLLMAPIKey       *string
	apiMCPEndpoint     *string
	apiMCPAPIKey       *string
	apiFailOpenLLM     *bool
	apiFailOpenMCP     *bool
	gatewayFailOpenLLM *bool
	gatewayFailOpenMCP *bool
	mcpGatewayURL      *string
	mcpGatewayAPIKey   *string
	mcpGatewayMode     *string
	providers          map[string]ProviderGateway
	llmRules           []runtime.Rule
	timeoutMS          *int
	retryAttempts      *int

	autoDotenv bool
	dotenvPath string
	logger     *slog.Logger
}

// Option configures Protect.
type Option func(*overrides)

// WithLLMMode sets the LLM inspection mode (off, monitor, on_enforce).
func WithLLMMode(m Mode) Option {
	return func(o *overrides) { o.llmMode = &m }
}

// WithMCPMode sets the MCP inspection mode (off, monitor, on_enforce).
func WithMCPMode(m Mode) Option {
	return func(o *overrides) { o.mcpMode = &m }
}

// WithLLMIntegrationMode selects api or gateway integration for LLM calls.
func WithLLMIntegrationMode(m IntegrationMode) Option {
	return func(o *overrides) { o.llmIntegrationMode = &m }
}

// WithMCPIntegrationMode selects api or gateway integration for MCP calls.
func WithMCPIntegrationMode(m IntegrationMode) Option {
	return func(o *overrides) { o.mcpIntegrationMode = &m }
}

// WithLLMEndpoint sets the API-mode LLM inspection endpoint.
func WithLLMEndpoint(url string) Option {
	return func(o *overrides) { o.apiLLMEndpoint = &url }
}

// WithLLMAPIKey sets the API-mode LLM inspection API key.
func WithLLMAPIKey(key string) Option {
	return func(o *overrides) { o.apiLLMAPIKey = &key }
}

// WithMCPEndpoint sets the API-mode MCP inspection endpoint.
func WithMCPEndpoint(url string) Option {
	return func(o *overrides) { o.apiMCPEndpoint = &url }
}

// WithMCPAPIKey sets the API-mode MCP inspection API key.
func WithMCPAPIKey(key string) Option {
	return func(o *overrides) { o.apiMCPAPIKey = &key }
}

// WithAPIFailOpenLLM toggles fail-open for API-mode LLM inspection.
func WithAPIFailOpenLLM(v bool) Option {
	return func(o *overrides) { o.apiFailOpenLLM = &v }
}

// WithAPIFailOpenMCP toggles fail-open for API-mode MCP inspection.
func WithAPIFailOpenMCP(v bool) Option {
	return func(o *overrides) { o.apiFailOpenMCP = &v }
}

// WithGatewayFailOpenLLM toggles fail-open for gateway-mode LLM calls.
func WithGatewayFailOpenLLM(v bool) Option {
	return func(o *overrides) { o.gatewayFailOpenLLM = &v }
}

// WithGatewayFailOpenMCP toggles fail-open for gateway-mode MCP calls.
func WithGatewayFailOpenMCP(v bool) Option {
	return func(o *overrides) { o.gatewayFailOpenMCP = &v }
}

// WithMCPGateway configures the MCP gateway redirect.
func WithMCPGateway(url, apiKey string) Option {
	return func(o *overrides) {
		mode := "on"
		o.mcpGatewayURL = &url
		o.mcpGatewayAPIKey = &apiKey
		o.mcpGatewayMode = &mode
	}
}

// WithProviderGateway adds a per-provider LLM gateway routing entry.
func WithProviderGateway(provider, url, apiKey string) Option {
	return func(o *overrides) {
		if o.providers == nil {
			o.providers = map[string]ProviderGateway{}
		}
		o.providers[provider] = ProviderGateway{URL: url, APIKey: apiKey}
	}
}

// WithLLMRules sets the default inspection rule list sent with every LLM
// inspection.
func WithLLMRules(rules []runtime.Rule) Option {
	return func(o *overrides) { o.llmRules = rules }
}

// WithInspectionTimeoutMS bounds each outbound inspection request.
func WithInspectionTimeoutMS(ms int) Option {
	return func(o *overrides) { o.timeoutMS = &ms }
}

// WithRetryAttempts sets the number of inspection attempts (minimum 1).
func WithRetryAttempts(n int) Option {
	return func(o *overrides) { o.retryAttempts = &n }
}

// WithAutoDotenv toggles loading a .env file before resolving settings.
func WithAutoDotenv(v bool) Option {
	return func(o *overrides) { o.autoDotenv = v }
}

// WithDotenvPath loads a specific dotenv file before resolving settings.
func WithDotenvPath(path string) Option {
	return func(o *overrides) {
		o.autoDotenv = true
		o.dotenvPath = path
	}
}

// WithProtectLogger sets the logger used during bootstrap.
func WithProtectLogger(l *slog.Logger) Option {
	return func(o *overrides) { o.logger = l }
}

// armFuncs are the provider registration hooks installed by the patchers
// package at init time.
var armFuncs = struct {
	mu    sync.Mutex
	funcs map[string]func(*Settings) error
}{funcs: map[string]func(*Settings) error{}}

// RegisterProvider installs a provider arm hook run by Protect. Called from
// provider wrapper packages at init time.
func RegisterProvider(name string, arm func(*Settings) error) {
	armFuncs.mu.Lock()
	defer armFuncs.mu.Unlock()
	armFuncs.funcs[name] = arm
}

var protectMu sync.Mutex

// Protect resolves and freezes the process-wide security settings, then
// arms every registered provider wrapper. Field resolution priority is
// explicit option > environment variable > default. Re-invocation after a
// successful bootstrap is a no-op.
//
// Individual provider arm failures are logged and recorded, never raised:
// a missing provider library must not take down the application.
func Protect(opts ...Option) error {
	protectMu.Lock()
	defer protectMu.Unlock()

	o := &overrides{autoDotenv: true}
	for _, opt := range opts {
		opt(o)
	}
	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	if Current().Initialized() {
		logger.Debug("agentsec already initialized, protect is a no-op")
		return nil
	}

	if o.autoDotenv {
		path := o.dotenvPath
		if path == "" {
			path = ".env"
		}
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err != nil {
				logger.Warn("failed to load dotenv file", "path", path, "error", err)
			}
		}
	}

	s, err := resolveSettings(o)
	if err != nil {
		return err
	}
	s.initialized = true
	setState(s)

	armFuncs.mu.Lock()
	names := make([]string, 0, len(armFuncs.funcs))
	for name := range armFuncs.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	funcs := make(map[string]func(*Settings) error, len(armFuncs.funcs))
	for name, fn := range armFuncs.funcs {
		funcs[name] = fn
	}
	armFuncs.mu.Unlock()

	for _, name := range names {
		if IsPatched(name) {
			continue
		}
		if err := funcs[name](s); err != nil {
			logger.Warn("provider registration failed", "provider", name, "error", err)
			continue
		}
		MarkPatched(name)
		logger.Debug("provider armed", "provider", name)
	}

	logger.Info("agentsec initialized",
		"llm_mode", s.LLMMode,
		"mcp_mode", s.MCPMode,
		"llm_integration", s.LLMIntegrationMode,
		"mcp_integration", s.MCPIntegrationMode,
		"patched", PatchedClients(),
	)
	return nil
}

// GetPatchedClients returns the names of successfully armed providers.
func GetPatchedClients() []string {
	return PatchedClients()
}
