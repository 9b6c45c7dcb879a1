package patchers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cisco-ai-defense/ai-defense-go-sdk/runtime/agentsec"
	"github.com/cisco-ai-defense/ai-defense-go-sdk/runtime/agentsec/inspectors"
)

func boolPtr(v bool) *bool { return &v }

func newTestMetrics() *agentsec.Metrics {
	return agentsec.NewMetrics(prometheus.NewRegistry())
}

// setupState resets the process-wide settings and registry, then bootstraps
// with the given options.
func setupState(t *testing.T, opts ...agentsec.Option) {
	t.Helper()
	agentsec.ResetStateForTest()
	agentsec.ResetRegistryForTest()
	t.Cleanup(func() {
		agentsec.ResetStateForTest()
		agentsec.ResetRegistryForTest()
	})
	base := []agentsec.Option{agentsec.WithAutoDotenv(false)}
	if err := agentsec.Protect(append(base, opts...)...); err != nil {
		t.Fatalf("Protect: %v", err)
	}
}

// inspectionServer serves a canned inspection verdict and counts requests.
func inspectionServer(t *testing.T, verdict map[string]any) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(verdict)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

// deadServer returns a base URL that refuses all connections.
func deadServer(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()
	return srv.URL
}

func testLLMInspector(t *testing.T, endpoint string, failOpen bool) *inspectors.LLMInspector {
	t.Helper()
	return inspectors.NewLLMInspector(inspectors.LLMOptions{
		APIKey:        "test-key",
		Endpoint:      endpoint,
		TimeoutMS:     2000,
		RetryAttempts: 1,
		FailOpen:      boolPtr(failOpen),
		Metrics:       newTestMetrics(),
	})
}

func testMCPInspector(t *testing.T, endpoint string, failOpen bool) *inspectors.MCPInspector {
	t.Helper()
	return inspectors.NewMCPInspector(inspectors.MCPOptions{
		APIKey:        "test-key",
		Endpoint:      endpoint,
		TimeoutMS:     2000,
		RetryAttempts: 1,
		FailOpen:      boolPtr(failOpen),
		Metrics:       newTestMetrics(),
	})
}
