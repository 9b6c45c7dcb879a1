package agentsec

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := vec.WithLabelValues(labels...).Write(m); err != nil {
		t.Fatalf("writing metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestMetricsRecording(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveInspection("llm", ActionBlock, 25*time.Millisecond)
	m.ObserveInspection("llm", ActionBlock, 10*time.Millisecond)
	m.ObserveInspection("mcp", ActionAllow, 5*time.Millisecond)
	m.ObserveInspectionError("llm", true)
	m.ObservePatchedCall("openai", "chat.completions")
	m.ObserveGatewayRequest("bedrock", 200)

	if got := counterValue(t, m.InspectionsTotal, "llm", "block"); got != 2 {
		t.Errorf("inspections_total{llm,block} = %v, want 2", got)
	}
	if got := counterValue(t, m.InspectionsTotal, "mcp", "allow"); got != 1 {
		t.Errorf("inspections_total{mcp,allow} = %v, want 1", got)
	}
	if got := counterValue(t, m.InspectionErrorsTotal, "llm", "true"); got != 1 {
		t.Errorf("inspection_errors_total{llm,true} = %v, want 1", got)
	}
	if got := counterValue(t, m.PatchedCallsTotal, "openai", "chat.completions"); got != 1 {
		t.Errorf("patched_calls_total = %v, want 1", got)
	}
	if got := counterValue(t, m.GatewayRequestsTotal, "bedrock", "200"); got != 1 {
		t.Errorf("gateway_requests_total = %v, want 1", got)
	}
}

func TestMetricsRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.ObserveInspection("llm", ActionAllow, time.Millisecond)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"aidefense_inspections_total",
		"aidefense_inspection_duration_seconds",
	} {
		if !names[want] {
			t.Errorf("metric %s not registered", want)
		}
	}
}
