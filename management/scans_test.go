package management

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cisco-ai-defense/ai-defense-go-sdk/aidefense"
)

const scanBase = "/api/ai-defense/v1"

// scanTestClient points both API bases at the test server; the scan routes
// live on the runtime base.
func scanTestClient(t *testing.T, baseURL string) *ManagementClient {
	t.Helper()
	cfg, err := aidefense.NewConfig(
		aidefense.WithManagementBaseURL(baseURL),
		aidefense.WithRuntimeBaseURL(baseURL),
		aidefense.WithRetry(aidefense.RetryConfig{Total: 0}),
	)
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	client, err := NewManagementClient("mgmt-key", cfg)
	if err != nil {
		t.Fatalf("NewManagementClient: %v", err)
	}
	client.Scans.pollInterval = time.Millisecond
	t.Cleanup(client.Close)
	return client
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestScanFileWorkflow(t *testing.T) {
	dir := t.TempDir()
	modelPath := filepath.Join(dir, "model.pkl")
	if err := os.WriteFile(modelPath, []byte("model-bytes"), 0o600); err != nil {
		t.Fatal(err)
	}

	var (
		objectReq map[string]any
		uploaded  []byte
		getCalls  int
	)
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc("POST "+scanBase+"/scans/register", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"scan_id": "scan-1"})
	})
	mux.HandleFunc("POST "+scanBase+"/scans/scan-1/objects", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&objectReq)
		writeJSON(w, map[string]any{"object_id": "obj-1", "upload_url": srv.URL + "/upload/obj-1"})
	})
	mux.HandleFunc("PUT /upload/obj-1", func(w http.ResponseWriter, r *http.Request) {
		uploaded, _ = io.ReadAll(r.Body)
	})
	mux.HandleFunc("PUT "+scanBase+"/scans/scan-1/run", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{})
	})
	mux.HandleFunc("GET "+scanBase+"/scans/scan-1", func(w http.ResponseWriter, r *http.Request) {
		getCalls++
		if getCalls < 2 {
			writeJSON(w, map[string]any{
				"scan_id":          "scan-1",
				"scan_status_info": map[string]any{"status": "IN_PROGRESS"},
			})
			return
		}
		writeJSON(w, map[string]any{
			"scan_id":          "scan-1",
			"scan_status_info": map[string]any{"status": "COMPLETED"},
			"results": []any{map[string]any{
				"file_name":     "model.pkl",
				"threats_found": true,
				"threats": []any{map[string]any{
					"type": "PICKLE_EXEC", "severity": "CRITICAL", "description": "arbitrary code on load",
				}},
			}},
		})
	})

	client := scanTestClient(t, srv.URL)
	scan, err := client.Scans.ScanFile(context.Background(), modelPath)
	if err != nil {
		t.Fatalf("ScanFile: %v", err)
	}
	if scan.StatusInfo.Status != ScanStatusCompleted {
		t.Errorf("status = %q", scan.StatusInfo.Status)
	}
	if len(scan.Results) != 1 || scan.Results[0].FileName != "model.pkl" || !scan.Results[0].ThreatsFound {
		t.Errorf("results = %+v", scan.Results)
	}
	if string(uploaded) != "model-bytes" {
		t.Errorf("uploaded = %q", uploaded)
	}
	if objectReq["file_name"] != "model.pkl" || objectReq["size"] != float64(len("model-bytes")) {
		t.Errorf("object request = %v", objectReq)
	}
	if getCalls != 2 {
		t.Errorf("status checks = %d, want 2", getCalls)
	}
}

func TestScanRepoWorkflow(t *testing.T) {
	var validateReq map[string]any
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc("POST "+scanBase+"/scans/register", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"scan_id": "scan-2"})
	})
	mux.HandleFunc("POST "+scanBase+"/scans/scan-2/validate_url", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&validateReq)
		writeJSON(w, map[string]any{})
	})
	mux.HandleFunc("PUT "+scanBase+"/scans/scan-2/run", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{})
	})
	mux.HandleFunc("GET "+scanBase+"/scans/scan-2", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"scan_id":          "scan-2",
			"scan_status_info": map[string]any{"status": "COMPLETED"},
			"analysis_results": map[string]any{"items": []any{map[string]any{
				"name": "weights.bin", "status": "COMPLETED",
			}}},
		})
	})

	client := scanTestClient(t, srv.URL)
	scan, err := client.Scans.ScanRepo(context.Background(), RepoScanConfig{
		URL:  "https://huggingface.co/acme/suspicious-model",
		Auth: HuggingFaceAuth{Token: "hf-token"},
	})
	if err != nil {
		t.Fatalf("ScanRepo: %v", err)
	}
	if scan.AnalysisResults == nil || len(scan.AnalysisResults.Items) != 1 {
		t.Fatalf("analysis = %+v", scan.AnalysisResults)
	}
	if scan.AnalysisResults.Items[0].Name != "weights.bin" {
		t.Errorf("file = %q", scan.AnalysisResults.Items[0].Name)
	}

	if validateReq["url"] != "https://huggingface.co/acme/suspicious-model" {
		t.Errorf("validated url = %v", validateReq["url"])
	}
	if validateReq["type"] != "HUGGING_FACE" {
		t.Errorf("url type = %v", validateReq["type"])
	}
	auth, _ := validateReq["auth"].(map[string]any)
	hf, _ := auth["huggingface"].(map[string]any)
	if hf["access_token"] != "hf-token" {
		t.Errorf("auth = %v", validateReq["auth"])
	}
}

func TestScanRepoRejectsUnknownHost(t *testing.T) {
	// Unsupported hosts fail before any request is made.
	client := scanTestClient(t, "http://127.0.0.1:1")
	_, err := client.Scans.ScanRepo(context.Background(), RepoScanConfig{URL: "https://example.com/model"})
	if !errors.Is(err, aidefense.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestScanFailureCleansUpSession(t *testing.T) {
	var canceled, deleted bool
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc("POST "+scanBase+"/scans/register", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"scan_id": "scan-3"})
	})
	mux.HandleFunc("POST "+scanBase+"/scans/scan-3/validate_url", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{})
	})
	mux.HandleFunc("PUT "+scanBase+"/scans/scan-3/run", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc("POST "+scanBase+"/scans/scan-3/cancel", func(w http.ResponseWriter, r *http.Request) {
		canceled = true
		writeJSON(w, map[string]any{})
	})
	mux.HandleFunc("GET "+scanBase+"/scans/scan-3", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"scan_id":          "scan-3",
			"scan_status_info": map[string]any{"status": "CANCELED"},
		})
	})
	mux.HandleFunc("DELETE "+scanBase+"/scans/scan-3", func(w http.ResponseWriter, r *http.Request) {
		deleted = true
		writeJSON(w, map[string]any{})
	})

	client := scanTestClient(t, srv.URL)
	_, err := client.Scans.ScanRepo(context.Background(), RepoScanConfig{
		URL: "https://huggingface.co/acme/model",
	})
	if !errors.Is(err, aidefense.ErrAPI) {
		t.Fatalf("err = %v, want ErrAPI", err)
	}
	if !canceled || !deleted {
		t.Errorf("canceled = %t, deleted = %t; want session cleaned up", canceled, deleted)
	}
}

func TestScanPollTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"scan_id":          "scan-4",
			"scan_status_info": map[string]any{"status": "IN_PROGRESS"},
		})
	}))
	t.Cleanup(srv.Close)

	client := scanTestClient(t, srv.URL)
	client.Scans.pollAttempts = 2
	_, err := client.Scans.waitForStatus(context.Background(), "scan-4", ScanStatusCompleted)
	if !errors.Is(err, aidefense.ErrAPI) || !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("err = %v, want timeout APIError", err)
	}
}

func TestListScans(t *testing.T) {
	srv, rec := managementServer(t, map[string]any{
		"scans": []any{map[string]any{
			"scan_id":          "scan-5",
			"scan_status_info": map[string]any{"status": "COMPLETED"},
		}},
		"total_count": 1,
	})

	client := scanTestClient(t, srv.URL)
	scans, err := client.Scans.List(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if rec.Path != scanBase+"/scans" {
		t.Errorf("path = %q", rec.Path)
	}
	if rec.Query["limit"] != "10" {
		t.Errorf("query = %v", rec.Query)
	}
	if rec.Header.Get(aidefense.APIKeyHeader) != "mgmt-key" {
		t.Errorf("auth header = %q", rec.Header.Get(aidefense.APIKeyHeader))
	}
	if len(scans.Items) != 1 || scans.Items[0].ScanID != "scan-5" || scans.TotalCount != 1 {
		t.Errorf("scans = %+v", scans)
	}
}
