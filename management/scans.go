package management

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cisco-ai-defense/ai-defense-go-sdk/aidefense"
)

// Scan polling. A scan that has not reached a terminal status after
// scanPollAttempts checks is reported as timed out.
const (
	scanPollAttempts = 30
	scanPollInterval = 2 * time.Second
)

// endScanStatuses are the terminal states a running scan can settle into.
var endScanStatuses = []ScanStatus{ScanStatusCompleted, ScanStatusFailed, ScanStatusCanceled}

// ScanClient drives model scans: individual file uploads and whole
// repositories. ScanFile and ScanRepo run the complete workflow (register,
// submit, trigger, poll, clean up on failure); the step methods are exposed
// for callers that need finer control.
//
// The scan API is served from the runtime endpoint, unlike the other
// management resources.
type ScanClient struct {
	core
	uploadClient *http.Client

	pollInterval time.Duration
	pollAttempts int
}

func newScanClient(c core) *ScanClient {
	uploadClient := c.cfg.HTTPClient
	if uploadClient == nil {
		uploadClient = &http.Client{Timeout: c.cfg.Timeout}
	}
	return &ScanClient{
		core:         c,
		uploadClient: uploadClient,
		pollInterval: scanPollInterval,
		pollAttempts: scanPollAttempts,
	}
}

// do routes scan requests to the runtime endpoint.
func (c *ScanClient) do(ctx context.Context, method, path string, query url.Values, body any) (map[string]any, error) {
	return c.doBase(ctx, c.cfg.RuntimeBaseURL, method, path, query, body)
}

// Register creates a new scan session and returns its id.
func (c *ScanClient) Register(ctx context.Context) (string, error) {
	data, err := c.do(ctx, http.MethodPost, "scans/register", nil, nil)
	if err != nil {
		return "", err
	}
	scanID, _ := data["scan_id"].(string)
	if scanID == "" {
		return "", &aidefense.ResponseParseError{Message: "missing scan_id in register response", Raw: data}
	}
	return scanID, nil
}

// CreateObject registers a file within a scan session and returns the
// presigned URL its content is uploaded to.
func (c *ScanClient) CreateObject(ctx context.Context, scanID, fileName string, size int64) (*ScanObject, error) {
	body := map[string]any{"file_name": fileName, "size": size}
	data, err := c.do(ctx, http.MethodPost, "scans/"+scanID+"/objects", nil, body)
	if err != nil {
		return nil, err
	}
	var obj ScanObject
	if err := decodeInto(&obj, data, "scan object response"); err != nil {
		return nil, err
	}
	return &obj, nil
}

// UploadFile registers filePath within the scan and streams its content to
// the returned upload URL.
func (c *ScanClient) UploadFile(ctx context.Context, scanID, filePath string) error {
	info, err := os.Stat(filePath)
	if err != nil {
		return err
	}
	obj, err := c.CreateObject(ctx, scanID, filepath.Base(filePath), info.Size())
	if err != nil {
		return err
	}
	return c.putFile(ctx, obj.UploadURL, filePath, info.Size())
}

// putFile streams the file to the presigned upload URL. The upload bypasses
// the JSON request layer; presigned URLs carry their own authorization.
func (c *ScanClient) putFile(ctx context.Context, uploadURL, filePath string, size int64) error {
	f, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer f.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, f)
	if err != nil {
		return aidefense.NewValidationError("building upload request: %v", err)
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.uploadClient.Do(req)
	if err != nil {
		return &aidefense.APIError{Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &aidefense.APIError{StatusCode: resp.StatusCode, Message: string(raw)}
	}
	return nil
}

// ValidateRepoURL checks a repository URL and its credentials against the
// scan session before triggering.
func (c *ScanClient) ValidateRepoURL(ctx context.Context, scanID string, repo RepoScanConfig) error {
	urlType, err := repo.urlType()
	if err != nil {
		return err
	}
	body := map[string]any{"url": repo.URL, "type": urlType, "auth": repo.authConfig()}
	_, err = c.do(ctx, http.MethodPost, "scans/"+scanID+"/validate_url", nil, body)
	return err
}

// Trigger starts scanning everything submitted to the session.
func (c *ScanClient) Trigger(ctx context.Context, scanID string) error {
	_, err := c.do(ctx, http.MethodPut, "scans/"+scanID+"/run", nil, nil)
	return err
}

// Get returns one scan session with a page of its results.
func (c *ScanClient) Get(ctx context.Context, scanID string, limit, offset int) (*Scan, error) {
	data, err := c.do(ctx, http.MethodGet, "scans/"+scanID, pageQuery(limit, offset), nil)
	if err != nil {
		return nil, err
	}
	var scan Scan
	if err := decodeInto(&scan, data, "scan response"); err != nil {
		return nil, err
	}
	return &scan, nil
}

// List returns a page of scan sessions.
func (c *ScanClient) List(ctx context.Context, limit, offset int) (*Scans, error) {
	data, err := c.do(ctx, http.MethodGet, "scans", pageQuery(limit, offset), nil)
	if err != nil {
		return nil, err
	}
	var scans Scans
	if err := decodeInto(&scans, data, "scans response"); err != nil {
		return nil, err
	}
	return &scans, nil
}

// Cancel stops a running scan.
func (c *ScanClient) Cancel(ctx context.Context, scanID string) error {
	_, err := c.do(ctx, http.MethodPost, "scans/"+scanID+"/cancel", nil, nil)
	return err
}

// Delete removes a scan session and everything submitted to it.
func (c *ScanClient) Delete(ctx context.Context, scanID string) error {
	_, err := c.do(ctx, http.MethodDelete, "scans/"+scanID, nil, nil)
	return err
}

// Cleanup cancels a scan, waits for the cancellation to land, and deletes
// the session.
func (c *ScanClient) Cleanup(ctx context.Context, scanID string) error {
	if err := c.Cancel(ctx, scanID); err != nil {
		return err
	}
	if _, err := c.waitForStatus(ctx, scanID, ScanStatusCanceled); err != nil {
		return err
	}
	return c.Delete(ctx, scanID)
}

// ScanFile runs the complete scan workflow for one model file and returns
// the finished scan. On failure the session is cleaned up before the error
// is returned.
func (c *ScanClient) ScanFile(ctx context.Context, filePath string) (*Scan, error) {
	scanID, err := c.Register(ctx)
	if err != nil {
		return nil, err
	}
	return c.runScan(ctx, scanID, func(ctx context.Context) error {
		return c.UploadFile(ctx, scanID, filePath)
	})
}

// ScanRepo runs the complete scan workflow for a model repository. On
// failure the session is cleaned up before the error is returned.
func (c *ScanClient) ScanRepo(ctx context.Context, repo RepoScanConfig) (*Scan, error) {
	if _, err := repo.urlType(); err != nil {
		return nil, err
	}
	scanID, err := c.Register(ctx)
	if err != nil {
		return nil, err
	}
	return c.runScan(ctx, scanID, func(ctx context.Context) error {
		return c.ValidateRepoURL(ctx, scanID, repo)
	})
}

// runScan submits, triggers, and polls a registered scan to a terminal
// status. The session is cleaned up on any failure, best-effort.
func (c *ScanClient) runScan(ctx context.Context, scanID string, submit func(context.Context) error) (*Scan, error) {
	if err := submit(ctx); err != nil {
		_ = c.Cleanup(ctx, scanID)
		return nil, err
	}
	if err := c.Trigger(ctx, scanID); err != nil {
		_ = c.Cleanup(ctx, scanID)
		return nil, err
	}
	scan, err := c.waitForStatus(ctx, scanID, endScanStatuses...)
	if err != nil {
		_ = c.Cleanup(ctx, scanID)
		return nil, err
	}
	return scan, nil
}

// waitForStatus polls the scan until it reaches one of the wanted statuses.
func (c *ScanClient) waitForStatus(ctx context.Context, scanID string, want ...ScanStatus) (*Scan, error) {
	for attempt := 0; attempt < c.pollAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.pollInterval):
			case <-ctx.Done():
				return nil, &aidefense.APIError{Message: ctx.Err().Error(), Err: ctx.Err()}
			}
		}
		scan, err := c.Get(ctx, scanID, 0, 0)
		if err != nil {
			return nil, err
		}
		for _, s := range want {
			if scan.StatusInfo.Status == s {
				return scan, nil
			}
		}
	}
	return nil, &aidefense.APIError{
		Message: fmt.Sprintf("scan %s timed out after %d status checks", scanID, c.pollAttempts),
	}
}

// pageQuery builds limit/offset query parameters, omitting unset values.
func pageQuery(limit, offset int) url.Values {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	return q
}
