package aidefense

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "github.com/cisco-ai-defense/ai-defense-go-sdk/aidefense"

// RequestIDHeader carries the per-request correlation id.
const RequestIDHeader = "x-aidefense-request-id"

// APIKeyHeader authenticates inspection requests.
const APIKeyHeader = "X-Cisco-AI-Defense-API-Key"

var validMethods = map[string]bool{
	http.MethodGet: true, http.MethodPost: true, http.MethodPut: true,
	http.MethodDelete: true, http.MethodPatch: true, http.MethodHead: true,
	http.MethodOptions: true,
}

// RequestOptions carries the per-request knobs of RequestHandler.Do.
type RequestOptions struct {
	// Headers are merged over the standard header set. The auth header
	// goes here (e.g. X-Cisco-AI-Defense-API-Key).
	Headers map[string]string
	// Body is JSON-encoded when non-nil.
	Body any
	// RequestID overrides the auto-generated x-aidefense-request-id.
	RequestID string
	// Timeout overrides the Config timeout for this request.
	Timeout time.Duration
}

// RequestHandler is the shared HTTP layer under every SDK client. It owns a
// lazily built pooled http.Client, attaches the standard header set to every
// request, maps response statuses to the SDK error taxonomy, and retries
// transient failures per the configured policy.
//
// A single RequestHandler is safe for concurrent use; all goroutines share
// one connection pool.
type RequestHandler struct {
	cfg    *Config
	logger *slog.Logger

	mu     sync.Mutex
	client *http.Client
	owned  bool
}

// NewRequestHandler builds a RequestHandler over cfg. The HTTP client is not
// created until the first request.
func NewRequestHandler(cfg *Config) *RequestHandler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RequestHandler{cfg: cfg, logger: logger}
}

// httpClient returns the shared client, building it on first use under the
// lock so concurrent first-users receive one pool.
func (h *RequestHandler) httpClient() *http.Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.client != nil {
		return h.client
	}
	if h.cfg.HTTPClient != nil {
		h.client = h.cfg.HTTPClient
		return h.client
	}
	transport := &http.Transport{
		MaxIdleConns:        h.cfg.Pool.MaxIdleConns,
		MaxIdleConnsPerHost: h.cfg.Pool.MaxIdleConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
		TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
	}
	h.client = &http.Client{Transport: transport}
	h.owned = true
	return h.client
}

// Close releases idle connections of the SDK-owned pool. A caller-owned
// http.Client is left untouched.
func (h *RequestHandler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.client != nil && h.owned {
		h.client.CloseIdleConnections()
	}
}

// Do performs one JSON request against the inspection service and decodes
// the JSON response body. Invalid methods and malformed URLs fail with a
// ValidationError before any I/O. Statuses map to the error taxonomy:
// 401 → AuthenticationError, 400 → ValidationError, other 4xx → APIError
// (no retry), 5xx and network failures → APIError retried when the status
// is in the forcelist.
func (h *RequestHandler) Do(ctx context.Context, method, rawURL string, opts RequestOptions) (map[string]any, error) {
	if !validMethods[method] {
		return nil, NewValidationError("invalid HTTP method: %q", method)
	}
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, NewValidationError("invalid URL: %q", rawURL)
	}

	requestID := opts.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	var payload []byte
	if opts.Body != nil {
		payload, err = json.Marshal(opts.Body)
		if err != nil {
			return nil, NewValidationError("request body not JSON-serializable: %v", err)
		}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = h.cfg.Timeout
	}

	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "aidefense.request")
	defer span.End()
	span.SetAttributes(
		attribute.String("http.request.method", method),
		attribute.String("url.full", rawURL),
		attribute.String("aidefense.request_id", requestID),
	)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = h.cfg.Retry.BackoffFactor
	bo.Multiplier = 2
	bo.MaxInterval = 30 * time.Second
	bo.Reset()

	var lastErr error
	for attempt := 0; attempt <= h.cfg.Retry.Total; attempt++ {
		if attempt > 0 {
			wait := bo.NextBackOff()
			if ra := retryAfterOf(lastErr); h.cfg.Retry.RespectRetryAfter && ra > 0 {
				wait = ra
			}
			h.logger.Debug("retrying request",
				"method", method, "url", rawURL, "attempt", attempt, "wait", wait)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, &APIError{Message: ctx.Err().Error(), RequestID: requestID, Err: ctx.Err()}
			}
		}

		result, err := h.doOnce(ctx, method, rawURL, payload, requestID, timeout, opts.Headers)
		if err == nil {
			span.SetAttributes(attribute.Int("http.retry_count", attempt))
			return result, nil
		}
		lastErr = err
		if !h.retryable(err) {
			break
		}
	}
	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Error())
	return nil, lastErr
}

func (h *RequestHandler) doOnce(ctx context.Context, method, rawURL string, payload []byte, requestID string, timeout time.Duration, headers map[string]string) (map[string]any, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, rawURL, body)
	if err != nil {
		return nil, NewValidationError("building request: %v", err)
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, requestID)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := h.httpClient().Do(req)
	if err != nil {
		return nil, &APIError{Message: err.Error(), RequestID: requestID, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, &APIError{Message: fmt.Sprintf("reading response: %v", err), RequestID: requestID, Err: err}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if len(raw) == 0 {
			return map[string]any{}, nil
		}
		var decoded map[string]any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return nil, &APIError{
				StatusCode: resp.StatusCode,
				Message:    fmt.Sprintf("undecodable response body: %v", err),
				RequestID:  requestID,
			}
		}
		return decoded, nil
	}

	msg := errorMessageOf(raw)
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		h.logger.Error("authentication rejected", "url", rawURL, "request_id", requestID)
		return nil, &AuthenticationError{Message: msg, RequestID: requestID}
	case resp.StatusCode == http.StatusBadRequest:
		return nil, &ValidationError{Message: msg}
	default:
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: msg, RequestID: requestID}
		if h.cfg.Retry.RespectRetryAfter {
			if ra := resp.Header.Get("Retry-After"); ra != "" {
				if secs, perr := strconv.Atoi(ra); perr == nil && secs > 0 {
					apiErr.retryAfter = time.Duration(secs) * time.Second
				}
			}
		}
		return nil, apiErr
	}
}

// retryable reports whether err may be retried: network failures and API
// errors whose status is in the forcelist. Validation and authentication
// errors never retry.
func (h *RequestHandler) retryable(err error) bool {
	apiErr, ok := err.(*APIError)
	if !ok {
		return false
	}
	if apiErr.StatusCode == 0 {
		return true
	}
	for _, s := range h.cfg.Retry.StatusForcelist {
		if apiErr.StatusCode == s {
			return true
		}
	}
	return false
}

func retryAfterOf(err error) time.Duration {
	if apiErr, ok := err.(*APIError); ok {
		return apiErr.retryAfter
	}
	return 0
}

// errorMessageOf extracts the server error message: a JSON {message} body
// or the raw text.
func errorMessageOf(raw []byte) string {
	var shaped struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &shaped); err == nil && shaped.Message != "" {
		return shaped.Message
	}
	return string(raw)
}
