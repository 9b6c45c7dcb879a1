package runtime

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"strings"

	"github.com/cisco-ai-defense/ai-defense-go-sdk/aidefense"
)

const httpInspectPath = "/api/v1/inspect/http"

// HTTPHeaderKV is one header key/value pair on the inspection wire.
type HTTPHeaderKV struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// HTTPHeaders is the wire shape of an HTTP header set.
type HTTPHeaders struct {
	HdrKVs []HTTPHeaderKV `json:"hdrKvs,omitempty"`
}

// HTTPReq is the canonical wire shape of an inspected HTTP request.
// Body is base64-encoded bytes.
type HTTPReq struct {
	Method  string       `json:"method,omitempty"`
	Headers *HTTPHeaders `json:"headers,omitempty"`
	Body    string       `json:"body"`
}

// HTTPRes is the canonical wire shape of an inspected HTTP response.
// Body is base64-encoded bytes.
type HTTPRes struct {
	StatusCode   int          `json:"statusCode"`
	StatusString string       `json:"statusString,omitempty"`
	Headers      *HTTPHeaders `json:"headers,omitempty"`
	Body         string       `json:"body"`
}

// HTTPMeta carries request metadata for HTTP inspection.
type HTTPMeta struct {
	URL      string `json:"url"`
	Protocol string `json:"protocol,omitempty"`
}

// HTTPInspectionClient inspects raw HTTP traffic against AI Defense.
// It is safe for concurrent use.
type HTTPInspectionClient struct {
	apiKey  string
	cfg     *aidefense.Config
	handler *aidefense.RequestHandler

	// DefaultRules is the precomputed default enabled-rule set.
	DefaultRules []Rule
}

// NewHTTPInspectionClient builds an HTTP traffic inspection client. A nil
// cfg uses the default configuration (region "us").
func NewHTTPInspectionClient(apiKey string, cfg *aidefense.Config) (*HTTPInspectionClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, aidefense.NewValidationError("api key must not be empty")
	}
	if cfg == nil {
		var err error
		cfg, err = aidefense.NewConfig()
		if err != nil {
			return nil, err
		}
	}
	return &HTTPInspectionClient{
		apiKey:       apiKey,
		cfg:          cfg,
		handler:      aidefense.NewRequestHandler(cfg),
		DefaultRules: DefaultEnabledRules(),
	}, nil
}

// Close releases the client's idle connections.
func (c *HTTPInspectionClient) Close() { c.handler.Close() }

// EncodeBody converts a request/response body into its wire form:
// base64-encoded bytes. Strings are UTF-8 encoded first; nil and empty
// bodies become the empty string; any other type is a validation error.
func EncodeBody(body any) (string, error) {
	switch b := body.(type) {
	case nil:
		return "", nil
	case []byte:
		if len(b) == 0 {
			return "", nil
		}
		return base64.StdEncoding.EncodeToString(b), nil
	case string:
		if b == "" {
			return "", nil
		}
		return base64.StdEncoding.EncodeToString([]byte(b)), nil
	default:
		return "", aidefense.NewValidationError("body must be bytes, string, or nil; got %T", body)
	}
}

// DecodeBody reverses EncodeBody.
func DecodeBody(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, aidefense.NewValidationError("body is not valid base64: %v", err)
	}
	return raw, nil
}

// InspectRequest inspects a single HTTP request.
func (c *HTTPInspectionClient) InspectRequest(ctx context.Context, req *HTTPReq, meta *HTTPMeta, opts ...InspectOption) (*InspectResponse, error) {
	if err := validateHTTPReq(req); err != nil {
		return nil, err
	}
	return c.post(ctx, req, nil, meta, opts...)
}

// InspectResponse inspects a single HTTP response.
func (c *HTTPInspectionClient) InspectResponse(ctx context.Context, res *HTTPRes, meta *HTTPMeta, opts ...InspectOption) (*InspectResponse, error) {
	if err := validateHTTPRes(res); err != nil {
		return nil, err
	}
	return c.post(ctx, nil, res, meta, opts...)
}

// Inspect inspects a paired request and response.
func (c *HTTPInspectionClient) Inspect(ctx context.Context, req *HTTPReq, res *HTTPRes, meta *HTTPMeta, opts ...InspectOption) (*InspectResponse, error) {
	if err := validateHTTPReq(req); err != nil {
		return nil, err
	}
	if err := validateHTTPRes(res); err != nil {
		return nil, err
	}
	return c.post(ctx, req, res, meta, opts...)
}

func (c *HTTPInspectionClient) post(ctx context.Context, req *HTTPReq, res *HTTPRes, meta *HTTPMeta, opts ...InspectOption) (*InspectResponse, error) {
	call := inspectRequest{}
	for _, opt := range opts {
		opt(&call)
	}

	payload := map[string]any{}
	if req != nil {
		payload["http_req"] = req
	}
	if res != nil {
		payload["http_res"] = res
	}
	if meta != nil {
		payload["http_meta"] = meta
	} else {
		payload["http_meta"] = &HTTPMeta{}
	}
	if call.metadata != nil {
		payload["metadata"] = call.metadata
	}
	if call.config != nil {
		payload["config"] = call.config
	}

	data, err := c.handler.Do(ctx, http.MethodPost, c.cfg.RuntimeBaseURL+httpInspectPath, aidefense.RequestOptions{
		Headers:   map[string]string{aidefense.APIKeyHeader: c.apiKey},
		Body:      payload,
		RequestID: call.requestID,
		Timeout:   call.timeout,
	})
	if err != nil {
		return nil, err
	}
	return parseInspectResponse(data), nil
}

func validateHTTPReq(req *HTTPReq) error {
	if req == nil {
		return aidefense.NewValidationError("http request must not be nil")
	}
	if !isValidMethod(req.Method) {
		return aidefense.NewValidationError("invalid HTTP method: %q", req.Method)
	}
	if req.Body == "" {
		return aidefense.NewValidationError("http request body must not be empty")
	}
	return nil
}

func validateHTTPRes(res *HTTPRes) error {
	if res == nil {
		return aidefense.NewValidationError("http response must not be nil")
	}
	if res.StatusCode == 0 {
		return aidefense.NewValidationError("http response statusCode is required")
	}
	if res.Body == "" {
		return aidefense.NewValidationError("http response body must not be empty")
	}
	return nil
}

func isValidMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete,
		http.MethodPatch, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// InspectRequestFromHTTP builds the canonical request and metadata from a
// *http.Request, reading and restoring its body.
func InspectRequestFromHTTP(r *http.Request) (*HTTPReq, *HTTPMeta, error) {
	var raw []byte
	if r.Body != nil {
		var err error
		raw, err = io.ReadAll(r.Body)
		if err != nil {
			return nil, nil, aidefense.NewValidationError("reading request body: %v", err)
		}
		r.Body.Close()
		r.Body = io.NopCloser(strings.NewReader(string(raw)))
	}
	body, err := EncodeBody(raw)
	if err != nil {
		return nil, nil, err
	}
	return &HTTPReq{
			Method:  r.Method,
			Headers: headersFromHTTP(r.Header),
			Body:    body,
		}, &HTTPMeta{
			URL:      r.URL.String(),
			Protocol: r.Proto,
		}, nil
}

// InspectResponseFromHTTP builds the canonical response from a
// *http.Response, reading and restoring its body.
func InspectResponseFromHTTP(r *http.Response) (*HTTPRes, error) {
	var raw []byte
	if r.Body != nil {
		var err error
		raw, err = io.ReadAll(r.Body)
		if err != nil {
			return nil, aidefense.NewValidationError("reading response body: %v", err)
		}
		r.Body.Close()
		r.Body = io.NopCloser(strings.NewReader(string(raw)))
	}
	body, err := EncodeBody(raw)
	if err != nil {
		return nil, err
	}
	return &HTTPRes{
		StatusCode:   r.StatusCode,
		StatusString: r.Status,
		Headers:      headersFromHTTP(r.Header),
		Body:         body,
	}, nil
}

func headersFromHTTP(h http.Header) *HTTPHeaders {
	if len(h) == 0 {
		return nil
	}
	out := &HTTPHeaders{}
	for key, values := range h {
		for _, v := range values {
			out.HdrKVs = append(out.HdrKVs, HTTPHeaderKV{Key: key, Value: v})
		}
	}
	return out
}
