package management

import (
	"context"
	"net/http"
)

// ValidationClient runs AI validation jobs: adversarial test campaigns
// against an application, a connected model, or an external endpoint.
// Responses are returned at the top level, like policies.
type ValidationClient struct {
	core
}

// Start begins an AI validation job and returns its task id.
func (c *ValidationClient) Start(ctx context.Context, req StartValidationRequest) (*StartValidationResponse, error) {
	data, err := c.do(ctx, http.MethodPost, "ai-validation/start", nil, req)
	if err != nil {
		return nil, err
	}
	var resp StartValidationResponse
	if err := decodeInto(&resp, data, "start validation response"); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Job returns the status and progress of a validation job.
func (c *ValidationClient) Job(ctx context.Context, taskID string) (*ValidationJob, error) {
	data, err := c.do(ctx, http.MethodGet, "ai-validation/job/"+taskID, nil, nil)
	if err != nil {
		return nil, err
	}
	var job ValidationJob
	if err := decodeInto(&job, data, "validation job response"); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListConfigs returns every stored validation configuration.
func (c *ValidationClient) ListConfigs(ctx context.Context) (*ValidationConfigs, error) {
	data, err := c.do(ctx, http.MethodGet, "ai-validation/config", nil, nil)
	if err != nil {
		return nil, err
	}
	var configs ValidationConfigs
	if err := decodeInto(&configs, data, "validation configs response"); err != nil {
		return nil, err
	}
	return &configs, nil
}

// Config returns the validation configuration of one task.
func (c *ValidationClient) Config(ctx context.Context, taskID string) (*ValidationConfig, error) {
	data, err := c.do(ctx, http.MethodGet, "ai-validation/config/"+taskID, nil, nil)
	if err != nil {
		return nil, err
	}
	var config ValidationConfig
	if err := decodeInto(&config, data, "validation config response"); err != nil {
		return nil, err
	}
	return &config, nil
}
