package management

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

// PolicyClient manages inspection policies.
type PolicyClient struct {
	core
}

// List returns a page of policies.
func (c *PolicyClient) List(ctx context.Context, req ListPoliciesRequest) (*Policies, error) {
	q := url.Values{}
	if req.Limit > 0 {
		q.Set("limit", strconv.Itoa(req.Limit))
	}
	if req.Offset > 0 {
		q.Set("offset", strconv.Itoa(req.Offset))
	}
	if req.SortBy != "" {
		q.Set("sort_by", req.SortBy)
	}
	if req.Order != "" {
		q.Set("order", string(req.Order))
	}
	if req.ConnectionType != "" {
		q.Set("connection_type", string(req.ConnectionType))
	}
	if req.PolicyStatus != "" {
		q.Set("policy_status", req.PolicyStatus)
	}
	if req.PolicyName != "" {
		q.Set("policy_name", req.PolicyName)
	}
	data, err := c.do(ctx, http.MethodGet, "policies", q, nil)
	if err != nil {
		return nil, err
	}
	// The policies listing is returned at the top level, not nested.
	var policies Policies
	if err := decodeInto(&policies, data, "policies response"); err != nil {
		return nil, err
	}
	return &policies, nil
}

// Get returns one policy by id. expanded includes its guardrails.
func (c *PolicyClient) Get(ctx context.Context, policyID string, expanded bool) (*Policy, error) {
	q := url.Values{}
	if expanded {
		q.Set("expanded", "true")
	}
	data, err := c.do(ctx, http.MethodGet, "policies/"+policyID, q, nil)
	if err != nil {
		return nil, err
	}
	var policy Policy
	if err := decodeInto(&policy, data, "policy response"); err != nil {
		return nil, err
	}
	return &policy, nil
}

// Update renames or toggles a policy.
func (c *PolicyClient) Update(ctx context.Context, policyID string, req UpdatePolicyRequest) error {
	_, err := c.do(ctx, http.MethodPut, "policies/"+policyID, nil, req)
	return err
}

// Delete removes a policy.
func (c *PolicyClient) Delete(ctx context.Context, policyID string) error {
	_, err := c.do(ctx, http.MethodDelete, "policies/"+policyID, nil, nil)
	return err
}

// UpdateConnections associates or disassociates connections with a policy.
func (c *PolicyClient) UpdateConnections(ctx context.Context, policyID string, req PolicyConnectionsRequest) error {
	_, err := c.do(ctx, http.MethodPost, "policies/"+policyID+"/connections", nil, req)
	return err
}
