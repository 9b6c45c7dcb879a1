package management

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

// ApplicationClient manages AI applications.
type ApplicationClient struct {
	core
}

// List returns a page of applications.
func (c *ApplicationClient) List(ctx context.Context, req ListApplicationsRequest) (*Applications, error) {
	q := url.Values{}
	if req.Limit > 0 {
		q.Set("limit", strconv.Itoa(req.Limit))
	}
	if req.Offset > 0 {
		q.Set("offset", strconv.Itoa(req.Offset))
	}
	if req.Expanded != nil {
		q.Set("expanded", strconv.FormatBool(*req.Expanded))
	}
	if req.SortBy != "" {
		q.Set("sort_by", req.SortBy)
	}
	if req.Order != "" {
		q.Set("order", string(req.Order))
	}
	data, err := c.do(ctx, http.MethodGet, "applications", q, nil)
	if err != nil {
		return nil, err
	}
	var apps Applications
	if err := decodeInto(&apps, fragment(data, "applications"), "applications response"); err != nil {
		return nil, err
	}
	return &apps, nil
}

// Get returns one application by id. expanded includes its connections.
func (c *ApplicationClient) Get(ctx context.Context, applicationID string, expanded bool) (*Application, error) {
	q := url.Values{}
	if expanded {
		q.Set("expanded", "true")
	}
	data, err := c.do(ctx, http.MethodGet, "applications/"+applicationID, q, nil)
	if err != nil {
		return nil, err
	}
	var app Application
	if err := decodeInto(&app, fragment(data, "application"), "application response"); err != nil {
		return nil, err
	}
	return &app, nil
}

// Create registers an application and returns its id.
func (c *ApplicationClient) Create(ctx context.Context, req CreateApplicationRequest) (string, error) {
	if err := validate.Struct(req); err != nil {
		return "", err
	}
	data, err := c.do(ctx, http.MethodPost, "applications", nil, req)
	if err != nil {
		return "", err
	}
	id, _ := data["application_id"].(string)
	return id, nil
}

// Update renames or re-describes an application.
func (c *ApplicationClient) Update(ctx context.Context, applicationID string, req UpdateApplicationRequest) error {
	_, err := c.do(ctx, http.MethodPut, "applications/"+applicationID, nil, req)
	return err
}

// Delete removes an application.
func (c *ApplicationClient) Delete(ctx context.Context, applicationID string) error {
	_, err := c.do(ctx, http.MethodDelete, "applications/"+applicationID, nil, nil)
	return err
}
