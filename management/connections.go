package management

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

// ConnectionClient manages connections and their API keys.
type ConnectionClient struct {
	core
}

// List returns a page of connections.
func (c *ConnectionClient) List(ctx context.Context, req ListConnectionsRequest) (*Connections, error) {
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
	if req.ConnectionType != "" {
		q.Set("connection_type", string(req.ConnectionType))
	}
	if req.ConnectionStatus != "" {
		q.Set("connection_status", string(req.ConnectionStatus))
	}
	if req.ConnectionName != "" {
		q.Set("connection_name", req.ConnectionName)
	}
	data, err := c.do(ctx, http.MethodGet, "connections", q, nil)
	if err != nil {
		return nil, err
	}
	var conns Connections
	if err := decodeInto(&conns, fragment(data, "connections"), "connections response"); err != nil {
		return nil, err
	}
	return &conns, nil
}

// Get returns one connection by id. expanded includes the related
// application, policies and endpoint.
func (c *ConnectionClient) Get(ctx context.Context, connectionID string, expanded bool) (*Connection, error) {
	q := url.Values{}
	if expanded {
		q.Set("expanded", "true")
	}
	data, err := c.do(ctx, http.MethodGet, "connections/"+connectionID, q, nil)
	if err != nil {
		return nil, err
	}
	var conn Connection
	if err := decodeInto(&conn, fragment(data, "connection"), "connection response"); err != nil {
		return nil, err
	}
	return &conn, nil
}

// Create registers a connection. When req.Key is set the generated key
// material comes back in the response and is not retrievable later.
func (c *ConnectionClient) Create(ctx context.Context, req CreateConnectionRequest) (*CreateConnectionResponse, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	data, err := c.do(ctx, http.MethodPost, "connections", nil, req)
	if err != nil {
		return nil, err
	}
	resp := &CreateConnectionResponse{}
	resp.ConnectionID, _ = data["connection_id"].(string)
	if key, ok := data["key"]; ok {
		resp.Key = &APIKeyResponse{}
		if err := decodeInto(resp.Key, key, "connection key response"); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// Delete removes a connection.
func (c *ConnectionClient) Delete(ctx context.Context, connectionID string) error {
	_, err := c.do(ctx, http.MethodDelete, "connections/"+connectionID, nil, nil)
	return err
}

// Keys lists a connection's API keys. Key material is never included.
func (c *ConnectionClient) Keys(ctx context.Context, connectionID string) (*APIKeys, error) {
	data, err := c.do(ctx, http.MethodGet, "connections/"+connectionID+"/keys", nil, nil)
	if err != nil {
		return nil, err
	}
	var keys APIKeys
	if err := decodeInto(&keys, fragment(data, "keys"), "API keys response"); err != nil {
		return nil, err
	}
	return &keys, nil
}

// UpdateKey generates, regenerates or revokes a connection API key. Generate
// and regenerate return the new key material; revoke returns nil.
func (c *ConnectionClient) UpdateKey(ctx context.Context, connectionID string, req UpdateAPIKeyRequest) (*APIKeyResponse, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	data, err := c.do(ctx, http.MethodPost, "connections/"+connectionID+"/keys", nil, req)
	if err != nil {
		return nil, err
	}
	key, ok := data["key"]
	if !ok {
		return nil, nil
	}
	resp := &APIKeyResponse{}
	if err := decodeInto(resp, key, "API key response"); err != nil {
		return nil, err
	}
	return resp, nil
}
