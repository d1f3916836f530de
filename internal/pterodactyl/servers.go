package pterodactyl

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Limits are the runtime limits of a server.
type Limits struct {
	Memory int64 `json:"memory"`
	Swap   int64 `json:"swap"`
	Disk   int64 `json:"disk"`
	IO     int   `json:"io"`
	CPU    int64 `json:"cpu"`
}

// FeatureLimits are the counted extras of a server.
type FeatureLimits struct {
	Databases   int `json:"databases"`
	Allocations int `json:"allocations"`
	Backups     int `json:"backups"`
}

// Deploy selects the node a new server is placed on.
type Deploy struct {
	Locations   []int    `json:"locations"`
	DedicatedIP bool     `json:"dedicated_ip"`
	PortRange   []string `json:"port_range"`
}

// CreateServerRequest is the body of POST /servers.
type CreateServerRequest struct {
	Name              string            `json:"name"`
	User              int               `json:"user"`
	Egg               int               `json:"egg"`
	DockerImage       string            `json:"docker_image"`
	Startup           string            `json:"startup"`
	Environment       map[string]string `json:"environment"`
	Limits            Limits            `json:"limits"`
	FeatureLimits     FeatureLimits     `json:"feature_limits"`
	Deploy            Deploy            `json:"deploy"`
	StartOnCompletion bool              `json:"start_on_completion"`
}

// Server is a server as returned by the panel.
type Server struct {
	ID            int           `json:"id"`
	UUID          string        `json:"uuid"`
	Identifier    string        `json:"identifier"`
	Name          string        `json:"name"`
	Suspended     bool          `json:"suspended"`
	User          int           `json:"user"`
	Node          int           `json:"node"`
	Limits        Limits        `json:"limits"`
	FeatureLimits FeatureLimits `json:"feature_limits"`
}

type serverObject struct {
	Object     string `json:"object"`
	Attributes Server `json:"attributes"`
}

// CreateServer creates a server and returns it.
func (c *Client) CreateServer(ctx context.Context, req *CreateServerRequest) (*Server, error) {
	if req == nil {
		return nil, fmt.Errorf("request cannot be nil")
	}
	if req.Environment == nil {
		req.Environment = map[string]string{}
	}
	if req.Deploy.PortRange == nil {
		req.Deploy.PortRange = []string{}
	}

	resp, err := c.request(ctx, http.MethodPost, "/servers", req)
	if err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}

	var obj serverObject
	if err := decodeResponse(resp, &obj); err != nil {
		return nil, err
	}
	return &obj.Attributes, nil
}

// SuspendServer suspends a server. Suspending a suspended server succeeds.
func (c *Client) SuspendServer(ctx context.Context, id int) error {
	resp, err := c.request(ctx, http.MethodPost, fmt.Sprintf("/servers/%d/suspend", id), nil)
	if err != nil {
		return fmt.Errorf("failed to suspend server %d: %w", id, err)
	}
	return decodeResponse(resp, nil)
}

// UnsuspendServer resumes a suspended server.
func (c *Client) UnsuspendServer(ctx context.Context, id int) error {
	resp, err := c.request(ctx, http.MethodPost, fmt.Sprintf("/servers/%d/unsuspend", id), nil)
	if err != nil {
		return fmt.Errorf("failed to unsuspend server %d: %w", id, err)
	}
	return decodeResponse(resp, nil)
}

// DeleteServer deletes a server. A server that no longer exists is not an
// error.
func (c *Client) DeleteServer(ctx context.Context, id int) error {
	resp, err := c.request(ctx, http.MethodDelete, fmt.Sprintf("/servers/%d", id), nil)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.IsNotFound() {
			return nil
		}
		return fmt.Errorf("failed to delete server %d: %w", id, err)
	}
	return decodeResponse(resp, nil)
}
