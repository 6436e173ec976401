// Package notify is a thin client for the external push-notification
// service. Delivery to devices is the service's problem; the worker only
// hands it the event.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Notification is one push request.
type Notification struct {
	Kind     string `json:"kind"`
	ChildID  string `json:"child_id"`
	RecordID string `json:"record_id"`
	Actor    string `json:"actor,omitempty"`
}

// SendResult is the push service's response.
type SendResult struct {
	Accepted bool   `json:"accepted"`
	Message  string `json:"message,omitempty"`
}

// Client calls the push-notification microservice.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client. With skip set, all sends succeed without any network
// call, which keeps local development independent of the push backend.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Health checks connectivity to the push service.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("push service unhealthy: %s", resp.Status)
	}
	return nil
}

// Send submits one notification.
func (c *Client) Send(ctx context.Context, n Notification) (*SendResult, error) {
	if c.Skip {
		return &SendResult{Accepted: true, Message: "skipped"}, nil
	}

	body, err := json.Marshal(n)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/notifications", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("push service: %s: %s", resp.Status, raw)
	}

	var out SendResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
