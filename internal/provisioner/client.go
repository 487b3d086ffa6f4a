// Package provisioner talks to the automation sidecar that grants, revokes
// and probes access on the third-party chat workspace. Calls are slow and
// flaky; callers wrap them in retry.Do with their own timeout.
package provisioner

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"invite-service/internal/httpclient"
)

type Client struct {
	baseURL string
	token   string
	http    *httpclient.Client
}

func NewClient(baseURL, token string, client *httpclient.Client) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), token: token, http: client}
}

type accessRequest struct {
	Email string `json:"email"`
}

type accessResponse struct {
	OK     bool   `json:"ok"`
	Exists bool   `json:"exists"`
	Error  string `json:"error,omitempty"`
}

func (c *Client) Grant(ctx context.Context, email string) error {
	return c.post(ctx, "/access/grant", email)
}

func (c *Client) Revoke(ctx context.Context, email string) error {
	return c.post(ctx, "/access/revoke", email)
}

// Probe reports whether the email still has access.
func (c *Client) Probe(ctx context.Context, email string) (bool, error) {
	var resp accessResponse
	u := c.baseURL + "/access/probe?email=" + url.QueryEscape(email)
	if err := c.http.DoJSON(ctx, http.MethodGet, u, c.headers(), nil, &resp); err != nil {
		return false, fmt.Errorf("probe access: %w", err)
	}
	return resp.Exists, nil
}

func (c *Client) post(ctx context.Context, path, email string) error {
	var resp accessResponse
	if err := c.http.DoJSON(ctx, http.MethodPost, c.baseURL+path, c.headers(), accessRequest{Email: email}, &resp); err != nil {
		return fmt.Errorf("%s: %w", strings.TrimPrefix(path, "/"), err)
	}
	if !resp.OK {
		return fmt.Errorf("%s: sidecar reported failure: %s", strings.TrimPrefix(path, "/"), resp.Error)
	}
	return nil
}

func (c *Client) headers() map[string]string {
	if c.token == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + c.token}
}
