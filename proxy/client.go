package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/anchorageoss/turnkey-sdk-go/api"
)

// Client calls a server-sign endpoint.
type Client struct {
	// URL is the full server-sign endpoint, e.g. https://example.com/sign.
	URL        string
	HTTPClient api.HTTPClient
}

// NewClient creates a Client for url.
func NewClient(url string) *Client {
	return &Client{URL: url, HTTPClient: &http.Client{Timeout: 60 * time.Second}}
}

// ServerSign asks the server to invoke methodName with params and returns
// the raw result. Non-2xx responses are returned as *api.RequestError.
func (c *Client) ServerSign(ctx context.Context, methodName string, params ...any) (json.RawMessage, error) {
	if c.URL == "" {
		return nil, errors.New("no server sign URL configured")
	}

	req := Request{MethodName: methodName, Params: make([]json.RawMessage, 0, len(params))}
	for _, p := range params {
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
		req.Params = append(req.Params, raw)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(api.ClientVersionHeader, api.Version)

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send server sign request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, api.NewRequestError(resp.StatusCode, respBody)
	}
	return json.RawMessage(respBody), nil
}
