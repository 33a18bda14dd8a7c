package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// TokenProvider yields bearer tokens for upstream calls. ForceRefresh is
// invoked at most once per call, after an unauthorized response.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
	ForceRefresh(ctx context.Context) (string, error)
}

// Client is a thin, rate-limit-unaware wrapper over the upstream REST API.
// Throttling and backoff are handled by the executor in the sync package.
type Client struct {
	baseURL string
	httpc   *http.Client
	tokens  TokenProvider
}

func NewClient(baseURL string, tokens TokenProvider, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: timeout},
		tokens:  tokens,
	}
}

func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out interface{}) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}

	body, status, err := c.doGet(ctx, path, params, token)
	if err != nil {
		return err
	}

	if status == http.StatusUnauthorized {
		// One refresh and one retry; a second 401 is fatal for this call.
		token, err = c.tokens.ForceRefresh(ctx)
		if err != nil {
			return err
		}
		body, status, err = c.doGet(ctx, path, params, token)
		if err != nil {
			return err
		}
	}

	if status < 200 || status >= 300 {
		return &APIError{Status: status, Endpoint: path, Body: string(body)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) doGet(ctx context.Context, path string, params url.Values, token string) ([]byte, int, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("upstream request %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read %s response: %w", path, err)
	}
	return body, resp.StatusCode, nil
}
