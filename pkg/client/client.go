package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrUnexpectedResponse is returned when the server answers with something
// other than a result envelope.
var ErrUnexpectedResponse = errors.New("unexpected response from captcha server")

// Result mirrors the server's JSON envelope.
type Result struct {
	Code    int             `json:"code"`
	Status  string          `json:"status"`
	Type    string          `json:"type,omitempty"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// OK reports whether the envelope is a success.
func (r *Result) OK() bool { return r.Status == "success" }

// Challenge is the payload of a successful Create.
type Challenge struct {
	ID       string `json:"id"`
	ImageURL string `json:"image_url"`
}

// Client talks to the captchad HTTP API.
type Client struct {
	base       string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client) error

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return errors.New("http client must not be nil")
		}
		c.httpClient = hc
		return nil
	}
}

// WithTimeout sets the timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		c.httpClient.Timeout = d
		return nil
	}
}

// New creates a Client for the server at base, e.g. "http://localhost:8080".
func New(base string, opts ...Option) (*Client, error) {
	u, err := url.Parse(base)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q", base)
	}
	c := &Client{
		base:       strings.TrimRight(base, "/") + "/api/v1/captcha",
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Create issues a new challenge. A non-success envelope is returned as an
// error since Create has no client-side failure modes.
func (c *Client) Create(ctx context.Context) (*Challenge, error) {
	res, err := c.call(ctx, http.MethodPost, "", nil)
	if err != nil {
		return nil, err
	}
	if !res.OK() {
		return nil, fmt.Errorf("create captcha: %d %s: %s", res.Code, res.Type, res.Message)
	}
	var ch Challenge
	if err := json.Unmarshal(res.Data, &ch); err != nil {
		return nil, fmt.Errorf("decode challenge: %w", err)
	}
	return &ch, nil
}

// Verify checks code against the challenge id.
func (c *Client) Verify(ctx context.Context, id, code string) (*Result, error) {
	body, err := json.Marshal(map[string]string{"id": id, "code": code})
	if err != nil {
		return nil, err
	}
	return c.call(ctx, http.MethodPost, "/verify", body)
}

// Delete removes a challenge and its image.
func (c *Client) Delete(ctx context.Context, id string) (*Result, error) {
	return c.call(ctx, http.MethodDelete, "/"+url.PathEscape(id), nil)
}

// Sweep removes every expired challenge.
func (c *Client) Sweep(ctx context.Context) (*Result, error) {
	return c.call(ctx, http.MethodPost, "/sweep", nil)
}

// Reconcile removes images that no challenge references and returns how
// many were deleted.
func (c *Client) Reconcile(ctx context.Context) (int, *Result, error) {
	res, err := c.call(ctx, http.MethodPost, "/reconcile", nil)
	if err != nil || !res.OK() {
		return 0, res, err
	}
	var data struct {
		Removed int `json:"removed"`
	}
	if len(res.Data) > 0 {
		if err := json.Unmarshal(res.Data, &data); err != nil {
			return 0, res, fmt.Errorf("decode reconcile result: %w", err)
		}
	}
	return data.Removed, res, nil
}

func (c *Client) call(ctx context.Context, method, path string, body []byte) (*Result, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, r)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var res Result
	if err := json.Unmarshal(raw, &res); err != nil || res.Status == "" {
		return nil, fmt.Errorf("%w: status %d: %s", ErrUnexpectedResponse, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return &res, nil
}
