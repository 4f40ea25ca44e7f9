// Package client provides HTTP client functionality for the load generator.
// It includes per-session header sets and environment proxy handling.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/example/stickyapp/tools/loadgen/internal/config"
)

// Client is the HTTP client shared by all simulated users. It holds no
// per-session state; headers travel with each request.
type Client struct {
	httpClient     *http.Client
	baseURL        *url.URL
	requestTimeout time.Duration
	extraHeaders   map[string]string
	hostHeader     string
}

// NewClient creates a new HTTP client for the load generator.
func NewClient(cfg config.TargetConfig, proxy ProxyConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}

	baseURL, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	proxyFunc, err := proxy.ProxyFunc()
	if err != nil {
		return nil, fmt.Errorf("invalid proxy: %w", err)
	}

	transport := &http.Transport{
		Proxy: proxyFunc,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.TLSSkipVerify,
		},
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	c := &Client{
		httpClient:   &http.Client{Transport: transport},
		baseURL:      baseURL,
		extraHeaders: cfg.Headers,
		hostHeader:   cfg.HostHeader(),
	}
	if cfg.ApplyRequestTimeout {
		c.requestTimeout = cfg.RequestTimeout
	}
	return c, nil
}

// NewHeaders returns a fresh header set for one session, seeded with the
// configured virtual host and static headers.
func (c *Client) NewHeaders() *Headers {
	return NewHeaders(c.hostHeader, c.extraHeaders)
}

// Request represents an HTTP request to be executed.
type Request struct {
	Method      string
	Path        string
	QueryParams map[string]string
	Headers     *Headers
	Body        []byte
}

// Response represents an HTTP response. Error is set when no complete
// response was received.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	Error      error
}

// Text returns the response body as a string.
func (r *Response) Text() string {
	return string(r.Body)
}

// Do executes an HTTP request. No retries are made. The returned Response
// is never nil so callers can always inspect Error and Duration.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	u, err := c.buildURL(req.Path, req.QueryParams)
	if err != nil {
		return &Response{Error: err}, fmt.Errorf("building URL: %w", err)
	}

	if c.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	var bodyReader io.Reader
	if req.Body != nil {
		bodyReader = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u.String(), bodyReader)
	if err != nil {
		return &Response{Error: err}, fmt.Errorf("creating HTTP request: %w", err)
	}
	if req.Headers != nil {
		req.Headers.Apply(httpReq)
	}

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	resp := &Response{Error: err}
	if err != nil {
		resp.Duration = time.Since(start)
		return resp, err
	}
	defer httpResp.Body.Close()

	resp.StatusCode = httpResp.StatusCode
	resp.Headers = httpResp.Header
	resp.Body, err = io.ReadAll(httpResp.Body)
	resp.Duration = time.Since(start)
	if err != nil {
		resp.Error = fmt.Errorf("reading response body: %w", err)
		return resp, resp.Error
	}

	return resp, nil
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, path string, headers *Headers) (*Response, error) {
	return c.Do(ctx, Request{
		Method:  http.MethodGet,
		Path:    path,
		Headers: headers,
	})
}

// Post performs a POST request with a pre-encoded body.
func (c *Client) Post(ctx context.Context, path string, queryParams map[string]string, body []byte, headers *Headers) (*Response, error) {
	return c.Do(ctx, Request{
		Method:      http.MethodPost,
		Path:        path,
		QueryParams: queryParams,
		Headers:     headers,
		Body:        body,
	})
}

// buildURL builds a complete URL from path and query parameters.
func (c *Client) buildURL(path string, queryParams map[string]string) (*url.URL, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	u, err := c.baseURL.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}

	if len(queryParams) > 0 {
		q := u.Query()
		for k, v := range queryParams {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}

	return u, nil
}

// GetBaseURL returns the client's base URL.
func (c *Client) GetBaseURL() string {
	return c.baseURL.String()
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
