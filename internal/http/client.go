package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ErrConnectTimeout is returned by Open when no response headers arrived
// within the connect timeout.
var ErrConnectTimeout = errors.New("connect timeout")

// StatusError reports a response whose status code was not 2xx.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Status)
}

// Temporary reports whether retrying the request may succeed.
func (e *StatusError) Temporary() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

// Client wraps HTTP operations for tile servers and generic downloads.
//
// Client provides:
//   - A configured User-Agent header (tile servers reject anonymous clients)
//   - Whole-body fetches for tile transports
//   - Streaming requests whose connect phase has its own timeout
//
// Example usage:
//
//	client := NewClient(WithUserAgent("tilefetch/1.0"))
//
//	// Fetch a tile
//	png, err := client.Get(ctx, "http://a.tile.openstreetmap.org/0/0/0.png")
//
//	// Stream a large body
//	resp, err := client.Open(ctx, Request{URL: u}, 30*time.Second)
//	defer resp.Body.Close()
type Client struct {
	httpClient *http.Client
	userAgent  string
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the overall timeout of Get. Open is not affected: a
// streaming body has no overall deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithTransport replaces the underlying round tripper.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.httpClient.Transport = rt
	}
}

// WithProxy routes requests through the proxy chosen by fn. A nil fn
// disables proxies, including the ones set in the environment.
func WithProxy(fn func(*http.Request) (*url.URL, error)) Option {
	return func(c *Client) {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.Proxy = fn
		c.httpClient.Transport = transport
	}
}

// NewClient creates a new HTTP client.
//
// The client is configured with:
//   - 60 second timeout for Get
//   - "tilefetch" User-Agent header
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		userAgent: "tilefetch",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ProgressWriter wraps a writer to track download progress.
//
// OnUpdate receives the bytes written so far and the expected total after
// every Write.
//
// Example:
//
//	pw := &ProgressWriter{
//	    Writer: &buf,
//	    Total:  contentLength,
//	    OnUpdate: func(written, total int64) {
//	        fmt.Printf("%d / %d bytes\n", written, total)
//	    },
//	}
type ProgressWriter struct {
	// Writer is the underlying writer to write data to.
	Writer io.Writer

	// Total is the expected total bytes.
	Total int64

	// Written is the current number of bytes written.
	Written int64

	// OnUpdate is called after each Write with current progress.
	OnUpdate func(written, total int64)
}

// Write implements io.Writer, tracking progress and calling OnUpdate.
func (pw *ProgressWriter) Write(p []byte) (int, error) {
	n, err := pw.Writer.Write(p)
	pw.Written += int64(n)
	if pw.OnUpdate != nil {
		pw.OnUpdate(pw.Written, pw.Total)
	}
	return n, err
}

// Get performs a GET request and returns the response body as bytes.
//
// Returns an error if:
//   - The request fails
//   - The response status is not 200 OK (a *StatusError)
//   - Reading the body fails
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}

	return io.ReadAll(resp.Body)
}

// Request describes a streaming request made with Open.
type Request struct {
	URL string

	// PostData, when non-empty, turns the request into a POST.
	PostData []byte

	// Headers are added to the request. A User-Agent here overrides the
	// client's.
	Headers http.Header
}

// Open sends req and returns the response with an unread body. Only the
// phase up to the response headers is bounded by connectTimeout; the body
// can then be read for as long as it takes. Cancelling ctx aborts the
// request at any point. The caller must close the response body.
//
// Any status code is returned without error so the caller can report it.
func (c *Client) Open(ctx context.Context, req Request, connectTimeout time.Duration) (*http.Response, error) {
	method := http.MethodGet
	var body io.Reader
	if len(req.PostData) > 0 {
		method = http.MethodPost
		body = bytes.NewReader(req.PostData)
	}

	ctx, cancel := context.WithCancel(ctx)

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		cancel()
		return nil, err
	}
	httpReq.Header.Set("User-Agent", c.userAgent)
	for k, vs := range req.Headers {
		httpReq.Header.Del(k)
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if method == http.MethodPost && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	var timer *time.Timer
	if connectTimeout > 0 {
		timer = time.AfterFunc(connectTimeout, cancel)
	}

	// Streaming bodies must not inherit the Get timeout.
	client := *c.httpClient
	client.Timeout = 0

	resp, err := client.Do(httpReq)
	timedOut := timer != nil && !timer.Stop()
	if err != nil {
		cancel()
		if timedOut && ctx.Err() != nil {
			return nil, fmt.Errorf("%s: %w", req.URL, ErrConnectTimeout)
		}
		return nil, err
	}
	if timedOut {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("%s: %w", req.URL, ErrConnectTimeout)
	}

	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
