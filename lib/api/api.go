// Package api implements the HTTP client shared by the provide microservice APIs. Every call is authenticated with the
// bearer token given at construction and responses are classified by content type: JSON bodies are decoded, anything
// else is kept as raw text.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Defaults applied by New to zero Config fields.
const (
	DefaultScheme    = "https"
	DefaultVersion   = "v1"
	DefaultUserAgent = "prvd-go client"
	DefaultTimeout   = 30 * time.Second
)

// ResourceAPI is the capability consumed by the typed resource packages.
type ResourceAPI interface {
	Get(ctx context.Context, uri string, params url.Values) (*Response, error)
	Post(ctx context.Context, uri string, body interface{}) (*Response, error)
	Put(ctx context.Context, uri string, body interface{}) (*Response, error)
	Delete(ctx context.Context, uri string) (*Response, error)
}

// Config contains the fields required to reach one microservice.
type Config struct {
	Scheme    string
	Host      string
	Version   string
	Token     string
	UserAgent string
	Timeout   time.Duration
}

// Response is a classified API response. Body holds the decoded JSON document when the content type is JSON and the
// raw text otherwise.
type Response struct {
	Status int
	Header http.Header
	Body   interface{}
	Raw    []byte
}

// JSON reports whether the response body was a JSON document.
func (r *Response) JSON() bool {
	return isJSON(r.Header.Get("Content-Type"))
}

// Decode unmarshals a JSON response body into v.
func (r *Response) Decode(v interface{}) error {
	if !r.JSON() {
		return fmt.Errorf("%w: %s", ErrNotJSON, r.Header.Get("Content-Type"))
	}
	if err := json.Unmarshal(r.Raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadBody, err)
	}
	return nil
}

// Client implements ResourceAPI over net/http.
type Client struct {
	base  string
	token string
	ua    string
	c     *http.Client
}

// New returns a client for the service described by cfg.
func New(cfg Config) *Client {
	if cfg.Scheme == "" {
		cfg.Scheme = DefaultScheme
	}
	if cfg.Version == "" {
		cfg.Version = DefaultVersion
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		base:  fmt.Sprintf("%s://%s/api/%s", cfg.Scheme, cfg.Host, cfg.Version),
		token: cfg.Token,
		ua:    cfg.UserAgent,
		c:     &http.Client{Timeout: cfg.Timeout},
	}
}

// BaseURL returns the versioned API root.
func (c *Client) BaseURL() string {
	return c.base
}

// Get fetches uri with the given query parameters.
func (c *Client) Get(ctx context.Context, uri string, params url.Values) (*Response, error) {
	u := c.base + "/" + uri
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return c.do(ctx, http.MethodGet, u, nil)
}

// Post sends body as JSON to uri.
func (c *Client) Post(ctx context.Context, uri string, body interface{}) (*Response, error) {
	return c.do(ctx, http.MethodPost, c.base+"/"+uri, body)
}

// Put sends body as JSON to uri.
func (c *Client) Put(ctx context.Context, uri string, body interface{}) (*Response, error) {
	return c.do(ctx, http.MethodPut, c.base+"/"+uri, body)
}

// Delete removes the resource at uri.
func (c *Client) Delete(ctx context.Context, uri string) (*Response, error) {
	return c.do(ctx, http.MethodDelete, c.base+"/"+uri, nil)
}

func (c *Client) do(ctx context.Context, method, u string, body interface{}) (*Response, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("cannot encode %s %s body: %w", method, u, err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, fmt.Errorf("cannot build %s %s: %w", method, u, err)
	}
	req.Header.Set("User-Agent", c.ua)
	if c.token != "" {
		req.Header.Set("Authorization", "bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.c.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrTransport, method, u, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s %s: %v", ErrTransport, method, u, err)
	}

	r := &Response{Status: res.StatusCode, Header: res.Header, Raw: raw, Body: string(raw)}
	// the same content type rule applies to every verb and status
	if r.JSON() && len(raw) > 0 {
		var doc interface{}
		if err = json.Unmarshal(raw, &doc); err == nil {
			r.Body = doc
		}
	}
	return r, nil
}

func isJSON(contentType string) bool {
	return strings.HasPrefix(contentType, "application/json")
}
