// Package executor posts compiled queries to the read API and returns the
// result tree.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"changewatch/internal/jsontree"
)

const (
	DefaultURL     = "http://localhost:8000/graphql"
	DefaultTimeout = 60 * time.Second

	maxBody = 64 << 20
)

// TransportError covers connection failures, timeouts, non-2xx replies and
// undecodable bodies.
type TransportError struct {
	Op      string // "connect", "timeout", "status", "decode"
	Status  int
	Message string
	Err     error
}

func (e *TransportError) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("read api %s: http %d: %s", e.Op, e.Status, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("read api %s: %v", e.Op, e.Err)
	default:
		return "read api " + e.Op + ": " + e.Message
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// APIError is returned when the reply carries an errors array.
type APIError struct {
	Messages []string
}

func (e *APIError) Error() string {
	return "read api error: " + strings.Join(e.Messages, "; ")
}

// Executor runs a query. It is the seam tests replace.
type Executor interface {
	Execute(ctx context.Context, query string) (jsontree.Value, error)
}

type Client struct {
	url     string
	http    *http.Client
	timeout time.Duration
}

type Option func(*Client)

// WithHTTPClient replaces the underlying client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithTimeout bounds each Execute call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func New(url string, opts ...Option) *Client {
	if strings.TrimSpace(url) == "" {
		url = DefaultURL
	}
	c := &Client{url: url, http: &http.Client{}, timeout: DefaultTimeout}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) URL() string { return c.url }

// Execute posts {"query": query} and returns the "data" member. A missing
// or null data member yields a null Value.
func (c *Client) Execute(ctx context.Context, query string) (jsontree.Value, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return jsontree.Value{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return jsontree.Value{}, &TransportError{Op: "connect", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return jsontree.Value{}, classify(ctx, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return jsontree.Value{}, classify(ctx, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return jsontree.Value{}, &TransportError{Op: "status", Status: resp.StatusCode, Message: snippet(raw)}
	}

	root, err := jsontree.Parse(raw)
	if err != nil {
		return jsontree.Value{}, &TransportError{Op: "decode", Err: err}
	}
	if errs, ok := root.Get("errors"); ok && errs.Kind != jsontree.Null {
		return jsontree.Value{}, &APIError{Messages: errorMessages(errs)}
	}
	data, _ := root.Get("data")
	return data, nil
}

func classify(ctx context.Context, err error) error {
	var ne net.Error
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return &TransportError{Op: "timeout", Err: err}
	}
	return &TransportError{Op: "connect", Err: err}
}

func errorMessages(v jsontree.Value) []string {
	items := []jsontree.Value{v}
	if v.Kind == jsontree.Array {
		items = v.Array
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if m, ok := it.Get("message"); ok && m.Kind == jsontree.String {
			out = append(out, m.String)
			continue
		}
		b, _ := json.Marshal(it)
		out = append(out, string(b))
	}
	if len(out) == 0 {
		out = append(out, "unknown error")
	}
	return out
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
