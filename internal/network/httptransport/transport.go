// Package httptransport executes operations by POSTing JSON to a GraphQL
// HTTP endpoint.
package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hanpama/graphcache/internal/network"
	"github.com/hanpama/graphcache/internal/reqid"
)

// Options configures the HTTP transport.
type Options struct {
	Client  *http.Client
	Header  http.Header
	Timeout time.Duration
}

type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		Client:  http.DefaultClient,
		Header:  http.Header{},
		Timeout: 10 * time.Second,
	}
}

func WithClient(c *http.Client) Option  { return func(o *Options) { o.Client = c } }
func WithHeader(k, v string) Option      { return func(o *Options) { o.Header.Add(k, v) } }
func WithTimeout(d time.Duration) Option { return func(o *Options) { o.Timeout = d } }

// StatusError reports a non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("httptransport: unexpected status %d: %s", e.Code, e.Body)
}

// Transport is a network.Network over HTTP.
type Transport struct {
	endpoint string
	opts     *Options
}

var _ network.Network = (*Transport)(nil)

func New(endpoint string, opts ...Option) *Transport {
	o := defaultOptions()
	for _, f := range opts {
		f(o)
	}
	return &Transport{endpoint: endpoint, opts: o}
}

// Execute runs Fetch on a new goroutine and reports to done.
func (t *Transport) Execute(ctx context.Context, req *network.Request, done func(*network.Payload, error)) {
	network.Async(t.Fetch).Execute(ctx, req, done)
}

// Fetch sends req and waits for the response.
func (t *Transport) Fetch(ctx context.Context, req *network.Request) (*network.Payload, error) {
	if _, ok := ctx.Deadline(); !ok && t.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.opts.Timeout)
		defer cancel()
	}
	body, err := json.Marshal(network.RequestBody(req))
	if err != nil {
		return nil, fmt.Errorf("httptransport: encode request: %w", err)
	}
	hr, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	for k, vs := range t.opts.Header {
		for _, v := range vs {
			hr.Header.Add(k, v)
		}
	}
	hr.Header.Set("Content-Type", "application/json")
	hr.Header.Set("Accept", "application/json")
	id := req.ID
	if id == "" {
		id, _ = reqid.FromContext(ctx)
	}
	if id != "" {
		hr.Header.Set("X-Request-Id", id)
	}

	resp, err := t.opts.Client.Do(hr)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return nil, &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(raw))}
	}
	var m map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("httptransport: decode response: %w", err)
	}
	return network.ParseResponse(normalizeNumbers(m).(map[string]any))
}

// normalizeNumbers turns json.Number into int64 when integral, else float64.
func normalizeNumbers(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		f, _ := x.Float64()
		return f
	case map[string]any:
		for k, e := range x {
			x[k] = normalizeNumbers(e)
		}
		return x
	case []any:
		for i, e := range x {
			x[i] = normalizeNumbers(e)
		}
		return x
	default:
		return v
	}
}
