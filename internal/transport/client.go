package transport

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

	"github.com/datim/adx-mediator/internal/errs"
)

const defaultResponseBodyLimit int64 = 10 << 20

// Options configures the secure client.
type Options struct {
	KeyFile            string
	CertFile           string
	CAFile             string
	InsecureSkipVerify bool
	Timeout            time.Duration // 0 = none
	MaxResponseBytes   int64
	MaxConnsPerHost    int
}

// Request is one outbound call. Query values are merged into URL's query.
type Request struct {
	Method  string
	URL     string
	Query   url.Values
	Headers http.Header
	Body    io.Reader
	// ContentLength is passed through when the body is a stream of known size.
	ContentLength int64
}

// Response is a fully read upstream reply.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Timestamp  time.Time
}

// Doer is what relay, poller and delivery depend on.
type Doer interface {
	Do(ctx context.Context, req Request) (Response, error)
}

// Client issues outbound calls with a fixed TLS credential set.
type Client struct {
	httpClient       *http.Client
	maxResponseBytes int64
}

// New loads the TLS material and builds a pooled client.
func New(opts Options) (*Client, error) {
	tlsConfig, err := loadTLSConfig(opts)
	if err != nil {
		return nil, err
	}

	maxConns := opts.MaxConnsPerHost
	if maxConns <= 0 {
		maxConns = 100
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		TLSClientConfig:       tlsConfig,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          maxConns * 2,
		MaxIdleConnsPerHost:   maxConns,
		MaxConnsPerHost:       maxConns * 2,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return NewWithHTTPClient(&http.Client{Transport: transport, Timeout: opts.Timeout}, opts.MaxResponseBytes), nil
}

// NewWithHTTPClient wraps an existing client, e.g. httptest.Server.Client().
func NewWithHTTPClient(hc *http.Client, maxResponseBytes int64) *Client {
	if hc == nil {
		hc = &http.Client{}
	}
	if maxResponseBytes <= 0 {
		maxResponseBytes = defaultResponseBodyLimit
	}
	return &Client{httpClient: hc, maxResponseBytes: maxResponseBytes}
}

func (c *Client) Do(ctx context.Context, req Request) (Response, error) {
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}

	target, err := url.Parse(strings.TrimSpace(req.URL))
	if err != nil || target.Host == "" {
		return Response{}, errs.Transport(err, "invalid request url", map[string]any{"url": req.URL})
	}
	if len(req.Query) > 0 {
		query := target.Query()
		for key, values := range req.Query {
			query.Del(key)
			for _, v := range values {
				query.Add(key, v)
			}
		}
		target.RawQuery = query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), req.Body)
	if err != nil {
		return Response{}, errs.Transport(err, "create http request", map[string]any{"method": method, "url": target.String()})
	}
	if req.ContentLength > 0 {
		httpReq.ContentLength = req.ContentLength
	}
	for key, values := range req.Headers {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}

	httpRes, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Response{}, errs.Transport(err, "execute http request", map[string]any{"method": method, "url": target.String()})
	}
	defer httpRes.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpRes.Body, c.maxResponseBytes+1))
	if err != nil {
		return Response{}, errs.Transport(err, "read response body", map[string]any{"url": target.String(), "status_code": httpRes.StatusCode})
	}
	if int64(len(body)) > c.maxResponseBytes {
		return Response{}, errs.Transport(nil,
			fmt.Sprintf("response body exceeds limit of %d bytes", c.maxResponseBytes),
			map[string]any{"url": target.String(), "status_code": httpRes.StatusCode},
		)
	}

	return Response{
		StatusCode: httpRes.StatusCode,
		Headers:    flattenHeaders(httpRes.Header),
		Body:       body,
		Timestamp:  time.Now(),
	}, nil
}

func flattenHeaders(headers http.Header) map[string]string {
	flat := make(map[string]string, len(headers))
	for key, values := range headers {
		flat[strings.ToLower(key)] = strings.Join(values, ",")
	}
	return flat
}

// RawJSON embeds b as-is when it is valid JSON, otherwise as a JSON string.
// An empty body becomes "".
func RawJSON(b []byte) json.RawMessage {
	if len(b) > 0 && json.Valid(b) {
		return json.RawMessage(b)
	}
	quoted, _ := EncodeJSON(string(b))
	return quoted
}

// EncodeJSON is json.Marshal without HTML escaping, so XML bodies keep
// their < > & as sent.
func EncodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

var _ Doer = (*Client)(nil)
