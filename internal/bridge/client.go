// Package bridge forwards chat turns to the external agent API and classifies
// every outcome into a Result. No error or panic crosses the package boundary.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pricefinder/pricefinder/internal/domain"
)

// DefaultTimeout is the deadline applied to a call when none is configured.
const DefaultTimeout = 30 * time.Second

// maxResponseSize caps how much of a response body is read.
const maxResponseSize = 4 << 20

// Client calls the agent API. It holds no per-call state and is safe to
// reuse or construct per call.
type Client struct {
	baseURL string
	timeout time.Duration
	doer    *http.Client
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client. Its own Timeout is
// ignored in favour of the bridge deadline.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.doer = c }
}

// WithLogger sets the logger used for call diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// NewClient creates a client for the agent API at baseURL.
func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		doer:    &http.Client{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Timeout returns the per-call deadline.
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

type searchRequest struct {
	Query string `json:"query"`
}

// HealthCheck calls GET /health.
func (c *Client) HealthCheck(ctx context.Context) Result {
	return c.do(ctx, http.MethodGet, "/health", nil)
}

// SendMessage calls POST /chat with the utterance and the caller's session ID.
func (c *Client) SendMessage(ctx context.Context, message, sessionID string) Result {
	return c.do(ctx, http.MethodPost, "/chat", chatRequest{Message: message, SessionID: sessionID})
}

// SearchProducts calls POST /search.
func (c *Client) SearchProducts(ctx context.Context, query string) Result {
	return c.do(ctx, http.MethodPost, "/search", searchRequest{Query: query})
}

// do performs exactly one request. The connection is not reused after the
// call returns: the request asks for Close and the body is always closed.
func (c *Client) do(ctx context.Context, method, path string, payload any) (res Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res = transportResult(fmt.Sprintf("connection error: %v", r))
		}
		res.Elapsed = time.Since(start)
		c.logger.Debug("Agent call finished",
			"method", method,
			"path", path,
			"kind", res.Kind,
			"status", res.StatusCode,
			"elapsed", res.Elapsed,
		)
	}()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return transportResult(fmt.Sprintf("connection error: encode request: %v", err))
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return transportResult(fmt.Sprintf("connection error: %v", err))
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Close = true

	resp, err := c.doer.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return timeoutResult()
		}
		return transportResult(fmt.Sprintf("connection error: %v", err))
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close agent response body", "error", closeErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		failed := transportResult(fmt.Sprintf("HTTP error: %d", resp.StatusCode))
		failed.StatusCode = resp.StatusCode
		return failed
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		if isTimeout(ctx, err) {
			return timeoutResult()
		}
		return transportResult(fmt.Sprintf("connection error: %v", err))
	}

	res = classifyBody(data)
	res.StatusCode = resp.StatusCode
	return res
}

// classifyBody decodes a 2xx body. A body with an "error" key is a
// service-reported failure even when "response" is also present.
func classifyBody(data []byte) Result {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return transportResult(fmt.Sprintf("malformed response: %v", err))
	}
	if raw == nil {
		return transportResult("malformed response: empty body")
	}

	if errField, ok := raw["error"]; ok {
		return Result{Kind: KindServiceReported, Error: rawText(errField), Body: raw}
	}

	res := Result{Kind: KindOK, Body: raw}
	if v, ok := raw["response"]; ok {
		res.HasResponse = true
		res.Response = rawText(v)
	}
	if v, ok := raw["status"]; ok {
		res.Status = rawText(v)
	}
	if v, ok := raw["message"]; ok {
		res.Message = rawText(v)
	}
	if v, ok := raw["products"]; ok {
		var products []domain.Product
		if err := json.Unmarshal(v, &products); err != nil {
			return transportResult(fmt.Sprintf("malformed response: products: %v", err))
		}
		res.Products = products
	}
	return res
}

// rawText returns a JSON string's value, or the raw JSON for other types.
func rawText(v json.RawMessage) string {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	return string(v)
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne interface{ Timeout() bool }
	return errors.As(err, &ne) && ne.Timeout()
}
