// Package api is the HTTP transport shared by the client packages. It
// attaches the session token, unwraps response envelopes and turns failures
// into FETCH_ERROR values carrying the remote status and message.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/noah-isme/ireporter/pkg/errors"
)

// TokenSource yields the bearer token for authenticated calls.
type TokenSource interface {
	Token() (string, error)
}

// Response is a decoded successful reply. Data is the envelope's data member
// when the server wraps its payload, otherwise the whole body.
type Response struct {
	Status     int
	Data       json.RawMessage
	Pagination json.RawMessage
	Meta       map[string]interface{}
}

// Client talks to the report service.
type Client struct {
	base   string
	http   *http.Client
	tokens TokenSource
	logger *zap.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New builds a Client for baseURL (for example http://localhost:8080/api/v1).
func New(baseURL string, tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		base:   strings.TrimRight(baseURL, "/"),
		http:   &http.Client{Timeout: 15 * time.Second},
		tokens: tokens,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the configured service root.
func (c *Client) BaseURL() string {
	return c.base
}

// Get issues an authenticated GET.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (*Response, error) {
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	return c.Do(ctx, http.MethodGet, path, nil)
}

// Do sends an authenticated JSON request. It fails with UNAUTHENTICATED
// before any I/O when there is no token.
func (c *Client) Do(ctx context.Context, method, path string, body interface{}) (*Response, error) {
	token, err := c.token()
	if err != nil {
		return nil, err
	}
	return c.send(ctx, method, path, token, body)
}

// DoAs sends a JSON request with an explicit bearer token, for callers that
// validate a token before adopting it.
func (c *Client) DoAs(ctx context.Context, method, path, token string, body interface{}) (*Response, error) {
	if token == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthenticated, "not signed in")
	}
	return c.send(ctx, method, path, token, body)
}

// DoPublic sends a JSON request without credentials.
func (c *Client) DoPublic(ctx context.Context, method, path string, body interface{}) (*Response, error) {
	return c.send(ctx, method, path, "", body)
}

// Upload posts one file as multipart form field to an authenticated endpoint.
func (c *Client) Upload(ctx context.Context, path, field, filename string, r io.Reader) (*Response, error) {
	token, err := c.token()
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile(field, filename)
		if err == nil {
			_, err = io.Copy(part, r)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path), pr)
	if err != nil {
		_ = pr.Close()
		return nil, appErrors.Fetch(0, "invalid request", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return c.roundTrip(req)
}

// Download streams an authenticated GET body into w. It is used for
// non-JSON replies such as exports.
func (c *Client) Download(ctx context.Context, path string, query url.Values, w io.Writer) (http.Header, error) {
	token, err := c.token()
	if err != nil {
		return nil, err
	}
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(path), nil)
	if err != nil {
		return nil, appErrors.Fetch(0, "invalid request", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	res, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, appErrors.Fetch(0, "request cancelled", ctxErr)
		}
		return nil, appErrors.Fetch(0, "service unreachable", err)
	}
	defer res.Body.Close() //nolint:errcheck

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 64<<10))
		return nil, appErrors.Fetch(res.StatusCode, remoteMessage(raw, res.StatusCode), nil)
	}
	if _, err := io.Copy(w, res.Body); err != nil {
		return nil, appErrors.Fetch(res.StatusCode, "failed to read response", err)
	}
	return res.Header, nil
}

// URL resolves a path against the service root. Absolute URLs are returned
// unchanged.
func (c *Client) URL(path string) string {
	return c.url(path)
}

func (c *Client) token() (string, error) {
	if c.tokens == nil {
		return "", appErrors.Clone(appErrors.ErrUnauthenticated, "not signed in")
	}
	token, err := c.tokens.Token()
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", appErrors.Clone(appErrors.ErrUnauthenticated, "not signed in")
	}
	return token, nil
}

func (c *Client) url(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.base + path
}

func (c *Client) send(ctx context.Context, method, path, token string, body interface{}) (*Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "failed to encode request")
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url(path), reader)
	if err != nil {
		return nil, appErrors.Fetch(0, "invalid request", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return c.roundTrip(req)
}

func (c *Client) roundTrip(req *http.Request) (*Response, error) {
	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, appErrors.Fetch(0, "request cancelled", ctxErr)
		}
		return nil, appErrors.Fetch(0, "service unreachable", err)
	}
	defer res.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(io.LimitReader(res.Body, 32<<20))
	if err != nil {
		return nil, appErrors.Fetch(res.StatusCode, "failed to read response", err)
	}
	c.logger.Debug("api call",
		zap.String("method", req.Method),
		zap.String("url", req.URL.Redacted()),
		zap.Int("status", res.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, appErrors.Fetch(res.StatusCode, remoteMessage(raw, res.StatusCode), nil)
	}
	return decode(res.StatusCode, raw)
}

type envelope struct {
	Data       json.RawMessage        `json:"data"`
	Pagination json.RawMessage        `json:"pagination"`
	Meta       map[string]interface{} `json:"meta"`
}

func decode(status int, raw []byte) (*Response, error) {
	out := &Response{Status: status}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return out, nil
	}
	if trimmed[0] == '{' {
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &probe); err != nil {
			return nil, appErrors.Fetch(status, "malformed response", err)
		}
		if _, wrapped := probe["data"]; wrapped {
			var env envelope
			if err := json.Unmarshal(trimmed, &env); err != nil {
				return nil, appErrors.Fetch(status, "malformed response", err)
			}
			out.Data, out.Pagination, out.Meta = env.Data, env.Pagination, env.Meta
			return out, nil
		}
	}
	if !json.Valid(trimmed) {
		return nil, appErrors.Fetch(status, "malformed response", nil)
	}
	out.Data = json.RawMessage(trimmed)
	return out, nil
}

// remoteMessage extracts the server's explanation from an error body. The
// service nests it under error.message; the legacy backend used flat
// error, message or msg members.
func remoteMessage(raw []byte, status int) string {
	var body map[string]json.RawMessage
	if err := json.Unmarshal(raw, &body); err == nil {
		if nested, ok := body["error"]; ok {
			var e struct {
				Message string `json:"message"`
			}
			if json.Unmarshal(nested, &e) == nil && e.Message != "" {
				return e.Message
			}
			var s string
			if json.Unmarshal(nested, &s) == nil && s != "" {
				return s
			}
		}
		for _, key := range []string{"message", "msg", "detail"} {
			var s string
			if v, ok := body[key]; ok && json.Unmarshal(v, &s) == nil && s != "" {
				return s
			}
		}
	}
	if text := strings.TrimSpace(string(raw)); text != "" && len(text) < 200 && !strings.HasPrefix(text, "<") {
		return text
	}
	return fmt.Sprintf("request failed with status %d", status)
}
