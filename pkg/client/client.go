package client

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

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultBaseURL        = "http://localhost:8000"
	DefaultStreamTimeout  = 60 * time.Second
	DefaultRequestTimeout = 15 * time.Second

	requestIDHeader = "X-Request-ID"
)

// Client talks to the chat backend. It holds no session state; callers pass
// the session id on every call.
type Client struct {
	baseURL        *url.URL
	wsURL          *url.URL
	httpClient     *http.Client
	streamTimeout  time.Duration
	requestTimeout time.Duration
	logger         zerolog.Logger
}

type Option func(*Client) error

func WithBaseURL(raw string) Option {
	return func(c *Client) error {
		u, err := parseBaseURL(raw, "http", "https")
		if err != nil {
			return errors.Wrap(err, "base url")
		}
		c.baseURL = u
		return nil
	}
}

// WithWebsocketURL overrides the websocket base. By default it is derived from
// the base URL by swapping the scheme.
func WithWebsocketURL(raw string) Option {
	return func(c *Client) error {
		if strings.TrimSpace(raw) == "" {
			return nil
		}
		u, err := parseBaseURL(raw, "ws", "wss")
		if err != nil {
			return errors.Wrap(err, "websocket url")
		}
		c.wsURL = u
		return nil
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return errors.New("http client is nil")
		}
		c.httpClient = hc
		return nil
	}
}

func WithStreamTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return errors.Errorf("stream timeout must be positive, got %s", d)
		}
		c.streamTimeout = d
		return nil
	}
}

func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return errors.Errorf("request timeout must be positive, got %s", d)
		}
		c.requestTimeout = d
		return nil
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) error {
		c.logger = l
		return nil
	}
}

func New(opts ...Option) (*Client, error) {
	c := &Client{
		httpClient:     &http.Client{},
		streamTimeout:  DefaultStreamTimeout,
		requestTimeout: DefaultRequestTimeout,
		logger:         log.Logger.With().Str("component", "client").Logger(),
	}
	if err := WithBaseURL(DefaultBaseURL)(c); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.wsURL == nil {
		ws := *c.baseURL
		ws.Scheme = "ws"
		if c.baseURL.Scheme == "https" {
			ws.Scheme = "wss"
		}
		c.wsURL = &ws
	}
	return c, nil
}

func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

func (c *Client) StreamTimeout() time.Duration {
	return c.streamTimeout
}

func parseBaseURL(raw string, schemes ...string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("empty url")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	ok := false
	for _, s := range schemes {
		if u.Scheme == s {
			ok = true
		}
	}
	if !ok {
		return nil, errors.Errorf("unsupported scheme %q in %s", u.Scheme, raw)
	}
	if u.Host == "" {
		return nil, errors.Errorf("missing host in %s", raw)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	return u, nil
}

func (c *Client) endpoint(base *url.URL, parts ...string) string {
	u := *base
	raw := base.EscapedPath()
	for _, p := range parts {
		u.Path += "/" + p
		raw += "/" + url.PathEscape(p)
	}
	u.RawPath = raw
	return u.String()
}

// apiPath joins fixed path segments without escaping them.
func (c *Client) apiPath(path string) string {
	u := *c.baseURL
	u.Path += path
	return u.String()
}

// HTTPError is returned by the non-streaming calls for non-2xx responses.
type HTTPError struct {
	StatusCode int
	Detail     string
}

func (e *HTTPError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("HTTP error! status: %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP error! status: %d: %s", e.StatusCode, e.Detail)
}

// readErrorDetail extracts a FastAPI style {"detail": ...} message when present.
func readErrorDetail(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(body) == 0 {
		return ""
	}
	var payload struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return strings.TrimSpace(string(body))
	}
	if payload.Message != "" {
		return payload.Message
	}
	var s string
	if err := json.Unmarshal(payload.Detail, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(payload.Detail))
}

func (c *Client) newRequest(ctx context.Context, method, target string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "encode request body")
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(requestIDHeader, uuid.NewString())
	return req, nil
}

// doJSON performs a bounded request and decodes a JSON response into out.
func (c *Client) doJSON(ctx context.Context, method, target string, body any, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := c.newRequest(ctx, method, target, body)
	if err != nil {
		return err
	}
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, req.URL.Path)
	}
	defer func() { _ = resp.Body.Close() }()

	c.logger.Debug().
		Str("method", method).
		Str("path", req.URL.Path).
		Int("status", resp.StatusCode).
		Str("request_id", req.Header.Get(requestIDHeader)).
		Dur("elapsed", time.Since(start)).
		Msg("request finished")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &HTTPError{StatusCode: resp.StatusCode, Detail: readErrorDetail(resp.Body)}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "decode %s response", req.URL.Path)
	}
	return nil
}
