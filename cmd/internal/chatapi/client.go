// Package chatapi is the REST side of the chat service: history pages,
// read receipts and login.
package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Coding-Lml/love-space/cmd/internal/chat"
	v1 "github.com/Coding-Lml/love-space/shared/contracts/chat/v1"
)

const (
	defaultTimeout = 30 * time.Second

	// maxResponseBytes bounds how much of a response body is read.
	maxResponseBytes = 4 << 20
)

var (
	_ chat.HistoryFetcher = (*Client)(nil)
	_ chat.ReadMarker     = (*Client)(nil)
)

// ErrNotLoggedIn is returned for authenticated calls when no token is held.
var ErrNotLoggedIn = errors.New("chatapi: not logged in")

// APIError is a non-success Result envelope or an unexpected HTTP status.
type APIError struct {
	Op      string
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: status=%d code=%d: %s", e.Op, e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: status=%d code=%d", e.Op, e.Status, e.Code)
}

// TokenSource supplies the bearer token for authenticated calls.
type TokenSource interface {
	Token() string
}

// Client calls the chat REST API.
type Client struct {
	base   *url.URL
	http   *http.Client
	tokens TokenSource
	log    *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http = &http.Client{Timeout: d}
		}
	}
}

// New builds a client for baseURL (scheme and host, optional path prefix).
// tokens may be nil for a client that only logs in.
func New(baseURL string, tokens TokenSource, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("chatapi: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("chatapi: unsupported base url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("chatapi: base url has no host")
	}
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawQuery, u.Fragment = "", ""

	c := &Client{
		base:   u,
		http:   &http.Client{Timeout: defaultTimeout},
		tokens: tokens,
		log:    slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// FetchHistory returns the page of messages older than beforeID (0 = newest), ascending.
func (c *Client) FetchHistory(ctx context.Context, beforeID int64, size int) ([]v1.Message, error) {
	q := url.Values{}
	if beforeID > 0 {
		q.Set(v1.ParamBeforeID, strconv.FormatInt(beforeID, 10))
	}
	if size > 0 {
		q.Set(v1.ParamSize, strconv.Itoa(size))
	}
	msgs, err := call[[]v1.Message](ctx, c, "history", http.MethodGet, v1.PathHistory, q, nil, true)
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// MarkRead marks every unread message from the partner as read and returns their ids.
func (c *Client) MarkRead(ctx context.Context) ([]int64, error) {
	return call[[]int64](ctx, c, "mark read", http.MethodPost, v1.PathMarkRead, nil, nil, true)
}

// Login exchanges credentials for a token.
func (c *Client) Login(ctx context.Context, username, password string) (v1.LoginResponse, error) {
	req := v1.LoginRequest{Username: strings.TrimSpace(username), Password: password}
	return call[v1.LoginResponse](ctx, c, "login", http.MethodPost, v1.PathLogin, nil, req, false)
}

// Me returns the logged-in user.
func (c *Client) Me(ctx context.Context) (v1.User, error) {
	return call[v1.User](ctx, c, "me", http.MethodGet, v1.PathMe, nil, nil, true)
}

// Partner returns the other member of the space.
func (c *Client) Partner(ctx context.Context) (v1.User, error) {
	return call[v1.User](ctx, c, "partner", http.MethodGet, v1.PathPartner, nil, nil, true)
}

// call performs one request and unwraps the Result envelope.
// HTTP 401 maps to chat.ErrUnauthorized; a non-200 code maps to *APIError.
func call[T any](ctx context.Context, c *Client, op, method, path string, q url.Values, body any, auth bool) (T, error) {
	var zero T

	u := *c.base
	u.Path = c.base.Path + path
	u.RawQuery = q.Encode()

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return zero, fmt.Errorf("%s: encode: %w", op, err)
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), rdr)
	if err != nil {
		return zero, fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		tok := ""
		if c.tokens != nil {
			tok = c.tokens.Token()
		}
		if tok == "" {
			return zero, fmt.Errorf("%s: %w", op, ErrNotLoggedIn)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return zero, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return zero, fmt.Errorf("%s: read body: %w", op, err)
	}
	c.log.Debug("api.call", "op", op, "method", method, "path", path, "status", resp.StatusCode, "dur_ms", time.Since(start).Milliseconds())

	if resp.StatusCode == http.StatusUnauthorized {
		return zero, fmt.Errorf("%s: %w", op, chat.ErrUnauthorized)
	}

	var env v1.Result[T]
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode != http.StatusOK {
			return zero, &APIError{Op: op, Status: resp.StatusCode}
		}
		return zero, fmt.Errorf("%s: decode: %w", op, err)
	}
	if resp.StatusCode != http.StatusOK || env.Code != v1.CodeOK {
		return zero, &APIError{Op: op, Status: resp.StatusCode, Code: env.Code, Message: env.Message}
	}
	return env.Data, nil
}
