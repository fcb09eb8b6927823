// Package main provides a CI-friendly smoke test for the love-space chat backend.
//
// It validates:
//   - REST login for both partners
//   - websocket auth (auth frame or token query)
//   - send -> echo to the sender and delivery to the partner
//   - mark-read -> read notice on the sender's socket
//   - history fetch contains the new message
//   - a forged token is closed with reason "unauthorized"
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	v1 "github.com/Coding-Lml/love-space/shared/contracts/chat/v1"

	"github.com/coder/websocket"
)

const maxReadBytes = 1 << 20 // 1MiB

type inbound struct {
	kind  v1.Kind
	frame v1.Frame
	msg   v1.Message
}

type smokeClient struct {
	name string
	base string
	user v1.User
	tok  string
	conn *websocket.Conn

	inbox chan inbound
	errCh chan error
}

func main() {
	var (
		baseURL = flag.String("base", "http://127.0.0.1:8080", "service base URL")
		origin  = flag.String("origin", "", "Origin header to send (browser-like WS handshake)")
		mode    = flag.String("mode", "frame", "websocket auth mode: frame|query")
		userA   = flag.String("a", "ann:ann-pass", "first partner as username:password")
		userB   = flag.String("b", "bo:bo-pass", "second partner as username:password")
		text    = flag.String("text", "hello love 👋", "message text to send")
		timeout = flag.Duration("timeout", 7*time.Second, "per-step timeout")
		verbose = flag.Bool("v", false, "verbose output")
	)
	flag.Parse()

	wsURL, err := websocketURL(*baseURL)
	if err != nil {
		fatalf("invalid -base: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}
	if *mode != "frame" && *mode != "query" {
		fatalf("invalid -mode %q", *mode)
	}

	root := context.Background()

	a := mustLogin(root, "A", *baseURL, *userA, *timeout)
	b := mustLogin(root, "B", *baseURL, *userB, *timeout)

	mustConnect(root, a, wsURL, *origin, *mode, *timeout)
	defer closeWS(a.conn)
	mustConnect(root, b, wsURL, *origin, *mode, *timeout)
	defer closeWS(b.conn)

	if *verbose {
		fmt.Printf("connected: A=%d(%s) B=%d(%s) mode=%s\n", a.user.ID, a.user.Username, b.user.ID, b.user.Username, *mode)
	}

	mustWriteWithTimeout(root, a.conn, v1.TextFrame{Type: v1.TypeText, Content: *text}, *timeout)

	echo := a.mustReadMessage(root, *timeout)
	got := b.mustReadMessage(root, *timeout)
	if echo.ID != got.ID {
		fatalf("echo/delivery id mismatch: A=%d B=%d", echo.ID, got.ID)
	}
	if got.FromUserID != a.user.ID || got.ToUserID != b.user.ID {
		fatalf("delivery routing mismatch: from=%d to=%d", got.FromUserID, got.ToUserID)
	}
	if got.Content != *text || got.Type != v1.TypeText || got.IsRead() {
		fatalf("delivery mismatch: %+v", got)
	}

	ids := mustMarkRead(root, b, *timeout)
	if !slices.Contains(ids, got.ID) {
		fatalf("mark read did not include message %d: %v", got.ID, ids)
	}
	notice := a.mustReadUntil(root, v1.KindRead, *timeout)
	if notice.frame.ReaderID != b.user.ID || !slices.Contains(notice.frame.MessageIDs, got.ID) {
		fatalf("read notice mismatch: %+v", notice.frame)
	}

	mustHistoryContains(root, b, got.ID, *timeout)

	mustRejectForged(root, wsURL, *origin, *mode, *timeout)

	fmt.Printf("OK: A=%d B=%d message_id=%d mode=%s\n", a.user.ID, b.user.ID, got.ID, *mode)
}

func websocketURL(base string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", errors.New("missing host")
	}
	u.Path = strings.TrimRight(u.Path, "/") + v1.Path
	return u.String(), nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustLogin(parent context.Context, name, baseURL, cred string, stepTimeout time.Duration) *smokeClient {
	username, password, ok := strings.Cut(cred, ":")
	if !ok || username == "" {
		fatalf("credential for %s must be username:password", name)
	}

	c := &smokeClient{name: name, base: strings.TrimRight(baseURL, "/")}

	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	res, err := call[v1.LoginResponse](ctx, c, http.MethodPost, v1.PathLogin, v1.LoginRequest{Username: username, Password: password})
	if err != nil {
		fatalf("login %s: %v", name, err)
	}
	if res.Token == "" || res.User.ID <= 0 {
		fatalf("login %s: empty token or user", name)
	}
	c.tok, c.user = res.Token, res.User
	return c
}

func dial(parent context.Context, wsURL, origin, mode, tok string, stepTimeout time.Duration) (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	if mode == "query" {
		u, _ := url.Parse(wsURL)
		q := u.Query()
		q.Set(v1.TokenQueryParam, tok)
		u.RawQuery = q.Encode()
		wsURL = u.String()
	}

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: h})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(maxReadBytes)

	if mode == "frame" {
		mustWriteWithTimeout(parent, conn, v1.AuthFrame{Type: v1.TypeAuth, Token: tok}, stepTimeout)
	}
	return conn, nil
}

func mustConnect(parent context.Context, c *smokeClient, wsURL, origin, mode string, stepTimeout time.Duration) {
	conn, err := dial(parent, wsURL, origin, mode, c.tok, stepTimeout)
	if err != nil {
		fatalf("connect %s: %v", c.name, err)
	}
	c.conn = conn
	c.inbox = make(chan inbound, 512)
	c.errCh = make(chan error, 1)
	c.startReadLoop()

	if mode == "frame" {
		res := c.mustReadUntil(parent, v1.KindAuth, stepTimeout)
		if res.frame.Status != v1.AuthOK {
			fatalf("auth %s: status=%q", c.name, res.frame.Status)
		}
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}
			if mt != websocket.MessageText {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}

			kind, f, m, err := v1.Decode(data)
			if err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad frame: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- inbound{kind: kind, frame: f, msg: m}:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func (c *smokeClient) mustReadMessage(parent context.Context, stepTimeout time.Duration) v1.Message {
	return c.mustReadUntil(parent, v1.KindMessage, stepTimeout).msg
}

func (c *smokeClient) mustReadUntil(parent context.Context, want v1.Kind, stepTimeout time.Duration) inbound {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for frame kind %d (%s): %v", want, c.name, ctx.Err())
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed while waiting for frame kind %d (%s)", want, c.name)
			}
			fatalf("connection error while waiting for frame kind %d (%s): %v", want, c.name, err)
		case in, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for frame kind %d (%s)", want, c.name)
			}
			if in.kind == want {
				return in
			}
			fatalf("unexpected frame kind (%s): got=%d want=%d", c.name, in.kind, want)
		}
	}
}

func mustMarkRead(parent context.Context, c *smokeClient, stepTimeout time.Duration) []int64 {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	ids, err := call[[]int64](ctx, c, http.MethodPost, v1.PathMarkRead, nil)
	if err != nil {
		fatalf("mark read (%s): %v", c.name, err)
	}
	return ids
}

func mustHistoryContains(parent context.Context, c *smokeClient, id int64, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	path := fmt.Sprintf("%s?%s=%d", v1.PathHistory, v1.ParamSize, v1.DefaultHistorySize)
	msgs, err := call[[]v1.Message](ctx, c, http.MethodGet, path, nil)
	if err != nil {
		fatalf("history (%s): %v", c.name, err)
	}
	for _, m := range msgs {
		if m.ID == id {
			if !m.IsRead() {
				fatalf("history message %d not marked read (%s)", id, c.name)
			}
			return
		}
	}
	fatalf("history missing message %d (%s)", id, c.name)
}

func mustRejectForged(parent context.Context, wsURL, origin, mode string, stepTimeout time.Duration) {
	conn, err := dial(parent, wsURL, origin, mode, "forged.token", stepTimeout)
	if err != nil {
		// Servers may refuse the upgrade outright in query mode.
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()
	for {
		_, _, err := conn.Read(ctx)
		if err == nil {
			continue
		}
		var ce websocket.CloseError
		if !errors.As(err, &ce) || ce.Reason != v1.CloseReasonUnauthorized {
			fatalf("forged token: want close reason %q, got %v", v1.CloseReasonUnauthorized, err)
		}
		return
	}
}

// call performs one REST request and unwraps the result envelope.
func call[T any](ctx context.Context, c *smokeClient, method, path string, body any) (T, error) {
	var zero T

	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return zero, err
		}
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rdr)
	if err != nil {
		return zero, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tok != "" {
		req.Header.Set("Authorization", "Bearer "+c.tok)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return zero, err
	}
	defer func() { _ = resp.Body.Close() }()

	var env v1.Result[T]
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return zero, fmt.Errorf("%s %s: status %d: %w", method, path, resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || env.Code != v1.CodeOK {
		return zero, fmt.Errorf("%s %s: status %d code %d: %s", method, path, resp.StatusCode, env.Code, env.Message)
	}
	return env.Data, nil
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, frame any, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(frame)
	if err != nil {
		fatalf("marshal frame: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
