package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	v1 "github.com/Coding-Lml/love-space/shared/contracts/chat/v1"

	"github.com/coder/websocket"
)

func wsURL(t *testing.T, base, tok string) string {
	t.Helper()
	u, err := url.Parse(base)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	u.Scheme = "ws"
	u.Path = v1.Path
	if tok != "" {
		u.RawQuery = url.Values{v1.TokenQueryParam: {tok}}.Encode()
	}
	return u.String()
}

func dialWS(t *testing.T, ctx context.Context, rawURL string) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.Dial(ctx, rawURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.CloseNow() })
	return c
}

func writeJSON(t *testing.T, ctx context.Context, c *websocket.Conn, v any) {
	t.Helper()
	b, _ := json.Marshal(v)
	if err := c.Write(ctx, websocket.MessageText, b); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readJSON[T any](t *testing.T, ctx context.Context, c *websocket.Conn) T {
	t.Helper()
	var v T
	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return v
}

func expectUnauthorizedClose(t *testing.T, ctx context.Context, c *websocket.Conn) {
	t.Helper()
	for {
		_, data, err := c.Read(ctx)
		if err == nil {
			if kind, f, _, derr := v1.Decode(data); derr == nil && kind == v1.KindAuth && f.Status == v1.AuthFail {
				continue
			}
			t.Fatalf("unexpected frame %s", data)
		}
		var ce websocket.CloseError
		if !errors.As(err, &ce) {
			t.Fatalf("read err got=%v want close frame", err)
		}
		if ce.Code != websocket.StatusPolicyViolation || ce.Reason != v1.CloseReasonUnauthorized {
			t.Fatalf("close got=%d/%q", ce.Code, ce.Reason)
		}
		return
	}
}

// authFrame opens a frame-mode session and waits for the auth result.
func authFrame(t *testing.T, ctx context.Context, base, tok string) *websocket.Conn {
	t.Helper()
	c := dialWS(t, ctx, wsURL(t, base, ""))
	writeJSON(t, ctx, c, v1.AuthFrame{Type: v1.TypeAuth, Token: tok})
	res := readJSON[v1.AuthResult](t, ctx, c)
	if res.Event != v1.EventAuth || res.Status != v1.AuthOK {
		t.Fatalf("auth result got=%+v", res)
	}
	return c
}

func waitOnline(t *testing.T, h *Hub, userID int64, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Online(userID) != n {
		if time.Now().After(deadline) {
			t.Fatalf("user %d online got=%d want=%d", userID, h.Online(userID), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestGateway_FrameAuthAndBroadcast(t *testing.T) {
	t.Parallel()

	s, ts := newTestServer(t, testConfig(AuthFrame))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ann := authFrame(t, ctx, ts.URL, mustLogin(t, ts.URL, "ann", "ann-pass").Token)
	bo := authFrame(t, ctx, ts.URL, mustLogin(t, ts.URL, "bo", "bo-pass").Token)
	waitOnline(t, s.Hub(), 1, 1)
	waitOnline(t, s.Hub(), 2, 1)

	writeJSON(t, ctx, ann, v1.TextFrame{Type: v1.TypeText, Content: "hello bo"})

	for name, c := range map[string]*websocket.Conn{"ann": ann, "bo": bo} {
		m := readJSON[v1.Message](t, ctx, c)
		if m.ID != 1 || m.FromUserID != 1 || m.ToUserID != 2 || m.Content != "hello bo" || m.Status != v1.StatusSent {
			t.Fatalf("%s got=%+v", name, m)
		}
		if m.CreatedAt == "" {
			t.Fatalf("%s: createdAt missing", name)
		}
	}

	writeJSON(t, ctx, bo, v1.MediaFrame{Type: v1.TypeImage, MediaURL: "/u/a.png", Extra: json.RawMessage(`{"w":10}`)})
	m := readJSON[v1.Message](t, ctx, ann)
	if m.ID != 2 || m.Type != v1.TypeImage || m.MediaURL != "/u/a.png" || string(m.Extra) != `{"w":10}` {
		t.Fatalf("media got=%+v extra=%s", m, m.Extra)
	}
}

func TestGateway_FrameAuthRejected(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t, testConfig(AuthFrame))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := dialWS(t, ctx, wsURL(t, ts.URL, ""))
	writeJSON(t, ctx, c, v1.AuthFrame{Type: v1.TypeAuth, Token: "forged"})

	res := readJSON[v1.AuthResult](t, ctx, c)
	if res.Status != v1.AuthFail {
		t.Fatalf("auth result got=%+v", res)
	}
	expectUnauthorizedClose(t, ctx, c)
}

func TestGateway_FrameModeRequiresAuthFirst(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t, testConfig(AuthFrame))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := dialWS(t, ctx, wsURL(t, ts.URL, ""))
	writeJSON(t, ctx, c, v1.TextFrame{Type: v1.TypeText, Content: "too early"})
	expectUnauthorizedClose(t, ctx, c)
}

func TestGateway_QueryAuth(t *testing.T) {
	t.Parallel()

	s, ts := newTestServer(t, testConfig(AuthQuery))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tok := mustLogin(t, ts.URL, "bo", "bo-pass").Token
	c := dialWS(t, ctx, wsURL(t, ts.URL, tok))
	waitOnline(t, s.Hub(), 2, 1)

	writeJSON(t, ctx, c, v1.TextFrame{Type: v1.TypeText, Content: "via query"})
	m := readJSON[v1.Message](t, ctx, c)
	if m.FromUserID != 2 || m.Content != "via query" {
		t.Fatalf("message got=%+v", m)
	}
}

func TestGateway_QueryAuthRejected(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t, testConfig(AuthQuery))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, tok := range []string{"", "forged.token"} {
		c := dialWS(t, ctx, wsURL(t, ts.URL, tok))
		expectUnauthorizedClose(t, ctx, c)
	}
}

func TestGateway_ReadNoticeReachesPartner(t *testing.T) {
	t.Parallel()

	s, ts := newTestServer(t, testConfig(AuthAny))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	annTok := mustLogin(t, ts.URL, "ann", "ann-pass").Token
	boTok := mustLogin(t, ts.URL, "bo", "bo-pass").Token

	ann := dialWS(t, ctx, wsURL(t, ts.URL, annTok))
	waitOnline(t, s.Hub(), 1, 1)

	writeJSON(t, ctx, ann, v1.TextFrame{Type: v1.TypeText, Content: "read me"})
	sent := readJSON[v1.Message](t, ctx, ann)

	ids, err := apiClient(t, ts.URL, boTok).MarkRead(ctx)
	if err != nil || len(ids) != 1 || ids[0] != sent.ID {
		t.Fatalf("MarkRead got=%v err=%v", ids, err)
	}

	n := readJSON[v1.ReadNotice](t, ctx, ann)
	if n.Event != v1.EventRead || n.ReaderID != 2 || n.PartnerID != 1 || len(n.MessageIDs) != 1 || n.MessageIDs[0] != sent.ID {
		t.Fatalf("notice got=%+v", n)
	}
}

func TestGateway_DropsInvalidFrames(t *testing.T) {
	t.Parallel()

	s, ts := newTestServer(t, testConfig(AuthAny))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := dialWS(t, ctx, wsURL(t, ts.URL, mustLogin(t, ts.URL, "ann", "ann-pass").Token))
	waitOnline(t, s.Hub(), 1, 1)

	for _, raw := range []string{
		`{`,
		`{"type":"text","content":"   "}`,
		`{"type":"sticker","mediaUrl":"/s.png"}`,
		`{"type":"text","content":"` + strings.Repeat("x", maxContentChars+1) + `"}`,
	} {
		if err := c.Write(ctx, websocket.MessageText, []byte(raw)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	writeJSON(t, ctx, c, v1.TextFrame{Type: v1.TypeText, Content: "ok"})

	m := readJSON[v1.Message](t, ctx, c)
	if m.ID != 1 || m.Content != "ok" {
		t.Fatalf("first stored message got=%+v", m)
	}
}

func TestGateway_RateLimitCloses(t *testing.T) {
	t.Parallel()

	cfg := testConfig(AuthAny)
	cfg.RateEvents = 2
	cfg.RateWindow = time.Minute
	s, ts := newTestServer(t, cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := dialWS(t, ctx, wsURL(t, ts.URL, mustLogin(t, ts.URL, "bo", "bo-pass").Token))
	waitOnline(t, s.Hub(), 2, 1)

	for i := 0; i < 3; i++ {
		_ = c.Write(ctx, websocket.MessageText, []byte(`{"type":"text","content":"spam"}`))
	}

	var closeErr websocket.CloseError
	for {
		if _, _, err := c.Read(ctx); err != nil {
			if !errors.As(err, &closeErr) {
				t.Fatalf("read err got=%v want close frame", err)
			}
			break
		}
	}
	if closeErr.Code != websocket.StatusPolicyViolation || closeErr.Reason != "rate limited" {
		t.Fatalf("close got=%d/%q", closeErr.Code, closeErr.Reason)
	}
	waitOnline(t, s.Hub(), 2, 0)
}

func TestGateway_OriginPolicy(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t, testConfig(AuthAny))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h := http.Header{}
	h.Set("Origin", "https://evil.example")
	_, resp, err := websocket.Dial(ctx, wsURL(t, ts.URL, ""), &websocket.DialOptions{HTTPHeader: h})
	if err == nil {
		t.Fatalf("dial from foreign origin must fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("response got=%v want 403", resp)
	}
}

func TestGateway_ServerShutdownEndsSessions(t *testing.T) {
	t.Parallel()

	s, ts := newTestServer(t, testConfig(AuthAny))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := dialWS(t, ctx, wsURL(t, ts.URL, mustLogin(t, ts.URL, "ann", "ann-pass").Token))
	waitOnline(t, s.Hub(), 1, 1)

	_ = s.Close()
	if _, _, err := c.Read(ctx); err == nil {
		t.Fatalf("read must fail after shutdown")
	}
	waitOnline(t, s.Hub(), 1, 0)
}

func TestCheckFrameLimits(t *testing.T) {
	t.Parallel()

	cases := []struct {
		f  v1.ClientFrame
		ok bool
	}{
		{v1.ClientFrame{Type: v1.TypeText, Content: "hi"}, true},
		{v1.ClientFrame{Type: v1.TypeText, Content: strings.Repeat("é", maxContentChars)}, true},
		{v1.ClientFrame{Type: v1.TypeText, Content: strings.Repeat("é", maxContentChars+1)}, false},
		{v1.ClientFrame{Type: v1.TypeVoice, MediaURL: "/v.m4a"}, true},
		{v1.ClientFrame{Type: v1.TypeVideo, MediaURL: strings.Repeat("u", maxMediaURLBytes+1)}, false},
		{v1.ClientFrame{Type: v1.TypeImage, MediaURL: "/a", Extra: json.RawMessage(strings.Repeat(" ", maxExtraBytes+1))}, false},
		{v1.ClientFrame{Type: "gif", MediaURL: "/a"}, false},
	}
	for i, tc := range cases {
		if err := checkFrameLimits(tc.f); (err == nil) != tc.ok {
			t.Fatalf("case %d: err=%v want ok=%v", i, err, tc.ok)
		}
	}
}

func TestNormalizeExtra(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]string{"": "", "null": "", " null ": "", `{"a":1}`: `{"a":1}`} {
		if got := string(normalizeExtra(json.RawMessage(in))); got != want {
			t.Fatalf("in=%q got=%q want=%q", in, got, want)
		}
	}
}

func TestOriginHelpers(t *testing.T) {
	t.Parallel()

	if got := originHostOnly("http://LocalHost:3000"); got != "localhost" {
		t.Fatalf("originHostOnly got=%q", got)
	}
	if got := originHostOnly("127.0.0.1:8080"); got != "127.0.0.1" {
		t.Fatalf("originHostOnly host:port got=%q", got)
	}

	got := deriveOriginPatterns([]string{"http://localhost", "http://localhost:5173", "https://app.example"})
	want := []string{"app.example", "app.example:*", "localhost", "localhost:*"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("patterns got=%v want=%v", got, want)
	}
	if got := deriveOriginPatterns([]string{"http://a", "*"}); len(got) != 1 || got[0] != "*" {
		t.Fatalf("wildcard got=%v", got)
	}
}

func TestEnforceOrigin(t *testing.T) {
	t.Parallel()

	g := &Gateway{cfg: Config{AllowedOrigins: []string{"http://localhost"}}}
	check := func(origin string) error {
		r, _ := http.NewRequest(http.MethodGet, "http://x/ws/chat", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return g.enforceOrigin(r)
	}

	if err := check(""); err != nil {
		t.Fatalf("native client without origin rejected: %v", err)
	}
	if err := check("http://localhost:5173"); err != nil {
		t.Fatalf("localhost with port rejected: %v", err)
	}
	if err := check("https://evil.example"); err == nil {
		t.Fatalf("foreign origin accepted")
	}

	g.cfg.OriginRequired = true
	if err := check(""); err == nil {
		t.Fatalf("missing origin accepted with OriginRequired")
	}
}
