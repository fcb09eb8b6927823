package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Coding-Lml/love-space/cmd/internal/chat"
	"github.com/Coding-Lml/love-space/cmd/internal/chatapi"
	v1 "github.com/Coding-Lml/love-space/shared/contracts/chat/v1"
)

const testTokenKey = "0123456789abcdef0123456789abcdef"

type staticToken string

func (s staticToken) Token() string { return string(s) }

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testConfig(mode AuthMode) Config {
	specs, _ := ParseUsers([]string{"1:ann:ann-pass:Ann", "2:bo:bo-pass"})
	return Config{
		AuthMode:       mode,
		Users:          specs,
		Passwords:      fastPasswords(),
		TokenKey:       []byte(testTokenKey),
		HeartbeatEvery: time.Hour,
		AuthTimeout:    2 * time.Second,
	}
}

func newTestServer(t *testing.T, cfg Config) (*Server, *httptest.Server) {
	t.Helper()
	s, err := New(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(func() { _ = s.Close() })
	return s, ts
}

func apiClient(t *testing.T, base, tok string) *chatapi.Client {
	t.Helper()
	c, err := chatapi.New(base, staticToken(tok), chatapi.WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("chatapi.New: %v", err)
	}
	return c
}

func mustLogin(t *testing.T, base, username, password string) v1.LoginResponse {
	t.Helper()
	res, err := apiClient(t, base, "").Login(context.Background(), username, password)
	if err != nil {
		t.Fatalf("login %s: %v", username, err)
	}
	return res
}

func TestAPI_LoginAndProfile(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t, testConfig(AuthAny))
	ctx := context.Background()

	res := mustLogin(t, ts.URL, "ann", "ann-pass")
	if res.Token == "" || res.User.ID != 1 || res.User.Nickname != "Ann" {
		t.Fatalf("login got=%+v", res)
	}

	c := apiClient(t, ts.URL, res.Token)
	me, err := c.Me(ctx)
	if err != nil || me.ID != 1 {
		t.Fatalf("me got=%+v err=%v", me, err)
	}
	p, err := c.Partner(ctx)
	if err != nil || p.ID != 2 || p.Username != "bo" {
		t.Fatalf("partner got=%+v err=%v", p, err)
	}
}

func TestAPI_LoginRejected(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t, testConfig(AuthAny))

	_, err := apiClient(t, ts.URL, "").Login(context.Background(), "ann", "wrong")
	var apiErr *chatapi.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != codeBadRequest {
		t.Fatalf("err got=%v want code %d", err, codeBadRequest)
	}
}

func TestAPI_LoginRateLimited(t *testing.T) {
	t.Parallel()

	cfg := testConfig(AuthAny)
	cfg.LoginAttempts = 2
	_, ts := newTestServer(t, cfg)
	c := apiClient(t, ts.URL, "")

	for i := 0; i < 2; i++ {
		_, _ = c.Login(context.Background(), "bo", "nope")
	}
	_, err := c.Login(context.Background(), "bo", "bo-pass")
	var apiErr *chatapi.APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusTooManyRequests {
		t.Fatalf("err got=%v want 429", err)
	}
}

func TestAPI_RequiresBearer(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t, testConfig(AuthAny))

	for _, path := range []string{v1.PathMe, v1.PathPartner, v1.PathHistory} {
		req, _ := http.NewRequest(http.MethodGet, ts.URL+path, nil)
		req.Header.Set("Authorization", "Bearer forged.token")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s: %v", path, err)
		}
		var env v1.Result[any]
		_ = json.NewDecoder(resp.Body).Decode(&env)
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized || env.Code != codeUnauthorized {
			t.Fatalf("%s: status=%d code=%d", path, resp.StatusCode, env.Code)
		}
	}

	_, err := apiClient(t, ts.URL, "forged.token").MarkRead(context.Background())
	if !errors.Is(err, chat.ErrUnauthorized) {
		t.Fatalf("mark read err got=%v want chat.ErrUnauthorized", err)
	}
}

func TestAPI_HistoryAndMarkRead(t *testing.T) {
	t.Parallel()

	s, ts := newTestServer(t, testConfig(AuthAny))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		from, to := int64(2), int64(1)
		if i%2 == 1 {
			from, to = 1, 2
		}
		if _, err := s.store.Append(ctx, AppendInput{FromUserID: from, ToUserID: to, Type: v1.TypeText, Content: "m"}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	ann := apiClient(t, ts.URL, mustLogin(t, ts.URL, "ann", "ann-pass").Token)

	page, err := ann.FetchHistory(ctx, 0, 3)
	if err != nil {
		t.Fatalf("FetchHistory: %v", err)
	}
	if got := msgIDs(page); !equalIDs(got, []int64{3, 4, 5}) {
		t.Fatalf("newest page got=%v", got)
	}
	older, err := ann.FetchHistory(ctx, 3, 3)
	if err != nil {
		t.Fatalf("FetchHistory older: %v", err)
	}
	if got := msgIDs(older); !equalIDs(got, []int64{1, 2}) {
		t.Fatalf("older page got=%v", got)
	}

	read, err := ann.MarkRead(ctx)
	if err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if !equalIDs(read, []int64{1, 3, 5}) {
		t.Fatalf("read ids got=%v", read)
	}
	again, err := ann.MarkRead(ctx)
	if err != nil || len(again) != 0 {
		t.Fatalf("second MarkRead got=%v err=%v", again, err)
	}
}

func TestAPI_HistoryRejectsBadCursor(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t, testConfig(AuthAny))
	tok := mustLogin(t, ts.URL, "bo", "bo-pass").Token

	req, _ := http.NewRequest(http.MethodGet, ts.URL+v1.PathHistory+"?beforeId=abc", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status got=%d want 400", resp.StatusCode)
	}
}

func TestServer_OpsRoutes(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t, testConfig(AuthAny))

	for path, want := range map[string]string{"/healthz": "ok", "/readyz": "ready", "/metrics": "lovechat_dev_ws_sessions"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("%s: %v", path, err)
		}
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK || !strings.Contains(string(b), want) {
			t.Fatalf("%s: status=%d body=%q", path, resp.StatusCode, b)
		}
		if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
			t.Fatalf("%s: security headers missing", path)
		}
	}
}

func TestBearerToken(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"":             "",
		"Bearer abc":   "abc",
		"bearer  abc ": "abc",
		"Basic abc":    "",
		"Bearerabc":    "",
	}
	for header, want := range cases {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			r.Header.Set("Authorization", header)
		}
		if got := bearerToken(r); got != want {
			t.Fatalf("header=%q got=%q want=%q", header, got, want)
		}
	}
}
