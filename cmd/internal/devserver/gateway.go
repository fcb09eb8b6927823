package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/Coding-Lml/love-space/cmd/identity/ids"
	v1 "github.com/Coding-Lml/love-space/shared/contracts/chat/v1"

	"github.com/coder/websocket"
)

// Gateway is the websocket entrypoint at /ws/chat.
//
// It enforces the origin policy, authenticates the session (query token or
// auth frame), applies rate limits and heartbeats, stores text/media frames and
// fans the stored message out to both partners.
type Gateway struct {
	log     *slog.Logger
	cfg     Config
	auth    *authenticator
	store   MessageStore
	hub     *Hub
	metrics *Metrics

	// base is cancelled when the server shuts down; hijacked connections do not see http.Server.Shutdown.
	base context.Context

	// originPatterns feed websocket.Accept so its own cross-origin check agrees with enforceOrigin.
	originPatterns []string
}

func newGateway(base context.Context, log *slog.Logger, cfg Config, auth *authenticator, store MessageStore, hub *Hub, metrics *Metrics) *Gateway {
	return &Gateway{
		base:           base,
		log:            log,
		cfg:            cfg,
		auth:           auth,
		store:          store,
		hub:            hub,
		metrics:        metrics,
		originPatterns: deriveOriginPatterns(cfg.AllowedOrigins),
	}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.metrics.accepts.WithLabelValues("origin").Inc()
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: g.originPatterns})
	if err != nil {
		g.metrics.accepts.WithLabelValues("error").Inc()
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.CloseNow() }()
	g.metrics.accepts.WithLabelValues("ok").Inc()

	conn.SetReadLimit(maxFrameBytes)

	user, ok := g.authenticate(r.Context(), conn, r.URL.Query().Get(v1.TokenQueryParam))
	if !ok {
		return
	}
	g.serve(r.Context(), conn, user)
}

// authenticate runs the configured handshake. On failure the connection is
// already closed with the unauthorized reason.
func (g *Gateway) authenticate(ctx context.Context, conn *websocket.Conn, queryToken string) (v1.User, bool) {
	reject := func(channel, reason string, err error) (v1.User, bool) {
		g.metrics.authFailures.WithLabelValues(channel).Inc()
		g.log.Info("ws.auth.fail", "channel", channel, "reason", reason, "err", err)
		_ = conn.Close(websocket.StatusPolicyViolation, v1.CloseReasonUnauthorized)
		return v1.User{}, false
	}

	queryToken = strings.TrimSpace(queryToken)
	if g.cfg.AuthMode != AuthFrame && queryToken != "" {
		u, err := g.auth.verify(queryToken)
		if err != nil {
			return reject("query", "invalid token", err)
		}
		return u, true
	}
	if g.cfg.AuthMode == AuthQuery {
		return reject("query", "missing token", nil)
	}

	actx, cancel := context.WithTimeout(ctx, g.cfg.AuthTimeout)
	defer cancel()

	_, data, err := conn.Read(actx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			g.metrics.authFailures.WithLabelValues("frame").Inc()
			g.log.Info("ws.auth.timeout", "timeout", g.cfg.AuthTimeout)
			_ = conn.Close(websocket.StatusPolicyViolation, "auth timeout")
		}
		return v1.User{}, false
	}

	var f v1.ClientFrame
	if err := json.Unmarshal(data, &f); err != nil || f.Type != v1.TypeAuth || f.Validate() != nil {
		_ = g.replyAuth(ctx, conn, v1.AuthFail)
		return reject("frame", "expected auth frame", err)
	}
	u, err := g.auth.verify(f.Token)
	if err != nil {
		_ = g.replyAuth(ctx, conn, v1.AuthFail)
		return reject("frame", "invalid token", err)
	}
	if err := g.replyAuth(ctx, conn, v1.AuthOK); err != nil {
		g.log.Info("ws.auth.reply.fail", "err", err)
		return v1.User{}, false
	}
	return u, true
}

func (g *Gateway) replyAuth(ctx context.Context, conn *websocket.Conn, status string) error {
	b, _ := json.Marshal(v1.AuthResult{Event: v1.EventAuth, Status: status})
	return writeFrame(ctx, conn, b, g.cfg.WriteTimeout)
}

// serve runs the session loop for an authenticated user until either side closes.
func (g *Gateway) serve(parent context.Context, conn *websocket.Conn, user v1.User) {
	sessionID := ids.MustULID()
	c := newClient(user.ID, sessionID, g.cfg.SendQueue)

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	stop := context.AfterFunc(g.base, cancel)
	defer stop()

	g.hub.join(c)
	g.log.Info("ws.session.open", "session_id", sessionID, "user_id", user.ID)

	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.hub.leave(c)
			_ = conn.Close(code, reason)
			cancel()
			g.log.Info("ws.session.close", "session_id", sessionID, "user_id", user.ID, "code", int(code), "reason", reason)
		})
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.Done():
				return
			case b := <-c.send:
				if err := writeFrame(ctx, conn, b, g.cfg.WriteTimeout); err != nil {
					g.log.Info("ws.write.fail", "session_id", sessionID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusInternalError, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.cfg.HeartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "session_id", sessionID, "failures", failures, "err", err)
					if failures >= maxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

	rl := NewRateLimiter(g.cfg.RateEvents, g.cfg.RateWindow)

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		_, data, err := conn.Read(readCtx)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
			case readErrCtxDone:
				if g.base.Err() != nil {
					shutdown(websocket.StatusGoingAway, "server shutdown")
				} else {
					shutdown(websocket.StatusNormalClosure, "idle")
				}
			case readErrConnClosed:
				shutdown(websocket.StatusInternalError, "conn closed")
			default:
				g.log.Info("ws.read.fail", "session_id", sessionID, "err", err)
				shutdown(websocket.StatusInternalError, "read failed")
			}
			break readLoop
		}

		now := time.Now()
		if !rl.Allow(now) {
			g.metrics.rejected.WithLabelValues("rate_limited").Inc()
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		var f v1.ClientFrame
		if err := json.Unmarshal(data, &f); err != nil {
			g.reject(sessionID, "bad_json", err)
			continue
		}
		if err := f.Validate(); err != nil {
			g.reject(sessionID, "bad_frame", err)
			continue
		}
		g.metrics.frames.WithLabelValues(frameLabel(f.Type)).Inc()

		if f.Type == v1.TypeAuth {
			// Already authenticated; a repeated auth frame is ignored.
			continue
		}
		if err := g.onMessage(ctx, user.ID, f, now); err != nil {
			g.reject(sessionID, "send_failed", err)
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(closeGrace):
	}
}

func (g *Gateway) reject(sessionID, reason string, err error) {
	g.metrics.rejected.WithLabelValues(reason).Inc()
	g.log.Info("ws.frame.reject", "session_id", sessionID, "reason", reason, "err", err)
}

// onMessage stores a text or media frame and delivers it to both partners.
func (g *Gateway) onMessage(ctx context.Context, fromUserID int64, f v1.ClientFrame, now time.Time) error {
	if err := checkFrameLimits(f); err != nil {
		return err
	}

	partner, ok := g.auth.dir.Partner(fromUserID)
	if !ok {
		return errors.New("no partner")
	}

	in := AppendInput{
		FromUserID: fromUserID,
		ToUserID:   partner.ID,
		Type:       f.Type,
		Now:        now,
	}
	if f.Type == v1.TypeText {
		in.Content = f.Content
	} else {
		in.MediaURL = strings.TrimSpace(f.MediaURL)
		in.Extra = normalizeExtra(f.Extra)
	}

	m, err := g.store.Append(ctx, in)
	if err != nil {
		return fmt.Errorf("store append: %w", err)
	}
	g.metrics.stored.WithLabelValues(frameLabel(m.Type)).Inc()

	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	g.hub.SendTo(fromUserID, b)
	g.hub.SendTo(partner.ID, b)
	return nil
}

func checkFrameLimits(f v1.ClientFrame) error {
	switch f.Type {
	case v1.TypeText, v1.TypeImage, v1.TypeVideo, v1.TypeVoice:
	default:
		return fmt.Errorf("unsupported type: %s", f.Type)
	}
	if f.Type == v1.TypeText {
		if n := utf8.RuneCountInString(f.Content); n > maxContentChars {
			return fmt.Errorf("message too long: max=%d chars", maxContentChars)
		}
		return nil
	}
	if len(f.MediaURL) > maxMediaURLBytes {
		return fmt.Errorf("media url too long: max=%d bytes", maxMediaURLBytes)
	}
	if len(f.Extra) > maxExtraBytes {
		return fmt.Errorf("extra too large: max=%d bytes", maxExtraBytes)
	}
	return nil
}

// normalizeExtra drops JSON null so it is stored as absent.
func normalizeExtra(raw json.RawMessage) json.RawMessage {
	t := strings.TrimSpace(string(raw))
	if t == "" || t == "null" {
		return nil
	}
	return json.RawMessage(t)
}

// frameLabel bounds metric label cardinality to known frame types.
func frameLabel(typ string) string {
	switch typ {
	case v1.TypeAuth, v1.TypeText, v1.TypeImage, v1.TypeVideo, v1.TypeVoice:
		return typ
	default:
		return "other"
	}
}

func writeFrame(parent context.Context, conn *websocket.Conn, b []byte, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}

// ---- origin policy ----

// enforceOrigin admits requests without an Origin (native clients) unless
// OriginRequired is set; browser origins must match the allowlist.
func (g *Gateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}
	if len(g.cfg.AllowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)
	for _, a := range g.cfg.AllowedOrigins {
		if a == "*" || a == origin {
			return nil
		}
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}
	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil || u.Host == "" {
			return ""
		}
		s = u.Host
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

// deriveOriginPatterns turns allowed origins into websocket.Accept host patterns.
// Accept matches against host[:port], so each host also gets a port wildcard.
func deriveOriginPatterns(allowed []string) []string {
	var out []string
	for _, a := range allowed {
		if a == "*" {
			return []string{"*"}
		}
		h := originHostOnly(a)
		if h == "" || slices.Contains(out, h) {
			continue
		}
		out = append(out, h, h+":*")
	}
	slices.Sort(out)
	return out
}
