package devserver

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Coding-Lml/love-space/cmd/security/token"
	v1 "github.com/Coding-Lml/love-space/shared/contracts/chat/v1"
)

// Result codes carried in the envelope besides v1.CodeOK.
const (
	codeBadRequest   = 400
	codeUnauthorized = 401
	codeRateLimited  = 429
	codeServerError  = 500
)

// api serves the REST endpoints the client uses next to the websocket.
type api struct {
	log     *slog.Logger
	auth    *authenticator
	store   MessageStore
	hub     *Hub
	metrics *Metrics
	logins  *keyedLimiter
}

func (a *api) register(mux *http.ServeMux) {
	mux.HandleFunc("POST "+v1.PathLogin, a.handleLogin)
	mux.HandleFunc("GET "+v1.PathMe, a.withUser(a.handleMe))
	mux.HandleFunc("GET "+v1.PathPartner, a.withUser(a.handlePartner))
	mux.HandleFunc("GET "+v1.PathHistory, a.withUser(a.handleHistory))
	mux.HandleFunc("POST "+v1.PathMarkRead, a.withUser(a.handleMarkRead))
}

type userHandler func(w http.ResponseWriter, r *http.Request, user v1.User)

// withUser rejects requests without a valid bearer token with HTTP 401.
func (a *api) withUser(next userHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tok := bearerToken(r)
		if tok == "" {
			a.metrics.authFailures.WithLabelValues("rest").Inc()
			writeResult[any](w, http.StatusUnauthorized, codeUnauthorized, "login required", nil)
			return
		}
		u, err := a.auth.verify(tok)
		if err != nil {
			a.metrics.authFailures.WithLabelValues("rest").Inc()
			msg := "invalid token"
			if errors.Is(err, token.ErrExpiredToken) {
				msg = "token expired"
			}
			writeResult[any](w, http.StatusUnauthorized, codeUnauthorized, msg, nil)
			return
		}
		next(w, r, u)
	}
}

func (a *api) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req v1.LoginRequest
	if err := decodeJSON(w, r, maxLoginBodyBytes, &req); err != nil {
		writeResult[any](w, http.StatusBadRequest, codeBadRequest, "invalid request body", nil)
		return
	}
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		writeResult[any](w, http.StatusOK, codeBadRequest, "username and password are required", nil)
		return
	}

	if !a.logins.Allow(clientIP(r)+":"+strings.ToLower(username), time.Now()) {
		a.log.Info("auth.login.rate_limited", "username", username, "remote", r.RemoteAddr)
		writeResult[any](w, http.StatusTooManyRequests, codeRateLimited, "too many login attempts", nil)
		return
	}

	user, err := a.auth.dir.Authenticate(username, req.Password)
	if err != nil {
		a.metrics.authFailures.WithLabelValues("login").Inc()
		if !errors.Is(err, ErrBadCredentials) {
			a.log.Error("auth.login.verify.fail", "err", err)
		}
		a.log.Info("auth.login.fail", "username", username)
		writeResult[any](w, http.StatusOK, codeBadRequest, "invalid username or password", nil)
		return
	}

	tok, claims, err := a.auth.signer.Issue(user.ID)
	if err != nil {
		a.log.Error("auth.login.issue.fail", "err", err)
		writeResult[any](w, http.StatusInternalServerError, codeServerError, "internal error", nil)
		return
	}
	a.log.Info("auth.login.ok", "user_id", user.ID, "sid", claims.SessionID, "token_fp", a.auth.signer.Fingerprint(tok))
	writeResult(w, http.StatusOK, v1.CodeOK, "", v1.LoginResponse{Token: tok, User: user})
}

func (a *api) handleMe(w http.ResponseWriter, _ *http.Request, user v1.User) {
	writeResult(w, http.StatusOK, v1.CodeOK, "", user)
}

func (a *api) handlePartner(w http.ResponseWriter, _ *http.Request, user v1.User) {
	p, ok := a.auth.dir.Partner(user.ID)
	if !ok {
		writeResult[any](w, http.StatusOK, codeBadRequest, "no partner", nil)
		return
	}
	writeResult(w, http.StatusOK, v1.CodeOK, "", p)
}

func (a *api) handleHistory(w http.ResponseWriter, r *http.Request, user v1.User) {
	q := r.URL.Query()
	before, err := optionalInt(q.Get(v1.ParamBeforeID))
	if err != nil || before < 0 {
		writeResult[any](w, http.StatusBadRequest, codeBadRequest, "invalid "+v1.ParamBeforeID, nil)
		return
	}
	size, err := optionalInt(q.Get(v1.ParamSize))
	if err != nil {
		writeResult[any](w, http.StatusBadRequest, codeBadRequest, "invalid "+v1.ParamSize, nil)
		return
	}

	p, ok := a.auth.dir.Partner(user.ID)
	if !ok {
		writeResult(w, http.StatusOK, v1.CodeOK, "", []v1.Message{})
		return
	}
	msgs, err := a.store.History(r.Context(), HistoryQuery{
		UserID:    user.ID,
		PartnerID: p.ID,
		BeforeID:  before,
		Size:      int(size),
	})
	if err != nil {
		a.log.Error("history.fail", "user_id", user.ID, "err", err)
		writeResult[any](w, http.StatusInternalServerError, codeServerError, "internal error", nil)
		return
	}
	if msgs == nil {
		msgs = []v1.Message{}
	}
	writeResult(w, http.StatusOK, v1.CodeOK, "", msgs)
}

// handleMarkRead flips the partner's unread messages and notifies the partner's sessions.
func (a *api) handleMarkRead(w http.ResponseWriter, r *http.Request, user v1.User) {
	p, ok := a.auth.dir.Partner(user.ID)
	if !ok {
		writeResult(w, http.StatusOK, v1.CodeOK, "", []int64{})
		return
	}
	ids, err := a.store.MarkRead(r.Context(), user.ID, p.ID)
	if err != nil {
		a.log.Error("read.fail", "user_id", user.ID, "err", err)
		writeResult[any](w, http.StatusInternalServerError, codeServerError, "internal error", nil)
		return
	}
	if ids == nil {
		ids = []int64{}
	}

	if len(ids) > 0 {
		a.metrics.reads.Add(float64(len(ids)))
		b, _ := json.Marshal(v1.ReadNotice{
			Event:      v1.EventRead,
			ReaderID:   user.ID,
			PartnerID:  p.ID,
			MessageIDs: ids,
		})
		n := a.hub.SendTo(p.ID, b)
		a.log.Info("read.notify", "reader_id", user.ID, "partner_id", p.ID, "count", len(ids), "sessions", n)
	}
	writeResult(w, http.StatusOK, v1.CodeOK, "", ids)
}

// ---- helpers ----

func writeResult[T any](w http.ResponseWriter, status, code int, msg string, data T) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v1.Result[T]{Code: code, Message: msg, Data: data})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer func() { _ = r.Body.Close() }()

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBytes))
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("extra data after JSON object")
	}
	return nil
}

func optionalInt(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
