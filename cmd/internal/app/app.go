// Package app wires the lovechat terminal client: config, logging, the session
// store, the REST client, the connection manager and the console loop.
package app

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Coding-Lml/love-space/cmd/internal/chat"
	"github.com/Coding-Lml/love-space/cmd/internal/chatapi"
	"github.com/Coding-Lml/love-space/cmd/internal/session"
	v1 "github.com/Coding-Lml/love-space/shared/contracts/chat/v1"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// ErrNotLoggedIn is returned by the chat command without a stored credential.
	ErrNotLoggedIn = errors.New("not logged in (run `lovechat login`)")

	// ErrSessionExpired is returned when the server rejected the credential mid-session.
	ErrSessionExpired = errors.New("session expired (run `lovechat login`)")
)

const requestTimeout = 15 * time.Second

// chatSession is the part of *chat.Manager the console drives.
type chatSession interface {
	SendText(content string) bool
	SendMedia(kind, mediaURL string, extra json.RawMessage) bool
	LoadHistory(ctx context.Context) error
	MarkRead(ctx context.Context) (int, error)
	SetActive(active bool) error
	Status() (chat.Status, error)
	Messages() ([]v1.Message, error)
	Nudge() error
	Reset() error
}

var _ chatSession = (*chat.Manager)(nil)

// App is the client runtime.
type App struct {
	cfg   Config
	log   Logger
	store *session.FileStore
	api   *chatapi.Client
	reg   *prometheus.Registry

	in  io.Reader
	out io.Writer
}

// New opens the session store and builds the REST client.
func New(cfg Config, log Logger, in io.Reader, out io.Writer) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat, nil, cfg.LogColor)
	}

	store, err := session.Open(cfg.SessionFile)
	if err != nil {
		return nil, err
	}

	api, err := chatapi.New(cfg.BaseURL, store,
		chatapi.WithLogger(log),
		chatapi.WithTimeout(cfg.HTTPTimeout),
	)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &App{cfg: cfg, log: log, store: store, api: api, reg: reg, in: in, out: out}, nil
}

// Login exchanges username/password for a token and stores it.
func (a *App) Login(ctx context.Context, username, password string) (v1.User, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	res, err := a.api.Login(ctx, username, password)
	if err != nil {
		return v1.User{}, fmt.Errorf("login: %w", err)
	}
	if err := a.store.Save(session.Credential{Token: res.Token, User: res.User}); err != nil {
		return v1.User{}, err
	}
	a.log.Info("session.login", "user_id", res.User.ID, "session_file", a.store.Path())
	return res.User, nil
}

// Logout forgets the stored credential.
func (a *App) Logout() error { return a.store.Purge() }

// Whoami returns the stored user.
func (a *App) Whoami() (v1.User, bool) {
	if !a.store.LoggedIn() {
		return v1.User{}, false
	}
	return a.store.User(), true
}

// Chat runs the interactive client until ctx is done, stdin closes or /quit.
func (a *App) Chat(ctx context.Context) error {
	if !a.store.LoggedIn() {
		return ErrNotLoggedIn
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	mgr, err := chat.New(a.cfg.ChatConfig(), a.store,
		chat.WithLogger(a.log),
		chat.WithHistory(a.api),
		chat.WithReadMarker(a.api),
		chat.WithMetrics(chat.NewMetrics(a.reg)),
		chat.WithUnauthorizedHandler(func() { cancel(ErrSessionExpired) }),
	)
	if err != nil {
		return err
	}

	runErr := make(chan error, 1)
	go func() { runErr <- mgr.Run(ctx) }()

	con := newConsole(a.out, a.cfg.LogColor, a.cfg.Width)
	con.setSelf(a.store.User())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.render(con, mgr)
	}()

	if a.cfg.MetricsAddr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.serveOps(ctx, mgr)
		}()
	}

	a.start(ctx, &wg, con, mgr)
	a.readLoop(ctx, con, mgr)

	cancel(nil)
	err = <-runErr
	wg.Wait()

	if errors.Is(context.Cause(ctx), ErrSessionExpired) {
		return ErrSessionExpired
	}
	return err
}

// start activates the view, connects and loads the first history page.
// The fetch goroutine joins wg so Chat returns only after it is done writing.
func (a *App) start(ctx context.Context, wg *sync.WaitGroup, con *console, mgr *chat.Manager) {
	_ = mgr.SetActive(true)
	_ = mgr.Connect()

	wg.Add(1)
	go func() {
		defer wg.Done()
		rctx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()
		if p, err := a.api.Partner(rctx); err == nil {
			con.setName(p)
		} else {
			a.log.Debug("partner.fetch.fail", "err", err)
		}
		err := mgr.LoadHistory(rctx)
		if err != nil && ctx.Err() == nil && !errors.Is(err, chat.ErrStopped) {
			con.notice("history unavailable: %v", err)
		}
	}()
}

func (a *App) readLoop(ctx context.Context, con *console, sess chatSession) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(a.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	con.notice("type /help for commands")
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := a.handleLine(ctx, con, sess, line); quit {
				return
			}
		}
	}
}

// handleLine executes one console line and reports whether the user asked to quit.
func (a *App) handleLine(ctx context.Context, con *console, sess chatSession, line string) bool {
	cmd, isCmd := parseCommand(line)
	if !isCmd {
		text := unescapeText(line)
		if strings.TrimSpace(text) == "" {
			return false
		}
		if !sess.SendText(text) {
			con.notice("not sent (offline)")
		}
		return false
	}

	switch cmd.name {
	case "quit", "exit", "q":
		return true

	case "help", "h":
		con.notice("%s", consoleHelp)

	case v1.TypeImage, v1.TypeVideo, v1.TypeVoice:
		url, extra, err := parseMediaArgs(cmd.args)
		if err != nil {
			con.notice("%v", err)
			return false
		}
		if !sess.SendMedia(cmd.name, url, extra) {
			con.notice("not sent (offline)")
		}

	case "history":
		rctx, cancel := context.WithTimeout(ctx, requestTimeout)
		err := sess.LoadHistory(rctx)
		cancel()
		if err != nil {
			con.notice("history: %v", err)
			return false
		}
		if st, err := sess.Status(); err == nil && !st.HasMore {
			con.notice("no older messages")
		}

	case "read":
		rctx, cancel := context.WithTimeout(ctx, requestTimeout)
		n, err := sess.MarkRead(rctx)
		cancel()
		if err != nil {
			con.notice("mark read: %v", err)
			return false
		}
		con.notice("marked %d message(s) read", n)

	case "active":
		on, err := parseOnOff(cmd.args)
		if err != nil {
			con.notice("%v", err)
			return false
		}
		_ = sess.SetActive(on)

	case "list":
		msgs, err := sess.Messages()
		if err != nil {
			return true
		}
		con.messages(msgs)

	case "status":
		st, err := sess.Status()
		if err != nil {
			return true
		}
		con.status(st)

	case "reconnect":
		_ = sess.Nudge()

	case "reset":
		_ = sess.Reset()

	default:
		con.notice("unknown command /%s (try /help)", cmd.name)
	}
	return false
}

// render prints updates until the manager closes the feed.
func (a *App) render(con *console, mgr *chat.Manager) {
	var last chat.State
	for u := range mgr.Updates() {
		switch u.Kind {
		case chat.UpdateMessage:
			con.message(u.Message)
		case chat.UpdateState:
			if u.State == last {
				continue
			}
			last = u.State
			if u.State == chat.Reconnecting {
				if st, err := mgr.Status(); err == nil {
					con.notice("%s (attempt %d, retry in %s)", u.State, st.Attempts, st.ReconnectIn.Round(time.Millisecond))
					continue
				}
			}
			con.notice("%s", u.State)
		case chat.UpdateRead:
			if u.Count > 0 {
				con.notice("%d message(s) read", u.Count)
			}
		case chat.UpdateHistory:
			if u.Count > 0 {
				con.notice("loaded %d older message(s)", u.Count)
				if msgs, err := mgr.Messages(); err == nil {
					con.messages(msgs[:min(u.Count, len(msgs))])
				}
			}
		case chat.UpdateUnread:
			if u.Unread == 0 {
				con.notice("unread cleared")
			}
		case chat.UpdateReset:
			con.notice("reset")
		case chat.UpdateUnauthorized:
			con.notice("session expired, please log in again")
		}
	}
}

// serveOps exposes /metrics, /healthz and /readyz for the running client.
func (a *App) serveOps(ctx context.Context, mgr *chat.Manager) {
	ready := func(context.Context) error {
		st, err := mgr.Status()
		if err != nil {
			return err
		}
		if st.State != chat.Connected {
			return fmt.Errorf("chat %s", st.State)
		}
		return nil
	}

	srv := &http.Server{
		Addr:              a.cfg.MetricsAddr,
		Handler:           WithRequestLogging(NewOpsMux(a.log, a.reg, ready), a.log),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
	}
	if err := Serve(ctx, srv, a.log, 0); err != nil {
		a.log.Error("ops.serve.fail", "err", err)
	}
}
