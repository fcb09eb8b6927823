// Package chat is the realtime chat client core: a single-loop connection manager
// that authenticates, keeps a deduplicated message ledger in sync with the live stream
// and the history API, and recovers from network loss with capped exponential backoff.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Coding-Lml/love-space/cmd/identity/ids"
	v1 "github.com/Coding-Lml/love-space/shared/contracts/chat/v1"

	"github.com/coder/websocket"
)

const (
	defaultHandshakeTimeout = 15 * time.Second
	defaultDialTimeout      = 10 * time.Second
	defaultWriteTimeout     = 5 * time.Second
	defaultSendQueueSize    = 64
	defaultReadLimit        = 1 << 20
	defaultUpdateBuffer     = 256

	reasonHandshakeTimeout = "handshake timeout"
)

// Credentials is the session credential source.
type Credentials interface {
	// Token returns the bearer token, or "" when logged out.
	Token() string
	// UserID returns the local user id, or 0 when unknown.
	UserID() int64
	// Purge forgets the credential after the server rejected it.
	Purge() error
}

// HistoryFetcher loads a page of older messages. beforeID 0 means newest page.
// Pages are returned in ascending id order.
type HistoryFetcher interface {
	FetchHistory(ctx context.Context, beforeID int64, size int) ([]v1.Message, error)
}

// ReadMarker marks every message from the partner as read and returns the affected ids.
type ReadMarker interface {
	MarkRead(ctx context.Context) ([]int64, error)
}

// Config controls a Manager. Zero fields take defaults, except HandshakeTimeout
// where 0 disables the timeout (DefaultConfig sets it).
type Config struct {
	BaseURL  string
	AuthMode AuthMode
	Backoff  Backoff

	HandshakeTimeout time.Duration
	DialTimeout      time.Duration
	WriteTimeout     time.Duration
	SendQueueSize    int
	ReadLimit        int64

	HistoryPageSize int
	UpdateBuffer    int
}

// DefaultConfig returns the standard client configuration for baseURL.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:          baseURL,
		AuthMode:         AuthFrame,
		Backoff:          DefaultBackoff(),
		HandshakeTimeout: defaultHandshakeTimeout,
		DialTimeout:      defaultDialTimeout,
		WriteTimeout:     defaultWriteTimeout,
		SendQueueSize:    defaultSendQueueSize,
		ReadLimit:        defaultReadLimit,
		HistoryPageSize:  v1.DefaultHistorySize,
		UpdateBuffer:     defaultUpdateBuffer,
	}
}

func (c Config) withDefaults() Config {
	if c.AuthMode == "" {
		c.AuthMode = AuthFrame
	}
	c.Backoff = c.Backoff.withDefaults()
	if c.HandshakeTimeout < 0 {
		c.HandshakeTimeout = 0
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = defaultSendQueueSize
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = defaultReadLimit
	}
	if c.HistoryPageSize <= 0 {
		c.HistoryPageSize = v1.DefaultHistorySize
	}
	if c.HistoryPageSize > v1.MaxHistorySize {
		c.HistoryPageSize = v1.MaxHistorySize
	}
	if c.UpdateBuffer <= 0 {
		c.UpdateBuffer = defaultUpdateBuffer
	}
	return c
}

// UpdateKind tags an Update.
type UpdateKind uint8

const (
	UpdateState UpdateKind = iota
	UpdateMessage
	UpdateRead
	UpdateHistory
	UpdateUnread
	UpdateReset
	UpdateUnauthorized
)

func (k UpdateKind) String() string {
	switch k {
	case UpdateState:
		return "state"
	case UpdateMessage:
		return "message"
	case UpdateRead:
		return "read"
	case UpdateHistory:
		return "history"
	case UpdateUnread:
		return "unread"
	case UpdateReset:
		return "reset"
	case UpdateUnauthorized:
		return "unauthorized"
	default:
		return "unknown"
	}
}

// Update is published on the Updates channel after every observable change.
type Update struct {
	Kind    UpdateKind
	State   State
	Message v1.Message // UpdateMessage
	Count   int        // UpdateRead and UpdateHistory: entries affected
	Unread  int
}

// Status is a point-in-time snapshot of a Manager.
type Status struct {
	State            State
	ConnID           string
	Attempts         int
	ReconnectIn      time.Duration
	LastDisconnectAt time.Time
	LastClose        *CloseInfo
	Unread           int
	Active           bool
	HasMore          bool
	LoadingHistory   bool
	Messages         int
}

type stopper interface{ Stop() bool }

type afterFunc func(d time.Duration, f func()) stopper

func realAfterFunc(d time.Duration, f func()) stopper { return time.AfterFunc(d, f) }

// link is one live transport with its writer queue.
type link struct {
	gen  uint64
	id   string
	conn Conn
	send chan []byte
	stop chan struct{}
}

// Manager owns the connection, the ledger and the reconnect schedule.
//
// All state lives on the goroutine running Run. Public methods post closures to it
// and wait, so they must not be called before Run starts or from inside the
// unauthorized hook synchronously with the loop.
type Manager struct {
	cfg            Config
	log            *slog.Logger
	creds          Credentials
	history        HistoryFetcher
	reads          ReadMarker
	metrics        *Metrics
	dial           DialFunc
	after          afterFunc
	jitterN        func(n int64) int64
	now            func() time.Time
	onUnauthorized func()

	ops     chan func()
	done    chan struct{}
	updates chan Update
	running atomic.Bool
	wg      sync.WaitGroup
	runCtx  context.Context

	// Loop-owned.
	state            State
	gen              uint64
	link             *link
	dialCancel       context.CancelFunc
	connID           string
	manualClose      bool
	attempts         int
	timer            stopper
	timerGen         uint64
	reconnectIn      time.Duration
	handshake        stopper
	lastClose        *CloseInfo
	lastDisconnectAt time.Time

	ledger         *Ledger
	gate           *ActivityGate
	hasMore        bool
	loadingHistory bool
	historyGen     uint64
}

// Option customizes a Manager.
type Option func(*Manager)

func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

func WithDialer(dial DialFunc) Option {
	return func(m *Manager) {
		if dial != nil {
			m.dial = dial
		}
	}
}

func WithHistory(h HistoryFetcher) Option { return func(m *Manager) { m.history = h } }

func WithReadMarker(r ReadMarker) Option { return func(m *Manager) { m.reads = r } }

func WithMetrics(mt *Metrics) Option {
	return func(m *Manager) {
		if mt != nil {
			m.metrics = mt
		}
	}
}

// WithUnauthorizedHandler sets the hook run after the credential was purged
// (the login redirect). It runs on its own goroutine.
func WithUnauthorizedHandler(fn func()) Option { return func(m *Manager) { m.onUnauthorized = fn } }

func withAfterFunc(fn afterFunc) Option { return func(m *Manager) { m.after = fn } }

func withJitter(fn func(n int64) int64) Option { return func(m *Manager) { m.jitterN = fn } }

func withClock(fn func() time.Time) Option { return func(m *Manager) { m.now = fn } }

// New builds a Manager. Call Run to start it.
func New(cfg Config, creds Credentials, opts ...Option) (*Manager, error) {
	if creds == nil {
		return nil, errors.New("chat: credentials are required")
	}
	cfg = cfg.withDefaults()
	if _, err := EndpointURL(cfg.BaseURL, cfg.AuthMode, ""); err != nil {
		return nil, fmt.Errorf("chat: %w", err)
	}
	if cfg.AuthMode != AuthFrame && cfg.AuthMode != AuthQuery {
		return nil, fmt.Errorf("chat: invalid auth mode %q", cfg.AuthMode)
	}

	m := &Manager{
		cfg:     cfg,
		log:     slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})),
		creds:   creds,
		dial:    DialWebSocket,
		after:   realAfterFunc,
		now:     func() time.Time { return time.Now().UTC() },
		ops:     make(chan func()),
		done:    make(chan struct{}),
		hasMore: true,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.metrics == nil {
		m.metrics = NewMetrics(nil)
	}
	m.updates = make(chan Update, cfg.UpdateBuffer)
	m.gate = NewActivityGate(func() { m.ledger.ClearUnread() })
	m.ledger = NewLedger(creds.UserID, m.gate)
	return m, nil
}

// Updates returns the change feed. It is closed when Run returns.
// Slow consumers miss updates; Status and Messages always reflect the latest state.
func (m *Manager) Updates() <-chan Update { return m.updates }

// Run drives the manager until ctx is cancelled. It closes the transport and stops
// timers before returning. A Manager runs once.
func (m *Manager) Run(ctx context.Context) error {
	select {
	case <-m.done:
		return ErrStopped
	default:
	}
	if !m.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.runCtx = runCtx
	defer func() {
		cancel()
		m.shutdown()
		close(m.done)
		m.wg.Wait()
		close(m.updates)
	}()

	m.log.Info("chat.run", "auth_mode", m.cfg.AuthMode, "base_url", m.cfg.BaseURL)
	for {
		select {
		case <-runCtx.Done():
			return nil
		case fn := <-m.ops:
			fn()
		}
	}
}

// call runs fn on the loop and waits for it.
func (m *Manager) call(fn func()) error {
	finished := make(chan struct{})
	op := func() {
		defer close(finished)
		fn()
	}
	select {
	case m.ops <- op:
	case <-m.done:
		return ErrStopped
	}
	<-finished
	return nil
}

// post hands an event from a helper goroutine to the loop. It reports false once stopped.
func (m *Manager) post(fn func()) bool {
	select {
	case m.ops <- fn:
		return true
	case <-m.done:
		return false
	}
}

// ---- Public operations ----

// Connect opens a transport unless one is open or opening, or no credential is held.
func (m *Manager) Connect() error { return m.call(m.connect) }

// Nudge reacts to the network coming back or the view becoming visible:
// unless connected, any pending reconnect is skipped and a connection attempt starts now.
func (m *Manager) Nudge() error {
	return m.call(func() {
		if m.state == Connected {
			return
		}
		m.cancelReconnect()
		if m.state == Reconnecting {
			m.setState(Disconnected)
		}
		m.connect()
	})
}

// Reset closes the transport and clears all connection and ledger state.
// Events from the old transport and in-flight history loads are discarded.
func (m *Manager) Reset() error { return m.call(m.reset) }

// SetActive sets the foreground flag; activation zeroes the unread counter.
func (m *Manager) SetActive(active bool) error {
	return m.call(func() {
		before := m.ledger.Unread()
		m.gate.SetActive(active)
		if m.ledger.Unread() != before {
			m.publishUnread()
		}
	})
}

// SendText sends a text message. Blank content, a missing connection or a full
// write queue drop the message and return false.
func (m *Manager) SendText(content string) bool {
	frame, ok := ComposeText(content)
	if !ok {
		return false
	}
	return m.sendOnLoop(frame)
}

// SendMedia sends a media message. A blank kind or mediaURL is a no-op.
func (m *Manager) SendMedia(kind, mediaURL string, extra json.RawMessage) bool {
	frame, ok := ComposeMedia(kind, mediaURL, extra)
	if !ok {
		return false
	}
	return m.sendOnLoop(frame)
}

func (m *Manager) sendOnLoop(frame any) bool {
	var sent bool
	if err := m.call(func() { sent = m.send(frame) }); err != nil {
		return false
	}
	return sent
}

// LoadHistory fetches the page older than the oldest held message and merges it.
// It is a no-op while a load is in flight or after an empty page was seen.
func (m *Manager) LoadHistory(ctx context.Context) error {
	if m.history == nil {
		return ErrNoHistory
	}

	var (
		skip     bool
		beforeID int64
		gen      uint64
	)
	if err := m.call(func() {
		if m.loadingHistory || !m.hasMore {
			skip = true
			return
		}
		m.loadingHistory = true
		beforeID = m.ledger.OldestID()
		gen = m.historyGen
	}); err != nil {
		return err
	}
	if skip {
		return nil
	}

	page, fetchErr := m.history.FetchHistory(ctx, beforeID, m.cfg.HistoryPageSize)

	var out error
	if err := m.call(func() {
		if gen != m.historyGen {
			// Reset ran mid-flight; report the failure, leave state alone.
			out = fetchErr
			return
		}
		m.loadingHistory = false
		if fetchErr != nil {
			m.metrics.historyPages.WithLabelValues("fail").Inc()
			m.log.Warn("history.load.fail", "before_id", beforeID, "err", fetchErr)
			if errors.Is(fetchErr, ErrUnauthorized) {
				m.expireSession()
			}
			out = fetchErr
			return
		}

		added, empty := m.ledger.MergeHistory(page)
		if empty {
			m.hasMore = false
			m.metrics.historyPages.WithLabelValues("empty").Inc()
		} else {
			m.metrics.historyPages.WithLabelValues("ok").Inc()
		}
		m.metrics.ledgerSize.Set(float64(m.ledger.Len()))
		m.log.Debug("history.load", "before_id", beforeID, "received", len(page), "added", added, "has_more", m.hasMore)
		m.publish(Update{Kind: UpdateHistory, Count: added})
	}); err != nil {
		return err
	}
	return out
}

// MarkRead asks the server to mark the partner's messages read and applies the
// returned ids locally. It returns how many held messages changed.
func (m *Manager) MarkRead(ctx context.Context) (int, error) {
	if m.reads == nil {
		return 0, ErrNoReadMarker
	}
	var gen uint64
	if err := m.call(func() { gen = m.historyGen }); err != nil {
		return 0, err
	}

	marked, markErr := m.reads.MarkRead(ctx)

	var changed int
	if err := m.call(func() {
		if gen != m.historyGen {
			return
		}
		if markErr != nil {
			m.log.Warn("read.mark.fail", "err", markErr)
			if errors.Is(markErr, ErrUnauthorized) {
				m.expireSession()
			}
			return
		}
		changed = m.ledger.ApplyRead(marked)
		m.publish(Update{Kind: UpdateRead, Count: changed})
	}); err != nil {
		return 0, err
	}
	if markErr != nil {
		return 0, markErr
	}
	return changed, nil
}

// Status returns a snapshot.
func (m *Manager) Status() (Status, error) {
	var st Status
	err := m.call(func() {
		st = Status{
			State:            m.state,
			ConnID:           m.connID,
			Attempts:         m.attempts,
			ReconnectIn:      m.reconnectIn,
			LastDisconnectAt: m.lastDisconnectAt,
			Unread:           m.ledger.Unread(),
			Active:           m.gate.Active(),
			HasMore:          m.hasMore,
			LoadingHistory:   m.loadingHistory,
			Messages:         m.ledger.Len(),
		}
		if m.lastClose != nil {
			c := *m.lastClose
			st.LastClose = &c
		}
	})
	return st, err
}

// Messages returns a copy of the ledger in id order.
func (m *Manager) Messages() ([]v1.Message, error) {
	var out []v1.Message
	err := m.call(func() { out = m.ledger.Messages() })
	return out, err
}

// ---- Loop internals ----

func (m *Manager) connect() {
	if m.state == Connected || m.state.opening() {
		return
	}
	token := m.creds.Token()
	if token == "" {
		m.log.Debug("ws.connect.skip", "reason", "no credential")
		return
	}
	rawURL, err := EndpointURL(m.cfg.BaseURL, m.cfg.AuthMode, token)
	if err != nil {
		m.log.Error("ws.connect.fail", "err", err)
		return
	}

	m.cancelReconnect()
	m.manualClose = false
	m.gen++
	gen := m.gen

	connID, err := ids.NewULID(m.now())
	if err != nil {
		m.log.Warn("ws.conn_id.fail", "err", err)
		connID = ""
	}
	m.connID = connID
	m.setState(Connecting)

	dialCtx, cancel := context.WithTimeout(m.runCtx, m.cfg.DialTimeout)
	m.dialCancel = cancel

	m.log.Info("ws.connect", "conn_id", connID, "endpoint", redactURL(rawURL), "attempt", m.attempts)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		conn, resp, err := m.dial(dialCtx, rawURL, &websocket.DialOptions{})
		status := 0
		if resp != nil {
			status = resp.StatusCode
			if resp.Body != nil {
				_ = resp.Body.Close()
			}
		}
		if !m.post(func() { m.onDialed(gen, conn, status, err) }) && conn != nil {
			_ = conn.Close(websocket.StatusGoingAway, "client shutdown")
		}
	}()
}

func (m *Manager) onDialed(gen uint64, conn Conn, status int, err error) {
	if gen != m.gen || m.state != Connecting {
		if conn != nil {
			m.closeAsync(conn, websocket.StatusNormalClosure, "stale connection")
		}
		return
	}
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}

	if err != nil {
		m.metrics.dials.WithLabelValues("fail").Inc()
		m.log.Info("ws.dial.fail", "conn_id", m.connID, "http_status", status, "err", redactErr(err))
		m.handleClose(closeInfoFromDial(status))
		return
	}
	m.metrics.dials.WithLabelValues("ok").Inc()

	conn.SetReadLimit(m.cfg.ReadLimit)
	l := &link{
		gen:  gen,
		id:   m.connID,
		conn: conn,
		send: make(chan []byte, m.cfg.SendQueueSize),
		stop: make(chan struct{}),
	}
	m.link = l
	m.startReader(l)
	m.startWriter(l)

	if m.cfg.AuthMode == AuthQuery {
		m.onAuthenticated()
		return
	}

	m.setState(AwaitingAuth)
	frame, err := json.Marshal(v1.AuthFrame{Type: v1.TypeAuth, Token: m.creds.Token()})
	if err != nil {
		m.log.Error("ws.auth.encode.fail", "err", err)
		return
	}
	m.enqueue(l, frame)
	m.armHandshake(gen)
}

func (m *Manager) startReader(l *link) {
	ctx := m.runCtx
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			_, data, err := l.conn.Read(ctx)
			if err != nil {
				info := closeInfoFromErr(err)
				m.post(func() { m.onClosed(l.gen, info, err) })
				return
			}
			if !m.post(func() { m.onFrame(l.gen, data) }) {
				return
			}
		}
	}()
}

func (m *Manager) startWriter(l *link) {
	ctx := m.runCtx
	timeout := m.cfg.WriteTimeout
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-l.stop:
				return
			case b := <-l.send:
				wctx, cancel := context.WithTimeout(ctx, timeout)
				err := l.conn.Write(wctx, websocket.MessageText, b)
				cancel()
				if err != nil {
					m.post(func() { m.onWriteError(l.gen, err) })
					return
				}
				m.metrics.framesOut.Inc()
			}
		}
	}()
}

func (m *Manager) current(gen uint64) bool {
	return m.link != nil && m.link.gen == gen
}

func (m *Manager) onFrame(gen uint64, data []byte) {
	if !m.current(gen) {
		return
	}

	kind, f, msg, err := v1.Decode(data)
	if err != nil {
		m.metrics.framesIn.WithLabelValues("malformed").Inc()
		m.log.Debug("ws.frame.drop", "conn_id", m.connID, "err", err)
		return
	}

	switch kind {
	case v1.KindAuth:
		m.metrics.framesIn.WithLabelValues("auth").Inc()
		if m.state != AwaitingAuth {
			return
		}
		if f.Status == v1.AuthOK {
			m.onAuthenticated()
			return
		}
		m.log.Warn("ws.auth.reject", "conn_id", m.connID, "status", f.Status)
		m.closeLink(websocket.StatusPolicyViolation, v1.CloseReasonUnauthorized)
		m.handleClose(CloseInfo{
			Code:     int(websocket.StatusPolicyViolation),
			Reason:   v1.CloseReasonUnauthorized,
			WasClean: true,
		})

	case v1.KindRead:
		m.metrics.framesIn.WithLabelValues("read").Inc()
		changed := m.ledger.ApplyRead(f.MessageIDs)
		m.publish(Update{Kind: UpdateRead, Count: changed})

	default:
		m.metrics.framesIn.WithLabelValues("message").Inc()
		before := m.ledger.Unread()
		if !m.ledger.Append(msg) {
			m.log.Debug("ws.message.dup", "conn_id", m.connID, "message_id", msg.ID)
			return
		}
		m.metrics.ledgerSize.Set(float64(m.ledger.Len()))
		if m.ledger.Unread() != before {
			m.metrics.unread.Set(float64(m.ledger.Unread()))
		}
		m.publish(Update{Kind: UpdateMessage, Message: msg})
	}
}

func (m *Manager) onAuthenticated() {
	m.stopHandshake()
	m.cancelReconnect()
	m.attempts = 0
	m.metrics.attempts.Set(0)
	m.setState(Connected)
	m.log.Info("ws.auth.ok", "conn_id", m.connID)
}

func (m *Manager) onClosed(gen uint64, info CloseInfo, err error) {
	if !m.current(gen) {
		return
	}
	if !info.WasClean {
		m.log.Info("ws.read.fail", "conn_id", m.connID, "close_status", websocket.CloseStatus(err), "err", err)
	}
	m.closeLink(websocket.StatusGoingAway, info.Reason)
	m.handleClose(info)
}

func (m *Manager) onWriteError(gen uint64, err error) {
	if !m.current(gen) {
		return
	}
	m.log.Info("ws.write.fail", "conn_id", m.connID, "close_status", websocket.CloseStatus(err), "err", err)
	m.closeLink(websocket.StatusInternalError, "write failed")
	m.handleClose(transportError)
}

// handleClose is the single close path for every way a transport ends.
func (m *Manager) handleClose(info CloseInfo) {
	m.stopHandshake()
	m.link = nil
	m.lastClose = &info
	m.lastDisconnectAt = m.now()
	m.setState(Disconnected)

	kind := "clean"
	if !info.WasClean {
		kind = "unclean"
	}
	m.metrics.closes.WithLabelValues(kind).Inc()
	m.log.Info("ws.close", "conn_id", m.connID, "code", info.Code, "reason", info.Reason, "was_clean", info.WasClean)

	if m.manualClose {
		return
	}
	if info.Reason == v1.CloseReasonUnauthorized {
		m.expireSession()
		return
	}
	m.scheduleReconnect()
}

func (m *Manager) scheduleReconnect() {
	if m.timer != nil || m.state == Connected || m.state.opening() {
		return
	}
	if m.creds.Token() == "" {
		return
	}

	m.attempts++
	delay := m.cfg.Backoff.Delay(m.attempts, m.jitterN)
	m.reconnectIn = delay
	m.metrics.attempts.Set(float64(m.attempts))
	m.metrics.reconnectDelay.Observe(delay.Seconds())
	m.setState(Reconnecting)

	m.timerGen++
	gen := m.timerGen
	m.timer = m.after(delay, func() {
		m.post(func() { m.onReconnectTimer(gen) })
	})
	m.log.Info("reconnect.schedule", "attempt", m.attempts, "delay", delay)
}

func (m *Manager) onReconnectTimer(gen uint64) {
	if gen != m.timerGen || m.timer == nil {
		return
	}
	m.timer = nil
	m.reconnectIn = 0
	m.connect()
}

func (m *Manager) cancelReconnect() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.timerGen++
	m.reconnectIn = 0
}

func (m *Manager) armHandshake(gen uint64) {
	if m.cfg.HandshakeTimeout <= 0 {
		return
	}
	m.stopHandshake()
	m.handshake = m.after(m.cfg.HandshakeTimeout, func() {
		m.post(func() { m.onHandshakeTimeout(gen) })
	})
}

func (m *Manager) stopHandshake() {
	if m.handshake != nil {
		m.handshake.Stop()
		m.handshake = nil
	}
}

func (m *Manager) onHandshakeTimeout(gen uint64) {
	if !m.current(gen) || m.state != AwaitingAuth {
		return
	}
	m.handshake = nil
	m.log.Warn("ws.auth.timeout", "conn_id", m.connID, "timeout", m.cfg.HandshakeTimeout)
	m.closeLink(websocket.StatusPolicyViolation, reasonHandshakeTimeout)
	m.handleClose(CloseInfo{
		Code:     int(websocket.StatusPolicyViolation),
		Reason:   reasonHandshakeTimeout,
		WasClean: false,
	})
}

// expireSession purges the credential and runs the unauthorized hook. It never reconnects.
func (m *Manager) expireSession() {
	if err := m.creds.Purge(); err != nil {
		m.log.Warn("session.purge.fail", "err", err)
	}
	m.log.Warn("session.expired", "conn_id", m.connID)
	m.publish(Update{Kind: UpdateUnauthorized})

	if fn := m.onUnauthorized; fn != nil {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			fn()
		}()
	}
}

func (m *Manager) reset() {
	m.manualClose = true
	m.cancelReconnect()
	m.stopHandshake()
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}
	m.closeLink(websocket.StatusNormalClosure, "reset")

	// Invalidate in-flight dials, transport events and history loads.
	m.gen++
	m.historyGen++

	m.connID = ""
	m.attempts = 0
	m.lastDisconnectAt = time.Time{}
	m.ledger.Reset()
	m.gate.reset()
	m.hasMore = true
	m.loadingHistory = false

	m.metrics.attempts.Set(0)
	m.metrics.unread.Set(0)
	m.metrics.ledgerSize.Set(0)
	m.setState(Disconnected)
	m.log.Info("chat.reset")
	m.publish(Update{Kind: UpdateReset})
}

func (m *Manager) shutdown() {
	m.manualClose = true
	m.cancelReconnect()
	m.stopHandshake()
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}
	m.closeLink(websocket.StatusGoingAway, "client shutdown")
	m.gen++
	m.setState(Disconnected)
	m.log.Info("chat.stop")
}

// closeLink stops the writer and closes the current transport without waiting
// for the close handshake.
func (m *Manager) closeLink(code websocket.StatusCode, reason string) {
	l := m.link
	if l == nil {
		return
	}
	m.link = nil
	close(l.stop)
	m.closeAsync(l.conn, code, reason)
}

func (m *Manager) closeAsync(conn Conn, code websocket.StatusCode, reason string) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		_ = conn.Close(code, reason)
	}()
}

// send is the outbound primitive: silent drop unless Connected, never queued across reconnects.
func (m *Manager) send(frame any) bool {
	if m.state != Connected || m.link == nil {
		m.metrics.dropped.WithLabelValues("not_connected").Inc()
		m.log.Debug("ws.send.drop", "reason", "not connected", "state", m.state.String())
		return false
	}
	b, err := json.Marshal(frame)
	if err != nil {
		m.metrics.dropped.WithLabelValues("encode").Inc()
		m.log.Warn("ws.send.drop", "reason", "encode", "err", err)
		return false
	}
	return m.enqueue(m.link, b)
}

func (m *Manager) enqueue(l *link, b []byte) bool {
	select {
	case l.send <- b:
		return true
	default:
		m.metrics.dropped.WithLabelValues("queue_full").Inc()
		m.log.Warn("ws.send.drop", "conn_id", l.id, "reason", "queue full")
		return false
	}
}

func (m *Manager) setState(s State) {
	if m.state == s {
		return
	}
	m.state = s
	m.metrics.state.Set(float64(s))
	m.publish(Update{Kind: UpdateState})
}

func (m *Manager) publishUnread() {
	m.metrics.unread.Set(float64(m.ledger.Unread()))
	m.publish(Update{Kind: UpdateUnread})
}

// publish never blocks the loop.
func (m *Manager) publish(u Update) {
	u.State = m.state
	u.Unread = m.ledger.Unread()
	select {
	case m.updates <- u:
	default:
	}
}
