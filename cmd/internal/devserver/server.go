// Package devserver is a reference love-space chat backend: login and history
// over REST, live delivery and read receipts over the /ws/chat websocket.
// It exists to run and test the client against a real peer.
package devserver

import (
	"context"
	"crypto/rand"
	"log/slog"
	"net/http"
	"time"

	"github.com/Coding-Lml/love-space/cmd/internal/app"
	"github.com/Coding-Lml/love-space/cmd/security/token"
	v1 "github.com/Coding-Lml/love-space/shared/contracts/chat/v1"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Server owns the stores, the hub and the HTTP surface.
type Server struct {
	cfg Config
	log *slog.Logger
	reg *prometheus.Registry

	pool  *pgxpool.Pool
	store MessageStore
	hub   *Hub
	gw    *Gateway
	api   *api

	cancel context.CancelFunc
}

// New builds a server. With cfg.DatabaseURL set messages live in Postgres,
// otherwise in memory.
func New(ctx context.Context, cfg Config, log *slog.Logger) (*Server, error) {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := NewMetrics(reg)

	dir, err := NewDirectory(cfg.Users, cfg.Passwords)
	if err != nil {
		return nil, err
	}

	key := cfg.TokenKey
	if len(key) == 0 {
		key = make([]byte, token.MinKeyBytes)
		if _, err := rand.Read(key); err != nil {
			return nil, err
		}
		log.Warn("token.key.ephemeral", "env", token.HMACEnvKey)
	}
	signer, err := token.NewSigner(key, cfg.TokenTTL)
	if err != nil {
		return nil, err
	}

	s := &Server{cfg: cfg, log: log, reg: reg}

	if cfg.DatabaseURL != "" {
		pool, err := NewDBPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
		if err != nil {
			return nil, err
		}
		st, err := NewPostgresStore(pool, WithSchema(cfg.DBSchema))
		if err == nil {
			err = st.EnsureSchema(ctx)
		}
		if err != nil {
			pool.Close()
			return nil, err
		}
		s.pool, s.store = pool, st
		log.Info("store.postgres", "schema", cfg.DBSchema)
	} else {
		s.store = NewInMemoryStore()
		log.Info("store.memory")
	}

	base, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	auth := &authenticator{signer: signer, dir: dir}
	s.hub = NewHub(log, metrics)
	s.gw = newGateway(base, log, cfg, auth, s.store, s.hub, metrics)
	s.api = &api{
		log:     log,
		auth:    auth,
		store:   s.store,
		hub:     s.hub,
		metrics: metrics,
		logins:  newKeyedLimiter(cfg.LoginAttempts, cfg.LoginWindow),
	}
	return s, nil
}

// Handler returns the full HTTP surface wrapped in the request middlewares.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.api.register(mux)
	mux.Handle("GET "+v1.Path, s.gw)
	app.RegisterOps(mux, s.log, s.reg, s.ready)
	return app.WithRequestLogging(app.WithSecurityHeaders(mux), s.log)
}

// Hub exposes the session registry.
func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) ready(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	return PingDB(ctx, s.pool, time.Second)
}

// Run serves on cfg.Addr until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
	}
	srv.RegisterOnShutdown(s.cancel)
	return app.Serve(ctx, srv, s.log, s.cfg.ShutdownTimeout)
}

// Close ends live sessions and releases the store.
func (s *Server) Close() error {
	s.cancel()
	err := s.store.Close()
	if s.pool != nil {
		s.pool.Close()
	}
	return err
}
