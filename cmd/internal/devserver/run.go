package devserver

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Coding-Lml/love-space/cmd/internal/app"
)

// Main loads the environment config and serves until SIGINT or SIGTERM.
func Main() error {
	log := app.NewLogger(
		app.EnvString("LOVECHAT_LOG_LEVEL", "info"),
		app.EnvString("LOVECHAT_LOG_FORMAT", "json"),
		os.Stderr,
		app.EnvBool("LOVECHAT_LOG_COLOR", true),
	)

	cfg, err := LoadConfig()
	if err != nil {
		log.Error("config.load.fail", "err", err)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := New(ctx, cfg, log)
	if err != nil {
		log.Error("server.init.fail", "err", err)
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			log.Warn("server.close.fail", "err", err)
		}
	}()

	log.Info("devserver.config", "auth_mode", string(cfg.AuthMode), "users", len(cfg.Users), "postgres", cfg.DatabaseURL != "")
	return s.Run(ctx)
}
