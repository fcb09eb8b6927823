package app

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Coding-Lml/love-space/cmd/internal/chat"
)

const usage = `usage: lovechat [command] [flags]

commands:
  chat     connect and chat (default)
  login    store a session token
  logout   forget the stored session
  whoami   print the stored user

run "lovechat <command> -h" for command flags`

// Run is the CLI entrypoint used by cmd/lovechat.
// It returns an error instead of calling os.Exit to keep defers effective and lint clean.
func Run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}

	name := "chat"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		name, args = args[0], args[1:]
	}

	fs := flag.NewFlagSet("lovechat "+name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	bindCommonFlags(fs, &cfg)

	var username, password string
	switch name {
	case "chat":
		var mode string
		fs.StringVar(&mode, "auth-mode", string(cfg.AuthMode), "handshake: frame or query")
		fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "serve /metrics, /healthz and /readyz on this address")
		fs.IntVar(&cfg.HistoryPage, "page", cfg.HistoryPage, "history page size")
		fs.IntVar(&cfg.Width, "width", cfg.Width, "console width (0 = $COLUMNS)")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if cfg.AuthMode, err = chat.ParseAuthMode(mode); err != nil {
			return err
		}
	case "login":
		fs.StringVar(&username, "u", "", "username")
		fs.StringVar(&password, "p", EnvString("LOVECHAT_PASSWORD", ""), "password (prompted when empty)")
		if err := fs.Parse(args); err != nil {
			return err
		}
	case "logout", "whoami":
		if err := fs.Parse(args); err != nil {
			return err
		}
	case "help", "-h", "--help":
		_, _ = fmt.Fprintln(stdout, usage)
		return nil
	default:
		_, _ = fmt.Fprintln(stderr, usage)
		return fmt.Errorf("unknown command %q", name)
	}

	log := NewLogger(cfg.LogLevel, cfg.LogFormat, stderr, cfg.LogColor)

	a, err := New(cfg, log, stdin, stdout)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch name {
	case "login":
		return runLogin(ctx, a, stdin, stdout, username, password)
	case "logout":
		if err := a.Logout(); err != nil {
			return err
		}
		_, _ = fmt.Fprintln(stdout, "logged out")
		return nil
	case "whoami":
		u, ok := a.Whoami()
		if !ok {
			return ErrNotLoggedIn
		}
		_, _ = fmt.Fprintf(stdout, "%s (id %d)\n", displayName(u), u.ID)
		return nil
	default:
		return a.Chat(ctx)
	}
}

func bindCommonFlags(fs *flag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.BaseURL, "base", cfg.BaseURL, "server base URL (http or https)")
	fs.StringVar(&cfg.SessionFile, "session", cfg.SessionFile, "session file path")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "json, text or pretty")
}

func runLogin(ctx context.Context, a *App, stdin io.Reader, stdout io.Writer, username, password string) error {
	in := bufio.NewReader(stdin)
	var err error
	if username == "" {
		if username, err = prompt(in, stdout, "username: "); err != nil {
			return err
		}
	}
	if password == "" {
		if password, err = prompt(in, stdout, "password: "); err != nil {
			return err
		}
	}

	u, err := a.Login(ctx, username, password)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(stdout, "logged in as %s (id %d)\n", displayName(u), u.ID)
	return nil
}

func prompt(in *bufio.Reader, out io.Writer, label string) (string, error) {
	_, _ = fmt.Fprint(out, label)
	line, err := in.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		return "", fmt.Errorf("%sempty input", label)
	}
	return line, nil
}
