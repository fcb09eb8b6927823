package devserver

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Coding-Lml/love-space/cmd/internal/app"
	"github.com/Coding-Lml/love-space/cmd/security/password"
	"github.com/Coding-Lml/love-space/cmd/security/token"
)

// AuthMode selects which websocket credential channels the gateway accepts.
type AuthMode string

const (
	// AuthAny uses the query token when present and waits for an auth frame otherwise.
	AuthAny   AuthMode = "any"
	AuthQuery AuthMode = "query"
	AuthFrame AuthMode = "frame"
)

func parseAuthMode(s string) (AuthMode, error) {
	switch m := AuthMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return AuthAny, nil
	case AuthAny, AuthQuery, AuthFrame:
		return m, nil
	default:
		return "", fmt.Errorf("invalid auth mode %q (want any|query|frame)", s)
	}
}

const defaultUsers = "1:ann:ann-pass:Ann,2:bo:bo-pass:Bo"

// Config contains the dev server configuration loaded from environment variables.
type Config struct {
	Addr     string
	AuthMode AuthMode
	Users    []UserSpec

	Passwords password.Config

	// TokenKey signs bearer tokens. Empty means a random per-process key.
	TokenKey []byte
	TokenTTL time.Duration

	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32

	OriginRequired bool
	AllowedOrigins []string

	SendQueue        int
	WriteTimeout     time.Duration
	ReadIdleTimeout  time.Duration
	HeartbeatEvery   time.Duration
	HeartbeatTimeout time.Duration
	AuthTimeout      time.Duration
	RateEvents       int
	RateWindow       time.Duration

	LoginAttempts int
	LoginWindow   time.Duration

	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// LoadConfig loads Config from environment variables with defaults.
// Without LOVECHAT_DEV_TOKEN_KEY a random key is minted, so tokens do not survive restarts.
func LoadConfig() (Config, error) {
	mode, err := parseAuthMode(app.EnvString("LOVECHAT_DEV_AUTH_MODE", string(AuthAny)))
	if err != nil {
		return Config{}, fmt.Errorf("LOVECHAT_DEV_AUTH_MODE: %w", err)
	}

	users, err := ParseUsers(app.EnvCSV("LOVECHAT_DEV_USERS", defaultUsers))
	if err != nil {
		return Config{}, fmt.Errorf("LOVECHAT_DEV_USERS: %w", err)
	}

	pw, err := password.FromEnv()
	if err != nil {
		return Config{}, err
	}

	key, err := token.HMACKeyFromEnv(token.MinKeyBytes)
	if err != nil && !errors.Is(err, token.ErrHMACKeyMissing) {
		return Config{}, fmt.Errorf("%s: %w", token.HMACEnvKey, err)
	}

	cfg := Config{
		Addr:     app.EnvString("LOVECHAT_DEV_ADDR", ":8080"),
		AuthMode: mode,
		Users:    users,

		Passwords: pw,
		TokenKey:  key,
		TokenTTL:  app.EnvDuration("LOVECHAT_DEV_TOKEN_TTL", 7*24*time.Hour),

		DatabaseURL: app.EnvString("LOVECHAT_DATABASE_URL", ""),
		DBSchema:    app.EnvString("LOVECHAT_DB_SCHEMA", defaultSchema),
		DBMaxConns:  app.EnvInt32("LOVECHAT_DB_MAX_CONNS", 5),

		OriginRequired: app.EnvBool("LOVECHAT_WS_ORIGIN_REQUIRED", false),
		AllowedOrigins: app.EnvCSV("LOVECHAT_WS_ALLOWED_ORIGINS", "http://localhost,http://127.0.0.1"),

		SendQueue:        max(app.EnvInt("LOVECHAT_WS_SEND_QUEUE", defaultSendQueue), minSendQueue),
		WriteTimeout:     app.EnvDuration("LOVECHAT_WS_WRITE_TIMEOUT", defaultWriteTimeout),
		ReadIdleTimeout:  app.EnvDuration("LOVECHAT_WS_READ_IDLE_TIMEOUT", defaultReadIdle),
		HeartbeatEvery:   app.EnvDuration("LOVECHAT_WS_HEARTBEAT_INTERVAL", heartbeatInterval),
		HeartbeatTimeout: app.EnvDuration("LOVECHAT_WS_HEARTBEAT_TIMEOUT", heartbeatTimeout),
		AuthTimeout:      app.EnvDuration("LOVECHAT_WS_AUTH_TIMEOUT", authTimeout),
		RateEvents:       app.EnvInt("LOVECHAT_WS_RATE_EVENTS", rateLimitEvents),
		RateWindow:       app.EnvDuration("LOVECHAT_WS_RATE_WINDOW", rateLimitWindow),

		LoginAttempts: app.EnvInt("LOVECHAT_DEV_LOGIN_MAX", loginAttempts),
		LoginWindow:   app.EnvDuration("LOVECHAT_DEV_LOGIN_WINDOW", loginWindow),

		ReadHeaderTimeout: app.EnvDuration("LOVECHAT_DEV_READ_HEADER_TIMEOUT", 5*time.Second),
		ShutdownTimeout:   app.EnvDuration("LOVECHAT_DEV_SHUTDOWN_TIMEOUT", 10*time.Second),
	}
	return cfg, nil
}

// withDefaults fills zero fields so tests can build a Config literal.
func (c Config) withDefaults() Config {
	if c.AuthMode == "" {
		c.AuthMode = AuthAny
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = 7 * 24 * time.Hour
	}
	if c.DBSchema == "" {
		c.DBSchema = defaultSchema
	}
	if c.Passwords.Params.MemoryKiB == 0 {
		c.Passwords = password.DefaultConfig()
	}
	switch {
	case c.SendQueue <= 0:
		c.SendQueue = defaultSendQueue
	case c.SendQueue < minSendQueue:
		c.SendQueue = minSendQueue
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.ReadIdleTimeout <= 0 {
		c.ReadIdleTimeout = defaultReadIdle
	}
	if c.HeartbeatEvery <= 0 {
		c.HeartbeatEvery = heartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = heartbeatTimeout
	}
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = authTimeout
	}
	if c.RateEvents <= 0 {
		c.RateEvents = rateLimitEvents
	}
	if c.RateWindow <= 0 {
		c.RateWindow = rateLimitWindow
	}
	if c.LoginAttempts <= 0 {
		c.LoginAttempts = loginAttempts
	}
	if c.LoginWindow <= 0 {
		c.LoginWindow = loginWindow
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	return c
}
