package app

import (
	"fmt"
	"time"

	"github.com/Coding-Lml/love-space/cmd/internal/chat"
	"github.com/Coding-Lml/love-space/cmd/internal/session"
	v1 "github.com/Coding-Lml/love-space/shared/contracts/chat/v1"
)

const fallbackSessionFile = ".lovechat-session.json"

// Config contains the client configuration loaded from environment variables.
// Command-line flags override individual fields.
type Config struct {
	BaseURL     string
	AuthMode    chat.AuthMode
	SessionFile string

	LogLevel  string
	LogFormat string
	LogColor  bool

	// MetricsAddr serves /metrics, /healthz and /readyz when non-empty.
	MetricsAddr       string
	ReadHeaderTimeout time.Duration

	HistoryPage int

	ReconnectBase    time.Duration
	ReconnectCap     time.Duration
	ReconnectJitter  time.Duration
	HandshakeTimeout time.Duration
	DialTimeout      time.Duration
	WriteTimeout     time.Duration
	SendQueue        int

	HTTPTimeout time.Duration

	// Width overrides the console width used to wrap messages.
	Width int
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() (Config, error) {
	mode, err := chat.ParseAuthMode(EnvString("LOVECHAT_AUTH_MODE", string(chat.AuthFrame)))
	if err != nil {
		return Config{}, fmt.Errorf("LOVECHAT_AUTH_MODE: %w", err)
	}

	sessionFile := EnvString("LOVECHAT_SESSION_FILE", "")
	if sessionFile == "" {
		if p, err := session.DefaultPath(); err == nil {
			sessionFile = p
		} else {
			sessionFile = fallbackSessionFile
		}
	}

	def := chat.DefaultConfig("")
	return Config{
		BaseURL:     EnvString("LOVECHAT_BASE_URL", "http://127.0.0.1:8080"),
		AuthMode:    mode,
		SessionFile: sessionFile,

		LogLevel:  EnvString("LOVECHAT_LOG_LEVEL", "warn"),
		LogFormat: EnvString("LOVECHAT_LOG_FORMAT", "pretty"),
		LogColor:  EnvBool("LOVECHAT_LOG_COLOR", true),

		MetricsAddr:       EnvString("LOVECHAT_METRICS_ADDR", ""),
		ReadHeaderTimeout: EnvDuration("LOVECHAT_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),

		HistoryPage: EnvInt("LOVECHAT_HISTORY_PAGE", v1.DefaultHistorySize),

		ReconnectBase:    EnvDuration("LOVECHAT_RECONNECT_BASE", def.Backoff.Base),
		ReconnectCap:     EnvDuration("LOVECHAT_RECONNECT_CAP", def.Backoff.Cap),
		ReconnectJitter:  EnvDurationOrZero("LOVECHAT_RECONNECT_JITTER", def.Backoff.MaxJitter),
		HandshakeTimeout: EnvDurationOrZero("LOVECHAT_HANDSHAKE_TIMEOUT", def.HandshakeTimeout),
		DialTimeout:      EnvDuration("LOVECHAT_DIAL_TIMEOUT", def.DialTimeout),
		WriteTimeout:     EnvDuration("LOVECHAT_WRITE_TIMEOUT", def.WriteTimeout),
		SendQueue:        EnvInt("LOVECHAT_SEND_QUEUE", def.SendQueueSize),

		HTTPTimeout: EnvDuration("LOVECHAT_HTTP_TIMEOUT", 30*time.Second),

		Width: EnvInt("LOVECHAT_WIDTH", 0),
	}, nil
}

// ChatConfig maps the client config onto the connection manager config.
func (c Config) ChatConfig() chat.Config {
	cc := chat.DefaultConfig(c.BaseURL)
	cc.AuthMode = c.AuthMode
	cc.Backoff = chat.Backoff{
		Base:      c.ReconnectBase,
		Cap:       c.ReconnectCap,
		MaxJitter: c.ReconnectJitter,
	}
	cc.HandshakeTimeout = c.HandshakeTimeout
	if c.DialTimeout > 0 {
		cc.DialTimeout = c.DialTimeout
	}
	if c.WriteTimeout > 0 {
		cc.WriteTimeout = c.WriteTimeout
	}
	if c.SendQueue > 0 {
		cc.SendQueueSize = c.SendQueue
	}
	if c.HistoryPage > 0 {
		cc.HistoryPageSize = c.HistoryPage
	}
	return cc
}
