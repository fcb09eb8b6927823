package devserver

import "time"

// Security/performance limits.
const (
	// Max bytes per websocket frame read (hard limit).
	maxFrameBytes = 64 << 10 // 64 KiB

	// Max text content length (runes).
	maxContentChars = 4000

	// Max stored bytes for the opaque extra JSON of media messages.
	maxExtraBytes = 4 << 10

	// Max media URL length (bytes).
	maxMediaURLBytes = 2048
)

const (
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second
	maxPingFailures   = 3

	// authTimeout bounds how long a frame-mode connection may stay unauthenticated.
	authTimeout = 10 * time.Second

	// Per-connection rate limits (frames per window).
	rateLimitEvents = 120
	rateLimitWindow = 10 * time.Second

	// Login attempts per ip:username.
	loginAttempts     = 10
	loginWindow       = 5 * time.Minute
	maxLimiterKeys    = 4096
	maxLoginBodyBytes = 4 << 10

	defaultSendQueue    = 256
	minSendQueue        = 32
	defaultWriteTimeout = 5 * time.Second
	defaultReadIdle     = 2 * time.Minute
	closeGrace          = time.Second
)
