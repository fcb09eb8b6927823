package v1

import (
	"encoding/json"
	"errors"
)

// Message is a chat message as delivered by the server, live or from history.
// ID is assigned by the server and is the ordering key.
type Message struct {
	ID         int64           `json:"id"`
	FromUserID int64           `json:"fromUserId"`
	ToUserID   int64           `json:"toUserId"`
	Type       string          `json:"type"`
	Content    string          `json:"content,omitempty"`
	MediaURL   string          `json:"mediaUrl,omitempty"`
	Extra      json.RawMessage `json:"extra,omitempty"`
	Status     string          `json:"status,omitempty"`
	CreatedAt  string          `json:"createdAt,omitempty"`
}

// Validate rejects objects that cannot be placed in a ledger.
func (m Message) Validate() error {
	if m.ID <= 0 {
		return errors.New("missing field: id")
	}
	return nil
}

// IsRead reports whether the message has been read by its recipient.
func (m Message) IsRead() bool { return m.Status == StatusRead }

// IsMedia reports whether the message carries a media reference instead of text.
func (m Message) IsMedia() bool { return m.Type != TypeText && m.MediaURL != "" }

// ---- REST envelopes ----

// Result is the REST response envelope.
type Result[T any] struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
	Data    T      `json:"data"`
}

// CodeOK is the success code carried by Result.
const CodeOK = 200

// LoginRequest is the body of POST /api/auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// User is the public profile returned by login.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Nickname string `json:"nickname,omitempty"`
}

// LoginResponse is the data of a successful login.
type LoginResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// REST paths.
const (
	PathHistory  = "/api/chat/history"
	PathMarkRead = "/api/chat/read"
	PathLogin    = "/api/auth/login"
	PathMe       = "/api/auth/me"
	PathPartner  = "/api/auth/partner"
)

// History query parameters.
const (
	ParamBeforeID = "beforeId"
	ParamSize     = "size"

	DefaultHistorySize = 20
	MaxHistorySize     = 100
)
