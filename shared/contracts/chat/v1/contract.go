// Package v1 defines the love-space chat wire contract.
//
// Frames are bare JSON objects. Server frames carry either an "event" tag (auth, read)
// or are a message object; client frames carry a "type" tag.
// This package is shared between the chat client and the reference server.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Path is the websocket endpoint path, relative to the service origin.
const Path = "/ws/chat"

// TokenQueryParam carries the credential when the token travels in the connection URI.
const TokenQueryParam = "token"

// Event tags (server -> client).
const (
	EventAuth = "auth"
	EventRead = "read"
)

// Auth statuses carried by EventAuth frames.
const (
	AuthOK   = "ok"
	AuthFail = "fail"
)

// Frame types (client -> server).
const (
	TypeAuth  = "auth"
	TypeText  = "text"
	TypeImage = "image"
	TypeVideo = "video"
	TypeVoice = "voice"
)

// Message delivery statuses.
const (
	StatusSent = "sent"
	StatusRead = "read"
)

// CloseReasonUnauthorized is the close reason used when a credential is rejected.
const CloseReasonUnauthorized = "unauthorized"

// Frame is the tagged view of an inbound frame used for dispatch.
// Only the tag fields are decoded; message frames are decoded again as Message.
type Frame struct {
	Event      string  `json:"event,omitempty"`
	Status     string  `json:"status,omitempty"`
	ReaderID   int64   `json:"readerId,omitempty"`
	PartnerID  int64   `json:"partnerId,omitempty"`
	MessageIDs []int64 `json:"messageIds,omitempty"`
}

// Kind classifies an inbound frame.
type Kind uint8

const (
	KindMessage Kind = iota
	KindAuth
	KindRead
)

// Decode parses an inbound frame. For KindMessage the returned Message is populated.
func Decode(data []byte) (Kind, Frame, Message, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return KindMessage, Frame{}, Message{}, fmt.Errorf("decode frame: %w", err)
	}

	switch f.Event {
	case EventAuth:
		return KindAuth, f, Message{}, nil
	case EventRead:
		return KindRead, f, Message{}, nil
	}

	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return KindMessage, f, Message{}, fmt.Errorf("decode message: %w", err)
	}
	if err := m.Validate(); err != nil {
		return KindMessage, f, Message{}, err
	}
	return KindMessage, f, m, nil
}

// ---- Client frames ----

// AuthFrame is the first frame sent when the credential travels over the channel.
type AuthFrame struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// TextFrame sends a text message.
type TextFrame struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// MediaFrame sends a media message. Extra is encoded as null when absent.
type MediaFrame struct {
	Type     string          `json:"type"`
	MediaURL string          `json:"mediaUrl"`
	Extra    json.RawMessage `json:"extra"`
}

// ClientFrame is the server-side view of any client frame.
type ClientFrame struct {
	Type     string          `json:"type"`
	Token    string          `json:"token,omitempty"`
	Content  string          `json:"content,omitempty"`
	MediaURL string          `json:"mediaUrl,omitempty"`
	Extra    json.RawMessage `json:"extra,omitempty"`
}

// Validate performs structural validation of a client frame (server side).
func (f ClientFrame) Validate() error {
	switch strings.TrimSpace(f.Type) {
	case "":
		return errors.New("missing field: type")
	case TypeAuth:
		if strings.TrimSpace(f.Token) == "" {
			return errors.New("missing field: token")
		}
	case TypeText:
		if strings.TrimSpace(f.Content) == "" {
			return errors.New("missing field: content")
		}
	default:
		if strings.TrimSpace(f.MediaURL) == "" {
			return errors.New("missing field: mediaUrl")
		}
	}
	return nil
}

// ---- Server frames ----

// AuthResult answers an AuthFrame.
type AuthResult struct {
	Event  string `json:"event"`
	Status string `json:"status"`
}

// ReadNotice tells a user that the partner has read the listed messages.
type ReadNotice struct {
	Event      string  `json:"event"`
	ReaderID   int64   `json:"readerId"`
	PartnerID  int64   `json:"partnerId"`
	MessageIDs []int64 `json:"messageIds"`
}
