package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	v1 "github.com/Coding-Lml/love-space/shared/contracts/chat/v1"

	"github.com/coder/websocket"
)

// Conn abstracts the websocket so the Manager can be tested without a server.
// *websocket.Conn satisfies this interface.
type Conn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
	SetReadLimit(n int64)
}

// DialFunc opens a transport. The response may be non-nil on failure (handshake rejected).
type DialFunc func(ctx context.Context, rawURL string, opts *websocket.DialOptions) (Conn, *http.Response, error)

// DialWebSocket dials with coder/websocket.
func DialWebSocket(ctx context.Context, rawURL string, opts *websocket.DialOptions) (Conn, *http.Response, error) {
	c, resp, err := websocket.Dial(ctx, rawURL, opts)
	if err != nil {
		return nil, resp, redactErr(err)
	}
	return c, resp, nil
}

// AuthMode selects how the credential reaches the server.
type AuthMode string

const (
	// AuthFrame sends {"type":"auth","token":...} as the first frame and waits for the result.
	AuthFrame AuthMode = "frame"
	// AuthQuery appends ?token= to the endpoint; an open transport is already authenticated.
	AuthQuery AuthMode = "query"
)

// ParseAuthMode accepts "frame" and "query" (case-insensitive). Empty means AuthFrame.
func ParseAuthMode(s string) (AuthMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(AuthFrame):
		return AuthFrame, nil
	case string(AuthQuery):
		return AuthQuery, nil
	default:
		return "", fmt.Errorf("invalid auth mode %q (want frame|query)", s)
	}
}

// EndpointURL derives the websocket endpoint from the service base URL.
// http becomes ws and https becomes wss. The token is only attached in AuthQuery mode.
func EndpointURL(base string, mode AuthMode, token string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("base url has no host")
	}

	u.Path = strings.TrimRight(u.Path, "/") + v1.Path
	u.RawPath = ""
	u.Fragment = ""

	q := url.Values{}
	if mode == AuthQuery && token != "" {
		q.Set(v1.TokenQueryParam, token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// redactURL drops the query so tokens never reach logs.
func redactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	u.RawQuery = ""
	return u.String()
}

// redactErr strips the query from any *url.Error in err's chain. Dial errors
// embed the request URL, which carries the token in AuthQuery mode.
func redactErr(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		ue.URL = redactURL(ue.URL)
	}
	return err
}

// CloseInfo describes how a transport ended.
type CloseInfo struct {
	Code     int    `json:"code"`
	Reason   string `json:"reason"`
	WasClean bool   `json:"wasClean"`
}

const reasonSocketError = "socket error"

// transportError is the close recorded for anything that is not a close frame.
var transportError = CloseInfo{
	Code:     int(websocket.StatusAbnormalClosure),
	Reason:   reasonSocketError,
	WasClean: false,
}

// closeInfoFromErr normalizes a read error into a CloseInfo.
func closeInfoFromErr(err error) CloseInfo {
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		return CloseInfo{Code: int(ce.Code), Reason: ce.Reason, WasClean: true}
	}
	return transportError
}

// closeInfoFromDial maps a failed dial. A 401 handshake response is an unauthorized close.
func closeInfoFromDial(status int) CloseInfo {
	if status == http.StatusUnauthorized {
		return CloseInfo{
			Code:     int(websocket.StatusPolicyViolation),
			Reason:   v1.CloseReasonUnauthorized,
			WasClean: false,
		}
	}
	return transportError
}
