// Package token issues and verifies the opaque bearer tokens handed out at login.
//
// A token is base64url(claims JSON) "." base64url(HMAC-SHA256(claims, key)).
// Clients never look inside it.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/Coding-Lml/love-space/cmd/identity/ids"
)

const (
	// HMACEnvKey is the env var name for the signing secret.
	// #nosec G101 -- not a credential; it's an environment variable name.
	HMACEnvKey = "LOVECHAT_DEV_TOKEN_KEY"

	// MinKeyBytes is the minimum accepted secret length.
	MinKeyBytes = 32
)

var (
	ErrHMACKeyMissing  = errors.New("token HMAC key missing")
	ErrHMACKeyTooShort = errors.New("token HMAC key too short")
	ErrInvalidToken    = errors.New("invalid token")
	ErrExpiredToken    = errors.New("token expired")
)

var b64 = base64.RawURLEncoding

// Claims is the signed payload.
type Claims struct {
	UserID    int64  `json:"uid"`
	SessionID string `json:"sid"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

// Signer issues and verifies tokens with one key.
type Signer struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewSigner validates key length. A zero ttl means tokens never expire.
func NewSigner(key []byte, ttl time.Duration) (*Signer, error) {
	if len(key) == 0 {
		return nil, ErrHMACKeyMissing
	}
	if len(key) < MinKeyBytes {
		return nil, ErrHMACKeyTooShort
	}
	return &Signer{key: append([]byte(nil), key...), ttl: ttl, now: time.Now}, nil
}

// HMACKeyFromEnv returns the trimmed secret, enforcing minBytes.
func HMACKeyFromEnv(minBytes int) ([]byte, error) {
	raw := strings.TrimSpace(os.Getenv(HMACEnvKey))
	if raw == "" {
		return nil, ErrHMACKeyMissing
	}
	if minBytes > 0 && len(raw) < minBytes {
		return nil, ErrHMACKeyTooShort
	}
	return []byte(raw), nil
}

// Issue mints a token for userID with a fresh session id.
func (s *Signer) Issue(userID int64) (string, Claims, error) {
	now := s.now().UTC()
	sid, err := ids.NewULID(now)
	if err != nil {
		return "", Claims{}, err
	}
	c := Claims{UserID: userID, SessionID: sid, IssuedAt: now.Unix()}
	if s.ttl > 0 {
		c.ExpiresAt = now.Add(s.ttl).Unix()
	}

	payload, err := json.Marshal(c)
	if err != nil {
		return "", Claims{}, err
	}
	body := b64.EncodeToString(payload)
	return body + "." + b64.EncodeToString(s.mac(body)), c, nil
}

// Verify checks the signature and expiry and returns the claims.
func (s *Signer) Verify(tok string) (Claims, error) {
	body, sig, ok := strings.Cut(strings.TrimSpace(tok), ".")
	if !ok || body == "" || sig == "" {
		return Claims{}, ErrInvalidToken
	}
	got, err := b64.DecodeString(sig)
	if err != nil || !hmac.Equal(got, s.mac(body)) {
		return Claims{}, ErrInvalidToken
	}

	payload, err := b64.DecodeString(body)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	var c Claims
	if err := json.Unmarshal(payload, &c); err != nil || c.UserID <= 0 {
		return Claims{}, ErrInvalidToken
	}
	if c.ExpiresAt > 0 && !s.now().Before(time.Unix(c.ExpiresAt, 0)) {
		return Claims{}, ErrExpiredToken
	}
	return c, nil
}

func (s *Signer) mac(body string) []byte {
	m := hmac.New(sha256.New, s.key)
	_, _ = m.Write([]byte(body))
	return m.Sum(nil)
}

// Fingerprint is a short HMAC digest of tok, safe to log.
func (s *Signer) Fingerprint(tok string) string {
	return hex.EncodeToString(s.mac(tok))[:12]
}
