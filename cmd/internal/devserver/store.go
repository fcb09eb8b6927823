package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	v1 "github.com/Coding-Lml/love-space/shared/contracts/chat/v1"
)

// createdAtLayout matches the server's local timestamp format (no zone).
const createdAtLayout = "2006-01-02T15:04:05"

// ErrInvalidInput is returned for appends that cannot be stored.
var ErrInvalidInput = errors.New("devserver: invalid input")

// MessageStore persists and queries the couple's messages.
//
// Requirements:
//   - ids are allocated by the store, strictly increasing
//   - History returns the newest page older than BeforeID, ordered by id ASC
//   - MarkRead flips every "sent" message from partner to reader and returns their ids
type MessageStore interface {
	Append(ctx context.Context, in AppendInput) (v1.Message, error)
	History(ctx context.Context, q HistoryQuery) ([]v1.Message, error)
	MarkRead(ctx context.Context, readerID, partnerID int64) ([]int64, error)
	Close() error
}

// AppendInput describes one message to store.
type AppendInput struct {
	FromUserID int64
	ToUserID   int64
	Type       string
	Content    string
	MediaURL   string
	Extra      json.RawMessage
	Now        time.Time
}

func (in AppendInput) validate() error {
	if in.FromUserID <= 0 || in.ToUserID <= 0 || in.Type == "" {
		return ErrInvalidInput
	}
	return nil
}

// HistoryQuery selects the page of the conversation between UserID and PartnerID.
type HistoryQuery struct {
	UserID    int64
	PartnerID int64
	BeforeID  int64 // 0 = newest
	Size      int
}

func (q HistoryQuery) limit() int {
	switch {
	case q.Size <= 0:
		return v1.DefaultHistorySize
	case q.Size > v1.MaxHistorySize:
		return v1.MaxHistorySize
	default:
		return q.Size
	}
}

func formatCreatedAt(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.Format(createdAtLayout)
}
