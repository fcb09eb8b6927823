package devserver

import (
	"cmp"
	"context"
	"slices"
	"sync"

	v1 "github.com/Coding-Lml/love-space/shared/contracts/chat/v1"
)

const memMaxMessages = 10_000

// InMemoryStore is the default store when no database is configured.
type InMemoryStore struct {
	mu     sync.Mutex
	nextID int64
	msgs   []v1.Message // ordered by id
}

// NewInMemoryStore constructs an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{msgs: make([]v1.Message, 0, 256)}
}

// Close is a no-op.
func (s *InMemoryStore) Close() error { return nil }

// Append stores a message with the next id and status "sent".
func (s *InMemoryStore) Append(ctx context.Context, in AppendInput) (v1.Message, error) {
	if err := in.validate(); err != nil {
		return v1.Message{}, err
	}
	if err := ctx.Err(); err != nil {
		return v1.Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	m := v1.Message{
		ID:         s.nextID,
		FromUserID: in.FromUserID,
		ToUserID:   in.ToUserID,
		Type:       in.Type,
		Content:    in.Content,
		MediaURL:   in.MediaURL,
		Extra:      slices.Clone(in.Extra),
		Status:     v1.StatusSent,
		CreatedAt:  formatCreatedAt(in.Now),
	}
	s.msgs = append(s.msgs, m)

	if len(s.msgs) > memMaxMessages {
		s.msgs = slices.Delete(s.msgs, 0, len(s.msgs)-memMaxMessages)
	}
	return m, nil
}

// History walks backwards from BeforeID and returns the page in ascending order.
func (s *InMemoryStore) History(ctx context.Context, q HistoryQuery) ([]v1.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit := q.limit()

	s.mu.Lock()
	defer s.mu.Unlock()

	end := len(s.msgs)
	if q.BeforeID > 0 {
		end, _ = slices.BinarySearchFunc(s.msgs, q.BeforeID, func(m v1.Message, id int64) int {
			return cmp.Compare(m.ID, id)
		})
	}

	out := make([]v1.Message, 0, limit)
	for i := end - 1; i >= 0 && len(out) < limit; i-- {
		if between(s.msgs[i], q.UserID, q.PartnerID) {
			out = append(out, s.msgs[i])
		}
	}
	slices.Reverse(out)
	return out, nil
}

// MarkRead flips unread messages addressed to readerID.
func (s *InMemoryStore) MarkRead(ctx context.Context, readerID, partnerID int64) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []int64
	for i := range s.msgs {
		m := &s.msgs[i]
		if m.ToUserID == readerID && m.FromUserID == partnerID && m.Status == v1.StatusSent {
			m.Status = v1.StatusRead
			ids = append(ids, m.ID)
		}
	}
	return ids, nil
}

func between(m v1.Message, a, b int64) bool {
	return (m.FromUserID == a && m.ToUserID == b) || (m.FromUserID == b && m.ToUserID == a)
}
