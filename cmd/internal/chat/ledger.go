package chat

import (
	"slices"
	"sort"

	v1 "github.com/Coding-Lml/love-space/shared/contracts/chat/v1"
)

// Ledger is the ordered, deduplicated set of chat messages held by a Manager.
//
// Invariants:
//   - at most one entry per message id
//   - entries ordered by id ascending
//
// A Ledger is not safe for concurrent use; the Manager loop owns it.
type Ledger struct {
	msgs   []v1.Message
	ids    map[int64]struct{}
	unread int

	selfID func() int64
	gate   *ActivityGate
}

// NewLedger builds an empty ledger. selfID returns the local user id (0 when unknown);
// gate decides whether live messages count as unread. Both may be nil.
func NewLedger(selfID func() int64, gate *ActivityGate) *Ledger {
	return &Ledger{
		ids:    make(map[int64]struct{}),
		selfID: selfID,
		gate:   gate,
	}
}

// Append inserts a live message. Duplicates are ignored and reported as false.
func (l *Ledger) Append(m v1.Message) bool {
	if m.ID <= 0 {
		return false
	}
	if _, ok := l.ids[m.ID]; ok {
		return false
	}

	i := sort.Search(len(l.msgs), func(i int) bool { return l.msgs[i].ID > m.ID })
	l.msgs = slices.Insert(l.msgs, i, m)
	l.ids[m.ID] = struct{}{}

	if l.addressedToSelf(m) && (l.gate == nil || !l.gate.Active()) {
		l.unread++
	}
	return true
}

func (l *Ledger) addressedToSelf(m v1.Message) bool {
	if l.selfID == nil {
		return false
	}
	self := l.selfID()
	return self != 0 && m.ToUserID == self
}

// MergeHistory merges a batch of older messages. Known ids are skipped.
// It returns how many entries were added and whether the batch was empty,
// which callers treat as end-of-history.
func (l *Ledger) MergeHistory(batch []v1.Message) (added int, empty bool) {
	if len(batch) == 0 {
		return 0, true
	}

	fresh := make([]v1.Message, 0, len(batch))
	for _, m := range batch {
		if m.ID <= 0 {
			continue
		}
		if _, ok := l.ids[m.ID]; ok {
			continue
		}
		l.ids[m.ID] = struct{}{}
		fresh = append(fresh, m)
	}
	if len(fresh) == 0 {
		return 0, false
	}

	sort.Slice(fresh, func(i, j int) bool { return fresh[i].ID < fresh[j].ID })
	l.msgs = mergeByID(fresh, l.msgs)
	return len(fresh), false
}

// mergeByID merges two id-ascending slices with disjoint ids.
func mergeByID(a, b []v1.Message) []v1.Message {
	out := make([]v1.Message, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i].ID < b[j].ID {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	return append(out, b[j:]...)
}

// ApplyRead marks the listed messages read. Ids not held are ignored.
// It returns how many entries changed status.
func (l *Ledger) ApplyRead(ids []int64) int {
	changed := 0
	for _, id := range ids {
		if _, ok := l.ids[id]; !ok {
			continue
		}
		i, found := slices.BinarySearchFunc(l.msgs, id, func(m v1.Message, id int64) int {
			switch {
			case m.ID < id:
				return -1
			case m.ID > id:
				return 1
			default:
				return 0
			}
		})
		if !found || l.msgs[i].Status == v1.StatusRead {
			continue
		}
		l.msgs[i].Status = v1.StatusRead
		changed++
	}
	return changed
}

// OldestID returns the smallest held id, or 0 for an empty ledger.
func (l *Ledger) OldestID() int64 {
	if len(l.msgs) == 0 {
		return 0
	}
	return l.msgs[0].ID
}

// Len returns the number of held messages.
func (l *Ledger) Len() int { return len(l.msgs) }

// Messages returns a copy of the held messages in id order.
func (l *Ledger) Messages() []v1.Message { return slices.Clone(l.msgs) }

// Unread returns the unread counter.
func (l *Ledger) Unread() int { return l.unread }

// ClearUnread zeroes the unread counter.
func (l *Ledger) ClearUnread() { l.unread = 0 }

// Reset drops every message and the unread counter.
func (l *Ledger) Reset() {
	l.msgs = nil
	l.ids = make(map[int64]struct{})
	l.unread = 0
}
