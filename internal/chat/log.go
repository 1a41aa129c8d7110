package chat

import (
	"slices"
	"time"
)

// Log is the ordered message history of the open conversation. Entries are
// appended or replaced in place and never removed; Reset empties the log on
// conversation switch.
//
// Log is not goroutine-safe. The session controller confines it to its
// event loop.
type Log struct {
	messages []Message
}

// NewLog creates an empty Log.
func NewLog() *Log {
	return &Log{}
}

// Len returns the number of entries.
func (l *Log) Len() int {
	return len(l.messages)
}

// Messages returns a copy of the entries in log order.
func (l *Log) Messages() []Message {
	out := make([]Message, len(l.messages))
	copy(out, l.messages)
	return out
}

// Append adds m at the end of the log.
func (l *Log) Append(m Message) {
	l.messages = append(l.messages, m)
}

// Replace swaps the whole content of the log for msgs, ordered oldest first.
func (l *Log) Replace(msgs []Message) {
	sorted := make([]Message, len(msgs))
	copy(sorted, msgs)
	slices.SortStableFunc(sorted, func(a, b Message) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	l.messages = sorted
}

// Reset empties the log.
func (l *Log) Reset() {
	l.messages = nil
}

// Merge applies an authoritative message through mt.
func (l *Log) Merge(mt Matcher, in Message) Outcome {
	out, outcome := mt.Merge(l.messages, in)
	l.messages = out
	return outcome
}

// Reapply merges entries that were shown while the log content was being
// replaced. A pending send whose stored copy is already in the replaced
// content is folded into that copy instead of being re-added. The folded
// sends are returned.
func (l *Log) Reapply(mt Matcher, arrived []Message) []Message {
	base := l.messages
	taken := make(map[string]bool)
	var folded []Message
	for _, m := range arrived {
		if i := mt.Stored(base, m, taken); i >= 0 {
			stored := l.messages[i]
			taken[stored.ID] = true
			l.messages[i] = overlay(m, stored)
			folded = append(folded, m)
			continue
		}
		l.Merge(mt, m)
	}
	return folded
}

// Get returns the entry with the given id.
func (l *Log) Get(id string) (Message, bool) {
	if i := l.index(id); i >= 0 {
		return l.messages[i], true
	}
	return Message{}, false
}

// Last returns the newest entry.
func (l *Log) Last() (Message, bool) {
	if len(l.messages) == 0 {
		return Message{}, false
	}
	return l.messages[len(l.messages)-1], true
}

// Update applies fn to the entry with the given id. It reports whether the
// entry exists. fn must not change the identity.
func (l *Log) Update(id string, fn func(m *Message)) bool {
	i := l.index(id)
	if i < 0 {
		return false
	}
	fn(&l.messages[i])
	l.messages[i].ID = id
	return true
}

// SetStatus updates the delivery status of a message. Only messages that
// are still sending can change status this way.
func (l *Log) SetStatus(id string, status Status) bool {
	i := l.index(id)
	if i < 0 || l.messages[i].Status != StatusSending {
		return false
	}
	l.messages[i].Status = status
	return true
}

// Recall marks a message recalled. Recall is terminal: nothing clears the
// flag afterwards. It reports whether the entry changed.
func (l *Log) Recall(id string) bool {
	i := l.index(id)
	if i < 0 || l.messages[i].IsRecalled {
		return false
	}
	l.messages[i].IsRecalled = true
	return true
}

// MarkDeleted records that actor hid the message. It reports whether the
// entry changed.
func (l *Log) MarkDeleted(id, actor string, at time.Time) bool {
	i := l.index(id)
	if i < 0 {
		return false
	}
	return l.messages[i].addDeletion(actor, at)
}

// MarkReadFrom marks every entry sent by sender as read and returns how
// many entries changed.
func (l *Log) MarkReadFrom(sender string) int {
	n := 0
	for i := range l.messages {
		if l.messages[i].FromID == sender && !l.messages[i].IsRead {
			l.messages[i].IsRead = true
			n++
		}
	}
	return n
}

// Visible returns the entries viewer may see, in log order, with recalled
// entries stripped of their content.
func (l *Log) Visible(viewer string) []Message {
	out := make([]Message, 0, len(l.messages))
	for _, m := range l.messages {
		if m.DeletedFor(viewer) {
			continue
		}
		out = append(out, m.Display())
	}
	return out
}

func (l *Log) index(id string) int {
	for i := range l.messages {
		if l.messages[i].ID == id {
			return i
		}
	}
	return -1
}
