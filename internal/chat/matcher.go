package chat

import "time"

// DefaultMatchTolerance bounds how far apart a placeholder and its echo may
// be timestamped and still be paired.
const DefaultMatchTolerance = 5 * time.Second

// Outcome describes what Merge did with an incoming message.
type Outcome int

const (
	// Duplicate means a message with the same durable identity was already
	// present and the log is unchanged.
	Duplicate Outcome = iota
	// Merged means a placeholder was replaced in place.
	Merged
	// Appended means the message was added at the end of the log.
	Appended
	// Invalid means the message carried no identity and was dropped.
	Invalid
)

func (o Outcome) String() string {
	switch o {
	case Duplicate:
		return "duplicate"
	case Merged:
		return "merged"
	case Appended:
		return "appended"
	default:
		return "invalid"
	}
}

// Matcher reconciles authoritative messages with the placeholders created
// for local sends.
type Matcher struct {
	SelfID    string
	Tolerance time.Duration
}

// NewMatcher returns a Matcher for the given local user with the default
// tolerance window.
func NewMatcher(selfID string) Matcher {
	return Matcher{SelfID: selfID, Tolerance: DefaultMatchTolerance}
}

// Merge returns the log with in applied. The input slice is never modified.
//
// A message whose identity is already present is dropped. A message sent by
// the local user replaces the earliest placeholder it corresponds to: the
// one carrying the same correlation token if the server echoed it, else the
// first placeholder with equal content and type timestamped within the
// tolerance window. Anything else is appended.
func (mt Matcher) Merge(log []Message, in Message) ([]Message, Outcome) {
	if in.ID == "" {
		return log, Invalid
	}
	for _, m := range log {
		if m.ID == in.ID {
			return log, Duplicate
		}
	}

	if in.FromID == mt.SelfID {
		if idx := mt.findPlaceholder(log, in); idx >= 0 {
			out := make([]Message, len(log))
			copy(out, log)
			out[idx] = overlay(log[idx], in)
			return out, Merged
		}
	}

	out := make([]Message, len(log), len(log)+1)
	copy(out, log)
	if in.Status == "" {
		in.Status = StatusSent
	}
	return append(out, in), Appended
}

func (mt Matcher) findPlaceholder(log []Message, in Message) int {
	if in.ClientRef != "" {
		for i, m := range log {
			if m.pending() && m.ClientRef == in.ClientRef {
				return i
			}
		}
	}

	for i, m := range log {
		if m.pending() && mt.corresponds(m, in) {
			return i
		}
	}
	return -1
}

// Stored returns the index of the confirmed entry in log that already stands
// for the pending send p, or -1. Entries in taken are skipped so that one
// stored message accounts for at most one send.
func (mt Matcher) Stored(log []Message, p Message, taken map[string]bool) int {
	if !p.pending() {
		return -1
	}
	candidate := func(m Message) bool {
		return m.Status == StatusSent && m.FromID == mt.SelfID && !taken[m.ID]
	}
	if p.ClientRef != "" {
		for i, m := range log {
			if candidate(m) && m.ClientRef == p.ClientRef {
				return i
			}
		}
	}
	for i, m := range log {
		if candidate(m) && mt.corresponds(p, m) {
			return i
		}
	}
	return -1
}

// corresponds applies the content heuristic between a placeholder p and an
// authoritative message in.
func (mt Matcher) corresponds(p, in Message) bool {
	if p.Content != in.Content || p.Type != in.Type {
		return false
	}
	// A placeholder tagged for a different send is not a candidate.
	if in.ClientRef != "" && p.ClientRef != "" && p.ClientRef != in.ClientRef {
		return false
	}
	tolerance := mt.Tolerance
	if tolerance <= 0 {
		tolerance = DefaultMatchTolerance
	}
	return absDuration(p.Timestamp.Sub(in.Timestamp)) < tolerance
}

// overlay merges the authoritative fields of in onto the placeholder old.
// Fields the server left empty keep their local value.
func overlay(old, in Message) Message {
	m := old
	m.ID = in.ID
	if in.FromID != "" {
		m.FromID = in.FromID
	}
	if in.ToID != "" {
		m.ToID = in.ToID
	}
	if in.Content != "" {
		m.Content = in.Content
	}
	if in.Type != "" {
		m.Type = in.Type
	}
	if in.ImageURL != "" {
		m.ImageURL = in.ImageURL
	}
	if in.VoiceURL != "" {
		m.VoiceURL = in.VoiceURL
	}
	if in.LocalRef != "" {
		m.LocalRef = in.LocalRef
	}
	if in.VoiceDuration != 0 {
		m.VoiceDuration = in.VoiceDuration
	}
	if !in.Timestamp.IsZero() {
		m.Timestamp = in.Timestamp
	}
	if in.ClientRef != "" {
		m.ClientRef = in.ClientRef
	}
	m.IsRead = old.IsRead || in.IsRead
	m.IsRecalled = old.IsRecalled || in.IsRecalled
	m.DeletedBy = append([]Deletion(nil), old.DeletedBy...)
	for _, d := range in.DeletedBy {
		m.addDeletion(d.ActorID, d.DeletedAt)
	}
	m.Status = StatusSent
	return m
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
