// Package chat holds the client-side message model for the open
// conversation: message records, placeholder identities, the optimistic
// matcher that reconciles local sends with server echoes, and the ordered
// message log those records live in.
package chat

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/whisper/chatsync/internal/protocol"
)

// ContentType is the kind of payload a message carries.
type ContentType string

const (
	TypeText  ContentType = protocol.ContentText
	TypeImage ContentType = protocol.ContentImage
	TypeVoice ContentType = protocol.ContentVoice
)

// Status is the client-local delivery status of a message.
type Status string

const (
	StatusSending Status = "sending"
	StatusSent    Status = "sent"
	StatusError   Status = "error"
)

// Media messages carry a fixed label as content so that a placeholder and
// its echo compare equal.
const (
	ImageLabel = "[Image]"
	VoiceLabel = "[Voice]"
)

// PlaceholderMaxLen is the length from which an identity is considered
// durable. Placeholder identities are always shorter.
const PlaceholderMaxLen = 20

var (
	// ErrStillSyncing is returned for operations that need a durable
	// identity while the message still carries its placeholder.
	ErrStillSyncing = errors.New("chat: message is still syncing")

	// ErrRecalled is returned for content-bearing operations on a recalled
	// message.
	ErrRecalled = errors.New("chat: message was recalled")

	// ErrNotFound is returned when no message in the log has the given id.
	ErrNotFound = errors.New("chat: message not found")
)

// Deletion records one participant hiding a message from their own view.
type Deletion struct {
	ActorID   string
	DeletedAt time.Time
}

// Message is a single entry of the message log.
type Message struct {
	ID            string
	FromID        string
	ToID          string
	Content       string
	Type          ContentType
	ImageURL      string
	VoiceURL      string
	LocalRef      string // local preview, never sent to the server
	VoiceDuration int    // seconds
	Timestamp     time.Time
	Status        Status
	IsRead        bool
	IsRecalled    bool
	DeletedBy     []Deletion
	ClientRef     string
}

// IsPlaceholderID reports whether id is a client-generated placeholder
// rather than a server-assigned identity.
func IsPlaceholderID(id string) bool {
	return len(id) < PlaceholderMaxLen
}

// NewPlaceholderID returns a short client-side identity for a message that
// has not been confirmed by the server yet.
func NewPlaceholderID() string {
	return "x" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// NewClientRef returns a correlation token attached to an outbound send.
func NewClientRef() string {
	return uuid.NewString()
}

// IsPlaceholder reports whether the message still carries its placeholder
// identity.
func (m Message) IsPlaceholder() bool {
	return IsPlaceholderID(m.ID)
}

// AwaitingConfirmation reports whether the message is a local send the
// server has not confirmed yet. Only such entries may be paired with an echo
// and none of them may be recalled or deleted.
func (m Message) AwaitingConfirmation() bool {
	return m.IsPlaceholder() && m.Status != StatusSent
}

// pending reports whether the message was handed to the transport and still
// waits for its echo. Failed sends never reached the server and are not
// pending.
func (m Message) pending() bool {
	return m.IsPlaceholder() && m.Status == StatusSending
}

// Involves reports whether the message belongs to the conversation between
// a and b.
func (m Message) Involves(a, b string) bool {
	return (m.FromID == a && m.ToID == b) || (m.FromID == b && m.ToID == a)
}

// DeletedFor reports whether viewer has hidden the message.
func (m Message) DeletedFor(viewer string) bool {
	for _, d := range m.DeletedBy {
		if d.ActorID == viewer {
			return true
		}
	}
	return false
}

// Display returns the message as it may be rendered. Recalled messages keep
// their identity and metadata but lose every content field.
func (m Message) Display() Message {
	if !m.IsRecalled {
		return m
	}
	m.Content = ""
	m.ImageURL = ""
	m.VoiceURL = ""
	m.LocalRef = ""
	m.VoiceDuration = 0
	return m
}

// Preview is the one-line summary shown in a friend list.
func (m Message) Preview() string {
	switch {
	case m.IsRecalled:
		return "[Recalled]"
	case m.Type == TypeImage:
		return ImageLabel
	case m.Type == TypeVoice:
		return VoiceLabel
	default:
		return m.Content
	}
}

// addDeletion appends actor to DeletedBy once. It reports whether the set
// changed.
func (m *Message) addDeletion(actor string, at time.Time) bool {
	if actor == "" || m.DeletedFor(actor) {
		return false
	}
	m.DeletedBy = append(m.DeletedBy, Deletion{ActorID: actor, DeletedAt: at})
	return true
}

// FromWire converts a server payload into a log entry. A missing content
// type means text, and anything the server describes has been sent.
func FromWire(p protocol.MessagePayload) Message {
	m := Message{
		ID:            p.ID,
		FromID:        p.FromID,
		ToID:          p.ToID,
		Content:       p.Content,
		Type:          ContentType(p.ContentType),
		ImageURL:      p.ImageURL,
		VoiceURL:      p.VoiceURL,
		VoiceDuration: p.VoiceDuration,
		Timestamp:     p.Timestamp,
		Status:        StatusSent,
		IsRead:        p.IsRead,
		IsRecalled:    p.IsRecalled,
		ClientRef:     p.ClientRef,
	}
	if m.Type == "" {
		m.Type = TypeText
	}
	for _, d := range p.DeletedBy {
		m.addDeletion(d.UserID, d.DeletedAt)
	}
	return m
}

// SendEvent builds the outbound sendMessage payload for m.
func (m Message) SendEvent() protocol.SendMessageMsg {
	return protocol.SendMessageMsg{
		FromID:        m.FromID,
		ToID:          m.ToID,
		Content:       m.Content,
		ContentType:   string(m.Type),
		ImageURL:      m.ImageURL,
		VoiceURL:      m.VoiceURL,
		VoiceDuration: m.VoiceDuration,
		Timestamp:     m.Timestamp,
		ClientRef:     m.ClientRef,
	}
}
