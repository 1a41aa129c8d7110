// Package protocol defines the event types and payloads exchanged with the
// chat server over the bidirectional event stream. Every frame is a JSON
// object carrying a "type" discriminator next to the payload fields.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// ---------------------------------------------------------------------------
// Event type constants
// ---------------------------------------------------------------------------

// Client -> Server event types.
const (
	TypeJoin          = "join"
	TypeSendMessage   = "sendMessage"
	TypeTyping        = "typing"
	TypeStopTyping    = "stopTyping"
	TypeMarkAsRead    = "markAsRead"
	TypeRecallMessage = "recallMessage"
	TypeDeleteMessage = "deleteMessage"
)

// Server -> Client event types.
const (
	TypeReceiveMessage        = "receiveMessage"
	TypeMessageSent           = "messageSent"
	TypeMessageRecalled       = "messageRecalled"
	TypeRecallError           = "recallError"
	TypeMessageDeleted        = "messageDeleted"
	TypeMessagesRead          = "messagesRead"
	TypeUserTyping            = "userTyping"
	TypeUserStopTyping        = "userStopTyping"
	TypeNewFriendRequest      = "newFriendRequest"
	TypeFriendRequestAccepted = "friendRequestAccepted"
)

// TypeConnect is not sent on the wire. Transports dispatch it locally every
// time the stream (re)connects.
const TypeConnect = "connect"

// Message content types.
const (
	ContentText  = "text"
	ContentImage = "image"
	ContentVoice = "voice"
)

// ---------------------------------------------------------------------------
// Envelope: used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the event type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Shared payloads
// ---------------------------------------------------------------------------

// MessagePayload is a message as the server describes it. The full form is
// delivered by receiveMessage; messageSent may carry only id, content and
// timestamp.
type MessagePayload struct {
	Type          string    `json:"type,omitempty"`
	ID            string    `json:"id"`
	FromID        string    `json:"fromId,omitempty"`
	ToID          string    `json:"toId,omitempty"`
	Content       string    `json:"content"`
	ContentType   string    `json:"messageType,omitempty"`
	ImageURL      string    `json:"imageUrl,omitempty"`
	VoiceURL      string    `json:"voiceUrl,omitempty"`
	VoiceDuration int       `json:"voiceDuration,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	IsRead        bool      `json:"isRead,omitempty"`
	IsRecalled    bool      `json:"isRecalled,omitempty"`
	DeletedBy     []Deleted `json:"deletedBy,omitempty"`
	ClientRef     string    `json:"clientRef,omitempty"`
}

// Deleted records one participant hiding a message from their own view.
type Deleted struct {
	UserID    string    `json:"userId"`
	DeletedAt time.Time `json:"deletedAt"`
}

// ---------------------------------------------------------------------------
// Client -> Server payloads
// ---------------------------------------------------------------------------

// JoinMsg announces the user's presence on a fresh connection.
type JoinMsg struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

// SendMessageMsg submits a new message. ClientRef is echoed back by servers
// that support correlation and lets the client pair the echo without
// heuristics.
type SendMessageMsg struct {
	Type          string    `json:"type"`
	FromID        string    `json:"fromId"`
	ToID          string    `json:"toId"`
	Content       string    `json:"content"`
	ContentType   string    `json:"messageType"`
	ImageURL      string    `json:"imageUrl,omitempty"`
	VoiceURL      string    `json:"voiceUrl,omitempty"`
	VoiceDuration int       `json:"voiceDuration,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	ClientRef     string    `json:"clientRef,omitempty"`
}

// TypingMsg is used for both typing and stopTyping.
type TypingMsg struct {
	Type   string `json:"type"`
	FromID string `json:"fromId"`
	ToID   string `json:"toId"`
}

// MarkAsReadMsg tells the server that UserID has read everything FriendID
// sent them.
type MarkAsReadMsg struct {
	Type     string `json:"type"`
	UserID   string `json:"userId"`
	FriendID string `json:"friendId"`
}

// RecallMessageMsg asks the server to recall a message for all participants.
type RecallMessageMsg struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
}

// DeleteMessageMsg hides a message from UserID's view.
type DeleteMessageMsg struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
}

// ---------------------------------------------------------------------------
// Server -> Client payloads
// ---------------------------------------------------------------------------

// ReceiveMessageMsg delivers a message to a participant.
type ReceiveMessageMsg struct {
	MessagePayload
}

// MessageSentMsg confirms a message the client submitted.
type MessageSentMsg struct {
	MessagePayload
}

// MessageRecalledMsg reports that a message was recalled.
type MessageRecalledMsg struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
}

// RecallErrorMsg reports that the server rejected a recall.
type RecallErrorMsg struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
	Error     string `json:"error"`
}

// MessageDeletedMsg reports that UserID hid a message from their view.
type MessageDeletedMsg struct {
	Type      string    `json:"type"`
	MessageID string    `json:"messageId"`
	UserID    string    `json:"userId"`
	DeletedAt time.Time `json:"deletedAt"`
}

// MessagesReadMsg reports that ReaderID has read the messages sent to them.
type MessagesReadMsg struct {
	Type     string `json:"type"`
	ReaderID string `json:"readerId"`
}

// UserTypingMsg relays a peer's typing or stopTyping signal.
type UserTypingMsg struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

// NewFriendRequestMsg announces an incoming friend request.
type NewFriendRequestMsg struct {
	Type   string `json:"type"`
	FromID string `json:"fromId"`
}

// FriendRequestAcceptedMsg announces that a sent friend request was accepted.
type FriendRequestAcceptedMsg struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

// ConnectMsg is the locally dispatched connect event.
type ConnectMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseServerEvent parses a raw frame into a typed server event. It returns
// the event type, the decoded struct and any error encountered during
// parsing. An error is returned for unknown or client-only event types.
func ParseServerEvent(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse event: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeConnect:
		msg = ConnectMsg{Type: TypeConnect}
	case TypeReceiveMessage:
		var m ReceiveMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMessageSent:
		var m MessageSentMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMessageRecalled:
		var m MessageRecalledMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeRecallError:
		var m RecallErrorMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMessageDeleted:
		var m MessageDeletedMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMessagesRead:
		var m MessagesReadMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeUserTyping, TypeUserStopTyping:
		var m UserTypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeNewFriendRequest:
		var m NewFriendRequestMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeFriendRequestAccepted:
		var m FriendRequestAcceptedMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown server event type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewClientEvent creates a JSON-encoded frame for a client event. The
// eventType is injected into the payload under the "type" key.
func NewClientEvent(eventType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = eventType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal client event: %w", err)
	}
	return out, nil
}

// ConnectFrame is the frame transports hand to the dispatcher after every
// successful (re)connect.
func ConnectFrame() []byte {
	return []byte(`{"type":"` + TypeConnect + `"}`)
}
