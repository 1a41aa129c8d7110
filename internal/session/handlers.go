package session

import (
	"context"

	"github.com/whisper/chatsync/internal/chat"
	"github.com/whisper/chatsync/internal/metrics"
	"github.com/whisper/chatsync/internal/protocol"
)

// registerHandlers wires every inbound event type. All handlers run with
// c.mu held.
func (c *Controller) registerHandlers() {
	c.router.Register(protocol.TypeConnect, c.onConnect)
	c.router.Register(protocol.TypeReceiveMessage, c.onReceiveMessage)
	c.router.Register(protocol.TypeMessageSent, c.onMessageSent)
	c.router.Register(protocol.TypeMessageRecalled, c.onMessageRecalled)
	c.router.Register(protocol.TypeRecallError, c.onRecallError)
	c.router.Register(protocol.TypeMessageDeleted, c.onMessageDeleted)
	c.router.Register(protocol.TypeMessagesRead, c.onMessagesRead)
	c.router.Register(protocol.TypeUserTyping, c.onUserTyping)
	c.router.Register(protocol.TypeUserStopTyping, c.onUserStopTyping)
	c.router.Register(protocol.TypeNewFriendRequest, c.onNewFriendRequest)
	c.router.Register(protocol.TypeFriendRequestAccepted, c.onFriendRequestAccepted)
}

// onConnect re-announces presence and refreshes the directory. A reconnect
// may have landed on a server that knows nothing about this client.
func (c *Controller) onConnect(interface{}) {
	if err := c.emit(protocol.TypeJoin, protocol.JoinMsg{UserID: c.self}); err != nil {
		c.log.Warn().Err(err).Msg("Join not sent")
	}
	c.log.Info().Msg("Stream connected, refreshing")
	c.background(c.refreshQuietly)
}

func (c *Controller) onReceiveMessage(msg interface{}) {
	m, ok := msg.(protocol.ReceiveMessageMsg)
	if !ok {
		return
	}
	c.applyMessage(chat.FromWire(m.MessagePayload))
}

// onMessageSent handles the light confirmation of a local send. Missing
// fields are filled from what the client knows about its own sends.
func (c *Controller) onMessageSent(msg interface{}) {
	m, ok := msg.(protocol.MessageSentMsg)
	if !ok {
		return
	}
	in := chat.FromWire(m.MessagePayload)
	if in.FromID == "" {
		in.FromID = c.self
	}
	if m.ContentType == "" {
		in.Type = inferType(in.Content)
	}
	if in.ToID == "" {
		if ref, ok := c.sentRefs[in.ClientRef]; ok && in.ClientRef != "" {
			in.ToID = ref.peer
		} else {
			in.ToID = c.peer
		}
	}
	delete(c.sentRefs, in.ClientRef)
	c.applyMessage(in)
}

// inferType recovers the content type of a confirmation that omits it from
// the fixed media labels.
func inferType(content string) chat.ContentType {
	switch content {
	case chat.ImageLabel:
		return chat.TypeImage
	case chat.VoiceLabel:
		return chat.TypeVoice
	default:
		return chat.TypeText
	}
}

// applyMessage routes an authoritative message: into the log when it belongs
// to the open conversation, into the directory otherwise.
func (c *Controller) applyMessage(in chat.Message) {
	if in.ID == "" {
		metrics.MergeOutcomes.WithLabelValues(chat.Invalid.String()).Inc()
		c.log.Warn().Str("from", in.FromID).Msg("Dropping message without id")
		return
	}

	other := in.FromID
	if in.FromID == c.self {
		other = in.ToID
	}
	fromOther := in.FromID != c.self

	if c.peer == "" || !in.Involves(c.self, c.peer) {
		if c.dir.Bump(other, in.Preview(), in.Timestamp, fromOther) {
			c.changed(ChangeFriends)
		}
		return
	}

	if fromOther {
		c.guard.PeerMessage(in.FromID)
	}

	outcome := c.msgs.Merge(c.matcher, in)
	metrics.MergeOutcomes.WithLabelValues(outcome.String()).Inc()
	c.log.Debug().Str("id", in.ID).Str("outcome", outcome.String()).Msg("Message applied")
	if outcome == chat.Duplicate || outcome == chat.Invalid {
		return
	}

	c.changed(ChangeLog)
	if c.dir.Bump(c.peer, in.Preview(), in.Timestamp, false) {
		c.changed(ChangeFriends)
	}
	if fromOther {
		c.markRead()
	}
}

func (c *Controller) onMessageRecalled(msg interface{}) {
	m, ok := msg.(protocol.MessageRecalledMsg)
	if !ok {
		return
	}
	if c.msgs.Recall(m.MessageID) {
		c.changed(ChangeLog)
	}
}

// onRecallError reports the rejection. The local recall is kept.
func (c *Controller) onRecallError(msg interface{}) {
	m, ok := msg.(protocol.RecallErrorMsg)
	if !ok {
		return
	}
	text := "Recall was rejected"
	if m.Error != "" {
		text += ": " + m.Error
	}
	c.notify(KindRecallRejected, text, nil)
}

func (c *Controller) onMessageDeleted(msg interface{}) {
	m, ok := msg.(protocol.MessageDeletedMsg)
	if !ok || m.UserID == "" {
		return
	}
	at := m.DeletedAt
	if at.IsZero() {
		at = c.now()
	}
	if c.msgs.MarkDeleted(m.MessageID, m.UserID, at) {
		c.changed(ChangeLog)
	}
}

func (c *Controller) onMessagesRead(msg interface{}) {
	m, ok := msg.(protocol.MessagesReadMsg)
	if !ok || m.ReaderID == "" || m.ReaderID != c.peer {
		return
	}
	if c.msgs.MarkReadFrom(c.self) > 0 {
		c.changed(ChangeLog)
	}
}

func (c *Controller) onUserTyping(msg interface{}) {
	if m, ok := msg.(protocol.UserTypingMsg); ok {
		c.guard.PeerTypingReceived(m.UserID)
	}
}

func (c *Controller) onUserStopTyping(msg interface{}) {
	if m, ok := msg.(protocol.UserTypingMsg); ok {
		c.guard.PeerStopped(m.UserID)
	}
}

func (c *Controller) onNewFriendRequest(msg interface{}) {
	m, ok := msg.(protocol.NewFriendRequestMsg)
	if !ok {
		return
	}
	c.notify(KindFriendRequest, "New friend request from "+m.FromID, nil)
	c.background(c.refreshQuietly)
}

func (c *Controller) onFriendRequestAccepted(msg interface{}) {
	m, ok := msg.(protocol.FriendRequestAcceptedMsg)
	if !ok {
		return
	}
	c.notify(KindFriendAccepted, m.UserID+" accepted your friend request", nil)
	c.background(c.refreshQuietly)
}

func (c *Controller) refreshQuietly(ctx context.Context) {
	_ = c.Refresh(ctx)
}
