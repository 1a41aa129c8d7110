package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/whisper/chatsync/internal/api"
	"github.com/whisper/chatsync/internal/chat"
	"github.com/whisper/chatsync/internal/metrics"
	"github.com/whisper/chatsync/internal/protocol"
	"github.com/whisper/chatsync/internal/ratelimit"
)

// SelectConversation opens the conversation with peer. The previous peer
// gets a final stopTyping, the log is cleared and the newest page of history
// is loaded. An empty peer closes the open conversation. If another
// conversation is selected before the history arrives, the response is
// discarded and ErrStale returned.
func (c *Controller) SelectConversation(ctx context.Context, peer string) error {
	c.lock()
	if c.closed {
		c.unlock()
		return ErrClosed
	}
	c.guard.Activate(peer)
	c.gen++
	gen := c.gen
	c.peer = peer
	c.msgs.Reset()
	c.loading = peer != ""
	ch := ChangeConversation | ChangeLog | ChangeLoading | ChangeTyping
	if peer != "" && c.dir.ResetUnread(peer) {
		ch |= ChangeFriends
	}
	c.changed(ch)
	c.log.Info().Str("peer", peer).Msg("Conversation selected")
	c.unlock()

	if peer == "" {
		return nil
	}

	history, err := c.api.History(ctx, c.self, peer, c.config.HistoryLimit)

	c.lock()
	defer c.unlock()
	if gen != c.gen {
		metrics.StaleResponses.Inc()
		c.log.Debug().Str("peer", peer).Msg("Discarding stale history")
		return ErrStale
	}
	c.loading = false
	c.changed(ChangeLoading)
	if err != nil {
		c.notify(KindHistoryFailed, "Could not load messages", err)
		return fmt.Errorf("session: load history: %w", err)
	}

	loaded := make([]chat.Message, 0, len(history))
	for _, p := range history {
		m := chat.FromWire(p)
		if m.ID == "" || !m.Involves(c.self, peer) {
			continue
		}
		loaded = append(loaded, m)
	}

	// Entries sent or received while the page was in flight go on top of it.
	arrived := c.msgs.Messages()
	c.msgs.Replace(loaded)
	for _, m := range c.msgs.Reapply(c.matcher, arrived) {
		delete(c.sentRefs, m.ClientRef)
	}
	c.changed(ChangeLog)
	c.markRead()
	return nil
}

// Input reports the current content of the compose field.
func (c *Controller) Input(text string) {
	c.lock()
	defer c.unlock()
	if c.closed {
		return
	}
	c.guard.Input(text)
}

// SendText sends a text message to the open conversation. The message is
// shown at once with a placeholder identity; a failed send marks it error
// and is not retried.
func (c *Controller) SendText(text string) error {
	c.lock()
	defer c.unlock()
	if err := c.checkOpen(); err != nil {
		return err
	}
	m := c.newOutgoing(chat.TypeText, text)
	if err := m.Validate(); err != nil {
		c.notify(KindInvalid, err.Error(), err)
		return fmt.Errorf("session: %w", err)
	}

	c.guard.Stop()
	c.msgs.Append(m)
	c.changed(ChangeLog)
	return c.dispatchSend(m)
}

// SendImage uploads an image and sends it to the open conversation.
func (c *Controller) SendImage(ctx context.Context, name string, data []byte) error {
	return c.sendMedia(ctx, chat.TypeImage, name, data, 0)
}

// SendVoice uploads a voice recording of the given length and sends it to
// the open conversation.
func (c *Controller) SendVoice(ctx context.Context, name string, data []byte, seconds int) error {
	return c.sendMedia(ctx, chat.TypeVoice, name, data, seconds)
}

func (c *Controller) sendMedia(ctx context.Context, t chat.ContentType, name string, data []byte, seconds int) error {
	kind, label := api.KindImage, chat.ImageLabel
	if t == chat.TypeVoice {
		kind, label = api.KindVoice, chat.VoiceLabel
	}

	c.lock()
	if err := c.checkOpen(); err != nil {
		c.unlock()
		return err
	}
	m := c.newOutgoing(t, label)
	m.LocalRef = name
	m.VoiceDuration = seconds
	if err := m.Validate(); err != nil {
		c.notify(KindInvalid, err.Error(), err)
		c.unlock()
		return fmt.Errorf("session: %w", err)
	}
	if _, _, err := api.DetectMedia(kind, data); err != nil {
		c.notify(KindInvalid, "Unsupported file", err)
		c.unlock()
		return fmt.Errorf("session: %w", err)
	}

	c.guard.Stop()
	c.msgs.Append(m)
	c.changed(ChangeLog)
	gen := c.gen
	c.unlock()

	url, err := c.api.Upload(ctx, c.self, kind, name, data)

	c.lock()
	defer c.unlock()
	if c.closed {
		return ErrClosed
	}
	if err != nil {
		c.fail(m.ID)
		c.notify(KindUploadFailed, "Upload failed", err)
		return fmt.Errorf("session: upload: %w", err)
	}

	if t == chat.TypeImage {
		m.ImageURL = url
	} else {
		m.VoiceURL = url
	}
	if gen == c.gen {
		c.msgs.Update(m.ID, func(e *chat.Message) {
			e.ImageURL = m.ImageURL
			e.VoiceURL = m.VoiceURL
		})
		c.changed(ChangeLog)
	} else {
		// The message still goes out; only the log it was shown in is gone.
		metrics.StaleResponses.Inc()
	}
	return c.dispatchSend(m)
}

// Recall asks the server to recall one of the user's messages for everyone.
// Messages still carrying a placeholder identity are rejected locally
// without any network call. The local entry is marked recalled at once and
// is not restored if the server rejects the recall.
func (c *Controller) Recall(messageID string) error {
	c.lock()
	defer c.unlock()
	if err := c.checkOpen(); err != nil {
		return err
	}
	m, err := c.durable(messageID)
	if err != nil {
		return err
	}
	if m.FromID != c.self {
		c.notify(KindInvalid, "You can only recall your own messages", ErrNotOwner)
		return ErrNotOwner
	}
	if m.IsRecalled {
		return chat.ErrRecalled
	}

	if err := c.emit(protocol.TypeRecallMessage, protocol.RecallMessageMsg{MessageID: m.ID, UserID: c.self}); err != nil {
		c.notify(KindSendFailed, "Recall could not be sent", err)
		return fmt.Errorf("session: recall: %w", err)
	}
	if c.msgs.Recall(m.ID) {
		c.changed(ChangeLog)
	}
	return nil
}

// Delete hides a message from the user's own view. Other participants keep
// seeing it.
func (c *Controller) Delete(messageID string) error {
	c.lock()
	defer c.unlock()
	if err := c.checkOpen(); err != nil {
		return err
	}
	m, err := c.durable(messageID)
	if err != nil {
		return err
	}
	if m.DeletedFor(c.self) {
		return nil
	}

	if err := c.emit(protocol.TypeDeleteMessage, protocol.DeleteMessageMsg{MessageID: m.ID, UserID: c.self}); err != nil {
		c.notify(KindSendFailed, "Delete could not be sent", err)
		return fmt.Errorf("session: delete: %w", err)
	}
	if c.msgs.MarkDeleted(m.ID, c.self, c.now()) {
		c.changed(ChangeLog)
	}
	return nil
}

// Refresh reloads the friend list and pending requests.
func (c *Controller) Refresh(ctx context.Context) error {
	friends, ferr := c.api.Friends(ctx, c.self)
	reqs, rerr := c.api.PendingRequests(ctx, c.self)

	c.lock()
	defer c.unlock()
	if c.closed {
		return ErrClosed
	}
	if ferr == nil {
		c.dir.ReplaceFriends(friends)
		c.changed(ChangeFriends)
	}
	if rerr == nil {
		c.dir.ReplaceRequests(reqs)
		c.changed(ChangeRequests)
	}
	if err := firstErr(ferr, rerr); err != nil {
		c.notify(KindRefreshFailed, "Could not refresh friends", err)
		return fmt.Errorf("session: refresh: %w", err)
	}
	return nil
}

// Search looks up users by name.
func (c *Controller) Search(ctx context.Context, query string) ([]api.User, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	users, err := c.api.SearchUsers(ctx, c.self, query)
	if err != nil {
		c.lock()
		c.notify(KindSearchFailed, "Search failed", err)
		c.unlock()
		return nil, fmt.Errorf("session: search: %w", err)
	}
	return users, nil
}

// SendFriendRequest asks toID to become a friend.
func (c *Controller) SendFriendRequest(ctx context.Context, toID string) error {
	if err := c.api.SendFriendRequest(ctx, c.self, toID); err != nil {
		c.lock()
		c.notify(KindRequestFailed, "Friend request failed", err)
		c.unlock()
		return fmt.Errorf("session: friend request: %w", err)
	}
	return c.Refresh(ctx)
}

// RespondFriendRequest accepts or rejects a pending request.
func (c *Controller) RespondFriendRequest(ctx context.Context, requestID string, accept bool) error {
	if err := c.api.RespondFriendRequest(ctx, requestID, accept); err != nil {
		c.lock()
		c.notify(KindRequestFailed, "Could not answer friend request", err)
		c.unlock()
		return fmt.Errorf("session: respond to request: %w", err)
	}
	return c.Refresh(ctx)
}

// ---------------------------------------------------------------------------
// Helpers (caller holds c.mu)
// ---------------------------------------------------------------------------

func (c *Controller) checkOpen() error {
	if c.closed {
		return ErrClosed
	}
	if c.peer == "" {
		return ErrNoConversation
	}
	return nil
}

// durable returns the log entry for id if it carries a server identity.
func (c *Controller) durable(id string) (chat.Message, error) {
	m, ok := c.msgs.Get(id)
	if (ok && m.AwaitingConfirmation()) || (!ok && chat.IsPlaceholderID(id)) {
		c.notify(KindStillSyncing, "Message is still syncing, try again in a moment", chat.ErrStillSyncing)
		return chat.Message{}, chat.ErrStillSyncing
	}
	if !ok {
		return chat.Message{}, chat.ErrNotFound
	}
	return m, nil
}

func (c *Controller) newOutgoing(t chat.ContentType, content string) chat.Message {
	return chat.Message{
		ID:        chat.NewPlaceholderID(),
		FromID:    c.self,
		ToID:      c.peer,
		Content:   content,
		Type:      t,
		Timestamp: c.now(),
		Status:    chat.StatusSending,
		ClientRef: chat.NewClientRef(),
	}
}

// dispatchSend emits sendMessage for m, or marks it error.
func (c *Controller) dispatchSend(m chat.Message) error {
	if !c.limiter.Allow(ratelimit.RuleSend) {
		c.fail(m.ID)
		c.notify(KindRateLimited, "You are sending messages too fast", ErrRateLimited)
		return ErrRateLimited
	}

	c.pruneRefs()
	c.sentRefs[m.ClientRef] = sentRef{peer: m.ToID, at: c.now()}
	if err := c.emit(protocol.TypeSendMessage, m.SendEvent()); err != nil {
		delete(c.sentRefs, m.ClientRef)
		c.fail(m.ID)
		c.notify(KindSendFailed, "Message could not be sent", err)
		return fmt.Errorf("session: send: %w", err)
	}
	if c.dir.Bump(m.ToID, m.Preview(), m.Timestamp, false) {
		c.changed(ChangeFriends)
	}
	return nil
}

// sentRef remembers where an unconfirmed send went.
type sentRef struct {
	peer string
	at   time.Time
}

// sentRefTTL bounds how long a send is remembered without a confirmation.
const sentRefTTL = time.Minute

func (c *Controller) pruneRefs() {
	now := c.now()
	for ref, s := range c.sentRefs {
		if now.Sub(s.at) > sentRefTTL {
			delete(c.sentRefs, ref)
		}
	}
}

func (c *Controller) fail(id string) {
	if c.msgs.SetStatus(id, chat.StatusError) {
		c.changed(ChangeLog)
	}
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
