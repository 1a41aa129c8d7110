package session

import (
	"github.com/whisper/chatsync/internal/metrics"
)

// Notice kinds.
const (
	KindStillSyncing   = "still_syncing"
	KindInvalid        = "invalid"
	KindRateLimited    = "rate_limited"
	KindSendFailed     = "send_failed"
	KindUploadFailed   = "upload_failed"
	KindHistoryFailed  = "history_failed"
	KindRecallRejected = "recall_rejected"
	KindRefreshFailed  = "refresh_failed"
	KindRequestFailed  = "request_failed"
	KindSearchFailed   = "search_failed"
	KindFriendRequest  = "friend_request"
	KindFriendAccepted = "friend_accepted"
)

// Notice is a transient user-visible message.
type Notice struct {
	Kind string
	Text string
	Err  error
}

// Change flags which part of the controller state changed.
type Change uint8

const (
	ChangeLog Change = 1 << iota
	ChangeTyping
	ChangeFriends
	ChangeRequests
	ChangeLoading
	ChangeConversation
)

// Has reports whether flag is set.
func (c Change) Has(flag Change) bool { return c&flag != 0 }

// Listener observes the controller. Callbacks run after the controller has
// released its lock, so they may read controller state.
type Listener interface {
	Notice(n Notice)
	Changed(c Change)
}

// NopListener ignores everything.
type NopListener struct{}

func (NopListener) Notice(Notice)  {}
func (NopListener) Changed(Change) {}

// notify queues n for delivery once the lock is released. Caller holds c.mu.
func (c *Controller) notify(kind, text string, err error) {
	metrics.Notices.WithLabelValues(kind).Inc()
	n := Notice{Kind: kind, Text: text, Err: err}
	ev := c.log.Debug()
	if err != nil {
		ev = c.log.Warn().Err(err)
	}
	ev.Str("kind", kind).Msg(text)
	c.outbox = append(c.outbox, func() { c.listener.Notice(n) })
}

// changed queues a change notification. Caller holds c.mu.
func (c *Controller) changed(ch Change) {
	c.pending |= ch
}
