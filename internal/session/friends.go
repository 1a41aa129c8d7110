package session

import (
	"slices"
	"time"

	"github.com/whisper/chatsync/internal/api"
)

// Directory caches the friend list and pending requests. The server is
// authoritative; local edits (unread reset, last-message bump) are optimistic
// and are overwritten by the next refresh.
type Directory struct {
	friends  []api.Friend
	requests []api.FriendRequest
}

// ReplaceFriends installs a freshly fetched friend list.
func (d *Directory) ReplaceFriends(friends []api.Friend) {
	d.friends = slices.Clone(friends)
}

// ReplaceRequests installs a freshly fetched list of pending requests.
func (d *Directory) ReplaceRequests(reqs []api.FriendRequest) {
	d.requests = slices.Clone(reqs)
}

// Friends returns the friend list, most recent conversation first.
func (d *Directory) Friends() []api.Friend {
	out := slices.Clone(d.friends)
	slices.SortStableFunc(out, func(a, b api.Friend) int {
		return b.LastAt.Compare(a.LastAt)
	})
	return out
}

// Requests returns the pending friend requests.
func (d *Directory) Requests() []api.FriendRequest {
	return slices.Clone(d.requests)
}

// Friend returns the entry for id.
func (d *Directory) Friend(id string) (api.Friend, bool) {
	if i := d.index(id); i >= 0 {
		return d.friends[i], true
	}
	return api.Friend{}, false
}

// ResetUnread zeroes the unread counter for id. It reports whether anything
// changed.
func (d *Directory) ResetUnread(id string) bool {
	i := d.index(id)
	if i < 0 || d.friends[i].UnreadCount == 0 {
		return false
	}
	d.friends[i].UnreadCount = 0
	return true
}

// Bump records a new message in the conversation with id. unread increments
// the counter. Unknown friends are ignored until the next refresh adds them.
func (d *Directory) Bump(id, preview string, at time.Time, unread bool) bool {
	i := d.index(id)
	if i < 0 {
		return false
	}
	f := &d.friends[i]
	f.LastMessage = preview
	if at.After(f.LastAt) {
		f.LastAt = at
	}
	if unread {
		f.UnreadCount++
	}
	return true
}

// UnreadTotal sums the unread counters.
func (d *Directory) UnreadTotal() int {
	n := 0
	for _, f := range d.friends {
		n += f.UnreadCount
	}
	return n
}

// Clear drops everything, as on logout.
func (d *Directory) Clear() {
	d.friends = nil
	d.requests = nil
}

func (d *Directory) index(id string) int {
	for i := range d.friends {
		if d.friends[i].ID == id {
			return i
		}
	}
	return -1
}
