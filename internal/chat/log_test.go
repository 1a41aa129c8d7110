package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLog_ReplaceOrdersOldestFirst(t *testing.T) {
	l := NewLog()
	l.Replace([]Message{
		echo("msg_0000000000000003", "c", t0.Add(2*time.Second)),
		echo("msg_0000000000000001", "a", t0),
		echo("msg_0000000000000002", "b", t0.Add(time.Second)),
	})

	msgs := l.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "a", msgs[0].Content)
	assert.Equal(t, "b", msgs[1].Content)
	assert.Equal(t, "c", msgs[2].Content)

	last, ok := l.Last()
	require.True(t, ok)
	assert.Equal(t, "c", last.Content)
}

func TestLog_MessagesIsACopy(t *testing.T) {
	l := NewLog()
	l.Append(echo("msg_0000000000000001", "a", t0))

	msgs := l.Messages()
	msgs[0].Content = "mutated"

	got, ok := l.Get("msg_0000000000000001")
	require.True(t, ok)
	assert.Equal(t, "a", got.Content)
}

func TestLog_RecallIsTerminal(t *testing.T) {
	l := NewLog()
	l.Append(echo("msg_0000000000000001", "secret", t0))

	assert.True(t, l.Recall("msg_0000000000000001"))
	assert.False(t, l.Recall("msg_0000000000000001"), "second recall is a no-op")

	// A late re-delivery of the original message cannot resurrect it.
	outcome := l.Merge(NewMatcher("me"), echo("msg_0000000000000001", "secret", t0))
	assert.Equal(t, Duplicate, outcome)

	got, _ := l.Get("msg_0000000000000001")
	assert.True(t, got.IsRecalled)

	visible := l.Visible("me")
	require.Len(t, visible, 1)
	assert.Empty(t, visible[0].Content)
	assert.Equal(t, "msg_0000000000000001", visible[0].ID)
}

func TestLog_RecallUnknown(t *testing.T) {
	l := NewLog()
	assert.False(t, l.Recall("msg_0000000000000404"))
}

func TestLog_PerViewerDelete(t *testing.T) {
	l := NewLog()
	l.Append(echo("msg_0000000000000001", "hello", t0))
	l.Append(echo("msg_0000000000000002", "world", t0.Add(time.Second)))

	assert.True(t, l.MarkDeleted("msg_0000000000000001", "me", t0))
	assert.False(t, l.MarkDeleted("msg_0000000000000001", "me", t0.Add(time.Minute)), "one entry per actor")

	mine := l.Visible("me")
	require.Len(t, mine, 1)
	assert.Equal(t, "msg_0000000000000002", mine[0].ID)

	theirs := l.Visible("peer")
	require.Len(t, theirs, 2)
	assert.Equal(t, "hello", theirs[0].Content)

	got, _ := l.Get("msg_0000000000000001")
	require.Len(t, got.DeletedBy, 1)
	assert.Equal(t, t0, got.DeletedBy[0].DeletedAt)

	assert.True(t, l.MarkDeleted("msg_0000000000000001", "peer", t0))
	assert.Len(t, l.Visible("peer"), 1)
	assert.Equal(t, 2, l.Len(), "deleted entries stay in the log")
}

func TestLog_MarkReadFrom(t *testing.T) {
	l := NewLog()
	l.Append(echo("msg_0000000000000001", "mine", t0))
	theirs := echo("msg_0000000000000002", "theirs", t0)
	theirs.FromID, theirs.ToID = "peer", "me"
	l.Append(theirs)
	l.Append(placeholder("x1", "pending", t0))

	assert.Equal(t, 2, l.MarkReadFrom("me"))
	assert.Equal(t, 0, l.MarkReadFrom("me"))

	got, _ := l.Get("msg_0000000000000002")
	assert.False(t, got.IsRead)
}

func TestLog_SetStatusOnlyFromSending(t *testing.T) {
	l := NewLog()
	l.Append(placeholder("x1", "hi", t0))
	l.Append(echo("msg_0000000000000001", "done", t0))

	assert.True(t, l.SetStatus("x1", StatusError))
	assert.False(t, l.SetStatus("x1", StatusSent))
	assert.False(t, l.SetStatus("msg_0000000000000001", StatusError))

	got, _ := l.Get("x1")
	assert.Equal(t, StatusError, got.Status)
}

func TestLog_Reset(t *testing.T) {
	l := NewLog()
	l.Append(echo("msg_0000000000000001", "a", t0))
	l.Reset()
	assert.Equal(t, 0, l.Len())
	_, ok := l.Last()
	assert.False(t, ok)
}

func TestLog_ReapplyFoldsStoredSends(t *testing.T) {
	l := NewLog()
	l.Replace([]Message{
		echo("663a1f0e9b1e8a3d4c5b6a79", "ok", t0.Add(time.Second)),
	})

	first := placeholder("x1", "ok", t0)
	first.LocalRef = "draft-1"
	second := placeholder("x2", "ok", t0.Add(100*time.Millisecond))
	incoming := echo("663a1f0e9b1e8a3d4c5b6a7a", "later", t0.Add(2*time.Second))
	incoming.FromID, incoming.ToID = "peer", "me"

	folded := l.Reapply(NewMatcher("me"), []Message{first, second, incoming})
	require.Len(t, folded, 1)
	assert.Equal(t, "x1", folded[0].ID)

	msgs := l.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "663a1f0e9b1e8a3d4c5b6a79", msgs[0].ID)
	assert.Equal(t, StatusSent, msgs[0].Status)
	assert.Equal(t, "draft-1", msgs[0].LocalRef, "local-only fields survive the fold")

	// One stored copy accounts for one send; the second still waits.
	assert.Equal(t, "x2", msgs[1].ID)
	assert.Equal(t, StatusSending, msgs[1].Status)
	assert.Equal(t, "663a1f0e9b1e8a3d4c5b6a7a", msgs[2].ID)

	// The echo of the folded send is now a duplicate.
	assert.Equal(t, Duplicate, l.Merge(NewMatcher("me"), echo("663a1f0e9b1e8a3d4c5b6a79", "ok", t0)))
}
