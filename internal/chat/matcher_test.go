package chat

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func placeholder(id, content string, ts time.Time) Message {
	return Message{
		ID:        id,
		FromID:    "me",
		ToID:      "peer",
		Content:   content,
		Type:      TypeText,
		Timestamp: ts,
		Status:    StatusSending,
	}
}

func echo(id, content string, ts time.Time) Message {
	return Message{
		ID:        id,
		FromID:    "me",
		ToID:      "peer",
		Content:   content,
		Type:      TypeText,
		Timestamp: ts,
		Status:    StatusSent,
	}
}

func TestMerge_ReplacesPlaceholderInPlace(t *testing.T) {
	mt := NewMatcher("me")
	log := []Message{
		echo("msg_0000000000000001", "earlier", t0.Add(-time.Minute)),
		placeholder("x7f3a2b1c", "hi", t0),
		echo("msg_0000000000000002", "later", t0.Add(time.Second)),
	}

	out, outcome := mt.Merge(log, echo("msg_abc123def456", "hi", t0.Add(200*time.Millisecond)))

	require.Equal(t, Merged, outcome)
	require.Len(t, out, 3)
	assert.Equal(t, "msg_abc123def456", out[1].ID)
	assert.Equal(t, StatusSent, out[1].Status)
	assert.Equal(t, "msg_0000000000000001", out[0].ID)
	assert.Equal(t, "msg_0000000000000002", out[2].ID)

	// The input log is untouched.
	assert.Equal(t, "x7f3a2b1c", log[1].ID)
	assert.Equal(t, StatusSending, log[1].Status)
}

func TestMerge_SendScenario(t *testing.T) {
	mt := NewMatcher("me")
	id := NewPlaceholderID()
	require.Len(t, id, 9)

	log := []Message{placeholder(id, "hi", t0)}
	out, _ := mt.Merge(log, echo("msg_abc123def456", "hi", t0.Add(200*time.Millisecond)))

	require.Len(t, out, 1)
	assert.Equal(t, "msg_abc123def456", out[0].ID)
	assert.Equal(t, StatusSent, out[0].Status)
}

func TestMerge_Idempotent(t *testing.T) {
	mt := NewMatcher("me")
	in := echo("msg_abc123def456", "hi", t0)

	once, outcome := mt.Merge(nil, in)
	require.Equal(t, Appended, outcome)
	require.Len(t, once, 1)

	twice, outcome := mt.Merge(once, in)
	assert.Equal(t, Duplicate, outcome)
	assert.Len(t, twice, 1)
}

func TestMerge_OutsideToleranceAppends(t *testing.T) {
	mt := NewMatcher("me")

	cases := []struct {
		name  string
		delta time.Duration
		want  Outcome
	}{
		{"just inside", 4999 * time.Millisecond, Merged},
		{"at boundary", 5000 * time.Millisecond, Appended},
		{"beyond", 9 * time.Second, Appended},
		{"echo older than placeholder", -4 * time.Second, Merged},
		{"echo far older", -6 * time.Second, Appended},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			log := []Message{placeholder("x1", "hi", t0)}
			out, outcome := mt.Merge(log, echo("msg_abc123def456", "hi", t0.Add(tc.delta)))
			assert.Equal(t, tc.want, outcome)
			if tc.want == Appended {
				assert.Len(t, out, 2)
				assert.Equal(t, "x1", out[0].ID)
			} else {
				assert.Len(t, out, 1)
			}
		})
	}
}

func TestMerge_MismatchAppends(t *testing.T) {
	mt := NewMatcher("me")
	log := []Message{placeholder("x1", "hi", t0)}

	out, outcome := mt.Merge(log, echo("msg_abc123def456", "hello", t0))
	assert.Equal(t, Appended, outcome)
	assert.Len(t, out, 2)

	img := echo("msg_abc123def457", "hi", t0)
	img.Type = TypeImage
	out, outcome = mt.Merge(log, img)
	assert.Equal(t, Appended, outcome)
	assert.Len(t, out, 2)
}

func TestMerge_PeerMessageNeverConsumesPlaceholder(t *testing.T) {
	mt := NewMatcher("me")
	log := []Message{placeholder("x1", "hi", t0)}

	in := echo("msg_abc123def456", "hi", t0)
	in.FromID = "peer"
	in.ToID = "me"

	out, outcome := mt.Merge(log, in)
	assert.Equal(t, Appended, outcome)
	require.Len(t, out, 2)
	assert.Equal(t, "x1", out[0].ID)
}

func TestMerge_RapidIdenticalSendsAreFIFO(t *testing.T) {
	mt := NewMatcher("me")
	log := []Message{
		placeholder("x1", "ok", t0),
		placeholder("x2", "ok", t0.Add(100*time.Millisecond)),
	}

	log, outcome := mt.Merge(log, echo("msg_first_0000000001", "ok", t0.Add(300*time.Millisecond)))
	require.Equal(t, Merged, outcome)
	assert.Equal(t, "msg_first_0000000001", log[0].ID)
	assert.Equal(t, "x2", log[1].ID)

	// Re-delivery of the first echo does not consume the second placeholder.
	log, outcome = mt.Merge(log, echo("msg_first_0000000001", "ok", t0.Add(300*time.Millisecond)))
	require.Equal(t, Duplicate, outcome)
	assert.Equal(t, "x2", log[1].ID)

	log, outcome = mt.Merge(log, echo("msg_second_000000002", "ok", t0.Add(400*time.Millisecond)))
	require.Equal(t, Merged, outcome)
	assert.Equal(t, "msg_second_000000002", log[1].ID)
	assert.Len(t, log, 2)
}

func TestMerge_ClientRefPairsWithoutHeuristic(t *testing.T) {
	mt := NewMatcher("me")
	first := placeholder("x1", "ok", t0)
	first.ClientRef = "ref-1"
	second := placeholder("x2", "ok", t0)
	second.ClientRef = "ref-2"
	log := []Message{first, second}

	in := echo("msg_abc123def456", "ok", t0.Add(time.Minute))
	in.ClientRef = "ref-2"

	out, outcome := mt.Merge(log, in)
	require.Equal(t, Merged, outcome)
	assert.Equal(t, "x1", out[0].ID)
	assert.Equal(t, "msg_abc123def456", out[1].ID)
}

func TestMerge_KeepsLocalOnlyFields(t *testing.T) {
	mt := NewMatcher("me")
	p := placeholder("x1", ImageLabel, t0)
	p.Type = TypeImage
	p.LocalRef = "file:///tmp/preview.png"

	in := echo("msg_abc123def456", ImageLabel, t0.Add(time.Second))
	in.Type = TypeImage
	in.ImageURL = "https://cdn.example.com/a.png"

	out, outcome := mt.Merge([]Message{p}, in)
	require.Equal(t, Merged, outcome)
	assert.Equal(t, "file:///tmp/preview.png", out[0].LocalRef)
	assert.Equal(t, "https://cdn.example.com/a.png", out[0].ImageURL)
	assert.Equal(t, TypeImage, out[0].Type)
}

func TestMerge_MissingIdentityIsDropped(t *testing.T) {
	mt := NewMatcher("me")
	log := []Message{placeholder("x1", "hi", t0)}
	out, outcome := mt.Merge(log, echo("", "hi", t0))
	assert.Equal(t, Invalid, outcome)
	assert.Len(t, out, 1)
}

func TestMerge_DurableEntriesAreNotCandidates(t *testing.T) {
	mt := NewMatcher("me")
	log := []Message{echo("msg_0000000000000001", "hi", t0)}

	out, outcome := mt.Merge(log, echo("msg_0000000000000002", "hi", t0))
	assert.Equal(t, Appended, outcome)
	assert.Len(t, out, 2)
}

func TestMerge_ManyPlaceholders(t *testing.T) {
	mt := NewMatcher("me")
	var log []Message
	for i := 0; i < 10; i++ {
		log = append(log, placeholder(fmt.Sprintf("x%d", i), fmt.Sprintf("m%d", i), t0))
	}
	for i := 9; i >= 0; i-- {
		var outcome Outcome
		log, outcome = mt.Merge(log, echo(fmt.Sprintf("msg_%016d", i), fmt.Sprintf("m%d", i), t0))
		require.Equal(t, Merged, outcome)
	}
	require.Len(t, log, 10)
	for i, m := range log {
		assert.Equal(t, fmt.Sprintf("msg_%016d", i), m.ID)
		assert.Equal(t, StatusSent, m.Status)
	}
}

func TestMerge_FailedSendIsNotACandidate(t *testing.T) {
	mt := NewMatcher("me")
	failed := placeholder("x1", "hi", t0)
	failed.Status = StatusError
	retry := placeholder("x2", "hi", t0.Add(time.Second))
	log := []Message{failed, retry}

	out, outcome := mt.Merge(log, echo("663a1f0e9b1e8a3d4c5b6a79", "hi", t0.Add(time.Second)))
	require.Equal(t, Merged, outcome)
	require.Len(t, out, 2)
	assert.Equal(t, "x1", out[0].ID)
	assert.Equal(t, StatusError, out[0].Status)
	assert.Equal(t, "663a1f0e9b1e8a3d4c5b6a79", out[1].ID)
	assert.Equal(t, StatusSent, out[1].Status)

	// Not even a matching correlation token revives a failed send.
	failed.ClientRef = "ref-1"
	in := echo("663a1f0e9b1e8a3d4c5b6a80", "hi", t0)
	in.ClientRef = "ref-1"
	out, outcome = mt.Merge([]Message{failed}, in)
	assert.Equal(t, Appended, outcome)
	assert.Equal(t, StatusError, out[0].Status)
}

func TestStored(t *testing.T) {
	mt := NewMatcher("me")
	stored := echo("663a1f0e9b1e8a3d4c5b6a79", "hi", t0.Add(time.Second))
	theirs := echo("663a1f0e9b1e8a3d4c5b6a78", "hi", t0)
	theirs.FromID, theirs.ToID = "peer", "me"
	log := []Message{theirs, stored}

	assert.Equal(t, 1, mt.Stored(log, placeholder("x1", "hi", t0), nil))
	assert.Equal(t, -1, mt.Stored(log, placeholder("x1", "hi", t0), map[string]bool{stored.ID: true}))
	assert.Equal(t, -1, mt.Stored(log, placeholder("x1", "hello", t0), nil))
	assert.Equal(t, -1, mt.Stored(log, placeholder("x1", "hi", t0.Add(time.Minute)), nil))

	failed := placeholder("x1", "hi", t0)
	failed.Status = StatusError
	assert.Equal(t, -1, mt.Stored(log, failed, nil))

	tagged := placeholder("x1", "other", t0.Add(time.Hour))
	tagged.ClientRef = "ref-1"
	log[1].ClientRef = "ref-1"
	assert.Equal(t, 1, mt.Stored(log, tagged, nil), "the token wins over content and time")
}
