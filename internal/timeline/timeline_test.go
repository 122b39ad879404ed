package timeline

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/blogchat/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	me   = &model.User{ID: "me", Username: "me"}
	them = &model.User{ID: "u2", Username: "alice"}
)

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func msg(id, conv string, at time.Time) *model.Message {
	return &model.Message{ID: id, ConversationID: conv, Text: id, Sender: them, CreatedAt: at}
}

func ids(tl *Timeline) []string {
	var out []string
	for _, m := range tl.Messages() {
		out = append(out, m.ID)
	}
	return out
}

func TestOptimisticSendThenConfirm(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	tl := New("me", WithClock(fixedClock(now)), WithLocation(time.UTC))
	tl.Load("X", nil)

	tempID, err := tl.AppendOptimistic(Draft{Text: "hello", Sender: me, Recipient: them})
	require.NoError(t, err)
	assert.True(t, model.IsTempID(tempID))

	msgs := tl.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Text)
	assert.True(t, msgs[0].IsPending)

	ok := tl.Reconcile(tempID, &model.Message{ID: "m1", ConversationID: "X", Text: "hello", Sender: me, CreatedAt: now})
	require.True(t, ok)

	msgs = tl.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.False(t, msgs[0].IsPending)
}

func TestReconcileKeepsPosition(t *testing.T) {
	base := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	tl := New("me", WithClock(fixedClock(base.Add(time.Hour))))
	tl.Load("X", []*model.Message{msg("a", "X", base)})

	t1, _ := tl.AppendOptimistic(Draft{Text: "one", Sender: me})
	t2, _ := tl.AppendOptimistic(Draft{Text: "two", Sender: me})
	require.NotEqual(t, t1, t2)

	require.True(t, tl.Reconcile(t1, &model.Message{ID: "m1", ConversationID: "X", CreatedAt: base.Add(2 * time.Hour)}))
	assert.Equal(t, []string{"a", "m1", t2}, ids(tl))
}

func TestNoDuplicatePendingAcrossSequences(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	tl := New("me", WithClock(fixedClock(now)))
	tl.Load("X", nil)

	var temps []string
	for i := 0; i < 10; i++ {
		id, err := tl.AppendOptimistic(Draft{Text: fmt.Sprint(i), Sender: me})
		require.NoError(t, err)
		temps = append(temps, id)
	}
	for i, id := range temps {
		switch i % 3 {
		case 0:
			tl.Reconcile(id, &model.Message{ID: fmt.Sprintf("m%d", i), ConversationID: "X", CreatedAt: now})
		case 1:
			tl.Rollback(id)
		}
		if i%3 != 2 {
			assert.False(t, tl.Reconcile(id, &model.Message{ID: "again", ConversationID: "X"}), "second reconcile is a no-op")
		}
	}

	counts := map[string]int{}
	for _, m := range tl.Messages() {
		counts[m.ID]++
	}
	for id, n := range counts {
		assert.Equal(t, 1, n, "id %s appears %d times", id, n)
	}
	assert.Len(t, tl.Pending(), 3)
}

func TestEchoBeforeResponse(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	tl := New("me", WithClock(fixedClock(now)))
	tl.Load("X", nil)
	tempID, _ := tl.AppendOptimistic(Draft{Text: "hi", Sender: me})

	echo := &model.Message{ID: "m1", ClientMessageID: tempID, ConversationID: "X", Text: "hi", Sender: me, CreatedAt: now}
	require.True(t, tl.AppendIncoming(echo))
	assert.Equal(t, []string{"m1"}, ids(tl))

	// the REST response arrives afterwards: temp id is gone, nothing changes
	assert.False(t, tl.Reconcile(tempID, echo))
	assert.False(t, tl.AppendIncoming(echo), "duplicate id ignored")
	assert.Equal(t, []string{"m1"}, ids(tl))
}

func TestEchoWithoutCorrelationThenResponse(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	tl := New("me", WithClock(fixedClock(now)))
	tl.Load("X", nil)
	tempID, _ := tl.AppendOptimistic(Draft{Text: "hi", Sender: me})

	echo := &model.Message{ID: "m1", ConversationID: "X", Text: "hi", Sender: me, CreatedAt: now}
	require.True(t, tl.AppendIncoming(echo))
	require.True(t, tl.Reconcile(tempID, echo))
	assert.Equal(t, []string{"m1"}, ids(tl))
}

func TestAppendIncomingScopedToConversation(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	tl := New("me")
	tl.Load("A", []*model.Message{msg("a1", "A", now)})

	assert.False(t, tl.AppendIncoming(msg("b1", "B", now.Add(time.Minute))))
	assert.Equal(t, []string{"a1"}, ids(tl))

	assert.True(t, tl.AppendIncoming(msg("a0", "A", now.Add(-time.Minute))))
	assert.Equal(t, []string{"a0", "a1"}, ids(tl), "ordered by createdAt")
}

func TestAppendOptimisticWithoutConversation(t *testing.T) {
	tl := New("me")
	_, err := tl.AppendOptimistic(Draft{Text: "x"})
	assert.ErrorIs(t, err, ErrNoConversation)
}

func TestLoadSortsAndDiscardsPending(t *testing.T) {
	base := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	tl := New("me", WithClock(fixedClock(base)))
	tl.Load("A", nil)
	_, _ = tl.AppendOptimistic(Draft{Text: "pending"})

	tl.Load("B", []*model.Message{msg("b2", "B", base.Add(time.Minute)), msg("b1", "B", base), msg("b1", "B", base)})
	assert.Equal(t, []string{"b1", "b2"}, ids(tl))
	assert.Empty(t, tl.Pending())
	assert.Equal(t, "B", tl.ConversationID())
}

func TestMergeKeepsWritesFromDuringFetch(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	tl := New("me", WithClock(fixedClock(now)), WithLocation(time.UTC))
	tl.Load("X", nil)

	first, err := tl.AppendOptimistic(Draft{Text: "one", Sender: me, Recipient: them})
	require.NoError(t, err)
	sent := &model.Message{ID: "m1", ClientMessageID: first, ConversationID: "X", Text: "one", Sender: me, CreatedAt: now}
	require.True(t, tl.Reconcile(first, sent))
	second, err := tl.AppendOptimistic(Draft{Text: "two", Sender: me, Recipient: them})
	require.NoError(t, err)
	require.True(t, tl.AppendIncoming(msg("a9", "X", now.Add(time.Second))))

	history := []*model.Message{msg("a", "X", now.Add(-time.Hour)), sent}
	require.True(t, tl.Merge("X", history))
	assert.Equal(t, []string{"a", "m1", second, "a9"}, ids(tl))
	assert.Equal(t, []string{second}, tl.Pending())

	echo := &model.Message{ID: "m2", ClientMessageID: second, ConversationID: "X", Text: "two", Sender: me, CreatedAt: now}
	require.True(t, tl.Merge("X", append(history, echo)))
	assert.Equal(t, []string{"a", "m1", "m2", "a9"}, ids(tl))
	assert.Empty(t, tl.Pending())

	assert.False(t, tl.Merge("Y", history), "another conversation is open")
	assert.Equal(t, 4, tl.Len())
}

func TestRemoveAndReactions(t *testing.T) {
	base := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	tl := New("me")
	tl.Load("A", []*model.Message{msg("a1", "A", base), msg("a2", "A", base.Add(time.Second))})

	reactions := []model.Reaction{{Emoji: "👍", UserID: "me"}, {Emoji: "👍", UserID: "u2"}}
	require.True(t, tl.ApplyReaction("a1", reactions))
	reactions[0].Emoji = "mutated"

	got, ok := tl.Get("a1")
	require.True(t, ok)
	assert.Equal(t, "👍", got.Reactions[0].Emoji, "list is copied")
	groups := tl.Groups(got)
	require.Len(t, groups, 1)
	assert.Equal(t, 2, groups[0].Count)
	assert.True(t, groups[0].Mine)

	require.True(t, tl.ApplyReaction("a1", nil))
	got, _ = tl.Get("a1")
	assert.Empty(t, got.Reactions)

	assert.True(t, tl.RemoveByID("a1"))
	assert.False(t, tl.RemoveByID("a1"))
	assert.False(t, tl.ApplyReaction("missing", reactions))
	assert.Equal(t, []string{"a2"}, ids(tl))
}

func TestNewDay(t *testing.T) {
	tests := []struct {
		name      string
		prev, cur time.Time
		want      bool
	}{
		{"midnight crossing", time.Date(2024, 1, 1, 23, 59, 0, 0, time.UTC), time.Date(2024, 1, 2, 0, 1, 0, 0, time.UTC), true},
		{"ten minutes same day", time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), time.Date(2024, 1, 1, 10, 10, 0, 0, time.UTC), false},
		{"same clock next year", time.Date(2023, 1, 1, 10, 0, 0, 0, time.UTC), time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewDay(tt.prev, tt.cur, time.UTC))
		})
	}
}

func TestNewDayUsesLocalZone(t *testing.T) {
	// 23:30 and 00:30 UTC are the same day in UTC-5
	loc := time.FixedZone("EST", -5*3600)
	prev := time.Date(2024, 1, 1, 23, 30, 0, 0, time.UTC)
	cur := time.Date(2024, 1, 2, 0, 30, 0, 0, time.UTC)
	assert.True(t, NewDay(prev, cur, time.UTC))
	assert.False(t, NewDay(prev, cur, loc))
}

func TestWindowSeparators(t *testing.T) {
	tl := New("me", WithLocation(time.UTC))
	tl.Load("A", []*model.Message{
		msg("a", "A", time.Date(2024, 1, 1, 23, 59, 0, 0, time.UTC)),
		msg("b", "A", time.Date(2024, 1, 2, 0, 1, 0, 0, time.UTC)),
		msg("c", "A", time.Date(2024, 1, 2, 0, 11, 0, 0, time.UTC)),
	})

	rows := tl.Window(0, 10)
	require.Len(t, rows, 3)
	assert.True(t, rows[0].Separator, "first message always separated")
	assert.Equal(t, "2024-01-01", rows[0].Day)
	assert.True(t, rows[1].Separator)
	assert.Equal(t, "2024-01-02", rows[1].Day)
	assert.False(t, rows[2].Separator)

	// a window starting mid-day still compares against the previous message
	rows = tl.Window(2, 1)
	require.Len(t, rows, 1)
	assert.Equal(t, "c", rows[0].Message.ID)
	assert.False(t, rows[0].Separator)

	assert.Empty(t, tl.Window(5, 10))
	assert.Empty(t, tl.Window(0, 0))
}

func TestTempIDFormat(t *testing.T) {
	tl := New("me")
	tl.Load("A", nil)
	id, err := tl.AppendOptimistic(Draft{Text: "x"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "tmp-"))
	assert.Len(t, id, len("tmp-")+36)
}
