package chat_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"chatus/internal/chat"
	mytesting "chatus/internal/testing"

	"github.com/stretchr/testify/require"
)

func TestGroupPreservesOrder(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 3, 8, 22, 0, 0, 0, time.UTC)
	msgs := mytesting.FeedMessages("a", 10, start, 6*time.Hour)

	buckets := chat.Group(msgs, time.UTC)

	keys := make([]string, 0, len(buckets))
	sizes := make([]int, 0, len(buckets))
	for _, b := range buckets {
		keys = append(keys, b.Key)
		sizes = append(sizes, len(b.Messages))
	}
	require.Equal(t, []string{"2024-03-08", "2024-03-09", "2024-03-10", "2024-03-11"}, keys)
	require.Equal(t, []int{1, 4, 4, 1}, sizes)

	require.Equal(t, msgs, chat.Flatten(buckets))
	require.Equal(t, buckets, chat.Group(chat.Flatten(buckets), time.UTC))
}

func TestGroupUsesLocation(t *testing.T) {
	t.Parallel()

	// 03:00 UTC is still the previous day five hours west
	msgs := mytesting.FeedMessages("a", 2, time.Date(2024, 3, 10, 3, 0, 0, 0, time.UTC), 3*time.Hour)

	west := time.FixedZone("UTC-5", -5*60*60)
	buckets := chat.Group(msgs, west)

	require.Len(t, buckets, 2)
	require.Equal(t, "2024-03-09", buckets[0].Key)
	require.Equal(t, "2024-03-10", buckets[1].Key)
}

func TestGroupEmpty(t *testing.T) {
	t.Parallel()

	require.Empty(t, chat.Group(nil, time.UTC))
	require.Empty(t, chat.Flatten(nil))
}

func TestDayLabel(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	require.Equal(t, "Today", chat.DayLabel(time.Date(2024, 3, 10, 0, 30, 0, 0, time.UTC), now, time.UTC))
	require.Equal(t, "Yesterday", chat.DayLabel(time.Date(2024, 3, 9, 23, 59, 0, 0, time.UTC), now, time.UTC))
	require.Equal(t, "March 08, 2024", chat.DayLabel(time.Date(2024, 3, 8, 10, 0, 0, 0, time.UTC), now, time.UTC))
	require.Equal(t, "Yesterday",
		chat.DayLabel(time.Date(2023, 12, 31, 9, 0, 0, 0, time.UTC), time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), time.UTC))

	west := time.FixedZone("UTC-5", -5*60*60)
	require.Equal(t, "Today",
		chat.DayLabel(time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC), time.Date(2024, 3, 10, 1, 0, 0, 0, time.UTC), west))
}

func TestLabelBuckets(t *testing.T) {
	t.Parallel()

	msgs := mytesting.FeedMessages("a", 3, time.Date(2024, 3, 8, 12, 0, 0, 0, time.UTC), 24*time.Hour)
	buckets := chat.Group(msgs, time.UTC)

	chat.LabelBuckets(buckets, noon, time.UTC)

	require.Equal(t, "March 08, 2024", buckets[0].Label)
	require.Equal(t, "Yesterday", buckets[1].Label)
	require.Equal(t, "Today", buckets[2].Label)
}

func newReconciler(t *testing.T, profiles chat.ProfileStore, viewer chat.Identity) (*chat.Reconciler, *recorder) {
	sink := &recorder{}
	return chat.NewReconciler(newLogger(t), profiles, newMock(), time.UTC, 2, viewer, sink.Render), sink
}

func TestReconcilerLabels(t *testing.T) {
	t.Parallel()

	profiles := profileStub{
		profiles: map[string]chat.Profile{
			"a": {Email: "alice@example.com"},
			"b": {Email: "bob@example.com"},
		},
		fail: map[string]error{"c": errors.New("i/o timeout")},
	}
	viewer := chat.Identity{ID: "a", Email: "alice@example.com"}
	r, sink := newReconciler(t, profiles, viewer)

	snapshot := []chat.Message{
		{ID: "1", AuthorID: "a", Text: "one", CreatedAt: noon.Add(-time.Hour)},
		{ID: "2", AuthorID: "b", Text: "two", CreatedAt: noon.Add(-50 * time.Minute)},
		{ID: "3", AuthorID: "c", Text: "three", CreatedAt: noon.Add(-40 * time.Minute)},
		{ID: "4", AuthorID: "d", Text: "four", CreatedAt: noon.Add(-30 * time.Minute)},
	}

	v := r.Apply(context.Background(), snapshot)

	require.Len(t, v.Buckets, 1)
	require.Equal(t, "Today", v.Buckets[0].Label)

	msgs := v.Buckets[0].Messages
	require.Len(t, msgs, 4)

	labels := []string{msgs[0].Label, msgs[1].Label, msgs[2].Label, msgs[3].Label}
	require.Equal(t, []string{chat.SelfLabel, "bob", chat.UnknownLabel, chat.UnknownLabel}, labels)
	require.Equal(t, "alice", msgs[0].AuthorLabel)
	require.True(t, msgs[0].Own)
	require.False(t, msgs[1].Own)
	require.Equal(t, "11:00 AM", msgs[0].Time)

	last, ok := sink.lastView()
	require.True(t, ok)
	require.Equal(t, v, last)
}

func TestReconcilerEmptySnapshot(t *testing.T) {
	t.Parallel()

	r, _ := newReconciler(t, profileStub{}, chat.Identity{ID: "a"})

	v := r.Apply(context.Background(), nil)

	require.Empty(t, v.Buckets)
	require.True(t, v.Scroll)
}

func TestReconcilerLikes(t *testing.T) {
	t.Parallel()

	r, _ := newReconciler(t, profileStub{}, chat.Identity{ID: "a"})

	v := r.Apply(context.Background(), []chat.Message{
		{ID: "1", AuthorID: "b", CreatedAt: noon, Likes: []chat.Like{{AuthorID: "a"}, {AuthorID: "c"}}},
		{ID: "2", AuthorID: "b", CreatedAt: noon, Likes: []chat.Like{{AuthorID: "c"}}},
	})

	msgs := chat.Flatten(v.Buckets)
	require.True(t, msgs[0].LikedByMe)
	require.Equal(t, 2, msgs[0].LikeCount)
	require.False(t, msgs[1].LikedByMe)
	require.Equal(t, 1, msgs[1].LikeCount)

	m, ok := r.Message("2")
	require.True(t, ok)
	require.Equal(t, "2", m.ID)
	_, ok = r.Message("3")
	require.False(t, ok)
}

func TestReconcilerScroll(t *testing.T) {
	t.Parallel()

	r, sink := newReconciler(t, profileStub{}, chat.Identity{ID: "a"})
	ctx := context.Background()
	msgs := []chat.Message{{ID: "1", AuthorID: "b", CreatedAt: noon}}

	require.True(t, r.Apply(ctx, msgs).Scroll, "a fresh feed starts at the bottom")

	r.SetViewport(false)
	require.False(t, r.Apply(ctx, msgs).Scroll, "remote push must not move a reader who scrolled up")

	r.ForceScroll("2")
	forced, ok := sink.lastView()
	require.True(t, ok)
	require.True(t, forced.Scroll)
	require.Len(t, chat.Flatten(forced.Buckets), 1)

	msgs = append(msgs, chat.Message{ID: "2", AuthorID: "a", CreatedAt: noon})
	require.True(t, r.Apply(ctx, msgs).Scroll, "push after a local send follows")

	r.SetViewport(false)
	require.False(t, r.Apply(ctx, msgs).Scroll)

	r.SetViewport(true)
	require.True(t, r.Apply(ctx, msgs).Scroll)
}

func TestReconcilerScrollSentMessageAlreadyApplied(t *testing.T) {
	t.Parallel()

	r, _ := newReconciler(t, profileStub{}, chat.Identity{ID: "a"})
	ctx := context.Background()
	own := []chat.Message{{ID: "1", AuthorID: "a", CreatedAt: noon}}

	r.Apply(ctx, own)
	r.ForceScroll("1")

	r.SetViewport(false)
	remote := append(own, chat.Message{ID: "2", AuthorID: "b", CreatedAt: noon})
	require.False(t, r.Apply(ctx, remote).Scroll, "the sent message was already shown, nothing left to follow")
}

func TestReconcilerScrollFollowsUntilSentMessageArrives(t *testing.T) {
	t.Parallel()

	r, _ := newReconciler(t, profileStub{}, chat.Identity{ID: "a"})
	ctx := context.Background()
	msgs := []chat.Message{{ID: "1", AuthorID: "b", CreatedAt: noon}}

	r.Apply(ctx, msgs)
	r.SetViewport(false)
	r.ForceScroll("3")

	msgs = append(msgs, chat.Message{ID: "2", AuthorID: "b", CreatedAt: noon})
	require.True(t, r.Apply(ctx, msgs).Scroll, "a remote push ahead of the sent message still follows")

	msgs = append(msgs, chat.Message{ID: "3", AuthorID: "a", CreatedAt: noon})
	require.True(t, r.Apply(ctx, msgs).Scroll)

	r.SetViewport(false)
	msgs = append(msgs, chat.Message{ID: "4", AuthorID: "b", CreatedAt: noon})
	require.False(t, r.Apply(ctx, msgs).Scroll)
}

func TestReconcilerRun(t *testing.T) {
	t.Parallel()

	r, sink := newReconciler(t, profileStub{}, chat.Identity{ID: "a"})

	ch := make(chan []chat.Message, 2)
	ch <- []chat.Message{{ID: "1", AuthorID: "a", Text: "first", CreatedAt: noon}}
	ch <- []chat.Message{{ID: "1", AuthorID: "a", Text: "first", CreatedAt: noon}, {ID: "2", AuthorID: "a", Text: "second", CreatedAt: noon}}
	close(ch)

	r.Run(context.Background(), ch)

	v, ok := sink.lastView()
	require.True(t, ok)
	require.Len(t, chat.Flatten(v.Buckets), 2)
}
