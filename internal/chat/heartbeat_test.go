package chat_test

import (
	"context"
	"testing"
	"time"

	"chatus/internal/chat"
	"chatus/internal/memstore"

	"github.com/stretchr/testify/require"
)

func typing(store *memstore.Store, id string) func() bool {
	return func() bool {
		v, ok := store.Typing(id)
		return ok && v
	}
}

func cleared(store *memstore.Store, id string) func() bool {
	return func() bool {
		_, ok := store.Typing(id)
		return !ok
	}
}

func TestHeartbeatDebounce(t *testing.T) {
	t.Parallel()

	mock := newMock()
	store := memstore.New(mock, "")
	hb := chat.NewHeartbeat(newLogger(t), store, mock, time.Second, chat.ClearRemove)
	ctx := context.Background()

	// keystrokes at 0s, 0.4s and 0.8s
	require.NoError(t, hb.Touch(ctx, "a"))
	mock.Add(400 * time.Millisecond)
	require.NoError(t, hb.Touch(ctx, "a"))
	mock.Add(400 * time.Millisecond)
	require.NoError(t, hb.Touch(ctx, "a"))

	// 1.799s
	mock.Add(999 * time.Millisecond)
	require.True(t, typing(store, "a")())
	require.True(t, hb.Pending("a"))

	// 1.8s
	mock.Add(time.Millisecond)
	require.Eventually(t, cleared(store, "a"), time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return !hb.Pending("a") }, time.Second, 5*time.Millisecond)
}

func TestHeartbeatSingleKeystroke(t *testing.T) {
	t.Parallel()

	mock := newMock()
	store := memstore.New(mock, "")
	hb := chat.NewHeartbeat(newLogger(t), store, mock, time.Second, chat.ClearRemove)

	require.NoError(t, hb.Touch(context.Background(), "a"))
	require.True(t, typing(store, "a")())

	mock.Add(999 * time.Millisecond)
	require.True(t, typing(store, "a")())

	mock.Add(time.Millisecond)
	require.Eventually(t, cleared(store, "a"), time.Second, 5*time.Millisecond)
}

func TestHeartbeatUnsetPolicy(t *testing.T) {
	t.Parallel()

	mock := newMock()
	store := memstore.New(mock, "")
	hb := chat.NewHeartbeat(newLogger(t), store, mock, time.Second, chat.ClearUnset)

	require.NoError(t, hb.Touch(context.Background(), "a"))
	mock.Add(time.Second)

	require.Eventually(t, func() bool {
		v, ok := store.Typing("a")
		return ok && !v
	}, time.Second, 5*time.Millisecond)
}

func TestHeartbeatIndependentIdentities(t *testing.T) {
	t.Parallel()

	mock := newMock()
	store := memstore.New(mock, "")
	hb := chat.NewHeartbeat(newLogger(t), store, mock, time.Second, chat.ClearRemove)
	ctx := context.Background()

	require.NoError(t, hb.Touch(ctx, "a"))
	mock.Add(600 * time.Millisecond)
	require.NoError(t, hb.Touch(ctx, "b"))

	mock.Add(400 * time.Millisecond)
	require.Eventually(t, cleared(store, "a"), time.Second, 5*time.Millisecond)
	require.True(t, typing(store, "b")())

	mock.Add(600 * time.Millisecond)
	require.Eventually(t, cleared(store, "b"), time.Second, 5*time.Millisecond)
}

func TestHeartbeatClear(t *testing.T) {
	t.Parallel()

	mock := newMock()
	store := memstore.New(mock, "")
	hb := chat.NewHeartbeat(newLogger(t), store, mock, time.Second, chat.ClearRemove)
	ctx := context.Background()

	require.NoError(t, hb.Touch(ctx, "a"))
	require.NoError(t, hb.Clear(ctx, "a"))

	require.True(t, cleared(store, "a")())
	require.False(t, hb.Pending("a"))
}

func TestHeartbeatStop(t *testing.T) {
	t.Parallel()

	mock := newMock()
	store := memstore.New(mock, "")
	hb := chat.NewHeartbeat(newLogger(t), store, mock, time.Second, chat.ClearRemove)

	require.NoError(t, hb.Touch(context.Background(), "a"))
	hb.Stop()
	require.False(t, hb.Pending("a"))

	mock.Add(2 * time.Second)
	// a stopped timer never clears the flag
	require.Never(t, cleared(store, "a"), 50*time.Millisecond, 5*time.Millisecond)
}
