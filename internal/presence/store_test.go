package presence

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func bootstrap(t *testing.T) (*Store, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)

	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	s, err := New(context.Background(), logger.Sugar(), Config{
		Addr:    mr.Addr(),
		Key:     "typing",
		Channel: "typing:changed",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s, mr
}

func receive(t *testing.T, ch <-chan map[string]bool, want map[string]bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		select {
		case got := <-ch:
			return len(got) == len(want) && func() bool {
				for k, v := range want {
					if got[k] != v {
						return false
					}
				}
				return true
			}()
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSetAndRemoveTyping(t *testing.T) {
	s, mr := bootstrap(t)
	ctx := context.Background()

	require.NoError(t, s.SetTyping(ctx, "a", true))
	require.NoError(t, s.SetTyping(ctx, "b", false))
	require.Equal(t, "true", mr.HGet("typing", "a"))

	flags, err := s.Typing(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string]bool{"a": true, "b": false}, flags)

	require.NoError(t, s.RemoveTyping(ctx, "a"))
	flags, err = s.Typing(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string]bool{"b": false}, flags)
}

func TestTypingSkipsMalformedValues(t *testing.T) {
	s, mr := bootstrap(t)

	mr.HSet("typing", "a", "yes please")
	mr.HSet("typing", "b", "true")

	flags, err := s.Typing(context.Background())
	require.NoError(t, err)
	require.Equal(t, map[string]bool{"b": true}, flags)
}

func TestSubscribeTyping(t *testing.T) {
	s, _ := bootstrap(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.SetTyping(context.Background(), "a", true))

	ch, err := s.SubscribeTyping(ctx)
	require.NoError(t, err)
	receive(t, ch, map[string]bool{"a": true})

	require.NoError(t, s.SetTyping(context.Background(), "b", true))
	receive(t, ch, map[string]bool{"a": true, "b": true})

	require.NoError(t, s.RemoveTyping(context.Background(), "a"))
	receive(t, ch, map[string]bool{"b": true})

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, open := <-ch:
			return !open
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}
