package chat_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"chatus/internal/chat"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var noon = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

const password = "correct horse"

func newLogger(t *testing.T) *zap.SugaredLogger {
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)
	return logger.Sugar()
}

func newMock() *clock.Mock {
	mock := clock.NewMock()
	mock.Set(noon)
	return mock
}

// recorder is a chat.Sink keeping everything it was given
type recorder struct {
	mu       sync.Mutex
	views    []chat.View
	typing   []chat.TypingView
	notices  []string
	sessions []chat.SessionState
}

func (r *recorder) Render(v chat.View) {
	r.mu.Lock()
	r.views = append(r.views, v)
	r.mu.Unlock()
}

func (r *recorder) RenderTyping(v chat.TypingView) {
	r.mu.Lock()
	r.typing = append(r.typing, v)
	r.mu.Unlock()
}

func (r *recorder) Notify(text string) {
	r.mu.Lock()
	r.notices = append(r.notices, text)
	r.mu.Unlock()
}

func (r *recorder) SessionChanged(s chat.SessionState) {
	r.mu.Lock()
	r.sessions = append(r.sessions, s)
	r.mu.Unlock()
}

func (r *recorder) lastView() (chat.View, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.views) == 0 {
		return chat.View{}, false
	}
	return r.views[len(r.views)-1], true
}

func (r *recorder) lastTyping() (chat.TypingView, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.typing) == 0 {
		return chat.TypingView{}, false
	}
	return r.typing[len(r.typing)-1], true
}

func (r *recorder) noticeList() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.notices...)
}

func (r *recorder) lastSession() chat.SessionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sessions) == 0 {
		return nil
	}
	return r.sessions[len(r.sessions)-1]
}

// waitView waits until the latest rendered view satisfies cond and returns it
func waitView(t *testing.T, r *recorder, cond func(v chat.View) bool) chat.View {
	t.Helper()

	var last chat.View
	require.Eventually(t, func() bool {
		v, ok := r.lastView()
		last = v
		return ok && cond(v)
	}, 2*time.Second, 10*time.Millisecond)

	return last
}

func findMessage(v chat.View, text string) (chat.FeedMessage, bool) {
	for _, m := range chat.Flatten(v.Buckets) {
		if m.Text == text {
			return m, true
		}
	}
	return chat.FeedMessage{}, false
}

// profileStub resolves labels from a map and fails for ids in fail
type profileStub struct {
	profiles map[string]chat.Profile
	fail     map[string]error
}

func (p profileStub) Profile(_ context.Context, id string) (chat.Profile, error) {
	if err, ok := p.fail[id]; ok {
		return chat.Profile{}, err
	}
	profile, ok := p.profiles[id]
	if !ok {
		return chat.Profile{}, chat.ErrProfileNotFound
	}
	return profile, nil
}

func (p profileStub) SetProfile(context.Context, string, chat.Profile) error {
	return errors.New("profile store is read only")
}

// flakyMessages fails the next failures appends, performing them first when commit is set
type flakyMessages struct {
	chat.MessageStore

	mu       sync.Mutex
	failures int
	commit   bool
	calls    int
	block    chan struct{}
}

func (f *flakyMessages) AppendMessage(ctx context.Context, r chat.Record) (chat.Message, error) {
	f.mu.Lock()
	f.calls++
	block := f.block
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()

	if block != nil {
		<-block
	}

	if !fail {
		return f.MessageStore.AppendMessage(ctx, r)
	}
	if f.commit {
		if _, err := f.MessageStore.AppendMessage(ctx, r); err != nil {
			return chat.Message{}, err
		}
	}
	return chat.Message{}, errors.New("connection reset by peer")
}

func (f *flakyMessages) appendCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type blobFunc func(ctx context.Context, key string, data []byte, contentType string) (string, error)

func (f blobFunc) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	return f(ctx, key, data, contentType)
}

// snapshot reads the current message list of store
func snapshot(t *testing.T, store chat.MessageStore) []chat.Message {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := store.SubscribeMessages(ctx)
	require.NoError(t, err)
	return <-ch
}
