package server

import (
	"sync"
	"time"

	"chatus/internal/chat"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 20 * time.Second

	maxPendingNotices = 16
)

// wsSink is the chat.Sink of one session.
// It remembers the latest feed, typing and session events and replays them to a newly attached connection.
// Notices raised while no connection is attached are queued.
type wsSink struct {
	logger *zap.SugaredLogger

	mu      sync.Mutex
	conn    *websocket.Conn
	feed    *event
	typing  *event
	session *event
	notices []string
}

func newSink(logger *zap.SugaredLogger) *wsSink {
	return &wsSink{logger: logger}
}

func (s *wsSink) Render(v chat.View) {
	e := newFeedEvent(v)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.feed = &e
	s.writeLocked(e)
}

func (s *wsSink) RenderTyping(v chat.TypingView) {
	e := newTypingEvent(v)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.typing = &e
	s.writeLocked(e)
}

func (s *wsSink) Notify(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		if len(s.notices) == maxPendingNotices {
			s.notices = s.notices[1:]
		}
		s.notices = append(s.notices, text)
		return
	}
	s.writeLocked(event{Type: eventNotice, Notice: text})
}

func (s *wsSink) SessionChanged(state chat.SessionState) {
	e := newSessionEvent(state)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = &e
	if _, ok := state.(chat.Anonymous); ok {
		s.feed = nil
		s.typing = nil
	}
	s.writeLocked(e)
}

// attach makes conn the connection events are written to, closing the previous one
func (s *wsSink) attach(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		s.closeLocked(websocket.CloseGoingAway, "replaced by a new connection")
	}
	s.conn = conn

	for _, e := range []*event{s.session, s.feed, s.typing} {
		if e != nil {
			s.writeLocked(*e)
		}
	}
	for _, text := range s.notices {
		s.writeLocked(event{Type: eventNotice, Notice: text})
	}
	s.notices = nil
}

// detach forgets conn unless it was already replaced
func (s *wsSink) detach(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == conn {
		s.conn = nil
	}
}

func (s *wsSink) ping(conn *websocket.Conn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != conn {
		return websocket.ErrCloseSent
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.PingMessage, nil)
}

func (s *wsSink) close(code int, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.closeLocked(code, text)
	}
}

func (s *wsSink) closeLocked(code int, text string) {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, text))
	_ = s.conn.Close()
	s.conn = nil
}

func (s *wsSink) writeLocked(e event) {
	if s.conn == nil {
		return
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := writeJSON(s.conn, e); err != nil {
		s.logger.Debugf("writing %s event: %v", e.Type, err)
		_ = s.conn.Close()
		s.conn = nil
	}
}
