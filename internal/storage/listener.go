package storage

import (
	"context"
	"sync"

	"chatus/internal/chat"

	"github.com/jackc/pgx/v4/pgxpool"
)

const messagesChannel = "messages_changed"

// messageFeed fans message snapshots out to subscribers.
// A single pooled connection listens on messagesChannel for the whole Store,
// the snapshot is reloaded once per notification whatever the number of subscribers.
type messageFeed struct {
	mu        sync.Mutex
	listening bool
	latest    []chat.Message
	subs      map[chan []chat.Message]struct{}
}

// SubscribeMessages pushes the current snapshot and a fresh one after every change.
// The first subscriber starts the shared listener, later ones reuse its latest snapshot.
func (s *Store) SubscribeMessages(ctx context.Context) (<-chan []chat.Message, error) {
	s.feed.mu.Lock()
	if !s.feed.listening {
		if err := s.listen(ctx); err != nil {
			s.feed.mu.Unlock()
			return nil, err
		}
	}

	ch := make(chan []chat.Message, 1)
	ch <- s.feed.latest
	s.feed.subs[ch] = struct{}{}
	s.feed.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.unsubscribe(ch)
	}()

	return ch, nil
}

// listen acquires the listener connection and loads the first snapshot, s.feed.mu must be held
func (s *Store) listen(ctx context.Context) error {
	conn, err := s.db.Acquire(ctx)
	if err != nil {
		return err
	}

	if _, err := conn.Exec(ctx, "listen "+messagesChannel); err != nil {
		conn.Release()
		return err
	}

	snapshot, err := s.Messages(ctx)
	if err != nil {
		s.dropListener(conn)
		return err
	}

	s.feed.listening = true
	s.feed.latest = snapshot

	s.logger.Debugf("Listening on %s", messagesChannel)

	go s.watchMessages(conn)

	return nil
}

func (s *Store) watchMessages(conn *pgxpool.Conn) {
	defer s.dropListener(conn)

	for {
		if _, err := conn.Conn().WaitForNotification(s.ctx); err != nil {
			s.stopFeed(err)
			return
		}

		snapshot, err := s.Messages(s.ctx)
		if err != nil {
			s.stopFeed(err)
			return
		}

		s.publish(snapshot)
	}
}

// dropListener closes conn before returning it so the pool never hands out a listening connection
func (s *Store) dropListener(conn *pgxpool.Conn) {
	_ = conn.Conn().Close(context.Background())
	conn.Release()
}

func (s *Store) publish(snapshot []chat.Message) {
	s.feed.mu.Lock()
	defer s.feed.mu.Unlock()

	s.feed.latest = snapshot
	for ch := range s.feed.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snapshot
	}
}

// stopFeed closes every subscription, the next subscriber starts a new listener
func (s *Store) stopFeed(err error) {
	if s.ctx.Err() == nil {
		s.logger.Errorf("watching %s: %v", messagesChannel, err)
	}

	s.feed.mu.Lock()
	defer s.feed.mu.Unlock()

	s.feed.listening = false
	s.feed.latest = nil
	for ch := range s.feed.subs {
		delete(s.feed.subs, ch)
		close(ch)
	}
}

func (s *Store) unsubscribe(ch chan []chat.Message) {
	s.feed.mu.Lock()
	defer s.feed.mu.Unlock()

	if _, ok := s.feed.subs[ch]; ok {
		delete(s.feed.subs, ch)
		close(ch)
	}
}

// subscribers reports the number of open subscriptions
func (s *Store) subscribers() int {
	s.feed.mu.Lock()
	defer s.feed.mu.Unlock()
	return len(s.feed.subs)
}
