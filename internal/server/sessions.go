package server

import (
	"sync"

	"chatus/internal/chat"
)

// session is one browser's chat client, addressed by an opaque token
type session struct {
	token  string
	client *chat.Client
	sink   *wsSink
}

type registry struct {
	mu       sync.Mutex
	sessions map[string]*session
}

func newRegistry() *registry {
	return &registry{sessions: make(map[string]*session)}
}

func (r *registry) get(token string) (*session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[token]
	return s, ok
}

func (r *registry) add(s *session) {
	r.mu.Lock()
	r.sessions[s.token] = s
	r.mu.Unlock()
}

func (r *registry) remove(token string) (*session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[token]
	delete(r.sessions, token)
	return s, ok
}

// drain removes and returns every session
func (r *registry) drain() []*session {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := make([]*session, 0, len(r.sessions))
	for token, s := range r.sessions {
		all = append(all, s)
		delete(r.sessions, token)
	}
	return all
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
