// Package memstore keeps every chat collaborator in memory.
// It backs the development mode of the server and the tests.
package memstore

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"chatus/internal/chat"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type account struct {
	id   string
	hash []byte
}

type blob struct {
	data        []byte
	contentType string
}

// Store implements chat.IdentityService, chat.ProfileStore, chat.MessageStore,
// chat.PresenceStore and chat.BlobStore
type Store struct {
	clock   clock.Clock
	blobURL string

	mu       sync.Mutex
	accounts map[string]account
	profiles map[string]chat.Profile
	messages []chat.Message
	keys     map[string]string
	seq      int64
	last     time.Time
	typing   map[string]bool
	blobs    map[string]blob

	messageFeed *broadcast[[]chat.Message]
	typingFeed  *broadcast[map[string]bool]
}

// New returns an empty Store, uploaded blobs get URLs prefixed with blobURL
func New(clk clock.Clock, blobURL string) *Store {
	return &Store{
		clock:       clk,
		blobURL:     strings.TrimSuffix(blobURL, "/"),
		accounts:    make(map[string]account),
		profiles:    make(map[string]chat.Profile),
		keys:        make(map[string]string),
		typing:      make(map[string]bool),
		blobs:       make(map[string]blob),
		messageFeed: newBroadcast[[]chat.Message](),
		typingFeed:  newBroadcast[map[string]bool](),
	}
}

// Backend exposes the Store as every collaborator of a chat.Client
func (s *Store) Backend() chat.Backend {
	return chat.Backend{
		Identity: s,
		Profiles: s,
		Messages: s,
		Presence: s,
		Blobs:    s,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateAccount registers credentials and returns the new identity
func (s *Store) CreateAccount(_ context.Context, email, password string) (chat.Identity, error) {
	email = normalizeEmail(email)
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return chat.Identity{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[email]; ok {
		return chat.Identity{}, chat.ErrAccountExists
	}
	id := uuid.NewString()
	s.accounts[email] = account{id: id, hash: hash}

	return chat.Identity{ID: id, Email: email}, nil
}

func (s *Store) SignIn(_ context.Context, email, password string) (chat.Identity, error) {
	email = normalizeEmail(email)

	s.mu.Lock()
	acc, ok := s.accounts[email]
	s.mu.Unlock()

	if !ok {
		return chat.Identity{}, chat.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(acc.hash, []byte(password)); err != nil {
		return chat.Identity{}, chat.ErrInvalidCredentials
	}

	return chat.Identity{ID: acc.id, Email: email}, nil
}

func (s *Store) SignOut(context.Context, chat.Identity) error {
	return nil
}

func (s *Store) Profile(_ context.Context, accountID string) (chat.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[accountID]
	if !ok {
		return chat.Profile{}, chat.ErrProfileNotFound
	}
	return p, nil
}

func (s *Store) SetProfile(_ context.Context, accountID string, p chat.Profile) error {
	s.mu.Lock()
	s.profiles[accountID] = p
	s.mu.Unlock()
	return nil
}

func (s *Store) SubscribeMessages(ctx context.Context) (<-chan []chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messageFeed.subscribe(ctx, s.snapshotLocked()), nil
}

func (s *Store) AppendMessage(_ context.Context, r chat.Record) (chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ClientKey != "" {
		if id, ok := s.keys[r.ClientKey]; ok {
			if i := s.indexLocked(id); i >= 0 {
				return copyMessage(s.messages[i]), nil
			}
		}
	}

	now := s.clock.Now().Truncate(time.Microsecond)
	if !now.After(s.last) {
		now = s.last.Add(time.Microsecond)
	}
	s.last = now
	s.seq++

	m := chat.Message{
		ID:        strconv.FormatInt(s.seq, 10),
		AuthorID:  r.AuthorID,
		Text:      r.Text,
		ImageURL:  r.ImageURL,
		ClientKey: r.ClientKey,
		CreatedAt: now,
	}
	if r.Reply != nil {
		reply := *r.Reply
		m.Reply = &reply
	}
	s.messages = append(s.messages, m)
	if r.ClientKey != "" {
		s.keys[r.ClientKey] = m.ID
	}

	s.messageFeed.publish(s.snapshotLocked())

	return copyMessage(m), nil
}

func (s *Store) UpdateMessageText(_ context.Context, id, authorID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 || s.messages[i].AuthorID != authorID {
		return chat.ErrMessageNotFound
	}
	edited := s.clock.Now()
	s.messages[i].Text = text
	s.messages[i].EditedAt = &edited

	s.messageFeed.publish(s.snapshotLocked())

	return nil
}

func (s *Store) RemoveMessage(_ context.Context, id, authorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 || s.messages[i].AuthorID != authorID {
		return chat.ErrMessageNotFound
	}
	delete(s.keys, s.messages[i].ClientKey)
	s.messages = append(s.messages[:i:i], s.messages[i+1:]...)

	s.messageFeed.publish(s.snapshotLocked())

	return nil
}

func (s *Store) SetLike(_ context.Context, messageID, authorID string, liked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(messageID)
	if i < 0 {
		return chat.ErrMessageNotFound
	}

	likes := s.messages[i].Likes[:0:0]
	for _, l := range s.messages[i].Likes {
		if l.AuthorID != authorID {
			likes = append(likes, l)
		}
	}
	if liked {
		likes = append(likes, chat.Like{AuthorID: authorID, CreatedAt: s.clock.Now()})
	}
	s.messages[i].Likes = likes

	s.messageFeed.publish(s.snapshotLocked())

	return nil
}

func (s *Store) indexLocked(id string) int {
	for i, m := range s.messages {
		if m.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) snapshotLocked() []chat.Message {
	snapshot := make([]chat.Message, len(s.messages))
	for i, m := range s.messages {
		snapshot[i] = copyMessage(m)
	}
	return snapshot
}

func copyMessage(m chat.Message) chat.Message {
	if m.Reply != nil {
		reply := *m.Reply
		m.Reply = &reply
	}
	if m.EditedAt != nil {
		edited := *m.EditedAt
		m.EditedAt = &edited
	}
	m.Likes = append([]chat.Like(nil), m.Likes...)
	return m
}

func (s *Store) SetTyping(_ context.Context, accountID string, typing bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.typing[accountID] = typing
	s.typingFeed.publish(s.typingLocked())

	return nil
}

func (s *Store) RemoveTyping(_ context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.typing, accountID)
	s.typingFeed.publish(s.typingLocked())

	return nil
}

func (s *Store) SubscribeTyping(ctx context.Context) (<-chan map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.typingFeed.subscribe(ctx, s.typingLocked()), nil
}

// Typing returns the flag of accountID and whether an entry exists
func (s *Store) Typing(accountID string) (bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.typing[accountID]
	return v, ok
}

func (s *Store) typingLocked() map[string]bool {
	snapshot := make(map[string]bool, len(s.typing))
	for k, v := range s.typing {
		snapshot[k] = v
	}
	return snapshot
}

func (s *Store) Upload(_ context.Context, key string, data []byte, contentType string) (string, error) {
	s.mu.Lock()
	s.blobs[key] = blob{data: append([]byte(nil), data...), contentType: contentType}
	s.mu.Unlock()

	return s.blobURL + "/" + key, nil
}

// Blob returns an uploaded object
func (s *Store) Blob(key string) ([]byte, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.blobs[key]
	return b.data, b.contentType, ok
}
