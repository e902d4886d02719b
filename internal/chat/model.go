package chat

import (
	"strings"
	"time"
)

const (
	// UnknownLabel is shown for authors whose profile can not be resolved
	UnknownLabel = "Unknown"
	// SelfLabel replaces the viewer's own label in the feed
	SelfLabel = "You"
)

// Identity is the authenticated principal returned by the IdentityService
type Identity struct {
	ID    string
	Email string
}

// Label returns the display label of the identity
func (i Identity) Label() string {
	return ProfileLabel(i.Email)
}

// Profile is the record kept for every account that ever logged in
type Profile struct {
	Email string
}

// ProfileLabel derives a display label from an email by taking its local part
func ProfileLabel(email string) string {
	if i := strings.IndexByte(email, '@'); i >= 0 {
		return email[:i]
	}
	return email
}

// ReplyRef is a point-in-time snapshot of the message being replied to.
// It is copied into the new message and never follows the original.
type ReplyRef struct {
	Label string `json:"label"`
	Text  string `json:"text"`
}

type Like struct {
	AuthorID  string    `json:"author_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is a message as mirrored from the MessageStore
type Message struct {
	ID        string
	AuthorID  string
	Text      string
	ImageURL  string
	Reply     *ReplyRef
	ClientKey string
	CreatedAt time.Time
	EditedAt  *time.Time
	Likes     []Like
}

// Record holds the fields a client provides when appending a message,
// the store assigns ID and CreatedAt
type Record struct {
	AuthorID  string
	Text      string
	ImageURL  string
	Reply     *ReplyRef
	ClientKey string
}

// FeedMessage is a Message joined with its author's profile label, ready for rendering
type FeedMessage struct {
	Message
	AuthorLabel string
	Label       string
	Time        string
	Own         bool
	LikedByMe   bool
	LikeCount   int
}

// ReplyRef snapshots the message for a reply
func (m FeedMessage) ReplyRef() ReplyRef {
	return ReplyRef{Label: m.AuthorLabel, Text: m.Text}
}

// Bucket is a calendar day worth of messages
type Bucket struct {
	Key      string
	Label    string
	Messages []FeedMessage
}

// View is what the feed renders after every push
type View struct {
	Buckets []Bucket
	Scroll  bool
}

// TypingView lists labels of other identities currently typing
type TypingView struct {
	Labels []string
}
