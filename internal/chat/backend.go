package chat

import "context"

// IdentityService authenticates credentials
type IdentityService interface {
	SignIn(ctx context.Context, email, password string) (Identity, error)
	SignOut(ctx context.Context, id Identity) error
}

// ProfileStore keeps one Profile per account id.
// Profile returns ErrProfileNotFound for unknown ids.
type ProfileStore interface {
	Profile(ctx context.Context, accountID string) (Profile, error)
	SetProfile(ctx context.Context, accountID string, p Profile) error
}

// MessageStore is the ordered message collection.
//
// SubscribeMessages pushes a full snapshot ordered by creation time on subscribe and after every change,
// the channel is closed once ctx is done.
// AppendMessage assigns ID and CreatedAt and is idempotent on Record.ClientKey.
// UpdateMessageText and RemoveMessage return ErrMessageNotFound unless a message with the id was written by authorID.
type MessageStore interface {
	SubscribeMessages(ctx context.Context) (<-chan []Message, error)
	AppendMessage(ctx context.Context, r Record) (Message, error)
	UpdateMessageText(ctx context.Context, id, authorID, text string) error
	RemoveMessage(ctx context.Context, id, authorID string) error
	SetLike(ctx context.Context, messageID, authorID string, liked bool) error
}

// PresenceStore holds typing flags keyed by account id.
// SubscribeTyping pushes the full map on subscribe and after every change.
type PresenceStore interface {
	SetTyping(ctx context.Context, accountID string, typing bool) error
	RemoveTyping(ctx context.Context, accountID string) error
	SubscribeTyping(ctx context.Context) (<-chan map[string]bool, error)
}

// BlobStore stores binary objects and returns a durable URL for them
type BlobStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Backend groups the collaborators a Client talks to
type Backend struct {
	Identity IdentityService
	Profiles ProfileStore
	Messages MessageStore
	Presence PresenceStore
	Blobs    BlobStore
}
