package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const sendFailedNotice = "Failed to send message. Please try again."

// ErrRefused is returned by Submit when the draft is not sent and nothing changed.
// It is joined with the reason: ErrNotAuthenticated, ErrNothingToSend or ErrSendInProgress.
var (
	ErrRefused        = errors.New("submit refused")
	ErrNothingToSend  = errors.New("draft has neither text nor image")
	ErrSendInProgress = errors.New("a message is being sent")
)

// SendState is either Idle or Sending
type SendState interface {
	sendState()
}

type Idle struct{}

// Sending carries the author the in-flight message is written for
type Sending struct {
	Author Identity
}

func (Idle) sendState()    {}
func (Sending) sendState() {}

// Draft is the content of the compose box.
// Key is the idempotency key the draft is appended with, it changes only after a successful send.
type Draft struct {
	Text  string
	Image *Image
	Reply *ReplyRef
	Key   string
}

// Pipeline validates drafts, uploads attached images and appends messages
type Pipeline struct {
	logger   *zap.SugaredLogger
	messages MessageStore
	blobs    BlobStore
	cfg      Config
	newKey   func() string
	notify   func(string)
	onSent   func(Message)

	mu    sync.Mutex
	state SendState
	draft Draft
}

func NewPipeline(logger *zap.SugaredLogger, messages MessageStore, blobs BlobStore, cfg Config, newKey func() string, notify func(string), onSent func(Message)) *Pipeline {
	return &Pipeline{
		logger:   logger,
		messages: messages,
		blobs:    blobs,
		cfg:      cfg,
		newKey:   newKey,
		notify:   notify,
		onSent:   onSent,
		state:    Idle{},
		draft:    Draft{Key: newKey()},
	}
}

func (p *Pipeline) State() SendState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Draft returns a copy of the current draft
func (p *Pipeline) Draft() Draft {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.draft
}

func (p *Pipeline) SetText(text string) {
	p.mu.Lock()
	p.draft.Text = text
	p.mu.Unlock()
}

// AttachImage validates data and stages it, replacing any staged image
func (p *Pipeline) AttachImage(name string, data []byte) error {
	img, err := PrepareImage(name, data, p.cfg.ImageLimits())
	if err != nil {
		return err
	}
	img.ID = uuid.NewString()

	p.mu.Lock()
	p.draft.Image = img
	p.mu.Unlock()

	return nil
}

func (p *Pipeline) ClearImage() {
	p.mu.Lock()
	p.draft.Image = nil
	p.mu.Unlock()
}

func (p *Pipeline) StageReply(ref ReplyRef) {
	p.mu.Lock()
	p.draft.Reply = &ref
	p.mu.Unlock()
}

func (p *Pipeline) CancelReply() {
	p.mu.Lock()
	p.draft.Reply = nil
	p.mu.Unlock()
}

// Reset discards the draft and starts a new one under a fresh key
func (p *Pipeline) Reset() {
	p.mu.Lock()
	p.draft = Draft{Key: p.newKey()}
	p.mu.Unlock()
}

// Submit sends the current draft on behalf of the session.
// On success the draft is reset, on failure it is kept so the user can retry.
// Either way the pipeline is back to Idle when Submit returns.
func (p *Pipeline) Submit(ctx context.Context, session SessionState) (Message, error) {
	p.mu.Lock()
	auth, ok := session.(Authenticated)
	if !ok {
		p.mu.Unlock()
		return Message{}, fmt.Errorf("%w: %w", ErrRefused, ErrNotAuthenticated)
	}
	if _, busy := p.state.(Sending); busy {
		p.mu.Unlock()
		return Message{}, fmt.Errorf("%w: %w", ErrRefused, ErrSendInProgress)
	}
	if strings.TrimSpace(p.draft.Text) == "" && p.draft.Image == nil {
		p.mu.Unlock()
		return Message{}, fmt.Errorf("%w: %w", ErrRefused, ErrNothingToSend)
	}
	draft := p.draft
	p.state = Sending{Author: auth.Identity}
	p.mu.Unlock()

	msg, err := p.send(ctx, auth.Identity, draft)

	p.mu.Lock()
	p.state = Idle{}
	if err != nil {
		p.mu.Unlock()
		p.logger.Errorf("Error sending message: %v", err)
		p.notify(sendFailedNotice)
		return Message{}, err
	}
	p.draft = Draft{Key: p.newKey()}
	p.mu.Unlock()

	p.onSent(msg)

	return msg, nil
}

func (p *Pipeline) send(ctx context.Context, author Identity, draft Draft) (Message, error) {
	rec := Record{
		AuthorID:  author.ID,
		Text:      draft.Text,
		Reply:     draft.Reply,
		ClientKey: draft.Key,
	}

	if draft.Image != nil {
		key := imageKey(author.ID, draft.Image.ID, draft.Image.Ext)
		p.logger.Debugf("Uploading image (%d bytes) to %s", len(draft.Image.Data), key)

		url, err := p.blobs.Upload(ctx, key, draft.Image.Data, draft.Image.ContentType)
		if err != nil {
			return Message{}, fmt.Errorf("%w: %v", ErrUpload, err)
		}
		rec.ImageURL = url
	}

	msg, err := p.messages.AppendMessage(ctx, rec)
	if err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrWrite, err)
	}

	p.logger.Debugf("Sent message %s", msg.ID)

	return msg, nil
}

// imageKey is stable for a staged image so a retried upload overwrites the same object
func imageKey(authorID, imageID, ext string) string {
	return "images/" + authorID + "/" + imageID + "." + ext
}
