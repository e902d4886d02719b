package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/xid"
	"go.uber.org/zap"
)

// Sink receives everything a Client renders
type Sink interface {
	Render(v View)
	RenderTyping(v TypingView)
	// Notify shows a blocking notification to the user
	Notify(text string)
	SessionChanged(s SessionState)
}

// Client is one chat UI component: a session gate, a live feed, a compose box and a typing heartbeat
type Client struct {
	logger  *zap.SugaredLogger
	backend Backend
	sink    Sink
	cfg     Config
	clock   clock.Clock
	loc     *time.Location

	gate      *Gate
	compose   *Pipeline
	heartbeat *Heartbeat

	mu     sync.Mutex
	feed   *Reconciler
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewClient(logger *zap.SugaredLogger, backend Backend, sink Sink, opts ...Option) (*Client, error) {
	o := options{
		cfg:   DefaultConfig(),
		clock: clock.New(),
	}
	for _, opt := range opts {
		opt.apply(&o)
	}

	loc := o.loc
	if loc == nil {
		var err error
		loc, err = o.cfg.LoadLocation()
		if err != nil {
			return nil, fmt.Errorf("loading feed location: %w", err)
		}
	}

	c := &Client{
		logger:  logger,
		backend: backend,
		sink:    sink,
		cfg:     o.cfg,
		clock:   o.clock,
		loc:     loc,
	}
	c.gate = NewGate(logger, backend.Identity, backend.Profiles)
	c.heartbeat = NewHeartbeat(logger, backend.Presence, o.clock, o.cfg.TypingIdleWindow, o.cfg.TypingClearPolicy)
	c.compose = NewPipeline(logger, backend.Messages, backend.Blobs, o.cfg, newKey, sink.Notify, c.sent)

	return c, nil
}

func newKey() string {
	return xid.New().String()
}

func (c *Client) State() SessionState {
	return c.gate.State()
}

func (c *Client) SendState() SendState {
	return c.compose.State()
}

func (c *Client) Draft() Draft {
	return c.compose.Draft()
}

// Login authenticates and starts the feed and typing subscriptions.
// An already authenticated client is logged out first.
func (c *Client) Login(ctx context.Context, email, password string) (Identity, error) {
	if _, ok := c.gate.Current(); ok {
		if err := c.Logout(ctx); err != nil {
			c.logger.Warnf("logout before login: %v", err)
		}
	}

	id, err := c.gate.Login(ctx, email, password)
	if err != nil {
		return Identity{}, err
	}

	if err := c.start(id); err != nil {
		c.logger.Errorf("Error subscribing for %s: %v", id.ID, err)
		_ = c.gate.Logout(ctx)
		return Identity{}, err
	}

	c.sink.SessionChanged(c.gate.State())

	return id, nil
}

// Logout clears the own typing flag, tears down subscriptions and timers, discards the draft and signs out
func (c *Client) Logout(ctx context.Context) error {
	if id, ok := c.gate.Current(); ok {
		if err := c.heartbeat.Clear(ctx, id.ID); err != nil {
			c.logger.Warnf("clearing typing flag on logout: %v", err)
		}
	}
	c.stop()
	c.compose.Reset()

	err := c.gate.Logout(ctx)
	c.sink.SessionChanged(c.gate.State())

	return err
}

// Close is Logout for a client that is going away
func (c *Client) Close(ctx context.Context) error {
	if _, ok := c.gate.Current(); !ok {
		c.stop()
		return nil
	}
	return c.Logout(ctx)
}

func (c *Client) start(viewer Identity) error {
	ctx, cancel := context.WithCancel(context.Background())

	messages, err := c.backend.Messages.SubscribeMessages(ctx)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribing to messages: %w", err)
	}

	typing, err := c.backend.Presence.SubscribeTyping(ctx)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribing to typing: %w", err)
	}

	feed := NewReconciler(c.logger, c.backend.Profiles, c.clock, c.loc, c.cfg.LookupConcurrency, viewer, c.sink.Render)

	c.mu.Lock()
	c.feed = feed
	c.cancel = cancel
	c.mu.Unlock()

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		feed.Run(ctx, messages)
	}()
	go func() {
		defer c.wg.Done()
		c.watchTyping(ctx, viewer, typing)
	}()

	return nil
}

func (c *Client) stop() {
	c.heartbeat.Stop()

	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.feed = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
}

func (c *Client) currentFeed() *Reconciler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.feed
}

func (c *Client) watchTyping(ctx context.Context, viewer Identity, snapshots <-chan map[string]bool) {
	for snapshot := range snapshots {
		var ids []string
		for id, typing := range snapshot {
			if typing && id != viewer.ID {
				ids = append(ids, id)
			}
		}

		labels := lookupLabels(ctx, c.logger, c.backend.Profiles, ids, c.cfg.LookupConcurrency)

		view := TypingView{Labels: make([]string, 0, len(ids))}
		for _, id := range ids {
			view.Labels = append(view.Labels, labels[id])
		}
		sort.Strings(view.Labels)

		c.sink.RenderTyping(view)
	}
}

// SetText updates the compose text and, for an authenticated client, touches the typing heartbeat
func (c *Client) SetText(ctx context.Context, text string) {
	c.compose.SetText(text)

	id, ok := c.gate.Current()
	if !ok {
		return
	}
	if err := c.heartbeat.Touch(ctx, id.ID); err != nil {
		c.logger.Warnf("publishing typing flag: %v", err)
	}
}

func (c *Client) AttachImage(name string, data []byte) error {
	return c.compose.AttachImage(name, data)
}

func (c *Client) ClearImage() {
	c.compose.ClearImage()
}

// Reply stages a snapshot of the message with id as the reply reference of the draft
func (c *Client) Reply(id string) error {
	feed := c.currentFeed()
	if feed == nil {
		return ErrNotAuthenticated
	}
	m, ok := feed.Message(id)
	if !ok {
		return ErrMessageNotFound
	}
	c.compose.StageReply(m.ReplyRef())
	return nil
}

func (c *Client) CancelReply() {
	c.compose.CancelReply()
}

func (c *Client) Submit(ctx context.Context) (Message, error) {
	return c.compose.Submit(ctx, c.gate.State())
}

// sent runs after every successful submit
func (c *Client) sent(m Message) {
	if err := c.heartbeat.Clear(context.Background(), m.AuthorID); err != nil {
		c.logger.Warnf("clearing typing flag after send: %v", err)
	}
	if feed := c.currentFeed(); feed != nil {
		feed.ForceScroll(m.ID)
	}
}

func (c *Client) SetViewport(atBottom bool) {
	if feed := c.currentFeed(); feed != nil {
		feed.SetViewport(atBottom)
	}
}

func (c *Client) Like(ctx context.Context, messageID string) error {
	return c.setLike(ctx, messageID, true)
}

func (c *Client) Unlike(ctx context.Context, messageID string) error {
	return c.setLike(ctx, messageID, false)
}

// ToggleLike likes the message unless the viewer already does
func (c *Client) ToggleLike(ctx context.Context, messageID string) error {
	feed := c.currentFeed()
	if feed == nil {
		return ErrNotAuthenticated
	}
	m, ok := feed.Message(messageID)
	if !ok {
		return ErrMessageNotFound
	}
	return c.setLike(ctx, messageID, !m.LikedByMe)
}

func (c *Client) setLike(ctx context.Context, messageID string, liked bool) error {
	id, ok := c.gate.Current()
	if !ok {
		return ErrNotAuthenticated
	}
	err := c.backend.Messages.SetLike(ctx, messageID, id.ID, liked)
	return c.writeResult("Failed to update like. Please try again.", err)
}

// Edit replaces the text of a message written by the viewer
func (c *Client) Edit(ctx context.Context, messageID, text string) error {
	id, err := c.authorOf(messageID)
	if err != nil {
		return err
	}
	if strings.TrimSpace(text) == "" {
		return ErrBlankText
	}
	err = c.backend.Messages.UpdateMessageText(ctx, messageID, id.ID, text)
	return c.writeResult("Failed to edit message. Please try again.", err)
}

// Delete removes a message written by the viewer
func (c *Client) Delete(ctx context.Context, messageID string) error {
	id, err := c.authorOf(messageID)
	if err != nil {
		return err
	}
	err = c.backend.Messages.RemoveMessage(ctx, messageID, id.ID)
	return c.writeResult("Failed to delete message. Please try again.", err)
}

func (c *Client) authorOf(messageID string) (Identity, error) {
	id, ok := c.gate.Current()
	feed := c.currentFeed()
	if !ok || feed == nil {
		return Identity{}, ErrNotAuthenticated
	}
	m, found := feed.Message(messageID)
	if !found {
		return Identity{}, ErrMessageNotFound
	}
	if !m.Own {
		return Identity{}, ErrNotAuthor
	}
	return id, nil
}

func (c *Client) writeResult(notice string, err error) error {
	if err == nil {
		return nil
	}
	c.logger.Errorf("%v: %v", ErrWrite, err)
	c.sink.Notify(notice)
	if errors.Is(err, ErrMessageNotFound) {
		return fmt.Errorf("%w: %w", ErrWrite, ErrMessageNotFound)
	}
	return fmt.Errorf("%w: %v", ErrWrite, err)
}
