package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	dayKeyLayout   = "2006-01-02"
	dayLayout      = "January 02, 2006"
	timeLayout     = "03:04 PM"
	labelToday     = "Today"
	labelYesterday = "Yesterday"
)

// Group splits messages into calendar day buckets of loc.
// Buckets appear in the order their first message does and keep message order within a bucket.
// Bucket labels are left empty, see LabelBuckets.
func Group(messages []FeedMessage, loc *time.Location) []Bucket {
	var buckets []Bucket
	index := make(map[string]int)

	for _, m := range messages {
		key := m.CreatedAt.In(loc).Format(dayKeyLayout)
		i, ok := index[key]
		if !ok {
			i = len(buckets)
			index[key] = i
			buckets = append(buckets, Bucket{Key: key})
		}
		buckets[i].Messages = append(buckets[i].Messages, m)
	}

	return buckets
}

// Flatten concatenates bucket messages back into a single list
func Flatten(buckets []Bucket) []FeedMessage {
	var out []FeedMessage
	for _, b := range buckets {
		out = append(out, b.Messages...)
	}
	return out
}

// LabelBuckets sets every bucket label relative to now
func LabelBuckets(buckets []Bucket, now time.Time, loc *time.Location) {
	for i := range buckets {
		day, err := time.ParseInLocation(dayKeyLayout, buckets[i].Key, loc)
		if err != nil {
			buckets[i].Label = buckets[i].Key
			continue
		}
		buckets[i].Label = DayLabel(day, now, loc)
	}
}

// DayLabel returns "Today", "Yesterday" or the absolute date of day as seen from now in loc
func DayLabel(day, now time.Time, loc *time.Location) string {
	day, now = day.In(loc), now.In(loc)

	switch {
	case sameDay(day, now):
		return labelToday
	case sameDay(day, now.AddDate(0, 0, -1)):
		return labelYesterday
	default:
		return day.Format(dayLayout)
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// Reconciler turns message snapshots into grouped views for one viewer
type Reconciler struct {
	logger      *zap.SugaredLogger
	profiles    ProfileStore
	clock       clock.Clock
	loc         *time.Location
	concurrency int
	viewer      Identity
	emit        func(View)

	mu       sync.Mutex
	atBottom bool
	follow   string
	messages []FeedMessage
}

func NewReconciler(logger *zap.SugaredLogger, profiles ProfileStore, clk clock.Clock, loc *time.Location, concurrency int, viewer Identity, emit func(View)) *Reconciler {
	return &Reconciler{
		logger:      logger,
		profiles:    profiles,
		clock:       clk,
		loc:         loc,
		concurrency: concurrency,
		viewer:      viewer,
		emit:        emit,
		atBottom:    true,
	}
}

// Run applies every snapshot received until the channel is closed
func (r *Reconciler) Run(ctx context.Context, snapshots <-chan []Message) {
	for snapshot := range snapshots {
		r.Apply(ctx, snapshot)
	}
}

// Apply replaces the current feed with snapshot and emits the resulting View
func (r *Reconciler) Apply(ctx context.Context, snapshot []Message) View {
	labels := r.resolveLabels(ctx, snapshot)

	messages := make([]FeedMessage, 0, len(snapshot))
	for _, m := range snapshot {
		messages = append(messages, r.feedMessage(m, labels[m.AuthorID]))
	}

	r.mu.Lock()
	r.messages = messages
	scroll := r.follow != "" || r.atBottom
	if r.follow != "" && r.indexLocked(r.follow) >= 0 {
		r.follow = ""
	}
	r.mu.Unlock()

	v := r.view(messages, scroll)
	r.emit(v)

	r.logger.Debugf("Rendered %d messages in %d buckets", len(messages), len(v.Buckets))

	return v
}

// SetViewport records whether the reader's viewport is at the newest message.
// Scrolling away also stops following a sent message that has not arrived yet.
func (r *Reconciler) SetViewport(atBottom bool) {
	r.mu.Lock()
	r.atBottom = atBottom
	if !atBottom {
		r.follow = ""
	}
	r.mu.Unlock()
}

// ForceScroll follows the locally sent message with id: the current view is re-emitted
// scrolled to the bottom, and so are pushed snapshots until one contains the message
func (r *Reconciler) ForceScroll(id string) {
	r.mu.Lock()
	if r.indexLocked(id) < 0 {
		r.follow = id
	}
	r.atBottom = true
	messages := r.messages
	r.mu.Unlock()

	r.emit(r.view(messages, true))
}

// Message returns the message with id from the latest snapshot
func (r *Reconciler) Message(id string) (FeedMessage, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if i := r.indexLocked(id); i >= 0 {
		return r.messages[i], true
	}
	return FeedMessage{}, false
}

func (r *Reconciler) indexLocked(id string) int {
	for i, m := range r.messages {
		if m.ID == id {
			return i
		}
	}
	return -1
}

func (r *Reconciler) view(messages []FeedMessage, scroll bool) View {
	buckets := Group(messages, r.loc)
	LabelBuckets(buckets, r.clock.Now(), r.loc)
	return View{Buckets: buckets, Scroll: scroll}
}

func (r *Reconciler) feedMessage(m Message, authorLabel string) FeedMessage {
	fm := FeedMessage{
		Message:     m,
		AuthorLabel: authorLabel,
		Label:       authorLabel,
		Time:        m.CreatedAt.In(r.loc).Format(timeLayout),
		Own:         m.AuthorID == r.viewer.ID,
		LikeCount:   len(m.Likes),
	}
	if fm.Own {
		fm.Label = SelfLabel
	}
	for _, l := range m.Likes {
		if l.AuthorID == r.viewer.ID {
			fm.LikedByMe = true
			break
		}
	}
	return fm
}

func (r *Reconciler) resolveLabels(ctx context.Context, snapshot []Message) map[string]string {
	var ids []string
	seen := make(map[string]struct{})
	for _, m := range snapshot {
		if _, ok := seen[m.AuthorID]; ok {
			continue
		}
		seen[m.AuthorID] = struct{}{}
		ids = append(ids, m.AuthorID)
	}

	return lookupLabels(ctx, r.logger, r.profiles, ids, r.concurrency)
}

// lookupLabels resolves profile labels concurrently, failed lookups degrade to UnknownLabel
func lookupLabels(ctx context.Context, logger *zap.SugaredLogger, profiles ProfileStore, ids []string, limit int) map[string]string {
	resolved := make([]string, len(ids))
	if limit < 1 {
		limit = 1
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			resolved[i] = lookupLabel(ctx, logger, profiles, id)
			return nil
		})
	}
	_ = g.Wait()

	labels := make(map[string]string, len(ids))
	for i, id := range ids {
		labels[id] = resolved[i]
	}
	return labels
}

func lookupLabel(ctx context.Context, logger *zap.SugaredLogger, profiles ProfileStore, id string) string {
	p, err := profiles.Profile(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrProfileNotFound) {
			logger.Warnf("%v for account %s: %v", ErrLookup, id, err)
		}
		return UnknownLabel
	}

	label := ProfileLabel(p.Email)
	if label == "" {
		return UnknownLabel
	}
	return label
}
