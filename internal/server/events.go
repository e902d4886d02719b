package server

import (
	"encoding/json"

	"chatus/internal/chat"

	"github.com/gorilla/websocket"
)

// Event types pushed over /feed/ws
const (
	eventFeed    = "feed"
	eventTyping  = "typing"
	eventNotice  = "notice"
	eventSession = "session"
)

type event struct {
	Type    string        `json:"type"`
	Feed    *feedEvent    `json:"feed,omitempty"`
	Typing  *typingEvent  `json:"typing,omitempty"`
	Notice  string        `json:"notice,omitempty"`
	Session *sessionEvent `json:"session,omitempty"`
}

type feedEvent struct {
	Buckets []bucketEvent `json:"buckets"`
	Scroll  bool          `json:"scroll"`
}

type bucketEvent struct {
	Key      string         `json:"key"`
	Label    string         `json:"label"`
	Messages []messageEvent `json:"messages"`
}

type messageEvent struct {
	ID       string         `json:"id"`
	Author   string         `json:"author"`
	Text     string         `json:"text"`
	ImageURL string         `json:"image_url,omitempty"`
	Reply    *chat.ReplyRef `json:"reply,omitempty"`
	Time     string         `json:"time"`
	Own      bool           `json:"own"`
	Liked    bool           `json:"liked"`
	Likes    int            `json:"likes"`
	Edited   bool           `json:"edited"`
}

type typingEvent struct {
	Labels []string `json:"labels"`
}

type sessionEvent struct {
	Authenticated bool   `json:"authenticated"`
	ID            string `json:"id,omitempty"`
	Label         string `json:"label,omitempty"`
}

func newFeedEvent(v chat.View) event {
	feed := &feedEvent{
		Buckets: make([]bucketEvent, 0, len(v.Buckets)),
		Scroll:  v.Scroll,
	}
	for _, b := range v.Buckets {
		be := bucketEvent{
			Key:      b.Key,
			Label:    b.Label,
			Messages: make([]messageEvent, 0, len(b.Messages)),
		}
		for _, m := range b.Messages {
			be.Messages = append(be.Messages, messageEvent{
				ID:       m.ID,
				Author:   m.Label,
				Text:     m.Text,
				ImageURL: m.ImageURL,
				Reply:    m.Reply,
				Time:     m.Time,
				Own:      m.Own,
				Liked:    m.LikedByMe,
				Likes:    m.LikeCount,
				Edited:   m.EditedAt != nil,
			})
		}
		feed.Buckets = append(feed.Buckets, be)
	}
	return event{Type: eventFeed, Feed: feed}
}

func newTypingEvent(v chat.TypingView) event {
	labels := v.Labels
	if labels == nil {
		labels = []string{}
	}
	return event{Type: eventTyping, Typing: &typingEvent{Labels: labels}}
}

func newSessionEvent(s chat.SessionState) event {
	se := &sessionEvent{}
	if auth, ok := s.(chat.Authenticated); ok {
		se.Authenticated = true
		se.ID = auth.Identity.ID
		se.Label = auth.Identity.Label()
	}
	return event{Type: eventSession, Session: se}
}

// writeJSON writes v as one text frame without HTML escaping
func writeJSON(conn *websocket.Conn, v interface{}) error {
	w, err := conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return w.Close()
}
