package testing

import (
	"strconv"
	"time"

	"chatus/internal/chat"
)

// FeedMessages builds n feed messages from author starting at start and spaced by step
func FeedMessages(author string, n int, start time.Time, step time.Duration) []chat.FeedMessage {
	out := make([]chat.FeedMessage, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, chat.FeedMessage{
			Message: chat.Message{
				ID:        strconv.Itoa(i + 1),
				AuthorID:  author,
				Text:      "message " + strconv.Itoa(i+1),
				CreatedAt: start.Add(time.Duration(i) * step),
			},
		})
	}
	return out
}
