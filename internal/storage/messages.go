package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"chatus/internal/chat"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/rs/xid"
)

const messageColumns = `messages.id,
				  messages.author_id,
				  messages.text,
				  messages.image_url,
				  messages.reply,
				  messages.client_key,
				  messages.created_at,
				  messages.edited_at,
				  coalesce((select jsonb_agg(jsonb_build_object('author_id', l.author_id, 'created_at', l.created_at)
									  order by l.created_at)
							  from message_likes l
							 where l.message_id = messages.id), '[]'::jsonb)`

// parseID converts an opaque message id back to its key, ok is false for ids this store never issued
func parseID(id string) (int64, bool) {
	n, err := strconv.ParseInt(id, 10, 64)
	return n, err == nil && n > 0
}

func scanMessage(row pgx.Row) (chat.Message, error) {
	var (
		m     chat.Message
		id    int64
		reply pgtype.JSONB
		likes pgtype.JSONB
	)
	err := row.Scan(&id, &m.AuthorID, &m.Text, &m.ImageURL, &reply, &m.ClientKey, &m.CreatedAt, &m.EditedAt, &likes)
	if err != nil {
		return chat.Message{}, err
	}
	m.ID = strconv.FormatInt(id, 10)

	if reply.Status == pgtype.Present {
		var ref chat.ReplyRef
		if err := json.Unmarshal(reply.Bytes, &ref); err != nil {
			return chat.Message{}, err
		}
		m.Reply = &ref
	}

	if likes.Status == pgtype.Present {
		if err := json.Unmarshal(likes.Bytes, &m.Likes); err != nil {
			return chat.Message{}, err
		}
	}

	return m, nil
}

// Messages returns all messages sorted by creation time (from earliest to latest)
func (s *Store) Messages(ctx context.Context) ([]chat.Message, error) {
	sql := `select ` + messageColumns + `
			 from messages
			order by messages.created_at asc, messages.id asc`

	rows, err := s.db.Query(ctx, sql)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	messages := []chat.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	s.logger.Debugf("Retrieved %d messages", len(messages))

	return messages, nil
}

// AppendMessage inserts the record, a record whose client key was already written returns the existing message
func (s *Store) AppendMessage(ctx context.Context, r chat.Record) (chat.Message, error) {
	if r.ClientKey == "" {
		r.ClientKey = xid.New().String()
	}
	s.logger.Debugf("Creating message from user (id: %s) with key %s", r.AuthorID, r.ClientKey)

	reply := pgtype.JSONB{Status: pgtype.Null}
	if r.Reply != nil {
		b, err := json.Marshal(r.Reply)
		if err != nil {
			return chat.Message{}, err
		}
		reply = pgtype.JSONB{Bytes: b, Status: pgtype.Present}
	}

	var (
		id        int64
		createdAt time.Time
	)
	sql := `insert into messages (author_id, text, image_url, reply, client_key)
			values ($1, $2, $3, $4, $5)
			on conflict (client_key) do nothing
			returning id, created_at`
	err := s.db.QueryRow(ctx, sql, r.AuthorID, r.Text, r.ImageURL, reply, r.ClientKey).Scan(&id, &createdAt)
	if err == nil {
		return chat.Message{
			ID:        strconv.FormatInt(id, 10),
			AuthorID:  r.AuthorID,
			Text:      r.Text,
			ImageURL:  r.ImageURL,
			Reply:     r.Reply,
			ClientKey: r.ClientKey,
			CreatedAt: createdAt,
		}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return chat.Message{}, err
	}

	s.logger.Debugf("Message with key %s already exists", r.ClientKey)

	sql = `select ` + messageColumns + ` from messages where client_key = $1`
	return scanMessage(s.db.QueryRow(ctx, sql, r.ClientKey))
}

// UpdateMessageText replaces the text of a message written by authorID
func (s *Store) UpdateMessageText(ctx context.Context, id, authorID, text string) error {
	key, ok := parseID(id)
	if !ok {
		return chat.ErrMessageNotFound
	}

	sql := "update messages set text = $3, edited_at = now() where id = $1 and author_id = $2"
	ct, err := s.db.Exec(ctx, sql, key, authorID, text)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return chat.ErrMessageNotFound
	}
	return nil
}

// RemoveMessage deletes a message written by authorID together with its likes
func (s *Store) RemoveMessage(ctx context.Context, id, authorID string) error {
	key, ok := parseID(id)
	if !ok {
		return chat.ErrMessageNotFound
	}

	sql := "delete from messages where id = $1 and author_id = $2"
	ct, err := s.db.Exec(ctx, sql, key, authorID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return chat.ErrMessageNotFound
	}
	return nil
}

// SetLike adds or removes the like of authorID on a message
func (s *Store) SetLike(ctx context.Context, messageID, authorID string, liked bool) error {
	key, ok := parseID(messageID)
	if !ok {
		return chat.ErrMessageNotFound
	}

	if !liked {
		sql := "delete from message_likes where message_id = $1 and author_id = $2"
		_, err := s.db.Exec(ctx, sql, key, authorID)
		return err
	}

	sql := "insert into message_likes (message_id, author_id) values ($1, $2) on conflict do nothing"
	_, err := s.db.Exec(ctx, sql, key, authorID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return chat.ErrMessageNotFound
		}
		return err
	}
	return nil
}
