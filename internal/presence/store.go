// Package presence keeps typing flags in a Redis hash and announces changes over Redis pub/sub.
package presence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Config holds Redis connection configuration, parsed from environment variables
type Config struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
	Key      string `env:"TYPING_KEY" envDefault:"chatus:typing"`
	Channel  string `env:"TYPING_CHANNEL" envDefault:"chatus:typing:changed"`
}

// Store implements chat.PresenceStore.
// Key layout:
// {Key}      HASH<account_id, "true"|"false">
// {Channel}  pub/sub channel, payload is the account id that changed
type Store struct {
	logger  *zap.SugaredLogger
	client  *redis.Client
	key     string
	channel string
}

// New connects to Redis and checks the connection
func New(ctx context.Context, logger *zap.SugaredLogger, cfg Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Store{
		logger:  logger,
		client:  client,
		key:     cfg.Key,
		channel: cfg.Channel,
	}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) SetTyping(ctx context.Context, accountID string, typing bool) error {
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.key, accountID, strconv.FormatBool(typing))
	pipe.Publish(ctx, s.channel, accountID)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) RemoveTyping(ctx context.Context, accountID string) error {
	pipe := s.client.TxPipeline()
	pipe.HDel(ctx, s.key, accountID)
	pipe.Publish(ctx, s.channel, accountID)
	_, err := pipe.Exec(ctx)
	return err
}

// Typing returns the full flag map
func (s *Store) Typing(ctx context.Context) (map[string]bool, error) {
	values, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, err
	}

	flags := make(map[string]bool, len(values))
	for id, v := range values {
		typing, err := strconv.ParseBool(v)
		if err != nil {
			s.logger.Warnf("skipping malformed typing flag of %s: %q", id, v)
			continue
		}
		flags[id] = typing
	}
	return flags, nil
}

// SubscribeTyping subscribes before reading the first snapshot so no change is missed
func (s *Store) SubscribeTyping(ctx context.Context) (<-chan map[string]bool, error) {
	sub := s.client.Subscribe(ctx, s.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", s.channel, err)
	}

	snapshot, err := s.Typing(ctx)
	if err != nil {
		_ = sub.Close()
		return nil, err
	}

	ch := make(chan map[string]bool, 1)
	ch <- snapshot

	go s.watch(ctx, sub, ch)

	return ch, nil
}

func (s *Store) watch(ctx context.Context, sub *redis.PubSub, ch chan map[string]bool) {
	defer close(ch)
	defer sub.Close()

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-msgs:
			if !ok {
				return
			}
		}

		snapshot, err := s.Typing(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Errorf("reloading typing flags: %v", err)
			}
			return
		}

		select {
		case <-ch:
		default:
		}
		ch <- snapshot
	}
}
