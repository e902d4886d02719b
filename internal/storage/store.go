package storage

import (
	"context"
	_ "embed"
	"errors"
	"strings"

	"chatus/internal/chat"
	"chatus/internal/storage/zapadapter"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

//go:embed schema.sql
var schema string

// Store implements chat.IdentityService, chat.ProfileStore and chat.MessageStore on PostgreSQL
type Store struct {
	logger     *zap.SugaredLogger
	db         *pgxpool.Pool
	bcryptCost int

	// ctx bounds the shared listener, it is cancelled by Close
	ctx    context.Context
	cancel context.CancelFunc
	feed   messageFeed
}

// New sets provided zap.Logger via zapadapter to pgxpool.Pool and returns instance of Store struct
func New(ctx context.Context, logger *zap.SugaredLogger, dsn string, opts ...Option) (*Store, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	config.ConnConfig.Logger = zapadapter.NewLogger(logger.Desugar())

	s := settings{pool: config, bcryptCost: bcrypt.DefaultCost}
	for _, opt := range opts {
		opt.apply(&s)
	}

	pool, err := pgxpool.ConnectConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	storeCtx, cancel := context.WithCancel(context.Background())

	return &Store{
		logger:     logger,
		db:         pool,
		bcryptCost: s.bcryptCost,
		ctx:        storeCtx,
		cancel:     cancel,
		feed:       messageFeed{subs: make(map[chan []chat.Message]struct{})},
	}, nil
}

// Close stops the message listener, closing every subscription, and closes all connections in the pool
func (s *Store) Close() {
	s.cancel()
	s.db.Close()
}

// Migrate creates tables, indexes and notification triggers if they do not exist
func (s *Store) Migrate(ctx context.Context) error {
	s.logger.Debug("Applying schema")

	_, err := s.db.Exec(ctx, schema)
	return err
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateAccount registers credentials and returns the new identity
func (s *Store) CreateAccount(ctx context.Context, email, password string) (chat.Identity, error) {
	email = normalizeEmail(email)
	s.logger.Debugf("Creating account (%s)", email)

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return chat.Identity{}, err
	}

	id := uuid.NewString()
	sql := "insert into accounts (id, email, password_hash) values ($1, $2, $3)"
	_, err = s.db.Exec(ctx, sql, id, email, hash)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return chat.Identity{}, chat.ErrAccountExists
		}
		return chat.Identity{}, err
	}

	s.logger.Debugf("Created account (%s) with id %s", email, id)

	return chat.Identity{ID: id, Email: email}, nil
}

// SignIn checks the password against the stored hash
func (s *Store) SignIn(ctx context.Context, email, password string) (chat.Identity, error) {
	email = normalizeEmail(email)

	var (
		id   string
		hash []byte
	)
	sql := "select id, password_hash from accounts where email = $1"
	err := s.db.QueryRow(ctx, sql, email).Scan(&id, &hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return chat.Identity{}, chat.ErrInvalidCredentials
		}
		return chat.Identity{}, err
	}

	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return chat.Identity{}, chat.ErrInvalidCredentials
	}

	return chat.Identity{ID: id, Email: email}, nil
}

// SignOut has nothing to revoke, sessions are held by the caller
func (s *Store) SignOut(_ context.Context, id chat.Identity) error {
	s.logger.Debugf("Signed out account (id: %s)", id.ID)
	return nil
}

// Profile returns the profile stored for accountID
func (s *Store) Profile(ctx context.Context, accountID string) (chat.Profile, error) {
	var p chat.Profile
	sql := "select email from users where id = $1"
	err := s.db.QueryRow(ctx, sql, accountID).Scan(&p.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return chat.Profile{}, chat.ErrProfileNotFound
		}
		return chat.Profile{}, err
	}
	return p, nil
}

// SetProfile creates or overwrites the profile of accountID
func (s *Store) SetProfile(ctx context.Context, accountID string, p chat.Profile) error {
	s.logger.Debugf("Saving profile (id: %s)", accountID)

	sql := `insert into users (id, email) values ($1, $2)
			on conflict (id) do update set email = excluded.email, updated_at = now()`
	_, err := s.db.Exec(ctx, sql, accountID, p.Email)
	return err
}
