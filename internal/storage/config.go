package storage

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

// Config defines fields used for building the connection string, parsed from environment variables
type Config struct {
	User     string `env:"DB_USER" envDefault:"chatus"`
	Password string `env:"DB_PASSWORD" envDefault:"chatus"`
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     uint16 `env:"DB_PORT" envDefault:"5432"`
	DBName   string `env:"DB_NAME" envDefault:"chatus"`
	// MaxConns bounds the pool, the shared message listener holds one connection
	MaxConns int32 `env:"DB_MAX_CONNS" envDefault:"16"`
}

// DSN returns connection string in keyword/value format
func (c Config) DSN() string {
	return fmt.Sprintf("user=%s password=%s host=%s port=%d dbname=%s sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.DBName)
}

type settings struct {
	pool       *pgxpool.Config
	bcryptCost int
}

// Option alters the default configuration used during new Store construction
type Option interface {
	apply(*settings)
}

type optionFunc func(s *settings)

func (f optionFunc) apply(s *settings) { f(s) }

// ConnectionTimeout sets timeout for connection to be established
func ConnectionTimeout(d time.Duration) Option {
	return optionFunc(func(s *settings) {
		s.pool.ConnConfig.ConnectTimeout = d
	})
}

// MaxConns limits the size of the connection pool
func MaxConns(n int32) Option {
	return optionFunc(func(s *settings) {
		s.pool.MaxConns = n
	})
}

// BcryptCost sets the cost of password hashes created by CreateAccount
func BcryptCost(cost int) Option {
	return optionFunc(func(s *settings) {
		if cost < bcrypt.MinCost {
			cost = bcrypt.MinCost
		}
		s.bcryptCost = cost
	})
}
