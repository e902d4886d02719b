package storage

import (
	"testing"

	"github.com/caarlos0/env/v6"
	"github.com/stretchr/testify/require"
)

func TestDSN(t *testing.T) {
	config := Config{
		User:     "a",
		Password: "b",
		Host:     "c",
		Port:     5433,
		DBName:   "d",
	}
	expected := "user=a password=b host=c port=5433 dbname=d sslmode=disable"
	require.Equal(t, expected, config.DSN())
}

func TestConfigDefaults(t *testing.T) {
	var config Config
	require.NoError(t, env.Parse(&config))
	require.Equal(t, uint16(5432), config.Port)
	require.Equal(t, "chatus", config.DBName)
}
