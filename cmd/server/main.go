package main

import (
	"context"
	"log"
	"strings"
	"time"

	"chatus/internal/blob"
	"chatus/internal/chat"
	"chatus/internal/memstore"
	"chatus/internal/presence"
	"chatus/internal/server"
	"chatus/internal/storage"

	"github.com/benbjohnson/clock"
	"github.com/caarlos0/env/v6"
	"go.uber.org/zap"
)

const (
	backendPostgres = "postgres"
	backendMemory   = "memory"
)

// appConfig selects the collaborators the server runs with
type appConfig struct {
	Backend string `env:"BACKEND" envDefault:"postgres"`
	// DevAccounts are "email:password" pairs created on start by the memory backend
	DevAccounts []string `env:"DEV_ACCOUNTS" envSeparator:","`
}

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("zap.NewDevelopment: %v", err)
	}
	defer logger.Sync()

	sugar := logger.Sugar()
	sugar.Info("Application is starting")

	var (
		appCfg      appConfig
		serverCfg   server.EnvConfig
		chatCfg     chat.Config
		blobCfg     blob.Config
		storageCfg  storage.Config
		presenceCfg presence.Config
	)
	for _, cfg := range []interface{}{&appCfg, &serverCfg, &chatCfg, &blobCfg} {
		if err := env.Parse(cfg); err != nil {
			sugar.Fatalf("Cannot parse env config: %v", err)
		}
	}

	loc, err := chatCfg.LoadLocation()
	if err != nil {
		sugar.Fatalf("Cannot load feed location: %v", err)
	}

	ctx := context.Background()

	blobs, err := blob.New(ctx, sugar, blobCfg)
	if err != nil {
		sugar.Fatalf("Cannot create blob store: %v", err)
	}

	serverOpts := []server.Option{
		server.WithEnvConfig(serverCfg),
		server.ReadTimeout(5 * time.Second),
		server.TimeoutHandler(30*time.Second, "Request timed out"),
		server.WithChatConfig(chatCfg),
		server.WithChatOptions(chat.WithLocation(loc)),
	}
	if local, ok := blobs.(*blob.LocalStorage); ok {
		serverOpts = append(serverOpts, server.ServeBlobs(blobCfg.PublicURL, local.BasePath()))
	}

	var backend chat.Backend
	switch appCfg.Backend {
	case backendPostgres:
		for _, cfg := range []interface{}{&storageCfg, &presenceCfg} {
			if err := env.Parse(cfg); err != nil {
				sugar.Fatalf("Cannot parse env config: %v", err)
			}
		}

		store, err := storage.New(ctx, sugar, storageCfg.DSN(),
			storage.ConnectionTimeout(30*time.Second),
			storage.MaxConns(storageCfg.MaxConns),
		)
		if err != nil {
			sugar.Fatalf("Cannot create Store instance: %v", err)
		}
		if err := store.Migrate(ctx); err != nil {
			sugar.Fatalf("Cannot apply schema: %v", err)
		}

		typing, err := presence.New(ctx, sugar, presenceCfg)
		if err != nil {
			sugar.Fatalf("Cannot create presence store: %v", err)
		}

		backend = chat.Backend{
			Identity: store,
			Profiles: store,
			Messages: store,
			Presence: typing,
			Blobs:    blobs,
		}
		serverOpts = append(serverOpts,
			server.RegisterAfterShutdown(func() {
				sugar.Info("Closing store")
				store.Close()
				sugar.Info("Store is closed")
			}),
			server.RegisterAfterShutdown(func() {
				if err := typing.Close(); err != nil {
					sugar.Errorf("Closing presence store: %v", err)
				}
			}),
		)

	case backendMemory:
		store := memstore.New(clock.New(), blobCfg.PublicURL)
		for _, pair := range appCfg.DevAccounts {
			email, password, ok := strings.Cut(pair, ":")
			if !ok {
				sugar.Fatalf("DEV_ACCOUNTS entry %q is not email:password", pair)
			}
			if _, err := store.CreateAccount(ctx, email, password); err != nil {
				sugar.Fatalf("Cannot create account %s: %v", email, err)
			}
			sugar.Infof("Created account %s", email)
		}

		backend = store.Backend()
		backend.Blobs = blobs

	default:
		sugar.Fatalf("Unknown BACKEND %q, want %s or %s", appCfg.Backend, backendPostgres, backendMemory)
	}

	srv, err := server.NewServer(sugar, backend, serverOpts...)
	if err != nil {
		sugar.Fatalf("Cannot create Server instance: %v", err)
	}

	if err := srv.Start(); err != nil {
		sugar.Fatalf("Cannot start http srv: %v", err)
	}
}
