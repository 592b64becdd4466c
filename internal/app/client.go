package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/AlphaNoXD/pai/internal/client"
	"github.com/AlphaNoXD/pai/internal/config"
	"github.com/AlphaNoXD/pai/internal/database"
	"github.com/AlphaNoXD/pai/internal/repository"
	"github.com/AlphaNoXD/pai/internal/service"
	"github.com/AlphaNoXD/pai/internal/store"
)

// Storage backends for the client's history.
const (
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Client is the assembled chat client.
type Client struct {
	Chat  *service.ChatService
	Store *store.Store

	closers []func() error
}

// Close releases the storage backend.
func (c *Client) Close() error {
	var firstErr error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// NewClient opens the configured storage backend and wires the chat service
// against the relay. The returned client must be closed.
func NewClient(ctx context.Context, cfg *config.ClientConfig, logOut io.Writer) (*Client, error) {
	setupLogger(logOut, cfg.LogLevel)
	logConfigSource(cfg.ConfigFile)

	repo, closer, err := OpenRepository(ctx, cfg)
	if err != nil {
		return nil, err
	}

	c := &Client{closers: []func() error{closer}}
	var opts []store.Option
	if cfg.StorageKey != "" {
		opts = append(opts, store.WithKey(cfg.StorageKey))
	}
	c.Store = store.New(repo, opts...)
	c.Chat = service.NewChatService(c.Store, client.NewRelayClient(cfg.RelayURL, cfg.RequestTimeout))
	return c, nil
}

// OpenRepository opens the backend named by cfg.StoreBackend.
func OpenRepository(ctx context.Context, cfg *config.ClientConfig) (repository.Repository, func() error, error) {
	noop := func() error { return nil }

	switch strings.ToLower(cfg.StoreBackend) {
	case "", BackendSQLite:
		db, err := database.InitDB(cfg.StorePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		slog.Debug("Opened SQLite history store", "path", cfg.StorePath)
		return repository.NewSQLiteRepository(db), db.Close, nil

	case BackendBolt:
		repo, err := repository.NewBoltRepository(cfg.StorePath)
		if err != nil {
			return nil, nil, err
		}
		slog.Debug("Opened bbolt history store", "path", cfg.StorePath)
		return repo, repo.Close, nil

	case BackendRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		slog.Debug("Connected to Redis history store", "addr", cfg.RedisAddr)
		return repository.NewRedisRepository(rdb), rdb.Close, nil

	case BackendMemory:
		return repository.NewMemoryRepository(), noop, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
