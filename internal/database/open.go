// Package database provides the message and profile stores: in-memory,
// BadgerDB and SurrealDB.
package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nfrund/chaats/internal/config"
	"github.com/nfrund/chaats/internal/domain"
)

// Store is a backend holding both messages and profiles.
type Store interface {
	domain.MessageStore
	domain.ProfileStore
}

// Stores is an opened backend.
type Stores struct {
	Store
	driver string
	ping   func(context.Context) error
	close  func() error
}

// Driver returns the configured STORE_DRIVER.
func (s *Stores) Driver() string { return s.driver }

// Ping reports whether the backend is usable.
func (s *Stores) Ping(ctx context.Context) error {
	if s.ping == nil {
		return nil
	}
	return s.ping(ctx)
}

// Close releases the backend.
func (s *Stores) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

const healthCheckInterval = 30 * time.Second

// Open opens the backend selected by cfg.StoreDriver and seeds profiles from
// cfg.ProfilesFile when it is set.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Stores, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var stores *Stores
	switch cfg.StoreDriver {
	case config.StoreMemory:
		stores = &Stores{Store: NewMemoryStore()}
	case config.StoreBadger:
		b, err := OpenBadger(BadgerOptions{Path: cfg.BadgerPath, Logger: logger})
		if err != nil {
			return nil, err
		}
		stores = &Stores{Store: b, ping: b.Ping, close: b.Close}
	case config.StoreSurreal:
		conn := NewConnection(SurrealConfig{
			URL:       cfg.DBUrl,
			Namespace: cfg.DBNs,
			Database:  cfg.DBDb,
			Username:  cfg.DBUser,
			Password:  cfg.DBPass,
		}, logger)
		if err := conn.Connect(ctx); err != nil {
			return nil, err
		}
		conn.StartMonitoring(healthCheckInterval)
		s := NewSurrealStore(conn)
		stores = &Stores{Store: s, ping: s.Ping, close: func() error { return conn.Close(context.Background()) }}
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
	stores.driver = cfg.StoreDriver

	if cfg.ProfilesFile != "" {
		profiles, err := LoadProfiles(cfg.ProfilesFile)
		if err == nil {
			err = Seed(ctx, stores, profiles)
		}
		if err != nil {
			_ = stores.Close()
			return nil, err
		}
		logger.Info("Seeded profiles", "count", len(profiles), "file", cfg.ProfilesFile)
	}

	logger.Info("Store opened", "driver", cfg.StoreDriver)
	return stores, nil
}
