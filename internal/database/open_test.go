package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nfrund/chaats/internal/config"
	"github.com/nfrund/chaats/internal/logging"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("memory with seed", func(t *testing.T) {
		req := require.New(t)
		cfg := &config.Config{
			StoreDriver:  config.StoreMemory,
			ProfilesFile: writeFile(t, "profiles:\n  - id: 1\n    username: alice\n"),
		}
		stores, err := Open(ctx, cfg, logging.Discard())
		req.NoError(err)
		defer stores.Close()

		req.Equal(config.StoreMemory, stores.Driver())
		req.NoError(stores.Ping(ctx))
		p, err := stores.Get(ctx, 1)
		req.NoError(err)
		req.Equal("alice", p.Username)
	})

	t.Run("badger on disk", func(t *testing.T) {
		req := require.New(t)
		cfg := &config.Config{
			StoreDriver: config.StoreBadger,
			BadgerPath:  filepath.Join(t.TempDir(), "db"),
		}
		stores, err := Open(ctx, cfg, logging.Discard())
		req.NoError(err)
		req.NoError(stores.Ping(ctx))
		_, err = stores.Create(ctx, 1, 2, "hi")
		req.NoError(err)
		req.NoError(stores.Close())
		req.Error(stores.Ping(ctx))
	})

	t.Run("bad seed file closes the store", func(t *testing.T) {
		cfg := &config.Config{
			StoreDriver:  config.StoreMemory,
			ProfilesFile: writeFile(t, "profiles:\n  - id: -1\n"),
		}
		_, err := Open(ctx, cfg, logging.Discard())
		require.Error(t, err)
	})

	t.Run("unknown driver", func(t *testing.T) {
		_, err := Open(ctx, &config.Config{StoreDriver: "mongo"}, logging.Discard())
		require.ErrorContains(t, err, "unknown store driver")
	})
}
