package tokenstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/andresuchdata/gdrive-helper/internal/config"
	"github.com/rs/zerolog/log"
)

// Open builds the store selected by cfg.TokenStore.Backend. The returned
// close function releases any connection the backend holds and is never nil.
func Open(ctx context.Context, cfg *config.Config) (Store, func() error, error) {
	noop := func() error { return nil }
	slot := cfg.TokenStore.Slot
	backend := strings.ToLower(strings.TrimSpace(cfg.TokenStore.Backend))

	log.Debug().Str("backend", backend).Str("slot", slotOrDefault(slot)).Msg("opening token store")

	switch backend {
	case "", "file":
		return NewFileStore(cfg.TokenStore.Path), noop, nil
	case "memory":
		return NewMemoryStore(), noop, nil
	case "keyring":
		return NewKeyringStore(cfg.TokenStore.KeyringService, slot), noop, nil
	case "redis":
		client, err := DialRedis(cfg.Cache)
		if err != nil {
			return nil, noop, err
		}
		return NewRedisStore(client, slot), client.Close, nil
	case "postgres":
		db, err := OpenPostgres(cfg.Database)
		if err != nil {
			return nil, noop, err
		}
		store, err := NewPostgresStore(ctx, db, slot)
		if err != nil {
			_ = db.Close()
			return nil, noop, err
		}
		return store, db.Close, nil
	case "s3":
		backend, err := NewS3Backend(cfg.Object)
		if err != nil {
			return nil, noop, err
		}
		return NewObjectStore(backend, slot), noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown token store backend %q", cfg.TokenStore.Backend)
	}
}
