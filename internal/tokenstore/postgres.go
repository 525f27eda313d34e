package tokenstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/andresuchdata/gdrive-helper/internal/config"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/sync/semaphore"
)

const createTokenTable = `
	CREATE TABLE IF NOT EXISTS oauth_tokens (
		slot       TEXT PRIMARY KEY,
		token      JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)
`

// PostgresStore keeps one row per slot in oauth_tokens. Writes to the same
// slot are serialized with a transaction-scoped advisory lock.
type PostgresStore struct {
	db   *sqlx.DB
	sem  *semaphore.Weighted
	slot string
}

// OpenPostgres connects using the configured driver ("pgx" or "postgres")
// and configures the pool.
func OpenPostgres(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "pgx"
	}
	if driver != "pgx" && driver != "postgres" {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	db, err := sqlx.Connect(driver, connStr)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", driver, err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

// NewPostgresStore creates the token table if needed.
func NewPostgresStore(ctx context.Context, db *sqlx.DB, slot string) (*PostgresStore, error) {
	if _, err := db.ExecContext(ctx, createTokenTable); err != nil {
		return nil, fmt.Errorf("create oauth_tokens table: %w", err)
	}

	return &PostgresStore{
		db:   db,
		sem:  semaphore.NewWeighted(4),
		slot: slotOrDefault(slot),
	}, nil
}

func (s *PostgresStore) Load(ctx context.Context) (*oauth2.Token, error) {
	var payload []byte
	err := s.db.QueryRowxContext(ctx, `SELECT token FROM oauth_tokens WHERE slot = $1`, s.slot).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // empty slot
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load token: %w", err)
	}

	return decode(payload, "oauth_tokens/"+s.slot)
}

func (s *PostgresStore) Save(ctx context.Context, tok *oauth2.Token) error {
	data, err := encode(tok)
	if err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, s.slot); err != nil {
			return fmt.Errorf("failed to lock slot: %w", err)
		}

		query := `
			INSERT INTO oauth_tokens (slot, token, updated_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (slot)
			DO UPDATE SET token = EXCLUDED.token, updated_at = NOW()
		`
		if _, err := tx.ExecContext(ctx, query, s.slot, string(data)); err != nil {
			return fmt.Errorf("failed to save token: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("could not acquire semaphore: %w", err)
	}
	defer s.sem.Release(1)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Error().Err(rbErr).Msg("could not rollback transaction")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}

	return nil
}

var _ Store = (*PostgresStore)(nil)
