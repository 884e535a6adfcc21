package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type DB struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*DB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{pool: pool}, nil
}

func (db *DB) Close() {
	db.pool.Close()
}

// RunMigrations creates the ledger schema.
func (db *DB) RunMigrations(ctx context.Context) error {
	_, err := db.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS chats (
			chat_id BIGINT PRIMARY KEY,
			currency TEXT NOT NULL,
			virtual_seq BIGINT NOT NULL DEFAULT -1,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS participants (
			chat_id BIGINT NOT NULL REFERENCES chats(chat_id),
			participant_id BIGINT NOT NULL,
			name TEXT NOT NULL,
			is_virtual BOOLEAN NOT NULL DEFAULT FALSE,
			weight DOUBLE PRECISION NOT NULL DEFAULT 1.0,
			PRIMARY KEY (chat_id, participant_id)
		);
		CREATE TABLE IF NOT EXISTS expenses (
			chat_id BIGINT NOT NULL,
			id BIGINT NOT NULL,
			payer_id BIGINT NOT NULL,
			amount DOUBLE PRECISION NOT NULL,
			description TEXT NOT NULL,
			category TEXT NOT NULL,
			ts TIMESTAMPTZ NOT NULL,
			original_amount DOUBLE PRECISION,
			original_currency TEXT,
			fx_rate DOUBLE PRECISION,
			fx_fallback BOOLEAN NOT NULL DEFAULT FALSE,
			PRIMARY KEY (chat_id, id)
		);
		CREATE INDEX IF NOT EXISTS idx_expenses_chat_ts ON expenses(chat_id, ts DESC);
		CREATE TABLE IF NOT EXISTS expense_shares (
			chat_id BIGINT NOT NULL,
			expense_id BIGINT NOT NULL,
			participant_id BIGINT NOT NULL,
			weight DOUBLE PRECISION NOT NULL DEFAULT 1.0,
			PRIMARY KEY (chat_id, expense_id, participant_id)
		);
	`)
	return err
}
