package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/susu3304/splitbot/internal/ledger"
)

// EnsureChat inserts the chat scope if it does not exist yet.
func (db *DB) EnsureChat(ctx context.Context, chatID int64, currency string) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO chats (chat_id, currency) VALUES ($1, $2)
		 ON CONFLICT (chat_id) DO NOTHING`,
		chatID, currency,
	)
	return err
}

// Chat returns the chat row, or nil when absent.
func (db *DB) Chat(ctx context.Context, chatID int64) (*ledger.Chat, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT chat_id, currency, virtual_seq FROM chats WHERE chat_id = $1`, chatID)
	var c ledger.Chat
	if err := row.Scan(&c.ID, &c.Currency, &c.VirtualSeq); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// SetCurrency updates the chat base currency.
func (db *DB) SetCurrency(ctx context.Context, chatID int64, currency string) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE chats SET currency = $2 WHERE chat_id = $1`, chatID, currency)
	return err
}

// ResetChat wipes expenses and participants and restarts the virtual
// sequence, keeping the chat row and currency.
func (db *DB) ResetChat(ctx context.Context, chatID int64) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM expense_shares WHERE chat_id = $1`, chatID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM expenses WHERE chat_id = $1`, chatID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM participants WHERE chat_id = $1`, chatID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE chats SET virtual_seq = -1 WHERE chat_id = $1`, chatID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
