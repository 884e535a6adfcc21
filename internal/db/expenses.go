package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/susu3304/splitbot/internal/ledger"
)

const expenseColumns = `id, chat_id, payer_id, amount, description, category, ts,
	COALESCE(original_amount, 0), COALESCE(original_currency, ''), fx_rate, fx_fallback`

// InsertExpense persists one expense together with the participant weight
// snapshots in a single transaction, assigning the next per-chat id.
func (db *DB) InsertExpense(ctx context.Context, e *ledger.Expense, participantIDs []int64) (int64, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id int64
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(id), 0) + 1 FROM expenses WHERE chat_id = $1`, e.ChatID,
	).Scan(&id); err != nil {
		return 0, err
	}

	var originalAmount *float64
	var originalCurrency *string
	if e.OriginalCurrency != "" {
		originalAmount = &e.OriginalAmount
		originalCurrency = &e.OriginalCurrency
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO expenses (chat_id, id, payer_id, amount, description, category, ts,
		                       original_amount, original_currency, fx_rate, fx_fallback)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ChatID, id, e.PayerID, e.Amount, e.Description, e.Category, e.Timestamp,
		originalAmount, originalCurrency, e.FXRate, e.FXFallback,
	); err != nil {
		return 0, err
	}

	// Snapshot current weights; unknown participants default to 1.0.
	weights := make(map[int64]float64, len(participantIDs))
	rows, err := tx.Query(ctx,
		`SELECT participant_id, weight FROM participants WHERE chat_id = $1 AND participant_id = ANY($2)`,
		e.ChatID, participantIDs,
	)
	if err != nil {
		return 0, err
	}
	for rows.Next() {
		var pid int64
		var w float64
		if err := rows.Scan(&pid, &w); err != nil {
			rows.Close()
			return 0, err
		}
		weights[pid] = w
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, pid := range participantIDs {
		w, ok := weights[pid]
		if !ok {
			w = 1.0
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO expense_shares (chat_id, expense_id, participant_id, weight)
			 VALUES ($1, $2, $3, $4) ON CONFLICT DO NOTHING`,
			e.ChatID, id, pid, w,
		); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return id, nil
}

// NextExpenseID previews the id the next expense in the chat will get.
func (db *DB) NextExpenseID(ctx context.Context, chatID int64) (int64, error) {
	var id int64
	err := db.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(id), 0) + 1 FROM expenses WHERE chat_id = $1`, chatID,
	).Scan(&id)
	return id, err
}

// Expenses returns the full history with weight snapshots, ordered by id.
func (db *DB) Expenses(ctx context.Context, chatID int64) ([]ledger.Expense, error) {
	rows, err := db.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM expenses WHERE chat_id = $1 ORDER BY id`, expenseColumns),
		chatID,
	)
	if err != nil {
		return nil, err
	}
	expenses, err := scanExpenses(rows)
	if err != nil {
		return nil, err
	}
	if len(expenses) == 0 {
		return nil, nil
	}

	byID := make(map[int64]*ledger.Expense, len(expenses))
	for i := range expenses {
		byID[expenses[i].ID] = &expenses[i]
	}
	shareRows, err := db.pool.Query(ctx,
		`SELECT expense_id, participant_id, weight
		 FROM expense_shares WHERE chat_id = $1 ORDER BY expense_id, participant_id`,
		chatID,
	)
	if err != nil {
		return nil, err
	}
	defer shareRows.Close()
	for shareRows.Next() {
		var expenseID int64
		var sh ledger.Share
		if err := shareRows.Scan(&expenseID, &sh.ParticipantID, &sh.Weight); err != nil {
			return nil, err
		}
		if e, ok := byID[expenseID]; ok {
			e.Shares = append(e.Shares, sh)
		}
	}
	if err := shareRows.Err(); err != nil {
		return nil, err
	}
	return expenses, nil
}

// ListExpenses returns one page of expenses, newest first, without shares.
func (db *DB) ListExpenses(ctx context.Context, chatID int64, limit, offset int) ([]ledger.Expense, error) {
	rows, err := db.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM expenses WHERE chat_id = $1 ORDER BY id DESC LIMIT $2 OFFSET $3`, expenseColumns),
		chatID, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	return scanExpenses(rows)
}

// CountExpenses returns the total number of expenses recorded for a chat.
func (db *DB) CountExpenses(ctx context.Context, chatID int64) (int, error) {
	var n int
	err := db.pool.QueryRow(ctx,
		`SELECT COUNT(1) FROM expenses WHERE chat_id = $1`, chatID,
	).Scan(&n)
	return n, err
}

// CategoryTotals sums spend per category, largest first.
func (db *DB) CategoryTotals(ctx context.Context, chatID int64) ([]ledger.CategoryTotal, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT category, SUM(amount) FROM expenses WHERE chat_id = $1
		 GROUP BY category ORDER BY SUM(amount) DESC`,
		chatID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.CategoryTotal
	for rows.Next() {
		var t ledger.CategoryTotal
		if err := rows.Scan(&t.Category, &t.Total); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanExpenses(rows pgx.Rows) ([]ledger.Expense, error) {
	defer rows.Close()
	var out []ledger.Expense
	for rows.Next() {
		var e ledger.Expense
		if err := rows.Scan(
			&e.ID, &e.ChatID, &e.PayerID, &e.Amount, &e.Description, &e.Category,
			&e.Timestamp, &e.OriginalAmount, &e.OriginalCurrency, &e.FXRate, &e.FXFallback,
		); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
