package db

import (
	"context"
	"fmt"

	"github.com/susu3304/splitbot/internal/ledger"
)

// EnsureParticipant adds or renames a real participant. The weight column
// is left untouched on conflict.
func (db *DB) EnsureParticipant(ctx context.Context, chatID, participantID int64, name string) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO participants (chat_id, participant_id, name, is_virtual)
		 VALUES ($1, $2, $3, FALSE)
		 ON CONFLICT (chat_id, participant_id) DO UPDATE SET name = EXCLUDED.name`,
		chatID, participantID, name,
	)
	return err
}

// AddVirtualParticipant allocates the next id from the chat's decreasing
// virtual sequence and inserts the participant, atomically.
func (db *DB) AddVirtualParticipant(ctx context.Context, chatID int64, name string) (int64, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var seq int64
	if err := tx.QueryRow(ctx,
		`SELECT virtual_seq FROM chats WHERE chat_id = $1 FOR UPDATE`, chatID,
	).Scan(&seq); err != nil {
		return 0, fmt.Errorf("failed to read virtual sequence: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO participants (chat_id, participant_id, name, is_virtual, weight)
		 VALUES ($1, $2, $3, TRUE, 1.0)`,
		chatID, seq, name,
	); err != nil {
		return 0, err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE chats SET virtual_seq = $2 WHERE chat_id = $1`, chatID, seq-1,
	); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return seq, nil
}

// SetWeight updates a participant's share multiplier.
func (db *DB) SetWeight(ctx context.Context, chatID, participantID int64, weight float64) error {
	ct, err := db.pool.Exec(ctx,
		`UPDATE participants SET weight = $3 WHERE chat_id = $1 AND participant_id = $2`,
		chatID, participantID, weight,
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("participant %d not found in chat %d", participantID, chatID)
	}
	return nil
}

// Participants returns all participants for a chat ordered by id.
func (db *DB) Participants(ctx context.Context, chatID int64) ([]ledger.Participant, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT participant_id, name, weight, is_virtual
		 FROM participants WHERE chat_id = $1 ORDER BY participant_id`,
		chatID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Participant
	for rows.Next() {
		var p ledger.Participant
		if err := rows.Scan(&p.ID, &p.Name, &p.Weight, &p.Virtual); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
