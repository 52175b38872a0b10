package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"chatsync/internal/models"
)

// ErrNotFound is returned when a local row does not exist.
var ErrNotFound = errors.New("not found")

// UpsertConversation stores the header of a conversation snapshot.
// Replacement is wholesale: every field is overwritten.
func (db *DB) UpsertConversation(ctx context.Context, snap *models.ConversationSnapshot) error {
	query := `INSERT INTO conversations (id, status, sector_id, attendant_id, archived, updated_at)
              VALUES (?, ?, ?, ?, ?, ?)
              ON CONFLICT(id) DO UPDATE SET
                status = excluded.status,
                sector_id = excluded.sector_id,
                attendant_id = excluded.attendant_id,
                archived = excluded.archived,
                updated_at = excluded.updated_at`
	_, err := db.db.ExecContext(ctx, query,
		snap.ID, snap.Status, snap.SectorID, snap.AttendantID, snap.Archived, snap.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert conversation: %w", err)
	}
	return nil
}

func (db *DB) GetConversation(ctx context.Context, id string) (*models.ConversationSnapshot, error) {
	query := `SELECT id, status, sector_id, attendant_id, archived, updated_at FROM conversations WHERE id = ?`

	var snap models.ConversationSnapshot
	var sectorID, attendantID sql.NullString
	err := db.db.QueryRowContext(ctx, query, id).Scan(
		&snap.ID, &snap.Status, &sectorID, &attendantID, &snap.Archived, &snap.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	snap.SectorID = sectorID.String
	snap.AttendantID = attendantID.String
	return &snap, nil
}

func (db *DB) DeleteConversation(ctx context.Context, id string) error {
	if _, err := db.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	if _, err := db.db.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete conversation messages: %w", err)
	}
	return nil
}

// InsertMessage stores a locally-created optimistic message.
func (db *DB) InsertMessage(ctx context.Context, msg *models.Message) error {
	query := `INSERT INTO messages (id, conversation_id, sender, body, timestamp, delivery_status)
              VALUES (?, ?, ?, ?, ?, ?)`
	_, err := db.db.ExecContext(ctx, query,
		msg.ID, msg.ConversationID, msg.Sender, msg.Body, msg.Timestamp, msg.DeliveryStatus)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// UpdateMessageDelivery transitions a message out of "sending". Messages
// already in a terminal state are never touched.
func (db *DB) UpdateMessageDelivery(ctx context.Context, id, status string) error {
	query := `UPDATE messages SET delivery_status = ? WHERE id = ? AND delivery_status = ?`
	res, err := db.db.ExecContext(ctx, query, status, id, models.DeliverySending)
	if err != nil {
		return fmt.Errorf("failed to update message delivery: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *DB) GetMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	query := `SELECT id, conversation_id, sender, body, timestamp, delivery_status
              FROM messages WHERE conversation_id = ? ORDER BY timestamp ASC`
	rows, err := db.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var m models.Message
		var ts time.Time
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Sender, &m.Body, &ts, &m.DeliveryStatus); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Timestamp = ts
		msgs = append(msgs, m)
	}
	return msgs, nil
}
