package message

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PostgresStore is the production Store backed by PostgreSQL. The schema is
// managed by the migrations under migrations/.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store on top of an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// CreateMessage finds or creates the pair's conversation and inserts the
// message in a single transaction. The unique index on the sorted
// participant pair makes concurrent first-sends converge on one
// conversation: the losing insert is a no-op and the follow-up select
// observes the winner's row.
func (s *PostgresStore) CreateMessage(ctx context.Context, senderID, receiverID, body string) (*Message, error) {
	lo, hi := Participants(senderID, receiverID)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("message: begin tx: %w", err)
	}
	defer tx.Rollback()

	convID := uuid.New().String()
	const insertConv = `
		INSERT INTO conversations (id, participant_lo, participant_hi)
		VALUES ($1, $2, $3)
		ON CONFLICT (participant_lo, participant_hi) DO NOTHING`
	if _, err := tx.ExecContext(ctx, insertConv, convID, lo, hi); err != nil {
		return nil, fmt.Errorf("message: insert conversation: %w", err)
	}

	const selectConv = `
		SELECT id FROM conversations
		WHERE participant_lo = $1 AND participant_hi = $2`
	if err := tx.QueryRowContext(ctx, selectConv, lo, hi).Scan(&convID); err != nil {
		return nil, fmt.Errorf("message: select conversation: %w", err)
	}

	msg := &Message{
		ID:             uuid.New().String(),
		ConversationID: convID,
		SenderID:       senderID,
		ReceiverID:     receiverID,
		Body:           body,
	}

	const insertMsg = `
		INSERT INTO messages (id, conversation_id, sender_id, receiver_id, body)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, seq`
	err = tx.QueryRowContext(ctx, insertMsg,
		msg.ID, msg.ConversationID, msg.SenderID, msg.ReceiverID, msg.Body,
	).Scan(&msg.CreatedAt, &msg.Seq)
	if err != nil {
		return nil, fmt.Errorf("message: insert message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("message: commit: %w", err)
	}
	return msg, nil
}

// Conversation looks up the conversation for an unordered pair.
func (s *PostgresStore) Conversation(ctx context.Context, a, b string) (*Conversation, error) {
	lo, hi := Participants(a, b)

	const query = `
		SELECT id, participant_lo, participant_hi, created_at
		FROM conversations
		WHERE participant_lo = $1 AND participant_hi = $2`

	var conv Conversation
	err := s.db.QueryRowContext(ctx, query, lo, hi).Scan(
		&conv.ID, &conv.ParticipantLo, &conv.ParticipantHi, &conv.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoConversation
	}
	if err != nil {
		return nil, fmt.Errorf("message: select conversation: %w", err)
	}
	return &conv, nil
}

// Messages loads a conversation's messages in chronological order. The seq
// column breaks createdAt ties so the order is stable across reads.
func (s *PostgresStore) Messages(ctx context.Context, conversationID string) ([]*Message, error) {
	const query = `
		SELECT id, conversation_id, sender_id, receiver_id, body, created_at, seq
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC, seq ASC`

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("message: select messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		var (
			m  Message
			ts time.Time
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.ReceiverID, &m.Body, &ts, &m.Seq); err != nil {
			return nil, fmt.Errorf("message: scan message: %w", err)
		}
		m.CreatedAt = ts
		msgs = append(msgs, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("message: iterate messages: %w", err)
	}
	return msgs, nil
}
