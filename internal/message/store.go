package message

import "context"

// Store is the durable backing for conversations and messages. The Postgres
// implementation lives in postgres.go; tests substitute an in-memory fake.
type Store interface {
	// CreateMessage locates or creates the conversation for the unordered
	// pair {senderID, receiverID} and appends a new message to it. Both
	// writes happen in one transaction: either the message is durably part
	// of the conversation or nothing is visible. The returned message
	// carries the store-assigned ID, timestamp and sequence number.
	CreateMessage(ctx context.Context, senderID, receiverID, body string) (*Message, error)

	// Conversation returns the conversation for the unordered pair, or
	// ErrNoConversation if the pair has never exchanged a message.
	Conversation(ctx context.Context, a, b string) (*Conversation, error)

	// Messages returns every message of the conversation ordered by
	// createdAt ascending, ties broken by insertion order.
	Messages(ctx context.Context, conversationID string) ([]*Message, error)
}
