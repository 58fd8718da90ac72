// Package message implements the direct-message core: conversation and
// message persistence, send orchestration, and pairwise history
// reconstruction. Delivery to live sessions happens through a Publisher
// injected at construction time.
package message

import "time"

// Message is a single immutable direct message. Seq is the store-assigned
// insertion counter used to break createdAt ties deterministically.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	ReceiverID     string    `json:"receiverId"`
	Body           string    `json:"message"`
	CreatedAt      time.Time `json:"createdAt"`
	Seq            int64     `json:"-"`
}

// Conversation is the durable record of a pairwise exchange. Participants
// are stored as the lexicographically sorted pair so that at most one
// conversation can exist per unordered pair.
type Conversation struct {
	ID            string
	ParticipantLo string
	ParticipantHi string
	CreatedAt     time.Time
}

// Participants returns the sorted pair for the two user IDs.
func Participants(a, b string) (lo, hi string) {
	if a < b {
		return a, b
	}
	return b, a
}

// History is the result of a pairwise history lookup, partitioned by the
// requesting side. Merging into a single chronological timeline is the
// consumer's job.
type History struct {
	ConversationID string
	Sent           []*Message // messages the requester sent, createdAt ascending
	Received       []*Message // messages the counterpart sent, createdAt ascending
}
