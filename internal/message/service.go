package message

import (
	"context"
	"errors"
	"log"
	"sort"
)

// Publisher pushes a persisted message to every live session in a user's
// delivery room. Implementations must tolerate empty rooms: a publish with
// no connected members is not an error.
type Publisher interface {
	PublishNewMessage(roomID string, msg *Message) error
}

// Service orchestrates sends and history reads. The delivery channel handle
// is injected at construction so tests can substitute a fake.
type Service struct {
	store Store
	pub   Publisher
}

// NewService creates a Service on top of a store and a delivery publisher.
func NewService(store Store, pub Publisher) *Service {
	return &Service{store: store, pub: pub}
}

// Send validates, persists and fans out one direct message. The message is
// published to the sender's room as well as the receiver's, so the sender's
// other open sessions observe it too. Publish failures do not fail the send:
// durability comes from the store, live delivery is best effort.
func (s *Service) Send(ctx context.Context, senderID, receiverID, body string) (*Message, error) {
	body, err := ValidateSend(senderID, receiverID, body)
	if err != nil {
		return nil, err
	}

	msg, err := s.store.CreateMessage(ctx, senderID, receiverID, body)
	if err != nil {
		return nil, &PersistenceError{Op: "create message", Err: err}
	}

	for _, room := range []string{senderID, receiverID} {
		if err := s.pub.PublishNewMessage(room, msg); err != nil {
			log.Printf("message: publish to room %s failed: %v", room, err)
		}
	}
	return msg, nil
}

// History reconstructs the pairwise conversation between requester and
// counterpart, partitioned into the requester's sent messages and the
// counterpart's. Both partitions are ordered by createdAt ascending with
// insertion order breaking ties. A pair with no conversation yields
// ErrNoConversation; callers surface that as an empty result, not a failure.
func (s *Service) History(ctx context.Context, requesterID, counterpartID string) (*History, error) {
	if requesterID == "" || counterpartID == "" {
		return nil, &ValidationError{Field: "userId", Reason: "missing"}
	}

	conv, err := s.store.Conversation(ctx, requesterID, counterpartID)
	if err != nil {
		if errors.Is(err, ErrNoConversation) {
			return nil, ErrNoConversation
		}
		return nil, &PersistenceError{Op: "load conversation", Err: err}
	}

	msgs, err := s.store.Messages(ctx, conv.ID)
	if err != nil {
		return nil, &PersistenceError{Op: "load messages", Err: err}
	}

	// The partition contract requires chronological order regardless of the
	// order the store returned rows in.
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].Seq < msgs[j].Seq
		}
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})

	hist := &History{
		ConversationID: conv.ID,
		Sent:           []*Message{},
		Received:       []*Message{},
	}
	for _, m := range msgs {
		if m.SenderID == requesterID {
			hist.Sent = append(hist.Sent, m)
		} else {
			hist.Received = append(hist.Received, m)
		}
	}
	return hist, nil
}
