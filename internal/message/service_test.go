package message

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// In-memory fakes
// ---------------------------------------------------------------------------

// memStore is an in-memory Store that mirrors the Postgres semantics:
// find-or-create under a lock, monotonic seq, store-assigned timestamps.
type memStore struct {
	mu      sync.Mutex
	convs   map[string]*Conversation // sorted-pair key -> conversation
	msgs    map[string][]*Message    // conversation ID -> messages in insertion order
	nextSeq int64
	now     func() time.Time
	failing bool // when true, every method returns an error
}

func newMemStore() *memStore {
	var seq int64
	return &memStore{
		convs: make(map[string]*Conversation),
		msgs:  make(map[string][]*Message),
		now: func() time.Time {
			seq++
			return time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(seq) * time.Millisecond)
		},
	}
}

func pairKey(a, b string) string {
	lo, hi := Participants(a, b)
	return lo + "_" + hi
}

func (s *memStore) CreateMessage(ctx context.Context, senderID, receiverID, body string) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failing {
		return nil, errors.New("store unavailable")
	}

	key := pairKey(senderID, receiverID)
	conv, ok := s.convs[key]
	if !ok {
		lo, hi := Participants(senderID, receiverID)
		conv = &Conversation{
			ID:            fmt.Sprintf("conv-%d", len(s.convs)+1),
			ParticipantLo: lo,
			ParticipantHi: hi,
			CreatedAt:     s.now(),
		}
		s.convs[key] = conv
	}

	s.nextSeq++
	msg := &Message{
		ID:             fmt.Sprintf("msg-%d", s.nextSeq),
		ConversationID: conv.ID,
		SenderID:       senderID,
		ReceiverID:     receiverID,
		Body:           body,
		CreatedAt:      s.now(),
		Seq:            s.nextSeq,
	}
	s.msgs[conv.ID] = append(s.msgs[conv.ID], msg)
	return msg, nil
}

func (s *memStore) Conversation(ctx context.Context, a, b string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failing {
		return nil, errors.New("store unavailable")
	}
	conv, ok := s.convs[pairKey(a, b)]
	if !ok {
		return nil, ErrNoConversation
	}
	return conv, nil
}

func (s *memStore) Messages(ctx context.Context, conversationID string) ([]*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failing {
		return nil, errors.New("store unavailable")
	}
	out := make([]*Message, len(s.msgs[conversationID]))
	copy(out, s.msgs[conversationID])
	return out, nil
}

func (s *memStore) conversationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.convs)
}

// fakePublisher records every publish, keyed by room.
type fakePublisher struct {
	mu        sync.Mutex
	published map[string][]*Message
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{published: make(map[string][]*Message)}
}

func (p *fakePublisher) PublishNewMessage(roomID string, msg *Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published[roomID] = append(p.published[roomID], msg)
	return nil
}

func (p *fakePublisher) count(roomID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published[roomID])
}

// ---------------------------------------------------------------------------
// Send
// ---------------------------------------------------------------------------

func TestSendThenHistory(t *testing.T) {
	store := newMemStore()
	pub := newFakePublisher()
	svc := NewService(store, pub)
	ctx := context.Background()

	sent, err := svc.Send(ctx, "alice", "bob", "hello")
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if sent.ID == "" || sent.CreatedAt.IsZero() {
		t.Fatalf("expected store-assigned id and timestamp, got %+v", sent)
	}

	hist, err := svc.History(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(hist.Sent) != 1 {
		t.Fatalf("expected 1 sent message, got %d", len(hist.Sent))
	}
	if len(hist.Received) != 0 {
		t.Fatalf("expected 0 received messages, got %d", len(hist.Received))
	}
	if hist.Sent[0].ID != sent.ID {
		t.Errorf("expected sent message %s, got %s", sent.ID, hist.Sent[0].ID)
	}
}

func TestSendPublishesToBothRooms(t *testing.T) {
	store := newMemStore()
	pub := newFakePublisher()
	svc := NewService(store, pub)

	if _, err := svc.Send(context.Background(), "alice", "bob", "hi"); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	// Self-echo is required: the sender's other sessions must see the message.
	if got := pub.count("alice"); got != 1 {
		t.Errorf("expected 1 publish to sender room, got %d", got)
	}
	if got := pub.count("bob"); got != 1 {
		t.Errorf("expected 1 publish to receiver room, got %d", got)
	}
}

func TestSendValidation(t *testing.T) {
	store := newMemStore()
	pub := newFakePublisher()
	svc := NewService(store, pub)
	ctx := context.Background()

	long := make([]byte, 0, MaxBodyChars+1)
	for i := 0; i <= MaxBodyChars; i++ {
		long = append(long, 'a')
	}

	cases := []struct {
		name     string
		sender   string
		receiver string
		body     string
	}{
		{"empty body", "alice", "bob", ""},
		{"whitespace body", "alice", "bob", "   \n\t "},
		{"over-length body", "alice", "bob", string(long)},
		{"missing sender", "", "bob", "hi"},
		{"missing receiver", "alice", "", "hi"},
		{"self send", "alice", "alice", "hi"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Send(ctx, tc.sender, tc.receiver, tc.body)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}

	// Nothing may reach persistence or the delivery channel.
	if store.conversationCount() != 0 {
		t.Errorf("expected no conversations, got %d", store.conversationCount())
	}
	if pub.count("alice") != 0 || pub.count("bob") != 0 {
		t.Error("expected no publishes for rejected sends")
	}
}

func TestSendTrimsBody(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, newFakePublisher())

	msg, err := svc.Send(context.Background(), "alice", "bob", "  hi there  ")
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if msg.Body != "hi there" {
		t.Errorf("expected trimmed body %q, got %q", "hi there", msg.Body)
	}
}

func TestSendPersistenceFailureSkipsPublish(t *testing.T) {
	store := newMemStore()
	store.failing = true
	pub := newFakePublisher()
	svc := NewService(store, pub)

	_, err := svc.Send(context.Background(), "alice", "bob", "hi")
	var perr *PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}

	// A message that is not durably recorded must never be broadcast.
	if pub.count("alice") != 0 || pub.count("bob") != 0 {
		t.Error("expected no publishes after persistence failure")
	}
}

func TestConcurrentSendsSingleConversation(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, newFakePublisher())
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			// Alternate direction; the pair is unordered.
			if i%2 == 0 {
				svc.Send(ctx, "alice", "bob", fmt.Sprintf("a-%d", i))
			} else {
				svc.Send(ctx, "bob", "alice", fmt.Sprintf("b-%d", i))
			}
		}()
	}
	wg.Wait()

	if got := store.conversationCount(); got != 1 {
		t.Fatalf("expected exactly 1 conversation for the pair, got %d", got)
	}

	hist, err := svc.History(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if total := len(hist.Sent) + len(hist.Received); total != n {
		t.Errorf("expected %d messages total, got %d", n, total)
	}
}

// ---------------------------------------------------------------------------
// History
// ---------------------------------------------------------------------------

func TestHistoryEmptyPair(t *testing.T) {
	svc := NewService(newMemStore(), newFakePublisher())

	_, err := svc.History(context.Background(), "alice", "bob")
	if !errors.Is(err, ErrNoConversation) {
		t.Fatalf("expected ErrNoConversation, got %v", err)
	}
}

func TestHistoryPartitionAndOrder(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, newFakePublisher())
	ctx := context.Background()

	// A sends "hi" at t1; B sends "yo" at t2 > t1.
	if _, err := svc.Send(ctx, "alice", "bob", "hi"); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if _, err := svc.Send(ctx, "bob", "alice", "yo"); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	hist, err := svc.History(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(hist.Sent) != 1 || hist.Sent[0].Body != "hi" {
		t.Fatalf("expected sent=[hi], got %v", bodies(hist.Sent))
	}
	if len(hist.Received) != 1 || hist.Received[0].Body != "yo" {
		t.Fatalf("expected received=[yo], got %v", bodies(hist.Received))
	}

	// The merged chronological view must be [hi, yo].
	merged := append(append([]*Message{}, hist.Sent...), hist.Received...)
	if !merged[0].CreatedAt.Before(merged[1].CreatedAt) {
		t.Error("expected hi before yo in chronological order")
	}

	// The counterpart sees the mirror image.
	histB, err := svc.History(ctx, "bob", "alice")
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(histB.Sent) != 1 || histB.Sent[0].Body != "yo" {
		t.Fatalf("expected bob's sent=[yo], got %v", bodies(histB.Sent))
	}
	if len(histB.Received) != 1 || histB.Received[0].Body != "hi" {
		t.Fatalf("expected bob's received=[hi], got %v", bodies(histB.Received))
	}
}

func TestHistoryChronologicalAcrossManySends(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, newFakePublisher())
	ctx := context.Background()

	const n = 10
	for i := 0; i < n; i++ {
		sender, receiver := "alice", "bob"
		if i%3 == 0 {
			sender, receiver = "bob", "alice"
		}
		if _, err := svc.Send(ctx, sender, receiver, fmt.Sprintf("m-%d", i)); err != nil {
			t.Fatalf("send %d failed: %v", i, err)
		}
	}

	hist, err := svc.History(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}

	merged := append(append([]*Message{}, hist.Sent...), hist.Received...)
	// Re-sort the union the way a consumer would and verify it equals the
	// createdAt order, i.e. each partition was already chronological.
	for i := 1; i < len(hist.Sent); i++ {
		if hist.Sent[i].CreatedAt.Before(hist.Sent[i-1].CreatedAt) {
			t.Fatal("sent partition out of order")
		}
	}
	for i := 1; i < len(hist.Received); i++ {
		if hist.Received[i].CreatedAt.Before(hist.Received[i-1].CreatedAt) {
			t.Fatal("received partition out of order")
		}
	}
	if len(merged) != n {
		t.Fatalf("expected %d messages, got %d", n, len(merged))
	}
}

func bodies(msgs []*Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Body
	}
	return out
}
