// Package client reconciles the two message feeds a Courier client consumes:
// the history fetched over HTTP when a conversation is opened, and the live
// pushes arriving over the WebSocket delivery channel. The two feeds overlap
// and race, so the reconciler deduplicates by message ID, buffers pushes for
// conversations the user has not opened, and keeps each conversation view in
// chronological order.
package client

import (
	"sort"
	"strings"
	"sync"

	"github.com/courier/dm-server/internal/message"
	"github.com/courier/dm-server/internal/protocol"
)

// State is the lifecycle of one conversation view.
type State int

const (
	// StateIdle means the conversation has never been opened. Pushes for it
	// are buffered.
	StateIdle State = iota
	// StateLoading means the view is open and a history fetch is in flight.
	// Pushes keep buffering until the history lands.
	StateLoading
	// StateReady means history has been applied and pushes merge directly
	// into the view.
	StateReady
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// CanonicalKey identifies a conversation by its participant pair, independent
// of direction. Both (a,b) and (b,a) map to the same key.
func CanonicalKey(a, b string) string {
	lo, hi := message.Participants(a, b)
	return strings.Join([]string{lo, hi}, "_")
}

// view holds the reconciled state of one conversation. seen tracks the IDs
// present in msgs; pending holds pushes awaiting the next history merge.
type view struct {
	state   State
	msgs    []*message.Message
	seen    map[string]bool
	pending []*message.Message
}

// Reconciler merges history fetches and live pushes into per-conversation
// message lists. Safe for concurrent use: the WebSocket read loop applies
// pushes while the UI goroutine opens views and reads them.
type Reconciler struct {
	mu     sync.Mutex
	selfID string
	views  map[string]*view
}

// NewReconciler creates a reconciler for the given local user.
func NewReconciler(selfID string) *Reconciler {
	return &Reconciler{
		selfID: selfID,
		views:  make(map[string]*view),
	}
}

func (r *Reconciler) viewFor(key string) *view {
	v, ok := r.views[key]
	if !ok {
		v = &view{seen: make(map[string]bool)}
		r.views[key] = v
	}
	return v
}

// State reports the lifecycle state of the conversation with otherID.
func (r *Reconciler) State(otherID string) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.views[CanonicalKey(r.selfID, otherID)]
	if !ok {
		return StateIdle
	}
	return v.state
}

// Open marks the conversation with otherID as loading and clears its
// displayed messages; the refetched history is authoritative. The caller is
// expected to fetch history and hand it to ApplyHistory. Pushes arriving
// while the fetch is in flight buffer and merge in with the fetched result.
func (r *Reconciler) Open(otherID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := r.viewFor(CanonicalKey(r.selfID, otherID))
	v.state = StateLoading
	v.msgs = nil
	v.seen = make(map[string]bool)
}

// ApplyHistory merges a fetched history into the view for otherID and marks
// it ready. Pushes buffered while the fetch was in flight are folded in, with
// duplicates between the feeds collapsed by message ID.
func (r *Reconciler) ApplyHistory(otherID string, hist *message.History) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v := r.viewFor(CanonicalKey(r.selfID, otherID))
	for _, m := range hist.Sent {
		r.insert(v, m)
	}
	for _, m := range hist.Received {
		r.insert(v, m)
	}
	for _, m := range v.pending {
		r.insert(v, m)
	}
	v.pending = nil
	v.state = StateReady
	sortByCreatedAt(v.msgs)
}

// ApplyPush feeds one live delivery event into the reconciler. The event is
// routed to the conversation view of its participant pair. Returns true when
// the message landed in a ready view, false when it was buffered or was a
// duplicate.
func (r *Reconciler) ApplyPush(ev protocol.NewMessageMsg) bool {
	m := &message.Message{
		ID:             ev.ID,
		ConversationID: ev.ConversationID,
		SenderID:       ev.SenderID,
		ReceiverID:     ev.ReceiverID,
		Body:           ev.Message,
		CreatedAt:      ev.CreatedAt,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	v := r.viewFor(CanonicalKey(ev.SenderID, ev.ReceiverID))
	if v.state != StateReady {
		for _, p := range v.pending {
			if p.ID == m.ID {
				return false
			}
		}
		v.pending = append(v.pending, m)
		return false
	}
	if !r.insert(v, m) {
		return false
	}
	sortByCreatedAt(v.msgs)
	return true
}

// insert adds m to the view unless its ID was already seen. Caller holds the
// lock. Does not re-sort.
func (r *Reconciler) insert(v *view, m *message.Message) bool {
	if m.ID == "" || v.seen[m.ID] {
		return false
	}
	v.seen[m.ID] = true
	v.msgs = append(v.msgs, m)
	return true
}

// Messages returns the reconciled, chronologically ordered messages of the
// conversation with otherID. The returned slice is a copy.
func (r *Reconciler) Messages(otherID string) []*message.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.views[CanonicalKey(r.selfID, otherID)]
	if !ok {
		return nil
	}
	out := make([]*message.Message, len(v.msgs))
	copy(out, v.msgs)
	return out
}

// PendingCount reports how many pushes are buffered for the conversation with
// otherID. Useful for unread badges on unopened conversations.
func (r *Reconciler) PendingCount(otherID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.views[CanonicalKey(r.selfID, otherID)]
	if !ok {
		return 0
	}
	return len(v.pending)
}

// sortByCreatedAt orders messages chronologically. Insertion order breaks
// ties, so two pushes with the same timestamp keep their arrival order.
func sortByCreatedAt(msgs []*message.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}
