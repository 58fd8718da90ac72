// Package room implements the delivery channel's room layer: the ephemeral
// grouping of live connections by owning user identity. A room exists only
// while at least one of the user's connections is joined; publishes reach
// every currently-joined connection and nothing else. There is no replay —
// durable history comes from the message store, not the channel.
package room

import (
	"log"
	"sync"

	"github.com/courier/dm-server/internal/message"
	"github.com/courier/dm-server/internal/messaging"
	"github.com/courier/dm-server/internal/metrics"
	"github.com/courier/dm-server/internal/protocol"
)

// WriteFunc delivers one encoded event to a single connection.
type WriteFunc func(data []byte) error

// member is one joined connection inside a room.
type member struct {
	connID string
	write  WriteFunc
}

// roomState carries a room's local membership together with its broker
// subscription state. subMu serializes broker subscribe and unsubscribe
// calls for the room, so a leave's in-flight unsubscribe can never tear down
// the subscription a racing join just established. subscribed is guarded by
// Hub.mu.
type roomState struct {
	members    map[string]*member
	subMu      sync.Mutex
	subscribed bool
}

// Hub tracks room membership on this gateway instance and bridges rooms to
// the broker: a room is subscribed while it has local members and
// unsubscribed once it empties. Events arriving from the broker are fanned
// out to every local member of the room.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]*roomState // roomID -> state
	conns  map[string]string     // connID -> roomID
	active int                   // rooms with at least one member
	broker messaging.Broker
}

// NewHub creates a Hub on top of the given broker.
func NewHub(broker messaging.Broker) *Hub {
	return &Hub{
		rooms:  make(map[string]*roomState),
		conns:  make(map[string]string),
		broker: broker,
	}
}

// Join adds a connection to the room identified by roomID (the owning user's
// identity, trusted because the caller authenticated the session before
// opening the delivery connection). A user with several open sessions has
// several connections in the same room; all of them receive every publish.
// Re-joining moves the connection to the new room. On a subscription failure
// the membership is rolled back so the room never holds members the broker
// will not feed.
func (h *Hub) Join(connID, roomID string, write WriteFunc) error {
	h.mu.Lock()
	if prev, ok := h.conns[connID]; ok {
		if prev == roomID {
			h.mu.Unlock()
			return nil
		}
		prevState := h.rooms[prev]
		h.removeLocked(connID, prev)
		h.mu.Unlock()
		if prevState != nil {
			if err := h.reconcile(prev, prevState); err != nil {
				log.Printf("room: reconcile %s after move: %v", prev, err)
			}
		}
		h.mu.Lock()
	}

	rs, ok := h.rooms[roomID]
	if !ok {
		rs = &roomState{members: make(map[string]*member)}
		h.rooms[roomID] = rs
	}
	if len(rs.members) == 0 {
		h.active++
	}
	rs.members[connID] = &member{connID: connID, write: write}
	h.conns[connID] = roomID
	metrics.RoomsActive.Set(float64(h.active))
	h.mu.Unlock()

	if err := h.reconcile(roomID, rs); err != nil {
		h.mu.Lock()
		h.removeLocked(connID, roomID)
		h.mu.Unlock()
		if rerr := h.reconcile(roomID, rs); rerr != nil {
			log.Printf("room: reconcile %s after failed join: %v", roomID, rerr)
		}
		return err
	}
	return nil
}

// Leave removes a connection from whatever room it belongs to. It is called
// on disconnect; no explicit leave message exists in the protocol. It
// returns the room the connection belonged to, or "" if it had not joined.
func (h *Hub) Leave(connID string) string {
	h.mu.Lock()
	roomID, ok := h.conns[connID]
	if !ok {
		h.mu.Unlock()
		return ""
	}
	rs := h.rooms[roomID]
	h.removeLocked(connID, roomID)
	h.mu.Unlock()

	if rs != nil {
		if err := h.reconcile(roomID, rs); err != nil {
			log.Printf("room: reconcile %s after leave: %v", roomID, err)
		}
	}
	return roomID
}

// removeLocked deletes the membership entries for connID and keeps the
// active-room count current. Callers hold h.mu. The room record itself is
// dropped by reconcile once the subscription has quiesced.
func (h *Hub) removeLocked(connID, roomID string) {
	delete(h.conns, connID)
	if rs, ok := h.rooms[roomID]; ok {
		if _, present := rs.members[connID]; present {
			delete(rs.members, connID)
			if len(rs.members) == 0 {
				h.active--
			}
		}
	}
	metrics.RoomsActive.Set(float64(h.active))
}

// reconcile converges the room's broker subscription with its membership:
// subscribed while members exist, unsubscribed once the room is empty.
// Broker calls run outside h.mu but under the room's subMu, and membership
// is re-checked after every call, so a join winning a race against a
// departing member's unsubscribe gets the room re-subscribed before anyone
// returns. A room that has fully quiesced drops its record.
func (h *Hub) reconcile(roomID string, rs *roomState) error {
	rs.subMu.Lock()
	defer rs.subMu.Unlock()

	for {
		h.mu.Lock()
		hasMembers := len(rs.members) > 0
		if hasMembers == rs.subscribed {
			if !hasMembers {
				if cur, ok := h.rooms[roomID]; ok && cur == rs {
					delete(h.rooms, roomID)
				}
			}
			h.mu.Unlock()
			return nil
		}
		h.mu.Unlock()

		if hasMembers {
			if err := h.broker.SubscribeRoom(roomID, func(data []byte) {
				h.deliver(roomID, data)
			}); err != nil {
				return err
			}
			h.mu.Lock()
			rs.subscribed = true
			h.mu.Unlock()
		} else {
			// An unsubscribe failure still ends the subscription's useful
			// life; record it as gone and let a later join resubscribe.
			if err := h.broker.UnsubscribeRoom(roomID); err != nil {
				log.Printf("room: unsubscribe %s: %v", roomID, err)
			}
			h.mu.Lock()
			rs.subscribed = false
			h.mu.Unlock()
		}
	}
}

// deliver fans one broker event out to every local member of the room.
// Write failures are logged only; dead connections are reaped by the
// gateway's heartbeat, not here.
func (h *Hub) deliver(roomID string, data []byte) {
	h.mu.RLock()
	var members []*member
	if rs, ok := h.rooms[roomID]; ok {
		members = make([]*member, 0, len(rs.members))
		for _, m := range rs.members {
			members = append(members, m)
		}
	}
	h.mu.RUnlock()

	for _, m := range members {
		if err := m.write(data); err != nil {
			log.Printf("room: deliver to conn %s in room %s: %v", m.connID, roomID, err)
			continue
		}
		metrics.MessagesDelivered.Inc()
	}
}

// MemberCount returns the number of connections joined to a room.
func (h *Hub) MemberCount(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if rs, ok := h.rooms[roomID]; ok {
		return len(rs.members)
	}
	return 0
}

// Room returns the room a connection is joined to, or "" if none.
func (h *Hub) Room(connID string) string {
	h.mu.RLock()
	roomID := h.conns[connID]
	h.mu.RUnlock()
	return roomID
}

// ---------------------------------------------------------------------------
// Publish side
// ---------------------------------------------------------------------------

// Publisher publishes tagged newMessage events to room subjects over the
// broker. It satisfies message.Publisher and is what the message service
// receives at construction.
type Publisher struct {
	broker messaging.Broker
}

// NewPublisher creates a Publisher over the given broker.
func NewPublisher(broker messaging.Broker) *Publisher {
	return &Publisher{broker: broker}
}

// PublishNewMessage encodes msg as a newMessage event and publishes it to
// the room's subject. Rooms with zero members simply receive nothing.
func (p *Publisher) PublishNewMessage(roomID string, msg *message.Message) error {
	data, err := protocol.NewServerMessage(protocol.TypeNewMessage, protocol.NewMessageMsg{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		ReceiverID:     msg.ReceiverID,
		Message:        msg.Body,
		CreatedAt:      msg.CreatedAt,
	})
	if err != nil {
		return err
	}
	return p.broker.PublishRoom(roomID, data)
}
