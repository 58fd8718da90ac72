// Package messaging provides a NATS client wrapper for pub/sub messaging
// between the Courier services. The HTTP API publishes persisted messages to
// per-user room subjects; delivery gateways subscribe to the rooms their
// connected users belong to.
package messaging

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// SubjectRoom is the prefix of per-user room subjects: dm.room.<user_id>.
const SubjectRoom = "dm.room"

// Broker is the pub/sub surface the delivery hub depends on. The NATS client
// implements it; tests substitute an in-process loopback.
type Broker interface {
	PublishRoom(roomID string, data []byte) error
	SubscribeRoom(roomID string, handler func(data []byte)) error
	UnsubscribeRoom(roomID string) error
}

// NATSClient wraps the NATS connection with room-oriented helpers.
type NATSClient struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "courier",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready
// client. It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &NATSClient{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// roomSubject builds the subject for a user's delivery room.
func roomSubject(roomID string) string {
	return SubjectRoom + "." + roomID
}

// PublishRoom sends data to the dm.room.<roomID> subject. A room with no
// subscribers simply receives nothing; that is not an error.
func (c *NATSClient) PublishRoom(roomID string, data []byte) error {
	if err := c.conn.Publish(roomSubject(roomID), data); err != nil {
		return fmt.Errorf("nats publish %s: %w", roomSubject(roomID), err)
	}
	return nil
}

// SubscribeRoom registers a handler for the room's subject. One subscription
// per room per client: the hub subscribes when the first local connection
// joins the room and unsubscribes when the last one leaves.
func (c *NATSClient) SubscribeRoom(roomID string, handler func(data []byte)) error {
	subject := roomSubject(roomID)
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()
	return nil
}

// UnsubscribeRoom removes the room's subscription.
func (c *NATSClient) UnsubscribeRoom(roomID string) error {
	subject := roomSubject(roomID)

	c.mu.Lock()
	sub, ok := c.subs[subject]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("nats: no subscription for subject %s", subject)
	}
	delete(c.subs, subject)
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", subject, err)
	}
	return nil
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", subject, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] client closed")
}
