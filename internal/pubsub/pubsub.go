// Package pubsub provides a simple publish-subscribe mechanism used to fan
// out universe change notifications to connected clients (the websocket
// layer in internal/httpapi subscribes here).
package pubsub

import (
	"sync"

	"github.com/lucsky/cuid"
)

// Topic represents a subscription topic.
type Topic string

const (
	// TopicDMXOutput carries a universe's merged output whenever it
	// changes. Filter is the universe key ("net.num").
	TopicDMXOutput Topic = "DMX_OUTPUT_CHANGED"
	// TopicUniverseMeta carries name/merge-mode changes for a universe.
	TopicUniverseMeta Topic = "UNIVERSE_META_CHANGED"
	// TopicDeviceRegistry is reserved for device registration/patch
	// changes; no component of the daemon publishes on it. Filter is
	// empty: all subscribers receive every event.
	TopicDeviceRegistry Topic = "DEVICE_REGISTRY_CHANGED"
	// TopicRDMDiscovery is reserved for TOD discovery state transitions;
	// no component of the daemon publishes on it. Filter is the port id
	// the discovery ran on.
	TopicRDMDiscovery Topic = "RDM_DISCOVERY_UPDATED"
)

// Subscriber represents a subscription channel.
type Subscriber struct {
	ID      string
	Topic   Topic
	Filter  string // optional filter value (e.g. a universe key)
	Channel chan interface{}
}

// PubSub manages subscriptions and message distribution.
type PubSub struct {
	mu          sync.RWMutex
	subscribers map[Topic][]*Subscriber
}

// New creates a new PubSub instance.
func New() *PubSub {
	return &PubSub{
		subscribers: make(map[Topic][]*Subscriber),
	}
}

// Subscribe creates a new subscription for a topic.
func (ps *PubSub) Subscribe(topic Topic, filter string, bufferSize int) *Subscriber {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	sub := &Subscriber{
		ID:      cuid.New(),
		Topic:   topic,
		Filter:  filter,
		Channel: make(chan interface{}, bufferSize),
	}

	ps.subscribers[topic] = append(ps.subscribers[topic], sub)
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (ps *PubSub) Unsubscribe(sub *Subscriber) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	subs := ps.subscribers[sub.Topic]
	for i, s := range subs {
		if s.ID == sub.ID {
			close(s.Channel)
			ps.subscribers[sub.Topic] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Publish sends a message to all subscribers of a topic whose filter
// matches. An empty filter on either side matches everything.
func (ps *PubSub) Publish(topic Topic, filter string, message interface{}) {
	ps.mu.RLock()
	subs := ps.subscribers[topic]
	ps.mu.RUnlock()

	for _, sub := range subs {
		if sub.Filter == "" || filter == "" || sub.Filter == filter {
			select {
			case sub.Channel <- message:
			default:
				// Slow consumer: drop rather than block the reactor thread.
			}
		}
	}
}

// PublishAll sends a message to all subscribers of a topic regardless of
// filter.
func (ps *PubSub) PublishAll(topic Topic, message interface{}) {
	ps.mu.RLock()
	subs := ps.subscribers[topic]
	ps.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.Channel <- message:
		default:
		}
	}
}

// SubscriberCount returns the number of subscribers for a topic.
func (ps *PubSub) SubscriberCount(topic Topic) int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.subscribers[topic])
}
