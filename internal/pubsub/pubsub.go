// Package pubsub fans list events out to every connection joined to a list.
//
// Each list has one topic. A Message may name a client to exclude, so events
// such as typing indicators reach everyone but their sender. Delivery is
// fire-and-forget: a subscriber that falls behind loses messages rather than
// blocking the publisher.
package pubsub

import (
	"context"
	"errors"
)

// ErrClosed is returned when publishing or subscribing on a closed bus.
var ErrClosed = errors.New("pubsub: bus closed")

// Message is one event published to a topic.
type Message struct {
	Topic string `json:"topic"`

	// Exclude is a client id that must not receive the message. Empty means
	// every subscriber receives it.
	Exclude string `json:"exclude,omitempty"`

	// Payload is the encoded wire event.
	Payload []byte `json:"payload"`
}

// Bus publishes messages to topic subscribers.
type Bus interface {
	Publish(ctx context.Context, msg Message) error
	Subscribe(ctx context.Context, topic string) (Subscription, error)
	Close() error
}

// Subscription receives the messages of one topic until closed.
type Subscription interface {
	// C returns the delivery channel. It is closed when the subscription is.
	C() <-chan Message
	Close() error
}

// Topic returns the topic name for a list.
func Topic(listID string) string {
	return "list:" + listID
}

// DefaultBuffer is the per-subscription delivery buffer.
const DefaultBuffer = 64
