package pubsub

import (
	"context"
	"log/slog"
	"sync"
)

// Local is an in-process Bus.
type Local struct {
	mu     sync.RWMutex
	topics map[string]map[*localSub]struct{}
	closed bool
	buffer int
	logger *slog.Logger
}

// NewLocal creates an in-process bus whose subscriptions buffer up to buffer
// messages. A non-positive buffer uses DefaultBuffer.
func NewLocal(buffer int, logger *slog.Logger) *Local {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{
		topics: make(map[string]map[*localSub]struct{}),
		buffer: buffer,
		logger: logger,
	}
}

// Publish delivers msg to every current subscriber of msg.Topic without
// blocking. Subscribers with a full buffer miss the message.
func (b *Local) Publish(_ context.Context, msg Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	for sub := range b.topics[msg.Topic] {
		sub.deliver(msg, b.logger)
	}
	return nil
}

// Subscribe registers a subscriber on topic.
func (b *Local) Subscribe(_ context.Context, topic string) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	sub := &localSub{bus: b, topic: topic, ch: make(chan Message, b.buffer)}
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[*localSub]struct{})
	}
	b.topics[topic][sub] = struct{}{}
	return sub, nil
}

// Close closes every subscription. Further publishes fail with ErrClosed.
func (b *Local) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for topic, subs := range b.topics {
		for sub := range subs {
			sub.closeLocked()
		}
		delete(b.topics, topic)
	}
	return nil
}

// Subscribers returns the number of subscribers on topic.
func (b *Local) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

type localSub struct {
	bus    *Local
	topic  string
	ch     chan Message
	mu     sync.Mutex
	closed bool
}

func (s *localSub) C() <-chan Message { return s.ch }

func (s *localSub) deliver(msg Message, logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- msg:
	default:
		logger.Warn("subscriber buffer full, dropping message", "topic", s.topic)
	}
}

func (s *localSub) Close() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if subs := s.bus.topics[s.topic]; subs != nil {
		delete(subs, s)
		if len(subs) == 0 {
			delete(s.bus.topics, s.topic)
		}
	}
	s.closeLocked()
	return nil
}

// closeLocked closes the channel once. Caller holds bus.mu.
func (s *localSub) closeLocked() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
