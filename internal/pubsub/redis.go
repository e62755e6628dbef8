package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Redis is a Bus backed by Redis PUBLISH/SUBSCRIBE, so server processes
// sharing one Redis see each other's broadcasts.
type Redis struct {
	client *redis.Client
	prefix string
	buffer int
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[*redisSub]struct{}
	closed bool
}

// RedisOptions configures a Redis bus.
type RedisOptions struct {
	Addr          string
	ChannelPrefix string
	Buffer        int
	Logger        *slog.Logger
}

// NewRedis connects to Redis and verifies the connection with PING.
func NewRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: opts.Addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", opts.Addr, err)
	}
	return newRedis(client, opts), nil
}

func newRedis(client *redis.Client, opts RedisOptions) *Redis {
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultBuffer
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Redis{
		client: client,
		prefix: opts.ChannelPrefix,
		buffer: opts.Buffer,
		logger: opts.Logger,
		subs:   make(map[*redisSub]struct{}),
	}
}

func (b *Redis) channel(topic string) string {
	return b.prefix + topic
}

// Publish sends msg to the Redis channel of its topic.
func (b *Redis) Publish(ctx context.Context, msg Message) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("publish %s: marshal: %w", msg.Topic, err)
	}
	if err := b.client.Publish(ctx, b.channel(msg.Topic), data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Topic, err)
	}
	return nil
}

// Subscribe subscribes to the Redis channel of topic. The subscription is
// confirmed before Subscribe returns, so no later publish is missed.
func (b *Redis) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	ps := b.client.Subscribe(ctx, b.channel(topic))
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	sub := &redisSub{
		bus:   b,
		ps:    ps,
		topic: topic,
		ch:    make(chan Message, b.buffer),
		done:  make(chan struct{}),
	}
	b.subs[sub] = struct{}{}
	go sub.relay()
	return sub, nil
}

// Close closes all subscriptions and the Redis client.
func (b *Redis) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*redisSub, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
	return b.client.Close()
}

type redisSub struct {
	bus   *Redis
	ps    *redis.PubSub
	topic string
	ch    chan Message
	done  chan struct{}
	once  sync.Once
}

func (s *redisSub) C() <-chan Message { return s.ch }

// relay forwards Redis messages to ch until the PubSub is closed.
func (s *redisSub) relay() {
	defer close(s.ch)
	for rm := range s.ps.Channel() {
		var msg Message
		if err := json.Unmarshal([]byte(rm.Payload), &msg); err != nil {
			s.bus.logger.Warn("dropping undecodable message", "channel", rm.Channel, "error", err)
			continue
		}
		select {
		case s.ch <- msg:
		case <-s.done:
			return
		default:
			s.bus.logger.Warn("subscriber buffer full, dropping message", "topic", s.topic)
		}
	}
}

func (s *redisSub) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()
	})
	return err
}
