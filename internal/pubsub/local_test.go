package pubsub

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func receive(t *testing.T, sub Subscription) Message {
	t.Helper()
	select {
	case msg, ok := <-sub.C():
		require.True(t, ok, "subscription closed")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func TestLocal_FanOut(t *testing.T) {
	bus := NewLocal(4, quietLogger())
	defer bus.Close()
	ctx := context.Background()

	a, err := bus.Subscribe(ctx, Topic("L1"))
	require.NoError(t, err)
	b, err := bus.Subscribe(ctx, Topic("L1"))
	require.NoError(t, err)
	other, err := bus.Subscribe(ctx, Topic("L2"))
	require.NoError(t, err)

	msg := Message{Topic: Topic("L1"), Exclude: "c1", Payload: []byte(`{"event":"x"}`)}
	require.NoError(t, bus.Publish(ctx, msg))

	assert.Equal(t, msg, receive(t, a))
	assert.Equal(t, msg, receive(t, b))
	assert.Empty(t, other.C())
}

func TestLocal_FullBufferDrops(t *testing.T) {
	bus := NewLocal(1, quietLogger())
	defer bus.Close()
	ctx := context.Background()

	sub, err := bus.Subscribe(ctx, "t")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, Message{Topic: "t", Payload: []byte("1")}))
	require.NoError(t, bus.Publish(ctx, Message{Topic: "t", Payload: []byte("2")}))

	assert.Equal(t, []byte("1"), receive(t, sub).Payload)
	assert.Empty(t, sub.C())
}

func TestLocal_UnsubscribeClosesChannel(t *testing.T) {
	bus := NewLocal(0, quietLogger())
	defer bus.Close()
	ctx := context.Background()

	sub, err := bus.Subscribe(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, 1, bus.Subscribers("t"))

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	assert.Equal(t, 0, bus.Subscribers("t"))

	_, ok := <-sub.C()
	assert.False(t, ok)

	require.NoError(t, bus.Publish(ctx, Message{Topic: "t"}))
}

func TestLocal_CloseRejectsFurtherUse(t *testing.T) {
	bus := NewLocal(0, quietLogger())
	ctx := context.Background()
	sub, err := bus.Subscribe(ctx, "t")
	require.NoError(t, err)

	require.NoError(t, bus.Close())
	_, ok := <-sub.C()
	assert.False(t, ok)
	require.NoError(t, sub.Close())

	assert.ErrorIs(t, bus.Publish(ctx, Message{Topic: "t"}), ErrClosed)
	_, err = bus.Subscribe(ctx, "t")
	assert.ErrorIs(t, err, ErrClosed)
}
