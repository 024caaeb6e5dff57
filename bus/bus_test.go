package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/m4xw311/spark/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionKey(t *testing.T) {
	msg := InboundMessage{Channel: "cli", ChatID: "direct"}
	assert.Equal(t, "cli:direct", msg.SessionKey())
}

func TestInboundRoundTrip(t *testing.T) {
	b := New(2, logging.Discard())
	ctx := context.Background()

	require.NoError(t, b.PublishInbound(ctx, InboundMessage{Channel: "cli", ChatID: "1", Content: "hi"}))
	in, out := b.Pending()
	assert.Equal(t, 1, in)
	assert.Equal(t, 0, out)

	msg, err := b.ConsumeInbound(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hi", msg.Content)
	assert.False(t, msg.Timestamp.IsZero())
}

func TestConsumeHonoursContext(t *testing.T) {
	b := New(1, logging.Discard())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := b.ConsumeInbound(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPublishBlocksWhenFull(t *testing.T) {
	b := New(1, logging.Discard())
	require.NoError(t, b.PublishOutbound(context.Background(), OutboundMessage{Content: "one"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, b.PublishOutbound(ctx, OutboundMessage{Content: "two"}), context.DeadlineExceeded)
}

func TestDispatchOutbound(t *testing.T) {
	b := New(4, logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())

	var (
		mu  sync.Mutex
		got []string
		wg  sync.WaitGroup
	)
	wg.Add(3)
	b.OnOutbound("cli", func(_ context.Context, msg OutboundMessage) error {
		defer wg.Done()
		mu.Lock()
		defer mu.Unlock()
		got = append(got, "cli:"+msg.Content)
		return errors.New("ignored")
	})
	b.OnOutbound("*", func(_ context.Context, msg OutboundMessage) error {
		defer wg.Done()
		mu.Lock()
		defer mu.Unlock()
		got = append(got, "any:"+msg.Content)
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- b.DispatchOutbound(ctx) }()

	require.NoError(t, b.PublishOutbound(ctx, OutboundMessage{Channel: "cli", Content: "a"}))
	require.NoError(t, b.PublishOutbound(ctx, OutboundMessage{Channel: "ws", Content: "b"}))
	wg.Wait()
	cancel()

	assert.ErrorIs(t, <-done, context.Canceled)
	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"cli:a", "any:a", "any:b"}, got)
}
