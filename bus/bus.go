// Package bus decouples chat channels from the agent with buffered inbound
// and outbound queues.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const DefaultBuffer = 100

// InboundMessage is a message received from a user on some channel.
type InboundMessage struct {
	Channel   string // cli, acp, ws, ...
	SenderID  string
	ChatID    string
	Content   string
	Timestamp time.Time
	Metadata  map[string]any
}

// SessionKey identifies the conversation the message belongs to.
func (m InboundMessage) SessionKey() string {
	return fmt.Sprintf("%s:%s", m.Channel, m.ChatID)
}

// OutboundMessage is a reply addressed to a channel and chat.
type OutboundMessage struct {
	Channel  string
	ChatID   string
	Content  string
	ReplyTo  string
	Metadata map[string]any
}

// OutboundHandler delivers replies for a channel.
type OutboundHandler func(ctx context.Context, msg OutboundMessage) error

type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage
	logger   *slog.Logger

	mu       sync.RWMutex
	handlers map[string][]OutboundHandler
}

// New returns a bus whose queues hold buffer messages each.
func New(buffer int, logger *slog.Logger) *MessageBus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MessageBus{
		inbound:  make(chan InboundMessage, buffer),
		outbound: make(chan OutboundMessage, buffer),
		logger:   logger,
		handlers: make(map[string][]OutboundHandler),
	}
}

// PublishInbound queues msg, blocking while the queue is full.
func (b *MessageBus) PublishInbound(ctx context.Context, msg InboundMessage) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	select {
	case b.inbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConsumeInbound waits for the next inbound message.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, error) {
	select {
	case msg := <-b.inbound:
		return msg, nil
	case <-ctx.Done():
		return InboundMessage{}, ctx.Err()
	}
}

func (b *MessageBus) PublishOutbound(ctx context.Context, msg OutboundMessage) error {
	select {
	case b.outbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *MessageBus) ConsumeOutbound(ctx context.Context) (OutboundMessage, error) {
	select {
	case msg := <-b.outbound:
		return msg, nil
	case <-ctx.Done():
		return OutboundMessage{}, ctx.Err()
	}
}

// OnOutbound registers a delivery handler for channel. "*" receives every
// channel.
func (b *MessageBus) OnOutbound(channel string, h OutboundHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[channel] = append(b.handlers[channel], h)
}

// DispatchOutbound delivers outbound messages to their handlers until ctx
// is done. Handler errors are logged and never stop the loop.
func (b *MessageBus) DispatchOutbound(ctx context.Context) error {
	for {
		msg, err := b.ConsumeOutbound(ctx)
		if err != nil {
			return err
		}
		b.mu.RLock()
		hs := append(append([]OutboundHandler(nil), b.handlers[msg.Channel]...), b.handlers["*"]...)
		b.mu.RUnlock()
		if len(hs) == 0 {
			b.logger.Warn("no outbound handler", "channel", msg.Channel, "chat_id", msg.ChatID)
			continue
		}
		for _, h := range hs {
			if err := h(ctx, msg); err != nil {
				b.logger.Error("delivering outbound message", "channel", msg.Channel, "chat_id", msg.ChatID, "error", err)
			}
		}
	}
}

// Pending reports the number of queued inbound and outbound messages.
func (b *MessageBus) Pending() (inbound, outbound int) {
	return len(b.inbound), len(b.outbound)
}
