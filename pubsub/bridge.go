package pubsub

import (
	"context"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/nioinnovation/service-tests/core"
)

// Frame is the JSON wire format the bridge exchanges with a remote
// client: one topic with one batch of signals.
type Frame struct {
	Topic   string           `json:"topic"`
	Signals []map[string]any `json:"signals"`
}

// WSBridge relays broker topics over a WebSocket connection. Frames
// received from the peer are published on the broker; batches published
// on the bridged topics are forwarded to the peer. It lets an external
// process inject signals into the graph and observe what it emits.
type WSBridge struct {
	conn     *websocket.Conn
	broker   *Broker
	topics   []string
	logger   zerolog.Logger
	outbound chan Frame
}

// WSBridgeConfig holds WebSocket bridge configuration
type WSBridgeConfig struct {
	// Conn is the established WebSocket connection to relay over.
	Conn *websocket.Conn

	// Broker is the in-process broker to bridge.
	Broker *Broker

	// Topics are the broker topics forwarded to the peer.
	Topics []string

	Logger zerolog.Logger
}

// NewWSBridge creates a bridge over an established connection.
func NewWSBridge(config WSBridgeConfig) *WSBridge {
	return &WSBridge{
		conn:     config.Conn,
		broker:   config.Broker,
		topics:   config.Topics,
		logger:   config.Logger,
		outbound: make(chan Frame, 64),
	}
}

// Run pumps frames in both directions until the context is cancelled or
// the connection fails. The subscriber registrations are removed before
// Run returns.
func (b *WSBridge) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	subscribers := make([]*Subscriber, 0, len(b.topics))
	for _, topic := range b.topics {
		subscriber := NewSubscriber(b.broker, topic, b.forward)
		if err := subscriber.Open(); err != nil {
			return fmt.Errorf("failed to bridge topic %q: %w", topic, err)
		}
		subscribers = append(subscribers, subscriber)
	}
	defer func() {
		for _, subscriber := range subscribers {
			_ = subscriber.Close()
		}
	}()

	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error { return b.readPump(groupCtx, cancel) })
	group.Go(func() error { return b.writePump(groupCtx) })
	return group.Wait()
}

// forward queues a broker batch for the peer, dropping it when the
// outbound queue is full.
func (b *WSBridge) forward(topic string, signals []core.Signal) {
	frame := Frame{Topic: topic, Signals: make([]map[string]any, len(signals))}
	for i, signal := range signals {
		frame.Signals[i] = signal.ToMap()
	}
	select {
	case b.outbound <- frame:
	default:
		b.logger.Warn().Str("topic", topic).Msg("bridge outbound queue full, dropping frame")
	}
}

func (b *WSBridge) readPump(ctx context.Context, cancel context.CancelFunc) error {
	defer cancel()
	for {
		var frame Frame
		if err := b.conn.ReadJSON(&frame); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("bridge read failed: %w", err)
		}

		signals := make([]core.Signal, len(frame.Signals))
		for i, attrs := range frame.Signals {
			signals[i] = core.NewSignal(attrs)
		}
		if err := b.broker.Publish(frame.Topic, signals); err != nil {
			b.logger.Error().Err(err).Str("topic", frame.Topic).Msg("bridge publish failed")
		}
	}
}

func (b *WSBridge) writePump(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case frame := <-b.outbound:
			if err := b.conn.WriteJSON(frame); err != nil {
				return fmt.Errorf("bridge write failed: %w", err)
			}
		}
	}
}
