package blocks

import (
	"fmt"

	"github.com/nioinnovation/service-tests/core"
	"github.com/nioinnovation/service-tests/pubsub"
)

// SubscriberBlock feeds batches published on a broker topic into the
// graph. It is the entry edge of a test service: the harness publishes
// to the topic and the batch flows out of this block's default terminal.
type SubscriberBlock struct {
	core.Base
	broker     *pubsub.Broker
	topic      string
	subscriber *pubsub.Subscriber
}

// NewSubscriberBlock creates a subscriber block bound to a broker. The
// topic comes from the block config at Configure time.
func NewSubscriberBlock(broker *pubsub.Broker) *SubscriberBlock {
	return &SubscriberBlock{broker: broker}
}

// SubscriberFactory returns a factory producing subscriber blocks bound
// to the broker. The factory type name is "Subscriber".
func SubscriberFactory(broker *pubsub.Broker) func() core.Block {
	return func() core.Block { return NewSubscriberBlock(broker) }
}

// Configure resolves the topic from the block config, applying the same
// local_identifier prefix convention as the publisher block.
func (b *SubscriberBlock) Configure(ctx core.BlockContext) error {
	if err := b.Base.Configure(ctx); err != nil {
		return err
	}
	topic, _ := ctx.Config["topic"].(string)
	if topic == "" {
		return fmt.Errorf("subscriber block %q requires a topic", b.Name())
	}
	if local, ok := ctx.Config["local_identifier"].(string); ok && local != "" {
		topic = local + "." + topic
	}
	b.topic = topic
	return nil
}

// Start opens the topic subscription. Received batches are emitted into
// the graph on the block's default terminal.
func (b *SubscriberBlock) Start() error {
	ctx := b.Context()
	notifier := ctx.Notifier
	if notifier == nil {
		return fmt.Errorf("subscriber block %q has no signal notifier", b.Name())
	}
	logger := ctx.Logger
	b.subscriber = pubsub.NewSubscriber(b.broker, b.topic, func(_ string, signals []core.Signal) {
		if err := notifier.NotifySignals(b, signals, core.DefaultTerminal); err != nil {
			logger.Error().Err(err).
				Str("block", b.Name()).Msg("failed to notify subscribed signals")
		}
	})
	return b.subscriber.Open()
}

// Stop closes the topic subscription.
func (b *SubscriberBlock) Stop() error {
	if b.subscriber == nil {
		return nil
	}
	return b.subscriber.Close()
}

// ProcessSignals re-emits any batch delivered directly to the block,
// mirroring what happens to batches arriving from the topic.
func (b *SubscriberBlock) ProcessSignals(signals []core.Signal, _ string) error {
	notifier := b.Context().Notifier
	if notifier == nil {
		return fmt.Errorf("subscriber block %q has no signal notifier", b.Name())
	}
	return notifier.NotifySignals(b, signals, core.DefaultTerminal)
}

// Topic returns the resolved topic.
func (b *SubscriberBlock) Topic() string {
	return b.topic
}
