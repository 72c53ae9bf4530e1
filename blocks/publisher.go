// Package blocks provides the standard harness blocks: pub/sub endpoint
// blocks bridging the graph to the topic broker, and simple processing
// blocks used to compose test services.
package blocks

import (
	"fmt"

	"github.com/nioinnovation/service-tests/core"
	"github.com/nioinnovation/service-tests/pubsub"
)

// PublisherBlock publishes every batch it processes to a broker topic.
// It is the terminal edge of a test service: whatever reaches it becomes
// observable through the harness's published-signal capture.
type PublisherBlock struct {
	core.Base
	broker    *pubsub.Broker
	topic     string
	publisher *pubsub.Publisher
}

// NewPublisherBlock creates a publisher block bound to a broker. The
// topic comes from the block config at Configure time.
func NewPublisherBlock(broker *pubsub.Broker) *PublisherBlock {
	return &PublisherBlock{broker: broker}
}

// PublisherFactory returns a factory producing publisher blocks bound to
// the broker. The factory type name is "Publisher".
func PublisherFactory(broker *pubsub.Broker) func() core.Block {
	return func() core.Block { return NewPublisherBlock(broker) }
}

// Configure resolves the topic from the block config. A local_identifier
// property, when present and non-empty, prefixes the topic the way local
// pub/sub blocks scope their topics.
func (b *PublisherBlock) Configure(ctx core.BlockContext) error {
	if err := b.Base.Configure(ctx); err != nil {
		return err
	}
	topic, _ := ctx.Config["topic"].(string)
	if topic == "" {
		return fmt.Errorf("publisher block %q requires a topic", b.Name())
	}
	if local, ok := ctx.Config["local_identifier"].(string); ok && local != "" {
		topic = local + "." + topic
	}
	b.topic = topic
	return nil
}

// Start opens the topic publisher.
func (b *PublisherBlock) Start() error {
	b.publisher = pubsub.NewPublisher(b.broker, b.topic)
	return b.publisher.Open()
}

// Stop closes the topic publisher.
func (b *PublisherBlock) Stop() error {
	if b.publisher == nil {
		return nil
	}
	return b.publisher.Close()
}

// ProcessSignals publishes the batch on the configured topic.
func (b *PublisherBlock) ProcessSignals(signals []core.Signal, _ string) error {
	if b.publisher == nil {
		return fmt.Errorf("publisher block %q is not started", b.Name())
	}
	return b.publisher.Send(signals)
}

// Topic returns the resolved topic.
func (b *PublisherBlock) Topic() string {
	return b.topic
}
