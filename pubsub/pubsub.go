package pubsub

import (
	"fmt"

	"github.com/nioinnovation/service-tests/core"
)

// Publisher sends signal batches to one topic on a broker.
type Publisher struct {
	broker *Broker
	topic  string
	open   bool
}

// NewPublisher creates a publisher for topic. Call Open before Send.
func NewPublisher(broker *Broker, topic string) *Publisher {
	return &Publisher{broker: broker, topic: topic}
}

// Open readies the publisher.
func (p *Publisher) Open() error {
	p.open = true
	return nil
}

// Send publishes a batch on the publisher's topic.
func (p *Publisher) Send(signals []core.Signal) error {
	if !p.open {
		return fmt.Errorf("publisher for topic %q is not open", p.topic)
	}
	return p.broker.Publish(p.topic, signals)
}

// Close shuts the publisher down.
func (p *Publisher) Close() error {
	p.open = false
	return nil
}

// Topic returns the publisher's topic.
func (p *Publisher) Topic() string {
	return p.topic
}

// Subscriber delivers every batch published on one topic to a handler.
type Subscriber struct {
	broker  *Broker
	topic   string
	handler Handler
	open    bool
}

// NewSubscriber creates a subscriber for topic. Nothing is delivered
// until Open.
func NewSubscriber(broker *Broker, topic string, handler Handler) *Subscriber {
	return &Subscriber{broker: broker, topic: topic, handler: handler}
}

// Open registers the subscriber with the broker.
func (s *Subscriber) Open() error {
	if s.handler == nil {
		return fmt.Errorf("subscriber for topic %q has no handler", s.topic)
	}
	if s.open {
		return nil
	}
	s.open = true
	s.broker.subscribe(s)
	return nil
}

// Close unregisters the subscriber.
func (s *Subscriber) Close() error {
	if !s.open {
		return nil
	}
	s.open = false
	s.broker.unsubscribe(s)
	return nil
}

// Topic returns the subscriber's topic.
func (s *Subscriber) Topic() string {
	return s.topic
}
