// Package pubsub provides the in-process topic transport the harness
// uses to inject signals into a service and observe what it publishes.
// There is no durability and no backpressure; delivery is best-effort
// within the test process, with an optional WebSocket bridge for
// external clients.
package pubsub

import (
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"

	"github.com/nioinnovation/service-tests/core"
)

// Handler receives the signals delivered on a subscribed topic.
type Handler func(topic string, signals []core.Signal)

// Broker routes published signal batches to every subscriber of the
// topic. Deliveries run on a shared goroutine pool so a slow subscriber
// does not block the publisher.
type Broker struct {
	mu          sync.Mutex
	subscribers map[string][]*Subscriber
	pool        *ants.Pool
	logger      zerolog.Logger
	closed      bool
	delivering  sync.WaitGroup
}

// BrokerConfig holds broker configuration
type BrokerConfig struct {
	// PoolSize caps concurrent subscriber deliveries. Defaults to 8.
	PoolSize int
	Logger   zerolog.Logger
}

// NewBroker creates a broker with its delivery pool.
func NewBroker(config BrokerConfig) (*Broker, error) {
	size := config.PoolSize
	if size <= 0 {
		size = 8
	}
	pool, err := ants.NewPool(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create delivery pool: %w", err)
	}
	return &Broker{
		subscribers: make(map[string][]*Subscriber),
		pool:        pool,
		logger:      config.Logger,
	}, nil
}

// Publish delivers signals to every subscriber of topic. Returns once
// all deliveries have been handed to the pool.
func (b *Broker) Publish(topic string, signals []core.Signal) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("broker is closed")
	}
	targets := append([]*Subscriber(nil), b.subscribers[topic]...)
	b.mu.Unlock()

	for _, subscriber := range targets {
		handler := subscriber.handler
		b.delivering.Add(1)
		err := b.pool.Submit(func() {
			defer b.delivering.Done()
			handler(topic, signals)
		})
		if err != nil {
			b.delivering.Done()
			return fmt.Errorf("failed to deliver to topic %q: %w", topic, err)
		}
	}

	b.logger.Debug().Str("topic", topic).Int("signals", len(signals)).
		Int("subscribers", len(targets)).Msg("published signals")
	return nil
}

// Drain blocks until all in-flight deliveries have completed.
func (b *Broker) Drain() {
	b.delivering.Wait()
}

// Close drains outstanding deliveries and releases the pool. Publishing
// after Close fails.
func (b *Broker) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	b.delivering.Wait()
	b.pool.Release()
}

func (b *Broker) subscribe(s *Subscriber) {
	b.mu.Lock()
	b.subscribers[s.topic] = append(b.subscribers[s.topic], s)
	b.mu.Unlock()
}

func (b *Broker) unsubscribe(s *Subscriber) {
	b.mu.Lock()
	existing := b.subscribers[s.topic]
	remaining := existing[:0]
	for _, subscriber := range existing {
		if subscriber != s {
			remaining = append(remaining, subscriber)
		}
	}
	b.subscribers[s.topic] = remaining
	b.mu.Unlock()
}
