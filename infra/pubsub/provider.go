// Package pubsub builds watermill publishers and subscribers: RabbitMQ topic
// exchanges when the broker is enabled, an in-process channel otherwise.
package pubsub

import (
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// ExchangeConfig describes the exchange a publisher or subscriber binds to.
type ExchangeConfig struct {
	Name    string
	Type    string
	Durable bool
}

type PublisherConfig struct {
	Exchange ExchangeConfig
}

type SubscriberConfig struct {
	Exchange ExchangeConfig
	Queue    string
	// Durable queues survive broker restarts; per-node queues are not durable.
	Durable  bool
	Prefetch int
}

// Provider hides the transport behind publisher/subscriber factories.
type Provider interface {
	BuildPublisher(cfg *PublisherConfig) (message.Publisher, error)
	BuildSubscriber(cfg *SubscriberConfig) (message.Subscriber, error)
	Close() error
}

// --- AMQP ---

type amqpProvider struct {
	uri    string
	logger watermill.LoggerAdapter

	mu      sync.Mutex
	closers []interface{ Close() error }
}

func NewAMQPProvider(uri string, logger watermill.LoggerAdapter) Provider {
	return &amqpProvider{uri: uri, logger: logger}
}

func (p *amqpProvider) config(exchange ExchangeConfig, queue string, durable bool, prefetch int) amqp.Config {
	routingKey := func(topic string) string { return topic }
	return amqp.Config{
		Connection: amqp.ConnectionConfig{AmqpURI: p.uri},
		Marshaler:  amqp.DefaultMarshaler{},
		Exchange: amqp.ExchangeConfig{
			GenerateName: func(string) string { return exchange.Name },
			Type:         exchange.Type,
			Durable:      exchange.Durable,
		},
		Queue: amqp.QueueConfig{
			GenerateName: amqp.GenerateQueueNameConstant(queue),
			Durable:      durable,
			AutoDelete:   !durable,
		},
		QueueBind: amqp.QueueBindConfig{GenerateRoutingKey: routingKey},
		Publish:   amqp.PublishConfig{GenerateRoutingKey: routingKey},
		Consume: amqp.ConsumeConfig{
			Qos: amqp.QosConfig{PrefetchCount: prefetch},
		},
		TopologyBuilder: &amqp.DefaultTopologyBuilder{},
	}
}

func (p *amqpProvider) BuildPublisher(cfg *PublisherConfig) (message.Publisher, error) {
	pub, err := amqp.NewPublisher(p.config(cfg.Exchange, "", false, 0), p.logger)
	if err != nil {
		return nil, fmt.Errorf("amqp publisher for %s: %w", cfg.Exchange.Name, err)
	}
	p.track(pub)
	return pub, nil
}

func (p *amqpProvider) BuildSubscriber(cfg *SubscriberConfig) (message.Subscriber, error) {
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 10
	}
	sub, err := amqp.NewSubscriber(p.config(cfg.Exchange, cfg.Queue, cfg.Durable, prefetch), p.logger)
	if err != nil {
		return nil, fmt.Errorf("amqp subscriber %s on %s: %w", cfg.Queue, cfg.Exchange.Name, err)
	}
	p.track(sub)
	return sub, nil
}

func (p *amqpProvider) track(c interface{ Close() error }) {
	p.mu.Lock()
	p.closers = append(p.closers, c)
	p.mu.Unlock()
}

func (p *amqpProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for _, c := range p.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.closers = nil
	return firstErr
}

// --- In-process ---

// channelProvider serves every exchange from one gochannel pub/sub. Topics are
// matched literally, which is enough for a single node and for tests.
type channelProvider struct {
	ch *gochannel.GoChannel
}

func NewChannelProvider(logger watermill.LoggerAdapter) Provider {
	return &channelProvider{ch: gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, logger)}
}

func (p *channelProvider) BuildPublisher(*PublisherConfig) (message.Publisher, error) {
	return p.ch, nil
}

func (p *channelProvider) BuildSubscriber(*SubscriberConfig) (message.Subscriber, error) {
	return p.ch, nil
}

func (p *channelProvider) Close() error {
	return p.ch.Close()
}
