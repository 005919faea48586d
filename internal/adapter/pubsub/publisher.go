package pubsub

import (
	"github.com/ThreeDotsLabs/watermill/message"
	infrapubsub "github.com/loopfund/community-live/infra/pubsub"
)

type PublisherProvider struct {
	provider infrapubsub.Provider
}

func NewPublisherProvider(p infrapubsub.Provider) *PublisherProvider {
	return &PublisherProvider{provider: p}
}

func (pp *PublisherProvider) Build(exchange string) (message.Publisher, error) {
	return pp.provider.BuildPublisher(&infrapubsub.PublisherConfig{
		Exchange: infrapubsub.ExchangeConfig{
			Name:    exchange,
			Type:    "topic",
			Durable: true,
		},
	})
}

type SubscriberProvider struct {
	provider infrapubsub.Provider
}

func NewSubscriberProvider(p infrapubsub.Provider) *SubscriberProvider {
	return &SubscriberProvider{provider: p}
}

// Build returns a subscriber for queue on exchange. The queue is bound to
// the topic passed to Subscribe.
func (sp *SubscriberProvider) Build(queue, exchange string, durable bool) (message.Subscriber, error) {
	return sp.provider.BuildSubscriber(&infrapubsub.SubscriberConfig{
		Exchange: infrapubsub.ExchangeConfig{
			Name:    exchange,
			Type:    "topic",
			Durable: true,
		},
		Queue:   queue,
		Durable: durable,
	})
}
