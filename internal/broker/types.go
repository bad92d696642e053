package broker

import (
	"context"

	"taskflow/pkg/events"
)

type Publisher interface {
	// Publish sends event to exchange under routingKey.
	Publish(ctx context.Context, exchange, routingKey string, event events.Event) error
}

type Consumer interface {
	// Consume blocks, handing each delivery of queue to handler until ctx is
	// cancelled. A nil handler result acknowledges the delivery; any error
	// rejects it without requeue.
	Consume(ctx context.Context, queue string, handler HandlerFunc) error
}

type Broker interface {
	Publisher
	Consumer

	Connect(ctx context.Context) error
	Disconnect() error
	DeclareTopology(ctx context.Context, topology Topology) error
	IsConnected() bool
}

// HandlerFunc receives a decoded event together with the routing key it was
// published under.
type HandlerFunc func(ctx context.Context, routingKey string, event events.Event) error
