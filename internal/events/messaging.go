package events

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ServiceName identifies this service on the bus: it is the default
// envelope producer, the prefix of every queue it owns and its consumer tag.
const ServiceName = "registration-service"

// Every service publishes to one durable topic exchange. Routing keys are
// "<aggregate>.<event>.v<version>".
const (
	EventsExchange             = "ecommerce.events"
	ItemReservedRoutingKey     = "cart.item-reserved.v1"
	CartFinalizedRoutingKey    = "cart.finalized.v1"
	PaymentSucceededRoutingKey = "payment.succeeded.v1"
)

// paymentPrefetch caps unacknowledged payment deliveries. Each one holds a
// database transaction while it finalizes a cart.
const paymentPrefetch = 16

type exchangeDeclarer interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
}

type subscriptionDeclarer interface {
	exchangeDeclarer
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
}

func declareEventsExchange(ch exchangeDeclarer) error {
	return ch.ExchangeDeclare(EventsExchange, "topic", true, false, false, false, nil)
}

// subscription is a durable queue this service owns on the events exchange.
// Queues are named "<service>.<routing key>", so each subscribing service
// receives its own copy of an event and survives broker restarts.
type subscription struct {
	Queue      string
	RoutingKey string
	Prefetch   int
}

func newSubscription(routingKey string, prefetch int) subscription {
	return subscription{
		Queue:      ServiceName + "." + routingKey,
		RoutingKey: routingKey,
		Prefetch:   prefetch,
	}
}

// declare makes the exchange, queue and binding exist and applies the
// prefetch to ch. All steps are idempotent.
func (s subscription) declare(ch subscriptionDeclarer) error {
	if err := declareEventsExchange(ch); err != nil {
		return fmt.Errorf("declare exchange %s: %w", EventsExchange, err)
	}
	if _, err := ch.QueueDeclare(s.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", s.Queue, err)
	}
	if err := ch.QueueBind(s.Queue, s.RoutingKey, EventsExchange, false, nil); err != nil {
		return fmt.Errorf("bind %s to %s: %w", s.Queue, s.RoutingKey, err)
	}
	if s.Prefetch > 0 {
		if err := ch.Qos(s.Prefetch, 0, false); err != nil {
			return fmt.Errorf("qos %s: %w", s.Queue, err)
		}
	}
	return nil
}
