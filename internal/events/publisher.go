package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/andreasstove999/ecommerce-system/services/registration-service-go/internal/cart"
)

type amqpPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type sequencer interface {
	Next(ctx context.Context, cartID string) (int64, error)
}

// Publisher emits cart events on the shared topic exchange. Events are
// partitioned by cart id; the sequence is reserved and the message sent
// under one lock so a cart's events leave in sequence order.
type Publisher struct {
	mu                 sync.Mutex
	ch                 amqpPublisher
	seqRepo            sequencer
	publishEnveloped   bool
	producerIdentifier string
	now                func() time.Time
}

type PublisherOptions struct {
	PublishEnveloped bool
	Producer         string
}

func NewPublisher(conn *amqp.Connection, seqRepo sequencer, opts PublisherOptions) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := declareEventsExchange(ch); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare events exchange: %w", err)
	}

	return newPublisher(ch, seqRepo, opts), nil
}

func newPublisher(ch amqpPublisher, seqRepo sequencer, opts PublisherOptions) *Publisher {
	producer := opts.Producer
	if producer == "" {
		producer = ServiceName
	}
	return &Publisher{
		ch:                 ch,
		seqRepo:            seqRepo,
		publishEnveloped:   opts.PublishEnveloped,
		producerIdentifier: producer,
		now:                func() time.Time { return time.Now().UTC() },
	}
}

func (p *Publisher) Close() error {
	return p.ch.Close()
}

func (p *Publisher) PublishItemReserved(ctx context.Context, ev cart.ItemReserved) error {
	payload := ItemReservedPayload{
		CartID:               ev.CartID,
		UserID:               ev.UserID,
		ProductID:            ev.ProductID,
		Added:                ev.Added,
		Quantity:             ev.Quantity,
		ReservationExpiresAt: ev.ReservationExpiresAt,
		Timestamp:            ev.At,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.publishEnveloped {
		body, err := json.Marshal(LegacyItemReserved{EventType: EventTypeItemReserved, ItemReservedPayload: payload})
		if err != nil {
			return fmt.Errorf("marshal ItemReserved: %w", err)
		}
		return p.publishJSON(ctx, ItemReservedRoutingKey, body)
	}

	seq, err := p.seqRepo.Next(ctx, ev.CartID)
	if err != nil {
		return fmt.Errorf("reserve sequence: %w", err)
	}

	meta := EventMeta{CorrelationID: uuid.NewString(), PartitionKey: ev.CartID}
	env := newItemReservedEvent(meta, seq, p.producerIdentifier, payload, p.now())
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal ItemReserved envelope: %w", err)
	}
	return p.publishJSON(ctx, ItemReservedRoutingKey, body)
}

func (p *Publisher) PublishCartFinalized(ctx context.Context, s cart.Snapshot) error {
	payload := CartFinalizedPayload{
		CartID:    s.CartID,
		UserID:    s.UserID,
		Items:     make([]CartLine, 0, len(s.Items)),
		Timestamp: p.now(),
	}
	for _, l := range s.Items {
		payload.Items = append(payload.Items, CartLine{ProductID: l.ProductID, Quantity: l.Quantity})
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.publishEnveloped {
		body, err := json.Marshal(LegacyCartFinalized{EventType: EventTypeCartFinalized, CartFinalizedPayload: payload})
		if err != nil {
			return fmt.Errorf("marshal CartFinalized: %w", err)
		}
		return p.publishJSON(ctx, CartFinalizedRoutingKey, body)
	}

	seq, err := p.seqRepo.Next(ctx, s.CartID)
	if err != nil {
		return fmt.Errorf("reserve sequence: %w", err)
	}

	meta := EventMeta{CorrelationID: uuid.NewString(), PartitionKey: s.CartID}
	env := newCartFinalizedEvent(meta, seq, p.producerIdentifier, payload, payload.Timestamp)
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal CartFinalized envelope: %w", err)
	}
	return p.publishJSON(ctx, CartFinalizedRoutingKey, body)
}

func (p *Publisher) publishJSON(ctx context.Context, routingKey string, body []byte) error {
	pubCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return p.ch.PublishWithContext(
		pubCtx,
		EventsExchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
}

func newItemReservedEvent(meta EventMeta, seq int64, producer string, payload ItemReservedPayload, occurredAt time.Time) ItemReservedEvent {
	return ItemReservedEvent{
		EventEnvelope: EventEnvelope{
			EventName:     EventTypeItemReserved,
			EventVersion:  1,
			EventID:       uuid.NewString(),
			CorrelationID: meta.CorrelationID,
			CausationID:   meta.CausationID,
			Producer:      producer,
			PartitionKey:  meta.PartitionKey,
			Sequence:      seq,
			OccurredAt:    occurredAt,
			Schema:        itemReservedSchema,
		},
		Payload: payload,
	}
}

func newCartFinalizedEvent(meta EventMeta, seq int64, producer string, payload CartFinalizedPayload, occurredAt time.Time) CartFinalizedEvent {
	return CartFinalizedEvent{
		EventEnvelope: EventEnvelope{
			EventName:     EventTypeCartFinalized,
			EventVersion:  1,
			EventID:       uuid.NewString(),
			CorrelationID: meta.CorrelationID,
			CausationID:   meta.CausationID,
			Producer:      producer,
			PartitionKey:  meta.PartitionKey,
			Sequence:      seq,
			OccurredAt:    occurredAt,
			Schema:        cartFinalizedSchema,
		},
		Payload: payload,
	}
}
