package events

import (
	"encoding/json"
	"fmt"
	"time"
)

const EventTypePaymentSucceeded = "PaymentSucceeded"

// PaymentSucceededPayload is published by payment-service once an order
// backed by a cart has been paid.
type PaymentSucceededPayload struct {
	OrderID   string    `json:"orderId"`
	CartID    string    `json:"cartId"`
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}

type paymentSucceededMessage struct {
	Envelope *EventEnvelope
	Payload  PaymentSucceededPayload
}

func parsePaymentSucceeded(body []byte, enveloped bool) (paymentSucceededMessage, error) {
	if !enveloped {
		var p PaymentSucceededPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return paymentSucceededMessage{}, fmt.Errorf("unmarshal PaymentSucceeded: %w", err)
		}
		return paymentSucceededMessage{Payload: p}, nil
	}

	env, err := parseEnvelope(body)
	if err != nil {
		return paymentSucceededMessage{}, err
	}
	if err := env.Validate(EventTypePaymentSucceeded, 1); err != nil {
		return paymentSucceededMessage{}, err
	}
	var p PaymentSucceededPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return paymentSucceededMessage{}, fmt.Errorf("unmarshal PaymentSucceeded payload: %w", err)
	}
	return paymentSucceededMessage{Envelope: &env, Payload: p}, nil
}
