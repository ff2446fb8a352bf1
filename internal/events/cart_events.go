package events

import "time"

const (
	EventTypeItemReserved  = "ItemReserved"
	EventTypeCartFinalized = "CartFinalized"

	itemReservedSchema  = "contracts/events/cart/ItemReserved.v1.payload.schema.json"
	cartFinalizedSchema = "contracts/events/cart/CartFinalized.v1.payload.schema.json"
)

type ItemReservedPayload struct {
	CartID               string     `json:"cartId"`
	UserID               string     `json:"userId"`
	ProductID            string     `json:"productId"`
	Added                int        `json:"added"`
	Quantity             int        `json:"quantity"`
	ReservationExpiresAt *time.Time `json:"reservationExpiresAt,omitempty"`
	Timestamp            time.Time  `json:"timestamp"`
}

type ItemReservedEvent struct {
	EventEnvelope
	Payload ItemReservedPayload `json:"payload"`
}

// LegacyItemReserved is the flat shape published when envelopes are off.
type LegacyItemReserved struct {
	EventType string `json:"eventType"`
	ItemReservedPayload
}

type CartLine struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type CartFinalizedPayload struct {
	CartID    string     `json:"cartId"`
	UserID    string     `json:"userId"`
	Items     []CartLine `json:"items"`
	Timestamp time.Time  `json:"timestamp"`
}

type CartFinalizedEvent struct {
	EventEnvelope
	Payload CartFinalizedPayload `json:"payload"`
}

type LegacyCartFinalized struct {
	EventType string `json:"eventType"`
	CartFinalizedPayload
}
