package cart

import "time"

type Cart struct {
	ID                   string     `json:"cartId"`
	UserID               string     `json:"userId"`
	Active               bool       `json:"active"`
	ReservationExpiresAt *time.Time `json:"reservationExpiresAt,omitempty"`
	CreatedAt            time.Time  `json:"createdAt"`
	FinalizedAt          *time.Time `json:"finalizedAt,omitempty"`
}

// Counted reports whether the cart's items count toward shared ceilings at
// now. Finalized carts count permanently; active carts count until their
// reservation lapses.
func (c Cart) Counted(now time.Time) bool {
	if !c.Active {
		return true
	}
	return c.ReservationExpiresAt == nil || now.Before(*c.ReservationExpiresAt)
}

type Item struct {
	ID        string `json:"itemId"`
	CartID    string `json:"cartId"`
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type Line struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type Snapshot struct {
	CartID               string     `json:"cartId"`
	UserID               string     `json:"userId"`
	Active               bool       `json:"active"`
	Items                []Line     `json:"items"`
	ReservationExpiresAt *time.Time `json:"reservationExpiresAt,omitempty"`
}

func newSnapshot(c Cart, items []Item) Snapshot {
	s := Snapshot{
		CartID:               c.ID,
		UserID:               c.UserID,
		Active:               c.Active,
		Items:                make([]Line, 0, len(items)),
		ReservationExpiresAt: c.ReservationExpiresAt,
	}
	for _, it := range items {
		s.Items = append(s.Items, Line{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return s
}

// ItemReserved describes a committed add for downstream consumers.
type ItemReserved struct {
	CartID               string
	UserID               string
	ProductID            string
	Added                int
	Quantity             int
	ReservationExpiresAt *time.Time
	At                   time.Time
}
