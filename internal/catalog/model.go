package catalog

import "time"

// Category groups products for display. Categories carry no limits.
type Category struct {
	ID    string `json:"categoryId"`
	Name  string `json:"name"`
	Order int    `json:"order"`
}

type Product struct {
	ID         string  `json:"productId"`
	CategoryID string  `json:"categoryId"`
	Name       string  `json:"name"`
	Price      float64 `json:"price"`
	// LimitPerUser caps the total quantity one user may hold across all of
	// their carts. Nil means unlimited.
	LimitPerUser *int `json:"limitPerUser,omitempty"`
	// ReservationDuration is how long an unpaid cart holding this product
	// keeps its reservation. Zero means the reservation never lapses.
	ReservationDuration time.Duration `json:"reservationDuration"`
	Order               int           `json:"order"`
}

// EnablingCondition gates purchase of the products it governs by an
// optional time window and an optional ceiling shared by all users.
type EnablingCondition struct {
	ID          string     `json:"conditionId"`
	Description string     `json:"description"`
	Mandatory   bool       `json:"mandatory"`
	Limit       *int       `json:"limit,omitempty"`
	StartTime   *time.Time `json:"startTime,omitempty"`
	EndTime     *time.Time `json:"endTime,omitempty"`
	ProductIDs  []string   `json:"productIds"`
}

// HasCeiling reports whether the condition bounds the shared quantity.
func (c EnablingCondition) HasCeiling() bool {
	return c.Mandatory && c.Limit != nil
}
