package cart

import (
	"context"
	"time"
)

// Store runs cart reads and writes inside one transaction. If fn returns an
// error nothing it did is committed.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

type Tx interface {
	// GetOrCreateActiveCart returns the user's active cart, creating an
	// empty one if none exists. The cart row stays locked until the
	// transaction ends.
	GetOrCreateActiveCart(ctx context.Context, userID string, now time.Time) (Cart, error)
	// LockActiveCart is GetOrCreateActiveCart without the create; it
	// returns ErrNotFound when the user has no active cart.
	LockActiveCart(ctx context.Context, userID string) (Cart, error)
	Items(ctx context.Context, cartID string) ([]Item, error)

	// LockAdmission serializes admission for a product and the ceiling
	// conditions governing it.
	LockAdmission(ctx context.Context, productID string, conditionIDs []string) error

	// UserHolding sums the user's quantity of a product over their active
	// cart and all their finalized carts.
	UserHolding(ctx context.Context, userID, productID string) (int, error)
	// CeilingHolding sums the quantity of every product governed by the
	// condition across counted carts of all users. The cart identified by
	// ownCartID is always included.
	CeilingHolding(ctx context.Context, conditionID, ownCartID string, now time.Time) (int, error)

	UpsertItem(ctx context.Context, cartID, productID string, delta int) (Item, error)
	SetReservationExpiry(ctx context.Context, cartID string, at time.Time) error
	FinalizeCart(ctx context.Context, cartID string, at time.Time) error
}
