// Package sequence numbers the events each cart emits. Consumers use the
// number to drop redeliveries and spot gaps per cart.
package sequence

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

var ErrEmptyCartID = errors.New("sequence: empty cart id")

// Store is satisfied by *pgxpool.Pool and pgx.Tx.
type Store interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Counter keeps one monotonically increasing counter per cart in
// event_sequence. Numbers start at 1.
type Counter struct {
	store Store
}

func NewCounter(store Store) *Counter {
	return &Counter{store: store}
}

// Next reserves the number for the cart's next event. A reserved number is
// never handed out again, even if the publish that used it fails.
func (c *Counter) Next(ctx context.Context, cartID string) (int64, error) {
	if cartID == "" {
		return 0, ErrEmptyCartID
	}
	var n int64
	err := c.store.QueryRow(ctx, `
		INSERT INTO event_sequence (partition_key, last_sequence)
		VALUES ($1, 1)
		ON CONFLICT (partition_key)
		DO UPDATE SET last_sequence = event_sequence.last_sequence + 1, updated_at = now()
		RETURNING last_sequence
	`, cartID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("reserve event number for cart %s: %w", cartID, err)
	}
	return n, nil
}

// Current is the last number reserved for the cart, 0 if it has emitted
// nothing.
func (c *Counter) Current(ctx context.Context, cartID string) (int64, error) {
	if cartID == "" {
		return 0, ErrEmptyCartID
	}
	var n int64
	err := c.store.QueryRow(ctx, `
		SELECT last_sequence FROM event_sequence WHERE partition_key=$1
	`, cartID).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read event number for cart %s: %w", cartID, err)
	}
	return n, nil
}
