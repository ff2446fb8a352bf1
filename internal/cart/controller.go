package cart

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/andreasstove999/ecommerce-system/services/registration-service-go/internal/catalog"
	"github.com/andreasstove999/ecommerce-system/services/registration-service-go/internal/clock"
	"github.com/andreasstove999/ecommerce-system/services/registration-service-go/internal/eligibility"
)

// MaxLineQuantity is the largest quantity one cart line can hold; it is
// the range of the cart_items.quantity column.
const MaxLineQuantity = math.MaxInt32

type EventPublisher interface {
	PublishItemReserved(ctx context.Context, ev ItemReserved) error
	PublishCartFinalized(ctx context.Context, s Snapshot) error
}

type Options struct {
	// MaxAttempts bounds how many times a transaction that hit a transient
	// conflict is run. Values below 1 mean a single attempt.
	MaxAttempts  int
	RetryBackoff time.Duration
	Publisher    EventPublisher
}

// Controller admits quantities into users' carts. Every admission check and
// the write it guards run in the same store transaction.
type Controller struct {
	store   Store
	catalog catalog.Reader
	clock   clock.Clock
	logger  *log.Logger
	pub     EventPublisher

	maxAttempts int
	backoff     time.Duration
}

func NewController(store Store, cat catalog.Reader, clk clock.Clock, logger *log.Logger, opts Options) *Controller {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 10 * time.Millisecond
	}
	return &Controller{
		store:       store,
		catalog:     cat,
		clock:       clk,
		logger:      logger,
		pub:         opts.Publisher,
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.RetryBackoff,
	}
}

// GetOrCreateActiveCart returns the user's active cart, creating an empty
// one if needed. A lapsed cart is returned unchanged.
func (c *Controller) GetOrCreateActiveCart(ctx context.Context, userID string) (Cart, error) {
	var out Cart
	err := c.withRetry(ctx, func() error {
		return c.store.InTx(ctx, func(tx Tx) error {
			var err error
			out, err = tx.GetOrCreateActiveCart(ctx, userID, c.clock.Now())
			return err
		})
	})
	return out, err
}

// GetActiveCart snapshots the user's active cart, creating an empty one
// first if the user has none.
func (c *Controller) GetActiveCart(ctx context.Context, userID string) (Snapshot, error) {
	var out Snapshot
	err := c.withRetry(ctx, func() error {
		return c.store.InTx(ctx, func(tx Tx) error {
			crt, err := tx.GetOrCreateActiveCart(ctx, userID, c.clock.Now())
			if err != nil {
				return err
			}
			items, err := tx.Items(ctx, crt.ID)
			if err != nil {
				return err
			}
			out = newSnapshot(crt, items)
			return nil
		})
	})
	return out, err
}

// AddToCart reserves quantity more of the product in the user's active
// cart. It fails with a *ValidationError when a per-user limit, eligibility
// window or ceiling would be violated, and leaves the cart unchanged.
func (c *Controller) AddToCart(ctx context.Context, userID, productID string, quantity int) (Item, error) {
	if quantity <= 0 {
		return Item{}, &ValidationError{Kind: KindInvalidQuantity, Reason: fmt.Sprintf("quantity must be positive, got %d", quantity)}
	}
	if quantity > MaxLineQuantity {
		return Item{}, &ValidationError{Kind: KindInvalidQuantity, Reason: fmt.Sprintf("quantity %d exceeds %d", quantity, MaxLineQuantity)}
	}

	product, err := c.catalog.Product(ctx, productID)
	if err != nil {
		return Item{}, err
	}
	conditions, err := c.catalog.ConditionsFor(ctx, productID)
	if err != nil {
		return Item{}, err
	}

	var ceilingIDs []string
	for _, cond := range conditions {
		if cond.HasCeiling() {
			ceilingIDs = append(ceilingIDs, cond.ID)
		}
	}

	var (
		reserved ItemReserved
		out      Item
	)
	err = c.withRetry(ctx, func() error {
		return c.store.InTx(ctx, func(tx Tx) error {
			now := c.clock.Now()

			crt, err := tx.GetOrCreateActiveCart(ctx, userID, now)
			if err != nil {
				return err
			}
			if err := tx.LockAdmission(ctx, productID, ceilingIDs); err != nil {
				return err
			}

			items, err := tx.Items(ctx, crt.ID)
			if err != nil {
				return err
			}
			if line := lineQuantity(items, productID); quantity > MaxLineQuantity-line {
				return &ValidationError{
					Kind:   KindInvalidQuantity,
					Reason: fmt.Sprintf("cart line would exceed %d: holding %d, requested %d", MaxLineQuantity, line, quantity),
				}
			}

			if product.LimitPerUser != nil {
				held, err := tx.UserHolding(ctx, userID, productID)
				if err != nil {
					return err
				}
				if quantity > *product.LimitPerUser-held {
					return &ValidationError{
						Kind:   KindPerUserLimitExceeded,
						Reason: fmt.Sprintf("per-user limit exceeded: holding %d of %d, requested %d", held, *product.LimitPerUser, quantity),
					}
				}
			}

			held := make(map[string]int, len(ceilingIDs))
			for _, id := range ceilingIDs {
				n, err := tx.CeilingHolding(ctx, id, crt.ID, now)
				if err != nil {
					return err
				}
				held[id] = n
			}
			req := eligibility.Request{Quantity: quantity, Now: now, Conditions: conditions, Held: held}
			if violations := eligibility.Evaluate(req); len(violations) > 0 {
				return violationError(violations[0], req)
			}

			item, err := tx.UpsertItem(ctx, crt.ID, productID, quantity)
			if err != nil {
				return err
			}

			if next, ok := extendedExpiry(crt.ReservationExpiresAt, now, product.ReservationDuration); ok {
				if err := tx.SetReservationExpiry(ctx, crt.ID, next); err != nil {
					return err
				}
				crt.ReservationExpiresAt = &next
			}

			out = item
			reserved = ItemReserved{
				CartID:               crt.ID,
				UserID:               userID,
				ProductID:            productID,
				Added:                quantity,
				Quantity:             item.Quantity,
				ReservationExpiresAt: crt.ReservationExpiresAt,
				At:                   now,
			}
			return nil
		})
	})
	if err != nil {
		return Item{}, err
	}

	c.logger.Printf("reserved user=%s cart=%s product=%s added=%d total=%d", userID, reserved.CartID, productID, quantity, reserved.Quantity)
	if c.pub != nil {
		if err := c.pub.PublishItemReserved(ctx, reserved); err != nil {
			c.logger.Printf("publish ItemReserved cart=%s: %v", reserved.CartID, err)
		}
	}

	return out, nil
}

// Finalize marks the user's active cart as paid. Its items then count
// toward ceilings permanently and the next access opens a fresh cart.
func (c *Controller) Finalize(ctx context.Context, userID string) (Snapshot, error) {
	var out Snapshot
	err := c.withRetry(ctx, func() error {
		return c.store.InTx(ctx, func(tx Tx) error {
			crt, err := tx.LockActiveCart(ctx, userID)
			if err != nil {
				return err
			}
			items, err := tx.Items(ctx, crt.ID)
			if err != nil {
				return err
			}
			now := c.clock.Now()
			if err := tx.FinalizeCart(ctx, crt.ID, now); err != nil {
				return err
			}
			crt.Active = false
			crt.FinalizedAt = &now
			out = newSnapshot(crt, items)
			return nil
		})
	})
	if err != nil {
		return Snapshot{}, err
	}

	c.logger.Printf("finalized user=%s cart=%s lines=%d", userID, out.CartID, len(out.Items))
	if c.pub != nil {
		if err := c.pub.PublishCartFinalized(ctx, out); err != nil {
			c.logger.Printf("publish CartFinalized cart=%s: %v", out.CartID, err)
		}
	}
	return out, nil
}

func (c *Controller) withRetry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		err = op()
		if !errors.Is(err, ErrTransientConflict) || attempt == c.maxAttempts {
			return err
		}
		c.logger.Printf("transient conflict on attempt %d/%d: %v", attempt, c.maxAttempts, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * c.backoff):
		}
	}
	return err
}

func lineQuantity(items []Item, productID string) int {
	for _, it := range items {
		if it.ProductID == productID {
			return it.Quantity
		}
	}
	return 0
}

// extendedExpiry returns the expiry the cart should carry after an item
// with reservation duration d is added at now, and whether it changed.
func extendedExpiry(current *time.Time, now time.Time, d time.Duration) (time.Time, bool) {
	if d <= 0 {
		return time.Time{}, false
	}
	next := now.Add(d)
	if current != nil && !next.After(*current) {
		return time.Time{}, false
	}
	return next, true
}

func violationError(v eligibility.Violation, req eligibility.Request) error {
	switch v.Kind {
	case eligibility.KindOutsideWindow:
		return &ValidationError{Kind: KindOutsideEligibleWindow, Reason: v.Reason}
	default:
		reason := v.Reason
		if left, ok := eligibility.Headroom(req); ok {
			reason = fmt.Sprintf("%s (%d remaining)", reason, left)
		}
		return &ValidationError{Kind: KindCeilingExceeded, Reason: reason}
	}
}
