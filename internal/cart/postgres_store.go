package cart

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBPool matches the methods from *pgxpool.Pool that we use.
// This allows us to mock the database in tests.
type DBPool interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// TransactionalStore lets callers finalize a cart inside a transaction they
// own, alongside their own writes.
type TransactionalStore interface {
	Store
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	FinalizeWithTx(ctx context.Context, tx pgx.Tx, cartID, userID string, at time.Time) (bool, error)
}

// Lock acquisition order is cart row, condition rows by id, product row.
// Every admission path follows it so concurrent adds cannot deadlock on
// each other.
type PostgresStore struct {
	pool DBPool
}

func NewPostgresStore(pool DBPool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return classify(fmt.Errorf("begin tx: %w", err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return classify(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return classify(fmt.Errorf("commit: %w", err))
	}
	return nil
}

func (s *PostgresStore) BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error) {
	return s.pool.BeginTx(ctx, txOptions)
}

// FinalizeWithTx deactivates the cart if it is still active. A non-empty
// userID must own the cart. The boolean is false when no active cart
// matched: already finalized, missing or owned by someone else.
func (s *PostgresStore) FinalizeWithTx(ctx context.Context, tx pgx.Tx, cartID, userID string, at time.Time) (bool, error) {
	if userID == "" {
		err := (&pgTx{tx: tx}).FinalizeCart(ctx, cartID, at)
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, classify(err)
		}
		return true, nil
	}

	tag, err := tx.Exec(ctx, `
		UPDATE carts
		SET active=false, finalized_at=$2
		WHERE id=$1 AND active AND user_id=$3
	`, cartID, at, userID)
	if err != nil {
		return false, classify(fmt.Errorf("finalize cart: %w", err))
	}
	return tag.RowsAffected() == 1, nil
}

// transientCodes are SQLSTATEs caused by contention rather than by the data.
var transientCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
}

func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && transientCodes[pgErr.Code] {
		return fmt.Errorf("%w: %w", ErrTransientConflict, err)
	}
	return err
}

type pgTx struct {
	tx pgx.Tx
}

const cartColumns = `id, user_id, active, reservation_expires_at, created_at, finalized_at`

func (t *pgTx) GetOrCreateActiveCart(ctx context.Context, userID string, now time.Time) (Cart, error) {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO carts (id, user_id, active, created_at)
		VALUES ($1, $2, true, $3)
		ON CONFLICT (user_id) WHERE active DO NOTHING
	`, uuid.NewString(), userID, now)
	if err != nil {
		return Cart{}, fmt.Errorf("insert cart: %w", err)
	}
	return t.LockActiveCart(ctx, userID)
}

func (t *pgTx) LockActiveCart(ctx context.Context, userID string) (Cart, error) {
	var c Cart
	err := t.tx.QueryRow(ctx, `
		SELECT `+cartColumns+`
		FROM carts
		WHERE user_id=$1 AND active
		FOR UPDATE
	`, userID).Scan(&c.ID, &c.UserID, &c.Active, &c.ReservationExpiresAt, &c.CreatedAt, &c.FinalizedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Cart{}, ErrNotFound
		}
		return Cart{}, fmt.Errorf("lock cart: %w", err)
	}
	return c, nil
}

func (t *pgTx) Items(ctx context.Context, cartID string) ([]Item, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, cart_id, product_id, quantity
		FROM cart_items
		WHERE cart_id=$1
		ORDER BY product_id
	`, cartID)
	if err != nil {
		return nil, fmt.Errorf("select items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.CartID, &it.ProductID, &it.Quantity); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return items, nil
}

func (t *pgTx) LockAdmission(ctx context.Context, productID string, conditionIDs []string) error {
	if len(conditionIDs) > 0 {
		ids := append([]string(nil), conditionIDs...)
		sort.Strings(ids)
		if _, err := t.tx.Exec(ctx, `
			SELECT id
			FROM enabling_conditions
			WHERE id = ANY($1)
			ORDER BY id
			FOR UPDATE
		`, ids); err != nil {
			return fmt.Errorf("lock conditions: %w", err)
		}
	}

	if _, err := t.tx.Exec(ctx, `
		SELECT id
		FROM products
		WHERE id=$1
		FOR UPDATE
	`, productID); err != nil {
		return fmt.Errorf("lock product: %w", err)
	}
	return nil
}

func (t *pgTx) UserHolding(ctx context.Context, userID, productID string) (int, error) {
	var total int
	err := t.tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(i.quantity), 0)
		FROM cart_items i
		JOIN carts c ON c.id = i.cart_id
		WHERE c.user_id=$1 AND i.product_id=$2
	`, userID, productID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum user holding: %w", err)
	}
	return total, nil
}

func (t *pgTx) CeilingHolding(ctx context.Context, conditionID, ownCartID string, now time.Time) (int, error) {
	var total int
	err := t.tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(i.quantity), 0)
		FROM cart_items i
		JOIN carts c ON c.id = i.cart_id
		JOIN condition_products cp ON cp.product_id = i.product_id
		WHERE cp.condition_id=$1
			AND (c.id=$2 OR NOT c.active OR c.reservation_expires_at IS NULL OR c.reservation_expires_at > $3)
	`, conditionID, ownCartID, now).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum ceiling holding: %w", err)
	}
	return total, nil
}

func (t *pgTx) UpsertItem(ctx context.Context, cartID, productID string, delta int) (Item, error) {
	var it Item
	err := t.tx.QueryRow(ctx, `
		INSERT INTO cart_items (id, cart_id, product_id, quantity)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (cart_id, product_id)
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity, updated_at = now()
		RETURNING id, cart_id, product_id, quantity
	`, uuid.NewString(), cartID, productID, delta).Scan(&it.ID, &it.CartID, &it.ProductID, &it.Quantity)
	if err != nil {
		return Item{}, fmt.Errorf("upsert item: %w", err)
	}
	return it, nil
}

func (t *pgTx) SetReservationExpiry(ctx context.Context, cartID string, at time.Time) error {
	if _, err := t.tx.Exec(ctx, `
		UPDATE carts
		SET reservation_expires_at=$2
		WHERE id=$1
	`, cartID, at); err != nil {
		return fmt.Errorf("set reservation expiry: %w", err)
	}
	return nil
}

func (t *pgTx) FinalizeCart(ctx context.Context, cartID string, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE carts
		SET active=false, finalized_at=$2
		WHERE id=$1 AND active
	`, cartID, at)
	if err != nil {
		return fmt.Errorf("finalize cart: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
