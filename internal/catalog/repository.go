package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

var ErrNotFound = errors.New("product not found")

// DBPool matches the methods from *pgxpool.Pool that we use.
type DBPool interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Reader is the read-only view of the catalog the cart engine needs.
type Reader interface {
	Product(ctx context.Context, productID string) (Product, error)
	ConditionsFor(ctx context.Context, productID string) ([]EnablingCondition, error)
}

type PostgresReader struct {
	pool DBPool
}

func NewPostgresReader(pool DBPool) *PostgresReader {
	return &PostgresReader{pool: pool}
}

func (r *PostgresReader) Product(ctx context.Context, productID string) (Product, error) {
	var (
		p       Product
		seconds int64
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, category_id, name, price, limit_per_user, reservation_seconds, display_order
		FROM products
		WHERE id=$1
	`, productID).Scan(&p.ID, &p.CategoryID, &p.Name, &p.Price, &p.LimitPerUser, &seconds, &p.Order)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrNotFound
		}
		return Product{}, fmt.Errorf("select product: %w", err)
	}
	p.ReservationDuration = time.Duration(seconds) * time.Second
	return p, nil
}

// Categories lists every category in display order.
func (r *PostgresReader) Categories(ctx context.Context) ([]Category, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, display_order
		FROM categories
		ORDER BY display_order, id
	`)
	if err != nil {
		return nil, fmt.Errorf("select categories: %w", err)
	}
	defer rows.Close()

	var out []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Order); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate categories: %w", err)
	}
	return out, nil
}

// ConditionsFor returns every enabling condition governing the product,
// ordered by id, each with its full governed product set.
func (r *PostgresReader) ConditionsFor(ctx context.Context, productID string) ([]EnablingCondition, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT c.id, c.description, c.mandatory, c.stock_limit, c.start_time, c.end_time,
			ARRAY(
				SELECT g.product_id FROM condition_products g
				WHERE g.condition_id = c.id
				ORDER BY g.product_id
			)
		FROM enabling_conditions c
		JOIN condition_products cp ON cp.condition_id = c.id
		WHERE cp.product_id = $1
		ORDER BY c.id
	`, productID)
	if err != nil {
		return nil, fmt.Errorf("select conditions: %w", err)
	}
	defer rows.Close()

	var out []EnablingCondition
	for rows.Next() {
		var c EnablingCondition
		if err := rows.Scan(&c.ID, &c.Description, &c.Mandatory, &c.Limit, &c.StartTime, &c.EndTime, &c.ProductIDs); err != nil {
			return nil, fmt.Errorf("scan condition: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conditions: %w", err)
	}
	return out, nil
}
