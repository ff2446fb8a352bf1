package integration

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/andreasstove999/ecommerce-system/services/registration-service-go/internal/cart"
	"github.com/andreasstove999/ecommerce-system/services/registration-service-go/internal/catalog"
	"github.com/andreasstove999/ecommerce-system/services/registration-service-go/internal/clock"
	"github.com/andreasstove999/ecommerce-system/services/registration-service-go/internal/testutil"
)

var epoch = time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)

// seedCatalog loads prod-1 (one hour reservation) and prod-2 (none), both
// limited to 10 per user, plus prod-3 with no per-user limit.
func seedCatalog(ctx context.Context, t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	_, err := pool.Exec(ctx, `
		INSERT INTO categories (id, name, display_order) VALUES ('cat-1', 'Races', 10);
		INSERT INTO products (id, category_id, name, price, limit_per_user, reservation_seconds, display_order) VALUES
			('prod-1', 'cat-1', 'Race entry', 10, 10, 3600, 10),
			('prod-2', 'cat-1', 'T-shirt', 10, 10, 0, 20),
			('prod-3', 'cat-1', 'Donation', 5, NULL, 0, 30);
	`)
	require.NoError(t, err)
}

func addCondition(ctx context.Context, t *testing.T, pool *pgxpool.Pool, id string, limit *int, start, end *time.Time, products ...string) {
	t.Helper()
	_, err := pool.Exec(ctx, `
		INSERT INTO enabling_conditions (id, description, mandatory, stock_limit, start_time, end_time)
		VALUES ($1, $1, true, $2, $3, $4)
	`, id, limit, start, end)
	require.NoError(t, err)
	for _, p := range products {
		_, err := pool.Exec(ctx, `INSERT INTO condition_products (condition_id, product_id) VALUES ($1, $2)`, id, p)
		require.NoError(t, err)
	}
}

func intPtr(v int) *int { return &v }

func newController(pool *pgxpool.Pool, clk clock.Clock) *cart.Controller {
	return cart.NewController(
		cart.NewPostgresStore(pool),
		catalog.NewPostgresReader(pool),
		clk,
		log.New(io.Discard, "", 0),
		cart.Options{MaxAttempts: 5, RetryBackoff: 5 * time.Millisecond},
	)
}

func TestCartAdmissionPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}

	ctx := context.Background()
	pool, _ := testutil.StartPostgres(t)
	seedCatalog(ctx, t, pool)
	addCondition(ctx, t, pool, "cond-shared", intPtr(9), nil, nil, "prod-1", "prod-2")

	clk := clock.NewManual(epoch)
	ctrl := newController(pool, clk)

	t.Run("catalog reader", func(t *testing.T) {
		p, err := catalog.NewPostgresReader(pool).Product(ctx, "prod-1")
		require.NoError(t, err)
		require.Equal(t, time.Hour, p.ReservationDuration)
		require.NotNil(t, p.LimitPerUser)
		require.Equal(t, 10, *p.LimitPerUser)

		conds, err := catalog.NewPostgresReader(pool).ConditionsFor(ctx, "prod-2")
		require.NoError(t, err)
		require.Len(t, conds, 1)
		require.Equal(t, []string{"prod-1", "prod-2"}, conds[0].ProductIDs)

		_, err = catalog.NewPostgresReader(pool).Product(ctx, "missing")
		require.ErrorIs(t, err, catalog.ErrNotFound)

		cats, err := catalog.NewPostgresReader(pool).Categories(ctx)
		require.NoError(t, err)
		require.Equal(t, []catalog.Category{{ID: "cat-1", Name: "Races", Order: 10}}, cats)
	})

	t.Run("aggregates repeated adds", func(t *testing.T) {
		_, err := ctrl.AddToCart(ctx, "agg-user", "prod-3", 2)
		require.NoError(t, err)
		item, err := ctrl.AddToCart(ctx, "agg-user", "prod-3", 3)
		require.NoError(t, err)
		require.Equal(t, 5, item.Quantity)

		snap, err := ctrl.GetActiveCart(ctx, "agg-user")
		require.NoError(t, err)
		require.Equal(t, []cart.Line{{ProductID: "prod-3", Quantity: 5}}, snap.Items)
	})

	t.Run("shared ceiling across products and users", func(t *testing.T) {
		_, err := ctrl.AddToCart(ctx, "user-1", "prod-1", 5)
		require.NoError(t, err)
		_, err = ctrl.AddToCart(ctx, "user-2", "prod-2", 4)
		require.NoError(t, err)

		_, err = ctrl.AddToCart(ctx, "user-3", "prod-1", 1)
		require.ErrorIs(t, err, cart.ErrCeilingExceeded)

		// user-1's reservation lapses and its units stop counting
		clk.Advance(time.Hour)
		_, err = ctrl.AddToCart(ctx, "user-3", "prod-1", 5)
		require.NoError(t, err)

		_, err = ctrl.AddToCart(ctx, "user-2", "prod-2", 1)
		require.ErrorIs(t, err, cart.ErrCeilingExceeded)
	})

	t.Run("finalize opens a fresh cart", func(t *testing.T) {
		_, err := ctrl.AddToCart(ctx, "user-9", "prod-3", 1)
		require.NoError(t, err)
		fin, err := ctrl.Finalize(ctx, "user-9")
		require.NoError(t, err)
		require.False(t, fin.Active)

		next, err := ctrl.GetActiveCart(ctx, "user-9")
		require.NoError(t, err)
		require.NotEqual(t, fin.CartID, next.CartID)
		require.Empty(t, next.Items)

		_, err = ctrl.Finalize(ctx, "nobody")
		require.ErrorIs(t, err, cart.ErrNotFound)
	})
}

func TestConcurrentAddsPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}

	ctx := context.Background()
	pool, _ := testutil.StartPostgres(t)
	seedCatalog(ctx, t, pool)
	addCondition(ctx, t, pool, "cond-a", intPtr(5), nil, nil, "prod-1", "prod-2")
	addCondition(ctx, t, pool, "cond-b", intPtr(7), nil, nil, "prod-2")

	ctrl := newController(pool, clock.NewManual(epoch))

	var (
		wg        sync.WaitGroup
		admitted  int32
		ceilingNo int32
		other     = make(chan error, 40)
	)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := "racer-" + string(rune('a'+i%26)) + string(rune('a'+i/26))
			product := "prod-1"
			if i%2 == 0 {
				product = "prod-2"
			}
			_, err := ctrl.AddToCart(ctx, user, product, 1)
			switch {
			case err == nil:
				atomic.AddInt32(&admitted, 1)
			case errors.Is(err, cart.ErrCeilingExceeded):
				atomic.AddInt32(&ceilingNo, 1)
			default:
				other <- err
			}
		}(i)
	}
	wg.Wait()
	close(other)

	for err := range other {
		t.Fatalf("unexpected error: %v", err)
	}
	require.EqualValues(t, 5, admitted)
	require.EqualValues(t, 35, ceilingNo)

	var held int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COALESCE(SUM(quantity), 0) FROM cart_items`).Scan(&held))
	require.Equal(t, 5, held)
}

func TestConcurrentSameUserPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}

	ctx := context.Background()
	pool, _ := testutil.StartPostgres(t)
	seedCatalog(ctx, t, pool)

	ctrl := newController(pool, clock.NewManual(epoch))

	var wg sync.WaitGroup
	var admitted int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ctrl.AddToCart(ctx, "greedy", "prod-1", 1); err == nil {
				atomic.AddInt32(&admitted, 1)
			}
		}()
	}
	wg.Wait()

	require.EqualValues(t, 10, admitted)

	var carts int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM carts WHERE user_id='greedy' AND active`).Scan(&carts))
	require.Equal(t, 1, carts)
}
