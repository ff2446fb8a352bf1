package cart

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/andreasstove999/ecommerce-system/services/registration-service-go/internal/catalog"
)

type fakeCatalog struct {
	mu         sync.Mutex
	products   map[string]catalog.Product
	conditions []catalog.EnablingCondition
}

func newFakeCatalog(products ...catalog.Product) *fakeCatalog {
	m := make(map[string]catalog.Product, len(products))
	for _, p := range products {
		m[p.ID] = p
	}
	return &fakeCatalog{products: m}
}

func (f *fakeCatalog) addCondition(c catalog.EnablingCondition) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conditions = append(f.conditions, c)
}

func (f *fakeCatalog) Product(ctx context.Context, productID string) (catalog.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[productID]
	if !ok {
		return catalog.Product{}, catalog.ErrNotFound
	}
	return p, nil
}

func (f *fakeCatalog) ConditionsFor(ctx context.Context, productID string) ([]catalog.EnablingCondition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []catalog.EnablingCondition
	for _, c := range f.conditions {
		for _, id := range c.ProductIDs {
			if id == productID {
				out = append(out, c)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeCatalog) governs(conditionID, productID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.conditions {
		if c.ID != conditionID {
			continue
		}
		for _, id := range c.ProductIDs {
			if id == productID {
				return true
			}
		}
	}
	return false
}

// memStore serializes every transaction behind one mutex and applies a
// transaction's writes only when fn succeeds.
type memStore struct {
	mu      sync.Mutex
	catalog *fakeCatalog
	carts   map[string]Cart
	items   map[string]Item
	nextID  int

	failTransient int
	txCount       int
}

func newMemStore(cat *fakeCatalog) *memStore {
	return &memStore{
		catalog: cat,
		carts:   make(map[string]Cart),
		items:   make(map[string]Item),
	}
}

func (s *memStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.txCount++
	if s.failTransient > 0 {
		s.failTransient--
		return fmt.Errorf("%w: simulated", ErrTransientConflict)
	}

	tx := &memTx{s: s, carts: make(map[string]Cart, len(s.carts)), items: make(map[string]Item, len(s.items))}
	for k, v := range s.carts {
		tx.carts[k] = v
	}
	for k, v := range s.items {
		tx.items[k] = v
	}

	if err := fn(tx); err != nil {
		return err
	}
	s.carts, s.items = tx.carts, tx.items
	return nil
}

func (s *memStore) itemsFor(cartID string) []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Item
	for _, it := range s.items {
		if it.CartID == cartID {
			out = append(out, it)
		}
	}
	return out
}

type memTx struct {
	s     *memStore
	carts map[string]Cart
	items map[string]Item
}

func (t *memTx) newID(prefix string) string {
	t.s.nextID++
	return fmt.Sprintf("%s-%d", prefix, t.s.nextID)
}

func (t *memTx) GetOrCreateActiveCart(ctx context.Context, userID string, now time.Time) (Cart, error) {
	if c, err := t.LockActiveCart(ctx, userID); err == nil {
		return c, nil
	}
	c := Cart{ID: t.newID("cart"), UserID: userID, Active: true, CreatedAt: now}
	t.carts[c.ID] = c
	return c, nil
}

func (t *memTx) LockActiveCart(ctx context.Context, userID string) (Cart, error) {
	for _, c := range t.carts {
		if c.UserID == userID && c.Active {
			return c, nil
		}
	}
	return Cart{}, ErrNotFound
}

func (t *memTx) Items(ctx context.Context, cartID string) ([]Item, error) {
	var out []Item
	for _, it := range t.items {
		if it.CartID == cartID {
			out = append(out, it)
		}
	}
	return out, nil
}

func (t *memTx) LockAdmission(ctx context.Context, productID string, conditionIDs []string) error {
	return nil
}

func (t *memTx) UserHolding(ctx context.Context, userID, productID string) (int, error) {
	total := 0
	for _, it := range t.items {
		if it.ProductID == productID && t.carts[it.CartID].UserID == userID {
			total += it.Quantity
		}
	}
	return total, nil
}

func (t *memTx) CeilingHolding(ctx context.Context, conditionID, ownCartID string, now time.Time) (int, error) {
	total := 0
	for _, it := range t.items {
		if !t.s.catalog.governs(conditionID, it.ProductID) {
			continue
		}
		c := t.carts[it.CartID]
		if c.ID == ownCartID || c.Counted(now) {
			total += it.Quantity
		}
	}
	return total, nil
}

func (t *memTx) UpsertItem(ctx context.Context, cartID, productID string, delta int) (Item, error) {
	key := cartID + "/" + productID
	it, ok := t.items[key]
	if !ok {
		it = Item{ID: t.newID("item"), CartID: cartID, ProductID: productID}
	}
	it.Quantity += delta
	t.items[key] = it
	return it, nil
}

func (t *memTx) SetReservationExpiry(ctx context.Context, cartID string, at time.Time) error {
	c := t.carts[cartID]
	c.ReservationExpiresAt = &at
	t.carts[cartID] = c
	return nil
}

func (t *memTx) FinalizeCart(ctx context.Context, cartID string, at time.Time) error {
	c, ok := t.carts[cartID]
	if !ok || !c.Active {
		return ErrNotFound
	}
	c.Active = false
	c.FinalizedAt = &at
	t.carts[cartID] = c
	return nil
}

type fakePublisher struct {
	mu        sync.Mutex
	reserved  []ItemReserved
	finalized []Snapshot
	err       error
}

func (f *fakePublisher) PublishItemReserved(ctx context.Context, ev ItemReserved) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reserved = append(f.reserved, ev)
	return f.err
}

func (f *fakePublisher) PublishCartFinalized(ctx context.Context, s Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finalized = append(f.finalized, s)
	return f.err
}

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}
