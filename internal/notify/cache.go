package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/gofrs/uuid"
	"github.com/vasiliy-maslov/food-ordering/internal/order"
)

// StatusCache remembers the last status seen per order.
type StatusCache struct {
	mu    sync.RWMutex
	store map[uuid.UUID]order.Status
}

func NewStatusCache() *StatusCache {
	return &StatusCache{store: make(map[uuid.UUID]order.Status)}
}

func (c *StatusCache) Get(id uuid.UUID) (order.Status, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.store[id]
	return s, ok
}

func (c *StatusCache) Set(id uuid.UUID, s order.Status) {
	c.mu.Lock()
	c.store[id] = s
	c.mu.Unlock()
}

// ActiveOrders lists the orders that can still change status.
type ActiveOrders interface {
	ListActive(ctx context.Context) ([]order.Order, error)
}

// Refresh primes the cache with the current status of every active order.
func (c *StatusCache) Refresh(ctx context.Context, src ActiveOrders) error {
	orders, err := src.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("notify: failed to load active orders: %w", err)
	}
	c.Prime(orders)
	return nil
}

// Prime seeds the cache from orders already known.
func (c *StatusCache) Prime(orders []order.Order) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, o := range orders {
		c.store[o.ID] = o.Status
	}
}

func (c *StatusCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.store)
}
