// Package feed delivers order change events from the store to the reactor.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/vasiliy-maslov/food-ordering/internal/order"
)

var ErrInvalidEvent = errors.New("invalid change event")

// Source streams changes into out until ctx is done or the transport fails.
// Implementations never close out.
type Source interface {
	Stream(ctx context.Context, out chan<- order.Change) error
}

// DecodeChange parses and checks one JSON change event.
func DecodeChange(data []byte) (order.Change, error) {
	var c order.Change
	if err := json.Unmarshal(data, &c); err != nil {
		return order.Change{}, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}

	switch c.Type {
	case order.EventInsert, order.EventUpdate:
	default:
		return order.Change{}, fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, c.Type)
	}
	if c.Current.ID == uuid.Nil {
		return order.Change{}, fmt.Errorf("%w: missing order id", ErrInvalidEvent)
	}
	if !c.Current.Status.Valid() {
		return order.Change{}, fmt.Errorf("%w: unknown status %q", ErrInvalidEvent, c.Current.Status)
	}
	if c.Previous != nil && !c.Previous.Status.Valid() {
		c.Previous = nil
	}
	return c, nil
}

func deliver(ctx context.Context, out chan<- order.Change, c order.Change) error {
	select {
	case out <- c:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
