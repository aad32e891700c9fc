//go:generate mockgen -source ./notifier.go -destination=./mocks/notifier.go -package=mock_notify
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/food-ordering/internal/order"
)

type Kind string

const (
	KindStatus             Kind = "status"
	KindConfirmationPrompt Kind = "confirmation_prompt"
)

// Notification is a user-facing message produced by the reactor.
type Notification struct {
	Kind           Kind         `json:"kind"`
	OrderID        uuid.UUID    `json:"order_id"`
	ShortID        string       `json:"short_id"`
	UserID         uuid.UUID    `json:"user_id"`
	RestaurantID   uuid.UUID    `json:"restaurant_id"`
	Status         order.Status `json:"status"`
	PreviousStatus order.Status `json:"previous_status,omitempty"`
	Title          string       `json:"title"`
	Body           string       `json:"body"`
	CreatedAt      time.Time    `json:"created_at"`
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the service log.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, n Notification) error {
	log.Info().
		Str("kind", string(n.Kind)).
		Stringer("order_id", n.OrderID).
		Stringer("user_id", n.UserID).
		Stringer("status", n.Status).
		Str("title", n.Title).
		Str("body", n.Body).
		Msg("notify: notification emitted")
	return nil
}

// MultiNotifier delivers to every notifier and joins their errors.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, notifier := range m {
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
