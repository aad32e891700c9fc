package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
)

// ChangePublisher forwards committed changes to an external feed.
type ChangePublisher interface {
	PublishChange(ctx context.Context, change Change) error
}

// TransitionObserver is told about every action outcome.
type TransitionObserver interface {
	ObserveTransition(action Action, role Role, outcome string)
}

const (
	OutcomeApplied  = "applied"
	OutcomeNoop     = "noop"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Command is a single lifecycle action requested by an actor.
type Command struct {
	Action               Action
	Actor                Actor
	EstimatedTimeMinutes int
}

type Service interface {
	PlaceOrder(ctx context.Context, orderInput *Order) (*Order, error)
	GetOrder(ctx context.Context, id uuid.UUID) (*Order, error)
	ListOrdersByUser(ctx context.Context, userID uuid.UUID) ([]Order, error)
	ListOrdersByRestaurant(ctx context.Context, restaurantID uuid.UUID) ([]Order, error)
	GetStatusHistory(ctx context.Context, id uuid.UUID) ([]StatusChange, error)

	Apply(ctx context.Context, id uuid.UUID, cmd Command) (*Order, error)
	Accept(ctx context.Context, id uuid.UUID, actor Actor, estimatedTimeMinutes int) (*Order, error)
	Reject(ctx context.Context, id uuid.UUID, actor Actor) (*Order, error)
	Cancel(ctx context.Context, id uuid.UUID, actor Actor) (*Order, error)
	StartPreparing(ctx context.Context, id uuid.UUID, actor Actor) (*Order, error)
	MarkReady(ctx context.Context, id uuid.UUID, actor Actor) (*Order, error)
	Dispatch(ctx context.Context, id uuid.UUID, actor Actor) (*Order, error)
	ConfirmDelivery(ctx context.Context, id uuid.UUID, actor Actor) (*Order, error)

	AvailableActions(status Status, role Role) []Action
}

type Option func(*service)

func WithPublisher(p ChangePublisher) Option {
	return func(s *service) { s.publisher = p }
}

func WithObserver(o TransitionObserver) Option {
	return func(s *service) { s.observer = o }
}

func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

type service struct {
	orderRepo Repository
	machine   *Machine
	publisher ChangePublisher
	observer  TransitionObserver
	now       func() time.Time
}

func NewService(orderRepo Repository, machine *Machine, opts ...Option) Service {
	s := &service{
		orderRepo: orderRepo,
		machine:   machine,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) PlaceOrder(ctx context.Context, orderInput *Order) (*Order, error) {
	if err := validateNewOrder(orderInput); err != nil {
		log.Warn().Err(err).Stringer("user_id", orderInput.UserID).Msg("service: rejected new order")
		return nil, err
	}

	now := s.now().UTC()
	totalAmount := 0.0
	for i := range orderInput.Items {
		item := &orderInput.Items[i]
		item.ID = uuid.Nil
		item.OrderID = orderInput.ID
		item.CreatedAt = now
		item.ComputeTotal()
		totalAmount += item.TotalPrice
	}

	orderInput.Status = StatusPending
	orderInput.TotalAmount = roundCents(totalAmount)
	orderInput.DeliveryFee = roundCents(orderInput.DeliveryFee)
	orderInput.DeliveryAddress = strings.TrimSpace(orderInput.DeliveryAddress)
	orderInput.EstimatedTimeMinutes = nil
	orderInput.AcceptedAt = nil
	orderInput.DispatchedAt = nil
	orderInput.DeliveredAt = nil
	orderInput.CreatedAt = now
	orderInput.UpdatedAt = now

	if _, err := s.orderRepo.InsertOrder(ctx, orderInput); err != nil {
		log.Error().Err(err).Stringer("user_id", orderInput.UserID).Msg("service: failed to insert order")
		return nil, storeError("insert order", err)
	}

	log.Info().
		Stringer("order_id", orderInput.ID).
		Stringer("user_id", orderInput.UserID).
		Stringer("restaurant_id", orderInput.RestaurantID).
		Float64("total_amount", orderInput.TotalAmount).
		Msg("service: order placed")

	s.publish(ctx, Change{Type: EventInsert, Current: orderInput.Snapshot()})

	return orderInput, nil
}

func validateNewOrder(o *Order) error {
	if o.UserID == uuid.Nil {
		return fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if o.RestaurantID == uuid.Nil {
		return fmt.Errorf("%w: restaurant id is required", ErrValidation)
	}
	if strings.TrimSpace(o.DeliveryAddress) == "" {
		return fmt.Errorf("%w: delivery address is required", ErrValidation)
	}
	if o.DeliveryFee < 0 {
		return fmt.Errorf("%w: delivery fee cannot be negative", ErrValidation)
	}
	if len(o.Items) == 0 {
		return fmt.Errorf("%w: order must contain at least one item", ErrValidation)
	}
	for _, item := range o.Items {
		if item.ProductID == uuid.Nil {
			return fmt.Errorf("%w: product id in order item cannot be nil", ErrValidation)
		}
		if item.Quantity < 1 {
			return fmt.Errorf("%w: quantity for product %s must be at least 1", ErrValidation, item.ProductID)
		}
		if item.UnitPrice < 0 {
			return fmt.Errorf("%w: unit price for product %s cannot be negative", ErrValidation, item.ProductID)
		}
	}
	return nil
}

func (s *service) GetOrder(ctx context.Context, id uuid.UUID) (*Order, error) {
	order, err := s.orderRepo.GetOrder(ctx, id)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			log.Warn().Stringer("order_id", id).Msg("service: order not found by id")
			return nil, ErrOrderNotFound
		}

		log.Error().Err(err).Stringer("order_id", id).Msg("service: failed to fetch order by id")
		return nil, storeError("get order", err)
	}

	return order, nil
}

func (s *service) ListOrdersByUser(ctx context.Context, userID uuid.UUID) ([]Order, error) {
	orders, err := s.orderRepo.ListByUser(ctx, userID)
	if err != nil {
		log.Error().Err(err).Stringer("user_id", userID).Msg("service: failed to list user orders")
		return nil, storeError("list user orders", err)
	}
	return orders, nil
}

func (s *service) ListOrdersByRestaurant(ctx context.Context, restaurantID uuid.UUID) ([]Order, error) {
	orders, err := s.orderRepo.ListByRestaurant(ctx, restaurantID)
	if err != nil {
		log.Error().Err(err).Stringer("restaurant_id", restaurantID).Msg("service: failed to list restaurant orders")
		return nil, storeError("list restaurant orders", err)
	}
	return orders, nil
}

func (s *service) GetStatusHistory(ctx context.Context, id uuid.UUID) ([]StatusChange, error) {
	if _, err := s.GetOrder(ctx, id); err != nil {
		return nil, err
	}

	history, err := s.orderRepo.StatusHistory(ctx, id)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", id).Msg("service: failed to load status history")
		return nil, storeError("load status history", err)
	}
	return history, nil
}

func (s *service) Accept(ctx context.Context, id uuid.UUID, actor Actor, estimatedTimeMinutes int) (*Order, error) {
	return s.Apply(ctx, id, Command{Action: ActionAccept, Actor: actor, EstimatedTimeMinutes: estimatedTimeMinutes})
}

func (s *service) Reject(ctx context.Context, id uuid.UUID, actor Actor) (*Order, error) {
	return s.Apply(ctx, id, Command{Action: ActionReject, Actor: actor})
}

func (s *service) Cancel(ctx context.Context, id uuid.UUID, actor Actor) (*Order, error) {
	return s.Apply(ctx, id, Command{Action: ActionCancel, Actor: actor})
}

func (s *service) StartPreparing(ctx context.Context, id uuid.UUID, actor Actor) (*Order, error) {
	return s.Apply(ctx, id, Command{Action: ActionStartPreparing, Actor: actor})
}

func (s *service) MarkReady(ctx context.Context, id uuid.UUID, actor Actor) (*Order, error) {
	return s.Apply(ctx, id, Command{Action: ActionMarkReady, Actor: actor})
}

func (s *service) Dispatch(ctx context.Context, id uuid.UUID, actor Actor) (*Order, error) {
	return s.Apply(ctx, id, Command{Action: ActionDispatch, Actor: actor})
}

func (s *service) ConfirmDelivery(ctx context.Context, id uuid.UUID, actor Actor) (*Order, error) {
	return s.Apply(ctx, id, Command{Action: ActionConfirmDelivery, Actor: actor})
}

func (s *service) AvailableActions(status Status, role Role) []Action {
	return s.machine.Available(status, role)
}

func (s *service) Apply(ctx context.Context, id uuid.UUID, cmd Command) (*Order, error) {
	target, err := s.checkCommand(cmd)
	if err != nil {
		s.observe(cmd, OutcomeRejected)
		log.Warn().Err(err).Stringer("order_id", id).Stringer("action", cmd.Action).Msg("service: invalid command")
		return nil, err
	}

	current, err := s.GetOrder(ctx, id)
	if err != nil {
		s.observe(cmd, OutcomeFailed)
		return nil, err
	}

	if current.Status == target {
		if !s.machine.Permits(cmd.Action, cmd.Actor.Role) {
			s.observe(cmd, OutcomeRejected)
			log.Warn().Stringer("order_id", id).Stringer("action", cmd.Action).Stringer("role", cmd.Actor.Role).Msg("service: role not permitted")
			return nil, fmt.Errorf("%w: %s cannot %s orders", ErrRoleNotPermitted, cmd.Actor.Role, cmd.Action)
		}
		s.observe(cmd, OutcomeNoop)
		log.Info().Stringer("order_id", id).Stringer("status", target).Msg("service: order is already in the target status, nothing to do")
		return current, nil
	}

	if _, err := s.machine.Resolve(current.Status, cmd.Action, cmd.Actor.Role); err != nil {
		s.observe(cmd, OutcomeRejected)
		log.Warn().
			Stringer("order_id", id).
			Stringer("current_status", current.Status).
			Stringer("action", cmd.Action).
			Stringer("role", cmd.Actor.Role).
			Msg("service: invalid status transition attempt")
		return nil, err
	}

	update := s.buildUpdate(current, cmd, target)

	err = s.orderRepo.UpdateOrderStatus(ctx, update)
	if err != nil {
		switch {
		case errors.Is(err, ErrStatusConflict):
			return s.resolveConflict(ctx, id, cmd, target)
		case errors.Is(err, ErrOrderNotFound):
			s.observe(cmd, OutcomeFailed)
			log.Warn().Stringer("order_id", id).Msg("service: order disappeared before status update")
			return nil, ErrOrderNotFound
		default:
			s.observe(cmd, OutcomeFailed)
			log.Error().Err(err).Stringer("order_id", id).Stringer("new_status", target).Msg("service: failed to update order status")
			return nil, storeError("update order status", err)
		}
	}

	previous := current.Snapshot()
	applyUpdate(current, update)
	s.observe(cmd, OutcomeApplied)

	log.Info().
		Stringer("order_id", id).
		Stringer("old_status", update.From).
		Stringer("new_status", update.To).
		Stringer("role", cmd.Actor.Role).
		Msg("service: order status updated")

	s.publish(ctx, Change{Type: EventUpdate, Previous: &previous, Current: current.Snapshot()})

	return current, nil
}

func (s *service) checkCommand(cmd Command) (Status, error) {
	if !cmd.Actor.Role.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", ErrValidation, cmd.Actor.Role)
	}

	target, ok := s.machine.Target(cmd.Action)
	if !ok {
		return "", fmt.Errorf("%w: unknown action %q", ErrValidation, cmd.Action)
	}

	if cmd.Action == ActionAccept && cmd.EstimatedTimeMinutes <= 0 {
		return "", fmt.Errorf("%w: estimated time must be a positive number of minutes", ErrValidation)
	}

	return target, nil
}

func (s *service) buildUpdate(current *Order, cmd Command, target Status) StatusUpdate {
	at := s.now().UTC()
	if at.Before(current.CreatedAt) {
		at = current.CreatedAt
	}

	update := StatusUpdate{
		OrderID: current.ID,
		From:    current.Status,
		To:      target,
		Action:  cmd.Action,
		Actor:   cmd.Actor,
		At:      at,
	}

	switch target {
	case StatusAccepted:
		minutes := cmd.EstimatedTimeMinutes
		update.EstimatedTimeMinutes = &minutes
		update.AcceptedAt = &at
	case StatusDispatched:
		update.DispatchedAt = &at
	case StatusDelivered:
		update.DeliveredAt = &at
	}

	return update
}

// resolveConflict handles an update whose expected status no longer matched.
func (s *service) resolveConflict(ctx context.Context, id uuid.UUID, cmd Command, target Status) (*Order, error) {
	fresh, err := s.GetOrder(ctx, id)
	if err != nil {
		s.observe(cmd, OutcomeFailed)
		return nil, err
	}

	if fresh.Status == target {
		s.observe(cmd, OutcomeNoop)
		log.Info().Stringer("order_id", id).Stringer("status", target).Msg("service: concurrent caller already reached the target status")
		return fresh, nil
	}

	s.observe(cmd, OutcomeRejected)
	log.Warn().Stringer("order_id", id).Stringer("current_status", fresh.Status).Stringer("action", cmd.Action).Msg("service: lost status race")
	return nil, fmt.Errorf("%w: cannot %s an order in status %s", ErrInvalidTransition, cmd.Action, fresh.Status)
}

func applyUpdate(o *Order, u StatusUpdate) {
	o.Status = u.To
	o.UpdatedAt = u.At
	if u.EstimatedTimeMinutes != nil {
		o.EstimatedTimeMinutes = u.EstimatedTimeMinutes
	}
	if u.AcceptedAt != nil {
		o.AcceptedAt = u.AcceptedAt
	}
	if u.DispatchedAt != nil {
		o.DispatchedAt = u.DispatchedAt
	}
	if u.DeliveredAt != nil {
		o.DeliveredAt = u.DeliveredAt
	}
}

func (s *service) publish(ctx context.Context, change Change) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishChange(ctx, change); err != nil {
		log.Error().Err(err).Stringer("order_id", change.Current.ID).Str("event", string(change.Type)).Msg("service: failed to publish order change")
	}
}

func (s *service) observe(cmd Command, outcome string) {
	if s.observer != nil {
		s.observer.ObserveTransition(cmd.Action, cmd.Actor.Role, outcome)
	}
}

// storeError keeps domain errors as they are and marks everything else as a store failure.
func storeError(op string, err error) error {
	switch {
	case errors.Is(err, ErrOrderNotFound),
		errors.Is(err, ErrDuplicateOrderID),
		errors.Is(err, ErrValidation):
		return fmt.Errorf("service: %s: %w", op, err)
	default:
		return fmt.Errorf("service: %s: %w: %w", op, ErrStoreUnavailable, err)
	}
}
