package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// ErrStatusConflict means the row exists but no longer has the expected status.
var ErrStatusConflict = errors.New("order status changed concurrently")

// StatusUpdate is a conditional status change: it only applies while the
// stored status still equals From.
type StatusUpdate struct {
	OrderID              uuid.UUID
	From                 Status
	To                   Status
	Action               Action
	Actor                Actor
	At                   time.Time
	EstimatedTimeMinutes *int
	AcceptedAt           *time.Time
	DispatchedAt         *time.Time
	DeliveredAt          *time.Time
}

type Repository interface {
	InsertOrder(ctx context.Context, order *Order) (uuid.UUID, error)
	GetOrder(ctx context.Context, id uuid.UUID) (*Order, error)
	UpdateOrderStatus(ctx context.Context, update StatusUpdate) error
	ListByUser(ctx context.Context, userID uuid.UUID) ([]Order, error)
	ListByRestaurant(ctx context.Context, restaurantID uuid.UUID) ([]Order, error)
	// ListActive returns every order that has not reached a terminal status.
	ListActive(ctx context.Context) ([]Order, error)
	StatusHistory(ctx context.Context, orderID uuid.UUID) ([]StatusChange, error)
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

const orderColumns = `
	o.id, o.user_id, o.restaurant_id, COALESCE(r.name, ''), o.status, o.total_amount, o.delivery_fee,
	o.delivery_address, o.notes, o.estimated_time_minutes, o.created_at, o.updated_at,
	o.accepted_at, o.dispatched_at, o.delivered_at`

const itemColumns = `id, order_id, product_id, product_name, quantity, unit_price, total_price, notes, created_at`

func (r *postgresRepository) InsertOrder(ctx context.Context, orderInput *Order) (orderID uuid.UUID, err error) {
	if orderInput.ID == uuid.Nil {
		genID, genErr := uuid.NewV4()
		if genErr != nil {
			return uuid.Nil, fmt.Errorf("repository: failed to generate order id: %w", genErr)
		}
		orderInput.ID = genID
	}
	if orderInput.CreatedAt.IsZero() {
		orderInput.CreatedAt = time.Now().UTC()
		orderInput.UpdatedAt = orderInput.CreatedAt
	}

	err = r.withTx(ctx, func(tx pgx.Tx) error {
		_, execErr := tx.Exec(ctx, `
			INSERT INTO order_service.orders
				(id, user_id, restaurant_id, status, total_amount, delivery_fee, delivery_address, notes, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			orderInput.ID,
			orderInput.UserID,
			orderInput.RestaurantID,
			string(orderInput.Status),
			orderInput.TotalAmount,
			orderInput.DeliveryFee,
			orderInput.DeliveryAddress,
			orderInput.Notes,
			orderInput.CreatedAt,
			orderInput.UpdatedAt,
		)
		if execErr != nil {
			return mapPgError("insert order", execErr)
		}

		for i := range orderInput.Items {
			item := &orderInput.Items[i]
			if item.ID == uuid.Nil {
				itemID, genErr := uuid.NewV4()
				if genErr != nil {
					return fmt.Errorf("repository: failed to generate order item id: %w", genErr)
				}
				item.ID = itemID
			}
			item.OrderID = orderInput.ID
			if item.CreatedAt.IsZero() {
				item.CreatedAt = orderInput.CreatedAt
			}

			_, execErr = tx.Exec(ctx, `
				INSERT INTO order_service.order_items (`+itemColumns+`)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				item.ID,
				item.OrderID,
				item.ProductID,
				item.ProductName,
				item.Quantity,
				item.UnitPrice,
				item.TotalPrice,
				item.Notes,
				item.CreatedAt,
			)
			if execErr != nil {
				return mapPgError(fmt.Sprintf("insert order item for order %s", orderInput.ID), execErr)
			}
		}

		return tx.QueryRow(ctx, `SELECT name FROM order_service.restaurants WHERE id = $1`, orderInput.RestaurantID).
			Scan(&orderInput.RestaurantName)
	})
	if err != nil {
		return uuid.Nil, err
	}

	return orderInput.ID, nil
}

func (r *postgresRepository) GetOrder(ctx context.Context, id uuid.UUID) (*Order, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+orderColumns+`
		FROM order_service.orders o
		LEFT JOIN order_service.restaurants r ON r.id = o.restaurant_id
		WHERE o.id = $1`, id)

	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to select order by id %s: %w", id, err)
	}

	items, err := r.itemsFor(ctx, []uuid.UUID{id})
	if err != nil {
		return nil, err
	}
	order.Items = items[id]
	if order.Items == nil {
		order.Items = make([]OrderItem, 0)
	}

	return order, nil
}

func (r *postgresRepository) UpdateOrderStatus(ctx context.Context, u StatusUpdate) error {
	return r.withTx(ctx, func(tx pgx.Tx) error {
		cmdTag, err := tx.Exec(ctx, `
			UPDATE order_service.orders
			SET status = $1,
				updated_at = $2,
				estimated_time_minutes = COALESCE($3, estimated_time_minutes),
				accepted_at = COALESCE($4, accepted_at),
				dispatched_at = COALESCE($5, dispatched_at),
				delivered_at = COALESCE($6, delivered_at)
			WHERE id = $7 AND status = $8`,
			string(u.To),
			u.At,
			u.EstimatedTimeMinutes,
			u.AcceptedAt,
			u.DispatchedAt,
			u.DeliveredAt,
			u.OrderID,
			string(u.From),
		)
		if err != nil {
			log.Error().Err(err).Stringer("order_id", u.OrderID).Stringer("new_status", u.To).Msg("repository: failed to update order status")
			return fmt.Errorf("repository: failed to update order status %s: %w", u.OrderID, err)
		}

		if cmdTag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM order_service.orders WHERE id = $1)`, u.OrderID).Scan(&exists); err != nil {
				return fmt.Errorf("repository: failed to check order %s: %w", u.OrderID, err)
			}
			if !exists {
				log.Warn().Stringer("order_id", u.OrderID).Msg("repository: order not found for status update")
				return ErrOrderNotFound
			}
			log.Warn().Stringer("order_id", u.OrderID).Stringer("expected_status", u.From).Msg("repository: order status no longer matches")
			return ErrStatusConflict
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO order_service.order_status_history (order_id, from_status, to_status, action, actor_id, actor_role, changed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			u.OrderID,
			string(u.From),
			string(u.To),
			string(u.Action),
			u.Actor.ID,
			string(u.Actor.Role),
			u.At,
		)
		if err != nil {
			return fmt.Errorf("repository: failed to record status history for order %s: %w", u.OrderID, err)
		}
		return nil
	})
}

func (r *postgresRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]Order, error) {
	return r.listOrders(ctx, `
		SELECT `+orderColumns+`
		FROM order_service.orders o
		LEFT JOIN order_service.restaurants r ON r.id = o.restaurant_id
		WHERE o.user_id = $1
		ORDER BY o.created_at DESC`, "user "+userID.String(), userID)
}

func (r *postgresRepository) ListByRestaurant(ctx context.Context, restaurantID uuid.UUID) ([]Order, error) {
	return r.listOrders(ctx, `
		SELECT `+orderColumns+`
		FROM order_service.orders o
		LEFT JOIN order_service.restaurants r ON r.id = o.restaurant_id
		WHERE o.restaurant_id = $1
		ORDER BY o.created_at DESC`, "restaurant "+restaurantID.String(), restaurantID)
}

func (r *postgresRepository) ListActive(ctx context.Context) ([]Order, error) {
	return r.listOrders(ctx, `
		SELECT `+orderColumns+`
		FROM order_service.orders o
		LEFT JOIN order_service.restaurants r ON r.id = o.restaurant_id
		WHERE o.status NOT IN ('delivered', 'rejected', 'cancelled')
		ORDER BY o.created_at DESC`, "active orders")
}

func (r *postgresRepository) StatusHistory(ctx context.Context, orderID uuid.UUID) ([]StatusChange, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, order_id, from_status, to_status, action, actor_id, actor_role, changed_at
		FROM order_service.order_status_history
		WHERE order_id = $1
		ORDER BY changed_at, id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query status history for order %s: %w", orderID, err)
	}
	defer rows.Close()

	history := make([]StatusChange, 0)
	for rows.Next() {
		var c StatusChange
		if err := rows.Scan(&c.ID, &c.OrderID, &c.FromStatus, &c.ToStatus, &c.Action, &c.ActorID, &c.ActorRole, &c.ChangedAt); err != nil {
			return nil, fmt.Errorf("repository: failed to scan status history for order %s: %w", orderID, err)
		}
		history = append(history, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed iterating status history for order %s: %w", orderID, err)
	}

	return history, nil
}

func (r *postgresRepository) listOrders(ctx context.Context, query, scope string, args ...any) ([]Order, error) {
	orderRows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query orders for %s: %w", scope, err)
	}
	defer orderRows.Close()

	orders := make([]Order, 0)
	var orderIDs []uuid.UUID
	for orderRows.Next() {
		order, err := scanOrder(orderRows)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan order for %s: %w", scope, err)
		}
		orders = append(orders, *order)
		orderIDs = append(orderIDs, order.ID)
	}
	if err := orderRows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed iterating orders for %s: %w", scope, err)
	}

	if len(orderIDs) == 0 {
		return orders, nil
	}

	items, err := r.itemsFor(ctx, orderIDs)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
		if orders[i].Items == nil {
			orders[i].Items = make([]OrderItem, 0)
		}
	}

	return orders, nil
}

func (r *postgresRepository) itemsFor(ctx context.Context, orderIDs []uuid.UUID) (map[uuid.UUID][]OrderItem, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+itemColumns+`
		FROM order_service.order_items
		WHERE order_id = ANY($1)
		ORDER BY created_at, id`, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query order items: %w", err)
	}
	defer rows.Close()

	items := make(map[uuid.UUID][]OrderItem, len(orderIDs))
	for rows.Next() {
		var item OrderItem
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.ProductName,
			&item.Quantity,
			&item.UnitPrice,
			&item.TotalPrice,
			&item.Notes,
			&item.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan order item: %w", err)
		}
		items[item.OrderID] = append(items[item.OrderID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed iterating order items: %w", err)
	}

	return items, nil
}

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(
		&o.ID,
		&o.UserID,
		&o.RestaurantID,
		&o.RestaurantName,
		&o.Status,
		&o.TotalAmount,
		&o.DeliveryFee,
		&o.DeliveryAddress,
		&o.Notes,
		&o.EstimatedTimeMinutes,
		&o.CreatedAt,
		&o.UpdatedAt,
		&o.AcceptedAt,
		&o.DispatchedAt,
		&o.DeliveredAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *postgresRepository) withTx(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("repository: failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic_value", p).Msg("repository: panic recovered inside transaction, rolling back")
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Msg("repository: failed to rollback transaction")
			}
			return
		}
		if commitErr := tx.Commit(ctx); commitErr != nil {
			err = fmt.Errorf("repository: failed to commit transaction: %w", commitErr)
		}
	}()

	return fn(tx)
}

func mapPgError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.UniqueViolation:
			return ErrDuplicateOrderID
		case pgerrcode.ForeignKeyViolation:
			return fmt.Errorf("%w: %s references an unknown restaurant", ErrValidation, op)
		case pgerrcode.CheckViolation:
			return fmt.Errorf("%w: %s violates %s", ErrValidation, op, pgErr.ConstraintName)
		}
	}
	return fmt.Errorf("repository: failed to %s: %w", op, err)
}
