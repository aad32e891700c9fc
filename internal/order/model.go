package order

import (
	"math"
	"time"

	"github.com/gofrs/uuid"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusAccepted   Status = "accepted"
	StatusPreparing  Status = "preparing"
	StatusReady      Status = "ready"
	StatusDispatched Status = "dispatched"
	StatusDelivered  Status = "delivered"
	StatusRejected   Status = "rejected"
	StatusCancelled  Status = "cancelled"
)

func (s Status) String() string {
	return string(s)
}

// Statuses lists every status in lifecycle order, terminal side branches last.
func Statuses() []Status {
	return []Status{
		StatusPending,
		StatusAccepted,
		StatusPreparing,
		StatusReady,
		StatusDispatched,
		StatusDelivered,
		StatusRejected,
		StatusCancelled,
	}
}

func (s Status) Valid() bool {
	for _, known := range Statuses() {
		if s == known {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusRejected || s == StatusCancelled
}

type Role string

const (
	RoleCustomer   Role = "customer"
	RoleRestaurant Role = "restaurant"
)

func (r Role) String() string {
	return string(r)
}

func (r Role) Valid() bool {
	return r == RoleCustomer || r == RoleRestaurant
}

// Actor is the caller of a transition. The role is trusted as given.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

type OrderItem struct {
	ID          uuid.UUID `json:"id" db:"id"`
	OrderID     uuid.UUID `json:"order_id" db:"order_id"`
	ProductID   uuid.UUID `json:"product_id" db:"product_id"`
	ProductName string    `json:"product_name" db:"product_name"`
	Quantity    int       `json:"quantity" db:"quantity"`
	UnitPrice   float64   `json:"unit_price" db:"unit_price"`
	TotalPrice  float64   `json:"total_price" db:"total_price"`
	Notes       *string   `json:"notes,omitempty" db:"notes"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// ComputeTotal sets TotalPrice from Quantity and UnitPrice.
func (i *OrderItem) ComputeTotal() {
	i.TotalPrice = roundCents(float64(i.Quantity) * i.UnitPrice)
}

type Order struct {
	ID                   uuid.UUID   `json:"id" db:"id"`
	UserID               uuid.UUID   `json:"user_id" db:"user_id"`
	RestaurantID         uuid.UUID   `json:"restaurant_id" db:"restaurant_id"`
	RestaurantName       string      `json:"restaurant_name,omitempty" db:"-"`
	Status               Status      `json:"status" db:"status"`
	Items                []OrderItem `json:"items" db:"-"`
	TotalAmount          float64     `json:"total_amount" db:"total_amount"`
	DeliveryFee          float64     `json:"delivery_fee" db:"delivery_fee"`
	DeliveryAddress      string      `json:"delivery_address" db:"delivery_address"`
	Notes                *string     `json:"notes,omitempty" db:"notes"`
	EstimatedTimeMinutes *int        `json:"estimated_time_minutes,omitempty" db:"estimated_time_minutes"`
	CreatedAt            time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time   `json:"updated_at" db:"updated_at"`
	AcceptedAt           *time.Time  `json:"accepted_at,omitempty" db:"accepted_at"`
	DispatchedAt         *time.Time  `json:"dispatched_at,omitempty" db:"dispatched_at"`
	DeliveredAt          *time.Time  `json:"delivered_at,omitempty" db:"delivered_at"`
}

func (o *Order) GrandTotal() float64 {
	return roundCents(o.TotalAmount + o.DeliveryFee)
}

func (o *Order) ShortID() string {
	return ShortID(o.ID.String())
}

func (o *Order) Snapshot() Snapshot {
	return Snapshot{
		ID:                   o.ID,
		UserID:               o.UserID,
		RestaurantID:         o.RestaurantID,
		RestaurantName:       o.RestaurantName,
		Status:               o.Status,
		EstimatedTimeMinutes: o.EstimatedTimeMinutes,
	}
}

// ShortID returns the last 8 characters of id, the form shown to customers.
func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[len(id)-8:]
}

// StatusChange is one row of the order's audit trail.
type StatusChange struct {
	ID         int64     `json:"id" db:"id"`
	OrderID    uuid.UUID `json:"order_id" db:"order_id"`
	FromStatus Status    `json:"from_status" db:"from_status"`
	ToStatus   Status    `json:"to_status" db:"to_status"`
	Action     Action    `json:"action" db:"action"`
	ActorID    uuid.UUID `json:"actor_id" db:"actor_id"`
	ActorRole  Role      `json:"actor_role" db:"actor_role"`
	ChangedAt  time.Time `json:"changed_at" db:"changed_at"`
}

type EventType string

const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
)

// Snapshot is the part of an order row carried by change events.
type Snapshot struct {
	ID                   uuid.UUID `json:"id"`
	UserID               uuid.UUID `json:"user_id"`
	RestaurantID         uuid.UUID `json:"restaurant_id"`
	RestaurantName       string    `json:"restaurant_name,omitempty"`
	Status               Status    `json:"status"`
	EstimatedTimeMinutes *int      `json:"estimated_time_minutes,omitempty"`
}

// Change is a row-level event from the change feed.
type Change struct {
	Type     EventType `json:"type"`
	Previous *Snapshot `json:"previous,omitempty"`
	Current  Snapshot  `json:"current"`
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
