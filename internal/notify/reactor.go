package notify

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/food-ordering/internal/order"
)

const (
	OutcomeSent    = "sent"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

// Observer is told about every processed change.
type Observer interface {
	ObserveNotification(kind Kind, outcome string)
}

type ReactorOption func(*Reactor)

func WithWorkers(n int) ReactorOption {
	return func(r *Reactor) {
		if n > 0 {
			r.workers = n
		}
	}
}

func WithQueueSize(n int) ReactorOption {
	return func(r *Reactor) {
		if n > 0 {
			r.queueSize = n
		}
	}
}

func WithCache(c *StatusCache) ReactorOption {
	return func(r *Reactor) { r.cache = c }
}

func WithReactorObserver(o Observer) ReactorOption {
	return func(r *Reactor) { r.observer = o }
}

func WithReactorClock(now func() time.Time) ReactorOption {
	return func(r *Reactor) { r.now = now }
}

// ForUser limits the reactor to the orders of a single customer.
func ForUser(userID uuid.UUID) ReactorOption {
	return func(r *Reactor) {
		r.filter = func(c order.Change) bool { return c.Current.UserID == userID }
	}
}

// Reactor turns change-feed events into notifications. Events of the same
// order are handled by the same worker, one at a time, in arrival order.
type Reactor struct {
	templates *Templates
	notifier  Notifier
	cache     *StatusCache
	observer  Observer
	filter    func(order.Change) bool
	now       func() time.Time
	workers   int
	queueSize int
}

func NewReactor(templates *Templates, notifier Notifier, opts ...ReactorOption) *Reactor {
	r := &Reactor{
		templates: templates,
		notifier:  notifier,
		cache:     NewStatusCache(),
		now:       time.Now,
		workers:   1,
		queueSize: 64,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reactor) Cache() *StatusCache {
	return r.cache
}

// Run consumes changes until in is closed or ctx is done. Queued changes are
// drained before Run returns.
func (r *Reactor) Run(ctx context.Context, in <-chan order.Change) error {
	queues := make([]chan order.Change, r.workers)
	var wg sync.WaitGroup
	for i := range queues {
		queues[i] = make(chan order.Change, r.queueSize)
		wg.Add(1)
		go func(q <-chan order.Change) {
			defer wg.Done()
			for change := range q {
				r.Process(ctx, change)
			}
		}(queues[i])
	}

	log.Info().Int("workers", r.workers).Msg("notify: reactor started")

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			runErr = ctx.Err()
			break loop
		case change, ok := <-in:
			if !ok {
				break loop
			}
			select {
			case queues[r.shard(change.Current.ID)] <- change:
			case <-ctx.Done():
				runErr = ctx.Err()
				break loop
			}
		}
	}

	for _, q := range queues {
		close(q)
	}
	wg.Wait()

	log.Info().Msg("notify: reactor stopped")
	return runErr
}

func (r *Reactor) shard(id uuid.UUID) int {
	if r.workers == 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write(id.Bytes())
	return int(h.Sum32() % uint32(r.workers))
}

// Process handles one change synchronously and returns the notification it
// emitted, if any. The cached status is updated in every case.
func (r *Reactor) Process(ctx context.Context, change order.Change) (Notification, bool) {
	current := change.Current
	if r.filter != nil && !r.filter(change) {
		return Notification{}, false
	}
	defer r.cache.Set(current.ID, current.Status)

	n, ok := r.decide(change)
	if !ok {
		r.observe(KindStatus, OutcomeSkipped)
		return Notification{}, false
	}

	if err := r.notifier.Notify(ctx, n); err != nil {
		r.observe(n.Kind, OutcomeFailed)
		log.Error().Err(err).Stringer("order_id", current.ID).Str("kind", string(n.Kind)).Msg("notify: failed to deliver notification")
		return n, false
	}

	r.observe(n.Kind, OutcomeSent)
	return n, true
}

func (r *Reactor) decide(change order.Change) (Notification, bool) {
	current := change.Current
	in := RenderInput{
		OrderID:              current.ID.String(),
		RestaurantName:       current.RestaurantName,
		EstimatedTimeMinutes: current.EstimatedTimeMinutes,
	}
	n := Notification{
		OrderID:      current.ID,
		ShortID:      order.ShortID(current.ID.String()),
		UserID:       current.UserID,
		RestaurantID: current.RestaurantID,
		Status:       current.Status,
		CreatedAt:    r.now().UTC(),
	}

	switch change.Type {
	case order.EventInsert:
		if current.Status != order.StatusPending {
			return Notification{}, false
		}
		n.Kind = KindConfirmationPrompt
		n.Title, n.Body = r.templates.RenderPrompt(in)
		return n, true

	case order.EventUpdate:
		previous, known := r.cache.Get(current.ID)
		if !known && change.Previous != nil {
			previous, known = change.Previous.Status, true
		}
		if !known || previous == current.Status {
			return Notification{}, false
		}

		title, body, ok := r.templates.Render(current.Status, in)
		if !ok {
			return Notification{}, false
		}
		n.Kind = KindStatus
		n.PreviousStatus = previous
		n.Title, n.Body = title, body
		return n, true

	default:
		log.Warn().Str("type", string(change.Type)).Stringer("order_id", current.ID).Msg("notify: unknown change type")
		return Notification{}, false
	}
}

func (r *Reactor) observe(kind Kind, outcome string) {
	if r.observer != nil {
		r.observer.ObserveNotification(kind, outcome)
	}
}
