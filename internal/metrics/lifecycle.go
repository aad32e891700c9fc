package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/vasiliy-maslov/food-ordering/internal/notify"
	"github.com/vasiliy-maslov/food-ordering/internal/order"
	pkgmetrics "github.com/vasiliy-maslov/food-ordering/pkg/metrics"
)

// Lifecycle counts order actions and the notifications they lead to.
type Lifecycle struct {
	Transitions   *prometheus.CounterVec
	Notifications *prometheus.CounterVec
	CachedOrders  prometheus.GaugeFunc
}

func NewLifecycle(reg prometheus.Registerer, cache *notify.StatusCache) *Lifecycle {
	factory := promauto.With(reg)
	l := &Lifecycle{
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: pkgmetrics.Namespace,
			Name:      "order_transitions_total",
			Help:      "Order lifecycle actions by outcome.",
		}, []string{"action", "role", "outcome"}),
		Notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: pkgmetrics.Namespace,
			Name:      "notifications_total",
			Help:      "Change-feed events handled by the notification reactor.",
		}, []string{"kind", "outcome"}),
	}
	if cache != nil {
		l.CachedOrders = factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: pkgmetrics.Namespace,
			Name:      "notify_cached_orders",
			Help:      "Orders whose last status is held by the reactor.",
		}, func() float64 { return float64(cache.Len()) })
	}
	return l
}

func (l *Lifecycle) ObserveTransition(action order.Action, role order.Role, outcome string) {
	l.Transitions.WithLabelValues(string(action), string(role), outcome).Inc()
}

func (l *Lifecycle) ObserveNotification(kind notify.Kind, outcome string) {
	l.Notifications.WithLabelValues(string(kind), outcome).Inc()
}
