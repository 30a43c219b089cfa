package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics carries the engine's operational counters on a private registry so
// tests can construct isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	OrdersCreated   prometheus.Counter
	OrdersCompleted prometheus.Counter
	OrdersCancelled prometheus.Counter
	SalesRecorded   prometheus.Counter
	SalesCancelled  prometheus.Counter
	InventoryGaps   *prometheus.CounterVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		OrdersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aisla_orders_created_total",
			Help: "Restock orders created.",
		}),
		OrdersCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aisla_orders_completed_total",
			Help: "Restock orders transitioned to completed.",
		}),
		OrdersCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aisla_orders_cancelled_total",
			Help: "Restock orders transitioned to cancelled.",
		}),
		SalesRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aisla_sales_recorded_total",
			Help: "POS transactions recorded.",
		}),
		SalesCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aisla_sales_cancelled_total",
			Help: "POS transactions cancelled with inventory restore.",
		}),
		InventoryGaps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aisla_inventory_gaps_total",
			Help: "Sale decrements that found no inventory row.",
		}, []string{"store_id"}),
	}

	registry.MustRegister(
		m.OrdersCreated,
		m.OrdersCompleted,
		m.OrdersCancelled,
		m.SalesRecorded,
		m.SalesCancelled,
		m.InventoryGaps,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
