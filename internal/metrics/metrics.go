package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	reg *prometheus.Registry

	UpstreamRequests  prometheus.Counter
	UpstreamThrottled prometheus.Counter
	UpstreamLatency   prometheus.Histogram
	BackoffSeconds    prometheus.Counter

	OrdersUpserted   prometheus.Counter
	ItemsInserted    prometheus.Counter
	ProductsUpserted prometheus.Counter

	WindowUtilization prometheus.Gauge
	CatalogWorkers    prometheus.Gauge
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()

	requests := prometheus.NewCounter(prometheus.CounterOpts{Name: "erpsync_upstream_requests_total"})
	throttled := prometheus.NewCounter(prometheus.CounterOpts{Name: "erpsync_upstream_throttled_total"})
	latency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "erpsync_upstream_latency_seconds",
		Buckets: prometheus.DefBuckets,
	})
	backoff := prometheus.NewCounter(prometheus.CounterOpts{Name: "erpsync_backoff_seconds_total"})

	ordersUpserted := prometheus.NewCounter(prometheus.CounterOpts{Name: "erpsync_orders_upserted_total"})
	itemsInserted := prometheus.NewCounter(prometheus.CounterOpts{Name: "erpsync_order_items_inserted_total"})
	productsUpserted := prometheus.NewCounter(prometheus.CounterOpts{Name: "erpsync_products_upserted_total"})

	windowUtilization := prometheus.NewGauge(prometheus.GaugeOpts{Name: "erpsync_rate_window_utilization_pct"})
	catalogWorkers := prometheus.NewGauge(prometheus.GaugeOpts{Name: "erpsync_catalog_workers"})

	r.MustRegister(requests, throttled, latency, backoff,
		ordersUpserted, itemsInserted, productsUpserted,
		windowUtilization, catalogWorkers)

	return &Registry{
		reg:               r,
		UpstreamRequests:  requests,
		UpstreamThrottled: throttled,
		UpstreamLatency:   latency,
		BackoffSeconds:    backoff,
		OrdersUpserted:    ordersUpserted,
		ItemsInserted:     itemsInserted,
		ProductsUpserted:  productsUpserted,
		WindowUtilization: windowUtilization,
		CatalogWorkers:    catalogWorkers,
	}
}

func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
