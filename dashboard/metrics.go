package dashboard

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"jersey-dashboard/services"
)

const namespace = "jersey_dashboard"

// Metrics holds the Prometheus collectors for one dashboard instance. The
// Observe methods are no-ops on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	rowsRead        prometheus.Counter
	rowsDropped     *prometheus.CounterVec
	listingsLoaded  prometheus.Gauge
	reloads         *prometheus.CounterVec
	chartRenders    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		rowsRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_read_total",
			Help:      "Rows read from the input file.",
		}),
		rowsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_dropped_total",
			Help:      "Rows removed during cleaning.",
		}, []string{"reason"}),
		listingsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "listings_loaded",
			Help:      "Listings in the report currently served.",
		}),
		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reloads_total",
			Help:      "Pipeline reloads by trigger and result.",
		}, []string{"trigger", "result"}),
		chartRenders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chart_renders_total",
			Help:      "Chart renders by chart and result.",
		}, []string{"chart", "result"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.rowsRead, m.rowsDropped, m.listingsLoaded, m.reloads, m.chartRenders, m.requestDuration,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveLoad records the row counts of a successful pipeline run.
func (m *Metrics) ObserveLoad(res *services.LoadResult) {
	if m == nil || res == nil {
		return
	}
	m.rowsRead.Add(float64(res.Stats.Read))
	for reason, n := range res.Stats.Dropped {
		m.rowsDropped.WithLabelValues(string(reason)).Add(float64(n))
	}
	m.listingsLoaded.Set(float64(res.Report.TotalListings))
}

// ObserveReload counts a reload attempt.
func (m *Metrics) ObserveReload(trigger string, err error) {
	if m == nil {
		return
	}
	m.reloads.WithLabelValues(trigger, result(err)).Inc()
}

// ObserveChart counts a chart render.
func (m *Metrics) ObserveChart(name string, err error) {
	if m == nil {
		return
	}
	m.chartRenders.WithLabelValues(name, result(err)).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request duration labelled by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requestDuration.
			WithLabelValues(r.Method, route, strconv.Itoa(status)).
			Observe(time.Since(start).Seconds())
	})
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
