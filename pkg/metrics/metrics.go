package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "helloasso_export"

type ServerMetrics struct {
	Requests  *prometheus.CounterVec
	LatencyMS *prometheus.HistogramVec
}

func NewServerMetrics(reg prometheus.Registerer, service string) *ServerMetrics {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: service,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"handler", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: service,
		Name:      "http_request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 30000, 120000},
	}, []string{"handler"})

	reg.MustRegister(requests, latency)
	return &ServerMetrics{Requests: requests, LatencyMS: latency}
}

// RunMetrics describes export runs.
type RunMetrics struct {
	Runs           *prometheus.CounterVec
	Pages          prometheus.Counter
	Records        prometheus.Counter
	SkippedUnits   prometheus.Counter
	DegradedStops  *prometheus.CounterVec
	Notifications  *prometheus.CounterVec
	DurationSecond prometheus.Histogram
	LastSuccess    prometheus.Gauge
}

func NewRunMetrics(reg prometheus.Registerer) *RunMetrics {
	m := &RunMetrics{
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Export runs by final status.",
		}, []string{"status"}),
		Pages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_fetched_total",
			Help:      "Upstream pages received.",
		}),
		Records: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_fetched_total",
			Help:      "Payment records received from upstream.",
		}),
		SkippedUnits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_units_total",
			Help:      "Records, items or refunds skipped or defaulted while flattening.",
		}),
		DegradedStops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pagination_degraded_stops_total",
			Help:      "Pagination walks that ended on missing or inconsistent metadata.",
		}, []string{"reason"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Operator notifications by kind and outcome.",
		}, []string{"kind", "outcome"}),
		DurationSecond: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of an export run.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run.",
		}),
	}
	reg.MustRegister(m.Runs, m.Pages, m.Records, m.SkippedUnits, m.DegradedStops, m.Notifications, m.DurationSecond, m.LastSuccess)
	return m
}

// ObserveRun records the outcome of one run; m may be nil.
func (m *RunMetrics) ObserveRun(status string, d time.Duration, at time.Time) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(status).Inc()
	m.DurationSecond.Observe(d.Seconds())
	if status == "Success" {
		m.LastSuccess.Set(float64(at.Unix()))
	}
}

func (m *RunMetrics) ObserveFetch(pages, records int, degradedReason string) {
	if m == nil {
		return
	}
	m.Pages.Add(float64(pages))
	m.Records.Add(float64(records))
	if degradedReason != "" {
		m.DegradedStops.WithLabelValues(degradedReason).Inc()
	}
}

func (m *RunMetrics) ObserveSkipped(n int) {
	if m == nil || n == 0 {
		return
	}
	m.SkippedUnits.Add(float64(n))
}

func (m *RunMetrics) ObserveNotification(kind string, ok bool) {
	if m == nil {
		return
	}
	outcome := "sent"
	if !ok {
		outcome = "failed"
	}
	m.Notifications.WithLabelValues(kind, outcome).Inc()
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Push sends everything in g to a Pushgateway under the given job name.
func Push(ctx context.Context, url, job string, g prometheus.Gatherer) error {
	return push.New(url, job).Gatherer(g).PushContext(ctx)
}
