package echoapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the API collectors on their own registry so that several servers can live in one process.
type Metrics struct {
	registry *prometheus.Registry

	requests         *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	vouchersPosted   *prometheus.CounterVec
	vouchersReversed prometheus.Counter
	promotions       *prometheus.CounterVec
	payments         prometheus.Counter
	remindersSent    prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shule",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "shule",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latencies by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		vouchersPosted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shule",
			Subsystem: "ledger",
			Name:      "vouchers_posted_total",
			Help:      "Vouchers posted by type.",
		}, []string{"type"}),
		vouchersReversed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shule",
			Subsystem: "ledger",
			Name:      "vouchers_reversed_total",
			Help:      "Vouchers reversed.",
		}),
		promotions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shule",
			Subsystem: "students",
			Name:      "promotions_total",
			Help:      "Promotion results by status.",
		}, []string{"status"}),
		payments: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shule",
			Subsystem: "fees",
			Name:      "payments_total",
			Help:      "Fee payments recorded.",
		}),
		remindersSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shule",
			Subsystem: "fees",
			Name:      "reminders_sent_total",
			Help:      "Fee reminder emails sent.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests,
		m.requestDuration,
		m.vouchersPosted,
		m.vouchersReversed,
		m.promotions,
		m.payments,
		m.remindersSent,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		start := time.Now()
		err := next(ctx)

		code := ctx.Response().Status
		if err != nil {
			// the error handler has not written the response yet
			code, _ = errorResponse(err, nil)
		}
		route := ctx.Path()
		m.requests.WithLabelValues(route, ctx.Request().Method, strconv.Itoa(code)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		return err
	}
}
