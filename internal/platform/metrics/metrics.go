// Package metrics provides Prometheus metrics for the dispensing desk.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the desk's collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	SessionsStarted     prometheus.Counter
	ActiveSessions      prometheus.Gauge
	OutOfStockLines     prometheus.Counter
	Substitutions       prometheus.Counter
	Dispensings         *prometheus.CounterVec
	DispensedAmount     prometheus.Counter
	StockConflicts      prometheus.Counter
	Returns             *prometheus.CounterVec
	RefundAmount        prometheus.Counter
	BackendDuration     *prometheus.HistogramVec
	CircuitBreakerState *prometheus.GaugeVec
	HTTPDuration        *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispensing_sessions_started_total",
			Help: "Total dispensing sessions opened",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dispensing_sessions_active",
			Help: "Dispensing sessions currently in progress",
		}),
		OutOfStockLines: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispensing_lines_out_of_stock_total",
			Help: "Prescription lines for which no batch was available",
		}),
		Substitutions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispensing_substitutions_total",
			Help: "Substitutions applied to prescription lines",
		}),
		Dispensings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispensings_submitted_total",
			Help: "Dispensing transactions accepted by the backend",
		}, []string{"type"}),
		DispensedAmount: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispensed_amount_total",
			Help: "Sum of accepted dispensing totals",
		}),
		StockConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispensing_stock_conflicts_total",
			Help: "Submissions rejected because stock changed",
		}),
		Returns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "returns_total",
			Help: "Return records by refund status transition",
		}, []string{"status"}),
		RefundAmount: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "refund_amount_submitted_total",
			Help: "Sum of submitted refund amounts",
		}),
		BackendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pharmacy_backend_request_duration_seconds",
			Help:    "Pharmacy backend request duration",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"op", "outcome"}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Desk API request duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	reg.MustRegister(
		m.SessionsStarted,
		m.ActiveSessions,
		m.OutOfStockLines,
		m.Substitutions,
		m.Dispensings,
		m.DispensedAmount,
		m.StockConflicts,
		m.Returns,
		m.RefundAmount,
		m.BackendDuration,
		m.CircuitBreakerState,
		m.HTTPDuration,
	)
	return m
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
	m.ActiveSessions.Inc()
}

// SessionsClosed decrements the active gauge by n (submitted, cancelled or expired).
func (m *Metrics) SessionsClosed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ActiveSessions.Sub(float64(n))
}

func (m *Metrics) LineOutOfStock() {
	if m == nil {
		return
	}
	m.OutOfStockLines.Inc()
}

func (m *Metrics) SubstitutionApplied() {
	if m == nil {
		return
	}
	m.Substitutions.Inc()
}

func (m *Metrics) DispensingSubmitted(dispensingType string, amount float64) {
	if m == nil {
		return
	}
	m.Dispensings.WithLabelValues(dispensingType).Inc()
	m.DispensedAmount.Add(amount)
}

func (m *Metrics) StockConflict() {
	if m == nil {
		return
	}
	m.StockConflicts.Inc()
}

func (m *Metrics) ReturnTransition(status string) {
	if m == nil {
		return
	}
	m.Returns.WithLabelValues(status).Inc()
}

func (m *Metrics) RefundSubmitted(amount float64) {
	if m == nil {
		return
	}
	m.RefundAmount.Add(amount)
}

// ObserveBackend records one backend call; outcome is "ok" or an error class.
func (m *Metrics) ObserveBackend(op, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.BackendDuration.WithLabelValues(op, outcome).Observe(d.Seconds())
}

// SetBreakerState records 0=closed, 1=open, 2=half-open.
func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// Handler returns the Prometheus HTTP handler for g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Middleware records the duration of every desk API request by route pattern.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			m.HTTPDuration.WithLabelValues(c.Request().Method, route, strconv.Itoa(c.Response().Status)).
				Observe(time.Since(start).Seconds())
			return nil
		}
	}
}
