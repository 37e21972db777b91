package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors for the ingestion pipeline. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	ingestTotal       *prometheus.CounterVec
	ingestDuration    *prometheus.HistogramVec
	confidence        prometheus.Histogram
	alarmsTotal       *prometheus.CounterVec
	notificationsSent *prometheus.CounterVec
	auditFailures     prometheus.Counter
	mqttMessages      *prometheus.CounterVec
}

// New creates the collectors and registers them on reg. Passing a fresh
// prometheus.NewRegistry() keeps tests isolated from the default registry.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		gatherer: reg,
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nicu_http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nicu_http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		ingestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nicu_ingest_submissions_total",
			Help: "Vitals submissions by pipeline outcome and transport.",
		}, []string{"outcome", "transport"}),
		ingestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nicu_ingest_duration_seconds",
			Help:    "End-to-end ingestion pipeline latency by outcome.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"outcome"}),
		confidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "nicu_ingest_ocr_confidence",
			Help:    "OCR confidence reported by edge devices.",
			Buckets: []float64{.5, .6, .7, .8, .85, .9, .95, .99, 1},
		}),
		alarmsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nicu_alarms_raised_total",
			Help: "Alarms created by severity and parameter.",
		}, []string{"type", "parameter"}),
		notificationsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nicu_notifications_total",
			Help: "Escalation notifications by kind and result.",
		}, []string{"kind", "result"}),
		auditFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nicu_ingestion_log_write_failures_total",
			Help: "Ingestion audit rows that could not be written.",
		}),
		mqttMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nicu_mqtt_messages_total",
			Help: "MQTT messages received by the edge bridge by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.httpRequestsTotal,
		m.httpDuration,
		m.ingestTotal,
		m.ingestDuration,
		m.confidence,
		m.alarmsTotal,
		m.notificationsSent,
		m.auditFailures,
		m.mqttMessages,
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency per route template.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
			m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

func (m *Metrics) IngestObserved(outcome, transport string, d time.Duration) {
	if m == nil {
		return
	}
	m.ingestTotal.WithLabelValues(outcome, transport).Inc()
	m.ingestDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *Metrics) ConfidenceObserved(c float64) {
	if m == nil {
		return
	}
	m.confidence.Observe(c)
}

func (m *Metrics) AlarmRaised(alarmType, parameter string) {
	if m == nil {
		return
	}
	m.alarmsTotal.WithLabelValues(alarmType, parameter).Inc()
}

func (m *Metrics) NotificationSent(kind string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.notificationsSent.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) AuditWriteFailed() {
	if m == nil {
		return
	}
	m.auditFailures.Inc()
}

func (m *Metrics) MQTTMessage(result string) {
	if m == nil {
		return
	}
	m.mqttMessages.WithLabelValues(result).Inc()
}
