package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the rule engine's Prometheus metrics. Every method is safe
// to call on a nil *Collector, which records nothing.
type Collector struct {
	registry *prometheus.Registry

	// HTTP Metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// WebSocket Metrics
	websocketConnections prometheus.Gauge
	websocketMessages    *prometheus.CounterVec

	// Engine Metrics
	eventsReceived    *prometheus.CounterVec
	eventQueueLength  prometheus.Gauge
	automationsFired  prometheus.Counter
	scenesActivated   prometheus.Counter
	evaluationErrors  prometheus.Counter
	actionsTotal      *prometheus.CounterVec
	actionDuration    *prometheus.HistogramVec
	ruleStoreWrites   *prometheus.CounterVec
	deviceStateEvents *prometheus.CounterVec
}

// NewCollector registers all metrics on a fresh registry under prefix
func NewCollector(prefix string) *Collector {
	if prefix == "" {
		prefix = "pma"
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	c := &Collector{registry: reg}

	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    prefix + "_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.websocketConnections = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: prefix + "_websocket_connections",
			Help: "Number of active WebSocket connections",
		},
	)

	c.websocketMessages = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"type"},
	)

	c.eventsReceived = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_engine_events_total",
			Help: "Events received by the automation engine",
		},
		[]string{"type"},
	)

	c.eventQueueLength = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: prefix + "_engine_queue_length",
			Help: "Events waiting to be matched",
		},
	)

	c.automationsFired = factory.NewCounter(
		prometheus.CounterOpts{
			Name: prefix + "_automations_fired_total",
			Help: "Automations whose triggers matched and conditions passed",
		},
	)

	c.scenesActivated = factory.NewCounter(
		prometheus.CounterOpts{
			Name: prefix + "_scenes_activated_total",
			Help: "Scene activations, including nested ones",
		},
	)

	c.evaluationErrors = factory.NewCounter(
		prometheus.CounterOpts{
			Name: prefix + "_condition_evaluation_errors_total",
			Help: "Unknown or malformed conditions met at fire time",
		},
	)

	c.actionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_actions_total",
			Help: "Dispatched actions by type and result",
		},
		[]string{"type", "success"},
	)

	c.actionDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    prefix + "_action_duration_seconds",
			Help:    "Time spent dispatching one action",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		},
		[]string{"type"},
	)

	c.ruleStoreWrites = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_rule_store_writes_total",
			Help: "Committed rule store writes by operation and persistence result",
		},
		[]string{"operation", "persisted"},
	)

	c.deviceStateEvents = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_device_state_updates_total",
			Help: "Device state updates by source",
		},
		[]string{"source", "changed"},
	)

	return c
}

// Handler serves the registry in the Prometheus text format
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// RecordHTTPRequest records HTTP request metrics
func (c *Collector) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// SetWebSocketConnections sets the number of connected clients
func (c *Collector) SetWebSocketConnections(n int) {
	if c == nil {
		return
	}
	c.websocketConnections.Set(float64(n))
}

// RecordWebSocketMessage counts a broadcast message
func (c *Collector) RecordWebSocketMessage(messageType string) {
	if c == nil {
		return
	}
	c.websocketMessages.WithLabelValues(messageType).Inc()
}

// EventReceived counts an inbound engine event
func (c *Collector) EventReceived(eventType string) {
	if c == nil {
		return
	}
	c.eventsReceived.WithLabelValues(eventType).Inc()
}

// SetQueueLength records the event queue depth
func (c *Collector) SetQueueLength(n int) {
	if c == nil {
		return
	}
	c.eventQueueLength.Set(float64(n))
}

// AutomationFired counts a firing
func (c *Collector) AutomationFired() {
	if c == nil {
		return
	}
	c.automationsFired.Inc()
}

// SceneActivated counts a scene activation
func (c *Collector) SceneActivated() {
	if c == nil {
		return
	}
	c.scenesActivated.Inc()
}

// EvaluationFailed counts a condition evaluation error
func (c *Collector) EvaluationFailed() {
	if c == nil {
		return
	}
	c.evaluationErrors.Inc()
}

// ActionExecuted records one action outcome
func (c *Collector) ActionExecuted(actionType string, success bool, duration time.Duration) {
	if c == nil {
		return
	}
	c.actionsTotal.WithLabelValues(actionType, strconv.FormatBool(success)).Inc()
	c.actionDuration.WithLabelValues(actionType).Observe(duration.Seconds())
}

// StoreWrite records a committed rule store write
func (c *Collector) StoreWrite(operation string, persisted bool) {
	if c == nil {
		return
	}
	c.ruleStoreWrites.WithLabelValues(operation, strconv.FormatBool(persisted)).Inc()
}

// DeviceStateUpdated records a device state report
func (c *Collector) DeviceStateUpdated(source string, changed bool) {
	if c == nil {
		return
	}
	c.deviceStateEvents.WithLabelValues(source, strconv.FormatBool(changed)).Inc()
}
