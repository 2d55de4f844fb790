package services

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all custom Prometheus metrics for the application
type Metrics struct {
	// WebSocket metrics
	WebSocketConnections prometheus.Gauge
	WebSocketMessages    *prometheus.CounterVec

	// Extraction metrics
	ExtractionRequests *prometheus.CounterVec
	ExtractionLatency  prometheus.Histogram

	// Reminder lifecycle metrics
	RemindersCreated   prometheus.Counter
	DeliveryOutcomes   *prometheus.CounterVec
	DeliveryLatenessMs prometheus.Histogram
}

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// InitMetrics initializes the Prometheus metrics. connCount and pendingCount back the
// dynamic gauges and may be nil.
func InitMetrics(connCount, pendingCount func() int) *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			// WebSocket active connections (gauge - can go up and down)
			WebSocketConnections: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "remindai_websocket_connections_active",
				Help: "Number of active WebSocket connections",
			}),

			// direction: "inbound" or "outbound"
			WebSocketMessages: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "remindai_websocket_messages_total",
				Help: "Total number of WebSocket messages by type",
			}, []string{"type", "direction"}),

			ExtractionRequests: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "remindai_extraction_requests_total",
				Help: "Extraction attempts by result",
			}, []string{"result"}),

			ExtractionLatency: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "remindai_extraction_duration_seconds",
				Help:    "Completion oracle latency in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			}),

			RemindersCreated: promauto.NewCounter(prometheus.CounterOpts{
				Name: "remindai_reminders_created_total",
				Help: "Total number of reminders persisted from chat messages",
			}),

			DeliveryOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "remindai_delivery_outcomes_total",
				Help: "Terminal delivery outcomes by state",
			}, []string{"state"}),

			DeliveryLatenessMs: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "remindai_delivery_lateness_milliseconds",
				Help:    "Delay between the scheduled reminder time and the delivery attempt",
				Buckets: []float64{1, 10, 100, 500, 1000, 5000, 30000, 60000},
			}),
		}

		prometheus.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "remindai_websocket_connections_current",
				Help: "Current number of active WebSocket connections (from connection manager)",
			},
			func() float64 {
				if connCount != nil {
					return float64(connCount())
				}
				return 0
			},
		))

		prometheus.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "remindai_deliveries_pending",
				Help: "Reminders armed and waiting to fire",
			},
			func() float64 {
				if pendingCount != nil {
					return float64(pendingCount())
				}
				return 0
			},
		))
	})

	return globalMetrics
}

// GetMetrics returns the global metrics instance, or nil before InitMetrics.
func GetMetrics() *Metrics {
	return globalMetrics
}

// RecordWebSocketConnect records a new WebSocket connection
func (m *Metrics) RecordWebSocketConnect() {
	if m == nil {
		return
	}
	m.WebSocketConnections.Inc()
}

// RecordWebSocketDisconnect records a WebSocket disconnection
func (m *Metrics) RecordWebSocketDisconnect() {
	if m == nil {
		return
	}
	m.WebSocketConnections.Dec()
}

// RecordWebSocketMessage records a WebSocket message
func (m *Metrics) RecordWebSocketMessage(msgType, direction string) {
	if m == nil {
		return
	}
	m.WebSocketMessages.WithLabelValues(msgType, direction).Inc()
}

// RecordExtraction records an extraction attempt and its oracle latency.
func (m *Metrics) RecordExtraction(result string, seconds float64) {
	if m == nil {
		return
	}
	m.ExtractionRequests.WithLabelValues(result).Inc()
	if seconds > 0 {
		m.ExtractionLatency.Observe(seconds)
	}
}

// RecordReminderCreated records a persisted reminder.
func (m *Metrics) RecordReminderCreated() {
	if m == nil {
		return
	}
	m.RemindersCreated.Inc()
}

// RecordDelivery records a terminal delivery outcome.
func (m *Metrics) RecordDelivery(state string, latenessMs float64) {
	if m == nil {
		return
	}
	m.DeliveryOutcomes.WithLabelValues(state).Inc()
	if latenessMs >= 0 {
		m.DeliveryLatenessMs.Observe(latenessMs)
	}
}
