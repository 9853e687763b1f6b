package gateway

import (
	"fmt"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "championportal"

// PrometheusRecorder exports client events and gateway requests as Prometheus counters.
type PrometheusRecorder struct {
	clientEvents *prometheus.CounterVec
	requests     *prometheus.CounterVec
}

// NewPrometheusRecorder registers the gateway collectors with registerer.
func NewPrometheusRecorder(registerer prometheus.Registerer) (*PrometheusRecorder, error) {
	recorder := &PrometheusRecorder{
		clientEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "client_events_total",
			Help:      "API client events such as credential refreshes and replays.",
		}, []string{"event"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "gateway_requests_total",
			Help:      "Gateway HTTP requests by route and status.",
		}, []string{"route", "status"}),
	}
	for _, collector := range []prometheus.Collector{recorder.clientEvents, recorder.requests} {
		if err := registerer.Register(collector); err != nil {
			return nil, fmt.Errorf("gateway.metrics.register: %w", err)
		}
	}
	return recorder, nil
}

// Increment implements apiclient.MetricsRecorder.
func (recorder *PrometheusRecorder) Increment(event string) {
	recorder.clientEvents.WithLabelValues(event).Inc()
}

// Middleware counts every request by matched route and status.
func (recorder *PrometheusRecorder) Middleware() gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		contextGin.Next()
		route := contextGin.FullPath()
		if route == "" {
			route = "unmatched"
		}
		recorder.requests.WithLabelValues(route, strconv.Itoa(contextGin.Writer.Status())).Inc()
	}
}
