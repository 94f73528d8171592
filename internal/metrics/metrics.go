// internal/metrics/metrics.go
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"anova-service/internal/command"
	"anova-service/internal/protocol"
	"anova-service/internal/transport"
)

// Exchange outcomes
const (
	OutcomeOK          = "ok"
	OutcomeTimeout     = "timeout"
	OutcomeEmpty       = "empty"
	OutcomeDecode      = "decode"
	OutcomeConnection  = "connection"
	OutcomeUnsupported = "unsupported"
	OutcomeCancelled   = "cancelled"
	OutcomeError       = "error"
)

// Collector owns the service metrics on a private registry
type Collector struct {
	registry  *prometheus.Registry
	exchanges *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	retries   *prometheus.CounterVec
	requests  *prometheus.CounterVec
	devices   prometheus.Gauge
}

var _ protocol.Observer = (*Collector)(nil)

// NewCollector creates a collector with Go and process collectors registered
func NewCollector(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		exchanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "exchanges_total",
				Help:      "Command exchange attempts by command kind and outcome.",
			},
			[]string{"kind", "outcome"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "exchange_duration_seconds",
				Help:      "Duration of command exchange attempts.",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"kind"},
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "exchange_retries_total",
				Help:      "Command exchange retries by command kind.",
			},
			[]string{"kind"},
		),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by route, method and status.",
			},
			[]string{"route", "method", "status"},
		),
		devices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracked_devices",
			Help:      "Devices currently tracked by the registry.",
		}),
	}

	c.registry.MustRegister(
		c.exchanges, c.latency, c.retries, c.requests, c.devices,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry exposes the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ObserveExchange records one exchange attempt
func (c *Collector) ObserveExchange(address string, kind command.Kind, duration time.Duration, err error) {
	c.exchanges.WithLabelValues(string(kind), Outcome(err)).Inc()
	c.latency.WithLabelValues(string(kind)).Observe(duration.Seconds())
}

// ObserveRetry records a retry of an exchange
func (c *Collector) ObserveRetry(address string, kind command.Kind) {
	c.retries.WithLabelValues(string(kind)).Inc()
}

// SetDevices records the registry size
func (c *Collector) SetDevices(n int) {
	c.devices.Set(float64(n))
}

// Outcome classifies an exchange error into a metric label
func Outcome(err error) string {
	var connErr *protocol.ConnectionError
	var decodeErr *command.DecodeError

	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCancelled
	case errors.Is(err, protocol.ErrUnsupported):
		return OutcomeUnsupported
	case errors.As(err, &decodeErr):
		return OutcomeDecode
	case errors.As(err, &connErr):
		return OutcomeConnection
	case errors.Is(err, transport.ErrTimeout):
		return OutcomeTimeout
	case errors.Is(err, transport.ErrEmptyResponse):
		return OutcomeEmpty
	default:
		return OutcomeError
	}
}

// Middleware counts requests by matched route
func (c *Collector) Middleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.Next()

		route := ctx.FullPath()
		if route == "" {
			route = "unmatched"
		}
		c.requests.WithLabelValues(route, ctx.Request.Method, strconv.Itoa(ctx.Writer.Status())).Inc()
	}
}

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
