package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const MetricPrefix = "fluxbench_"

// PrometheusConsumer mirrors every event into prometheus counters and a latency histogram.
type PrometheusConsumer struct {
	events       *prometheus.CounterVec
	cancelled    *prometheus.CounterVec
	bytes        *prometheus.CounterVec
	responseTime *prometheus.HistogramVec
}

func NewPrometheusConsumer(registerer prometheus.Registerer) *PrometheusConsumer {
	factory := promauto.With(registerer)
	labels := []string{"request_type", "name"}
	return &PrometheusConsumer{
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Name: MetricPrefix + "events_total",
			Help: "Number of observed operations by request type and event name.",
		}, labels),
		cancelled: factory.NewCounterVec(prometheus.CounterOpts{
			Name: MetricPrefix + "events_cancelled_total",
			Help: "Number of failed operations that were cut short by the run stopping.",
		}, labels),
		bytes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: MetricPrefix + "response_bytes_total",
			Help: "Bytes received in responses and inbound frames.",
		}, labels),
		responseTime: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricPrefix + "response_time_milliseconds",
			Help:    "Publish round trip time and publish-to-receive latency in milliseconds.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 18),
		}, labels),
	}
}

func (c *PrometheusConsumer) Consume(event Event) {
	requestType, name := string(event.RequestType), string(event.Name)
	if event.Cancelled {
		c.cancelled.WithLabelValues(requestType, name).Inc()
		return
	}
	c.events.WithLabelValues(requestType, name).Inc()
	c.bytes.WithLabelValues(requestType, name).Add(float64(event.ResponseLength))
	if !event.Name.IsFailure() {
		c.responseTime.WithLabelValues(requestType, name).Observe(event.ResponseTimeMs)
	}
}

// RegisterAggregatorMetrics exposes the aggregator's accepted and dropped event counts.
func RegisterAggregatorMetrics(registerer prometheus.Registerer, aggregator *Aggregator) {
	factory := promauto.With(registerer)
	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: MetricPrefix + "events_buffered_total",
		Help: "Number of events accepted into the metric buffer.",
	}, func() float64 { return float64(aggregator.Emitted()) })
	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: MetricPrefix + "events_dropped_total",
		Help: "Number of events dropped because the metric buffer was full.",
	}, func() float64 { return float64(aggregator.Dropped()) })
}
