// Package metrics exposes Prometheus collectors for the correlation proxy.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Request outcomes, one per terminal state of a proxied request.
const (
	OutcomeResolved      = "resolved"
	OutcomeExpired       = "expired"
	OutcomeForwardFailed = "forward_failed"
	OutcomeCanceled      = "canceled"
	OutcomeShutdown      = "shutdown"
	OutcomeInvalid       = "invalid"
)

// Callback results.
const (
	CallbackDelivered = "delivered"
	CallbackUnknown   = "unknown"
	CallbackInvalid   = "invalid"
)

const namespace = "vapi_proxy"

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Proxied requests partitioned by terminal outcome.",
		},
		[]string{"outcome"},
	)

	callbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callbacks_total",
			Help:      "Callbacks received partitioned by result.",
		},
		[]string{"result"},
	)

	waitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "wait_seconds",
			Help:      "Time from registration to terminal outcome.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 6, 8, 10, 12, 15, 20},
		},
	)

	forwardSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "forward_seconds",
			Help:      "Downstream webhook call latency.",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

// Register attaches the proxy collectors to reg. pending reports the current
// number of in-flight requests and backs the pending gauge; nil skips it.
func Register(reg prometheus.Registerer, pending func() int) error {
	collectors := []prometheus.Collector{
		requestsTotal,
		callbacksTotal,
		waitSeconds,
		forwardSeconds,
	}

	if pending != nil {
		collectors = append(collectors, prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pending_requests",
				Help:      "Requests registered and awaiting a callback.",
			},
			func() float64 { return float64(pending()) },
		))
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveRequest records a request's terminal outcome and total wait.
func ObserveRequest(outcome string, wait time.Duration) {
	requestsTotal.WithLabelValues(outcome).Inc()
	if wait < 0 {
		wait = 0
	}
	waitSeconds.Observe(wait.Seconds())
}

// ObserveForward records one downstream call.
func ObserveForward(d time.Duration) {
	if d < 0 {
		d = 0
	}
	forwardSeconds.Observe(d.Seconds())
}

// ObserveCallback counts a callback by result.
func ObserveCallback(result string) {
	callbacksTotal.WithLabelValues(result).Inc()
}
