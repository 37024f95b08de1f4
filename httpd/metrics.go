package httpd

import "github.com/prometheus/client_golang/prometheus"

type serverMetrics struct {
	requests   prometheus.Counter
	responses  prometheus.Counter
	failures   prometheus.Counter
	idleClosed prometheus.Counter
	latency    prometheus.Histogram
}

func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	m := &serverMetrics{
		requests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wifigw", Subsystem: "httpd",
			Name: "requests_total",
			Help: "Requests demultiplexed from the serial stream.",
		}),
		responses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wifigw", Subsystem: "httpd",
			Name: "responses_total",
			Help: "Responses successfully transmitted.",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wifigw", Subsystem: "httpd",
			Name: "response_failures_total",
			Help: "Responses that could not be rendered or transmitted.",
		}),
		idleClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wifigw", Subsystem: "httpd",
			Name: "idle_connections_closed_total",
			Help: "Connections evicted by the idle sweep.",
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "wifigw", Subsystem: "httpd",
			Name:    "response_duration_seconds",
			Help:    "Time from request extraction to send acknowledgment.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.responses, m.failures, m.idleClosed, m.latency)
	}
	return m
}
