package mqtt

import "github.com/prometheus/client_golang/prometheus"

type sessionMetrics struct {
	connects        prometheus.Counter
	publishes       prometheus.Counter
	publishFailures prometheus.Counter
	messages        prometheus.Counter
	pingFailures    prometheus.Counter
}

func newSessionMetrics(reg prometheus.Registerer) *sessionMetrics {
	m := &sessionMetrics{
		connects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wifigw", Subsystem: "mqtt",
			Name: "connects_total",
			Help: "Broker sessions established.",
		}),
		publishes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wifigw", Subsystem: "mqtt",
			Name: "publishes_total",
			Help: "PUBLISH packets sent and (for QoS 1) acknowledged.",
		}),
		publishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wifigw", Subsystem: "mqtt",
			Name: "publish_failures_total",
			Help: "PUBLISH attempts that failed to send or be acknowledged.",
		}),
		messages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wifigw", Subsystem: "mqtt",
			Name: "messages_received_total",
			Help: "Inbound PUBLISH deliveries handed to the callback.",
		}),
		pingFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wifigw", Subsystem: "mqtt",
			Name: "ping_failures_total",
			Help: "Keepalive exchanges that went unanswered.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.connects, m.publishes, m.publishFailures, m.messages, m.pingFailures)
	}
	return m
}
