package wifi

import (
	"github.com/prometheus/client_golang/prometheus"

	"i4.energy/across/wifigw/ring"
)

type deviceMetrics struct {
	bytesIngested  prometheus.Counter
	commands       prometheus.Counter
	commandErrors  prometheus.Counter
	payloadsSent   prometheus.Counter
	commandLatency prometheus.Histogram
}

func newDeviceMetrics(reg prometheus.Registerer, r *ring.Buffer) *deviceMetrics {
	m := &deviceMetrics{
		bytesIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wifigw", Subsystem: "serial",
			Name: "bytes_ingested_total",
			Help: "Bytes read from the co-processor into the ring buffer.",
		}),
		commands: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wifigw", Subsystem: "serial",
			Name: "commands_total",
			Help: "Command exchanges started.",
		}),
		commandErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wifigw", Subsystem: "serial",
			Name: "command_errors_total",
			Help: "Command exchanges that failed or timed out.",
		}),
		payloadsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wifigw", Subsystem: "serial",
			Name: "payloads_sent_total",
			Help: "Raw payloads acknowledged with SEND OK.",
		}),
		commandLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "wifigw", Subsystem: "serial",
			Name:    "command_duration_seconds",
			Help:    "Wall time of command exchanges.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.bytesIngested, m.commands, m.commandErrors,
			m.payloadsSent, m.commandLatency,
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Namespace: "wifigw", Subsystem: "serial",
				Name: "ring_overruns_total",
				Help: "Ring buffer writes that overwrote unread data.",
			}, func() float64 { return float64(r.Overruns()) }),
		)
	}
	return m
}
