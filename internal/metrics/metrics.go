// Package metrics contains the prometheus collectors of the RPC client and
// the reference server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "wsrpc"

// Call outcomes.
const (
	OutcomeSuccess   = "success"
	OutcomeError     = "error"
	OutcomeSendError = "send_error"
	OutcomeExpired   = "expired"
	OutcomeClosed    = "closed"
	OutcomeAbandoned = "abandoned"
)

// Client collects metrics of an RPC client.
type Client struct {
	Calls     *prometheus.CounterVec
	Pending   prometheus.Gauge
	Unmatched prometheus.Counter
	Duration  *prometheus.HistogramVec
}

// NewClient creates the client collectors and registers them at reg. A nil
// reg creates unregistered collectors.
func NewClient(reg prometheus.Registerer) *Client {
	f := promauto.With(reg)
	return &Client{
		Calls: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "client",
				Name:      "calls_total",
				Help:      "Total number of completed calls by method and outcome",
			},
			[]string{"method", "outcome"},
		),
		Pending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "pending_calls",
			Help:      "Number of calls awaiting a reply",
		}),
		Unmatched: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "unmatched_replies_total",
			Help:      "Replies whose id matched no pending call",
		}),
		Duration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "client",
				Name:      "call_duration_seconds",
				Help:      "Time from sending a call until its completion",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"method"},
		),
	}
}

// Server collects metrics of the reference server.
type Server struct {
	Requests    *prometheus.CounterVec
	Connections prometheus.Gauge
}

// NewServer creates the server collectors and registers them at reg.
func NewServer(reg prometheus.Registerer) *Server {
	f := promauto.With(reg)
	return &Server{
		Requests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "server",
				Name:      "requests_total",
				Help:      "Total number of handled requests by method and outcome",
			},
			[]string{"method", "outcome"},
		),
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "connections",
			Help:      "Number of open websocket connections",
		}),
	}
}
