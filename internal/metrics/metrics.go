// Package metrics holds the prometheus collectors shared by the people
// controller and the people HTTP service.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "roster"

// Machine instruments a people controller.
type Machine struct {
	Transitions    *prometheus.CounterVec
	FetchStarted   prometheus.Counter
	FetchCancelled prometheus.Counter
	FetchFailed    prometheus.Counter
}

// NewMachine creates the controller collectors and registers them on reg.
// A nil reg leaves them unregistered, which is what tests want.
func NewMachine(reg prometheus.Registerer) *Machine {
	m := &Machine{
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "machine",
			Name:      "transitions_total",
			Help:      "State transitions taken by the people controller.",
		}, []string{"from", "to"}),
		FetchStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "machine",
			Name:      "fetch_started_total",
			Help:      "Fetches started by the people controller.",
		}),
		FetchCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "machine",
			Name:      "fetch_cancelled_total",
			Help:      "In-flight fetches cancelled because the controller left the fetch state.",
		}),
		FetchFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "machine",
			Name:      "fetch_failed_total",
			Help:      "Fetches that completed with an error.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Transitions, m.FetchStarted, m.FetchCancelled, m.FetchFailed)
	}
	return m
}

// Server instruments the people HTTP API.
type Server struct {
	Requests *prometheus.CounterVec
	Latency  prometheus.Histogram
}

func NewServer(reg prometheus.Registerer) *Server {
	s := &Server{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "requests_total",
			Help:      "People API requests by path and status code.",
		}, []string{"path", "code"}),
		Latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "request_duration_seconds",
			Help:      "People API request latency.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(s.Requests, s.Latency)
	}
	return s
}

// ObserveRequest records one served request.
func (s *Server) ObserveRequest(path string, code int, seconds float64) {
	s.Requests.WithLabelValues(path, strconv.Itoa(code)).Inc()
	s.Latency.Observe(seconds)
}
