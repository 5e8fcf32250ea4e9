// Package metrics exposes link and session counters as Prometheus metrics,
// served on an optional HTTP listener.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics aggregates the counters the drbcc handle feeds: received frames
// by command, framing errors by kind, retransmit exhaustions, and session
// outcomes.
type Metrics struct {
	framesReceived *prometheus.CounterVec
	framingErrors  *prometheus.CounterVec
	retransmits    prometheus.Counter
	sessions       *prometheus.CounterVec
}

// New builds the metric set and registers it with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "drbcc",
			Name:      "frames_received_total",
			Help:      "Inbound non-ack frames dispatched, by command.",
		}, []string{"command"}),
		framingErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "drbcc",
			Name:      "framing_errors_total",
			Help:      "Frames dropped by the codec, by reason.",
		}, []string{"kind"}),
		retransmits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "drbcc",
			Name:      "retransmit_exhaustions_total",
			Help:      "Sends abandoned after the retransmit budget ran out.",
		}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "drbcc",
			Name:      "sessions_closed_total",
			Help:      "Sessions closed, by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.framesReceived, m.framingErrors, m.retransmits, m.sessions)
	return m
}

func (m *Metrics) FrameReceived(command string) {
	m.framesReceived.WithLabelValues(command).Inc()
}

func (m *Metrics) FramingError(kind string) {
	m.framingErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) RetransmitExhausted() {
	m.retransmits.Inc()
}

func (m *Metrics) SessionClosed(success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.sessions.WithLabelValues(outcome).Inc()
}

// Serve exposes reg's metrics on addr under /metrics. It blocks; run it on
// its own goroutine.
func Serve(addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return http.ListenAndServe(addr, mux)
}
