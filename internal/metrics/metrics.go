// Package metrics records credential resolution outcomes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder receives resolution events. Labels never carry credential data.
type Recorder interface {
	// RecordResolution counts a resolve call. source is the name of the
	// winning source, or "none" when nothing valid was found.
	RecordResolution(service, source string)
	// RecordAttempt counts one source consultation by outcome.
	RecordAttempt(service, source, outcome string)
	// RecordRemember counts remember calls by outcome.
	RecordRemember(service, outcome string)
}

type NoopMetrics struct{}

func NewNoopMetrics() Recorder {
	return &NoopMetrics{}
}

func (n *NoopMetrics) RecordResolution(service, source string) {}

func (n *NoopMetrics) RecordAttempt(service, source, outcome string) {}

func (n *NoopMetrics) RecordRemember(service, outcome string) {}

type PrometheusMetrics struct {
	resolutions *prometheus.CounterVec
	attempts    *prometheus.CounterVec
	remembers   *prometheus.CounterVec
}

// NewPrometheusMetrics registers the credence collectors with reg.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)
	return &PrometheusMetrics{
		resolutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "credence_resolutions_total",
			Help: "Credential resolutions by service and winning source",
		}, []string{"service", "source"}), // source: "store", "environment", "fallback", "caller", "none"
		attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "credence_source_attempts_total",
			Help: "Source consultations by service, source and outcome",
		}, []string{"service", "source", "outcome"}), // outcome: "hit", "empty", "invalid", "error"
		remembers: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "credence_remember_total",
			Help: "Remember calls by service and outcome",
		}, []string{"service", "outcome"}), // outcome: "stored", "invalid", "error"
	}
}

func (p *PrometheusMetrics) RecordResolution(service, source string) {
	p.resolutions.WithLabelValues(service, source).Inc()
}

func (p *PrometheusMetrics) RecordAttempt(service, source, outcome string) {
	p.attempts.WithLabelValues(service, source, outcome).Inc()
}

func (p *PrometheusMetrics) RecordRemember(service, outcome string) {
	p.remembers.WithLabelValues(service, outcome).Inc()
}
