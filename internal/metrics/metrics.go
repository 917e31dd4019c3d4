// Package metrics counts engine events in a private prometheus registry.
// A CLI process is short-lived, so the registry is written to a node
// exporter textfile on exit instead of being scraped.
package metrics

import (
	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Ptrskay3/msde-cli/internal/ports"
	"github.com/Ptrskay3/msde-cli/internal/types"
)

const namespace = "msde_cli"

type Recorder struct {
	registry *prometheus.Registry

	installSteps       *prometheus.CounterVec
	retries            *prometheus.CounterVec
	sessions           *prometheus.CounterVec
	serviceTransitions *prometheus.CounterVec
}

func New() *Recorder {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &Recorder{
		registry: registry,
		// Labels: package, outcome (completed, failed, skipped)
		installSteps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "install",
			Name:      "steps_total",
			Help:      "Install plan steps by outcome",
		}, []string{"package", "outcome"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retry",
			Name:      "attempts_total",
			Help:      "Retried attempts by operation",
		}, []string{"operation"}),
		// Labels: event (issue, refresh), result (ok, error)
		sessions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "events_total",
			Help:      "Session issuance and refresh by result",
		}, []string{"event", "result"}),
		serviceTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "transitions_total",
			Help:      "Service state transitions",
		}, []string{"service", "state"}),
	}
}

func (r *Recorder) InstallStep(pkg types.PackageID, outcome types.StepOutcome) {
	r.installSteps.WithLabelValues(string(pkg), string(outcome)).Inc()
}

func (r *Recorder) Retry(op string) {
	r.retries.WithLabelValues(op).Inc()
}

func (r *Recorder) Session(event string, result string) {
	r.sessions.WithLabelValues(event, result).Inc()
}

func (r *Recorder) ServiceTransition(service types.ServiceName, state types.ServiceState) {
	r.serviceTransitions.WithLabelValues(string(service), string(state)).Inc()
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// WriteTextfile dumps every counter in the textfile exposition format.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to write metrics file").
			WithCause(err)
	}
	return nil
}

var _ ports.MetricsPort = (*Recorder)(nil)
