package ports

import "github.com/Ptrskay3/msde-cli/internal/types"

// MetricsPort records engine events.
type MetricsPort interface {
	InstallStep(pkg types.PackageID, outcome types.StepOutcome)
	Retry(op string)
	Session(event string, result string)
	ServiceTransition(service types.ServiceName, state types.ServiceState)
}

// NopMetrics discards every event.
type NopMetrics struct{}

func (NopMetrics) InstallStep(types.PackageID, types.StepOutcome) {}
func (NopMetrics) Retry(string) {}
func (NopMetrics) Session(string, string) {}
func (NopMetrics) ServiceTransition(types.ServiceName, types.ServiceState) {}

var _ MetricsPort = NopMetrics{}
