package types

import (
	"fmt"
	"sort"
	"strings"
)

type ServiceSpec struct {
	Name      ServiceName
	Package   PackageID
	DependsOn []ServiceName
	HealthURL string
}

// DefaultServices is the compiled-in service topology. Each entry must be
// healthy before any service listing it in DependsOn may start.
func DefaultServices() []ServiceSpec {
	return []ServiceSpec{
		{Name: ServiceCompiler, Package: PackageCompiler},
		{Name: ServiceMSDE, Package: PackageMSDE, DependsOn: []ServiceName{ServiceCompiler}},
		{Name: ServiceBot, Package: PackageBot, DependsOn: []ServiceName{ServiceMSDE}},
		{Name: ServiceWeb3Producer, Package: PackageWeb3, DependsOn: []ServiceName{ServiceMSDE}},
		{Name: ServiceWeb3Consumer, Package: PackageWeb3, DependsOn: []ServiceName{ServiceWeb3Producer}},
	}
}

// PackageDependencies is the install ordering between packages: a package
// is never installed before the packages it lists.
var PackageDependencies = map[PackageID][]PackageID{
	PackageCompiler: nil,
	PackageMSDE:     {PackageCompiler},
	PackageBot:      {PackageMSDE},
	PackageWeb3:     {PackageMSDE},
}

type RuntimeStatus struct {
	Exists  bool
	Running bool
	// Health is the runtime-reported health ("healthy", "starting",
	// "unhealthy") or empty when the service defines no check.
	Health string
}

type OrchestrationReport struct {
	Action LifecycleAction
	States map[ServiceName]ServiceState
}

// NotHealthy lists requested services that did not end healthy.
func (r OrchestrationReport) NotHealthy(requested []ServiceName) []ServiceName {
	var out []ServiceName
	for _, name := range requested {
		if r.States[name] != ServiceHealthy {
			out = append(out, name)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r OrchestrationReport) String() string {
	names := make([]string, 0, len(r.States))
	for name := range r.States {
		names = append(names, string(name))
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%s", name, r.States[ServiceName(name)]))
	}
	return strings.Join(parts, " ")
}
