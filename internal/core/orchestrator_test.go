package core

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ptrskay3/msde-cli/internal/types"
)

const (
	svcA types.ServiceName = "a"
	svcB types.ServiceName = "b"
	svcC types.ServiceName = "c"
	svcD types.ServiceName = "d"
)

// chainGraph is A <- B <- C plus an unrelated D.
func chainGraph(t *testing.T) ServiceGraph {
	t.Helper()
	graph, err := NewServiceGraph([]types.ServiceSpec{
		{Name: svcA},
		{Name: svcB, DependsOn: []types.ServiceName{svcA}},
		{Name: svcC, DependsOn: []types.ServiceName{svcB}},
		{Name: svcD},
	})
	require.NoError(t, err)
	return graph
}

type fakeRuntime struct {
	mu      sync.Mutex
	running map[types.ServiceName]bool
	// pending is how many status polls report "starting" after a start.
	pending  map[types.ServiceName]int
	never    map[types.ServiceName]bool
	startErr map[types.ServiceName]error
	stopErr  map[types.ServiceName]error
	starts   map[types.ServiceName]int
	events   []string
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		running:  map[types.ServiceName]bool{},
		pending:  map[types.ServiceName]int{},
		never:    map[types.ServiceName]bool{},
		startErr: map[types.ServiceName]error{},
		stopErr:  map[types.ServiceName]error{},
		starts:   map[types.ServiceName]int{},
	}
}

func (r *fakeRuntime) Start(_ context.Context, spec types.ServiceSpec) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts[spec.Name]++
	r.events = append(r.events, "start:"+string(spec.Name))
	if err := r.startErr[spec.Name]; err != nil {
		return err
	}
	r.running[spec.Name] = true
	if r.pending[spec.Name] == 0 {
		r.pending[spec.Name] = 2
	}
	return nil
}

func (r *fakeRuntime) Stop(_ context.Context, spec types.ServiceSpec) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "stop:"+string(spec.Name))
	if err := r.stopErr[spec.Name]; err != nil {
		return err
	}
	r.running[spec.Name] = false
	return nil
}

func (r *fakeRuntime) Status(_ context.Context, spec types.ServiceSpec) (types.RuntimeStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running[spec.Name] {
		return types.RuntimeStatus{}, nil
	}
	if r.never[spec.Name] {
		return types.RuntimeStatus{Exists: true, Running: true, Health: "starting"}, nil
	}
	if r.pending[spec.Name] > 0 {
		r.pending[spec.Name]--
		return types.RuntimeStatus{Exists: true, Running: true, Health: "starting"}, nil
	}
	event := "healthy:" + string(spec.Name)
	if !slices.Contains(r.events, event) {
		r.events = append(r.events, event)
	}
	return types.RuntimeStatus{Exists: true, Running: true, Health: "healthy"}, nil
}

func (r *fakeRuntime) eventIndex(t *testing.T, event string) int {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := slices.Index(r.events, event)
	require.GreaterOrEqual(t, idx, 0, "missing event %s in %v", event, r.events)
	return idx
}

func (r *fakeRuntime) startCount(name types.ServiceName) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts[name]
}

func newTestOrchestrator(graph ServiceGraph, runtime *fakeRuntime) *Orchestrator {
	return NewOrchestrator(graph, runtime, nil, OrchestratorConfig{
		HealthTimeout:  50 * time.Millisecond,
		HealthInterval: time.Millisecond,
	})
}

// ----- Up -----

func TestUpStartsServicesAfterPredecessorsAreHealthy(t *testing.T) {
	runtime := newFakeRuntime()
	report, err := newTestOrchestrator(chainGraph(t), runtime).Up(t.Context(), nil)
	require.NoError(t, err)

	for _, name := range []types.ServiceName{svcA, svcB, svcC, svcD} {
		assert.Equal(t, types.ServiceHealthy, report.States[name], "service %s", name)
	}
	assert.Less(t, runtime.eventIndex(t, "healthy:a"), runtime.eventIndex(t, "start:b"))
	assert.Less(t, runtime.eventIndex(t, "healthy:b"), runtime.eventIndex(t, "start:c"))
}

func TestUpWithholdsDependentsOfUnhealthyService(t *testing.T) {
	runtime := newFakeRuntime()
	runtime.never[svcA] = true
	report, err := newTestOrchestrator(chainGraph(t), runtime).Up(t.Context(), nil)

	var orchErr *types.OrchestrationError
	require.True(t, errors.As(err, &orchErr))
	assert.Equal(t, types.OrchestrationHealthFailed, orchErr.Kind)
	assert.Equal(t, map[types.ServiceName]types.ServiceState{
		svcA: types.ServiceUnhealthy,
		svcB: types.ServiceStopped,
		svcC: types.ServiceStopped,
	}, orchErr.Services)

	assert.Equal(t, types.ServiceHealthy, report.States[svcD], "independent branch still comes up")
	assert.Equal(t, 0, runtime.startCount(svcB))
	assert.Equal(t, 0, runtime.startCount(svcC))
}

func TestUpStartFailureIsReported(t *testing.T) {
	runtime := newFakeRuntime()
	runtime.startErr[svcB] = errors.New("image not found")
	report, err := newTestOrchestrator(chainGraph(t), runtime).Up(t.Context(), nil)

	var orchErr *types.OrchestrationError
	require.True(t, errors.As(err, &orchErr))
	assert.Equal(t, types.OrchestrationStartFailed, orchErr.Kind)
	assert.Equal(t, types.ServiceFailed, report.States[svcB])
	assert.Equal(t, types.ServiceStopped, report.States[svcC])
	assert.Equal(t, types.ServiceHealthy, report.States[svcA])
	assert.Contains(t, err.Error(), "b (failed)")
}

func TestUpSkipsServicesAlreadyHealthy(t *testing.T) {
	runtime := newFakeRuntime()
	runtime.running[svcA] = true
	_, err := newTestOrchestrator(chainGraph(t), runtime).Up(t.Context(), []types.ServiceName{svcB})
	require.NoError(t, err)
	assert.Equal(t, 0, runtime.startCount(svcA))
	assert.Equal(t, 1, runtime.startCount(svcB))
}

func TestUpOnlyTouchesRequestedClosure(t *testing.T) {
	runtime := newFakeRuntime()
	report, err := newTestOrchestrator(chainGraph(t), runtime).Up(t.Context(), []types.ServiceName{svcB})
	require.NoError(t, err)
	assert.Len(t, report.States, 2)
	assert.Equal(t, 0, runtime.startCount(svcC))
	assert.Equal(t, 0, runtime.startCount(svcD))
}

func TestUpRejectsUnknownService(t *testing.T) {
	_, err := newTestOrchestrator(chainGraph(t), newFakeRuntime()).Up(t.Context(), []types.ServiceName{"nope"})
	require.Error(t, err)
}

func TestUpFailsServicesWhosePackageIsMissing(t *testing.T) {
	graph, err := NewServiceGraph(types.DefaultServices())
	require.NoError(t, err)
	installed := types.NewInstalledState()
	installed.Packages[types.PackageCompiler] = types.InstalledPackage{Package: types.PackageCompiler, Version: "0.9.0"}
	installed.Packages[types.PackageBot] = types.InstalledPackage{Package: types.PackageBot, Version: "1.0.0"}

	runtime := newFakeRuntime()
	runtime.running[types.ServiceMSDE] = true
	orchestrator := NewOrchestrator(graph, runtime, nil, OrchestratorConfig{
		HealthTimeout:  50 * time.Millisecond,
		HealthInterval: time.Millisecond,
		Installed:      &installed,
	})

	report, err := orchestrator.Up(t.Context(), []types.ServiceName{types.ServiceBot})
	var orchErr *types.OrchestrationError
	require.ErrorAs(t, err, &orchErr)
	assert.Equal(t, types.OrchestrationStartFailed, orchErr.Kind)
	assert.Contains(t, err.Error(), "needs package msde, which is not installed")
	assert.Equal(t, map[types.ServiceName]types.ServiceState{
		types.ServiceCompiler: types.ServiceHealthy,
		types.ServiceMSDE:     types.ServiceFailed,
		types.ServiceBot:      types.ServiceStopped,
	}, report.States)
	assert.Equal(t, 0, runtime.startCount(types.ServiceMSDE))
	assert.Equal(t, 0, runtime.startCount(types.ServiceBot))
}

type fakeProbe struct {
	healthy map[types.ServiceName]bool
}

func (p fakeProbe) Healthy(_ context.Context, spec types.ServiceSpec) (bool, error) {
	return p.healthy[spec.Name], nil
}

func TestUpUsesHealthProbeWhenConfigured(t *testing.T) {
	graph, err := NewServiceGraph([]types.ServiceSpec{
		{Name: svcA, HealthURL: "http://127.0.0.1:1/health"},
		{Name: svcB, DependsOn: []types.ServiceName{svcA}},
	})
	require.NoError(t, err)
	runtime := newFakeRuntime()
	orchestrator := NewOrchestrator(graph, runtime, fakeProbe{healthy: map[types.ServiceName]bool{}}, OrchestratorConfig{
		HealthTimeout:  20 * time.Millisecond,
		HealthInterval: time.Millisecond,
	})

	report, err := orchestrator.Up(t.Context(), nil)
	require.Error(t, err)
	assert.Equal(t, types.ServiceUnhealthy, report.States[svcA])
	assert.Equal(t, types.ServiceStopped, report.States[svcB])
}

// ----- Down / Restart / Status -----

func TestDownStopsDependentsFirst(t *testing.T) {
	runtime := newFakeRuntime()
	for _, name := range []types.ServiceName{svcA, svcB, svcC, svcD} {
		runtime.running[name] = true
	}
	report, err := newTestOrchestrator(chainGraph(t), runtime).Down(t.Context(), []types.ServiceName{svcA})
	require.NoError(t, err)

	assert.Less(t, runtime.eventIndex(t, "stop:c"), runtime.eventIndex(t, "stop:b"))
	assert.Less(t, runtime.eventIndex(t, "stop:b"), runtime.eventIndex(t, "stop:a"))
	assert.NotContains(t, report.States, svcD)
	assert.True(t, runtime.running[svcD])
}

func TestDownStopFailureKeepsPredecessorsRunning(t *testing.T) {
	runtime := newFakeRuntime()
	for _, name := range []types.ServiceName{svcA, svcB, svcC} {
		runtime.running[name] = true
	}
	runtime.stopErr[svcC] = errors.New("timeout")
	report, err := newTestOrchestrator(chainGraph(t), runtime).Down(t.Context(), []types.ServiceName{svcA})

	var orchErr *types.OrchestrationError
	require.True(t, errors.As(err, &orchErr))
	assert.Equal(t, types.OrchestrationStopFailed, orchErr.Kind)
	assert.Equal(t, types.ServiceFailed, report.States[svcC])
	assert.True(t, runtime.running[svcB])
	assert.True(t, runtime.running[svcA])
}

func TestRestartStopsDependentsAndBringsThemBack(t *testing.T) {
	runtime := newFakeRuntime()
	for _, name := range []types.ServiceName{svcA, svcB, svcC} {
		runtime.running[name] = true
	}
	report, err := newTestOrchestrator(chainGraph(t), runtime).Restart(t.Context(), []types.ServiceName{svcB})
	require.NoError(t, err)

	assert.Equal(t, types.ActionRestart, report.Action)
	assert.Equal(t, 0, runtime.startCount(svcA))
	assert.Equal(t, 1, runtime.startCount(svcB))
	assert.Equal(t, 1, runtime.startCount(svcC))
	assert.Equal(t, types.ServiceHealthy, report.States[svcC])
}

func TestStatusReportsObservedStates(t *testing.T) {
	runtime := newFakeRuntime()
	runtime.running[svcA] = true
	runtime.running[svcB] = true
	runtime.never[svcB] = true

	report, err := newTestOrchestrator(chainGraph(t), runtime).Status(t.Context())
	require.NoError(t, err)
	assert.Equal(t, map[types.ServiceName]types.ServiceState{
		svcA: types.ServiceHealthy,
		svcB: types.ServiceHealthPending,
		svcC: types.ServiceStopped,
		svcD: types.ServiceStopped,
	}, report.States)
}

func TestDefaultServiceGraphComesUp(t *testing.T) {
	graph, err := NewServiceGraph(types.DefaultServices())
	require.NoError(t, err)
	runtime := newFakeRuntime()
	report, err := newTestOrchestrator(graph, runtime).Up(t.Context(), []types.ServiceName{types.ServiceWeb3Consumer})
	require.NoError(t, err)
	assert.Equal(t, []types.ServiceName{types.ServiceCompiler, types.ServiceMSDE, types.ServiceWeb3Consumer, types.ServiceWeb3Producer}, sortedServiceNames(report.States))
}

func sortedServiceNames(states map[types.ServiceName]types.ServiceState) []types.ServiceName {
	out := make([]types.ServiceName, 0, len(states))
	for name := range states {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}
