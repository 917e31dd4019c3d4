package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Ptrskay3/msde-cli/internal/ports"
	"github.com/Ptrskay3/msde-cli/internal/retry"
	"github.com/Ptrskay3/msde-cli/internal/types"
)

const (
	defaultHealthTimeout  = 90 * time.Second
	defaultHealthInterval = time.Second
)

var errNotHealthyYet = errors.New("not healthy yet")

type OrchestratorConfig struct {
	HealthTimeout  time.Duration
	HealthInterval time.Duration
	Metrics        ports.MetricsPort
	// Installed, when set, gates Up: a service whose package is missing
	// from it fails without being started.
	Installed *types.InstalledState
}

// Orchestrator drives the container runtime through the service graph.
type Orchestrator struct {
	graph   ServiceGraph
	runtime ports.ContainerRuntimePort
	probe   ports.HealthProbePort
	cfg     OrchestratorConfig
}

// NewOrchestrator wires the orchestrator. probe may be nil, in which case
// health comes from the runtime status alone.
func NewOrchestrator(graph ServiceGraph, runtime ports.ContainerRuntimePort, probe ports.HealthProbePort, cfg OrchestratorConfig) *Orchestrator {
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = defaultHealthTimeout
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = defaultHealthInterval
	}
	if cfg.Metrics == nil {
		cfg.Metrics = ports.NopMetrics{}
	}
	return &Orchestrator{graph: graph, runtime: runtime, probe: probe, cfg: cfg}
}

func (o *Orchestrator) healthPolicy() retry.Policy {
	attempts := int(o.cfg.HealthTimeout/o.cfg.HealthInterval) + 1
	return retryWithMetrics(retry.Policy{
		Attempts:        attempts,
		InitialInterval: o.cfg.HealthInterval,
		MaxInterval:     o.cfg.HealthInterval * 4,
		Multiplier:      1.5,
		Jitter:          0.2,
		MaxElapsed:      o.cfg.HealthTimeout,
	}, o.cfg.Metrics)
}

// stateBook records service states for one lifecycle run.
type stateBook struct {
	mu      sync.Mutex
	states  map[types.ServiceName]types.ServiceState
	done    map[types.ServiceName]chan struct{}
	causes  []error
	metrics ports.MetricsPort
}

func newStateBook(names []types.ServiceName, initial types.ServiceState, metrics ports.MetricsPort) *stateBook {
	book := &stateBook{
		states:  make(map[types.ServiceName]types.ServiceState, len(names)),
		done:    make(map[types.ServiceName]chan struct{}, len(names)),
		metrics: metrics,
	}
	for _, name := range names {
		book.states[name] = initial
		book.done[name] = make(chan struct{})
	}
	return book
}

func (b *stateBook) set(ctx context.Context, name types.ServiceName, state types.ServiceState) {
	b.mu.Lock()
	b.states[name] = state
	b.mu.Unlock()
	b.metrics.ServiceTransition(name, state)
	log.Ctx(ctx).Debug().Str("service", string(name)).Str("state", string(state)).Msg("service transition")
}

// fail marks name failed and keeps cause for the run's error.
func (b *stateBook) fail(ctx context.Context, name types.ServiceName, cause error) {
	b.mu.Lock()
	b.causes = append(b.causes, cause)
	b.mu.Unlock()
	b.set(ctx, name, types.ServiceFailed)
}

func (b *stateBook) get(name types.ServiceName) types.ServiceState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.states[name]
}

// wait blocks until every name in deps has finished. It reports false when
// ctx ends first.
func (b *stateBook) wait(ctx context.Context, deps []types.ServiceName) bool {
	for _, dep := range deps {
		ch, ok := b.done[dep]
		if !ok {
			continue
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return false
		}
	}
	return true
}

func (b *stateBook) snapshot() map[types.ServiceName]types.ServiceState {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[types.ServiceName]types.ServiceState, len(b.states))
	for name, state := range b.states {
		out[name] = state
	}
	return out
}

func (o *Orchestrator) targets(requested []types.ServiceName) ([]types.ServiceName, error) {
	if len(requested) == 0 {
		return o.graph.Names(), nil
	}
	if err := o.graph.Validate(requested); err != nil {
		return nil, err
	}
	return requested, nil
}

// Up brings requested services (all when empty) and their predecessors to
// healthy. A service starts only after all of its predecessors are healthy;
// if one of them ends failed or unhealthy the service stays stopped while
// unrelated branches carry on.
func (o *Orchestrator) Up(ctx context.Context, requested []types.ServiceName) (types.OrchestrationReport, error) {
	requested, err := o.targets(requested)
	if err != nil {
		return types.OrchestrationReport{}, err
	}
	services := o.graph.UpClosure(requested)
	book := newStateBook(services, types.ServiceStopped, o.cfg.Metrics)

	var group errgroup.Group
	for _, name := range services {
		group.Go(func() error {
			defer close(book.done[name])
			predecessors := o.graph.Predecessors(name)
			if !book.wait(ctx, predecessors) {
				return nil
			}
			for _, dep := range predecessors {
				if book.get(dep) != types.ServiceHealthy {
					log.Ctx(ctx).Warn().Str("service", string(name)).Str("dependency", string(dep)).Msg("dependency not healthy; not starting")
					return nil
				}
			}
			o.bringUp(ctx, book, name)
			return nil
		})
	}
	_ = group.Wait()

	report := types.OrchestrationReport{Action: types.ActionUp, States: book.snapshot()}
	return report, o.upError(ctx, report, requested, book.causes)
}

func (o *Orchestrator) bringUp(ctx context.Context, book *stateBook, name types.ServiceName) {
	if ctx.Err() != nil {
		return
	}
	spec, _ := o.graph.Spec(name)
	logger := log.Ctx(ctx).With().Str("service", string(name)).Logger()

	if err := o.checkInstalled(spec); err != nil {
		logger.Error().Err(err).Msg("not starting")
		book.fail(ctx, name, err)
		return
	}

	if status, err := o.runtime.Status(ctx, spec); err == nil && status.Running {
		if healthy, err := o.checkHealth(ctx, spec, status); err == nil && healthy {
			logger.Debug().Msg("already healthy")
			book.set(ctx, name, types.ServiceHealthy)
			return
		}
	}

	book.set(ctx, name, types.ServiceStarting)
	if err := o.runtime.Start(ctx, spec); err != nil {
		logger.Error().Err(err).Msg("start failed")
		book.set(ctx, name, types.ServiceFailed)
		return
	}

	book.set(ctx, name, types.ServiceHealthPending)
	if err := o.waitHealthy(ctx, spec); err != nil {
		logger.Error().Err(err).Dur("timeout", o.cfg.HealthTimeout).Msg("health check did not pass")
		book.set(ctx, name, types.ServiceUnhealthy)
		return
	}
	logger.Info().Msg("healthy")
	book.set(ctx, name, types.ServiceHealthy)
}

func (o *Orchestrator) checkInstalled(spec types.ServiceSpec) error {
	if o.cfg.Installed == nil || spec.Package == "" {
		return nil
	}
	if _, ok := o.cfg.Installed.Get(spec.Package); ok {
		return nil
	}
	return fmt.Errorf("service %s needs package %s, which is not installed; run msde-cli install", spec.Name, spec.Package)
}

func (o *Orchestrator) waitHealthy(ctx context.Context, spec types.ServiceSpec) error {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.HealthTimeout)
	defer cancel()
	return o.healthPolicy().Do(ctx, "health."+string(spec.Name), func(ctx context.Context) error {
		status, err := o.runtime.Status(ctx, spec)
		if err != nil {
			return err
		}
		healthy, err := o.checkHealth(ctx, spec, status)
		if err != nil {
			return err
		}
		if !healthy {
			return errNotHealthyYet
		}
		return nil
	})
}

// checkHealth prefers the HTTP probe when the service declares a health
// URL and falls back to the runtime-reported health.
func (o *Orchestrator) checkHealth(ctx context.Context, spec types.ServiceSpec, status types.RuntimeStatus) (bool, error) {
	if !status.Running {
		return false, nil
	}
	if o.probe != nil && spec.HealthURL != "" {
		return o.probe.Healthy(ctx, spec)
	}
	return status.Health == "" || status.Health == "healthy", nil
}

func (o *Orchestrator) upError(ctx context.Context, report types.OrchestrationReport, requested []types.ServiceName, causes []error) error {
	failing := report.NotHealthy(requested)
	if len(failing) == 0 {
		return nil
	}
	kind := types.OrchestrationHealthFailed
	for _, state := range report.States {
		if state == types.ServiceFailed {
			kind = types.OrchestrationStartFailed
			break
		}
	}
	services := make(map[types.ServiceName]types.ServiceState, len(failing))
	for _, name := range failing {
		services[name] = report.States[name]
	}
	return &types.OrchestrationError{Kind: kind, Services: services, Err: errors.Join(append(causes, ctx.Err())...)}
}

// Down stops requested services (all when empty) and everything that
// depends on them. A service is stopped only after all of its dependents
// are stopped.
func (o *Orchestrator) Down(ctx context.Context, requested []types.ServiceName) (types.OrchestrationReport, error) {
	requested, err := o.targets(requested)
	if err != nil {
		return types.OrchestrationReport{}, err
	}
	services := o.graph.DownClosure(requested)
	book := newStateBook(services, types.ServiceHealthy, o.cfg.Metrics)

	var group errgroup.Group
	for _, name := range services {
		group.Go(func() error {
			defer close(book.done[name])
			spec, _ := o.graph.Spec(name)
			if status, err := o.runtime.Status(ctx, spec); err == nil && !status.Running {
				book.set(ctx, name, types.ServiceStopped)
				return nil
			}
			dependents := o.graph.Dependents(name)
			if !book.wait(ctx, dependents) {
				return nil
			}
			for _, dep := range dependents {
				if book.get(dep) != types.ServiceStopped {
					log.Ctx(ctx).Warn().Str("service", string(name)).Str("dependent", string(dep)).Msg("dependent still running; not stopping")
					return nil
				}
			}
			if err := o.runtime.Stop(ctx, spec); err != nil {
				log.Ctx(ctx).Error().Err(err).Str("service", string(name)).Msg("stop failed")
				book.set(ctx, name, types.ServiceFailed)
				return nil
			}
			book.set(ctx, name, types.ServiceStopped)
			return nil
		})
	}
	_ = group.Wait()

	report := types.OrchestrationReport{Action: types.ActionDown, States: book.snapshot()}
	failing := map[types.ServiceName]types.ServiceState{}
	for name, state := range report.States {
		if state != types.ServiceStopped {
			failing[name] = state
		}
	}
	if len(failing) == 0 {
		return report, nil
	}
	return report, &types.OrchestrationError{Kind: types.OrchestrationStopFailed, Services: failing, Err: ctx.Err()}
}

// Restart stops requested services with their dependents and brings the
// same set back up.
func (o *Orchestrator) Restart(ctx context.Context, requested []types.ServiceName) (types.OrchestrationReport, error) {
	requested, err := o.targets(requested)
	if err != nil {
		return types.OrchestrationReport{}, err
	}
	stopped := o.graph.DownClosure(requested)
	if report, err := o.Down(ctx, requested); err != nil {
		report.Action = types.ActionRestart
		return report, err
	}
	report, err := o.Up(ctx, stopped)
	report.Action = types.ActionRestart
	return report, err
}

// Status reports the current state of every service without changing
// anything.
func (o *Orchestrator) Status(ctx context.Context) (types.OrchestrationReport, error) {
	report := types.OrchestrationReport{States: map[types.ServiceName]types.ServiceState{}}
	for _, name := range o.graph.Names() {
		spec, _ := o.graph.Spec(name)
		status, err := o.runtime.Status(ctx, spec)
		if err != nil {
			return report, err
		}
		report.States[name] = o.observedState(ctx, spec, status)
	}
	return report, nil
}

func (o *Orchestrator) observedState(ctx context.Context, spec types.ServiceSpec, status types.RuntimeStatus) types.ServiceState {
	switch {
	case !status.Running:
		return types.ServiceStopped
	case status.Health == "unhealthy":
		return types.ServiceUnhealthy
	case status.Health == "starting":
		return types.ServiceHealthPending
	}
	healthy, err := o.checkHealth(ctx, spec, status)
	if err != nil || !healthy {
		return types.ServiceHealthPending
	}
	return types.ServiceHealthy
}
