package core

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"github.com/Ptrskay3/msde-cli/internal/types"
)

// dag is a validated acyclic dependency graph. deps[k] lists the nodes k
// depends on.
type dag[K cmp.Ordered] struct {
	deps  map[K][]K
	users map[K][]K
	order []K
}

// cycleError names the nodes left over after a topological sort.
type cycleError[K cmp.Ordered] struct {
	nodes []K
}

func (e *cycleError[K]) Error() string {
	parts := make([]string, 0, len(e.nodes))
	for _, node := range e.nodes {
		parts = append(parts, fmt.Sprint(node))
	}
	return "cycle through " + strings.Join(parts, ", ")
}

func newDAG[K cmp.Ordered](deps map[K][]K) (*dag[K], error) {
	g := &dag[K]{
		deps:  map[K][]K{},
		users: map[K][]K{},
	}
	for node, parents := range deps {
		g.deps[node] = append([]K(nil), parents...)
		for _, parent := range parents {
			if _, ok := deps[parent]; !ok {
				return nil, errbuilder.New().
					WithCode(errbuilder.CodeInvalidArgument).
					WithMsg(fmt.Sprintf("%v depends on unknown node %v", node, parent))
			}
			g.users[parent] = append(g.users[parent], node)
		}
	}
	for node := range g.users {
		slices.Sort(g.users[node])
	}

	// Kahn's algorithm with a sorted ready set keeps the order stable.
	indegree := map[K]int{}
	for node, parents := range g.deps {
		indegree[node] = len(parents)
	}
	var ready []K
	for node, n := range indegree {
		if n == 0 {
			ready = append(ready, node)
		}
	}
	slices.Sort(ready)
	for len(ready) > 0 {
		node := ready[0]
		ready = ready[1:]
		g.order = append(g.order, node)
		for _, user := range g.users[node] {
			indegree[user]--
			if indegree[user] == 0 {
				ready = append(ready, user)
				slices.Sort(ready)
			}
		}
	}
	if len(g.order) != len(g.deps) {
		var stuck []K
		for node, n := range indegree {
			if n > 0 {
				stuck = append(stuck, node)
			}
		}
		slices.Sort(stuck)
		return nil, &cycleError[K]{nodes: stuck}
	}
	return g, nil
}

func (g *dag[K]) has(node K) bool {
	_, ok := g.deps[node]
	return ok
}

// closure returns roots plus everything reachable by following next.
func (g *dag[K]) closure(roots []K, next map[K][]K) map[K]bool {
	seen := map[K]bool{}
	stack := append([]K(nil), roots...)
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[node] {
			continue
		}
		seen[node] = true
		stack = append(stack, next[node]...)
	}
	return seen
}

// ordered filters the topological order down to members of set.
func (g *dag[K]) ordered(set map[K]bool) []K {
	out := make([]K, 0, len(set))
	for _, node := range g.order {
		if set[node] {
			out = append(out, node)
		}
	}
	return out
}

// ServiceGraph is the read-only service topology the orchestrator walks.
type ServiceGraph struct {
	specs map[types.ServiceName]types.ServiceSpec
	graph *dag[types.ServiceName]
}

// NewServiceGraph validates specs. Unknown dependencies are rejected and a
// cycle is reported as an OrchestrationError rather than left to deadlock.
func NewServiceGraph(specs []types.ServiceSpec) (ServiceGraph, error) {
	deps := map[types.ServiceName][]types.ServiceName{}
	byName := map[types.ServiceName]types.ServiceSpec{}
	for _, spec := range specs {
		if _, dup := byName[spec.Name]; dup {
			return ServiceGraph{}, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("duplicate service %s", spec.Name))
		}
		byName[spec.Name] = spec
		deps[spec.Name] = spec.DependsOn
	}
	graph, err := newDAG(deps)
	if err != nil {
		if _, ok := err.(*cycleError[types.ServiceName]); ok {
			return ServiceGraph{}, &types.OrchestrationError{
				Kind: types.OrchestrationDependencyCycle,
				Err:  err,
			}
		}
		return ServiceGraph{}, err
	}
	return ServiceGraph{specs: byName, graph: graph}, nil
}

func (g ServiceGraph) Spec(name types.ServiceName) (types.ServiceSpec, bool) {
	spec, ok := g.specs[name]
	return spec, ok
}

// Names lists every service in start order.
func (g ServiceGraph) Names() []types.ServiceName {
	return append([]types.ServiceName(nil), g.graph.order...)
}

func (g ServiceGraph) Predecessors(name types.ServiceName) []types.ServiceName {
	return append([]types.ServiceName(nil), g.graph.deps[name]...)
}

func (g ServiceGraph) Dependents(name types.ServiceName) []types.ServiceName {
	return append([]types.ServiceName(nil), g.graph.users[name]...)
}

// UpClosure returns requested plus all transitive predecessors, in start
// order.
func (g ServiceGraph) UpClosure(requested []types.ServiceName) []types.ServiceName {
	return g.graph.ordered(g.graph.closure(requested, g.graph.deps))
}

// DownClosure returns requested plus all transitive dependents, in stop
// order (dependents first).
func (g ServiceGraph) DownClosure(requested []types.ServiceName) []types.ServiceName {
	out := g.graph.ordered(g.graph.closure(requested, g.graph.users))
	slices.Reverse(out)
	return out
}

// Validate rejects names outside the graph.
func (g ServiceGraph) Validate(names []types.ServiceName) error {
	for _, name := range names {
		if !g.graph.has(name) {
			return errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("unknown service %s", name))
		}
	}
	return nil
}

// packageOrder is the install order graph over managed packages.
func packageOrder() (*dag[types.PackageID], error) {
	graph, err := newDAG(types.PackageDependencies)
	if err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("invalid package dependency table").
			WithCause(err)
	}
	return graph, nil
}
