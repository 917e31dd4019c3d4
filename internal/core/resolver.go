package core

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"github.com/Ptrskay3/msde-cli/internal/policies"
	"github.com/Ptrskay3/msde-cli/internal/types"
)

type ResolveRequest struct {
	// Requested pins the primary package version. Nil means the highest
	// version the matrix knows about.
	Requested      *string
	AllowDowngrade bool
}

// ResolverCore turns a target version, the installed state and the
// compatibility matrix into an install plan. It performs no I/O.
type ResolverCore struct{}

func NewResolverCore() ResolverCore {
	return ResolverCore{}
}

func (r ResolverCore) Resolve(ctx context.Context, req ResolveRequest, installed types.InstalledState, matrix types.CompatibilityMatrix) (types.InstallPlan, error) {
	if err := validateMatrix(matrix); err != nil {
		return types.InstallPlan{}, err
	}
	primary := matrix.Primary
	if primary == "" {
		primary = types.PrimaryPackage
	}
	policy := policies.NewUpgradePolicy(req.AllowDowngrade)

	target, err := r.primaryTarget(req, primary, matrix)
	if err != nil {
		return types.InstallPlan{}, err
	}
	logger := log.Ctx(ctx)
	logger.Debug().Str("package", string(primary)).Str("version", target).Msg("resolved primary target")

	steps := map[types.PackageID]types.PlanStep{}
	primaryScheme := matrix.SchemeOf(primary)
	step, err := planStep(primary, primaryScheme, target, "="+target, installed, policy)
	if err != nil {
		return types.InstallPlan{}, err
	}
	if step != nil {
		steps[primary] = *step
	}

	entry := matrix.Entries[target]
	for _, pkg := range sortedPackages(entry) {
		if pkg == primary {
			return types.InstallPlan{}, &types.ResolveError{
				Kind:    types.ResolveConflictingConstraints,
				Package: pkg,
				Range:   entry[pkg],
				Err:     fmt.Errorf("matrix entry %s constrains the primary package", target),
			}
		}
		scheme := matrix.SchemeOf(pkg)
		rng, err := ParseRange(entry[pkg])
		if err != nil {
			return types.InstallPlan{}, &types.ResolveError{
				Kind:    types.ResolveConflictingConstraints,
				Package: pkg,
				Range:   entry[pkg],
				Err:     err,
			}
		}
		cache := newVersionCache(scheme)
		if current, ok := installed.Get(pkg); ok {
			satisfied, err := cache.satisfies(current.Version, rng)
			if err != nil {
				return types.InstallPlan{}, &types.ResolveError{
					Kind:    types.ResolveConflictingConstraints,
					Package: pkg,
					Range:   rng.String(),
					Err:     err,
				}
			}
			if satisfied {
				logger.Debug().Str("package", string(pkg)).Str("version", current.Version).Msg("installed version satisfies range")
				continue
			}
		}
		version, err := bestCompatibleVersion(pkg, scheme, rng, matrix.Packages[pkg].Versions)
		if err != nil {
			return types.InstallPlan{}, err
		}
		step, err := planStep(pkg, scheme, version, rng.String(), installed, policy)
		if err != nil {
			return types.InstallPlan{}, err
		}
		if step != nil {
			steps[pkg] = *step
		}
	}

	ordered, err := orderSteps(steps)
	if err != nil {
		return types.InstallPlan{}, err
	}
	return types.InstallPlan{Primary: primary, Target: target, Steps: ordered}, nil
}

func (r ResolverCore) primaryTarget(req ResolveRequest, primary types.PackageID, matrix types.CompatibilityMatrix) (string, error) {
	if req.Requested != nil && strings.TrimSpace(*req.Requested) != "" {
		requested := strings.TrimPrefix(strings.TrimSpace(*req.Requested), "v")
		cache := newVersionCache(matrix.SchemeOf(primary))
		if err := cache.validate(requested); err != nil {
			return "", &types.ResolveError{Kind: types.ResolveUnknownVersion, Package: primary, Requested: requested, Err: err}
		}
		for known := range matrix.Entries {
			if cache.compare(known, requested) == 0 {
				return known, nil
			}
		}
		return "", &types.ResolveError{Kind: types.ResolveUnknownVersion, Package: primary, Requested: requested}
	}
	keys := make([]string, 0, len(matrix.Entries))
	for key := range matrix.Entries {
		keys = append(keys, key)
	}
	return SortVersionsDescending(matrix.SchemeOf(primary), keys)[0], nil
}

// planStep returns the step moving pkg to version, or nil when the
// installed version already equals it.
func planStep(pkg types.PackageID, scheme types.VersionScheme, version string, rng string, installed types.InstalledState, policy policies.UpgradePolicy) (*types.PlanStep, error) {
	step := &types.PlanStep{Package: pkg, To: version, Scheme: scheme, Range: rng}
	current, ok := installed.Get(pkg)
	cmp := 0
	if ok {
		cmp = newVersionCache(scheme).compare(version, current.Version)
	}
	kind := policies.Classify(ok, cmp)
	if kind == policies.ChangeNone {
		return nil, nil
	}
	if err := policy.Check(pkg, current.Version, version, kind); err != nil {
		return nil, err
	}
	if ok {
		from := current.Version
		step.From = &from
	}
	return step, nil
}

// orderSteps sorts steps in package dependency order and records, for each
// step, the earlier steps it has to wait for.
func orderSteps(steps map[types.PackageID]types.PlanStep) ([]types.PlanStep, error) {
	if len(steps) == 0 {
		return nil, nil
	}
	graph, err := packageOrder()
	if err != nil {
		return nil, err
	}
	var out []types.PlanStep
	for _, pkg := range graph.order {
		step, ok := steps[pkg]
		if !ok {
			continue
		}
		for _, ancestor := range graph.ordered(graph.closure(graph.deps[pkg], graph.deps)) {
			if _, planned := steps[ancestor]; planned {
				step.After = append(step.After, ancestor)
			}
		}
		out = append(out, step)
	}
	return out, nil
}

func validateMatrix(matrix types.CompatibilityMatrix) error {
	if len(matrix.Entries) == 0 {
		return errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg("compatibility matrix has no entries")
	}
	if matrix.Primary != "" && !matrix.Primary.Valid() {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("unknown primary package %s", matrix.Primary))
	}
	for version, entry := range matrix.Entries {
		for pkg := range entry {
			if !pkg.Valid() {
				return errbuilder.New().
					WithCode(errbuilder.CodeInvalidArgument).
					WithMsg(fmt.Sprintf("matrix entry %s names unknown package %s", version, pkg))
			}
		}
	}
	return nil
}

func sortedPackages(entry map[types.PackageID]string) []types.PackageID {
	out := make([]types.PackageID, 0, len(entry))
	for pkg := range entry {
		out = append(out, pkg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
