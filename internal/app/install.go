package app

import (
	"context"
	"errors"
	"strings"

	assert "github.com/ZanzyTHEbar/assert-lib"
	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"github.com/Ptrskay3/msde-cli/internal/core"
	"github.com/Ptrskay3/msde-cli/internal/types"
)

// Versions lists the published versions of pkg, newest first. When the
// registry is unreachable the matrix catalog is used instead.
func (s Service) Versions(ctx context.Context, pkg types.PackageID) (VersionsResult, error) {
	if !pkg.Valid() {
		return VersionsResult{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("unknown package " + string(pkg))
	}
	matrix, matrixErr := s.matrix(ctx)
	scheme := types.VersionSchemeSemver
	if matrixErr == nil {
		scheme = matrix.SchemeOf(pkg)
	}
	versions, err := registryCall(ctx, s, "registry.versions", func(ctx context.Context) ([]string, error) {
		return s.Registry.ListVersions(ctx, pkg)
	})
	if err != nil {
		if matrixErr != nil || len(matrix.Packages[pkg].Versions) == 0 {
			return VersionsResult{}, err
		}
		log.Ctx(ctx).Warn().Err(err).Str("package", string(pkg)).Msg("registry unavailable; listing versions from the compatibility matrix")
		versions = matrix.Packages[pkg].Versions
	}
	installed, loadErr := s.Installer.Load(ctx)
	if loadErr != nil {
		return VersionsResult{}, loadErr
	}
	result := VersionsResult{
		Package:  pkg,
		Versions: core.SortVersionsDescending(scheme, versions),
	}
	if entry, ok := installed.Get(pkg); ok {
		result.Installed = entry.Version
	}
	return result, nil
}

// Plan resolves the install plan without touching the filesystem.
func (s Service) Plan(ctx context.Context, req PlanRequest) (types.InstallPlan, error) {
	installed, err := s.Installer.Load(ctx)
	if err != nil {
		return types.InstallPlan{}, err
	}
	matrix, err := s.matrix(ctx)
	if err != nil {
		return types.InstallPlan{}, err
	}
	resolveReq := core.ResolveRequest{AllowDowngrade: req.AllowDowngrade}
	if target := s.targetVersion(req); target != "" {
		resolveReq.Requested = &target
	}
	return s.Resolver.Resolve(ctx, resolveReq, installed, matrix)
}

func (s Service) targetVersion(req PlanRequest) string {
	if version := strings.TrimSpace(req.Version); version != "" {
		return version
	}
	if req.Latest {
		return ""
	}
	return strings.TrimSpace(s.UpstreamVersion)
}

// Install reconciles any interrupted previous run, then resolves and
// applies the plan. When a project is configured its config is migrated
// to the schema this build understands.
func (s Service) Install(ctx context.Context, req PlanRequest) (InstallResult, error) {
	if err := s.Installer.Recover(ctx); err != nil {
		return InstallResult{}, err
	}
	plan, err := s.Plan(ctx, req)
	if err != nil {
		return InstallResult{}, err
	}
	for _, step := range plan.Steps {
		assert.NotEmpty(ctx, string(step.Package), "plan step package must be set")
		assert.NotEmpty(ctx, step.To, "plan step target version must be set")
	}
	result := InstallResult{Plan: plan}
	if plan.IsEmpty() {
		log.Ctx(ctx).Info().Msg("everything is up to date")
	} else {
		report, err := s.Installer.Install(ctx, plan)
		result.Report = report
		if err != nil {
			return result, err
		}
	}

	path, ok, err := s.projectConfigPath(ctx)
	if err != nil || !ok {
		return result, err
	}
	migration, err := s.Migrator.MigrateFile(ctx, path)
	if err != nil {
		if errbuilder.CodeOf(err) == errbuilder.CodeNotFound {
			log.Ctx(ctx).Debug().Str("path", path).Msg("no project config to migrate")
			return result, nil
		}
		return result, err
	}
	result.Migration = &migration
	return result, nil
}

// Verify checks the on-disk tree of each package against the digest
// recorded at install time. No packages means every installed package.
func (s Service) Verify(ctx context.Context, pkgs []types.PackageID) ([]types.InstalledPackage, error) {
	state, err := s.Installer.Load(ctx)
	if err != nil {
		return nil, err
	}
	if len(pkgs) == 0 {
		for _, entry := range state.Sorted() {
			pkgs = append(pkgs, entry.Package)
		}
	}
	var verified []types.InstalledPackage
	var errs []error
	for _, pkg := range pkgs {
		entry, err := s.Installer.Verify(ctx, pkg)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		verified = append(verified, entry)
	}
	return verified, errors.Join(errs...)
}

func (s Service) matrix(ctx context.Context) (types.CompatibilityMatrix, error) {
	return registryCall(ctx, s, "registry.matrix", s.Compatibility.Matrix)
}
