package app

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/Ptrskay3/msde-cli/internal/core"
	"github.com/Ptrskay3/msde-cli/internal/types"
)

// orchestrator re-reads the installed state and hands it to the runtime as
// environment. With gate set, services whose package is not installed fail
// instead of starting.
func (s Service) orchestrator(ctx context.Context, projectDir string, project types.ProjectConfig, gate bool) (*core.Orchestrator, error) {
	installed, err := s.Installer.Load(ctx)
	if err != nil {
		return nil, err
	}
	cfg := s.Orchestration
	if gate {
		cfg.Installed = &installed
	}
	return core.NewOrchestrator(s.Graph, s.RuntimeFor(projectDir, project, s.packageEnv(installed)), s.Probe, cfg), nil
}

// packageEnv exposes each installed package to compose files as
// MSDE_<PKG>_VERSION and MSDE_<PKG>_DIR.
func (s Service) packageEnv(installed types.InstalledState) []string {
	var env []string
	for _, entry := range installed.Sorted() {
		prefix := "MSDE_" + strings.ToUpper(strings.ReplaceAll(string(entry.Package), "-", "_"))
		env = append(env,
			prefix+"_VERSION="+entry.Version,
			prefix+"_DIR="+s.Installer.PackageDir(entry.Package),
		)
	}
	return env
}

// Up starts the requested services and everything they depend on. The
// project's pre_run hooks run first and post_run hooks run once every
// service is healthy.
func (s Service) Up(ctx context.Context, req EnvironmentRequest) (types.OrchestrationReport, error) {
	return s.withHooks(ctx, req, func(o *core.Orchestrator) (types.OrchestrationReport, error) {
		return o.Up(ctx, req.Services)
	})
}

// Restart stops the requested services with their dependents and brings
// them back up, running hooks around it like Up.
func (s Service) Restart(ctx context.Context, req EnvironmentRequest) (types.OrchestrationReport, error) {
	return s.withHooks(ctx, req, func(o *core.Orchestrator) (types.OrchestrationReport, error) {
		return o.Restart(ctx, req.Services)
	})
}

func (s Service) Down(ctx context.Context, req EnvironmentRequest) (types.OrchestrationReport, error) {
	dir, project, err := s.loadProject(ctx)
	if err != nil {
		return types.OrchestrationReport{}, err
	}
	orchestrator, err := s.orchestrator(ctx, dir, project, false)
	if err != nil {
		return types.OrchestrationReport{}, err
	}
	return orchestrator.Down(ctx, req.Services)
}

func (s Service) Status(ctx context.Context) (types.OrchestrationReport, error) {
	dir, project, err := s.loadProject(ctx)
	if err != nil {
		return types.OrchestrationReport{}, err
	}
	orchestrator, err := s.orchestrator(ctx, dir, project, false)
	if err != nil {
		return types.OrchestrationReport{}, err
	}
	return orchestrator.Status(ctx)
}

func (s Service) withHooks(ctx context.Context, req EnvironmentRequest, run func(*core.Orchestrator) (types.OrchestrationReport, error)) (types.OrchestrationReport, error) {
	if err := s.Graph.Validate(req.Services); err != nil {
		return types.OrchestrationReport{}, err
	}
	dir, project, err := s.loadProject(ctx)
	if err != nil {
		return types.OrchestrationReport{}, err
	}
	orchestrator, err := s.orchestrator(ctx, dir, project, true)
	if err != nil {
		return types.OrchestrationReport{}, err
	}
	hooks := s.HooksFor(dir)
	if !req.SkipHooks && len(project.Hooks.PreRun) > 0 {
		log.Ctx(ctx).Debug().Int("count", len(project.Hooks.PreRun)).Msg("running pre_run hooks")
		if err := hooks.Run(ctx, project.Hooks.PreRun); err != nil {
			return types.OrchestrationReport{}, err
		}
	}
	report, err := run(orchestrator)
	if err != nil {
		return report, err
	}
	if !req.SkipHooks && len(project.Hooks.PostRun) > 0 {
		log.Ctx(ctx).Debug().Int("count", len(project.Hooks.PostRun)).Msg("running post_run hooks")
		if err := hooks.Run(ctx, project.Hooks.PostRun); err != nil {
			return report, err
		}
	}
	return report, nil
}
