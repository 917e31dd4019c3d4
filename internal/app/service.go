package app

import (
	"context"
	"path/filepath"
	"time"

	"github.com/Ptrskay3/msde-cli/internal/adapters"
	"github.com/Ptrskay3/msde-cli/internal/core"
	"github.com/Ptrskay3/msde-cli/internal/ports"
	"github.com/Ptrskay3/msde-cli/internal/retry"
	"github.com/Ptrskay3/msde-cli/internal/types"
)

const (
	credentialsFile = "credentials.toml"
	stateFile       = "state.toml"
	settingsFile    = "settings.toml"
	indexCacheFile  = "index.toml"

	// ProjectConfigFile is the project config file name inside a project
	// directory.
	ProjectConfigFile = "msde-project.yaml"
	composeProject    = "msde"
)

// Config is the resolved configuration the CLI hands to NewService.
type Config struct {
	Home              string
	ProjectDir        string
	RegistryEndpoint  string
	AuthEndpoint      string
	LocalAuth         bool
	UpstreamVersion   string
	Token             string
	CompatibilityFile string
	IndexTTL          time.Duration
	RegistryTimeout   int
	Retry             retry.Policy
	SessionMargin     time.Duration
	HealthTimeout     time.Duration
	HealthInterval    time.Duration
	Metrics           ports.MetricsPort
}

type Service struct {
	Sessions      *core.SessionManager
	Identity      ports.IdentityPort
	Registry      ports.RegistryPort
	Compatibility ports.CompatibilityPort
	Installer     *core.Installer
	Resolver      core.ResolverCore
	Migrator      *core.Migrator
	ProjectStore  ports.ProjectConfigStorePort
	Settings      ports.SettingsStorePort
	Graph         core.ServiceGraph
	Probe         ports.HealthProbePort
	RuntimeFor    func(projectDir string, cfg types.ProjectConfig, env []string) ports.ContainerRuntimePort
	HooksFor      func(projectDir string) ports.HookRunnerPort

	ProjectOverride string
	UpstreamVersion string
	Retry           retry.Policy
	Orchestration   core.OrchestratorConfig
	Metrics         ports.MetricsPort
}

func NewService(cfg Config) (Service, error) {
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	policy := cfg.Retry.Normalize()

	authEndpoint := cfg.AuthEndpoint
	authority := types.AuthorityRemote
	if cfg.LocalAuth {
		authority = types.AuthorityLocal
		if authEndpoint == "" {
			authEndpoint = adapters.DefaultLocalAuthEndpoint
		}
	}
	issuer := adapters.NewSessionIssuerHTTPAdapter(authEndpoint, authority)
	sessions := core.NewSessionManager(issuer, adapters.NewSessionFileAdapter(filepath.Join(cfg.Home, credentialsFile)), core.SessionConfig{
		Margin:        cfg.SessionMargin,
		TokenOverride: cfg.Token,
		Retry:         policy,
		Metrics:       metrics,
	})

	registry := adapters.NewRegistryHTTPAdapter(cfg.RegistryEndpoint, sessions, cfg.RegistryTimeout)
	var compatibility ports.CompatibilityPort
	if cfg.CompatibilityFile != "" {
		compatibility = adapters.NewCompatibilityFileAdapter(cfg.CompatibilityFile)
	} else {
		cache := adapters.NewMatrixCacheFileAdapter(filepath.Join(cfg.Home, indexCacheFile))
		compatibility = adapters.NewCachedCompatibility(registry, cache, cfg.IndexTTL)
	}

	graph, err := core.NewServiceGraph(types.DefaultServices())
	if err != nil {
		return Service{}, err
	}
	projectStore := adapters.NewProjectConfigFileAdapter()

	return Service{
		Sessions:      sessions,
		Identity:      issuer,
		Registry:      registry,
		Compatibility: compatibility,
		Installer: core.NewInstaller(registry, adapters.NewStateFileAdapter(filepath.Join(cfg.Home, stateFile)), core.InstallerConfig{
			Home:    cfg.Home,
			Retry:   policy,
			Metrics: metrics,
		}),
		Resolver:     core.NewResolverCore(),
		Migrator:     core.NewMigrator(projectStore),
		ProjectStore: projectStore,
		Settings:     adapters.NewSettingsFileAdapter(filepath.Join(cfg.Home, settingsFile)),
		Graph:        graph,
		Probe:        adapters.NewHTTPHealthProbe(),
		RuntimeFor: func(projectDir string, project types.ProjectConfig, env []string) ports.ContainerRuntimePort {
			runtime := adapters.NewComposeRuntimeAdapter(projectDir, project.ComposeFiles, composeProject)
			runtime.Env = env
			return runtime
		},
		HooksFor: func(projectDir string) ports.HookRunnerPort {
			return adapters.NewHookRunnerAdapter(projectDir)
		},
		ProjectOverride: cfg.ProjectDir,
		UpstreamVersion: cfg.UpstreamVersion,
		Retry:           policy,
		Orchestration: core.OrchestratorConfig{
			HealthTimeout:  cfg.HealthTimeout,
			HealthInterval: cfg.HealthInterval,
			Metrics:        metrics,
		},
		Metrics: metrics,
	}, nil
}

// registryCall retries a registry metadata call with the service policy.
func registryCall[T any](ctx context.Context, s Service, op string, fn func(context.Context) (T, error)) (T, error) {
	metrics := s.Metrics
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	policy := s.Retry.WithNotify(func(op string, _ int, _ error, _ time.Duration) {
		metrics.Retry(op)
	})
	return retry.DoValue(ctx, policy, op, fn)
}
