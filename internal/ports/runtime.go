package ports

import (
	"context"

	"github.com/Ptrskay3/msde-cli/internal/types"
)

// ContainerRuntimePort is the container runtime as seen by the
// orchestrator.
type ContainerRuntimePort interface {
	Start(ctx context.Context, service types.ServiceSpec) error
	Stop(ctx context.Context, service types.ServiceSpec) error
	Status(ctx context.Context, service types.ServiceSpec) (types.RuntimeStatus, error)
}

// HealthProbePort answers whether a started service is healthy. A nil
// error with false means "not yet".
type HealthProbePort interface {
	Healthy(ctx context.Context, service types.ServiceSpec) (bool, error)
}

// HookRunnerPort runs user-configured script hooks.
type HookRunnerPort interface {
	Run(ctx context.Context, hooks []types.ScriptHook) error
}
