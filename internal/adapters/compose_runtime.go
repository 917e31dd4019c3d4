package adapters

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"github.com/Ptrskay3/msde-cli/internal/ports"
	"github.com/Ptrskay3/msde-cli/internal/shared"
	"github.com/Ptrskay3/msde-cli/internal/types"
)

// CommandRunner runs name with args in dir and returns stdout, or the
// combined output folded into the error on failure.
type CommandRunner func(ctx context.Context, dir string, env []string, name string, args ...string) ([]byte, error)

// ComposeRuntimeAdapter drives services through `docker compose`. Each
// ServiceSpec name is a compose service name.
type ComposeRuntimeAdapter struct {
	Binary       string
	ComposeFiles []string
	ProjectName  string
	Dir          string
	Env          []string
	Run          CommandRunner
}

type composeContainer struct {
	Service string `json:"Service"`
	Name    string `json:"Name"`
	State   string `json:"State"`
	Health  string `json:"Health"`
	Status  string `json:"Status"`
}

func NewComposeRuntimeAdapter(dir string, composeFiles []string, projectName string) ComposeRuntimeAdapter {
	return ComposeRuntimeAdapter{
		Binary:       "docker",
		ComposeFiles: composeFiles,
		ProjectName:  projectName,
		Dir:          dir,
		Run:          execCommand,
	}
}

func (a ComposeRuntimeAdapter) Start(ctx context.Context, service types.ServiceSpec) error {
	_, err := a.compose(ctx, "up", "-d", "--no-deps", string(service.Name))
	return err
}

func (a ComposeRuntimeAdapter) Stop(ctx context.Context, service types.ServiceSpec) error {
	_, err := a.compose(ctx, "stop", string(service.Name))
	return err
}

func (a ComposeRuntimeAdapter) Status(ctx context.Context, service types.ServiceSpec) (types.RuntimeStatus, error) {
	output, err := a.compose(ctx, "ps", "--all", "--format", "json", string(service.Name))
	if err != nil {
		return types.RuntimeStatus{}, err
	}
	containers, err := parseComposePS(output)
	if err != nil {
		return types.RuntimeStatus{}, err
	}
	for _, container := range containers {
		if container.Service != "" && container.Service != string(service.Name) {
			continue
		}
		return types.RuntimeStatus{
			Exists:  true,
			Running: strings.EqualFold(container.State, "running"),
			Health:  containerHealth(container),
		}, nil
	}
	return types.RuntimeStatus{}, nil
}

func (a ComposeRuntimeAdapter) compose(ctx context.Context, args ...string) ([]byte, error) {
	full := append([]string{"compose"}, a.composeFileArgs()...)
	full = append(full, args...)
	log.Ctx(ctx).Debug().Strs("args", full).Msg("running compose")
	run := a.Run
	if run == nil {
		run = execCommand
	}
	binary := a.Binary
	if binary == "" {
		binary = "docker"
	}
	output, err := run(ctx, a.Dir, a.Env, binary, full...)
	if err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("compose command failed").
			WithCause(err)
	}
	return output, nil
}

func (a ComposeRuntimeAdapter) composeFileArgs() []string {
	var args []string
	for _, file := range a.ComposeFiles {
		args = append(args, "-f", file)
	}
	if a.ProjectName != "" {
		args = append(args, "-p", a.ProjectName)
	}
	return args
}

// parseComposePS accepts both output shapes of `compose ps --format json`:
// a single JSON array or one object per line.
func parseComposePS(output []byte) ([]composeContainer, error) {
	trimmed := bytes.TrimSpace(output)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var containers []composeContainer
		if err := json.Unmarshal(trimmed, &containers); err != nil {
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg("invalid compose ps output").
				WithCause(err)
		}
		return containers, nil
	}
	var containers []composeContainer
	scanner := bufio.NewScanner(bytes.NewReader(trimmed))
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var container composeContainer
		if err := json.Unmarshal(line, &container); err != nil {
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg("invalid compose ps output").
				WithCause(err)
		}
		containers = append(containers, container)
	}
	return containers, nil
}

// containerHealth prefers the Health field and falls back to the
// "(healthy)" suffix older compose versions put in Status.
func containerHealth(container composeContainer) string {
	if container.Health != "" {
		return strings.ToLower(container.Health)
	}
	status := strings.ToLower(container.Status)
	switch {
	case strings.Contains(status, "(healthy)"):
		return "healthy"
	case strings.Contains(status, "(unhealthy)"):
		return "unhealthy"
	case strings.Contains(status, "(health: starting)"):
		return "starting"
	}
	return ""
}

func execCommand(ctx context.Context, dir string, env []string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	if len(env) > 0 {
		cmd.Env = append(cmd.Environ(), env...)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		return nil, shared.CommandError(append(output, stderr.Bytes()...), err)
	}
	return output, nil
}

var _ ports.ContainerRuntimePort = ComposeRuntimeAdapter{}
