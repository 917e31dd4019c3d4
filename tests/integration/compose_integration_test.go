package integration

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ptrskay3/msde-cli/internal/adapters"
	"github.com/Ptrskay3/msde-cli/internal/app"
	"github.com/Ptrskay3/msde-cli/internal/ports"
	"github.com/Ptrskay3/msde-cli/internal/types"
	"github.com/Ptrskay3/msde-cli/tests/testutil"
)

// fakeDocker mimics the parts of `docker compose` the runtime adapter uses.
// A service counts as running while a marker file named after it exists; the
// marker holds the msde version the runtime was given.
const fakeDocker = `#!/bin/sh
for last; do :; done
echo "$*" >> "$FAKE_COMPOSE_DIR/calls"
case " $* " in
  *" up "*)
    if [ "$last" = "$FAKE_COMPOSE_FAIL" ]; then
      echo "pull access denied for $last" >&2
      exit 1
    fi
    echo "$MSDE_MSDE_VERSION" > "$FAKE_COMPOSE_DIR/$last" ;;
  *" stop "*) rm -f "$FAKE_COMPOSE_DIR/$last" ;;
  *" ps "*)
    if [ -f "$FAKE_COMPOSE_DIR/$last" ]; then
      printf '{"Service":"%s","State":"running","Status":"Up 1 second (healthy)"}\n' "$last"
    fi ;;
esac
`

const composeProject = `schema_version: 3
name: integration
paths:
  project: .
compose_files: [docker-compose.yml, docker-compose.dev.yml]
hooks:
  pre_run:
    - cmd: sh
      args: ["-c", "echo pre $MSDE_CLI_RUNNER $STAGE >> hooks.log"]
      env_overrides:
        STAGE: dev
  post_run:
    - cmd: sh
      args: ["-c", "echo post >> hooks.log"]
`

func newComposeService(t *testing.T, failOn types.ServiceName) (app.Service, string, string) {
	t.Helper()
	root := t.TempDir()
	projectDir := filepath.Join(root, "project")
	fakeDir := filepath.Join(root, "compose")
	require.NoError(t, os.MkdirAll(fakeDir, 0o755))
	testutil.WriteFile(t, projectDir, app.ProjectConfigFile, []byte(composeProject))
	binary := filepath.Join(root, "docker")
	require.NoError(t, os.WriteFile(binary, []byte(fakeDocker), 0o755))

	home := filepath.Join(root, "home")
	installed := types.NewInstalledState()
	for _, pkg := range types.KnownPackages {
		installed.Packages[pkg] = types.InstalledPackage{Package: pkg, Version: "2.1.0", Scheme: types.VersionSchemeSemver}
	}
	require.NoError(t, adapters.NewStateFileAdapter(filepath.Join(home, "state.toml")).Save(t.Context(), installed))

	service, err := app.NewService(app.Config{
		Home:           home,
		ProjectDir:     projectDir,
		HealthTimeout:  5 * time.Second,
		HealthInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	service.RuntimeFor = func(dir string, project types.ProjectConfig, env []string) ports.ContainerRuntimePort {
		runtime := adapters.NewComposeRuntimeAdapter(dir, project.ComposeFiles, "msde")
		runtime.Binary = binary
		runtime.Env = append(env, "FAKE_COMPOSE_DIR="+fakeDir, "FAKE_COMPOSE_FAIL="+string(failOn))
		return runtime
	}
	return service, projectDir, fakeDir
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestComposeLifecycle(t *testing.T) {
	service, projectDir, fakeDir := newComposeService(t, "")
	ctx := t.Context()

	report, err := service.Up(ctx, app.EnvironmentRequest{Services: []types.ServiceName{types.ServiceBot}})
	require.NoError(t, err)
	want := map[types.ServiceName]types.ServiceState{
		types.ServiceCompiler: types.ServiceHealthy,
		types.ServiceMSDE:     types.ServiceHealthy,
		types.ServiceBot:      types.ServiceHealthy,
	}
	if diff := cmp.Diff(want, report.States); diff != "" {
		t.Fatalf("unexpected up report (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"pre true dev", "post"}, readLines(t, filepath.Join(projectDir, "hooks.log"))); diff != "" {
		t.Fatalf("unexpected hook output (-want +got):\n%s", diff)
	}

	var starts []string
	for _, call := range readLines(t, filepath.Join(fakeDir, "calls")) {
		if strings.Contains(call, " up -d ") {
			require.True(t, strings.HasPrefix(call, "compose -f docker-compose.yml -f docker-compose.dev.yml -p msde "), call)
			starts = append(starts, call[strings.LastIndex(call, " ")+1:])
		}
	}
	assert.Equal(t, []string{"compiler", "msde", "bot"}, starts)
	assert.Equal(t, []string{"2.1.0"}, readLines(t, filepath.Join(fakeDir, "bot")), "installed versions reach compose")

	status, err := service.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.ServiceHealthy, status.States[types.ServiceBot])
	assert.Equal(t, types.ServiceStopped, status.States[types.ServiceWeb3Producer])

	_, err = service.Down(ctx, app.EnvironmentRequest{Services: []types.ServiceName{types.ServiceMSDE}})
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(fakeDir, "msde"))
	assert.NoFileExists(t, filepath.Join(fakeDir, "bot"))
	assert.FileExists(t, filepath.Join(fakeDir, "compiler"))
}

func TestComposeStartFailureWithholdsDependents(t *testing.T) {
	service, projectDir, fakeDir := newComposeService(t, types.ServiceMSDE)

	report, err := service.Up(t.Context(), app.EnvironmentRequest{})
	var orchestrationErr *types.OrchestrationError
	require.ErrorAs(t, err, &orchestrationErr)
	assert.Equal(t, types.OrchestrationStartFailed, orchestrationErr.Kind)

	assert.Equal(t, types.ServiceHealthy, report.States[types.ServiceCompiler])
	assert.Equal(t, types.ServiceFailed, report.States[types.ServiceMSDE])
	for _, name := range []types.ServiceName{types.ServiceBot, types.ServiceWeb3Producer, types.ServiceWeb3Consumer} {
		assert.Equal(t, types.ServiceStopped, report.States[name], name)
		assert.NoFileExists(t, filepath.Join(fakeDir, string(name)))
	}
	assert.Equal(t, []string{"pre true dev"}, readLines(t, filepath.Join(projectDir, "hooks.log")), "post_run is skipped")
}
