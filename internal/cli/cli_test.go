package cli

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ptrskay3/msde-cli/internal/types"
)

// ---------- Command tree tests ----------

func TestRootCommandHasSubcommands(t *testing.T) {
	root := newRootCommand()
	names := make([]string, 0, len(root.Commands()))
	for _, cmd := range root.Commands() {
		names = append(names, cmd.Name())
	}
	expected := []string{
		"login", "logout", "whoami", "versions", "plan", "install",
		"upgrade", "verify", "upgrade-project", "set-project",
		"up", "down", "restart", "status", "local-auth",
	}
	for _, name := range expected {
		assert.Contains(t, names, name, "missing subcommand: %s", name)
	}
}

func TestRootCommandVersion(t *testing.T) {
	root := newRootCommand()
	assert.Equal(t, "dev", root.Version)
}

func TestRootPersistentFlags(t *testing.T) {
	root := newRootCommand()
	for _, name := range []string{"config", "log-level", "home", "project-dir", "local-auth"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(name), "missing flag: %s", name)
	}
}

func TestPackageCommandFlags(t *testing.T) {
	for _, cmd := range []*cobra.Command{newPlanCommand(), newInstallCommand(), newUpgradeCommand()} {
		assert.NotNil(t, cmd.Flags().Lookup("version"), "%s: missing --version", cmd.Name())
		assert.NotNil(t, cmd.Flags().Lookup("allow-downgrade"), "%s: missing --allow-downgrade", cmd.Name())
	}
	assert.NotNil(t, newPlanCommand().Flags().Lookup("latest"))
}

func TestLifecycleCommandFlags(t *testing.T) {
	assert.NotNil(t, newUpCommand().Flags().Lookup("skip-hooks"))
	assert.NotNil(t, newRestartCommand().Flags().Lookup("skip-hooks"))
	assert.Nil(t, newDownCommand().Flags().Lookup("skip-hooks"))
}

func TestLocalAuthServeFlags(t *testing.T) {
	cmd := newLocalAuthServeCommand()
	for _, name := range []string{"addr", "key", "lifetime"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), "missing flag: %s", name)
	}
	assert.Equal(t, "127.0.0.1:8765", cmd.Flags().Lookup("addr").DefValue)
}

// ---------- Helper function tests ----------

func TestResolveString(t *testing.T) {
	tests := []struct {
		name     string
		cmd      *cobra.Command
		value    string
		expected string
	}{
		{
			name:     "nil cmd with value returns value",
			cmd:      nil,
			value:    "explicit",
			expected: "explicit",
		},
		{
			name:     "nil cmd empty value returns empty",
			cmd:      nil,
			value:    "",
			expected: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolveString(tt.cmd, tt.value, "test_key", "test-flag")
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestResolveBool(t *testing.T) {
	assert.True(t, resolveBool(nil, true, "test_key", "test-flag"))
	assert.False(t, resolveBool(nil, false, "test_key", "test-flag"))
}

func TestFlagChanged(t *testing.T) {
	assert.False(t, flagChanged(nil, "anything"), "nil cmd should return false")
	assert.False(t, flagChanged(nil, ""), "nil cmd with empty name")

	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("myflag", "", "test flag")
	assert.False(t, flagChanged(cmd, "myflag"), "unchanged flag")
	assert.False(t, flagChanged(cmd, "nonexistent"), "nonexistent flag")

	require.NoError(t, cmd.Flags().Set("myflag", "val"))
	assert.True(t, flagChanged(cmd, "myflag"))
}

func TestParsePackages(t *testing.T) {
	pkgs, err := parsePackages([]string{"msde", " bot "})
	require.NoError(t, err)
	assert.Equal(t, []types.PackageID{types.PackageMSDE, types.PackageBot}, pkgs)

	_, err = parsePackages([]string{"nginx"})
	require.Error(t, err)
	assert.Equal(t, errbuilder.CodeInvalidArgument, errbuilder.CodeOf(err))
	assert.Contains(t, err.Error(), "compiler, msde, bot, web3")
}

func TestParseServices(t *testing.T) {
	assert.Nil(t, parseServices(nil))
	assert.Equal(t, []types.ServiceName{types.ServiceMSDE, types.ServiceWeb3Producer}, parseServices([]string{"msde", "web3-producer"}))
}

func TestPrintPlan(t *testing.T) {
	from := "1.0.0"
	var out bytes.Buffer
	printPlan(&out, types.InstallPlan{
		Primary: types.PackageMSDE,
		Target:  "1.1.0",
		Steps: []types.PlanStep{
			{Package: types.PackageCompiler, To: "1.0.0"},
			{Package: types.PackageMSDE, From: &from, To: "1.1.0", After: []types.PackageID{types.PackageCompiler}},
		},
	})
	assert.Equal(t, "target msde 1.1.0\n  compiler: none -> 1.0.0\n  msde: 1.0.0 -> 1.1.0 (after compiler)\n", out.String())

	out.Reset()
	printPlan(&out, types.InstallPlan{Primary: types.PackageMSDE, Target: "1.1.0"})
	assert.Equal(t, "msde 1.1.0: nothing to do\n", out.String())
}

func TestPrintReport(t *testing.T) {
	var out bytes.Buffer
	printReport(&out, types.OrchestrationReport{States: map[types.ServiceName]types.ServiceState{
		types.ServiceMSDE:     types.ServiceHealthy,
		types.ServiceCompiler: types.ServiceStopped,
	}})
	assert.Equal(t, "compiler       stopped\nmsde           healthy\n", out.String())
}

// ---------- Config tests ----------

func TestInitConfigEnvironmentOverrides(t *testing.T) {
	t.Cleanup(viper.Reset)
	t.Chdir(t.TempDir())
	t.Setenv("MSDE_AUTH_ENDPOINT", "http://auth.test")
	t.Setenv("MSDE_RETRY_ATTEMPTS", "7")
	t.Setenv("MERIGO_DEV_PACKAGE_DIR", "/srv/project")

	require.NoError(t, initConfig(""))
	assert.Equal(t, "http://auth.test", viper.GetString("auth_endpoint"))
	assert.Equal(t, 7, viper.GetInt("retry.attempts"))
	assert.Equal(t, "/srv/project", viper.GetString("project_dir"))
	assert.Equal(t, "12h0m0s", viper.GetDuration("index_ttl").String())
}

func TestInitConfigFile(t *testing.T) {
	t.Cleanup(viper.Reset)
	path := filepath.Join(t.TempDir(), "msde-cli.yaml")
	require.NoError(t, os.WriteFile(path, []byte("registry_endpoint: https://registry.test\nhealth:\n  timeout: 2m\n"), 0o644))

	require.NoError(t, initConfig(path))
	assert.Equal(t, "https://registry.test", viper.GetString("registry_endpoint"))
	assert.Equal(t, "2m0s", viper.GetDuration("health.timeout").String())

	err := initConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Equal(t, errbuilder.CodeInvalidArgument, errbuilder.CodeOf(err))
}

// ---------- Exit code tests ----------

func TestExitCodeForError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{
			name: "invalid argument",
			err: errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg("bad input"),
			expected: 2,
		},
		{
			name: "not found",
			err: errbuilder.New().
				WithCode(errbuilder.CodeNotFound).
				WithMsg("no project"),
			expected: 2,
		},
		{
			name:     "auth failure",
			err:      &types.AuthFailure{Reason: types.AuthInvalidCredential},
			expected: 3,
		},
		{
			name:     "wrapped auth failure",
			err:      fmt.Errorf("registry: %w", &types.AuthFailure{Reason: types.AuthNetworkUnavailable}),
			expected: 3,
		},
		{
			name: "permission denied",
			err: errbuilder.New().
				WithCode(errbuilder.CodePermissionDenied).
				WithMsg("nope"),
			expected: 3,
		},
		{
			name:     "resolve failure",
			err:      &types.ResolveError{Kind: types.ResolveDowngradeRefused, Package: types.PackageMSDE},
			expected: 4,
		},
		{
			name:     "install failure",
			err:      &types.InstallError{Kind: types.InstallChecksumMismatch, Package: types.PackageBot},
			expected: 5,
		},
		{
			name:     "migration failure",
			err:      &types.MigrationError{Kind: types.MigrationFutureSchema, From: 9, To: 3},
			expected: 6,
		},
		{
			name:     "orchestration failure",
			err:      &types.OrchestrationError{Kind: types.OrchestrationHealthFailed},
			expected: 7,
		},
		{
			name: "internal error",
			err: errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg("boom"),
			expected: 1,
		},
		{
			name:     "unknown error",
			err:      errors.New("unknown"),
			expected: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := exitCodeForError(tt.err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{
			name: "errbuilder with msg",
			err: errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg("something broke"),
			expected: "something broke",
		},
		{
			name:     "plain error",
			err:      assert.AnError,
			expected: assert.AnError.Error(),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := errorMessage(tt.err)
			assert.Equal(t, tt.expected, got)
		})
	}
}
