package adapters

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"github.com/Ptrskay3/msde-cli/internal/ports"
	"github.com/Ptrskay3/msde-cli/internal/types"
)

const hookRunnerEnv = "MSDE_CLI_RUNNER=true"

// HookRunnerAdapter runs project script hooks in order. Relative working
// directories resolve against BaseDir.
type HookRunnerAdapter struct {
	BaseDir string
	Stdout  io.Writer
	Stderr  io.Writer
}

func NewHookRunnerAdapter(baseDir string) HookRunnerAdapter {
	return HookRunnerAdapter{BaseDir: baseDir, Stdout: os.Stdout, Stderr: os.Stderr}
}

func (a HookRunnerAdapter) Run(ctx context.Context, hooks []types.ScriptHook) error {
	for _, hook := range hooks {
		if err := a.runOne(ctx, hook); err != nil {
			return err
		}
	}
	return nil
}

func (a HookRunnerAdapter) runOne(ctx context.Context, hook types.ScriptHook) error {
	cmd := exec.CommandContext(ctx, hook.Cmd, hook.Args...)
	cmd.Dir = a.workingDir(hook.WorkingDirectory)
	cmd.Env = append(cmd.Environ(), hookEnv(hook.EnvOverrides)...)
	cmd.Stdin = nil
	if !hook.HideOutput {
		cmd.Stdout = a.Stdout
		cmd.Stderr = a.Stderr
	}
	logger := log.Ctx(ctx).With().Str("hook", hook.Cmd).Logger()
	logger.Debug().Strs("args", hook.Args).Str("dir", cmd.Dir).Msg("running hook")

	if err := cmd.Start(); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg(fmt.Sprintf("failed to spawn custom script (command was `%s`)", hook.Cmd)).
			WithCause(err)
	}
	err := cmd.Wait()
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && hook.ContinueOnFailure {
		logger.Warn().Int("exit_code", exitErr.ExitCode()).Msg("hook failed; continuing")
		return nil
	}
	return errbuilder.New().
		WithCode(errbuilder.CodeFailedPrecondition).
		WithMsg(fmt.Sprintf("custom hook script `%s` failed", hook.Cmd)).
		WithCause(err)
}

func (a HookRunnerAdapter) workingDir(dir string) string {
	if dir == "" {
		return a.BaseDir
	}
	if filepath.IsAbs(dir) || a.BaseDir == "" {
		return dir
	}
	return filepath.Join(a.BaseDir, dir)
}

// hookEnv orders overrides by key. The runner marker comes last and wins
// over any override of the same name.
func hookEnv(overrides map[string]string) []string {
	keys := make([]string, 0, len(overrides))
	for key := range overrides {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(keys)+1)
	for _, key := range keys {
		env = append(env, key+"="+overrides[key])
	}
	return append(env, hookRunnerEnv)
}

var _ ports.HookRunnerPort = HookRunnerAdapter{}
