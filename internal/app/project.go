package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"github.com/Ptrskay3/msde-cli/internal/core"
	"github.com/Ptrskay3/msde-cli/internal/types"
)

// ProjectDir picks the project directory: explicit override first, then
// the persisted selection, then the working directory.
func (s Service) ProjectDir(ctx context.Context) (string, error) {
	if dir := strings.TrimSpace(s.ProjectOverride); dir != "" {
		return filepath.Abs(dir)
	}
	if s.Settings != nil {
		settings, err := s.Settings.Load(ctx)
		if err != nil {
			return "", err
		}
		if settings.ProjectDir != "" {
			return settings.ProjectDir, nil
		}
	}
	return os.Getwd()
}

// projectConfigPath reports the project config path and whether the file
// exists.
func (s Service) projectConfigPath(ctx context.Context) (string, bool, error) {
	dir, err := s.ProjectDir(ctx)
	if err != nil {
		return "", false, err
	}
	path := filepath.Join(dir, ProjectConfigFile)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return path, false, nil
		}
		return "", false, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to stat project config").
			WithCause(err)
	}
	return path, true, nil
}

// loadProject returns the typed project config without rewriting it. An
// outdated file is migrated in memory and the user is told to upgrade it.
func (s Service) loadProject(ctx context.Context) (string, types.ProjectConfig, error) {
	path, ok, err := s.projectConfigPath(ctx)
	if err != nil {
		return "", types.ProjectConfig{}, err
	}
	if !ok {
		return "", types.ProjectConfig{}, errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg(fmt.Sprintf("no %s found; run `msde-cli set-project` or pass --project-dir", path))
	}
	raw, err := s.ProjectStore.Read(ctx, path)
	if err != nil {
		return "", types.ProjectConfig{}, err
	}
	result, err := core.NewMigrator(nil).Migrate(ctx, raw)
	if err != nil {
		return "", types.ProjectConfig{}, err
	}
	if result.Migrated {
		log.Ctx(ctx).Warn().
			Str("path", path).
			Int("schema_version", result.FromVersion).
			Msg("project config uses an old schema; run `msde-cli upgrade-project` to rewrite it")
	}
	return filepath.Dir(path), result.Config, nil
}

// UpgradeProject migrates the selected project's config on disk.
func (s Service) UpgradeProject(ctx context.Context) (UpgradeProjectResult, error) {
	path, ok, err := s.projectConfigPath(ctx)
	if err != nil {
		return UpgradeProjectResult{}, err
	}
	if !ok {
		return UpgradeProjectResult{}, errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg(fmt.Sprintf("no %s found", path))
	}
	migration, err := s.Migrator.MigrateFile(ctx, path)
	if err != nil {
		return UpgradeProjectResult{}, err
	}
	return UpgradeProjectResult{Path: path, Migration: migration}, nil
}

// SetProject persists dir as the selected project directory.
func (s Service) SetProject(ctx context.Context, dir string) (string, error) {
	if strings.TrimSpace(dir) == "" {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("project directory is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("invalid project directory").
			WithCause(err)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("%s is not a directory", abs))
	}
	if _, err := os.Stat(filepath.Join(abs, ProjectConfigFile)); err != nil {
		log.Ctx(ctx).Warn().Str("project_dir", abs).Msgf("%s not found in project directory", ProjectConfigFile)
	}
	settings, err := s.Settings.Load(ctx)
	if err != nil {
		return "", err
	}
	settings.ProjectDir = abs
	if err := s.Settings.Save(ctx, settings); err != nil {
		return "", err
	}
	return abs, nil
}
