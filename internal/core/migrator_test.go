package core

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/Ptrskay3/msde-cli/internal/types"
)

const schemaV1Config = `# MSDE project
name: demo
project_path: /home/dev/project
games_path: /home/dev/games
editor: vim
stages:
  - name: dev
    guid: "1234"
    script: scripts/dev.ms
    custom_flag: true
  - name: staging
    tuning: tuning/staging.json
packages:
  msde: [dev, staging]
  bot: dev
telemetry:
  enabled: false
`

type memoryConfigStore struct {
	files    map[string][]byte
	writes   int
	writeErr error
}

func newMemoryConfigStore(path string, data string) *memoryConfigStore {
	return &memoryConfigStore{files: map[string][]byte{path: []byte(data)}}
}

func (s *memoryConfigStore) Read(_ context.Context, path string) (types.RawPersistedConfig, error) {
	data, ok := s.files[path]
	if !ok {
		return types.RawPersistedConfig{}, errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg(path + " not found")
	}
	return types.RawPersistedConfig{Path: path, Data: data}, nil
}

func (s *memoryConfigStore) Backup(_ context.Context, path string, data []byte, version int) (string, error) {
	name := fmt.Sprintf("%s.v%d.bak", path, version)
	s.files[name] = append([]byte(nil), data...)
	return name, nil
}

func (s *memoryConfigStore) Write(_ context.Context, path string, data []byte) error {
	if s.writeErr != nil {
		return s.writeErr
	}
	s.writes++
	s.files[path] = append([]byte(nil), data...)
	return nil
}

// ----- chain -----

func TestMigrateSchemaV1ToCurrent(t *testing.T) {
	store := newMemoryConfigStore("msde.yaml", schemaV1Config)
	result, err := NewMigrator(store).MigrateFile(t.Context(), "msde.yaml")
	require.NoError(t, err)

	assert.True(t, result.Migrated)
	assert.Equal(t, 1, result.FromVersion)
	assert.Equal(t, types.CurrentConfigSchema, result.ToVersion)
	assert.Equal(t, "msde.yaml.v1.bak", result.BackupPath)
	assert.Equal(t, schemaV1Config, string(store.files["msde.yaml.v1.bak"]))
	assert.Equal(t, result.Output, store.files["msde.yaml"])
	assert.NotEmpty(t, result.Notes)

	want := types.ProjectConfig{
		SchemaVersion: 3,
		Name:          "demo",
		Paths:         types.Paths{Project: "/home/dev/project", Games: "/home/dev/games"},
		Stages: []types.Stage{
			{Name: "dev", GUID: "1234", Script: &types.Link{Link: "scripts/dev.ms"}},
			{Name: "staging", Tuning: &types.Link{Link: "tuning/staging.json"}},
		},
		Bindings: []types.Binding{
			{Package: types.PackageMSDE, Stages: []string{"dev", "staging"}},
			{Package: types.PackageBot, Stages: []string{"dev"}},
		},
	}
	if diff := cmp.Diff(want, result.Config); diff != "" {
		t.Fatalf("unexpected config (-want +got):\n%s", diff)
	}
}

func TestMigrateKeepsUnknownFields(t *testing.T) {
	result, err := NewMigrator(nil).Migrate(t.Context(), types.RawPersistedConfig{Path: "msde.yaml", Data: []byte(schemaV1Config)})
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, yaml.Unmarshal(result.Output, &got))
	want := map[string]any{
		"schema_version": 3,
		"name":           "demo",
		"paths":          map[string]any{"project": "/home/dev/project", "games": "/home/dev/games"},
		"editor":         "vim",
		"stages": []any{
			map[string]any{"name": "dev", "guid": "1234", "script": map[string]any{"link": "scripts/dev.ms"}, "custom_flag": true},
			map[string]any{"name": "staging", "tuning": map[string]any{"link": "tuning/staging.json"}},
		},
		"bindings": []any{
			map[string]any{"package": "msde", "stages": []any{"dev", "staging"}},
			map[string]any{"package": "bot", "stages": []any{"dev"}},
		},
		"telemetry": map[string]any{"enabled": false},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected document (-want +got):\n%s", diff)
	}
	assert.Contains(t, string(result.Output), "# MSDE project")
}

func TestMigrateIsDeterministicAndIdempotent(t *testing.T) {
	migrator := NewMigrator(nil)
	raw := types.RawPersistedConfig{Path: "msde.yaml", Data: []byte(schemaV1Config)}

	first, err := migrator.Migrate(t.Context(), raw)
	require.NoError(t, err)
	second, err := migrator.Migrate(t.Context(), raw)
	require.NoError(t, err)
	assert.Equal(t, string(first.Output), string(second.Output))

	again, err := migrator.Migrate(t.Context(), types.RawPersistedConfig{Path: "msde.yaml", Data: first.Output})
	require.NoError(t, err)
	assert.False(t, again.Migrated)
	assert.Equal(t, string(first.Output), string(again.Output))
	if diff := cmp.Diff(first.Config, again.Config); diff != "" {
		t.Fatalf("config changed on re-run (-want +got):\n%s", diff)
	}
}

func TestMigrateCurrentSchemaDoesNotRewrite(t *testing.T) {
	data := "schema_version: 3\nname: demo\npaths:\n  project: /p\nfuture_field: 1\n"
	store := newMemoryConfigStore("msde.yaml", data)
	result, err := NewMigrator(store).MigrateFile(t.Context(), "msde.yaml")
	require.NoError(t, err)
	assert.False(t, result.Migrated)
	assert.Equal(t, 0, store.writes)
	assert.Equal(t, "/p", result.Config.Paths.Project)
	assert.Len(t, store.files, 1, "no backup for an untouched file")
}

func TestMigrateSchemaV2MergesIntoExistingPaths(t *testing.T) {
	data := "schema_version: 1\nname: demo\npaths:\n  games: /g\nproject_path: /p\n"
	result, err := NewMigrator(nil).Migrate(t.Context(), types.RawPersistedConfig{Path: "msde.yaml", Data: []byte(data)})
	require.NoError(t, err)
	assert.Equal(t, types.Paths{Project: "/p", Games: "/g"}, result.Config.Paths)
	assert.Empty(t, result.Notes)
}

func TestMigrateKeepsConflictingFlatPaths(t *testing.T) {
	data := "schema_version: 1\nname: demo\npaths:\n  project: /new\n  games: /g\nproject_path: /old\ngames_path: /g\n"
	result, err := NewMigrator(nil).Migrate(t.Context(), types.RawPersistedConfig{Path: "msde.yaml", Data: []byte(data)})
	require.NoError(t, err)
	assert.Equal(t, types.Paths{Project: "/new", Games: "/g"}, result.Config.Paths)
	require.Len(t, result.Notes, 1)
	assert.Contains(t, result.Notes[0], `project_path "/old" was kept`)

	var migrated map[string]any
	require.NoError(t, yaml.Unmarshal(result.Output, &migrated))
	assert.Equal(t, "/old", migrated["project_path"])
	assert.NotContains(t, migrated, "games_path", "an identical flat value is folded away")
}

func TestMigrateAppendsPackagesToExistingBindings(t *testing.T) {
	data := `schema_version: 2
name: demo
paths:
  project: /p
stages:
  - name: dev
  - name: staging
bindings:
  - package: compiler
    stages: [dev]
packages:
  msde: [dev, staging]
`
	result, err := NewMigrator(nil).Migrate(t.Context(), types.RawPersistedConfig{Path: "msde.yaml", Data: []byte(data)})
	require.NoError(t, err)
	want := []types.Binding{
		{Package: types.PackageCompiler, Stages: []string{"dev"}},
		{Package: types.PackageMSDE, Stages: []string{"dev", "staging"}},
	}
	if diff := cmp.Diff(want, result.Config.Bindings); diff != "" {
		t.Fatalf("bindings mismatch (-want +got):\n%s", diff)
	}
	assert.Contains(t, result.Notes, "packages were appended to the existing bindings list; check it for duplicates")

	var migrated map[string]any
	require.NoError(t, yaml.Unmarshal(result.Output, &migrated))
	assert.NotContains(t, migrated, "packages")
}

// ----- failures -----

func TestMigrateFutureSchemaIsDistinctFromParseFailure(t *testing.T) {
	store := newMemoryConfigStore("msde.yaml", "schema_version: 9\nname: demo\n")
	_, err := NewMigrator(store).MigrateFile(t.Context(), "msde.yaml")
	var migrationErr *types.MigrationError
	require.True(t, errors.As(err, &migrationErr))
	assert.Equal(t, types.MigrationFutureSchema, migrationErr.Kind)
	assert.Equal(t, 9, migrationErr.From)
	assert.Contains(t, err.Error(), "upgrade msde-cli")
	assert.Equal(t, 0, store.writes)

	_, err = NewMigrator(nil).Migrate(t.Context(), types.RawPersistedConfig{Path: "msde.yaml", Data: []byte("name: [unclosed")})
	require.True(t, errors.As(err, &migrationErr))
	assert.Equal(t, types.MigrationParseFailure, migrationErr.Kind)
}

func TestMigrateRejectsNonMappingDocument(t *testing.T) {
	_, err := NewMigrator(nil).Migrate(t.Context(), types.RawPersistedConfig{Path: "msde.yaml", Data: []byte("- a\n- b\n")})
	var migrationErr *types.MigrationError
	require.True(t, errors.As(err, &migrationErr))
	assert.Equal(t, types.MigrationParseFailure, migrationErr.Kind)
}

func TestMigrateStepFailureNamesVersions(t *testing.T) {
	data := "name: demo\nstages: not-a-list\n"
	_, err := NewMigrator(nil).Migrate(t.Context(), types.RawPersistedConfig{Path: "msde.yaml", Data: []byte(data)})
	var migrationErr *types.MigrationError
	require.True(t, errors.As(err, &migrationErr))
	assert.Equal(t, types.MigrationStepFailure, migrationErr.Kind)
	assert.Equal(t, 2, migrationErr.From)
	assert.Equal(t, 3, migrationErr.To)
}

func TestMigrateWriteFailurePointsAtBackup(t *testing.T) {
	store := newMemoryConfigStore("msde.yaml", schemaV1Config)
	store.writeErr = errors.New("read-only file system")
	_, err := NewMigrator(store).MigrateFile(t.Context(), "msde.yaml")
	var migrationErr *types.MigrationError
	require.True(t, errors.As(err, &migrationErr))
	assert.Equal(t, types.MigrationWriteFailure, migrationErr.Kind)
	assert.Equal(t, "msde.yaml.v1.bak", migrationErr.BackupPath)
	assert.Contains(t, err.Error(), "previous file preserved at msde.yaml.v1.bak")
	assert.Equal(t, schemaV1Config, string(store.files["msde.yaml"]))
}

func TestMigrateRejectsMalformedEntries(t *testing.T) {
	cases := map[string]string{
		"unknown package":  "schema_version: 3\nstages:\n  - name: dev\nbindings:\n  - package: nope\n    stages: [dev]\n",
		"unknown stage":    "schema_version: 3\nstages:\n  - name: dev\nbindings:\n  - package: msde\n    stages: [prod]\n",
		"duplicate stage":  "schema_version: 3\nstages:\n  - name: dev\n  - name: dev\n",
		"hook without cmd": "schema_version: 3\nhooks:\n  pre_run:\n    - args: [x]\n",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewMigrator(nil).Migrate(t.Context(), types.RawPersistedConfig{Path: "msde.yaml", Data: []byte(data)})
			var migrationErr *types.MigrationError
			require.True(t, errors.As(err, &migrationErr))
			assert.Equal(t, types.MigrationParseFailure, migrationErr.Kind)
		})
	}
}
