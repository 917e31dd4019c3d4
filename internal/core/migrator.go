package core

import (
	"bytes"
	"context"
	"fmt"
	"strconv"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/Ptrskay3/msde-cli/internal/ports"
	"github.com/Ptrskay3/msde-cli/internal/types"
)

const schemaVersionKey = "schema_version"

// migrationStep rewrites a document of schema from into schema from+1 in
// place. It may return notes for changes the user has to review by hand.
type migrationStep struct {
	from  int
	apply func(root *yaml.Node) ([]string, error)
}

// Migrator upgrades project config files to CurrentConfigSchema. Fields it
// does not know about are carried through untouched.
type Migrator struct {
	store ports.ProjectConfigStorePort
	steps map[int]migrationStep
}

func NewMigrator(store ports.ProjectConfigStorePort) *Migrator {
	steps := map[int]migrationStep{}
	for _, step := range []migrationStep{
		{from: 1, apply: migrateV1ToV2},
		{from: 2, apply: migrateV2ToV3},
	} {
		steps[step.from] = step
	}
	return &Migrator{store: store, steps: steps}
}

// MigrateFile reads path through the store and migrates it.
func (m *Migrator) MigrateFile(ctx context.Context, path string) (types.MigrationResult, error) {
	raw, err := m.store.Read(ctx, path)
	if err != nil {
		return types.MigrationResult{}, err
	}
	return m.Migrate(ctx, raw)
}

// Migrate brings raw to the current schema. A file already at the current
// schema is parsed and returned without being rewritten. Otherwise the
// original bytes are backed up before the migrated document is written.
func (m *Migrator) Migrate(ctx context.Context, raw types.RawPersistedConfig) (types.MigrationResult, error) {
	logger := log.Ctx(ctx)
	doc, root, err := parseConfigDocument(raw)
	if err != nil {
		return types.MigrationResult{}, err
	}
	from, err := schemaVersionOf(root)
	if err != nil {
		return types.MigrationResult{}, &types.MigrationError{Kind: types.MigrationParseFailure, Path: raw.Path, Err: err}
	}
	if from > types.CurrentConfigSchema {
		return types.MigrationResult{}, &types.MigrationError{
			Kind: types.MigrationFutureSchema,
			Path: raw.Path,
			From: from,
			To:   types.CurrentConfigSchema,
		}
	}

	result := types.MigrationResult{FromVersion: from, ToVersion: types.CurrentConfigSchema}
	if from == types.CurrentConfigSchema {
		cfg, err := decodeProjectConfig(raw.Path, root)
		if err != nil {
			return types.MigrationResult{}, err
		}
		result.Config = cfg
		result.Output = raw.Data
		return result, nil
	}

	for version := from; version < types.CurrentConfigSchema; version++ {
		step, ok := m.steps[version]
		if !ok {
			return types.MigrationResult{}, &types.MigrationError{
				Kind: types.MigrationStepFailure,
				Path: raw.Path,
				From: version,
				To:   version + 1,
				Err:  fmt.Errorf("no migration from schema %d", version),
			}
		}
		notes, err := step.apply(root)
		if err != nil {
			return types.MigrationResult{}, &types.MigrationError{
				Kind: types.MigrationStepFailure,
				Path: raw.Path,
				From: version,
				To:   version + 1,
				Err:  err,
			}
		}
		result.Notes = append(result.Notes, notes...)
		logger.Debug().Str("path", raw.Path).Int("from", version).Int("to", version+1).Msg("applied config migration")
	}
	setMappingValue(root, schemaVersionKey, intNode(types.CurrentConfigSchema), true)

	cfg, err := decodeProjectConfig(raw.Path, root)
	if err != nil {
		return types.MigrationResult{}, err
	}
	output, err := encodeConfigDocument(doc)
	if err != nil {
		return types.MigrationResult{}, &types.MigrationError{Kind: types.MigrationWriteFailure, Path: raw.Path, Err: err}
	}
	result.Config = cfg
	result.Output = output
	result.Migrated = true

	if m.store == nil {
		return result, nil
	}
	ctx = context.WithoutCancel(ctx)
	backup, err := m.store.Backup(ctx, raw.Path, raw.Data, from)
	if err != nil {
		return types.MigrationResult{}, &types.MigrationError{Kind: types.MigrationWriteFailure, Path: raw.Path, From: from, To: types.CurrentConfigSchema, Err: err}
	}
	result.BackupPath = backup
	if err := m.store.Write(ctx, raw.Path, output); err != nil {
		return types.MigrationResult{}, &types.MigrationError{
			Kind:       types.MigrationWriteFailure,
			Path:       raw.Path,
			From:       from,
			To:         types.CurrentConfigSchema,
			BackupPath: backup,
			Err:        err,
		}
	}
	logger.Info().Str("path", raw.Path).Int("from", from).Str("backup", backup).Msg("project config migrated")
	return result, nil
}

func parseConfigDocument(raw types.RawPersistedConfig) (*yaml.Node, *yaml.Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(raw.Data, &doc); err != nil {
		return nil, nil, &types.MigrationError{Kind: types.MigrationParseFailure, Path: raw.Path, Err: err}
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, nil, &types.MigrationError{
			Kind: types.MigrationParseFailure,
			Path: raw.Path,
			Err:  fmt.Errorf("expected a mapping at the top level"),
		}
	}
	return &doc, doc.Content[0], nil
}

func encodeConfigDocument(doc *yaml.Node) ([]byte, error) {
	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(doc); err != nil {
		return nil, err
	}
	if err := encoder.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// schemaVersionOf returns the schema tag of root. Files written before the
// tag existed are schema 1.
func schemaVersionOf(root *yaml.Node) (int, error) {
	node := mappingValue(root, schemaVersionKey)
	if node == nil {
		return 1, nil
	}
	var version int
	if err := node.Decode(&version); err != nil {
		return 0, fmt.Errorf("schema_version %q is not an integer", node.Value)
	}
	if version < 1 {
		return 0, fmt.Errorf("schema_version %d is not valid", version)
	}
	return version, nil
}

func decodeProjectConfig(path string, root *yaml.Node) (types.ProjectConfig, error) {
	var cfg types.ProjectConfig
	if err := root.Decode(&cfg); err != nil {
		return types.ProjectConfig{}, &types.MigrationError{Kind: types.MigrationParseFailure, Path: path, Err: err}
	}
	if err := ValidateProjectConfig(cfg); err != nil {
		return types.ProjectConfig{}, &types.MigrationError{Kind: types.MigrationParseFailure, Path: path, Err: err}
	}
	return cfg, nil
}

// ValidateProjectConfig rejects structurally broken entries of a
// current-schema config.
func ValidateProjectConfig(cfg types.ProjectConfig) error {
	seen := map[string]bool{}
	for idx, stage := range cfg.Stages {
		if stage.Name == "" {
			return invalidConfig(fmt.Sprintf("stages[%d]: name is required", idx))
		}
		if seen[stage.Name] {
			return invalidConfig(fmt.Sprintf("stages[%d]: duplicate stage %q", idx, stage.Name))
		}
		seen[stage.Name] = true
		if stage.Script != nil && stage.Script.Link == "" {
			return invalidConfig(fmt.Sprintf("stage %q: script link is empty", stage.Name))
		}
		if stage.Tuning != nil && stage.Tuning.Link == "" {
			return invalidConfig(fmt.Sprintf("stage %q: tuning link is empty", stage.Name))
		}
	}
	for idx, binding := range cfg.Bindings {
		if !binding.Package.Valid() {
			return invalidConfig(fmt.Sprintf("bindings[%d]: unknown package %q", idx, binding.Package))
		}
		for _, stage := range binding.Stages {
			if !seen[stage] {
				return invalidConfig(fmt.Sprintf("bindings[%d]: unknown stage %q", idx, stage))
			}
		}
	}
	for idx, hook := range append(append([]types.ScriptHook{}, cfg.Hooks.PreRun...), cfg.Hooks.PostRun...) {
		if hook.Cmd == "" {
			return invalidConfig(fmt.Sprintf("hooks[%d]: cmd is required", idx))
		}
	}
	return nil
}

func invalidConfig(msg string) error {
	return errbuilder.New().
		WithCode(errbuilder.CodeInvalidArgument).
		WithMsg(msg)
}

// ----- schema steps -----

// migrateV1ToV2 moves the flat project_path/games_path keys under paths.
func migrateV1ToV2(root *yaml.Node) ([]string, error) {
	paths := mappingValue(root, "paths")
	if paths == nil {
		paths = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	} else if paths.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("paths must be a mapping")
	}
	var notes []string
	moved := false
	for _, pair := range [][2]string{{"project_path", "project"}, {"games_path", "games"}} {
		value := mappingValue(root, pair[0])
		if value == nil {
			continue
		}
		if value.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("%s must be a string", pair[0])
		}
		existing := mappingValue(paths, pair[1])
		if existing != nil && existing.Value != value.Value {
			// Both are set and disagree: leave the flat key in place.
			notes = append(notes, fmt.Sprintf("%s %q was kept because paths.%s is already %q; remove the stale one",
				pair[0], value.Value, pair[1], existing.Value))
			continue
		}
		if existing == nil {
			setMappingValue(paths, pair[1], value, false)
		}
		if !moved {
			// paths takes the position of the first key it replaces.
			replaceMappingKey(root, pair[0], "paths", paths)
			moved = true
			continue
		}
		deleteMappingKey(root, pair[0])
	}
	if !moved && mappingValue(root, "paths") == nil {
		setMappingValue(root, "paths", paths, false)
	}
	if mappingValue(paths, "project") == nil {
		notes = append(notes, "no project path is configured; run msde-cli set-project")
	}
	return notes, nil
}

// migrateV2ToV3 turns stage script/tuning strings into link objects and the
// packages map into a bindings list.
func migrateV2ToV3(root *yaml.Node) ([]string, error) {
	var notes []string
	if stages := mappingValue(root, "stages"); stages != nil {
		if stages.Kind != yaml.SequenceNode {
			return nil, fmt.Errorf("stages must be a list")
		}
		for idx, stage := range stages.Content {
			if stage.Kind != yaml.MappingNode {
				return nil, fmt.Errorf("stages[%d] must be a mapping", idx)
			}
			for _, key := range []string{"script", "tuning"} {
				value := mappingValue(stage, key)
				if value == nil || value.Kind != yaml.ScalarNode {
					continue
				}
				link := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
				setMappingValue(link, "link", value, false)
				setMappingValue(stage, key, link, false)
			}
		}
		if len(stages.Content) > 0 {
			notes = append(notes, "stage script and tuning files are now referenced as links; check that the linked files still exist")
		}
	}

	packages := mappingValue(root, "packages")
	if packages == nil {
		return notes, nil
	}
	if packages.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("packages must be a mapping")
	}
	bindings := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	for idx := 0; idx+1 < len(packages.Content); idx += 2 {
		name, value := packages.Content[idx], packages.Content[idx+1]
		stageList := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		switch value.Kind {
		case yaml.ScalarNode:
			stageList.Content = append(stageList.Content, value)
		case yaml.SequenceNode:
			stageList.Content = value.Content
		default:
			return nil, fmt.Errorf("packages.%s must be a stage name or a list of stage names", name.Value)
		}
		binding := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		setMappingValue(binding, "package", name, false)
		setMappingValue(binding, "stages", stageList, false)
		bindings.Content = append(bindings.Content, binding)
	}
	if existing := mappingValue(root, "bindings"); existing != nil {
		if existing.Kind != yaml.SequenceNode {
			return nil, fmt.Errorf("bindings must be a list")
		}
		existing.Content = append(existing.Content, bindings.Content...)
		deleteMappingKey(root, "packages")
		notes = append(notes, "packages were appended to the existing bindings list; check it for duplicates")
		return notes, nil
	}
	replaceMappingKey(root, "packages", "bindings", bindings)
	return notes, nil
}

// ----- yaml.Node helpers -----

func mappingIndex(m *yaml.Node, key string) int {
	for idx := 0; idx+1 < len(m.Content); idx += 2 {
		if m.Content[idx].Value == key {
			return idx
		}
	}
	return -1
}

func mappingValue(m *yaml.Node, key string) *yaml.Node {
	if idx := mappingIndex(m, key); idx >= 0 {
		return m.Content[idx+1]
	}
	return nil
}

// setMappingValue replaces the value of key, or adds key at the end (or
// the front when first is set).
func setMappingValue(m *yaml.Node, key string, value *yaml.Node, first bool) {
	if idx := mappingIndex(m, key); idx >= 0 {
		m.Content[idx+1] = value
		return
	}
	pair := []*yaml.Node{stringNode(key), value}
	if first {
		m.Content = append(pair, m.Content...)
		return
	}
	m.Content = append(m.Content, pair...)
}

// replaceMappingKey drops any other entry named newKey, so value must
// already carry its content.
func replaceMappingKey(m *yaml.Node, oldKey string, newKey string, value *yaml.Node) {
	idx := mappingIndex(m, oldKey)
	if idx < 0 {
		setMappingValue(m, newKey, value, false)
		return
	}
	if existing := mappingIndex(m, newKey); existing >= 0 && existing != idx {
		m.Content = append(m.Content[:existing], m.Content[existing+2:]...)
		idx = mappingIndex(m, oldKey)
	}
	keyNode := stringNode(newKey)
	keyNode.HeadComment = m.Content[idx].HeadComment
	m.Content[idx] = keyNode
	m.Content[idx+1] = value
}

func deleteMappingKey(m *yaml.Node, key string) {
	if idx := mappingIndex(m, key); idx >= 0 {
		m.Content = append(m.Content[:idx], m.Content[idx+2:]...)
	}
}

func stringNode(value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value}
}

func intNode(value int) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.Itoa(value)}
}
