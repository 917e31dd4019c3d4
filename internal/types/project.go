package types

// CurrentConfigSchema is the project config schema this build writes.
const CurrentConfigSchema = 3

type Paths struct {
	Project string `yaml:"project"`
	Games   string `yaml:"games,omitempty"`
}

type Link struct {
	Link string `yaml:"link"`
}

type Stage struct {
	Name          string `yaml:"name"`
	GUID          string `yaml:"guid,omitempty"`
	SUID          string `yaml:"suid,omitempty"`
	Launch        string `yaml:"launch,omitempty"`
	Script        *Link  `yaml:"script,omitempty"`
	Tuning        *Link  `yaml:"tuning,omitempty"`
	MacrosEnabled bool   `yaml:"macros_enabled,omitempty"`
	EVMListener   bool   `yaml:"evm_listener,omitempty"`
}

type Binding struct {
	Package PackageID `yaml:"package"`
	Stages  []string  `yaml:"stages"`
}

type ScriptHook struct {
	Cmd               string            `yaml:"cmd"`
	Args              []string          `yaml:"args,omitempty"`
	WorkingDirectory  string            `yaml:"working_directory,omitempty"`
	EnvOverrides      map[string]string `yaml:"env_overrides,omitempty"`
	HideOutput        bool              `yaml:"hide_output,omitempty"`
	ContinueOnFailure bool              `yaml:"continue_on_failure,omitempty"`
}

type Hooks struct {
	PreRun  []ScriptHook `yaml:"pre_run,omitempty"`
	PostRun []ScriptHook `yaml:"post_run,omitempty"`
}

// ProjectConfig is the typed view of a current-schema project file. The
// raw document is kept by the migrator so unknown fields survive rewrites.
type ProjectConfig struct {
	SchemaVersion int       `yaml:"schema_version"`
	Name          string    `yaml:"name"`
	Paths         Paths     `yaml:"paths"`
	Stages        []Stage   `yaml:"stages,omitempty"`
	Bindings      []Binding `yaml:"bindings,omitempty"`
	Hooks         Hooks     `yaml:"hooks,omitempty"`
	ComposeFiles  []string  `yaml:"compose_files,omitempty"`
}

type RawPersistedConfig struct {
	Path string
	Data []byte
}

type MigrationResult struct {
	Config      ProjectConfig
	FromVersion int
	ToVersion   int
	Migrated    bool
	BackupPath  string
	Output      []byte
	Notes       []string
}
