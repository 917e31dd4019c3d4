package types

// Settings holds user choices persisted between invocations.
type Settings struct {
	ProjectDir string `toml:"project_dir,omitempty"`
}
