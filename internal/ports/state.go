package ports

import (
	"context"

	"github.com/Ptrskay3/msde-cli/internal/types"
)

// StateStorePort persists InstalledState. Save must replace the file
// atomically.
type StateStorePort interface {
	Load(ctx context.Context) (types.InstalledState, error)
	Save(ctx context.Context, state types.InstalledState) error
}

// ProjectConfigStorePort reads and writes the project config file.
type ProjectConfigStorePort interface {
	Read(ctx context.Context, path string) (types.RawPersistedConfig, error)
	// Backup copies data next to path under a name derived from version and
	// returns the backup path.
	Backup(ctx context.Context, path string, data []byte, version int) (string, error)
	Write(ctx context.Context, path string, data []byte) error
}

// SettingsStorePort persists user settings such as the selected project.
type SettingsStorePort interface {
	Load(ctx context.Context) (types.Settings, error)
	Save(ctx context.Context, settings types.Settings) error
}
