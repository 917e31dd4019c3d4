package adapters

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"github.com/Ptrskay3/msde-cli/internal/ports"
	"github.com/Ptrskay3/msde-cli/internal/types"
)

// ProjectConfigFileAdapter reads and rewrites project config files in
// place, keeping numbered backups next to them.
type ProjectConfigFileAdapter struct{}

func NewProjectConfigFileAdapter() ProjectConfigFileAdapter {
	return ProjectConfigFileAdapter{}
}

func (ProjectConfigFileAdapter) Read(_ context.Context, path string) (types.RawPersistedConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		code := errbuilder.CodeInternal
		if errors.Is(err, os.ErrNotExist) {
			code = errbuilder.CodeNotFound
		}
		return types.RawPersistedConfig{}, errbuilder.New().
			WithCode(code).
			WithMsg(fmt.Sprintf("failed to read project config %s", path)).
			WithCause(err)
	}
	return types.RawPersistedConfig{Path: path, Data: data}, nil
}

// Backup writes data to <path>.v<version>.bak. An existing backup is never
// overwritten; a numeric suffix is added instead.
func (ProjectConfigFileAdapter) Backup(_ context.Context, path string, data []byte, version int) (string, error) {
	name := fmt.Sprintf("%s.v%d.bak", path, version)
	for n := 1; fileExists(name); n++ {
		name = fmt.Sprintf("%s.v%d.%d.bak", path, version, n)
	}
	if err := writeFileAtomic(name, data, fileModeOf(path), publicDirMode); err != nil {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to write config backup").
			WithCause(err)
	}
	return name, nil
}

func (ProjectConfigFileAdapter) Write(_ context.Context, path string, data []byte) error {
	if err := writeFileAtomic(path, data, fileModeOf(path), publicDirMode); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg(fmt.Sprintf("failed to write project config %s", path)).
			WithCause(err)
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

func fileModeOf(path string) os.FileMode {
	info, err := os.Stat(path)
	if err != nil {
		return publicFileMode
	}
	return info.Mode().Perm()
}

var _ ports.ProjectConfigStorePort = ProjectConfigFileAdapter{}
