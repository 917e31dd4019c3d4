package adapters

import (
	"context"
	"errors"
	"os"

	"github.com/ZanzyTHEbar/errbuilder-go"
	toml "github.com/pelletier/go-toml/v2"

	"github.com/Ptrskay3/msde-cli/internal/ports"
	"github.com/Ptrskay3/msde-cli/internal/types"
)

type SettingsFileAdapter struct {
	Path string
}

func NewSettingsFileAdapter(path string) SettingsFileAdapter {
	return SettingsFileAdapter{Path: path}
}

func (a SettingsFileAdapter) Load(_ context.Context) (types.Settings, error) {
	data, err := os.ReadFile(a.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return types.Settings{}, nil
		}
		return types.Settings{}, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to read settings").
			WithCause(err)
	}
	var settings types.Settings
	if err := toml.Unmarshal(data, &settings); err != nil {
		return types.Settings{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("invalid settings file").
			WithCause(err)
	}
	return settings, nil
}

func (a SettingsFileAdapter) Save(_ context.Context, settings types.Settings) error {
	data, err := toml.Marshal(settings)
	if err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to encode settings").
			WithCause(err)
	}
	if err := writeFileAtomic(a.Path, data, publicFileMode, publicDirMode); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to write settings").
			WithCause(err)
	}
	return nil
}

var _ ports.SettingsStorePort = SettingsFileAdapter{}
