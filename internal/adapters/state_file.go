package adapters

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ZanzyTHEbar/errbuilder-go"
	toml "github.com/pelletier/go-toml/v2"

	"github.com/Ptrskay3/msde-cli/internal/ports"
	"github.com/Ptrskay3/msde-cli/internal/types"
)

// StateFileAdapter persists InstalledState as TOML.
type StateFileAdapter struct {
	Path string
}

func NewStateFileAdapter(path string) StateFileAdapter {
	return StateFileAdapter{Path: path}
}

func (a StateFileAdapter) Load(ctx context.Context) (types.InstalledState, error) {
	if err := ctx.Err(); err != nil {
		return types.InstalledState{}, err
	}
	data, err := os.ReadFile(a.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return types.NewInstalledState(), nil
		}
		return types.InstalledState{}, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to read installed state").
			WithCause(err)
	}
	var state types.InstalledState
	if err := toml.Unmarshal(data, &state); err != nil {
		return types.InstalledState{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("invalid installed state file %s", a.Path)).
			WithCause(err)
	}
	if state.SchemaVersion > types.CurrentStateSchema {
		return types.InstalledState{}, errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg(fmt.Sprintf("installed state schema %d is newer than supported (%d); upgrade msde-cli", state.SchemaVersion, types.CurrentStateSchema))
	}
	if state.SchemaVersion == 0 {
		state.SchemaVersion = types.CurrentStateSchema
	}
	if state.Packages == nil {
		state.Packages = map[types.PackageID]types.InstalledPackage{}
	}
	for id, entry := range state.Packages {
		if !id.Valid() {
			return types.InstalledState{}, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("installed state names unknown package %s", id))
		}
		entry.Package = id
		state.Packages[id] = entry
	}
	return state, nil
}

func (a StateFileAdapter) Save(_ context.Context, state types.InstalledState) error {
	data, err := toml.Marshal(state)
	if err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to encode installed state").
			WithCause(err)
	}
	if err := writeFileAtomic(a.Path, data, publicFileMode, publicDirMode); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to write installed state").
			WithCause(err)
	}
	return nil
}

var _ ports.StateStorePort = StateFileAdapter{}
