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

const credentialsFileVersion = 1

type credentialsFile struct {
	Version    int               `toml:"version"`
	Credential *types.Credential `toml:"credential,omitempty"`
	Session    *types.Session    `toml:"session,omitempty"`
}

// SessionFileAdapter keeps the credential record in a private TOML file.
type SessionFileAdapter struct {
	Path string
}

func NewSessionFileAdapter(path string) SessionFileAdapter {
	return SessionFileAdapter{Path: path}
}

func (a SessionFileAdapter) Load(ctx context.Context) (types.StoredCredentials, error) {
	if err := ctx.Err(); err != nil {
		return types.StoredCredentials{}, err
	}
	data, err := os.ReadFile(a.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return types.StoredCredentials{}, nil
		}
		return types.StoredCredentials{}, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to read credentials file").
			WithCause(err)
	}
	var file credentialsFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return types.StoredCredentials{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("invalid credentials file %s", a.Path)).
			WithCause(err)
	}
	if file.Version > credentialsFileVersion {
		return types.StoredCredentials{}, errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg(fmt.Sprintf("credentials file version %d is newer than supported (%d); upgrade msde-cli", file.Version, credentialsFileVersion))
	}
	return types.StoredCredentials{Credential: file.Credential, Session: file.Session}, nil
}

func (a SessionFileAdapter) Save(_ context.Context, stored types.StoredCredentials) error {
	data, err := toml.Marshal(credentialsFile{
		Version:    credentialsFileVersion,
		Credential: stored.Credential,
		Session:    stored.Session,
	})
	if err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to encode credentials").
			WithCause(err)
	}
	if err := writeFileAtomic(a.Path, data, privateFileMode, privateDirMode); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to write credentials file").
			WithCause(err)
	}
	return nil
}

func (a SessionFileAdapter) Clear(_ context.Context) error {
	if err := os.Remove(a.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to remove credentials file").
			WithCause(err)
	}
	return nil
}

var _ ports.SessionStorePort = SessionFileAdapter{}
