package ports

import (
	"context"

	"github.com/Ptrskay3/msde-cli/internal/types"
)

// SessionIssuerPort talks to a session authority. Remote and local
// authorities implement the same contract.
type SessionIssuerPort interface {
	Issue(ctx context.Context, credential types.Credential) (types.Session, error)
	Refresh(ctx context.Context, session types.Session) (types.Session, error)
	Authority() types.Authority
}

// SessionStorePort persists the credential record.
type SessionStorePort interface {
	Load(ctx context.Context) (types.StoredCredentials, error)
	Save(ctx context.Context, stored types.StoredCredentials) error
	Clear(ctx context.Context) error
}

// IdentityPort asks an authority who a token belongs to.
type IdentityPort interface {
	Whoami(ctx context.Context, token string) (string, error)
}
