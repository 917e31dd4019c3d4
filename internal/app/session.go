package app

import (
	"context"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"github.com/Ptrskay3/msde-cli/internal/types"
)

func (s Service) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	identity := strings.TrimSpace(req.Identity)
	if identity == "" {
		return LoginResult{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("identity is required")
	}
	session, err := s.Sessions.Login(ctx, types.Credential{Identity: identity, Secret: req.Secret})
	if err != nil {
		return LoginResult{}, err
	}
	log.Ctx(ctx).Info().
		Str("identity", session.Identity).
		Str("authority", string(session.Authority)).
		Time("expires_at", session.ExpiresAt).
		Msg("logged in")
	return LoginResult{Identity: session.Identity, Authority: session.Authority, Session: session}, nil
}

func (s Service) Logout(ctx context.Context) error {
	return s.Sessions.Logout(ctx)
}

// Whoami ensures a valid session and, when verify is set, asks the
// authority who the token belongs to.
func (s Service) Whoami(ctx context.Context, verify bool) (WhoamiResult, error) {
	session, err := s.Sessions.EnsureValidSession(ctx)
	if err != nil {
		return WhoamiResult{}, err
	}
	result := WhoamiResult{Identity: session.Identity, Authority: session.Authority}
	if !verify || s.Identity == nil {
		return result, nil
	}
	remote, err := s.Identity.Whoami(ctx, session.Token)
	if err != nil {
		return WhoamiResult{}, err
	}
	result.Remote = remote
	return result, nil
}
