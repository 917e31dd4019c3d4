package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Ptrskay3/msde-cli/internal/ports"
	"github.com/Ptrskay3/msde-cli/internal/shared"
	"github.com/Ptrskay3/msde-cli/internal/types"
)

const (
	DefaultLocalAuthEndpoint = "http://127.0.0.1:8765"
	defaultIssuerTimeout     = 30 * time.Second
)

// SessionIssuerHTTPAdapter speaks the session protocol against a remote
// authority or the local development issuer.
type SessionIssuerHTTPAdapter struct {
	Endpoint string
	Kind     types.Authority
	Timeout  time.Duration
	Client   *http.Client
}

// SessionPayload is the wire form of a session shared with the local
// issuer.
type SessionPayload struct {
	Token     string    `json:"token"`
	Identity  string    `json:"identity"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type issueRequest struct {
	Identity string `json:"identity"`
	Secret   string `json:"secret"`
}

type whoamiResponse struct {
	Identity string `json:"identity"`
}

func NewSessionIssuerHTTPAdapter(endpoint string, kind types.Authority) SessionIssuerHTTPAdapter {
	if kind == "" {
		kind = types.AuthorityRemote
	}
	return SessionIssuerHTTPAdapter{
		Endpoint: endpoint,
		Kind:     kind,
		Timeout:  defaultIssuerTimeout,
	}
}

func (a SessionIssuerHTTPAdapter) Authority() types.Authority {
	return a.Kind
}

func (a SessionIssuerHTTPAdapter) Issue(ctx context.Context, credential types.Credential) (types.Session, error) {
	body, err := json.Marshal(issueRequest{Identity: credential.Identity, Secret: credential.Secret})
	if err != nil {
		return types.Session{}, a.failure(types.AuthInvalidCredential, credential.Identity, err)
	}
	var payload SessionPayload
	if err := a.do(ctx, http.MethodPost, "/v1/sessions", "", body, &payload, credential.Identity); err != nil {
		return types.Session{}, err
	}
	return a.session(payload, credential.Identity), nil
}

func (a SessionIssuerHTTPAdapter) Refresh(ctx context.Context, session types.Session) (types.Session, error) {
	var payload SessionPayload
	if err := a.do(ctx, http.MethodPost, "/v1/sessions/refresh", session.Token, nil, &payload, session.Identity); err != nil {
		return types.Session{}, err
	}
	return a.session(payload, session.Identity), nil
}

func (a SessionIssuerHTTPAdapter) Whoami(ctx context.Context, token string) (string, error) {
	var payload whoamiResponse
	if err := a.do(ctx, http.MethodGet, "/v1/whoami", token, nil, &payload, ""); err != nil {
		return "", err
	}
	return payload.Identity, nil
}

func (a SessionIssuerHTTPAdapter) session(payload SessionPayload, identity string) types.Session {
	if payload.Identity != "" {
		identity = payload.Identity
	}
	return types.Session{
		Token:     payload.Token,
		Authority: a.Kind,
		Identity:  identity,
		IssuedAt:  payload.IssuedAt.UTC(),
		ExpiresAt: payload.ExpiresAt.UTC(),
	}
}

// do sends one request and decodes a JSON response into out. Errors are
// always *types.AuthFailure.
func (a SessionIssuerHTTPAdapter) do(ctx context.Context, method string, path string, token string, body []byte, out any, identity string) error {
	endpoint := strings.TrimRight(strings.TrimSpace(a.Endpoint), "/")
	if endpoint == "" {
		return a.failure(types.AuthNetworkUnavailable, identity, errors.New("auth endpoint is empty"))
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint+path, reader)
	if err != nil {
		return a.failure(types.AuthNetworkUnavailable, identity, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := a.client().Do(req)
	if err != nil {
		return a.failure(types.AuthNetworkUnavailable, identity, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message, _ := io.ReadAll(io.LimitReader(resp.Body, maxChecksumBytes))
		statusErr := shared.HTTPStatusErrorWithBody(resp.StatusCode, endpoint+path, string(message))
		reason := types.AuthNetworkUnavailable
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusBadRequest {
			reason = types.AuthInvalidCredential
		}
		return a.failure(reason, identity, statusErr)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return a.failure(types.AuthNetworkUnavailable, identity, fmt.Errorf("decode auth response: %w", err))
	}
	return nil
}

func (a SessionIssuerHTTPAdapter) failure(reason types.AuthReason, identity string, err error) error {
	return &types.AuthFailure{
		Reason:    reason,
		Authority: a.Kind,
		Identity:  identity,
		Err:       err,
	}
}

func (a SessionIssuerHTTPAdapter) client() *http.Client {
	if a.Client != nil {
		return a.Client
	}
	timeout := a.Timeout
	if timeout <= 0 {
		timeout = defaultIssuerTimeout
	}
	return &http.Client{Timeout: timeout}
}

var (
	_ ports.SessionIssuerPort = SessionIssuerHTTPAdapter{}
	_ ports.IdentityPort      = SessionIssuerHTTPAdapter{}
)
