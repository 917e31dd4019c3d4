package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/Ptrskay3/msde-cli/internal/ports"
	"github.com/Ptrskay3/msde-cli/internal/retry"
	"github.com/Ptrskay3/msde-cli/internal/types"
)

const (
	defaultSessionMargin = 5 * time.Minute
	// opaqueOverrideLifetime applies to override tokens without a
	// readable expiry.
	opaqueOverrideLifetime = time.Hour
)

type SessionConfig struct {
	// Margin is how long before expiry a session is renewed.
	Margin time.Duration
	// TokenOverride, when set, is used instead of the persisted session.
	TokenOverride string
	Retry         retry.Policy
	Clock         func() time.Time
	Metrics       ports.MetricsPort
}

// SessionManager owns the session. Callers only ever receive copies.
type SessionManager struct {
	issuer   ports.SessionIssuerPort
	store    ports.SessionStorePort
	margin   time.Duration
	override string
	policy   retry.Policy
	clock    func() time.Time
	metrics  ports.MetricsPort

	mu     sync.Mutex
	loaded bool
	stored types.StoredCredentials
	flight singleflight.Group
}

func NewSessionManager(issuer ports.SessionIssuerPort, store ports.SessionStorePort, cfg SessionConfig) *SessionManager {
	if cfg.Margin <= 0 {
		cfg.Margin = defaultSessionMargin
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Metrics == nil {
		cfg.Metrics = ports.NopMetrics{}
	}
	return &SessionManager{
		issuer:   issuer,
		store:    store,
		margin:   cfg.Margin,
		override: strings.TrimSpace(cfg.TokenOverride),
		policy:   retryWithMetrics(cfg.Retry, cfg.Metrics),
		clock:    cfg.Clock,
		metrics:  cfg.Metrics,
	}
}

// load reads the credential store at most once per manager.
func (m *SessionManager) load(ctx context.Context) (types.StoredCredentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loaded {
		return m.stored, nil
	}
	stored, err := m.store.Load(ctx)
	if err != nil {
		return types.StoredCredentials{}, err
	}
	m.stored = stored
	m.loaded = true
	return stored, nil
}

func (m *SessionManager) replace(stored types.StoredCredentials) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stored = stored
	m.loaded = true
}

// Current returns a snapshot of the session without renewing it.
func (m *SessionManager) Current(ctx context.Context) (types.Session, bool, error) {
	if m.override != "" {
		session, err := m.overrideSession()
		return session, err == nil, err
	}
	stored, err := m.load(ctx)
	if err != nil {
		return types.Session{}, false, err
	}
	if stored.Session == nil {
		return types.Session{}, false, nil
	}
	return *stored.Session, true, nil
}

// EnsureValidSession returns a session that is not expired at return time,
// renewing it first when it is missing or inside the safety margin.
// Concurrent callers share a single renewal.
func (m *SessionManager) EnsureValidSession(ctx context.Context) (types.Session, error) {
	if m.override != "" {
		return m.overrideSession()
	}
	stored, err := m.load(ctx)
	if err != nil {
		return types.Session{}, err
	}
	if stored.Session != nil && !stored.Session.ExpiresWithin(m.clock(), m.margin) {
		return *stored.Session, nil
	}
	value, err, _ := m.flight.Do("session", func() (any, error) {
		return m.renew(ctx)
	})
	if err != nil {
		return types.Session{}, err
	}
	return value.(types.Session), nil
}

// BearerToken satisfies ports.TokenSource.
func (m *SessionManager) BearerToken(ctx context.Context) (string, error) {
	session, err := m.EnsureValidSession(ctx)
	if err != nil {
		return "", err
	}
	return session.Token, nil
}

func (m *SessionManager) renew(ctx context.Context) (types.Session, error) {
	logger := log.Ctx(ctx)
	m.mu.Lock()
	current := m.stored
	m.mu.Unlock()

	now := m.clock()
	if current.Session != nil && !current.Session.ExpiresWithin(now, m.margin) {
		return *current.Session, nil
	}

	if current.Session != nil && !current.Session.Expired(now) {
		previous := *current.Session
		next, err := retry.DoValue(ctx, m.policy, "session.refresh", func(ctx context.Context) (types.Session, error) {
			return m.issuer.Refresh(ctx, previous)
		})
		switch {
		case err == nil && !next.Expired(m.clock()) && next.ExpiresAt.After(previous.ExpiresAt):
			m.metrics.Session("refresh", "ok")
			logger.Debug().Str("identity", next.Identity).Time("expires_at", next.ExpiresAt).Msg("session refreshed")
			return m.persist(ctx, current.Credential, next)
		case err == nil:
			// A refresh must strictly extend the session.
			m.metrics.Session("refresh", "stale")
			logger.Debug().
				Time("previous_expires_at", previous.ExpiresAt).
				Time("expires_at", next.ExpiresAt).
				Msg("refresh did not extend the session; issuing a new session")
		default:
			m.metrics.Session("refresh", "error")
			var authErr *types.AuthFailure
			if !errors.As(err, &authErr) || authErr.Reason != types.AuthInvalidCredential {
				return types.Session{}, asAuthFailure(err, m.issuer.Authority(), previous.Identity)
			}
			logger.Debug().Err(err).Msg("refresh rejected; issuing a new session")
		}
	}

	if current.Credential == nil {
		identity := ""
		if current.Session != nil {
			identity = current.Session.Identity
		}
		return types.Session{}, &types.AuthFailure{
			Reason:    types.AuthExpiredAndUnrefreshable,
			Authority: m.issuer.Authority(),
			Identity:  identity,
			Err:       errors.New("no stored credential; run msde-cli login"),
		}
	}
	credential := *current.Credential
	next, err := m.issue(ctx, credential)
	if err != nil {
		return types.Session{}, err
	}
	return m.persist(ctx, current.Credential, next)
}

func (m *SessionManager) issue(ctx context.Context, credential types.Credential) (types.Session, error) {
	session, err := retry.DoValue(ctx, m.policy, "session.issue", func(ctx context.Context) (types.Session, error) {
		return m.issuer.Issue(ctx, credential)
	})
	if err != nil {
		m.metrics.Session("issue", "error")
		return types.Session{}, asAuthFailure(err, m.issuer.Authority(), credential.Identity)
	}
	m.metrics.Session("issue", "ok")
	if session.Expired(m.clock()) {
		return types.Session{}, &types.AuthFailure{
			Reason:    types.AuthExpiredAndUnrefreshable,
			Authority: m.issuer.Authority(),
			Identity:  credential.Identity,
			Err:       errors.New("authority issued an already expired session"),
		}
	}
	return session, nil
}

func (m *SessionManager) persist(ctx context.Context, credential *types.Credential, session types.Session) (types.Session, error) {
	stored := types.StoredCredentials{Credential: credential, Session: &session}
	if err := m.store.Save(ctx, stored); err != nil {
		return types.Session{}, err
	}
	m.replace(stored)
	return session, nil
}

// Login authenticates with credential and overwrites any stored session.
func (m *SessionManager) Login(ctx context.Context, credential types.Credential) (types.Session, error) {
	credential.Identity = strings.TrimSpace(credential.Identity)
	if credential.Identity == "" || credential.Secret == "" {
		return types.Session{}, &types.AuthFailure{
			Reason:    types.AuthInvalidCredential,
			Authority: m.issuer.Authority(),
			Err:       errors.New("identity and secret are required"),
		}
	}
	session, err := m.issue(ctx, credential)
	if err != nil {
		return types.Session{}, err
	}
	log.Ctx(ctx).Info().Str("identity", session.Identity).Str("authority", string(session.Authority)).Msg("logged in")
	return m.persist(ctx, &credential, session)
}

// Logout forgets the stored credential and session.
func (m *SessionManager) Logout(ctx context.Context) error {
	if err := m.store.Clear(ctx); err != nil {
		return err
	}
	m.replace(types.StoredCredentials{})
	return nil
}

func (m *SessionManager) overrideSession() (types.Session, error) {
	now := m.clock()
	session := types.Session{
		Token:     m.override,
		Authority: types.AuthorityOverride,
		IssuedAt:  now,
		ExpiresAt: now.Add(opaqueOverrideLifetime),
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(m.override, claims); err != nil {
		return session, nil
	}
	if name, ok := claims["name"].(string); ok {
		session.Identity = name
	} else if sub, err := claims.GetSubject(); err == nil {
		session.Identity = sub
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		session.ExpiresAt = exp.Time
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		session.IssuedAt = iat.Time
	}
	if session.Expired(now) {
		return types.Session{}, &types.AuthFailure{
			Reason:    types.AuthExpiredAndUnrefreshable,
			Authority: types.AuthorityOverride,
			Identity:  session.Identity,
			Err:       errors.New("token override has expired"),
		}
	}
	return session, nil
}

func asAuthFailure(err error, authority types.Authority, identity string) error {
	var authErr *types.AuthFailure
	if errors.As(err, &authErr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	reason := types.AuthNetworkUnavailable
	if code := errbuilder.CodeOf(err); code == errbuilder.CodeInvalidArgument || code == errbuilder.CodePermissionDenied {
		reason = types.AuthInvalidCredential
	}
	return &types.AuthFailure{Reason: reason, Authority: authority, Identity: identity, Err: err}
}
