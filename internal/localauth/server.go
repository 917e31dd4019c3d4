// Package localauth is a development-only session authority. It issues
// HS256 JWTs to any identity and answers whoami for tokens it signed.
package localauth

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	DefaultAddr     = "127.0.0.1:8765"
	DefaultLifetime = 30 * 24 * time.Hour
	accessTokenHdr  = "x-access-token"
	shutdownTimeout = 5 * time.Second
)

// defaultKey signs tokens when no key is configured. Tokens from this
// server only ever authenticate against this server.
var defaultKey = []byte("msde-local-auth-development-key")

type Config struct {
	Key      []byte
	Lifetime time.Duration
	Now      func() time.Time
}

type Server struct {
	key      []byte
	lifetime time.Duration
	now      func() time.Time
}

type claims struct {
	Name string `json:"name"`
	jwt.RegisteredClaims
}

type sessionRequest struct {
	Identity string `json:"identity" binding:"required"`
	Secret   string `json:"secret"`
}

type sessionResponse struct {
	Token     string    `json:"token"`
	Identity  string    `json:"identity"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func New(cfg Config) *Server {
	key := cfg.Key
	if len(key) == 0 {
		key = defaultKey
	}
	lifetime := cfg.Lifetime
	if lifetime <= 0 {
		lifetime = DefaultLifetime
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Server{
		key:      key,
		lifetime: lifetime,
		now:      now,
	}
}

// Router returns the gin engine serving the session protocol.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	v1 := router.Group("/v1")
	v1.POST("/sessions", s.handleIssue)
	v1.POST("/sessions/refresh", s.handleRefresh)
	v1.GET("/whoami", s.handleWhoami)
	return router
}

// Serve listens on addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg("failed to bind local auth server").
			WithCause(err)
	}
	server := &http.Server{Handler: s.Router(), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(listener)
	}()
	log.Ctx(ctx).Info().Str("addr", listener.Addr().String()).Msg("local auth server listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleIssue(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Identity) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "identity is required"})
		return
	}
	resp, err := s.sign(strings.TrimSpace(req.Identity), time.Time{})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to sign token"})
		return
	}
	log.Ctx(c.Request.Context()).Debug().Str("identity", resp.Identity).Msg("issued local session")
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleRefresh(c *gin.Context) {
	current, ok := s.authenticate(c)
	if !ok {
		return
	}
	resp, err := s.sign(current.Name, current.ExpiresAt.Time)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to sign token"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleWhoami(c *gin.Context) {
	current, ok := s.authenticate(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"identity": current.Name})
}

// sign issues a token for identity. A refreshed token always expires
// strictly after previous.
func (s *Server) sign(identity string, previous time.Time) (sessionResponse, error) {
	issuedAt := s.now().UTC().Truncate(time.Second)
	expiresAt := issuedAt.Add(s.lifetime)
	if !previous.IsZero() && !expiresAt.After(previous) {
		expiresAt = previous.Add(time.Second)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Name: identity,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString(s.key)
	if err != nil {
		return sessionResponse{}, err
	}
	return sessionResponse{
		Token:     signed,
		Identity:  identity,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	}, nil
}

func (s *Server) authenticate(c *gin.Context) (*claims, bool) {
	raw := bearerToken(c.Request)
	if raw == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return nil, false
	}
	parsed := &claims{}
	_, err := jwt.ParseWithClaims(raw, parsed, func(*jwt.Token) (any, error) {
		return s.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return nil, false
	}
	if parsed.Name == "" {
		parsed.Name = parsed.Subject
	}
	return parsed, true
}

func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.Header.Get(accessTokenHdr))
}
