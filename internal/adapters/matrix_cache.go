package adapters

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"

	"github.com/Ptrskay3/msde-cli/internal/ports"
	"github.com/Ptrskay3/msde-cli/internal/types"
)

const DefaultMatrixTTL = 12 * time.Hour

// MatrixCacheFileAdapter stores the last fetched matrix as TOML.
type MatrixCacheFileAdapter struct {
	Path string
}

func NewMatrixCacheFileAdapter(path string) MatrixCacheFileAdapter {
	return MatrixCacheFileAdapter{Path: path}
}

func (a MatrixCacheFileAdapter) Load() (types.CachedMatrix, bool, error) {
	data, err := os.ReadFile(a.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return types.CachedMatrix{}, false, nil
		}
		return types.CachedMatrix{}, false, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to read matrix cache").
			WithCause(err)
	}
	var cached types.CachedMatrix
	if err := toml.Unmarshal(data, &cached); err != nil {
		return types.CachedMatrix{}, false, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("invalid matrix cache").
			WithCause(err)
	}
	cached.Matrix = normalizeMatrix(cached.Matrix)
	return cached, true, nil
}

func (a MatrixCacheFileAdapter) Save(cached types.CachedMatrix) error {
	data, err := toml.Marshal(cached)
	if err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to encode matrix cache").
			WithCause(err)
	}
	if err := writeFileAtomic(a.Path, data, publicFileMode, publicDirMode); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to write matrix cache").
			WithCause(err)
	}
	return nil
}

// CachedCompatibility fronts an upstream matrix source with a TTL cache.
// When the upstream fails, an expired cache entry is served with a
// warning rather than failing resolution.
type CachedCompatibility struct {
	Upstream ports.CompatibilityPort
	Cache    ports.MatrixCachePort
	TTL      time.Duration
	Now      func() time.Time
}

func NewCachedCompatibility(upstream ports.CompatibilityPort, cache ports.MatrixCachePort, ttl time.Duration) CachedCompatibility {
	if ttl <= 0 {
		ttl = DefaultMatrixTTL
	}
	return CachedCompatibility{Upstream: upstream, Cache: cache, TTL: ttl, Now: time.Now}
}

func (c CachedCompatibility) Matrix(ctx context.Context) (types.CompatibilityMatrix, error) {
	now := c.now()
	cached, ok, cacheErr := c.Cache.Load()
	if cacheErr != nil {
		log.Ctx(ctx).Warn().Err(cacheErr).Msg("ignoring unreadable matrix cache")
		ok = false
	}
	if ok && now.Before(cached.ValidUntil) {
		return cached.Matrix, nil
	}
	matrix, err := c.Upstream.Matrix(ctx)
	if err != nil {
		if ok && ctx.Err() == nil {
			log.Ctx(ctx).Warn().
				Err(err).
				Time("valid_until", cached.ValidUntil).
				Msg("registry unavailable; using stale compatibility matrix")
			return cached.Matrix, nil
		}
		return types.CompatibilityMatrix{}, err
	}
	if err := c.Cache.Save(types.CachedMatrix{ValidUntil: now.Add(c.TTL), Matrix: matrix}); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("failed to cache compatibility matrix")
	}
	return matrix, nil
}

func (c CachedCompatibility) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

var (
	_ ports.MatrixCachePort   = MatrixCacheFileAdapter{}
	_ ports.CompatibilityPort = CachedCompatibility{}
)
