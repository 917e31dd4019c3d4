package ports

import (
	"context"

	"github.com/Ptrskay3/msde-cli/internal/types"
)

// CompatibilityPort supplies the compatibility matrix the resolver works
// from.
type CompatibilityPort interface {
	Matrix(ctx context.Context) (types.CompatibilityMatrix, error)
}

// MatrixCachePort persists a fetched matrix with an expiry.
type MatrixCachePort interface {
	Load() (types.CachedMatrix, bool, error)
	Save(cached types.CachedMatrix) error
}
