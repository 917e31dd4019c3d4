package adapters

import (
	"context"
	"os"
	"sync"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"gopkg.in/yaml.v3"

	"github.com/Ptrskay3/msde-cli/internal/ports"
	"github.com/Ptrskay3/msde-cli/internal/types"
)

// CompatibilityFileAdapter serves a compatibility matrix from a local YAML
// file. The file is read once.
type CompatibilityFileAdapter struct {
	Path   string
	mu     sync.Mutex
	cached types.CompatibilityMatrix
	loaded bool
}

func NewCompatibilityFileAdapter(path string) *CompatibilityFileAdapter {
	return &CompatibilityFileAdapter{Path: path}
}

func (a *CompatibilityFileAdapter) Matrix(ctx context.Context) (types.CompatibilityMatrix, error) {
	if err := ctx.Err(); err != nil {
		return types.CompatibilityMatrix{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.loaded {
		return a.cached, nil
	}
	data, err := os.ReadFile(a.Path)
	if err != nil {
		return types.CompatibilityMatrix{}, errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg("compatibility matrix file not found").
			WithCause(err)
	}
	matrix, err := decodeMatrix(data)
	if err != nil {
		return types.CompatibilityMatrix{}, err
	}
	a.cached = matrix
	a.loaded = true
	return matrix, nil
}

// decodeMatrix parses YAML (and therefore JSON) matrix documents.
func decodeMatrix(data []byte) (types.CompatibilityMatrix, error) {
	var matrix types.CompatibilityMatrix
	if err := yaml.Unmarshal(data, &matrix); err != nil {
		return types.CompatibilityMatrix{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("invalid compatibility matrix format").
			WithCause(err)
	}
	return normalizeMatrix(matrix), nil
}

func normalizeMatrix(matrix types.CompatibilityMatrix) types.CompatibilityMatrix {
	if matrix.Primary == "" {
		matrix.Primary = types.PrimaryPackage
	}
	if matrix.Packages == nil {
		matrix.Packages = map[types.PackageID]types.PackageCatalog{}
	}
	if matrix.Entries == nil {
		matrix.Entries = map[string]map[types.PackageID]string{}
	}
	return matrix
}

var _ ports.CompatibilityPort = (*CompatibilityFileAdapter)(nil)
