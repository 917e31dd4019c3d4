package adapters

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ptrskay3/msde-cli/internal/types"
)

const matrixYAML = `
primary: msde
packages:
  msde:
    versions: ["4.1.0", "4.2.0"]
  web3:
    scheme: pep440
    versions: ["0.9", "1.0"]
entries:
  "4.2.0":
    compiler: ">=1.4,<2"
    web3: "~=1.0"
`

func testMatrix() types.CompatibilityMatrix {
	return types.CompatibilityMatrix{
		Primary: types.PackageMSDE,
		Packages: map[types.PackageID]types.PackageCatalog{
			types.PackageMSDE: {Versions: []string{"4.1.0", "4.2.0"}},
			types.PackageWeb3: {Scheme: types.VersionSchemePEP440, Versions: []string{"0.9", "1.0"}},
		},
		Entries: map[string]map[types.PackageID]string{
			"4.2.0": {types.PackageCompiler: ">=1.4,<2", types.PackageWeb3: "~=1.0"},
		},
	}
}

func TestCompatibilityFileAdapter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "compat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(matrixYAML), 0o644))
	adapter := NewCompatibilityFileAdapter(path)

	matrix, err := adapter.Matrix(t.Context())
	require.NoError(t, err)
	if diff := cmp.Diff(testMatrix(), matrix); diff != "" {
		t.Fatalf("matrix mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, types.VersionSchemePEP440, matrix.SchemeOf(types.PackageWeb3))

	require.NoError(t, os.Remove(path))
	_, err = adapter.Matrix(t.Context())
	require.NoError(t, err, "matrix is cached after the first read")
}

func TestCompatibilityFileAdapterErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := NewCompatibilityFileAdapter(filepath.Join(dir, "missing.yaml")).Matrix(t.Context())
	require.Error(t, err)
	assert.Equal(t, errbuilder.CodeNotFound, errbuilder.CodeOf(err))

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("entries: [1, 2"), 0o644))
	_, err = NewCompatibilityFileAdapter(bad).Matrix(t.Context())
	require.Error(t, err)
	assert.Equal(t, errbuilder.CodeInvalidArgument, errbuilder.CodeOf(err))
}

type stubCompatibility struct {
	matrix types.CompatibilityMatrix
	err    error
	calls  int
}

func (s *stubCompatibility) Matrix(context.Context) (types.CompatibilityMatrix, error) {
	s.calls++
	return s.matrix, s.err
}

func TestCachedCompatibility(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	newCached := func(t *testing.T, upstream *stubCompatibility) (CachedCompatibility, MatrixCacheFileAdapter) {
		cache := NewMatrixCacheFileAdapter(filepath.Join(t.TempDir(), "index.toml"))
		cached := NewCachedCompatibility(upstream, cache, time.Hour)
		cached.Now = func() time.Time { return now }
		return cached, cache
	}

	t.Run("fresh cache skips upstream", func(t *testing.T) {
		upstream := &stubCompatibility{matrix: testMatrix()}
		cached, cache := newCached(t, upstream)
		require.NoError(t, cache.Save(types.CachedMatrix{ValidUntil: now.Add(time.Minute), Matrix: testMatrix()}))

		matrix, err := cached.Matrix(t.Context())
		require.NoError(t, err)
		assert.Equal(t, 0, upstream.calls)
		if diff := cmp.Diff(testMatrix(), matrix); diff != "" {
			t.Fatalf("matrix mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("miss fetches and stores", func(t *testing.T) {
		upstream := &stubCompatibility{matrix: testMatrix()}
		cached, cache := newCached(t, upstream)

		_, err := cached.Matrix(t.Context())
		require.NoError(t, err)
		assert.Equal(t, 1, upstream.calls)

		stored, ok, err := cache.Load()
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, stored.ValidUntil.Equal(now.Add(time.Hour)))
	})

	t.Run("expired cache is refreshed", func(t *testing.T) {
		upstream := &stubCompatibility{matrix: testMatrix()}
		cached, cache := newCached(t, upstream)
		require.NoError(t, cache.Save(types.CachedMatrix{ValidUntil: now.Add(-time.Minute)}))

		matrix, err := cached.Matrix(t.Context())
		require.NoError(t, err)
		assert.Equal(t, 1, upstream.calls)
		assert.Contains(t, matrix.Entries, "4.2.0")
	})

	t.Run("stale cache serves when upstream fails", func(t *testing.T) {
		upstream := &stubCompatibility{err: errors.New("connection refused")}
		cached, cache := newCached(t, upstream)
		require.NoError(t, cache.Save(types.CachedMatrix{ValidUntil: now.Add(-time.Hour), Matrix: testMatrix()}))

		matrix, err := cached.Matrix(t.Context())
		require.NoError(t, err)
		assert.Contains(t, matrix.Entries, "4.2.0")
	})

	t.Run("no cache and failing upstream", func(t *testing.T) {
		upstream := &stubCompatibility{err: errors.New("connection refused")}
		cached, _ := newCached(t, upstream)

		_, err := cached.Matrix(t.Context())
		require.Error(t, err)
	})
}
