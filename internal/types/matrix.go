package types

import "time"

type PackageCatalog struct {
	Scheme   VersionScheme `yaml:"scheme,omitempty" json:"scheme,omitempty" toml:"scheme,omitempty"`
	Versions []string      `yaml:"versions" json:"versions" toml:"versions"`
}

// CompatibilityMatrix maps each released version of the primary package to
// the version ranges its dependent packages must satisfy.
type CompatibilityMatrix struct {
	Primary  PackageID                       `yaml:"primary" json:"primary" toml:"primary"`
	Packages map[PackageID]PackageCatalog    `yaml:"packages" json:"packages" toml:"packages"`
	Entries  map[string]map[PackageID]string `yaml:"entries" json:"entries" toml:"entries"`
}

func (m CompatibilityMatrix) SchemeOf(pkg PackageID) VersionScheme {
	if catalog, ok := m.Packages[pkg]; ok && catalog.Scheme != "" {
		return catalog.Scheme
	}
	return VersionSchemeSemver
}

// CachedMatrix is the on-disk form of a registry-fetched matrix.
type CachedMatrix struct {
	ValidUntil time.Time           `toml:"valid_until"`
	Matrix     CompatibilityMatrix `toml:"matrix"`
}
