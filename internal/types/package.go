package types

import (
	"sort"
	"time"
)

// CurrentStateSchema is the schema version written into the installed
// state file by this build.
const CurrentStateSchema = 1

type PackageVersion struct {
	Package PackageID
	Version string
	Scheme  VersionScheme
}

func (v PackageVersion) String() string {
	return string(v.Package) + "@" + v.Version
}

type InstalledPackage struct {
	Package     PackageID     `toml:"package"`
	Version     string        `toml:"version"`
	Scheme      VersionScheme `toml:"scheme"`
	Checksum    string        `toml:"checksum"`
	TreeDigest  string        `toml:"tree_digest"`
	Path        string        `toml:"path"`
	InstalledAt time.Time     `toml:"installed_at"`
}

func (p InstalledPackage) PackageVersion() PackageVersion {
	return PackageVersion{Package: p.Package, Version: p.Version, Scheme: p.Scheme}
}

type InstalledState struct {
	SchemaVersion int                            `toml:"schema_version"`
	Packages      map[PackageID]InstalledPackage `toml:"packages"`
}

func NewInstalledState() InstalledState {
	return InstalledState{
		SchemaVersion: CurrentStateSchema,
		Packages:      map[PackageID]InstalledPackage{},
	}
}

func (s InstalledState) Get(pkg PackageID) (InstalledPackage, bool) {
	entry, ok := s.Packages[pkg]
	return entry, ok
}

// Snapshot returns a copy that shares no mutable state with s.
func (s InstalledState) Snapshot() InstalledState {
	out := InstalledState{
		SchemaVersion: s.SchemaVersion,
		Packages:      make(map[PackageID]InstalledPackage, len(s.Packages)),
	}
	for id, entry := range s.Packages {
		out.Packages[id] = entry
	}
	return out
}

// Sorted lists installed packages by identifier.
func (s InstalledState) Sorted() []InstalledPackage {
	out := make([]InstalledPackage, 0, len(s.Packages))
	for _, entry := range s.Packages {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Package < out[j].Package
	})
	return out
}
