package core

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	pep440 "github.com/aquasecurity/go-pep440-version"
	debversion "github.com/knqyf263/go-deb-version"
	"golang.org/x/mod/semver"

	"github.com/Ptrskay3/msde-cli/internal/types"
)

// versionCache memoizes parsed version objects to avoid repeated parsing
// during constraint evaluation and sorting.
type versionCache struct {
	scheme types.VersionScheme
	deb    map[string]debversion.Version
	pep    map[string]pep440.Version
	spec   map[string]pep440.Specifiers
}

func newVersionCache(scheme types.VersionScheme) *versionCache {
	if scheme == "" {
		scheme = types.VersionSchemeSemver
	}
	return &versionCache{
		scheme: scheme,
		deb:    map[string]debversion.Version{},
		pep:    map[string]pep440.Version{},
		spec:   map[string]pep440.Specifiers{},
	}
}

// canonicalSemver adds the "v" prefix x/mod/semver expects.
func canonicalSemver(value string) (string, error) {
	v := strings.TrimSpace(value)
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return "", fmt.Errorf("invalid semantic version %q", value)
	}
	return v, nil
}

func (c *versionCache) debVersion(value string) (debversion.Version, error) {
	if parsed, ok := c.deb[value]; ok {
		return parsed, nil
	}
	parsed, err := debversion.NewVersion(value)
	if err != nil {
		return debversion.Version{}, err
	}
	c.deb[value] = parsed
	return parsed, nil
}

func (c *versionCache) pepVersion(value string) (pep440.Version, error) {
	if parsed, ok := c.pep[value]; ok {
		return parsed, nil
	}
	parsed, err := pep440.Parse(value)
	if err != nil {
		return pep440.Version{}, err
	}
	c.pep[value] = parsed
	return parsed, nil
}

func (c *versionCache) pepSpec(value string) (pep440.Specifiers, error) {
	if parsed, ok := c.spec[value]; ok {
		return parsed, nil
	}
	parsed, err := pep440.NewSpecifiers(value)
	if err != nil {
		return pep440.Specifiers{}, err
	}
	c.spec[value] = parsed
	return parsed, nil
}

// validate reports whether value parses under the cache's scheme.
func (c *versionCache) validate(value string) error {
	var err error
	switch c.scheme {
	case types.VersionSchemeDeb:
		_, err = c.debVersion(value)
	case types.VersionSchemePEP440:
		_, err = c.pepVersion(value)
	default:
		_, err = canonicalSemver(value)
	}
	if err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("invalid %s version %q", c.scheme, value)).
			WithCause(err)
	}
	return nil
}

// compare returns -1, 0, or 1 comparing two version strings using the
// cache's scheme. Returns 0 on parse errors.
func (c *versionCache) compare(a string, b string) int {
	switch c.scheme {
	case types.VersionSchemeDeb:
		v1, err := c.debVersion(a)
		if err != nil {
			return 0
		}
		v2, err := c.debVersion(b)
		if err != nil {
			return 0
		}
		return v1.Compare(v2)
	case types.VersionSchemePEP440:
		v1, err := c.pepVersion(a)
		if err != nil {
			return 0
		}
		v2, err := c.pepVersion(b)
		if err != nil {
			return 0
		}
		return v1.Compare(v2)
	default:
		v1, err := canonicalSemver(a)
		if err != nil {
			return 0
		}
		v2, err := canonicalSemver(b)
		if err != nil {
			return 0
		}
		return semver.Compare(v1, v2)
	}
}

// satisfies checks version against every constraint of the range.
func (c *versionCache) satisfies(version string, rng types.VersionRange) (bool, error) {
	if err := c.validate(version); err != nil {
		return false, err
	}
	if c.scheme == types.VersionSchemePEP440 {
		return c.satisfiesPep440(version, rng)
	}
	for _, constraint := range rng.Constraints {
		if err := c.validate(constraint.Version); err != nil {
			return false, err
		}
		cmp := c.compare(version, constraint.Version)
		switch constraint.Op {
		case types.ConstraintOpEq, types.ConstraintOpEq2:
			if cmp != 0 {
				return false, nil
			}
		case types.ConstraintOpNe:
			if cmp == 0 {
				return false, nil
			}
		case types.ConstraintOpGte:
			if cmp < 0 {
				return false, nil
			}
		case types.ConstraintOpLte:
			if cmp > 0 {
				return false, nil
			}
		case types.ConstraintOpGt:
			if cmp <= 0 {
				return false, nil
			}
		case types.ConstraintOpLt:
			if cmp >= 0 {
				return false, nil
			}
		case types.ConstraintOpCompat:
			if c.scheme != types.VersionSchemeSemver {
				return false, errbuilder.New().
					WithCode(errbuilder.CodeInvalidArgument).
					WithMsg(fmt.Sprintf("operator ~= is not supported for %s versions", c.scheme))
			}
			if cmp < 0 || !sameMinorLine(version, constraint.Version) {
				return false, nil
			}
		default:
			return false, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg("unsupported constraint operator")
		}
	}
	return true, nil
}

func (c *versionCache) satisfiesPep440(version string, rng types.VersionRange) (bool, error) {
	parsed, err := c.pepVersion(version)
	if err != nil {
		return false, err
	}
	for _, constraint := range rng.Constraints {
		spec, err := c.pepSpec(toPep440Spec(constraint))
		if err != nil {
			return false, err
		}
		if !spec.Check(parsed) {
			return false, nil
		}
	}
	return true, nil
}

func sameMinorLine(a string, b string) bool {
	va, errA := canonicalSemver(a)
	vb, errB := canonicalSemver(b)
	if errA != nil || errB != nil {
		return false
	}
	return semver.MajorMinor(va) == semver.MajorMinor(vb)
}

// toPep440Spec converts an internal constraint to a PEP 440 specifier
// string (e.g. ">= 1.0", "~= 2.3").
func toPep440Spec(constraint types.Constraint) string {
	op := string(constraint.Op)
	switch constraint.Op {
	case types.ConstraintOpEq, types.ConstraintOpEq2:
		op = "=="
	}
	return strings.TrimSpace(fmt.Sprintf("%s %s", op, constraint.Version))
}

// sortDescending orders versions highest first. Versions that fail to
// parse sort as equal and keep their relative order.
func (c *versionCache) sortDescending(versions []string) []string {
	out := append([]string(nil), versions...)
	sort.SliceStable(out, func(i, j int) bool {
		return c.compare(out[i], out[j]) > 0
	})
	return out
}

// bestCompatibleVersion selects the highest version from available that
// satisfies rng.
func bestCompatibleVersion(pkg types.PackageID, scheme types.VersionScheme, rng types.VersionRange, available []string) (string, error) {
	noneInRange := &types.ResolveError{
		Kind:    types.ResolveNoCompatibleVersion,
		Package: pkg,
		Range:   rng.String(),
	}
	if len(available) == 0 {
		return "", noneInRange
	}
	cache := newVersionCache(scheme)
	var candidates []string
	for _, version := range available {
		ok, err := cache.satisfies(version, rng)
		if err != nil {
			return "", &types.ResolveError{
				Kind:    types.ResolveConflictingConstraints,
				Package: pkg,
				Range:   rng.String(),
				Err:     err,
			}
		}
		if ok {
			candidates = append(candidates, version)
		}
	}
	if len(candidates) == 0 {
		return "", noneInRange
	}
	return cache.sortDescending(candidates)[0], nil
}

// CompareVersions compares two versions under scheme.
func CompareVersions(scheme types.VersionScheme, a string, b string) int {
	return newVersionCache(scheme).compare(a, b)
}

// SortVersionsDescending returns versions ordered highest first under scheme.
func SortVersionsDescending(scheme types.VersionScheme, versions []string) []string {
	return newVersionCache(scheme).sortDescending(versions)
}
