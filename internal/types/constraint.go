package types

import "strings"

type Constraint struct {
	Op      ConstraintOp
	Version string
}

func (c Constraint) String() string {
	return string(c.Op) + c.Version
}

// VersionRange is a conjunction of constraints, written as a
// comma-separated list (">=1.2.0, <2.0.0").
type VersionRange struct {
	Raw         string
	Constraints []Constraint
}

func (r VersionRange) String() string {
	if strings.TrimSpace(r.Raw) != "" {
		return r.Raw
	}
	parts := make([]string, 0, len(r.Constraints))
	for _, c := range r.Constraints {
		parts = append(parts, c.String())
	}
	return strings.Join(parts, ",")
}
