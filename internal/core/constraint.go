package core

import (
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"github.com/Ptrskay3/msde-cli/internal/types"
)

// opTokens is the ordered list of constraint operators tried during
// parsing. Longer tokens must precede shorter ones to avoid false matches
// (e.g. ">=" before ">").
var opTokens = []types.ConstraintOp{
	types.ConstraintOpGte,
	types.ConstraintOpLte,
	types.ConstraintOpCompat,
	types.ConstraintOpNe,
	types.ConstraintOpEq2,
	types.ConstraintOpEq,
	types.ConstraintOpGt,
	types.ConstraintOpLt,
}

// ParseConstraint parses a single "op version" term. A bare version means
// an exact match.
func ParseConstraint(raw string) (types.Constraint, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return types.Constraint{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("empty constraint")
	}
	for _, op := range opTokens {
		if !strings.HasPrefix(raw, string(op)) {
			continue
		}
		version := strings.TrimSpace(strings.TrimPrefix(raw, string(op)))
		if version == "" || strings.ContainsAny(version, "<>=! ") {
			return types.Constraint{}, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("invalid constraint: %s", raw))
		}
		return types.Constraint{Op: op, Version: version}, nil
	}
	if strings.ContainsAny(raw, "<>=! ") {
		return types.Constraint{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("invalid constraint: %s", raw))
	}
	return types.Constraint{Op: types.ConstraintOpEq, Version: raw}, nil
}

// ParseRange parses a comma-separated conjunction of constraints. An empty
// range or "*" matches every version.
func ParseRange(raw string) (types.VersionRange, error) {
	trimmed := strings.TrimSpace(raw)
	out := types.VersionRange{Raw: trimmed}
	if trimmed == "" || trimmed == "*" {
		return out, nil
	}
	for _, part := range strings.Split(trimmed, ",") {
		constraint, err := ParseConstraint(part)
		if err != nil {
			return types.VersionRange{}, err
		}
		out.Constraints = append(out.Constraints, constraint)
	}
	return out, nil
}
