package core

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/Ptrskay3/msde-cli/internal/types"
)

func TestParseConstraint(t *testing.T) {
	tests := []struct {
		raw     string
		op      types.ConstraintOp
		version string
	}{
		{"=1.2.3", types.ConstraintOpEq, "1.2.3"},
		{"==1.2.3", types.ConstraintOpEq2, "1.2.3"},
		{">=1.2.3", types.ConstraintOpGte, "1.2.3"},
		{"<= 1.2.3", types.ConstraintOpLte, "1.2.3"},
		{">1.2.3", types.ConstraintOpGt, "1.2.3"},
		{"<1.2.3", types.ConstraintOpLt, "1.2.3"},
		{"!=1.2.3", types.ConstraintOpNe, "1.2.3"},
		{"~=1.2.3", types.ConstraintOpCompat, "1.2.3"},
		{"1.2.3", types.ConstraintOpEq, "1.2.3"},
		{"1:2.0~rc1", types.ConstraintOpEq, "1:2.0~rc1"},
	}

	for _, tt := range tests {
		constraint, err := ParseConstraint(tt.raw)
		require.NoError(t, err, tt.raw)
		want := types.Constraint{Op: tt.op, Version: tt.version}
		if diff := cmp.Diff(want, constraint); diff != "" {
			t.Fatalf("unexpected constraint for %q (-want +got):\n%s", tt.raw, diff)
		}
	}
}

func TestParseConstraintErrors(t *testing.T) {
	for _, raw := range []string{"", ">=", ">= 1.0 2.0", "1.0<2.0"} {
		_, err := ParseConstraint(raw)
		require.Error(t, err, raw)
	}
}

func TestParseRange(t *testing.T) {
	rng, err := ParseRange(">=1.2.0, <2.0.0")
	require.NoError(t, err)
	want := []types.Constraint{
		{Op: types.ConstraintOpGte, Version: "1.2.0"},
		{Op: types.ConstraintOpLt, Version: "2.0.0"},
	}
	if diff := cmp.Diff(want, rng.Constraints); diff != "" {
		t.Fatalf("unexpected constraints (-want +got):\n%s", diff)
	}
	require.Equal(t, ">=1.2.0, <2.0.0", rng.String())
}

func TestParseRangeWildcard(t *testing.T) {
	for _, raw := range []string{"", "*", "  "} {
		rng, err := ParseRange(raw)
		require.NoError(t, err)
		require.Empty(t, rng.Constraints)
	}
}
