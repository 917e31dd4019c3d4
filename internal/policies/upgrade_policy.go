package policies

import (
	"github.com/Ptrskay3/msde-cli/internal/types"
)

type ChangeKind string

const (
	ChangeInstall   ChangeKind = "install"
	ChangeUpgrade   ChangeKind = "upgrade"
	ChangeDowngrade ChangeKind = "downgrade"
	ChangeNone      ChangeKind = "none"
)

// Classify names the kind of change moving from installed to target. cmp
// is the scheme-aware comparison of target against installed; hasInstalled
// is false for fresh installs.
func Classify(hasInstalled bool, cmp int) ChangeKind {
	switch {
	case !hasInstalled:
		return ChangeInstall
	case cmp > 0:
		return ChangeUpgrade
	case cmp < 0:
		return ChangeDowngrade
	default:
		return ChangeNone
	}
}

// UpgradePolicy decides which version changes an install plan may contain.
// Downgrades are refused unless explicitly forced.
type UpgradePolicy struct {
	AllowDowngrade bool
}

func NewUpgradePolicy(allowDowngrade bool) UpgradePolicy {
	return UpgradePolicy{AllowDowngrade: allowDowngrade}
}

// Check returns a ResolveError when the change is not permitted.
func (p UpgradePolicy) Check(pkg types.PackageID, installed string, target string, kind ChangeKind) error {
	if kind == ChangeDowngrade && !p.AllowDowngrade {
		return &types.ResolveError{
			Kind:      types.ResolveDowngradeRefused,
			Package:   pkg,
			Installed: installed,
			Requested: target,
		}
	}
	return nil
}
