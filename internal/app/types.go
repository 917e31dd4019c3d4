package app

import "github.com/Ptrskay3/msde-cli/internal/types"

type LoginRequest struct {
	Identity string
	Secret   string
}

type LoginResult struct {
	Identity  string
	Authority types.Authority
	Session   types.Session
}

type WhoamiResult struct {
	Identity  string
	Authority types.Authority
	// Remote is the identity the authority reports for the token. Empty
	// when the authority was not asked.
	Remote string
}

type VersionsResult struct {
	Package   types.PackageID
	Versions  []string
	Installed string
}

type PlanRequest struct {
	// Version pins the primary package. Empty means the configured upstream
	// version for install and the newest known version for upgrade.
	Version        string
	Latest         bool
	AllowDowngrade bool
}

type InstallResult struct {
	Plan      types.InstallPlan
	Report    types.InstallReport
	Migration *types.MigrationResult
}

type UpgradeProjectResult struct {
	Path      string
	Migration types.MigrationResult
}

type EnvironmentRequest struct {
	Services  []types.ServiceName
	SkipHooks bool
}
