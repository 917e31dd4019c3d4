package types

type PackageID string

const (
	PackageCompiler PackageID = "compiler"
	PackageMSDE     PackageID = "msde"
	PackageBot      PackageID = "bot"
	PackageWeb3     PackageID = "web3"
)

// PrimaryPackage keys the compatibility matrix.
const PrimaryPackage = PackageMSDE

// KnownPackages is the fixed set of managed packages.
var KnownPackages = []PackageID{PackageCompiler, PackageMSDE, PackageBot, PackageWeb3}

func (p PackageID) Valid() bool {
	for _, known := range KnownPackages {
		if p == known {
			return true
		}
	}
	return false
}

type VersionScheme string

const (
	VersionSchemeSemver VersionScheme = "semver"
	VersionSchemePEP440 VersionScheme = "pep440"
	VersionSchemeDeb    VersionScheme = "deb"
)

type ConstraintOp string

const (
	ConstraintOpNone   ConstraintOp = ""
	ConstraintOpEq     ConstraintOp = "="
	ConstraintOpEq2    ConstraintOp = "=="
	ConstraintOpNe     ConstraintOp = "!="
	ConstraintOpCompat ConstraintOp = "~="
	ConstraintOpGte    ConstraintOp = ">="
	ConstraintOpLte    ConstraintOp = "<="
	ConstraintOpGt     ConstraintOp = ">"
	ConstraintOpLt     ConstraintOp = "<"
)

type Authority string

const (
	AuthorityRemote   Authority = "remote"
	AuthorityLocal    Authority = "local"
	AuthorityOverride Authority = "override"
)

type ServiceName string

const (
	ServiceCompiler     ServiceName = "compiler"
	ServiceMSDE         ServiceName = "msde"
	ServiceBot          ServiceName = "bot"
	ServiceWeb3Producer ServiceName = "web3-producer"
	ServiceWeb3Consumer ServiceName = "web3-consumer"
)

type ServiceState string

const (
	ServiceStopped       ServiceState = "stopped"
	ServiceStarting      ServiceState = "starting"
	ServiceHealthPending ServiceState = "health_pending"
	ServiceHealthy       ServiceState = "healthy"
	ServiceFailed        ServiceState = "failed"
	ServiceUnhealthy     ServiceState = "unhealthy"
)

// Terminal reports whether the state ends a bring-up attempt.
func (s ServiceState) Terminal() bool {
	return s == ServiceHealthy || s == ServiceFailed || s == ServiceUnhealthy
}

type LifecycleAction string

const (
	ActionUp      LifecycleAction = "up"
	ActionDown    LifecycleAction = "down"
	ActionRestart LifecycleAction = "restart"
)
