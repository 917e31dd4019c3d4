package types

import (
	"fmt"
	"sort"
	"strings"
)

type AuthReason string

const (
	AuthExpiredAndUnrefreshable AuthReason = "expired_and_unrefreshable"
	AuthNetworkUnavailable      AuthReason = "network_unavailable"
	AuthInvalidCredential       AuthReason = "invalid_credential"
)

type AuthFailure struct {
	Reason    AuthReason
	Authority Authority
	Identity  string
	Err       error
}

func (e *AuthFailure) Error() string {
	msg := fmt.Sprintf("auth failure (%s)", e.Reason)
	if e.Identity != "" {
		msg += " for " + e.Identity
	}
	if e.Authority != "" {
		msg += " via " + string(e.Authority) + " authority"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthFailure) Unwrap() error { return e.Err }

// Retryable reports whether another attempt could succeed.
func (e *AuthFailure) Retryable() bool { return e.Reason == AuthNetworkUnavailable }

type ResolveKind string

const (
	ResolveNoCompatibleVersion    ResolveKind = "no_compatible_version"
	ResolveDowngradeRefused       ResolveKind = "downgrade_refused"
	ResolveUnknownVersion         ResolveKind = "unknown_version"
	ResolveConflictingConstraints ResolveKind = "conflicting_constraints"
)

type ResolveError struct {
	Kind      ResolveKind
	Package   PackageID
	Range     string
	Installed string
	Requested string
	Err       error
}

func (e *ResolveError) Error() string {
	var msg string
	switch e.Kind {
	case ResolveNoCompatibleVersion:
		msg = fmt.Sprintf("no compatible version for %s in range %q", e.Package, e.Range)
	case ResolveDowngradeRefused:
		msg = fmt.Sprintf("refusing to downgrade %s from %s to %s (use --force)", e.Package, e.Installed, e.Requested)
	case ResolveUnknownVersion:
		msg = fmt.Sprintf("unknown version %s for %s", e.Requested, e.Package)
	default:
		msg = fmt.Sprintf("conflicting constraints for %s: %s", e.Package, e.Range)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ResolveError) Unwrap() error { return e.Err }

type InstallKind string

const (
	InstallNetworkFailure    InstallKind = "network_failure"
	InstallChecksumMismatch  InstallKind = "checksum_mismatch"
	InstallExtractionFailure InstallKind = "extraction_failure"
	InstallSwapFailure       InstallKind = "swap_failure"
)

type InstallError struct {
	Kind     InstallKind
	Package  PackageID
	Version  string
	Expected string
	Actual   string
	Err      error
}

func (e *InstallError) Error() string {
	msg := fmt.Sprintf("install %s@%s: %s", e.Package, e.Version, e.Kind)
	if e.Kind == InstallChecksumMismatch {
		msg += fmt.Sprintf(" (expected %s, got %s)", e.Expected, e.Actual)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InstallError) Unwrap() error { return e.Err }

func (e *InstallError) Retryable() bool { return e.Kind == InstallNetworkFailure }

type MigrationKind string

const (
	MigrationParseFailure MigrationKind = "parse_failure"
	MigrationFutureSchema MigrationKind = "future_schema"
	MigrationStepFailure  MigrationKind = "step_failure"
	MigrationWriteFailure MigrationKind = "write_failure"
)

type MigrationError struct {
	Kind       MigrationKind
	Path       string
	From       int
	To         int
	BackupPath string
	Err        error
}

func (e *MigrationError) Error() string {
	var msg string
	switch e.Kind {
	case MigrationFutureSchema:
		msg = fmt.Sprintf("%s uses schema %d but this msde-cli only understands up to %d; upgrade msde-cli", e.Path, e.From, e.To)
	case MigrationParseFailure:
		msg = fmt.Sprintf("cannot parse %s", e.Path)
	case MigrationStepFailure:
		msg = fmt.Sprintf("migrating %s from schema %d to %d failed", e.Path, e.From, e.To)
	default:
		msg = fmt.Sprintf("writing migrated %s failed", e.Path)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.BackupPath != "" {
		msg += fmt.Sprintf(" (previous file preserved at %s)", e.BackupPath)
	}
	return msg
}

func (e *MigrationError) Unwrap() error { return e.Err }

type OrchestrationKind string

const (
	OrchestrationStartFailed     OrchestrationKind = "start_failed"
	OrchestrationHealthFailed    OrchestrationKind = "health_failed"
	OrchestrationDependencyCycle OrchestrationKind = "dependency_cycle"
	OrchestrationStopFailed      OrchestrationKind = "stop_failed"
)

type OrchestrationError struct {
	Kind OrchestrationKind
	// Services holds the terminal state of every requested service that
	// did not reach its target.
	Services map[ServiceName]ServiceState
	Err      error
}

func (e *OrchestrationError) Error() string {
	if e.Kind == OrchestrationDependencyCycle {
		msg := "service dependency cycle detected"
		if e.Err != nil {
			msg += ": " + e.Err.Error()
		}
		return msg
	}
	names := make([]string, 0, len(e.Services))
	for name := range e.Services {
		names = append(names, string(name))
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s (%s)", name, e.Services[ServiceName(name)]))
	}
	msg := fmt.Sprintf("%s: %s", e.Kind, strings.Join(parts, ", "))
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *OrchestrationError) Unwrap() error { return e.Err }
