package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/google/uuid"
	digest "github.com/opencontainers/go-digest"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Ptrskay3/msde-cli/internal/archive"
	"github.com/Ptrskay3/msde-cli/internal/ports"
	"github.com/Ptrskay3/msde-cli/internal/retry"
	"github.com/Ptrskay3/msde-cli/internal/types"
)

const (
	packagesDirName = "packages"
	versionsDirName = "versions"
	stagingDirName  = ".staging"
)

type InstallerConfig struct {
	// Home is the managed directory holding packages/, versions/ and
	// .staging/.
	Home    string
	Retry   retry.Policy
	Clock   func() time.Time
	Metrics ports.MetricsPort
}

// Installer materializes install plans and is the only writer of
// InstalledState.
type Installer struct {
	source  ports.ArchiveSourcePort
	store   ports.StateStorePort
	home    string
	policy  retry.Policy
	clock   func() time.Time
	metrics ports.MetricsPort

	mu     sync.Mutex
	loaded bool
	state  types.InstalledState

	// crashAt lets tests stop a step at a named point as if the process
	// had died there.
	crashAt func(point string, step types.PlanStep) error
}

func NewInstaller(source ports.ArchiveSourcePort, store ports.StateStorePort, cfg InstallerConfig) *Installer {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Metrics == nil {
		cfg.Metrics = ports.NopMetrics{}
	}
	return &Installer{
		source:  source,
		store:   store,
		home:    cfg.Home,
		policy:  retryWithMetrics(cfg.Retry, cfg.Metrics),
		clock:   cfg.Clock,
		metrics: cfg.Metrics,
		state:   types.NewInstalledState(),
	}
}

func (i *Installer) packagesDir() string { return filepath.Join(i.home, packagesDirName) }
func (i *Installer) versionsDir() string { return filepath.Join(i.home, versionsDirName) }
func (i *Installer) stagingDir() string  { return filepath.Join(i.home, stagingDirName) }

func (i *Installer) linkPath(pkg types.PackageID) string {
	return filepath.Join(i.packagesDir(), string(pkg))
}

// PackageDir is the stable link to the active version of pkg.
func (i *Installer) PackageDir(pkg types.PackageID) string {
	return i.linkPath(pkg)
}

// Load re-reads the persisted state. Every top-level command calls it once
// before planning.
func (i *Installer) Load(ctx context.Context) (types.InstalledState, error) {
	state, err := i.store.Load(ctx)
	if err != nil {
		return types.InstalledState{}, err
	}
	if state.Packages == nil {
		state.Packages = map[types.PackageID]types.InstalledPackage{}
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	i.state = state
	i.loaded = true
	return state.Snapshot(), nil
}

// State returns a snapshot of the installed state.
func (i *Installer) State() types.InstalledState {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state.Snapshot()
}

func (i *Installer) ensureLoaded(ctx context.Context) error {
	i.mu.Lock()
	loaded := i.loaded
	i.mu.Unlock()
	if loaded {
		return nil
	}
	_, err := i.Load(ctx)
	return err
}

// Install runs every step of plan. Steps without a dependency edge run
// concurrently. The first failure cancels the steps that have not started;
// completed steps stay installed. The report is returned even on error.
func (i *Installer) Install(ctx context.Context, plan types.InstallPlan) (types.InstallReport, error) {
	if plan.IsEmpty() {
		return types.InstallReport{}, nil
	}
	if err := i.ensureLoaded(ctx); err != nil {
		return types.InstallReport{}, err
	}

	results := make([]types.StepResult, len(plan.Steps))
	done := make(map[types.PackageID]chan struct{}, len(plan.Steps))
	index := make(map[types.PackageID]int, len(plan.Steps))
	for k, step := range plan.Steps {
		done[step.Package] = make(chan struct{})
		index[step.Package] = k
		results[k] = types.StepResult{Step: step, Outcome: types.StepSkipped}
	}

	group, gctx := errgroup.WithContext(ctx)
	for k, step := range plan.Steps {
		group.Go(func() error {
			defer close(done[step.Package])
			for _, dep := range step.After {
				wait, ok := done[dep]
				if !ok {
					continue
				}
				select {
				case <-wait:
				case <-gctx.Done():
					return nil
				}
				// results[dep] is final once its channel is closed.
				if results[index[dep]].Outcome != types.StepCompleted {
					return nil
				}
			}
			if gctx.Err() != nil {
				return nil
			}
			if err := i.installStep(gctx, step); err != nil {
				results[k] = types.StepResult{Step: step, Outcome: types.StepFailed, Err: err}
				return err
			}
			results[k] = types.StepResult{Step: step, Outcome: types.StepCompleted}
			return nil
		})
	}
	err := group.Wait()

	report := types.InstallReport{Results: results}
	for _, result := range results {
		i.metrics.InstallStep(result.Step.Package, result.Outcome)
	}
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		log.Ctx(ctx).Warn().
			Int("completed", len(report.ByOutcome(types.StepCompleted))).
			Int("failed", len(report.ByOutcome(types.StepFailed))).
			Int("skipped", len(report.ByOutcome(types.StepSkipped))).
			Msg("install plan did not complete")
	}
	return report, err
}

type fetchedArchive struct {
	path   string
	digest digest.Digest
}

func (i *Installer) installStep(ctx context.Context, step types.PlanStep) error {
	target := step.Target()
	logger := log.Ctx(ctx).With().Str("package", string(step.Package)).Str("version", step.To).Logger()
	logger.Info().Msg("installing")

	if err := os.MkdirAll(i.stagingDir(), 0o755); err != nil {
		return &types.InstallError{Kind: types.InstallExtractionFailure, Package: step.Package, Version: step.To, Err: err}
	}

	fetched, err := retry.DoValue(ctx, i.policy, "install.download", func(ctx context.Context) (fetchedArchive, error) {
		return i.download(ctx, target)
	})
	if err != nil {
		return networkFailure(step, err)
	}
	defer os.Remove(fetched.path)

	published, err := retry.DoValue(ctx, i.policy, "install.checksum", func(ctx context.Context) (string, error) {
		return i.source.PublishedChecksum(ctx, target)
	})
	if err != nil {
		return networkFailure(step, err)
	}
	expected, err := archive.ParseDigest(published)
	if err != nil || expected != fetched.digest {
		_ = os.Remove(fetched.path)
		return &types.InstallError{
			Kind:     types.InstallChecksumMismatch,
			Package:  step.Package,
			Version:  step.To,
			Expected: strings.TrimSpace(published),
			Actual:   fetched.digest.String(),
			Err:      err,
		}
	}
	logger.Debug().Str("digest", fetched.digest.String()).Msg("checksum verified")

	versionDir := filepath.Join(i.versionsDir(), string(step.Package), step.To+"-"+uuid.NewString()[:8])
	if err := archive.Extract(fetched.path, versionDir); err != nil {
		_ = os.RemoveAll(versionDir)
		return &types.InstallError{Kind: types.InstallExtractionFailure, Package: step.Package, Version: step.To, Err: err}
	}
	tree, err := archive.TreeDigest(versionDir)
	if err != nil {
		_ = os.RemoveAll(versionDir)
		return &types.InstallError{Kind: types.InstallExtractionFailure, Package: step.Package, Version: step.To, Err: err}
	}

	if err := i.crash("before-swap", step); err != nil {
		return err
	}

	// From here on cancellation is ignored: the swap and the state write
	// either both happen or neither does.
	previous, hadPrevious := i.currentTarget(step.Package)
	if err := i.swapLink(step.Package, versionDir); err != nil {
		_ = os.RemoveAll(versionDir)
		return &types.InstallError{Kind: types.InstallSwapFailure, Package: step.Package, Version: step.To, Err: err}
	}

	if err := i.crash("before-commit", step); err != nil {
		return err
	}

	entry := types.InstalledPackage{
		Package:     step.Package,
		Version:     step.To,
		Scheme:      step.Scheme,
		Checksum:    fetched.digest.String(),
		TreeDigest:  tree.String(),
		Path:        versionDir,
		InstalledAt: i.clock().UTC(),
	}
	if err := i.commit(context.WithoutCancel(ctx), entry); err != nil {
		if hadPrevious {
			_ = i.swapLink(step.Package, previous)
		} else {
			_ = os.Remove(i.linkPath(step.Package))
		}
		_ = os.RemoveAll(versionDir)
		return &types.InstallError{Kind: types.InstallSwapFailure, Package: step.Package, Version: step.To, Err: err}
	}

	if hadPrevious && previous != versionDir && i.managedVersionDir(previous) {
		if err := os.RemoveAll(previous); err != nil {
			logger.Warn().Err(err).Str("path", previous).Msg("failed to remove previous version")
		}
	}
	logger.Info().Str("path", versionDir).Msg("installed")
	return nil
}

func networkFailure(step types.PlanStep, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var installErr *types.InstallError
	if errors.As(err, &installErr) {
		return err
	}
	return &types.InstallError{Kind: types.InstallNetworkFailure, Package: step.Package, Version: step.To, Err: err}
}

// download streams one archive into the staging directory, hashing it on
// the way. Partial files are removed before returning an error.
func (i *Installer) download(ctx context.Context, target types.PackageVersion) (fetchedArchive, error) {
	file, err := os.CreateTemp(i.stagingDir(), string(target.Package)+"-*.archive")
	if err != nil {
		return fetchedArchive{}, retry.Permanent(err)
	}
	digester := archive.NewDigester()
	err = i.source.DownloadArchive(ctx, target, io.MultiWriter(file, digester.Hash()))
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(file.Name())
		return fetchedArchive{}, err
	}
	return fetchedArchive{path: file.Name(), digest: digester.Digest()}, nil
}

func (i *Installer) currentTarget(pkg types.PackageID) (string, bool) {
	target, err := os.Readlink(i.linkPath(pkg))
	if err != nil {
		return "", false
	}
	return target, true
}

// swapLink points packages/<pkg> at dir with a single rename.
func (i *Installer) swapLink(pkg types.PackageID, dir string) error {
	if err := os.MkdirAll(i.packagesDir(), 0o755); err != nil {
		return err
	}
	link := i.linkPath(pkg)
	tmp := link + ".swap-" + uuid.NewString()[:8]
	if err := os.Symlink(dir, tmp); err != nil {
		return err
	}
	if err := os.Rename(tmp, link); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func (i *Installer) commit(ctx context.Context, entry types.InstalledPackage) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	next := i.state.Snapshot()
	next.SchemaVersion = types.CurrentStateSchema
	next.Packages[entry.Package] = entry
	if err := i.store.Save(ctx, next); err != nil {
		return err
	}
	i.state = next
	return nil
}

func (i *Installer) managedVersionDir(path string) bool {
	rel, err := filepath.Rel(i.versionsDir(), path)
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..")
}

func (i *Installer) crash(point string, step types.PlanStep) error {
	if i.crashAt == nil {
		return nil
	}
	return i.crashAt(point, step)
}

// Recover brings the managed directory back in line with the persisted
// state after an interrupted install: links are re-pointed at the recorded
// version, links for uncommitted fresh installs are removed, and orphaned
// version and staging directories are deleted.
func (i *Installer) Recover(ctx context.Context) error {
	logger := log.Ctx(ctx)
	state, err := i.Load(ctx)
	if err != nil {
		return err
	}

	changed := false
	for _, entry := range state.Sorted() {
		if _, err := os.Stat(entry.Path); err != nil {
			logger.Warn().Str("package", string(entry.Package)).Str("path", entry.Path).Msg("installed version is missing; forgetting it")
			delete(state.Packages, entry.Package)
			_ = os.Remove(i.linkPath(entry.Package))
			changed = true
			continue
		}
		if current, ok := i.currentTarget(entry.Package); !ok || current != entry.Path {
			logger.Info().Str("package", string(entry.Package)).Str("path", entry.Path).Msg("restoring package link")
			if err := i.swapLink(entry.Package, entry.Path); err != nil {
				return &types.InstallError{Kind: types.InstallSwapFailure, Package: entry.Package, Version: entry.Version, Err: err}
			}
		}
	}
	if changed {
		i.mu.Lock()
		err := i.store.Save(context.WithoutCancel(ctx), state)
		if err == nil {
			i.state = state.Snapshot()
		}
		i.mu.Unlock()
		if err != nil {
			return err
		}
	}

	if links, err := os.ReadDir(i.packagesDir()); err == nil {
		for _, link := range links {
			pkg := types.PackageID(link.Name())
			if _, ok := state.Packages[pkg]; ok {
				continue
			}
			logger.Info().Str("path", link.Name()).Msg("removing uncommitted package link")
			_ = os.RemoveAll(filepath.Join(i.packagesDir(), link.Name()))
		}
	}

	keep := map[string]bool{}
	for _, entry := range state.Packages {
		keep[filepath.Clean(entry.Path)] = true
	}
	if pkgDirs, err := os.ReadDir(i.versionsDir()); err == nil {
		for _, pkgDir := range pkgDirs {
			parent := filepath.Join(i.versionsDir(), pkgDir.Name())
			versions, err := os.ReadDir(parent)
			if err != nil {
				continue
			}
			for _, version := range versions {
				path := filepath.Join(parent, version.Name())
				if keep[path] {
					continue
				}
				logger.Info().Str("path", path).Msg("removing orphaned version")
				_ = os.RemoveAll(path)
			}
		}
	}
	return os.RemoveAll(i.stagingDir())
}

// Verify recomputes the tree digest of an installed package and compares
// it with the recorded one.
func (i *Installer) Verify(ctx context.Context, pkg types.PackageID) (types.InstalledPackage, error) {
	if err := i.ensureLoaded(ctx); err != nil {
		return types.InstalledPackage{}, err
	}
	entry, ok := i.State().Get(pkg)
	if !ok {
		return types.InstalledPackage{}, errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg(fmt.Sprintf("%s is not installed", pkg))
	}
	actual, err := archive.TreeDigest(entry.Path)
	if err != nil {
		return entry, errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg(fmt.Sprintf("cannot read installed %s", entry.PackageVersion())).
			WithCause(err)
	}
	if actual.String() != entry.TreeDigest {
		return entry, &types.InstallError{
			Kind:     types.InstallChecksumMismatch,
			Package:  pkg,
			Version:  entry.Version,
			Expected: entry.TreeDigest,
			Actual:   actual.String(),
			Err:      errors.New("installed files were modified"),
		}
	}
	log.Ctx(ctx).Debug().Str("package", string(pkg)).Str("digest", actual.String()).Msg("verified")
	return entry, nil
}

func retryWithMetrics(policy retry.Policy, metrics ports.MetricsPort) retry.Policy {
	if metrics == nil {
		return policy
	}
	return policy.WithNotify(func(op string, _ int, _ error, _ time.Duration) {
		metrics.Retry(op)
	})
}
