// Package engine composes the installer subsystems into the public mutation
// flows: install, upgrade, uninstall, rollback, and repair. Every mutation
// runs inside a transaction with per-package snapshots journaled for
// rollback.
package engine

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/Masterminds/semver/v3"

	"github.com/crosspack-dev/crosspack/internal/download"
	"github.com/crosspack-dev/crosspack/internal/log"
	"github.com/crosspack-dev/crosspack/internal/manifest"
	"github.com/crosspack-dev/crosspack/internal/native"
	"github.com/crosspack-dev/crosspack/internal/platform"
	"github.com/crosspack-dev/crosspack/internal/prefix"
	"github.com/crosspack-dev/crosspack/internal/receipt"
	"github.com/crosspack-dev/crosspack/internal/registry"
	"github.com/crosspack-dev/crosspack/internal/resolver"
	"github.com/crosspack-dev/crosspack/internal/txn"
)

// Orchestrator wires the installer subsystems over one prefix.
type Orchestrator struct {
	layout     *prefix.Layout
	store      *receipt.Store
	sources    *registry.Store
	registrar  *native.Registrar
	engine     *txn.Engine
	downloader *download.Downloader
	logger     log.Logger
	output     io.Writer

	// registryRoot, when set, bypasses configured sources and reads a single
	// unmanaged registry directory.
	registryRoot string
}

// New creates an Orchestrator over the prefix.
func New(layout *prefix.Layout, logger log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.Default()
	}
	store := receipt.NewStore(layout)
	registrar := native.NewRegistrar(layout, store, logger)
	snapshotter := txn.NewSnapshotter(layout, store, registrar)
	return &Orchestrator{
		layout:     layout,
		store:      store,
		sources:    registry.NewStore(layout),
		registrar:  registrar,
		engine:     txn.NewEngine(layout, snapshotter, logger),
		downloader: download.New(logger),
		logger:     logger,
	}
}

// SetRegistryRoot points resolution at a single registry directory instead
// of the configured sources.
func (o *Orchestrator) SetRegistryRoot(root string) { o.registryRoot = root }

// Layout returns the prefix layout.
func (o *Orchestrator) Layout() *prefix.Layout { return o.layout }

// Receipts returns the receipt store.
func (o *Orchestrator) Receipts() *receipt.Store { return o.store }

// Sources returns the registry source store.
func (o *Orchestrator) Sources() *registry.Store { return o.sources }

// Engine returns the transaction engine.
func (o *Orchestrator) Engine() *txn.Engine { return o.engine }

// SelectBackend opens the metadata backend: the explicit registry root when
// set, otherwise the union of enabled ready sources.
func (o *Orchestrator) SelectBackend() (registry.MetadataBackend, error) {
	if o.registryRoot != "" {
		return registry.OpenLegacyBackend(o.registryRoot), nil
	}
	return registry.OpenConfiguredBackend(o.layout, o.sources)
}

// ResolvedInstall is one package selected for installation: its manifest,
// the artifact matching the resolved target, and the archive type.
type ResolvedInstall struct {
	Manifest    *manifest.PackageManifest
	Artifact    *manifest.Artifact
	Target      string
	ArchiveType manifest.ArchiveType
}

// RootRequest is a resolved root requirement.
type RootRequest struct {
	Name        string
	Requirement *semver.Constraints
}

// resolveInstallGraph resolves roots into install order, returning the
// consumed token set for override validation.
func (o *Orchestrator) resolveInstallGraph(
	backend registry.MetadataBackend,
	roots []RootRequest,
	requestedTarget string,
	overrides map[string]string,
	validateOverrides bool,
) ([]*ResolvedInstall, map[string]bool, error) {
	rawPins, err := o.store.ReadAllPins()
	if err != nil {
		return nil, nil, err
	}
	pins := make(map[string]*semver.Constraints, len(rawPins))
	for name, raw := range rawPins {
		parsed, err := semver.NewConstraint(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid pin requirement for '%s' in state: %s: %w", name, raw, err)
		}
		pins[name] = parsed
	}

	rootReqs := make([]resolver.RootRequirement, 0, len(roots))
	for _, root := range roots {
		rootReqs = append(rootReqs, resolver.RootRequirement{
			Name:        root.Name,
			Requirement: root.Requirement,
		})
	}

	graph, err := resolver.Resolve(rootReqs, pins, overrides, func(name string) ([]*manifest.PackageManifest, error) {
		return backend.PackageVersions(name)
	})
	if err != nil {
		return nil, nil, err
	}

	if validateOverrides {
		if err := resolver.ValidateOverridesUsed(overrides, graph.Tokens); err != nil {
			return nil, nil, err
		}
	}

	target := requestedTarget
	if target == "" {
		target = platform.HostTargetTriple()
	}

	resolved := make([]*ResolvedInstall, 0, len(graph.InstallOrder))
	for _, name := range graph.InstallOrder {
		m, ok := graph.Manifests[name]
		if !ok {
			// The resolver guarantees install-order members exist in the
			// manifest map; a miss is an unreachable invariant.
			panic(fmt.Sprintf("resolver selected package missing from graph: %s", name))
		}
		art, err := m.ArtifactForTarget(target)
		if err != nil {
			return nil, nil, err
		}
		archiveType, err := art.ArchiveType()
		if err != nil {
			return nil, nil, err
		}
		resolved = append(resolved, &ResolvedInstall{
			Manifest:    m,
			Artifact:    art,
			Target:      target,
			ArchiveType: archiveType,
		})
	}
	return resolved, graph.Tokens, nil
}

// installModeForArchiveType maps native installer formats to native install
// mode.
func installModeForArchiveType(t manifest.ArchiveType) receipt.InstallMode {
	if t.IsNativeInstaller() {
		return receipt.InstallModeNative
	}
	return receipt.InstallModeManaged
}

// enforceNoDowngrades fails a plan that would lower any installed version.
func enforceNoDowngrades(receipts []*receipt.InstallReceipt, resolved []*ResolvedInstall, operation string) error {
	for _, r := range receipts {
		var candidate *ResolvedInstall
		for _, entry := range resolved {
			if entry.Manifest.Name == r.Name {
				candidate = entry
				break
			}
		}
		if candidate == nil {
			continue
		}

		current, err := semver.NewVersion(r.Version)
		if err != nil {
			return fmt.Errorf("installed receipt for '%s' has invalid version: %s: %w", r.Name, r.Version, err)
		}
		if candidate.Manifest.Version.LessThan(current) {
			return fmt.Errorf("%s would downgrade '%s' from %s to %s; run `crosspack install '%s@=%s'` to perform an explicit downgrade",
				operation, r.Name, r.Version, candidate.Manifest.Version, r.Name, candidate.Manifest.Version)
		}
	}
	return nil
}

// collectReplacementReceipts returns the installed receipts a manifest's
// replaces map matches, sorted by name. An installed receipt named in
// replaces but carrying an unparseable version fails the preflight.
func collectReplacementReceipts(m *manifest.PackageManifest, receipts []*receipt.InstallReceipt) ([]*receipt.InstallReceipt, error) {
	var matched []*receipt.InstallReceipt
	for _, r := range receipts {
		requirement, ok := m.Replaces[r.Name]
		if !ok {
			continue
		}
		installed, err := semver.NewVersion(r.Version)
		if err != nil {
			return nil, fmt.Errorf("installed receipt for '%s' has invalid version for replacement preflight: %s",
				r.Name, r.Version)
		}
		if requirement.Check(installed) {
			matched = append(matched, r)
		}
	}
	return matched, nil
}

// determineInstallReason promotes replacement targets that were roots and
// keeps an existing receipt's reason on reinstall.
func determineInstallReason(
	pkg string,
	rootNames []string,
	existing []*receipt.InstallReceipt,
	replacements []*receipt.InstallReceipt,
) receipt.InstallReason {
	for _, root := range rootNames {
		if root == pkg {
			return receipt.InstallReasonRoot
		}
	}

	promotes := false
	for _, r := range replacements {
		if r.InstallReason == receipt.InstallReasonRoot {
			promotes = true
			break
		}
	}

	for _, r := range existing {
		if r.Name == pkg {
			if promotes {
				return receipt.InstallReasonRoot
			}
			return r.InstallReason
		}
	}
	if promotes {
		return receipt.InstallReasonRoot
	}
	return receipt.InstallReasonDependency
}

// buildDependencyReceipts renders "name@version" strings for the resolved
// dependencies of one package, sorted.
func buildDependencyReceipts(resolved *ResolvedInstall, selected []*ResolvedInstall) []string {
	var deps []string
	for _, depName := range resolved.Manifest.DependencyNames() {
		for _, candidate := range selected {
			if candidate.Manifest.Name == depName {
				deps = append(deps, fmt.Sprintf("%s@%s", candidate.Manifest.Name, candidate.Manifest.Version))
				break
			}
		}
	}
	return deps
}

// buildPlannedDependencyOverrides maps each planned package to its declared
// dependency names, so uninstall preflight can treat packages about to be
// installed as already satisfying dependency edges.
func buildPlannedDependencyOverrides(selected []*ResolvedInstall) map[string][]string {
	overrides := make(map[string][]string, len(selected))
	for _, pkg := range selected {
		overrides[pkg.Manifest.Name] = pkg.Manifest.DependencyNames()
	}
	return overrides
}

// CurrentExecutable resolves the running binary for the self-update
// preflight carve-out.
func CurrentExecutable() string {
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	return exe
}

// downloadContext returns the context downloads run under. Cancellation is
// not wired through the CLI yet; external process failures propagate through
// the failure policy instead.
func downloadContext() context.Context { return context.Background() }
