package engine

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/crosspack-dev/crosspack/internal/expose"
	"github.com/crosspack-dev/crosspack/internal/receipt"
)

// UninstallStatus classifies the outcome of an uninstall.
type UninstallStatus string

const (
	// UninstallStatusUninstalled means the package and its state were
	// removed.
	UninstallStatusUninstalled UninstallStatus = "uninstalled"
	// UninstallStatusRepairedStaleState means only stale state was removed;
	// the package files were already missing.
	UninstallStatusRepairedStaleState UninstallStatus = "repaired-stale-state"
	// UninstallStatusNotInstalled means no receipt exists for the name.
	UninstallStatusNotInstalled UninstallStatus = "not-installed"
	// UninstallStatusBlockedByDependents means roots still require the
	// package.
	UninstallStatusBlockedByDependents UninstallStatus = "blocked-by-dependents"
)

// UninstallResult is the structured outcome surfaced to the CLI.
type UninstallResult struct {
	Name               string
	Version            string
	Status             UninstallStatus
	PrunedDependencies []string
	BlockedByRoots     []string
}

// dependencyName strips the version suffix from a "name@version" receipt
// dependency row.
func dependencyName(dep string) string {
	name, _, _ := strings.Cut(dep, "@")
	return name
}

// requiredClosure walks a root receipt's dependency closure. Planned
// dependency overrides substitute the dependency lists of packages about to
// be installed, so edges that a pending plan rewrites are evaluated against
// their future shape.
func requiredClosure(
	root *receipt.InstallReceipt,
	byName map[string]*receipt.InstallReceipt,
	plannedDependencyOverrides map[string][]string,
) map[string]bool {
	closure := make(map[string]bool)
	queue := dependencyNamesFor(root.Name, root, plannedDependencyOverrides)
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if closure[name] {
			continue
		}
		closure[name] = true
		if next, ok := byName[name]; ok {
			queue = append(queue, dependencyNamesFor(name, next, plannedDependencyOverrides)...)
		} else if planned, ok := plannedDependencyOverrides[name]; ok {
			queue = append(queue, planned...)
		}
	}
	return closure
}

func dependencyNamesFor(
	name string,
	r *receipt.InstallReceipt,
	plannedDependencyOverrides map[string][]string,
) []string {
	if planned, ok := plannedDependencyOverrides[name]; ok {
		return append([]string(nil), planned...)
	}
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.Dependencies))
	for _, dep := range r.Dependencies {
		names = append(names, dependencyName(dep))
	}
	return names
}

// uninstallBlockedByRoots lists the root receipts whose dependency closure
// still includes target, excluding ignored roots (replacement targets being
// handed off).
func (o *Orchestrator) uninstallBlockedByRoots(
	target string,
	plannedDependencyOverrides map[string][]string,
	ignoredRoots map[string]bool,
) ([]string, error) {
	receipts, err := o.store.ReadAll()
	if err != nil {
		return nil, err
	}
	byName := make(map[string]*receipt.InstallReceipt, len(receipts))
	for _, r := range receipts {
		byName[r.Name] = r
	}

	var blocked []string
	for _, r := range receipts {
		if r.InstallReason != receipt.InstallReasonRoot || r.Name == target || ignoredRoots[r.Name] {
			continue
		}
		if requiredClosure(r, byName, plannedDependencyOverrides)[target] {
			blocked = append(blocked, r.Name)
		}
	}
	sort.Strings(blocked)
	return blocked, nil
}

// removePackageState removes one installed package. The receipt goes first,
// then exposures, native registrations, and the package tree: a surviving
// receipt must never describe missing assets, and a removed receipt makes a
// crash re-runnable.
func (o *Orchestrator) removePackageState(r *receipt.InstallReceipt) error {
	if err := o.store.RemoveReceipt(r.Name); err != nil {
		return err
	}

	for _, bin := range r.ExposedBins {
		if err := expose.RemoveExposedBinary(o.layout, bin); err != nil {
			return err
		}
	}
	for _, completion := range r.ExposedCompletions {
		if err := expose.RemoveExposedCompletion(o.layout, completion); err != nil {
			return err
		}
	}

	guiAssets, err := o.store.ReadGuiState(r.Name)
	if err != nil {
		return err
	}
	for _, asset := range guiAssets {
		if err := expose.RemoveExposedGuiAsset(o.layout, asset); err != nil {
			return err
		}
	}
	if err := o.store.WriteGuiState(r.Name, nil); err != nil {
		return err
	}

	warnings, err := o.registrar.RemovePackageRegistrationsBestEffort(r.Name)
	if err != nil {
		return err
	}
	for _, warning := range warnings {
		o.logger.Warn(warning)
	}

	packageRoot := o.layout.PackageRoot(r.Name)
	if !o.layout.Contains(packageRoot) {
		return fmt.Errorf("refusing to remove package path outside prefix: %s", packageRoot)
	}
	if err := os.RemoveAll(packageRoot); err != nil {
		return fmt.Errorf("failed to remove package path: %s: %w", packageRoot, err)
	}
	return nil
}

// uninstallPackage removes target and prunes dependency-reason receipts that
// become orphans, honoring planned dependency overrides and ignored roots
// during the replacement handoff.
func (o *Orchestrator) uninstallPackage(
	target string,
	plannedDependencyOverrides map[string][]string,
	ignoredRoots map[string]bool,
) (*UninstallResult, error) {
	targetReceipt, err := o.store.ReadReceipt(target)
	if err != nil {
		return nil, err
	}
	if targetReceipt == nil {
		return &UninstallResult{Name: target, Status: UninstallStatusNotInstalled}, nil
	}

	blocked, err := o.uninstallBlockedByRoots(target, plannedDependencyOverrides, ignoredRoots)
	if err != nil {
		return nil, err
	}
	if len(blocked) > 0 {
		return &UninstallResult{
			Name:           target,
			Version:        targetReceipt.Version,
			Status:         UninstallStatusBlockedByDependents,
			BlockedByRoots: blocked,
		}, nil
	}

	packageRoot := o.layout.PackageRoot(target)
	_, statErr := os.Stat(packageRoot)
	staleState := os.IsNotExist(statErr)

	if err := o.removePackageState(targetReceipt); err != nil {
		return nil, err
	}

	pruned, err := o.pruneOrphanDependencies(plannedDependencyOverrides, ignoredRoots)
	if err != nil {
		return nil, err
	}

	status := UninstallStatusUninstalled
	if staleState {
		status = UninstallStatusRepairedStaleState
	}
	return &UninstallResult{
		Name:               target,
		Version:            targetReceipt.Version,
		Status:             status,
		PrunedDependencies: pruned,
	}, nil
}

// pruneOrphanDependencies repeatedly removes dependency-reason receipts that
// no remaining root's closure requires, until a fixpoint.
func (o *Orchestrator) pruneOrphanDependencies(
	plannedDependencyOverrides map[string][]string,
	ignoredRoots map[string]bool,
) ([]string, error) {
	var pruned []string
	for {
		receipts, err := o.store.ReadAll()
		if err != nil {
			return nil, err
		}
		byName := make(map[string]*receipt.InstallReceipt, len(receipts))
		for _, r := range receipts {
			byName[r.Name] = r
		}

		required := make(map[string]bool)
		for _, r := range receipts {
			if r.InstallReason != receipt.InstallReasonRoot || ignoredRoots[r.Name] {
				continue
			}
			for name := range requiredClosure(r, byName, plannedDependencyOverrides) {
				required[name] = true
			}
		}

		removedAny := false
		for _, r := range receipts {
			if r.InstallReason != receipt.InstallReasonDependency || required[r.Name] {
				continue
			}
			if err := o.removePackageState(r); err != nil {
				return nil, err
			}
			pruned = append(pruned, r.Name)
			removedAny = true
		}
		if !removedAny {
			break
		}
	}
	sort.Strings(pruned)
	return pruned, nil
}

// FormatUninstallMessages renders the user-facing lines for an uninstall
// result.
func FormatUninstallMessages(result *UninstallResult) []string {
	version := result.Version
	if version == "" {
		version = "unknown"
	}
	var lines []string
	switch result.Status {
	case UninstallStatusNotInstalled:
		lines = append(lines, fmt.Sprintf("%s is not installed", result.Name))
	case UninstallStatusUninstalled:
		lines = append(lines, fmt.Sprintf("uninstalled %s %s", result.Name, version))
	case UninstallStatusRepairedStaleState:
		lines = append(lines, fmt.Sprintf("removed stale state for %s %s (package files already missing)",
			result.Name, version))
	case UninstallStatusBlockedByDependents:
		lines = append(lines, fmt.Sprintf("cannot uninstall %s %s: still required by roots %s",
			result.Name, version, strings.Join(result.BlockedByRoots, ", ")))
	}
	if len(result.PrunedDependencies) > 0 {
		lines = append(lines, fmt.Sprintf("pruned orphan dependencies: %s",
			strings.Join(result.PrunedDependencies, ", ")))
	}
	return lines
}
