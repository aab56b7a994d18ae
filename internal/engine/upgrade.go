package engine

import (
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"

	"github.com/crosspack-dev/crosspack/internal/artifact"
	"github.com/crosspack-dev/crosspack/internal/receipt"
	"github.com/crosspack-dev/crosspack/internal/registry"
	"github.com/crosspack-dev/crosspack/internal/resolver"
	"github.com/crosspack-dev/crosspack/internal/txn"
)

// UpgradeOptions tunes the upgrade flow.
type UpgradeOptions struct {
	// Spec bounds the upgrade to one installed root; empty upgrades the full
	// prefix.
	Spec              string
	DryRun            bool
	ProviderOverrides map[string]string
	Policy            artifact.InteractionPolicy
}

// upgradePlan groups root receipts of one target triple.
type upgradePlan struct {
	target    string
	roots     []RootRequest
	rootNames []string
}

// buildUpgradePlans groups root-reason receipts by target for a full-prefix
// upgrade.
func buildUpgradePlans(receipts []*receipt.InstallReceipt) []upgradePlan {
	grouped := make(map[string][]string)
	for _, r := range receipts {
		if r.InstallReason != receipt.InstallReasonRoot {
			continue
		}
		grouped[r.Target] = append(grouped[r.Target], r.Name)
	}

	targets := make([]string, 0, len(grouped))
	for target := range grouped {
		targets = append(targets, target)
	}
	sort.Strings(targets)

	anyVersion, _ := semver.NewConstraint("*")
	plans := make([]upgradePlan, 0, len(targets))
	for _, target := range targets {
		names := grouped[target]
		sort.Strings(names)
		names = dedupeSorted(names)
		roots := make([]RootRequest, 0, len(names))
		for _, name := range names {
			roots = append(roots, RootRequest{Name: name, Requirement: anyVersion})
		}
		plans = append(plans, upgradePlan{target: target, roots: roots, rootNames: names})
	}
	return plans
}

func dedupeSorted(values []string) []string {
	kept := values[:0]
	for i, value := range values {
		if i == 0 || values[i-1] != value {
			kept = append(kept, value)
		}
	}
	return kept
}

// enforceDisjointMultiTargetUpgrade fails when a package appears in more
// than one target group: install state is keyed by package name alone.
func enforceDisjointMultiTargetUpgrade(resolvedByTarget []upgradeGroup) error {
	packageTargets := make(map[string]string)
	for _, group := range resolvedByTarget {
		targetName := group.plan.target
		if targetName == "" {
			targetName = "host-default"
		}
		for _, pkg := range group.resolved {
			name := pkg.Manifest.Name
			if previous, ok := packageTargets[name]; ok && previous != targetName {
				return fmt.Errorf("upgrade cannot safely process package '%s' across multiple targets (%s and %s); install state is currently keyed by package name. Use separate prefixes for cross-target installs.",
					name, previous, targetName)
			}
			packageTargets[name] = targetName
		}
	}
	return nil
}

type upgradeGroup struct {
	plan     upgradePlan
	resolved []*ResolvedInstall
}

// NoRootPackagesToUpgrade is printed when no receipt carries root reason.
const NoRootPackagesToUpgrade = "No root packages to upgrade"

// Upgrade upgrades one named root or the full prefix, refusing downgrades
// and overlapping multi-target package sets.
func (o *Orchestrator) Upgrade(opts UpgradeOptions) error {
	if err := o.layout.EnsureBaseDirs(); err != nil {
		return err
	}
	if err := o.engine.EnsureNoActive("upgrade"); err != nil {
		return err
	}
	backend, err := o.SelectBackend()
	if err != nil {
		return err
	}

	receipts, err := o.store.ReadAll()
	if err != nil {
		return err
	}
	if len(receipts) == 0 {
		o.printf("No installed packages")
		return nil
	}

	snapshotID, err := o.resolveTransactionSnapshotID("upgrade")
	if err != nil {
		return err
	}

	groups, installedRoot, err := o.resolveUpgradeGroups(backend, receipts, opts)
	if err != nil {
		return err
	}
	if groups == nil {
		// Single-spec upgrade of a package that is not installed, or a
		// full-prefix upgrade with no root packages.
		return nil
	}

	for _, group := range groups {
		for _, pkg := range group.resolved {
			if err := o.validateInstallPreflight(pkg, receipts); err != nil {
				return err
			}
		}
	}

	if opts.DryRun {
		var planned []PlannedPackageChange
		for _, group := range groups {
			groupPlanned, err := buildPlannedPackageChanges(group.resolved, receipts)
			if err != nil {
				return err
			}
			planned = append(planned, groupPlanned...)
		}
		for _, line := range buildTransactionPreview("upgrade", planned).RenderLines() {
			o.printf("%s", line)
		}
		return nil
	}

	err = o.engine.Run("upgrade", snapshotID, func(tx *txn.Metadata, journal *txn.Journal) error {
		for _, group := range groups {
			planKey := group.plan.target
			if planKey == "" {
				planKey = "host"
			}
			if installedRoot != "" {
				planKey = installedRoot
			}
			if err := journal.Append(txn.ResolvePlanStep(planKey), planKey); err != nil {
				return err
			}

			plannedDependencyOverrides := buildPlannedDependencyOverrides(group.resolved)
			for _, pkg := range group.resolved {
				if old := findReceipt(receipts, pkg.Manifest.Name); old != nil {
					oldVersion, err := semver.NewVersion(old.Version)
					if err != nil {
						return fmt.Errorf("installed receipt for '%s' has invalid version: %s: %w",
							old.Name, old.Version, err)
					}
					if !pkg.Manifest.Version.GreaterThan(oldVersion) {
						o.printf("%s is up-to-date (%s)", pkg.Manifest.Name, old.Version)
						continue
					}
				}

				snapshotPath, err := o.engine.Snapshotter().Capture(tx.Txid, pkg.Manifest.Name)
				if err != nil {
					return err
				}
				if err := journal.Append(txn.BackupPackageStep(pkg.Manifest.Name), snapshotPath); err != nil {
					return err
				}
				native := pkg.ArchiveType.IsNativeInstaller()
				if err := journal.Append(txn.PackageApplyStep("upgrade", pkg.Manifest.Name, native), pkg.Manifest.Name); err != nil {
					return err
				}

				dependencies := buildDependencyReceipts(pkg, group.resolved)
				outcome, err := o.installResolved(pkg, dependencies, group.plan.rootNames, plannedDependencyOverrides,
					installResolvedOptions{snapshotID: snapshotID, policy: opts.Policy})
				if err != nil {
					return err
				}

				if old := findReceipt(receipts, pkg.Manifest.Name); old != nil {
					o.printf("upgraded %s from %s to %s", pkg.Manifest.Name, old.Version, pkg.Manifest.Version)
				} else {
					o.printf("installed dependency %s %s", pkg.Manifest.Name, pkg.Manifest.Version)
				}
				o.printf("  receipt: %s", outcome.ReceiptPath)
			}
		}

		return journal.Append(txn.StepApplyComplete, "")
	})
	if err != nil {
		return err
	}

	o.syncCompletionAssetsBestEffort("upgrade")
	return nil
}

// resolveUpgradeGroups resolves either the single bounded root or the
// grouped full-prefix plans, enforcing no-downgrades and override usage. A
// nil group slice with nil error means the single spec was not installed or
// the full prefix has no root packages to upgrade.
func (o *Orchestrator) resolveUpgradeGroups(
	backend registry.MetadataBackend,
	receipts []*receipt.InstallReceipt,
	opts UpgradeOptions,
) ([]upgradeGroup, string, error) {
	if opts.Spec != "" {
		name, requirement, err := ParseSpec(opts.Spec)
		if err != nil {
			return nil, "", err
		}
		installed := findReceipt(receipts, name)
		if installed == nil {
			o.printf("%s is not installed", name)
			return nil, "", nil
		}

		roots := []RootRequest{{Name: installed.Name, Requirement: requirement}}
		resolved, _, err := o.resolveInstallGraph(backend, roots, installed.Target, opts.ProviderOverrides, true)
		if err != nil {
			return nil, "", err
		}
		if err := enforceNoDowngrades(receipts, resolved, "upgrade"); err != nil {
			return nil, "", err
		}
		plan := upgradePlan{target: installed.Target, roots: roots}
		return []upgradeGroup{{plan: plan, resolved: resolved}}, installed.Name, nil
	}

	plans := buildUpgradePlans(receipts)
	if len(plans) == 0 {
		o.printf("%s", NoRootPackagesToUpgrade)
		return nil, "", nil
	}

	var groups []upgradeGroup
	tokens := make(map[string]bool)
	for _, plan := range plans {
		resolved, planTokens, err := o.resolveInstallGraph(backend, plan.roots, plan.target, opts.ProviderOverrides, false)
		if err != nil {
			return nil, "", err
		}
		if err := enforceNoDowngrades(receipts, resolved, "upgrade"); err != nil {
			return nil, "", err
		}
		for token := range planTokens {
			tokens[token] = true
		}
		groups = append(groups, upgradeGroup{plan: plan, resolved: resolved})
	}

	// An override consumed by any per-target plan counts as used.
	if err := resolver.ValidateOverridesUsed(opts.ProviderOverrides, tokens); err != nil {
		return nil, "", err
	}
	if err := enforceDisjointMultiTargetUpgrade(groups); err != nil {
		return nil, "", err
	}
	return groups, "", nil
}

func findReceipt(receipts []*receipt.InstallReceipt, name string) *receipt.InstallReceipt {
	for _, r := range receipts {
		if r.Name == name {
			return r
		}
	}
	return nil
}
