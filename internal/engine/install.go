package engine

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/crosspack-dev/crosspack/internal/artifact"
	"github.com/crosspack-dev/crosspack/internal/expose"
	"github.com/crosspack-dev/crosspack/internal/receipt"
	"github.com/crosspack-dev/crosspack/internal/txn"
)

// InstallOptions tunes the install flow.
type InstallOptions struct {
	DryRun            bool
	ForceRedownload   bool
	ProviderOverrides map[string]string
	Policy            artifact.InteractionPolicy
	Target            string
}

// out returns the flow output writer, defaulting to stdout.
func (o *Orchestrator) out() io.Writer {
	if o.output != nil {
		return o.output
	}
	return os.Stdout
}

// SetOutput redirects flow output; used by tests.
func (o *Orchestrator) SetOutput(w io.Writer) { o.output = w }

func (o *Orchestrator) printf(format string, args ...any) {
	fmt.Fprintf(o.out(), format+"\n", args...)
}

// Install resolves the requested specs and applies them inside one
// transaction. In dry-run mode the planned change set is printed and nothing
// mutates.
func (o *Orchestrator) Install(specs []string, opts InstallOptions) error {
	if err := o.layout.EnsureBaseDirs(); err != nil {
		return err
	}
	if err := o.engine.EnsureNoActive("install"); err != nil {
		return err
	}
	backend, err := o.SelectBackend()
	if err != nil {
		return err
	}

	roots := make([]RootRequest, 0, len(specs))
	rootNames := make([]string, 0, len(specs))
	for _, spec := range specs {
		name, requirement, err := ParseSpec(spec)
		if err != nil {
			return err
		}
		roots = append(roots, RootRequest{Name: name, Requirement: requirement})
		rootNames = append(rootNames, name)
	}

	snapshotID, err := o.resolveTransactionSnapshotID("install")
	if err != nil {
		return err
	}

	resolved, _, err := o.resolveInstallGraph(backend, roots, opts.Target, opts.ProviderOverrides, true)
	if err != nil {
		return err
	}

	receipts, err := o.store.ReadAll()
	if err != nil {
		return err
	}
	for _, pkg := range resolved {
		if err := o.validateInstallPreflight(pkg, receipts); err != nil {
			return err
		}
	}

	if opts.DryRun {
		planned, err := buildPlannedPackageChanges(resolved, receipts)
		if err != nil {
			return err
		}
		for _, line := range buildTransactionPreview("install", planned).RenderLines() {
			o.printf("%s", line)
		}
		return nil
	}

	plannedDependencyOverrides := buildPlannedDependencyOverrides(resolved)

	err = o.engine.Run("install", snapshotID, func(tx *txn.Metadata, journal *txn.Journal) error {
		for _, root := range rootNames {
			if err := journal.Append(txn.ResolvePlanStep(root), root); err != nil {
				return err
			}
		}

		for _, pkg := range resolved {
			if o.alreadyInstalled(pkg, receipts) {
				o.printf("%s %s is already installed", pkg.Manifest.Name, pkg.Manifest.Version)
				continue
			}

			snapshotPath, err := o.engine.Snapshotter().Capture(tx.Txid, pkg.Manifest.Name)
			if err != nil {
				return err
			}
			if err := journal.Append(txn.BackupPackageStep(pkg.Manifest.Name), snapshotPath); err != nil {
				return err
			}
			// The mutating step is journaled before the mutation so a crash
			// anywhere inside it replays the backup on repair.
			native := pkg.ArchiveType.IsNativeInstaller()
			if err := journal.Append(txn.PackageApplyStep("install", pkg.Manifest.Name, native), pkg.Manifest.Name); err != nil {
				return err
			}

			dependencies := buildDependencyReceipts(pkg, resolved)
			outcome, err := o.installResolved(pkg, dependencies, rootNames, plannedDependencyOverrides,
				installResolvedOptions{
					snapshotID:      snapshotID,
					forceRedownload: opts.ForceRedownload,
					policy:          opts.Policy,
				})
			if err != nil {
				return err
			}
			o.printInstallOutcome(outcome)
		}

		return journal.Append(txn.StepApplyComplete, "")
	})
	if err != nil {
		return err
	}

	o.syncCompletionAssetsBestEffort("install")
	return nil
}

// alreadyInstalled reports whether the exact resolved version is installed
// with its package tree present, making the install a no-op.
func (o *Orchestrator) alreadyInstalled(pkg *ResolvedInstall, receipts []*receipt.InstallReceipt) bool {
	for _, r := range receipts {
		if r.Name != pkg.Manifest.Name || r.Version != pkg.Manifest.Version.String() {
			continue
		}
		if _, err := os.Stat(o.layout.PackageDir(r.Name, r.Version)); err == nil {
			return true
		}
	}
	return false
}

func (o *Orchestrator) printInstallOutcome(outcome *InstallOutcome) {
	o.printf("Installed %s %s", outcome.Name, outcome.Version)
	o.printf("  resolved %s %s for %s", outcome.Name, outcome.Version, outcome.Target)
	o.printf("  archive: %s", outcome.ArchiveType)
	o.printf("  artifact: %s", outcome.ArtifactURL)
	o.printf("  cache: %s (%s)", outcome.CachePath, outcome.DownloadStatus)
	o.printf("  install_root: %s", outcome.InstallRoot)
	if len(outcome.ExposedBins) > 0 {
		o.printf("  exposed_bins: %s", strings.Join(outcome.ExposedBins, ", "))
	}
	if len(outcome.ExposedCompletions) > 0 {
		o.printf("  exposed_completions: %s", strings.Join(outcome.ExposedCompletions, ", "))
	}
	if len(outcome.ExposedGuiAssets) > 0 {
		o.printf("  exposed_gui_assets: %s", strings.Join(outcome.ExposedGuiAssets, ", "))
	}
	if len(outcome.NativeRecords) > 0 {
		o.printf("  native_gui_records: %s", strings.Join(outcome.NativeRecords, ", "))
	}
	for _, warning := range outcome.Warnings {
		o.printf("  warning: %s", warning)
	}
	o.printf("  receipt: %s", outcome.ReceiptPath)
}

// syncCompletionAssetsBestEffort re-checks that every receipt's exposed
// completion file exists and logs a warning for each one that is missing or
// has an invalid storage path. A missing file is reported only; it is not
// re-copied from the package tree. Failures never abort a committed
// transaction.
func (o *Orchestrator) syncCompletionAssetsBestEffort(operation string) {
	receipts, err := o.store.ReadAll()
	if err != nil {
		o.logger.Warn("completion sync skipped", "operation", operation, "error", err)
		return
	}
	for _, r := range receipts {
		for _, completion := range r.ExposedCompletions {
			path, err := expose.ExposedCompletionPath(o.layout, completion)
			if err != nil {
				o.logger.Warn("completion sync: invalid storage path",
					"package", r.Name, "completion", completion, "error", err)
				continue
			}
			if _, err := os.Stat(path); err != nil {
				o.logger.Warn("completion sync: exposed completion missing",
					"package", r.Name, "completion", completion)
			}
		}
	}
}
