package engine

import (
	"fmt"

	"github.com/crosspack-dev/crosspack/internal/registry"
	"github.com/crosspack-dev/crosspack/internal/txn"
)

// Uninstall removes a named package inside a transaction, snapshotting the
// target and every installed receipt up front so dependency pruning is fully
// recoverable.
func (o *Orchestrator) Uninstall(name string) error {
	if err := o.layout.EnsureBaseDirs(); err != nil {
		return err
	}
	if err := o.engine.EnsureNoActive("uninstall"); err != nil {
		return err
	}

	err := o.engine.Run("uninstall", "", func(tx *txn.Metadata, journal *txn.Journal) error {
		receipts, err := o.store.ReadAll()
		if err != nil {
			return err
		}
		snapshotPaths := make(map[string]string, len(receipts))
		for _, r := range receipts {
			snapshotPath, err := o.engine.Snapshotter().Capture(tx.Txid, r.Name)
			if err != nil {
				return err
			}
			snapshotPaths[r.Name] = snapshotPath
		}

		result, err := o.uninstallPackage(name, nil, nil)
		if err != nil {
			return err
		}

		if snapshotPath, ok := snapshotPaths[name]; ok {
			if err := journal.Append(txn.BackupPackageStep(name), snapshotPath); err != nil {
				return err
			}
		}
		if err := journal.Append(txn.UninstallTargetStep(name), name); err != nil {
			return err
		}

		for _, dependency := range result.PrunedDependencies {
			if snapshotPath, ok := snapshotPaths[dependency]; ok {
				if err := journal.Append(txn.BackupPackageStep(dependency), snapshotPath); err != nil {
					return err
				}
			}
			if err := journal.Append(txn.PruneDependencyStep(dependency), dependency); err != nil {
				return err
			}
		}

		if err := journal.Append(txn.StepApplyComplete, ""); err != nil {
			return err
		}

		for _, line := range FormatUninstallMessages(result) {
			o.printf("%s", line)
		}
		return nil
	})
	if err != nil {
		return err
	}

	o.syncCompletionAssetsBestEffort("uninstall")
	return nil
}

// Rollback exposes the engine's rollback directly. An empty txid targets the
// active transaction or the latest rollback candidate.
func (o *Orchestrator) Rollback(txid string) error {
	if err := o.layout.EnsureBaseDirs(); err != nil {
		return err
	}

	outcome, err := o.engine.Rollback(txid)
	if err != nil {
		return err
	}
	if !outcome.RolledBack {
		o.printf("no rollback needed")
		return nil
	}

	o.syncCompletionAssetsBestEffort("rollback")
	o.printf("rolled back %s", outcome.Txid)
	return nil
}

// Repair recovers an interrupted prefix and is idempotent on a clean one.
func (o *Orchestrator) Repair() error {
	if err := o.layout.EnsureBaseDirs(); err != nil {
		return err
	}

	outcome, err := o.engine.Repair()
	if err != nil {
		return err
	}
	switch {
	case outcome.RolledBack:
		o.printf("recovered interrupted transaction %s: rolled back", outcome.Txid)
	case outcome.ClearedMarker:
		o.printf("repair: cleared stale marker %s", outcome.Txid)
	default:
		o.printf("repair: no action needed")
	}
	return nil
}

// Doctor prints the transaction health line.
func (o *Orchestrator) Doctor() error {
	if err := o.layout.EnsureBaseDirs(); err != nil {
		return err
	}
	line, err := o.engine.HealthLine()
	if err != nil {
		return err
	}
	o.printf("%s", line)
	return nil
}

// Update syncs the named sources (or all enabled ones) and prints the
// per-source report. Any failed source makes the command fail after the full
// report is printed.
func (o *Orchestrator) Update(names []string) error {
	if err := o.layout.EnsureBaseDirs(); err != nil {
		return err
	}

	updater := registry.NewUpdater(o.layout, o.sources, o.logger)
	results, err := updater.UpdateSources(names)
	if err != nil {
		return err
	}

	updated, upToDate, failed := 0, 0, 0
	for _, result := range results {
		switch result.Status {
		case registry.UpdateStatusUpdated:
			updated++
			o.printf("%s: Updated (snapshot=%s)", result.Source, result.SnapshotID)
		case registry.UpdateStatusUpToDate:
			upToDate++
			o.printf("%s: UpToDate (snapshot=%s)", result.Source, result.SnapshotID)
		case registry.UpdateStatusFailed:
			failed++
			o.printf("%s: Failed (reason=%s)", result.Source, result.Reason)
			if result.Err != nil {
				o.printf("  %v", result.Err)
			}
		}
	}
	o.printf("updated=%d up-to-date=%d failed=%d", updated, upToDate, failed)

	if failed > 0 {
		return fmt.Errorf("update failed for %d source(s)", failed)
	}
	return nil
}
