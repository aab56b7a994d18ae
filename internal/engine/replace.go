package engine

import (
	"fmt"
	"strings"

	"github.com/crosspack-dev/crosspack/internal/receipt"
)

// applyReplacementHandoff uninstalls every installed receipt a manifest's
// replaces map matched. All targets are preflighted before any of them is
// removed: a target still required by a non-replaced root fails the whole
// handoff. Roots being replaced are ignored as dependents of one another,
// and planned dependency overrides let packages about to be installed
// satisfy dependency edges already.
func (o *Orchestrator) applyReplacementHandoff(
	replacementReceipts []*receipt.InstallReceipt,
	plannedDependencyOverrides map[string][]string,
) error {
	if len(replacementReceipts) == 0 {
		return nil
	}

	replacementRoots := make(map[string]bool)
	for _, r := range replacementReceipts {
		if r.InstallReason == receipt.InstallReasonRoot {
			replacementRoots[r.Name] = true
		}
	}

	for _, replacement := range replacementReceipts {
		blocked, err := o.uninstallBlockedByRoots(replacement.Name, plannedDependencyOverrides, replacementRoots)
		if err != nil {
			return err
		}
		if len(blocked) > 0 {
			return fmt.Errorf("replacement-still-required: cannot replace '%s' %s: still required by roots %s",
				replacement.Name, replacement.Version, strings.Join(blocked, ", "))
		}
	}

	for _, replacement := range replacementReceipts {
		result, err := o.uninstallPackage(replacement.Name, plannedDependencyOverrides, replacementRoots)
		if err != nil {
			return err
		}
		if result.Status == UninstallStatusBlockedByDependents {
			return fmt.Errorf("replacement-still-required: cannot replace '%s' %s: still required by roots %s",
				replacement.Name, replacement.Version, strings.Join(result.BlockedByRoots, ", "))
		}
	}
	return nil
}
