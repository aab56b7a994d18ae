package engine

import (
	"fmt"
	"sort"

	"github.com/crosspack-dev/crosspack/internal/receipt"
)

// PlannedRemoval is a package removed by the plan (a replacement target).
type PlannedRemoval struct {
	Name    string
	Version string
}

// PlannedReplacement pairs a removed package with its successor.
type PlannedReplacement struct {
	FromName    string
	FromVersion string
	ToName      string
	ToVersion   string
}

// PlannedTransition is an in-place version change.
type PlannedTransition struct {
	Name        string
	FromVersion string
	ToVersion   string
}

// PlannedAdd is a package newly added by the plan.
type PlannedAdd struct {
	Name    string
	Version string
	Target  string
}

// PlannedPackageChange is the per-package view of a plan against the current
// receipts.
type PlannedPackageChange struct {
	Name                string
	Target              string
	NewVersion          string
	OldVersion          string
	ReplacementRemovals []PlannedRemoval
}

// TransactionPreview is the deterministic change set printed by --dry-run.
type TransactionPreview struct {
	Operation    string
	Adds         []PlannedAdd
	Removals     []PlannedRemoval
	Replacements []PlannedReplacement
	Transitions  []PlannedTransition
	RiskFlags    []string
}

// buildPlannedPackageChanges diffs a resolved plan against current receipts.
func buildPlannedPackageChanges(resolved []*ResolvedInstall, receipts []*receipt.InstallReceipt) ([]PlannedPackageChange, error) {
	planned := make([]PlannedPackageChange, 0, len(resolved))
	for _, pkg := range resolved {
		replacements, err := collectReplacementReceipts(pkg.Manifest, receipts)
		if err != nil {
			return nil, err
		}
		var removals []PlannedRemoval
		for _, r := range replacements {
			removals = append(removals, PlannedRemoval{Name: r.Name, Version: r.Version})
		}

		oldVersion := ""
		for _, r := range receipts {
			if r.Name == pkg.Manifest.Name {
				oldVersion = r.Version
				break
			}
		}
		planned = append(planned, PlannedPackageChange{
			Name:                pkg.Manifest.Name,
			Target:              pkg.Target,
			NewVersion:          pkg.Manifest.Version.String(),
			OldVersion:          oldVersion,
			ReplacementRemovals: removals,
		})
	}

	sort.Slice(planned, func(i, j int) bool { return planned[i].Name < planned[j].Name })
	return planned, nil
}

// buildTransactionPreview aggregates planned changes into the dry-run change
// set with its risk flags.
func buildTransactionPreview(operation string, planned []PlannedPackageChange) *TransactionPreview {
	var adds []PlannedAdd
	var transitions []PlannedTransition
	removalSet := make(map[PlannedRemoval]bool)
	replacementSet := make(map[PlannedReplacement]bool)

	for _, pkg := range planned {
		if pkg.OldVersion == "" {
			adds = append(adds, PlannedAdd{Name: pkg.Name, Version: pkg.NewVersion, Target: pkg.Target})
		} else if pkg.OldVersion != pkg.NewVersion {
			transitions = append(transitions, PlannedTransition{
				Name: pkg.Name, FromVersion: pkg.OldVersion, ToVersion: pkg.NewVersion,
			})
		}
		for _, removal := range pkg.ReplacementRemovals {
			removalSet[removal] = true
			replacementSet[PlannedReplacement{
				FromName: removal.Name, FromVersion: removal.Version,
				ToName: pkg.Name, ToVersion: pkg.NewVersion,
			}] = true
		}
	}

	removals := make([]PlannedRemoval, 0, len(removalSet))
	for removal := range removalSet {
		removals = append(removals, removal)
	}
	replacements := make([]PlannedReplacement, 0, len(replacementSet))
	for replacement := range replacementSet {
		replacements = append(replacements, replacement)
	}

	sort.Slice(adds, func(i, j int) bool {
		if adds[i].Name != adds[j].Name {
			return adds[i].Name < adds[j].Name
		}
		return adds[i].Version < adds[j].Version
	})
	sort.Slice(removals, func(i, j int) bool {
		if removals[i].Name != removals[j].Name {
			return removals[i].Name < removals[j].Name
		}
		return removals[i].Version < removals[j].Version
	})
	sort.Slice(replacements, func(i, j int) bool {
		if replacements[i].FromName != replacements[j].FromName {
			return replacements[i].FromName < replacements[j].FromName
		}
		return replacements[i].ToName < replacements[j].ToName
	})
	sort.Slice(transitions, func(i, j int) bool { return transitions[i].Name < transitions[j].Name })

	riskSet := make(map[string]bool)
	if len(adds) > 0 {
		riskSet["adds"] = true
	}
	if len(removals) > 0 {
		riskSet["removals"] = true
	}
	if len(replacements) > 0 {
		riskSet["replacements"] = true
	}
	if len(transitions) > 0 {
		riskSet["version-transitions"] = true
	}
	mutating := make(map[string]bool)
	for _, pkg := range planned {
		if pkg.OldVersion == "" || pkg.OldVersion != pkg.NewVersion || len(pkg.ReplacementRemovals) > 0 {
			mutating[pkg.Name] = true
		}
	}
	if len(mutating) > 1 {
		riskSet["multi-package-transaction"] = true
	}
	if len(riskSet) == 0 {
		riskSet["none"] = true
	}
	riskFlags := make([]string, 0, len(riskSet))
	for flag := range riskSet {
		riskFlags = append(riskFlags, flag)
	}
	sort.Strings(riskFlags)

	return &TransactionPreview{
		Operation:    operation,
		Adds:         adds,
		Removals:     removals,
		Replacements: replacements,
		Transitions:  transitions,
		RiskFlags:    riskFlags,
	}
}

// RenderLines renders the machine-parseable dry-run output in stable order.
func (p *TransactionPreview) RenderLines() []string {
	lines := []string{
		fmt.Sprintf("transaction_preview operation=%s mode=dry-run", p.Operation),
		fmt.Sprintf("transaction_summary adds=%d removals=%d replacements=%d transitions=%d",
			len(p.Adds), len(p.Removals), len(p.Replacements), len(p.Transitions)),
		"risk_flags=" + joinComma(p.RiskFlags),
	}
	for _, add := range p.Adds {
		lines = append(lines, fmt.Sprintf("change_add name=%s version=%s target=%s",
			add.Name, add.Version, add.Target))
	}
	for _, removal := range p.Removals {
		lines = append(lines, fmt.Sprintf("change_remove name=%s version=%s reason=replacement",
			removal.Name, removal.Version))
	}
	for _, replacement := range p.Replacements {
		lines = append(lines, fmt.Sprintf("change_replace from=%s@%s to=%s@%s",
			replacement.FromName, replacement.FromVersion, replacement.ToName, replacement.ToVersion))
	}
	for _, transition := range p.Transitions {
		lines = append(lines, fmt.Sprintf("change_transition name=%s from=%s to=%s",
			transition.Name, transition.FromVersion, transition.ToVersion))
	}
	return lines
}

func joinComma(values []string) string {
	out := ""
	for i, value := range values {
		if i > 0 {
			out += ","
		}
		out += value
	}
	return out
}
