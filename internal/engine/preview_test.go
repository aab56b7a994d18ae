package engine

import (
	"strings"
	"testing"
)

func TestBuildTransactionPreview_RiskFlags(t *testing.T) {
	planned := []PlannedPackageChange{
		{Name: "new", Target: "t", NewVersion: "1.0.0"},
		{Name: "up", Target: "t", NewVersion: "2.0.0", OldVersion: "1.0.0"},
		{Name: "repl", Target: "t", NewVersion: "3.0.0",
			ReplacementRemovals: []PlannedRemoval{{Name: "old", Version: "0.9.0"}}},
	}
	preview := buildTransactionPreview("install", planned)

	flags := strings.Join(preview.RiskFlags, ",")
	for _, want := range []string{"adds", "removals", "replacements", "version-transitions", "multi-package-transaction"} {
		if !strings.Contains(flags, want) {
			t.Errorf("risk flags %q missing %s", flags, want)
		}
	}
}

func TestBuildTransactionPreview_NoChanges(t *testing.T) {
	preview := buildTransactionPreview("upgrade", []PlannedPackageChange{
		{Name: "steady", Target: "t", NewVersion: "1.0.0", OldVersion: "1.0.0"},
	})
	if len(preview.RiskFlags) != 1 || preview.RiskFlags[0] != "none" {
		t.Errorf("risk flags = %v", preview.RiskFlags)
	}
}

func TestTransactionPreview_RenderLinesStableOrder(t *testing.T) {
	planned := []PlannedPackageChange{
		{Name: "zeta", Target: "t", NewVersion: "1.0.0"},
		{Name: "alpha", Target: "t", NewVersion: "2.0.0"},
	}
	lines := buildTransactionPreview("install", planned).RenderLines()

	if lines[0] != "transaction_preview operation=install mode=dry-run" {
		t.Errorf("lines[0] = %s", lines[0])
	}
	if lines[1] != "transaction_summary adds=2 removals=0 replacements=0 transitions=0" {
		t.Errorf("lines[1] = %s", lines[1])
	}
	if lines[2] != "risk_flags=adds,multi-package-transaction" {
		t.Errorf("lines[2] = %s", lines[2])
	}
	if lines[3] != "change_add name=alpha version=2.0.0 target=t" {
		t.Errorf("lines[3] = %s", lines[3])
	}
	if lines[4] != "change_add name=zeta version=1.0.0 target=t" {
		t.Errorf("lines[4] = %s", lines[4])
	}
}
