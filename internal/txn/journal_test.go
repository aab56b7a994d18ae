package txn

import (
	"testing"

	"github.com/crosspack-dev/crosspack/internal/testutil"
)

func TestJournal_AppendAndReadSorted(t *testing.T) {
	layout := testutil.NewTestLayout(t)
	journal := NewJournal(layout, "tx-1-1")

	steps := []string{
		BackupPackageStep("ripgrep"),
		PackageApplyStep("install", "ripgrep", false),
		StepApplyComplete,
	}
	for _, step := range steps {
		if err := journal.Append(step, ""); err != nil {
			t.Fatalf("Append(%s) error = %v", step, err)
		}
	}

	records, err := ReadJournalRecords(layout, "tx-1-1")
	if err != nil {
		t.Fatalf("ReadJournalRecords() error = %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("record count = %d", len(records))
	}
	for i, record := range records {
		if record.Seq != uint64(i+1) {
			t.Errorf("seq[%d] = %d", i, record.Seq)
		}
		if record.Step != steps[i] {
			t.Errorf("step[%d] = %s, want %s", i, record.Step, steps[i])
		}
		if record.State != JournalStateDone {
			t.Errorf("state[%d] = %s", i, record.State)
		}
	}
}

func TestReadJournalRecords_MissingJournalIsEmpty(t *testing.T) {
	layout := testutil.NewTestLayout(t)
	records, err := ReadJournalRecords(layout, "tx-9-9")
	if err != nil {
		t.Fatalf("ReadJournalRecords() error = %v", err)
	}
	if len(records) != 0 {
		t.Errorf("records = %v", records)
	}
}

func TestStepNameHelpers(t *testing.T) {
	if got := PackageApplyStep("install", "rg", false); got != "install_package:rg" {
		t.Errorf("PackageApplyStep() = %s", got)
	}
	if got := PackageApplyStep("upgrade", "rg", true); got != "upgrade_native_package:rg" {
		t.Errorf("PackageApplyStep() = %s", got)
	}

	for step, want := range map[string]string{
		"install_package:rg":        "rg",
		"install_native_package:rg": "rg",
		"upgrade_package:rg":        "rg",
		"uninstall_target:rg":       "rg",
		"prune_dependency:dep":      "dep",
		"resolve_plan:rg":           "",
		"apply_complete":            "",
		"backup_package_state:rg":   "",
	} {
		if got := RollbackPackageFromStep(step); got != want {
			t.Errorf("RollbackPackageFromStep(%s) = %q, want %q", step, got, want)
		}
	}

	if got := BackupPackageFromStep("backup_package_state:rg"); got != "rg" {
		t.Errorf("BackupPackageFromStep() = %s", got)
	}
	if got := BackupPackageFromStep("install_package:rg"); got != "" {
		t.Errorf("BackupPackageFromStep() = %s", got)
	}
}
