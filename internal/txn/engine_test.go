package txn

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/crosspack-dev/crosspack/internal/log"
	"github.com/crosspack-dev/crosspack/internal/native"
	"github.com/crosspack-dev/crosspack/internal/prefix"
	"github.com/crosspack-dev/crosspack/internal/receipt"
	"github.com/crosspack-dev/crosspack/internal/testutil"
)

func newTestEngine(t *testing.T) (*Engine, *prefix.Layout, *receipt.Store) {
	t.Helper()
	layout := testutil.NewTestLayout(t)
	store := receipt.NewStore(layout)
	registrar := native.NewRegistrar(layout, store, log.NewNoop())
	snapshotter := NewSnapshotter(layout, store, registrar)
	return NewEngine(layout, snapshotter, log.NewNoop()), layout, store
}

func TestEngine_BeginClaimsExclusiveMarker(t *testing.T) {
	engine, layout, _ := newTestEngine(t)

	tx, err := engine.Begin("install", "")
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}

	_, err = engine.Begin("install", "")
	if err == nil || !strings.Contains(err.Error(), "active transaction marker already exists") {
		t.Fatalf("second Begin() error = %v", err)
	}
	if !strings.Contains(err.Error(), tx.Txid) {
		t.Errorf("error %q does not name the holding txid", err)
	}

	active, err := ReadActive(layout)
	if err != nil {
		t.Fatalf("ReadActive() error = %v", err)
	}
	if active != tx.Txid {
		t.Errorf("active marker = %s, want %s", active, tx.Txid)
	}
}

func TestEngine_RunCommitsAndClearsMarker(t *testing.T) {
	engine, layout, _ := newTestEngine(t)

	var txid string
	err := engine.Run("install", "git:0123", func(tx *Metadata, journal *Journal) error {
		txid = tx.Txid
		return journal.Append(StepApplyComplete, "")
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	metadata, err := ReadMetadata(layout, txid)
	if err != nil {
		t.Fatalf("ReadMetadata() error = %v", err)
	}
	if metadata.Status != StatusCommitted {
		t.Errorf("Status = %s, want committed", metadata.Status)
	}
	active, err := ReadActive(layout)
	if err != nil {
		t.Fatalf("ReadActive() error = %v", err)
	}
	if active != "" {
		t.Errorf("active marker = %q, want cleared", active)
	}
	if _, err := os.Stat(layout.TransactionStagingPath(txid)); !os.IsNotExist(err) {
		t.Error("staging directory survived commit")
	}
}

func TestEngine_RunFailureLeavesFailedStatus(t *testing.T) {
	engine, layout, _ := newTestEngine(t)

	var txid string
	err := engine.Run("install", "", func(tx *Metadata, journal *Journal) error {
		txid = tx.Txid
		return errors.New("boom")
	})
	if err == nil {
		t.Fatal("Run() error = nil")
	}

	metadata, err := ReadMetadata(layout, txid)
	if err != nil {
		t.Fatalf("ReadMetadata() error = %v", err)
	}
	if metadata.Status != StatusFailed {
		t.Errorf("Status = %s, want failed", metadata.Status)
	}
	active, err := ReadActive(layout)
	if err != nil {
		t.Fatalf("ReadActive() error = %v", err)
	}
	if active != txid {
		t.Errorf("active marker = %q, want %s", active, txid)
	}

	if err := engine.EnsureNoActive("install"); err == nil {
		t.Error("EnsureNoActive() passed with a failed transaction pending")
	} else if !strings.Contains(err.Error(), "reason=failed") {
		t.Errorf("EnsureNoActive() error = %v", err)
	}
}

// installLikeMutation simulates the mutating part of an install: a package
// tree, an exposed binary, and a receipt, with the journal rows a real
// install writes.
func installLikeMutation(t *testing.T, engine *Engine, layout *prefix.Layout, store *receipt.Store) string {
	t.Helper()
	var txid string
	err := engine.Run("install", "", func(tx *Metadata, journal *Journal) error {
		txid = tx.Txid
		snapshotPath, err := engine.Snapshotter().Capture(tx.Txid, "ripgrep")
		if err != nil {
			return err
		}
		if err := journal.Append(BackupPackageStep("ripgrep"), snapshotPath); err != nil {
			return err
		}
		if err := journal.Append(PackageApplyStep("install", "ripgrep", false), "ripgrep"); err != nil {
			return err
		}

		installRoot := layout.PackageDir("ripgrep", "14.1.0")
		if err := os.MkdirAll(installRoot, 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(installRoot, "rg"), []byte("elf"), 0o755); err != nil {
			return err
		}
		if err := os.Symlink(filepath.Join(installRoot, "rg"), layout.BinPath("rg")); err != nil {
			return err
		}
		if _, err := store.WriteReceipt(&receipt.InstallReceipt{
			Name: "ripgrep", Version: "14.1.0", ExposedBins: []string{"rg"},
		}); err != nil {
			return err
		}

		// Crash before apply_complete.
		return errors.New("simulated crash")
	})
	if err == nil {
		t.Fatal("Run() error = nil, want simulated crash")
	}
	return txid
}

func TestEngine_RollbackReplaysJournal(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink fixture is POSIX-only")
	}
	engine, layout, store := newTestEngine(t)
	txid := installLikeMutation(t, engine, layout, store)

	outcome, err := engine.Rollback(txid)
	if err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}
	if !outcome.RolledBack {
		t.Fatal("Rollback() did not replay")
	}

	metadata, err := ReadMetadata(layout, txid)
	if err != nil {
		t.Fatalf("ReadMetadata() error = %v", err)
	}
	if metadata.Status != StatusRolledBack {
		t.Errorf("Status = %s, want rolled_back", metadata.Status)
	}

	if _, err := os.Stat(layout.PackageRoot("ripgrep")); !os.IsNotExist(err) {
		t.Error("package tree survived rollback")
	}
	if _, err := os.Lstat(layout.BinPath("rg")); !os.IsNotExist(err) {
		t.Error("exposed binary survived rollback")
	}
	r, err := store.ReadReceipt("ripgrep")
	if err != nil {
		t.Fatalf("ReadReceipt() error = %v", err)
	}
	if r != nil {
		t.Error("receipt survived rollback")
	}

	active, err := ReadActive(layout)
	if err != nil {
		t.Fatalf("ReadActive() error = %v", err)
	}
	if active != "" {
		t.Errorf("active marker = %q after rollback", active)
	}
}

func TestEngine_RepairRollsBackInterruptedTransaction(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink fixture is POSIX-only")
	}
	engine, layout, store := newTestEngine(t)
	txid := installLikeMutation(t, engine, layout, store)

	outcome, err := engine.Repair()
	if err != nil {
		t.Fatalf("Repair() error = %v", err)
	}
	if !outcome.RolledBack || outcome.Txid != txid {
		t.Errorf("Repair() outcome = %+v", outcome)
	}

	metadata, err := ReadMetadata(layout, txid)
	if err != nil {
		t.Fatalf("ReadMetadata() error = %v", err)
	}
	if metadata.Status != StatusRolledBack {
		t.Errorf("Status = %s", metadata.Status)
	}

	// Repair is idempotent: a second run on the clean prefix is a no-op.
	second, err := engine.Repair()
	if err != nil {
		t.Fatalf("second Repair() error = %v", err)
	}
	if second.RolledBack || second.ClearedMarker {
		t.Errorf("second Repair() outcome = %+v", second)
	}
}

func TestEngine_RollbackOfCommittedIsNoOp(t *testing.T) {
	engine, layout, _ := newTestEngine(t)

	var txid string
	if err := engine.Run("install", "", func(tx *Metadata, journal *Journal) error {
		txid = tx.Txid
		return journal.Append(StepApplyComplete, "")
	}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	outcome, err := engine.Rollback(txid)
	if err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}
	if outcome.RolledBack {
		t.Error("Rollback() replayed a committed transaction")
	}

	metadata, err := ReadMetadata(layout, txid)
	if err != nil {
		t.Fatalf("ReadMetadata() error = %v", err)
	}
	if metadata.Status != StatusCommitted {
		t.Errorf("Status = %s", metadata.Status)
	}
}

func TestEngine_RepairClearsStaleMarkerWithoutMetadata(t *testing.T) {
	engine, layout, _ := newTestEngine(t)

	if err := SetActive(layout, "tx-1-999999"); err != nil {
		t.Fatalf("SetActive() error = %v", err)
	}
	outcome, err := engine.Repair()
	if err != nil {
		t.Fatalf("Repair() error = %v", err)
	}
	if !outcome.ClearedMarker {
		t.Errorf("Repair() outcome = %+v", outcome)
	}
	active, err := ReadActive(layout)
	if err != nil {
		t.Fatalf("ReadActive() error = %v", err)
	}
	if active != "" {
		t.Error("stale marker survived repair")
	}
}
