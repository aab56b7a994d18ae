package txn

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/crosspack-dev/crosspack/internal/log"
	"github.com/crosspack-dev/crosspack/internal/native"
	"github.com/crosspack-dev/crosspack/internal/prefix"
	"github.com/crosspack-dev/crosspack/internal/receipt"
	"github.com/crosspack-dev/crosspack/internal/testutil"
)

func newTestSnapshotter(t *testing.T) (*Snapshotter, *prefix.Layout, *receipt.Store) {
	t.Helper()
	layout := testutil.NewTestLayout(t)
	store := receipt.NewStore(layout)
	registrar := native.NewRegistrar(layout, store, log.NewNoop())
	return NewSnapshotter(layout, store, registrar), layout, store
}

// seedInstalledPackage lays down an installed ripgrep with a package tree,
// receipt, exposed bin, and gui state.
func seedInstalledPackage(t *testing.T, layout *prefix.Layout, store *receipt.Store) {
	t.Helper()
	installRoot := layout.PackageDir("ripgrep", "14.1.0")
	if err := os.MkdirAll(installRoot, 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(installRoot, "rg"), []byte("elf-v1"), 0o755); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := os.Symlink(filepath.Join(installRoot, "rg"), layout.BinPath("rg")); err != nil {
		t.Fatalf("Symlink() error = %v", err)
	}
	if _, err := store.WriteReceipt(&receipt.InstallReceipt{
		Name: "ripgrep", Version: "14.1.0", ExposedBins: []string{"rg"},
	}); err != nil {
		t.Fatalf("WriteReceipt() error = %v", err)
	}
	if err := store.WriteGuiState("ripgrep", []receipt.GuiAsset{
		{Key: "app:rg-gui", RelPath: "launchers/ripgrep--rg-gui.desktop"},
	}); err != nil {
		t.Fatalf("WriteGuiState() error = %v", err)
	}
	guiPath := filepath.Join(layout.GuiDir(), "launchers", "ripgrep--rg-gui.desktop")
	if err := os.MkdirAll(filepath.Dir(guiPath), 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(guiPath, []byte("[Desktop Entry]\n"), 0o755); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}

func TestSnapshotter_CaptureRecordsState(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink fixture is POSIX-only")
	}
	snapshotter, layout, store := newTestSnapshotter(t)
	seedInstalledPackage(t, layout, store)

	snapshotRoot, err := snapshotter.Capture("tx-1-1", "ripgrep")
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}

	manifest, err := ReadSnapshotManifest(snapshotRoot)
	if err != nil {
		t.Fatalf("ReadSnapshotManifest() error = %v", err)
	}
	if !manifest.PackageExists || !manifest.ReceiptExists {
		t.Errorf("manifest = %+v", manifest)
	}
	if len(manifest.Bins) != 1 || manifest.Bins[0] != "rg" {
		t.Errorf("manifest bins = %v", manifest.Bins)
	}
	if len(manifest.GuiAssets) != 1 || manifest.GuiAssets[0].Key != "app:rg-gui" {
		t.Errorf("manifest gui assets = %v", manifest.GuiAssets)
	}
	if manifest.NativeSidecarExists {
		t.Error("manifest claims a native sidecar that does not exist")
	}
}

func TestSnapshotter_CaptureOfAbsentPackage(t *testing.T) {
	snapshotter, _, _ := newTestSnapshotter(t)

	snapshotRoot, err := snapshotter.Capture("tx-1-1", "ghost")
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	manifest, err := ReadSnapshotManifest(snapshotRoot)
	if err != nil {
		t.Fatalf("ReadSnapshotManifest() error = %v", err)
	}
	if manifest.PackageExists || manifest.ReceiptExists || manifest.NativeSidecarExists {
		t.Errorf("absent package manifest = %+v", manifest)
	}
}

func TestSnapshotter_RestoreReinstatesCapturedState(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink fixture is POSIX-only")
	}
	snapshotter, layout, store := newTestSnapshotter(t)
	seedInstalledPackage(t, layout, store)

	snapshotRoot, err := snapshotter.Capture("tx-1-1", "ripgrep")
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}

	// Mutate: replace the binary content and the receipt version.
	installRoot := layout.PackageDir("ripgrep", "14.1.0")
	if err := os.WriteFile(filepath.Join(installRoot, "rg"), []byte("elf-v2"), 0o755); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := store.WriteReceipt(&receipt.InstallReceipt{
		Name: "ripgrep", Version: "15.0.0", ExposedBins: []string{"rg"},
	}); err != nil {
		t.Fatalf("WriteReceipt() error = %v", err)
	}

	if err := snapshotter.Restore("ripgrep", snapshotRoot); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}

	content, err := os.ReadFile(filepath.Join(installRoot, "rg"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(content) != "elf-v1" {
		t.Errorf("restored binary = %q, want elf-v1", content)
	}
	r, err := store.ReadReceipt("ripgrep")
	if err != nil {
		t.Fatalf("ReadReceipt() error = %v", err)
	}
	if r == nil || r.Version != "14.1.0" {
		t.Errorf("restored receipt = %+v", r)
	}
	assets, err := store.ReadGuiState("ripgrep")
	if err != nil {
		t.Fatalf("ReadGuiState() error = %v", err)
	}
	if len(assets) != 1 || assets[0].Key != "app:rg-gui" {
		t.Errorf("restored gui state = %v", assets)
	}
}

func TestSnapshotter_RestoreWithoutSnapshotRemovesEverything(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink fixture is POSIX-only")
	}
	snapshotter, layout, store := newTestSnapshotter(t)
	seedInstalledPackage(t, layout, store)

	if err := snapshotter.Restore("ripgrep", ""); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}

	if _, err := os.Stat(layout.PackageRoot("ripgrep")); !os.IsNotExist(err) {
		t.Error("package tree survived")
	}
	if _, err := os.Lstat(layout.BinPath("rg")); !os.IsNotExist(err) {
		t.Error("exposed binary survived")
	}
	r, err := store.ReadReceipt("ripgrep")
	if err != nil {
		t.Fatalf("ReadReceipt() error = %v", err)
	}
	if r != nil {
		t.Error("receipt survived")
	}
}

// Restore removes orphan bin entries pointing into the package root even
// when no receipt lists them: the partial-install case.
func TestSnapshotter_RestoreRemovesOrphanBinEntries(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink fixture is POSIX-only")
	}
	snapshotter, layout, _ := newTestSnapshotter(t)

	installRoot := layout.PackageDir("ripgrep", "14.1.0")
	if err := os.MkdirAll(installRoot, 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(installRoot, "rg"), []byte("elf"), 0o755); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := os.Symlink(filepath.Join(installRoot, "rg"), layout.BinPath("rg")); err != nil {
		t.Fatalf("Symlink() error = %v", err)
	}

	if err := snapshotter.Restore("ripgrep", ""); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if _, err := os.Lstat(layout.BinPath("rg")); !os.IsNotExist(err) {
		t.Error("orphan bin entry survived restore")
	}
}
