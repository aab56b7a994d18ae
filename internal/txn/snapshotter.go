package txn

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/crosspack-dev/crosspack/internal/expose"
	"github.com/crosspack-dev/crosspack/internal/fsutil"
	"github.com/crosspack-dev/crosspack/internal/native"
	"github.com/crosspack-dev/crosspack/internal/prefix"
	"github.com/crosspack-dev/crosspack/internal/receipt"
)

// SnapshotManifest records what a per-package snapshot captured, so restore
// knows what to put back and what to leave absent.
type SnapshotManifest struct {
	PackageExists       bool
	ReceiptExists       bool
	Bins                []string
	Completions         []string
	GuiAssets           []receipt.GuiAsset
	NativeSidecarExists bool
}

// Snapshotter captures and restores per-package on-disk state inside a
// transaction's staging area.
type Snapshotter struct {
	layout    *prefix.Layout
	store     *receipt.Store
	registrar *native.Registrar
}

// NewSnapshotter creates a Snapshotter over the prefix state stores.
func NewSnapshotter(layout *prefix.Layout, store *receipt.Store, registrar *native.Registrar) *Snapshotter {
	return &Snapshotter{layout: layout, store: store, registrar: registrar}
}

func snapshotManifestPath(root string) string { return filepath.Join(root, "manifest.txt") }
func snapshotPackageRoot(root string) string  { return filepath.Join(root, "package") }
func snapshotReceiptPath(root, pkg string) string {
	return filepath.Join(root, "receipt", pkg+".receipt")
}
func snapshotBinPath(root, bin string) string { return filepath.Join(root, "bins", bin) }
func snapshotCompletionPath(root, rel string) string {
	return filepath.Join(root, "completions", filepath.FromSlash(rel))
}
func snapshotGuiAssetPath(root, rel string) string {
	return filepath.Join(root, "gui", filepath.FromSlash(rel))
}
func snapshotNativeSidecarPath(root string) string {
	return filepath.Join(root, "native", "sidecar.state")
}

// Capture copies a package's current on-disk state into the transaction's
// rollback area and returns the snapshot root.
func (s *Snapshotter) Capture(txid, pkg string) (string, error) {
	snapshotRoot := filepath.Join(s.layout.TransactionStagingPath(txid), "rollback", pkg)
	if err := os.RemoveAll(snapshotRoot); err != nil {
		return "", fmt.Errorf("failed clearing existing rollback snapshot dir: %s: %w", snapshotRoot, err)
	}
	for _, dir := range []string{
		snapshotPackageRoot(snapshotRoot),
		filepath.Join(snapshotRoot, "receipt"),
		filepath.Join(snapshotRoot, "bins"),
		filepath.Join(snapshotRoot, "completions"),
		filepath.Join(snapshotRoot, "gui"),
		filepath.Join(snapshotRoot, "native"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("failed creating rollback snapshot dir: %s: %w", dir, err)
		}
	}

	manifest := SnapshotManifest{}

	packageRoot := s.layout.PackageRoot(pkg)
	if _, err := os.Stat(packageRoot); err == nil {
		manifest.PackageExists = true
		if err := fsutil.CopyTree(packageRoot, snapshotPackageRoot(snapshotRoot)); err != nil {
			return "", err
		}
	}

	receiptPath := s.layout.ReceiptPath(pkg)
	if _, err := os.Stat(receiptPath); err == nil {
		manifest.ReceiptExists = true
		if err := fsutil.CopyTree(receiptPath, snapshotReceiptPath(snapshotRoot, pkg)); err != nil {
			return "", err
		}

		r, err := s.store.ReadReceipt(pkg)
		if err != nil {
			return "", err
		}
		if r != nil {
			manifest.Bins = append([]string(nil), r.ExposedBins...)
			for _, bin := range manifest.Bins {
				source := s.layout.BinPath(bin)
				if _, err := os.Lstat(source); err == nil {
					if err := fsutil.CopyTree(source, snapshotBinPath(snapshotRoot, bin)); err != nil {
						return "", err
					}
				}
			}

			manifest.Completions = append([]string(nil), r.ExposedCompletions...)
			for _, completion := range manifest.Completions {
				source, err := expose.ExposedCompletionPath(s.layout, completion)
				if err != nil {
					return "", err
				}
				if _, err := os.Stat(source); err == nil {
					if err := fsutil.CopyTree(source, snapshotCompletionPath(snapshotRoot, completion)); err != nil {
						return "", err
					}
				}
			}
		}
	}

	guiAssets, err := s.store.ReadGuiState(pkg)
	if err != nil {
		return "", err
	}
	manifest.GuiAssets = guiAssets
	for _, asset := range guiAssets {
		source, err := expose.GuiAssetPath(s.layout, asset.RelPath)
		if err != nil {
			return "", err
		}
		if _, err := os.Stat(source); err == nil {
			if err := fsutil.CopyTree(source, snapshotGuiAssetPath(snapshotRoot, asset.RelPath)); err != nil {
				return "", err
			}
		}
	}

	nativeSidecarPath := s.layout.GuiNativeStatePath(pkg)
	if _, err := os.Stat(nativeSidecarPath); err == nil {
		manifest.NativeSidecarExists = true
		if err := fsutil.CopyTree(nativeSidecarPath, snapshotNativeSidecarPath(snapshotRoot)); err != nil {
			return "", err
		}
	}

	if err := writeSnapshotManifest(snapshotRoot, &manifest); err != nil {
		return "", err
	}
	return snapshotRoot, nil
}

func writeSnapshotManifest(snapshotRoot string, manifest *SnapshotManifest) error {
	var b strings.Builder
	fmt.Fprintf(&b, "package_exists=%s\n", boolFlag(manifest.PackageExists))
	fmt.Fprintf(&b, "receipt_exists=%s\n", boolFlag(manifest.ReceiptExists))
	for _, bin := range manifest.Bins {
		fmt.Fprintf(&b, "bin=%s\n", bin)
	}
	for _, completion := range manifest.Completions {
		fmt.Fprintf(&b, "completion=%s\n", completion)
	}
	for _, asset := range manifest.GuiAssets {
		fmt.Fprintf(&b, "gui_asset=%s\t%s\n", asset.Key, asset.RelPath)
	}
	fmt.Fprintf(&b, "native_sidecar_exists=%s\n", boolFlag(manifest.NativeSidecarExists))

	path := snapshotManifestPath(snapshotRoot)
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("failed writing snapshot manifest: %s: %w", path, err)
	}
	return nil
}

func boolFlag(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

// ReadSnapshotManifest loads a snapshot's manifest. A missing file reads as
// an all-absent manifest.
func ReadSnapshotManifest(snapshotRoot string) (*SnapshotManifest, error) {
	path := snapshotManifestPath(snapshotRoot)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &SnapshotManifest{}, nil
		}
		return nil, fmt.Errorf("failed reading snapshot manifest: %s: %w", path, err)
	}

	manifest := &SnapshotManifest{}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "package_exists="):
			manifest.PackageExists = strings.TrimPrefix(line, "package_exists=") == "1"
		case strings.HasPrefix(line, "receipt_exists="):
			manifest.ReceiptExists = strings.TrimPrefix(line, "receipt_exists=") == "1"
		case strings.HasPrefix(line, "bin="):
			manifest.Bins = append(manifest.Bins, strings.TrimPrefix(line, "bin="))
		case strings.HasPrefix(line, "completion="):
			manifest.Completions = append(manifest.Completions, strings.TrimPrefix(line, "completion="))
		case strings.HasPrefix(line, "gui_asset="):
			key, relPath, ok := strings.Cut(strings.TrimPrefix(line, "gui_asset="), "\t")
			if !ok {
				return nil, fmt.Errorf("invalid snapshot manifest gui_asset row in %s", path)
			}
			manifest.GuiAssets = append(manifest.GuiAssets, receipt.GuiAsset{Key: key, RelPath: relPath})
		case strings.HasPrefix(line, "native_sidecar_exists="):
			manifest.NativeSidecarExists = strings.TrimPrefix(line, "native_sidecar_exists=") == "1"
		}
	}
	return manifest, nil
}

// Restore tears down a package's live state and, when a snapshot root is
// given, reinstates the captured state byte for byte.
func (s *Snapshotter) Restore(pkg, snapshotRoot string) error {
	packageRoot := s.layout.PackageRoot(pkg)
	existingReceipt, err := s.store.ReadReceipt(pkg)
	if err != nil {
		return err
	}
	nativeActions, err := s.store.ReadNativeSidecar(pkg)
	if err != nil {
		return err
	}

	// Native cleanup runs first for native-mode installs, and for orphaned
	// sidecars left behind without a receipt.
	shouldRunNativeCleanup := (existingReceipt != nil && existingReceipt.InstallMode == receipt.InstallModeNative) ||
		(existingReceipt == nil && len(nativeActions) > 0)
	if shouldRunNativeCleanup {
		if err := s.registrar.RunUninstallActions(pkg); err != nil {
			return err
		}
	}

	// Remove bin entries resolving into the package root: exposures created
	// after the snapshot was captured (partial installs with no prior
	// receipt) leave no other trace.
	if err := s.removeBinaryEntriesForPackageRoot(packageRoot); err != nil {
		return err
	}

	if existingReceipt != nil {
		for _, bin := range existingReceipt.ExposedBins {
			if err := expose.RemoveExposedBinary(s.layout, bin); err != nil {
				return err
			}
		}
		for _, completion := range existingReceipt.ExposedCompletions {
			if err := expose.RemoveExposedCompletion(s.layout, completion); err != nil {
				return err
			}
		}
	}

	existingGuiAssets, err := s.store.ReadGuiState(pkg)
	if err != nil {
		return err
	}
	for _, asset := range existingGuiAssets {
		if err := expose.RemoveExposedGuiAsset(s.layout, asset); err != nil {
			return err
		}
	}
	if err := s.store.WriteGuiState(pkg, nil); err != nil {
		return err
	}

	// A managed receipt can still carry native records from an earlier
	// native install; deregister best-effort and keep the sidecar if any
	// cleanup warned.
	if !shouldRunNativeCleanup && len(nativeActions) > 0 {
		warnings := s.registrar.RemoveRegistrationsBestEffort(nativeActions)
		if len(warnings) > 0 {
			if err := s.store.WriteNativeSidecar(pkg, nativeActions); err != nil {
				return err
			}
		} else if err := s.store.ClearNativeSidecar(pkg); err != nil {
			return err
		}
	} else if err := s.store.ClearNativeSidecar(pkg); err != nil {
		return err
	}

	if err := os.RemoveAll(packageRoot); err != nil {
		return fmt.Errorf("failed to remove package path: %s: %w", packageRoot, err)
	}
	if err := s.store.RemoveReceipt(pkg); err != nil {
		return err
	}

	if snapshotRoot == "" {
		return nil
	}

	manifest, err := ReadSnapshotManifest(snapshotRoot)
	if err != nil {
		return err
	}

	if manifest.PackageExists {
		if _, err := os.Stat(snapshotPackageRoot(snapshotRoot)); err == nil {
			if err := fsutil.CopyTree(snapshotPackageRoot(snapshotRoot), packageRoot); err != nil {
				return err
			}
		}
	}

	if manifest.ReceiptExists {
		src := snapshotReceiptPath(snapshotRoot, pkg)
		if _, err := os.Stat(src); err == nil {
			if err := fsutil.CopyTree(src, s.layout.ReceiptPath(pkg)); err != nil {
				return fmt.Errorf("failed restoring receipt from %s: %w", src, err)
			}
		}
	}

	for _, bin := range manifest.Bins {
		dst := s.layout.BinPath(bin)
		if err := fsutil.RemoveFileIfExists(dst); err != nil {
			return err
		}
		src := snapshotBinPath(snapshotRoot, bin)
		if _, err := os.Lstat(src); err == nil {
			if err := fsutil.CopyTree(src, dst); err != nil {
				return fmt.Errorf("failed restoring binary '%s' from %s: %w", bin, src, err)
			}
		}
	}

	for _, completion := range manifest.Completions {
		dst, err := expose.ExposedCompletionPath(s.layout, completion)
		if err != nil {
			return err
		}
		if err := os.RemoveAll(dst); err != nil {
			return fmt.Errorf("failed clearing completion '%s': %w", completion, err)
		}
		src := snapshotCompletionPath(snapshotRoot, completion)
		if _, err := os.Stat(src); err == nil {
			if err := fsutil.CopyTree(src, dst); err != nil {
				return fmt.Errorf("failed restoring completion '%s' from %s: %w", completion, src, err)
			}
		}
	}

	for _, asset := range manifest.GuiAssets {
		dst, err := expose.GuiAssetPath(s.layout, asset.RelPath)
		if err != nil {
			return err
		}
		if err := fsutil.RemoveFileIfExists(dst); err != nil {
			return err
		}
		src := snapshotGuiAssetPath(snapshotRoot, asset.RelPath)
		if _, err := os.Stat(src); err == nil {
			if err := fsutil.CopyTree(src, dst); err != nil {
				return fmt.Errorf("failed restoring gui asset '%s' from %s: %w", asset.Key, src, err)
			}
		}
	}
	if err := s.store.WriteGuiState(pkg, manifest.GuiAssets); err != nil {
		return err
	}

	if manifest.NativeSidecarExists {
		dst := s.layout.GuiNativeStatePath(pkg)
		if err := fsutil.RemoveFileIfExists(dst); err != nil {
			return err
		}
		src := snapshotNativeSidecarPath(snapshotRoot)
		if _, err := os.Stat(src); err == nil {
			if err := fsutil.CopyTree(src, dst); err != nil {
				return fmt.Errorf("failed restoring native sidecar state from %s: %w", src, err)
			}
		}
	}

	return nil
}

// removeBinaryEntriesForPackageRoot deletes every bin/ entry whose target
// resolves into packageRoot.
func (s *Snapshotter) removeBinaryEntriesForPackageRoot(packageRoot string) error {
	entries, err := os.ReadDir(s.layout.BinDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read bin directory: %s: %w", s.layout.BinDir(), err)
	}

	for _, entry := range entries {
		path := filepath.Join(s.layout.BinDir(), entry.Name())
		points, err := expose.BinaryEntryPointsToPackageRoot(path, packageRoot)
		if err != nil {
			return err
		}
		if points {
			if err := fsutil.RemoveFileIfExists(path); err != nil {
				return err
			}
		}
	}
	return nil
}
