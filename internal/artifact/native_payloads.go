package artifact

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/crosspack-dev/crosspack/internal/fsutil"
)

// stageMsiPayload performs an administrative-install extraction of an MSI
// into the raw dir.
func stageMsiPayload(archivePath, rawDir string) error {
	if runtime.GOOS != "windows" {
		return fmt.Errorf("artifact-unsupported: MSI artifacts are supported only on Windows hosts")
	}
	cmd := exec.Command("msiexec", "/a", archivePath, "/qn", "TARGETDIR="+rawDir)
	return runCommand(cmd, "failed to stage MSI artifact with administrative extraction")
}

// stageExePayload extracts a self-extracting EXE with 7z. A missing tool is
// mapped to an actionable message naming 7z.
func stageExePayload(archivePath, rawDir string) error {
	if runtime.GOOS != "windows" {
		return fmt.Errorf("artifact-unsupported: EXE artifacts are supported only on Windows hosts")
	}
	cmd := exec.Command("7z", "x", archivePath, "-o"+rawDir, "-y")
	if err := runCommand(cmd, "failed to stage EXE artifact via deterministic extraction"); err != nil {
		if isNotFoundErr(err) {
			return fmt.Errorf("artifact-tool-missing: failed to stage EXE artifact: required extraction tool '7z' was not found on PATH; install 7-Zip CLI and ensure '7z' is available, then retry. artifact=%s raw_dir=%s", archivePath, rawDir)
		}
		return err
	}
	return nil
}

// stageWindowsUnpackPayload unpacks MSIX/APPX packages with makeappx.
func stageWindowsUnpackPayload(kind, archivePath, rawDir string) error {
	if runtime.GOOS != "windows" {
		return fmt.Errorf("artifact-unsupported: %s artifacts are supported only on Windows hosts", strings.ToUpper(kind))
	}
	cmd := exec.Command("makeappx", "unpack", "/p", archivePath, "/d", rawDir, "/o")
	context := fmt.Sprintf("failed to stage %s artifact via deterministic extraction", strings.ToUpper(kind))
	if err := runCommand(cmd, context); err != nil {
		if isNotFoundErr(err) {
			return fmt.Errorf("artifact-tool-missing: %s: required extraction tool 'makeappx' was not found on PATH; install Windows SDK App Certification Kit tools and ensure 'makeappx' is available, then retry. artifact=%s raw_dir=%s", context, archivePath, rawDir)
		}
		return err
	}
	return nil
}

// stagePkgPayload expands a macOS PKG with pkgutil and copies every Payload
// tree into the raw dir with ditto. The expanded scratch directory is
// removed in all paths; a copy failure plus a cleanup failure produce a
// combined error naming both.
func stagePkgPayload(archivePath, rawDir string) error {
	if runtime.GOOS != "darwin" {
		return fmt.Errorf("artifact-unsupported: PKG artifacts are supported only on macOS hosts")
	}
	expandedDir := filepath.Join(rawDir, ".crosspack-pkg-expanded")

	expand := exec.Command("pkgutil", "--expand-full", archivePath, expandedDir)
	stageErr := runCommand(expand, "failed to expand PKG artifact")
	if stageErr == nil {
		stageErr = copyPkgPayloads(expandedDir, rawDir)
	}

	cleanupErr := os.RemoveAll(expandedDir)
	switch {
	case stageErr == nil && cleanupErr == nil:
		return nil
	case stageErr != nil && cleanupErr != nil:
		return fmt.Errorf("%v; additionally failed to cleanup expanded payload %s: %v", stageErr, expandedDir, cleanupErr)
	case stageErr != nil:
		if isNotFoundErr(stageErr) {
			return fmt.Errorf("artifact-tool-missing: failed to stage PKG artifact: required macOS tool was not found on PATH; ensure 'pkgutil' and 'ditto' are available, then retry. artifact=%s raw_dir=%s: %v", archivePath, rawDir, stageErr)
		}
		return stageErr
	default:
		return fmt.Errorf("failed to cleanup expanded PKG payload: %s: %w", expandedDir, cleanupErr)
	}
}

// copyPkgPayloads copies the top-level Payload tree plus every nested
// <component>.pkg/Payload tree, in component name order.
func copyPkgPayloads(expandedDir, rawDir string) error {
	var payloadRoots []string

	topLevel := filepath.Join(expandedDir, "Payload")
	if _, err := os.Stat(topLevel); err == nil {
		payloadRoots = append(payloadRoots, topLevel)
	}

	entries, err := os.ReadDir(expandedDir)
	if err != nil {
		return fmt.Errorf("failed to inspect expanded PKG directory: %s: %w", expandedDir, err)
	}
	var nested []string
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasSuffix(entry.Name(), ".pkg") {
			continue
		}
		payload := filepath.Join(expandedDir, entry.Name(), "Payload")
		if _, err := os.Stat(payload); err == nil {
			nested = append(nested, payload)
		}
	}
	sort.Strings(nested)
	payloadRoots = append(payloadRoots, nested...)

	if len(payloadRoots) == 0 {
		return fmt.Errorf("expanded PKG payload not found in %s; expected %s or %s",
			expandedDir,
			filepath.Join(expandedDir, "Payload"),
			filepath.Join(expandedDir, "<component>.pkg", "Payload"))
	}

	for _, payloadRoot := range payloadRoots {
		copyCmd := exec.Command("ditto", payloadRoot, rawDir)
		if err := runCommand(copyCmd, "failed to copy expanded PKG payload into staging directory"); err != nil {
			return err
		}
	}
	return nil
}

// stageDmgPayload attaches a DMG read-only, copies its payload into the raw
// dir, and always detaches. Copy and detach failures combine into one error.
func stageDmgPayload(archivePath, rawDir string) error {
	if runtime.GOOS != "darwin" {
		return fmt.Errorf("artifact-unsupported: DMG artifacts are supported only on macOS hosts")
	}

	mountPoint := filepath.Join(rawDir, ".crosspack-dmg-mount")
	if err := os.MkdirAll(mountPoint, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", mountPoint, err)
	}
	defer os.RemoveAll(mountPoint)

	attach := exec.Command("hdiutil", "attach", archivePath, "-readonly", "-nobrowse", "-mountpoint", mountPoint)
	if err := runCommand(attach, "failed to attach DMG artifact"); err != nil {
		return err
	}

	copyErr := copyDmgPayload(mountPoint, rawDir)

	detach := exec.Command("hdiutil", "detach", mountPoint)
	detachErr := runCommand(detach, "failed to detach DMG mount")

	switch {
	case copyErr == nil && detachErr == nil:
		return nil
	case copyErr != nil && detachErr != nil:
		return fmt.Errorf("failed to copy mounted DMG payload: %v; additionally failed to detach mount %s: %v",
			copyErr, mountPoint, detachErr)
	case copyErr != nil:
		return copyErr
	default:
		return detachErr
	}
}

// copyDmgPayload copies the mounted DMG contents and drops the root
// /Applications install-helper symlink. Nested Applications symlinks are
// payload and stay.
func copyDmgPayload(mountPoint, rawDir string) error {
	if err := fsutil.CopyTree(mountPoint, rawDir); err != nil {
		return err
	}

	applicationsEntry := filepath.Join(rawDir, "Applications")
	info, err := os.Lstat(applicationsEntry)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to inspect copied DMG Applications entry: %s: %w", applicationsEntry, err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		if err := os.Remove(applicationsEntry); err != nil {
			return fmt.Errorf("failed to remove root Applications symlink from DMG payload copy: %s: %w",
				applicationsEntry, err)
		}
	}
	return nil
}
