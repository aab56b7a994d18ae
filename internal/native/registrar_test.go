package native

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/crosspack-dev/crosspack/internal/log"
	"github.com/crosspack-dev/crosspack/internal/manifest"
	"github.com/crosspack-dev/crosspack/internal/prefix"
	"github.com/crosspack-dev/crosspack/internal/receipt"
	"github.com/crosspack-dev/crosspack/internal/testutil"
)

// newLinuxRegistrar builds a registrar pinned to the linux path with
// external commands stubbed out.
func newLinuxRegistrar(t *testing.T) (*Registrar, *receipt.Store, *prefix.Layout, *[]string) {
	t.Helper()
	layout := testutil.NewTestLayout(t)
	store := receipt.NewStore(layout)
	registrar := NewRegistrar(layout, store, log.NewNoop())
	registrar.goos = "linux"

	var commands []string
	registrar.runCmd = func(cmd *exec.Cmd, context string) error {
		commands = append(commands, filepath.Base(cmd.Path))
		return nil
	}
	return registrar, store, layout, &commands
}

func demoApp(t *testing.T, layout *prefix.Layout) (manifest.GuiApp, string) {
	t.Helper()
	installRoot := layout.PackageDir("demo", "1.0.0")
	execPath := filepath.Join(installRoot, "bin", "demo")
	if err := os.MkdirAll(filepath.Dir(execPath), 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(execPath, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	app := manifest.GuiApp{
		AppID:       "demo",
		DisplayName: "Demo",
		Exec:        "bin/demo",
		Protocols:   []manifest.Protocol{{Scheme: "demo"}},
	}
	return app, installRoot
}

func TestSyncPackage_LinuxWritesDesktopEntryAndSidecar(t *testing.T) {
	registrar, store, layout, commands := newLinuxRegistrar(t)
	t.Setenv("HOME", t.TempDir())

	app, installRoot := demoApp(t, layout)
	records, warnings, err := registrar.SyncPackage("demo", installRoot, []manifest.GuiApp{app})
	if err != nil {
		t.Fatalf("SyncPackage() error = %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("warnings = %v", warnings)
	}
	if len(records) == 0 {
		t.Fatal("no records produced")
	}

	desktopPath := records[0].Path
	if !strings.HasSuffix(desktopPath, "demo--demo.desktop") {
		t.Errorf("desktop path = %s", desktopPath)
	}
	data, err := os.ReadFile(desktopPath)
	if err != nil {
		t.Fatalf("desktop entry missing: %v", err)
	}
	if !strings.Contains(string(data), "x-scheme-handler/demo") {
		t.Errorf("desktop entry content = %s", data)
	}

	sidecar, err := store.ReadNativeSidecar("demo")
	if err != nil {
		t.Fatalf("ReadNativeSidecar() error = %v", err)
	}
	if len(sidecar) != len(records) {
		t.Errorf("sidecar rows = %d, records = %d", len(sidecar), len(records))
	}
	if !containsCommand(*commands, "update-desktop-database") {
		t.Errorf("commands = %v", *commands)
	}
}

func containsCommand(commands []string, name string) bool {
	for _, command := range commands {
		if command == name {
			return true
		}
	}
	return false
}

func TestSyncPackage_DropsStaleRecordsWhoseCleanupSucceeds(t *testing.T) {
	registrar, store, layout, _ := newLinuxRegistrar(t)
	t.Setenv("HOME", t.TempDir())

	// Previous sidecar points at a desktop entry the new sync no longer
	// produces.
	stalePath := filepath.Join(t.TempDir(), "old--app.desktop")
	if err := os.WriteFile(stalePath, []byte("[Desktop Entry]\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := store.WriteNativeSidecar("demo", []receipt.NativeAction{
		{Key: "app:old", Kind: KindDesktopEntry, Path: stalePath},
	}); err != nil {
		t.Fatalf("WriteNativeSidecar() error = %v", err)
	}

	app, installRoot := demoApp(t, layout)
	_, _, err := registrar.SyncPackage("demo", installRoot, []manifest.GuiApp{app})
	if err != nil {
		t.Fatalf("SyncPackage() error = %v", err)
	}

	if _, err := os.Stat(stalePath); !os.IsNotExist(err) {
		t.Error("stale desktop entry survived sync")
	}
	sidecar, err := store.ReadNativeSidecar("demo")
	if err != nil {
		t.Fatalf("ReadNativeSidecar() error = %v", err)
	}
	for _, action := range sidecar {
		if action.Path == stalePath {
			t.Error("stale record survived in sidecar after successful cleanup")
		}
	}
}

func TestRunUninstallActions_RemovesRecordedPaths(t *testing.T) {
	registrar, store, _, _ := newLinuxRegistrar(t)

	entry := filepath.Join(t.TempDir(), "demo.desktop")
	if err := os.WriteFile(entry, []byte("[Desktop Entry]\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := store.WriteNativeSidecar("demo", []receipt.NativeAction{
		{Key: "app:demo", Kind: KindDesktopEntry, Path: entry},
	}); err != nil {
		t.Fatalf("WriteNativeSidecar() error = %v", err)
	}

	if err := registrar.RunUninstallActions("demo"); err != nil {
		t.Fatalf("RunUninstallActions() error = %v", err)
	}
	if _, err := os.Stat(entry); !os.IsNotExist(err) {
		t.Error("recorded desktop entry survived")
	}
}

// applications-symlink cleanup must not recurse into real directories:
// a legacy record pointing at an actual bundle directory is preserved.
func TestCleanup_ApplicationsSymlinkRefusesDirectories(t *testing.T) {
	registrar, _, _, _ := newLinuxRegistrar(t)

	bundleDir := filepath.Join(t.TempDir(), "Demo.app")
	if err := os.MkdirAll(filepath.Join(bundleDir, "Contents"), 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}

	err := registrar.executeUninstallAction(receipt.NativeAction{
		Key: "app:demo", Kind: KindApplicationsLink, Path: bundleDir,
	})
	if err != nil {
		t.Fatalf("executeUninstallAction() error = %v", err)
	}
	if _, statErr := os.Stat(bundleDir); statErr != nil {
		t.Error("applications-symlink cleanup recursed into a real directory")
	}
}

// applications-bundle-copy cleanup removes directories recursively.
func TestCleanup_BundleCopyRemovesRecursively(t *testing.T) {
	registrar, _, _, _ := newLinuxRegistrar(t)

	bundleDir := filepath.Join(t.TempDir(), "Demo.app")
	if err := os.MkdirAll(filepath.Join(bundleDir, "Contents", "MacOS"), 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}

	err := registrar.executeUninstallAction(receipt.NativeAction{
		Key: "app:demo", Kind: KindApplicationsCopy, Path: bundleDir,
	})
	if err != nil {
		t.Fatalf("executeUninstallAction() error = %v", err)
	}
	if _, statErr := os.Stat(bundleDir); !os.IsNotExist(statErr) {
		t.Error("bundle copy survived recursive cleanup")
	}
}

func TestRemovePackageRegistrationsBestEffort_PreservesSidecarOnWarning(t *testing.T) {
	registrar, store, _, _ := newLinuxRegistrar(t)

	actions := []receipt.NativeAction{
		{Key: "protocol:demo", Kind: KindRegistryKey, Path: `HKCU\Software\Classes\demo`},
	}
	if err := store.WriteNativeSidecar("demo", actions); err != nil {
		t.Fatalf("WriteNativeSidecar() error = %v", err)
	}

	// registry-key cleanup on a non-Windows host warns and must keep the
	// sidecar for a future retry.
	warnings, err := registrar.RemovePackageRegistrationsBestEffort("demo")
	if err != nil {
		t.Fatalf("RemovePackageRegistrationsBestEffort() error = %v", err)
	}
	if len(warnings) == 0 {
		t.Fatal("expected a warning for registry-key cleanup on linux")
	}
	sidecar, err := store.ReadNativeSidecar("demo")
	if err != nil {
		t.Fatalf("ReadNativeSidecar() error = %v", err)
	}
	if len(sidecar) != 1 {
		t.Errorf("sidecar = %v, want preserved", sidecar)
	}
}
