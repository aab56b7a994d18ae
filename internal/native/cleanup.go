package native

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/crosspack-dev/crosspack/internal/receipt"
)

// RunUninstallActions executes a package's recorded uninstall actions,
// failing on the first error. The snapshot restore path uses this strict
// variant; user-facing uninstall uses the best-effort one.
func (r *Registrar) RunUninstallActions(pkg string) error {
	actions, err := r.store.ReadNativeSidecar(pkg)
	if err != nil {
		return err
	}
	for _, action := range actions {
		if err := r.executeUninstallAction(action); err != nil {
			return fmt.Errorf("native uninstall action failed (key='%s', kind='%s', path='%s'): %w",
				action.Key, action.Kind, action.Path, err)
		}
	}
	return nil
}

// RemovePackageRegistrationsBestEffort removes a package's registrations,
// clearing the sidecar when everything succeeded and preserving it when any
// cleanup warned so a future run may retry. Returns the warnings.
func (r *Registrar) RemovePackageRegistrationsBestEffort(pkg string) ([]string, error) {
	actions, err := r.store.ReadNativeSidecar(pkg)
	if err != nil {
		return nil, err
	}
	if len(actions) == 0 {
		return nil, r.store.ClearNativeSidecar(pkg)
	}

	warnings := r.RemoveRegistrationsBestEffort(actions)
	if len(warnings) == 0 {
		return nil, r.store.ClearNativeSidecar(pkg)
	}
	if err := r.store.WriteNativeSidecar(pkg, actions); err != nil {
		return warnings, err
	}
	return warnings, nil
}

// RemoveRegistrationsBestEffort compensates a set of recorded registrations,
// collecting failures as warnings.
func (r *Registrar) RemoveRegistrationsBestEffort(actions []receipt.NativeAction) []string {
	var warnings []string
	removed := make(map[string]bool)
	for _, action := range actions {
		if action.Kind != KindRegistryKey {
			if removed[action.Path] {
				continue
			}
			removed[action.Path] = true
		}
		if err := r.executeUninstallAction(action); err != nil {
			warnings = append(warnings, fmt.Sprintf(
				"native GUI deregistration warning: failed to remove '%s': %v", action.Path, err))
		}
	}
	return warnings
}

func (r *Registrar) executeUninstallAction(action receipt.NativeAction) error {
	switch action.Kind {
	case KindDesktopEntry, KindStartMenuLauncher:
		return removePathNonRecursive(action.Path)
	case KindApplicationsLink:
		return removeApplicationsSymlinkPath(action.Path)
	case KindApplicationsCopy:
		return removePathRecursive(action.Path)
	case KindRegistryKey:
		return r.removeRegistryKey(action.Path)
	default:
		return fmt.Errorf("unsupported native uninstall action kind '%s'", action.Kind)
	}
}

func removePathNonRecursive(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to inspect native uninstall path: %s: %w", path, err)
	}

	var removeErr error
	if info.IsDir() && info.Mode()&os.ModeSymlink == 0 {
		removeErr = os.Remove(path)
	} else {
		removeErr = os.Remove(path)
	}
	if removeErr != nil && !os.IsNotExist(removeErr) {
		return fmt.Errorf("failed to remove native uninstall path: %s: %w", path, removeErr)
	}
	return nil
}

// removeApplicationsSymlinkPath refuses to recurse into real directories:
// legacy symlink records pointing at a bundle directory are preserved rather
// than destroyed.
func removeApplicationsSymlinkPath(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to inspect native uninstall path: %s: %w", path, err)
	}
	if info.Mode()&os.ModeSymlink != 0 || !info.IsDir() {
		return removePathNonRecursive(path)
	}
	return nil
}

func removePathRecursive(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to remove native uninstall path: %s: %w", path, err)
	}
	return nil
}

// removeRegistryKey deletes a Windows registry key, treating an already
// absent key as success.
func (r *Registrar) removeRegistryKey(path string) error {
	if r.goos != "windows" {
		return fmt.Errorf("native uninstall action kind 'registry-key' is supported only on Windows hosts")
	}

	exists, err := r.registryKeyExists(path)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}

	deleteCmd := exec.Command("reg", "delete", path, "/f")
	if err := r.runCmd(deleteCmd, "failed to remove Windows registry key"); err != nil {
		exists, existsErr := r.registryKeyExists(path)
		if existsErr == nil && !exists {
			return nil
		}
		return err
	}
	return nil
}

func (r *Registrar) registryKeyExists(path string) (bool, error) {
	query := exec.Command("reg", "query", path)
	if err := r.runCmd(query, "failed to query Windows registry key"); err != nil {
		return false, nil
	}
	return true, nil
}
