package native

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/crosspack-dev/crosspack/internal/fsutil"
	"github.com/crosspack-dev/crosspack/internal/manifest"
	"github.com/crosspack-dev/crosspack/internal/receipt"
)

// registerDarwin deploys the app into an Applications directory, preferring
// /Applications with a ~/Applications fallback. An .app bundle source is
// copied; anything else is symlinked. Unmanaged existing destinations are
// never overwritten.
func (r *Registrar) registerDarwin(
	app *manifest.GuiApp,
	installRoot, sourcePath string,
	projected []receipt.GuiAsset,
	previous []receipt.NativeAction,
) ([]receipt.NativeAction, []string, error) {
	var warnings []string
	home, ok := os.LookupEnv("HOME")
	if !ok || home == "" {
		return nil, []string{"native GUI registration warning: HOME is not set; skipped macOS GUI registration"}, nil
	}

	registrationSource := macosRegistrationSourcePath(installRoot, sourcePath)
	appName := filepath.Base(registrationSource)
	if appName == "." || appName == string(os.PathSeparator) {
		return nil, nil, fmt.Errorf("gui app '%s' has invalid executable path", app.AppID)
	}
	candidates := []string{
		filepath.Join("/Applications", appName),
		filepath.Join(home, "Applications", appName),
	}

	usesBundleCopy := isMacosAppBundlePath(registrationSource)
	deployed := ""
	for _, destination := range candidates {
		if warning := prepareDestination(destination, previous); warning != "" {
			warnings = append(warnings, warning)
			continue
		}
		var warning string
		if usesBundleCopy {
			warning = writeBundleCopy(registrationSource, destination)
		} else {
			warning = writeApplicationSymlink(registrationSource, destination)
		}
		if warning != "" {
			warnings = append(warnings, warning)
			continue
		}
		deployed = destination
		break
	}
	if deployed == "" {
		return nil, warnings, nil
	}

	kind := KindApplicationsLink
	if usesBundleCopy {
		kind = KindApplicationsCopy
	}
	var records []receipt.NativeAction
	for _, asset := range projected {
		records = append(records, receipt.NativeAction{Key: asset.Key, Kind: kind, Path: deployed})
	}

	refresh := exec.Command(macosLSRegisterPath, "-f", deployed)
	if err := r.runCmd(refresh, "failed to refresh macOS LaunchServices registry"); err != nil {
		warnings = append(warnings, fmt.Sprintf("native GUI registration warning: %v", err))
	}
	return records, warnings, nil
}

// prepareDestination creates the Applications directory and refuses to
// overwrite any existing destination the previous sidecar does not record.
// A non-empty return value is a warning string.
func prepareDestination(destination string, previous []receipt.NativeAction) string {
	applicationsDir := filepath.Dir(destination)
	if err := os.MkdirAll(applicationsDir, 0o755); err != nil {
		return fmt.Sprintf("native GUI registration warning: failed to prepare macOS applications dir %s: %v",
			applicationsDir, err)
	}

	if _, err := os.Lstat(destination); err == nil && !previousRecordsIncludePath(previous, destination) {
		return fmt.Sprintf("native GUI registration warning: refusing to overwrite unmanaged macOS app bundle %s",
			destination)
	}
	return ""
}

func previousRecordsIncludePath(previous []receipt.NativeAction, destination string) bool {
	for _, record := range previous {
		if strings.HasPrefix(record.Kind, "applications-") && record.Path == destination {
			return true
		}
	}
	return false
}

func writeApplicationSymlink(source, linkPath string) string {
	if _, err := os.Lstat(linkPath); err == nil {
		// A real directory is removed non-recursively: an unexpectedly
		// populated bundle at the link path must not be destroyed.
		if removeErr := os.Remove(linkPath); removeErr != nil {
			return fmt.Sprintf("native GUI registration warning: failed to replace existing macOS application link %s: %v",
				linkPath, removeErr)
		}
	}
	if err := os.Symlink(source, linkPath); err != nil {
		return fmt.Sprintf("native GUI registration warning: failed to create macOS application symlink %s -> %s: %v",
			linkPath, source, err)
	}
	return ""
}

func writeBundleCopy(source, destination string) string {
	info, err := os.Stat(source)
	if err != nil || !info.IsDir() {
		return fmt.Sprintf("native GUI registration warning: macOS app bundle source is not a directory %s", source)
	}

	if _, err := os.Lstat(destination); err == nil {
		if err := os.RemoveAll(destination); err != nil {
			return fmt.Sprintf("native GUI registration warning: failed to replace existing macOS application bundle %s: %v",
				destination, err)
		}
	}
	if err := fsutil.CopyTree(source, destination); err != nil {
		return fmt.Sprintf("native GUI registration warning: failed to copy macOS application bundle %s -> %s: %v",
			source, destination, err)
	}
	return ""
}

// macosRegistrationSourcePath rewrites a declared exec path to its enclosing
// .app bundle root when one appears in the path below installRoot.
func macosRegistrationSourcePath(installRoot, sourcePath string) string {
	rel, err := filepath.Rel(installRoot, sourcePath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return sourcePath
	}

	parts := strings.Split(filepath.ToSlash(rel), "/")
	var bundleParts []string
	for _, part := range parts {
		if part == "" || part == "." {
			continue
		}
		bundleParts = append(bundleParts, part)
		if strings.EqualFold(filepath.Ext(part), ".app") {
			return filepath.Join(installRoot, filepath.FromSlash(strings.Join(bundleParts, "/")))
		}
	}
	return sourcePath
}

func isMacosAppBundlePath(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".app")
}
