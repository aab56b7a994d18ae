// Package native performs best-effort OS-native GUI registration: Linux
// desktop entries, Windows Start Menu launchers and registry classes, and
// macOS Applications deployment with LaunchServices refresh.
//
// Every registration is recorded as an uninstall action in the package's
// native sidecar so a later uninstall or rollback can compensate it. External
// command failures become warnings and never fail the transaction.
package native

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/crosspack-dev/crosspack/internal/expose"
	"github.com/crosspack-dev/crosspack/internal/log"
	"github.com/crosspack-dev/crosspack/internal/manifest"
	"github.com/crosspack-dev/crosspack/internal/prefix"
	"github.com/crosspack-dev/crosspack/internal/receipt"
)

// macosLSRegisterPath is the LaunchServices registration helper.
const macosLSRegisterPath = "/System/Library/Frameworks/CoreServices.framework/Frameworks/LaunchServices.framework/Support/lsregister"

// Uninstall action kinds persisted to the native sidecar.
const (
	KindDesktopEntry      = "desktop-entry"
	KindStartMenuLauncher = "start-menu-launcher"
	KindApplicationsLink  = "applications-symlink"
	KindApplicationsCopy  = "applications-bundle-copy"
	KindRegistryKey       = "registry-key"
)

// runCommandFunc lets tests intercept external commands.
type runCommandFunc func(cmd *exec.Cmd, context string) error

// Registrar performs native GUI registration for one prefix.
type Registrar struct {
	layout *prefix.Layout
	store  *receipt.Store
	logger log.Logger
	runCmd runCommandFunc
	goos   string
}

// NewRegistrar creates a Registrar over the prefix layout and state store.
func NewRegistrar(layout *prefix.Layout, store *receipt.Store, logger log.Logger) *Registrar {
	if logger == nil {
		logger = log.Default()
	}
	return &Registrar{
		layout: layout,
		store:  store,
		logger: logger,
		runCmd: runCommand,
		goos:   runtime.GOOS,
	}
}

func runCommand(cmd *exec.Cmd, context string) error {
	output, err := cmd.CombinedOutput()
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %v: %s", context, err, strings.TrimSpace(string(output)))
}

// SyncPackage recomputes native registrations for a package after its
// artifact is applied. Previous records no longer produced are stale: stale
// records whose cleanup succeeded are dropped, records whose cleanup warned
// stay in the sidecar so a future run may retry. Returns the current records
// and accumulated warnings.
func (r *Registrar) SyncPackage(pkg, installRoot string, apps []manifest.GuiApp) ([]receipt.NativeAction, []string, error) {
	previous, err := r.store.ReadNativeSidecar(pkg)
	if err != nil {
		return nil, nil, err
	}

	var current []receipt.NativeAction
	var warnings []string
	for i := range apps {
		records, appWarnings, err := r.registerApp(pkg, &apps[i], installRoot, previous)
		if err != nil {
			return nil, nil, err
		}
		current = append(current, records...)
		warnings = append(warnings, appWarnings...)
	}
	current = dedupeActions(current)

	stale := selectStaleRecords(previous, current)
	persisted := append([]receipt.NativeAction(nil), current...)
	if len(stale) > 0 {
		staleWarnings := r.RemoveRegistrationsBestEffort(stale)
		if len(staleWarnings) > 0 {
			persisted = dedupeActions(append(persisted, stale...))
		}
		warnings = append(warnings, staleWarnings...)
	}

	if err := r.store.WriteNativeSidecar(pkg, persisted); err != nil {
		return nil, nil, err
	}
	for _, warning := range warnings {
		r.logger.Warn(warning)
	}
	return current, warnings, nil
}

// cleanupIdentity collapses the two macOS Applications kinds into one
// cleanup identity so a symlink deployment replacing a bundle copy (or vice
// versa) at the same path is not treated as stale.
func cleanupIdentity(action receipt.NativeAction) string {
	kind := action.Kind
	if kind == KindApplicationsLink || kind == KindApplicationsCopy {
		kind = "applications-path"
	}
	return kind + "\x00" + action.Path
}

func selectStaleRecords(previous, current []receipt.NativeAction) []receipt.NativeAction {
	currentIdentities := make(map[string]bool, len(current))
	for _, action := range current {
		currentIdentities[cleanupIdentity(action)] = true
	}
	var stale []receipt.NativeAction
	for _, action := range previous {
		if !currentIdentities[cleanupIdentity(action)] {
			stale = append(stale, action)
		}
	}
	return stale
}

func dedupeActions(actions []receipt.NativeAction) []receipt.NativeAction {
	seen := make(map[receipt.NativeAction]bool, len(actions))
	kept := actions[:0]
	for _, action := range actions {
		if !seen[action] {
			seen[action] = true
			kept = append(kept, action)
		}
	}
	return kept
}

// registerApp dispatches per host. Declaration problems (invalid or missing
// exec path) are errors; environment problems degrade to warnings.
func (r *Registrar) registerApp(pkg string, app *manifest.GuiApp, installRoot string, previous []receipt.NativeAction) ([]receipt.NativeAction, []string, error) {
	execRel, err := expose.ValidateRelativeBinaryPath(app.Exec)
	if err != nil {
		return nil, nil, fmt.Errorf("gui app '%s' exec path is invalid: %w", app.AppID, err)
	}
	sourcePath := filepath.Join(installRoot, filepath.FromSlash(execRel))
	if _, err := os.Stat(sourcePath); err != nil {
		return nil, nil, fmt.Errorf("declared gui app exec path '%s' was not found in install root: %s",
			app.Exec, sourcePath)
	}

	projected, err := expose.ProjectedGuiAssets(pkg, app)
	if err != nil {
		return nil, nil, err
	}

	switch r.goos {
	case "linux":
		return r.registerLinux(pkg, app, sourcePath, projected)
	case "windows":
		return r.registerWindows(pkg, app, sourcePath, projected)
	case "darwin":
		return r.registerDarwin(app, installRoot, sourcePath, projected, previous)
	default:
		return nil, []string{"native GUI registration warning: host platform is not supported"}, nil
	}
}

// registerLinux writes a user-level desktop entry and refreshes the desktop
// database best-effort.
func (r *Registrar) registerLinux(pkg string, app *manifest.GuiApp, sourcePath string, projected []receipt.GuiAsset) ([]receipt.NativeAction, []string, error) {
	var warnings []string
	home, ok := os.LookupEnv("HOME")
	if !ok || home == "" {
		return nil, []string{"native GUI registration warning: HOME is not set; skipped Linux desktop registration"}, nil
	}

	applicationsDir := filepath.Join(home, ".local", "share", "applications")
	if err := os.MkdirAll(applicationsDir, 0o755); err != nil {
		return nil, []string{fmt.Sprintf(
			"native GUI registration warning: failed to create Linux user applications dir %s: %v",
			applicationsDir, err)}, nil
	}

	desktopPath := filepath.Join(applicationsDir, fmt.Sprintf("%s--%s.desktop",
		expose.NormalizeGuiToken(pkg), expose.NormalizeGuiToken(app.AppID)))
	entry := renderNativeDesktopEntry(app, sourcePath)
	if err := os.WriteFile(desktopPath, []byte(entry), 0o644); err != nil {
		return nil, []string{fmt.Sprintf(
			"native GUI registration warning: failed to write Linux desktop entry %s: %v",
			desktopPath, err)}, nil
	}

	var records []receipt.NativeAction
	for _, asset := range projected {
		records = append(records, receipt.NativeAction{
			Key: asset.Key, Kind: KindDesktopEntry, Path: desktopPath,
		})
	}

	refresh := exec.Command("update-desktop-database", applicationsDir)
	if err := r.runCmd(refresh, "failed to refresh Linux desktop entry database"); err != nil {
		warnings = append(warnings, fmt.Sprintf("native GUI registration warning: %v", err))
	}
	return records, warnings, nil
}

// renderNativeDesktopEntry embeds declared MIME types plus x-scheme-handler
// entries for declared protocols.
func renderNativeDesktopEntry(app *manifest.GuiApp, sourcePath string) string {
	var mimeEntries []string
	for _, association := range app.FileAssociations {
		if entry := expose.SanitizeDesktopListToken(association.MimeType); entry != "" {
			mimeEntries = append(mimeEntries, entry)
		}
	}
	for _, protocol := range app.Protocols {
		mimeEntries = append(mimeEntries, "x-scheme-handler/"+expose.SanitizeDesktopListToken(protocol.Scheme))
	}

	var b strings.Builder
	b.WriteString("[Desktop Entry]\n")
	b.WriteString("Type=Application\n")
	fmt.Fprintf(&b, "Name=%s\n", expose.SanitizeGuiMetadataValue(app.DisplayName))
	fmt.Fprintf(&b, "Exec=\"%s\" %%U\n", sourcePath)
	if app.Icon != "" {
		fmt.Fprintf(&b, "Icon=%s\n", expose.SanitizeGuiMetadataValue(app.Icon))
	}
	var categories []string
	for _, category := range app.Categories {
		if entry := expose.SanitizeDesktopListToken(category); entry != "" {
			categories = append(categories, entry)
		}
	}
	if len(categories) > 0 {
		fmt.Fprintf(&b, "Categories=%s;\n", strings.Join(categories, ";"))
	}
	if len(mimeEntries) > 0 {
		fmt.Fprintf(&b, "MimeType=%s;\n", strings.Join(mimeEntries, ";"))
	}
	return b.String()
}

// registerWindows writes a Start Menu launcher and registers protocol and
// file-extension classes under HKCU.
func (r *Registrar) registerWindows(pkg string, app *manifest.GuiApp, sourcePath string, projected []receipt.GuiAsset) ([]receipt.NativeAction, []string, error) {
	var warnings []string
	appdata, ok := os.LookupEnv("APPDATA")
	if !ok || appdata == "" {
		return nil, []string{"native GUI registration warning: APPDATA is not set; skipped Windows GUI registration"}, nil
	}

	startMenuDir := filepath.Join(appdata, "Microsoft", "Windows", "Start Menu", "Programs")
	if err := os.MkdirAll(startMenuDir, 0o755); err != nil {
		return nil, []string{fmt.Sprintf(
			"native GUI registration warning: failed to create Windows Start Menu programs dir %s: %v",
			startMenuDir, err)}, nil
	}

	launcherPath := filepath.Join(startMenuDir,
		expose.NormalizeGuiToken(pkg+"-"+app.AppID)+".cmd")
	launcher := expose.RenderGuiLauncher(app, sourcePath)
	if err := os.WriteFile(launcherPath, []byte(launcher), 0o644); err != nil {
		return nil, []string{fmt.Sprintf(
			"native GUI registration warning: failed to write Windows Start Menu launcher %s: %v",
			launcherPath, err)}, nil
	}

	var records []receipt.NativeAction
	for _, asset := range projected {
		if strings.HasPrefix(asset.Key, "app:") {
			records = append(records, receipt.NativeAction{
				Key: asset.Key, Kind: KindStartMenuLauncher, Path: launcherPath,
			})
		}
	}

	openCommand := fmt.Sprintf("\"%s\" \"%%1\"", sourcePath)
	for _, protocol := range app.Protocols {
		scheme, err := expose.NormalizedProtocolScheme(protocol.Scheme)
		if err != nil {
			return nil, nil, err
		}
		keyPath := `HKCU\Software\Classes\` + scheme

		regAdds := []*exec.Cmd{
			exec.Command("reg", "add", keyPath, "/ve", "/d", "URL:"+strings.TrimSpace(app.DisplayName), "/f"),
			exec.Command("reg", "add", keyPath, "/v", "URL Protocol", "/d", "", "/f"),
			exec.Command("reg", "add", keyPath+`\shell\open\command`, "/ve", "/d", openCommand, "/f"),
		}
		for _, cmd := range regAdds {
			if err := r.runCmd(cmd, "failed to register Windows protocol class"); err != nil {
				warnings = append(warnings, fmt.Sprintf("native GUI registration warning: %v", err))
			}
		}
		records = append(records, receipt.NativeAction{
			Key: "protocol:" + scheme, Kind: KindRegistryKey, Path: keyPath,
		})
	}

	for _, association := range app.FileAssociations {
		for _, rawExt := range association.Extensions {
			extension, err := expose.NormalizedExtension(rawExt)
			if err != nil {
				return nil, nil, err
			}
			extKey := `HKCU\Software\Classes\.` + extension
			classKey := fmt.Sprintf(`HKCU\Software\Classes\Crosspack.%s.%s.file`,
				expose.NormalizeGuiToken(pkg), expose.NormalizeGuiToken(app.AppID))

			regAdds := []*exec.Cmd{
				exec.Command("reg", "add", extKey, "/ve", "/d", classKey, "/f"),
				exec.Command("reg", "add", classKey+`\shell\open\command`, "/ve", "/d", openCommand, "/f"),
			}
			for _, cmd := range regAdds {
				if err := r.runCmd(cmd, "failed to register Windows file extension mapping"); err != nil {
					warnings = append(warnings, fmt.Sprintf("native GUI registration warning: %v", err))
				}
			}
			records = append(records,
				receipt.NativeAction{Key: "extension:" + extension, Kind: KindRegistryKey, Path: extKey},
				receipt.NativeAction{Key: "mime:" + strings.ToLower(strings.TrimSpace(association.MimeType)),
					Kind: KindRegistryKey, Path: classKey},
			)
		}
	}

	return records, warnings, nil
}
