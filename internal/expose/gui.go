package expose

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/crosspack-dev/crosspack/internal/fsutil"
	"github.com/crosspack-dev/crosspack/internal/manifest"
	"github.com/crosspack-dev/crosspack/internal/prefix"
	"github.com/crosspack-dev/crosspack/internal/receipt"
)

// NormalizeGuiToken lowercases a token and squashes anything outside
// [a-z0-9._-] to '-', producing stable file-name material.
func NormalizeGuiToken(value string) string {
	var b strings.Builder
	for _, ch := range strings.ToLower(strings.TrimSpace(value)) {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= '0' && ch <= '9', ch == '.', ch == '_', ch == '-':
			b.WriteRune(ch)
		default:
			b.WriteByte('-')
		}
	}
	return b.String()
}

// NormalizedProtocolScheme validates and lowercases a URL scheme.
func NormalizedProtocolScheme(scheme string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(scheme))
	if normalized == "" {
		return "", fmt.Errorf("protocol scheme must not be empty")
	}
	if normalized[0] < 'a' || normalized[0] > 'z' {
		return "", fmt.Errorf("invalid protocol scheme: %q", scheme)
	}
	for i := 1; i < len(normalized); i++ {
		ch := normalized[i]
		if (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') || ch == '+' || ch == '.' || ch == '-' {
			continue
		}
		return "", fmt.Errorf("invalid protocol scheme: %q", scheme)
	}
	return normalized, nil
}

// NormalizedExtension validates a file extension and returns it without the
// leading dot, lowercased.
func NormalizedExtension(ext string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(ext))
	normalized = strings.TrimPrefix(normalized, ".")
	if normalized == "" {
		return "", fmt.Errorf("file extension must not be empty")
	}
	for i := 0; i < len(normalized); i++ {
		ch := normalized[i]
		if (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') {
			continue
		}
		return "", fmt.Errorf("invalid file extension: %q", ext)
	}
	return normalized, nil
}

// SanitizeGuiMetadataValue strips newlines from free-form metadata destined
// for launcher files.
func SanitizeGuiMetadataValue(value string) string {
	value = strings.ReplaceAll(value, "\n", " ")
	value = strings.ReplaceAll(value, "\r", " ")
	return strings.TrimSpace(value)
}

// SanitizeDesktopListToken strips separators from values joined into
// ;-delimited desktop-entry lists.
func SanitizeDesktopListToken(value string) string {
	value = SanitizeGuiMetadataValue(value)
	return strings.ReplaceAll(value, ";", "")
}

// guiLauncherExtension returns the host's managed launcher file extension.
func guiLauncherExtension() string {
	switch runtime.GOOS {
	case "windows":
		return "cmd"
	case "darwin":
		return "sh"
	default:
		return "desktop"
	}
}

// ProjectedGuiAssets computes the deterministic ownership keys and storage
// paths a GUI app claims: the launcher itself plus one handler file per
// protocol scheme and file extension.
func ProjectedGuiAssets(pkg string, app *manifest.GuiApp) ([]receipt.GuiAsset, error) {
	appToken := NormalizeGuiToken(app.AppID)
	if appToken == "" {
		return nil, fmt.Errorf("gui app id must not be empty")
	}
	pkgToken := NormalizeGuiToken(pkg)
	ext := guiLauncherExtension()

	assets := []receipt.GuiAsset{{
		Key:     "app:" + strings.ToLower(strings.TrimSpace(app.AppID)),
		RelPath: fmt.Sprintf("launchers/%s--%s.%s", pkgToken, appToken, ext),
	}}

	for _, protocol := range app.Protocols {
		scheme, err := NormalizedProtocolScheme(protocol.Scheme)
		if err != nil {
			return nil, fmt.Errorf("gui app '%s': %w", app.AppID, err)
		}
		assets = append(assets, receipt.GuiAsset{
			Key:     "protocol:" + scheme,
			RelPath: fmt.Sprintf("handlers/protocol/%s.%s", scheme, ext),
		})
	}

	for _, association := range app.FileAssociations {
		for _, rawExt := range association.Extensions {
			extension, err := NormalizedExtension(rawExt)
			if err != nil {
				return nil, fmt.Errorf("gui app '%s': %w", app.AppID, err)
			}
			assets = append(assets, receipt.GuiAsset{
				Key:     "extension:" + extension,
				RelPath: fmt.Sprintf("handlers/extension/%s.%s", extension, ext),
			})
		}
	}

	return assets, nil
}

// CollectDeclaredGuiAssets validates an artifact's GUI declarations:
// duplicate app ids, duplicate projected storage paths across apps, and
// duplicate ownership keys are all rejected at declaration time.
func CollectDeclaredGuiAssets(pkg string, artifact *manifest.Artifact) ([]receipt.GuiAsset, error) {
	seenApps := make(map[string]bool)
	seenKeys := make(map[string]bool)
	seenPaths := make(map[string]string)
	var assets []receipt.GuiAsset

	for i := range artifact.GuiApps {
		app := &artifact.GuiApps[i]
		appID := strings.ToLower(strings.TrimSpace(app.AppID))
		if seenApps[appID] {
			return nil, fmt.Errorf("duplicate gui app declaration '%s' for target '%s'",
				app.AppID, artifact.Target)
		}
		seenApps[appID] = true

		projected, err := ProjectedGuiAssets(pkg, app)
		if err != nil {
			return nil, err
		}
		pathsThisApp := make(map[string]bool)
		for _, asset := range projected {
			pathsThisApp[asset.RelPath] = true
		}
		for relPath := range pathsThisApp {
			if owner, ok := seenPaths[relPath]; ok {
				return nil, fmt.Errorf(
					"duplicate gui storage path declaration '%s' for package '%s' target '%s'; app '%s' collides with app '%s'",
					relPath, pkg, artifact.Target, app.AppID, owner)
			}
			seenPaths[relPath] = appID
		}
		for _, asset := range projected {
			if seenKeys[asset.Key] {
				return nil, fmt.Errorf(
					"duplicate gui ownership key declaration '%s' for package '%s' target '%s'",
					asset.Key, pkg, artifact.Target)
			}
			seenKeys[asset.Key] = true
			assets = append(assets, asset)
		}
	}
	return assets, nil
}

// GuiAssetPath resolves a stored GUI asset rel path under share/gui,
// rejecting escapes.
func GuiAssetPath(layout *prefix.Layout, storageRel string) (string, error) {
	return layout.JoinChecked(layout.GuiDir(), storageRel)
}

// RenderGuiLauncher renders the managed launcher file body for the host.
func RenderGuiLauncher(app *manifest.GuiApp, execPath string) string {
	switch runtime.GOOS {
	case "windows":
		return fmt.Sprintf("@echo off\r\nstart \"\" \"%s\" %%*\r\n", execPath)
	case "darwin":
		return fmt.Sprintf("#!/bin/sh\nexec \"%s\" \"$@\"\n", execPath)
	default:
		return renderDesktopEntry(app, execPath)
	}
}

// renderDesktopEntry renders a freedesktop desktop entry embedding exec,
// icon, categories, declared MIME types, and x-scheme-handler entries for
// declared protocols.
func renderDesktopEntry(app *manifest.GuiApp, execPath string) string {
	var mimeEntries []string
	for _, association := range app.FileAssociations {
		if entry := SanitizeDesktopListToken(association.MimeType); entry != "" {
			mimeEntries = append(mimeEntries, entry)
		}
	}
	for _, protocol := range app.Protocols {
		mimeEntries = append(mimeEntries, "x-scheme-handler/"+SanitizeDesktopListToken(protocol.Scheme))
	}

	var b strings.Builder
	b.WriteString("[Desktop Entry]\n")
	b.WriteString("Type=Application\n")
	fmt.Fprintf(&b, "Name=%s\n", SanitizeGuiMetadataValue(app.DisplayName))
	fmt.Fprintf(&b, "Exec=\"%s\" %%U\n", execPath)
	if app.Icon != "" {
		fmt.Fprintf(&b, "Icon=%s\n", SanitizeGuiMetadataValue(app.Icon))
	}
	var categories []string
	for _, category := range app.Categories {
		if entry := SanitizeDesktopListToken(category); entry != "" {
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

// ExposeGuiApp writes the managed launcher and handler files for one GUI app
// and returns the assets created.
func ExposeGuiApp(layout *prefix.Layout, installRoot, pkg string, app *manifest.GuiApp) ([]receipt.GuiAsset, error) {
	execRel, err := ValidateRelativeBinaryPath(app.Exec)
	if err != nil {
		return nil, fmt.Errorf("gui app '%s' exec path is invalid: %w", app.AppID, err)
	}
	execPath, err := resolveBinarySource(installRoot, execRel)
	if err != nil {
		return nil, fmt.Errorf("declared gui app exec path '%s' was not found in install root: %w", app.Exec, err)
	}

	projected, err := ProjectedGuiAssets(pkg, app)
	if err != nil {
		return nil, err
	}

	body := RenderGuiLauncher(app, execPath)
	for _, asset := range projected {
		path, err := GuiAssetPath(layout, asset.RelPath)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
		}
		if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
			return nil, fmt.Errorf("failed to write gui asset '%s': %w", asset.RelPath, err)
		}
	}
	return projected, nil
}

// RemoveExposedGuiAsset deletes one managed GUI asset file.
func RemoveExposedGuiAsset(layout *prefix.Layout, asset receipt.GuiAsset) error {
	path, err := GuiAssetPath(layout, asset.RelPath)
	if err != nil {
		return err
	}
	return fsutil.RemoveFileIfExists(path)
}
