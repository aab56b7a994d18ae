// Package expose creates and removes the user-visible assets of an installed
// package: bin entries, shell completion files, and managed GUI
// launcher/handler files, plus the conflict preflight that runs before any
// mutation.
package expose

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/crosspack-dev/crosspack/internal/fsutil"
	"github.com/crosspack-dev/crosspack/internal/prefix"
)

// ValidateRelativeBinaryPath rejects declared in-archive paths that are
// absolute or escape the package root.
func ValidateRelativeBinaryPath(declared string) (string, error) {
	cleaned := filepath.ToSlash(strings.TrimSpace(declared))
	if cleaned == "" {
		return "", fmt.Errorf("declared path must not be empty")
	}
	if strings.HasPrefix(cleaned, "/") || filepath.IsAbs(declared) {
		return "", fmt.Errorf("declared path must be relative: %s", declared)
	}
	for _, part := range strings.Split(cleaned, "/") {
		if part == ".." {
			return "", fmt.Errorf("declared path must not contain '..': %s", declared)
		}
	}
	return cleaned, nil
}

// ValidateBinaryName rejects empty names and names containing path
// separators.
func ValidateBinaryName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("binary name must not be empty")
	}
	if strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("binary name must not contain path separators: %s", name)
	}
	return nil
}

// resolveBinarySource locates the declared binary under the install root.
// On macOS a declared <AppName>.app/... path whose bundle landed deeper in
// the tree is accepted by resolving the app-bundle prefix; other leading
// path segments are not rewritten.
func resolveBinarySource(installRoot, declaredRel string) (string, error) {
	direct := filepath.Join(installRoot, filepath.FromSlash(declaredRel))
	if _, err := os.Stat(direct); err == nil {
		return direct, nil
	}

	if runtime.GOOS == "darwin" {
		parts := strings.Split(declaredRel, "/")
		if len(parts) > 1 && strings.HasSuffix(strings.ToLower(parts[0]), ".app") {
			if bundleRoot := findAppBundle(installRoot, parts[0]); bundleRoot != "" {
				candidate := filepath.Join(bundleRoot, filepath.FromSlash(strings.Join(parts[1:], "/")))
				if _, err := os.Stat(candidate); err == nil {
					return candidate, nil
				}
			}
		}
	}

	return "", fmt.Errorf("declared binary path '%s' was not found in install root %s", declaredRel, installRoot)
}

// findAppBundle searches installRoot for a directory named bundleName.
func findAppBundle(installRoot, bundleName string) string {
	var found string
	filepath.Walk(installRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil || found != "" {
			return filepath.SkipAll
		}
		if info.IsDir() && strings.EqualFold(info.Name(), bundleName) {
			found = path
			return filepath.SkipAll
		}
		return nil
	})
	return found
}

// ExposeBinary creates the bin/ entry for one declared binary: a symlink on
// POSIX, a shim that names the source path on Windows.
func ExposeBinary(layout *prefix.Layout, installRoot, name, declaredPath string) error {
	if err := ValidateBinaryName(name); err != nil {
		return err
	}
	rel, err := ValidateRelativeBinaryPath(declaredPath)
	if err != nil {
		return fmt.Errorf("binary '%s': %w", name, err)
	}
	source, err := resolveBinarySource(installRoot, rel)
	if err != nil {
		return fmt.Errorf("binary '%s': %w", name, err)
	}

	if err := os.MkdirAll(layout.BinDir(), 0o755); err != nil {
		return fmt.Errorf("failed to create bin directory: %w", err)
	}
	entry := layout.BinPath(name)
	if err := fsutil.RemoveFileIfExists(entry); err != nil {
		return err
	}

	if runtime.GOOS == "windows" {
		shim := fmt.Sprintf("@echo off\r\n\"%s\" %%*\r\n", source)
		if err := os.WriteFile(entry, []byte(shim), 0o755); err != nil {
			return fmt.Errorf("failed to write binary shim %s: %w", entry, err)
		}
		return nil
	}

	if err := os.Symlink(source, entry); err != nil {
		return fmt.Errorf("failed to expose binary %s -> %s: %w", entry, source, err)
	}
	return nil
}

// RemoveExposedBinary deletes the bin/ entry for a name.
func RemoveExposedBinary(layout *prefix.Layout, name string) error {
	if err := ValidateBinaryName(name); err != nil {
		return err
	}
	return fsutil.RemoveFileIfExists(layout.BinPath(name))
}

// BinaryEntryPointsToPackageRoot reports whether a bin/ entry resolves into
// packageRoot: a symlink target on POSIX, the first quoted path of a shim on
// Windows. Rollback uses this to catch exposures that were created after the
// snapshot was captured.
func BinaryEntryPointsToPackageRoot(binEntry, packageRoot string) (bool, error) {
	info, err := os.Lstat(binEntry)
	if err != nil {
		return false, fmt.Errorf("failed to inspect binary entry: %s: %w", binEntry, err)
	}

	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(binEntry)
		if err != nil {
			return false, fmt.Errorf("failed to read binary symlink target: %s: %w", binEntry, err)
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(binEntry), target)
		}
		return strings.HasPrefix(filepath.Clean(target), filepath.Clean(packageRoot)+string(os.PathSeparator)) ||
			filepath.Clean(target) == filepath.Clean(packageRoot), nil
	}

	if runtime.GOOS == "windows" && info.Mode().IsRegular() {
		shim, err := os.ReadFile(binEntry)
		if err != nil {
			return false, fmt.Errorf("failed to read binary shim: %s: %w", binEntry, err)
		}
		content := string(shim)
		start := strings.IndexByte(content, '"')
		if start < 0 {
			return false, nil
		}
		rest := content[start+1:]
		end := strings.IndexByte(rest, '"')
		if end < 0 {
			return false, nil
		}
		source := filepath.Clean(rest[:end])
		return strings.HasPrefix(source, filepath.Clean(packageRoot)+string(os.PathSeparator)), nil
	}

	return false, nil
}

// ProjectedCompletionPath computes the stable storage path of a declared
// completion file: packages/<shell>/<pkg>--<sanitized-source-path>.
func ProjectedCompletionPath(pkg, shell, declaredPath string) (string, error) {
	shell = strings.ToLower(strings.TrimSpace(shell))
	if shell == "" {
		return "", fmt.Errorf("completion shell must not be empty")
	}
	rel, err := ValidateRelativeBinaryPath(declaredPath)
	if err != nil {
		return "", fmt.Errorf("completion path: %w", err)
	}
	sanitized := strings.ReplaceAll(rel, "/", "-")
	return "packages/" + shell + "/" + pkg + "--" + sanitized, nil
}

// ExposedCompletionPath resolves a stored completion rel path under the
// prefix, rejecting escapes.
func ExposedCompletionPath(layout *prefix.Layout, storageRel string) (string, error) {
	return layout.JoinChecked(layout.CompletionsDir(), storageRel)
}

// ExposeCompletion installs one declared completion file at its projected
// storage path and returns the storage rel path recorded in the receipt.
func ExposeCompletion(layout *prefix.Layout, installRoot, pkg, shell, declaredPath string) (string, error) {
	storageRel, err := ProjectedCompletionPath(pkg, shell, declaredPath)
	if err != nil {
		return "", err
	}
	rel, err := ValidateRelativeBinaryPath(declaredPath)
	if err != nil {
		return "", err
	}

	source := filepath.Join(installRoot, filepath.FromSlash(rel))
	if _, err := os.Stat(source); err != nil {
		return "", fmt.Errorf("declared completion path '%s' was not found in install root: %s", declaredPath, source)
	}

	dst, err := ExposedCompletionPath(layout, storageRel)
	if err != nil {
		return "", err
	}
	if err := fsutil.CopyTree(source, dst); err != nil {
		return "", fmt.Errorf("failed to expose completion '%s': %w", storageRel, err)
	}
	return storageRel, nil
}

// RemoveExposedCompletion deletes a stored completion by its rel path.
func RemoveExposedCompletion(layout *prefix.Layout, storageRel string) error {
	path, err := ExposedCompletionPath(layout, storageRel)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to remove completion '%s': %w", storageRel, err)
	}
	return nil
}
