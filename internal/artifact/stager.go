// Package artifact stages downloaded artifacts into package directories.
//
// Each archive type has a dedicated staging path: portable archives (zip,
// tar.*) extract in-process; bin and appimage payloads are copied; the
// OS-native installer formats (msi, exe, pkg, dmg, msix, appx) shell out to
// the host tooling and are gated on install mode and escalation policy.
package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/crosspack-dev/crosspack/internal/fsutil"
	"github.com/crosspack-dev/crosspack/internal/manifest"
	"github.com/crosspack-dev/crosspack/internal/prefix"
	"github.com/crosspack-dev/crosspack/internal/receipt"
)

// InteractionPolicy captures whether the process may escalate privileges for
// OS-native installer formats.
type InteractionPolicy struct {
	AllowPromptEscalation    bool
	AllowNonPromptEscalation bool
}

// InstallOptions tunes one staging run.
type InstallOptions struct {
	StripComponents int
	ArtifactRoot    string
	InstallMode     receipt.InstallMode
	Policy          InteractionPolicy
}

// InstallFromArtifact stages archivePath into the package directory for
// name/version and returns the install root. The destination is replaced
// atomically: extraction happens in a scratch directory and is moved into
// place only once complete.
func InstallFromArtifact(
	layout *prefix.Layout,
	name, version, archivePath string,
	archiveType manifest.ArchiveType,
	opts InstallOptions,
) (string, error) {
	installTmp := filepath.Join(layout.TmpDir(),
		fmt.Sprintf("install-%d-%d", os.Getpid(), time.Now().UnixNano()))
	rawDir := filepath.Join(installTmp, "raw")
	stagedDir := filepath.Join(installTmp, "staged")
	for _, dir := range []string{rawDir, stagedDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	defer os.RemoveAll(installTmp)

	if err := stagePayload(archivePath, rawDir, archiveType, opts); err != nil {
		return "", err
	}

	stripRoot := rawDir
	if root := strings.TrimSpace(opts.ArtifactRoot); root != "" {
		rootPath := filepath.Join(rawDir, filepath.FromSlash(root))
		if _, err := os.Stat(rootPath); err != nil {
			return "", fmt.Errorf("artifact-staging-failed: artifact_root '%s' was not found after extraction: %s", root, rootPath)
		}
		stripRoot = rootPath
	}

	if err := copyWithStrip(stripRoot, stagedDir, opts.StripComponents); err != nil {
		return "", err
	}

	dst := layout.PackageDir(name, version)
	if err := os.RemoveAll(dst); err != nil {
		return "", fmt.Errorf("failed to remove existing package dir %s: %w", dst, err)
	}
	if err := fsutil.MoveDirOrCopy(stagedDir, dst); err != nil {
		return "", err
	}
	return dst, nil
}

// stagePayload dispatches on the archive type, enforcing the escalation gate
// before any native-installer artifact is touched.
func stagePayload(archivePath, rawDir string, archiveType manifest.ArchiveType, opts InstallOptions) error {
	if archiveType.IsNativeInstaller() {
		if opts.InstallMode != receipt.InstallModeNative {
			return fmt.Errorf("artifact-unsupported: archive type '%s' requires install mode native", archiveType)
		}
		if !opts.Policy.AllowPromptEscalation && !opts.Policy.AllowNonPromptEscalation {
			return fmt.Errorf("native installer mode requires escalation but policy forbids it for archive type '%s'", archiveType)
		}
	}

	switch archiveType {
	case manifest.ArchiveZip:
		return extractZip(archivePath, rawDir)
	case manifest.ArchiveTarGz, manifest.ArchiveTarXz, manifest.ArchiveTarZst:
		return extractTar(archivePath, rawDir, archiveType)
	case manifest.ArchiveBin:
		return stageBinPayload(archivePath, rawDir, opts)
	case manifest.ArchiveAppImage:
		return stageAppImagePayload(archivePath, rawDir, opts)
	case manifest.ArchiveMsi:
		return stageMsiPayload(archivePath, rawDir)
	case manifest.ArchiveExe:
		return stageExePayload(archivePath, rawDir)
	case manifest.ArchivePkg:
		return stagePkgPayload(archivePath, rawDir)
	case manifest.ArchiveDmg:
		return stageDmgPayload(archivePath, rawDir)
	case manifest.ArchiveMsix, manifest.ArchiveAppx:
		return stageWindowsUnpackPayload(string(archiveType), archivePath, rawDir)
	default:
		return fmt.Errorf("artifact-unsupported: unsupported archive type '%s'", archiveType)
	}
}

// stageBinPayload copies a single binary into the raw dir under its original
// file name and marks it executable on POSIX hosts.
func stageBinPayload(archivePath, rawDir string, opts InstallOptions) error {
	if opts.StripComponents != 0 {
		return fmt.Errorf("strip_components must be 0 for bin artifacts")
	}
	if strings.TrimSpace(opts.ArtifactRoot) != "" {
		return fmt.Errorf("artifact_root is not supported for bin artifacts")
	}

	fileName := filepath.Base(archivePath)
	if fileName == "." || fileName == string(os.PathSeparator) || fileName == "" {
		return fmt.Errorf("failed to derive bin artifact file name from %s", archivePath)
	}
	staged := filepath.Join(rawDir, fileName)
	if err := fsutil.CopyFile(archivePath, staged, 0o755); err != nil {
		return fmt.Errorf("failed to stage bin payload from %s to %s: %w", archivePath, staged, err)
	}
	return markExecutable(staged)
}

// stageAppImagePayload copies the artifact as artifact.appimage. AppImages
// are self-contained, so re-rooting options are rejected.
func stageAppImagePayload(archivePath, rawDir string, opts InstallOptions) error {
	if runtime.GOOS != "linux" {
		return fmt.Errorf("artifact-unsupported: AppImage artifacts are supported only on Linux hosts")
	}
	if opts.StripComponents != 0 {
		return fmt.Errorf("strip_components must be 0 for AppImage artifacts")
	}
	if strings.TrimSpace(opts.ArtifactRoot) != "" {
		return fmt.Errorf("artifact_root is not supported for AppImage artifacts")
	}

	staged := filepath.Join(rawDir, "artifact.appimage")
	if err := fsutil.CopyFile(archivePath, staged, 0o755); err != nil {
		return fmt.Errorf("failed to stage AppImage payload from %s to %s: %w", archivePath, staged, err)
	}
	return markExecutable(staged)
}

func markExecutable(path string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	if err := os.Chmod(path, 0o755); err != nil {
		return fmt.Errorf("failed to set executable mode on %s: %w", path, err)
	}
	return nil
}

// copyWithStrip re-roots the extracted tree by skipping stripComponents
// leading path components per file. Skipping every entry is an error since
// it would stage an empty package.
func copyWithStrip(srcRoot, dstRoot string, stripComponents int) error {
	copiedAny := false

	var walk func(current string) error
	walk = func(current string) error {
		entries, err := os.ReadDir(current)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", current, err)
		}
		for _, entry := range entries {
			path := filepath.Join(current, entry.Name())
			info, err := os.Lstat(path)
			if err != nil {
				return fmt.Errorf("failed to stat %s: %w", path, err)
			}

			if info.IsDir() {
				if err := walk(path); err != nil {
					return err
				}
				continue
			}

			rel, err := filepath.Rel(srcRoot, path)
			if err != nil {
				return fmt.Errorf("failed to relativize %s: %w", path, err)
			}
			stripped, ok := stripRelComponents(rel, stripComponents)
			if !ok {
				continue
			}

			dstPath := filepath.Join(dstRoot, stripped)
			if info.Mode()&os.ModeSymlink != 0 {
				target, err := os.Readlink(path)
				if err != nil {
					return fmt.Errorf("failed to read symlink %s: %w", path, err)
				}
				if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
					return fmt.Errorf("failed to create %s: %w", filepath.Dir(dstPath), err)
				}
				if err := os.Symlink(target, dstPath); err != nil {
					return fmt.Errorf("failed to create symlink %s -> %s: %w", dstPath, target, err)
				}
			} else {
				if err := fsutil.CopyFile(path, dstPath, info.Mode().Perm()); err != nil {
					return err
				}
			}
			copiedAny = true
		}
		return nil
	}

	if err := walk(srcRoot); err != nil {
		return err
	}
	if !copiedAny {
		return fmt.Errorf("no files copied during extraction; strip_components=%d may be too large", stripComponents)
	}
	return nil
}

// stripRelComponents drops the first stripComponents normal components of a
// relative path. Returns false when nothing remains.
func stripRelComponents(rel string, stripComponents int) (string, bool) {
	parts := strings.Split(filepath.ToSlash(rel), "/")
	kept := parts[:0]
	for _, part := range parts {
		if part == "" || part == "." {
			continue
		}
		kept = append(kept, part)
	}
	if len(kept) <= stripComponents {
		return "", false
	}
	return filepath.FromSlash(strings.Join(kept[stripComponents:], "/")), true
}
