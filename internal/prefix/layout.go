// Package prefix is the path algebra over a crosspack install prefix.
//
// Every managed path is computed here and nowhere else, so cleanup code can
// assert that a path it is about to remove belongs to the managed layout.
package prefix

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Layout computes paths under a single install prefix. It performs no IO
// except EnsureBaseDirs.
type Layout struct {
	root string
}

// NewLayout creates a Layout rooted at root. The root must be absolute so
// containment checks are meaningful.
func NewLayout(root string) (*Layout, error) {
	if !filepath.IsAbs(root) {
		return nil, fmt.Errorf("prefix root must be absolute: %s", root)
	}
	return &Layout{root: filepath.Clean(root)}, nil
}

// Root returns the prefix root directory.
func (l *Layout) Root() string { return l.root }

// BinDir returns the directory of user-visible binary entries.
func (l *Layout) BinDir() string { return filepath.Join(l.root, "bin") }

// BinPath returns the exposed entry for a binary name.
func (l *Layout) BinPath(name string) string { return filepath.Join(l.BinDir(), name) }

// PkgsDir returns the root of installed package trees.
func (l *Layout) PkgsDir() string { return filepath.Join(l.root, "pkgs") }

// PackageRoot returns the directory holding all versions of a package.
func (l *Layout) PackageRoot(name string) string { return filepath.Join(l.PkgsDir(), name) }

// PackageDir returns the install directory of one package version.
func (l *Layout) PackageDir(name, version string) string {
	return filepath.Join(l.PkgsDir(), name, version)
}

// CompletionsDir returns the root of exposed shell completion assets.
func (l *Layout) CompletionsDir() string {
	return filepath.Join(l.root, "share", "completions")
}

// GuiDir returns the root of managed GUI launcher/handler assets.
func (l *Layout) GuiDir() string { return filepath.Join(l.root, "share", "gui") }

// InstalledStateDir returns the directory of per-package state files.
func (l *Layout) InstalledStateDir() string {
	return filepath.Join(l.root, "state", "installed")
}

// ReceiptPath returns the install receipt path for a package.
func (l *Layout) ReceiptPath(name string) string {
	return filepath.Join(l.InstalledStateDir(), name+".receipt")
}

// GuiStatePath returns the GUI exposure state path for a package.
func (l *Layout) GuiStatePath(name string) string {
	return filepath.Join(l.InstalledStateDir(), name+".gui")
}

// GuiNativeStatePath returns the native GUI sidecar path for a package.
func (l *Layout) GuiNativeStatePath(name string) string {
	return filepath.Join(l.InstalledStateDir(), name+".gui-native")
}

// PinsDir returns the directory of per-package pin files.
func (l *Layout) PinsDir() string { return filepath.Join(l.root, "state", "pins") }

// PinPath returns the pin file for a package.
func (l *Layout) PinPath(name string) string { return filepath.Join(l.PinsDir(), name) }

// TransactionsDir returns the directory of transaction metadata and journals.
func (l *Layout) TransactionsDir() string {
	return filepath.Join(l.root, "state", "transactions")
}

// TransactionActivePath returns the exclusive-create active marker path.
func (l *Layout) TransactionActivePath() string {
	return filepath.Join(l.TransactionsDir(), "active")
}

// TransactionMetadataPath returns the metadata file for a transaction.
func (l *Layout) TransactionMetadataPath(txid string) string {
	return filepath.Join(l.TransactionsDir(), txid+".json")
}

// TransactionJournalPath returns the journal file for a transaction.
func (l *Layout) TransactionJournalPath(txid string) string {
	return filepath.Join(l.TransactionsDir(), txid+".journal")
}

// TransactionStagingPath returns the staging directory for a transaction.
func (l *Layout) TransactionStagingPath(txid string) string {
	return filepath.Join(l.TransactionsDir(), "staging", txid)
}

// SnapshotMonitorLogPath returns the snapshot divergence log appended to when
// enabled sources disagree on snapshot ids at transaction begin.
func (l *Layout) SnapshotMonitorLogPath() string {
	return filepath.Join(l.TransactionsDir(), "snapshot-monitor.log")
}

// ArtifactCacheDir returns the cache directory for one package version and
// target.
func (l *Layout) ArtifactCacheDir(name, version, target string) string {
	return filepath.Join(l.root, "cache", "artifacts", name, version, target)
}

// ArtifactCacheRoot returns the root of the artifact cache subtree. Cache
// purges are restricted to this directory.
func (l *Layout) ArtifactCacheRoot() string {
	return filepath.Join(l.root, "cache", "artifacts")
}

// TmpDir returns the scratch directory for staging work.
func (l *Layout) TmpDir() string { return filepath.Join(l.root, "tmp") }

// RegistryStateDir returns the directory holding sources.toml.
func (l *Layout) RegistryStateDir() string { return filepath.Join(l.root, "registry") }

// SourcesFilePath returns the registry source list path.
func (l *Layout) SourcesFilePath() string {
	return filepath.Join(l.RegistryStateDir(), "sources.toml")
}

// RegistryCacheDir returns the root of per-source snapshot caches.
func (l *Layout) RegistryCacheDir() string {
	return filepath.Join(l.RegistryStateDir(), "cache")
}

// SourceCacheDir returns the snapshot cache directory for a source.
func (l *Layout) SourceCacheDir(source string) string {
	return filepath.Join(l.RegistryCacheDir(), source)
}

// SourceStagingDir returns the hidden staging directory used while syncing a
// source.
func (l *Layout) SourceStagingDir(source string) string {
	return filepath.Join(l.RegistryCacheDir(), "."+source+"-staging")
}

// SourceBackupDir returns the hidden backup directory used during the source
// cache swap.
func (l *Layout) SourceBackupDir(source string) string {
	return filepath.Join(l.RegistryCacheDir(), "."+source+"-backup")
}

// SourceSnapshotPath returns the snapshot.json path for a source cache.
func (l *Layout) SourceSnapshotPath(source string) string {
	return filepath.Join(l.SourceCacheDir(source), "snapshot.json")
}

// Contains reports whether path falls inside the prefix after cleaning.
// Managed cleanup must never touch paths for which this returns false.
func (l *Layout) Contains(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	abs = filepath.Clean(abs)
	return abs == l.root || strings.HasPrefix(abs, l.root+string(os.PathSeparator))
}

// JoinChecked joins rel onto base and rejects results that escape the
// prefix, guarding against ".." components smuggled in stored state.
func (l *Layout) JoinChecked(base string, rel string) (string, error) {
	joined := filepath.Join(base, filepath.FromSlash(rel))
	if !l.Contains(joined) {
		return "", fmt.Errorf("path escapes prefix: %s", rel)
	}
	return joined, nil
}

// EnsureBaseDirs creates the stable directory skeleton of the prefix.
func (l *Layout) EnsureBaseDirs() error {
	dirs := []string{
		l.BinDir(),
		l.PkgsDir(),
		l.CompletionsDir(),
		l.GuiDir(),
		l.InstalledStateDir(),
		l.PinsDir(),
		l.TransactionsDir(),
		filepath.Join(l.TransactionsDir(), "staging"),
		l.ArtifactCacheRoot(),
		l.TmpDir(),
		l.RegistryCacheDir(),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create prefix directory %s: %w", dir, err)
		}
	}
	return nil
}
