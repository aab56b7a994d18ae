package registry

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/crosspack-dev/crosspack/internal/fsutil"
	"github.com/crosspack-dev/crosspack/internal/log"
	"github.com/crosspack-dev/crosspack/internal/prefix"
	"github.com/crosspack-dev/crosspack/internal/security"
)

// UpdateStatus is the per-source outcome of an update run.
type UpdateStatus string

const (
	// UpdateStatusUpdated means a new snapshot was swapped into place.
	UpdateStatusUpdated UpdateStatus = "updated"
	// UpdateStatusUpToDate means the source content was unchanged and no
	// swap happened.
	UpdateStatusUpToDate UpdateStatus = "up-to-date"
	// UpdateStatusFailed means the source could not be synced or verified;
	// the previous cache is intact.
	UpdateStatusFailed UpdateStatus = "failed"
)

// UpdateResult is the outcome for a single source.
type UpdateResult struct {
	Source     string
	Status     UpdateStatus
	SnapshotID string
	Reason     ReasonCode
	Err        error
}

// Updater syncs source caches atomically.
type Updater struct {
	layout *prefix.Layout
	store  *Store
	logger log.Logger
}

// NewUpdater creates an Updater over the prefix layout and source store.
func NewUpdater(layout *prefix.Layout, store *Store, logger log.Logger) *Updater {
	if logger == nil {
		logger = log.Default()
	}
	return &Updater{layout: layout, store: store, logger: logger}
}

// UpdateSources updates the named sources, or all enabled sources when names
// is empty. A name that does not exist is a hard error; per-source sync and
// verification failures are reported in the results instead.
func (u *Updater) UpdateSources(names []string) ([]UpdateResult, error) {
	var selected []Source
	if len(names) == 0 {
		enabled, err := u.store.EnabledSources()
		if err != nil {
			return nil, err
		}
		selected = enabled
	} else {
		for _, name := range names {
			source, err := u.store.Get(name)
			if err != nil {
				return nil, err
			}
			selected = append(selected, *source)
		}
	}

	if err := os.MkdirAll(u.layout.RegistryCacheDir(), 0o755); err != nil {
		return nil, fmt.Errorf("failed creating registry cache dir: %w", err)
	}

	results := make([]UpdateResult, 0, len(selected))
	for _, source := range selected {
		result := u.updateSource(source)
		if result.Err != nil {
			u.logger.Warn("source update failed",
				"source", source.Name, "reason", string(result.Reason), "error", result.Err)
		} else {
			u.logger.Info("source update finished",
				"source", source.Name, "status", string(result.Status), "snapshot", result.SnapshotID)
		}
		results = append(results, result)
	}
	return results, nil
}

func (u *Updater) updateSource(source Source) UpdateResult {
	snapshotID, err := u.syncAndVerify(source)
	if err != nil {
		return UpdateResult{
			Source: source.Name,
			Status: UpdateStatusFailed,
			Reason: ReasonOf(err),
			Err:    err,
		}
	}
	if snapshotID == "" {
		current := ReadSnapshotState(u.layout, source.Name)
		return UpdateResult{
			Source:     source.Name,
			Status:     UpdateStatusUpToDate,
			SnapshotID: current.SnapshotID,
		}
	}
	return UpdateResult{Source: source.Name, Status: UpdateStatusUpdated, SnapshotID: snapshotID}
}

// syncAndVerify stages, verifies, and swaps a source cache. It returns the
// new snapshot id, or "" when the source content is unchanged and no swap
// happened.
func (u *Updater) syncAndVerify(source Source) (string, error) {
	stagingDir := u.layout.SourceStagingDir(source.Name)
	if err := os.RemoveAll(stagingDir); err != nil {
		return "", &SourceError{Reason: ReasonSyncFailed, Source: source.Name,
			Message: "failed clearing staging dir", Err: err}
	}
	defer os.RemoveAll(stagingDir)

	var snapshotID string
	switch source.Kind {
	case SourceKindGit:
		id, err := syncGitSource(source.Location, stagingDir)
		if err != nil {
			return "", &SourceError{Reason: ReasonSyncFailed, Source: source.Name,
				Message: "git sync failed", Err: err}
		}
		snapshotID = id
	case SourceKindFilesystem:
		if err := fsutil.CopyTree(source.Location, stagingDir); err != nil {
			return "", &SourceError{Reason: ReasonSyncFailed, Source: source.Name,
				Message: "filesystem sync failed", Err: err}
		}
		id, err := filesystemSnapshotID(stagingDir)
		if err != nil {
			return "", &SourceError{Reason: ReasonSyncFailed, Source: source.Name,
				Message: "failed computing snapshot id", Err: err}
		}
		snapshotID = id
	default:
		return "", &SourceError{Reason: ReasonSyncFailed, Source: source.Name,
			Message: fmt.Sprintf("unsupported source kind %q", source.Kind)}
	}

	// No-op detection happens before verification: an unchanged snapshot was
	// verified when it was first swapped in.
	current := ReadSnapshotState(u.layout, source.Name)
	if current.Kind == SnapshotReady && current.SnapshotID == snapshotID {
		return "", nil
	}

	keyPath := filepath.Join(stagingDir, "registry.pub")
	keyBytes, err := os.ReadFile(keyPath)
	if err != nil {
		return "", &SourceError{Reason: ReasonMetadataInvalid, Source: source.Name,
			Message: "registry.pub is missing from source", Err: err}
	}
	if !strings.EqualFold(security.SHA256Hex(keyBytes), source.FingerprintSHA256) {
		return "", &SourceError{Reason: ReasonFingerprintMismatch, Source: source.Name,
			Message: fmt.Sprintf("registry.pub does not match configured fingerprint %s",
				source.FingerprintSHA256)}
	}

	manifestCount, err := OpenIndex(stagingDir).countManifests()
	if err != nil {
		return "", &SourceError{Reason: ReasonMetadataInvalid, Source: source.Name,
			Message: "manifest verification failed", Err: err}
	}

	if err := u.swapCache(source.Name, stagingDir); err != nil {
		return "", err
	}
	if err := writeSnapshotFile(u.layout, source.Name, snapshotID, manifestCount, time.Now().Unix()); err != nil {
		return "", &SourceError{Reason: ReasonSyncFailed, Source: source.Name,
			Message: "failed recording snapshot state", Err: err}
	}
	return snapshotID, nil
}

// swapCache atomically replaces cache/<source>/ with the staged tree, keeping
// the previous contents in a backup directory until the swap succeeds.
func (u *Updater) swapCache(source, stagingDir string) error {
	cacheDir := u.layout.SourceCacheDir(source)
	backupDir := u.layout.SourceBackupDir(source)

	if err := os.RemoveAll(backupDir); err != nil {
		return &SourceError{Reason: ReasonSyncFailed, Source: source,
			Message: "failed clearing backup dir", Err: err}
	}

	hadPrevious := false
	if _, err := os.Stat(cacheDir); err == nil {
		hadPrevious = true
		if err := os.Rename(cacheDir, backupDir); err != nil {
			return &SourceError{Reason: ReasonSyncFailed, Source: source,
				Message: "failed moving current cache aside", Err: err}
		}
	}

	if err := os.Rename(stagingDir, cacheDir); err != nil {
		if hadPrevious {
			if restoreErr := os.Rename(backupDir, cacheDir); restoreErr != nil {
				return &SourceError{Reason: ReasonSyncFailed, Source: source,
					Message: fmt.Sprintf(
						"failed swapping staged cache into place (%v); additionally failed restoring backup %s to %s",
						err, backupDir, cacheDir),
					Err: restoreErr}
			}
		}
		return &SourceError{Reason: ReasonSyncFailed, Source: source,
			Message: "failed swapping staged cache into place", Err: err}
	}

	if hadPrevious {
		if err := os.RemoveAll(backupDir); err != nil {
			u.logger.Warn("failed removing cache backup", "source", source, "path", backupDir, "error", err)
		}
	}
	return nil
}

// syncGitSource clones location into stagingDir and returns the snapshot id
// derived from HEAD.
func syncGitSource(location, stagingDir string) (string, error) {
	clone := exec.Command("git", "clone", "--quiet", "--depth", "1", location, stagingDir)
	if output, err := clone.CombinedOutput(); err != nil {
		return "", fmt.Errorf("git clone failed: %v: %s", err, bytes.TrimSpace(output))
	}

	revParse := exec.Command("git", "-C", stagingDir, "rev-parse", "HEAD")
	output, err := revParse.Output()
	if err != nil {
		return "", fmt.Errorf("git rev-parse HEAD failed: %w", err)
	}
	head := strings.TrimSpace(string(output))
	if len(head) < 16 {
		return "", fmt.Errorf("unexpected git HEAD %q", head)
	}

	// The clone's .git directory is not part of the snapshot payload.
	if err := os.RemoveAll(filepath.Join(stagingDir, ".git")); err != nil {
		return "", fmt.Errorf("failed trimming git metadata: %w", err)
	}
	return "git:" + strings.ToLower(head[:16]), nil
}

// filesystemSnapshotID derives a deterministic content identifier for a
// synced filesystem source: a SHA-256 over the sorted relative paths and file
// bytes of the tree.
func filesystemSnapshotID(root string) (string, error) {
	var paths []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed walking source tree: %w", err)
	}
	sort.Strings(paths)

	h := sha256.New()
	for _, rel := range paths {
		io.WriteString(h, rel)
		h.Write([]byte{0})

		full := filepath.Join(root, filepath.FromSlash(rel))
		info, err := os.Lstat(full)
		if err != nil {
			return "", fmt.Errorf("failed to stat %s: %w", full, err)
		}
		if info.Mode()&os.ModeSymlink != 0 {
			target, err := os.Readlink(full)
			if err != nil {
				return "", fmt.Errorf("failed to read symlink %s: %w", full, err)
			}
			io.WriteString(h, target)
		} else {
			f, err := os.Open(full)
			if err != nil {
				return "", fmt.Errorf("failed to read %s: %w", full, err)
			}
			if _, err := io.Copy(h, f); err != nil {
				f.Close()
				return "", fmt.Errorf("failed to read %s: %w", full, err)
			}
			f.Close()
		}
		h.Write([]byte{0})
	}

	return "fs:" + hex.EncodeToString(h.Sum(nil))[:16], nil
}
