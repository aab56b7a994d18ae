package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosspack-dev/crosspack/internal/log"
	"github.com/crosspack-dev/crosspack/internal/security"
	"github.com/crosspack-dev/crosspack/internal/testutil"
)

// newFilesystemSource materializes a signed registry tree and configures it
// as a filesystem source with the matching fingerprint.
func newFilesystemSource(t *testing.T, store *Store, key *testutil.SigningKey, name, dir string, manifests map[string]map[string]string) {
	t.Helper()
	testutil.WriteRegistryTree(t, dir, key, manifests)

	keyBytes, err := os.ReadFile(filepath.Join(dir, "registry.pub"))
	require.NoError(t, err)

	require.NoError(t, store.Add(Source{
		Name:              name,
		Kind:              SourceKindFilesystem,
		Location:          dir,
		FingerprintSHA256: security.SHA256Hex(keyBytes),
		Enabled:           true,
		Priority:          10,
	}))
}

func TestUpdater_FilesystemSourceBecomesReady(t *testing.T) {
	layout := testutil.NewTestLayout(t)
	store := NewStore(layout)
	key := testutil.NewSigningKey(t)
	sourceDir := t.TempDir()
	newFilesystemSource(t, store, key, "official", sourceDir, map[string]map[string]string{
		"ripgrep": {"14.1.0": manifestBody("ripgrep", "14.1.0")},
	})

	results, err := NewUpdater(layout, store, log.NewNoop()).UpdateSources(nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, UpdateStatusUpdated, results[0].Status)
	assert.Contains(t, results[0].SnapshotID, "fs:")

	state := ReadSnapshotState(layout, "official")
	assert.Equal(t, SnapshotReady, state.Kind)
	assert.Equal(t, results[0].SnapshotID, state.SnapshotID)

	// Cache tree mirrors the source, including the signature sidecars.
	_, err = os.Stat(filepath.Join(layout.SourceCacheDir("official"), "index", "ripgrep", "14.1.0.toml.sig"))
	assert.NoError(t, err)
}

func TestUpdater_SecondRunIsUpToDate(t *testing.T) {
	layout := testutil.NewTestLayout(t)
	store := NewStore(layout)
	key := testutil.NewSigningKey(t)
	sourceDir := t.TempDir()
	newFilesystemSource(t, store, key, "official", sourceDir, map[string]map[string]string{
		"ripgrep": {"14.1.0": manifestBody("ripgrep", "14.1.0")},
	})

	updater := NewUpdater(layout, store, log.NewNoop())
	_, err := updater.UpdateSources(nil)
	require.NoError(t, err)

	results, err := updater.UpdateSources(nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, UpdateStatusUpToDate, results[0].Status)
}

func TestUpdater_FingerprintMismatchFails(t *testing.T) {
	layout := testutil.NewTestLayout(t)
	store := NewStore(layout)
	key := testutil.NewSigningKey(t)
	sourceDir := t.TempDir()
	testutil.WriteRegistryTree(t, sourceDir, key, map[string]map[string]string{
		"ripgrep": {"14.1.0": manifestBody("ripgrep", "14.1.0")},
	})

	require.NoError(t, store.Add(Source{
		Name:              "official",
		Kind:              SourceKindFilesystem,
		Location:          sourceDir,
		FingerprintSHA256: testFingerprint, // not the key's digest
		Enabled:           true,
		Priority:          10,
	}))

	results, err := NewUpdater(layout, store, log.NewNoop()).UpdateSources(nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, UpdateStatusFailed, results[0].Status)
	assert.Equal(t, ReasonFingerprintMismatch, results[0].Reason)
	assert.Equal(t, SnapshotNone, ReadSnapshotState(layout, "official").Kind)
}

func TestUpdater_InvalidMetadataKeepsPreviousSnapshot(t *testing.T) {
	layout := testutil.NewTestLayout(t)
	store := NewStore(layout)
	key := testutil.NewSigningKey(t)
	sourceDir := t.TempDir()
	newFilesystemSource(t, store, key, "official", sourceDir, map[string]map[string]string{
		"ripgrep": {"14.1.0": manifestBody("ripgrep", "14.1.0")},
	})

	updater := NewUpdater(layout, store, log.NewNoop())
	first, err := updater.UpdateSources(nil)
	require.NoError(t, err)
	require.Equal(t, UpdateStatusUpdated, first[0].Status)
	previousID := first[0].SnapshotID

	// A new manifest without a signature sidecar invalidates the whole sync.
	unsignedPath := filepath.Join(sourceDir, "index", "ripgrep", "14.2.0.toml")
	require.NoError(t, os.WriteFile(unsignedPath, []byte(manifestBody("ripgrep", "14.2.0")), 0o644))

	results, err := updater.UpdateSources(nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, UpdateStatusFailed, results[0].Status)
	assert.Equal(t, ReasonMetadataInvalid, results[0].Reason)

	// The previous ready snapshot survives intact.
	state := ReadSnapshotState(layout, "official")
	assert.Equal(t, SnapshotReady, state.Kind)
	assert.Equal(t, previousID, state.SnapshotID)
	_, err = os.Stat(filepath.Join(layout.SourceCacheDir("official"), "index", "ripgrep", "14.1.0.toml"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(layout.SourceCacheDir("official"), "index", "ripgrep", "14.2.0.toml"))
	assert.True(t, os.IsNotExist(err), "unsigned manifest must not reach the cache")
}

func TestUpdater_UnknownNamedSourceIsError(t *testing.T) {
	layout := testutil.NewTestLayout(t)
	store := NewStore(layout)

	_, err := NewUpdater(layout, store, log.NewNoop()).UpdateSources([]string{"missing"})
	require.Error(t, err)
	assert.Equal(t, ReasonNotFound, ReasonOf(err))
}
