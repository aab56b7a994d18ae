package registry

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/crosspack-dev/crosspack/internal/prefix"
)

// snapshotFileVersion is the schema version of a source cache's
// snapshot.json.
const snapshotFileVersion = 1

// snapshotStatusReady is the only terminal success status of a snapshot.
const snapshotStatusReady = "ready"

// snapshotFile is the on-disk shape of registry/cache/<source>/snapshot.json.
type snapshotFile struct {
	Version       int    `json:"version"`
	Source        string `json:"source"`
	SnapshotID    string `json:"snapshot_id"`
	UpdatedAtUnix int64  `json:"updated_at_unix"`
	ManifestCount int    `json:"manifest_count"`
	Status        string `json:"status"`
}

// SnapshotStateKind classifies a source cache's readiness.
type SnapshotStateKind int

const (
	// SnapshotNone means the source has never been synced.
	SnapshotNone SnapshotStateKind = iota
	// SnapshotReady means the cache holds a verified snapshot.
	SnapshotReady
	// SnapshotError means snapshot state exists but is unusable.
	SnapshotError
)

// SnapshotState is the readiness of one source cache.
type SnapshotState struct {
	Kind       SnapshotStateKind
	SnapshotID string
	Reason     ReasonCode
}

// SourceWithSnapshot pairs a configured source with its cache state, for
// listing and backend selection.
type SourceWithSnapshot struct {
	Source   Source
	Snapshot SnapshotState
}

// ReadSnapshotState maps a source's snapshot.json onto its readiness state.
// A missing file is None; an unreadable or non-ready file is Error with
// reason snapshot-unreadable.
func ReadSnapshotState(layout *prefix.Layout, source string) SnapshotState {
	path := layout.SourceSnapshotPath(source)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return SnapshotState{Kind: SnapshotNone}
		}
		return SnapshotState{Kind: SnapshotError, Reason: ReasonSnapshotUnreadable}
	}

	var snapshot snapshotFile
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return SnapshotState{Kind: SnapshotError, Reason: ReasonSnapshotUnreadable}
	}
	if snapshot.Version != snapshotFileVersion || snapshot.Status != snapshotStatusReady || snapshot.SnapshotID == "" {
		return SnapshotState{Kind: SnapshotError, Reason: ReasonSnapshotUnreadable}
	}

	return SnapshotState{Kind: SnapshotReady, SnapshotID: snapshot.SnapshotID}
}

// ListWithSnapshots returns all configured sources paired with their cache
// states, sorted by (priority, name).
func (s *Store) ListWithSnapshots() ([]SourceWithSnapshot, error) {
	sources, err := s.List()
	if err != nil {
		return nil, err
	}
	result := make([]SourceWithSnapshot, 0, len(sources))
	for _, source := range sources {
		result = append(result, SourceWithSnapshot{
			Source:   source,
			Snapshot: ReadSnapshotState(s.layout, source.Name),
		})
	}
	return result, nil
}

func writeSnapshotFile(layout *prefix.Layout, source, snapshotID string, manifestCount int, updatedAtUnix int64) error {
	snapshot := snapshotFile{
		Version:       snapshotFileVersion,
		Source:        source,
		SnapshotID:    snapshotID,
		UpdatedAtUnix: updatedAtUnix,
		ManifestCount: manifestCount,
		Status:        snapshotStatusReady,
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed serializing snapshot state for %s: %w", source, err)
	}
	path := layout.SourceSnapshotPath(source)
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed writing snapshot state %s: %w", path, err)
	}
	return nil
}
