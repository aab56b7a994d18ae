package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/crosspack-dev/crosspack/internal/manifest"
	"github.com/crosspack-dev/crosspack/internal/prefix"
	"github.com/crosspack-dev/crosspack/internal/security"
)

// MetadataBackend reads signed package manifests from the chosen source
// layout. Implementations verify every manifest's Ed25519 signature over its
// exact bytes before returning it.
type MetadataBackend interface {
	// SearchNames returns sorted unique package names containing needle
	// whose manifests verify.
	SearchNames(needle string) ([]string, error)

	// PackageVersions returns all manifests for a package sorted by version
	// descending, each verified.
	PackageVersions(name string) ([]*manifest.PackageManifest, error)
}

// Index reads one registry tree: a root with registry.pub and
// index/<pkg>/<ver>.toml plus <ver>.toml.sig sidecars. It backs both the
// legacy single-directory backend and each configured source cache.
type Index struct {
	root string
}

// OpenIndex opens a registry tree rooted at root.
func OpenIndex(root string) *Index {
	return &Index{root: root}
}

// Root returns the index root directory.
func (ix *Index) Root() string { return ix.root }

// SearchNames returns sorted package directory names containing needle that
// hold at least one verified manifest.
func (ix *Index) SearchNames(needle string) ([]string, error) {
	indexRoot := filepath.Join(ix.root, "index")
	entries, err := os.ReadDir(indexRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read registry index: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.Contains(name, needle) {
			continue
		}
		manifests, err := ix.PackageVersions(name)
		if err != nil {
			return nil, err
		}
		if len(manifests) > 0 {
			names = append(names, name)
		}
	}

	sort.Strings(names)
	return names, nil
}

// PackageVersions reads and verifies every manifest of a package, sorted by
// version descending. A verification failure names the signing key's 16-char
// identifier and the offending path.
func (ix *Index) PackageVersions(name string) ([]*manifest.PackageManifest, error) {
	packageDir := filepath.Join(ix.root, "index", name)
	entries, err := os.ReadDir(packageDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read package directory: %s: %w", name, err)
	}

	trustedKeyPath := filepath.Join(ix.root, "registry.pub")
	trustedKeyRaw, err := os.ReadFile(trustedKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read trusted registry key: %s: %w", trustedKeyPath, err)
	}
	trustedKeyHex := strings.TrimSpace(string(trustedKeyRaw))
	keyIdentifier := security.KeyIdentifier(trustedKeyHex)

	var manifests []*manifest.PackageManifest
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".toml") {
			continue
		}

		manifestPath := filepath.Join(packageDir, entry.Name())
		manifestBytes, err := os.ReadFile(manifestPath)
		if err != nil {
			return nil, fmt.Errorf("failed reading manifest: %s: %w", manifestPath, err)
		}

		signaturePath := manifestPath + ".sig"
		signatureRaw, err := os.ReadFile(signaturePath)
		if err != nil {
			return nil, fmt.Errorf("failed reading manifest signature for key %s: %s: %w",
				keyIdentifier, signaturePath, err)
		}

		valid, err := security.VerifyEd25519SignatureHex(manifestBytes, trustedKeyHex, strings.TrimSpace(string(signatureRaw)))
		if err != nil {
			return nil, fmt.Errorf("failed verifying manifest signature for key %s: %s: %w",
				keyIdentifier, signaturePath, err)
		}
		if !valid {
			return nil, fmt.Errorf("invalid manifest signature for key %s: manifest %s, signature %s",
				keyIdentifier, manifestPath, signaturePath)
		}

		parsed, err := manifest.Parse(manifestBytes)
		if err != nil {
			return nil, fmt.Errorf("failed parsing manifest: %s: %w", manifestPath, err)
		}
		manifests = append(manifests, parsed)
	}

	sort.Slice(manifests, func(i, j int) bool {
		return manifests[i].Version.GreaterThan(manifests[j].Version)
	})
	return manifests, nil
}

// countManifests returns the number of manifest files under the index,
// verifying each one. Used by the updater to validate a freshly synced tree.
func (ix *Index) countManifests() (int, error) {
	indexRoot := filepath.Join(ix.root, "index")
	entries, err := os.ReadDir(indexRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read registry index: %w", err)
	}

	count := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		manifests, err := ix.PackageVersions(entry.Name())
		if err != nil {
			return 0, err
		}
		count += len(manifests)
	}
	return count, nil
}

// LegacyBackend serves a single unmanaged registry directory, used by the
// --registry-root escape hatch and by tests.
type LegacyBackend struct {
	index *Index
}

// OpenLegacyBackend opens a backend over one registry directory.
func OpenLegacyBackend(root string) *LegacyBackend {
	return &LegacyBackend{index: OpenIndex(root)}
}

// SearchNames implements MetadataBackend.
func (b *LegacyBackend) SearchNames(needle string) ([]string, error) {
	return b.index.SearchNames(needle)
}

// PackageVersions implements MetadataBackend.
func (b *LegacyBackend) PackageVersions(name string) ([]*manifest.PackageManifest, error) {
	return b.index.PackageVersions(name)
}

// ConfiguredBackend is the union over enabled sources with ready snapshots.
// On duplicate versions the source with the lowest priority wins, ties broken
// by source name ascending.
type ConfiguredBackend struct {
	layout  *prefix.Layout
	sources []Source
}

// OpenConfiguredBackend selects the enabled ready sources. It fails when no
// enabled source has a ready snapshot, pointing the user at registry add and
// update.
func OpenConfiguredBackend(layout *prefix.Layout, store *Store) (*ConfiguredBackend, error) {
	enabled, err := store.EnabledSources()
	if err != nil {
		return nil, err
	}

	var ready []Source
	for _, source := range enabled {
		state := ReadSnapshotState(layout, source.Name)
		if state.Kind == SnapshotReady {
			ready = append(ready, source)
		}
	}
	if len(ready) == 0 {
		return nil, fmt.Errorf("no enabled registry sources with a ready snapshot; " +
			"configure one with 'crosspack registry add' and sync it with 'crosspack update'")
	}

	return &ConfiguredBackend{layout: layout, sources: ready}, nil
}

// Sources returns the selected sources in (priority, name) order.
func (b *ConfiguredBackend) Sources() []Source { return b.sources }

// SearchNames implements MetadataBackend, deduplicating names across sources.
func (b *ConfiguredBackend) SearchNames(needle string) ([]string, error) {
	seen := make(map[string]bool)
	var names []string
	for _, source := range b.sources {
		index := OpenIndex(b.layout.SourceCacheDir(source.Name))
		sourceNames, err := index.SearchNames(needle)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", source.Name, err)
		}
		for _, name := range sourceNames {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names, nil
}

// PackageVersions implements MetadataBackend. Sources are visited in
// (priority, name) order, so the first manifest seen for a version wins.
func (b *ConfiguredBackend) PackageVersions(name string) ([]*manifest.PackageManifest, error) {
	seenVersions := make(map[string]bool)
	var merged []*manifest.PackageManifest
	for _, source := range b.sources {
		index := OpenIndex(b.layout.SourceCacheDir(source.Name))
		manifests, err := index.PackageVersions(name)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", source.Name, err)
		}
		for _, m := range manifests {
			key := m.Version.String()
			if seenVersions[key] {
				continue
			}
			seenVersions[key] = true
			merged = append(merged, m)
		}
	}

	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Version.GreaterThan(merged[j].Version)
	})
	return merged, nil
}
