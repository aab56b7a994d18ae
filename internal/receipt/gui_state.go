package receipt

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/crosspack-dev/crosspack/internal/fsutil"
)

// GuiAsset is one managed GUI exposure: an ownership key (app:<id>,
// protocol:<scheme>, extension:<ext>, mime:<type>) and the prefix-relative
// path of the managed launcher/handler file under share/gui.
type GuiAsset struct {
	Key     string
	RelPath string
}

// WriteGuiState persists a package's GUI exposure state. An empty asset list
// removes the state file.
func (s *Store) WriteGuiState(name string, assets []GuiAsset) error {
	path := s.layout.GuiStatePath(name)
	if len(assets) == 0 {
		return fsutil.RemoveFileIfExists(path)
	}

	var b strings.Builder
	for _, asset := range assets {
		if strings.ContainsAny(asset.Key, "\t\n") || strings.ContainsAny(asset.RelPath, "\t\n") {
			return fmt.Errorf("gui exposure values must not contain tabs or newlines")
		}
		fmt.Fprintf(&b, "gui_asset=%s\t%s\n", asset.Key, asset.RelPath)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("failed writing gui exposure state %s: %w", path, err)
	}
	return nil
}

// ReadGuiState loads a package's GUI exposure state; absence is an empty
// list.
func (s *Store) ReadGuiState(name string) ([]GuiAsset, error) {
	path := s.layout.GuiStatePath(name)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed reading gui exposure state %s: %w", path, err)
	}

	var assets []GuiAsset
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		value, ok := strings.CutPrefix(line, "gui_asset=")
		if !ok {
			return nil, fmt.Errorf("invalid gui exposure row in %s: %q", path, line)
		}
		key, relPath, ok := strings.Cut(value, "\t")
		if !ok || key == "" || relPath == "" {
			return nil, fmt.Errorf("invalid gui exposure row in %s: %q", path, line)
		}
		assets = append(assets, GuiAsset{Key: key, RelPath: relPath})
	}
	return assets, nil
}

// ReadAllGuiStates loads GUI exposure state for every package that has one,
// keyed by package name.
func (s *Store) ReadAllGuiStates() (map[string][]GuiAsset, error) {
	dir := s.layout.InstalledStateDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string][]GuiAsset{}, nil
		}
		return nil, fmt.Errorf("failed to read install state directory %s: %w", dir, err)
	}

	states := make(map[string][]GuiAsset)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".gui") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".gui")
		assets, err := s.ReadGuiState(name)
		if err != nil {
			return nil, err
		}
		if len(assets) > 0 {
			states[name] = assets
		}
	}
	return states, nil
}

// SortGuiAssets orders assets by (key, rel path) for deterministic output.
func SortGuiAssets(assets []GuiAsset) {
	sort.Slice(assets, func(i, j int) bool {
		if assets[i].Key != assets[j].Key {
			return assets[i].Key < assets[j].Key
		}
		return assets[i].RelPath < assets[j].RelPath
	})
}
