// Package receipt persists per-package install state under the prefix:
// install receipts, version pins, GUI exposure state, and the native GUI
// sidecar. Receipts, GUI state and the sidecar are newline-terminated
// key=value rows; a pin file holds the raw requirement on one line. All files
// are keyed by package name alone; one installed version per package per
// prefix.
package receipt

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/crosspack-dev/crosspack/internal/fsutil"
	"github.com/crosspack-dev/crosspack/internal/prefix"
)

// InstallMode records how a package's artifact was applied.
type InstallMode string

const (
	// InstallModeManaged is plain extraction into the prefix.
	InstallModeManaged InstallMode = "managed"
	// InstallModeNative means an OS-native installer format was used.
	InstallModeNative InstallMode = "native"
)

// InstallReason records why a package is present.
type InstallReason string

const (
	// InstallReasonRoot marks a package the user asked for directly.
	InstallReasonRoot InstallReason = "root"
	// InstallReasonDependency marks a package pulled in by the resolver.
	InstallReasonDependency InstallReason = "dependency"
)

// InstallStatusInstalled is the only install status written today. Unknown
// values read from older receipts are preserved verbatim.
const InstallStatusInstalled = "installed"

// InstallReceipt is the record that one package version is installed.
type InstallReceipt struct {
	Name               string
	Version            string
	Dependencies       []string // "name@version"
	Target             string
	ArtifactURL        string
	ArtifactSHA256     string
	CachePath          string
	ExposedBins        []string
	ExposedCompletions []string
	SnapshotID         string
	InstallMode        InstallMode
	InstallReason      InstallReason
	InstallStatus      string
	InstalledAtUnix    int64
}

// Store reads and writes per-package state files.
type Store struct {
	layout *prefix.Layout
}

// NewStore creates a Store over the prefix layout.
func NewStore(layout *prefix.Layout) *Store {
	return &Store{layout: layout}
}

// WriteReceipt persists a receipt at its deterministic path. Values must not
// contain tabs or newlines.
func (s *Store) WriteReceipt(r *InstallReceipt) (string, error) {
	var rows []row
	rows = append(rows,
		row{"name", r.Name},
		row{"version", r.Version},
	)
	for _, dep := range r.Dependencies {
		rows = append(rows, row{"dependency", dep})
	}
	if r.Target != "" {
		rows = append(rows, row{"target", r.Target})
	}
	if r.ArtifactURL != "" {
		rows = append(rows, row{"artifact_url", r.ArtifactURL})
	}
	if r.ArtifactSHA256 != "" {
		rows = append(rows, row{"artifact_sha256", r.ArtifactSHA256})
	}
	if r.CachePath != "" {
		rows = append(rows, row{"cache_path", r.CachePath})
	}
	for _, bin := range r.ExposedBins {
		rows = append(rows, row{"exposed_bin", bin})
	}
	for _, completion := range r.ExposedCompletions {
		rows = append(rows, row{"exposed_completion", completion})
	}
	if r.SnapshotID != "" {
		rows = append(rows, row{"snapshot_id", r.SnapshotID})
	}

	mode := r.InstallMode
	if mode == "" {
		mode = InstallModeManaged
	}
	reason := r.InstallReason
	if reason == "" {
		reason = InstallReasonRoot
	}
	status := r.InstallStatus
	if status == "" {
		status = InstallStatusInstalled
	}
	rows = append(rows,
		row{"install_mode", string(mode)},
		row{"install_reason", string(reason)},
		row{"install_status", status},
		row{"installed_at_unix", strconv.FormatInt(r.InstalledAtUnix, 10)},
	)

	path := s.layout.ReceiptPath(r.Name)
	if err := writeRows(path, rows); err != nil {
		return "", fmt.Errorf("failed writing install receipt for '%s': %w", r.Name, err)
	}
	return path, nil
}

// ReadReceipt loads one package's receipt, or nil when none exists.
func (s *Store) ReadReceipt(name string) (*InstallReceipt, error) {
	path := s.layout.ReceiptPath(name)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed reading install receipt %s: %w", path, err)
	}
	r, err := parseReceipt(string(data))
	if err != nil {
		return nil, fmt.Errorf("failed parsing install receipt %s: %w", path, err)
	}
	return r, nil
}

// ReadAll loads every install receipt sorted by package name.
func (s *Store) ReadAll() ([]*InstallReceipt, error) {
	dir := s.layout.InstalledStateDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read install state directory %s: %w", dir, err)
	}

	var receipts []*InstallReceipt
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".receipt") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".receipt")
		r, err := s.ReadReceipt(name)
		if err != nil {
			return nil, err
		}
		if r != nil {
			receipts = append(receipts, r)
		}
	}

	sort.Slice(receipts, func(i, j int) bool { return receipts[i].Name < receipts[j].Name })
	return receipts, nil
}

// RemoveReceipt deletes a package's receipt, treating absence as success.
func (s *Store) RemoveReceipt(name string) error {
	return fsutil.RemoveFileIfExists(s.layout.ReceiptPath(name))
}

func parseReceipt(raw string) (*InstallReceipt, error) {
	r := &InstallReceipt{
		InstallMode:   InstallModeManaged,
		InstallReason: InstallReasonRoot,
		InstallStatus: InstallStatusInstalled,
	}

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("invalid receipt row: %q", line)
		}

		switch key {
		case "name":
			r.Name = value
		case "version":
			r.Version = value
		case "dependency":
			r.Dependencies = append(r.Dependencies, value)
		case "target":
			r.Target = value
		case "artifact_url":
			r.ArtifactURL = value
		case "artifact_sha256":
			r.ArtifactSHA256 = value
		case "cache_path":
			r.CachePath = value
		case "exposed_bin":
			r.ExposedBins = append(r.ExposedBins, value)
		case "exposed_completion":
			r.ExposedCompletions = append(r.ExposedCompletions, value)
		case "snapshot_id":
			r.SnapshotID = value
		case "install_mode":
			// Unknown mode tokens from newer versions fall back to managed.
			if InstallMode(value) == InstallModeNative {
				r.InstallMode = InstallModeNative
			} else {
				r.InstallMode = InstallModeManaged
			}
		case "install_reason":
			if InstallReason(value) == InstallReasonDependency {
				r.InstallReason = InstallReasonDependency
			} else {
				r.InstallReason = InstallReasonRoot
			}
		case "install_status":
			r.InstallStatus = value
		case "installed_at_unix":
			parsed, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid installed_at_unix value %q", value)
			}
			r.InstalledAtUnix = parsed
		}
	}

	if r.Name == "" {
		return nil, fmt.Errorf("receipt is missing package name")
	}
	if r.Version == "" {
		return nil, fmt.Errorf("receipt for '%s' is missing version", r.Name)
	}
	return r, nil
}

type row struct {
	key   string
	value string
}

// writeRows renders newline-terminated key=value rows, rejecting values that
// would corrupt the line format.
func writeRows(path string, rows []row) error {
	var b strings.Builder
	for _, row := range rows {
		if strings.ContainsAny(row.value, "\t\n") || strings.ContainsAny(row.key, "\t\n=") {
			return fmt.Errorf("state values must not contain tabs or newlines: key %q", row.key)
		}
		b.WriteString(row.key)
		b.WriteByte('=')
		b.WriteString(row.value)
		b.WriteByte('\n')
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
