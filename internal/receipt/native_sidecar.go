package receipt

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/crosspack-dev/crosspack/internal/fsutil"
)

// nativeSidecarVersion is the schema version of the native GUI sidecar.
const nativeSidecarVersion = 1

// NativeAction is one recorded OS-native registration that uninstall must
// compensate: a GUI ownership key, the registration kind, and the absolute
// path (or registry key path) it created.
type NativeAction struct {
	Key  string
	Kind string
	Path string
}

// WriteNativeSidecar persists a package's native uninstall actions. An empty
// list removes the sidecar file.
func (s *Store) WriteNativeSidecar(name string, actions []NativeAction) error {
	path := s.layout.GuiNativeStatePath(name)
	if len(actions) == 0 {
		return fsutil.RemoveFileIfExists(path)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "version=%d\n", nativeSidecarVersion)
	for _, action := range actions {
		if strings.ContainsAny(action.Key, "\t\n") ||
			strings.ContainsAny(action.Kind, "\t\n") ||
			strings.ContainsAny(action.Path, "\t\n") {
			return fmt.Errorf("native uninstall action values must not contain tabs or newlines")
		}
		fmt.Fprintf(&b, "uninstall_action=%s\t%s\t%s\n", action.Key, action.Kind, action.Path)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write native sidecar state %s: %w", path, err)
	}
	return nil
}

// ReadNativeSidecar loads a package's native uninstall actions; absence is an
// empty list. Legacy "record=" rows are accepted alongside
// "uninstall_action=".
func (s *Store) ReadNativeSidecar(name string) ([]NativeAction, error) {
	path := s.layout.GuiNativeStatePath(name)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read native sidecar state %s: %w", path, err)
	}
	actions, err := parseNativeSidecar(string(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse native sidecar state %s: %w", path, err)
	}
	return actions, nil
}

// ReadAllNativeSidecars loads native sidecar state for every package that
// has one, keyed by package name.
func (s *Store) ReadAllNativeSidecars() (map[string][]NativeAction, error) {
	dir := s.layout.InstalledStateDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string][]NativeAction{}, nil
		}
		return nil, fmt.Errorf("failed to read install state directory %s: %w", dir, err)
	}

	states := make(map[string][]NativeAction)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".gui-native") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".gui-native")
		actions, err := s.ReadNativeSidecar(name)
		if err != nil {
			return nil, err
		}
		if len(actions) > 0 {
			states[name] = actions
		}
	}
	return states, nil
}

// ClearNativeSidecar removes a package's native sidecar file.
func (s *Store) ClearNativeSidecar(name string) error {
	return fsutil.RemoveFileIfExists(s.layout.GuiNativeStatePath(name))
}

func parseNativeSidecar(raw string) ([]NativeAction, error) {
	var actions []NativeAction
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("invalid native sidecar row format: %q", line)
		}
		if strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("native sidecar row key must not be empty")
		}

		switch key {
		case "version":
			parsed, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("native sidecar version must be an integer: %q", value)
			}
			if parsed != nativeSidecarVersion {
				return nil, fmt.Errorf("unsupported native sidecar version: %d", parsed)
			}
		case "uninstall_action", "record":
			action, err := parseNativeAction(value)
			if err != nil {
				return nil, err
			}
			actions = append(actions, action)
		}
	}
	return actions, nil
}

func parseNativeAction(value string) (NativeAction, error) {
	parts := strings.Split(value, "\t")
	if len(parts) != 3 {
		return NativeAction{}, fmt.Errorf("invalid native uninstall action row format")
	}
	if strings.TrimSpace(parts[0]) == "" {
		return NativeAction{}, fmt.Errorf("native uninstall action key must not be empty")
	}
	if strings.TrimSpace(parts[1]) == "" {
		return NativeAction{}, fmt.Errorf("native uninstall action kind must not be empty")
	}
	if strings.TrimSpace(parts[2]) == "" {
		return NativeAction{}, fmt.Errorf("native uninstall action path must not be empty")
	}
	return NativeAction{Key: parts[0], Kind: parts[1], Path: parts[2]}, nil
}
