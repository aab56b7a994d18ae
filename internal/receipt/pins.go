package receipt

import (
	"fmt"
	"os"
	"strings"

	"github.com/crosspack-dev/crosspack/internal/fsutil"
)

// WritePin stores a version requirement pin for a package. The pin file
// holds the raw requirement string on a single line.
func (s *Store) WritePin(name, requirement string) error {
	requirement = strings.TrimSpace(requirement)
	if requirement == "" {
		return fmt.Errorf("pin requirement must not be empty")
	}
	if err := os.MkdirAll(s.layout.PinsDir(), 0o755); err != nil {
		return fmt.Errorf("failed to create pins directory: %w", err)
	}
	path := s.layout.PinPath(name)
	if err := os.WriteFile(path, []byte(requirement+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed writing pin %s: %w", path, err)
	}
	return nil
}

// ReadPin returns a package's pin requirement, or "" when not pinned.
func (s *Store) ReadPin(name string) (string, error) {
	data, err := os.ReadFile(s.layout.PinPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed reading pin for '%s': %w", name, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// RemovePin deletes a package's pin, treating absence as success.
func (s *Store) RemovePin(name string) error {
	return fsutil.RemoveFileIfExists(s.layout.PinPath(name))
}

// ReadAllPins returns every pinned package mapped to its raw requirement.
func (s *Store) ReadAllPins() (map[string]string, error) {
	entries, err := os.ReadDir(s.layout.PinsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("failed to read pins directory: %w", err)
	}

	pins := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		requirement, err := s.ReadPin(entry.Name())
		if err != nil {
			return nil, err
		}
		if requirement != "" {
			pins[entry.Name()] = requirement
		}
	}
	return pins, nil
}
