// Package manifest defines the signed package manifest model and its TOML
// codec.
//
// A manifest describes one package version: capability tokens it provides,
// packages it conflicts with or replaces, dependencies, and one downloadable
// artifact per target triple.
package manifest

import (
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/Masterminds/semver/v3"
)

// Binary is a declared executable inside an artifact.
type Binary struct {
	Name string `toml:"name"`
	Path string `toml:"path"`
}

// Completion is a declared shell completion file inside an artifact.
type Completion struct {
	Shell string `toml:"shell"`
	Path  string `toml:"path"`
}

// Protocol is a URL scheme handled by a GUI app.
type Protocol struct {
	Scheme string `toml:"scheme"`
}

// FileAssociation maps a MIME type and its file extensions to a GUI app.
type FileAssociation struct {
	MimeType   string   `toml:"mime_type"`
	Extensions []string `toml:"extensions"`
}

// GuiApp is a declared graphical application inside an artifact.
type GuiApp struct {
	AppID            string            `toml:"app_id"`
	DisplayName      string            `toml:"display_name"`
	Exec             string            `toml:"exec"`
	Icon             string            `toml:"icon"`
	Categories       []string          `toml:"categories"`
	Protocols        []Protocol        `toml:"protocols"`
	FileAssociations []FileAssociation `toml:"file_associations"`
}

// Artifact is one downloadable file for a specific target triple.
type Artifact struct {
	Target          string       `toml:"target"`
	URL             string       `toml:"url"`
	SHA256          string       `toml:"sha256"`
	Type            string       `toml:"type"`
	StripComponents int          `toml:"strip_components"`
	ArtifactRoot    string       `toml:"artifact_root"`
	Binaries        []Binary     `toml:"binaries"`
	Completions     []Completion `toml:"completions"`
	GuiApps         []GuiApp     `toml:"gui_apps"`
}

// ArchiveType resolves the artifact's archive type from the declared type,
// falling back to the URL suffix.
func (a *Artifact) ArchiveType() (ArchiveType, error) {
	if a.Type != "" {
		return ParseArchiveType(a.Type)
	}
	if t, ok := ArchiveTypeFromURL(a.URL); ok {
		return t, nil
	}
	return "", fmt.Errorf("cannot derive archive type for artifact %s (target %s)", a.URL, a.Target)
}

// PackageManifest is one signed per-version package description.
type PackageManifest struct {
	Name         string
	Version      *semver.Version
	License      string
	Homepage     string
	Provides     []string
	Conflicts    map[string]*semver.Constraints
	Replaces     map[string]*semver.Constraints
	Dependencies map[string]*semver.Constraints
	Artifacts    []Artifact
}

// rawManifest is the TOML wire shape before semver validation.
type rawManifest struct {
	Name         string            `toml:"name"`
	Version      string            `toml:"version"`
	License      string            `toml:"license"`
	Homepage     string            `toml:"homepage"`
	Provides     []string          `toml:"provides"`
	Conflicts    map[string]string `toml:"conflicts"`
	Replaces     map[string]string `toml:"replaces"`
	Dependencies map[string]string `toml:"dependencies"`
	Artifacts    []Artifact        `toml:"artifacts"`
}

// Parse decodes a manifest from its exact TOML bytes.
func Parse(data []byte) (*PackageManifest, error) {
	var raw rawManifest
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed parsing manifest: %w", err)
	}

	if strings.TrimSpace(raw.Name) == "" {
		return nil, fmt.Errorf("manifest is missing package name")
	}
	version, err := semver.NewVersion(raw.Version)
	if err != nil {
		return nil, fmt.Errorf("manifest for %q has invalid version %q: %w", raw.Name, raw.Version, err)
	}

	m := &PackageManifest{
		Name:     raw.Name,
		Version:  version,
		License:  raw.License,
		Homepage: raw.Homepage,
		Provides: raw.Provides,
	}
	if m.Conflicts, err = parseRequirementMap(raw.Name, "conflicts", raw.Conflicts); err != nil {
		return nil, err
	}
	if m.Replaces, err = parseRequirementMap(raw.Name, "replaces", raw.Replaces); err != nil {
		return nil, err
	}
	if m.Dependencies, err = parseRequirementMap(raw.Name, "dependencies", raw.Dependencies); err != nil {
		return nil, err
	}
	m.Artifacts = raw.Artifacts
	return m, nil
}

func parseRequirementMap(pkg, field string, raw map[string]string) (map[string]*semver.Constraints, error) {
	if len(raw) == 0 {
		return map[string]*semver.Constraints{}, nil
	}
	parsed := make(map[string]*semver.Constraints, len(raw))
	for name, req := range raw {
		constraints, err := semver.NewConstraint(req)
		if err != nil {
			return nil, fmt.Errorf("manifest for %q has invalid %s requirement for %q: %q: %w",
				pkg, field, name, req, err)
		}
		parsed[name] = constraints
	}
	return parsed, nil
}

// ArtifactForTarget returns the artifact declared for the target triple, or
// an error naming the package, version, and target when none matches.
func (m *PackageManifest) ArtifactForTarget(target string) (*Artifact, error) {
	for i := range m.Artifacts {
		if m.Artifacts[i].Target == target {
			return &m.Artifacts[i], nil
		}
	}
	return nil, fmt.Errorf("no artifact available for target %s in %s %s", target, m.Name, m.Version)
}

// DependencyNames returns the sorted dependency names.
func (m *PackageManifest) DependencyNames() []string {
	names := make([]string, 0, len(m.Dependencies))
	for name := range m.Dependencies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
