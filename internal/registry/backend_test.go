package registry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/crosspack-dev/crosspack/internal/testutil"
)

func manifestBody(name, version string) string {
	return testutil.ManifestTOML(name, version, "x86_64-unknown-linux-gnu",
		"https://example.com/"+name+"-"+version+".tar.gz",
		strings.Repeat("0", 64), map[string]string{name: name})
}

func TestIndex_PackageVersionsVerifiesAndSortsDescending(t *testing.T) {
	root := t.TempDir()
	key := testutil.NewSigningKey(t)
	testutil.WriteRegistryTree(t, root, key, map[string]map[string]string{
		"ripgrep": {
			"14.0.0": manifestBody("ripgrep", "14.0.0"),
			"14.1.0": manifestBody("ripgrep", "14.1.0"),
		},
	})

	manifests, err := OpenIndex(root).PackageVersions("ripgrep")
	if err != nil {
		t.Fatalf("PackageVersions() error = %v", err)
	}
	if len(manifests) != 2 {
		t.Fatalf("manifest count = %d", len(manifests))
	}
	if manifests[0].Version.String() != "14.1.0" || manifests[1].Version.String() != "14.0.0" {
		t.Errorf("versions = %s, %s", manifests[0].Version, manifests[1].Version)
	}
}

func TestIndex_FailsWhenRegistryKeyMissing(t *testing.T) {
	root := t.TempDir()
	pkgDir := filepath.Join(root, "index", "ripgrep")
	if err := os.MkdirAll(pkgDir, 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(pkgDir, "14.1.0.toml"), []byte(manifestBody("ripgrep", "14.1.0")), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	_, err := OpenIndex(root).PackageVersions("ripgrep")
	if err == nil || !strings.Contains(err.Error(), "registry.pub") {
		t.Fatalf("PackageVersions() error = %v", err)
	}
}

func TestIndex_FailsWhenSignatureMissing(t *testing.T) {
	root := t.TempDir()
	key := testutil.NewSigningKey(t)
	testutil.WriteRegistryTree(t, root, key, nil)

	pkgDir := filepath.Join(root, "index", "ripgrep")
	if err := os.MkdirAll(pkgDir, 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(pkgDir, "14.1.0.toml"), []byte(manifestBody("ripgrep", "14.1.0")), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	_, err := OpenIndex(root).PackageVersions("ripgrep")
	if err == nil || !strings.Contains(err.Error(), ".sig") {
		t.Fatalf("PackageVersions() error = %v", err)
	}
}

func TestIndex_FailsWhenSignatureInvalid(t *testing.T) {
	root := t.TempDir()
	key := testutil.NewSigningKey(t)
	testutil.WriteRegistryTree(t, root, key, map[string]map[string]string{
		"ripgrep": {"14.1.0": manifestBody("ripgrep", "14.1.0")},
	})

	sigPath := filepath.Join(root, "index", "ripgrep", "14.1.0.toml.sig")
	if err := os.WriteFile(sigPath, []byte(strings.Repeat("00", 64)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	_, err := OpenIndex(root).PackageVersions("ripgrep")
	if err == nil || !strings.Contains(err.Error(), "signature") {
		t.Fatalf("PackageVersions() error = %v", err)
	}
	// The error names the 16-char key identifier.
	if !strings.Contains(err.Error(), key.PublicKeyHex()[:16]) {
		t.Errorf("error %q missing key identifier", err)
	}
}

func TestIndex_SearchNamesMatchesVerifiedPackages(t *testing.T) {
	root := t.TempDir()
	key := testutil.NewSigningKey(t)
	testutil.WriteRegistryTree(t, root, key, map[string]map[string]string{
		"ripgrep": {"14.1.0": manifestBody("ripgrep", "14.1.0")},
		"fd":      {"9.0.0": manifestBody("fd", "9.0.0")},
	})

	names, err := OpenIndex(root).SearchNames("rip")
	if err != nil {
		t.Fatalf("SearchNames() error = %v", err)
	}
	if len(names) != 1 || names[0] != "ripgrep" {
		t.Errorf("SearchNames() = %v", names)
	}
}

func TestConfiguredBackend_FailsWithoutReadySources(t *testing.T) {
	layout := testutil.NewTestLayout(t)
	store := NewStore(layout)
	if err := store.Add(sourceRecord("official", 10)); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	_, err := OpenConfiguredBackend(layout, store)
	if err == nil || !strings.Contains(err.Error(), "registry add") {
		t.Fatalf("OpenConfiguredBackend() error = %v", err)
	}
}

func TestConfiguredBackend_MergePrefersLowestPriority(t *testing.T) {
	layout := testutil.NewTestLayout(t)
	store := NewStore(layout)
	key := testutil.NewSigningKey(t)

	// Both sources publish tool 1.0.0; "primary" (priority 1) also has
	// 2.0.0. The merged view keeps primary's 1.0.0 and both versions.
	primary := sourceRecord("primary", 1)
	secondary := sourceRecord("secondary", 10)
	for _, source := range []Source{primary, secondary} {
		if err := store.Add(source); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
	}

	testutil.WriteRegistryTree(t, layout.SourceCacheDir("primary"), key, map[string]map[string]string{
		"tool": {
			"1.0.0": manifestBody("tool", "1.0.0"),
			"2.0.0": manifestBody("tool", "2.0.0"),
		},
	})
	testutil.WriteRegistryTree(t, layout.SourceCacheDir("secondary"), key, map[string]map[string]string{
		"tool":  {"1.0.0": manifestBody("tool", "1.0.0")},
		"other": {"0.1.0": manifestBody("other", "0.1.0")},
	})
	for _, name := range []string{"primary", "secondary"} {
		if err := writeSnapshotFile(layout, name, "fs:0011223344556677", 1, 1); err != nil {
			t.Fatalf("writeSnapshotFile() error = %v", err)
		}
	}

	backend, err := OpenConfiguredBackend(layout, store)
	if err != nil {
		t.Fatalf("OpenConfiguredBackend() error = %v", err)
	}

	manifests, err := backend.PackageVersions("tool")
	if err != nil {
		t.Fatalf("PackageVersions() error = %v", err)
	}
	if len(manifests) != 2 {
		t.Fatalf("merged manifest count = %d", len(manifests))
	}
	if manifests[0].Version.String() != "2.0.0" {
		t.Errorf("first merged version = %s", manifests[0].Version)
	}

	names, err := backend.SearchNames("o")
	if err != nil {
		t.Fatalf("SearchNames() error = %v", err)
	}
	if len(names) != 2 || names[0] != "other" || names[1] != "tool" {
		t.Errorf("SearchNames() = %v", names)
	}
}

func TestReadSnapshotState(t *testing.T) {
	layout := testutil.NewTestLayout(t)

	if state := ReadSnapshotState(layout, "official"); state.Kind != SnapshotNone {
		t.Errorf("missing snapshot state = %v", state)
	}

	if err := os.MkdirAll(layout.SourceCacheDir("official"), 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(layout.SourceSnapshotPath("official"), []byte("{garbage"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	state := ReadSnapshotState(layout, "official")
	if state.Kind != SnapshotError || state.Reason != ReasonSnapshotUnreadable {
		t.Errorf("corrupt snapshot state = %v", state)
	}

	if err := writeSnapshotFile(layout, "official", "git:0123456789abcdef", 3, 1); err != nil {
		t.Fatalf("writeSnapshotFile() error = %v", err)
	}
	state = ReadSnapshotState(layout, "official")
	if state.Kind != SnapshotReady || state.SnapshotID != "git:0123456789abcdef" {
		t.Errorf("ready snapshot state = %v", state)
	}
}
