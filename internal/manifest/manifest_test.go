package manifest

import (
	"strings"
	"testing"
)

const sampleManifest = `name = "ripgrep"
version = "14.1.0"
license = "MIT"
provides = ["rg"]

[replaces]
ripgrep-legacy = "<2.0.0"

[dependencies]
pcre = ">=10"

[[artifacts]]
target = "x86_64-unknown-linux-gnu"
url = "https://example.com/ripgrep-14.1.0.tar.gz"
sha256 = "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"

[[artifacts.binaries]]
name = "rg"
path = "rg"

[[artifacts.completions]]
shell = "bash"
path = "complete/rg.bash"
`

func TestParse_FullManifest(t *testing.T) {
	m, err := Parse([]byte(sampleManifest))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if m.Name != "ripgrep" {
		t.Errorf("Name = %s", m.Name)
	}
	if m.Version.String() != "14.1.0" {
		t.Errorf("Version = %s", m.Version)
	}
	if len(m.Provides) != 1 || m.Provides[0] != "rg" {
		t.Errorf("Provides = %v", m.Provides)
	}
	if _, ok := m.Replaces["ripgrep-legacy"]; !ok {
		t.Error("Replaces missing ripgrep-legacy")
	}
	if _, ok := m.Dependencies["pcre"]; !ok {
		t.Error("Dependencies missing pcre")
	}
	if len(m.Artifacts) != 1 {
		t.Fatalf("Artifacts count = %d", len(m.Artifacts))
	}
	if m.Artifacts[0].Binaries[0].Name != "rg" {
		t.Errorf("binary name = %s", m.Artifacts[0].Binaries[0].Name)
	}
}

func TestParse_RejectsMissingName(t *testing.T) {
	if _, err := Parse([]byte("version = \"1.0.0\"\n")); err == nil {
		t.Fatal("Parse() accepted manifest without name")
	}
}

func TestParse_RejectsInvalidVersion(t *testing.T) {
	_, err := Parse([]byte("name = \"tool\"\nversion = \"not-semver\"\n"))
	if err == nil {
		t.Fatal("Parse() accepted invalid version")
	}
	if !strings.Contains(err.Error(), "invalid version") {
		t.Errorf("error = %v", err)
	}
}

func TestParse_RejectsInvalidDependencyRequirement(t *testing.T) {
	body := "name = \"tool\"\nversion = \"1.0.0\"\n\n[dependencies]\nother = \"???\"\n"
	if _, err := Parse([]byte(body)); err == nil {
		t.Fatal("Parse() accepted invalid dependency requirement")
	}
}

func TestArtifactForTarget(t *testing.T) {
	m, err := Parse([]byte(sampleManifest))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if _, err := m.ArtifactForTarget("x86_64-unknown-linux-gnu"); err != nil {
		t.Errorf("ArtifactForTarget() error = %v", err)
	}

	_, err = m.ArtifactForTarget("aarch64-apple-darwin")
	if err == nil {
		t.Fatal("ArtifactForTarget() found artifact for undeclared target")
	}
	for _, fragment := range []string{"ripgrep", "14.1.0", "aarch64-apple-darwin"} {
		if !strings.Contains(err.Error(), fragment) {
			t.Errorf("error %q missing %q", err, fragment)
		}
	}
}

func TestArchiveType_FromDeclaredType(t *testing.T) {
	a := Artifact{Type: "tar.zst", URL: "https://example.com/x"}
	got, err := a.ArchiveType()
	if err != nil {
		t.Fatalf("ArchiveType() error = %v", err)
	}
	if got != ArchiveTarZst {
		t.Errorf("ArchiveType() = %s", got)
	}
}

func TestArchiveType_FromURLSuffix(t *testing.T) {
	cases := map[string]ArchiveType{
		"https://example.com/a.tar.gz":   ArchiveTarGz,
		"https://example.com/a.tgz":      ArchiveTarGz,
		"https://example.com/a.tar.xz":   ArchiveTarXz,
		"https://example.com/a.tar.zst":  ArchiveTarZst,
		"https://example.com/a.zip":      ArchiveZip,
		"https://example.com/a.AppImage": ArchiveAppImage,
		"https://example.com/a.msi":      ArchiveMsi,
		"https://example.com/a.dmg":      ArchiveDmg,
	}
	for url, want := range cases {
		a := Artifact{URL: url}
		got, err := a.ArchiveType()
		if err != nil {
			t.Errorf("ArchiveType(%s) error = %v", url, err)
			continue
		}
		if got != want {
			t.Errorf("ArchiveType(%s) = %s, want %s", url, got, want)
		}
	}

	a := Artifact{URL: "https://example.com/tool"}
	if _, err := a.ArchiveType(); err == nil {
		t.Error("ArchiveType() derived a type from an extensionless URL")
	}
}

func TestArchiveType_IsNativeInstaller(t *testing.T) {
	for _, native := range []ArchiveType{ArchiveMsi, ArchiveExe, ArchivePkg, ArchiveMsix, ArchiveAppx} {
		if !native.IsNativeInstaller() {
			t.Errorf("%s should be a native installer", native)
		}
	}
	for _, managed := range []ArchiveType{ArchiveZip, ArchiveTarGz, ArchiveBin, ArchiveAppImage, ArchiveDmg} {
		if managed.IsNativeInstaller() {
			t.Errorf("%s should not be a native installer", managed)
		}
	}
}

func TestParseArchiveType_RejectsUnknown(t *testing.T) {
	if _, err := ParseArchiveType("rar"); err == nil {
		t.Fatal("ParseArchiveType() accepted rar")
	}
}
