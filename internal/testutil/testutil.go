// Package testutil holds the shared test fixtures: temp prefixes and signed
// registry trees.
package testutil

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/crosspack-dev/crosspack/internal/prefix"
)

// NewTestLayout creates a prefix layout rooted in a fresh temp directory
// with the base skeleton in place.
func NewTestLayout(t *testing.T) *prefix.Layout {
	t.Helper()
	layout, err := prefix.NewLayout(t.TempDir())
	if err != nil {
		t.Fatalf("NewLayout() error = %v", err)
	}
	if err := layout.EnsureBaseDirs(); err != nil {
		t.Fatalf("EnsureBaseDirs() error = %v", err)
	}
	return layout
}

// SigningKey is a deterministic Ed25519 key pair for registry fixtures.
type SigningKey struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// NewSigningKey derives a key pair from a fixed seed so fixtures are
// reproducible.
func NewSigningKey(t *testing.T) *SigningKey {
	t.Helper()
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = 7
	}
	private := ed25519.NewKeyFromSeed(seed)
	return &SigningKey{
		Public:  private.Public().(ed25519.PublicKey),
		Private: private,
	}
}

// PublicKeyHex returns the hex encoding of the public key.
func (k *SigningKey) PublicKeyHex() string {
	return hex.EncodeToString(k.Public)
}

// SignHex signs data and returns the hex-encoded signature.
func (k *SigningKey) SignHex(data []byte) string {
	return hex.EncodeToString(ed25519.Sign(k.Private, data))
}

// WriteRegistryTree materializes a registry directory: registry.pub plus
// index/<pkg>/<ver>.toml and matching .sig sidecars for every manifest.
func WriteRegistryTree(t *testing.T, root string, key *SigningKey, manifests map[string]map[string]string) {
	t.Helper()
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatalf("failed creating registry root: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "registry.pub"), []byte(key.PublicKeyHex()+"\n"), 0o644); err != nil {
		t.Fatalf("failed writing registry.pub: %v", err)
	}
	for pkg, versions := range manifests {
		pkgDir := filepath.Join(root, "index", pkg)
		if err := os.MkdirAll(pkgDir, 0o755); err != nil {
			t.Fatalf("failed creating package dir: %v", err)
		}
		for version, body := range versions {
			manifestPath := filepath.Join(pkgDir, version+".toml")
			if err := os.WriteFile(manifestPath, []byte(body), 0o644); err != nil {
				t.Fatalf("failed writing manifest: %v", err)
			}
			if err := os.WriteFile(manifestPath+".sig", []byte(key.SignHex([]byte(body))), 0o644); err != nil {
				t.Fatalf("failed writing signature: %v", err)
			}
		}
	}
}

// ManifestTOML renders a minimal manifest body with one artifact for the
// given target.
func ManifestTOML(name, version, target, url, sha256 string, binaries map[string]string) string {
	body := fmt.Sprintf("name = %q\nversion = %q\n\n[[artifacts]]\ntarget = %q\nurl = %q\nsha256 = %q\n",
		name, version, target, url, sha256)
	for binName, binPath := range binaries {
		body += fmt.Sprintf("\n[[artifacts.binaries]]\nname = %q\npath = %q\n", binName, binPath)
	}
	return body
}
