// Package security holds the signature and checksum primitives shared by the
// registry and installer layers: raw Ed25519 signatures over exact manifest
// bytes, and SHA-256 digests with case-insensitive hex comparison.
package security

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// SHA256Hex returns the lowercase hex SHA-256 digest of bytes.
func SHA256Hex(data []byte) string {
	digest := sha256.Sum256(data)
	return hex.EncodeToString(digest[:])
}

// VerifySHA256 reports whether the SHA-256 of data matches expectedHex.
// The comparison is case-insensitive.
func VerifySHA256(data []byte, expectedHex string) bool {
	return strings.EqualFold(SHA256Hex(data), expectedHex)
}

// SHA256HexFile returns the lowercase hex SHA-256 digest of the file at path.
func SHA256HexFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file for checksum: %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to read file for checksum: %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifySHA256File reports whether the SHA-256 of the file at path matches
// expectedHex, comparing case-insensitively.
func VerifySHA256File(path, expectedHex string) (bool, error) {
	actual, err := SHA256HexFile(path)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(actual, expectedHex), nil
}

// VerifyEd25519SignatureHex verifies signatureHex (raw Ed25519 signature,
// hex-encoded) over message against publicKeyHex (raw 32-byte public key,
// hex-encoded). A well-formed but non-matching signature returns
// (false, nil); malformed inputs return an error.
func VerifyEd25519SignatureHex(message []byte, publicKeyHex, signatureHex string) (bool, error) {
	publicKey, err := hex.DecodeString(strings.TrimSpace(publicKeyHex))
	if err != nil {
		return false, fmt.Errorf("malformed ed25519 public key hex: %w", err)
	}
	if len(publicKey) != ed25519.PublicKeySize {
		return false, fmt.Errorf("malformed ed25519 public key: got %d bytes, want %d",
			len(publicKey), ed25519.PublicKeySize)
	}

	signature, err := hex.DecodeString(strings.TrimSpace(signatureHex))
	if err != nil {
		return false, fmt.Errorf("malformed ed25519 signature hex: %w", err)
	}
	if len(signature) != ed25519.SignatureSize {
		return false, fmt.Errorf("malformed ed25519 signature: got %d bytes, want %d",
			len(signature), ed25519.SignatureSize)
	}

	return ed25519.Verify(ed25519.PublicKey(publicKey), message, signature), nil
}

// KeyIdentifier returns the first 16 characters of a hex public key, used to
// name the signing key in error messages.
func KeyIdentifier(publicKeyHex string) string {
	trimmed := strings.TrimSpace(publicKeyHex)
	if len(trimmed) <= 16 {
		return trimmed
	}
	return trimmed[:16]
}
