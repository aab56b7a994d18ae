package manifest

import (
	"fmt"
	"strings"
)

// ArchiveType identifies how an artifact payload is unpacked.
type ArchiveType string

// Supported archive types. The native-installer group (msi, exe, pkg, msix,
// appx) requires install mode Native and an escalation-permitting policy.
const (
	ArchiveZip      ArchiveType = "zip"
	ArchiveTarGz    ArchiveType = "tar.gz"
	ArchiveTarXz    ArchiveType = "tar.xz"
	ArchiveTarZst   ArchiveType = "tar.zst"
	ArchiveBin      ArchiveType = "bin"
	ArchiveAppImage ArchiveType = "appimage"
	ArchiveMsi      ArchiveType = "msi"
	ArchiveExe      ArchiveType = "exe"
	ArchivePkg      ArchiveType = "pkg"
	ArchiveDmg      ArchiveType = "dmg"
	ArchiveMsix     ArchiveType = "msix"
	ArchiveAppx     ArchiveType = "appx"
)

// ParseArchiveType validates a declared archive type token.
func ParseArchiveType(value string) (ArchiveType, error) {
	switch t := ArchiveType(strings.ToLower(strings.TrimSpace(value))); t {
	case ArchiveZip, ArchiveTarGz, ArchiveTarXz, ArchiveTarZst, ArchiveBin,
		ArchiveAppImage, ArchiveMsi, ArchiveExe, ArchivePkg, ArchiveDmg,
		ArchiveMsix, ArchiveAppx:
		return t, nil
	default:
		return "", fmt.Errorf("unsupported archive type: %q", value)
	}
}

// ArchiveTypeFromURL derives an archive type from a download URL suffix.
func ArchiveTypeFromURL(url string) (ArchiveType, bool) {
	lower := strings.ToLower(url)
	switch {
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return ArchiveTarGz, true
	case strings.HasSuffix(lower, ".tar.xz"), strings.HasSuffix(lower, ".txz"):
		return ArchiveTarXz, true
	case strings.HasSuffix(lower, ".tar.zst"), strings.HasSuffix(lower, ".tzst"):
		return ArchiveTarZst, true
	case strings.HasSuffix(lower, ".zip"):
		return ArchiveZip, true
	case strings.HasSuffix(lower, ".appimage"):
		return ArchiveAppImage, true
	case strings.HasSuffix(lower, ".msi"):
		return ArchiveMsi, true
	case strings.HasSuffix(lower, ".exe"):
		return ArchiveExe, true
	case strings.HasSuffix(lower, ".pkg"):
		return ArchivePkg, true
	case strings.HasSuffix(lower, ".dmg"):
		return ArchiveDmg, true
	case strings.HasSuffix(lower, ".msix"):
		return ArchiveMsix, true
	case strings.HasSuffix(lower, ".appx"):
		return ArchiveAppx, true
	default:
		return "", false
	}
}

// String returns the wire token for the archive type.
func (t ArchiveType) String() string { return string(t) }

// IsNativeInstaller reports whether the type is handled by the host OS
// installer machinery rather than plain extraction.
func (t ArchiveType) IsNativeInstaller() bool {
	switch t {
	case ArchiveMsi, ArchiveExe, ArchivePkg, ArchiveMsix, ArchiveAppx:
		return true
	default:
		return false
	}
}

// CacheFileName returns the stable artifact cache file name for the type.
// Bin artifacts keep their original URL file name and are handled by the
// caller.
func (t ArchiveType) CacheFileName() string {
	return "artifact." + string(t)
}
