// Package buildinfo reports the crosspack build version.
package buildinfo

import "runtime/debug"

// version is set via -ldflags on tagged release builds.
var version = ""

// Version returns the release version, falling back to module build info
// for untagged builds.
func Version() string {
	if version != "" {
		return version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}
