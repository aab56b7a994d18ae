// Package platform maps the host OS and architecture onto the target
// triples used by artifact selection.
package platform

import "runtime"

// HostTargetTriple returns the canonical target triple for the running
// process. Unknown combinations fall back to "unknown-unknown-unknown" so
// artifact selection fails with a readable error instead of a panic.
func HostTargetTriple() string {
	switch runtime.GOARCH + "/" + runtime.GOOS {
	case "amd64/linux":
		return "x86_64-unknown-linux-gnu"
	case "arm64/linux":
		return "aarch64-unknown-linux-gnu"
	case "amd64/darwin":
		return "x86_64-apple-darwin"
	case "arm64/darwin":
		return "aarch64-apple-darwin"
	case "amd64/windows":
		return "x86_64-pc-windows-msvc"
	case "arm64/windows":
		return "aarch64-pc-windows-msvc"
	default:
		return "unknown-unknown-unknown"
	}
}
