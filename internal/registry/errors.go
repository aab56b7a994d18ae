package registry

import (
	"errors"
	"fmt"
)

// ReasonCode is the deterministic machine-readable prefix attached to source
// update failures. Codes are stable and safe to grep for in tests.
type ReasonCode string

const (
	// ReasonSyncFailed indicates the source transport (git, filesystem copy)
	// could not produce a staging tree.
	ReasonSyncFailed ReasonCode = "source-sync-failed"
	// ReasonMetadataInvalid indicates manifests in the synced tree failed
	// signature verification or parsing.
	ReasonMetadataInvalid ReasonCode = "source-metadata-invalid"
	// ReasonFingerprintMismatch indicates registry.pub does not match the
	// configured fingerprint.
	ReasonFingerprintMismatch ReasonCode = "source-key-fingerprint-mismatch"
	// ReasonNotFound indicates a named source does not exist.
	ReasonNotFound ReasonCode = "source-not-found"
	// ReasonSnapshotUnreadable indicates snapshot.json exists but cannot be
	// read or parsed.
	ReasonSnapshotUnreadable ReasonCode = "snapshot-unreadable"
)

// SourceError is a source operation failure carrying its reason code.
type SourceError struct {
	Reason  ReasonCode
	Source  string
	Message string
	Err     error
}

func (e *SourceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Reason, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

func (e *SourceError) Unwrap() error { return e.Err }

// ReasonOf extracts the reason code from an error chain, defaulting to
// source-sync-failed for untyped failures.
func ReasonOf(err error) ReasonCode {
	var sourceErr *SourceError
	if errors.As(err, &sourceErr) {
		return sourceErr.Reason
	}
	return ReasonSyncFailed
}
