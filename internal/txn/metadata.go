// Package txn implements the transactional core: metadata lifecycle, the
// exclusive active marker, the append-only journal, per-package state
// snapshots, and rollback replay.
package txn

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/crosspack-dev/crosspack/internal/prefix"
)

// metadataVersion is the schema version of <txid>.json.
const metadataVersion = 1

// Transaction statuses. planning and applying are live; committed and
// rolled_back are terminal; rolling_back and failed are repairable.
const (
	StatusPlanning    = "planning"
	StatusApplying    = "applying"
	StatusCommitted   = "committed"
	StatusRollingBack = "rolling_back"
	StatusRolledBack  = "rolled_back"
	StatusFailed      = "failed"
)

// Metadata is the persistent record of one transaction.
type Metadata struct {
	Version       int    `json:"version"`
	Txid          string `json:"txid"`
	Operation     string `json:"operation"`
	Status        string `json:"status"`
	StartedAtUnix int64  `json:"started_at_unix"`
	SnapshotID    string `json:"snapshot_id,omitempty"`
}

// IsTerminalStatus reports whether a status permits clearing a stale active
// marker.
func IsTerminalStatus(status string) bool {
	return status == StatusCommitted || status == StatusRolledBack
}

// WriteMetadata persists transaction metadata.
func WriteMetadata(layout *prefix.Layout, metadata *Metadata) error {
	data, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("failed serializing transaction metadata: %w", err)
	}
	path := layout.TransactionMetadataPath(metadata.Txid)
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed writing transaction metadata %s: %w", path, err)
	}
	return nil
}

// ReadMetadata loads a transaction's metadata, or nil when none exists. The
// parse scans quoted values by hand so a file truncated mid-write surfaces
// the offending field name instead of a generic decode error.
func ReadMetadata(layout *prefix.Layout, txid string) (*Metadata, error) {
	path := layout.TransactionMetadataPath(txid)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed reading transaction metadata %s: %w", path, err)
	}

	metadata, err := parseMetadata(string(data))
	if err != nil {
		return nil, fmt.Errorf("failed parsing transaction metadata %s: %w", path, err)
	}
	return metadata, nil
}

func parseMetadata(raw string) (*Metadata, error) {
	metadata := &Metadata{}

	version, err := scanNumberField(raw, "version")
	if err != nil {
		return nil, err
	}
	metadata.Version = int(version)
	if metadata.Version != metadataVersion {
		return nil, fmt.Errorf("unsupported transaction metadata version: %d", metadata.Version)
	}

	for _, field := range []struct {
		name     string
		dst      *string
		required bool
	}{
		{"txid", &metadata.Txid, true},
		{"operation", &metadata.Operation, true},
		{"status", &metadata.Status, true},
		{"snapshot_id", &metadata.SnapshotID, false},
	} {
		value, found, err := scanQuotedField(raw, field.name)
		if err != nil {
			return nil, err
		}
		if !found && field.required {
			return nil, fmt.Errorf("transaction metadata is missing field %q", field.name)
		}
		*field.dst = value
	}

	startedAt, err := scanNumberField(raw, "started_at_unix")
	if err != nil {
		return nil, err
	}
	metadata.StartedAtUnix = startedAt

	return metadata, nil
}

// scanQuotedField extracts the quoted value of a field. A value whose
// closing quote is missing (a write interrupted mid-field) errors naming the
// field.
func scanQuotedField(raw, field string) (string, bool, error) {
	marker := `"` + field + `"`
	idx := strings.Index(raw, marker)
	if idx < 0 {
		return "", false, nil
	}
	rest := raw[idx+len(marker):]

	colon := strings.IndexByte(rest, ':')
	if colon < 0 {
		return "", false, fmt.Errorf("truncated quoted value for field %q", field)
	}
	rest = strings.TrimLeft(rest[colon+1:], " \t\r\n")
	if !strings.HasPrefix(rest, `"`) {
		return "", false, fmt.Errorf("malformed value for field %q", field)
	}
	rest = rest[1:]

	var b strings.Builder
	for i := 0; i < len(rest); i++ {
		switch rest[i] {
		case '\\':
			if i+1 >= len(rest) {
				return "", false, fmt.Errorf("truncated quoted value for field %q", field)
			}
			i++
			b.WriteByte(rest[i])
		case '"':
			return b.String(), true, nil
		default:
			b.WriteByte(rest[i])
		}
	}
	return "", false, fmt.Errorf("truncated quoted value for field %q", field)
}

func scanNumberField(raw, field string) (int64, error) {
	marker := `"` + field + `"`
	idx := strings.Index(raw, marker)
	if idx < 0 {
		return 0, fmt.Errorf("transaction metadata is missing field %q", field)
	}
	rest := raw[idx+len(marker):]
	colon := strings.IndexByte(rest, ':')
	if colon < 0 {
		return 0, fmt.Errorf("malformed value for field %q", field)
	}
	rest = strings.TrimLeft(rest[colon+1:], " \t\r\n")

	end := 0
	for end < len(rest) && (rest[end] == '-' || (rest[end] >= '0' && rest[end] <= '9')) {
		end++
	}
	if end == 0 {
		return 0, fmt.Errorf("malformed value for field %q", field)
	}
	value, err := strconv.ParseInt(rest[:end], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed value for field %q: %w", field, err)
	}
	return value, nil
}

// UpdateStatus rewrites a transaction's status in place.
func UpdateStatus(layout *prefix.Layout, txid, status string) error {
	metadata, err := ReadMetadata(layout, txid)
	if err != nil {
		return err
	}
	if metadata == nil {
		return fmt.Errorf("transaction metadata missing for txid=%s", txid)
	}
	metadata.Status = status
	return WriteMetadata(layout, metadata)
}
