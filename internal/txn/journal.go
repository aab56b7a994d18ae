package txn

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/crosspack-dev/crosspack/internal/prefix"
)

// JournalRecord is one append-only journal entry: a strictly increasing
// sequence number, a step key, its state, and an optional payload path.
type JournalRecord struct {
	Seq   uint64 `json:"seq"`
	Step  string `json:"step"`
	State string `json:"state"`
	Path  string `json:"path,omitempty"`
}

// JournalStateDone is the only state written today.
const JournalStateDone = "done"

// StepApplyComplete is the final journal step of a successful apply phase.
const StepApplyComplete = "apply_complete"

// Journal appends records for one transaction. Seq starts at 1 and is never
// reused; records are only ever appended.
type Journal struct {
	layout *prefix.Layout
	txid   string
	seq    uint64
}

// NewJournal creates an appender for a transaction's journal file.
func NewJournal(layout *prefix.Layout, txid string) *Journal {
	return &Journal{layout: layout, txid: txid}
}

// Append writes one record with the next sequence number.
func (j *Journal) Append(step, path string) error {
	j.seq++
	record := JournalRecord{Seq: j.seq, Step: step, State: JournalStateDone, Path: path}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed serializing journal record: %w", err)
	}

	journalPath := j.layout.TransactionJournalPath(j.txid)
	f, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed opening transaction journal %s: %w", journalPath, err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed appending transaction journal %s: %w", journalPath, err)
	}
	return nil
}

// ReadJournalRecords loads a transaction's journal sorted by seq. A missing
// journal is an empty record list.
func ReadJournalRecords(layout *prefix.Layout, txid string) ([]JournalRecord, error) {
	path := layout.TransactionJournalPath(txid)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed reading transaction journal %s: %w", path, err)
	}

	var records []JournalRecord
	for lineNo, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var record JournalRecord
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			return nil, fmt.Errorf("failed parsing transaction journal entry: %s line=%d: %w",
				path, lineNo+1, err)
		}
		if record.Step == "" || record.State == "" {
			return nil, fmt.Errorf("failed parsing transaction journal entry: %s line=%d: missing step or state",
				path, lineNo+1)
		}
		records = append(records, record)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Seq < records[j].Seq })
	return records, nil
}

// BackupPackageStep names the journal step recording a package snapshot.
func BackupPackageStep(pkg string) string { return "backup_package_state:" + pkg }

// ResolvePlanStep names the journal step recording a resolved plan.
func ResolvePlanStep(key string) string { return "resolve_plan:" + key }

// UninstallTargetStep names the journal step for removing the uninstall
// target.
func UninstallTargetStep(pkg string) string { return "uninstall_target:" + pkg }

// PruneDependencyStep names the journal step for pruning an orphan
// dependency.
func PruneDependencyStep(pkg string) string { return "prune_dependency:" + pkg }

// PackageApplyStep names the mutating step for applying an artifact:
// install_package / upgrade_package, with a _native_ variant for native
// install mode.
func PackageApplyStep(operation, pkg string, native bool) string {
	if native {
		return operation + "_native_package:" + pkg
	}
	return operation + "_package:" + pkg
}

// compensatingStepPrefixes lists the steps whose presence implies an inverse
// action during rollback.
var compensatingStepPrefixes = []string{
	"install_package:",
	"install_native_package:",
	"upgrade_package:",
	"upgrade_native_package:",
	"uninstall_target:",
	"prune_dependency:",
}

// RollbackPackageFromStep extracts the package name of a compensating step,
// or "" when the step needs no compensation.
func RollbackPackageFromStep(step string) string {
	for _, prefix := range compensatingStepPrefixes {
		if pkg, ok := strings.CutPrefix(step, prefix); ok {
			return pkg
		}
	}
	return ""
}

// BackupPackageFromStep extracts the package name of a backup step, or "".
func BackupPackageFromStep(step string) string {
	pkg, ok := strings.CutPrefix(step, "backup_package_state:")
	if !ok {
		return ""
	}
	return pkg
}
