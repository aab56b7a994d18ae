package txn

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/crosspack-dev/crosspack/internal/log"
	"github.com/crosspack-dev/crosspack/internal/prefix"
)

// Engine drives the transaction lifecycle over the active marker, metadata
// files, and journal.
type Engine struct {
	layout      *prefix.Layout
	snapshotter *Snapshotter
	logger      log.Logger
}

// NewEngine creates an Engine over a prefix.
func NewEngine(layout *prefix.Layout, snapshotter *Snapshotter, logger log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{layout: layout, snapshotter: snapshotter, logger: logger}
}

// Snapshotter returns the engine's snapshotter.
func (e *Engine) Snapshotter() *Snapshotter { return e.snapshotter }

// Begin writes planning metadata and claims the active marker. When the
// marker is already held, the partially created metadata and staging are
// removed again.
func (e *Engine) Begin(operation, snapshotID string) (*Metadata, error) {
	startedAt := time.Now().Unix()
	metadata := &Metadata{
		Version:       metadataVersion,
		Txid:          fmt.Sprintf("tx-%d-%d", startedAt, os.Getpid()),
		Operation:     operation,
		Status:        StatusPlanning,
		StartedAtUnix: startedAt,
		SnapshotID:    snapshotID,
	}

	if err := WriteMetadata(e.layout, metadata); err != nil {
		return nil, err
	}
	if err := SetActive(e.layout, metadata.Txid); err != nil {
		os.Remove(e.layout.TransactionMetadataPath(metadata.Txid))
		os.RemoveAll(e.layout.TransactionStagingPath(metadata.Txid))
		return nil, err
	}
	return metadata, nil
}

// Run executes one transaction: begin, applying, the caller's mutation
// function, committed, marker cleared, staging destroyed. On failure the
// current status is inspected; an already terminal or recovery status is
// preserved, anything else becomes failed.
func (e *Engine) Run(operation, snapshotID string, run func(tx *Metadata, journal *Journal) error) error {
	tx, err := e.Begin(operation, snapshotID)
	if err != nil {
		return err
	}
	e.logger.Debug("transaction started", "txid", tx.Txid, "operation", operation)

	runErr := func() error {
		if err := UpdateStatus(e.layout, tx.Txid, StatusApplying); err != nil {
			return err
		}
		if err := run(tx, NewJournal(e.layout, tx.Txid)); err != nil {
			return err
		}
		if err := UpdateStatus(e.layout, tx.Txid, StatusCommitted); err != nil {
			return err
		}
		if err := ClearActive(e.layout); err != nil {
			return err
		}
		os.RemoveAll(e.layout.TransactionStagingPath(tx.Txid))
		return nil
	}()
	if runErr == nil {
		e.logger.Debug("transaction committed", "txid", tx.Txid)
		return nil
	}

	currentStatus := ""
	if metadata, readErr := ReadMetadata(e.layout, tx.Txid); readErr == nil && metadata != nil {
		currentStatus = metadata.Status
	}
	preserve := currentStatus == StatusRollingBack || currentStatus == StatusRolledBack ||
		currentStatus == StatusCommitted || currentStatus == StatusFailed
	if IsTerminalStatus(currentStatus) {
		_ = ClearActive(e.layout)
	}
	if !preserve {
		_ = UpdateStatus(e.layout, tx.Txid, StatusFailed)
	}
	e.logger.Error("transaction failed", "txid", tx.Txid, "error", runErr)
	return fmt.Errorf("%s: %w", tx.Txid, runErr)
}

// EnsureNoActive blocks a mutating command while a transaction is active or
// repair is required, with the command token in the error context.
func (e *Engine) EnsureNoActive(command string) error {
	command = strings.ToLower(strings.TrimSpace(command))
	if command == "" {
		command = "unknown"
	}
	if err := e.ensureNoActive(); err != nil {
		return fmt.Errorf("cannot %s (reason=active_transaction command=%s): %w", command, command, err)
	}
	return nil
}

func (e *Engine) ensureNoActive() error {
	activeTxid, err := ReadActive(e.layout)
	if err != nil {
		return fmt.Errorf("transaction state requires repair (reason=active_marker_unreadable path=%s)",
			e.layout.TransactionActivePath())
	}
	if activeTxid == "" {
		return nil
	}

	metadata, err := ReadMetadata(e.layout, activeTxid)
	if err != nil {
		return fmt.Errorf("transaction %s requires repair (reason=metadata_unreadable path=%s)",
			activeTxid, e.layout.TransactionMetadataPath(activeTxid))
	}
	if metadata == nil {
		return fmt.Errorf("transaction %s requires repair (reason=metadata_missing path=%s)",
			activeTxid, e.layout.TransactionMetadataPath(activeTxid))
	}

	switch {
	case IsTerminalStatus(metadata.Status):
		return ClearActive(e.layout)
	case metadata.Status == StatusRollingBack:
		return fmt.Errorf("transaction %s requires repair (reason=rolling_back)", activeTxid)
	case metadata.Status == StatusFailed:
		return fmt.Errorf("transaction %s requires repair (reason=failed)", activeTxid)
	default:
		return fmt.Errorf("transaction %s is active (reason=active_status status=%s)",
			activeTxid, metadata.Status)
	}
}

// HealthLine summarizes transaction health for doctor output, clearing a
// stale marker it finds along the way.
func (e *Engine) HealthLine() (string, error) {
	activeTxid, err := ReadActive(e.layout)
	if err != nil {
		return fmt.Sprintf("transaction: failed (reason=active_marker_unreadable path=%s)",
			e.layout.TransactionActivePath()), nil
	}
	if activeTxid == "" {
		return "transaction: clean", nil
	}

	metadata, err := ReadMetadata(e.layout, activeTxid)
	if err != nil {
		return fmt.Sprintf("transaction: failed %s (reason=metadata_unreadable path=%s)",
			activeTxid, e.layout.TransactionMetadataPath(activeTxid)), nil
	}
	if metadata == nil {
		return fmt.Sprintf("transaction: failed %s (reason=metadata_missing path=%s)",
			activeTxid, e.layout.TransactionMetadataPath(activeTxid)), nil
	}
	if metadata.Status == StatusRollingBack {
		return fmt.Sprintf("transaction: failed %s (reason=rolling_back)", activeTxid), nil
	}
	if metadata.Status == StatusFailed {
		return fmt.Sprintf("transaction: failed %s (reason=failed)", activeTxid), nil
	}
	if IsTerminalStatus(metadata.Status) {
		if err := ClearActive(e.layout); err != nil {
			return "", err
		}
		return "transaction: clean", nil
	}
	return fmt.Sprintf("transaction: active %s", activeTxid), nil
}

// RollbackOutcome reports what a rollback call did.
type RollbackOutcome struct {
	Txid       string
	RolledBack bool
}

// Rollback replays the compensation journal of a transaction. An empty txid
// targets the active transaction, falling back to the most recent
// non-terminal one. Rolling back a live applying transaction is refused
// while its owner process is alive.
func (e *Engine) Rollback(txid string) (*RollbackOutcome, error) {
	targetTxid := txid
	if targetTxid == "" {
		active, err := ReadActive(e.layout)
		if err != nil {
			return nil, err
		}
		if active != "" {
			targetTxid = active
		} else {
			candidate, err := e.latestRollbackCandidate()
			if err != nil {
				return nil, err
			}
			if candidate == "" {
				return &RollbackOutcome{}, nil
			}
			targetTxid = candidate
		}
	} else if !IsValidTxid(targetTxid) {
		return nil, fmt.Errorf("invalid rollback txid: %s", targetTxid)
	}

	metadata, err := ReadMetadata(e.layout, targetTxid)
	if err != nil {
		return nil, err
	}
	if metadata == nil {
		return nil, fmt.Errorf("transaction metadata missing for rollback txid=%s", targetTxid)
	}
	activeTxid, err := ReadActive(e.layout)
	if err != nil {
		return nil, err
	}

	if (metadata.Status == StatusPlanning || metadata.Status == StatusApplying) &&
		activeTxid == targetTxid {
		alive, err := OwnerProcessAlive(targetTxid)
		if err != nil {
			return nil, err
		}
		if alive {
			return nil, fmt.Errorf("cannot rollback while transaction is active (status=%s)", metadata.Status)
		}
	}

	if IsTerminalStatus(metadata.Status) {
		if activeTxid == targetTxid {
			if err := ClearActive(e.layout); err != nil {
				return nil, err
			}
		}
		return &RollbackOutcome{Txid: targetTxid}, nil
	}

	records, err := ReadJournalRecords(e.layout, targetTxid)
	if err != nil {
		return nil, err
	}
	hasCompletedMutatingSteps := false
	for _, record := range records {
		if record.State == JournalStateDone && RollbackPackageFromStep(record.Step) != "" {
			hasCompletedMutatingSteps = true
			break
		}
	}

	if err := UpdateStatus(e.layout, targetTxid, StatusRollingBack); err != nil {
		return nil, err
	}
	replayed, err := e.replayRollbackJournal(targetTxid)
	if err != nil {
		_ = UpdateStatus(e.layout, targetTxid, StatusFailed)
		return nil, fmt.Errorf("rollback failed %s: transaction journal replay required: %w", targetTxid, err)
	}
	if !replayed && hasCompletedMutatingSteps {
		_ = UpdateStatus(e.layout, targetTxid, StatusFailed)
		return nil, fmt.Errorf("rollback failed %s: transaction journal replay required", targetTxid)
	}

	if err := UpdateStatus(e.layout, targetTxid, StatusRolledBack); err != nil {
		return nil, err
	}
	if activeTxid == targetTxid {
		if err := ClearActive(e.layout); err != nil {
			return nil, err
		}
	}
	return &RollbackOutcome{Txid: targetTxid, RolledBack: true}, nil
}

// replayRollbackJournal restores snapshots for every completed compensating
// step in decreasing seq order. A compensating step without a backup payload
// is an error.
func (e *Engine) replayRollbackJournal(txid string) (bool, error) {
	records, err := ReadJournalRecords(e.layout, txid)
	if err != nil {
		return false, err
	}
	if len(records) == 0 {
		return false, nil
	}

	backups := make(map[string]string)
	for _, record := range records {
		if record.State != JournalStateDone {
			continue
		}
		if pkg := BackupPackageFromStep(record.Step); pkg != "" && record.Path != "" {
			backups[pkg] = record.Path
		}
	}

	type compensation struct {
		seq uint64
		pkg string
	}
	var compensations []compensation
	for _, record := range records {
		if record.State != JournalStateDone {
			continue
		}
		if pkg := RollbackPackageFromStep(record.Step); pkg != "" {
			compensations = append(compensations, compensation{seq: record.Seq, pkg: pkg})
		}
	}
	if len(compensations) == 0 {
		return false, nil
	}

	for _, c := range compensations {
		if _, ok := backups[c.pkg]; !ok {
			return false, fmt.Errorf("transaction journal missing rollback payload for package '%s'", c.pkg)
		}
	}

	// Replay in decreasing seq so later mutations unwind first.
	for i := len(compensations) - 1; i >= 0; i-- {
		c := compensations[i]
		if err := e.snapshotter.Restore(c.pkg, backups[c.pkg]); err != nil {
			return false, err
		}
	}
	return true, nil
}

// latestRollbackCandidate returns the most recently started non-terminal
// transaction, or "".
func (e *Engine) latestRollbackCandidate() (string, error) {
	entries, err := os.ReadDir(e.layout.TransactionsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read transactions directory: %s: %w", e.layout.TransactionsDir(), err)
	}

	bestTxid := ""
	var bestStartedAt int64
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		txid := strings.TrimSuffix(entry.Name(), ".json")
		metadata, err := ReadMetadata(e.layout, txid)
		if err != nil || metadata == nil {
			continue
		}
		if IsTerminalStatus(metadata.Status) {
			continue
		}
		if metadata.StartedAtUnix > bestStartedAt ||
			(metadata.StartedAtUnix == bestStartedAt && metadata.Txid > bestTxid) {
			bestStartedAt = metadata.StartedAtUnix
			bestTxid = metadata.Txid
		}
	}
	return bestTxid, nil
}

// RepairOutcome reports what repair did.
type RepairOutcome struct {
	Txid          string
	ClearedMarker bool
	RolledBack    bool
}

// Repair recovers an interrupted prefix: a stale marker is cleared, a
// non-terminal transaction is rolled back, an unknown status asks for manual
// repair. With no active marker it is a no-op, which makes repair
// idempotent.
func (e *Engine) Repair() (*RepairOutcome, error) {
	activeTxid, err := ReadActive(e.layout)
	if err != nil {
		return nil, err
	}
	if activeTxid == "" {
		return &RepairOutcome{}, nil
	}

	metadata, err := ReadMetadata(e.layout, activeTxid)
	if err != nil {
		return nil, err
	}
	if metadata == nil {
		if err := ClearActive(e.layout); err != nil {
			return nil, err
		}
		return &RepairOutcome{Txid: activeTxid, ClearedMarker: true}, nil
	}
	if IsTerminalStatus(metadata.Status) {
		if err := ClearActive(e.layout); err != nil {
			return nil, err
		}
		return &RepairOutcome{Txid: activeTxid, ClearedMarker: true}, nil
	}

	switch metadata.Status {
	case StatusPlanning, StatusApplying, StatusFailed, StatusRollingBack:
		if _, err := e.Rollback(activeTxid); err != nil {
			return nil, err
		}
		return &RepairOutcome{Txid: activeTxid, RolledBack: true}, nil
	default:
		return nil, fmt.Errorf("transaction %s requires manual repair (reason=unsupported_status status=%s)",
			activeTxid, metadata.Status)
	}
}
