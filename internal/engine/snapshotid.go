package engine

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/crosspack-dev/crosspack/internal/registry"
)

// resolveTransactionSnapshotID returns the snapshot id recorded in a
// transaction's metadata: the single id every enabled ready source agrees
// on. Divergent ids fail the begin and are appended to the snapshot monitor
// log for later inspection. No ready source yields an empty id.
func (o *Orchestrator) resolveTransactionSnapshotID(operation string) (string, error) {
	if o.registryRoot != "" {
		return "", nil
	}

	enabled, err := o.sources.EnabledSources()
	if err != nil {
		return "", err
	}

	ids := make(map[string][]string)
	for _, source := range enabled {
		state := registry.ReadSnapshotState(o.layout, source.Name)
		if state.Kind == registry.SnapshotReady {
			ids[state.SnapshotID] = append(ids[state.SnapshotID], source.Name)
		}
	}
	if len(ids) == 0 {
		return "", nil
	}
	if len(ids) == 1 {
		for id := range ids {
			return id, nil
		}
	}

	var details []string
	for id, sources := range ids {
		sort.Strings(sources)
		details = append(details, fmt.Sprintf("%s=%s", strings.Join(sources, "+"), id))
	}
	sort.Strings(details)
	detail := strings.Join(details, " ")

	o.appendSnapshotMonitorLine(operation, detail)
	return "", fmt.Errorf("snapshot-id-mismatch: enabled sources report divergent ready snapshot ids (%s); run 'crosspack update' to converge", detail)
}

// appendSnapshotMonitorLine records a snapshot divergence observation
// best-effort.
func (o *Orchestrator) appendSnapshotMonitorLine(operation, detail string) {
	path := o.layout.SnapshotMonitorLogPath()
	line := fmt.Sprintf("%d operation=%s snapshot-id-mismatch %s\n", time.Now().Unix(), operation, detail)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		o.logger.Warn("failed appending snapshot monitor log", "path", path, "error", err)
		return
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		o.logger.Warn("failed appending snapshot monitor log", "path", path, "error", err)
	}
}
