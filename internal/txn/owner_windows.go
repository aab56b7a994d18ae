//go:build windows

package txn

import (
	"fmt"
	"os/exec"
	"strings"
)

// ownerProcessAlive probes a pid via tasklist CSV output.
func ownerProcessAlive(pid int) (bool, error) {
	cmd := exec.Command("tasklist", "/FI", fmt.Sprintf("PID eq %d", pid), "/FO", "CSV", "/NH")
	output, err := cmd.Output()
	if err != nil {
		return false, fmt.Errorf("failed executing owner liveness probe for pid=%d: %w", pid, err)
	}

	stdout := string(output)
	if strings.Contains(strings.ToLower(stdout), "no tasks are running") {
		return false, nil
	}
	return strings.Contains(stdout, fmt.Sprintf(",\"%d\"", pid)), nil
}
