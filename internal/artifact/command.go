package artifact

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// runCommand executes cmd and wraps a non-zero exit or spawn failure with
// the captured output.
func runCommand(cmd *exec.Cmd, contextMessage string) error {
	output, err := cmd.CombinedOutput()
	if err == nil {
		return nil
	}
	if isNotFoundErr(err) {
		return fmt.Errorf("%s: %w", contextMessage, err)
	}
	return fmt.Errorf("%s: %v: %s", contextMessage, err, strings.TrimSpace(string(output)))
}

// isNotFoundErr reports whether the error chain indicates the external tool
// is missing from PATH.
func isNotFoundErr(err error) bool {
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		return errors.Is(execErr.Err, exec.ErrNotFound)
	}
	return errors.Is(err, exec.ErrNotFound)
}
