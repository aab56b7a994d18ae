package engine

import (
	"fmt"
	"os"
	"os/exec"
)

// SelfUpdateOptions tunes the self-update flow.
type SelfUpdateOptions struct {
	DryRun          bool
	ForceRedownload bool
	EscalationArgs  []string
}

// SelfUpdate refreshes source snapshots and re-executes the running binary
// with an install of the crosspack package, so the whole transactional
// machinery (including the self-update bin carve-out) applies.
func (o *Orchestrator) SelfUpdate(opts SelfUpdateOptions) error {
	if err := o.layout.EnsureBaseDirs(); err != nil {
		return err
	}
	if err := o.engine.EnsureNoActive("self-update"); err != nil {
		return err
	}

	if o.registryRoot == "" {
		o.printf("self-update: refreshing source snapshots")
		if err := o.Update(nil); err != nil {
			return err
		}
	}

	args := []string{}
	if o.registryRoot != "" {
		args = append(args, "--registry-root", o.registryRoot)
	}
	args = append(args, "install", "crosspack")
	if opts.DryRun {
		args = append(args, "--dry-run")
	}
	if opts.ForceRedownload {
		args = append(args, "--force-redownload")
	}
	args = append(args, opts.EscalationArgs...)

	currentExe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to resolve current executable: %w", err)
	}
	o.printf("self-update: installing latest crosspack")

	cmd := exec.Command(currentExe, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("self-update install failed via %s: %w", currentExe, err)
	}
	return nil
}
