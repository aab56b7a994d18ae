package main

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/crosspack-dev/crosspack/internal/artifact"
	"github.com/crosspack-dev/crosspack/internal/config"
	"github.com/crosspack-dev/crosspack/internal/engine"
	"github.com/crosspack-dev/crosspack/internal/log"
	"github.com/crosspack-dev/crosspack/internal/prefix"
)

// newOrchestrator builds the orchestrator for the resolved prefix, wiring
// the --registry-root escape hatch when present.
func newOrchestrator() (*engine.Orchestrator, error) {
	layout, err := resolveLayout()
	if err != nil {
		return nil, err
	}
	o := engine.New(layout, log.Default())
	if registryRootFlag != "" {
		o.SetRegistryRoot(registryRootFlag)
	}
	return o, nil
}

func resolveLayout() (*prefix.Layout, error) {
	var cfg *config.Config
	var err error
	if prefixFlag != "" {
		cfg, err = config.NewConfig(prefixFlag)
	} else {
		cfg, err = config.DefaultConfig()
	}
	if err != nil {
		return nil, err
	}
	layout, err := prefix.NewLayout(cfg.Prefix)
	if err != nil {
		return nil, fmt.Errorf("invalid prefix: %w", err)
	}
	return layout, nil
}

// escalationFlags is the shared escalation flag set for commands that may
// run OS-native installers.
type escalationFlags struct {
	nonInteractive  bool
	allowEscalation bool
	noEscalation    bool
}

// policy derives the interaction policy: prompting escalation is allowed in
// interactive runs unless disabled; non-prompt escalation needs an explicit
// opt-in.
func (f escalationFlags) policy() artifact.InteractionPolicy {
	return artifact.InteractionPolicy{
		AllowPromptEscalation:    !f.nonInteractive && !f.noEscalation,
		AllowNonPromptEscalation: f.allowEscalation && !f.noEscalation,
	}
}

// args reproduces the escalation flags for self-update re-exec.
func (f escalationFlags) args() []string {
	var args []string
	if f.nonInteractive {
		args = append(args, "--non-interactive")
	}
	if f.allowEscalation {
		args = append(args, "--allow-escalation")
	}
	if f.noEscalation {
		args = append(args, "--no-escalation")
	}
	return args
}

func registerEscalationFlags(flags *escalationFlags, f *pflag.FlagSet) {
	f.BoolVar(&flags.nonInteractive, "non-interactive", false, "Never prompt; fail instead of asking for escalation")
	f.BoolVar(&flags.allowEscalation, "allow-escalation", false, "Permit non-prompt privilege escalation for native installers")
	f.BoolVar(&flags.noEscalation, "no-escalation", false, "Forbid privilege escalation entirely")
}
