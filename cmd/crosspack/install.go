package main

import (
	"github.com/spf13/cobra"

	"github.com/crosspack-dev/crosspack/internal/engine"
)

var (
	installDryRun          bool
	installForceRedownload bool
	installProviders       []string
	installTarget          string
	installEscalation      escalationFlags
)

var installCmd = &cobra.Command{
	Use:   "install <spec>...",
	Short: "Install packages into the prefix",
	Long: `Install one or more packages from the configured registry sources.
Specify a version requirement with the @ syntax.

Examples:
  crosspack install ripgrep
  crosspack install ripgrep@14.1.0
  crosspack install 'tool@>=2,<3' --dry-run
  crosspack install app --provider ripgrep-legacy=ripgrep`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := newOrchestrator()
		if err != nil {
			return err
		}
		overrides, err := engine.ParseProviderOverrides(installProviders)
		if err != nil {
			return err
		}
		return o.Install(args, engine.InstallOptions{
			DryRun:            installDryRun,
			ForceRedownload:   installForceRedownload,
			ProviderOverrides: overrides,
			Policy:            installEscalation.policy(),
			Target:            installTarget,
		})
	},
}

func init() {
	installCmd.Flags().BoolVar(&installDryRun, "dry-run", false, "Print the planned change set without mutating")
	installCmd.Flags().BoolVar(&installForceRedownload, "force-redownload", false, "Ignore cached artifacts and download again")
	installCmd.Flags().StringArrayVar(&installProviders, "provider", nil, "Provider override capability=package (repeatable)")
	installCmd.Flags().StringVar(&installTarget, "target", "", "Target triple to install for (default: host)")
	registerEscalationFlags(&installEscalation, installCmd.Flags())
	rootCmd.AddCommand(installCmd)
}
