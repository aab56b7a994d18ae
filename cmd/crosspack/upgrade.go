package main

import (
	"github.com/spf13/cobra"

	"github.com/crosspack-dev/crosspack/internal/engine"
)

var (
	upgradeDryRun     bool
	upgradeProviders  []string
	upgradeEscalation escalationFlags
)

var upgradeCmd = &cobra.Command{
	Use:   "upgrade [<spec>]",
	Short: "Upgrade one installed root or the whole prefix",
	Long: `Upgrade installed packages to the newest versions the sources offer.
Without a spec, every root package is upgraded, grouped by target.
Downgrades are refused; use an explicit 'install name@=version' instead.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := newOrchestrator()
		if err != nil {
			return err
		}
		overrides, err := engine.ParseProviderOverrides(upgradeProviders)
		if err != nil {
			return err
		}
		spec := ""
		if len(args) == 1 {
			spec = args[0]
		}
		return o.Upgrade(engine.UpgradeOptions{
			Spec:              spec,
			DryRun:            upgradeDryRun,
			ProviderOverrides: overrides,
			Policy:            upgradeEscalation.policy(),
		})
	},
}

func init() {
	upgradeCmd.Flags().BoolVar(&upgradeDryRun, "dry-run", false, "Print the planned change set without mutating")
	upgradeCmd.Flags().StringArrayVar(&upgradeProviders, "provider", nil, "Provider override capability=package (repeatable)")
	registerEscalationFlags(&upgradeEscalation, upgradeCmd.Flags())
	rootCmd.AddCommand(upgradeCmd)
}
