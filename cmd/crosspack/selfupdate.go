package main

import (
	"github.com/spf13/cobra"

	"github.com/crosspack-dev/crosspack/internal/engine"
)

var (
	selfUpdateDryRun          bool
	selfUpdateForceRedownload bool
	selfUpdateEscalation      escalationFlags
)

var selfUpdateCmd = &cobra.Command{
	Use:   "self-update",
	Short: "Update crosspack itself",
	Long: `Refresh source snapshots, then install the latest crosspack package
through the regular transactional install flow.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := newOrchestrator()
		if err != nil {
			return err
		}
		return o.SelfUpdate(engine.SelfUpdateOptions{
			DryRun:          selfUpdateDryRun,
			ForceRedownload: selfUpdateForceRedownload,
			EscalationArgs:  selfUpdateEscalation.args(),
		})
	},
}

func init() {
	selfUpdateCmd.Flags().BoolVar(&selfUpdateDryRun, "dry-run", false, "Preview the install without mutating")
	selfUpdateCmd.Flags().BoolVar(&selfUpdateForceRedownload, "force-redownload", false, "Ignore cached artifacts")
	registerEscalationFlags(&selfUpdateEscalation, selfUpdateCmd.Flags())
	rootCmd.AddCommand(selfUpdateCmd)
}
