package main

import (
	"github.com/spf13/cobra"
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback [<txid>]",
	Short: "Roll back an interrupted or failed transaction",
	Long: `Replay the compensation journal of a transaction. Without a txid, the
active transaction is targeted, falling back to the most recent
non-terminal one.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := newOrchestrator()
		if err != nil {
			return err
		}
		txid := ""
		if len(args) == 1 {
			txid = args[0]
		}
		return o.Rollback(txid)
	},
}

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Recover the prefix after a crash",
	Long: `Inspect the active transaction marker and roll back any interrupted
transaction. Running repair on a clean prefix changes nothing.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := newOrchestrator()
		if err != nil {
			return err
		}
		return o.Repair()
	},
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Report transaction health",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := newOrchestrator()
		if err != nil {
			return err
		}
		return o.Doctor()
	},
}

func init() {
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(repairCmd)
	rootCmd.AddCommand(doctorCmd)
}
