package main

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed packages",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := newOrchestrator()
		if err != nil {
			return err
		}
		receipts, err := o.Receipts().ReadAll()
		if err != nil {
			return err
		}
		if len(receipts) == 0 {
			fmt.Println("No installed packages")
			return nil
		}

		t := table.NewWriter()
		t.SetOutputMirror(cmd.OutOrStdout())
		t.AppendHeader(table.Row{"Name", "Version", "Target", "Mode", "Reason"})
		for _, r := range receipts {
			t.AppendRow(table.Row{r.Name, r.Version, r.Target, string(r.InstallMode), string(r.InstallReason)})
		}
		t.Render()
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the crosspack version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("crosspack %s\n", rootCmd.Version)
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(versionCmd)
}
