package main

import (
	"github.com/spf13/cobra"
)

var searchCmd = &cobra.Command{
	Use:   "search <needle>",
	Short: "Search package names across enabled sources",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := newOrchestrator()
		if err != nil {
			return err
		}
		return o.Search(args[0])
	},
}

var infoCmd = &cobra.Command{
	Use:   "info <name>",
	Short: "Show every known version of a package",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := newOrchestrator()
		if err != nil {
			return err
		}
		return o.Info(args[0])
	},
}

func init() {
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(infoCmd)
}
