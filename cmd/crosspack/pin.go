package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/crosspack-dev/crosspack/internal/engine"
)

var pinCmd = &cobra.Command{
	Use:   "pin <name>@<requirement>",
	Short: "Constrain a package to a version requirement",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := newOrchestrator()
		if err != nil {
			return err
		}
		if err := o.Layout().EnsureBaseDirs(); err != nil {
			return err
		}
		name, requirement, err := engine.ParsePinSpec(args[0])
		if err != nil {
			return err
		}
		if err := o.Receipts().WritePin(name, requirement.String()); err != nil {
			return err
		}
		fmt.Printf("pinned %s to %s\n", name, requirement)
		return nil
	},
}

var unpinCmd = &cobra.Command{
	Use:   "unpin <name>",
	Short: "Remove a package's version pin",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := newOrchestrator()
		if err != nil {
			return err
		}
		if err := o.Receipts().RemovePin(args[0]); err != nil {
			return err
		}
		fmt.Printf("unpinned %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pinCmd)
	rootCmd.AddCommand(unpinCmd)
}
