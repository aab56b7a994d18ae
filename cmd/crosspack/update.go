package main

import (
	"github.com/spf13/cobra"
)

var updateRegistries []string

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Sync registry source caches",
	Long: `Sync each source into its snapshot cache atomically, verifying the
registry key fingerprint and every manifest signature before the new
snapshot replaces the old one. A failed source keeps its previous
snapshot intact and the command exits non-zero.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := newOrchestrator()
		if err != nil {
			return err
		}
		return o.Update(updateRegistries)
	},
}

func init() {
	updateCmd.Flags().StringArrayVar(&updateRegistries, "registry", nil, "Limit the update to named sources (repeatable)")
	rootCmd.AddCommand(updateCmd)
}
