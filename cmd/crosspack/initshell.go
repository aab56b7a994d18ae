package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var initShellFlag string

var initShellCmd = &cobra.Command{
	Use:   "init-shell",
	Short: "Print shell setup adding the prefix bin directory to PATH",
	Long: `Print the lines to add to your shell profile so exposed binaries and
completions are found.

Examples:
  eval "$(crosspack init-shell)"
  crosspack init-shell --shell fish | source`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		layout, err := resolveLayout()
		if err != nil {
			return err
		}

		shell := initShellFlag
		if shell == "" {
			shell = detectShell()
		}

		binDir := layout.BinDir()
		completionsDir := layout.CompletionsDir()
		switch shell {
		case "fish":
			fmt.Printf("fish_add_path %q\n", binDir)
			fmt.Printf("set -gx CROSSPACK_COMPLETIONS %q\n", completionsDir)
		case "powershell":
			fmt.Printf("$env:PATH = \"%s;$env:PATH\"\n", binDir)
		default: // bash, zsh, and other POSIX shells
			fmt.Printf("export PATH=%q:\"$PATH\"\n", binDir)
			fmt.Printf("export CROSSPACK_COMPLETIONS=%q\n", completionsDir)
		}
		return nil
	},
}

func detectShell() string {
	shell := os.Getenv("SHELL")
	if shell == "" {
		return "sh"
	}
	return strings.TrimPrefix(filepath.Base(shell), "-")
}

func init() {
	initShellCmd.Flags().StringVar(&initShellFlag, "shell", "", "Shell to emit setup for (bash, zsh, fish, powershell)")
	rootCmd.AddCommand(initShellCmd)
}
