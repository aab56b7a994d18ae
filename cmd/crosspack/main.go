package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/crosspack-dev/crosspack/internal/buildinfo"
	"github.com/crosspack-dev/crosspack/internal/log"
)

var (
	quietFlag   bool
	verboseFlag bool
	debugFlag   bool

	prefixFlag       string
	registryRootFlag string
)

var rootCmd = &cobra.Command{
	Use:   "crosspack",
	Short: "A transactional, cross-platform user-space package manager",
	Long: `crosspack installs signed binary artifacts into a per-user prefix and
tracks what is installed with receipts.

Every mutation runs inside a journaled transaction with per-package
snapshots, so an interrupted install or upgrade is always recoverable
with 'crosspack repair'.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Show errors only")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Show verbose output (INFO level)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "Show debug output")
	rootCmd.PersistentFlags().StringVar(&prefixFlag, "prefix", "", "Override the install prefix (default $CROSSPACK_HOME or ~/.crosspack)")
	rootCmd.PersistentFlags().StringVar(&registryRootFlag, "registry-root", "", "Read manifests from a single registry directory instead of configured sources")

	rootCmd.PersistentPreRun = initLogger
	rootCmd.Version = buildinfo.Version()
}

// initLogger configures the global logger from the verbosity flags. The tint
// handler colorizes when stderr is a terminal.
func initLogger(cmd *cobra.Command, args []string) {
	level := slog.LevelWarn
	switch {
	case debugFlag:
		level = slog.LevelDebug
	case verboseFlag:
		level = slog.LevelInfo
	case quietFlag:
		level = slog.LevelError
	}

	var handler slog.Handler
	if term.IsTerminal(int(os.Stderr.Fd())) {
		handler = tint.NewHandler(os.Stderr, &tint.Options{Level: level, AddSource: debugFlag})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level, AddSource: debugFlag})
	}
	log.SetDefault(log.New(handler))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		exitWithCode(ExitGeneral)
	}
}
