package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	debug   bool
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "coinrank",
	Short: "Find the fifth most common cold coin on a fixed flip budget",
	Long: `coinrank spends a fixed budget of flips over a set of biased coins, keeps the
coins that land heads at least half the time, and returns the one ranked fifth
by closeness of its heads rate to 0.5.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log every flip and ranking snapshot")
}

// newLogger sets up structured logging with level based on the debug flag.
func newLogger() *slog.Logger {
	logLevel := slog.LevelInfo
	if debug {
		logLevel = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})).With("component", "coinrank-cli")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
