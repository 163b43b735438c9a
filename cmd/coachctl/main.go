// Command coachctl runs coaching sessions against recorded audio and talks to
// a running speechcoach service.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type globalFlags struct {
	analysisURL string
	backendURL  string
	token       string
	logFile     string
	verbose     bool
}

func newRootCmd() *cobra.Command {
	var g globalFlags

	root := &cobra.Command{
		Use:           "coachctl",
		Short:         "Speech coaching sessions from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			slog.SetDefault(newLogger(cmd.ErrOrStderr(), g.logFile, g.verbose))
		},
	}
	root.PersistentFlags().StringVar(&g.analysisURL, "analysis-url", envOr("ANALYSIS_URL", "http://localhost:8000"), "analysis service base URL")
	root.PersistentFlags().StringVar(&g.backendURL, "backend-url", os.Getenv("BACKEND_URL"), "backend base URL (defaults to the analysis URL)")
	root.PersistentFlags().StringVar(&g.token, "token", os.Getenv("AUTH_TOKEN"), "bearer token for authenticated endpoints")
	root.PersistentFlags().StringVar(&g.logFile, "log-file", "", "write logs to this rotated file instead of stderr")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "log at debug level")

	root.AddCommand(newReplayCmd(&g))
	root.AddCommand(newSessionsCmd(&g))
	root.AddCommand(newWatchCmd())
	root.AddCommand(newProfilesCmd())
	return root
}

// newLogger logs text to stderr, or to a size-rotated file when path is set.
func newLogger(stderr io.Writer, path string, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	out := stderr
	if path != "" {
		out = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     14, // days
			Compress:   true,
		}
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
