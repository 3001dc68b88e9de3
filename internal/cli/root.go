package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	appVersion = "dev"
	appCommit  = "none"
	appDate    = "unknown"
)

// SetVersionInfo sets the version information injected via ldflags.
func SetVersionInfo(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

const defaultConfigPath = "meetscribe.yaml"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "meetscribe",
		Short: "Record, transcribe and summarize meetings",
		Long: `meetscribe captures microphone and shared system audio, streams the
microphone to Deepgram for live captions and transcribes the full mix in
segments. Summaries can be rendered to PDF, mailed and archived.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().String("config", defaultConfigPath, "path to the YAML config file")

	root.AddCommand(newServeCmd(), newTranscribeCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "meetscribe %s\ncommit: %s\nbuilt:  %s\n", appVersion, appCommit, appDate)
		},
	}
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}
